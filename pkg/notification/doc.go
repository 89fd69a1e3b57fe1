// Package notification provides the contracts for the controller's
// notification stream.
//
// This package defines the core abstractions shared by every transport:
//   - Notification: an immutable action or sequence event record
//   - Topic: the notification category a subscriber registers for
//   - Service: subscribe/unsubscribe with a delivery callback
//   - Publisher: the producing side used by the controller
//
// Callbacks are invoked on a delivery goroutine owned by the Service
// implementation, never on the goroutine that called Subscribe. A callback
// must not block; anything slow belongs behind a channel.
//
// Example usage:
//
//	handle, err := svc.Subscribe(ctx, notification.TopicActions, func(n notification.Notification) {
//		if n.ActionEvent == notification.ActionEnd {
//			close(done)
//		}
//	}, notification.Options{})
//	if err != nil {
//		return err
//	}
//	defer svc.Unsubscribe(ctx, handle)
package notification
