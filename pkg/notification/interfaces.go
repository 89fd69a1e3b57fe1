package notification

import (
	"context"
	"errors"
)

var (
	// ErrUnknownTopic is returned when subscribing or publishing to a topic that does not exist
	ErrUnknownTopic = errors.New("unknown notification topic")
	// ErrNilCallback is returned when subscribing without a callback
	ErrNilCallback = errors.New("callback cannot be nil")
	// ErrUnknownHandle is returned when unsubscribing a handle that is not registered
	ErrUnknownHandle = errors.New("unknown subscription handle")
	// ErrClosed is returned by services that have been shut down
	ErrClosed = errors.New("notification service is closed")
)

// Topic names a notification category.
type Topic string

const (
	// TopicActions carries KindAction notifications
	TopicActions Topic = "ActionEvents"
	// TopicSequences carries KindSequence notifications
	TopicSequences Topic = "SequenceEvents"
)

// Topics lists every topic a controller publishes.
var Topics = []Topic{TopicActions, TopicSequences}

// Valid reports whether t is one of the known topics.
func (t Topic) Valid() bool {
	return t == TopicActions || t == TopicSequences
}

func (t Topic) String() string {
	return string(t)
}

// ParseTopic validates a topic name.
func ParseTopic(name string) (Topic, error) {
	t := Topic(name)
	if !t.Valid() {
		return "", ErrUnknownTopic
	}
	return t, nil
}

// Handle is an opaque token identifying one active subscription.
type Handle string

// Callback receives notifications on the service's delivery goroutine.
// It must not block.
type Callback func(Notification)

// Options tunes a single subscription.
type Options struct {
	// BufferSize bounds the number of undelivered notifications held for
	// the subscriber. Zero selects the service default.
	BufferSize int
}

// Service is the subscribing side of a notification stream.
type Service interface {
	// Subscribe registers cb for every notification published on topic.
	// When Subscribe returns without error the registration is active:
	// notifications published afterwards are delivered.
	Subscribe(ctx context.Context, topic Topic, cb Callback, opts Options) (Handle, error)

	// Unsubscribe releases a registration. After it returns, cb is not
	// invoked for notifications published later.
	Unsubscribe(ctx context.Context, handle Handle) error
}

// Publisher is the producing side of a notification stream.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// Publishers fans a notification out to several publishers. Every publisher
// is attempted; failures are joined.
type Publishers []Publisher

// Publish implements Publisher.
func (p Publishers) Publish(ctx context.Context, n Notification) error {
	var errs []error
	for _, pub := range p {
		if err := pub.Publish(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
