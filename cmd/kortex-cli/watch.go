package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Snehask3825/kortex/pkg/httpclient"
	"github.com/Snehask3825/kortex/pkg/notification"
)

func newWatchCommand() *cobra.Command {
	var (
		topic      string
		bufferSize int
		count      int
		from       int64
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print notifications as the controller publishes them",
		Long: `Print action or sequence notifications in real time.
Over HTTP the stream reconnects after errors and, with --from, replays
recorded notifications first. With --redis notifications come from the
controller's Redis mirror. Press Ctrl+C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := notification.ParseTopic(topic)
			if err != nil {
				return fmt.Errorf("%w: %q (want %s or %s)", err, topic, notification.TopicActions, notification.TopicSequences)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "🌊 Watching %s (Ctrl+C to stop)\n", t)

			var received int
			if client != nil && mirror == nil {
				received, err = watchStream(ctx, out, t, bufferSize, count, from)
			} else {
				if cmd.Flags().Changed("from") {
					return fmt.Errorf("--from is only available when watching over --transport http")
				}
				received, err = watchSubscription(ctx, out, t, bufferSize, count)
			}
			fmt.Fprintf(out, "\n✅ Watch stopped. Received %d notifications.\n", received)
			return err
		},
	}

	cmd.Flags().StringVar(&topic, "topic", notification.TopicActions.String(), "Topic: ActionEvents or SequenceEvents")
	cmd.Flags().IntVar(&bufferSize, "buffer-size", 100, "Notification buffer size")
	cmd.Flags().IntVar(&count, "count", 0, "Stop after this many notifications (0 = until interrupted)")
	cmd.Flags().Int64Var(&from, "from", -1, "Replay recorded notifications from this offset first")
	return cmd
}

// watchStream follows topic through the gateway's reconnecting stream
func watchStream(ctx context.Context, out io.Writer, topic notification.Topic, bufferSize, count int, from int64) (int, error) {
	config := httpclient.StreamConfig{
		Topic:                topic,
		BufferSize:           bufferSize,
		MaxReconnectAttempts: 0, // Infinite retries
	}
	if from >= 0 {
		config.FromOffset = &from
	}
	streamClient, err := client.Stream(ctx, config)
	if err != nil {
		return 0, fmt.Errorf("failed to start streaming: %w", err)
	}
	defer func() {
		if err := streamClient.Close(); err != nil {
			fmt.Fprintf(out, "Warning: failed to close stream: %v\n", err)
		}
	}()

	received := 0
	for count == 0 || received < count {
		select {
		case <-ctx.Done():
			return received, nil

		case msg, ok := <-streamClient.Events():
			if !ok {
				return received, nil
			}
			received++
			printNotification(out, msg.Notification, received, msg.Offset)

		case err, ok := <-streamClient.Errors():
			if !ok {
				return received, nil
			}
			// Errors are non-fatal while the stream reconnects
			fmt.Fprintf(out, "❌ Stream error: %v\n", err)

		case <-streamClient.Done():
			return received, nil
		}
	}
	return received, nil
}

// watchSubscription follows topic through the notification service
func watchSubscription(ctx context.Context, out io.Writer, topic notification.Topic, bufferSize, count int) (int, error) {
	events := make(chan notification.Notification, bufferSize)
	handle, err := notifications.Subscribe(ctx, topic, func(n notification.Notification) {
		select {
		case events <- n:
		default:
		}
	}, notification.Options{BufferSize: bufferSize})
	if err != nil {
		return 0, fmt.Errorf("failed to subscribe: %w", err)
	}
	defer func() {
		_ = notifications.Unsubscribe(context.WithoutCancel(ctx), handle)
	}()

	received := 0
	for count == 0 || received < count {
		select {
		case <-ctx.Done():
			return received, nil
		case n := <-events:
			received++
			printNotification(out, n, received, -1)
		}
	}
	return received, nil
}

func printNotification(out io.Writer, n notification.Notification, count int, offset int64) {
	fmt.Fprintf(out, "📨 #%d %s", count, n.EventName())
	if offset >= 0 {
		fmt.Fprintf(out, " offset=%d", offset)
	}
	if n.Handle != "" {
		fmt.Fprintf(out, " handle=%s", n.Handle)
	}
	if n.Kind == notification.KindSequence {
		fmt.Fprintf(out, " task=%d", n.TaskIndex)
	}
	if n.AbortDetails != 0 {
		fmt.Fprintf(out, " reason=%s", n.AbortDetails.Name())
	}
	if !n.Timestamp.IsZero() {
		fmt.Fprintf(out, " at=%s", n.Timestamp.Format("15:04:05.000"))
	}
	fmt.Fprintln(out)
}
