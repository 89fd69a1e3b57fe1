package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Snehask3825/kortex/pkg/notification"
)

func newAuthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with the gateway and print the token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireHTTP("auth"); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := client.Authenticate(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✅ Authenticated as %s\n", clientID)
			fmt.Fprintf(out, "Token: %s\n", client.GetToken())
			fmt.Fprintf(out, "\nReuse it with:\n  export KORTEX_TOKEN=%s\n", client.GetToken())
			return nil
		},
	}
}

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check gateway and controller health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireHTTP("health"); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			health, err := client.GetHealth(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if health.Healthy {
				fmt.Fprintln(out, "✅ Gateway is healthy")
			} else {
				fmt.Fprintln(out, "❌ Gateway is unhealthy")
			}
			fmt.Fprintf(out, "  Controller:     %s\n", okLabel(health.ControllerHealthy))
			if health.ServoingMode != "" {
				fmt.Fprintf(out, "  Servoing mode:  %s\n", health.ServoingMode)
			}
			fmt.Fprintf(out, "  Stream clients: %d\n", health.StreamClients)
			if health.Message != "" {
				fmt.Fprintf(out, "  Message:        %s\n", health.Message)
			}
			if !health.Healthy {
				return fmt.Errorf("gateway is unhealthy")
			}
			return nil
		},
	}
}

func okLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "down"
}

func newHistoryCommand() *cobra.Command {
	var (
		topic  string
		offset int64
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Read recorded notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireHTTP("history"); err != nil {
				return err
			}
			t, err := notification.ParseTopic(topic)
			if err != nil {
				return fmt.Errorf("%w: %q", err, topic)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			resp, err := client.History(ctx, t, offset, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if resp.Count == 0 {
				fmt.Fprintf(out, "No %s notifications from offset %d (end %d).\n", t, offset, resp.EndOffset)
				return nil
			}
			fmt.Fprintf(out, "📜 %s offsets %d-%d of %d:\n", t, resp.StartOffset, resp.StartOffset+int64(resp.Count)-1, resp.EndOffset)
			for _, e := range resp.Entries {
				fmt.Fprintf(out, "  [%d] %s\n", e.Offset, e.Notification)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&topic, "topic", notification.TopicActions.String(), "Topic: ActionEvents or SequenceEvents")
	cmd.Flags().Int64Var(&offset, "offset", 0, "First offset to read")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of notifications")
	return cmd
}

func newFaultsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "faults",
		Short: "Inject and clear simulated controller faults (admin)",
		Long: `Make the simulated controller abort operations. These commands need an
admin token; authenticate with the gateway's admin client ID.`,
	}
	cmd.AddCommand(newFaultsInjectCommand())
	cmd.AddCommand(newFaultsClearCommand())
	cmd.AddCommand(newFaultsStatsCommand())
	return cmd
}

func newFaultsInjectCommand() *cobra.Command {
	var (
		code      string
		taskIndex int
	)

	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Abort the next action or sequence task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireHTTP("faults"); err != nil {
				return err
			}
			c, ok := notification.ParseSubErrorCode(code)
			if !ok {
				return fmt.Errorf("unknown sub-error code %q", code)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := client.AdminInjectFault(ctx, c, taskIndex); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "⚠️  Fault %s armed for task %d\n", c.Name(), taskIndex)
			return nil
		},
	}

	cmd.Flags().StringVar(&code, "code", notification.SubErrorCollisionDetected.Name(), "Sub-error code reported with the abort")
	cmd.Flags().IntVar(&taskIndex, "task", 0, "Sequence task index to abort")
	return cmd
}

func newFaultsClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove pending faults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireHTTP("faults"); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := client.AdminClearFaults(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✅ Faults cleared")
			return nil
		},
	}
}

func newFaultsStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show gateway statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireHTTP("stats"); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			stats, err := client.AdminGetStats(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "📊 Gateway statistics")
			fmt.Fprintf(out, "  Stream clients:  %d\n", stats.StreamClients)
			fmt.Fprintf(out, "  History entries: %d\n", stats.History.TotalEntries)

			topics := make([]string, 0, len(stats.History.TopicCounts))
			for t := range stats.History.TopicCounts {
				topics = append(topics, t.String())
			}
			sort.Strings(topics)
			for _, t := range topics {
				fmt.Fprintf(out, "    %-16s %d\n", t, stats.History.TopicCounts[notification.Topic(t)])
			}
			return nil
		},
	}
}
