package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Snehask3825/kortex/internal/arm"
	"github.com/Snehask3825/kortex/pkg/command"
	"github.com/Snehask3825/kortex/pkg/completion"
)

func newActionsCommand() *cobra.Command {
	var actionType string

	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List stored actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var t command.ActionType
			if err := t.UnmarshalText([]byte(actionType)); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			actions, err := svc.ReadAllActions(ctx, t)
			if err != nil {
				return fmt.Errorf("failed to list actions: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(actions) == 0 {
				fmt.Fprintf(out, "No %s actions stored.\n", t)
				return nil
			}
			fmt.Fprintf(out, "📋 %d %s actions:\n", len(actions), t)
			for _, a := range actions {
				fmt.Fprintf(out, "  %-12s %s\n", a.Name, a.Handle)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&actionType, "type", command.ReachJointAngles.String(), "Action type")
	return cmd
}

func newMoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "move <position>",
		Short: "Move to a stored joint angle position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newArm()
			if err := a.SetSingleLevelServoing(cmd.Context()); err != nil {
				return err
			}
			outcome, err := a.MoveToNamedPosition(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return reportOutcome(cmd.OutOrStdout(), "Move to "+args[0], outcome)
		},
	}
}

func newPackagingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "packaging",
		Short: "Fold the arm into its transport position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newArm()
			if err := a.SetSingleLevelServoing(cmd.Context()); err != nil {
				return err
			}
			outcome, err := a.Packaging(cmd.Context())
			if err != nil {
				return err
			}
			return reportOutcome(cmd.OutOrStdout(), "Packaging", outcome)
		},
	}
}

func newVerticalCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vertical",
		Short: "Point the arm straight up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newArm()
			if err := a.SetSingleLevelServoing(cmd.Context()); err != nil {
				return err
			}
			outcome, err := a.Vertical(cmd.Context())
			if err != nil {
				return err
			}
			return reportOutcome(cmd.OutOrStdout(), "Vertical", outcome)
		},
	}
}

func newReachCommand() *cobra.Command {
	var dx, dy, dz float64

	cmd := &cobra.Command{
		Use:   "reach",
		Short: "Move the tool relative to its current pose",
		Long: `Move the tool by the given offsets in meters from the pose the
controller currently reports. Orientation is kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newArm()
			if err := a.SetSingleLevelServoing(cmd.Context()); err != nil {
				return err
			}
			outcome, err := a.ReachPoseFromFeedback(cmd.Context(), dx, dy, dz)
			if err != nil {
				return err
			}
			return reportOutcome(cmd.OutOrStdout(), "Cartesian movement", outcome)
		},
	}

	cmd.Flags().Float64Var(&dx, "dx", 0, "X offset in meters")
	cmd.Flags().Float64Var(&dy, "dy", 0, "Y offset in meters")
	cmd.Flags().Float64Var(&dz, "dz", 0, "Z offset in meters")
	return cmd
}

func newSequenceCommand() *cobra.Command {
	var (
		file      string
		name      string
		positions []string
	)

	cmd := &cobra.Command{
		Use:   "sequence",
		Short: "Play a sequence of motions",
		Long: `Play a sequence read from a YAML file, or one built from stored
joint angle positions with --positions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				seq command.Sequence
				err error
			)
			switch {
			case file != "" && len(positions) > 0:
				return fmt.Errorf("use either --file or --positions")
			case file != "":
				seq, err = readSequence(file)
			case len(positions) > 0:
				seq, err = sequenceFromPositions(cmd.Context(), name, positions)
			default:
				return fmt.Errorf("--file or --positions is required")
			}
			if err != nil {
				return err
			}

			a := newArm()
			if err := a.SetSingleLevelServoing(cmd.Context()); err != nil {
				return err
			}
			outcome, err := a.RunSequence(cmd.Context(), seq)
			if err != nil {
				return err
			}
			return reportOutcome(cmd.OutOrStdout(), "Sequence "+seq.Name, outcome)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "YAML file holding the sequence")
	cmd.Flags().StringVar(&name, "name", "cli-sequence", "Sequence name when using --positions")
	cmd.Flags().StringSliceVar(&positions, "positions", nil, "Stored positions to visit in order")
	return cmd
}

// readSequence loads a sequence from YAML
func readSequence(path string) (command.Sequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return command.Sequence{}, fmt.Errorf("read sequence: %w", err)
	}
	var seq command.Sequence
	if err := yaml.Unmarshal(data, &seq); err != nil {
		return command.Sequence{}, fmt.Errorf("parse sequence %s: %w", path, err)
	}
	return seq, nil
}

// sequenceFromPositions copies stored joint angle actions into tasks
func sequenceFromPositions(ctx context.Context, name string, positions []string) (command.Sequence, error) {
	actions, err := newArm().ListActions(ctx)
	if err != nil {
		return command.Sequence{}, err
	}
	byName := make(map[string]command.Action, len(actions))
	for _, a := range actions {
		byName[a.Name] = a
	}

	seq := command.Sequence{Name: name}
	for _, p := range positions {
		a, ok := byName[p]
		if !ok {
			return command.Sequence{}, fmt.Errorf("no stored position named %q", p)
		}
		a.Handle = ""
		seq.Tasks = append(seq.Tasks, command.Task{Action: a})
	}
	return seq, nil
}

func newGripperCommand() *cobra.Command {
	var settle time.Duration

	cmd := &cobra.Command{
		Use:       "gripper <open|close>",
		Short:     "Open or close the gripper",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"open", "close"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newArm(arm.WithGripperSettle(settle))
			var err error
			switch strings.ToLower(args[0]) {
			case "open":
				err = a.GripperOpen(cmd.Context())
			case "close":
				err = a.GripperClose(cmd.Context())
			default:
				return fmt.Errorf("unknown gripper command %q (want open or close)", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Gripper %s\n", strings.ToLower(args[0]))
			return nil
		},
	}

	cmd.Flags().DurationVar(&settle, "settle", arm.DefaultGripperSettle, "Time given to the gripper to finish moving")
	return cmd
}

// reportOutcome prints outcome and turns anything but completion into an
// error so scripts see a non-zero exit
func reportOutcome(w io.Writer, what string, outcome completion.Outcome) error {
	switch outcome.Status {
	case completion.StatusCompleted:
		fmt.Fprintf(w, "✅ %s completed\n", what)
		return nil
	case completion.StatusAborted:
		fmt.Fprintf(w, "❌ %s aborted\n", what)
		if outcome.Reason != nil {
			fmt.Fprintf(w, "   Reason: %s\n", outcome.Reason.Code.Name())
		}
		return fmt.Errorf("%s aborted", what)
	default:
		fmt.Fprintf(w, "⏱️  %s timed out after %s\n", what, wait)
		return fmt.Errorf("%s timed out", what)
	}
}
