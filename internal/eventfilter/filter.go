// Package eventfilter classifies notifications for a watched operation.
//
// A Filter decides, for one notification, whether it ends the watch and how.
// Classification is total: anything the filter does not recognize is
// ignored rather than failing the watch. Filters run on the notification
// delivery goroutine, so they only log and compare; they never block.
package eventfilter

import (
	"go.uber.org/zap"

	"github.com/Snehask3825/kortex/internal/logging"
	"github.com/Snehask3825/kortex/pkg/completion"
	"github.com/Snehask3825/kortex/pkg/notification"
)

// Decision is the classification of one notification.
type Decision int

const (
	// Ignore leaves the watch running
	Ignore Decision = iota
	// Terminal ends the watch with the attached outcome
	Terminal
)

func (d Decision) String() string {
	if d == Terminal {
		return "terminal"
	}
	return "ignore"
}

// Classification is a filter's verdict on one notification.
type Classification struct {
	Decision Decision
	// Outcome is meaningful only when Decision is Terminal
	Outcome completion.Outcome
}

// IsTerminal reports whether the classification ends the watch.
func (c Classification) IsTerminal() bool {
	return c.Decision == Terminal
}

func ignore() Classification {
	return Classification{Decision: Ignore}
}

func terminal(outcome completion.Outcome) Classification {
	return Classification{Decision: Terminal, Outcome: outcome}
}

// Filter classifies notifications for one watched operation.
type Filter interface {
	Classify(n notification.Notification) Classification
}

// Func adapts a plain function to Filter.
type Func func(n notification.Notification) Classification

// Classify implements Filter.
func (f Func) Classify(n notification.Notification) Classification {
	return f(n)
}

// actionFilter watches a single action on the ActionEvents topic.
type actionFilter struct {
	logger *zap.SugaredLogger
}

// ForActions returns the filter for action-scoped watches: ACTION_END
// completes, ACTION_ABORT aborts, everything else is ignored.
func ForActions(logger *zap.SugaredLogger) Filter {
	return &actionFilter{logger: logging.OrNop(logger)}
}

func (f *actionFilter) Classify(n notification.Notification) Classification {
	if n.Kind != notification.KindAction {
		return ignore()
	}

	f.logger.Debugw("Action event", "event", n.ActionEvent.String(), "handle", n.Handle)

	switch n.ActionEvent {
	case notification.ActionEnd:
		return terminal(completion.Completed())
	case notification.ActionAbort:
		return terminal(completion.Aborted(completion.AbortReason{
			Code:  n.AbortDetails,
			Event: n.ActionEvent.String(),
		}))
	default:
		return ignore()
	}
}

// sequenceFilter watches the single active sequence on the SequenceEvents topic.
type sequenceFilter struct {
	logger *zap.SugaredLogger
}

// ForSequences returns the filter for sequence-scoped watches:
// SEQUENCE_COMPLETED completes, SEQUENCE_ABORTED aborts with the abort
// details, and per-task completions are logged but ignored.
func ForSequences(logger *zap.SugaredLogger) Filter {
	return &sequenceFilter{logger: logging.OrNop(logger)}
}

func (f *sequenceFilter) Classify(n notification.Notification) Classification {
	if n.Kind != notification.KindSequence {
		return ignore()
	}

	switch n.SequenceEvent {
	case notification.SequenceTaskCompleted:
		f.logger.Infow("Sequence task completed", "task", n.TaskIndex, "handle", n.Handle)
		return ignore()
	case notification.SequenceAborted:
		f.logger.Infow("Sequence aborted",
			"task", n.TaskIndex,
			"code", uint32(n.AbortDetails),
			"reason", n.AbortDetails.Name(),
		)
		return terminal(completion.Aborted(completion.AbortReason{
			Code:      n.AbortDetails,
			TaskIndex: n.TaskIndex,
			Event:     n.SequenceEvent.String(),
		}))
	case notification.SequenceCompleted:
		f.logger.Infow("Sequence completed", "handle", n.Handle)
		return terminal(completion.Completed())
	default:
		f.logger.Debugw("Sequence event", "event", n.SequenceEvent.String(), "task", n.TaskIndex)
		return ignore()
	}
}

// ForTopic returns the standard filter for a topic, or nil for unknown topics.
func ForTopic(topic notification.Topic, logger *zap.SugaredLogger) Filter {
	switch topic {
	case notification.TopicActions:
		return ForActions(logger)
	case notification.TopicSequences:
		return ForSequences(logger)
	default:
		return nil
	}
}
