package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqEvent(event SequenceEvent, task int) Notification {
	return NewSequenceNotification(event, "s", task)
}

func drain(q *Queue[Notification]) []Notification {
	var out []Notification
	for n, ok := q.Pop(); ok; n, ok = q.Pop() {
		out = append(out, n)
	}
	return out
}

func TestTerminal(t *testing.T) {
	tests := []struct {
		name string
		n    Notification
		want bool
	}{
		{"action end", NewActionNotification(ActionEnd, "a"), true},
		{"action abort", NewActionNotification(ActionAbort, "a"), true},
		{"action start", NewActionNotification(ActionStart, "a"), false},
		{"sequence completed", seqEvent(SequenceCompleted, 0), true},
		{"sequence aborted", seqEvent(SequenceAborted, 0), true},
		{"task completed", seqEvent(SequenceTaskCompleted, 0), false},
		{"unknown kind", Notification{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.n.Terminal())
		})
	}
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue[Notification](3)
	for i := 0; i < 3; i++ {
		assert.True(t, q.Push(seqEvent(SequenceTaskCompleted, i)))
	}

	got := drain(q)
	require.Len(t, got, 3)
	for i, n := range got {
		assert.Equal(t, i, n.TaskIndex)
	}
	assert.Zero(t, q.Dropped())
}

func TestQueue_FullDropsProgress(t *testing.T) {
	q := NewQueue[Notification](2)
	q.Push(seqEvent(SequenceTaskCompleted, 0))
	q.Push(seqEvent(SequenceTaskCompleted, 1))

	assert.False(t, q.Push(seqEvent(SequenceTaskCompleted, 2)))
	assert.Equal(t, int64(1), q.Dropped())

	got := drain(q)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[1].TaskIndex)
}

func TestQueue_FullKeepsTerminal(t *testing.T) {
	q := NewQueue[Notification](2)
	q.Push(seqEvent(SequenceTaskCompleted, 0))
	q.Push(seqEvent(SequenceTaskCompleted, 1))

	assert.False(t, q.Push(seqEvent(SequenceCompleted, 1)), "an older entry was evicted")

	got := drain(q)
	require.Len(t, got, 2)
	assert.Equal(t, SequenceTaskCompleted, got[0].SequenceEvent)
	assert.Equal(t, 1, got[0].TaskIndex)
	assert.Equal(t, SequenceCompleted, got[1].SequenceEvent)
}

func TestQueue_TerminalsNeverDisplaceEachOther(t *testing.T) {
	q := NewQueue[Notification](1)
	assert.True(t, q.Push(NewActionNotification(ActionEnd, "a")))
	assert.True(t, q.Push(NewActionNotification(ActionAbort, "b")))

	got := drain(q)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Handle)
	assert.Equal(t, "b", got[1].Handle)
}

func TestQueue_NextAndClose(t *testing.T) {
	q := NewQueue[Notification](0)

	got := make(chan Notification, 2)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for n, ok := q.Next(); ok; n, ok = q.Next() {
			got <- n
		}
	}()

	q.Push(NewActionNotification(ActionStart, "a"))
	select {
	case n := <-got:
		assert.Equal(t, ActionStart, n.ActionEvent)
	case <-time.After(time.Second):
		t.Fatal("Next did not return a pushed notification")
	}

	q.Push(NewActionNotification(ActionEnd, "a"))
	q.Close()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}
	assert.Len(t, got, 1, "items pushed before Close are still delivered")

	assert.False(t, q.Push(NewActionNotification(ActionEnd, "late")))
}

func TestQueue_ReadySignalsPush(t *testing.T) {
	q := NewQueue[Notification](4)
	q.Push(NewActionNotification(ActionStart, "a"))
	q.Push(NewActionNotification(ActionEnd, "a"))

	select {
	case <-q.Ready():
	default:
		t.Fatal("Ready not signalled")
	}
	assert.Len(t, drain(q), 2)
}
