package notifylog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Snehask3825/kortex/pkg/notification"
)

func actionEnd(handle string) notification.Notification {
	return notification.NewActionNotification(notification.ActionEnd, handle)
}

func TestLog_AppendAssignsPerTopicOffsets(t *testing.T) {
	log := New(0)
	defer log.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e, err := log.Append(ctx, actionEnd("a"))
		require.NoError(t, err)
		assert.Equal(t, int64(i), e.Offset)
	}

	e, err := log.Append(ctx, notification.NewSequenceNotification(notification.SequenceCompleted, "s", 0))
	require.NoError(t, err)
	assert.Equal(t, int64(0), e.Offset, "sequence topic has its own offsets")

	end, err := log.EndOffset(ctx, notification.TopicActions)
	require.NoError(t, err)
	assert.Equal(t, int64(3), end)
}

func TestLog_AppendRejectsUnknownKind(t *testing.T) {
	log := New(0)
	_, err := log.Append(context.Background(), notification.Notification{})
	assert.ErrorIs(t, err, notification.ErrUnknownTopic)
}

func TestLog_Read(t *testing.T) {
	log := New(0)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := log.Append(ctx, actionEnd("a"))
		require.NoError(t, err)
	}

	entries, err := log.Read(ctx, notification.TopicActions, 2, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].Offset)
	assert.Equal(t, int64(3), entries[1].Offset)

	entries, err = log.Read(ctx, notification.TopicSequences, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = log.Read(ctx, notification.TopicActions, -1, 1)
	assert.ErrorIs(t, err, ErrNegativeOffset)
	_, err = log.Read(ctx, notification.TopicActions, 0, -1)
	assert.ErrorIs(t, err, ErrNegativeMaxCount)
}

func TestLog_RetentionKeepsNewest(t *testing.T) {
	log := New(2)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := log.Append(ctx, actionEnd("a"))
		require.NoError(t, err)
	}

	entries, err := log.Read(ctx, notification.TopicActions, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].Offset)
	assert.Equal(t, int64(3), entries[1].Offset)

	end, _ := log.EndOffset(ctx, notification.TopicActions)
	assert.Equal(t, int64(4), end)
}

func TestLog_RetentionCompactsBackingSlice(t *testing.T) {
	log := New(4)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		_, err := log.Append(ctx, actionEnd("a"))
		require.NoError(t, err)
		assert.Less(t, len(log.topics[notification.TopicActions].entries), 8)
	}

	entries, err := log.Read(ctx, notification.TopicActions, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, int64(21), entries[0].Offset)
	assert.Equal(t, int64(24), entries[3].Offset)

	entries, err = log.Read(ctx, notification.TopicActions, 23, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(23), entries[0].Offset)

	entries, err = log.Read(ctx, notification.TopicActions, 25, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	stats, err := log.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TopicCounts[notification.TopicActions])
}

func TestLog_Replay(t *testing.T) {
	log := New(0)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := log.Append(ctx, actionEnd("a"))
		require.NoError(t, err)
	}

	entries, errs := log.Replay(ctx, notification.TopicActions, 1)
	var offsets []int64
	for e := range entries {
		offsets = append(offsets, e.Offset)
	}
	assert.NoError(t, <-errs)
	assert.Equal(t, []int64{1, 2}, offsets)

	_, errs = log.Replay(ctx, notification.TopicActions, -1)
	assert.ErrorIs(t, <-errs, ErrNegativeOffset)
}

func TestLog_ReplayCapturesEntriesWhenCalled(t *testing.T) {
	log := New(0)
	ctx := context.Background()
	_, err := log.Append(ctx, actionEnd("before"))
	require.NoError(t, err)

	entries, errs := log.Replay(ctx, notification.TopicActions, 0)
	_, err = log.Append(ctx, actionEnd("after"))
	require.NoError(t, err)

	var handles []string
	for e := range entries {
		handles = append(handles, e.Notification.Handle)
	}
	assert.NoError(t, <-errs)
	assert.Equal(t, []string{"before"}, handles)
}

func TestLog_Statistics(t *testing.T) {
	log := New(0)
	ctx := context.Background()
	_, _ = log.Append(ctx, actionEnd("a"))
	_, _ = log.Append(ctx, actionEnd("b"))
	_, _ = log.Append(ctx, notification.NewSequenceNotification(notification.SequenceStarted, "s", 0))

	stats, err := log.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalEntries)
	assert.Equal(t, int64(2), stats.TopicCounts[notification.TopicActions])
	assert.Equal(t, int64(1), stats.TopicCounts[notification.TopicSequences])
}

func TestLog_Close(t *testing.T) {
	log := New(0)
	require.NoError(t, log.Close())
	require.NoError(t, log.Close())

	_, err := log.Append(context.Background(), actionEnd("a"))
	assert.ErrorIs(t, err, ErrClosed)
}
