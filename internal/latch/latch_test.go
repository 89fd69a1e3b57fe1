package latch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/Snehask3825/kortex/pkg/completion"
	"github.com/Snehask3825/kortex/pkg/notification"
)

func TestLatch_SetOnce(t *testing.T) {
	l := New(nil)

	assert.False(t, l.IsSet())
	assert.True(t, l.Set(completion.Completed()))
	assert.False(t, l.Set(completion.Aborted(completion.AbortReason{Event: "ACTION_ABORT"})))

	outcome, ok := l.Outcome()
	require.True(t, ok)
	assert.Equal(t, completion.StatusCompleted, outcome.Status)
}

func TestLatch_FirstTerminalWins(t *testing.T) {
	abort := completion.Aborted(completion.AbortReason{Code: notification.SubErrorRobotInFault, Event: "SEQUENCE_ABORTED"})

	t.Run("completion_then_abort", func(t *testing.T) {
		l := New(nil)
		l.Set(completion.Completed())
		l.Set(abort)
		outcome, _ := l.Outcome()
		assert.Equal(t, completion.StatusCompleted, outcome.Status)
	})

	t.Run("abort_then_completion", func(t *testing.T) {
		l := New(nil)
		l.Set(abort)
		l.Set(completion.Completed())
		outcome, _ := l.Outcome()
		assert.Equal(t, completion.StatusAborted, outcome.Status)
		assert.Equal(t, notification.SubErrorRobotInFault, outcome.Reason.Code)
	})
}

func TestLatch_ConcurrentSetIsRaceFree(t *testing.T) {
	l := New(nil)

	var wg sync.WaitGroup
	wins := make(chan struct{}, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Set(completion.Completed()) {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	assert.Len(t, wins, 1)
	assert.True(t, l.Wait(time.Millisecond))
}

func TestLatch_WaitReturnsWhenAlreadySet(t *testing.T) {
	l := New(nil)
	l.Set(completion.Completed())

	assert.True(t, l.Wait(0))
	assert.True(t, l.Wait(time.Hour))
}

func TestLatch_WaitTimesOut(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	l := New(clk)

	result := make(chan bool, 1)
	go func() {
		result <- l.Wait(2 * time.Second)
	}()

	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	clk.Step(2 * time.Second)

	select {
	case set := <-result:
		assert.False(t, set)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the timeout elapsed")
	}
}

func TestLatch_WaitReturnsPromptlyWhenSet(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	l := New(clk)

	result := make(chan bool, 1)
	go func() {
		result <- l.Wait(30 * time.Second)
	}()

	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	l.Set(completion.Completed())

	select {
	case set := <-result:
		assert.True(t, set)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Set")
	}
}

func TestLatch_WaitNonPositiveTimeout(t *testing.T) {
	l := New(nil)
	assert.False(t, l.Wait(0))
	assert.False(t, l.Wait(-time.Second))
}

func TestLatch_WaitContextCancelled(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	set, err := l.WaitContext(ctx, time.Minute)
	assert.False(t, set)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLatch_SetBeforeCancelWins(t *testing.T) {
	for i := 0; i < 200; i++ {
		l := New(nil)
		ctx, cancel := context.WithCancel(context.Background())
		release := make(chan struct{})

		go func() {
			<-release
			l.Set(completion.Completed())
			cancel()
		}()

		close(release)
		set, err := l.WaitContext(ctx, time.Minute)
		require.NoError(t, err, "iteration %d", i)
		require.True(t, set, "iteration %d", i)
	}
}

func TestLatch_DoneChannel(t *testing.T) {
	l := New(nil)

	select {
	case <-l.Done():
		t.Fatal("Done closed before Set")
	default:
	}

	l.Set(completion.TimedOut())

	select {
	case <-l.Done():
	default:
		t.Fatal("Done not closed after Set")
	}
}
