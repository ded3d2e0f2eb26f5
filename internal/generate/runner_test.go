package generate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptd/internal/llamaclient"
	"promptd/pkg/types"
)

func alwaysHealthy() bool { return true }

func TestRunnerRejectsSingleIteration(t *testing.T) {
	client := &fakeClient{outputs: []string{"ok"}}
	r := NewRunner(client, alwaysHealthy, DefaultPolicy(), zerolog.Nop())

	_, err := r.Run(context.Background(), "prompt", 1)
	require.True(t, IsValidation(err), "got %v", err)
	assert.Equal(t, 0, client.callCount(), "validation must fire before any network call")
}

func TestRunnerRejectsEmptyPrompt(t *testing.T) {
	client := &fakeClient{outputs: []string{"ok"}}
	r := NewRunner(client, alwaysHealthy, DefaultPolicy(), zerolog.Nop())

	_, err := r.Run(context.Background(), "   \n", 3)
	require.True(t, IsValidation(err), "got %v", err)
	assert.Equal(t, 0, client.callCount())
}

func TestRunnerRejectsUnhealthyServer(t *testing.T) {
	client := &fakeClient{outputs: []string{"ok"}}
	r := NewRunner(client, func() bool { return false }, DefaultPolicy(), zerolog.Nop())

	_, err := r.Run(context.Background(), "prompt", 3)
	require.True(t, IsValidation(err), "got %v", err)
	assert.Contains(t, err.Error(), "not healthy")
	assert.Equal(t, 0, client.callCount())
}

func TestRunnerThreeIterationsOrderedWithProgress(t *testing.T) {
	client := &fakeClient{outputs: []string{"alpha beta"}}
	r := NewRunner(client, alwaysHealthy, DefaultPolicy(), zerolog.Nop())
	var progress []types.ProgressEvent
	r.OnProgress(func(cur, total int) {
		progress = append(progress, types.ProgressEvent{Current: cur, Total: total})
	})

	results, err := r.Run(context.Background(), "two words", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, i+1, res.Iteration)
		assert.Equal(t, types.OutcomeCompleted, res.Outcome)
		assert.Equal(t, "alpha beta", res.Output)
		assert.Equal(t, 2, res.OutputTokensEst)
		assert.Equal(t, 2, res.PromptTokensEst)
	}
	assert.Equal(t, []types.ProgressEvent{
		{Current: 1, Total: 3},
		{Current: 2, Total: 3},
		{Current: 3, Total: 3},
	}, progress)
}

func TestRunnerCancelPreservesCollectedResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{outputs: []string{"ok"}}
	client.onCall = func(n int) {
		if n == 2 {
			cancel() // in-flight iteration still finishes
		}
	}
	r := NewRunner(client, alwaysHealthy, DefaultPolicy(), zerolog.Nop())

	results, err := r.Run(ctx, "prompt", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Iteration)
	assert.Equal(t, 2, results[1].Iteration)
	assert.Equal(t, 2, client.callCount(), "no further iteration may start after cancel")
}

func TestRunnerFailedIterationAbortsRun(t *testing.T) {
	refused := llamaclient.ErrConnectionRefused("http://x", errors.New("dial tcp"))
	client := &fakeClient{
		outputs: []string{"ok", "", ""},
		errs:    []error{nil, refused, refused},
	}
	p := DefaultPolicy()
	p.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	r := NewRunner(client, alwaysHealthy, p, zerolog.Nop())

	results, err := r.Run(context.Background(), "prompt", 4)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, types.OutcomeCompleted, results[0].Outcome)
	assert.Equal(t, types.OutcomeFailed, results[1].Outcome)
	assert.NotEmpty(t, results[1].Error)
}

func TestGateAdmitsOneInflight(t *testing.T) {
	g := NewGate(1, 30*time.Millisecond)

	release, err := g.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, g.Inflight())

	_, err = g.Acquire(context.Background())
	require.True(t, IsBusy(err), "got %v", err)

	release()
	assert.Equal(t, 0, g.Inflight())

	release2, err := g.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}

func TestGateQueuedWaiterProceedsOnRelease(t *testing.T) {
	g := NewGate(2, time.Second)

	release, err := g.Acquire(context.Background())
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		r2, err := g.Acquire(context.Background())
		if err == nil {
			defer r2()
		}
		got <- err
	}()

	time.Sleep(20 * time.Millisecond)
	release()
	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("queued waiter never admitted")
	}
}

func TestGateRespectsCancelledContext(t *testing.T) {
	g := NewGate(1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
