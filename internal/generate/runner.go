package generate

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"promptd/pkg/types"
)

// ProgressFunc receives (current, total) after each completed iteration.
type ProgressFunc func(current, total int)

// Runner executes the same prompt N times sequentially for A/B testing.
// The server processes one request at a time, so iterations never overlap.
type Runner struct {
	client  CompletionClient
	healthy func() bool
	policy  Policy
	log     zerolog.Logger

	onProgress ProgressFunc
}

// NewRunner builds a runner. healthy reports whether the inference server
// is in a state that accepts requests.
func NewRunner(client CompletionClient, healthy func() bool, policy Policy, log zerolog.Logger) *Runner {
	return &Runner{
		client:  client,
		healthy: healthy,
		policy:  policy.normalized(),
		log:     log,
	}
}

// OnProgress registers the per-iteration progress callback. Must be set
// before Run.
func (r *Runner) OnProgress(fn ProgressFunc) { r.onProgress = fn }

// Run executes iterations generations sequentially and returns their
// ordered results. Preconditions are checked before any network activity.
// Cancelling stops after the in-flight iteration; results collected so far
// are returned. A failed iteration aborts the remainder of the run but its
// result is kept, so the caller sees the classified cause in place.
func (r *Runner) Run(ctx context.Context, prompt string, iterations int) ([]types.IterationResult, error) {
	if iterations < 2 {
		return nil, ErrValidation("at least 2 iterations are required for an A/B run")
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrValidation("prompt must not be empty")
	}
	if !r.healthy() {
		return nil, ErrValidation("inference server is not healthy; start it before running iterations")
	}

	promptTokens := EstimateTokens(prompt)
	results := make([]types.IterationResult, 0, iterations)
	for i := 1; i <= iterations; i++ {
		if ctx.Err() != nil {
			break
		}

		task := NewTask(r.client, r.policy, false, r.log)
		res := task.Run(ctx, prompt)
		if res.Outcome == types.OutcomeCancelled {
			break
		}

		results = append(results, types.IterationResult{
			Iteration:        i,
			GenerationResult: res,
			PromptTokensEst:  promptTokens,
		})
		if r.onProgress != nil {
			r.onProgress(i, iterations)
		}
		if res.Outcome == types.OutcomeFailed {
			r.log.Error().Str("error", res.Error).Int("iteration", i).Msg("iteration failed, aborting run")
			break
		}
	}
	return results, nil
}
