package generate

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"promptd/internal/llamaclient"
	"promptd/pkg/types"
)

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRequesting Status = "requesting"
	StatusStreaming  Status = "streaming"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// TokenStream yields completion chunks in arrival order. Recv returns
// io.EOF after the final chunk.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// CompletionClient is the slice of the inference client a task needs.
type CompletionClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	StreamCompletion(ctx context.Context, prompt string) (TokenStream, error)
}

// Task runs one generation against the inference server, retrying
// transient failures per its Policy. A Task is single-use.
type Task struct {
	client CompletionClient
	policy Policy
	stream bool
	log    zerolog.Logger

	onChunk func(string)

	mu     sync.Mutex
	status Status
}

// NewTask builds a task. When stream is true, chunks are delivered through
// the OnChunk callback as they arrive.
func NewTask(client CompletionClient, policy Policy, stream bool, log zerolog.Logger) *Task {
	return &Task{
		client: client,
		policy: policy.normalized(),
		stream: stream,
		log:    log,
		status: StatusIdle,
	}
}

// OnChunk registers a callback invoked synchronously for each streamed
// chunk. Must be set before Run.
func (t *Task) OnChunk(fn func(string)) { t.onChunk = fn }

// Status returns the current lifecycle state.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Task) setStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// Run executes the generation and returns a terminal result. Cancellation
// via ctx yields an OutcomeCancelled result with no output.
func (t *Task) Run(ctx context.Context, prompt string) types.GenerationResult {
	t.setStatus(StatusRequesting)

	var lastErr error
	var lastLatency float64
	for attempt := 1; attempt <= t.policy.Attempts; attempt++ {
		// Only an explicit caller cancel short-circuits to Cancelled; a
		// caller deadline flows through the attempt and classifies as a
		// timeout failure.
		if errors.Is(ctx.Err(), context.Canceled) {
			return t.cancelled()
		}

		// Latency covers the winning attempt only, not earlier failed
		// attempts or backoff sleeps.
		attemptStart := time.Now()
		output, err := t.attempt(ctx, prompt)
		if err == nil {
			t.setStatus(StatusCompleted)
			return types.GenerationResult{
				Output:          output,
				LatencySeconds:  time.Since(attemptStart).Seconds(),
				OutputTokensEst: EstimateTokens(output),
				Outcome:         types.OutcomeCompleted,
			}
		}
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return t.cancelled()
		}
		lastErr = err
		lastLatency = time.Since(attemptStart).Seconds()
		if !llamaclient.IsTransient(err) {
			break
		}
		if attempt == t.policy.Attempts {
			break
		}
		d := t.policy.delay(attempt)
		t.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", d).
			Msg("transient failure, retrying")
		if serr := t.policy.Sleep(ctx, d); serr != nil {
			if errors.Is(serr, context.Canceled) {
				return t.cancelled()
			}
			break
		}
		t.setStatus(StatusRequesting)
	}

	t.setStatus(StatusFailed)
	return types.GenerationResult{
		LatencySeconds: lastLatency,
		Outcome:        types.OutcomeFailed,
		Error:          lastErr.Error(),
	}
}

// attempt performs a single try. Partial output from a failed streaming
// attempt is dropped; the next attempt starts clean.
func (t *Task) attempt(ctx context.Context, prompt string) (string, error) {
	if !t.stream {
		return t.client.Complete(ctx, prompt)
	}

	stream, err := t.client.StreamCompletion(ctx, prompt)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	t.setStatus(StatusStreaming)
	var b strings.Builder
	for {
		if cerr := ctx.Err(); cerr != nil {
			return "", cerr
		}
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		b.WriteString(chunk)
		if t.onChunk != nil {
			t.onChunk(chunk)
		}
	}
}

func (t *Task) cancelled() types.GenerationResult {
	t.setStatus(StatusCancelled)
	return types.GenerationResult{Outcome: types.OutcomeCancelled}
}

// EstimateTokens is the whitespace word-count proxy used for history
// records and iteration stats.
func EstimateTokens(s string) int { return len(strings.Fields(s)) }
