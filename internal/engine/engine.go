// Package engine wires the conversation buffer, server supervisor,
// inference client and admission gate into the operations exposed by the
// control-plane API.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"promptd/internal/config"
	"promptd/internal/conversation"
	"promptd/internal/generate"
	"promptd/internal/llamaclient"
	"promptd/internal/supervisor"
	"promptd/pkg/types"
)

// Engine owns the session-wide singletons: one supervisor, one client, one
// conversation buffer, one admission gate.
type Engine struct {
	cfg     config.Config
	log     zerolog.Logger
	buffer  *conversation.Buffer
	sup     *supervisor.Supervisor
	client  *llamaclient.Client
	gate    *generate.Gate
	policy  generate.Policy
	pub     supervisor.EventPublisher
	started time.Time
}

// New constructs an engine from a normalized config.
func New(cfg config.Config, log zerolog.Logger) *Engine {
	client := llamaclient.New(
		fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		time.Duration(cfg.Generation.RequestTimeoutSeconds)*time.Second,
		log,
	)
	probe := func() bool { return client.Health(context.Background()) }
	return &Engine{
		cfg: cfg,
		log: log,
		buffer: conversation.New(cfg.Conversation.MaxTurns, cfg.Conversation.MaxChars, conversation.TagSet{
			UserOpen:      cfg.Conversation.UserOpen,
			AssistantOpen: cfg.Conversation.AssistantOpen,
			Close:         cfg.Conversation.CloseTag,
		}),
		sup:     supervisor.New(cfg.Server, probe, log),
		client:  client,
		gate:    generate.NewGate(cfg.Generation.MaxQueueDepth, time.Duration(cfg.Generation.MaxWaitSeconds)*time.Second),
		policy:  generate.DefaultPolicy(),
		started: time.Now(),
	}
}

// SetPublisher wires lifecycle and history events to p.
func (e *Engine) SetPublisher(p supervisor.EventPublisher) {
	e.pub = p
	e.sup.SetPublisher(p)
}

func (e *Engine) publish(ev supervisor.Event) {
	if e.pub != nil {
		e.pub.Publish(ev)
	}
}

// clientAdapter narrows *llamaclient.Client to the generate interfaces.
type clientAdapter struct{ c *llamaclient.Client }

func (a clientAdapter) Complete(ctx context.Context, prompt string) (string, error) {
	return a.c.Complete(ctx, prompt)
}

func (a clientAdapter) StreamCompletion(ctx context.Context, prompt string) (generate.TokenStream, error) {
	s, err := a.c.StreamCompletion(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// StartServer starts the managed llama-server, optionally overriding the
// configured model path.
func (e *Engine) StartServer(modelPath string) error { return e.sup.Start(modelPath) }

// StopServer stops the managed llama-server.
func (e *Engine) StopServer() error { return e.sup.Stop() }

// RestartServer restarts the managed llama-server.
func (e *Engine) RestartServer(modelPath string) error { return e.sup.Restart(modelPath) }

// Models lists GGUF files under the configured models directory.
func (e *Engine) Models() []types.ModelInfo {
	return supervisor.ScanModels(e.cfg.Server.ModelsDir)
}

// ClearConversation empties the session buffer.
func (e *Engine) ClearConversation() { e.buffer.Clear() }

// TurnCount reports completed conversation pairs.
func (e *Engine) TurnCount() int { return e.buffer.TurnCount() }

// Healthy reports whether the inference server accepts requests.
func (e *Engine) Healthy() bool { return e.sup.Healthy() }

// Status assembles the engine-wide status view.
func (e *Engine) Status() types.StatusResponse {
	snap := e.sup.Snapshot()
	return types.StatusResponse{
		ServerState:   string(snap.State),
		ModelPath:     snap.ModelPath,
		ModelName:     snap.ModelName,
		Port:          snap.Port,
		PID:           snap.PID,
		TurnCount:     e.buffer.TurnCount(),
		QueueLen:      e.gate.QueueLen(),
		Inflight:      e.gate.Inflight(),
		MaxQueueDepth: e.gate.Depth(),
		LastError:     snap.LastError,
		UptimeSeconds: int64(time.Since(e.started).Seconds()),
	}
}

// Generate runs one prompt through the model. When req.Stream is true and w
// is non-nil, token lines are written as NDJSON as they arrive, followed by
// a final done line. The conversation buffer is mutated only on a completed
// outcome.
func (e *Engine) Generate(ctx context.Context, req types.GenerateRequest, w io.Writer, flusher func()) (types.GenerationResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return types.GenerationResult{}, generate.ErrValidation("prompt must not be empty")
	}

	release, err := e.gate.Acquire(ctx)
	if err != nil {
		return types.GenerationResult{}, err
	}
	defer release()

	useContext := req.UseContext == nil || *req.UseContext
	assembled := req.Prompt
	trimmed := false
	if useContext {
		assembled, trimmed = e.buffer.Assemble(req.Prompt)
	}
	if trimmed {
		e.log.Debug().Msg("conversation context trimmed to fit the character budget")
	}

	// The client bounds each attempt with the per-request timeout, so no
	// deadline spans the retry loop here; a caller cancel still aborts it.
	task := generate.NewTask(clientAdapter{c: e.client}, e.policy, req.Stream, e.log)
	if req.Stream && w != nil {
		task.OnChunk(func(tok string) {
			_, _ = w.Write(tokenLine(tok))
			if flusher != nil {
				flusher()
			}
		})
	}

	res := task.Run(ctx, assembled)
	if res.Outcome == types.OutcomeCompleted {
		e.buffer.AddUser(req.Prompt)
		e.buffer.AddAssistant(res.Output)
		e.publish(supervisor.Event{Name: "generation_recorded", Fields: map[string]any{
			"prompt":            req.Prompt,
			"assembled_context": assembled,
			"output":            res.Output,
			"latency_seconds":   res.LatencySeconds,
			"output_tokens_est": res.OutputTokensEst,
			"prompt_tokens_est": generate.EstimateTokens(assembled),
			"model_name":        e.sup.Snapshot().ModelName,
		}})
	}
	if w != nil {
		line, _ := json.Marshal(map[string]any{
			"done":              true,
			"outcome":           res.Outcome,
			"content":           res.Output,
			"latency_seconds":   res.LatencySeconds,
			"output_tokens_est": res.OutputTokensEst,
			"error":             res.Error,
		})
		_, _ = w.Write(append(line, '\n'))
		if flusher != nil {
			flusher()
		}
	}
	return res, nil
}

// Iterate runs the same prompt N times sequentially for A/B comparison.
// Iterations bypass the conversation buffer: each run sees the bare prompt.
func (e *Engine) Iterate(ctx context.Context, req types.IterateRequest, progress generate.ProgressFunc) ([]types.IterationResult, error) {
	release, err := e.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	runner := generate.NewRunner(clientAdapter{c: e.client}, e.sup.Healthy, e.policy, e.log)
	if progress != nil {
		runner.OnProgress(progress)
	}
	return runner.Run(ctx, req.Prompt, req.Iterations)
}

func tokenLine(tok string) []byte {
	type tokenMsg struct {
		Token string `json:"token"`
	}
	b, _ := json.Marshal(tokenMsg{Token: tok})
	return append(b, '\n')
}
