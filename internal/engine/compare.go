package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"promptd/internal/generate"
	"promptd/internal/supervisor"
	"promptd/pkg/types"
)

// CompareModels runs one prompt against each listed model sequentially,
// restarting the server per model and restoring the original model (or the
// stopped state) afterwards. Results collected before a failure or
// cancellation are preserved.
func (e *Engine) CompareModels(ctx context.Context, req types.CompareRequest, progress generate.ProgressFunc) ([]types.CompareResult, error) {
	if len(req.ModelPaths) < 2 {
		return nil, generate.ErrValidation("at least 2 models are required for a comparison")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, generate.ErrValidation("prompt must not be empty")
	}
	for _, p := range req.ModelPaths {
		if err := supervisor.ValidateModelFile(p); err != nil {
			return nil, err
		}
	}

	release, err := e.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	originalModel := e.sup.ModelPath()
	st := e.sup.State()
	wasRunning := st == supervisor.StateStarting || st == supervisor.StateHealthy || st == supervisor.StateDegraded
	defer func() {
		if wasRunning && originalModel != "" {
			if err := e.sup.Restart(originalModel); err != nil {
				e.log.Warn().Err(err).Str("model", originalModel).Msg("failed to restore original model after comparison")
			}
		} else {
			_ = e.sup.Stop()
		}
	}()

	promptTokens := generate.EstimateTokens(req.Prompt)
	total := len(req.ModelPaths)
	results := make([]types.CompareResult, 0, total)
	for i, path := range req.ModelPaths {
		if ctx.Err() != nil {
			break
		}
		if err := e.sup.Restart(path); err != nil {
			return results, err
		}
		if err := e.waitHealthy(ctx); err != nil {
			return results, err
		}

		task := generate.NewTask(clientAdapter{c: e.client}, e.policy, false, e.log)
		res := task.Run(ctx, req.Prompt)
		if res.Outcome == types.OutcomeCancelled {
			break
		}
		results = append(results, types.CompareResult{
			ModelName:        modelStem(path),
			ModelPath:        path,
			GenerationResult: res,
			PromptTokensEst:  promptTokens,
		})
		if progress != nil {
			progress(i+1, total)
		}
		if res.Outcome == types.OutcomeFailed {
			break
		}
	}
	return results, nil
}

// waitHealthy blocks until the supervisor reports Healthy, the server
// crashes, or the configured start timeout elapses.
func (e *Engine) waitHealthy(ctx context.Context) error {
	deadline := time.Now().Add(time.Duration(e.cfg.Server.StartTimeoutSeconds) * time.Second)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		switch e.sup.State() {
		case supervisor.StateHealthy:
			return nil
		case supervisor.StateCrashed:
			snap := e.sup.Snapshot()
			return fmt.Errorf("server crashed while loading %s: %s", snap.ModelName, snap.LastError)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become healthy within %ds", e.cfg.Server.StartTimeoutSeconds)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func modelStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
