package engine

import (
	"context"
	"time"

	"github.com/stageflow/stageflow/internal/events"
	"github.com/stageflow/stageflow/internal/runctx"
	"github.com/stageflow/stageflow/internal/stage"
)

// runGuard drives a guard-retry stage: the runner is reattempted until it
// produces an OK output, stagnates for the policy's window, exhausts the
// attempt budget, or exceeds the wall-clock timeout. Every attempt's output
// is hashed; hash equality with the previous attempt is the stagnation
// signal. Intermediate attempts overwrite the bag entry until the guard
// finalizes.
func (s *Scheduler) runGuard(ctx context.Context, st *runState, spec StageSpec, sc *runctx.StageContext) (*stage.Output, error) {
	policy := spec.GuardRetry.Normalize()
	start := time.Now()

	var prevHash string
	var lastOut *stage.Output
	stagnation := 0
	wasStagnant := false

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		sc.Attempt = attempt

		if policy.Timeout > 0 && time.Since(start) > policy.Timeout {
			return stage.Fail("guard timeout", false), nil
		}

		out, err := spec.Runner.Execute(ctx, sc)
		if err != nil {
			out = stage.Fail(err.Error(), false)
		}
		if out == nil {
			out = stage.Fail("stage returned no output", false)
		}
		lastOut = out

		hash := stage.PayloadHash(out.Data)
		stagnant := attempt > 1 && hash == prevHash
		prevHash = hash
		if stagnant {
			stagnation++
		} else {
			stagnation = 0
		}

		sc.Emit(ctx, events.GuardRetryAttempt, map[string]interface{}{
			"attempt":      attempt,
			"payload_hash": hash,
			"stagnant":     stagnant,
			"status":       string(out.Status),
		})

		// Intermediate attempts may overwrite until the guard finalizes.
		if recErr := st.pc.Outputs.Record(spec.Name, attempt, out, true); recErr != nil {
			s.opts.Logger.Error(ctx, "guard attempt record conflict", "stage", spec.Name, "error", recErr)
		}

		if out.Status == stage.StatusOK {
			if wasStagnant && !stagnant {
				sc.Emit(ctx, events.GuardRetryRecovered, map[string]interface{}{
					"attempt": attempt,
				})
			}
			return out, nil
		}
		if stagnant {
			wasStagnant = true
		}

		if stagnation >= policy.StagnationWindow {
			sc.Emit(ctx, events.GuardRetryExhausted, map[string]interface{}{
				"attempt": attempt,
				"reason":  "stagnation",
			})
			return out, nil
		}
		if attempt == policy.MaxAttempts {
			break
		}

		if policy.Timeout > 0 && time.Since(start) > policy.Timeout {
			return stage.Fail("guard timeout", false), nil
		}

		sc.Emit(ctx, events.GuardRetryScheduled, map[string]interface{}{
			"next_attempt": attempt + 1,
		})

		select {
		case <-ctx.Done():
			return stage.Fail(ctx.Err().Error(), false), nil
		default:
		}
	}

	sc.Emit(ctx, events.GuardRetryExhausted, map[string]interface{}{
		"attempt": policy.MaxAttempts,
		"reason":  "max_attempts",
	})
	return lastOut, nil
}
