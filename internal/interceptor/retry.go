package interceptor

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/stageflow/stageflow/internal/events"
	"github.com/stageflow/stageflow/internal/runctx"
	"github.com/stageflow/stageflow/internal/stage"
)

// Backoff selects the delay growth curve between retry attempts.
type Backoff string

const (
	BackoffExponential Backoff = "exponential"
	BackoffLinear      Backoff = "linear"
	BackoffConstant    Backoff = "constant"
)

// Jitter selects how the computed delay is randomized.
type Jitter string

const (
	JitterNone         Jitter = "none"
	JitterFull         Jitter = "full"
	JitterEqual        Jitter = "equal"
	JitterDecorrelated Jitter = "decorrelated"
)

// RetryConfig controls the retry interceptor.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Backoff     Backoff
	Jitter      Jitter
	// RetryableErr classifies runner errors as retryable. Nil means runner
	// errors are never retried; only RETRY and FAIL outputs marked
	// retryable are.
	RetryableErr func(error) bool
}

// Normalize fills unset fields with defaults.
func (c RetryConfig) Normalize() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Backoff == "" {
		c.Backoff = BackoffExponential
	}
	if c.Jitter == "" {
		c.Jitter = JitterNone
	}
	return c
}

// RetryInterceptor reattempts stages that return retryable RETRY or FAIL
// outputs or raise retryable errors, with configurable backoff and jitter.
type RetryInterceptor struct {
	config RetryConfig

	mu   sync.Mutex
	rand *rand.Rand
	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryInterceptor creates the interceptor with the given config.
func NewRetryInterceptor(config RetryConfig) *RetryInterceptor {
	return &RetryInterceptor{
		config: config.Normalize(),
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  sleepCtx,
	}
}

// Priority places retry outermost among the default interceptors so cached
// idempotent hits skip the whole retry loop.
func (r *RetryInterceptor) Priority() int { return 10 }

// Around runs the stage up to MaxAttempts times.
func (r *RetryInterceptor) Around(ctx context.Context, sc *runctx.StageContext, next Next) (*stage.Output, error) {
	var lastOut *stage.Output
	var lastErr error
	prevDelay := r.config.BaseDelay

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		sc.Attempt = attempt
		out, err := next()
		lastOut, lastErr = out, err

		if !r.shouldRetry(out, err) {
			return out, err
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.Delay(attempt, prevDelay)
		prevDelay = delay
		sc.Emit(ctx, events.StageRetryScheduled, map[string]interface{}{
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
		})
		if err := r.sleep(ctx, delay); err != nil {
			return stage.Fail(err.Error(), false), nil
		}
	}

	sc.Emit(ctx, events.StageRetryExhausted, map[string]interface{}{
		"attempts": r.config.MaxAttempts,
	})
	if lastOut != nil {
		return lastOut, lastErr
	}
	if lastErr != nil {
		return stage.Fail(lastErr.Error(), false), nil
	}
	return stage.Fail("retry attempts exhausted", false), nil
}

func (r *RetryInterceptor) shouldRetry(out *stage.Output, err error) bool {
	if err != nil {
		return r.config.RetryableErr != nil && r.config.RetryableErr(err)
	}
	if out == nil {
		return false
	}
	switch out.Status {
	case stage.StatusRetry:
		return out.Retryable
	case stage.StatusFail:
		return out.Retryable
	default:
		return false
	}
}

// Delay computes the post-jitter delay for the given attempt number.
// Backoff: exponential = min(max, base*2^(attempt-1)); linear =
// min(max, base*attempt); constant = base. Jitter: full = uniform(0, d);
// equal = d/2 + uniform(0, d/2); decorrelated = uniform(base,
// min(max, prev*3)).
func (r *RetryInterceptor) Delay(attempt int, prev time.Duration) time.Duration {
	base := r.config.BaseDelay
	max := r.config.MaxDelay

	var delay time.Duration
	switch r.config.Backoff {
	case BackoffLinear:
		delay = base * time.Duration(attempt)
	case BackoffConstant:
		delay = base
	default:
		delay = base << uint(attempt-1)
	}
	if delay > max {
		delay = max
	}

	switch r.config.Jitter {
	case JitterFull:
		delay = r.uniform(0, delay)
	case JitterEqual:
		delay = delay/2 + r.uniform(0, delay/2)
	case JitterDecorrelated:
		upper := prev * 3
		if upper > max {
			upper = max
		}
		if upper < base {
			upper = base
		}
		delay = r.uniform(base, upper)
	}
	return delay
}

func (r *RetryInterceptor) uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo + time.Duration(r.rand.Int63n(int64(hi-lo)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
