package model

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy bounds how long and how often a structured call is attempted.
//
// Collaborators own their timeout policy; the step loop imposes none. Wrap a
// provider with WithPolicy so a hung endpoint turns into an ordinary error
// the calling node records in state.
type Policy struct {
	// Timeout bounds each attempt. Zero means no per-attempt timeout.
	Timeout time.Duration

	// MaxAttempts is the number of attempts including the first one.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// BaseDelay is the base of the exponential backoff between attempts.
	BaseDelay time.Duration

	// MaxDelay caps the exponential component. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultPolicy is a reasonable policy for hosted LLM endpoints.
var DefaultPolicy = Policy{
	Timeout:     60 * time.Second,
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    8 * time.Second,
}

// Validate checks the policy for impossible combinations.
func (p Policy) Validate() error {
	if p.Timeout < 0 || p.BaseDelay < 0 || p.MaxDelay < 0 {
		return errors.New("policy durations must be >= 0")
	}
	if p.MaxDelay > 0 && p.BaseDelay > 0 && p.MaxDelay < p.BaseDelay {
		return errors.New("policy max delay must be >= base delay")
	}
	return nil
}

type policyModel struct {
	next   StructuredModel
	policy Policy
	sleep  func(ctx context.Context, d time.Duration) error
}

// WithPolicy wraps m with per-attempt timeouts and retries.
//
// Type mismatches are returned immediately: asking again with the same prompt
// is the caller's decision, not a transport concern. Cancellation of the
// parent context also stops retrying.
func WithPolicy(m StructuredModel, p Policy) StructuredModel {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return &policyModel{next: m, policy: p, sleep: sleepCtx}
}

// Generate implements StructuredModel.
func (m *policyModel) Generate(ctx context.Context, prompt string, shape TypeDescriptor) (map[string]interface{}, error) {
	var lastErr error
	for attempt := 0; attempt < m.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := computeBackoff(attempt-1, m.policy.BaseDelay, m.policy.MaxDelay)
			if err := m.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		payload, err := m.attempt(ctx, prompt, shape)
		if err == nil {
			return payload, nil
		}
		lastErr = err

		if errors.Is(err, ErrTypeMismatch) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (m *policyModel) attempt(ctx context.Context, prompt string, shape TypeDescriptor) (map[string]interface{}, error) {
	if m.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.policy.Timeout)
		defer cancel()
	}
	return m.next.Generate(ctx, prompt, shape)
}

// computeBackoff returns min(base*2^attempt, maxDelay) plus jitter in [0, base).
//
// Example delays with base=1s, maxDelay=30s:
//   - attempt 0: 1-2s
//   - attempt 1: 2-3s
//   - attempt 3: 8-9s
//   - attempt 10: 30-31s (capped)
func computeBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}

	delay := base * (1 << attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	jitter := time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	return delay + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
