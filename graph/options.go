package graph

import (
	"errors"
	"time"
)

// Options configures Engine execution behavior.
//
// Zero values are valid; New fills in defaults.
type Options struct {
	// MaxSteps bounds the number of nodes a single Run or Resume call may
	// execute. Loops in the workflow (verify and retry, human replan) are
	// legal, so the limit is the backstop against a missing exit.
	// Default: 100. Negative values are rejected.
	MaxSteps int

	// DefaultNodeTimeout bounds each node's context. Nodes see the deadline
	// through ctx and record the failure in state like any other I/O error.
	// Default: 0 (no per-node timeout).
	DefaultNodeTimeout time.Duration

	// RunWallClockBudget bounds a whole Run or Resume call.
	// Default: 0 (no budget).
	RunWallClockBudget time.Duration
}

// DefaultMaxSteps is the MaxSteps value used when none is configured.
const DefaultMaxSteps = 100

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine, err := graph.New(
//	    reducer, st, emitter,
//	    graph.WithMaxSteps(50),
//	    graph.WithDefaultNodeTimeout(30*time.Second),
//	    graph.WithMetrics(metrics),
//	)
type Option func(*engineConfig) error

type engineConfig struct {
	opts    Options
	metrics *PrometheusMetrics
}

// WithMaxSteps limits the number of steps per call.
//
// When MaxSteps is exceeded, Run and Resume return an EngineError with code
// "MAX_STEPS_EXCEEDED" wrapping ErrMaxStepsExceeded.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return errors.New("max steps must be >= 0")
		}
		cfg.opts.MaxSteps = n
		return nil
	}
}

// WithDefaultNodeTimeout sets the per-node context timeout.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return errors.New("node timeout must be >= 0")
		}
		cfg.opts.DefaultNodeTimeout = d
		return nil
	}
}

// WithRunWallClockBudget sets the maximum total execution time of a call.
// If exceeded, the call persists what it has and returns
// context.DeadlineExceeded.
func WithRunWallClockBudget(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return errors.New("wall clock budget must be >= 0")
		}
		cfg.opts.RunWallClockBudget = d
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = metrics
		return nil
	}
}
