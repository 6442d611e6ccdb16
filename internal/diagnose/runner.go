package diagnose

import (
	"context"
	"log/slog"
)

// Result is the outcome of one preflight check.
type Result struct {
	// Name is the check's name.
	Name string

	// OK reports whether the check passed.
	OK bool

	// Detail is a human-readable explanation: what was found, or how to
	// fix what is broken.
	Detail string
}

// Check defines the interface that all preflight checks implement.
//
// Design decision: We use an interface rather than function types because:
// 1. It allows checks to carry configuration state
// 2. It provides a Name() method for logging and debugging
// 3. It's more extensible for future features (e.g., severity, dependencies)
type Check interface {
	// Do executes the check. A failed precondition is reported in the
	// Result, not as an error; the error return is for the check itself
	// being unable to run.
	Do(ctx context.Context) (Result, error)

	// Name returns the check's name for logging purposes.
	Name() string
}

// Runner orchestrates the execution of multiple checks.
// It maintains a list of checks and executes them in order.
type Runner struct {
	// checks contains the ordered list of checks to execute.
	checks []Check

	// logger is used for structured logging during execution.
	logger *slog.Logger

	// continueOnError determines whether to keep running checks after
	// one reports a failure. If false, the runner stops on first failure.
	continueOnError bool
}

// Option is a function that configures a Runner.
// This follows the functional options pattern for clean API design.
type Option func(*Runner)

// WithLogger sets a custom logger for the runner.
// If not set, a default logger is created.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithContinueOnError configures the runner to keep executing checks even
// when one fails.
//
// Design decision: The doctor command wants the full picture, so it runs
// with this enabled. The default is to stop on failure because early
// failures often indicate fundamental problems (e.g., no tor binary).
func WithContinueOnError(continueOnError bool) Option {
	return func(r *Runner) {
		r.continueOnError = continueOnError
	}
}

// New creates a new Runner with the given options.
// Checks should be added using AddCheck after creation.
func New(opts ...Option) *Runner {
	r := &Runner{
		checks: make([]Check, 0),
	}

	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	return r
}

// AddCheck appends a check to the runner.
// Checks are executed in the order they are added.
func (r *Runner) AddCheck(check Check) {
	r.checks = append(r.checks, check)
}

// AddChecks appends multiple checks to the runner.
func (r *Runner) AddChecks(checks ...Check) {
	r.checks = append(r.checks, checks...)
}

// Execute runs all checks in sequence and returns their results.
// It respects context cancellation between checks.
func (r *Runner) Execute(ctx context.Context) ([]Result, error) {
	results := make([]Result, 0, len(r.checks))

	for _, check := range r.checks {
		select {
		case <-ctx.Done():
			r.logger.Warn("diagnosis cancelled", "check", check.Name(), "reason", ctx.Err())
			return results, ctx.Err()
		default:
		}

		r.logger.Debug("running check", "check", check.Name())

		result, err := check.Do(ctx)
		if err != nil {
			r.logger.Error("check could not run", "check", check.Name(), "error", err)
			return results, err
		}
		results = append(results, result)

		if !result.OK {
			r.logger.Warn("check failed", "check", check.Name(), "detail", result.Detail)
			if !r.continueOnError {
				return results, nil
			}
		}
	}

	return results, nil
}

// CheckCount returns the number of checks in the runner.
func (r *Runner) CheckCount() int {
	return len(r.checks)
}
