package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Step is one transition. Run receives the context produced by the previous
// step and returns a new one; the runner records the state change.
type Step struct {
	Name     State
	Requires []Key
	Run      func(ctx context.Context, wc Context) (Context, error)
}

// StepError is the terminal failure of a run.
type StepError struct {
	Step State
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Result describes a finished run. State is the last state reached on
// success or StateFailed with FailedStep set.
type Result struct {
	State      State
	FailedStep State
	Context    Context
	Completed  []State
	Err        error
	Elapsed    time.Duration
}

// Success reports whether every step completed.
func (r *Result) Success() bool {
	return r.State != StateFailed
}

// Runner executes steps strictly in order and halts at the first failure.
type Runner struct {
	Steps    []Step
	Reporter Reporter
}

// Run executes the steps starting from initial. The returned error, if any,
// is a *StepError and is also stored in the result.
func (r *Runner) Run(ctx context.Context, initial Context) (*Result, error) {
	rep := r.Reporter
	if rep == nil {
		rep = NopReporter{}
	}

	start := time.Now()
	res := &Result{State: initial.State(), Context: initial}
	wc := initial

	for i, step := range r.Steps {
		rep.StepStarted(step.Name, i+1, len(r.Steps))

		next, err := r.runStep(ctx, step, wc)
		if err != nil {
			stepErr := &StepError{Step: step.Name, Err: err}
			rep.StepFailed(step.Name, err)
			res.State = StateFailed
			res.FailedStep = step.Name
			res.Err = stepErr
			res.Elapsed = time.Since(start)
			return res, stepErr
		}

		wc = next.withState(step.Name)
		res.Completed = append(res.Completed, step.Name)
		res.State = step.Name
		res.Context = wc
		rep.StepSucceeded(step.Name, wc)
	}

	res.Elapsed = time.Since(start)
	return res, nil
}

func (r *Runner) runStep(ctx context.Context, step Step, wc Context) (Context, error) {
	var missing []string
	for _, k := range step.Requires {
		if !wc.Has(k) {
			missing = append(missing, string(k))
		}
	}
	if len(missing) > 0 {
		return wc, fmt.Errorf("%w: %s", ErrMissingPrecondition, strings.Join(missing, ", "))
	}
	if err := ctx.Err(); err != nil {
		return wc, err
	}
	return step.Run(ctx, wc)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
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
