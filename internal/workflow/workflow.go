// Package workflow runs ordered lists of steps that mutate several external
// systems. Critical steps abort the run on failure; best-effort steps record
// a degraded status and let the run continue.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
)

// Policy decides what a step failure means for the rest of the run.
type Policy int

const (
	// Critical failures stop the run.
	Critical Policy = iota
	// BestEffort failures are logged and reported through a status flag.
	BestEffort
)

func (p Policy) String() string {
	if p == BestEffort {
		return "best-effort"
	}
	return "critical"
}

// Step outcomes reported to the Observer.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeDegraded  = "degraded"
	OutcomeSkipped   = "skipped"
)

// Status is the externally reported result of a best-effort step.
type Status int

const (
	// StatusOK means the step succeeded or did not need to run.
	StatusOK Status = 0
	// StatusDegraded means the step ran and failed.
	StatusDegraded Status = 1
)

// Predicate gates a step; every predicate must hold for the step to run.
type Predicate func() bool

// Step is one unit of a workflow.
type Step struct {
	Name       string
	Policy     Policy
	Predicates []Predicate
	Run        func(ctx context.Context) error
	// OnFailure is called with the error of a failed best-effort step.
	OnFailure func(err error)
}

// Observer receives step and workflow outcomes.
type Observer interface {
	ObserveStep(workflow, step, outcome string)
	ObserveWorkflow(workflow, result string, elapsed time.Duration)
}

// StepError identifies the critical step that aborted a workflow.
type StepError struct {
	Workflow string
	Step     string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: step %s failed: %v", e.Workflow, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Runner executes steps in order.
type Runner struct {
	Workflow string
	Log      *logrus.Entry
	Observer Observer
	Clock    clock.Clock
}

// Run executes steps sequentially. It returns a *StepError for the first
// critical step that fails; steps after it are not attempted.
func (r *Runner) Run(ctx context.Context, steps []Step) error {
	clk := r.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	log := r.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("workflow", r.Workflow)

	start := clk.Now()
	result := "ok"
	defer func() {
		if r.Observer != nil {
			r.Observer.ObserveWorkflow(r.Workflow, result, clk.Now().Sub(start))
		}
	}()

	for _, step := range steps {
		stepLog := log.WithField("step", step.Name)

		if !shouldRun(step) {
			stepLog.Debug("step skipped")
			r.observe(step.Name, OutcomeSkipped)
			continue
		}

		stepLog.WithField("policy", step.Policy).Debug("step started")
		err := step.Run(ctx)
		if err == nil {
			r.observe(step.Name, OutcomeSucceeded)
			continue
		}

		if step.Policy == BestEffort {
			stepLog.WithError(err).Warn("best-effort step failed, continuing")
			r.observe(step.Name, OutcomeDegraded)
			if step.OnFailure != nil {
				step.OnFailure(err)
			}
			continue
		}

		stepLog.WithError(err).Error("critical step failed, aborting")
		r.observe(step.Name, OutcomeFailed)
		result = "failed"
		return &StepError{Workflow: r.Workflow, Step: step.Name, Err: err}
	}
	return nil
}

func (r *Runner) observe(step, outcome string) {
	if r.Observer != nil {
		r.Observer.ObserveStep(r.Workflow, step, outcome)
	}
}

func shouldRun(step Step) bool {
	for _, p := range step.Predicates {
		if !p() {
			return false
		}
	}
	return true
}

// Not negates a predicate.
func Not(p Predicate) Predicate {
	return func() bool { return !p() }
}

// MarkDegraded returns an OnFailure callback that sets status to degraded.
func MarkDegraded(status *Status) func(error) {
	return func(error) { *status = StatusDegraded }
}
