package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	steps     []string
	workflows []string
}

func (o *recordingObserver) ObserveStep(workflow, step, outcome string) {
	o.steps = append(o.steps, step+"="+outcome)
}

func (o *recordingObserver) ObserveWorkflow(workflow, result string, _ time.Duration) {
	o.workflows = append(o.workflows, workflow+"="+result)
}

func step(name string, policy Policy, calls *[]string, err error) Step {
	return Step{
		Name:   name,
		Policy: policy,
		Run: func(context.Context) error {
			*calls = append(*calls, name)
			return err
		},
	}
}

func TestRunner_AllSucceed(t *testing.T) {
	var calls []string
	obs := &recordingObserver{}
	r := &Runner{Workflow: "provision", Observer: obs}

	err := r.Run(context.Background(), []Step{
		step("clone", Critical, &calls, nil),
		step("attach", Critical, &calls, nil),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"clone", "attach"}, calls)
	assert.Equal(t, []string{"clone=succeeded", "attach=succeeded"}, obs.steps)
	assert.Equal(t, []string{"provision=ok"}, obs.workflows)
}

func TestRunner_CriticalFailureStops(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	obs := &recordingObserver{}
	r := &Runner{Workflow: "provision", Observer: obs}

	err := r.Run(context.Background(), []Step{
		step("clone", Critical, &calls, nil),
		step("attach", Critical, &calls, boom),
		step("record", Critical, &calls, nil),
	})

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "attach", stepErr.Step)
	assert.Equal(t, "provision", stepErr.Workflow)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"clone", "attach"}, calls)
	assert.Equal(t, []string{"provision=failed"}, obs.workflows)
}

func TestRunner_BestEffortFailureContinues(t *testing.T) {
	var calls []string
	status := StatusOK

	s := step("firstboot", BestEffort, &calls, errors.New("agent down"))
	s.OnFailure = MarkDegraded(&status)

	r := &Runner{Workflow: "provision"}
	err := r.Run(context.Background(), []Step{
		s,
		step("record", Critical, &calls, nil),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, status)
	assert.Equal(t, []string{"firstboot", "record"}, calls)
}

func TestRunner_SkippedStepLeavesStatusOK(t *testing.T) {
	var calls []string
	status := StatusOK
	rebuild := true

	s := step("firstboot", BestEffort, &calls, errors.New("never runs"))
	s.OnFailure = MarkDegraded(&status)
	s.Predicates = []Predicate{Not(func() bool { return rebuild })}

	obs := &recordingObserver{}
	r := &Runner{Workflow: "provision", Observer: obs}
	require.NoError(t, r.Run(context.Background(), []Step{s}))

	assert.Empty(t, calls)
	assert.Equal(t, StatusOK, status)
	assert.Equal(t, []string{"firstboot=skipped"}, obs.steps)
}

func TestPolicy_String(t *testing.T) {
	assert.Equal(t, "critical", Critical.String())
	assert.Equal(t, "best-effort", BestEffort.String())
}
