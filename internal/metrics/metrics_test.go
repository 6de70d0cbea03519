package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Step(t *testing.T) {
	c := NewCollector()

	c.ObserveStep("provision", "firstboot", "degraded")
	c.ObserveStep("provision", "firstboot", "degraded")
	c.ObserveStep("provision", "attach", "succeeded")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.stepOutcomes.WithLabelValues("provision", "firstboot", "degraded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stepOutcomes.WithLabelValues("provision", "attach", "succeeded")))
}

func TestCollector_Login(t *testing.T) {
	c := NewCollector()

	c.ObserveLogin("storage", nil)
	c.ObserveLogin("storage", errors.New("denied"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.logins.WithLabelValues("storage", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.logins.WithLabelValues("storage", "error")))
}

func TestCollector_Register(t *testing.T) {
	c := NewCollector()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	c.ObserveWorkflow("deprovision", "ok", 1500*time.Millisecond)
	c.ObserveStep("deprovision", "detach", "succeeded")

	n, err := testutil.GatherAndCount(reg, "brain_workflow_duration_seconds", "brain_workflow_step_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
