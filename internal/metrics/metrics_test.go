package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odds-autotrader/internal/core/model"
)

func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.OnCommand(model.Command{Key: model.KeyConfirm}, nil)
	c.OnCommand(model.Command{Key: model.KeyConfirm}, errors.New("queue full"))
	c.OnSuspend(model.ReasonArbSpike, false)
	c.OnAlignment(model.GuardRecovery(true), true, 3)
	c.OnAlignment(model.ManualAlignment(), false, 30)
	c.OnTargetPropagation(model.ModeExcel, 400*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.commands.WithLabelValues("F22", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commands.WithLabelValues("F22", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.suspends.WithLabelValues("arb-spike", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.alignments.WithLabelValues("guard-recovery", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.alignments.WithLabelValues("manual", "failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.propagation))
}

func TestCollector_StateGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.OnStateChange(model.EngineState{Active: true, Phase: model.PhaseTrading})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.active))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.phase.WithLabelValues("trading")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.phase.WithLabelValues("idle")))

	c.OnStateChange(model.EngineState{Phase: model.PhaseIdle})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.active))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.phase.WithLabelValues("trading")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.phase.WithLabelValues("idle")))
}

func TestCollector_Links(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	up := true
	c.RegisterLink("feed", func() bool { return up })
	c.RegisterLink("agent", func() bool { return false })

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "autotrader_link_connected" {
			continue
		}
		for _, m := range mf.GetMetric() {
			values[m.GetLabel()[0].GetValue()] = m.GetGauge().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{"feed": 1, "agent": 0}, values)
}
