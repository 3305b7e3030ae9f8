// Package metrics 导出协调器的 Prometheus 指标。
//
//	autotrader_commands_total{key,result}     已发送命令（result: ok|error）
//	autotrader_suspends_total{reason,user}    挂起次数
//	autotrader_alignments_total{cause,result} 对齐结果（result: ok|failed）
//	autotrader_alignment_attempts             对齐尝试次数分布
//	autotrader_active                         引擎是否运行（0/1）
//	autotrader_phase{phase}                   当前阶段（各阶段 0/1）
//	autotrader_target_propagation_seconds{mode} 脉冲后目标值变化耗时
//	autotrader_link_connected{link}           外部连接状态（feed|agent）
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"odds-autotrader/internal/core/auto"
	"odds-autotrader/internal/core/model"
)

var phases = []model.Phase{model.PhaseIdle, model.PhaseAligning, model.PhaseTrading}

// Collector 协调器观察者，把事件转换为指标
type Collector struct {
	auto.NopObserver

	commands    *prometheus.CounterVec
	suspends    *prometheus.CounterVec
	alignments  *prometheus.CounterVec
	attempts    prometheus.Histogram
	active      prometheus.Gauge
	phase       *prometheus.GaugeVec
	propagation *prometheus.HistogramVec

	reg prometheus.Registerer
}

// NewCollector 创建并注册指标
// 参数 reg: 注册表，nil 时使用默认注册表
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		reg: reg,
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_commands_total",
			Help: "Commands handed to the input agent",
		}, []string{"key", "result"}),
		suspends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_suspends_total",
			Help: "Engine suspends by reason",
		}, []string{"reason", "user"}),
		alignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_alignments_total",
			Help: "Finished alignment cycles by cause and result",
		}, []string{"cause", "result"}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "autotrader_alignment_attempts",
			Help:    "Checks needed per alignment cycle",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 30},
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autotrader_active",
			Help: "Engine active flag",
		}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "autotrader_phase",
			Help: "Current engine phase as labeled 0/1 series",
		}, []string{"phase"}),
		propagation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autotrader_target_propagation_seconds",
			Help:    "Delay between a pulse burst and the target price change",
			Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 1.5, 2, 3},
		}, []string{"mode"}),
	}
	reg.MustRegister(c.commands, c.suspends, c.alignments, c.attempts, c.active, c.phase, c.propagation)
	for _, p := range phases {
		c.phase.WithLabelValues(string(p)).Set(0)
	}
	return c
}

// RegisterLink 导出外部连接状态
func (c *Collector) RegisterLink(link string, connected func() bool) {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "autotrader_link_connected",
		Help:        "External link connection state",
		ConstLabels: prometheus.Labels{"link": link},
	}, func() float64 {
		if connected() {
			return 1
		}
		return 0
	})
	c.reg.MustRegister(g)
}

func (c *Collector) OnCommand(cmd model.Command, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.commands.WithLabelValues(string(cmd.Key), result).Inc()
}

func (c *Collector) OnStateChange(st model.EngineState) {
	if st.Active {
		c.active.Set(1)
	} else {
		c.active.Set(0)
	}
	for _, p := range phases {
		v := 0.0
		if p == st.Phase {
			v = 1
		}
		c.phase.WithLabelValues(string(p)).Set(v)
	}
}

func (c *Collector) OnSuspend(reason model.Reason, userInitiated bool) {
	c.suspends.WithLabelValues(string(reason), strconv.FormatBool(userInitiated)).Inc()
}

func (c *Collector) OnAlignment(cause model.AlignCause, ok bool, attempts int) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.alignments.WithLabelValues(string(cause.Cause), result).Inc()
	c.attempts.Observe(float64(attempts))
}

func (c *Collector) OnTargetPropagation(mode model.Mode, d time.Duration) {
	c.propagation.WithLabelValues(string(mode)).Observe(d.Seconds())
}
