// Package latency 统计脉冲到目标值变化的传播耗时。
// 每个交易模式维护独立的滚动窗口，输出 P50/P90/P99。
package latency

import (
	"sort"
	"sync"
	"time"

	"odds-autotrader/internal/core/auto"
	"odds-autotrader/internal/core/model"
)

// Stats 传播耗时快照（滚动窗口，单位毫秒）
type Stats struct {
	// Mode 交易模式
	Mode model.Mode `json:"mode"`
	// Count 累计样本数
	Count int64 `json:"count"`
	// Window 当前窗口内样本数
	Window int `json:"window"`

	P50Ms float64 `json:"p50Ms"`
	P90Ms float64 `json:"p90Ms"`
	P99Ms float64 `json:"p99Ms"`
	MaxMs float64 `json:"maxMs"`
}

type rollingWindow struct {
	size  int
	buf   []int64
	pos   int
	count int64
	full  bool
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{size: size, buf: make([]int64, 0, size)}
}

func (w *rollingWindow) add(v int64) {
	w.count++
	if w.size <= 0 {
		return
	}
	if !w.full {
		w.buf = append(w.buf, v)
		if len(w.buf) == w.size {
			w.full = true
			w.pos = 0
		}
		return
	}
	w.buf[w.pos] = v
	w.pos++
	if w.pos >= w.size {
		w.pos = 0
	}
}

// quantiles 最近秩分位数：idx = floor((n-1)*q)
func (w *rollingWindow) quantiles(qs ...float64) []int64 {
	values := make([]int64, len(qs))
	if len(w.buf) == 0 {
		return values
	}
	tmp := make([]int64, len(w.buf))
	copy(tmp, w.buf)
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })

	n := len(tmp)
	for i, q := range qs {
		switch {
		case q <= 0:
			values[i] = tmp[0]
		case q >= 1:
			values[i] = tmp[n-1]
		default:
			values[i] = tmp[int(float64(n-1)*q)]
		}
	}
	return values
}

// Tracker 传播耗时追踪器，作为协调器观察者接收样本
type Tracker struct {
	auto.NopObserver

	mu      sync.Mutex
	size    int
	windows map[model.Mode]*rollingWindow
}

// NewTracker 创建追踪器
// 参数 windowSize: 每个模式的滚动窗口大小
func NewTracker(windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &Tracker{
		size: windowSize,
		windows: map[model.Mode]*rollingWindow{
			model.ModeExcel: newRollingWindow(windowSize),
			model.ModeDS:    newRollingWindow(windowSize),
		},
	}
}

// OnTargetPropagation 记录一个样本；负值忽略
func (t *Tracker) OnTargetPropagation(mode model.Mode, d time.Duration) {
	if d < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.windows[mode]
	if !ok {
		w = newRollingWindow(t.size)
		t.windows[mode] = w
	}
	w.add(int64(d))
}

// Stats 指定模式的统计快照
func (t *Tracker) Stats(mode model.Mode) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[mode]
	if !ok {
		return Stats{Mode: mode}
	}
	qs := w.quantiles(0.50, 0.90, 0.99, 1)
	return Stats{
		Mode:   mode,
		Count:  w.count,
		Window: len(w.buf),
		P50Ms:  nsToMs(qs[0]),
		P90Ms:  nsToMs(qs[1]),
		P99Ms:  nsToMs(qs[2]),
		MaxMs:  nsToMs(qs[3]),
	}
}

// All 所有模式的统计（excel 在前）
func (t *Tracker) All() []Stats {
	return []Stats{t.Stats(model.ModeExcel), t.Stats(model.ModeDS)}
}

func nsToMs(ns int64) float64 {
	return float64(ns) / 1_000_000.0
}
