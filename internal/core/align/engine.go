// Package align 计算对齐动作（方向与脉冲数）并维护发射冷却。
// 纯计算，不做 I/O，不持有定时器；时间由调用方注入。
package align

import (
	"math"
	"time"

	"odds-autotrader/internal/core/model"
)

// Config 对齐参数
type Config struct {
	// TolerancePct 对齐容差（百分比），偏差不超过该值视为已对齐
	TolerancePct float64
	// PulseStepPct 每个脉冲对应的偏差步长（百分比）
	PulseStepPct float64
	// MaxPulses 单次脉冲串上限
	MaxPulses int
}

// DefaultConfig 默认对齐参数
func DefaultConfig() Config {
	return Config{
		TolerancePct: model.DefaultTolerancePct,
		PulseStepPct: model.DefaultPulseStepPct,
		MaxPulses:    model.DefaultMaxPulses,
	}
}

// Engine 对齐引擎
type Engine struct {
	cfg Config
	now func() time.Time
	// lastFireAt 上次脉冲发射时间，零值表示尚未发射
	lastFireAt time.Time
}

// NewEngine 创建对齐引擎
// 参数 cfg: 对齐参数
// 参数 now: 时钟，为 nil 时使用 time.Now
func NewEngine(cfg Config, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	if cfg.MaxPulses < 1 {
		cfg.MaxPulses = model.DefaultMaxPulses
	}
	return &Engine{cfg: cfg, now: now}
}

// KeyFor 返回 (side, direction) 对应的按键
func KeyFor(side int, dir model.Direction) model.Key {
	if side == 0 {
		if dir == model.DirectionRaise {
			return model.KeyRaiseSide0
		}
		return model.KeyLowerSide0
	}
	if dir == model.DirectionRaise {
		return model.KeyRaiseSide1
	}
	return model.KeyLowerSide1
}

// minSide 较小 mid 的一侧，相等时取 0 侧
func minSide(mid [2]float64) int {
	if mid[0] <= mid[1] {
		return 0
	}
	return 1
}

func diffPct(mid, target [2]float64, side int) float64 {
	return math.Abs(target[side]-mid[side]) / mid[side] * 100
}

// ComputeAction 计算对齐动作
// 参数 mid: 参考价（两侧严格为正）
// 参数 target: 目标价
// 返回: 偏差不超过容差时 Type=none 且 Aligned=true，否则返回脉冲动作
func (e *Engine) ComputeAction(mid, target [2]float64) model.AlignAction {
	side := minSide(mid)
	d := diffPct(mid, target, side)

	if d <= e.cfg.TolerancePct {
		return model.AlignAction{Type: model.ActionNone, Aligned: true, Side: side, DiffPct: d}
	}

	dir := model.DirectionLower
	if target[side] < mid[side] {
		dir = model.DirectionRaise
	}

	pulses := 1
	if e.cfg.PulseStepPct > 0 {
		pulses = int(math.Floor(d / e.cfg.PulseStepPct))
	}
	if pulses < 1 {
		pulses = 1
	}
	if pulses > e.cfg.MaxPulses {
		pulses = e.cfg.MaxPulses
	}

	return model.AlignAction{
		Type:      model.ActionPulse,
		Key:       KeyFor(side, dir),
		Pulses:    pulses,
		Side:      side,
		Direction: dir,
		DiffPct:   d,
	}
}

// CheckAlignment 只判断是否已对齐，不产生动作
func (e *Engine) CheckAlignment(mid, target [2]float64) model.AlignCheck {
	side := minSide(mid)
	d := diffPct(mid, target, side)
	return model.AlignCheck{Aligned: d <= e.cfg.TolerancePct, DiffPct: d, Side: side}
}

// RecordFire 记录一次发射（仅脉冲动作）
func (e *Engine) RecordFire(a model.AlignAction) {
	if a.Type != model.ActionPulse {
		return
	}
	e.lastFireAt = e.now()
}

// IsOnCooldown 距上次发射是否未满冷却时间
// 非脉冲动作永远不在冷却中。
func (e *Engine) IsOnCooldown(a model.AlignAction, cooldown time.Duration) bool {
	if a.Type != model.ActionPulse || e.lastFireAt.IsZero() {
		return false
	}
	return e.now().Sub(e.lastFireAt) < cooldown
}

// ResetCooldown 清除发射记录
func (e *Engine) ResetCooldown() {
	e.lastFireAt = time.Time{}
}

// LastFireAt 上次发射时间，从未发射时为零值
func (e *Engine) LastFireAt() time.Time {
	return e.lastFireAt
}

// SetConfig 更新参数；非正值保持不变
func (e *Engine) SetConfig(cfg Config) {
	if cfg.TolerancePct > 0 {
		e.cfg.TolerancePct = cfg.TolerancePct
	}
	if cfg.PulseStepPct > 0 {
		e.cfg.PulseStepPct = cfg.PulseStepPct
	}
	if cfg.MaxPulses > 0 {
		e.cfg.MaxPulses = cfg.MaxPulses
	}
}

// Config 返回当前参数
func (e *Engine) Config() Config {
	return e.cfg
}
