// Package guard 实现自动交易的前置条件评估（守卫）。
// 按固定优先级评估：进程状态 > 备用源连接 > 源选择一致性 > 目标冻结 > 参考价缺失 > 套利突增。
package guard

import (
	"odds-autotrader/internal/core/model"
)

// 源选择编号范围
const (
	minScriptMap = 1
	maxScriptMap = 5
	// BoardMapAny 面板选择为 0 表示"任意"，不参与一致性检查
	BoardMapAny = 0
	maxBoardMap = 5
)

// System 守卫评估器
// 所有方法只应在事件循环 goroutine 上调用。
type System struct {
	status   model.ProcessStatus
	settings model.GuardSettings

	scriptMap    int
	hasScriptMap bool
	boardMap     int
	hasBoardMap  bool

	dsConnected bool
}

// New 创建守卫评估器
// 参数 settings: 初始阈值与开关
func New(settings model.GuardSettings) *System {
	return &System{settings: settings}
}

func hard(reason model.Reason) model.GuardResult {
	return model.GuardResult{Reason: reason, IsHardBlock: true}
}

func soft(reason model.Reason) model.GuardResult {
	return model.GuardResult{Reason: reason, IsSoftSuspend: true}
}

// CheckGuards 评估当前是否允许交易
// 参数 snap: 报价快照
// 参数 mode: 当前交易模式
// 返回: 第一条命中的规则；都未命中时 CanTrade=true
func (g *System) CheckGuards(snap model.Snapshot, mode model.Mode) model.GuardResult {
	// 1. 目标进程状态（仅 excel 模式）
	if mode == model.ModeExcel {
		switch {
		case !g.status.Known():
			return hard(model.ReasonExcelUnknown)
		case g.status.Installing:
			return hard(model.ReasonExcelInstalling)
		case g.status.Starting:
			return hard(model.ReasonExcelStarting)
		case !g.status.IsRunning():
			return hard(model.ReasonExcelOff)
		}
	}

	// 2. 备用源连接（仅 ds 模式）
	if mode == model.ModeDS && !g.dsConnected {
		return hard(model.ReasonDsNotConnected)
	}

	// 3. 源选择一致性（仅 excel 模式）
	if mode == model.ModeExcel && g.hasScriptMap && g.hasBoardMap && g.boardMap != BoardMapAny {
		if g.scriptMap != g.boardMap {
			return hard(model.ReasonMapMismatch)
		}
	}

	// 4. 目标源冻结：视为用户挂起
	if t := snap.Target(mode); t != nil && t.Frozen {
		r := soft(model.ReasonExcelSuspended)
		r.IsUserSuspend = true
		return r
	}

	// 5. 无参考价：既阻止 enable，也可自动恢复
	if g.settings.StopOnNoMid && !snap.Derived.HasMid {
		r := soft(model.ReasonNoMid)
		r.IsHardBlock = true
		return r
	}

	// 6. 套利突增
	if snap.Derived.HasArb && snap.Derived.ArbProfitPct >= g.settings.ShockThresholdPct {
		r := soft(model.ReasonArbSpike)
		r.Details = map[string]float64{"arbProfitPct": snap.Derived.ArbProfitPct}
		return r
	}

	return model.GuardResult{CanTrade: true}
}

// CanResume 判断挂起原因是否已解除
// 只有目标冻结、无参考价、套利突增三类原因会自动恢复。
func (g *System) CanResume(snap model.Snapshot, mode model.Mode, reason model.Reason) bool {
	switch reason {
	case model.ReasonExcelSuspended:
		t := snap.Target(mode)
		return t == nil || !t.Frozen
	case model.ReasonNoMid:
		return g.settings.ResumeOnMid && snap.Derived.HasMid
	case model.ReasonArbSpike:
		return !snap.Derived.HasArb || snap.Derived.ArbProfitPct < g.settings.AlignmentThresholdPct
	default:
		return false
	}
}

// SetProcessStatus 合并目标进程状态
// Running 为 nil 时保留之前的值。
func (g *System) SetProcessStatus(s model.ProcessStatus) {
	if s.Running != nil {
		running := *s.Running
		g.status.Running = &running
	}
	g.status.Starting = s.Starting
	g.status.Installing = s.Installing
	g.status.Error = s.Error
}

// ProcessStatus 返回目标进程状态副本
func (g *System) ProcessStatus() model.ProcessStatus {
	out := g.status
	if g.status.Running != nil {
		running := *g.status.Running
		out.Running = &running
	}
	return out
}

// SetScriptMap 设置脚本侧选择 [1,5]，范围外视为未知
func (g *System) SetScriptMap(m int) {
	g.scriptMap = m
	g.hasScriptMap = m >= minScriptMap && m <= maxScriptMap
}

// SetBoardMap 设置面板侧选择 [0,5]，0 表示任意，范围外视为未知
func (g *System) SetBoardMap(m int) {
	g.boardMap = m
	g.hasBoardMap = m >= BoardMapAny && m <= maxBoardMap
}

// SetDsConnected 设置备用源连接状态
func (g *System) SetDsConnected(connected bool) {
	g.dsConnected = connected
}

// DsConnected 备用源是否已连接
func (g *System) DsConnected() bool {
	return g.dsConnected
}

// SetSettings 合并设置
func (g *System) SetSettings(u model.GuardSettingsUpdate) {
	if u.StopOnNoMid != nil {
		g.settings.StopOnNoMid = *u.StopOnNoMid
	}
	if u.ResumeOnMid != nil {
		g.settings.ResumeOnMid = *u.ResumeOnMid
	}
	if u.ShockThresholdPct != nil {
		g.settings.ShockThresholdPct = *u.ShockThresholdPct
	}
	if u.SuspendThresholdPct != nil {
		g.settings.SuspendThresholdPct = *u.SuspendThresholdPct
	}
	if u.AlignmentThresholdPct != nil {
		g.settings.AlignmentThresholdPct = *u.AlignmentThresholdPct
	}
	if u.TolerancePct != nil {
		g.settings.TolerancePct = *u.TolerancePct
	}
}

// Settings 返回当前设置
func (g *System) Settings() model.GuardSettings {
	return g.settings
}
