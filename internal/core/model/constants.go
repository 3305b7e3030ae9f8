// Package model 定义自动交易协调器使用的共享词汇与核心数据结构。
// 包含原因码、协调器阶段、交易模式、命令按键与默认参数。
package model

import (
	"fmt"
	"strings"
)

// Reason 原因码（挂起/阻断/停止的原因）
// 空字符串表示无原因（null）。
type Reason string

const (
	// ReasonNone 无原因
	ReasonNone Reason = ""
	// ReasonManual 用户手动停止
	ReasonManual Reason = "manual"
	// ReasonExcelUnknown 目标进程状态未知（启动阶段尚未收到状态）
	ReasonExcelUnknown Reason = "excel-unknown"
	// ReasonExcelOff 目标进程未运行
	ReasonExcelOff Reason = "excel-off"
	// ReasonExcelStarting 目标进程启动中
	ReasonExcelStarting Reason = "excel-starting"
	// ReasonExcelInstalling 目标进程安装依赖中
	ReasonExcelInstalling Reason = "excel-installing"
	// ReasonExcelSuspended 目标源冻结（视为用户挂起）
	ReasonExcelSuspended Reason = "excel-suspended"
	// ReasonExcelNoChange 目标源多次脉冲后无变化
	ReasonExcelNoChange Reason = "excel-no-change"
	// ReasonNoMid 无可用参考价（mid）
	ReasonNoMid Reason = "no-mid"
	// ReasonArbSpike 套利百分比突增
	ReasonArbSpike Reason = "arb-spike"
	// ReasonShock 目标价格跳变
	ReasonShock Reason = "shock"
	// ReasonDiffSuspend 偏差过大挂起
	ReasonDiffSuspend Reason = "diff-suspend"
	// ReasonMapMismatch 两个独立选择器的源选择不一致
	ReasonMapMismatch Reason = "map-mismatch"
	// ReasonDsNotConnected 备用源未连接
	ReasonDsNotConnected Reason = "ds-not-connected"
	// ReasonAligning 对齐进行中
	ReasonAligning Reason = "aligning"
	// ReasonAlignFailed 对齐失败（有界重试耗尽）
	ReasonAlignFailed Reason = "align-failed"
	// ReasonExcelResumed 目标源已恢复
	ReasonExcelResumed Reason = "excel-resumed"
	// ReasonMarketResumed 市场条件已恢复
	ReasonMarketResumed Reason = "market-resumed"
	// ReasonDiffResumed 偏差已恢复
	ReasonDiffResumed Reason = "diff-resumed"
)

var reasonLabels = map[Reason]string{
	ReasonManual:          "",
	ReasonExcelUnknown:    "WAIT",
	ReasonExcelOff:        "SCRIPT",
	ReasonExcelStarting:   "START",
	ReasonExcelInstalling: "DEPS",
	ReasonExcelSuspended:  "SUSP",
	ReasonExcelNoChange:   "STUCK",
	ReasonNoMid:           "MID",
	ReasonArbSpike:        "ARB",
	ReasonShock:           "SHOCK",
	ReasonDiffSuspend:     "DIFF",
	ReasonMapMismatch:     "MAP",
	ReasonDsNotConnected:  "DS",
	ReasonAligning:        "ALIGN",
	ReasonAlignFailed:     "FAIL",
}

// ReasonLabel 返回界面徽标使用的短标签
// 手动停止与无原因返回空字符串；未登记的原因去掉 "excel-" 前缀后取前 6 个字符的大写。
func ReasonLabel(r Reason) string {
	if r == ReasonNone || r == ReasonManual {
		return ""
	}
	if label, ok := reasonLabels[r]; ok {
		return label
	}
	s := strings.ToUpper(strings.TrimPrefix(string(r), "excel-"))
	if len(s) > 6 {
		s = s[:6]
	}
	return s
}

// Phase 协调器阶段
type Phase string

const (
	// PhaseIdle 空闲/等待
	PhaseIdle Phase = "idle"
	// PhaseAligning 对齐中（有界收敛子循环）
	PhaseAligning Phase = "aligning"
	// PhaseTrading 稳态交易
	PhaseTrading Phase = "trading"
)

// Mode 交易模式（目标源选择）
type Mode string

const (
	// ModeExcel 表格驱动的目标价
	ModeExcel Mode = "excel"
	// ModeDS 备用报价源作为目标价
	ModeDS Mode = "ds"
)

// ParseMode 解析模式字符串
// 返回: 模式，若无效则返回错误
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeExcel:
		return ModeExcel, nil
	case ModeDS:
		return ModeDS, nil
	default:
		return "", fmt.Errorf("无效的交易模式 '%s'，有效值: excel, ds", s)
	}
}

// Valid 判断模式是否有效
func (m Mode) Valid() bool {
	return m == ModeExcel || m == ModeDS
}

// Key 命令按键
type Key string

const (
	// KeyRaiseSide0 抬高 0 侧
	KeyRaiseSide0 Key = "F24"
	// KeyLowerSide0 压低 0 侧
	KeyLowerSide0 Key = "F23"
	// KeyRaiseSide1 抬高 1 侧
	KeyRaiseSide1 Key = "F23"
	// KeyLowerSide1 压低 1 侧
	KeyLowerSide1 Key = "F24"
	// KeyConfirm 提交（一次脉冲串之后发送）
	KeyConfirm Key = "F22"
	// KeySignal 带外信号，仅用于通知外部监听者原因
	KeySignal Key = "F21"
)

// Direction 修正方向
type Direction string

const (
	// DirectionRaise 目标低于参考价，需要抬高
	DirectionRaise Direction = "raise"
	// DirectionLower 目标高于参考价，需要压低
	DirectionLower Direction = "lower"
)

// 默认参数
const (
	DefaultTolerancePct          = 1.5
	DefaultIntervalMs            = 200
	DefaultPulseStepPct          = 10.0
	DefaultPulseGapMs            = 500
	DefaultMaxPulses             = 3
	DefaultSuspendThresholdPct   = 40.0
	DefaultShockThresholdPct     = 80.0
	DefaultAlignmentThresholdPct = 15.0
	DefaultFireCooldownMs        = 900
	DefaultConfirmDelayMs        = 100
	DefaultSuspendRetryDelayMs   = 800

	// AlignmentCheckIntervalMs 对齐检查基础间隔
	AlignmentCheckIntervalMs = 300
	// AlignmentMaxAttempts 对齐最大尝试次数
	AlignmentMaxAttempts = 30
	// AlignmentCooldownMarginMs 对齐检查间隔在冷却时间之上的余量
	AlignmentCooldownMarginMs = 100

	// ResumeCooldownMs 恢复后阻止非用户挂起的窗口，同时也是挂起后阻止自动恢复的窗口
	ResumeCooldownMs = 3000
	// ResumeGraceMs 发送恢复信号后容忍目标仍冻结的宽限期
	ResumeGraceMs = 2000

	// TargetUpdateTimeoutMs 等待目标值变化的超时
	TargetUpdateTimeoutMs = 3000
	// TargetUpdatePollMs 等待目标值变化时的轮询间隔
	TargetUpdatePollMs = 100

	// OddsThrottleMs 报价更新评估节流窗口
	OddsThrottleMs = 200
)

// 配置范围
const (
	MinTolerancePct       = 1.0
	MaxTolerancePct       = 10.0
	MinPulseStepPct       = 8.0
	MaxPulseStepPct       = 15.0
	MinIntervalMs         = 120
	MaxIntervalMs         = 10000
	MinSuspendRetryDelay  = 100
	MaxSuspendRetryDelay  = 2000
	MaxConfiguredPulses   = 10
	ResumeSignalDirection = "market:resume"
)
