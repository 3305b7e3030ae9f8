package model

// GuardResult 守卫评估结果
type GuardResult struct {
	// CanTrade 是否允许交易
	CanTrade bool `json:"canTrade"`
	// Reason 最高优先级的失败原因
	Reason Reason `json:"reason"`
	// IsHardBlock 引擎控制之外的前置条件不满足，阻止 enable
	IsHardBlock bool `json:"isHardBlock"`
	// IsSoftSuspend 可自动恢复的挂起
	IsSoftSuspend bool `json:"isSoftSuspend"`
	// IsUserSuspend 视为用户挂起（需要人工操作或下一次 enable 清除）
	IsUserSuspend bool `json:"isUserSuspend"`
	// Details 附加信息
	Details map[string]float64 `json:"details,omitempty"`
}

// ActionType 对齐动作类型
type ActionType string

const (
	// ActionNone 无需修正
	ActionNone ActionType = "none"
	// ActionPulse 发送脉冲串
	ActionPulse ActionType = "pulse"
)

// AlignAction 对齐决策
type AlignAction struct {
	// Type 动作类型
	Type ActionType `json:"type"`
	// Aligned 是否已在容差内（仅 none 时有意义）
	Aligned bool `json:"aligned"`
	// Key 脉冲使用的按键
	Key Key `json:"key,omitempty"`
	// Pulses 脉冲数 [1, maxPulses]
	Pulses int `json:"pulses,omitempty"`
	// Side 修正的一侧（mid 较小的一侧）
	Side int `json:"side"`
	// Direction 修正方向
	Direction Direction `json:"direction,omitempty"`
	// DiffPct 偏差百分比
	DiffPct float64 `json:"diffPct"`
}

// AlignCheck 对齐检查结果（不产生命令）
type AlignCheck struct {
	Aligned bool    `json:"aligned"`
	DiffPct float64 `json:"diffPct"`
	Side    int     `json:"side"`
}

// Command 发往输入注入代理的唯一消息类型
type Command struct {
	// Key 按键：四个方向键之一、提交键或信号键
	Key Key `json:"key"`
	// Side 修正侧（信号命令不带）
	Side *int `json:"side,omitempty"`
	// Direction 方向；信号命令中携带原因文本
	Direction string `json:"direction,omitempty"`
	// DiffPct 偏差百分比
	DiffPct float64 `json:"diffPct,omitempty"`
	// NoConfirm 固定为 true，提交由单独的 F22 完成
	NoConfirm bool `json:"noConfirm"`
	// Retry 是否为补发
	Retry bool `json:"retry,omitempty"`
}

// IsSignal 是否为带外信号
func (c Command) IsSignal() bool {
	return c.Key == KeySignal
}

// SignalCommand 构造携带原因的带外信号
func SignalCommand(reason string, retry bool) Command {
	return Command{Key: KeySignal, Direction: reason, NoConfirm: true, Retry: retry}
}

// AlignCauseKind 对齐起因
type AlignCauseKind string

const (
	// CauseManual 用户开启后等待守卫通过
	CauseManual AlignCauseKind = "manual"
	// CauseGuardRecovery 软挂起条件解除后自动恢复
	CauseGuardRecovery AlignCauseKind = "guard-recovery"
	// CauseNoReferenceRecovery 参考价恢复后自动恢复
	CauseNoReferenceRecovery AlignCauseKind = "no-reference-recovery"
)

// AlignCause 对齐起因及是否抑制恢复信号
// 组合空间：manual/false、guard-recovery/false、guard-recovery/true、no-reference-recovery/false。
type AlignCause struct {
	Cause          AlignCauseKind `json:"cause"`
	SuppressSignal bool           `json:"suppressSignal"`
}

// ManualAlignment 用户开启触发的对齐
func ManualAlignment() AlignCause {
	return AlignCause{Cause: CauseManual}
}

// GuardRecovery 守卫恢复触发的对齐
// 参数 afterUserSuspend: 之前为用户挂起时不再发送恢复信号
func GuardRecovery(afterUserSuspend bool) AlignCause {
	return AlignCause{Cause: CauseGuardRecovery, SuppressSignal: afterUserSuspend}
}

// NoReferenceRecovery 参考价恢复触发的对齐
func NoReferenceRecovery() AlignCause {
	return AlignCause{Cause: CauseNoReferenceRecovery}
}

// WatchesReference 对齐依赖刚恢复的参考价，参考价再次缺失时应回到 no-mid 挂起
func (c AlignCause) WatchesReference() bool {
	return c.Cause == CauseNoReferenceRecovery
}
