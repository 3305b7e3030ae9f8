package model

// AutoConfig 协调器运行参数
type AutoConfig struct {
	// TolerancePct 对齐容差（百分比），范围 [1,10]
	TolerancePct float64 `json:"tolerancePct" yaml:"tolerance_pct"`
	// IntervalMs 稳态评估间隔（毫秒）
	IntervalMs int `json:"intervalMs" yaml:"interval_ms"`
	// PulseStepPct 每个脉冲对应的偏差步长（百分比），范围 [8,15]
	PulseStepPct float64 `json:"pulseStepPct" yaml:"pulse_step_pct"`
	// PulseGapMs 脉冲之间的间隔（毫秒）
	PulseGapMs int `json:"pulseGapMs" yaml:"pulse_gap_ms"`
	// MaxPulses 单次脉冲串上限
	MaxPulses int `json:"maxPulses" yaml:"max_pulses"`
	// FireCooldownMs 两次发射之间的最小间隔（毫秒）
	FireCooldownMs int `json:"fireCooldownMs" yaml:"fire_cooldown_ms"`
	// ConfirmDelayMs 最后一个脉冲之后发送提交键的延迟（毫秒）
	ConfirmDelayMs int `json:"confirmDelayMs" yaml:"confirm_delay_ms"`
	// SuspendRetryDelayMs 挂起/恢复信号补发延迟（毫秒）
	SuspendRetryDelayMs int `json:"suspendRetryDelayMs" yaml:"suspend_retry_delay_ms"`
}

// DefaultAutoConfig 默认运行参数
func DefaultAutoConfig() AutoConfig {
	return AutoConfig{
		TolerancePct:        DefaultTolerancePct,
		IntervalMs:          DefaultIntervalMs,
		PulseStepPct:        DefaultPulseStepPct,
		PulseGapMs:          DefaultPulseGapMs,
		MaxPulses:           DefaultMaxPulses,
		FireCooldownMs:      DefaultFireCooldownMs,
		ConfirmDelayMs:      DefaultConfirmDelayMs,
		SuspendRetryDelayMs: DefaultSuspendRetryDelayMs,
	}
}

// ConfigUpdate 运行参数的部分更新，nil 字段保持不变
type ConfigUpdate struct {
	TolerancePct        *float64 `json:"tolerancePct,omitempty"`
	IntervalMs          *int     `json:"intervalMs,omitempty"`
	PulseStepPct        *float64 `json:"pulseStepPct,omitempty"`
	PulseGapMs          *int     `json:"pulseGapMs,omitempty"`
	MaxPulses           *int     `json:"maxPulses,omitempty"`
	FireCooldownMs      *int     `json:"fireCooldownMs,omitempty"`
	ConfirmDelayMs      *int     `json:"confirmDelayMs,omitempty"`
	SuspendRetryDelayMs *int     `json:"suspendRetryDelayMs,omitempty"`
}

// IsEmpty 是否没有任何字段
func (u ConfigUpdate) IsEmpty() bool {
	return u.TolerancePct == nil && u.IntervalMs == nil && u.PulseStepPct == nil && u.PulseGapMs == nil &&
		u.MaxPulses == nil && u.FireCooldownMs == nil && u.ConfirmDelayMs == nil && u.SuspendRetryDelayMs == nil
}

// GuardSettings 守卫阈值与开关
type GuardSettings struct {
	// StopOnNoMid 无参考价时阻断
	StopOnNoMid bool `json:"stopOnNoMid"`
	// ResumeOnMid 参考价恢复后自动恢复
	ResumeOnMid bool `json:"resumeOnMid"`
	// ShockThresholdPct 套利百分比达到该值时软挂起
	ShockThresholdPct float64 `json:"shockThresholdPct"`
	// SuspendThresholdPct 偏差挂起阈值（百分比）
	SuspendThresholdPct float64 `json:"suspendThresholdPct"`
	// AlignmentThresholdPct 套利百分比低于该值时允许从 arb-spike 恢复
	AlignmentThresholdPct float64 `json:"alignmentThresholdPct"`
	// TolerancePct 与协调器同步的对齐容差
	TolerancePct float64 `json:"tolerancePct"`
}

// DefaultGuardSettings 默认守卫设置
func DefaultGuardSettings() GuardSettings {
	return GuardSettings{
		StopOnNoMid:           true,
		ResumeOnMid:           true,
		ShockThresholdPct:     DefaultShockThresholdPct,
		SuspendThresholdPct:   DefaultSuspendThresholdPct,
		AlignmentThresholdPct: DefaultAlignmentThresholdPct,
		TolerancePct:          DefaultTolerancePct,
	}
}

// GuardSettingsUpdate 守卫设置的部分更新
type GuardSettingsUpdate struct {
	StopOnNoMid           *bool    `json:"stopOnNoMid,omitempty"`
	ResumeOnMid           *bool    `json:"resumeOnMid,omitempty"`
	ShockThresholdPct     *float64 `json:"shockThresholdPct,omitempty"`
	SuspendThresholdPct   *float64 `json:"suspendThresholdPct,omitempty"`
	AlignmentThresholdPct *float64 `json:"alignmentThresholdPct,omitempty"`
	TolerancePct          *float64 `json:"tolerancePct,omitempty"`
}

// ProcessStatus 目标进程存活状态
type ProcessStatus struct {
	// Running 是否运行；nil 表示尚未收到状态
	Running *bool `json:"running"`
	// Starting 启动中
	Starting bool `json:"starting"`
	// Installing 安装依赖中
	Installing bool `json:"installing"`
	// Error 最近一次错误信息
	Error string `json:"error,omitempty"`
}

// IsRunning 进程已确认运行
func (s ProcessStatus) IsRunning() bool {
	return s.Running != nil && *s.Running
}

// Known 是否已收到过状态
func (s ProcessStatus) Known() bool {
	return s.Running != nil
}

// EngineState 协调器状态（对外总是返回副本）
type EngineState struct {
	// Active 引擎是否在运行
	Active bool `json:"active"`
	// Phase 当前阶段
	Phase Phase `json:"phase"`
	// Mode 当前目标源模式
	Mode Mode `json:"mode"`
	// Reason 最近的停止/挂起原因
	Reason Reason `json:"reason"`
	// UserWanted 用户意图为开启
	UserWanted bool `json:"userWanted"`
	// UserSuspended 因用户操作挂起
	UserSuspended bool `json:"userSuspended"`
	// Status 人类可读状态文本
	Status string `json:"status"`
	// Config 当前运行参数
	Config AutoConfig `json:"config"`
}

// Waiting 用户希望运行但当前被可恢复原因暂停
func (s EngineState) Waiting() bool {
	if s.Active || !s.UserWanted {
		return false
	}
	switch s.Reason {
	case ReasonNoMid, ReasonArbSpike, ReasonDiffSuspend, ReasonExcelSuspended, ReasonAligning:
		return true
	}
	return false
}
