// Package auto 实现自动交易协调器状态机。
// 阶段：idle → aligning → trading；负责守卫评估、对齐收敛、脉冲发送与挂起/恢复。
// 协调器的所有方法只能在事件循环上调用（参见 sched.Loop）。
package auto

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"odds-autotrader/internal/core/align"
	"odds-autotrader/internal/core/model"
	"odds-autotrader/internal/core/sched"
)

// Source 报价来源
type Source interface {
	Snapshot() model.Snapshot
	Mid() ([2]float64, bool)
	ExcelOdds() ([2]float64, bool)
	DsOdds() ([2]float64, bool)
	Subscribe(fn func(model.Snapshot)) func()
}

// Guards 守卫评估
type Guards interface {
	CheckGuards(snap model.Snapshot, mode model.Mode) model.GuardResult
	CanResume(snap model.Snapshot, mode model.Mode, reason model.Reason) bool
	SetSettings(u model.GuardSettingsUpdate)
}

// Sink 命令通道（发送即返回，不等待结果）
type Sink interface {
	Send(cmd model.Command) error
}

// Options 协调器依赖
type Options struct {
	Logger    *zap.Logger
	Scheduler sched.Scheduler
	Source    Source
	Guards    Guards
	Sink      Sink
	// Broadcast 引擎 active 标志变化时调用（跨进程 active-set）
	Broadcast func(on bool)
	// SignalSender 为 false 时只镜像状态，不评估也不发送命令
	SignalSender bool
	Observer     Observer
	Config       model.AutoConfig
}

type guardOutcome int

const (
	guardOK guardOutcome = iota
	// guardGrace 刚发送恢复信号，目标仍冻结，暂不处理
	guardGrace
	// guardSuspended 已挂起
	guardSuspended
	// guardHeld 守卫未通过但挂起被冷却窗口拦截
	guardHeld
)

// Coordinator 自动交易协调器（每进程一个）
type Coordinator struct {
	logger    *zap.Logger
	clock     sched.Scheduler
	source    Source
	guards    Guards
	sink      Sink
	broadcast func(on bool)
	observer  Observer
	sender    bool

	engine *align.Engine
	state  model.EngineState

	lastSuspendAt    time.Time
	lastResumeAt     time.Time
	lastResumeSentAt time.Time

	cause         model.AlignCause
	alignAttempts int

	stepTimer  sched.Timer
	alignTimer sched.Timer
	retryTimer sched.Timer
	bursts     map[uint64]sched.Timer
	burstSeq   uint64

	stepping  bool
	stepAgain bool

	// 脉冲后等待目标值变化
	waiting      bool
	targetBefore [2]float64
	waitStart    time.Time

	throttle sched.Timer
	trailing bool

	subs      []subscriber
	subSeq    int
	notifying bool
	renotify  bool

	unsubscribe func()
}

type subscriber struct {
	id int
	fn func(model.EngineState)
}

// New 创建协调器
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	cfg := normalizeConfig(opts.Config)

	c := &Coordinator{
		logger:    logger.Named("auto"),
		clock:     opts.Scheduler,
		source:    opts.Source,
		guards:    opts.Guards,
		sink:      opts.Sink,
		broadcast: opts.Broadcast,
		observer:  observer,
		sender:    opts.SignalSender,
		bursts:    make(map[uint64]sched.Timer),
		state: model.EngineState{
			Phase:  model.PhaseIdle,
			Mode:   model.ModeExcel,
			Config: cfg,
		},
	}
	c.engine = align.NewEngine(align.Config{
		TolerancePct: cfg.TolerancePct,
		PulseStepPct: cfg.PulseStepPct,
		MaxPulses:    cfg.MaxPulses,
	}, c.clock.Now)
	c.guards.SetSettings(model.GuardSettingsUpdate{TolerancePct: &cfg.TolerancePct})
	return c
}

// Start 订阅报价更新（仅信号发送方）
func (c *Coordinator) Start() {
	if !c.sender || c.unsubscribe != nil {
		return
	}
	first := true
	c.unsubscribe = c.source.Subscribe(func(model.Snapshot) {
		// 订阅时的首次回调不算更新
		if first {
			first = false
			return
		}
		c.onOddsUpdate()
	})
	c.logger.Info("协调器已启动", zap.String("mode", string(c.state.Mode)))
}

// Close 取消订阅并停止所有定时任务
func (c *Coordinator) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.cancelAll()
	sched.Stop(c.throttle)
	c.throttle = nil
}

// State 返回状态副本
func (c *Coordinator) State() model.EngineState {
	return c.state
}

// Config 返回当前运行参数
func (c *Coordinator) Config() model.AutoConfig {
	return c.state.Config
}

// Mode 返回当前模式
func (c *Coordinator) Mode() model.Mode {
	return c.state.Mode
}

// Subscribe 订阅状态变化，注册时立即回调一次
// 返回: 取消订阅函数
func (c *Coordinator) Subscribe(fn func(model.EngineState)) func() {
	c.subSeq++
	id := c.subSeq
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	c.call(fn, c.State())
	return func() {
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// Enable 用户开启
// 返回: 被硬阻断时返回 false
func (c *Coordinator) Enable() bool {
	if c.state.Active {
		return true
	}

	snap := c.source.Snapshot()
	g := c.guards.CheckGuards(snap, c.state.Mode)
	if g.IsHardBlock {
		c.state.Reason = g.Reason
		c.setStatus("Blocked: " + string(g.Reason))
		c.logger.Info("开启被阻断", zap.String("reason", string(g.Reason)))
		c.notify()
		return false
	}

	c.state.UserSuspended = false
	c.lastResumeAt = c.clock.Now()
	c.state.Active = true
	c.state.UserWanted = true
	c.state.Reason = model.ReasonNone
	c.cause = model.AlignCause{}
	c.engine.ResetCooldown()
	c.clearWait()

	if g.CanTrade {
		c.state.Phase = model.PhaseTrading
		c.setStatus("Trading")
	} else {
		c.state.Phase = model.PhaseIdle
		c.setStatus("Waiting: " + string(g.Reason))
	}
	c.logger.Info("自动交易开启", zap.String("phase", string(c.state.Phase)), zap.String("mode", string(c.state.Mode)))

	c.notify()
	c.emitActive(true)

	if g.CanTrade {
		c.step()
	}
	return true
}

// Disable 用户停止
func (c *Coordinator) Disable() {
	c.shutdown(model.ReasonManual)
}

// Stop 强制停止（例如目标进程退出）
// 参数 reason: 记录的停止原因
func (c *Coordinator) Stop(reason model.Reason) {
	c.shutdown(reason)
}

func (c *Coordinator) shutdown(reason model.Reason) {
	if !c.state.Active && !c.state.UserWanted && !c.state.UserSuspended {
		return
	}
	c.cancelAll()

	c.state.Active = false
	c.state.UserWanted = false
	c.state.Phase = model.PhaseIdle
	c.state.Reason = reason
	c.state.UserSuspended = false
	c.cause = model.AlignCause{}
	c.setStatus("Stopped")
	c.logger.Info("自动交易停止", zap.String("reason", string(reason)))

	c.notify()
	c.emitActive(false)
}

// Toggle 切换开关；等待恢复中的引擎视为开启，切换为停止
func (c *Coordinator) Toggle() {
	if c.state.Active || c.state.UserWanted || c.state.UserSuspended {
		c.Disable()
		return
	}
	c.Enable()
}

// Suspend 挂起引擎
// 参数 canResume: 非用户挂起时为 false 会同时清除用户意图
// 参数 userInitiated: 用户挂起不受恢复冷却窗口限制，也不发送信号
// 返回: 是否生效
func (c *Coordinator) Suspend(reason model.Reason, canResume, userInitiated bool) bool {
	if !c.state.Active && c.state.Reason == reason {
		return false
	}
	if c.state.Active && !userInitiated && c.since(c.lastResumeAt) < ms(model.ResumeCooldownMs) {
		c.logger.Debug("恢复冷却期内忽略挂起", zap.String("reason", string(reason)))
		return false
	}

	if !c.state.Active {
		c.state.Reason = reason
		if userInitiated {
			c.state.UserSuspended = true
		}
		c.notify()
		return true
	}

	sched.Stop(c.stepTimer)
	sched.Stop(c.alignTimer)
	c.stepTimer, c.alignTimer = nil, nil
	c.stopBursts()
	c.clearWait()

	c.state.Active = false
	c.state.Phase = model.PhaseIdle
	c.state.Reason = reason
	c.cause = model.AlignCause{}
	c.setStatus("Suspended: " + string(reason))

	if userInitiated {
		c.state.UserSuspended = true
	} else {
		if !canResume {
			c.state.UserWanted = false
		}
		c.sendSignal(string(reason), false)
		c.scheduleSignalRetry(true, string(reason))
	}
	c.lastSuspendAt = c.clock.Now()

	c.logger.Info("自动交易挂起",
		zap.String("reason", string(reason)),
		zap.Bool("can_resume", canResume),
		zap.Bool("user", userInitiated),
	)
	c.observer.OnSuspend(reason, userInitiated)
	c.emitActive(false)
	c.notify()
	return true
}

// SetMode 切换目标源模式，会先停止引擎
func (c *Coordinator) SetMode(mode model.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("无效的交易模式 '%s'", mode)
	}
	if c.state.Mode == mode {
		return nil
	}
	c.Disable()
	c.state.Mode = mode
	c.logger.Info("切换交易模式", zap.String("mode", string(mode)))
	c.notify()
	return nil
}

// SetConfig 合并运行参数（带范围限制），立即生效
// 返回: 更新后的参数
func (c *Coordinator) SetConfig(u model.ConfigUpdate) model.AutoConfig {
	cfg := c.state.Config
	if v, ok := finite(u.TolerancePct); ok {
		cfg.TolerancePct = clampF(v, model.MinTolerancePct, model.MaxTolerancePct)
	}
	if u.IntervalMs != nil {
		cfg.IntervalMs = clampI(*u.IntervalMs, model.MinIntervalMs, model.MaxIntervalMs)
	}
	if v, ok := finite(u.PulseStepPct); ok {
		cfg.PulseStepPct = clampF(v, model.MinPulseStepPct, model.MaxPulseStepPct)
	}
	if u.PulseGapMs != nil && *u.PulseGapMs >= 0 {
		cfg.PulseGapMs = *u.PulseGapMs
	}
	if u.MaxPulses != nil {
		cfg.MaxPulses = clampI(*u.MaxPulses, 1, model.MaxConfiguredPulses)
	}
	if u.FireCooldownMs != nil && *u.FireCooldownMs >= 0 {
		cfg.FireCooldownMs = *u.FireCooldownMs
	}
	if u.ConfirmDelayMs != nil && *u.ConfirmDelayMs >= 0 {
		cfg.ConfirmDelayMs = *u.ConfirmDelayMs
	}
	if u.SuspendRetryDelayMs != nil {
		cfg.SuspendRetryDelayMs = clampI(*u.SuspendRetryDelayMs, model.MinSuspendRetryDelay, model.MaxSuspendRetryDelay)
	}

	c.state.Config = cfg
	c.engine.SetConfig(align.Config{
		TolerancePct: cfg.TolerancePct,
		PulseStepPct: cfg.PulseStepPct,
		MaxPulses:    cfg.MaxPulses,
	})
	c.guards.SetSettings(model.GuardSettingsUpdate{TolerancePct: &cfg.TolerancePct})
	c.notify()
	return cfg
}

// HandleStateSet 外部主控强制开关
// manual=true 走完整的 Enable/Disable；否则关闭按用户挂起处理。
func (c *Coordinator) HandleStateSet(active, manual bool) {
	if manual {
		if active {
			c.Enable()
		} else {
			c.Disable()
		}
		return
	}
	c.HandleActiveSet(active)
}

// HandleActiveSet 其他界面或进程广播的 active 状态
func (c *Coordinator) HandleActiveSet(on bool) {
	if on && !c.state.Active {
		c.Enable()
	} else if !on && c.state.Active {
		c.Suspend(model.ReasonManual, false, true)
	}
}

// step 一次评估
// 评估进行中再次触发时合并为一次延后评估。
func (c *Coordinator) step() {
	if !c.state.Active || !c.sender {
		return
	}
	if c.stepping {
		c.stepAgain = true
		return
	}
	c.stepping = true
	defer func() {
		c.stepping = false
		if c.stepAgain {
			c.stepAgain = false
			if c.state.Active {
				c.scheduleStep(0)
			}
		}
	}()

	aligning := c.state.Phase == model.PhaseAligning
	next := func(d time.Duration) {
		if !aligning {
			c.scheduleStep(d)
		}
	}

	snap := c.source.Snapshot()
	switch c.runGuards(snap, true) {
	case guardSuspended:
		return
	case guardGrace, guardHeld:
		next(c.interval())
		return
	}

	if c.state.Phase == model.PhaseIdle {
		c.startAlignment(model.ManualAlignment())
		return
	}

	mid, okMid := c.source.Mid()
	target, okTarget := c.targetOdds()
	if !okMid || !okTarget {
		c.setStatus("No data")
		next(c.interval())
		return
	}

	action := c.engine.ComputeAction(mid, target)
	if action.Type == model.ActionNone {
		if action.Aligned {
			c.setStatus("Aligned")
		}
		next(c.interval())
		return
	}

	if !c.targetUpdated(target) {
		c.setStatus("Waiting target...")
		next(ms(model.TargetUpdatePollMs))
		return
	}

	if c.engine.IsOnCooldown(action, ms(c.state.Config.FireCooldownMs)) {
		c.setStatus("Cooldown...")
		next(c.interval())
		return
	}

	c.executeAction(action)
	c.startWait(target)
	c.setStatus(fmt.Sprintf("%s S%d %.1f%%", action.Direction, action.Side+1, action.DiffPct))
	next(c.interval())
}

// runGuards 评估守卫并在未通过时挂起
func (c *Coordinator) runGuards(snap model.Snapshot, grace bool) guardOutcome {
	// 参考价恢复触发的对齐期间参考价再次缺失：回到可自动恢复的 no-mid 挂起，
	// 不消耗对齐次数（冷却窗口内挂起被拦截时保持等待）
	if c.state.Phase == model.PhaseAligning && c.cause.WatchesReference() && !snap.Derived.HasMid {
		if c.Suspend(model.ReasonNoMid, true, false) {
			return guardSuspended
		}
		return guardHeld
	}
	g := c.guards.CheckGuards(snap, c.state.Mode)
	if g.CanTrade {
		return guardOK
	}
	if grace && g.Reason == model.ReasonExcelSuspended && c.since(c.lastResumeSentAt) < ms(model.ResumeGraceMs) {
		return guardGrace
	}
	if c.Suspend(g.Reason, g.IsSoftSuspend, g.IsUserSuspend) {
		return guardSuspended
	}
	return guardHeld
}

func (c *Coordinator) executeAction(a model.AlignAction) {
	if a.Type != model.ActionPulse {
		return
	}
	side := a.Side
	gap := c.state.Config.PulseGapMs
	for i := 0; i < a.Pulses; i++ {
		cmd := model.Command{Key: a.Key, Side: &side, Direction: string(a.Direction), DiffPct: a.DiffPct, NoConfirm: true}
		c.afterBurst(ms(i*gap), cmd)
	}
	confirm := model.Command{Key: model.KeyConfirm, Side: &side, Direction: string(a.Direction), DiffPct: a.DiffPct, NoConfirm: true}
	c.afterBurst(ms((a.Pulses-1)*gap+c.state.Config.ConfirmDelayMs), confirm)

	c.engine.RecordFire(a)
	c.logger.Debug("发送脉冲串",
		zap.String("key", string(a.Key)),
		zap.Int("pulses", a.Pulses),
		zap.Int("side", a.Side),
		zap.Float64("diff_pct", a.DiffPct),
	)
}

func (c *Coordinator) afterBurst(d time.Duration, cmd model.Command) {
	c.burstSeq++
	id := c.burstSeq
	c.bursts[id] = c.clock.AfterFunc(d, func() {
		delete(c.bursts, id)
		c.sendCommand(cmd)
	})
}

func (c *Coordinator) stopBursts() {
	for id, t := range c.bursts {
		t.Stop()
		delete(c.bursts, id)
	}
}

// startAlignment 进入对齐阶段
// 返回: 守卫未通过时返回 false
func (c *Coordinator) startAlignment(cause model.AlignCause) bool {
	snap := c.source.Snapshot()
	g := c.guards.CheckGuards(snap, c.state.Mode)
	if !g.CanTrade || (cause.WatchesReference() && !snap.Derived.HasMid) {
		return false
	}

	wasActive := c.state.Active
	sched.Stop(c.stepTimer)
	c.stepTimer = nil
	c.cause = cause
	c.state.Active = true
	c.state.Phase = model.PhaseAligning
	c.state.Reason = model.ReasonAligning
	c.alignAttempts = 0
	c.engine.ResetCooldown()
	c.clearWait()
	c.setStatus("Aligning...")
	c.logger.Info("开始对齐", zap.String("cause", string(cause.Cause)), zap.Bool("suppress_signal", cause.SuppressSignal))

	c.notify()
	if !wasActive {
		c.emitActive(true)
	}
	c.checkAlignment()
	return true
}

func (c *Coordinator) alignInterval() time.Duration {
	return ms(max(model.AlignmentCheckIntervalMs, c.state.Config.FireCooldownMs+model.AlignmentCooldownMarginMs))
}

func (c *Coordinator) scheduleAlignCheck(d time.Duration) {
	sched.Stop(c.alignTimer)
	c.alignTimer = c.clock.AfterFunc(d, c.checkAlignment)
}

// checkAlignment 对齐子循环的一次迭代（最多 AlignmentMaxAttempts 次）
func (c *Coordinator) checkAlignment() {
	c.alignTimer = nil
	if c.state.Phase != model.PhaseAligning || !c.state.Active {
		return
	}

	snap := c.source.Snapshot()
	switch c.runGuards(snap, false) {
	case guardSuspended:
		return
	case guardGrace, guardHeld:
		c.scheduleAlignCheck(ms(model.AlignmentCheckIntervalMs))
		return
	}

	c.alignAttempts++

	mid, okMid := c.source.Mid()
	target, okTarget := c.targetOdds()
	if !okMid || !okTarget {
		if c.alignAttempts < model.AlignmentMaxAttempts {
			c.scheduleAlignCheck(ms(model.AlignmentCheckIntervalMs))
		} else {
			c.finishAlignment(false, "timeout-nodata")
		}
		return
	}

	check := c.engine.CheckAlignment(mid, target)
	switch {
	case check.Aligned:
		c.finishAlignment(true, "aligned")
	case c.alignAttempts >= model.AlignmentMaxAttempts:
		c.finishAlignment(false, "timeout")
	default:
		c.step()
		if c.state.Active && c.state.Phase == model.PhaseAligning {
			c.scheduleAlignCheck(c.alignInterval())
		}
	}
}

func (c *Coordinator) finishAlignment(ok bool, detail string) {
	sched.Stop(c.alignTimer)
	c.alignTimer = nil
	cause := c.cause
	c.cause = model.AlignCause{}

	if !c.state.Active {
		c.state.Phase = model.PhaseIdle
		c.notify()
		return
	}

	c.observer.OnAlignment(cause, ok, c.alignAttempts)

	if !ok {
		sched.Stop(c.stepTimer)
		c.stepTimer = nil
		c.stopBursts()
		c.clearWait()
		c.state.Active = false
		c.state.Phase = model.PhaseIdle
		c.state.Reason = model.ReasonAlignFailed
		c.setStatus("Align failed: " + detail)
		c.logger.Warn("对齐失败", zap.String("detail", detail), zap.Int("attempts", c.alignAttempts))
		c.emitActive(false)
		c.notify()
		return
	}

	c.state.Phase = model.PhaseTrading
	c.state.Reason = model.ReasonNone
	c.setStatus("Trading")
	c.logger.Info("对齐完成", zap.Int("attempts", c.alignAttempts), zap.String("cause", string(cause.Cause)))
	if !cause.SuppressSignal {
		c.lastResumeSentAt = c.clock.Now()
		c.sendSignal(model.ResumeSignalDirection, false)
		c.scheduleSignalRetry(false, model.ResumeSignalDirection)
	}
	c.notify()
	c.step()
}

// onOddsUpdate 报价更新：窗口内第一次立即评估，其余合并为窗口结束时的一次评估
func (c *Coordinator) onOddsUpdate() {
	if c.throttle != nil {
		c.trailing = true
		return
	}
	c.evaluate()
	c.armThrottle()
}

func (c *Coordinator) armThrottle() {
	c.throttle = c.clock.AfterFunc(ms(model.OddsThrottleMs), func() {
		c.throttle = nil
		if c.trailing {
			c.trailing = false
			c.evaluate()
			c.armThrottle()
		}
	})
}

// evaluate 响应式路径：运行中检查守卫，挂起中检查是否可以恢复
func (c *Coordinator) evaluate() {
	if !c.state.Active && !c.state.UserWanted {
		return
	}
	snap := c.source.Snapshot()

	if c.state.Active {
		// 开启时守卫未通过，等待条件满足后对齐
		if c.state.Phase == model.PhaseIdle {
			if c.guards.CheckGuards(snap, c.state.Mode).CanTrade {
				c.startAlignment(model.ManualAlignment())
				return
			}
		}
		c.runGuards(snap, true)
		return
	}

	if c.since(c.lastSuspendAt) < ms(model.ResumeCooldownMs) {
		return
	}

	if c.state.Reason == model.ReasonNoMid && snap.Derived.HasMid {
		if !c.guards.CanResume(snap, c.state.Mode, c.state.Reason) {
			return
		}
		c.resume(model.NoReferenceRecovery())
		return
	}

	if !c.guards.CheckGuards(snap, c.state.Mode).CanTrade {
		return
	}
	if !c.guards.CanResume(snap, c.state.Mode, c.state.Reason) {
		return
	}
	c.resume(model.GuardRecovery(c.state.UserSuspended))
}

func (c *Coordinator) resume(cause model.AlignCause) {
	userSuspended := c.state.UserSuspended
	c.state.UserSuspended = false
	if !c.startAlignment(cause) {
		c.state.UserSuspended = userSuspended
		return
	}
	c.lastResumeAt = c.clock.Now()
}

func (c *Coordinator) scheduleStep(d time.Duration) {
	sched.Stop(c.stepTimer)
	c.stepTimer = nil
	if !c.state.Active {
		return
	}
	c.stepTimer = c.clock.AfterFunc(d, func() {
		c.stepTimer = nil
		c.step()
	})
}

func (c *Coordinator) cancelAll() {
	sched.Stop(c.stepTimer)
	sched.Stop(c.alignTimer)
	sched.Stop(c.retryTimer)
	c.stepTimer, c.alignTimer, c.retryTimer = nil, nil, nil
	c.stopBursts()
	c.clearWait()
	c.trailing = false
}

func (c *Coordinator) targetOdds() ([2]float64, bool) {
	if c.state.Mode == model.ModeDS {
		return c.source.DsOdds()
	}
	return c.source.ExcelOdds()
}

func (c *Coordinator) startWait(target [2]float64) {
	c.waiting = true
	c.targetBefore = target
	c.waitStart = c.clock.Now()
}

func (c *Coordinator) clearWait() {
	c.waiting = false
}

// targetUpdated 上一次脉冲之后目标值是否已变化（超时视为已变化）
func (c *Coordinator) targetUpdated(current [2]float64) bool {
	if !c.waiting {
		return true
	}
	elapsed := c.since(c.waitStart)
	if elapsed > ms(model.TargetUpdateTimeoutMs) {
		c.waiting = false
		c.logger.Debug("等待目标值变化超时", zap.Duration("elapsed", elapsed))
		return true
	}
	if current != c.targetBefore {
		c.waiting = false
		c.observer.OnTargetPropagation(c.state.Mode, elapsed)
		return true
	}
	return false
}

// scheduleSignalRetry 目标冻结状态未响应时补发一次信号
// 参数 expectFrozen: 挂起信号期望目标冻结，恢复信号期望解冻
func (c *Coordinator) scheduleSignalRetry(expectFrozen bool, reason string) {
	sched.Stop(c.retryTimer)
	c.retryTimer = c.clock.AfterFunc(ms(c.state.Config.SuspendRetryDelayMs), func() {
		c.retryTimer = nil
		t := c.source.Snapshot().Target(c.state.Mode)
		frozen := t != nil && t.Frozen
		if frozen != expectFrozen {
			c.sendSignal(reason, true)
		}
	})
}

func (c *Coordinator) sendSignal(reason string, retry bool) {
	c.sendCommand(model.SignalCommand(reason, retry))
}

func (c *Coordinator) sendCommand(cmd model.Command) {
	if !c.sender || c.sink == nil {
		return
	}
	err := c.sink.Send(cmd)
	if err != nil {
		c.logger.Warn("命令发送失败", zap.String("key", string(cmd.Key)), zap.Error(err))
	}
	c.observer.OnCommand(cmd, err)
}

func (c *Coordinator) emitActive(on bool) {
	if c.broadcast == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("广播 active 状态 panic", zap.Any("panic", r))
		}
	}()
	c.broadcast(on)
}

func (c *Coordinator) setStatus(s string) {
	c.state.Status = s
}

// notify 通知订阅者；回调中再次触发的通知排队到本轮结束后执行
func (c *Coordinator) notify() {
	if c.notifying {
		c.renotify = true
		return
	}
	c.notifying = true
	defer func() { c.notifying = false }()

	for {
		c.renotify = false
		st := c.State()
		subs := c.subs
		for _, s := range subs {
			c.call(s.fn, st)
		}
		c.observer.OnStateChange(st)
		if !c.renotify {
			return
		}
	}
}

func (c *Coordinator) call(fn func(model.EngineState), st model.EngineState) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("状态订阅回调 panic", zap.Any("panic", r))
		}
	}()
	fn(st)
}

func (c *Coordinator) interval() time.Duration {
	return ms(c.state.Config.IntervalMs)
}

func (c *Coordinator) since(t time.Time) time.Duration {
	if t.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return c.clock.Now().Sub(t)
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func finite(p *float64) (float64, bool) {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return 0, false
	}
	return *p, true
}

func clampF(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampI(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

// normalizeConfig 补齐零值并限制范围
func normalizeConfig(cfg model.AutoConfig) model.AutoConfig {
	def := model.DefaultAutoConfig()
	if cfg.TolerancePct <= 0 {
		cfg.TolerancePct = def.TolerancePct
	}
	if cfg.IntervalMs <= 0 {
		cfg.IntervalMs = def.IntervalMs
	}
	if cfg.PulseStepPct <= 0 {
		cfg.PulseStepPct = def.PulseStepPct
	}
	if cfg.PulseGapMs <= 0 {
		cfg.PulseGapMs = def.PulseGapMs
	}
	if cfg.MaxPulses <= 0 {
		cfg.MaxPulses = def.MaxPulses
	}
	if cfg.FireCooldownMs <= 0 {
		cfg.FireCooldownMs = def.FireCooldownMs
	}
	if cfg.ConfirmDelayMs <= 0 {
		cfg.ConfirmDelayMs = def.ConfirmDelayMs
	}
	if cfg.SuspendRetryDelayMs <= 0 {
		cfg.SuspendRetryDelayMs = def.SuspendRetryDelayMs
	}
	cfg.TolerancePct = clampF(cfg.TolerancePct, model.MinTolerancePct, model.MaxTolerancePct)
	cfg.IntervalMs = clampI(cfg.IntervalMs, model.MinIntervalMs, model.MaxIntervalMs)
	cfg.PulseStepPct = clampF(cfg.PulseStepPct, model.MinPulseStepPct, model.MaxPulseStepPct)
	cfg.MaxPulses = clampI(cfg.MaxPulses, 1, model.MaxConfiguredPulses)
	cfg.SuspendRetryDelayMs = clampI(cfg.SuspendRetryDelayMs, model.MinSuspendRetryDelay, model.MaxSuspendRetryDelay)
	return cfg
}
