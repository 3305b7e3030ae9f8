package auto

import (
	"time"

	"odds-autotrader/internal/core/model"
)

// Observer 协调器事件观察者（指标、日志、journal）
// 回调在事件循环上同步执行，实现方不得阻塞。
type Observer interface {
	// OnCommand 命令已交给命令通道；err 为发送失败原因
	OnCommand(cmd model.Command, err error)
	// OnStateChange 状态变化
	OnStateChange(st model.EngineState)
	// OnSuspend 引擎被挂起
	OnSuspend(reason model.Reason, userInitiated bool)
	// OnAlignment 一次对齐结束
	OnAlignment(cause model.AlignCause, ok bool, attempts int)
	// OnTargetPropagation 脉冲之后目标值发生变化的耗时
	OnTargetPropagation(mode model.Mode, d time.Duration)
}

// NopObserver 空实现，便于只关心部分事件的观察者嵌入
type NopObserver struct{}

func (NopObserver) OnCommand(model.Command, error) {}
func (NopObserver) OnStateChange(model.EngineState) {}
func (NopObserver) OnSuspend(model.Reason, bool) {}
func (NopObserver) OnAlignment(model.AlignCause, bool, int) {}
func (NopObserver) OnTargetPropagation(model.Mode, time.Duration) {}

// Observers 把事件分发给多个观察者
type Observers []Observer

func (os Observers) OnCommand(cmd model.Command, err error) {
	for _, o := range os {
		o.OnCommand(cmd, err)
	}
}

func (os Observers) OnStateChange(st model.EngineState) {
	for _, o := range os {
		o.OnStateChange(st)
	}
}

func (os Observers) OnSuspend(reason model.Reason, userInitiated bool) {
	for _, o := range os {
		o.OnSuspend(reason, userInitiated)
	}
}

func (os Observers) OnAlignment(cause model.AlignCause, ok bool, attempts int) {
	for _, o := range os {
		o.OnAlignment(cause, ok, attempts)
	}
}

func (os Observers) OnTargetPropagation(mode model.Mode, d time.Duration) {
	for _, o := range os {
		o.OnTargetPropagation(mode, d)
	}
}
