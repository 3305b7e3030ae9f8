// Package sched 提供协调器使用的调度抽象。
// Loop 是单 goroutine 协作式事件循环，所有引擎状态只在循环内访问；
// Virtual 是确定性的虚拟时钟，供测试推进时间。
package sched

import (
	"errors"
	"time"
)

// ErrStopped 事件循环已停止
var ErrStopped = errors.New("sched: loop stopped")

// Timer 可取消的单次定时任务
type Timer interface {
	// Stop 取消任务；任务已执行或已取消时返回 false
	Stop() bool
}

// Scheduler 时钟与单次定时任务
// AfterFunc 的回调总是在事件循环上执行。
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Executor 在事件循环上执行函数并等待完成
// 不得在循环内部调用。
type Executor interface {
	Do(fn func()) error
}

// Poster 向事件循环投递函数，不等待
type Poster interface {
	Post(fn func()) bool
}

// Runtime 协调器和 hub 需要的全部调度能力
type Runtime interface {
	Scheduler
	Executor
	Poster
}

// Stop 停止定时任务，nil 安全
func Stop(t Timer) {
	if t != nil {
		t.Stop()
	}
}
