package sched

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Loop 单 goroutine 事件循环
// time.AfterFunc 的回调被投递回循环执行，因此引擎代码不需要加锁。
type Loop struct {
	logger *zap.Logger
	ch     chan func()
	done   chan struct{}
}

// NewLoop 创建事件循环
// 参数 logger: 日志记录器
// 参数 buf: 投递队列容量
func NewLoop(logger *zap.Logger, buf int) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buf <= 0 {
		buf = 1024
	}
	return &Loop{
		logger: logger.Named("loop"),
		ch:     make(chan func(), buf),
		done:   make(chan struct{}),
	}
}

// Run 运行事件循环直到 ctx 取消
// 只能调用一次。
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	l.logger.Info("事件循环启动")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("事件循环退出")
			return nil
		case fn := <-l.ch:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("事件循环回调 panic", zap.String("panic", fmt.Sprint(r)), zap.Stack("stack"))
		}
	}()
	fn()
}

// Post 投递函数到事件循环
// 返回: 循环已停止时返回 false
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.ch <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do 在事件循环上执行 fn 并等待完成
func (l *Loop) Do(fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// Done 循环退出后关闭
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Now 当前时间
func (l *Loop) Now() time.Time {
	return time.Now()
}

// AfterFunc 在 d 之后把 fn 投递到事件循环
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.t = time.AfterFunc(d, func() {
		l.Post(func() {
			// stopped 只在循环内读写
			if t.stopped {
				return
			}
			t.stopped = true
			fn()
		})
	})
	return t
}

type loopTimer struct {
	t       *time.Timer
	stopped bool
}

// Stop 必须在事件循环内调用
func (t *loopTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	t.t.Stop()
	return true
}
