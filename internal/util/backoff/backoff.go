// Package backoff 实现带抖动的指数退避。
// 报价源与输入代理断线重连时使用，默认基础间隔 500ms，最大间隔 10s，抖动 ±20%。
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// maxShift 限制指数部分，避免长时间断线后位移溢出
const maxShift = 30

// Backoff 指数退避计算器（非并发安全，由单个重连循环持有）
type Backoff struct {
	base    time.Duration
	max     time.Duration
	jitter  float64
	attempt int
}

// New 创建退避计算器
// 参数 base: 基础等待时间
// 参数 max: 最大等待时间
// 参数 jitter: 抖动比例（0-1），0.2 表示 ±20%
func New(base, max time.Duration, jitter float64) *Backoff {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max < base {
		max = base
	}
	if jitter < 0 {
		jitter = 0
	}
	return &Backoff{base: base, max: max, jitter: jitter}
}

// NewDefault 默认退避：500ms 起步，最大 10s，抖动 ±20%
func NewDefault() *Backoff {
	return New(500*time.Millisecond, 10*time.Second, 0.2)
}

// FromMs 按毫秒配置创建退避计算器
func FromMs(baseMs, maxMs int) *Backoff {
	return New(time.Duration(baseMs)*time.Millisecond, time.Duration(maxMs)*time.Millisecond, 0.2)
}

// Next 下次重试的等待时间：base * 2^attempt，不超过 max，再应用抖动
func (b *Backoff) Next() time.Duration {
	shift := b.attempt
	if shift > maxShift {
		shift = maxShift
	}
	delay := b.base * time.Duration(int64(1)<<shift)
	if delay > b.max || delay <= 0 {
		delay = b.max
	}

	if b.jitter > 0 {
		factor := 1.0 + (rand.Float64()*2-1)*b.jitter
		delay = time.Duration(float64(delay) * factor)
	}

	b.attempt++
	return delay
}

// Wait 等待下一次退避时间
// 返回: ctx 取消时返回 ctx.Err()
func (b *Backoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Reset 连接成功后调用
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt 当前重试次数
func (b *Backoff) Attempt() int {
	return b.attempt
}
