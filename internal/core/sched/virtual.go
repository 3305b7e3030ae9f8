package sched

import (
	"container/heap"
	"time"
)

// Virtual 确定性虚拟时钟
// 所有回调在调用 Advance 的 goroutine 上按 (到期时间, 注册顺序) 执行。
type Virtual struct {
	now time.Time
	seq uint64
	q   timerQueue
}

// NewVirtual 创建虚拟时钟
// 参数 start: 起始时间
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

// Now 当前虚拟时间
func (v *Virtual) Now() time.Time {
	return v.now
}

// AfterFunc 注册在 d 之后执行的回调
func (v *Virtual) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	v.seq++
	t := &virtualTimer{at: v.now.Add(d), seq: v.seq, fn: fn}
	heap.Push(&v.q, t)
	return t
}

// Advance 推进时间并执行到期回调
func (v *Virtual) Advance(d time.Duration) {
	target := v.now.Add(d)
	for v.q.Len() > 0 {
		next := v.q[0]
		if next.at.After(target) {
			break
		}
		heap.Pop(&v.q)
		if next.stopped {
			continue
		}
		next.stopped = true
		if next.at.After(v.now) {
			v.now = next.at
		}
		next.fn()
	}
	v.now = target
}

// Flush 执行所有已到期回调，不推进时间
func (v *Virtual) Flush() {
	v.Advance(0)
}

// Pending 尚未执行且未取消的回调数
func (v *Virtual) Pending() int {
	n := 0
	for _, t := range v.q {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Post 以零延迟排队，下一次 Advance/Flush 时执行
func (v *Virtual) Post(fn func()) bool {
	v.AfterFunc(0, fn)
	return true
}

// Do 直接执行
func (v *Virtual) Do(fn func()) error {
	fn()
	return nil
}

type virtualTimer struct {
	at      time.Time
	seq     uint64
	fn      func()
	stopped bool
}

func (t *virtualTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type timerQueue []*virtualTimer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}

func (q timerQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *timerQueue) Push(x any) { *q = append(*q, x.(*virtualTimer)) }

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}
