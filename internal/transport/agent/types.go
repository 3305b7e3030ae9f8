package agent

import (
	"errors"

	"odds-autotrader/internal/core/model"
)

var (
	// ErrQueueFull 发送队列已满
	ErrQueueFull = errors.New("agent: queue full")
	// ErrClosed 客户端已关闭
	ErrClosed = errors.New("agent: closed")
)

// 虚拟键码
var virtualKeys = map[model.Key]int{
	model.KeySignal:     0x84,
	model.KeyConfirm:    0x85,
	model.KeyLowerSide0: 0x86,
	model.KeyRaiseSide0: 0x87,
}

// Frame 发往输入注入代理的消息
type Frame struct {
	Type      string    `json:"type"`
	Key       model.Key `json:"key"`
	VK        int       `json:"vk"`
	Side      *int      `json:"side,omitempty"`
	Direction string    `json:"direction,omitempty"`
	DiffPct   float64   `json:"diffPct,omitempty"`
	NoConfirm bool      `json:"noConfirm"`
	Retry     bool      `json:"retry,omitempty"`
	TS        int64     `json:"ts"`
}

// NewFrame 把命令转换为代理消息
// 参数 tsMs: 发送时间（毫秒）
func NewFrame(cmd model.Command, tsMs int64) Frame {
	return Frame{
		Type:      "press",
		Key:       cmd.Key,
		VK:        virtualKeys[cmd.Key],
		Side:      cmd.Side,
		Direction: cmd.Direction,
		DiffPct:   cmd.DiffPct,
		NoConfirm: cmd.NoConfirm,
		Retry:     cmd.Retry,
		TS:        tsMs,
	}
}

// Metrics 连接指标
type Metrics struct {
	Connected  bool  `json:"connected"`
	Sent       int64 `json:"sent"`
	Dropped    int64 `json:"dropped"`
	Stale      int64 `json:"stale"`
	Reconnects int64 `json:"reconnects"`
}
