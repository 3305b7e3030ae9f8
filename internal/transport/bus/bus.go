// Package bus 提供跨进程的发布/订阅通道。
// Bus 只搬运字节；Transport 在其上封装带来源标识的类型化消息。
package bus

import (
	"context"
	"errors"
)

// ErrClosed 通道已关闭
var ErrClosed = errors.New("bus: closed")

// Bus 发布/订阅通道
type Bus interface {
	// Publish 发布消息；retain 为 true 时同时保存为该主题的最新值
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
	// Subscribe 订阅主题，ctx 取消时关闭返回的通道
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
	// Retained 读取主题的最新保存值
	Retained(ctx context.Context, topic string) ([]byte, bool, error)
	Close() error
}
