package bus

import (
	"context"
	"sync"
)

// Memory 进程内通道（单进程部署与测试）
type Memory struct {
	mu       sync.Mutex
	subs     map[string]map[int]chan []byte
	retained map[string][]byte
	seq      int
	closed   bool
	buf      int
}

// NewMemory 创建进程内通道
// 参数 buf: 每个订阅者的缓冲大小，满时丢弃新消息
func NewMemory(buf int) *Memory {
	if buf <= 0 {
		buf = 64
	}
	return &Memory{
		subs:     make(map[string]map[int]chan []byte),
		retained: make(map[string][]byte),
		buf:      buf,
	}
}

func (m *Memory) Publish(_ context.Context, topic string, payload []byte, retain bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	data := append([]byte(nil), payload...)
	if retain {
		m.retained[topic] = data
	}
	for _, ch := range m.subs[topic] {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.seq++
	id := m.seq
	ch := make(chan []byte, m.buf)
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[int]chan []byte)
	}
	m.subs[topic][id] = ch

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[topic][id]; ok {
			delete(m.subs[topic], id)
			close(c)
		}
	}()
	return ch, nil
}

func (m *Memory) Retained(_ context.Context, topic string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.retained[topic]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

// Close 关闭所有订阅
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for topic, subs := range m.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(m.subs, topic)
	}
	return nil
}
