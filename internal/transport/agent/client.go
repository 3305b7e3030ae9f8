// Package agent 实现输入注入代理的命令通道。
// Client 通过 WebSocket 发送按键命令：Send 只入队，由单个写协程发送；断线后按退避重连。
// 未配置代理地址时使用 LogSink 只记录日志。
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"odds-autotrader/internal/core/model"
	"odds-autotrader/internal/util/backoff"
)

// Config 代理连接配置
type Config struct {
	URL             string
	QueueSize       int
	PingIntervalMs  int
	PongTimeoutMs   int
	WriteTimeoutMs  int
	MaxStaleMs      int
	ReconnectBaseMs int
	ReconnectMaxMs  int
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.PingIntervalMs <= 0 {
		c.PingIntervalMs = 5000
	}
	if c.PongTimeoutMs <= 0 {
		c.PongTimeoutMs = 3000
	}
	if c.WriteTimeoutMs <= 0 {
		c.WriteTimeoutMs = 1000
	}
	if c.MaxStaleMs <= 0 {
		c.MaxStaleMs = 2000
	}
	if c.ReconnectBaseMs <= 0 {
		c.ReconnectBaseMs = 500
	}
	if c.ReconnectMaxMs <= 0 {
		c.ReconnectMaxMs = 10000
	}
	return c
}

type queued struct {
	cmd model.Command
	at  time.Time
}

// Client 输入注入代理客户端
type Client struct {
	cfg     Config
	logger  *zap.Logger
	queue   chan queued
	backoff *backoff.Backoff
	closed  int32

	metrics   Metrics
	metricsMu sync.RWMutex
}

// NewClient 创建代理客户端（Run 之前 Send 的命令在队列中等待）
func NewClient(cfg Config, logger *zap.Logger) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		logger:  logger.Named("agent"),
		queue:   make(chan queued, cfg.QueueSize),
		backoff: backoff.FromMs(cfg.ReconnectBaseMs, cfg.ReconnectMaxMs),
	}
}

// Send 命令入队，不等待发送结果
func (c *Client) Send(cmd model.Command) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClosed
	}
	select {
	case c.queue <- queued{cmd: cmd, at: time.Now()}:
		return nil
	default:
		c.update(func(m *Metrics) { m.Dropped++ })
		return ErrQueueFull
	}
}

// Run 连接并发送，直到 ctx 取消或 Close
func (c *Client) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil || atomic.LoadInt32(&c.closed) == 1 {
			return nil
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("连接输入代理失败", zap.String("url", c.cfg.URL), zap.Error(err))
			if c.backoff.Wait(ctx) != nil {
				return nil
			}
			continue
		}
		c.backoff.Reset()
		c.update(func(m *Metrics) { m.Connected = true })
		c.logger.Info("输入代理已连接", zap.String("url", c.cfg.URL))

		err = c.serve(ctx, conn)
		_ = conn.Close()
		c.update(func(m *Metrics) { m.Connected = false })
		if ctx.Err() != nil || atomic.LoadInt32(&c.closed) == 1 {
			return nil
		}

		c.update(func(m *Metrics) { m.Reconnects++ })
		c.logger.Warn("输入代理连接断开，准备重连", zap.Error(err))
		if c.backoff.Wait(ctx) != nil {
			return nil
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("User-Agent", "odds-autotrader/1.0")
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("连接输入代理 %s 失败: %w", c.cfg.URL, err)
	}
	return conn, nil
}

// serve 单连接的写循环；读协程只处理 pong 与应答
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	pingEvery := time.Duration(c.cfg.PingIntervalMs) * time.Millisecond
	readWindow := pingEvery + time.Duration(c.cfg.PongTimeoutMs)*time.Millisecond
	writeTimeout := time.Duration(c.cfg.WriteTimeoutMs) * time.Millisecond

	readErr := make(chan error, 1)
	go func() {
		_ = conn.SetReadDeadline(time.Now().Add(readWindow))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readWindow))
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(readWindow))
			c.logger.Debug("代理应答", zap.ByteString("data", data))
		}
	}()

	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			return nil
		case err := <-readErr:
			return err
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return fmt.Errorf("发送 ping 失败: %w", err)
			}
		case q := <-c.queue:
			if age := time.Since(q.at); age > time.Duration(c.cfg.MaxStaleMs)*time.Millisecond {
				// 断线期间积压的命令已失效
				c.update(func(m *Metrics) { m.Stale++ })
				c.logger.Debug("丢弃过期命令", zap.String("key", string(q.cmd.Key)), zap.Duration("age", age))
				continue
			}
			data, err := json.Marshal(NewFrame(q.cmd, time.Now().UnixMilli()))
			if err != nil {
				c.logger.Warn("命令序列化失败", zap.Error(err))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("发送命令失败: %w", err)
			}
			c.update(func(m *Metrics) { m.Sent++ })
		}
	}
}

// Close 关闭客户端；之后 Send 返回 ErrClosed
func (c *Client) Close() error {
	if atomic.SwapInt32(&c.closed, 1) == 1 {
		return nil
	}
	c.logger.Info("输入代理客户端已关闭")
	return nil
}

// Metrics 连接指标
func (c *Client) Metrics() Metrics {
	c.metricsMu.RLock()
	defer c.metricsMu.RUnlock()
	return c.metrics
}

func (c *Client) update(fn func(m *Metrics)) {
	c.metricsMu.Lock()
	fn(&c.metrics)
	c.metricsMu.Unlock()
}
