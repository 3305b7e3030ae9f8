// Package feed 接收报价推送并转换为事件。
// 推送端（抓取主机）通过 WebSocket 发送 JSON 消息：报价、源关闭/同步、互换列表、
// 目标进程状态、备用源连接状态与源选择。
// 心跳机制：协议层 ping/pong，默认 10 秒间隔，5 秒超时。
package feed

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"odds-autotrader/internal/util/backoff"
)

// Config 推送连接配置
type Config struct {
	URL             string
	PingIntervalMs  int
	PongTimeoutMs   int
	ReconnectBaseMs int
	ReconnectMaxMs  int
	EventBuffer     int
}

func (c Config) withDefaults() Config {
	if c.PingIntervalMs <= 0 {
		c.PingIntervalMs = 10000
	}
	if c.PongTimeoutMs <= 0 {
		c.PongTimeoutMs = 5000
	}
	if c.ReconnectBaseMs <= 0 {
		c.ReconnectBaseMs = 500
	}
	if c.ReconnectMaxMs <= 0 {
		c.ReconnectMaxMs = 10000
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 1000
	}
	return c
}

// Client 报价推送客户端
type Client struct {
	cfg     Config
	logger  *zap.Logger
	parser  *Parser
	eventCh chan *Event
	backoff *backoff.Backoff

	conn   *websocket.Conn
	connMu sync.Mutex

	metrics   Metrics
	metricsMu sync.RWMutex

	// lastMsgNs 最后消息时间（纳秒）
	lastMsgNs   int64
	updateCount int64
	closed      int32

	parseErrSampleCount uint64
	lastParseErrLogNs   int64
}

// NewClient 创建推送客户端
func NewClient(cfg Config, logger *zap.Logger) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		logger:  logger.Named("feed"),
		parser:  NewParser(),
		eventCh: make(chan *Event, cfg.EventBuffer),
		backoff: backoff.FromMs(cfg.ReconnectBaseMs, cfg.ReconnectMaxMs),
	}
}

// Connect 建立连接
func (c *Client) Connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("User-Agent", "odds-autotrader/1.0")
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("连接报价推送 %s 失败: %w", c.cfg.URL, err)
	}

	readWindow := time.Duration(c.cfg.PingIntervalMs+c.cfg.PongTimeoutMs) * time.Millisecond
	_ = conn.SetReadDeadline(time.Now().Add(readWindow))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWindow))
	})

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.backoff.Reset()
	c.setConnected(true)
	c.logger.Info("报价推送连接成功", zap.String("url", c.cfg.URL))
	return nil
}

// Run 主循环：读取、心跳与指标统计，直到 ctx 取消
func (c *Client) Run(ctx context.Context) error {
	go c.heartbeatLoop(ctx)
	go c.metricsLoop(ctx)
	go func() {
		// 关闭连接以结束阻塞中的读取
		<-ctx.Done()
		c.closeConn()
	}()
	c.readLoop(ctx)
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	readWindow := time.Duration(c.cfg.PingIntervalMs+c.cfg.PongTimeoutMs) * time.Millisecond
	for {
		if ctx.Err() != nil || atomic.LoadInt32(&c.closed) == 1 {
			c.closeConn()
			return
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			c.reconnect(ctx)
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("读取报价推送失败", zap.Error(err))
				c.update(func(m *Metrics) { m.Reconnects++ })
			}
			c.closeConn()
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWindow))
		atomic.StoreInt64(&c.lastMsgNs, time.Now().UnixNano())
		c.update(func(m *Metrics) { m.Messages++ })

		ev, err := c.parser.Parse(data)
		if err != nil {
			c.update(func(m *Metrics) { m.ParseErrors++ })
			c.maybeLogParseError(err, data)
			continue
		}
		if ev == nil {
			continue
		}

		atomic.AddInt64(&c.updateCount, 1)
		select {
		case c.eventCh <- ev:
		default:
			c.update(func(m *Metrics) { m.Dropped++ })
			c.logger.Warn("事件通道已满，丢弃事件", zap.String("kind", string(ev.Kind)))
		}
	}
}

// heartbeatLoop 定时发送 ping；pong 超时由读超时触发重连
func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(c.cfg.PingIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}
			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()
			if conn == nil {
				continue
			}
			deadline := time.Now().Add(time.Duration(c.cfg.PongTimeoutMs) * time.Millisecond)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Warn("发送 ping 失败", zap.Error(err))
			}
		}
	}
}

// metricsLoop 每秒计算更新频率与最后消息距今时间
func (c *Client) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastCount int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := atomic.LoadInt64(&c.updateCount)
			qps := float64(count - lastCount)
			lastCount = count

			var ageMs int64
			if last := atomic.LoadInt64(&c.lastMsgNs); last > 0 {
				ageMs = (time.Now().UnixNano() - last) / 1_000_000
			}
			c.update(func(m *Metrics) {
				m.UpdatesPerSec = qps
				m.LastMessageAgeMs = ageMs
			})
		}
	}
}

func (c *Client) reconnect(ctx context.Context) {
	attempt := c.backoff.Attempt() + 1
	if err := c.backoff.Wait(ctx); err != nil {
		return
	}
	if err := c.Connect(ctx); err != nil {
		c.logger.Warn("报价推送重连失败", zap.Int("attempt", attempt), zap.Error(err))
	}
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.setConnected(false)
	}
}

// Close 关闭客户端
func (c *Client) Close() error {
	if atomic.SwapInt32(&c.closed, 1) == 1 {
		return nil
	}
	c.closeConn()
	c.logger.Info("报价推送客户端已关闭")
	return nil
}

// EventCh 事件通道
func (c *Client) EventCh() <-chan *Event {
	return c.eventCh
}

// Metrics 连接指标
func (c *Client) Metrics() Metrics {
	c.metricsMu.RLock()
	defer c.metricsMu.RUnlock()
	return c.metrics
}

func (c *Client) setConnected(v bool) {
	c.update(func(m *Metrics) { m.Connected = v })
}

func (c *Client) update(fn func(m *Metrics)) {
	c.metricsMu.Lock()
	fn(&c.metrics)
	c.metricsMu.Unlock()
}

// maybeLogParseError 采样记录解析错误：每 100 次记录 1 条，且至少间隔 1 分钟
func (c *Client) maybeLogParseError(err error, data []byte) {
	count := atomic.AddUint64(&c.parseErrSampleCount, 1)
	if count%100 != 1 {
		return
	}
	nowNs := time.Now().UnixNano()
	last := atomic.LoadInt64(&c.lastParseErrLogNs)
	if last > 0 && nowNs-last < int64(time.Minute) {
		return
	}
	atomic.StoreInt64(&c.lastParseErrLogNs, nowNs)

	sample := data
	if len(sample) > 200 {
		sample = sample[:200]
	}
	c.logger.Warn("解析推送消息失败（采样）", zap.Error(err), zap.ByteString("data", sample))
}
