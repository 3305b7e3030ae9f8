package agent

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"odds-autotrader/internal/core/model"
)

// Sink 命令通道
type Sink interface {
	Send(cmd model.Command) error
}

// LogSink 只记录命令，不发送（未配置代理时使用）
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink 创建日志命令通道
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("agent")}
}

func (s *LogSink) Send(cmd model.Command) error {
	fields := []zap.Field{
		zap.String("key", string(cmd.Key)),
		zap.String("direction", cmd.Direction),
		zap.Float64("diff_pct", cmd.DiffPct),
		zap.Bool("retry", cmd.Retry),
	}
	if cmd.Side != nil {
		fields = append(fields, zap.Int("side", *cmd.Side))
	}
	s.logger.Info("dry-run 命令", fields...)
	return nil
}

// 去重窗口
const (
	signalDedupWindow = 300 * time.Millisecond
	retryDedupWindow  = 400 * time.Millisecond
	keyDedupWindow    = 25 * time.Millisecond
)

// Dedup 过滤短时间内重复的命令
// 信号的首发与补发分别去重；方向键与提交键按 (键, 侧, 方向) 去重。
// 只在事件循环上调用。
type Dedup struct {
	next Sink
	now  func() time.Time

	lastSignal time.Time
	lastRetry  time.Time
	lastKey    time.Time
	lastSig    string

	suppressed int64
}

// NewDedup 包装命令通道
func NewDedup(next Sink, now func() time.Time) *Dedup {
	if now == nil {
		now = time.Now
	}
	return &Dedup{next: next, now: now}
}

func (d *Dedup) Send(cmd model.Command) error {
	now := d.now()
	if cmd.IsSignal() {
		last := &d.lastSignal
		window := signalDedupWindow
		if cmd.Retry {
			last, window = &d.lastRetry, retryDedupWindow
		}
		if !last.IsZero() && now.Sub(*last) < window {
			d.suppressed++
			return nil
		}
		*last = now
		return d.next.Send(cmd)
	}

	side := -1
	if cmd.Side != nil {
		side = *cmd.Side
	}
	sig := string(cmd.Key) + "|" + strconv.Itoa(side) + "|" + cmd.Direction
	if sig == d.lastSig && now.Sub(d.lastKey) < keyDedupWindow {
		d.suppressed++
		return nil
	}
	d.lastSig, d.lastKey = sig, now
	return d.next.Send(cmd)
}

// Suppressed 被过滤的命令数
func (d *Dedup) Suppressed() int64 {
	return d.suppressed
}
