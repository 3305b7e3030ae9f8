package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"odds-autotrader/internal/core/model"
	"odds-autotrader/internal/core/sched"
)

// 消息类型
const (
	TypeActiveSet      = "active-set"
	TypeStateSet       = "state-set"
	TypeToggle         = "toggle"
	TypeConfigUpdate   = "config-update"
	TypeGuardSettings  = "guard-settings"
	TypeProcessStatus  = "process-status"
	defaultTopic       = "autotrader.events"
	defaultOutboundBuf = 256
)

// Envelope 总线消息外层
type Envelope struct {
	Type   string          `json:"type"`
	Origin string          `json:"origin"`
	TS     int64           `json:"ts"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ActiveSet 引擎 active 标志
type ActiveSet struct {
	On bool `json:"on"`
}

// StateSet 外部主控的强制开关
type StateSet struct {
	Active bool `json:"active"`
	Manual bool `json:"manual"`
}

// Handler 接收其他进程的消息
type Handler interface {
	HandleRemoteActive(on bool)
	HandleRemoteStateSet(active, manual bool)
	HandleRemoteToggle()
	HandleRemoteConfig(u model.ConfigUpdate)
	HandleRemoteGuardSettings(u model.GuardSettingsUpdate)
	HandleRemoteProcessStatus(s model.ProcessStatus)
}

// Transport 类型化的跨进程消息
// Publish* 方法只入队，不阻塞调用方；Run 负责实际发送。
type Transport struct {
	bus    Bus
	topic  string
	origin string
	logger *zap.Logger
	out    chan Envelope
	now    func() time.Time
}

// NewTransport 创建传输层
// 参数 topic: 主题名，空时使用默认值
func NewTransport(b Bus, topic string, logger *zap.Logger) *Transport {
	if topic == "" {
		topic = defaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		bus:    b,
		topic:  topic,
		origin: uuid.NewString(),
		logger: logger.Named("bus"),
		out:    make(chan Envelope, defaultOutboundBuf),
		now:    time.Now,
	}
}

// Origin 本进程的来源标识
func (t *Transport) Origin() string {
	return t.origin
}

func (t *Transport) retainedTopic() string {
	return t.topic + ".active"
}

func (t *Transport) enqueue(typ string, data any) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			t.logger.Warn("消息序列化失败", zap.String("type", typ), zap.Error(err))
			return
		}
		raw = b
	}
	env := Envelope{Type: typ, Origin: t.origin, TS: t.now().UnixMilli(), Data: raw}
	select {
	case t.out <- env:
	default:
		t.logger.Warn("发送队列已满，丢弃消息", zap.String("type", typ))
	}
}

// PublishActive 广播 active 标志（保存为最新值）
func (t *Transport) PublishActive(on bool) {
	t.enqueue(TypeActiveSet, ActiveSet{On: on})
}

// PublishStateSet 主控强制开关
func (t *Transport) PublishStateSet(active, manual bool) {
	t.enqueue(TypeStateSet, StateSet{Active: active, Manual: manual})
}

// PublishToggle 切换所有进程
func (t *Transport) PublishToggle() {
	t.enqueue(TypeToggle, nil)
}

// PublishConfig 广播运行参数更新
func (t *Transport) PublishConfig(u model.ConfigUpdate) {
	t.enqueue(TypeConfigUpdate, u)
}

// PublishGuardSettings 广播守卫设置更新
func (t *Transport) PublishGuardSettings(u model.GuardSettingsUpdate) {
	t.enqueue(TypeGuardSettings, u)
}

// PublishProcessStatus 转发目标进程状态
func (t *Transport) PublishProcessStatus(s model.ProcessStatus) {
	t.enqueue(TypeProcessStatus, s)
}

// Run 发送循环，直到 ctx 取消
func (t *Transport) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-t.out:
			payload, err := json.Marshal(env)
			if err != nil {
				t.logger.Warn("消息序列化失败", zap.String("type", env.Type), zap.Error(err))
				continue
			}
			if err := t.bus.Publish(ctx, t.topic, payload, false); err != nil {
				t.logger.Warn("发布失败", zap.String("type", env.Type), zap.Error(err))
				continue
			}
			if env.Type == TypeActiveSet {
				if err := t.bus.Publish(ctx, t.retainedTopic(), payload, true); err != nil {
					t.logger.Warn("保存最新 active 失败", zap.Error(err))
				}
			}
		}
	}
}

// Listen 订阅其他进程的消息并投递到事件循环，直到 ctx 取消
// 订阅建立后先读取保存的 active 状态，使晚启动的进程与全局状态对齐。
func (t *Transport) Listen(ctx context.Context, poster sched.Poster, h Handler) error {
	ch, err := t.bus.Subscribe(ctx, t.topic)
	if err != nil {
		return fmt.Errorf("订阅 %s 失败: %w", t.topic, err)
	}

	if data, ok, err := t.bus.Retained(ctx, t.retainedTopic()); err != nil {
		t.logger.Warn("读取最新 active 失败", zap.Error(err))
	} else if ok {
		t.dispatch(data, poster, h)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			t.dispatch(data, poster, h)
		}
	}
}

func (t *Transport) dispatch(data []byte, poster sched.Poster, h Handler) {
	fn, err := t.decode(data, h)
	if err != nil {
		t.logger.Debug("忽略无法解析的消息", zap.Error(err))
		return
	}
	if fn == nil {
		return
	}
	if !poster.Post(fn) {
		t.logger.Debug("事件循环已停止，丢弃消息")
	}
}

// decode 解析消息；自身发出的消息返回 nil
func (t *Transport) decode(data []byte, h Handler) (func(), error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Origin == t.origin {
		return nil, nil
	}

	switch env.Type {
	case TypeActiveSet:
		var m ActiveSet
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, err
		}
		return func() { h.HandleRemoteActive(m.On) }, nil
	case TypeStateSet:
		var m StateSet
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, err
		}
		return func() { h.HandleRemoteStateSet(m.Active, m.Manual) }, nil
	case TypeToggle:
		return h.HandleRemoteToggle, nil
	case TypeConfigUpdate:
		var u model.ConfigUpdate
		if err := json.Unmarshal(env.Data, &u); err != nil {
			return nil, err
		}
		return func() { h.HandleRemoteConfig(u) }, nil
	case TypeGuardSettings:
		var u model.GuardSettingsUpdate
		if err := json.Unmarshal(env.Data, &u); err != nil {
			return nil, err
		}
		return func() { h.HandleRemoteGuardSettings(u) }, nil
	case TypeProcessStatus:
		var s model.ProcessStatus
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return nil, err
		}
		return func() { h.HandleRemoteProcessStatus(s) }, nil
	default:
		return nil, fmt.Errorf("未知消息类型 '%s'", env.Type)
	}
}
