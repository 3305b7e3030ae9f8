package feed

import (
	"time"

	"odds-autotrader/internal/core/model"
)

// Kind 事件类型
type Kind string

const (
	KindOdds          Kind = "odds"
	KindBrokerClosed  Kind = "broker-closed"
	KindBrokersSync   Kind = "brokers-sync"
	KindSwapped       Kind = "swapped"
	KindProcessStatus Kind = "process-status"
	KindDsConnected   Kind = "ds-connected"
	KindSelection     Kind = "selection"
)

// Frame 报价推送的原始消息（所有类型共用）
type Frame struct {
	Type string `json:"type"`

	// odds
	Broker string        `json:"broker,omitempty"`
	Source string        `json:"source,omitempty"`
	Odds   []model.Price `json:"odds,omitempty"`
	Frozen bool          `json:"frozen,omitempty"`
	Map    int           `json:"map,omitempty"`
	TS     int64         `json:"ts,omitempty"`

	// broker-closed / brokers-sync / swapped
	ID      string   `json:"id,omitempty"`
	IDs     []string `json:"ids,omitempty"`
	Brokers []string `json:"brokers,omitempty"`

	// process-status
	Running    *bool  `json:"running,omitempty"`
	Starting   bool   `json:"starting,omitempty"`
	Installing bool   `json:"installing,omitempty"`
	Error      string `json:"error,omitempty"`

	// ds-connected
	Connected bool `json:"connected,omitempty"`

	// selection
	Script *int `json:"script,omitempty"`
	Board  *int `json:"board,omitempty"`
}

// Event 解析后的事件
type Event struct {
	Kind Kind

	// Record 报价记录（odds）
	Record model.OddsRecord
	// ScriptMap 表格推送携带的脚本侧选择，0 表示未携带
	ScriptMap int

	// ID 关闭的报价源（broker-closed）
	ID string
	// IDs 仍然打开的报价源（brokers-sync）或两侧互换的报价源（swapped）
	IDs []string

	Status    model.ProcessStatus
	Connected bool

	// 源选择（selection），nil 表示未携带
	Script *int
	Board  *int

	// ReceivedAt 本机接收时间
	ReceivedAt time.Time
}

// Metrics 连接指标
type Metrics struct {
	Connected        bool    `json:"connected"`
	Messages         int64   `json:"messages"`
	ParseErrors      int64   `json:"parseErrors"`
	Dropped          int64   `json:"dropped"`
	Reconnects       int64   `json:"reconnects"`
	UpdatesPerSec    float64 `json:"updatesPerSec"`
	LastMessageAgeMs int64   `json:"lastMessageAgeMs"`
}
