package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// 目标源在记录表中的固定标识
const (
	// SourceExcel 表格目标源
	SourceExcel = "excel"
	// SourceDS 备用目标源
	SourceDS = "ds"
	// SourceDataServices 备用目标源的别名（部分推送使用全称）
	SourceDataServices = "dataservices"
)

// IsTargetSource 判断标识是否为目标源（不参与 mid 计算）
func IsTargetSource(id string) bool {
	return id == SourceExcel || id == SourceDS || id == SourceDataServices
}

// Price 单侧报价：数值或 "-"（无报价）
type Price struct {
	// Value 报价数值，仅在 OK 时有效
	Value float64
	// OK 是否为有效数值
	OK bool
}

// NumPrice 构造数值报价
func NumPrice(v float64) Price {
	return Price{Value: v, OK: true}
}

// NoPrice 无报价
var NoPrice = Price{}

// ParsePrice 解析报价文本
// 参数 s: 如 "1.85"、"-"、""
// 返回: 无法解析为正数时返回 NoPrice
func ParsePrice(s string) Price {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return NoPrice
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return NoPrice
	}
	return checkedPrice(v)
}

// checkedPrice 只接受有限正数
func checkedPrice(v float64) Price {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return NoPrice
	}
	return NumPrice(v)
}

// String 文本表示
func (p Price) String() string {
	if !p.OK {
		return "-"
	}
	return strconv.FormatFloat(p.Value, 'f', -1, 64)
}

// MarshalJSON 数值输出为 number，无报价输出为 "-"
func (p Price) MarshalJSON() ([]byte, error) {
	if !p.OK {
		return []byte(`"-"`), nil
	}
	return json.Marshal(p.Value)
}

// UnmarshalJSON 接受 number、数字字符串或 "-"；非正数视为无报价
func (p *Price) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*p = NoPrice
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("解析报价失败: %w", err)
		}
		*p = ParsePrice(s)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("解析报价失败: %w", err)
	}
	*p = checkedPrice(v)
	return nil
}

// Pair 两侧数值报价
// 两侧都有效时返回 true。
func Pair(prices [2]Price) ([2]float64, bool) {
	if !prices[0].OK || !prices[1].OK {
		return [2]float64{}, false
	}
	return [2]float64{prices[0].Value, prices[1].Value}, true
}

// OddsRecord 单个报价源的最新记录
type OddsRecord struct {
	// Source 报价源标识
	Source string `json:"source"`
	// Prices 两侧报价
	Prices [2]Price `json:"prices"`
	// Frozen 源是否冻结/挂起
	Frozen bool `json:"frozen"`
	// ObservedAt 本机观测时间
	ObservedAt time.Time `json:"observedAt"`
}

// TargetRecord 当前选定目标源的报价与冻结状态
type TargetRecord struct {
	// Prices 两侧报价
	Prices [2]Price `json:"prices"`
	// Frozen 是否冻结
	Frozen bool `json:"frozen"`
}

// Derived 由非目标源计算出的派生量
// 不变量：HasMid 为 true 时 Mid 两侧都严格为正。
type Derived struct {
	// HasMid 是否存在可用参考价
	HasMid bool `json:"hasMid"`
	// Mid 参考价（每侧 (min+max)/2）
	Mid [2]float64 `json:"mid"`
	// HasArb 是否计算出套利百分比
	HasArb bool `json:"hasArb"`
	// ArbProfitPct 套利百分比
	ArbProfitPct float64 `json:"arbProfitPct"`
}

// Snapshot 报价快照（只读）
type Snapshot struct {
	// Records 按源标识索引的记录
	Records map[string]OddsRecord `json:"records"`
	// Derived 派生量
	Derived Derived `json:"derived"`
	// Excel 表格目标源（可能为 nil）
	Excel *TargetRecord `json:"excel"`
	// DS 备用目标源（可能为 nil）
	DS *TargetRecord `json:"ds"`
}

// Target 返回指定模式下的目标记录
func (s Snapshot) Target(mode Mode) *TargetRecord {
	if mode == ModeDS {
		return s.DS
	}
	return s.Excel
}
