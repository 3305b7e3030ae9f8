package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"odds-autotrader/internal/core/model"
)

// Parser 报价推送消息解析器
type Parser struct {
	now func() time.Time
}

// NewParser 创建解析器
func NewParser() *Parser {
	return &Parser{now: time.Now}
}

// Parse 解析一条推送
// 返回: 未知类型返回 nil, nil；格式错误返回错误
func (p *Parser) Parse(data []byte) (*Event, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("解析推送消息失败: %w", err)
	}
	now := p.now()

	switch Kind(f.Type) {
	case KindOdds:
		return p.parseOdds(&f, now)
	case KindBrokerClosed:
		id := strings.TrimSpace(f.ID)
		if id == "" {
			return nil, fmt.Errorf("broker-closed 缺少 id")
		}
		return &Event{Kind: KindBrokerClosed, ID: id, ReceivedAt: now}, nil
	case KindBrokersSync:
		return &Event{Kind: KindBrokersSync, IDs: cleanIDs(f.IDs), ReceivedAt: now}, nil
	case KindSwapped:
		return &Event{Kind: KindSwapped, IDs: cleanIDs(f.Brokers), ReceivedAt: now}, nil
	case KindProcessStatus:
		st := model.ProcessStatus{Running: f.Running, Starting: f.Starting, Installing: f.Installing, Error: f.Error}
		return &Event{Kind: KindProcessStatus, Status: st, ReceivedAt: now}, nil
	case KindDsConnected:
		return &Event{Kind: KindDsConnected, Connected: f.Connected, ReceivedAt: now}, nil
	case KindSelection:
		if f.Script == nil && f.Board == nil {
			return nil, fmt.Errorf("selection 缺少 script/board")
		}
		return &Event{Kind: KindSelection, Script: f.Script, Board: f.Board, ReceivedAt: now}, nil
	default:
		return nil, nil
	}
}

// parseOdds 报价源标识优先取 broker，其次 source；报价不足两侧时补 "-"
func (p *Parser) parseOdds(f *Frame, now time.Time) (*Event, error) {
	src := strings.TrimSpace(f.Broker)
	if src == "" {
		src = strings.TrimSpace(f.Source)
	}
	if src == "" {
		return nil, fmt.Errorf("odds 缺少 broker")
	}

	rec := model.OddsRecord{
		Source:     src,
		Prices:     [2]model.Price{model.NoPrice, model.NoPrice},
		Frozen:     f.Frozen,
		ObservedAt: now,
	}
	for i := 0; i < 2 && i < len(f.Odds); i++ {
		rec.Prices[i] = f.Odds[i]
	}

	ev := &Event{Kind: KindOdds, Record: rec, ReceivedAt: now}
	if src == model.SourceExcel && f.Map >= 1 && f.Map <= 5 {
		ev.ScriptMap = f.Map
	}
	return ev, nil
}

func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if v := strings.TrimSpace(id); v != "" {
			out = append(out, v)
		}
	}
	return out
}
