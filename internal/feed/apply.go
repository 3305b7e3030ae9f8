package feed

import (
	"odds-autotrader/internal/core/model"
)

// Store 报价存储
type Store interface {
	Upsert(rec model.OddsRecord)
	Remove(source string)
	Sync(ids []string)
	SetSwapped(ids []string)
}

// Controls 跨界面输入（由 hub.Hub 实现）
type Controls interface {
	SetProcessStatus(s model.ProcessStatus)
	SetDsConnected(connected bool)
	SetScriptMap(m int)
	SetBoardMap(m int)
}

// Apply 把事件写入存储或交给 hub（在事件循环上调用）
// 源选择先于报价更新生效，使同一条推送触发的评估看到最新的选择。
func Apply(ev *Event, store Store, ctl Controls) {
	if ev == nil {
		return
	}
	switch ev.Kind {
	case KindOdds:
		if ev.ScriptMap > 0 {
			ctl.SetScriptMap(ev.ScriptMap)
		}
		store.Upsert(ev.Record)
	case KindBrokerClosed:
		store.Remove(ev.ID)
	case KindBrokersSync:
		store.Sync(ev.IDs)
	case KindSwapped:
		store.SetSwapped(ev.IDs)
	case KindProcessStatus:
		ctl.SetProcessStatus(ev.Status)
	case KindDsConnected:
		ctl.SetDsConnected(ev.Connected)
	case KindSelection:
		if ev.Script != nil {
			ctl.SetScriptMap(*ev.Script)
		}
		if ev.Board != nil {
			ctl.SetBoardMap(*ev.Board)
		}
	}
}
