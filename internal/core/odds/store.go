package odds

import (
	"odds-autotrader/internal/core/model"
)

// Store 各报价源最新记录缓存（单写者）
// 注意：本结构体只能由事件循环 goroutine 访问；跨 goroutine 读取请通过 Snapshot 拷贝传递。
type Store struct {
	// records 按源标识缓存最新记录
	records map[string]model.OddsRecord
	// swapped 两侧顺序对调的源
	swapped map[string]struct{}
	// derived 最近一次计算的派生量
	derived model.Derived

	subs   []subscriber
	nextID int
}

type subscriber struct {
	id int
	fn func(model.Snapshot)
}

// NewStore 创建报价缓存
func NewStore() *Store {
	return &Store{
		records: make(map[string]model.OddsRecord, 8),
		swapped: make(map[string]struct{}),
	}
}

// Upsert 写入或覆盖一个源的记录
// 参数 rec: Source 为空时忽略
func (s *Store) Upsert(rec model.OddsRecord) {
	if rec.Source == "" {
		return
	}
	s.records[rec.Source] = rec
	s.changed()
}

// Remove 删除一个源（源关闭）
func (s *Store) Remove(source string) {
	if _, ok := s.records[source]; !ok {
		return
	}
	delete(s.records, source)
	s.changed()
}

// Sync 只保留给定的源，目标源不受影响
// 参数 ids: 当前仍打开的源标识
func (s *Store) Sync(ids []string) {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	for id := range s.records {
		if model.IsTargetSource(id) {
			continue
		}
		if _, ok := keep[id]; !ok {
			delete(s.records, id)
		}
	}
	s.changed()
}

// SetSwapped 设置两侧顺序对调的源列表
func (s *Store) SetSwapped(ids []string) {
	s.swapped = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s.swapped[id] = struct{}{}
	}
	s.changed()
}

// Swapped 返回对调的源列表
func (s *Store) Swapped() []string {
	out := make([]string, 0, len(s.swapped))
	for id := range s.swapped {
		out = append(out, id)
	}
	return out
}

// Snapshot 返回当前快照（记录表为拷贝）
func (s *Store) Snapshot() model.Snapshot {
	records := make(map[string]model.OddsRecord, len(s.records))
	for id, rec := range s.records {
		records[id] = rec
	}
	return model.Snapshot{
		Records: records,
		Derived: s.derived,
		Excel:   s.target(model.SourceExcel),
		DS:      s.dsTarget(),
	}
}

// Mid 返回参考价；没有可用参考价时第二个返回值为 false
func (s *Store) Mid() ([2]float64, bool) {
	return s.derived.Mid, s.derived.HasMid
}

// ExcelOdds 返回表格目标源的两侧报价
func (s *Store) ExcelOdds() ([2]float64, bool) {
	rec, ok := s.records[model.SourceExcel]
	if !ok {
		return [2]float64{}, false
	}
	return model.Pair(rec.Prices)
}

// DsOdds 返回备用目标源的两侧报价
func (s *Store) DsOdds() ([2]float64, bool) {
	t := s.dsTarget()
	if t == nil {
		return [2]float64{}, false
	}
	return model.Pair(t.Prices)
}

// Subscribe 注册变更回调，注册时立即以当前快照调用一次
// 返回: 取消订阅函数
func (s *Store) Subscribe(fn func(model.Snapshot)) func() {
	id := s.nextID
	s.nextID++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	fn(s.Snapshot())
	return func() {
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) target(id string) *model.TargetRecord {
	rec, ok := s.records[id]
	if !ok {
		return nil
	}
	return &model.TargetRecord{Prices: rec.Prices, Frozen: rec.Frozen}
}

func (s *Store) dsTarget() *model.TargetRecord {
	if t := s.target(model.SourceDS); t != nil {
		return t
	}
	return s.target(model.SourceDataServices)
}

func (s *Store) changed() {
	s.derived = ComputeDerived(s.records, s.swapped)
	if len(s.subs) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, sub := range s.subs {
		sub.fn(snap)
	}
}
