// Package odds 维护各报价源的最新记录，并计算参考价（mid）与套利百分比。
package odds

import (
	"math"

	"odds-autotrader/internal/core/model"
)

// ComputeDerived 由非目标源的记录计算派生量
// 参数 records: 按源标识索引的记录
// 参数 swapped: 两侧顺序需要对调的源
// 返回: 没有可用记录时 HasMid=false
//
// 参与计算的记录需满足：不是目标源、未冻结、两侧都是正数。
// mid[i] = (min_i + max_i) / 2；over = 1/max_0 + 1/max_1；over < 1 时 arb = (1-over)*100，否则为 0。
func ComputeDerived(records map[string]model.OddsRecord, swapped map[string]struct{}) model.Derived {
	lo := [2]float64{math.Inf(1), math.Inf(1)}
	hi := [2]float64{math.Inf(-1), math.Inf(-1)}
	n := 0

	for id, rec := range records {
		if model.IsTargetSource(id) || model.IsTargetSource(rec.Source) || rec.Frozen {
			continue
		}
		pair, ok := model.Pair(rec.Prices)
		if !ok || pair[0] <= 0 || pair[1] <= 0 {
			continue
		}
		if _, sw := swapped[id]; sw {
			pair[0], pair[1] = pair[1], pair[0]
		}
		for i := 0; i < 2; i++ {
			lo[i] = math.Min(lo[i], pair[i])
			hi[i] = math.Max(hi[i], pair[i])
		}
		n++
	}

	if n == 0 {
		return model.Derived{}
	}

	d := model.Derived{
		HasMid: true,
		Mid:    [2]float64{(lo[0] + hi[0]) / 2, (lo[1] + hi[1]) / 2},
		HasArb: true,
	}
	over := 1/hi[0] + 1/hi[1]
	if over < 1 {
		d.ArbProfitPct = (1 - over) * 100
	}
	return d
}
