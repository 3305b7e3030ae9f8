// Package guard 守卫评估属性测试
package guard

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"odds-autotrader/internal/core/model"
)

// **Feature: odds-autotrader, Property 5: Guard Priority Determinism**

// priorityOf 返回原因码在优先级表中的位置
func priorityOf(r model.Reason) int {
	switch r {
	case model.ReasonExcelUnknown, model.ReasonExcelInstalling, model.ReasonExcelStarting, model.ReasonExcelOff:
		return 1
	case model.ReasonDsNotConnected:
		return 2
	case model.ReasonMapMismatch:
		return 3
	case model.ReasonExcelSuspended:
		return 4
	case model.ReasonNoMid:
		return 5
	case model.ReasonArbSpike:
		return 6
	}
	return 7
}

func TestCheckGuards_Priority_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("多个条件同时成立时返回优先级最高的原因", prop.ForAll(
		func(procState int, dsConn bool, scriptMap, boardMap int, frozen, hasMid bool, arb float64, useDS bool) bool {
			g := New(model.DefaultGuardSettings())
			switch procState {
			case 1:
				g.SetProcessStatus(model.ProcessStatus{Installing: true})
			case 2:
				g.SetProcessStatus(model.ProcessStatus{Starting: true})
			case 3:
				f := false
				g.SetProcessStatus(model.ProcessStatus{Running: &f})
			case 4:
				tr := true
				g.SetProcessStatus(model.ProcessStatus{Running: &tr})
			}
			g.SetDsConnected(dsConn)
			g.SetScriptMap(scriptMap)
			g.SetBoardMap(boardMap)

			mode := model.ModeExcel
			if useDS {
				mode = model.ModeDS
			}
			target := &model.TargetRecord{Frozen: frozen}
			snap := model.Snapshot{Excel: target, DS: target}
			if hasMid {
				snap.Derived = model.Derived{HasMid: true, Mid: [2]float64{1.8, 2}, HasArb: true, ArbProfitPct: arb}
			}

			// 逐条计算期望的最高优先级
			expected := 7
			procBlocked := procState != 4
			if mode == model.ModeExcel && procBlocked {
				expected = 1
			} else if mode == model.ModeDS && !dsConn {
				expected = 2
			} else if mode == model.ModeExcel && scriptMap >= 1 && scriptMap <= 5 && boardMap >= 1 && boardMap <= 5 && scriptMap != boardMap {
				expected = 3
			} else if frozen {
				expected = 4
			} else if !hasMid {
				expected = 5
			} else if arb >= model.DefaultShockThresholdPct {
				expected = 6
			}

			r := g.CheckGuards(snap, mode)
			if expected == 7 {
				return r.CanTrade && r.Reason == model.ReasonNone
			}
			return !r.CanTrade && priorityOf(r.Reason) == expected
		},
		gen.IntRange(0, 4),
		gen.Bool(),
		gen.IntRange(0, 6),
		gen.IntRange(-1, 6),
		gen.Bool(),
		gen.Bool(),
		gen.Float64Range(0, 100),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
