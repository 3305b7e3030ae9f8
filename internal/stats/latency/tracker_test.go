package latency

import (
	"math"
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"odds-autotrader/internal/core/model"
)

// **Feature: odds-autotrader, Property 9: Percentile Calculation Correctness**

func TestTracker_Percentiles(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("分位数等于排序后的最近秩", prop.ForAll(
		func(samples []int) bool {
			if len(samples) == 0 {
				return true
			}
			tr := NewTracker(10000)
			ns := make([]int64, len(samples))
			for i, ms := range samples {
				d := time.Duration(ms) * time.Millisecond
				tr.OnTargetPropagation(model.ModeExcel, d)
				ns[i] = int64(d)
			}
			sort.Slice(ns, func(i, j int) bool { return ns[i] < ns[j] })
			n := len(ns)
			want := func(q float64) float64 { return float64(ns[int(float64(n-1)*q)]) / 1e6 }

			st := tr.Stats(model.ModeExcel)
			return st.Count == int64(n) &&
				approxEqual(st.P50Ms, want(0.5), 1e-9) &&
				approxEqual(st.P90Ms, want(0.9), 1e-9) &&
				approxEqual(st.P99Ms, want(0.99), 1e-9) &&
				approxEqual(st.MaxMs, float64(ns[n-1])/1e6, 1e-9) &&
				st.P50Ms <= st.P90Ms && st.P90Ms <= st.P99Ms
		},
		gen.SliceOf(gen.IntRange(0, 5000)),
	))

	properties.TestingRun(t)
}

func TestTracker_ModesAreIndependent(t *testing.T) {
	tr := NewTracker(10)
	tr.OnTargetPropagation(model.ModeExcel, 300*time.Millisecond)
	tr.OnTargetPropagation(model.ModeDS, 80*time.Millisecond)
	tr.OnTargetPropagation(model.ModeDS, -time.Second)

	all := tr.All()
	if len(all) != 2 || all[0].Mode != model.ModeExcel || all[1].Mode != model.ModeDS {
		t.Fatalf("All() = %+v", all)
	}
	if all[0].Count != 1 || all[0].P50Ms != 300 {
		t.Fatalf("excel stats = %+v", all[0])
	}
	if all[1].Count != 1 || all[1].P99Ms != 80 {
		t.Fatalf("ds stats = %+v", all[1])
	}
}

func TestTracker_WindowRolls(t *testing.T) {
	tr := NewTracker(3)
	for _, ms := range []int{1000, 1000, 1000, 10, 10, 10} {
		tr.OnTargetPropagation(model.ModeExcel, time.Duration(ms)*time.Millisecond)
	}
	st := tr.Stats(model.ModeExcel)
	if st.Count != 6 || st.Window != 3 {
		t.Fatalf("count=%d window=%d", st.Count, st.Window)
	}
	if st.MaxMs != 10 {
		t.Fatalf("旧样本应已滚出窗口, max=%v", st.MaxMs)
	}

	empty := NewTracker(3).Stats(model.Mode("other"))
	if empty.Count != 0 || empty.P50Ms != 0 {
		t.Fatalf("未知模式应为空统计: %+v", empty)
	}
}

func approxEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}
