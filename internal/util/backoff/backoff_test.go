package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// **Feature: odds-autotrader, Property 7: Reconnect Backoff Bounds**

// TestBackoff_Bounds 无抖动时单调不减且不超过上限
func TestBackoff_Bounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("退避时间单调不减且有上限", prop.ForAll(
		func(baseMs, maxMs, steps int) bool {
			b := New(time.Duration(baseMs)*time.Millisecond, time.Duration(maxMs)*time.Millisecond, 0)
			prev := time.Duration(0)
			for i := 0; i < steps; i++ {
				d := b.Next()
				if d < prev || d > b.max {
					return false
				}
				prev = d
			}
			return true
		},
		gen.IntRange(1, 2000),
		gen.IntRange(1, 60000),
		gen.IntRange(1, 80),
	))

	properties.Property("抖动在 ±jitter 范围内", prop.ForAll(
		func(baseMs, jitterPct int) bool {
			base := time.Duration(baseMs) * time.Millisecond
			j := float64(jitterPct) / 100
			b := New(base, 100*base, j)
			d := b.Next()
			return float64(d) >= float64(base)*(1-j)-1 && float64(d) <= float64(base)*(1+j)+1
		},
		gen.IntRange(100, 2000),
		gen.IntRange(0, 30),
	))

	properties.TestingRun(t)
}

func TestBackoff_SpecificValues(t *testing.T) {
	b := New(500*time.Millisecond, 10*time.Second, 0)
	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Fatalf("attempt %d: got %v, want %v", i, got, w)
		}
	}

	b.Reset()
	if b.Attempt() != 0 || b.Next() != 500*time.Millisecond {
		t.Fatalf("Reset 后应回到基础值")
	}
}

func TestBackoff_LongOutageDoesNotOverflow(t *testing.T) {
	b := New(time.Second, time.Minute, 0)
	for i := 0; i < 200; i++ {
		if d := b.Next(); d <= 0 || d > time.Minute {
			t.Fatalf("attempt %d: delay = %v", i, d)
		}
	}
}

func TestBackoff_WaitHonoursContext(t *testing.T) {
	b := New(time.Hour, time.Hour, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Wait(ctx); err == nil {
		t.Fatalf("ctx 已取消时 Wait 应返回错误")
	}

	fast := New(time.Millisecond, time.Millisecond, 0)
	if err := fast.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}
