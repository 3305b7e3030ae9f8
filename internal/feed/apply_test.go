package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odds-autotrader/internal/core/model"
	"odds-autotrader/internal/core/odds"
)

type recControls struct {
	calls    []string
	statuses []model.ProcessStatus
	script   []int
	board    []int
	ds       []bool
}

func (r *recControls) SetProcessStatus(s model.ProcessStatus) {
	r.calls = append(r.calls, "status")
	r.statuses = append(r.statuses, s)
}

func (r *recControls) SetDsConnected(c bool) {
	r.calls = append(r.calls, "ds")
	r.ds = append(r.ds, c)
}

func (r *recControls) SetScriptMap(m int) {
	r.calls = append(r.calls, "script")
	r.script = append(r.script, m)
}

func (r *recControls) SetBoardMap(m int) {
	r.calls = append(r.calls, "board")
	r.board = append(r.board, m)
}

func mustParse(t *testing.T, raw string) *Event {
	t.Helper()
	ev, err := NewParser().Parse([]byte(raw))
	require.NoError(t, err)
	require.NotNil(t, ev)
	return ev
}

func TestApply_OddsLifecycle(t *testing.T) {
	store := odds.NewStore()
	ctl := &recControls{}

	Apply(mustParse(t, `{"type":"odds","broker":"a","odds":[1.8,2.0]}`), store, ctl)
	Apply(mustParse(t, `{"type":"odds","broker":"b","odds":[2.0,1.8]}`), store, ctl)
	Apply(mustParse(t, `{"type":"odds","broker":"excel","map":2,"odds":[1.9,1.9]}`), store, ctl)

	snap := store.Snapshot()
	assert.Len(t, snap.Records, 3)
	require.NotNil(t, snap.Excel)
	assert.Equal(t, []int{2}, ctl.script)
	mid, ok := store.Mid()
	require.True(t, ok)
	assert.InDelta(t, 1.9, mid[0], 1e-9)

	// 互换后 b 的两侧对调，mid 收窄
	Apply(mustParse(t, `{"type":"swapped","brokers":["b"]}`), store, ctl)
	mid, _ = store.Mid()
	assert.InDelta(t, 1.8, mid[0], 1e-9)
	assert.Equal(t, []string{"b"}, store.Swapped())

	Apply(mustParse(t, `{"type":"broker-closed","id":"a"}`), store, ctl)
	assert.NotContains(t, store.Snapshot().Records, "a")

	// 同步时保留目标源
	Apply(mustParse(t, `{"type":"brokers-sync","ids":[]}`), store, ctl)
	snap = store.Snapshot()
	assert.NotContains(t, snap.Records, "b")
	assert.NotNil(t, snap.Excel)
	assert.False(t, snap.Derived.HasMid)
}

func TestApply_Controls(t *testing.T) {
	store := odds.NewStore()
	ctl := &recControls{}

	Apply(mustParse(t, `{"type":"process-status","running":true}`), store, ctl)
	Apply(mustParse(t, `{"type":"ds-connected","connected":true}`), store, ctl)
	Apply(mustParse(t, `{"type":"selection","script":1,"board":4}`), store, ctl)
	Apply(nil, store, ctl)

	assert.Equal(t, []string{"status", "ds", "script", "board"}, ctl.calls)
	assert.True(t, ctl.statuses[0].IsRunning())
	assert.Equal(t, []int{4}, ctl.board)
}

func TestApply_ScriptMapBeforeOdds(t *testing.T) {
	store := odds.NewStore()
	ctl := &recControls{}
	seen := 0
	store.Subscribe(func(model.Snapshot) { seen = len(ctl.script) })

	Apply(mustParse(t, `{"type":"odds","broker":"excel","map":5,"odds":[1.9,1.9]}`), store, ctl)
	assert.Equal(t, 1, seen)
}
