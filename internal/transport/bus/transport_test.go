package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odds-autotrader/internal/core/model"
)

type inlinePoster struct{}

func (inlinePoster) Post(fn func()) bool {
	fn()
	return true
}

type recHandler struct {
	mu       sync.Mutex
	active   []bool
	stateSet [][2]bool
	toggles  int
	configs  []model.ConfigUpdate
	settings []model.GuardSettingsUpdate
	statuses []model.ProcessStatus
}

func (h *recHandler) HandleRemoteActive(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = append(h.active, on)
}

func (h *recHandler) HandleRemoteStateSet(active, manual bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stateSet = append(h.stateSet, [2]bool{active, manual})
}

func (h *recHandler) HandleRemoteToggle() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.toggles++
}

func (h *recHandler) HandleRemoteConfig(u model.ConfigUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.configs = append(h.configs, u)
}

func (h *recHandler) HandleRemoteGuardSettings(u model.GuardSettingsUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settings = append(h.settings, u)
}

func (h *recHandler) HandleRemoteProcessStatus(s model.ProcessStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, s)
}

func (h *recHandler) activeSnapshot() []bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]bool(nil), h.active...)
}

// start 启动发送与接收循环，并等待订阅建立
func start(t *testing.T, ctx context.Context, tr *Transport, h Handler) {
	t.Helper()
	go func() { _ = tr.Run(ctx) }()
	go func() { _ = tr.Listen(ctx, inlinePoster{}, h) }()
	time.Sleep(20 * time.Millisecond)
}

func TestTransport_DeliversToOthersOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := NewMemory(16)
	a, b := NewTransport(mem, "", nil), NewTransport(mem, "", nil)
	require.NotEqual(t, a.Origin(), b.Origin())

	ha, hb := &recHandler{}, &recHandler{}
	start(t, ctx, a, ha)
	start(t, ctx, b, hb)

	a.PublishActive(true)
	require.Eventually(t, func() bool { return len(hb.activeSnapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true}, hb.activeSnapshot())
	assert.Empty(t, ha.activeSnapshot())
}

func TestTransport_AllMessageTypes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := NewMemory(16)
	a, b := NewTransport(mem, "t", nil), NewTransport(mem, "t", nil)
	hb := &recHandler{}
	start(t, ctx, a, &recHandler{})
	start(t, ctx, b, hb)

	tol := 2.5
	shock := 60.0
	running := false
	a.PublishStateSet(true, false)
	a.PublishToggle()
	a.PublishConfig(model.ConfigUpdate{TolerancePct: &tol})
	a.PublishGuardSettings(model.GuardSettingsUpdate{ShockThresholdPct: &shock})
	a.PublishProcessStatus(model.ProcessStatus{Running: &running, Error: "exit 1"})

	require.Eventually(t, func() bool {
		hb.mu.Lock()
		defer hb.mu.Unlock()
		return len(hb.statuses) == 1
	}, time.Second, 5*time.Millisecond)

	hb.mu.Lock()
	defer hb.mu.Unlock()
	assert.Equal(t, [][2]bool{{true, false}}, hb.stateSet)
	assert.Equal(t, 1, hb.toggles)
	require.Len(t, hb.configs, 1)
	assert.Equal(t, 2.5, *hb.configs[0].TolerancePct)
	require.Len(t, hb.settings, 1)
	assert.Equal(t, 60.0, *hb.settings[0].ShockThresholdPct)
	assert.False(t, hb.statuses[0].IsRunning())
	assert.True(t, hb.statuses[0].Known())
	assert.Equal(t, "exit 1", hb.statuses[0].Error)
}

func TestTransport_LateListenerConverges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := NewMemory(16)
	a := NewTransport(mem, "", nil)
	go func() { _ = a.Run(ctx) }()
	a.PublishActive(true)

	require.Eventually(t, func() bool {
		_, ok, _ := mem.Retained(ctx, a.retainedTopic())
		return ok
	}, time.Second, 5*time.Millisecond)

	late := NewTransport(mem, "", nil)
	h := &recHandler{}
	go func() { _ = late.Listen(ctx, inlinePoster{}, h) }()
	require.Eventually(t, func() bool { return len(h.activeSnapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true}, h.activeSnapshot())
}

func TestTransport_DecodeIgnoresOwnAndUnknown(t *testing.T) {
	tr := NewTransport(NewMemory(1), "", nil)
	h := &recHandler{}

	own, err := json.Marshal(Envelope{Type: TypeToggle, Origin: tr.Origin()})
	require.NoError(t, err)
	fn, err := tr.decode(own, h)
	assert.NoError(t, err)
	assert.Nil(t, fn)

	unknown, err := json.Marshal(Envelope{Type: "nope", Origin: "x"})
	require.NoError(t, err)
	_, err = tr.decode(unknown, h)
	assert.Error(t, err)

	_, err = tr.decode([]byte("{"), h)
	assert.Error(t, err)
}

func TestTransport_QueueFullDrops(t *testing.T) {
	tr := NewTransport(NewMemory(1), "", nil)
	for i := 0; i < defaultOutboundBuf+10; i++ {
		tr.PublishToggle()
	}
	assert.Equal(t, defaultOutboundBuf, len(tr.out))
}

func TestMemory_RetainedAndClose(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory(4)
	_, ok, err := mem.Retained(ctx, "x")
	require.NoError(t, err)
	assert.False(t, ok)

	ch, err := mem.Subscribe(ctx, "x")
	require.NoError(t, err)
	require.NoError(t, mem.Publish(ctx, "x", []byte("1"), true))
	assert.Equal(t, []byte("1"), <-ch)

	data, ok, err := mem.Retained(ctx, "x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), data)

	require.NoError(t, mem.Close())
	_, open := <-ch
	assert.False(t, open)
	assert.ErrorIs(t, mem.Publish(ctx, "x", nil, false), ErrClosed)
}
