package status

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odds-autotrader/internal/core/model"
)

func TestPoll_Running(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"running":true,"starting":false,"installing":false}`))
	}))
	defer srv.Close()

	p := NewPoller(Config{URL: srv.URL}, nil, nil)
	st := p.Poll(context.Background())
	assert.True(t, st.IsRunning())
	assert.Empty(t, st.Error)
}

func TestPoll_FailuresReportOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"starting":true}`))
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := NewPoller(Config{URL: srv.URL}, nil, nil).Poll(context.Background())
	assert.True(t, st.Known())
	assert.False(t, st.IsRunning())
	assert.Contains(t, st.Error, "500")

	st = NewPoller(Config{URL: srv.URL + "/missing"}, nil, nil).Poll(context.Background())
	assert.False(t, st.IsRunning())
	assert.Contains(t, st.Error, "running")

	st = NewPoller(Config{URL: "http://127.0.0.1:1", TimeoutMs: 200}, nil, nil).Poll(context.Background())
	assert.False(t, st.IsRunning())
	assert.NotEmpty(t, st.Error)
}

func TestRun_ReportsOnlyChanges(t *testing.T) {
	var running atomic.Bool
	running.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if running.Load() {
			_, _ = w.Write([]byte(`{"running":true}`))
		} else {
			_, _ = w.Write([]byte(`{"running":false}`))
		}
	}))
	defer srv.Close()

	var mu sync.Mutex
	var got []model.ProcessStatus
	p := NewPoller(Config{URL: srv.URL, PollIntervalMs: 10}, func(s model.ProcessStatus) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	running.Store(false)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.True(t, got[0].IsRunning())
	assert.False(t, got[1].IsRunning())
}
