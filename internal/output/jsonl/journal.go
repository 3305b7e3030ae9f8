package jsonl

import (
	"time"

	"go.uber.org/zap"

	"odds-autotrader/internal/core/auto"
	"odds-autotrader/internal/core/model"
)

// Record 决策日志的一行
type Record struct {
	TS   string `json:"ts"`
	Kind string `json:"kind"`

	Key       model.Key `json:"key,omitempty"`
	Side      *int      `json:"side,omitempty"`
	Direction string    `json:"direction,omitempty"`
	DiffPct   float64   `json:"diff_pct,omitempty"`
	Retry     bool      `json:"retry,omitempty"`
	Error     string    `json:"error,omitempty"`

	Active *bool        `json:"active,omitempty"`
	Phase  model.Phase  `json:"phase,omitempty"`
	Mode   model.Mode   `json:"mode,omitempty"`
	Reason model.Reason `json:"reason,omitempty"`
	Status string       `json:"status,omitempty"`

	UserInitiated bool `json:"user_initiated,omitempty"`

	Cause          model.AlignCauseKind `json:"cause,omitempty"`
	SuppressSignal bool                 `json:"suppress_signal,omitempty"`
	OK             *bool                `json:"ok,omitempty"`
	Attempts       int                  `json:"attempts,omitempty"`

	DurationMs float64 `json:"duration_ms,omitempty"`
}

// Journal 把协调器事件写成 JSONL
// 状态变化只在 active/phase/mode/reason 变化时记录。
type Journal struct {
	auto.NopObserver

	w      *Writer
	logger *zap.Logger
	now    func() time.Time

	last    model.EngineState
	hasLast bool
}

// NewJournal 创建决策日志
func NewJournal(w *Writer, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{w: w, logger: logger.Named("journal"), now: time.Now}
}

func (j *Journal) write(r Record) {
	r.TS = j.now().UTC().Format(time.RFC3339Nano)
	if err := j.w.Write(r); err != nil {
		j.logger.Debug("写入决策日志失败",
			zap.String("kind", r.Kind),
			zap.Int64("dropped", j.w.Dropped()),
			zap.Error(err),
		)
	}
}

func (j *Journal) OnCommand(cmd model.Command, err error) {
	r := Record{
		Kind:      "command",
		Key:       cmd.Key,
		Side:      cmd.Side,
		Direction: cmd.Direction,
		DiffPct:   cmd.DiffPct,
		Retry:     cmd.Retry,
	}
	if err != nil {
		r.Error = err.Error()
	}
	j.write(r)
}

func (j *Journal) OnStateChange(st model.EngineState) {
	if j.hasLast && st.Active == j.last.Active && st.Phase == j.last.Phase &&
		st.Mode == j.last.Mode && st.Reason == j.last.Reason {
		return
	}
	j.last, j.hasLast = st, true
	active := st.Active
	j.write(Record{
		Kind:   "state",
		Active: &active,
		Phase:  st.Phase,
		Mode:   st.Mode,
		Reason: st.Reason,
		Status: st.Status,
	})
}

func (j *Journal) OnSuspend(reason model.Reason, userInitiated bool) {
	j.write(Record{Kind: "suspend", Reason: reason, UserInitiated: userInitiated})
}

func (j *Journal) OnAlignment(cause model.AlignCause, ok bool, attempts int) {
	j.write(Record{
		Kind:           "alignment",
		Cause:          cause.Cause,
		SuppressSignal: cause.SuppressSignal,
		OK:             &ok,
		Attempts:       attempts,
	})
}

func (j *Journal) OnTargetPropagation(mode model.Mode, d time.Duration) {
	j.write(Record{Kind: "propagation", Mode: mode, DurationMs: float64(d) / float64(time.Millisecond)})
}
