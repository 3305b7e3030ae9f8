// Package hub 让多个界面共享同一个协调器。
// Hub 在第一次 AttachView 时创建唯一的协调器，把状态变化分发给所有已挂载的界面，
// 并负责进程存活、源选择一致性、守卫设置等跨界面输入，以及跨进程广播。
package hub

import (
	"go.uber.org/zap"

	"odds-autotrader/internal/core/auto"
	"odds-autotrader/internal/core/guard"
	"odds-autotrader/internal/core/model"
	"odds-autotrader/internal/core/sched"
)

// Publisher 跨进程广播（实现方不得阻塞事件循环）
type Publisher interface {
	PublishActive(on bool)
	PublishConfig(u model.ConfigUpdate)
	PublishGuardSettings(u model.GuardSettingsUpdate)
	PublishProcessStatus(s model.ProcessStatus)
}

// ViewCallbacks 界面回调，均可为 nil
type ViewCallbacks struct {
	// OnActiveChanged 引擎 active 标志变化
	OnActiveChanged func(active bool, st model.EngineState)
	// Flash 发送了一个方向脉冲（参数为修正侧）
	Flash func(side int)
	// Status 状态文本变化或阻断提示
	Status func(msg string)
	// OnState 任意状态变化
	OnState func(st model.EngineState)
}

// Options Hub 依赖
type Options struct {
	Logger       *zap.Logger
	Scheduler    sched.Scheduler
	Source       auto.Source
	Guards       *guard.System
	Sink         auto.Sink
	Publisher    Publisher
	SignalSender bool
	Config       model.AutoConfig
	// Observers 额外的协调器观察者（指标、journal）
	Observers []auto.Observer
}

type viewEntry struct {
	id string
	cb ViewCallbacks
}

// Hub 多界面共享层
// 所有方法只能在事件循环上调用。
type Hub struct {
	auto.NopObserver

	logger *zap.Logger
	opts   Options
	guards *guard.System
	pub    Publisher

	coord *auto.Coordinator
	views []*viewEntry

	lastActive bool
	lastStatus string

	// remoteActive 协调器创建前收到的跨进程 active 状态
	remoteActive *bool
}

// New 创建 Hub（此时不创建协调器）
func New(opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Guards == nil {
		opts.Guards = guard.New(model.DefaultGuardSettings())
	}
	return &Hub{
		logger: logger.Named("hub"),
		opts:   opts,
		guards: opts.Guards,
		pub:    opts.Publisher,
	}
}

// AttachView 挂载界面
// 第一次调用时创建协调器；之后返回绑定到同一协调器的新句柄。
// 同一 id 再次挂载会替换之前的回调。
func (h *Hub) AttachView(id string, cb ViewCallbacks) *View {
	if id == "" {
		id = "view"
	}
	h.ensure()

	replaced := false
	for _, v := range h.views {
		if v.id == id {
			v.cb = cb
			replaced = true
			break
		}
	}
	if !replaced {
		h.views = append(h.views, &viewEntry{id: id, cb: cb})
	}
	h.logger.Debug("界面挂载", zap.String("view", id), zap.Int("views", len(h.views)))

	if cb.OnState != nil {
		cb.OnState(h.coord.State())
	}
	return &View{hub: h, id: id}
}

func (h *Hub) detach(id string) {
	for i, v := range h.views {
		if v.id == id {
			h.views = append(h.views[:i:i], h.views[i+1:]...)
			h.logger.Debug("界面卸载", zap.String("view", id), zap.Int("views", len(h.views)))
			return
		}
	}
}

// ViewCount 已挂载界面数
func (h *Hub) ViewCount() int {
	return len(h.views)
}

// ensure 创建唯一的协调器
func (h *Hub) ensure() *auto.Coordinator {
	if h.coord != nil {
		return h.coord
	}
	observers := auto.Observers{h}
	observers = append(observers, h.opts.Observers...)

	h.coord = auto.New(auto.Options{
		Logger:       h.opts.Logger,
		Scheduler:    h.opts.Scheduler,
		Source:       h.opts.Source,
		Guards:       h.guards,
		Sink:         h.opts.Sink,
		Broadcast:    h.onBroadcast,
		SignalSender: h.opts.SignalSender,
		Observer:     observers,
		Config:       h.opts.Config,
	})
	h.coord.Subscribe(h.onState)
	h.coord.Start()
	h.logger.Info("协调器已创建", zap.Bool("signal_sender", h.opts.SignalSender))

	// 晚启动的进程与已知的全局状态对齐
	if h.remoteActive != nil && *h.remoteActive {
		h.coord.HandleActiveSet(true)
	}
	h.remoteActive = nil
	return h.coord
}

// Coordinator 返回协调器（尚未创建时为 nil）
func (h *Hub) Coordinator() *auto.Coordinator {
	return h.coord
}

// State 返回引擎状态；协调器尚未创建时返回默认状态
func (h *Hub) State() model.EngineState {
	if h.coord == nil {
		return model.EngineState{
			Phase:  model.PhaseIdle,
			Mode:   model.ModeExcel,
			Config: model.DefaultAutoConfig(),
		}
	}
	return h.coord.State()
}

// Close 停止协调器的定时任务
func (h *Hub) Close() {
	if h.coord != nil {
		h.coord.Close()
	}
}

func (h *Hub) onState(st model.EngineState) {
	activeChanged := st.Active != h.lastActive
	statusChanged := st.Status != h.lastStatus
	h.lastActive = st.Active
	h.lastStatus = st.Status

	for _, v := range h.snapshotViews() {
		if v.cb.OnState != nil {
			v.cb.OnState(st)
		}
		if activeChanged && v.cb.OnActiveChanged != nil {
			v.cb.OnActiveChanged(st.Active, st)
		}
		if statusChanged && st.Status != "" && v.cb.Status != nil {
			v.cb.Status(st.Status)
		}
	}
}

func (h *Hub) onBroadcast(on bool) {
	if h.pub != nil {
		h.pub.PublishActive(on)
	}
}

// OnCommand 方向脉冲时闪烁所有界面
func (h *Hub) OnCommand(cmd model.Command, err error) {
	if err != nil || cmd.IsSignal() || cmd.Key == model.KeyConfirm || cmd.Side == nil {
		return
	}
	side := *cmd.Side
	for _, v := range h.snapshotViews() {
		if v.cb.Flash != nil {
			v.cb.Flash(side)
		}
	}
}

// statusAll 向所有界面推送提示
func (h *Hub) statusAll(msg string) {
	for _, v := range h.snapshotViews() {
		if v.cb.Status != nil {
			v.cb.Status(msg)
		}
	}
}

// snapshotViews 回调中可能挂载/卸载界面，遍历副本
func (h *Hub) snapshotViews() []*viewEntry {
	out := make([]*viewEntry, len(h.views))
	copy(out, h.views)
	return out
}

// setActive 界面开关
func (h *Hub) setActive(on bool) bool {
	c := h.ensure()
	if !on {
		c.Disable()
		return true
	}
	if c.Enable() {
		return true
	}
	h.statusAll("Auto blocked: " + string(c.State().Reason))
	return false
}

func (h *Hub) toggle() {
	c := h.ensure()
	wasOff := !c.State().Active && !c.State().UserWanted && !c.State().UserSuspended
	c.Toggle()
	if wasOff && !c.State().Active {
		h.statusAll("Auto blocked: " + string(c.State().Reason))
	}
}

// SetConfig 更新运行参数并广播到其他进程
func (h *Hub) SetConfig(u model.ConfigUpdate) model.AutoConfig {
	cfg := h.ensure().SetConfig(u)
	if h.pub != nil && !u.IsEmpty() {
		h.pub.PublishConfig(u)
	}
	return cfg
}

// SetMode 切换交易模式
func (h *Hub) SetMode(mode model.Mode) error {
	return h.ensure().SetMode(mode)
}

// SetProcessStatus 本地收到目标进程状态（推送或轮询）
func (h *Hub) SetProcessStatus(s model.ProcessStatus) {
	h.applyProcessStatus(s)
	if h.pub != nil {
		h.pub.PublishProcessStatus(s)
	}
}

// applyProcessStatus 目标进程不再运行时强制停止
func (h *Hub) applyProcessStatus(s model.ProcessStatus) {
	prev := h.guards.ProcessStatus()
	h.guards.SetProcessStatus(s)
	cur := h.guards.ProcessStatus()

	if alive(cur) {
		return
	}
	if prev.Known() && !alive(prev) {
		// 之前就未运行
		return
	}
	if h.coord == nil || h.coord.Mode() != model.ModeExcel {
		return
	}
	st := h.coord.State()
	if !st.Active && !st.UserWanted {
		return
	}
	reason := processReason(cur)
	h.logger.Warn("目标进程停止，强制关闭自动交易", zap.String("reason", string(reason)), zap.String("error", cur.Error))
	h.coord.Stop(reason)
	h.statusAll("Auto blocked: " + string(reason))
}

// alive 目标进程已运行且不在启动/安装阶段
func alive(s model.ProcessStatus) bool {
	return s.IsRunning() && !s.Starting && !s.Installing
}

func processReason(s model.ProcessStatus) model.Reason {
	switch {
	case s.Installing:
		return model.ReasonExcelInstalling
	case s.Starting:
		return model.ReasonExcelStarting
	case !s.Known():
		return model.ReasonExcelUnknown
	default:
		return model.ReasonExcelOff
	}
}

// ProcessStatus 目标进程状态
func (h *Hub) ProcessStatus() model.ProcessStatus {
	return h.guards.ProcessStatus()
}

// SetScriptMap 脚本侧源选择
func (h *Hub) SetScriptMap(m int) {
	h.guards.SetScriptMap(m)
}

// SetBoardMap 面板侧源选择
func (h *Hub) SetBoardMap(m int) {
	h.guards.SetBoardMap(m)
}

// SetDsConnected 备用源连接状态
func (h *Hub) SetDsConnected(connected bool) {
	h.guards.SetDsConnected(connected)
}

// DsConnected 备用源是否已连接
func (h *Hub) DsConnected() bool {
	return h.guards.DsConnected()
}

// SetGuardSettings 更新守卫设置并广播
func (h *Hub) SetGuardSettings(u model.GuardSettingsUpdate) model.GuardSettings {
	h.guards.SetSettings(u)
	if h.pub != nil {
		h.pub.PublishGuardSettings(u)
	}
	return h.guards.Settings()
}

// GuardSettings 当前守卫设置
func (h *Hub) GuardSettings() model.GuardSettings {
	return h.guards.Settings()
}

// 以下方法处理其他进程的广播，不再向外转发

// HandleRemoteActive 其他进程的 active-set
func (h *Hub) HandleRemoteActive(on bool) {
	if h.coord == nil {
		h.remoteActive = &on
		return
	}
	h.coord.HandleActiveSet(on)
}

// HandleRemoteStateSet 外部主控的 state-set
func (h *Hub) HandleRemoteStateSet(active, manual bool) {
	h.ensure().HandleStateSet(active, manual)
}

// HandleRemoteToggle 外部切换
func (h *Hub) HandleRemoteToggle() {
	h.toggle()
}

// HandleRemoteConfig 其他进程修改了运行参数
func (h *Hub) HandleRemoteConfig(u model.ConfigUpdate) {
	h.ensure().SetConfig(u)
}

// HandleRemoteGuardSettings 其他进程修改了守卫设置
func (h *Hub) HandleRemoteGuardSettings(u model.GuardSettingsUpdate) {
	h.guards.SetSettings(u)
}

// HandleRemoteProcessStatus 其他进程转发的目标进程状态
func (h *Hub) HandleRemoteProcessStatus(s model.ProcessStatus) {
	h.applyProcessStatus(s)
}

// View 界面句柄，只持有回调，不持有状态
type View struct {
	hub *Hub
	id  string
}

// ID 界面标识
func (v *View) ID() string {
	return v.id
}

// State 共享引擎状态副本
func (v *View) State() model.EngineState {
	return v.hub.State()
}

// SetActive 开关引擎
// 返回: 开启被阻断时返回 false
func (v *View) SetActive(on bool) bool {
	return v.hub.setActive(on)
}

// Toggle 切换引擎
func (v *View) Toggle() {
	v.hub.toggle()
}

// SetMode 切换交易模式
func (v *View) SetMode(mode model.Mode) error {
	return v.hub.SetMode(mode)
}

// SetConfig 更新运行参数
func (v *View) SetConfig(u model.ConfigUpdate) model.AutoConfig {
	return v.hub.SetConfig(u)
}

// Detach 卸载界面；引擎继续运行
func (v *View) Detach() {
	v.hub.detach(v.id)
}
