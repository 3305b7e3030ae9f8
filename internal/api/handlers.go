package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"odds-autotrader/internal/core/model"
	"odds-autotrader/internal/stats/latency"
)

// stateResponse 引擎状态快照
type stateResponse struct {
	State model.EngineState `json:"state"`
	// Label 原因徽标
	Label string `json:"label"`
	// Waiting 用户希望运行但被可恢复原因暂停
	Waiting bool `json:"waiting"`
	// Notice 最近一次推送给控制面的提示
	Notice string `json:"notice,omitempty"`
}

type modeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

type selectionRequest struct {
	Script *int `json:"script"`
	Board  *int `json:"board"`
}

// maxSelection 选择器编号上限（0 表示任意）
const maxSelection = 5

func (s *Server) snapshotState() stateResponse {
	st := s.opts.Hub.State()
	return stateResponse{
		State:   st,
		Label:   model.ReasonLabel(st.Reason),
		Waiting: st.Waiting(),
		Notice:  s.notice,
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	var views int
	var ds bool
	if !s.do(c, func() {
		views = s.opts.Hub.ViewCount()
		ds = s.opts.Hub.DsConnected()
	}) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "views": views, "dsConnected": ds})
}

func (s *Server) handleState(c *gin.Context) {
	var resp stateResponse
	if !s.do(c, func() { resp = s.snapshotState() }) {
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleEnable 开启被守卫阻断时返回 409 与阻断原因
func (s *Server) handleEnable(c *gin.Context) {
	var ok bool
	var resp stateResponse
	if !s.do(c, func() {
		ok = s.control().SetActive(true)
		resp = s.snapshotState()
	}) {
		return
	}
	if !ok {
		s.logger.Info("开启被阻断", zap.String("reason", string(resp.State.Reason)))
		c.JSON(http.StatusConflict, gin.H{"ok": false, "reason": resp.State.Reason, "state": resp})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "state": resp})
}

func (s *Server) handleDisable(c *gin.Context) {
	var resp stateResponse
	if !s.do(c, func() {
		s.control().SetActive(false)
		resp = s.snapshotState()
	}) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "state": resp})
}

func (s *Server) handleToggle(c *gin.Context) {
	var resp stateResponse
	if !s.do(c, func() {
		s.control().Toggle()
		resp = s.snapshotState()
	}) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "state": resp})
}

func (s *Server) handleMode(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mode, err := model.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var resp stateResponse
	if !s.do(c, func() {
		err = s.control().SetMode(mode)
		resp = s.snapshotState()
	}) {
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "state": resp})
}

func (s *Server) handleConfigGet(c *gin.Context) {
	var cfg model.AutoConfig
	if !s.do(c, func() { cfg = s.opts.Hub.State().Config }) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": cfg})
}

// handleConfigUpdate 部分更新，越界值由协调器钳制
func (s *Server) handleConfigUpdate(c *gin.Context) {
	var u model.ConfigUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var cfg model.AutoConfig
	if !s.do(c, func() { cfg = s.control().SetConfig(u) }) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": cfg})
}

func (s *Server) handleSettingsGet(c *gin.Context) {
	var gs model.GuardSettings
	if !s.do(c, func() { gs = s.opts.Hub.GuardSettings() }) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": gs})
}

func (s *Server) handleSettingsUpdate(c *gin.Context) {
	var u model.GuardSettingsUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var gs model.GuardSettings
	if !s.do(c, func() { gs = s.opts.Hub.SetGuardSettings(u) }) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": gs})
}

// handleProcessStatus 外部推送目标进程状态（与轮询器同一入口）
func (s *Server) handleProcessStatus(c *gin.Context) {
	var ps model.ProcessStatus
	if err := c.ShouldBindJSON(&ps); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var merged model.ProcessStatus
	var resp stateResponse
	if !s.do(c, func() {
		s.opts.Hub.SetProcessStatus(ps)
		merged = s.opts.Hub.ProcessStatus()
		resp = s.snapshotState()
	}) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": merged, "state": resp})
}

func (s *Server) handleSelection(c *gin.Context) {
	var req selectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Script == nil && req.Board == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "script 与 board 至少需要一个"})
		return
	}
	for name, v := range map[string]*int{"script": req.Script, "board": req.Board} {
		if v != nil && (*v < 0 || *v > maxSelection) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s 必须在 0-%d 之间", name, maxSelection)})
			return
		}
	}

	var resp stateResponse
	if !s.do(c, func() {
		if req.Script != nil {
			s.opts.Hub.SetScriptMap(*req.Script)
		}
		if req.Board != nil {
			s.opts.Hub.SetBoardMap(*req.Board)
		}
		resp = s.snapshotState()
	}) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "state": resp})
}

func (s *Server) handleOdds(c *gin.Context) {
	var snap model.Snapshot
	if !s.do(c, func() { snap = s.opts.Store.Snapshot() }) {
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handlePropagation(c *gin.Context) {
	stats := []latency.Stats{}
	if s.opts.Latency != nil {
		stats = s.opts.Latency.All()
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}
