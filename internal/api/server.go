// Package api 提供自动交易进程的 HTTP 控制面。
// 所有对引擎的访问都通过 sched.Executor 投递到事件循环执行，handler 本身不持有引擎状态。
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"odds-autotrader/internal/core/hub"
	"odds-autotrader/internal/core/odds"
	"odds-autotrader/internal/core/sched"
	"odds-autotrader/internal/stats/latency"
)

// controlViewID HTTP 控制面在 hub 上挂载的界面标识
const controlViewID = "http"

// Options 控制面依赖
type Options struct {
	Logger *zap.Logger
	// Exec 事件循环执行器
	Exec sched.Executor
	Hub  *hub.Hub
	// Store 报价缓存（只在事件循环上读取）
	Store *odds.Store
	// Latency 传播耗时统计，可为 nil
	Latency *latency.Tracker
	// Gatherer /metrics 数据源，nil 时使用默认注册表
	Gatherer prometheus.Gatherer
}

// Server HTTP 控制面
type Server struct {
	logger *zap.Logger
	opts   Options

	// 以下字段只在事件循环上访问
	view   *hub.View
	notice string
}

// NewServer 创建控制面
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		logger: logger.Named("api"),
		opts:   opts,
	}
}

// Router 构建路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	r.GET("/ws/view", s.handleViewStream)

	api := r.Group("/api")

	auto := api.Group("/auto")
	auto.GET("/state", s.handleState)
	auto.POST("/enable", s.handleEnable)
	auto.POST("/disable", s.handleDisable)
	auto.POST("/toggle", s.handleToggle)
	auto.PUT("/mode", s.handleMode)
	auto.GET("/config", s.handleConfigGet)
	auto.PUT("/config", s.handleConfigUpdate)
	auto.GET("/settings", s.handleSettingsGet)
	auto.PUT("/settings", s.handleSettingsUpdate)
	auto.PUT("/process-status", s.handleProcessStatus)
	auto.PUT("/selection", s.handleSelection)

	api.GET("/odds", s.handleOdds)
	api.GET("/stats/propagation", s.handlePropagation)

	return r
}

// Run 监听 addr 直到 ctx 取消，随后在 shutdownTimeout 内优雅关闭
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("控制面启动", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("控制面已关闭")
	return nil
}

// do 在事件循环上执行 fn，循环已停止时返回 503
func (s *Server) do(c *gin.Context, fn func()) bool {
	if err := s.opts.Exec.Do(fn); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// control 返回控制面自己的界面句柄，第一次使用时挂载
// 必须在事件循环上调用。
func (s *Server) control() *hub.View {
	if s.view == nil {
		s.view = s.opts.Hub.AttachView(controlViewID, hub.ViewCallbacks{
			Status: func(msg string) { s.notice = msg },
		})
	}
	return s.view
}
