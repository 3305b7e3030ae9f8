// Package status 轮询目标进程的存活状态。
// 目标进程的控制器提供 GET 接口返回 {"running","starting","installing","error"}；
// 请求失败视为未运行，错误文本写入 error。
package status

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"odds-autotrader/internal/core/model"
)

// Config 轮询配置
type Config struct {
	URL            string
	PollIntervalMs int
	TimeoutMs      int
}

// response 控制器返回的状态
type response struct {
	Running    *bool  `json:"running"`
	Starting   bool   `json:"starting"`
	Installing bool   `json:"installing"`
	Error      string `json:"error"`
}

// Poller 进程状态轮询器
type Poller struct {
	cfg      Config
	client   *resty.Client
	logger   *zap.Logger
	onStatus func(model.ProcessStatus)

	last    model.ProcessStatus
	hasLast bool
}

// NewPoller 创建轮询器
// 参数 onStatus: 状态变化（含第一次）时回调，在轮询协程上执行
func NewPoller(cfg Config, onStatus func(model.ProcessStatus), logger *zap.Logger) *Poller {
	if cfg.PollIntervalMs <= 0 {
		cfg.PollIntervalMs = 1000
	}
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = 800
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetTimeout(time.Duration(cfg.TimeoutMs)*time.Millisecond).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "odds-autotrader/1.0")

	return &Poller{
		cfg:      cfg,
		client:   client,
		logger:   logger.Named("status"),
		onStatus: onStatus,
	}
}

// Poll 查询一次
// 返回: 请求或解析失败时 running=false，error 为失败原因
func (p *Poller) Poll(ctx context.Context) model.ProcessStatus {
	var body response
	resp, err := p.client.R().SetContext(ctx).SetResult(&body).Get(p.cfg.URL)
	if err != nil {
		return offline(fmt.Sprintf("请求失败: %v", err))
	}
	if !resp.IsSuccess() {
		return offline(fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body()))))
	}
	if body.Running == nil {
		return offline("响应缺少 running")
	}
	return model.ProcessStatus{
		Running:    body.Running,
		Starting:   body.Starting,
		Installing: body.Installing,
		Error:      body.Error,
	}
}

func offline(msg string) model.ProcessStatus {
	running := false
	return model.ProcessStatus{Running: &running, Error: msg}
}

// Run 轮询直到 ctx 取消
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(p.cfg.PollIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	st := p.Poll(ctx)
	if ctx.Err() != nil {
		return
	}
	if p.hasLast && same(p.last, st) {
		return
	}
	if st.IsRunning() != p.last.IsRunning() || !p.hasLast {
		p.logger.Info("目标进程状态变化",
			zap.Bool("running", st.IsRunning()),
			zap.Bool("starting", st.Starting),
			zap.Bool("installing", st.Installing),
			zap.String("error", st.Error),
		)
	}
	p.last, p.hasLast = st, true
	if p.onStatus != nil {
		p.onStatus(st)
	}
}

func same(a, b model.ProcessStatus) bool {
	return a.IsRunning() == b.IsRunning() && a.Known() == b.Known() &&
		a.Starting == b.Starting && a.Installing == b.Installing && a.Error == b.Error
}
