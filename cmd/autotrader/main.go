// Package main 是赔率自动交易协调进程的入口点。
// 进程从报价推送获取各源赔率，由协调器决定方向脉冲并通过输入代理发送按键，
// 多个进程之间通过总线同步开关状态与参数。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"odds-autotrader/internal/api"
	"odds-autotrader/internal/config"
	"odds-autotrader/internal/core/auto"
	"odds-autotrader/internal/core/guard"
	"odds-autotrader/internal/core/hub"
	"odds-autotrader/internal/core/model"
	"odds-autotrader/internal/core/odds"
	"odds-autotrader/internal/core/sched"
	"odds-autotrader/internal/feed"
	"odds-autotrader/internal/metrics"
	"odds-autotrader/internal/output/jsonl"
	"odds-autotrader/internal/stats/latency"
	"odds-autotrader/internal/status"
	"odds-autotrader/internal/transport/agent"
	"odds-autotrader/internal/transport/bus"
)

var (
	_ hub.Publisher = (*bus.Transport)(nil)
	_ bus.Handler   = (*hub.Hub)(nil)
	_ feed.Controls = (*hub.Hub)(nil)
	_ auto.Sink     = agent.Sink(nil)
)

// consoleViewID 进程自身挂载的界面，用于日志输出
const consoleViewID = "console"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("进程异常退出", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) (err error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，开始优雅关闭")
		cancel()
	}()

	// 指标
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)
	tracker := latency.NewTracker(cfg.Output.LatencyWindow)
	observers := []auto.Observer{collector, tracker}

	var journalWriter *jsonl.Writer
	if cfg.Output.JournalEnabled {
		journalWriter, err = jsonl.NewWriter(filepath.Join(cfg.Output.Dir, "journal.jsonl"), cfg.Output.BufferSize)
		if err != nil {
			return fmt.Errorf("创建 journal writer 失败: %w", err)
		}
		observers = append(observers, jsonl.NewJournal(journalWriter, logger))
	}

	// 跨进程总线
	var b bus.Bus
	switch cfg.Bus.Driver {
	case "redis":
		startCtx, startCancel := context.WithTimeout(ctx, 10*time.Second)
		r, rerr := bus.NewRedis(startCtx, bus.RedisConfig{
			Addr:       cfg.Bus.Redis.Addr,
			Password:   cfg.Bus.Redis.Password,
			DB:         cfg.Bus.Redis.DB,
			PoolSize:   cfg.Bus.Redis.PoolSize,
			MaxRetries: cfg.Bus.Redis.MaxRetries,
			TLSEnabled: cfg.Bus.Redis.TLSEnabled,
			KeyPrefix:  cfg.Bus.Redis.KeyPrefix,
		})
		startCancel()
		if rerr != nil {
			return fmt.Errorf("连接 redis 总线失败: %w", rerr)
		}
		b = r
	default:
		b = bus.NewMemory(cfg.Bus.BufferSize)
	}
	transport := bus.NewTransport(b, cfg.Bus.Topic, logger)

	// 命令出口
	var agentClient *agent.Client
	var sink agent.Sink
	if cfg.Agent.URL == "" {
		logger.Warn("未配置输入代理，命令只记录日志")
		sink = agent.NewLogSink(logger)
	} else {
		agentClient = agent.NewClient(agent.Config{
			URL:             cfg.Agent.URL,
			QueueSize:       cfg.Agent.QueueSize,
			PingIntervalMs:  cfg.Agent.PingIntervalMs,
			PongTimeoutMs:   cfg.Agent.PongTimeoutMs,
			WriteTimeoutMs:  cfg.Agent.WriteTimeoutMs,
			MaxStaleMs:      cfg.Agent.MaxStaleMs,
			ReconnectBaseMs: cfg.Agent.ReconnectBaseMs,
			ReconnectMaxMs:  cfg.Agent.ReconnectMaxMs,
		}, logger)
		collector.RegisterLink("agent", func() bool { return agentClient.Metrics().Connected })
		sink = agentClient
	}
	if *cfg.Agent.DedupEnabled {
		sink = agent.NewDedup(sink, time.Now)
	}

	// 引擎（只在事件循环上访问）
	loop := sched.NewLoop(logger, 4096)
	store := odds.NewStore()
	h := hub.New(hub.Options{
		Logger:       logger,
		Scheduler:    loop,
		Source:       store,
		Guards:       guard.New(cfg.GuardSettings()),
		Sink:         sink,
		Publisher:    transport,
		SignalSender: cfg.IsSignalSender(),
		Config:       cfg.Auto.AutoConfig,
		Observers:    observers,
	})

	feedClient := feed.NewClient(feed.Config{
		URL:             cfg.Feed.URL,
		PingIntervalMs:  cfg.Feed.PingIntervalMs,
		PongTimeoutMs:   cfg.Feed.PongTimeoutMs,
		ReconnectBaseMs: cfg.Feed.ReconnectBaseMs,
		ReconnectMaxMs:  cfg.Feed.ReconnectMaxMs,
		EventBuffer:     cfg.Feed.EventBuffer,
	}, logger)
	collector.RegisterLink("feed", func() bool { return feedClient.Metrics().Connected })

	server := api.NewServer(api.Options{
		Logger:   logger,
		Exec:     loop,
		Hub:      h,
		Store:    store,
		Latency:  tracker,
		Gatherer: reg,
	})

	// 事件循环独立于其他组件运行，最后停止
	loopCtx, loopCancel := context.WithCancel(context.Background())
	defer loopCancel()
	go func() { _ = loop.Run(loopCtx) }()

	mode := cfg.StartMode()
	if err := loop.Do(func() {
		h.AttachView(consoleViewID, consoleCallbacks(logger))
		if err := h.SetMode(mode); err != nil {
			logger.Warn("设置启动模式失败", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	logger.Info("协调器就绪",
		zap.String("mode", string(mode)),
		zap.Bool("signal_sender", cfg.IsSignalSender()),
		zap.String("bus", cfg.Bus.Driver),
	)

	startCtx, startCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := feedClient.Connect(startCtx); err != nil {
		// Run 会按退避继续重连
		logger.Warn("报价推送首次连接失败", zap.Error(err))
	}
	startCancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feedClient.Run(gctx) })
	g.Go(func() error { return pumpFeed(gctx, feedClient.EventCh(), loop, store, h) })
	g.Go(func() error { return transport.Run(gctx) })
	g.Go(func() error { return transport.Listen(gctx, loop, h) })
	if agentClient != nil {
		g.Go(func() error { return agentClient.Run(gctx) })
	}
	if cfg.Status.URL != "" {
		poller := status.NewPoller(status.Config{
			URL:            cfg.Status.URL,
			PollIntervalMs: cfg.Status.PollIntervalMs,
			TimeoutMs:      cfg.Status.TimeoutMs,
		}, func(s model.ProcessStatus) {
			loop.Post(func() { h.SetProcessStatus(s) })
		}, logger)
		g.Go(func() error { return poller.Run(gctx) })
	}
	shutdownTimeout := time.Duration(cfg.HTTP.ShutdownTimeoutMs) * time.Millisecond
	g.Go(func() error { return server.Run(gctx, cfg.HTTP.Addr, shutdownTimeout) })

	<-gctx.Done()

	// 优雅关闭（超时后强制退出）
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err = <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("关闭超时，强制退出")
	}

	// 停止协调器的定时任务后再停止事件循环
	_ = loop.Do(h.Close)
	loopCancel()
	<-loop.Done()

	closeErr := multierr.Combine(
		feedClient.Close(),
		b.Close(),
	)
	if agentClient != nil {
		closeErr = multierr.Append(closeErr, agentClient.Close())
	}
	if journalWriter != nil {
		closeErr = multierr.Append(closeErr, journalWriter.Close())
	}
	if closeErr != nil {
		logger.Warn("关闭资源失败", zap.Error(closeErr))
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("关闭完成")
	return err
}

// pumpFeed 把推送事件投递到事件循环
func pumpFeed(ctx context.Context, events <-chan *feed.Event, loop sched.Poster, store *odds.Store, h *hub.Hub) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			loop.Post(func() { feed.Apply(ev, store, h) })
		}
	}
}

// consoleCallbacks 进程自身的界面：开关变化与提示写入日志
func consoleCallbacks(logger *zap.Logger) hub.ViewCallbacks {
	logger = logger.Named(consoleViewID)
	return hub.ViewCallbacks{
		OnActiveChanged: func(active bool, st model.EngineState) {
			logger.Info("自动交易开关变化",
				zap.Bool("active", active),
				zap.String("reason", string(st.Reason)),
				zap.String("label", model.ReasonLabel(st.Reason)),
			)
		},
		Status: func(msg string) {
			logger.Debug("状态", zap.String("status", msg))
		},
	}
}
