// Package config 负责加载和验证 YAML 配置文件。
// 提供自动交易进程所需的全部配置项，包括协调器参数、守卫阈值、报价源与按键代理连接、跨进程总线等。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"odds-autotrader/internal/core/model"
)

// EnvPrefix 环境变量覆盖前缀
const EnvPrefix = "AUTOTRADER_"

// Config 应用配置根结构
// 包含所有子模块的配置项
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// Auto 协调器运行参数
	Auto AutoConfig `yaml:"auto"`
	// Guard 守卫阈值与开关
	Guard GuardConfig `yaml:"guard"`
	// Feed 报价源 WebSocket 配置
	Feed FeedConfig `yaml:"feed"`
	// Agent 按键代理 WebSocket 配置
	Agent AgentConfig `yaml:"agent"`
	// Status 目标进程状态轮询配置
	Status StatusConfig `yaml:"status"`
	// Bus 跨进程同步总线配置
	Bus BusConfig `yaml:"bus"`
	// HTTP 控制面配置
	HTTP HTTPConfig `yaml:"http"`
	// Output 输出配置
	Output OutputConfig `yaml:"output"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
	// LogFile 日志文件路径，为空时只输出到标准输出
	LogFile string `yaml:"log_file"`
	// LogMaxSizeMB 单个日志文件最大尺寸（MB）
	LogMaxSizeMB int `yaml:"log_max_size_mb"`
	// LogMaxBackups 保留的历史日志文件数
	LogMaxBackups int `yaml:"log_max_backups"`
	// LogMaxAgeDays 历史日志保留天数
	LogMaxAgeDays int `yaml:"log_max_age_days"`
}

// AutoConfig 协调器配置
type AutoConfig struct {
	model.AutoConfig `yaml:",inline"`
	// Mode 启动时的交易模式: excel, ds
	Mode string `yaml:"mode"`
	// SignalSender 是否由本实例发送命令；多实例部署时只有一个实例为 true
	SignalSender *bool `yaml:"signal_sender"`
}

// GuardConfig 守卫配置
// 布尔项使用指针以区分未配置与显式 false
type GuardConfig struct {
	StopOnNoMid           *bool   `yaml:"stop_on_no_mid"`
	ResumeOnMid           *bool   `yaml:"resume_on_mid"`
	ShockThresholdPct     float64 `yaml:"shock_threshold_pct"`
	SuspendThresholdPct   float64 `yaml:"suspend_threshold_pct"`
	AlignmentThresholdPct float64 `yaml:"alignment_threshold_pct"`
}

// FeedConfig 报价源连接配置
type FeedConfig struct {
	// URL WebSocket 连接地址
	URL string `yaml:"url"`
	// PingIntervalMs 心跳间隔（毫秒）
	PingIntervalMs int `yaml:"ping_interval_ms"`
	// PongTimeoutMs 心跳响应超时（毫秒）
	PongTimeoutMs int `yaml:"pong_timeout_ms"`
	// ReconnectBaseMs 重连基础退避（毫秒）
	ReconnectBaseMs int `yaml:"reconnect_base_ms"`
	// ReconnectMaxMs 重连最大退避（毫秒）
	ReconnectMaxMs int `yaml:"reconnect_max_ms"`
	// EventBuffer 事件通道容量
	EventBuffer int `yaml:"event_buffer"`
}

// AgentConfig 按键代理连接配置
type AgentConfig struct {
	// URL WebSocket 地址，为空时只记录日志（演练模式）
	URL string `yaml:"url"`
	// QueueSize 发送队列容量
	QueueSize int `yaml:"queue_size"`
	// PingIntervalMs 心跳间隔（毫秒）
	PingIntervalMs int `yaml:"ping_interval_ms"`
	// PongTimeoutMs 心跳响应超时（毫秒）
	PongTimeoutMs int `yaml:"pong_timeout_ms"`
	// WriteTimeoutMs 单帧写超时（毫秒）
	WriteTimeoutMs int `yaml:"write_timeout_ms"`
	// MaxStaleMs 排队超过该时长的命令直接丢弃（毫秒）
	MaxStaleMs int `yaml:"max_stale_ms"`
	// ReconnectBaseMs 重连基础退避（毫秒）
	ReconnectBaseMs int `yaml:"reconnect_base_ms"`
	// ReconnectMaxMs 重连最大退避（毫秒）
	ReconnectMaxMs int `yaml:"reconnect_max_ms"`
	// DedupEnabled 是否启用重复按键抑制
	DedupEnabled *bool `yaml:"dedup_enabled"`
}

// StatusConfig 目标进程状态轮询配置
type StatusConfig struct {
	// URL 状态接口地址，为空时不轮询
	URL string `yaml:"url"`
	// PollIntervalMs 轮询间隔（毫秒）
	PollIntervalMs int `yaml:"poll_interval_ms"`
	// TimeoutMs 单次请求超时（毫秒）
	TimeoutMs int `yaml:"timeout_ms"`
}

// BusConfig 跨进程同步总线配置
type BusConfig struct {
	// Driver 总线实现: memory, redis
	Driver string `yaml:"driver"`
	// Topic 发布订阅主题
	Topic string `yaml:"topic"`
	// BufferSize 内存总线订阅缓冲
	BufferSize int `yaml:"buffer_size"`
	// Redis Redis 连接配置（driver=redis 时使用）
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	PoolSize   int    `yaml:"pool_size"`
	MaxRetries int    `yaml:"max_retries"`
	TLSEnabled bool   `yaml:"tls_enabled"`
	KeyPrefix  string `yaml:"key_prefix"`
}

// HTTPConfig 控制面配置
type HTTPConfig struct {
	// Addr 监听地址
	Addr string `yaml:"addr"`
	// ShutdownTimeoutMs 优雅关闭超时（毫秒）
	ShutdownTimeoutMs int `yaml:"shutdown_timeout_ms"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	// Dir 输出目录
	Dir string `yaml:"dir"`
	// JournalEnabled 是否输出决策日志
	JournalEnabled bool `yaml:"journal_enabled"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
	// LatencyWindow 传播延迟统计窗口大小
	LatencyWindow int `yaml:"latency_window"`
}

// Load 从文件加载配置并验证
// 工作目录下存在 .env 时先载入，随后 AUTOTRADER_* 环境变量覆盖文件中的值。
// 参数 path: 配置文件路径
// 返回: 解析后的配置对象，若失败则返回错误
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// applyEnv 用环境变量覆盖配置
// 参数 lookup: 环境变量查询函数
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"LOG_LEVEL":      &c.App.LogLevel,
		"LOG_FILE":       &c.App.LogFile,
		"MODE":           &c.Auto.Mode,
		"FEED_URL":       &c.Feed.URL,
		"AGENT_URL":      &c.Agent.URL,
		"STATUS_URL":     &c.Status.URL,
		"BUS_DRIVER":     &c.Bus.Driver,
		"BUS_TOPIC":      &c.Bus.Topic,
		"REDIS_ADDR":     &c.Bus.Redis.Addr,
		"REDIS_PASSWORD": &c.Bus.Redis.Password,
		"HTTP_ADDR":      &c.HTTP.Addr,
		"OUTPUT_DIR":     &c.Output.Dir,
	}
	for name, dst := range str {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	if v, ok := lookup(EnvPrefix + "REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sREDIS_DB: 无效的整数 '%s'", EnvPrefix, v)
		}
		c.Bus.Redis.DB = n
	}
	if v, ok := lookup(EnvPrefix + "SIGNAL_SENDER"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sSIGNAL_SENDER: 无效的布尔值 '%s'", EnvPrefix, v)
		}
		c.Auto.SignalSender = &b
	}
	return nil
}

// setDefaults 设置配置默认值
func (c *Config) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "odds-autotrader"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.LogMaxSizeMB == 0 {
		c.App.LogMaxSizeMB = 100
	}
	if c.App.LogMaxBackups == 0 {
		c.App.LogMaxBackups = 5
	}
	if c.App.LogMaxAgeDays == 0 {
		c.App.LogMaxAgeDays = 7
	}

	// 协调器参数，未配置的字段取内置默认值
	def := model.DefaultAutoConfig()
	a := &c.Auto.AutoConfig
	if a.TolerancePct == 0 {
		a.TolerancePct = def.TolerancePct
	}
	if a.IntervalMs == 0 {
		a.IntervalMs = def.IntervalMs
	}
	if a.PulseStepPct == 0 {
		a.PulseStepPct = def.PulseStepPct
	}
	if a.PulseGapMs == 0 {
		a.PulseGapMs = def.PulseGapMs
	}
	if a.MaxPulses == 0 {
		a.MaxPulses = def.MaxPulses
	}
	if a.FireCooldownMs == 0 {
		a.FireCooldownMs = def.FireCooldownMs
	}
	if a.ConfirmDelayMs == 0 {
		a.ConfirmDelayMs = def.ConfirmDelayMs
	}
	if a.SuspendRetryDelayMs == 0 {
		a.SuspendRetryDelayMs = def.SuspendRetryDelayMs
	}
	if c.Auto.Mode == "" {
		c.Auto.Mode = string(model.ModeExcel)
	}
	if c.Auto.SignalSender == nil {
		on := true
		c.Auto.SignalSender = &on
	}

	gdef := model.DefaultGuardSettings()
	if c.Guard.StopOnNoMid == nil {
		c.Guard.StopOnNoMid = &gdef.StopOnNoMid
	}
	if c.Guard.ResumeOnMid == nil {
		c.Guard.ResumeOnMid = &gdef.ResumeOnMid
	}
	if c.Guard.ShockThresholdPct == 0 {
		c.Guard.ShockThresholdPct = gdef.ShockThresholdPct
	}
	if c.Guard.SuspendThresholdPct == 0 {
		c.Guard.SuspendThresholdPct = gdef.SuspendThresholdPct
	}
	if c.Guard.AlignmentThresholdPct == 0 {
		c.Guard.AlignmentThresholdPct = gdef.AlignmentThresholdPct
	}

	if c.Feed.PingIntervalMs == 0 {
		c.Feed.PingIntervalMs = 10000 // 10 秒
	}
	if c.Feed.PongTimeoutMs == 0 {
		c.Feed.PongTimeoutMs = 5000
	}
	if c.Feed.ReconnectBaseMs == 0 {
		c.Feed.ReconnectBaseMs = 500
	}
	if c.Feed.ReconnectMaxMs == 0 {
		c.Feed.ReconnectMaxMs = 10000
	}
	if c.Feed.EventBuffer == 0 {
		c.Feed.EventBuffer = 1000
	}

	if c.Agent.QueueSize == 0 {
		c.Agent.QueueSize = 64
	}
	if c.Agent.PingIntervalMs == 0 {
		c.Agent.PingIntervalMs = 5000
	}
	if c.Agent.PongTimeoutMs == 0 {
		c.Agent.PongTimeoutMs = 3000
	}
	if c.Agent.WriteTimeoutMs == 0 {
		c.Agent.WriteTimeoutMs = 1000
	}
	if c.Agent.MaxStaleMs == 0 {
		c.Agent.MaxStaleMs = 2000
	}
	if c.Agent.ReconnectBaseMs == 0 {
		c.Agent.ReconnectBaseMs = 500
	}
	if c.Agent.ReconnectMaxMs == 0 {
		c.Agent.ReconnectMaxMs = 10000
	}
	if c.Agent.DedupEnabled == nil {
		on := true
		c.Agent.DedupEnabled = &on
	}

	if c.Status.PollIntervalMs == 0 {
		c.Status.PollIntervalMs = 1000
	}
	if c.Status.TimeoutMs == 0 {
		c.Status.TimeoutMs = 800
	}

	if c.Bus.Driver == "" {
		c.Bus.Driver = "memory"
	}
	if c.Bus.Topic == "" {
		c.Bus.Topic = "autotrader.events"
	}
	if c.Bus.BufferSize == 0 {
		c.Bus.BufferSize = 256
	}
	if c.Bus.Redis.PoolSize == 0 {
		c.Bus.Redis.PoolSize = 10
	}
	if c.Bus.Redis.MaxRetries == 0 {
		c.Bus.Redis.MaxRetries = 3
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ShutdownTimeoutMs == 0 {
		c.HTTP.ShutdownTimeoutMs = 10000 // 10 秒
	}

	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}
	if c.Output.LatencyWindow == 0 {
		c.Output.LatencyWindow = 500
	}
}

// Validate 验证配置合法性
// 检查所有必填项和数值范围
// 返回: 若配置无效则返回描述性错误
func (c *Config) Validate() error {
	var errs []string

	// 日志级别
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}
	if c.App.LogFile != "" && c.App.LogMaxSizeMB <= 0 {
		errs = append(errs, "app.log_max_size_mb: 日志文件尺寸必须为正数")
	}

	// 协调器参数
	a := c.Auto.AutoConfig
	if a.TolerancePct < model.MinTolerancePct || a.TolerancePct > model.MaxTolerancePct {
		errs = append(errs, fmt.Sprintf("auto.tolerance_pct: 必须在 %.0f-%.0f 之间，当前值: %g",
			model.MinTolerancePct, model.MaxTolerancePct, a.TolerancePct))
	}
	if a.PulseStepPct < model.MinPulseStepPct || a.PulseStepPct > model.MaxPulseStepPct {
		errs = append(errs, fmt.Sprintf("auto.pulse_step_pct: 必须在 %.0f-%.0f 之间，当前值: %g",
			model.MinPulseStepPct, model.MaxPulseStepPct, a.PulseStepPct))
	}
	if a.IntervalMs < model.MinIntervalMs || a.IntervalMs > model.MaxIntervalMs {
		errs = append(errs, fmt.Sprintf("auto.interval_ms: 必须在 %d-%d 之间，当前值: %d",
			model.MinIntervalMs, model.MaxIntervalMs, a.IntervalMs))
	}
	if a.MaxPulses < 1 || a.MaxPulses > model.MaxConfiguredPulses {
		errs = append(errs, fmt.Sprintf("auto.max_pulses: 必须在 1-%d 之间，当前值: %d", model.MaxConfiguredPulses, a.MaxPulses))
	}
	if a.PulseGapMs < 0 {
		errs = append(errs, "auto.pulse_gap_ms: 脉冲间隔不能为负数")
	}
	if a.FireCooldownMs < 0 {
		errs = append(errs, "auto.fire_cooldown_ms: 冷却时间不能为负数")
	}
	if a.ConfirmDelayMs < 0 {
		errs = append(errs, "auto.confirm_delay_ms: 提交延迟不能为负数")
	}
	if a.SuspendRetryDelayMs < model.MinSuspendRetryDelay || a.SuspendRetryDelayMs > model.MaxSuspendRetryDelay {
		errs = append(errs, fmt.Sprintf("auto.suspend_retry_delay_ms: 必须在 %d-%d 之间，当前值: %d",
			model.MinSuspendRetryDelay, model.MaxSuspendRetryDelay, a.SuspendRetryDelayMs))
	}
	if _, err := model.ParseMode(c.Auto.Mode); err != nil {
		errs = append(errs, "auto.mode: "+err.Error())
	}

	// 守卫阈值
	if c.Guard.ShockThresholdPct <= 0 {
		errs = append(errs, "guard.shock_threshold_pct: 阈值必须为正数")
	}
	if c.Guard.SuspendThresholdPct <= 0 {
		errs = append(errs, "guard.suspend_threshold_pct: 阈值必须为正数")
	}
	if c.Guard.AlignmentThresholdPct <= 0 {
		errs = append(errs, "guard.alignment_threshold_pct: 阈值必须为正数")
	}
	if c.Guard.AlignmentThresholdPct > 0 && c.Guard.AlignmentThresholdPct >= c.Guard.ShockThresholdPct {
		errs = append(errs, "guard.alignment_threshold_pct: 恢复阈值必须小于 shock_threshold_pct")
	}

	// 连接地址
	if c.Feed.URL == "" {
		errs = append(errs, "feed.url: 报价源 WebSocket 地址不能为空")
	} else if !hasScheme(c.Feed.URL, "ws://", "wss://") {
		errs = append(errs, fmt.Sprintf("feed.url: 必须以 ws:// 或 wss:// 开头，当前值: %s", c.Feed.URL))
	}
	if c.Agent.URL != "" && !hasScheme(c.Agent.URL, "ws://", "wss://") {
		errs = append(errs, fmt.Sprintf("agent.url: 必须以 ws:// 或 wss:// 开头，当前值: %s", c.Agent.URL))
	}
	if c.Agent.QueueSize <= 0 {
		errs = append(errs, "agent.queue_size: 队列容量必须为正数")
	}
	if c.Status.URL != "" && !hasScheme(c.Status.URL, "http://", "https://") {
		errs = append(errs, fmt.Sprintf("status.url: 必须以 http:// 或 https:// 开头，当前值: %s", c.Status.URL))
	}
	if c.Status.PollIntervalMs <= 0 {
		errs = append(errs, "status.poll_interval_ms: 轮询间隔必须为正数")
	}

	// 总线
	switch c.Bus.Driver {
	case "memory":
	case "redis":
		if c.Bus.Redis.Addr == "" {
			errs = append(errs, "bus.redis.addr: redis 总线需要配置地址")
		}
	default:
		errs = append(errs, fmt.Sprintf("bus.driver: 无效的总线实现 '%s'，有效值: memory, redis", c.Bus.Driver))
	}
	if c.Bus.Topic == "" {
		errs = append(errs, "bus.topic: 主题不能为空")
	}

	if c.HTTP.Addr == "" {
		errs = append(errs, "http.addr: 监听地址不能为空")
	}
	if c.Output.BufferSize <= 0 {
		errs = append(errs, "output.buffer_size: 缓冲区大小必须为正数")
	}
	if c.Output.LatencyWindow <= 0 {
		errs = append(errs, "output.latency_window: 统计窗口必须为正数")
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func hasScheme(url string, schemes ...string) bool {
	for _, s := range schemes {
		if strings.HasPrefix(url, s) {
			return true
		}
	}
	return false
}

// StartMode 启动模式（已通过验证）
func (c *Config) StartMode() model.Mode {
	m, _ := model.ParseMode(c.Auto.Mode)
	return m
}

// GuardSettings 转换为守卫设置
// 协调器容差同步到守卫
func (c *Config) GuardSettings() model.GuardSettings {
	s := model.DefaultGuardSettings()
	if c.Guard.StopOnNoMid != nil {
		s.StopOnNoMid = *c.Guard.StopOnNoMid
	}
	if c.Guard.ResumeOnMid != nil {
		s.ResumeOnMid = *c.Guard.ResumeOnMid
	}
	s.ShockThresholdPct = c.Guard.ShockThresholdPct
	s.SuspendThresholdPct = c.Guard.SuspendThresholdPct
	s.AlignmentThresholdPct = c.Guard.AlignmentThresholdPct
	s.TolerancePct = c.Auto.TolerancePct
	return s
}

// IsSignalSender 本实例是否发送命令
func (c *Config) IsSignalSender() bool {
	return c.Auto.SignalSender == nil || *c.Auto.SignalSender
}
