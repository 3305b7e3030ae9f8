// Package config 配置模块测试
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"odds-autotrader/internal/core/model"
)

// **Feature: odds-autotrader, Property 6: Config Validation Correctness**

// TestConfigValidation_AutoRanges 测试协调器参数范围验证
// 属性: 容差在 [1,10] 之外、脉冲步长在 [8,15] 之外应验证失败
func TestConfigValidation_AutoRanges(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("容差在有效范围内应通过验证", prop.ForAll(
		func(tol float64) bool {
			cfg := createValidConfig()
			cfg.Auto.TolerancePct = tol
			return cfg.Validate() == nil
		},
		gen.Float64Range(model.MinTolerancePct, model.MaxTolerancePct),
	))

	properties.Property("容差超出范围应验证失败", prop.ForAll(
		func(tol float64, above bool) bool {
			cfg := createValidConfig()
			if above {
				cfg.Auto.TolerancePct = model.MaxTolerancePct + tol
			} else {
				cfg.Auto.TolerancePct = model.MinTolerancePct - tol
			}
			return cfg.Validate() != nil
		},
		gen.Float64Range(0.0001, 100),
		gen.Bool(),
	))

	properties.Property("脉冲步长超出范围应验证失败", prop.ForAll(
		func(d float64, above bool) bool {
			cfg := createValidConfig()
			if above {
				cfg.Auto.PulseStepPct = model.MaxPulseStepPct + d
			} else {
				cfg.Auto.PulseStepPct = model.MinPulseStepPct - d
			}
			return cfg.Validate() != nil
		},
		gen.Float64Range(0.0001, 100),
		gen.Bool(),
	))

	properties.Property("挂起补发延迟在 [100,2000] 内应通过验证", prop.ForAll(
		func(ms int) bool {
			cfg := createValidConfig()
			cfg.Auto.SuspendRetryDelayMs = ms
			return cfg.Validate() == nil
		},
		gen.IntRange(model.MinSuspendRetryDelay, model.MaxSuspendRetryDelay),
	))

	properties.TestingRun(t)
}

// TestConfigValidation_GuardThresholds 测试守卫阈值验证
// 属性: 恢复阈值必须严格小于 shock 阈值
func TestConfigValidation_GuardThresholds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("恢复阈值与 shock 阈值的顺序决定验证结果", prop.ForAll(
		func(shock, align float64) bool {
			cfg := createValidConfig()
			cfg.Guard.ShockThresholdPct = shock
			cfg.Guard.AlignmentThresholdPct = align
			err := cfg.Validate()
			if align < shock {
				return err == nil
			}
			return err != nil
		},
		gen.Float64Range(1, 200),
		gen.Float64Range(1, 200),
	))

	properties.Property("非正阈值应验证失败", prop.ForAll(
		func(v float64) bool {
			cfg := createValidConfig()
			cfg.Guard.SuspendThresholdPct = v
			return cfg.Validate() != nil
		},
		gen.Float64Range(-1000, 0),
	))

	properties.TestingRun(t)
}

// TestConfigValidation_ValidConfig 测试有效配置
func TestConfigValidation_ValidConfig(t *testing.T) {
	cfg := createValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("有效配置应通过验证，但返回错误: %v", err)
	}
}

// TestConfigValidation_CollectsAllErrors 测试一次返回全部问题
func TestConfigValidation_CollectsAllErrors(t *testing.T) {
	cfg := createValidConfig()
	cfg.App.LogLevel = "verbose"
	cfg.Feed.URL = "http://localhost:9000"
	cfg.Bus.Driver = "kafka"
	cfg.Auto.Mode = "manual"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("应返回错误")
	}
	msg := err.Error()
	for _, field := range []string{"app.log_level", "feed.url", "bus.driver", "auto.mode"} {
		if !strings.Contains(msg, field) {
			t.Errorf("错误信息缺少 %s: %s", field, msg)
		}
	}
}

func TestConfigValidation_Bus(t *testing.T) {
	cfg := createValidConfig()
	cfg.Bus.Driver = "redis"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "bus.redis.addr") {
		t.Fatalf("redis 总线缺少地址应失败, got %v", err)
	}
	cfg.Bus.Redis.Addr = "localhost:6379"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestConfigValidation_OptionalURLs(t *testing.T) {
	cfg := createValidConfig()
	cfg.Agent.URL = ""
	cfg.Status.URL = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("agent/status 地址可为空: %v", err)
	}
	cfg.Agent.URL = "http://agent"
	cfg.Status.URL = "ws://status"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "agent.url") || !strings.Contains(err.Error(), "status.url") {
		t.Fatalf("错误的协议应失败, got %v", err)
	}
}

// createValidConfig 创建一个有效的配置用于测试
func createValidConfig() *Config {
	cfg := &Config{
		App: AppConfig{Name: "test", LogLevel: "info"},
		Feed: FeedConfig{
			URL: "ws://127.0.0.1:9010/feed",
		},
		Agent:  AgentConfig{URL: "ws://127.0.0.1:9020/agent"},
		Status: StatusConfig{URL: "http://127.0.0.1:9030/status"},
	}
	cfg.setDefaults()
	return cfg
}

// TestLoad_ValidFile 测试从有效文件加载配置
func TestLoad_ValidFile(t *testing.T) {
	content := `
app:
  name: "autotrader-test"
  log_level: "debug"

auto:
  mode: "ds"
  tolerance_pct: 2.5
  pulse_step_pct: 12
  signal_sender: false

guard:
  stop_on_no_mid: false
  shock_threshold_pct: 60

feed:
  url: "ws://127.0.0.1:9010/feed"

bus:
  driver: "redis"
  topic: "test.events"
  redis:
    addr: "127.0.0.1:6379"
    db: 2
`

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("创建临时文件失败: %v", err)
	}

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.App.Name != "autotrader-test" {
		t.Errorf("App.Name = %s, want autotrader-test", cfg.App.Name)
	}
	if cfg.StartMode() != model.ModeDS {
		t.Errorf("StartMode = %s, want ds", cfg.StartMode())
	}
	if cfg.Auto.TolerancePct != 2.5 || cfg.Auto.PulseStepPct != 12 {
		t.Errorf("Auto = %+v", cfg.Auto.AutoConfig)
	}
	// 未配置的字段取默认值
	if cfg.Auto.IntervalMs != model.DefaultIntervalMs || cfg.Auto.MaxPulses != model.DefaultMaxPulses {
		t.Errorf("默认值未生效: %+v", cfg.Auto.AutoConfig)
	}
	if cfg.IsSignalSender() {
		t.Error("signal_sender=false 应生效")
	}

	gs := cfg.GuardSettings()
	if gs.StopOnNoMid {
		t.Error("stop_on_no_mid=false 应生效")
	}
	if !gs.ResumeOnMid {
		t.Error("resume_on_mid 未配置时应为 true")
	}
	if gs.ShockThresholdPct != 60 || gs.SuspendThresholdPct != model.DefaultSuspendThresholdPct {
		t.Errorf("GuardSettings = %+v", gs)
	}
	if gs.TolerancePct != 2.5 {
		t.Errorf("守卫容差应与协调器同步, got %v", gs.TolerancePct)
	}

	if cfg.Bus.Redis.DB != 2 || cfg.Bus.Topic != "test.events" {
		t.Errorf("Bus = %+v", cfg.Bus)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.Output.Dir != "./output" {
		t.Errorf("默认值未生效: http=%s output=%s", cfg.HTTP.Addr, cfg.Output.Dir)
	}
}

// TestLoad_EnvOverride 测试环境变量覆盖
func TestLoad_EnvOverride(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	content := "feed:\n  url: \"ws://file/feed\"\n"
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("创建临时文件失败: %v", err)
	}

	t.Setenv("AUTOTRADER_FEED_URL", "ws://env/feed")
	t.Setenv("AUTOTRADER_MODE", "ds")
	t.Setenv("AUTOTRADER_SIGNAL_SENDER", "false")
	t.Setenv("AUTOTRADER_REDIS_DB", "4")

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Feed.URL != "ws://env/feed" {
		t.Errorf("Feed.URL = %s", cfg.Feed.URL)
	}
	if cfg.StartMode() != model.ModeDS || cfg.IsSignalSender() || cfg.Bus.Redis.DB != 4 {
		t.Errorf("环境变量未生效: %+v", cfg)
	}
}

func TestLoad_EnvInvalidNumber(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(tmpFile, []byte("feed:\n  url: \"ws://x\"\n"), 0644); err != nil {
		t.Fatalf("创建临时文件失败: %v", err)
	}
	t.Setenv("AUTOTRADER_REDIS_DB", "two")
	if _, err := Load(tmpFile); err == nil {
		t.Error("无效的整数应返回错误")
	}
}

// TestLoad_InvalidFile 测试加载无效文件
func TestLoad_InvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("加载不存在的文件应返回错误")
	}
}

// TestLoad_InvalidYAML 测试加载无效 YAML
func TestLoad_InvalidYAML(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "invalid.yaml")
	if err := os.WriteFile(tmpFile, []byte("invalid: yaml: content:"), 0644); err != nil {
		t.Fatalf("创建临时文件失败: %v", err)
	}
	if _, err := Load(tmpFile); err == nil {
		t.Error("加载无效 YAML 应返回错误")
	}
}
