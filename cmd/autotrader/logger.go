package main

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"odds-autotrader/internal/config"
)

// newLogger 创建日志记录器
// 配置了 log_file 时同时写入标准输出与按尺寸轮转的文件。
func newLogger(app config.AppConfig) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(app.LogLevel); err != nil {
		lvl = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if app.LogFile == "" {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		cfg.EncoderConfig = encCfg

		logger, err := cfg.Build()
		if err != nil {
			return zap.NewNop()
		}
		return logger.Named(app.Name)
	}

	_ = os.MkdirAll(filepath.Dir(app.LogFile), 0o755)
	file := &lumberjack.Logger{
		Filename:   app.LogFile,
		MaxSize:    app.LogMaxSizeMB,
		MaxBackups: app.LogMaxBackups,
		MaxAge:     app.LogMaxAgeDays,
		Compress:   true,
	}
	enc := zapcore.NewJSONEncoder(encCfg)
	core := zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), lvl),
		zapcore.NewCore(enc.Clone(), zapcore.AddSync(file), lvl),
	)
	return zap.New(core, zap.AddCaller()).Named(app.Name)
}
