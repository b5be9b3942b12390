package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"treasure-map/server/pkg/config"
)

// NewLogger builds a zap.Logger from the log settings. Encoding "console"
// gives colored development output; anything else gives JSON with ISO8601
// timestamps. Unknown levels fall back to info.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zc zap.Config
	if strings.EqualFold(cfg.Encoding, "console") {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	level := strings.ToLower(cfg.Level)
	if level == "" {
		level = "info"
	}
	var zapLevel zapcore.Level
	if err := zapLevel.Set(level); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "treasure-map")), nil
}

// MustNewLogger is NewLogger for startup code; it panics on failure.
func MustNewLogger(cfg config.LogConfig) *zap.Logger {
	logger, err := NewLogger(cfg)
	if err != nil {
		panic(err)
	}
	return logger
}
