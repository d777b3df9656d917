package logging

import (
	"log"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the service logger. The level comes from LOG_LEVEL and
// defaults to info.
func New() *zap.SugaredLogger {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		parsed, err := zap.ParseAtomicLevel(raw)
		if err != nil {
			log.Fatalf("parse log level %q: %v", raw, err)
		}
		level = parsed
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zap.Must(cfg.Build()).Sugar()
}

// NewTest returns a development-config logger for tests.
func NewTest() *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zap.Must(cfg.Build()).Sugar()
}
