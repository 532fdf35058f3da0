// pkg/logger/zap_config.go
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapConfig собирает zap.Config: консоль в DevMode, иначе JSON с
// семплингом. Ключи полей одинаковы в обоих режимах.
func zapConfig(cfg Config) (zap.Config, error) {
	lvl, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return zap.Config{}, fmt.Errorf("logger: invalid level %q: %w", cfg.Level, err)
	}

	zc := zap.NewProductionConfig()
	if cfg.DevMode {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)

	ec := &zc.EncoderConfig
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.CallerKey = "caller"
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	ec.StacktraceKey = "stacktrace"

	if cfg.Service != "" {
		zc.InitialFields = map[string]interface{}{"service": cfg.Service}
	}
	return zc, nil
}
