// Package logging builds the single process-wide logger every core
// component shares. Components that only need structured key/value
// logging take a *zap.SugaredLogger directly; components written
// against the logr.Logger interface (wrapping third-party code that
// expects it) get one via zapr.
package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger configured for the given mode: prod gets JSON
// output at info level, dev gets human-readable console output at debug
// level.
func New(mode string) (*zap.Logger, error) {
	var cfg zap.Config
	if mode == "prod" {
		cfg = zap.NewProductionConfig()
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg.Build()
}

// Logr wraps a zap logger as a logr.Logger for components (scheduler,
// raid controllers) that are written against the logr interface.
func Logr(z *zap.Logger) logr.Logger {
	return zapr.NewLogger(z)
}
