// Package logging wires the process-wide zap logger. Verbosity and format
// follow config.Config; a fixed set of media-engine log tags (info, ice,
// dtls, rtp, srtp, rtcp) are carried as a fixed "warn" level sub-logger
// per tag so engine adapters can log at a consistent verbosity without
// each adapter reinventing level selection.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EngineTags are the media-engine log tags fixed at warn level.
var EngineTags = []string{"info", "ice", "dtls", "rtp", "srtp", "rtcp"}

// New builds a zap.Logger for the given level ("debug", "info", "warn",
// "error") and format ("json" or "console").
func New(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         format,
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if format == "console" {
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// EngineLogger returns a warn-level sub-logger tagged for one of
// EngineTags, used by engine adapters to report ICE/DTLS/RTP state
// changes at a fixed verbosity.
func EngineLogger(base *zap.Logger, tag string) *zap.Logger {
	return base.WithOptions(zap.IncreaseLevel(zapcore.WarnLevel)).With(zap.String("tag", tag))
}
