package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Init configures the global zap logger. Release mode logs JSON,
// anything else gets the human-readable development encoder.
func Init(mode string) error {
	var cfg zap.Config
	if mode == "release" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	lg, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(lg)
	return nil
}
