package main

import (
	"fmt"
	"io"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type rootConfig struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configFile string
	logLevel   string

	logger *zap.Logger
}

func (cfg *rootConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		LongName:    "config",
		Value:       ffval.NewValue(&cfg.configFile),
		Usage:       "YAML config file, with flag names as keys",
		Placeholder: "FILE",
	})
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'l',
		LongName:    "log-level",
		Value:       ffval.NewEnum(&cfg.logLevel, "info", "debug", "warn", "error", "none"),
		Usage:       "log level: debug, info, warn, error, none",
		Placeholder: "LEVEL",
	})
}

// newLogger returns a JSON logger writing to w at the given level, or a
// console logger when the level is debug.
func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	if level == "none" {
		return zap.NewNop(), nil
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	var encoder zapcore.Encoder
	switch lvl {
	case zapcore.DebugLevel:
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	default:
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(w)), lvl)
	return zap.New(core), nil
}
