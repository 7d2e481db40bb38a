package config

import (
	"fmt"

	"github.com/Swind/go-stream-runner/core"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
	File   string `toml:"file" json:"file"`
}

// Validate checks the level and format names.
func (c LogConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return ErrConfigInvalid.GenWithStackByArgs(fmt.Sprintf("unknown log level %q", c.Level))
	}
	switch c.Format {
	case "text", "json":
	default:
		return ErrConfigInvalid.GenWithStackByArgs(fmt.Sprintf("unknown log format %q", c.Format))
	}
	return nil
}

// Build creates the logger described by c and installs it as the global
// zap logger.
func (c LogConfig) Build() (*core.ZapLogger, error) {
	conf := &log.Config{
		Level:  c.Level,
		Format: c.Format,
		File: log.FileLogConfig{
			Filename: c.File,
		},
	}
	lg, props, err := log.InitLogger(conf, zap.AddStacktrace(zap.DPanicLevel))
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.ReplaceGlobals(lg, props)
	return core.NewZapLogger(lg), nil
}
