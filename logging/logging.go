// Package logging builds the zap logger shared by every component
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 日志配置
type Config struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"` // console or json
	File     string `mapstructure:"file"`
	NoStderr bool   `mapstructure:"no-stderr"`

	// rotation of File
	MaxSizeMB  int  `mapstructure:"max-size"`
	MaxBackups int  `mapstructure:"max-backups"`
	MaxAgeDays int  `mapstructure:"max-age"`
	Compress   bool `mapstructure:"compress"`
}

// DefaultConfig logs info and above to stderr
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
	}
}

// Validate checks level and format
func (c Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return err
	}
	switch c.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}
	if c.NoStderr && c.File == "" {
		return fmt.Errorf("no log output: stderr disabled and no file set")
	}
	return nil
}

// New builds a logger writing to stderr and, when File is set, to a
// rotating file. The file always gets JSON.
func New(c Config) (*zap.Logger, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	level, _ := zapcore.ParseLevel(c.Level)
	enabled := zap.NewAtomicLevelAt(level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core
	if !c.NoStderr {
		var enc zapcore.Encoder
		if strings.EqualFold(c.Format, "json") {
			enc = zapcore.NewJSONEncoder(encCfg)
		} else {
			consoleCfg := encCfg
			consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
			enc = zapcore.NewConsoleEncoder(consoleCfg)
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stderr), enabled))
	}
	if c.File != "" {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), fileWriter(c), enabled))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func fileWriter(c Config) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays,
		Compress:   c.Compress,
	})
}
