package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/jsternberg/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `yaml:"logFormat" env:"LOG_FORMAT" env-default:"console"`
	Level  string `yaml:"logLevel" env:"LOG_LEVEL" env-default:"info"`
	// Output is stdout or stderr. Commands that print data to stdout force stderr.
	Output string `yaml:"logOutput" env:"LOG_OUTPUT" env-default:"stderr"`
}

// Validate normalizes and checks the logging configuration
func (c *LoggingConfig) Validate() error {
	c.Format = strings.ToLower(c.Format)
	switch c.Format {
	case "json", "console", "logfmt":
	default:
		return fmt.Errorf("logFormat must be 'json', 'console', or 'logfmt', got '%s'", c.Format)
	}

	c.Level = strings.ToLower(c.Level)
	if _, err := zapcore.ParseLevel(c.Level); err != nil || c.Level == "dpanic" || c.Level == "panic" || c.Level == "fatal" {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error, got '%s'", c.Level)
	}

	c.Output = strings.ToLower(c.Output)
	if c.Output == "" {
		c.Output = "stderr"
	}
	if c.Output != "stdout" && c.Output != "stderr" {
		return fmt.Errorf("logOutput must be 'stdout' or 'stderr', got '%s'", c.Output)
	}

	return nil
}

// NewLogger builds a zap logger for the configured format, level and output
func NewLogger(cfg *LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zapcore.InfoLevel
	}

	sink := zapcore.Lock(os.Stderr)
	if strings.EqualFold(cfg.Output, "stdout") {
		sink = zapcore.Lock(os.Stdout)
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "logfmt":
		encoder = zaplogfmt.NewEncoder(encoderConfig())
	case "json":
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	default:
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(ec)
	}

	return zap.New(zapcore.NewCore(encoder, sink, level), zap.AddCaller()), nil
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}
