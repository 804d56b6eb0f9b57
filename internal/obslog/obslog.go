package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Process-wide logger. Stays a no-op until InitFromEnv runs, so library
// packages and tests can log freely.
var globalLogger = zap.NewNop()

func L() *zap.Logger { return globalLogger }

// Named returns a child of the global logger tagged with a component field.
func Named(component string) *zap.Logger {
	return globalLogger.With(zap.String("component", component))
}

// Sync flushes buffered entries; call it on shutdown.
func Sync() { _ = globalLogger.Sync() }

type options struct {
	level      zapcore.Level
	console    bool
	toFile     bool
	showCaller bool
	format     string
	filePath   string
}

func optionsFromEnv() options {
	o := options{
		level:      parseLevel(getenvDefault("LOG_LEVEL", "info")),
		console:    strings.EqualFold(getenvDefault("LOG_TO_CONSOLE", "true"), "true"),
		toFile:     strings.EqualFold(getenvDefault("LOG_TO_FILE", "false"), "true"),
		showCaller: strings.EqualFold(getenvDefault("LOG_CALLER", "false"), "true"),
		format:     strings.ToLower(strings.TrimSpace(getenvDefault("LOG_FORMAT", "legacy"))),
		filePath:   strings.TrimSpace(getenvDefault("LOG_FILE", filepath.Join("logs", "scorehost.log"))),
	}
	if o.format != "legacy" && o.format != "json" && o.format != "console" {
		o.format = "legacy"
	}
	// legacy lines always carry the caller
	if o.format == "legacy" {
		o.showCaller = true
	}
	return o
}

// InitFromEnv builds the global logger from LOG_* variables.
func InitFromEnv() error {
	logger, err := build(optionsFromEnv())
	if err != nil {
		return err
	}
	globalLogger = logger
	return nil
}

func build(o options) (*zap.Logger, error) {
	var cores []zapcore.Core
	if o.console {
		cores = append(cores, zapcore.NewCore(encoderFor(o.format), zapcore.AddSync(os.Stdout), o.level))
	}
	if o.toFile {
		if err := ensureDir(filepath.Dir(o.filePath)); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(o.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoderFor(o.format), zapcore.AddSync(f), o.level))
	}
	if len(cores) == 0 {
		enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(os.Stderr), o.level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zapcore.ErrorLevel))
	if o.showCaller {
		logger = logger.WithOptions(zap.AddCaller())
	}
	return logger, nil
}

func encoderFor(format string) zapcore.Encoder {
	switch format {
	case "json":
		return zapcore.NewJSONEncoder(jsonEncoderConfig())
	case "console":
		return zapcore.NewConsoleEncoder(consoleEncoderConfig())
	default:
		return zapcore.NewConsoleEncoder(legacyEncoderConfig())
	}
}

func ensureDir(dir string) error {
	if strings.TrimSpace(dir) == "" || dir == "." {
		return nil
	}
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "dpanic":
		return zapcore.DPanicLevel
	case "panic":
		return zapcore.PanicLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func legacyEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " | "
	return cfg
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

func jsonEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	return cfg
}
