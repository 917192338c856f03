package observability

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogConfig struct {
	Level  string
	Dev    bool
	Server string
}

// LogConfigFromEnv reads LOG_LEVEL and LOG_DEV.
func LogConfigFromEnv() LogConfig {
	dev := os.Getenv("LOG_DEV") == "1"
	level := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if level == "" {
		if dev {
			level = "debug"
		} else {
			level = "info"
		}
	}
	return LogConfig{Level: level, Dev: dev, Server: os.Getenv("SERVER_NAME")}
}

func levelFromString(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger builds a JSON production logger, or a console logger when Dev
// is set.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level := levelFromString(cfg.Level)

	var logger *zap.Logger
	if cfg.Dev {
		c := zap.NewDevelopmentConfig()
		c.Level = zap.NewAtomicLevelAt(level)
		built, err := c.Build()
		if err != nil {
			return nil, err
		}
		logger = built
	} else {
		logger = zap.New(newJSONCore(zapcore.AddSync(os.Stdout), level), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	}

	if cfg.Server != "" {
		logger = logger.With(zap.String("server", cfg.Server))
	}
	return logger, nil
}

func newJSONCore(out zapcore.WriteSyncer, level zapcore.Level) zapcore.Core {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), out, level)
}

// NewAccessLogger returns a logger dedicated to request lines. With an empty
// dir the base logger is reused; otherwise lines go to a daily rotated file
// kept for a week.
func NewAccessLogger(base *zap.Logger, dir string) (*zap.Logger, io.Closer, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return base, nopCloser{}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}

	writer, err := rotatelogs.New(
		filepath.Join(dir, "access.%Y%m%d.log"),
		rotatelogs.WithLinkName(filepath.Join(dir, "access.log")),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(7*24*time.Hour),
	)
	if err != nil {
		return nil, nil, err
	}
	return zap.New(newJSONCore(zapcore.AddSync(writer), zapcore.InfoLevel)), writer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
