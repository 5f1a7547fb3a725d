package common

import (
	"context"
	"os"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*otelzap.Logger
}

func (log *Logger) Ctx(ctx context.Context) otelzap.LoggerWithCtx {
	return log.Logger.Ctx(ctx)
}

func (log *Logger) OtelZapLogger() *otelzap.Logger {
	return log.Logger
}

func (log *Logger) ZapLogger() *zap.Logger {
	return log.Logger.Logger
}

// Named returns a child logger that tags every entry with the component name.
func (log *Logger) Named(name string) *Logger {
	return &Logger{Logger: otelzap.New(log.ZapLogger().Named(name))}
}

func NewLogger(cfg OtlpConfig) (*Logger, error) {
	zapConf := zap.NewProductionEncoderConfig()
	zapConf.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	var defaultLogLevel zapcore.Level
	if cfg.Debug() {
		zapConf.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(zapConf)
		defaultLogLevel = zapcore.DebugLevel
	} else {
		encoder = zapcore.NewJSONEncoder(zapConf)
		defaultLogLevel = zapcore.InfoLevel
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), defaultLogLevel)
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)).
		With(zap.String("service", cfg.ServiceName()))

	logger := &Logger{
		Logger: otelzap.New(zapLogger, otelzap.WithMinLevel(defaultLogLevel)),
	}
	zap.ReplaceGlobals(logger.ZapLogger())
	otelzap.ReplaceGlobals(logger.OtelZapLogger())

	return logger, nil
}

// NewNopLogger discards everything. Components fall back to it when no logger is wired.
func NewNopLogger() *Logger {
	return &Logger{Logger: otelzap.New(zap.NewNop())}
}
