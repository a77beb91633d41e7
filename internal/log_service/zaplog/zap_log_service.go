package zaplog

import (
	"fmt"
	"slices"

	"github.com/AnishMulay/tfs/internal/log_service"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogService forwards LogEvents to a zap logger, one field per metadata key.
type ZapLogService struct {
	logger *zap.Logger
	nodeID string
}

func NewZapLogService(logger *zap.Logger, nodeID string) *ZapLogService {
	return &ZapLogService{logger: logger.With(zap.String("node", nodeID)), nodeID: nodeID}
}

// NewLogger builds a console or JSON logger at the given level name.
func NewLogger(level string, json bool) (*zap.Logger, error) {
	var lvl zapcore.Level
	switch log_service.GetLevelValue(level) {
	case log_service.InfoLevelValue:
		lvl = zapcore.InfoLevel
	case log_service.WarnLevelValue:
		lvl = zapcore.WarnLevel
	case log_service.ErrorLevelValue:
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.DebugLevel
	}

	cfg := zap.NewDevelopmentConfig()
	if json {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return logger, nil
}

func (zs *ZapLogService) Logger() *zap.Logger {
	return zs.logger
}

func (zs *ZapLogService) Sync() error {
	return zs.logger.Sync()
}

func fields(event log_service.LogEvent) []zap.Field {
	keys := make([]string, 0, len(event.Metadata))
	for k := range event.Metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]zap.Field, 0, len(keys)+1)
	if !event.Timestamp.IsZero() {
		out = append(out, zap.Time("event_time", event.Timestamp))
	}
	for _, k := range keys {
		out = append(out, zap.Any(k, event.Metadata[k]))
	}
	return out
}

func (zs *ZapLogService) Debug(event log_service.LogEvent) {
	zs.logger.Debug(event.Message, fields(event)...)
}

func (zs *ZapLogService) Info(event log_service.LogEvent) {
	zs.logger.Info(event.Message, fields(event)...)
}

func (zs *ZapLogService) Warn(event log_service.LogEvent) {
	zs.logger.Warn(event.Message, fields(event)...)
}

func (zs *ZapLogService) Error(event log_service.LogEvent) {
	zs.logger.Error(event.Message, fields(event)...)
}

var _ log_service.LogService = (*ZapLogService)(nil)
