package emit

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogEmitter implements Emitter by writing events to a zap logger.
//
// Node errors are logged at error level, per-node completions at debug
// and call-level events (start, interrupt, completion) at info.
//
// Usage:
//
//	emitter := emit.NewLogEmitter(zapLogger)
type LogEmitter struct {
	logger *zap.Logger
}

// NewLogEmitter creates a new LogEmitter. A nil logger discards events.
func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEmitter{logger: logger.With(zap.String("module", "engine"))}
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(event Event) {
	fields := []zap.Field{
		zap.String("run_id", event.RunID),
		zap.String("session", event.Session),
	}
	if event.NodeID != "" {
		fields = append(fields, zap.String("node_id", event.NodeID), zap.Int("step", event.Step))
	}
	for k, v := range event.Meta {
		fields = append(fields, zap.Any(k, v))
	}

	if ce := l.logger.Check(levelFor(event.Msg), event.Msg); ce != nil {
		ce.Write(fields...)
	}
}

func levelFor(msg string) zapcore.Level {
	switch msg {
	case MsgNodeError:
		return zapcore.ErrorLevel
	case MsgNodeCompleted:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
