package trace

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Decision string

const (
	Applied  Decision = "applied"  // reducer ran, version bumped
	Accepted Decision = "accepted" // snapshot adopted by a replica
	Dropped  Decision = "dropped"  // filtered by a gate: room, host, phase, permission, replay
	Stale    Decision = "stale"    // snapshot version not newer than local
	Rejected Decision = "rejected" // reducer refused the action
	Elected  Decision = "elected"
	Fatal    Decision = "fatal"
)

// Event is one dispatcher decision.
type Event struct {
	Decision Decision
	Room     string
	Self     string
	Type     string
	Sender   string
	ActionID string
	Version  uint64
	Reason   string
	Err      error
}

type Tracer interface {
	Trace(Event)
}

type nop struct{}

func (nop) Trace(Event) {}

func Nop() Tracer { return nop{} }

// Func adapts a plain function, mostly for tests.
type Func func(Event)

func (f Func) Trace(e Event) { f(e) }

type zapTracer struct {
	log *zap.Logger
}

// NewZap writes events to log, at Warn for rejections and Error for fatal
// ones. Everything else is Debug.
func NewZap(log *zap.Logger) Tracer {
	return &zapTracer{log: log}
}

func (z *zapTracer) Trace(e Event) {
	level := zapcore.DebugLevel
	switch e.Decision {
	case Rejected:
		level = zapcore.WarnLevel
	case Elected:
		level = zapcore.InfoLevel
	case Fatal:
		level = zapcore.ErrorLevel
	}
	ce := z.log.Check(level, string(e.Decision))
	if ce == nil {
		return
	}
	fields := []zap.Field{
		zap.String("room", e.Room),
		zap.String("player", e.Self),
		zap.Uint64("version", e.Version),
	}
	if e.Type != "" {
		fields = append(fields, zap.String("type", e.Type))
	}
	if e.Sender != "" {
		fields = append(fields, zap.String("sender", e.Sender))
	}
	if e.ActionID != "" {
		fields = append(fields, zap.String("action_id", e.ActionID))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}
	ce.Write(fields...)
}
