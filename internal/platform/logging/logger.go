// Package logging provides the small phase-tagged wrapper around the
// standard log package that this service uses everywhere, the same way
// TransportTools.infoLog(phase, step, message) tags every log line in the
// original Java service with a Phase enum value.
package logging

import "log"

// Phase names a stage of the engine's lifecycle a log line originates
// from, mirroring TransportTools.Phase in the original service.
type Phase string

const (
	PhaseJobExecutor       Phase = "JOB_EXECUTOR"
	PhaseStepExecute       Phase = "STEP_EXECUTE"
	PhaseStepOnAsyncUpdate Phase = "STEP_ON_ASYNC_UPDATE"
	PhaseStepOnAsyncSuccess Phase = "STEP_ON_ASYNC_SUCCESS"
)

// Logger wraps the standard library logger with phase/step tagging. The
// teacher logs directly via log.Printf/log.Fatalf; this keeps that
// approach rather than introducing a structured-logging dependency the
// pack doesn't use.
type Logger struct {
	base *log.Logger
}

// New builds a Logger around the given standard library logger. Passing
// nil uses log.Default().
func New(base *log.Logger) *Logger {
	if base == nil {
		base = log.Default()
	}
	return &Logger{base: base}
}

func (l *Logger) Infof(phase Phase, stepID string, format string, args ...any) {
	l.base.Printf("[INFO][%s][%s] "+format, prepend(phase, stepID, args)...)
}

func (l *Logger) Warnf(phase Phase, stepID string, format string, args ...any) {
	l.base.Printf("[WARN][%s][%s] "+format, prepend(phase, stepID, args)...)
}

func (l *Logger) Errorf(phase Phase, stepID string, format string, args ...any) {
	l.base.Printf("[ERROR][%s][%s] "+format, prepend(phase, stepID, args)...)
}

func prepend(phase Phase, stepID string, args []any) []any {
	out := make([]any, 0, len(args)+2)
	out = append(out, phase, stepID)
	out = append(out, args...)
	return out
}
