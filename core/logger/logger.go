package logger

// Logger exposes logging methods for common severity levels. Adapters live
// under infra/logger so core packages stay free of logging dependencies.
type Logger interface {
	Debugf(format string, args ...any)
	// Debugw logs a debug message with structured fields.
	Debugw(msg string, fields map[string]any)
	Infof(format string, args ...any)
	// Infow logs an informational message with structured fields.
	Infow(msg string, fields map[string]any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Nop discards all messages. Useful as a default in tests.
type Nop struct{}

func (Nop) Debugf(string, ...any)         {}
func (Nop) Debugw(string, map[string]any) {}
func (Nop) Infof(string, ...any)          {}
func (Nop) Infow(string, map[string]any)  {}
func (Nop) Warnf(string, ...any)          {}
func (Nop) Errorf(string, ...any)         {}
