package statequeue

import (
	"github.com/rs/zerolog"
)

// Logger emits processor log lines; debug lines only when enabled.
type Logger struct {
	zl    zerolog.Logger
	debug bool
}

// NewLogger tags base with the processor name.
func NewLogger(base zerolog.Logger, name string, debug bool) Logger {
	return Logger{
		zl:    base.With().Str("processor", name).Logger(),
		debug: debug,
	}
}

func (l Logger) Debugf(format string, args ...any) {
	if l.debug {
		l.zl.Debug().Msgf(format, args...)
	}
}

func (l Logger) Infof(format string, args ...any) {
	l.zl.Info().Msgf(format, args...)
}

func (l Logger) Warnf(format string, args ...any) {
	l.zl.Warn().Msgf(format, args...)
}

func (l Logger) Errorf(format string, args ...any) {
	l.zl.Error().Msgf(format, args...)
}
