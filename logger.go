package notifyws

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

type logger interface {
	WithField(key string, value any) logger
	Debug(args ...any)
	Debugf(format string, args ...any)
	Debugln(args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Infoln(args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Warnln(args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	Errorln(args ...any)
}

// zerologLogger adapts a zerolog.Logger to the package logger.
type zerologLogger struct {
	z zerolog.Logger
}

// NewLogger wraps z so it can be handed to the channel, transport and API client.
func NewLogger(z zerolog.Logger) logger {
	return &zerologLogger{z: z}
}

// NewNopLogger discards everything.
func NewNopLogger() logger {
	return &zerologLogger{z: zerolog.Nop()}
}

// ParseLevel maps debug/info/warn/error to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *zerologLogger) WithField(key string, value any) logger {
	return &zerologLogger{z: l.z.With().Interface(key, value).Logger()}
}

func (l *zerologLogger) Debug(args ...any) { l.z.Debug().Msg(fmt.Sprint(args...)) }

func (l *zerologLogger) Debugf(format string, args ...any) { l.z.Debug().Msgf(format, args...) }

func (l *zerologLogger) Debugln(args ...any) { l.z.Debug().Msg(sprintln(args...)) }

func (l *zerologLogger) Info(args ...any) { l.z.Info().Msg(fmt.Sprint(args...)) }

func (l *zerologLogger) Infof(format string, args ...any) { l.z.Info().Msgf(format, args...) }

func (l *zerologLogger) Infoln(args ...any) { l.z.Info().Msg(sprintln(args...)) }

func (l *zerologLogger) Warn(args ...any) { l.z.Warn().Msg(fmt.Sprint(args...)) }

func (l *zerologLogger) Warnf(format string, args ...any) { l.z.Warn().Msgf(format, args...) }

func (l *zerologLogger) Warnln(args ...any) { l.z.Warn().Msg(sprintln(args...)) }

func (l *zerologLogger) Error(args ...any) { l.z.Error().Msg(fmt.Sprint(args...)) }

func (l *zerologLogger) Errorf(format string, args ...any) { l.z.Error().Msgf(format, args...) }

func (l *zerologLogger) Errorln(args ...any) { l.z.Error().Msg(sprintln(args...)) }

func sprintln(args ...any) string {
	return strings.TrimSuffix(fmt.Sprintln(args...), "\n")
}
