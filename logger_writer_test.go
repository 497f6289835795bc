package notifyws

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// recordingLogger implements logger and keeps every line so tests can assert on
// what was logged.
type recordingLogger struct {
	mu     *sync.Mutex
	lines  *[]string
	fields map[string]any
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{
		mu:     &sync.Mutex{},
		lines:  &[]string{},
		fields: make(map[string]any),
	}
}

func (l *recordingLogger) WithField(key string, value any) logger {
	next := &recordingLogger{
		mu:     l.mu,
		lines:  l.lines,
		fields: make(map[string]any, len(l.fields)+1),
	}
	for k, v := range l.fields {
		next.fields[k] = v
	}
	next.fields[key] = value
	return next
}

func (l *recordingLogger) formatFields() string {
	if len(l.fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, l.fields[k]))
	}
	return " [" + strings.Join(parts, ", ") + "]"
}

func (l *recordingLogger) log(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.lines = append(*l.lines, fmt.Sprintf("%s%s: %s", level, l.formatFields(), strings.TrimSpace(msg)))
}

// Lines returns a copy of everything logged so far.
func (l *recordingLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), (*l.lines)...)
}

// Contains reports whether any line at level contains substr.
func (l *recordingLogger) Contains(level, substr string) bool {
	for _, line := range l.Lines() {
		if strings.HasPrefix(line, level) && strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func (l *recordingLogger) Debug(args ...any) { l.log("DEBUG", fmt.Sprint(args...)) }

func (l *recordingLogger) Debugf(format string, args ...any) {
	l.log("DEBUG", fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Debugln(args ...any) { l.log("DEBUG", fmt.Sprintln(args...)) }

func (l *recordingLogger) Info(args ...any) { l.log("INFO", fmt.Sprint(args...)) }

func (l *recordingLogger) Infof(format string, args ...any) {
	l.log("INFO", fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Infoln(args ...any) { l.log("INFO", fmt.Sprintln(args...)) }

func (l *recordingLogger) Warn(args ...any) { l.log("WARN", fmt.Sprint(args...)) }

func (l *recordingLogger) Warnf(format string, args ...any) {
	l.log("WARN", fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Warnln(args ...any) { l.log("WARN", fmt.Sprintln(args...)) }

func (l *recordingLogger) Error(args ...any) { l.log("ERROR", fmt.Sprint(args...)) }

func (l *recordingLogger) Errorf(format string, args ...any) {
	l.log("ERROR", fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Errorln(args ...any) { l.log("ERROR", fmt.Sprintln(args...)) }
