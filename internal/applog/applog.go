// Package applog provides the small structured-logging wrapper used across
// syncmesh. It mirrors the teacher codebase's preference for the standard
// "log" package over a third-party logging framework, adding just enough
// structure (component + fields) to keep log lines greppable.
package applog

import (
	"fmt"
	"log"
	"sort"
	"strings"
)

// Logger prefixes every line with a component name and accumulates
// key/value context added via With.
type Logger struct {
	component string
	fields    map[string]string
}

// New returns a Logger for the given component name, e.g. "engine" or "queue".
func New(component string) *Logger {
	return &Logger{component: component}
}

// With returns a derived logger carrying an additional field. The receiver
// is left unmodified.
func (l *Logger) With(key, value string) *Logger {
	fields := make(map[string]string, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Logger{component: l.component, fields: fields}
}

func (l *Logger) format(level, msg string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", l.component, msg)
	if len(l.fields) > 0 {
		keys := make([]string, 0, len(l.fields))
		for k := range l.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", k, l.fields[k])
		}
		b.WriteString(")")
	}
	return fmt.Sprintf("%s %s", level, b.String())
}

func (l *Logger) Info(msg string)  { log.Print(l.format("INFO", msg)) }
func (l *Logger) Warn(msg string)  { log.Print(l.format("WARN", msg)) }
func (l *Logger) Error(msg string) { log.Print(l.format("ERROR", msg)) }

// Fields returns a copy of the logger's accumulated context, e.g. for
// attaching to a types.LogEntry.
func (l *Logger) Fields() map[string]string {
	out := make(map[string]string, len(l.fields))
	for k, v := range l.fields {
		out[k] = v
	}
	return out
}
