// Package logging provides the small structured logger shared by the checker packages.
//
// The default implementation prints through the standard library logger,
// either as key=value pairs or as one JSON object per line.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
)

// Log levels understood by the default logger.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

var levelRank = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Logger receives structured diagnostics.
type Logger interface {
	Log(level string, msg string, fields map[string]any)
}

// StdLogger prints through the standard library logger, dropping entries below MinLevel.
type StdLogger struct {
	// Tag is printed in brackets before every entry, e.g. "[check]".
	Tag string
	// MinLevel is the lowest level printed. Empty means INFO.
	MinLevel string
	// JSON selects one JSON object per entry instead of key=value pairs.
	JSON bool

	mu     sync.Mutex
	fields map[string]any
}

// New returns a StdLogger for the tag and level.
func New(tag, level string, jsonFormat bool) *StdLogger {
	return &StdLogger{Tag: tag, MinLevel: NormalizeLevel(level), JSON: jsonFormat}
}

// NormalizeLevel upper-cases a level name and maps unknown names to INFO.
func NormalizeLevel(level string) string {
	l := strings.ToUpper(strings.TrimSpace(level))
	if l == "WARNING" {
		l = LevelWarn
	}
	if _, ok := levelRank[l]; !ok {
		return LevelInfo
	}
	return l
}

// With returns a logger that adds fields to every entry.
func (l *StdLogger) With(fields map[string]any) *StdLogger {
	l.mu.Lock()
	defer l.mu.Unlock()
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &StdLogger{Tag: l.Tag, MinLevel: l.MinLevel, JSON: l.JSON, fields: merged}
}

// Enabled reports whether entries at level are printed.
func (l *StdLogger) Enabled(level string) bool {
	floor := l.MinLevel
	if floor == "" {
		floor = LevelInfo
	}
	return levelRank[NormalizeLevel(level)] >= levelRank[floor]
}

// Log implements Logger.
func (l *StdLogger) Log(level string, msg string, fields map[string]any) {
	if !l.Enabled(level) {
		return
	}
	level = NormalizeLevel(level)

	payload := make(map[string]any, len(l.fields)+len(fields)+2)
	for k, v := range l.fields {
		payload[k] = v
	}
	for k, v := range fields {
		payload[k] = v
	}

	if l.JSON {
		payload["level"] = level
		payload["msg"] = msg
		b, err := json.Marshal(payload)
		if err == nil {
			log.Printf("[%s] %s", l.Tag, string(b))
			return
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] level=%s msg=%q", l.Tag, level, msg)
	for _, k := range sortedKeys(payload) {
		fmt.Fprintf(&sb, " %s=%v", k, payload[k])
	}
	log.Print(sb.String())
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Nop discards everything.
type Nop struct{}

// Log implements Logger.
func (Nop) Log(string, string, map[string]any) {}

// OrNop returns l, or a Nop logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop{}
	}
	return l
}
