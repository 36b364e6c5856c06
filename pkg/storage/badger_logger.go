package storage

import (
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/orneryd/nornicdb-consistency/pkg/logging"
)

// badgerLogger routes BadgerDB's printf-style logging into a structured Logger.
type badgerLogger struct {
	l logging.Logger
}

// NewBadgerLogger adapts l to badger.Logger.
func NewBadgerLogger(l logging.Logger) badger.Logger {
	return badgerLogger{l: logging.OrNop(l)}
}

func (b badgerLogger) log(level, format string, args ...interface{}) {
	b.l.Log(level, strings.TrimSpace(fmt.Sprintf(format, args...)), map[string]any{"component": "badger"})
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.log(logging.LevelError, format, args...)
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.log(logging.LevelWarn, format, args...)
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.log(logging.LevelInfo, format, args...)
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.log(logging.LevelDebug, format, args...)
}
