// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// zerolog has no "verbose" level, so the four verbosity steps map onto
// error, info, debug and trace.
func (l LogLevel) zerolog() zerolog.Level {
	switch {
	case l <= LogQuiet:
		return zerolog.ErrorLevel
	case l == LogNormal:
		return zerolog.InfoLevel
	case l == LogVerbose:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

var levelTags = map[string]string{
	zerolog.LevelErrorValue: "[ERR]",
	zerolog.LevelWarnValue:  "[WRN]",
	zerolog.LevelInfoValue:  "[INF]",
	zerolog.LevelDebugValue: "[VRB]",
	zerolog.LevelTraceValue: "[DBG]",
}

// Logger writes levelled messages to stderr with optional timestamps
// and level prefixes.  Structured context added with [Logger.With] is
// rendered as key=value pairs after the message.
type Logger struct {
	mu         *sync.Mutex
	zl         zerolog.Logger
	level      LogLevel
	output     io.Writer
	timestamps bool
	json       bool
	fields     map[string]interface{}
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).
func NewLogger(verbosity int) *Logger {
	l := &Logger{
		mu:         &sync.Mutex{},
		level:      LogLevel(verbosity),
		output:     os.Stderr,
		timestamps: verbosity >= 3, // auto-enable timestamps in debug mode
	}
	l.rebuild()
	return l
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	l := NewLogger(0)
	l.SetOutput(io.Discard)
	return l
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) {
	l.timestamps = on
	l.rebuild()
}

// SetOutput overrides the output writer (default: os.Stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	l.rebuild()
}

// SetJSON switches between the human-readable console format and
// newline-delimited JSON.
func (l *Logger) SetJSON(on bool) {
	l.json = on
	l.rebuild()
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// With returns a child logger that attaches key=value to every line.
func (l *Logger) With(key string, value interface{}) *Logger {
	child := *l
	child.fields = make(map[string]interface{}, len(l.fields)+1)
	for k, v := range l.fields {
		child.fields[k] = v
	}
	child.fields[key] = value
	child.rebuild()
	return &child
}

// Info prints when verbosity ≥ 1.  Prefixed with [INF].
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(l.zl.Info(), format, args...)
}

// Warn prints when verbosity ≥ 1.  Prefixed with [WRN].
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(l.zl.Warn(), format, args...)
}

// Verbose prints when verbosity ≥ 2.  Prefixed with [VRB].
func (l *Logger) Verbose(format string, args ...interface{}) {
	l.write(l.zl.Debug(), format, args...)
}

// Debug prints when verbosity ≥ 3.  Prefixed with [DBG].
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(l.zl.Trace(), format, args...)
}

// Error always prints regardless of verbosity.  Prefixed with [ERR].
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(l.zl.Error(), format, args...)
}

func (l *Logger) write(ev *zerolog.Event, format string, args ...interface{}) {
	if ev == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ev.Msg(fmt.Sprintf(format, args...))
}

func (l *Logger) rebuild() {
	var w io.Writer = l.output
	if !l.json {
		cw := zerolog.ConsoleWriter{
			Out:        l.output,
			NoColor:    true,
			TimeFormat: "15:04:05.000",
			PartsOrder: []string{zerolog.LevelFieldName, zerolog.MessageFieldName},
			FormatLevel: func(i interface{}) string {
				s, _ := i.(string)
				if tag, ok := levelTags[s]; ok {
					return tag
				}
				return "[" + strings.ToUpper(s) + "]"
			},
		}
		if l.timestamps {
			cw.PartsOrder = append([]string{zerolog.TimestampFieldName}, cw.PartsOrder...)
		}
		w = cw
	}

	ctx := zerolog.New(w).Level(l.level.zerolog()).With()
	if l.timestamps || l.json {
		ctx = ctx.Timestamp()
	}
	if len(l.fields) > 0 {
		ctx = ctx.Fields(l.fields)
	}
	l.zl = ctx.Logger()
}
