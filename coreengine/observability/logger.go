package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts zerolog to the key/value Logger interfaces used
// across the engine.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger writes to w at level ("debug", "info", "warn", "error").
// format "json" emits one JSON object per line; anything else is console output.
func NewZerologLogger(w io.Writer, level, format string) *ZerologLogger {
	if w == nil {
		w = os.Stderr
	}
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return &ZerologLogger{log: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}
}

// With returns a logger that adds the given fields to every entry.
func (l *ZerologLogger) With(keysAndValues ...any) *ZerologLogger {
	ctx := l.log.With()
	for i := 0; i < len(keysAndValues); i += 2 {
		key, value := pair(keysAndValues, i)
		ctx = ctx.Interface(key, value)
	}
	return &ZerologLogger{log: ctx.Logger()}
}

// Zerolog exposes the underlying logger.
func (l *ZerologLogger) Zerolog() zerolog.Logger { return l.log }

func (l *ZerologLogger) Debug(msg string, keysAndValues ...any) {
	l.emit(l.log.Debug(), msg, keysAndValues)
}

func (l *ZerologLogger) Info(msg string, keysAndValues ...any) {
	l.emit(l.log.Info(), msg, keysAndValues)
}

func (l *ZerologLogger) Warn(msg string, keysAndValues ...any) {
	l.emit(l.log.Warn(), msg, keysAndValues)
}

func (l *ZerologLogger) Error(msg string, keysAndValues ...any) {
	l.emit(l.log.Error(), msg, keysAndValues)
}

func (l *ZerologLogger) emit(ev *zerolog.Event, msg string, kv []any) {
	if ev == nil {
		return
	}
	for i := 0; i < len(kv); i += 2 {
		key, value := pair(kv, i)
		if err, ok := value.(error); ok {
			ev = ev.AnErr(key, err)
			continue
		}
		ev = ev.Interface(key, value)
	}
	ev.Msg(msg)
}

// pair returns the i-th key and its value. A trailing key without a value
// is logged under "!BADKEY".
func pair(kv []any, i int) (string, any) {
	if i+1 >= len(kv) {
		return "!BADKEY", kv[i]
	}
	key, ok := kv[i].(string)
	if !ok {
		key = fmt.Sprint(kv[i])
	}
	return key, kv[i+1]
}
