package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/phsym/console-slog"
	slogmulti "github.com/samber/slog-multi"

	"github.com/comigor/floatchat-go/internal/config"
)

var levelVar = new(slog.LevelVar)

var L = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))

// SetLevel applies a level name from config. slog's own names are
// accepted, offsets such as "warn+2" included; anything else means info.
func SetLevel(lvl string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(lvl)); err != nil {
		l = slog.LevelInfo
	}
	levelVar.Set(l)
}

// Setup replaces L (and slog's default logger) according to cfg. When
// cfg.File is set every record is also written there as JSON; the returned
// closer releases that file.
func Setup(cfg config.LogConfig) (io.Closer, error) {
	SetLevel(cfg.Level)

	handlers := []slog.Handler{newHandler(os.Stderr, cfg.Format)}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: levelVar}))
		closer = f
	}

	L = slog.New(slogmulti.Fanout(handlers...))
	slog.SetDefault(L)
	return closer, nil
}

func newHandler(w io.Writer, format string) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelVar})
	}
	return console.NewHandler(w, &console.HandlerOptions{
		Level:     levelVar,
		AddSource: levelVar.Level() <= slog.LevelDebug,
	})
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
