package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// prod以外は人が読みやすいコンソール出力
func New(env string) zerolog.Logger {
	return NewWithWriter(env, os.Stdout)
}

func NewWithWriter(env string, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	out := w
	level := zerolog.DebugLevel
	if env == "prod" {
		level = zerolog.InfoLevel
	} else {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", "hagerbet").
		Logger()
}
