// Package logging sets up the process-wide structured logger.
package logging

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var base zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
}

// SetLevel adjusts the global minimum log level (e.g. "debug", "info", "warn").
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		base.Warn().Str("level", level).Msg("unknown log level, keeping default")
		return
	}
	zerolog.SetGlobalLevel(lvl)
}

// L returns the base logger.
func L() *zerolog.Logger {
	return &base
}

type ctxKey struct{}

// With attaches repo/operation fields to ctx, returning a context carrying a
// derived logger retrievable with From.
func With(ctx context.Context, fields map[string]string) context.Context {
	l := From(ctx).With().Fields(toAny(fields)).Logger()
	return context.WithValue(ctx, ctxKey{}, &l)
}

// From returns the request-scoped logger previously attached with With, or
// the base logger if none was attached.
func From(ctx context.Context) *zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok {
		return l
	}
	return &base
}

func toAny(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
