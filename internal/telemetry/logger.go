// Package telemetry provides the default ports.Logger and
// ports.MetricsCollector adapters: zerolog-backed structured logging
// and Prometheus-backed metrics.
package telemetry

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/hivewarden-like/idpguard/internal/ports"
)

// ZerologAdapter implements ports.Logger over a zerolog.Logger.
type ZerologAdapter struct {
	log zerolog.Logger
}

// NewZerologLogger configures a zerolog.Logger with a human-readable
// console writer in dev, plain JSON output otherwise.
func NewZerologLogger(pretty bool) *ZerologAdapter {
	var l zerolog.Logger
	if pretty {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		l = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return &ZerologAdapter{log: l}
}

func withContext(e *zerolog.Event, ctx map[string]any) *zerolog.Event {
	for k, v := range ctx {
		e = e.Interface(k, v)
	}
	return e
}

func (z *ZerologAdapter) Debug(msg string, ctx map[string]any) {
	withContext(z.log.Debug(), ctx).Msg(msg)
}

func (z *ZerologAdapter) Info(msg string, ctx map[string]any) {
	withContext(z.log.Info(), ctx).Msg(msg)
}

func (z *ZerologAdapter) Warn(msg string, ctx map[string]any) {
	withContext(z.log.Warn(), ctx).Msg(msg)
}

func (z *ZerologAdapter) Error(msg string, err error, ctx map[string]any) {
	withContext(z.log.Error().Err(err), ctx).Msg(msg)
}

var _ ports.Logger = (*ZerologAdapter)(nil)
