package groupme

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinyland-inc/relayclaw/pkg/channels"
)

// Listener runs the inbound webhook HTTP server for one bot binding.
type Listener struct {
	*channels.BaseConnector

	srv *http.Server
	log zerolog.Logger
}

func NewListener(channel, botName string, port int, handler WebhookHandler, log zerolog.Logger) *Listener {
	l := &Listener{
		BaseConnector: channels.NewBaseConnector("groupme:" + channel),
		log:           log.With().Str("component", "groupme").Str("channel", channel).Logger(),
	}
	l.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           NewWebhookMux(channel, botName, handler, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return l
}

func (l *Listener) Start(_ context.Context) error {
	go func() {
		if err := l.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.Error().Err(err).Msg("webhook server stopped")
		}
	}()
	l.SetRunning(true)
	l.log.Info().Str("addr", l.srv.Addr).Msg("webhook listener started")
	return nil
}

func (l *Listener) Stop(ctx context.Context) error {
	l.SetRunning(false)
	return l.srv.Shutdown(ctx)
}
