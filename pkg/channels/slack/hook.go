package slack

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// poster is the slice of the connector the hook needs; split out so the
// hook can be tested without a live client.
type poster interface {
	PostMessage(ctx context.Context, channel, text string) error
}

// ErrorHook mirrors error-level log records into a configured channel
// so operators see failures where they already are. Posting happens off
// the logging goroutine, and a post failure goes to stderr only, never
// back into the logger.
type ErrorHook struct {
	poster  poster
	channel string
}

func NewErrorHook(p poster, channel string) *ErrorHook {
	return &ErrorHook{poster: p, channel: channel}
}

func (h *ErrorHook) Run(_ *zerolog.Event, level zerolog.Level, message string) {
	if level < zerolog.ErrorLevel || level >= zerolog.NoLevel {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.poster.PostMessage(ctx, h.channel, "Oopsie! "+message); err != nil {
			fmt.Fprintf(os.Stderr, "could not post error to channel %s: %v\n", h.channel, err)
		}
	}()
}
