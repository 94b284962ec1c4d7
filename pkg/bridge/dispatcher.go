package bridge

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tinyland-inc/relayclaw/pkg/bus"
)

// Dispatcher drains the send bus with a small worker pool and performs
// the actual destination sends. Sends for the same event are
// independent; one route failing never blocks the others.
type Dispatcher struct {
	bus          *bus.SendBus
	destinations map[string]Destination
	workers      int
	log          zerolog.Logger
	wg           sync.WaitGroup
}

func NewDispatcher(sb *bus.SendBus, workers int, log zerolog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	return &Dispatcher{
		bus:          sb,
		destinations: make(map[string]Destination),
		workers:      workers,
		log:          log.With().Str("component", "dispatcher").Logger(),
	}
}

// Register binds a destination to a route name. A route prefix ending
// in "." registers a wildcard matching every route under it.
func (d *Dispatcher) Register(route string, dest Destination) {
	d.destinations[route] = dest
}

func (d *Dispatcher) lookup(route string) (Destination, bool) {
	if dest, ok := d.destinations[route]; ok {
		return dest, true
	}
	if i := strings.Index(route, "."); i >= 0 {
		if dest, ok := d.destinations[route[:i+1]]; ok {
			return dest, true
		}
	}
	return nil, false
}

func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(ctx)
	}
}

// Wait blocks until all workers have drained out, which happens when
// the bus is closed or the context is cancelled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		send, ok := d.bus.Consume(ctx)
		if !ok {
			return
		}
		d.deliver(ctx, send)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, send bus.OutboundSend) {
	log := d.log.With().
		Str("route", send.Route).
		Str("kind", send.Kind.String()).
		Str("trace_id", send.TraceID).
		Logger()

	dest, ok := d.lookup(send.Route)
	if !ok {
		log.Error().Msg("no destination registered for route")
		if send.OnResult != nil {
			send.OnResult("", ErrNoDestination)
		}
		return
	}

	res, err := dest.Send(ctx, SendRequest{
		Topic:    send.Topic,
		Content:  send.Content,
		Kind:     send.Kind,
		TargetID: send.TargetID,
	})
	if err != nil {
		log.Error().Err(err).Msg("destination send failed")
	} else {
		log.Debug().Str("dest_id", res.ID).Msg("delivered")
	}
	if send.OnResult != nil {
		send.OnResult(res.ID, err)
	}
}
