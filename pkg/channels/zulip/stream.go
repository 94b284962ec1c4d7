package zulip

import (
	"context"
	"fmt"

	"github.com/tinyland-inc/relayclaw/pkg/bridge"
	"github.com/tinyland-inc/relayclaw/pkg/bus"
)

// Stream binds the client to one stream as a bridge destination.
type Stream struct {
	client *Client
	stream string
}

func NewStream(c *Client, stream string) *Stream {
	return &Stream{client: c, stream: stream}
}

func (s *Stream) Send(ctx context.Context, req bridge.SendRequest) (bridge.SendResult, error) {
	switch req.Kind {
	case bus.SendNew:
		id, err := s.client.SendMessage(ctx, s.stream, req.Topic, req.Content)
		if err != nil {
			return bridge.SendResult{}, err
		}
		return bridge.SendResult{ID: id}, nil
	case bus.SendUpdate:
		return bridge.SendResult{}, s.client.UpdateMessage(ctx, req.TargetID, req.Content)
	case bus.SendDelete:
		return bridge.SendResult{}, s.client.DeleteMessage(ctx, req.TargetID)
	}
	return bridge.SendResult{}, fmt.Errorf("unsupported send kind %v", req.Kind)
}
