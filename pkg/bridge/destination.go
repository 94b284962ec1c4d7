package bridge

import (
	"context"

	"github.com/tinyland-inc/relayclaw/pkg/bus"
)

// SendRequest is one delivery to a destination route.
type SendRequest struct {
	Topic    string
	Content  string
	Kind     bus.SendKind
	TargetID string
}

// SendResult reports a completed delivery. ID is the destination-side
// message id of a new post, empty for updates and deletes.
type SendResult struct {
	ID string
}

// Destination is an outbound platform surface keyed by route name. An
// implementation that cannot update or delete in place should return an
// error for those kinds rather than silently posting.
type Destination interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}
