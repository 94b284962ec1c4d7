package bus

// SendKind says what a queued send does at the destination.
type SendKind int

const (
	SendNew SendKind = iota
	SendUpdate
	SendDelete
)

func (k SendKind) String() string {
	switch k {
	case SendNew:
		return "new"
	case SendUpdate:
		return "update"
	case SendDelete:
		return "delete"
	}
	return "unknown"
}

// OutboundSend is one queued delivery for a destination route. Updates
// and deletes carry the destination-side TargetID of the message they
// act on; new sends leave it empty.
type OutboundSend struct {
	Route    string
	Topic    string
	Content  string
	Kind     SendKind
	TargetID string
	TraceID  string

	// OnResult, when set, runs on the dispatcher goroutine after the
	// destination acknowledges the send. destID is the destination-side
	// id of a newly created message, empty for updates and deletes.
	OnResult func(destID string, err error)
}
