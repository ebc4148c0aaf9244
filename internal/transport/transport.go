package transport

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("transport closed")

// Handler receives one raw message. Calls for a single subscription are
// sequential and in publish order.
type Handler func(data []byte)

// MemberData is what a participant announces when entering presence.
type MemberData struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
}

// Member is one presence entry. ID must equal Data.PlayerID; ConnectionID
// tells apart two connections claiming the same ID.
type Member struct {
	ID           string     `json:"id"`
	ConnectionID string     `json:"connectionId"`
	Data         MemberData `json:"data"`
}

type PubSub interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(ctx context.Context, topic string, h Handler) (unsubscribe func(), err error)
}

type Presence interface {
	Enter(ctx context.Context, data MemberData) error
	Leave(ctx context.Context) error
	Members(ctx context.Context) ([]Member, error)
	// Changes signals that the member list may have changed. Signals are
	// coalesced; receivers re-read Members.
	Changes() <-chan struct{}
}

// Transport is one connection to one room channel.
type Transport interface {
	PubSub
	Presence
	ConnectionID() string
	Close() error
}

// MemberIDs returns the ids in ms, in order.
func MemberIDs(ms []Member) []string {
	ids := make([]string, len(ms))
	for i, m := range ms {
		ids[i] = m.ID
	}
	return ids
}

// Notify does a non-blocking send on a coalescing signal channel.
func Notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
