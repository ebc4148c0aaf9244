// Package memory is an in-process transport. Every Conn on the same Bus and
// channel sees the same messages and presence, which is enough to run several
// replicas of a room inside one process or one test.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/DoyleJ11/kuhhandel/internal/transport"
)

type Bus struct {
	mu       sync.Mutex
	channels map[string]*channel
}

type channel struct {
	subs    map[string][]*subscription // topic -> subscriptions
	members map[string]transport.Member // connectionID -> member
	conns   map[string]*Conn
}

func NewBus() *Bus {
	return &Bus{channels: make(map[string]*channel)}
}

func (b *Bus) channel(name string) *channel {
	ch := b.channels[name]
	if ch == nil {
		ch = &channel{
			subs:    make(map[string][]*subscription),
			members: make(map[string]transport.Member),
			conns:   make(map[string]*Conn),
		}
		b.channels[name] = ch
	}
	return ch
}

// Connect opens a connection to a channel.
func (b *Bus) Connect(channelName string) *Conn {
	c := &Conn{
		bus:     b,
		name:    channelName,
		id:      uuid.NewString(),
		changes: make(chan struct{}, 1),
	}
	b.mu.Lock()
	b.channel(channelName).conns[c.id] = c
	b.mu.Unlock()
	return c
}

type Conn struct {
	bus     *Bus
	name    string
	id      string
	changes chan struct{}

	mu     sync.Mutex
	subs   []*subscription
	closed bool
}

func (c *Conn) ConnectionID() string { return c.id }

func (c *Conn) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return transport.ErrClosed
	}
	msg := append([]byte(nil), data...)
	c.bus.mu.Lock()
	subs := append([]*subscription(nil), c.bus.channel(c.name).subs[topic]...)
	c.bus.mu.Unlock()
	for _, s := range subs {
		s.push(msg)
	}
	return nil
}

func (c *Conn) Subscribe(ctx context.Context, topic string, h transport.Handler) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.isClosed() {
		return nil, transport.ErrClosed
	}
	s := newSubscription(h)
	c.bus.mu.Lock()
	ch := c.bus.channel(c.name)
	ch.subs[topic] = append(ch.subs[topic], s)
	c.bus.mu.Unlock()

	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.bus.mu.Lock()
			list := ch.subs[topic]
			for i, x := range list {
				if x == s {
					ch.subs[topic] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			c.bus.mu.Unlock()
			s.stop()
		})
	}, nil
}

func (c *Conn) Enter(ctx context.Context, data transport.MemberData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return transport.ErrClosed
	}
	c.bus.mu.Lock()
	ch := c.bus.channel(c.name)
	ch.members[c.id] = transport.Member{ID: data.PlayerID, ConnectionID: c.id, Data: data}
	c.bus.notifyLocked(ch)
	c.bus.mu.Unlock()
	return nil
}

func (c *Conn) Leave(ctx context.Context) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	ch := c.bus.channel(c.name)
	if _, ok := ch.members[c.id]; ok {
		delete(ch.members, c.id)
		c.bus.notifyLocked(ch)
	}
	return nil
}

func (c *Conn) Members(ctx context.Context) ([]transport.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	ch := c.bus.channel(c.name)
	out := make([]transport.Member, 0, len(ch.members))
	for _, m := range ch.members {
		out = append(out, m)
	}
	return out, nil
}

func (c *Conn) Changes() <-chan struct{} { return c.changes }

// Close leaves presence and drops every subscription, like a dropped socket.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	c.bus.mu.Lock()
	ch := c.bus.channel(c.name)
	for topic, list := range ch.subs {
		kept := list[:0:0]
		for _, s := range list {
			if !contains(subs, s) {
				kept = append(kept, s)
			}
		}
		ch.subs[topic] = kept
	}
	delete(ch.conns, c.id)
	if _, ok := ch.members[c.id]; ok {
		delete(ch.members, c.id)
		c.bus.notifyLocked(ch)
	}
	c.bus.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	return nil
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (b *Bus) notifyLocked(ch *channel) {
	for _, c := range ch.conns {
		transport.Notify(c.changes)
	}
}

func contains(list []*subscription, s *subscription) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// subscription delivers messages to its handler on its own goroutine so a
// slow handler never blocks a publisher. The queue is unbounded.
type subscription struct {
	h      transport.Handler
	mu     sync.Mutex
	queue  [][]byte
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

func newSubscription(h transport.Handler) *subscription {
	s := &subscription{
		h:    h,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *subscription) push(msg []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	transport.Notify(s.wake)
}

func (s *subscription) stop() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	s.mu.Unlock()
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if s.closed || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			msg := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			s.h(msg)
		}
	}
}
