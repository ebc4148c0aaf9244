// Package mqtt carries a room channel over an MQTT broker. Each topic maps to
// <prefix>/<channel>/<topic>. Presence is a retained message per connection
// under <prefix>/<channel>/presence/<connectionID>; the broker clears it through
// the last will when a connection drops without leaving.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/kuhhandel/internal/transport"
)

const (
	defaultPrefix = "kuhhandel"
	qos           = 1
)

var ErrTimeout = errors.New("mqtt operation timed out")

type Options struct {
	Broker  string
	Channel string
	// Prefix namespaces every topic; defaults to "kuhhandel".
	Prefix         string
	ConnectTimeout time.Duration
	Logger         *zap.Logger
}

type Conn struct {
	client  paho.Client
	base    string
	id      string
	log     *zap.Logger
	changes chan struct{}

	mu      sync.Mutex
	members map[string]transport.Member // connectionID -> member
	subs    map[string]paho.MessageHandler
	entry   []byte // retained presence entry while entered
	closed  bool
}

// Dial connects to the broker with backoff and starts tracking presence.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	c := &Conn{
		base:    opts.Prefix + "/" + opts.Channel,
		id:      uuid.NewString(),
		log:     opts.Logger.With(zap.String("channel", opts.Channel)),
		changes: make(chan struct{}, 1),
		members: make(map[string]transport.Member),
		subs:    make(map[string]paho.MessageHandler),
	}

	po := paho.NewClientOptions()
	po.AddBroker(opts.Broker)
	po.SetClientID("kh-" + c.id)
	po.SetCleanSession(true)
	po.SetAutoReconnect(true)
	po.SetOrderMatters(true)
	po.SetWill(c.presenceTopic(c.id), "", qos, true)
	po.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.Warn("mqtt connection lost", zap.Error(err))
	})
	po.SetOnConnectHandler(c.restore)
	c.client = paho.NewClient(po)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = opts.ConnectTimeout
	err := backoff.Retry(func() error {
		return wait(ctx, c.client.Connect())
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", opts.Broker, err)
	}

	if err := wait(ctx, c.client.Subscribe(c.presenceTopic("+"), qos, c.onPresence)); err != nil {
		c.client.Disconnect(250)
		return nil, fmt.Errorf("subscribe presence: %w", err)
	}
	return c, nil
}

func wait(ctx context.Context, tok paho.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) ConnectionID() string { return c.id }

func (c *Conn) topic(name string) string { return c.base + "/" + name }

func (c *Conn) presenceTopic(connID string) string { return c.base + "/presence/" + connID }

func (c *Conn) onPresence(_ paho.Client, msg paho.Message) {
	connID := msg.Topic()[strings.LastIndex(msg.Topic(), "/")+1:]
	c.mu.Lock()
	if len(msg.Payload()) == 0 {
		delete(c.members, connID)
	} else {
		var m transport.Member
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			c.mu.Unlock()
			c.log.Warn("bad presence entry", zap.String("connection", connID), zap.Error(err))
			return
		}
		c.members[connID] = m
	}
	c.mu.Unlock()
	transport.Notify(c.changes)
}

// restore runs on every (re)connect. A clean session loses the broker-side
// subscriptions, and the last will has cleared the presence entry, so both
// are put back.
func (c *Conn) restore(client paho.Client) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	subs := make(map[string]paho.MessageHandler, len(c.subs)+1)
	for topic, h := range c.subs {
		subs[topic] = h
	}
	entry := c.entry
	c.mu.Unlock()

	subs[c.presenceTopic("+")] = c.onPresence
	for topic, h := range subs {
		if tok := client.Subscribe(topic, qos, h); !tok.WaitTimeout(5*time.Second) || tok.Error() != nil {
			c.log.Warn("resubscribe failed", zap.String("topic", topic), zap.Error(tok.Error()))
		}
	}
	if entry != nil {
		if tok := client.Publish(c.presenceTopic(c.id), qos, true, entry); !tok.WaitTimeout(5*time.Second) || tok.Error() != nil {
			c.log.Warn("presence restore failed", zap.Error(tok.Error()))
		}
	}
}

func (c *Conn) Publish(ctx context.Context, topic string, data []byte) error {
	if c.isClosed() {
		return transport.ErrClosed
	}
	return wait(ctx, c.client.Publish(c.topic(topic), qos, false, data))
}

func (c *Conn) Subscribe(ctx context.Context, topic string, h transport.Handler) (func(), error) {
	if c.isClosed() {
		return nil, transport.ErrClosed
	}
	full := c.topic(topic)
	handler := func(_ paho.Client, msg paho.Message) {
		h(msg.Payload())
	}
	if err := wait(ctx, c.client.Subscribe(full, qos, handler)); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.mu.Lock()
	c.subs[full] = handler
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, full)
			c.mu.Unlock()
			if !c.client.Unsubscribe(full).WaitTimeout(2 * time.Second) {
				c.log.Debug("unsubscribe timed out", zap.String("topic", topic))
			}
		})
	}, nil
}

func (c *Conn) Enter(ctx context.Context, data transport.MemberData) error {
	raw, err := json.Marshal(transport.Member{ID: data.PlayerID, ConnectionID: c.id, Data: data})
	if err != nil {
		return err
	}
	if err := wait(ctx, c.client.Publish(c.presenceTopic(c.id), qos, true, raw)); err != nil {
		return fmt.Errorf("enter presence: %w", err)
	}
	c.mu.Lock()
	c.entry = raw
	c.mu.Unlock()
	return nil
}

// Leave clears the retained presence entry.
func (c *Conn) Leave(ctx context.Context) error {
	c.mu.Lock()
	entered := c.entry != nil
	c.entry = nil
	c.mu.Unlock()
	if !entered {
		return nil
	}
	return wait(ctx, c.client.Publish(c.presenceTopic(c.id), qos, true, []byte{}))
}

func (c *Conn) Members(ctx context.Context) ([]transport.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.Member, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	return out, nil
}

func (c *Conn) Changes() <-chan struct{} { return c.changes }

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.Leave(ctx)
	if !c.client.Unsubscribe(c.presenceTopic("+")).WaitTimeout(time.Second) {
		err = multierr.Append(err, ErrTimeout)
	}
	c.client.Disconnect(250)
	return err
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
