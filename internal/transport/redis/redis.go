// Package redis carries a room channel over Redis. Messages use pub/sub, one
// Redis channel per topic. Presence is a sorted set of connection ids scored
// by expiry, refreshed by a heartbeat, plus a hash holding each member's data.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/kuhhandel/internal/transport"
)

type Options struct {
	Addr        string
	Channel     string
	PresenceTTL time.Duration
	// ConnectTimeout bounds the initial retry loop.
	ConnectTimeout time.Duration
	Logger         *zap.Logger
}

type Conn struct {
	rdb     *goredis.Client
	channel string
	id      string
	ttl     time.Duration
	log     *zap.Logger
	changes chan struct{}

	mu       sync.Mutex
	member   *transport.Member
	subs     []*goredis.PubSub
	stopBeat context.CancelFunc
	closed   bool

	presence *goredis.PubSub
	wg       sync.WaitGroup
}

// Dial connects to Redis, retrying with exponential backoff, and starts
// listening for presence announcements on the channel.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	if opts.PresenceTTL <= 0 {
		opts.PresenceTTL = 15 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: opts.Addr})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = opts.ConnectTimeout
	err := backoff.Retry(func() error {
		return rdb.Ping(ctx).Err()
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}

	c := &Conn{
		rdb:     rdb,
		channel: opts.Channel,
		id:      uuid.NewString(),
		ttl:     opts.PresenceTTL,
		log:     opts.Logger.With(zap.String("channel", opts.Channel)),
		changes: make(chan struct{}, 1),
	}

	c.presence = rdb.Subscribe(ctx, c.presenceChannel())
	if _, err := c.presence.Receive(ctx); err != nil {
		err = multierr.Combine(fmt.Errorf("subscribe presence: %w", err), c.presence.Close(), rdb.Close())
		return nil, err
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for range c.presence.Channel() {
			transport.Notify(c.changes)
		}
	}()
	return c, nil
}

func (c *Conn) ConnectionID() string { return c.id }

func (c *Conn) topicChannel(topic string) string { return c.channel + ":" + topic }
func (c *Conn) presenceChannel() string          { return c.channel + ":presence" }
func (c *Conn) presenceKey() string              { return "presence:" + c.channel }
func (c *Conn) metaKey() string                  { return "presence:" + c.channel + ":meta" }

func (c *Conn) Publish(ctx context.Context, topic string, data []byte) error {
	if c.isClosed() {
		return transport.ErrClosed
	}
	return c.rdb.Publish(ctx, c.topicChannel(topic), data).Err()
}

func (c *Conn) Subscribe(ctx context.Context, topic string, h transport.Handler) (func(), error) {
	if c.isClosed() {
		return nil, transport.ErrClosed
	}
	ps := c.rdb.Subscribe(ctx, c.topicChannel(topic))
	// wait for the confirmation so nothing published after we return is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.mu.Lock()
	c.subs = append(c.subs, ps)
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for msg := range ps.Channel() {
			h([]byte(msg.Payload))
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			for i, x := range c.subs {
				if x == ps {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					break
				}
			}
			c.mu.Unlock()
			if err := ps.Close(); err != nil {
				c.log.Debug("unsubscribe", zap.String("topic", topic), zap.Error(err))
			}
		})
	}, nil
}

// Enter registers this connection and keeps it alive with a heartbeat until
// Leave or Close.
func (c *Conn) Enter(ctx context.Context, data transport.MemberData) error {
	m := transport.Member{ID: data.PlayerID, ConnectionID: c.id, Data: data}
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := c.touch(ctx, raw); err != nil {
		return fmt.Errorf("enter presence: %w", err)
	}

	c.mu.Lock()
	if c.stopBeat != nil {
		c.stopBeat()
	}
	beatCtx, cancel := context.WithCancel(context.Background())
	c.stopBeat = cancel
	c.member = &m
	c.mu.Unlock()

	c.wg.Add(1)
	go c.heartbeat(beatCtx, raw)
	return c.announce(ctx)
}

func (c *Conn) touch(ctx context.Context, raw []byte) error {
	expires := time.Now().Add(c.ttl).UnixMilli()
	_, err := c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAdd(ctx, c.presenceKey(), goredis.Z{Score: float64(expires), Member: c.id})
		pipe.HSet(ctx, c.metaKey(), c.id, raw)
		return nil
	})
	return err
}

func (c *Conn) heartbeat(ctx context.Context, raw []byte) {
	defer c.wg.Done()
	t := time.NewTicker(c.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.touch(ctx, raw); err != nil && ctx.Err() == nil {
				c.log.Warn("presence heartbeat", zap.Error(err))
			}
		}
	}
}

func (c *Conn) announce(ctx context.Context) error {
	return c.rdb.Publish(ctx, c.presenceChannel(), c.id).Err()
}

func (c *Conn) Leave(ctx context.Context) error {
	c.mu.Lock()
	if c.stopBeat != nil {
		c.stopBeat()
		c.stopBeat = nil
	}
	entered := c.member != nil
	c.member = nil
	c.mu.Unlock()
	if !entered {
		return nil
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRem(ctx, c.presenceKey(), c.id)
		pipe.HDel(ctx, c.metaKey(), c.id)
		return nil
	})
	return multierr.Append(err, c.announce(ctx))
}

// Members prunes expired entries and returns the rest.
func (c *Conn) Members(ctx context.Context) ([]transport.Member, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	expired, err := c.rdb.ZRangeByScore(ctx, c.presenceKey(), &goredis.ZRangeBy{Min: "-inf", Max: "(" + now}).Result()
	if err != nil {
		return nil, err
	}
	if len(expired) > 0 {
		_, err := c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.ZRemRangeByScore(ctx, c.presenceKey(), "-inf", "("+now)
			pipe.HDel(ctx, c.metaKey(), expired...)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	ids, err := c.rdb.ZRange(ctx, c.presenceKey(), 0, -1).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	vals, err := c.rdb.HMGet(ctx, c.metaKey(), ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]transport.Member, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var m transport.Member
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			c.log.Warn("bad presence entry", zap.String("connection", ids[i]), zap.Error(err))
			continue
		}
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
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.Leave(ctx)
	for _, ps := range subs {
		err = multierr.Append(err, ps.Close())
	}
	err = multierr.Append(err, c.presence.Close())
	c.wg.Wait()
	return multierr.Append(err, c.rdb.Close())
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
