package hub

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/kuhhandel/internal/dispatcher"
	"github.com/DoyleJ11/kuhhandel/internal/identity"
	"github.com/DoyleJ11/kuhhandel/internal/protocol"
	"github.com/DoyleJ11/kuhhandel/internal/store"
	"github.com/DoyleJ11/kuhhandel/internal/trace"
	"github.com/DoyleJ11/kuhhandel/internal/transport"
)

// Dialer opens a transport connection to a room channel.
type Dialer func(ctx context.Context, channel string) (transport.Transport, error)

type Options struct {
	Dial   Dialer
	Store  store.SnapshotStore
	Tracer trace.Tracer
	Logger *zap.Logger
	// Base carries the timing and dedup settings shared by every room.
	Base dispatcher.Config
}

type HubMsg interface{ isHubMsg() }

// JoinRoom returns the running room for Code, starting a replica as PlayerID
// if there is none yet.
type JoinRoom struct {
	Code     string
	PlayerID string
	Name     string
	Reply    chan *Room
}

type GetRoom struct {
	Code  string
	Reply chan *Room
}

type RemoveRoom struct {
	Code string
	Room *Room
}

type ShutdownHub struct{}

func (JoinRoom) isHubMsg()    {}
func (GetRoom) isHubMsg()     {}
func (RemoveRoom) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

// Room is one joined room. Its dispatcher is replaced when the replica has
// to reconnect under a new identity.
type Room struct {
	Code string

	mu     sync.RWMutex
	d      *dispatcher.Dispatcher
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *Room) Dispatcher() *dispatcher.Dispatcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.d
}

// Done is closed once the room has stopped for good.
func (r *Room) Done() <-chan struct{} { return r.done }

// Err is why the room stopped, nil after a clean shutdown.
func (r *Room) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

func (r *Room) set(d *dispatcher.Dispatcher) {
	r.mu.Lock()
	r.d = d
	r.mu.Unlock()
}

type Hub struct {
	inbox  chan HubMsg
	rooms  map[string]*Room
	opts   Options
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, opts Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Store == nil {
		opts.Store = store.Nop()
	}
	if opts.Tracer == nil {
		opts.Tracer = trace.NewZap(opts.Logger)
	}
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*Room),
		opts:   opts,
		log:    opts.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Join is JoinRoom with a reply channel and a context.
func (h *Hub) Join(ctx context.Context, code, playerID, name string) (*Room, error) {
	reply := make(chan *Room, 1)
	select {
	case h.inbox <- JoinRoom{Code: code, PlayerID: playerID, Name: name, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the room for code, or nil.
func (h *Hub) Get(ctx context.Context, code string) (*Room, error) {
	reply := make(chan *Room, 1)
	select {
	case h.inbox <- GetRoom{Code: code, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case JoinRoom:
				if r := h.rooms[msg.Code]; r != nil {
					msg.Reply <- r
					break
				}
				r := h.startRoom(msg.Code, msg.PlayerID, msg.Name)
				if r.Dispatcher() != nil {
					h.rooms[msg.Code] = r
				}
				msg.Reply <- r

			case GetRoom:
				msg.Reply <- h.rooms[msg.Code] // May be nil

			case RemoveRoom:
				if h.rooms[msg.Code] == msg.Room {
					delete(h.rooms, msg.Code)
				}

			case ShutdownHub:
				h.shutdown()
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for code, r := range h.rooms {
		r.cancel()
		delete(h.rooms, code)
	}
}

func (h *Hub) startRoom(code, playerID, name string) *Room {
	ctx, cancel := context.WithCancel(h.ctx)
	r := &Room{Code: code, cancel: cancel, done: make(chan struct{})}
	// The first dispatcher exists before JoinRoom replies so callers can use
	// it straight away.
	tr, err := h.opts.Dial(ctx, protocol.ChannelName(code))
	if err != nil {
		h.log.Error("dial room", zap.String("room", code), zap.Error(err))
		r.err = err
		cancel()
		close(r.done)
		return r
	}
	r.d = h.newDispatcher(code, playerID, name, tr)
	go h.supervise(ctx, r, playerID, name, tr)
	return r
}

func (h *Hub) newDispatcher(code, playerID, name string, tr transport.Transport) *dispatcher.Dispatcher {
	cfg := h.opts.Base
	cfg.Room = code
	cfg.PlayerID = playerID
	cfg.Name = name
	return dispatcher.New(cfg, tr, h.opts.Store, h.opts.Tracer)
}

// supervise runs the room's dispatcher. A duplicate identity restarts it
// under a fresh id on a fresh connection; anything else ends the room.
func (h *Hub) supervise(ctx context.Context, r *Room, playerID, name string, tr transport.Transport) {
	defer close(r.done)
	defer r.cancel()
	log := h.log.With(zap.String("room", r.Code))

	for {
		err := r.Dispatcher().Run(ctx)
		if cerr := tr.Close(); cerr != nil {
			log.Warn("close transport", zap.Error(cerr))
		}
		if !errors.Is(err, dispatcher.ErrDuplicateIdentity) {
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("room stopped", zap.String("player", playerID), zap.Error(err))
			}
			r.mu.Lock()
			r.err = err
			r.mu.Unlock()
			break
		}

		next := identity.NewID()
		log.Warn("identity in use, reconnecting", zap.String("player", playerID), zap.String("new_player", next))
		playerID = next
		tr, err = h.opts.Dial(ctx, protocol.ChannelName(r.Code))
		if err != nil {
			log.Error("redial room", zap.Error(err))
			r.mu.Lock()
			r.err = err
			r.mu.Unlock()
			break
		}
		r.set(h.newDispatcher(r.Code, playerID, name, tr))
	}

	select {
	case h.inbox <- RemoveRoom{Code: r.Code, Room: r}:
	case <-h.ctx.Done():
	}
}
