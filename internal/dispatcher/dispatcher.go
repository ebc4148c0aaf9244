// Package dispatcher runs one replica of a room. A single loop goroutine owns
// the game state; transport callbacks, presence changes and local callers
// reach it only through the inbox.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/kuhhandel/internal/cowtrade"
	"github.com/DoyleJ11/kuhhandel/internal/dedup"
	"github.com/DoyleJ11/kuhhandel/internal/election"
	"github.com/DoyleJ11/kuhhandel/internal/engine"
	"github.com/DoyleJ11/kuhhandel/internal/protocol"
	"github.com/DoyleJ11/kuhhandel/internal/store"
	"github.com/DoyleJ11/kuhhandel/internal/trace"
	"github.com/DoyleJ11/kuhhandel/internal/transport"
	"github.com/DoyleJ11/kuhhandel/pkg/types"
)

// ErrIdentityContract means a presence member's id differs from the player id
// it announced. The room cannot elect safely and the replica stops.
var ErrIdentityContract = errors.New("presence member id does not match its player id")

// ErrDuplicateIdentity means another connection is using this replica's id.
// The caller should pick a new id and reconnect.
var ErrDuplicateIdentity = errors.New("player id is used by another connection")

type Config struct {
	Room     string
	PlayerID string
	Name     string

	DedupCapacity     int
	ReconcileInterval time.Duration
	RequestStateAfter time.Duration

	// Now stamps bids. Defaults to time.Now.
	Now func() time.Time
}

func (c *Config) withDefaults() {
	if c.DedupCapacity < 1 {
		c.DedupCapacity = dedup.DefaultCapacity
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 2 * time.Second
	}
	if c.RequestStateAfter <= 0 {
		c.RequestStateAfter = 1500 * time.Millisecond
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type Msg interface{ isDispatcherMsg() }

type inbound struct {
	topic string
	data  []byte
}

func (inbound) isDispatcherMsg() {}

type membersChanged struct {
	members []transport.Member
}

func (membersChanged) isDispatcherMsg() {}

type submit struct {
	env protocol.Envelope
}

func (submit) isDispatcherMsg() {}

type requestStateTimer struct{}

func (requestStateTimer) isDispatcherMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isDispatcherMsg() {}

// Watch registers Outbox for every snapshot this replica applies. The
// current view is sent right away. A watcher that falls behind is closed
// and dropped.
type Watch struct {
	ID     string
	Outbox chan View
}

func (Watch) isDispatcherMsg() {}

type Unwatch struct{ ID string }

func (Unwatch) isDispatcherMsg() {}

type Shutdown struct{}

func (Shutdown) isDispatcherMsg() {}

// View is a read-only copy of what the replica currently believes.
type View struct {
	Self       string
	HostID     string
	IsHost     bool
	Version    uint64
	NumWatched int
	State      types.Snapshot
}

type Dispatcher struct {
	cfg    Config
	tr     transport.Transport
	st     store.SnapshotStore
	tracer trace.Tracer

	inbox chan Msg
	out   *outbox

	// Owned by the loop goroutine.
	state     *engine.State
	hostID    string
	members   []transport.Member
	seen      *dedup.Buffer
	watchers  map[string]chan View
	recovered *types.Snapshot
	synced    bool // a snapshot arrived, or nobody answered in time
	requested bool
	timer     *time.Timer
	revealAt  time.Time // last reveal this Host published
}

func New(cfg Config, tr transport.Transport, st store.SnapshotStore, tracer trace.Tracer) *Dispatcher {
	cfg.withDefaults()
	if st == nil {
		st = store.Nop()
	}
	if tracer == nil {
		tracer = trace.Nop()
	}
	s := engine.NewEmptyState()
	return &Dispatcher{
		cfg:      cfg,
		tr:       tr,
		st:       st,
		tracer:   tracer,
		inbox:    make(chan Msg, 256),
		out:      newOutbox(),
		state:    &s,
		seen:     dedup.New(cfg.DedupCapacity),
		watchers: make(map[string]chan View),
	}
}

// Inbox exposes the loop for GetState, Watch, Unwatch and Shutdown.
func (d *Dispatcher) Inbox() chan<- Msg { return d.inbox }

func (d *Dispatcher) PlayerID() string { return d.cfg.PlayerID }

func (d *Dispatcher) Room() string { return d.cfg.Room }

// Run connects the replica and blocks until ctx ends, Shutdown arrives or a
// fatal identity error is found.
func (d *Dispatcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if snap, ok, err := d.st.Load(ctx, d.cfg.Room); err != nil {
		d.trace(trace.Event{Decision: trace.Dropped, Reason: "recovery load failed", Err: err})
	} else if ok {
		d.recovered = &snap
	}

	for _, topic := range protocol.Topics {
		topic := topic
		unsub, err := d.tr.Subscribe(ctx, topic, func(data []byte) {
			d.send(ctx, inbound{topic: topic, data: data})
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		defer unsub()
	}

	me := transport.MemberData{PlayerID: d.cfg.PlayerID, Name: d.cfg.Name}
	if err := d.tr.Enter(ctx, me); err != nil {
		return fmt.Errorf("enter presence: %w", err)
	}
	defer func() {
		leaveCtx, done := context.WithTimeout(context.Background(), time.Second)
		defer done()
		if err := d.tr.Leave(leaveCtx); err != nil && !errors.Is(err, transport.ErrClosed) {
			d.traceIO(trace.Event{Decision: trace.Dropped, Reason: "leave presence failed", Err: err})
		}
	}()
	d.publishSystem(protocol.SystemJoin, protocol.Join{PlayerID: d.cfg.PlayerID, Name: d.cfg.Name})

	d.timer = time.AfterFunc(d.cfg.RequestStateAfter, func() { d.send(ctx, requestStateTimer{}) })
	defer d.timer.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.out.run(gctx, d.write)
		return nil
	})
	g.Go(func() error {
		d.watchPresence(gctx)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return d.loop(gctx)
	})
	return g.Wait()
}

// Submit publishes an action from this replica with a fresh actionId. It
// returns once the action is queued, not once the Host applies it.
func (d *Dispatcher) Submit(ctx context.Context, t protocol.Type, payload any) error {
	if !t.IsAction() {
		return fmt.Errorf("submit %s: not an action", t)
	}
	env, err := protocol.MakeEnvelope(t, d.cfg.Room, d.cfg.PlayerID, payload, protocol.Options{
		ActionID: uuid.NewString(),
	})
	if err != nil {
		return err
	}
	select {
	case d.inbox <- submit{env: env}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State asks the loop for the current view.
func (d *Dispatcher) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case d.inbox <- GetState{Reply: reply}:
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (d *Dispatcher) send(ctx context.Context, m Msg) {
	select {
	case d.inbox <- m:
	case <-ctx.Done():
	}
}

func (d *Dispatcher) loop(ctx context.Context) error {
	defer d.closeWatchers()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case m := <-d.inbox:
			switch msg := m.(type) {
			case inbound:
				d.handleInbound(msg)

			case membersChanged:
				d.members = msg.members
				if err := d.reconcile(); err != nil {
					d.trace(trace.Event{Decision: trace.Fatal, Err: err})
					return err
				}
				d.retryReveal()

			case submit:
				d.out.push(outbound{env: msg.env})

			case requestStateTimer:
				d.onRequestStateTimer()
				if err := d.reconcile(); err != nil {
					d.trace(trace.Event{Decision: trace.Fatal, Err: err})
					return err
				}

			case GetState:
				msg.Reply <- d.view()

			case Watch:
				d.watchers[msg.ID] = msg.Outbox
				select {
				case msg.Outbox <- d.view():
				default:
				}

			case Unwatch:
				if ch, ok := d.watchers[msg.ID]; ok {
					close(ch)
					delete(d.watchers, msg.ID)
				}

			case Shutdown:
				return nil
			}
		}
	}
}

func (d *Dispatcher) watchPresence(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.ReconcileInterval)
	defer ticker.Stop()

	poll := func() {
		ms, err := d.tr.Members(ctx)
		if err != nil {
			if ctx.Err() == nil {
				d.traceIO(trace.Event{Decision: trace.Dropped, Reason: "presence read failed", Err: err})
			}
			return
		}
		d.send(ctx, membersChanged{members: ms})
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.tr.Changes():
			poll()
		case <-ticker.C:
			poll()
		}
	}
}

func (d *Dispatcher) write(ctx context.Context, m outbound) {
	data, err := protocol.Encode(m.env)
	if err == nil {
		err = d.tr.Publish(ctx, protocol.TopicFor(m.env.Type), data)
	}
	if err != nil {
		if ctx.Err() == nil {
			d.traceIO(trace.Event{Decision: trace.Dropped, Type: string(m.env.Type), Reason: "publish failed", Err: err})
		}
		return
	}
	if m.save != nil {
		if err := d.st.Save(ctx, d.cfg.Room, *m.save); err != nil {
			d.traceIO(trace.Event{Decision: trace.Dropped, Version: m.save.StateVersion, Reason: "snapshot save failed", Err: err})
		}
	}
}

func (d *Dispatcher) isHost() bool {
	return d.hostID != "" && d.hostID == d.cfg.PlayerID
}

func (d *Dispatcher) view() View {
	return View{
		Self:       d.cfg.PlayerID,
		HostID:     d.hostID,
		IsHost:     d.isHost(),
		Version:    d.state.StateVersion,
		NumWatched: len(d.watchers),
		State:      d.state.Public(),
	}
}

func (d *Dispatcher) notifyWatchers() {
	if len(d.watchers) == 0 {
		return
	}
	v := d.view()
	for id, ch := range d.watchers {
		select {
		case ch <- v:
		default:
			close(ch)
			delete(d.watchers, id)
		}
	}
}

func (d *Dispatcher) closeWatchers() {
	for id, ch := range d.watchers {
		close(ch)
		delete(d.watchers, id)
	}
}

func (d *Dispatcher) trace(e trace.Event) {
	if e.Version == 0 {
		e.Version = d.state.StateVersion
	}
	d.traceIO(e)
}

// traceIO is trace for goroutines other than the loop; it reads no state.
func (d *Dispatcher) traceIO(e trace.Event) {
	e.Room = d.cfg.Room
	e.Self = d.cfg.PlayerID
	d.tracer.Trace(e)
}

func (d *Dispatcher) handleInbound(msg inbound) {
	env, err := protocol.Decode(msg.data)
	if err != nil {
		d.trace(trace.Event{Decision: trace.Dropped, Reason: "undecodable", Err: err})
		return
	}
	if protocol.TopicFor(env.Type) != msg.topic {
		d.trace(eventFor(env, trace.Dropped, "wrong topic "+msg.topic))
		return
	}
	if env.RoomID != d.cfg.Room {
		d.trace(eventFor(env, trace.Dropped, "other room"))
		return
	}
	switch env.Type.Class() {
	case protocol.ClassAction:
		d.handleAction(env)
	case protocol.ClassState:
		d.handleStateUpdate(env)
	case protocol.ClassSystem:
		d.handleSystem(env)
	}
}

func eventFor(env protocol.Envelope, decision trace.Decision, reason string) trace.Event {
	e := trace.Event{
		Decision: decision,
		Type:     string(env.Type),
		Sender:   env.SenderID,
		Reason:   reason,
	}
	if env.ActionID != nil {
		e.ActionID = *env.ActionID
	}
	return e
}

// handleAction runs the gates in order: host, phase, permission, replay.
// Only then does the reducer run, on a copy that replaces the state only if
// the reducer succeeds.
func (d *Dispatcher) handleAction(env protocol.Envelope) {
	if !d.isHost() {
		d.trace(eventFor(env, trace.Dropped, "not host"))
		return
	}
	r, ok := rules[env.Type]
	if !ok {
		d.trace(eventFor(env, trace.Dropped, "unknown action"))
		return
	}
	if !r.allowedIn(d.state.Phase) {
		d.trace(eventFor(env, trace.Dropped, "phase "+string(d.state.Phase)))
		return
	}
	var who protocol.PlayerAction
	if err := protocol.DecodePayload(env, &who); err != nil || who.PlayerID != env.SenderID {
		d.trace(eventFor(env, trace.Dropped, "payload playerId is not the sender"))
		return
	}
	if !r.permit(d.state, env.SenderID) {
		d.trace(eventFor(env, trace.Dropped, "not permitted"))
		return
	}
	if !d.seen.Add(protocol.DedupKey(env)) {
		d.trace(eventFor(env, trace.Dropped, "replay"))
		return
	}

	next := d.state.Clone()
	if err := r.apply(next, env, d.cfg.Now().UnixMilli()); err != nil {
		e := eventFor(env, trace.Rejected, "")
		if errors.Is(err, cowtrade.ErrSecretsPending) {
			e.Decision = trace.Dropped
		}
		e.Err = err
		d.trace(e)
		return
	}
	if next.Phase == engine.PhaseTurnEnd {
		if err := engine.FinishTurn(next); err != nil {
			e := eventFor(env, trace.Rejected, "finish turn")
			e.Err = err
			d.trace(e)
			return
		}
	}
	d.commit(next)
	d.trace(eventFor(env, trace.Applied, ""))

	if d.state.Phase == engine.PhaseCowReveal {
		d.publishReveal()
	}
}

func (d *Dispatcher) publishReveal() {
	d.revealAt = d.cfg.Now()
	d.publishAction(protocol.ActionRevealCowTrade, protocol.PlayerAction{PlayerID: d.cfg.PlayerID})
}

// retryReveal publishes the reveal again when the trade has sat in
// cow.reveal for a full reconcile interval. Each retry carries a fresh
// actionId; the phase gate drops any that arrive after the first one lands.
func (d *Dispatcher) retryReveal() {
	if !d.isHost() || d.state.Phase != engine.PhaseCowReveal {
		return
	}
	if d.cfg.Now().Sub(d.revealAt) < d.cfg.ReconcileInterval {
		return
	}
	d.publishReveal()
}

// commit installs next as the new state one version ahead, publishes it and
// hands it to watchers and the snapshot store.
func (d *Dispatcher) commit(next *engine.State) {
	next.StateVersion = d.state.StateVersion + 1
	d.state = next
	d.publishState(true)
	d.notifyWatchers()
}

func (d *Dispatcher) publishState(save bool) {
	snap := d.state.Public()
	env, err := protocol.MakeStateUpdate(d.cfg.Room, d.cfg.PlayerID, protocol.StateUpdate{State: snap})
	if err != nil {
		d.trace(trace.Event{Decision: trace.Dropped, Type: string(protocol.StateUpdateType), Err: err})
		return
	}
	m := outbound{env: env}
	if save {
		m.save = &snap
	}
	d.out.push(m)
}

func (d *Dispatcher) publishSystem(t protocol.Type, payload any) {
	env, err := protocol.MakeEnvelope(t, d.cfg.Room, d.cfg.PlayerID, payload, protocol.Options{})
	if err != nil {
		d.trace(trace.Event{Decision: trace.Dropped, Type: string(t), Err: err})
		return
	}
	d.out.push(outbound{env: env})
}

func (d *Dispatcher) publishAction(t protocol.Type, payload any) {
	env, err := protocol.MakeEnvelope(t, d.cfg.Room, d.cfg.PlayerID, payload, protocol.Options{
		ActionID: uuid.NewString(),
	})
	if err != nil {
		d.trace(trace.Event{Decision: trace.Dropped, Type: string(t), Err: err})
		return
	}
	d.out.push(outbound{env: env})
}

// handleStateUpdate replaces the local state with a strictly newer snapshot.
// The Host's own echo carries its current version and is ignored, which
// keeps its cow-trade secrets.
func (d *Dispatcher) handleStateUpdate(env protocol.Envelope) {
	var up protocol.StateUpdate
	if err := protocol.DecodePayload(env, &up); err != nil {
		d.trace(eventFor(env, trace.Dropped, "bad state payload"))
		return
	}
	incoming := up.State.StateVersion
	if env.StateVersion != nil && *env.StateVersion != incoming {
		e := eventFor(env, trace.Dropped, "")
		e.Err = protocol.ErrVersionMismatch
		d.trace(e)
		return
	}
	if incoming <= d.state.StateVersion {
		e := eventFor(env, trace.Stale, "")
		e.Version = incoming
		d.trace(e)
		return
	}

	next := engine.FromSnapshot(up.State)
	d.state = &next
	if next.HostID != "" {
		d.hostID = next.HostID
	}
	d.synced = true
	d.trace(eventFor(env, trace.Accepted, ""))
	d.notifyWatchers()

	// The snapshot may name a host that has already gone.
	d.elect()
}

func (d *Dispatcher) handleSystem(env protocol.Envelope) {
	switch env.Type {
	case protocol.SystemRequestState:
		if !d.isHost() {
			return
		}
		d.publishState(false)
		d.trace(eventFor(env, trace.Accepted, "republished"))

	case protocol.SystemJoin:
		var p protocol.Join
		if err := protocol.DecodePayload(env, &p); err != nil || p.PlayerID != env.SenderID {
			d.trace(eventFor(env, trace.Dropped, "bad join"))
			return
		}
		d.rosterChange(env, func(s *engine.State) error { return engine.AddPlayer(s, p.PlayerID, p.Name) })

	case protocol.SystemLeave:
		var p protocol.Leave
		if err := protocol.DecodePayload(env, &p); err != nil || p.PlayerID != env.SenderID {
			d.trace(eventFor(env, trace.Dropped, "bad leave"))
			return
		}
		d.rosterChange(env, func(s *engine.State) error { return engine.RemovePlayer(s, p.PlayerID) })

	case protocol.SystemHostChanged:
		var p protocol.HostChanged
		if err := protocol.DecodePayload(env, &p); err != nil {
			return
		}
		d.trace(eventFor(env, trace.Accepted, "host is "+p.NewHostID))
	}
}

func (d *Dispatcher) rosterChange(env protocol.Envelope, change func(*engine.State) error) {
	if !d.isHost() || d.state.Phase != engine.PhaseSetup {
		d.trace(eventFor(env, trace.Dropped, "not host or not in setup"))
		return
	}
	next := d.state.Clone()
	if err := change(next); err != nil {
		e := eventFor(env, trace.Dropped, "")
		e.Err = err
		d.trace(e)
		return
	}
	d.commit(next)
	d.trace(eventFor(env, trace.Applied, ""))
}

func (d *Dispatcher) onRequestStateTimer() {
	if d.synced {
		return
	}
	if d.requested {
		// Asked once and nobody answered: the room is ours to elect in.
		d.synced = true
		return
	}
	d.requested = true
	d.publishSystem(protocol.SystemRequestState, protocol.RequestState{RequesterID: d.cfg.PlayerID})
	d.timer.Reset(d.cfg.RequestStateAfter)
}

// reconcile checks the identity contract against the latest member list,
// then re-runs the election.
func (d *Dispatcher) reconcile() error {
	self := d.tr.ConnectionID()
	for _, m := range d.members {
		if m.ID != m.Data.PlayerID {
			return fmt.Errorf("%w: member %q announced %q", ErrIdentityContract, m.ID, m.Data.PlayerID)
		}
		if m.ID == d.cfg.PlayerID && m.ConnectionID != self {
			return fmt.Errorf("%w: %q", ErrDuplicateIdentity, m.ID)
		}
	}
	d.elect()
	return nil
}

// elect keeps the current host while present and otherwise picks a new one.
// It waits until this replica has caught up with the room, unless it is
// alone there.
func (d *Dispatcher) elect() {
	if d.members == nil {
		return
	}
	if !d.synced {
		for _, m := range d.members {
			if m.ID != d.cfg.PlayerID {
				return
			}
		}
		d.synced = true
	}

	next, ok := election.Next(d.hostID, transport.MemberIDs(d.members))
	if !ok {
		d.hostID = ""
		return
	}
	if next != d.hostID {
		prev := d.hostID
		d.hostID = next
		d.trace(trace.Event{Decision: trace.Elected, Reason: fmt.Sprintf("host %q replaces %q", next, prev)})
		if next == d.cfg.PlayerID {
			d.becomeHost()
			return
		}
	}
	if d.isHost() && d.state.Phase == engine.PhaseSetup {
		d.syncRoster()
	}
}

// becomeHost takes over the room. A trade waiting on secrets cannot finish
// because they were held by the previous host, so it is cancelled.
func (d *Dispatcher) becomeHost() {
	if d.state.StateVersion == 0 && d.recovered != nil && d.recovered.StateVersion > 0 {
		st := engine.FromSnapshot(*d.recovered)
		d.state = &st
		d.trace(trace.Event{Decision: trace.Accepted, Reason: "recovered cached snapshot"})
	}
	next := d.state.Clone()
	if cowtrade.CancelOnHostMigration(next) {
		d.trace(trace.Event{Decision: trace.Dropped, Reason: "cow trade cancelled by host change"})
	}
	next.HostID = d.cfg.PlayerID
	if next.Phase == engine.PhaseSetup {
		d.addPresent(next)
	}
	d.commit(next)
	d.publishSystem(protocol.SystemHostChanged, protocol.HostChanged{NewHostID: d.cfg.PlayerID})
}

// syncRoster seats present members and unseats absent ones during setup.
func (d *Dispatcher) syncRoster() {
	next := d.state.Clone()
	changed := d.addPresent(next)
	present := make(map[string]bool, len(d.members))
	for _, m := range d.members {
		present[m.ID] = true
	}
	for _, p := range d.state.Players {
		if !present[p.ID] && engine.RemovePlayer(next, p.ID) == nil {
			changed = true
		}
	}
	if changed {
		d.commit(next)
	}
}

func (d *Dispatcher) addPresent(s *engine.State) bool {
	ms := slices.Clone(d.members)
	slices.SortFunc(ms, func(a, b transport.Member) int { return strings.Compare(a.ID, b.ID) })
	changed := false
	for _, m := range ms {
		if engine.AddPlayer(s, m.ID, m.Data.Name) == nil {
			changed = true
		}
	}
	return changed
}
