// Package broadcast implements the per-domain fan-out core: the registry of
// connected clients and their filter specs, the throttled broadcast
// scheduler, and the client half of the connection health monitor.
//
// All registry state is owned by a single goroutine; everything else talks
// to it through typed commands on a channel.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/brandon-relentnet/scrollr-sub000/internal/cache"
	"github.com/brandon-relentnet/scrollr-sub000/internal/domain"
	"github.com/brandon-relentnet/scrollr-sub000/internal/metrics"
)

const (
	commandTimeout      = 5 * time.Second
	stopTimeout         = 10 * time.Second
	snapshotTimeout     = 5 * time.Second
	maxConcurrentGroups = 5
)

// Domain binds a Broadcaster to one record type and its protocol vocabulary.
type Domain[T any] struct {
	// Name labels logs and metrics ("finance" or "sports").
	Name string
	// Snapshot returns the full current record set, normally via the
	// snapshot cache.
	Snapshot func(ctx context.Context) ([]T, error)
	// Evaluate is the pure filter function for this record type.
	Evaluate func(snapshot []T, spec domain.FilterSpec) []T
	// UpdateType is the message type of scheduled broadcast pushes.
	UpdateType string
	// GetAllType is the inbound message type requesting the full snapshot.
	GetAllType string
	// SnapshotType is the message type of the full-snapshot reply.
	SnapshotType string
}

// --- Commands ---

type command interface{ isCommand() }

type baseCommand struct{}

func (baseCommand) isCommand() {}

type registerCmd struct {
	baseCommand
	conn    Conn
	replyCh chan registerReply
}

type registerReply struct {
	id  uuid.UUID
	err error
}

type unregisterCmd struct {
	baseCommand
	id uuid.UUID
}

type inboundCmd struct {
	baseCommand
	id   uuid.UUID
	data []byte
}

type pongCmd struct {
	baseCommand
	id uuid.UUID
}

type broadcastCmd struct {
	baseCommand
}

type clientCountCmd struct {
	baseCommand
	replyCh chan int
}

type stopCmd struct {
	baseCommand
}

// session is a connected client: its writer, its current filter spec and the
// liveness flag flipped by the probe sweep. Sessions are owned exclusively
// by the broadcaster goroutine.
type session struct {
	id     uuid.UUID
	writer *clientWriter
	spec   domain.FilterSpec
	alive  bool
}

// Broadcaster is the fan-out actor for one domain.
type Broadcaster[T any] struct {
	dom           Domain[T]
	cmdCh         chan command
	clock         clockwork.Clock
	sessions      map[uuid.UUID]*session
	results       *cache.ResultCache
	throttle      time.Duration
	probeInterval time.Duration
	maxClients    int
	done          chan struct{}

	// Scheduler state, touched only by run().
	scheduled bool
	lastDrain time.Time
	timer     clockwork.Timer
}

// New creates a broadcaster and starts its control loop.
func New[T any](dom Domain[T], results *cache.ResultCache, clock clockwork.Clock, throttle, probeInterval time.Duration, maxClients int) *Broadcaster[T] {
	b := &Broadcaster[T]{
		dom:           dom,
		cmdCh:         make(chan command, 256),
		clock:         clock,
		sessions:      make(map[uuid.UUID]*session),
		results:       results,
		throttle:      throttle,
		probeInterval: probeInterval,
		maxClients:    maxClients,
		done:          make(chan struct{}),
		// Start with a full throttle window so the very first request also
		// rides the timer instead of draining immediately.
		lastDrain: clock.Now(),
	}
	go b.run()
	return b
}

// Register adds a connection, assigns it a session ID and sends the welcome
// acknowledgment. The new session starts with the empty filter spec.
func (b *Broadcaster[T]) Register(conn Conn) (uuid.UUID, error) {
	replyCh := make(chan registerReply, 1)
	b.cmdCh <- registerCmd{conn: conn, replyCh: replyCh}

	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply.id, reply.err
	case <-timer.Chan():
		return uuid.Nil, fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister removes a session. Safe to call multiple times; close and error
// paths may both fire.
func (b *Broadcaster[T]) Unregister(id uuid.UUID) {
	b.cmdCh <- unregisterCmd{id: id}
}

// Inbound hands a raw client message to the control loop.
func (b *Broadcaster[T]) Inbound(id uuid.UUID, data []byte) {
	b.cmdCh <- inboundCmd{id: id, data: data}
}

// RequestBroadcast asks for a broadcast pass. Requests inside the throttle
// window are absorbed into the already scheduled pass.
func (b *Broadcaster[T]) RequestBroadcast() {
	b.cmdCh <- broadcastCmd{}
}

// ClientCount returns the number of connected sessions, or -1 on timeout.
func (b *Broadcaster[T]) ClientCount() int {
	replyCh := make(chan int, 1)
	b.cmdCh <- clientCountCmd{replyCh: replyCh}

	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "domain", b.dom.Name)
		return -1
	}
}

// Stop shuts the broadcaster down, closing every client with a normal
// closure frame. Blocks until the control loop exits or the timeout fires.
func (b *Broadcaster[T]) Stop() {
	b.cmdCh <- stopCmd{}

	timer := b.clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-b.done:
		slog.Info("Broadcaster stopped", "domain", b.dom.Name)
	case <-timer.Chan():
		slog.Warn("Broadcaster stop timeout exceeded", "domain", b.dom.Name, "timeout", stopTimeout)
	}
}

func (b *Broadcaster[T]) run() {
	defer close(b.done)

	b.timer = b.clock.NewTimer(time.Hour)
	b.timer.Stop()
	defer b.timer.Stop()

	probeTicker := b.clock.NewTicker(b.probeInterval)
	defer probeTicker.Stop()

	for {
		select {
		case cmd := <-b.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				b.handleRegister(c)
			case unregisterCmd:
				b.removeSession(c.id, "")
			case inboundCmd:
				b.handleInbound(c)
			case pongCmd:
				if s, ok := b.sessions[c.id]; ok {
					s.alive = true
				}
			case broadcastCmd:
				b.scheduleDrain()
			case clientCountCmd:
				c.replyCh <- len(b.sessions)
			case stopCmd:
				b.handleStop()
				return
			default:
				slog.Warn("Broadcaster received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		case <-b.timer.Chan():
			b.scheduled = false
			b.lastDrain = b.clock.Now()
			b.drain()
		case <-probeTicker.Chan():
			b.probeSweep()
		}
	}
}

func (b *Broadcaster[T]) handleRegister(c registerCmd) {
	if len(b.sessions) >= b.maxClients {
		slog.Warn("Rejecting client: max clients reached", "domain", b.dom.Name, "max_clients", b.maxClients)
		_ = c.conn.Close()
		c.replyCh <- registerReply{err: fmt.Errorf("max clients (%d) reached", b.maxClients)}
		return
	}

	id := uuid.New()
	s := &session{
		id:     id,
		writer: newClientWriter(c.conn, b.clock),
		spec:   domain.ParseFilters(nil),
		alive:  true,
	}

	// Pongs arrive on the connection's read goroutine; route them back to
	// the control loop and keep the read deadline moving.
	_ = c.conn.SetReadDeadline(b.clock.Now().Add(3 * b.probeInterval))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(b.clock.Now().Add(3 * b.probeInterval))
		b.cmdCh <- pongCmd{id: id}
		return nil
	})

	b.sessions[id] = s
	metrics.BroadcasterConnectedClients.WithLabelValues(b.dom.Name).Set(float64(len(b.sessions)))

	welcome := domain.NewServerMessage(domain.MsgWelcome, b.clock.Now())
	welcome.Message = "connected to " + b.dom.Name + " feed"
	b.reply(s, welcome)

	slog.Debug("Client registered", "domain", b.dom.Name, "session_id", id.String(), "total_clients", len(b.sessions))
	c.replyCh <- registerReply{id: id}
}

// removeSession tears a session down. With a reason the client gets a close
// frame; without one the transport is assumed already gone.
func (b *Broadcaster[T]) removeSession(id uuid.UUID, reason string) {
	s, ok := b.sessions[id]
	if !ok {
		return
	}
	delete(b.sessions, id)
	metrics.BroadcasterConnectedClients.WithLabelValues(b.dom.Name).Set(float64(len(b.sessions)))

	if reason != "" {
		s.writer.stopGraceful(reason)
	} else {
		s.writer.stop()
	}
	slog.Debug("Client unregistered", "domain", b.dom.Name, "session_id", id.String(), "remaining_clients", len(b.sessions))
}

func (b *Broadcaster[T]) handleInbound(c inboundCmd) {
	s, ok := b.sessions[c.id]
	if !ok {
		return
	}
	// Any inbound traffic proves the client is alive.
	s.alive = true

	var msg domain.ClientMessage
	if err := json.Unmarshal(c.data, &msg); err != nil {
		b.replyError(s, "invalid message: not a JSON object")
		return
	}

	switch msg.Type {
	case domain.MsgConnection:
		b.reply(s, domain.NewServerMessage(domain.MsgConnectionConfirmed, b.clock.Now()))

	case domain.MsgPing:
		b.reply(s, domain.NewServerMessage(domain.MsgPong, b.clock.Now()))

	case domain.MsgFilterRequest:
		b.handleFilterRequest(s, msg.Filters)

	case b.dom.GetAllType:
		b.handleGetAll(s)

	default:
		b.replyError(s, "unknown message type: "+msg.Type)
	}
}

// handleFilterRequest replaces the session's filter spec wholesale and sends
// an immediate single-client reply so the requester is not left waiting for
// the next scheduled broadcast.
func (b *Broadcaster[T]) handleFilterRequest(s *session, tokens []string) {
	s.spec = domain.ParseFilters(tokens)

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	snapshot, err := b.dom.Snapshot(ctx)
	cancel()
	if err != nil {
		slog.Error("Snapshot fetch failed for filter reply", "domain", b.dom.Name, "error", err)
		b.replyError(s, "failed to load current data")
		return
	}

	matched := b.dom.Evaluate(snapshot, s.spec)
	count := len(matched)

	reply := domain.NewServerMessage(domain.MsgFilteredData, b.clock.Now())
	reply.Data = emptyNotNull(matched)
	reply.Count = &count
	reply.Filters = tokens
	b.reply(s, reply)
}

func (b *Broadcaster[T]) handleGetAll(s *session) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	snapshot, err := b.dom.Snapshot(ctx)
	cancel()
	if err != nil {
		slog.Error("Snapshot fetch failed for get-all reply", "domain", b.dom.Name, "error", err)
		b.replyError(s, "failed to load current data")
		return
	}

	count := len(snapshot)
	reply := domain.NewServerMessage(b.dom.SnapshotType, b.clock.Now())
	reply.Data = emptyNotNull(snapshot)
	reply.Count = &count
	b.reply(s, reply)
}

// scheduleDrain moves Idle to ScheduledNotYetDue. A pass already on the
// timer absorbs the request.
func (b *Broadcaster[T]) scheduleDrain() {
	if b.scheduled {
		return
	}
	delay := b.throttle - b.clock.Since(b.lastDrain)
	if delay < 0 {
		delay = 0
	}
	b.timer.Reset(delay)
	b.scheduled = true
}

type filterGroup struct {
	spec     domain.FilterSpec
	sessions []*session
	payload  []byte
	err      error
}

// drain runs one broadcast pass: it groups live sessions by canonical filter
// spec, evaluates each distinct spec once, and pushes the result to every
// member of the group. Sessions with the empty spec receive nothing.
func (b *Broadcaster[T]) drain() {
	start := b.clock.Now()

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	snapshot, err := b.dom.Snapshot(ctx)
	cancel()
	if err != nil {
		slog.Error("Broadcast pass aborted: snapshot fetch failed", "domain", b.dom.Name, "error", err)
		return
	}

	groupIndex := make(map[string]*filterGroup)
	var groups []*filterGroup
	for _, s := range b.sessions {
		if s.spec.Empty() {
			continue
		}
		key := s.spec.Canonical()
		g, ok := groupIndex[key]
		if !ok {
			g = &filterGroup{spec: s.spec}
			groupIndex[key] = g
			groups = append(groups, g)
		}
		g.sessions = append(g.sessions, s)
	}

	metrics.BroadcasterFilterGroups.WithLabelValues(b.dom.Name).Set(float64(len(groups)))

	// Evaluate groups in bounded concurrent batches; a panic or error in one
	// group never aborts the others.
	for i := 0; i < len(groups); i += maxConcurrentGroups {
		end := i + maxConcurrentGroups
		if end > len(groups) {
			end = len(groups)
		}
		batch := groups[i:end]

		doneCh := make(chan struct{})
		for _, g := range batch {
			go func(g *filterGroup) {
				defer func() {
					if r := recover(); r != nil {
						g.err = fmt.Errorf("group evaluation panicked: %v", r)
					}
					doneCh <- struct{}{}
				}()
				g.payload, g.err = b.groupPayload(snapshot, g.spec)
			}(g)
		}
		for range batch {
			<-doneCh
		}
	}

	var evicted []uuid.UUID
	for _, g := range groups {
		if g.err != nil {
			metrics.BroadcastGroupFailuresTotal.WithLabelValues(b.dom.Name).Inc()
			slog.Error("Filter group failed", "domain", b.dom.Name, "filters", g.spec.Canonical(), "error", g.err)
			continue
		}
		for _, s := range g.sessions {
			if !s.writer.trySend(g.payload) {
				evicted = append(evicted, s.id)
			}
		}
	}

	for _, id := range evicted {
		slog.Warn("Disconnecting slow client", "domain", b.dom.Name, "session_id", id.String())
		metrics.BroadcasterSlowClientsEvicted.WithLabelValues(b.dom.Name).Inc()
		b.removeSession(id, "")
	}

	metrics.BroadcastPassesTotal.WithLabelValues(b.dom.Name).Inc()
	metrics.BroadcastDuration.WithLabelValues(b.dom.Name).Observe(b.clock.Since(start).Seconds())
}

// groupPayload returns the marshaled broadcast frame for one filter spec.
// The evaluated record array is served from the bounded result cache; the
// envelope is stamped fresh on every pass so cached results never carry an
// old timestamp.
func (b *Broadcaster[T]) groupPayload(snapshot []T, spec domain.FilterSpec) ([]byte, error) {
	canonical := spec.Canonical()

	records, count, ok := b.results.Get(canonical)
	if !ok {
		matched := b.dom.Evaluate(snapshot, spec)
		count = len(matched)

		var err error
		records, err = json.Marshal(emptyNotNull(matched))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal group records: %w", err)
		}
		b.results.Put(canonical, records, count)
	}

	msg := domain.NewServerMessage(b.dom.UpdateType, b.clock.Now())
	msg.Data = json.RawMessage(records)
	msg.Count = &count

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal broadcast frame: %w", err)
	}
	return payload, nil
}

// probeSweep is the client half of the connection health monitor: sessions
// whose previous probe went unanswered are terminated, the rest get a fresh
// ping.
func (b *Broadcaster[T]) probeSweep() {
	var dead []uuid.UUID
	for id, s := range b.sessions {
		if !s.alive {
			dead = append(dead, id)
			continue
		}
		s.alive = false
		s.writer.sendPing()
	}

	for _, id := range dead {
		slog.Info("Terminating unresponsive client", "domain", b.dom.Name, "session_id", id.String())
		metrics.BroadcasterProbeTerminations.WithLabelValues(b.dom.Name).Inc()
		b.removeSession(id, "liveness probe timeout")
	}
}

func (b *Broadcaster[T]) handleStop() {
	slog.Info("Broadcaster shutting down", "domain", b.dom.Name, "clients", len(b.sessions))
	for id, s := range b.sessions {
		s.writer.stopGraceful("server shutting down")
		delete(b.sessions, id)
	}
	metrics.BroadcasterConnectedClients.WithLabelValues(b.dom.Name).Set(0)
}

func (b *Broadcaster[T]) reply(s *session, msg domain.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal reply", "domain", b.dom.Name, "type", msg.Type, "error", err)
		return
	}
	s.writer.trySend(payload)
}

func (b *Broadcaster[T]) replyError(s *session, reason string) {
	msg := domain.NewServerMessage(domain.MsgError, b.clock.Now())
	msg.Message = reason
	b.reply(s, msg)
}

// emptyNotNull keeps empty results rendering as [] instead of null.
func emptyNotNull[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
