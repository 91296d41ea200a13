// Package session implements the room coordinator: it owns the roster and
// the connection registry for one room membership, applies the signaling
// protocol to them, and converges the link set toward the selected
// topology.
//
// Everything the coordinator owns is mutated from a single event loop.
// Transport events, the broadcast ticker and API commands are funneled into
// one select; no two handlers ever run concurrently, which is what lets the
// roster and registry stay lock-free.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roomcast/roomcast/internal/protocol"
	"github.com/roomcast/roomcast/internal/registry"
	"github.com/roomcast/roomcast/internal/roster"
	"github.com/roomcast/roomcast/internal/transport"
)

const defaultBroadcastInterval = 10 * time.Second

var ErrClosed = errors.New("session: closed")

// Config carries everything a session needs for one room membership.
type Config struct {
	RoomID string
	PeerID string

	Topology    Topology
	Provider    transport.Provider
	LocalStream transport.MediaStream
	Logger      *slog.Logger

	// BroadcastInterval is how often the creator re-sends the full peer
	// list. Zero means the 10s default.
	BroadcastInterval time.Duration
}

// EventKind classifies session events delivered to the UI layer.
type EventKind int

const (
	PeerJoined EventKind = iota
	PeerLeft
	ChatReceived
)

// Event is a roster change or pass-through chat observed by the session.
type Event struct {
	Kind        EventKind
	Participant roster.Participant
	Chat        protocol.Chat
}

type command struct {
	apply func()
	done  chan struct{}
}

type Session struct {
	cfg       Config
	log       *slog.Logger
	isCreator bool

	roster   *roster.Roster
	registry *registry.Registry
	topology Topology
	provider transport.Provider

	commands chan command
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once

	errMu   sync.Mutex
	connErr string

	nowMillis func() int64
}

func New(cfg Config) (*Session, error) {
	if cfg.RoomID == "" {
		return nil, errors.New("session: room id required")
	}
	if cfg.PeerID == "" {
		return nil, errors.New("session: peer id required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("session: transport provider required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = defaultBroadcastInterval
	}

	return &Session{
		cfg:       cfg,
		log:       log.With("room", cfg.RoomID, "self", cfg.PeerID),
		isCreator: roster.IsCreatorID(cfg.PeerID),
		roster:    roster.New(),
		registry:  registry.New(),
		topology:  cfg.Topology,
		provider:  cfg.Provider,
		commands:  make(chan command),
		events:    make(chan Event, 64),
		done:      make(chan struct{}),
		nowMillis: func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Start registers the peer handle and runs the event loop until the
// context is cancelled or Close is called. It returns after teardown
// completes.
func (s *Session) Start(ctx context.Context) error {
	if err := s.provider.Open(ctx, s.cfg.PeerID); err != nil {
		s.setConnErr(err)
		close(s.events)
		return err
	}

	s.log.Info("Session starting", "topology", s.topology.String(), "creator", s.isCreator)

	ticker := time.NewTicker(s.cfg.BroadcastInterval)
	defer ticker.Stop()

	defer s.teardown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case ev, ok := <-s.provider.Events():
			if !ok {
				return nil
			}
			if fatal := s.handleTransportEvent(ev); fatal != nil {
				s.setConnErr(fatal)
				return fatal
			}
		case <-ticker.C:
			if s.isCreator {
				s.broadcastPeerList()
			}
		case cmd := <-s.commands:
			cmd.apply()
			close(cmd.done)
		}
	}
}

// Close stops the event loop; teardown runs inside it.
func (s *Session) Close() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Events is the reactive roster view: joins, leaves and chat messages, in
// the order the coordinator observed them. Slow consumers lose events
// rather than stalling the loop.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Participants returns a point-in-time snapshot of the roster.
func (s *Session) Participants() []roster.Participant {
	var snapshot []roster.Participant
	s.do(func() {
		for p := range s.roster.All() {
			snapshot = append(snapshot, p)
		}
	})
	return snapshot
}

// SwitchTopology changes the local connection policy and reconciles links.
func (s *Session) SwitchTopology(mode Topology) {
	s.do(func() { s.applyTopology(mode) })
}

// ReconnectAll is the manual recovery path: the creator re-broadcasts the
// peer list immediately; a joiner re-requests it, re-dialing the creator
// from scratch if that link is gone.
func (s *Session) ReconnectAll() {
	s.do(func() {
		if s.isCreator {
			s.broadcastPeerList()
			return
		}
		s.requestPeerListFromCreator()
	})
}

// SendChat broadcasts a chat message over every open data link.
func (s *Session) SendChat(text string) {
	s.do(func() {
		s.broadcast(protocol.Chat{
			Sender:    s.cfg.PeerID,
			Text:      text,
			Timestamp: s.nowMillis(),
		})
	})
}

// Broadcast sends an arbitrary signaling message over every open data link.
func (s *Session) Broadcast(msg protocol.Message) {
	s.do(func() { s.broadcast(msg) })
}

// ConnectionError reports the terminal transport failure, if any. Empty
// means the session never hit a fatal error.
func (s *Session) ConnectionError() string {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.connErr
}

func (s *Session) setConnErr(err error) {
	s.errMu.Lock()
	s.connErr = err.Error()
	s.errMu.Unlock()
}

// do runs fn on the event loop and waits for it. It becomes a no-op once
// the session is closed.
func (s *Session) do(fn func()) {
	cmd := command{apply: fn, done: make(chan struct{})}
	select {
	case s.commands <- cmd:
		<-cmd.done
	case <-s.done:
	}
}

// emit hands an event to the UI layer without ever blocking the loop.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("Dropping session event: consumer too slow", "kind", int(ev.Kind))
	}
}

// teardown leaves the room: stop is already implied (the loop has exited),
// then best-effort goodbye, then close every link, then release the peer
// handle.
func (s *Session) teardown() {
	s.stopOnce.Do(func() { close(s.done) })

	goodbye := protocol.PeerDisconnect{PeerID: s.cfg.PeerID, Timestamp: s.nowMillis()}
	s.broadcast(goodbye)

	s.registry.ForEach(func(l *registry.Link) {
		if l.Data != nil {
			_ = l.Data.Close()
		}
		if l.Media != nil {
			_ = l.Media.Close()
		}
	})

	if err := s.provider.Destroy(); err != nil {
		s.log.Warn("Failed to destroy peer handle", "error", err)
	}
	close(s.events)
	s.log.Info("Session stopped")
}
