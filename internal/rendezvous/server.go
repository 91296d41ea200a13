package rendezvous

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/roomcast/roomcast/internal/rendezvous/store"
)

// Server is the broker: a websocket hub that relays signal payloads between
// registered peer ids. All hub state is owned by the Run loop; the pumps
// only move frames.
type Server struct {
	log   *logrus.Logger
	store *store.Store

	upgrader   websocket.Upgrader
	register   chan *client
	unregister chan *client
	inbound    chan *inbound
	done       chan struct{}

	// clients is keyed by peer id and touched only inside Run.
	clients map[string]*client
}

type inbound struct {
	client *client
	msg    *Message
}

func NewServer(log *logrus.Logger, st *store.Store) *Server {
	if log == nil {
		log = logrus.New()
	}
	return &Server{
		log:   log,
		store: st,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		inbound:    make(chan *inbound),
		done:       make(chan struct{}),
		clients:    make(map[string]*client),
	}
}

// Handler serves the websocket endpoint at /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	return mux
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("Websocket upgrade failed: %v", err)
		return
	}

	c := newClient(s, conn)
	select {
	case s.register <- c:
	case <-s.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// Run drives the hub until the context is cancelled. Registrations from a
// previous process are cleared first: those peers are gone by definition.
func (s *Server) Run(ctx context.Context) error {
	if s.store != nil {
		if err := s.store.Reset(); err != nil {
			s.log.Warnf("Failed to reset broker store: %v", err)
		}
	}
	s.log.Info("Rendezvous broker running")

	for {
		select {
		case <-ctx.Done():
			// Unblocks every pump still trying to hand the hub work.
			close(s.done)
			for _, c := range s.clients {
				close(c.send)
			}
			return ctx.Err()

		case c := <-s.register:
			s.log.Debugf("Connection from %s", c.conn.RemoteAddr())

		case c := <-s.unregister:
			s.dropClient(c)

		case in := <-s.inbound:
			s.handleMessage(in.client, in.msg)
		}
	}
}

func (s *Server) handleMessage(c *client, msg *Message) {
	switch msg.Type {
	case TypeRegister:
		s.handleRegister(c, msg)

	case TypeSignal:
		if c.peerID == "" {
			c.sendError("register first")
			return
		}
		target, ok := s.clients[msg.To]
		if !ok {
			c.sendError("peer not registered: " + msg.To)
			return
		}
		s.log.Debugf("Relaying signal %s -> %s", c.peerID, msg.To)
		target.enqueue(&Message{
			Type:    TypeSignal,
			From:    c.peerID,
			To:      msg.To,
			Payload: msg.Payload,
		})
		if s.store != nil {
			if err := s.store.TouchPeer(c.peerID); err != nil {
				s.log.Warnf("Failed to touch peer %s: %v", c.peerID, err)
			}
		}

	default:
		// Forward compatible: unknown frames are dropped.
		s.log.Debugf("Ignoring unknown frame type %q", msg.Type)
	}
}

func (s *Server) handleRegister(c *client, msg *Message) {
	if msg.PeerID == "" || msg.RoomID == "" {
		c.sendError("peer_id and room_id required")
		return
	}
	if _, taken := s.clients[msg.PeerID]; taken {
		s.log.Infof("Rejecting duplicate peer id %s", msg.PeerID)
		c.sendError("peer id already taken: " + msg.PeerID)
		return
	}

	c.peerID = msg.PeerID
	c.roomID = msg.RoomID
	s.clients[msg.PeerID] = c

	if s.store != nil {
		if err := s.store.UpsertPeer(msg.PeerID, msg.RoomID); err != nil {
			s.log.Warnf("Failed to persist registration for %s: %v", msg.PeerID, err)
		}
	}

	s.log.Infof("Registered %s in room %s", msg.PeerID, msg.RoomID)
	c.enqueue(&Message{Type: TypeRegistered, PeerID: msg.PeerID, RoomID: msg.RoomID})
}

func (s *Server) dropClient(c *client) {
	if c.peerID == "" || s.clients[c.peerID] != c {
		close(c.send)
		return
	}

	delete(s.clients, c.peerID)
	if s.store != nil {
		if err := s.store.DeletePeer(c.peerID); err != nil {
			s.log.Warnf("Failed to delete registration for %s: %v", c.peerID, err)
		}
	}
	s.log.Infof("Unregistered %s", c.peerID)

	// Best-effort hint to roommates; the coordinator's own link-close
	// detection is the authoritative path.
	gone := &Message{Type: TypePeerGone, PeerID: c.peerID, RoomID: c.roomID}
	for _, other := range s.clients {
		if other.roomID == c.roomID {
			other.enqueue(gone)
		}
	}
	close(c.send)
}

func (c *client) sendError(text string) {
	payload, _ := json.Marshal(ErrorPayload{Error: text})
	c.enqueue(&Message{Type: TypeError, Payload: payload})
}
