// Package webrtcpeer is the production transport: one WebRTC peer
// connection per remote peer, carrying both the signaling data channel and
// the media tracks. Session negotiation blobs travel through a
// transport.Signaler (the rendezvous client).
package webrtcpeer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/roomcast/roomcast/internal/transport"
)

var ErrDestroyed = errors.New("webrtcpeer: provider destroyed")

// RemoteStream is the media handle placed on roster entries. The UI layer
// reads RTP from the track; the coordinator never touches it.
type RemoteStream struct {
	Track    *webrtc.TrackRemote
	Receiver *webrtc.RTPReceiver
}

// registrar is implemented by signalers that claim the peer id on a broker
// before signals can flow.
type registrar interface {
	Register(ctx context.Context, peerID string) error
}

type Provider struct {
	cfg      webrtc.Configuration
	signaler transport.Signaler
	log      *slog.Logger
	queue    *transport.Queue

	mu     sync.Mutex
	id     string
	conns  map[string]*conn
	closed bool
	cancel context.CancelFunc
}

var _ transport.Provider = (*Provider)(nil)

func New(signaler transport.Signaler, iceServers []webrtc.ICEServer, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	return &Provider{
		cfg: webrtc.Configuration{
			ICEServers:         iceServers,
			ICETransportPolicy: webrtc.ICETransportPolicyAll,
		},
		signaler: signaler,
		log:      log,
		queue:    transport.NewQueue(),
		conns:    make(map[string]*conn),
	}
}

func (p *Provider) Open(ctx context.Context, id string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrDestroyed
	}
	p.id = id
	loopCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	if r, ok := p.signaler.(registrar); ok {
		if err := r.Register(ctx, id); err != nil {
			return fmt.Errorf("register peer id: %w", err)
		}
	}

	p.queue.Push(transport.HandleOpen{ID: id})
	go p.recvLoop(loopCtx)
	return nil
}

func (p *Provider) Events() <-chan transport.Event {
	return p.queue.Out()
}

func (p *Provider) Connect(peerID string) (transport.DataLink, error) {
	c, err := p.conn(peerID)
	if err != nil {
		return nil, err
	}
	return c.openData()
}

func (p *Provider) Call(peerID string, local transport.MediaStream) (transport.MediaLink, error) {
	c, err := p.conn(peerID)
	if err != nil {
		return nil, err
	}
	return c.openMedia(local)
}

func (p *Provider) Answer(call transport.MediaLink, local transport.MediaStream) error {
	ml, ok := call.(*mediaLink)
	if !ok {
		return fmt.Errorf("webrtcpeer: foreign media link %T", call)
	}
	_, err := ml.conn.openMedia(local)
	return err
}

func (p *Provider) Destroy() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}
	conns := make([]*conn, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.conns = make(map[string]*conn)
	p.mu.Unlock()

	for _, c := range conns {
		c.teardown()
	}
	p.queue.Close()
	return nil
}

// conn returns the peer connection for peerID, creating it on first use.
// Dialer and answerer converge on the same object, so glare is resolved
// inside one negotiation state machine.
func (p *Provider) conn(peerID string) (*conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrDestroyed
	}
	if c, ok := p.conns[peerID]; ok {
		return c, nil
	}

	pc, err := webrtc.NewPeerConnection(p.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	// The peer whose id sorts higher yields on offer collisions. Both
	// sides compute the same answer, so exactly one backs off.
	c := newConn(p, peerID, pc, p.id > peerID)
	p.conns[peerID] = c
	return c, nil
}

// dropConn forgets a fully closed connection so a later dial starts a fresh
// handshake instead of reviving dead state.
func (p *Provider) dropConn(c *conn) {
	p.mu.Lock()
	if p.conns[c.peerID] == c {
		delete(p.conns, c.peerID)
	}
	p.mu.Unlock()
}

func (p *Provider) recvLoop(ctx context.Context) {
	gone := make(<-chan string)
	if g, ok := p.signaler.(interface{ PeerGone() <-chan string }); ok {
		gone = g.PeerGone()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case sig, ok := <-p.signaler.RecvSignal():
			if !ok {
				p.queue.Push(transport.HandleError{Err: errors.New("signaling channel lost")})
				return
			}
			if err := p.handleSignal(sig); err != nil {
				p.log.Warn("Failed to handle signal", "from", sig.PeerID, "error", err)
			}

		case peerID := <-gone:
			p.mu.Lock()
			_, known := p.conns[peerID]
			p.mu.Unlock()
			if known {
				p.queue.Push(transport.LinkFailure{PeerID: peerID, Err: errors.New("peer left rendezvous")})
			}
		}
	}
}

func (p *Provider) handleSignal(sig transport.Signal) error {
	var env envelope
	if err := json.Unmarshal(sig.Payload, &env); err != nil {
		return fmt.Errorf("decode signal envelope: %w", err)
	}

	c, err := p.conn(sig.PeerID)
	if err != nil {
		return err
	}

	switch env.Kind {
	case kindOffer:
		return c.handleOffer(env)
	case kindAnswer:
		return c.handleAnswer(env)
	case kindICE:
		return c.handleICE(env)
	default:
		return fmt.Errorf("unknown envelope kind %q", env.Kind)
	}
}
