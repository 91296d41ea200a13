package webrtcpeer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/roomcast/roomcast/internal/transport"
)

// conn is the negotiation state machine for one remote peer. Data channel
// and media tracks ride the same *webrtc.PeerConnection; offer glare is
// resolved with the polite/impolite split decided by peer id order.
type conn struct {
	provider *Provider
	peerID   string
	pc       *webrtc.PeerConnection
	polite   bool

	mu          sync.Mutex
	data        *dataLink
	media       *mediaLink
	senders     []*webrtc.RTPSender
	makingOffer bool
	localMedia  bool
	pendingICE  []webrtc.ICECandidateInit
	down        bool
}

func newConn(p *Provider, peerID string, pc *webrtc.PeerConnection, polite bool) *conn {
	c := &conn{provider: p, peerID: peerID, pc: pc, polite: polite}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		c.sendEnvelope(envelope{Kind: kindICE, Candidate: &init})
	})

	pc.OnNegotiationNeeded(func() {
		go c.negotiate()
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed {
			p.queue.Push(transport.LinkFailure{PeerID: peerID, Err: fmt.Errorf("peer connection failed")})
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.adoptDataChannel(dc)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.mu.Lock()
		ml := c.media
		if ml == nil {
			ml = newMediaLink(c)
			c.media = ml
		}
		c.mu.Unlock()
		p.queue.Push(transport.StreamReady{
			Link:   ml,
			Stream: RemoteStream{Track: track, Receiver: receiver},
		})
	})

	return c
}

// openData creates the outbound data channel. Calling it twice returns the
// same link; the channel is ordered and reliable.
func (c *conn) openData() (transport.DataLink, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.data != nil {
		return c.data, nil
	}

	ordered := true
	dc, err := c.pc.CreateDataChannel("coord", &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	c.adoptDataChannel(dc)
	return c.data, nil
}

// adoptDataChannel wires a channel (dialed or announced by the remote) into
// the conn's data link. Caller holds c.mu.
func (c *conn) adoptDataChannel(dc *webrtc.DataChannel) {
	if c.data != nil {
		// The remote raced us with its own channel. Keep ours; theirs
		// idles out when the losing side tears down.
		return
	}

	dl := &dataLink{conn: c, dc: dc}
	c.data = dl

	dc.OnOpen(func() {
		c.provider.queue.Push(transport.DataOpen{Link: dl})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.provider.queue.Push(transport.DataMessage{PeerID: c.peerID, Payload: msg.Data})
	})
	dc.OnClose(func() {
		c.provider.queue.Push(transport.DataClosed{Link: dl})
		c.mu.Lock()
		if c.data == dl {
			c.data = nil
		}
		c.mu.Unlock()
		c.closeIfIdle()
	})
}

// openMedia attaches the local track, which triggers renegotiation and
// delivers our stream to the remote. Used by both Call and Answer.
func (c *conn) openMedia(local transport.MediaStream) (transport.MediaLink, error) {
	track, ok := local.(webrtc.TrackLocal)
	if !ok {
		return nil, fmt.Errorf("webrtcpeer: local stream must be a webrtc.TrackLocal, got %T", local)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.media == nil {
		c.media = newMediaLink(c)
	}
	if c.localMedia {
		return c.media, nil
	}

	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("add local track: %w", err)
	}
	c.senders = append(c.senders, sender)
	c.localMedia = true
	go drainRTCP(sender)
	return c.media, nil
}

func (c *conn) negotiate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return
	}

	c.makingOffer = true
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		c.provider.log.Warn("Offer creation failed", "peerId", c.peerID, "error", err)
		return
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		c.provider.log.Warn("Local description failed", "peerId", c.peerID, "error", err)
		return
	}
	c.sendEnvelope(envelope{Kind: kindOffer, SDP: c.pc.LocalDescription().SDP, Media: c.localMedia})
}

func (c *conn) handleOffer(env envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil
	}

	collision := c.makingOffer || c.pc.SignalingState() != webrtc.SignalingStateStable
	if collision {
		if !c.polite {
			// The impolite side ignores the colliding offer; its own
			// offer is the one that survives.
			return nil
		}
		if err := c.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			return fmt.Errorf("rollback local offer: %w", err)
		}
		c.makingOffer = false
	}

	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  env.SDP,
	}); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	c.flushICE()

	if env.Media && c.media == nil {
		ml := newMediaLink(c)
		c.media = ml
		c.provider.queue.Push(transport.CallIncoming{Call: ml})
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	c.sendEnvelope(envelope{Kind: kindAnswer, SDP: c.pc.LocalDescription().SDP})
	return nil
}

func (c *conn) handleAnswer(env envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil
	}

	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  env.SDP,
	}); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	c.makingOffer = false
	c.flushICE()
	return nil
}

func (c *conn) handleICE(env envelope) error {
	if env.Candidate == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil
	}

	if c.pc.RemoteDescription() == nil {
		c.pendingICE = append(c.pendingICE, *env.Candidate)
		return nil
	}
	return c.pc.AddICECandidate(*env.Candidate)
}

// flushICE replays candidates that arrived before the remote description.
// Caller holds c.mu.
func (c *conn) flushICE() {
	for _, cand := range c.pendingICE {
		if err := c.pc.AddICECandidate(cand); err != nil {
			c.provider.log.Debug("Buffered candidate rejected", "peerId", c.peerID, "error", err)
		}
	}
	c.pendingICE = nil
}

func (c *conn) sendEnvelope(env envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		c.provider.log.Warn("Envelope marshal failed", "peerId", c.peerID, "error", err)
		return
	}
	if err := c.provider.signaler.SendSignal(context.Background(), c.peerID, payload); err != nil {
		c.provider.log.Debug("Signal send failed", "peerId", c.peerID, "error", err)
	}
}

// closeIfIdle tears the peer connection down once both halves are gone so
// the next dial to this peer starts a fresh handshake.
func (c *conn) closeIfIdle() {
	c.mu.Lock()
	idle := c.data == nil && c.media == nil && !c.down
	c.mu.Unlock()
	if idle {
		c.teardown()
	}
}

func (c *conn) teardown() {
	c.mu.Lock()
	if c.down {
		c.mu.Unlock()
		return
	}
	c.down = true
	c.data = nil
	c.media = nil
	c.mu.Unlock()

	c.provider.dropConn(c)
	_ = c.pc.Close()
}

// drainRTCP keeps the sender's feedback stream flowing; pion stalls
// congestion control if RTCP is never read.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
