// Package mem is an in-process implementation of the transport Provider.
// It exists for tests: whole rooms run inside one process with no sockets,
// while preserving the per-provider event ordering the coordinator relies
// on.
package mem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roomcast/roomcast/internal/transport"
)

var (
	ErrIDTaken    = errors.New("mem: peer id already taken")
	ErrNotOpened  = errors.New("mem: provider not opened")
	ErrLinkClosed = errors.New("mem: link closed")
)

// Network is the shared fabric providers register on. One Network per test
// stands in for the global reachability the production transport gets from
// the rendezvous broker.
type Network struct {
	mu    sync.Mutex
	peers map[string]*Provider
}

func NewNetwork() *Network {
	return &Network{peers: make(map[string]*Provider)}
}

func (n *Network) NewProvider() *Provider {
	return &Provider{
		net:   n,
		queue: transport.NewQueue(),
		data:  make(map[*dataLink]struct{}),
		media: make(map[*mediaLink]struct{}),
	}
}

// Drop abruptly disconnects a peer: every link is torn down and only the
// counterparts are notified, simulating a process that vanished without a
// goodbye.
func (n *Network) Drop(id string) {
	n.mu.Lock()
	p, ok := n.peers[id]
	if ok {
		delete(n.peers, id)
	}
	n.mu.Unlock()
	if ok {
		p.teardown(false)
	}
}

func (n *Network) lookup(id string) (*Provider, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.peers[id]
	return p, ok
}

type Provider struct {
	net   *Network
	queue *transport.Queue

	mu     sync.Mutex
	id     string
	opened bool
	data   map[*dataLink]struct{}
	media  map[*mediaLink]struct{}
}

var _ transport.Provider = (*Provider)(nil)

func (p *Provider) Open(_ context.Context, id string) error {
	p.net.mu.Lock()
	if _, taken := p.net.peers[id]; taken {
		p.net.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrIDTaken, id)
	}
	p.net.peers[id] = p
	p.net.mu.Unlock()

	p.mu.Lock()
	p.id = id
	p.opened = true
	p.mu.Unlock()

	p.queue.Push(transport.HandleOpen{ID: id})
	return nil
}

func (p *Provider) Events() <-chan transport.Event {
	return p.queue.Out()
}

func (p *Provider) Connect(peerID string) (transport.DataLink, error) {
	p.mu.Lock()
	if !p.opened {
		p.mu.Unlock()
		return nil, ErrNotOpened
	}
	selfID := p.id
	p.mu.Unlock()

	remote, ok := p.net.lookup(peerID)
	if !ok {
		return nil, fmt.Errorf("mem: no such peer %s", peerID)
	}

	pair := &dataPair{}
	local := &dataLink{owner: p, peerID: peerID, pair: pair}
	far := &dataLink{owner: remote, peerID: selfID, pair: pair}
	pair.a, pair.b = local, far

	p.track(local)
	remote.track(far)

	// Both ends observe the channel reaching open.
	p.queue.Push(transport.DataOpen{Link: local})
	remote.queue.Push(transport.DataOpen{Link: far})
	return local, nil
}

func (p *Provider) Call(peerID string, localStream transport.MediaStream) (transport.MediaLink, error) {
	p.mu.Lock()
	if !p.opened {
		p.mu.Unlock()
		return nil, ErrNotOpened
	}
	selfID := p.id
	p.mu.Unlock()

	remote, ok := p.net.lookup(peerID)
	if !ok {
		return nil, fmt.Errorf("mem: no such peer %s", peerID)
	}

	pair := &mediaPair{callerStream: localStream}
	local := &mediaLink{owner: p, peerID: peerID, pair: pair, caller: true}
	far := &mediaLink{owner: remote, peerID: selfID, pair: pair}
	pair.a, pair.b = local, far

	p.trackMedia(local)
	remote.trackMedia(far)

	remote.queue.Push(transport.CallIncoming{Call: far})
	return local, nil
}

func (p *Provider) Answer(call transport.MediaLink, localStream transport.MediaStream) error {
	ml, ok := call.(*mediaLink)
	if !ok || ml.caller {
		return errors.New("mem: not an inbound call")
	}

	pair := ml.pair
	pair.mu.Lock()
	if pair.closed || pair.answered {
		pair.mu.Unlock()
		return ErrLinkClosed
	}
	pair.answered = true
	callerStream := pair.callerStream
	caller, callee := pair.a, pair.b
	pair.mu.Unlock()

	// Streams flow both ways once the call is answered.
	callee.owner.queue.Push(transport.StreamReady{Link: callee, Stream: callerStream})
	caller.owner.queue.Push(transport.StreamReady{Link: caller, Stream: localStream})
	return nil
}

func (p *Provider) Destroy() error {
	p.mu.Lock()
	id := p.id
	opened := p.opened
	p.mu.Unlock()

	if opened {
		p.net.mu.Lock()
		if p.net.peers[id] == p {
			delete(p.net.peers, id)
		}
		p.net.mu.Unlock()
	}
	p.teardown(true)
	return nil
}

func (p *Provider) teardown(notifySelf bool) {
	p.mu.Lock()
	dataLinks := make([]*dataLink, 0, len(p.data))
	for l := range p.data {
		dataLinks = append(dataLinks, l)
	}
	mediaLinks := make([]*mediaLink, 0, len(p.media))
	for l := range p.media {
		mediaLinks = append(mediaLinks, l)
	}
	p.opened = false
	p.mu.Unlock()

	for _, l := range dataLinks {
		l.pair.close(notifySelf, p)
	}
	for _, l := range mediaLinks {
		l.pair.close(notifySelf, p)
	}
	p.queue.Close()
}

func (p *Provider) track(l *dataLink) {
	p.mu.Lock()
	p.data[l] = struct{}{}
	p.mu.Unlock()
}

func (p *Provider) trackMedia(l *mediaLink) {
	p.mu.Lock()
	p.media[l] = struct{}{}
	p.mu.Unlock()
}

func (p *Provider) untrack(l *dataLink) {
	p.mu.Lock()
	delete(p.data, l)
	p.mu.Unlock()
}

func (p *Provider) untrackMedia(l *mediaLink) {
	p.mu.Lock()
	delete(p.media, l)
	p.mu.Unlock()
}

type dataPair struct {
	mu     sync.Mutex
	a, b   *dataLink
	closed bool
}

// close tears the pair down once. When skip is non-nil and notifySelf is
// false, that side gets no DataClosed event (it is being dropped abruptly).
func (dp *dataPair) close(notifySelf bool, skip *Provider) {
	dp.mu.Lock()
	if dp.closed {
		dp.mu.Unlock()
		return
	}
	dp.closed = true
	a, b := dp.a, dp.b
	dp.mu.Unlock()

	for _, l := range []*dataLink{a, b} {
		l.owner.untrack(l)
		if l.owner == skip && !notifySelf {
			continue
		}
		l.owner.queue.Push(transport.DataClosed{Link: l})
	}
}

type dataLink struct {
	owner  *Provider
	peerID string
	pair   *dataPair
}

func (l *dataLink) PeerID() string { return l.peerID }

func (l *dataLink) Send(payload []byte) error {
	l.pair.mu.Lock()
	if l.pair.closed {
		l.pair.mu.Unlock()
		return ErrLinkClosed
	}
	var far *dataLink
	if l.pair.a == l {
		far = l.pair.b
	} else {
		far = l.pair.a
	}
	l.pair.mu.Unlock()

	buf := make([]byte, len(payload))
	copy(buf, payload)
	far.owner.queue.Push(transport.DataMessage{PeerID: far.peerID, Payload: buf})
	return nil
}

func (l *dataLink) Close() error {
	l.pair.close(true, nil)
	return nil
}

type mediaPair struct {
	mu           sync.Mutex
	a, b         *mediaLink
	callerStream transport.MediaStream
	answered     bool
	closed       bool
}

func (mp *mediaPair) close(notifySelf bool, skip *Provider) {
	mp.mu.Lock()
	if mp.closed {
		mp.mu.Unlock()
		return
	}
	mp.closed = true
	a, b := mp.a, mp.b
	mp.mu.Unlock()

	for _, l := range []*mediaLink{a, b} {
		l.owner.untrackMedia(l)
		if l.owner == skip && !notifySelf {
			continue
		}
		l.owner.queue.Push(transport.MediaClosed{Link: l})
	}
}

type mediaLink struct {
	owner  *Provider
	peerID string
	pair   *mediaPair
	caller bool
}

func (l *mediaLink) PeerID() string { return l.peerID }

func (l *mediaLink) Close() error {
	l.pair.close(true, nil)
	return nil
}
