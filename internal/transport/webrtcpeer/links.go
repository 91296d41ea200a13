package webrtcpeer

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/roomcast/roomcast/internal/transport"
)

type dataLink struct {
	conn *conn
	dc   *webrtc.DataChannel
}

var _ transport.DataLink = (*dataLink)(nil)

func (l *dataLink) PeerID() string {
	return l.conn.peerID
}

func (l *dataLink) Send(payload []byte) error {
	if l.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return errors.New("data channel not open")
	}
	return l.dc.Send(payload)
}

func (l *dataLink) Close() error {
	return l.dc.Close()
}

type mediaLink struct {
	conn      *conn
	closeOnce sync.Once
}

var _ transport.MediaLink = (*mediaLink)(nil)

func newMediaLink(c *conn) *mediaLink {
	return &mediaLink{conn: c}
}

func (l *mediaLink) PeerID() string {
	return l.conn.peerID
}

func (l *mediaLink) Close() error {
	l.closeOnce.Do(func() {
		c := l.conn
		c.mu.Lock()
		for _, sender := range c.senders {
			_ = sender.Stop()
		}
		c.senders = nil
		c.localMedia = false
		if c.media == l {
			c.media = nil
		}
		c.mu.Unlock()

		c.provider.queue.Push(transport.MediaClosed{Link: l})
		c.closeIfIdle()
	})
	return nil
}
