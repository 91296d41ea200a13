package rendezvous

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roomcast/roomcast/internal/transport"
)

// Client is the peer side of the broker protocol. It implements
// transport.Signaler: signal frames addressed to this peer come out of
// RecvSignal keyed by the sender's id.
type Client struct {
	url    string
	roomID string
	log    *slog.Logger

	conn     *websocket.Conn
	outgoing chan *Message
	signals  chan transport.Signal
	acks     chan *Message
	gone     chan string

	closeOnce sync.Once
	done      chan struct{}
}

var ErrClientClosed = errors.New("rendezvous: client closed")

func NewClient(url, roomID string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		url:      url,
		roomID:   roomID,
		log:      log,
		outgoing: make(chan *Message, 32),
		signals:  make(chan transport.Signal, 32),
		acks:     make(chan *Message, 1),
		gone:     make(chan string, 8),
		done:     make(chan struct{}),
	}
}

// Connect dials the broker and starts the read and write pumps.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial broker %s: %w", c.url, err)
	}
	c.conn = conn

	go c.readPump()
	go c.writePump()
	return nil
}

// Register claims peerID on the broker and waits for the acknowledgement.
// A taken id comes back as an error frame, which surfaces here.
func (c *Client) Register(ctx context.Context, peerID string) error {
	if err := c.write(ctx, &Message{Type: TypeRegister, PeerID: peerID, RoomID: c.roomID}); err != nil {
		return err
	}

	select {
	case msg := <-c.acks:
		if msg.Type == TypeError {
			var ep ErrorPayload
			_ = json.Unmarshal(msg.Payload, &ep)
			return fmt.Errorf("register %s: %s", peerID, ep.Error)
		}
		c.log.Debug("Registered with broker", "peerId", peerID, "roomId", c.roomID)
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) SendSignal(ctx context.Context, peerID string, payload []byte) error {
	return c.write(ctx, &Message{Type: TypeSignal, To: peerID, Payload: payload})
}

func (c *Client) RecvSignal() <-chan transport.Signal {
	return c.signals
}

// PeerGone reports broker-side disconnect hints. Purely advisory.
func (c *Client) PeerGone() <-chan string {
	return c.gone
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
	return nil
}

func (c *Client) write(ctx context.Context, msg *Message) error {
	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				c.log.Debug("Broker connection lost", "error", err)
			}
			return
		}

		switch msg.Type {
		case TypeSignal:
			select {
			case c.signals <- transport.Signal{PeerID: msg.From, Payload: msg.Payload}:
			case <-c.done:
				return
			}

		case TypeRegistered, TypeError:
			select {
			case c.acks <- &msg:
			default:
			}

		case TypePeerGone:
			select {
			case c.gone <- msg.PeerID:
			default:
			}

		default:
			c.log.Debug("Ignoring unknown broker frame", "type", msg.Type)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Debug("Broker write failed", "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			return
		}
	}
}
