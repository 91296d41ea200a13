package integration

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roomcast/roomcast/internal/rendezvous"
	"github.com/roomcast/roomcast/internal/transport"
	"github.com/roomcast/roomcast/internal/transport/webrtcpeer"
)

func startBroker(t *testing.T) string {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	srv := rendezvous.NewServer(log, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Run(ctx) }()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func brokerClient(t *testing.T, url, roomID, peerID string) *rendezvous.Client {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := rendezvous.NewClient(url, roomID, log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect failed for %s: %v", peerID, err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Register(ctx, peerID); err != nil {
		t.Fatalf("Register failed for %s: %v", peerID, err)
	}
	return c
}

func TestBrokerRelaysSignalsBetweenPeers(t *testing.T) {
	url := startBroker(t)

	creator := brokerClient(t, url, room, room+"-creator")
	joiner := brokerClient(t, url, room, room+"-j1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := joiner.SendSignal(ctx, room+"-creator", []byte(`{"kind":"offer","sdp":"v=0"}`)); err != nil {
		t.Fatalf("SendSignal failed: %v", err)
	}

	select {
	case sig := <-creator.RecvSignal():
		if sig.PeerID != room+"-j1" {
			t.Errorf("signal sender = %q, want %s-j1", sig.PeerID, room)
		}
		if string(sig.Payload) != `{"kind":"offer","sdp":"v=0"}` {
			t.Errorf("signal payload = %s", sig.Payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("signal never relayed")
	}
}

// The transport registers its peer id through the broker on Open; a second
// handle claiming the same id must fail terminally.
func TestTransportHandleOverLiveBroker(t *testing.T) {
	url := startBroker(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	first := rendezvous.NewClient(url, room, log)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := first.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = first.Close() })

	provider := webrtcpeer.New(first, nil, log)
	t.Cleanup(func() { _ = provider.Destroy() })

	if err := provider.Open(ctx, room+"-creator"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	select {
	case ev := <-provider.Events():
		open, ok := ev.(transport.HandleOpen)
		if !ok || open.ID != room+"-creator" {
			t.Fatalf("first event = %#v, want HandleOpen", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no HandleOpen after Open")
	}

	second := rendezvous.NewClient(url, room, log)
	if err := second.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })

	dup := webrtcpeer.New(second, nil, log)
	t.Cleanup(func() { _ = dup.Destroy() })

	if err := dup.Open(ctx, room+"-creator"); err == nil {
		t.Fatal("duplicate peer id accepted by broker")
	}
}
