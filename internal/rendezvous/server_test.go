package rendezvous

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func startBroker(t *testing.T) string {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	srv := NewServer(log, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialPeer(t *testing.T, url, roomID, peerID string) *Client {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient(url, roomID, log)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect %s: %v", peerID, err)
	}
	t.Cleanup(func() { c.Close() })

	if err := c.Register(ctx, peerID); err != nil {
		t.Fatalf("register %s: %v", peerID, err)
	}
	return c
}

func TestSignalRelay(t *testing.T) {
	url := startBroker(t)

	alice := dialPeer(t, url, "room1", "room1-creator")
	bob := dialPeer(t, url, "room1", "room1-bob")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := alice.SendSignal(ctx, "room1-bob", []byte(`{"kind":"offer"}`)); err != nil {
		t.Fatalf("send signal: %v", err)
	}

	select {
	case sig := <-bob.RecvSignal():
		if sig.PeerID != "room1-creator" {
			t.Errorf("sender = %q, want room1-creator", sig.PeerID)
		}
		if string(sig.Payload) != `{"kind":"offer"}` {
			t.Errorf("payload = %s", sig.Payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("signal never relayed")
	}
}

func TestRegisterDuplicateIDRejected(t *testing.T) {
	url := startBroker(t)

	dialPeer(t, url, "room1", "room1-creator")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dup := NewClient(url, "room1", log)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := dup.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer dup.Close()

	if err := dup.Register(ctx, "room1-creator"); err == nil {
		t.Fatal("duplicate registration succeeded, want error")
	}
}

func TestSignalToUnknownPeerReturnsError(t *testing.T) {
	url := startBroker(t)

	alice := dialPeer(t, url, "room1", "room1-creator")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := alice.SendSignal(ctx, "room1-nobody", []byte(`{}`)); err != nil {
		t.Fatalf("send signal: %v", err)
	}

	// The error frame lands on the ack channel since it carries no sender.
	select {
	case msg := <-alice.acks:
		if msg.Type != TypeError {
			t.Errorf("frame type = %q, want %q", msg.Type, TypeError)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no error frame for unknown target")
	}
}

func TestShutdownReleasesClientPumps(t *testing.T) {
	baseline := runtime.NumGoroutine()

	log := logrus.New()
	log.SetOutput(io.Discard)
	srv := NewServer(log, nil)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(runDone)
	}()

	ts := httptest.NewServer(srv.Handler())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	c := NewClient(url, "room1", slog.New(slog.NewTextHandler(io.Discard, nil)))
	cctx, ccancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer ccancel()
	if err := c.Connect(cctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Register(cctx, "room1-creator"); err != nil {
		t.Fatalf("register: %v", err)
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(3 * time.Second):
		t.Fatal("hub never stopped")
	}

	// The peer disconnecting after the hub is gone must not strand the
	// server-side pumps on the unregister handoff.
	c.Close()
	ts.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= baseline+2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("goroutines after shutdown: %d, baseline %d", runtime.NumGoroutine(), baseline)
}

func TestPeerGoneHint(t *testing.T) {
	url := startBroker(t)

	alice := dialPeer(t, url, "room1", "room1-creator")
	bob := dialPeer(t, url, "room1", "room1-bob")

	bob.Close()

	select {
	case id := <-alice.PeerGone():
		if id != "room1-bob" {
			t.Errorf("gone peer = %q, want room1-bob", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no peer-gone hint after disconnect")
	}
}
