package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/roomcast/roomcast/internal/config"
	"github.com/roomcast/roomcast/internal/logger"
	"github.com/roomcast/roomcast/internal/rendezvous"
	"github.com/roomcast/roomcast/internal/session"
	"github.com/roomcast/roomcast/internal/transport/webrtcpeer"
)

// opusSilence is a minimal opus frame; the placeholder track sends it until
// a real capture pipeline is plugged in.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

func runPeer(cfg *config.Config, roomID, peerID string, topology session.Topology) error {
	log := logger.NewLoggerWithLevel(logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := rendezvous.NewClient(cfg.BrokerURL, roomID, log)
	if err := broker.Connect(ctx); err != nil {
		return err
	}
	defer broker.Close()

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", peerID,
	)
	if err != nil {
		return fmt.Errorf("create local track: %w", err)
	}
	go feedSilence(ctx, track)

	provider := webrtcpeer.New(broker, cfg.ICEServers(), log)

	sess, err := session.New(session.Config{
		RoomID:      roomID,
		PeerID:      peerID,
		Topology:    topology,
		Provider:    provider,
		LocalStream: track,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- sess.Start(ctx) }()
	go printEvents(sess)

	fmt.Printf("Joined room %s as %s, type to chat, /help for commands\n", roomID, peerID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	inputCh := make(chan string)
	go readInput(inputCh)

	for {
		select {
		case line := <-inputCh:
			if quit := handleInput(sess, line); quit {
				sess.Close()
				return <-errCh
			}

		case <-sigCh:
			fmt.Println("exiting...")
			sess.Close()
			return <-errCh

		case err := <-errCh:
			if msg := sess.ConnectionError(); msg != "" {
				return fmt.Errorf("connection failed: %s", msg)
			}
			return err
		}
	}
}

func readInput(out chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// handleInput dispatches one stdin line; plain text becomes chat.
func handleInput(sess *session.Session, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	switch {
	case line == "/quit":
		return true

	case line == "/help":
		fmt.Println("/peers /mesh /star /reconnect /quit")

	case line == "/peers":
		for _, p := range sess.Participants() {
			marker := ""
			if p.IsCreator {
				marker = " (creator)"
			}
			fmt.Printf("  %s%s\n", p.ID, marker)
		}

	case line == "/mesh":
		sess.SwitchTopology(session.TopologyMesh)
		fmt.Println("switched to mesh")

	case line == "/star":
		sess.SwitchTopology(session.TopologyStar)
		fmt.Println("switched to star")

	case line == "/reconnect":
		sess.ReconnectAll()
		fmt.Println("reconnecting all peers")

	case strings.HasPrefix(line, "/"):
		fmt.Println("unknown command, /help lists commands")

	default:
		sess.SendChat(line)
	}
	return false
}

func printEvents(sess *session.Session) {
	for ev := range sess.Events() {
		switch ev.Kind {
		case session.PeerJoined:
			fmt.Printf("* %s joined\n", ev.Participant.ID)
		case session.PeerLeft:
			fmt.Printf("* %s left\n", ev.Participant.ID)
		case session.ChatReceived:
			fmt.Printf("<%s> %s\n", ev.Chat.Sender, ev.Chat.Text)
		}
	}
}

func feedSilence(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = track.WriteSample(media.Sample{Data: opusSilence, Duration: 20 * time.Millisecond})
		}
	}
}
