package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roomcast/roomcast/internal/config"
	"github.com/roomcast/roomcast/internal/roster"
	"github.com/roomcast/roomcast/internal/session"
)

var joinTopology string

var joinCmd = &cobra.Command{
	Use:   `join <room-id>`,
	Short: `Join an existing room`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load(opts)
		roomID := args[0]

		peerID, err := roster.NewJoinerID(roomID)
		if err != nil {
			return fmt.Errorf("generate peer id: %w", err)
		}

		topology, err := session.ParseTopology(joinTopology)
		if err != nil {
			return err
		}

		return runPeer(cfg, roomID, peerID, topology)
	},
}

func init() {
	joinCmd.Flags().StringVar(&joinTopology, "topology", "mesh", "link topology: mesh or star")
}
