package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roomcast/roomcast/internal/config"
	"github.com/roomcast/roomcast/internal/roster"
	"github.com/roomcast/roomcast/internal/session"
)

var (
	createRoomID   string
	createTopology string
)

var createCmd = &cobra.Command{
	Use:   `create`,
	Short: `Create a room and wait for peers`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load(opts)

		roomID := createRoomID
		if roomID == "" {
			roomID = uuid.NewString()
		}

		topology, err := session.ParseTopology(createTopology)
		if err != nil {
			return err
		}

		fmt.Printf("Room %s created, share this id to let peers join\n", roomID)
		return runPeer(cfg, roomID, roster.CreatorID(roomID), topology)
	},
}

func init() {
	createCmd.Flags().StringVar(&createRoomID, "room", "", "room id (random when omitted)")
	createCmd.Flags().StringVar(&createTopology, "topology", "mesh", "link topology: mesh or star")
}
