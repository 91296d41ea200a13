package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roomcast/roomcast/internal/config"
)

var opts config.Options

var rootCmd = &cobra.Command{
	Use:  `roomcast`,
	Long: `roomcast coordinates peer rosters and link topology for small audio/video rooms`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&opts.BrokerURL, "broker", "", "rendezvous broker websocket URL")
	rootCmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.STUNServer, "stun", "", "STUN server URL")
	rootCmd.PersistentFlags().StringVar(&opts.TURNServer, "turn", "", "TURN server URL")
	rootCmd.PersistentFlags().StringVar(&opts.TURNUser, "turn-user", "", "TURN username")
	rootCmd.PersistentFlags().StringVar(&opts.TURNPass, "turn-pass", "", "TURN password")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(joinCmd)
}
