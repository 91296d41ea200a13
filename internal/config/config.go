// Package config layers peer configuration: CLI flags override environment
// variables, which override the built-in defaults.
package config

import (
	"os"

	"github.com/pion/webrtc/v3"
)

const (
	DefaultBrokerURL = "ws://localhost:8090/ws"
	DefaultSTUN      = "stun:stun.l.google.com:19302"
	DefaultLogLevel  = "info"
	DefaultDBPath    = "rendezvous.db"
)

// Config is the resolved peer configuration.
type Config struct {
	BrokerURL string
	LogLevel  string

	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
}

// Options carries CLI flag values; empty fields fall through to the
// environment and then the defaults.
type Options struct {
	BrokerURL  string
	LogLevel   string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
}

func Load(opts Options) *Config {
	return &Config{
		BrokerURL:  layered(opts.BrokerURL, "ROOMCAST_BROKER_URL", DefaultBrokerURL),
		LogLevel:   layered(opts.LogLevel, "ROOMCAST_LOG_LEVEL", DefaultLogLevel),
		STUNServer: layered(opts.STUNServer, "ROOMCAST_STUN_SERVER", DefaultSTUN),
		TURNServer: layered(opts.TURNServer, "ROOMCAST_TURN_SERVER", ""),
		TURNUser:   layered(opts.TURNUser, "ROOMCAST_TURN_USERNAME", ""),
		TURNPass:   layered(opts.TURNPass, "ROOMCAST_TURN_PASSWORD", ""),
	}
}

// ICEServers translates the STUN/TURN settings into the transport's server
// list. A TURN entry is only emitted when a server is configured.
func (c *Config) ICEServers() []webrtc.ICEServer {
	servers := []webrtc.ICEServer{
		{URLs: []string{c.STUNServer}},
	}
	if c.TURNServer != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{c.TURNServer},
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}
	return servers
}

func layered(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}
