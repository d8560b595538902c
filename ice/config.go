package ice

import (
	"time"

	"github.com/lanikai/goice/turn"
)

// HarvesterConfig parameterizes candidate gathering for one Component
// (spec.md §4.8).
type HarvesterConfig struct {
	MinPort, MaxPort, PreferredPort int
	BindRetries                     int

	EnableTCP  bool
	EnableIPv6 bool

	AllowInterfaces []string
	BlockInterfaces []string

	StunServer string

	TurnServer   string
	TurnUsername string
	TurnPassword string

	StaticMapping turn.StaticMappingSource
}

// DefaultHarvesterConfig returns permissive defaults: any port, IPv4 only,
// no TCP, no static mapping.
func DefaultHarvesterConfig() HarvesterConfig {
	return HarvesterConfig{
		MinPort:     0,
		MaxPort:     0,
		BindRetries: 5,
		EnableTCP:   false,
		EnableIPv6:  false,
	}
}

// PacingInterval (Ta) is RFC 8445 §14.2's default pace-maker interval.
const PacingInterval = 20 * time.Millisecond

// ConnectivityCheckTimeout is a 30-second limit for connectivity
// establishment. Nothing in this package reads it: pace-maker loops run
// until the Agent is closed.
const ConnectivityCheckTimeout = 30 * time.Second
