package gossip

import "time"

// Config enumerates every gossip tunable in spec.md §6.3, with the defaults
// the design fixes. The projection snapshot cadence (autoSaveEventCount) is
// not here; it lives in service.Config.
type Config struct {
	GossipInterval        time.Duration
	Fanout                int
	GossipTimeout         time.Duration
	MaxEventsPerMessage   int
	EnableAntiEntropy     bool
	AntiEntropyInterval   time.Duration
	PeerDiscoveryInterval time.Duration
	MaxConcurrentPeers    int
	MaxConnectionAttempts int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		GossipInterval:        2 * time.Second,
		Fanout:                3,
		GossipTimeout:         8 * time.Second,
		MaxEventsPerMessage:   50,
		EnableAntiEntropy:     true,
		AntiEntropyInterval:   2 * time.Minute,
		PeerDiscoveryInterval: 1 * time.Second,
		MaxConcurrentPeers:    8,
		MaxConnectionAttempts: 3,
	}
}

// Validate rejects configurations that can never behave sensibly — a
// ConfigInvalid, fatal-at-startup condition per spec §7.
func (c Config) Validate() error {
	if c.Fanout <= 0 {
		return errConfigf("fanout must be positive, got %d", c.Fanout)
	}
	if c.MaxEventsPerMessage <= 0 {
		return errConfigf("maxEventsPerMessage must be positive, got %d", c.MaxEventsPerMessage)
	}
	if c.MaxConcurrentPeers <= 0 {
		return errConfigf("maxConcurrentPeers must be positive, got %d", c.MaxConcurrentPeers)
	}
	if c.MaxConnectionAttempts <= 0 {
		return errConfigf("maxConnectionAttempts must be positive, got %d", c.MaxConnectionAttempts)
	}
	if c.GossipInterval <= 0 || c.GossipTimeout <= 0 || c.PeerDiscoveryInterval <= 0 {
		return errConfigf("gossipInterval, gossipTimeout, and peerDiscoveryInterval must be positive")
	}
	return nil
}
