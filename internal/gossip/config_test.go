package gossip

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestValidateRejectsNonPositiveFanout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fanout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero fanout")
	}
}

func TestValidateRejectsNonPositiveTimeouts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GossipTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero gossip timeout")
	}
}
