// Package service wires identity, transport, stores, and projections into
// the narrow façade spec §4.7 describes, holding no domain logic of its
// own. Grounded on the teacher's cmd/server/main.go wiring sequence (open
// store → build replication → start HTTP → signal-driven graceful
// shutdown with a final snapshot), generalized into a reusable constructor
// + Stop() pair instead of an inline main().
package service

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"eventmesh/internal/clock"
	"eventmesh/internal/eventlog"
	"eventmesh/internal/gossip"
	"eventmesh/internal/merr"
	"eventmesh/internal/projection"
	"eventmesh/internal/transport"
)

// Config is the explicit, passed-in configuration this engine is built
// from — spec.md §9 replaces the teacher's shared in-process singletons
// (registry, preferences) with exactly this: a value the caller owns, with
// no process-wide global backing it.
type Config struct {
	NodeID  string
	DataDir string

	Gossip gossip.Config

	// AutoSaveEventCount is the projection engine's snapshot cadence
	// (spec §6.3's autoSaveEventCount, default 100).
	AutoSaveEventCount int
}

// DefaultConfig returns Config with every documented default except
// NodeID/DataDir, which callers must always supply.
func DefaultConfig(nodeID, dataDir string) Config {
	return Config{
		NodeID:             nodeID,
		DataDir:            dataDir,
		Gossip:             gossip.DefaultConfig(),
		AutoSaveEventCount: 100,
	}
}

// Service is the top-level façade: Service owns {Stores, ProjectionEngine,
// Node}; Node owns its PeerManager, uses the event and clock stores it is
// handed, and holds the TransportAdapter by interface only. No cycle exists
// in either direction.
type Service struct {
	cfg       Config
	transport transport.Adapter

	pendingProjections []projection.Projection

	eventStore      *eventlog.Store
	clockStore      *clock.Store
	projectionStore *projection.Store
	projections     *projection.Engine
	node            *gossip.Node

	initialized bool
	started     bool
}

// New builds a Service for cfg against adapter.
func New(cfg Config, adapter transport.Adapter) (*Service, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("%w: NodeID is required", merr.ErrConfigInvalid)
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("%w: DataDir is required", merr.ErrConfigInvalid)
	}
	if adapter == nil {
		return nil, fmt.Errorf("%w: transport adapter is required", merr.ErrConfigInvalid)
	}
	if err := cfg.Gossip.Validate(); err != nil {
		return nil, err
	}

	return &Service{cfg: cfg, transport: adapter}, nil
}

// RegisterProjection queues p for registration with the projection engine.
// Must be called before Initialize.
func (s *Service) RegisterProjection(p projection.Projection) {
	s.pendingProjections = append(s.pendingProjections, p)
}

// Initialize opens every durable store, registers the queued projections,
// and rebuilds/restores them from the stored log or their snapshots — but
// does not start the network loop.
func (s *Service) Initialize() error {
	if s.initialized {
		return nil
	}

	eventDir := filepath.Join(s.cfg.DataDir, "events")
	es, err := eventlog.New(eventDir)
	if err != nil {
		return fmt.Errorf("%w: open event store: %v", merr.ErrStorageFailed, err)
	}
	s.eventStore = es

	cs, err := clock.NewStore(s.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("%w: open clock store: %v", merr.ErrStorageFailed, err)
	}
	s.clockStore = cs

	ps, err := projection.NewStore(s.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("%w: open projection store: %v", merr.ErrStorageFailed, err)
	}
	s.projectionStore = ps

	s.projections = projection.NewEngine(ps, s.cfg.AutoSaveEventCount)
	for _, p := range s.pendingProjections {
		s.projections.Register(p)
	}

	allEvents := s.eventStore.GetAllEvents()
	if err := s.projections.Start(allEvents); err != nil {
		return fmt.Errorf("%w: restore projections: %v", merr.ErrStorageFailed, err)
	}

	node, err := gossip.NewNode(s.cfg.Gossip, s.cfg.NodeID, s.eventStore, s.clockStore, s.transport)
	if err != nil {
		return err
	}
	s.node = node

	s.initialized = true
	return nil
}

// Start starts the TransportAdapter, then the GossipNode, then begins
// forwarding onEventCreated/onEventReceived into the projection engine.
// Matches spec §2's control flow.
func (s *Service) Start(ctx context.Context) error {
	if !s.initialized {
		if err := s.Initialize(); err != nil {
			return err
		}
	}
	if s.started {
		return nil
	}

	if err := s.transport.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	if err := s.node.Start(ctx); err != nil {
		return err
	}

	go s.pumpProjections(ctx)

	s.started = true
	return nil
}

// Stop stops the GossipNode (persisting its clock and draining pending
// requests), then the TransportAdapter, then closes every store.
func (s *Service) Stop() error {
	if !s.started {
		return nil
	}

	if err := s.node.Stop(); err != nil {
		return err
	}
	if err := s.transport.Stop(); err != nil {
		return err
	}

	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	note(s.projections.SaveAll())
	note(s.eventStore.Close())
	note(s.clockStore.Close())
	note(s.projectionStore.Close())

	s.started = false
	return firstErr
}

// CreateEvent is the only domain-mutating call the façade exposes: it
// delegates straight to the GossipNode's local-creation path.
func (s *Service) CreateEvent(payload map[string]any) (eventlog.Event, error) {
	return s.node.CreateEvent(payload)
}

// SaveProjectionStates forces an immediate snapshot of every registered
// projection, bypassing the auto-save cadence.
func (s *Service) SaveProjectionStates() error {
	return s.projections.SaveAll()
}

// ClearProjectionStates discards every persisted projection snapshot
// without touching in-memory projection state.
func (s *Service) ClearProjectionStates() error {
	return s.projections.ClearAll()
}

// OnEventCreated, OnEventReceived, OnPeerUp, OnPeerDown pass the
// GossipNode's streams straight through, per spec §4.7.
func (s *Service) OnEventCreated() <-chan eventlog.Event  { return s.node.OnEventCreated() }
func (s *Service) OnEventReceived() <-chan eventlog.Event { return s.node.OnEventReceived() }
func (s *Service) OnPeerUp() <-chan string                { return s.node.OnPeerUp() }
func (s *Service) OnPeerDown() <-chan string              { return s.node.OnPeerDown() }

// Projections exposes the read side for query handlers (cmd/meshctl,
// internal/api) without handing out the write path.
func (s *Service) Projections() *projection.Engine { return s.projections }

// EventStore exposes read-only introspection for the HTTP/CLI surfaces.
func (s *Service) EventStore() *eventlog.Store { return s.eventStore }

// Peers returns a snapshot of the transport's currently connected peer ids.
func (s *Service) Peers() []string { return s.transport.Peers() }

// pumpProjections feeds the GossipNode's onEventCreated/onEventReceived
// streams into the projection engine's single-actor ProcessEvent, in
// arrival order, until ctx is cancelled.
func (s *Service) pumpProjections(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.node.OnEventCreated():
			if !ok {
				return
			}
			s.processWithLogging(ev)
		case ev, ok := <-s.node.OnEventReceived():
			if !ok {
				return
			}
			s.processWithLogging(ev)
		}
	}
}

func (s *Service) processWithLogging(ev eventlog.Event) {
	if err := s.projections.ProcessEvent(ev); err != nil {
		log.Printf("service: projection error applying event %s: %v", ev.ID, err)
	}
}
