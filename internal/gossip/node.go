// Package gossip implements the three-phase anti-entropy protocol (spec
// §4.6) and the peer lifecycle manager (spec §4.6's PeerManager
// sub-policies) that drive replication between eventmesh nodes.
//
// Grounded on the teacher's fan-out-goroutines + result-channel +
// select-against-timeout shape (internal/cluster/replicator.go's
// ReplicateWrite/CoordinateRead), generalized from "fan a write/read out to
// N replicas and wait for a quorum" to "run one gossip round against one
// peer and wait for its two-step reply."
package gossip

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"eventmesh/internal/clock"
	"eventmesh/internal/eventlog"
	"eventmesh/internal/gossip/wire"
	"eventmesh/internal/merr"
	"eventmesh/internal/transport"
)

// Node owns the local vector clock, schedules gossip rounds, and runs the
// 3-phase protocol against peers discovered through its TransportAdapter.
// It never holds a back-reference to anything that owns it, matching the
// layered ownership DAG spec.md §9 requires.
type Node struct {
	selfID string
	cfg    Config

	eventStore *eventlog.Store
	clockStore *clock.Store
	transport  transport.Adapter
	pm         *peerManager

	clockMu sync.Mutex
	clk     clock.Clock

	// emitMu/emitted track, per origin, the highest timestamp already
	// handed to onEventReceived/onEventCreated. This is deliberately
	// separate from clk (the store's durability watermark): the store
	// already buffers out-of-order arrivals for replication purposes, but
	// projections additionally require strictly increasing per-origin
	// delivery (spec §5), which needs its own watermark so a batch that
	// closes a gap doesn't emit events out of timestamp order.
	emitMu  sync.Mutex
	emitted map[string]uint64

	onEventCreated  chan eventlog.Event
	onEventReceived chan eventlog.Event
	onPeerUp        chan string
	onPeerDown      chan string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	runningMu sync.Mutex
	running   bool
}

// NewNode builds an unstarted Node for selfID against the given stores and
// transport. Returns ConfigInvalid if cfg fails validation.
func NewNode(cfg Config, selfID string, eventStore *eventlog.Store, clockStore *clock.Store, adapter transport.Adapter) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Node{
		selfID:          selfID,
		cfg:             cfg,
		eventStore:      eventStore,
		clockStore:      clockStore,
		transport:       adapter,
		pm:              newPeerManager(cfg),
		emitted:         make(map[string]uint64),
		onEventCreated:  make(chan eventlog.Event, 64),
		onEventReceived: make(chan eventlog.Event, 64),
		onPeerUp:        make(chan string, 16),
		onPeerDown:      make(chan string, 16),
	}, nil
}

// OnEventCreated streams every locally created event, for local projections.
func (n *Node) OnEventCreated() <-chan eventlog.Event { return n.onEventCreated }

// OnEventReceived streams every newly accepted remote event.
func (n *Node) OnEventReceived() <-chan eventlog.Event { return n.onEventReceived }

// OnPeerUp streams peer ids as they become reachable.
func (n *Node) OnPeerUp() <-chan string { return n.onPeerUp }

// OnPeerDown streams peer ids as they become unreachable.
func (n *Node) OnPeerDown() <-chan string { return n.onPeerDown }

// Start loads the persisted clock, subscribes to the transport's streams,
// and schedules the gossip/anti-entropy/discovery timers. The caller
// (Service) must already have started the TransportAdapter.
func (n *Node) Start(ctx context.Context) error {
	n.runningMu.Lock()
	defer n.runningMu.Unlock()
	if n.running {
		return nil
	}

	clk, err := n.clockStore.Load(n.selfID)
	if err != nil {
		return fmt.Errorf("%w: load clock: %v", merr.ErrStorageFailed, err)
	}
	// Reconcile with the event store's own watermark: on a fresh data dir
	// the clock file may lag the log (or vice versa after a crash between
	// the two writes). The watermark map is always the authority.
	for id, ts := range n.eventStore.GetLatestTimestampsForAllNodes() {
		clk.Observe(id, ts)
	}
	n.clk = clk

	n.ctx, n.cancel = context.WithCancel(ctx)

	n.wg.Add(1)
	go n.runInboundLoop()

	n.wg.Add(1)
	go n.runPeerEventsLoop()

	n.wg.Add(1)
	go n.runJitteredLoop(n.cfg.GossipInterval, n.tickGossip)

	if n.cfg.EnableAntiEntropy {
		n.wg.Add(1)
		go n.runJitteredLoop(n.cfg.AntiEntropyInterval, n.tickAntiEntropy)
	}

	n.wg.Add(1)
	go n.runJitteredLoop(n.cfg.PeerDiscoveryInterval, n.tickDiscovery)

	n.running = true
	return nil
}

// Stop cancels every timer, fails all pending requests with ErrShutdown,
// waits (with a bounded grace period) for in-flight work to drain, and
// persists the clock one final time.
func (n *Node) Stop() error {
	n.runningMu.Lock()
	defer n.runningMu.Unlock()
	if !n.running {
		return nil
	}

	n.cancel()

	for _, ch := range n.pm.drainAll() {
		select {
		case ch <- merr.ErrShutdown:
		default:
		}
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Printf("gossip: node %s shutdown grace period exceeded, proceeding anyway", n.selfID)
	}

	n.running = false

	n.clockMu.Lock()
	clk := n.clk.Copy()
	n.clockMu.Unlock()
	if err := n.clockStore.Save(n.selfID, clk); err != nil {
		return fmt.Errorf("%w: persist clock on stop: %v", merr.ErrStorageFailed, err)
	}
	return nil
}

// CreateEvent is the local-creation path (spec §4.6): it atomically ticks
// the node's own watermark, persists the event, persists the clock, and
// emits OnEventCreated. It never broadcasts eagerly; gossip rounds carry
// the new event on their own schedule.
func (n *Node) CreateEvent(payload map[string]any) (eventlog.Event, error) {
	n.clockMu.Lock()
	defer n.clockMu.Unlock()

	ts := n.clk.Tick(n.selfID)
	ev := eventlog.NewEvent(n.selfID, ts, eventlog.NowMillis(), payload)

	if err := n.eventStore.SaveEvent(ev); err != nil {
		n.clk[n.selfID] = ts - 1 // roll back the tick; nothing else could have observed it under the lock
		return eventlog.Event{}, fmt.Errorf("%w: save local event: %v", merr.ErrStorageFailed, err)
	}
	if err := n.clockStore.Save(n.selfID, n.clk.Copy()); err != nil {
		return eventlog.Event{}, fmt.Errorf("%w: persist clock after local event: %v", merr.ErrStorageFailed, err)
	}

	n.emitMu.Lock()
	if ts > n.emitted[n.selfID] {
		n.emitted[n.selfID] = ts
	}
	n.emitMu.Unlock()

	select {
	case n.onEventCreated <- ev:
	default:
		log.Printf("gossip: onEventCreated full, dropping notification for %s (event is still durably stored)", ev.ID)
	}
	return ev, nil
}

// ─── timer callbacks ────────────────────────────────────────────────────────

func (n *Node) tickGossip() {
	for _, peer := range n.pm.selectFanout(n.cfg.Fanout) {
		n.spawnRound(peer, n.runInitiatorRound)
	}
}

func (n *Node) tickAntiEntropy() {
	peer, ok := n.pm.stalestPeer()
	if !ok {
		return
	}
	n.spawnRound(peer, n.runInitiatorRound)
}

func (n *Node) tickDiscovery() {
	live := make(map[string]bool)
	for _, id := range n.transport.Peers() {
		live[id] = true
	}
	for _, id := range n.pm.activePeers() {
		if !live[id] {
			for _, ch := range n.pm.noteDown(id) {
				select {
				case ch <- merr.ErrPeerDown:
				default:
				}
			}
			n.emitPeerDown(id)
		}
	}
	for id := range live {
		if !n.pm.isActive(id) {
			n.pm.noteUp(id)
			n.emitPeerUp(id)
		}
	}
}

func (n *Node) spawnRound(peerID string, fn func(context.Context, string)) {
	if !n.pm.admit(peerID) {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		fn(n.ctx, peerID)
	}()
}

// ─── round initiator ────────────────────────────────────────────────────────

func (n *Node) runInitiatorRound(ctx context.Context, peerID string) {
	rid := wire.NewRid(n.selfID, eventlog.NowMillis(), nonce())
	respCh := n.pm.registerCorrelation(rid, peerID)
	defer n.pm.unregisterCorrelation(rid)

	success := false
	ioErr := false
	defer func() { n.pm.release(peerID, success, ioErr) }()

	wSelf := n.eventStore.GetLatestTimestampsForAllNodes()
	digest := wire.Digest{Type: wire.TypeDigest, Rid: rid, Clock: wSelf}
	data, err := encodeFrame(digest)
	if err != nil {
		log.Printf("gossip: encode digest: %v", err)
		return
	}
	if err := n.transport.Send(ctx, peerID, data, n.cfg.GossipTimeout); err != nil {
		ioErr = isIOError(err)
		return
	}

	raw, err := n.awaitCorrelation(ctx, respCh, n.cfg.GossipTimeout)
	if err != nil {
		return
	}
	resp, ok := raw.(wire.DigestResponse)
	if !ok {
		log.Printf("gossip: expected digest_response for rid %s, got %T", rid, raw)
		return
	}

	events := n.computeEventsFor(wSelf, resp.Clock)
	msg := wire.GossipEventMessage{Events: events, FromClock: wSelf}
	evFrame := wire.Events{Type: wire.TypeEvents, Rid: rid, Message: msg}
	data, err = encodeFrame(evFrame)
	if err != nil {
		log.Printf("gossip: encode events: %v", err)
		return
	}
	if err := n.transport.Send(ctx, peerID, data, n.cfg.GossipTimeout); err != nil {
		ioErr = isIOError(err)
		return
	}

	if _, err := n.awaitCorrelation(ctx, respCh, n.cfg.GossipTimeout); err != nil {
		return
	}

	success = true
}

// computeEventsFor builds the event batch to send to a peer whose reported
// watermark map is peerClock. It iterates the union of locally known
// origins and the peer's reported origins (defaulting to 0 for an origin
// the peer has never mentioned), so a peer that has never heard of a node
// still receives that node's full history rather than being skipped
// because it has no entry in its own digest.
func (n *Node) computeEventsFor(selfClock, peerClock map[string]uint64) []eventlog.Event {
	origins := make(map[string]struct{}, len(selfClock)+len(peerClock))
	for id := range selfClock {
		origins[id] = struct{}{}
	}
	for id := range peerClock {
		origins[id] = struct{}{}
	}

	ids := make([]string, 0, len(origins))
	for id := range origins {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var batch []eventlog.Event
	remaining := n.cfg.MaxEventsPerMessage
	for _, id := range ids {
		if remaining <= 0 {
			break
		}
		since := peerClock[id]
		got := n.eventStore.GetEventsSince(id, since, remaining)
		batch = append(batch, got...)
		remaining -= len(got)
	}
	return batch
}

// awaitCorrelation blocks for ch to deliver a value, or for ctx/timeout to
// fire first. A merr.ErrShutdown/merr.ErrPeerDown delivery is surfaced as
// an error, matching spec §5's "callers do not observe partial state."
func (n *Node) awaitCorrelation(ctx context.Context, ch chan any, timeout time.Duration) (any, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case v := <-ch:
		if err, ok := v.(error); ok {
			return nil, err
		}
		return v, nil
	case <-t.C:
		return nil, merr.ErrTimeout
	case <-ctx.Done():
		return nil, merr.ErrShutdown
	}
}

// ─── round responder ────────────────────────────────────────────────────────

func (n *Node) handleDigest(ctx context.Context, peerID string, f wire.Digest) {
	wSelf := n.eventStore.GetLatestTimestampsForAllNodes()
	resp := wire.DigestResponse{Type: wire.TypeDigestResponse, Rid: f.Rid, Clock: wSelf}
	data, err := encodeFrame(resp)
	if err != nil {
		log.Printf("gossip: encode digest_response: %v", err)
		return
	}
	if err := n.transport.Send(ctx, peerID, data, n.cfg.GossipTimeout); err != nil {
		log.Printf("gossip: send digest_response to %s: %v", peerID, err)
	}
}

// handleEvents applies an inbound batch and acks it. eventlog.Store.insert
// already buffers a node's own durability watermark across a closed
// contiguous prefix, but that is unrelated to what local projections are
// allowed to see: GetEventsSince can and does return gapped runs (e.g.
// {A@1, A@3} while A@2 is still missing), so emitting every "fresh" event
// straight from the batch can hand projections 1, 3 before 2 ever arrives.
// Spec §5 requires strictly increasing per-origin delivery, so newly
// accepted events are routed through flushContiguous, which only emits the
// run that extends each origin's own emission watermark and buffers the
// rest until the gap closes.
func (n *Node) handleEvents(ctx context.Context, peerID string, f wire.Events) {
	events := append([]eventlog.Event(nil), f.Message.Events...)
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.NodeID != b.NodeID {
			return a.NodeID < b.NodeID
		}
		return a.Timestamp < b.Timestamp
	})

	var fresh []eventlog.Event
	for _, e := range events {
		if !n.eventStore.HasEvent(e.ID) {
			fresh = append(fresh, e)
		}
	}

	if err := n.eventStore.SaveEvents(events); err != nil {
		log.Printf("gossip: save events batch from %s: %v", peerID, err)
		return
	}

	if len(fresh) > 0 {
		n.clockMu.Lock()
		for id, ts := range n.eventStore.GetLatestTimestampsForAllNodes() {
			n.clk.Observe(id, ts)
		}
		clk := n.clk.Copy()
		n.clockMu.Unlock()

		if err := n.clockStore.Save(n.selfID, clk); err != nil {
			log.Printf("gossip: persist clock after receiving events from %s: %v", peerID, err)
		}

		for _, e := range n.flushContiguous(fresh) {
			select {
			case n.onEventReceived <- e:
			default:
				log.Printf("gossip: onEventReceived full, dropping notification for %s (event is still durably stored)", e.ID)
			}
		}
	}

	ack := wire.EventsAck{Type: wire.TypeEventsAck, Rid: f.Rid, Timestamp: eventlog.NowMillis()}
	data, err := encodeFrame(ack)
	if err != nil {
		log.Printf("gossip: encode events_ack: %v", err)
		return
	}
	if err := n.transport.Send(ctx, peerID, data, n.cfg.GossipTimeout); err != nil {
		log.Printf("gossip: send events_ack to %s: %v", peerID, err)
	}
}

// flushContiguous gates fresh (newly accepted, already-durable) events
// against each origin's emission watermark, returning only the events safe
// to hand to onEventReceived right now, in strictly increasing per-origin
// timestamp order. An event that arrives ahead of a gap (e.g. A@3 before
// A@2) is held back — it stays durably stored, and will be returned by a
// later call once the gap closes.
func (n *Node) flushContiguous(fresh []eventlog.Event) []eventlog.Event {
	if len(fresh) == 0 {
		return nil
	}

	origins := make(map[string]struct{}, len(fresh))
	for _, e := range fresh {
		origins[e.NodeID] = struct{}{}
	}

	n.emitMu.Lock()
	defer n.emitMu.Unlock()

	var out []eventlog.Event
	for origin := range origins {
		since := n.emitted[origin]
		for {
			next := n.eventStore.GetEventsSince(origin, since, 1)
			if len(next) == 0 || next[0].Timestamp != since+1 {
				break
			}
			out = append(out, next[0])
			since = next[0].Timestamp
		}
		n.emitted[origin] = since
	}
	return out
}

// ─── background loops ───────────────────────────────────────────────────────

func (n *Node) runInboundLoop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case frame, ok := <-n.transport.Incoming():
			if !ok {
				return
			}
			n.handleFrame(frame)
		}
	}
}

func (n *Node) handleFrame(frame transport.Frame) {
	decoded, err := decodeFrame(frame.Data)
	if err != nil {
		log.Printf("gossip: %v", err)
		return
	}
	switch f := decoded.(type) {
	case wire.Digest:
		n.handleDigest(n.ctx, frame.PeerID, f)
	case wire.DigestResponse:
		n.pm.deliver(f.Rid, f)
	case wire.Events:
		n.handleEvents(n.ctx, frame.PeerID, f)
	case wire.EventsAck:
		n.pm.deliver(f.Rid, f)
	default:
		log.Printf("gossip: %v: unhandled decoded type %T", merr.ErrProtocolViolation, f)
	}
}

func (n *Node) runPeerEventsLoop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case ev, ok := <-n.transport.PeerEvents():
			if !ok {
				return
			}
			switch ev.Kind {
			case transport.PeerUp:
				n.pm.noteUp(ev.PeerID)
				n.emitPeerUp(ev.PeerID)
			case transport.PeerDown:
				for _, ch := range n.pm.noteDown(ev.PeerID) {
					select {
					case ch <- merr.ErrPeerDown:
					default:
					}
				}
				n.emitPeerDown(ev.PeerID)
			}
		}
	}
}

// runJitteredLoop fires fn every base interval, jittered by up to ±20% on
// each iteration, until ctx is cancelled. A fresh timer is scheduled after
// fn returns rather than using time.Ticker, so jitter varies per tick.
func (n *Node) runJitteredLoop(base time.Duration, fn func()) {
	defer n.wg.Done()
	for {
		t := time.NewTimer(jitter(base))
		select {
		case <-n.ctx.Done():
			t.Stop()
			return
		case <-t.C:
			fn()
		}
	}
}

func (n *Node) emitPeerUp(peerID string) {
	select {
	case n.onPeerUp <- peerID:
	default:
	}
}

func (n *Node) emitPeerDown(peerID string) {
	select {
	case n.onPeerDown <- peerID:
	default:
	}
}

func isIOError(err error) bool {
	return errors.Is(err, transport.ErrUnreachable)
}

func nonce() string {
	const alphabet = "0123456789abcdef"
	b := make([]byte, 8)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}
