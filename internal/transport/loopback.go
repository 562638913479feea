package transport

import (
	"context"
	"sync"
	"time"
)

// Loopback is an in-process Adapter used by every test in this repo and by
// simulation tooling: peers are wired together by registering each other's
// inbound channel, with no real network involved.
//
// Grounded on the registry.connect Send/Recv shape (buffered channel,
// timeout-bounded enqueue, sync.Once close): each peer-to-peer link is one
// buffered channel, and Send blocks up to the caller's timeout for space
// rather than failing fast on a momentarily full buffer.
type Loopback struct {
	selfID string

	mu      sync.RWMutex
	peers   map[string]*Loopback // peerID -> adapter, registered via Link
	active  map[string]bool
	closeCh chan struct{}
	once    sync.Once

	peerEvents chan PeerEvent
	incoming   chan Frame
}

// NewLoopback creates an unstarted Loopback adapter for selfID.
func NewLoopback(selfID string) *Loopback {
	return &Loopback{
		selfID:     selfID,
		peers:      make(map[string]*Loopback),
		active:     make(map[string]bool),
		closeCh:    make(chan struct{}),
		peerEvents: make(chan PeerEvent, 64),
		incoming:   make(chan Frame, 256),
	}
}

// Link introduces two Loopback adapters to each other as mutually reachable
// peers. Call before Start; it is not safe to Link after either side has
// stopped.
func Link(a, b *Loopback) {
	a.mu.Lock()
	a.peers[b.selfID] = b
	a.mu.Unlock()

	b.mu.Lock()
	b.peers[a.selfID] = a
	b.mu.Unlock()
}

// Unlink tears down reachability between a and b, emitting a PeerDown event
// on each side — used to simulate churn (spec.md S6).
func Unlink(a, b *Loopback) {
	a.mu.Lock()
	delete(a.peers, b.selfID)
	wasActive := a.active[b.selfID]
	delete(a.active, b.selfID)
	a.mu.Unlock()
	if wasActive {
		a.emitPeerEvent(PeerEvent{Kind: PeerDown, PeerID: b.selfID})
	}

	b.mu.Lock()
	delete(b.peers, a.selfID)
	wasActive = b.active[a.selfID]
	delete(b.active, a.selfID)
	b.mu.Unlock()
	if wasActive {
		b.emitPeerEvent(PeerEvent{Kind: PeerDown, PeerID: a.selfID})
	}
}

// Start marks every already-linked peer active and emits PeerUp for each.
// Only Start marks peers active: a Link made after Start is not reported by
// Peers() and Send to that peer returns ErrUnreachable.
func (l *Loopback) Start(ctx context.Context) error {
	l.mu.Lock()
	for id := range l.peers {
		l.active[id] = true
	}
	ids := make([]string, 0, len(l.active))
	for id := range l.active {
		ids = append(ids, id)
	}
	l.mu.Unlock()

	for _, id := range ids {
		l.emitPeerEvent(PeerEvent{Kind: PeerUp, PeerID: id})
	}
	return nil
}

// Stop closes the adapter's streams. Safe to call more than once.
func (l *Loopback) Stop() error {
	l.once.Do(func() {
		close(l.closeCh)
		close(l.peerEvents)
		close(l.incoming)
	})
	return nil
}

// Peers returns a snapshot of currently active peer ids.
func (l *Loopback) Peers() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.active))
	for id, up := range l.active {
		if up {
			out = append(out, id)
		}
	}
	return out
}

func (l *Loopback) PeerEvents() <-chan PeerEvent { return l.peerEvents }
func (l *Loopback) Incoming() <-chan Frame       { return l.incoming }

func (l *Loopback) emitPeerEvent(ev PeerEvent) {
	select {
	case <-l.closeCh:
	case l.peerEvents <- ev:
	}
}

// Send delivers data to peerID's Incoming channel. Unreachable if peerID is
// not currently active; ErrSendTimeout if the peer's buffer stays full for
// the whole timeout window, mirroring the registry.connect backpressure
// handling (minus its priority-eviction policy, which has no analogue in
// this wire protocol).
func (l *Loopback) Send(ctx context.Context, peerID string, data []byte, timeout time.Duration) error {
	l.mu.RLock()
	peer, ok := l.peers[peerID]
	up := l.active[peerID]
	l.mu.RUnlock()
	if !ok || !up {
		return ErrUnreachable
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	frame := Frame{PeerID: l.selfID, Data: data}
	select {
	case peer.incoming <- frame:
		return nil
	case <-peer.closeCh:
		return ErrUnreachable
	case <-cctx.Done():
		return ErrSendTimeout
	}
}
