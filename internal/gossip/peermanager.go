package gossip

import (
	"math/rand"
	"sync"
	"time"
)

// peerManager is the single-writer actor owning every piece of mutable
// per-peer bookkeeping a Node needs: admission, attempt/backoff counters,
// last-contact times for anti-entropy targeting, and the correlation table
// pairing outstanding requests to their rid.
//
// Grounded on the teacher's exponential-backoff retry loop
// (internal/cluster/replication.go's replicateWithRetryAndResponse) for the
// attempt/backoff shape, generalized from "retry one HTTP call inline" to
// "track attempts per peer across rounds and gate admission."
type peerManager struct {
	mu sync.Mutex

	cfg Config

	active      map[string]time.Time // peerID -> lastContactTime
	pending     map[string]struct{}  // peerID -> in-flight round
	attempts    map[string]int       // peerID -> consecutive failed attempts
	nextAllowed map[string]time.Time // peerID -> earliest time a new attempt is allowed

	correlations map[string]*correlation // rid -> pending request awaiting delivery
}

// correlation pairs an outstanding request's delivery channel with the peer
// it was sent to, so a peer-down event can find every rid waiting on that
// peer without parsing the rid string.
type correlation struct {
	peerID string
	ch     chan any
}

func newPeerManager(cfg Config) *peerManager {
	return &peerManager{
		cfg:          cfg,
		active:       make(map[string]time.Time),
		pending:      make(map[string]struct{}),
		attempts:     make(map[string]int),
		nextAllowed:  make(map[string]time.Time),
		correlations: make(map[string]*correlation),
	}
}

// noteUp marks peerID reachable, clearing its backoff state.
func (pm *peerManager) noteUp(peerID string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.active[peerID] = time.Now()
	pm.attempts[peerID] = 0
	delete(pm.nextAllowed, peerID)
}

// noteDown marks peerID unreachable and returns the delivery channel of
// every pending correlation that was waiting on it, so the caller can fail
// them with ErrPeerDown — the design's per-peer cancellation rule.
func (pm *peerManager) noteDown(peerID string) []chan any {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.active, peerID)
	delete(pm.pending, peerID)

	var waiters []chan any
	for rid, c := range pm.correlations {
		if c.peerID == peerID {
			waiters = append(waiters, c.ch)
			delete(pm.correlations, rid)
		}
	}
	return waiters
}

// isActive reports whether peerID is currently tracked as reachable.
func (pm *peerManager) isActive(peerID string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	_, ok := pm.active[peerID]
	return ok
}

// activePeers returns a snapshot of currently reachable peer ids.
func (pm *peerManager) activePeers() []string {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]string, 0, len(pm.active))
	for id := range pm.active {
		out = append(out, id)
	}
	return out
}

// stalestPeer returns the active peer with the oldest lastContactTime, used
// to target anti-entropy sweeps. Returns ("", false) if no peers are active.
func (pm *peerManager) stalestPeer() (string, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	var (
		stalest string
		oldest  time.Time
		found   bool
	)
	for id, t := range pm.active {
		if !found || t.Before(oldest) {
			stalest, oldest, found = id, t, true
		}
	}
	return stalest, found
}

// selectFanout picks up to n distinct active peers uniformly at random.
func (pm *peerManager) selectFanout(n int) []string {
	pm.mu.Lock()
	all := make([]string, 0, len(pm.active))
	for id := range pm.active {
		all = append(all, id)
	}
	pm.mu.Unlock()

	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// admit reports whether a new round with peerID may start: it must not
// already be pending, must not be inside its backoff window, and must not push the
// engine past maxConcurrentPeers total (active+pending).
func (pm *peerManager) admit(peerID string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, inFlight := pm.pending[peerID]; inFlight {
		return false
	}
	if until, backingOff := pm.nextAllowed[peerID]; backingOff && time.Now().Before(until) {
		return false
	}
	if len(pm.active)+len(pm.pending) >= pm.cfg.MaxConcurrentPeers {
		return false
	}
	pm.pending[peerID] = struct{}{}
	return true
}

// release ends the in-flight round for peerID, recording success or
// failure. On failure, attempts increments and backoff is scheduled:
// 2s * 2^attempt, jittered, per spec §4.6; ioError requests the longer
// "≥3s * attempt" backoff the design reserves for transport-level I/O
// failures.
func (pm *peerManager) release(peerID string, success bool, ioError bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	delete(pm.pending, peerID)
	if success {
		pm.active[peerID] = time.Now()
		pm.attempts[peerID] = 0
		delete(pm.nextAllowed, peerID)
		return
	}

	pm.attempts[peerID]++
	attempt := pm.attempts[peerID]
	var base time.Duration
	if ioError {
		base = time.Duration(3*attempt) * time.Second
	} else {
		base = time.Duration(2) * time.Second * (1 << uint(min(attempt, 10)))
	}
	pm.nextAllowed[peerID] = time.Now().Add(jitter(base))

	if attempt >= pm.cfg.MaxConnectionAttempts {
		delete(pm.active, peerID)
	}
}

// registerCorrelation creates a delivery channel for rid, tagged with the
// peer it was sent to, and returns the channel. The caller is responsible
// for eventually calling unregisterCorrelation.
func (pm *peerManager) registerCorrelation(rid, peerID string) chan any {
	ch := make(chan any, 1)
	pm.mu.Lock()
	pm.correlations[rid] = &correlation{peerID: peerID, ch: ch}
	pm.mu.Unlock()
	return ch
}

func (pm *peerManager) unregisterCorrelation(rid string) {
	pm.mu.Lock()
	delete(pm.correlations, rid)
	pm.mu.Unlock()
}

// deliver routes an inbound response/ack frame to whichever goroutine is
// waiting on its rid. Returns false if nothing is waiting (e.g. the round
// already timed out and gave up).
func (pm *peerManager) deliver(rid string, frame any) bool {
	pm.mu.Lock()
	c, ok := pm.correlations[rid]
	pm.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case c.ch <- frame:
		return true
	default:
		return false
	}
}

// drainAll returns the delivery channel of every outstanding correlation
// and clears the table — used by Stop to unblock every pending round with
// ErrShutdown.
func (pm *peerManager) drainAll() []chan any {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]chan any, 0, len(pm.correlations))
	for rid, c := range pm.correlations {
		out = append(out, c.ch)
		delete(pm.correlations, rid)
	}
	return out
}

// jitter returns d adjusted by up to ±20%, matching every timer in
// spec §4.6.
func jitter(d time.Duration) time.Duration {
	delta := float64(d) * 0.2
	offset := (rand.Float64()*2 - 1) * delta
	return d + time.Duration(offset)
}
