package roster

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Source fetches the roster from the external system.
type Source interface {
	FetchRoster(ctx context.Context) (*Payload, error)
}

// Writer replaces the durable roster row and returns it as stored.
type Writer interface {
	ReplaceRoster(ctx context.Context, p Payload) (*Snapshot, error)
}

type State int32

const (
	StateIdle State = iota
	StatePolling
	StateUpdating
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateUpdating:
		return "updating"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type SyncConfig struct {
	Interval    time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Grace       time.Duration
}

// Status is a point-in-time view of the synchronizer for operators.
type Status struct {
	State               string    `json:"state"`
	LastHash            string    `json:"last_hash,omitempty"`
	LastSuccessAt       time.Time `json:"last_success_at,omitempty"`
	LastChangeAt        time.Time `json:"last_change_at,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Synchronizer keeps the durable roster row and the cache in step with the source.
type Synchronizer struct {
	source Source
	writer Writer
	cache  *Cache
	cfg    SyncConfig

	state atomic.Int32

	// cycleMu serializes fetch-compare-write cycles between the loop and
	// manual runs.
	cycleMu sync.Mutex

	mu         sync.Mutex
	lastHash   string
	lastOK     time.Time
	lastChange time.Time
	failures   int

	runMu  sync.Mutex
	stop   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSynchronizer(source Source, writer Writer, cache *Cache, cfg SyncConfig) *Synchronizer {
	return &Synchronizer{
		source: source,
		writer: writer,
		cache:  cache,
		cfg:    cfg,
	}
}

func (s *Synchronizer) State() State {
	return State(s.state.Load())
}

func (s *Synchronizer) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.runningLocked()
}

func (s *Synchronizer) runningLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Start launches the polling loop. Starting a running synchronizer is a no-op.
// The loop keeps ctx's values but not its cancellation: Stop is the only way
// to end it.
func (s *Synchronizer) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.runningLocked() {
		log.Println("sync: already running")
		return
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stop = make(chan struct{})
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(runCtx, s.stop, s.done)
	log.Println("sync: started")
}

// Stop asks the loop to exit at its next wait. If it has not exited within the
// grace period, its context is cancelled and Stop waits for it to finish.
func (s *Synchronizer) Stop(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.runningLocked() {
		return
	}

	log.Println("sync: stopping")
	close(s.stop)

	grace := time.NewTimer(s.cfg.Grace)
	defer grace.Stop()
	select {
	case <-s.done:
	case <-grace.C:
		log.Println("sync: did not stop within grace period, cancelling")
		s.cancel()
		<-s.done
	case <-ctx.Done():
		s.cancel()
		<-s.done
	}
	s.cancel()
	log.Println("sync: stopped")
}

func (s *Synchronizer) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer s.state.Store(int32(StateStopped))

	for {
		wait := s.cfg.Interval
		if _, err := s.SyncOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			wait = s.backoff()
			log.Printf("sync: cycle failed, retrying in %s: %v", wait, err)
		}

		s.state.Store(int32(StateSleeping))
		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// SyncOnce runs a single fetch-compare-write cycle and reports whether the
// durable roster changed.
func (s *Synchronizer) SyncOnce(ctx context.Context) (bool, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	prev := s.State()
	if prev != StatePolling && prev != StateUpdating {
		defer func() {
			if !s.state.CompareAndSwap(int32(StatePolling), int32(prev)) {
				s.state.CompareAndSwap(int32(StateUpdating), int32(prev))
			}
		}()
	}
	s.state.Store(int32(StatePolling))

	payload, err := s.source.FetchRoster(ctx)
	if err != nil {
		s.recordFailure()
		return false, fmt.Errorf("fetch roster: %w", err)
	}
	if payload == nil {
		s.recordFailure()
		return false, fmt.Errorf("fetch roster: %w: empty payload", ErrMalformed)
	}
	if err := payload.Validate(); err != nil {
		s.recordFailure()
		return false, err
	}

	normalized := payload.Normalize()
	hash := normalized.Hash()

	s.mu.Lock()
	unchanged := hash == s.lastHash
	s.mu.Unlock()
	if unchanged {
		s.recordSuccess("", false)
		return false, nil
	}

	s.state.Store(int32(StateUpdating))
	snap, err := s.writer.ReplaceRoster(ctx, normalized)
	if err != nil {
		s.recordFailure()
		return false, fmt.Errorf("replace roster: %w", err)
	}
	if s.cache != nil {
		s.cache.Replace(snap)
	}
	s.recordSuccess(hash, true)
	log.Printf("sync: roster updated (%d ids, total_participants=%d, total_amount=%d)",
		len(normalized.ParticipantIDs), normalized.TotalParticipants, normalized.TotalAmount)
	return true, nil
}

func (s *Synchronizer) recordFailure() {
	s.mu.Lock()
	s.failures++
	s.mu.Unlock()
}

func (s *Synchronizer) recordSuccess(hash string, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.failures = 0
	s.lastOK = now
	if changed {
		s.lastHash = hash
		s.lastChange = now
	}
}

// backoff doubles the base delay per consecutive failure, capped at BackoffMax.
func (s *Synchronizer) backoff() time.Duration {
	s.mu.Lock()
	n := s.failures
	s.mu.Unlock()
	return backoffDelay(s.cfg.BackoffBase, s.cfg.BackoffMax, n)
}

func backoffDelay(base, ceiling time.Duration, failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return min(d, ceiling)
}

// Prime records the hash of an already stored roster so an unchanged source
// is not written again.
func (s *Synchronizer) Prime(snap *Snapshot) {
	if snap == nil {
		return
	}
	hash := snap.Payload().Hash()
	s.mu.Lock()
	s.lastHash = hash
	s.mu.Unlock()
}

func (s *Synchronizer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:               s.State().String(),
		LastHash:            s.lastHash,
		LastSuccessAt:       s.lastOK,
		LastChangeAt:        s.lastChange,
		ConsecutiveFailures: s.failures,
	}
}
