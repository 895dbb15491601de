package roster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	results []sourceResult
	calls   int
	block   chan struct{}
}

type sourceResult struct {
	payload *Payload
	err     error
}

func (f *fakeSource) FetchRoster(ctx context.Context) (*Payload, error) {
	f.mu.Lock()
	f.calls++
	var r sourceResult
	if len(f.results) > 0 {
		r = f.results[0]
		if len(f.results) > 1 {
			f.results = f.results[1:]
		}
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.payload, r.err
}

func (f *fakeSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeWriter struct {
	mu     sync.Mutex
	writes []Payload
	err    error
	paid   []string
}

func (f *fakeWriter) ReplaceRoster(ctx context.Context, p Payload) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.writes = append(f.writes, p)
	return &Snapshot{
		TotalParticipants: p.TotalParticipants,
		TotalAmount:       p.TotalAmount,
		ParticipantIDs:    p.ParticipantIDs,
		PaidIDs:           f.paid,
	}, nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

var testSyncConfig = SyncConfig{
	Interval:    5 * time.Millisecond,
	BackoffBase: time.Millisecond,
	BackoffMax:  4 * time.Millisecond,
	Grace:       50 * time.Millisecond,
}

func TestSyncOnce_WritesOnlyOnChange(t *testing.T) {
	src := &fakeSource{results: []sourceResult{
		{payload: &Payload{ParticipantIDs: []string{"@alice ", "bob"}, TotalParticipants: 2, TotalAmount: 100}},
		{payload: &Payload{ParticipantIDs: []string{"alice", "bob"}, TotalParticipants: 2, TotalAmount: 100}},
		{payload: &Payload{ParticipantIDs: []string{"alice", "bob", "carol"}, TotalParticipants: 3, TotalAmount: 100}},
	}}
	w := &fakeWriter{paid: []string{"alice"}}
	cache := NewCache(&fakeLoader{snap: &Snapshot{}}, time.Hour)
	s := NewSynchronizer(src, w, cache, testSyncConfig)
	ctx := context.Background()

	changed, err := s.SyncOnce(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"alice", "bob"}, w.writes[0].ParticipantIDs)

	// Same content after normalization.
	changed, err = s.SyncOnce(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.SyncOnce(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, w.count())

	snap, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.TotalParticipants)
	assert.True(t, snap.HasPaid("alice"), "paid set comes from the stored row")
}

func TestSyncOnce_MalformedIsDiscarded(t *testing.T) {
	src := &fakeSource{results: []sourceResult{{payload: &Payload{TotalParticipants: 2}}}}
	w := &fakeWriter{}
	s := NewSynchronizer(src, w, nil, testSyncConfig)

	_, err := s.SyncOnce(context.Background())
	assert.True(t, errors.Is(err, ErrMalformed))
	assert.Equal(t, 0, w.count())
	assert.Equal(t, 1, s.Status().ConsecutiveFailures)
}

func TestSyncOnce_WriteFailureRetriesSameContent(t *testing.T) {
	p := &Payload{ParticipantIDs: []string{"alice"}, TotalParticipants: 1, TotalAmount: 10}
	src := &fakeSource{results: []sourceResult{{payload: p}}}
	w := &fakeWriter{err: errors.New("connection reset")}
	s := NewSynchronizer(src, w, nil, testSyncConfig)
	ctx := context.Background()

	_, err := s.SyncOnce(ctx)
	require.Error(t, err)

	w.mu.Lock()
	w.err = nil
	w.mu.Unlock()

	changed, err := s.SyncOnce(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 0, s.Status().ConsecutiveFailures)
}

func TestBackoffDelay(t *testing.T) {
	base := 5 * time.Second
	ceiling := 60 * time.Second
	assert.Equal(t, 5*time.Second, backoffDelay(base, ceiling, 0))
	assert.Equal(t, 5*time.Second, backoffDelay(base, ceiling, 1))
	assert.Equal(t, 10*time.Second, backoffDelay(base, ceiling, 2))
	assert.Equal(t, 20*time.Second, backoffDelay(base, ceiling, 3))
	assert.Equal(t, 40*time.Second, backoffDelay(base, ceiling, 4))
	assert.Equal(t, 60*time.Second, backoffDelay(base, ceiling, 5))
	assert.Equal(t, 60*time.Second, backoffDelay(base, ceiling, 50))
}

func TestSynchronizer_LoopSurvivesErrors(t *testing.T) {
	src := &fakeSource{results: []sourceResult{
		{err: errors.New("503 from source")},
		{err: errors.New("503 from source")},
		{payload: &Payload{ParticipantIDs: []string{"alice"}, TotalParticipants: 1, TotalAmount: 10}},
	}}
	w := &fakeWriter{}
	s := NewSynchronizer(src, w, nil, testSyncConfig)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return w.count() == 1 }, 2*time.Second, time.Millisecond)
	s.Stop(context.Background())

	assert.Equal(t, StateStopped, s.State())
	assert.False(t, s.Running())
	assert.GreaterOrEqual(t, src.count(), 3)
}

func TestSynchronizer_StartIsIdempotent(t *testing.T) {
	src := &fakeSource{results: []sourceResult{{payload: &Payload{ParticipantIDs: []string{}, TotalParticipants: 0}}}}
	s := NewSynchronizer(src, &fakeWriter{}, nil, testSyncConfig)
	ctx := context.Background()

	s.Start(ctx)
	done := s.done
	s.Start(ctx)
	assert.Equal(t, done, s.done)
	s.Stop(ctx)

	// Stopping twice is harmless too.
	s.Stop(ctx)
}

func TestSynchronizer_StopCancelsAfterGrace(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	src := &fakeSource{block: block}
	s := NewSynchronizer(src, &fakeWriter{}, nil, testSyncConfig)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return src.count() == 1 }, time.Second, time.Millisecond)

	started := time.Now()
	s.Stop(context.Background())
	assert.GreaterOrEqual(t, time.Since(started), testSyncConfig.Grace)
	assert.False(t, s.Running())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "sleeping", StateSleeping.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestSyncOnce_ManualRunRestoresState(t *testing.T) {
	src := &fakeSource{results: []sourceResult{
		{payload: &Payload{ParticipantIDs: []string{"alice"}, TotalParticipants: 1, TotalAmount: 10}},
	}}
	s := NewSynchronizer(src, &fakeWriter{}, nil, testSyncConfig)

	_, err := s.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, s.State())

	s.state.Store(int32(StateSleeping))
	_, err = s.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSleeping, s.State())
	assert.Equal(t, 0, s.Status().ConsecutiveFailures)
}

func TestSynchronizer_StopWaitsForInFlightFetchAfterParentCancel(t *testing.T) {
	block := make(chan struct{})
	src := &fakeSource{
		results: []sourceResult{{payload: &Payload{ParticipantIDs: []string{"alice"}, TotalParticipants: 1, TotalAmount: 10}}},
		block:   block,
	}
	w := &fakeWriter{}
	cfg := testSyncConfig
	cfg.Interval = time.Hour
	cfg.Grace = 5 * time.Second
	s := NewSynchronizer(src, w, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	require.Eventually(t, func() bool { return src.count() == 1 }, time.Second, time.Millisecond)

	// A cancelled parent does not abort the running cycle.
	cancel()
	time.Sleep(10 * time.Millisecond)
	assert.True(t, s.Running())

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(block)
	}()
	started := time.Now()
	s.Stop(context.Background())

	assert.Less(t, time.Since(started), cfg.Grace)
	assert.Equal(t, 1, w.count(), "in-flight cycle completes its write")
	assert.False(t, s.Running())
}

func TestPrime_SkipsUnchangedStoredRoster(t *testing.T) {
	p := &Payload{ParticipantIDs: []string{"alice", "bob"}, TotalParticipants: 2, TotalAmount: 100}
	src := &fakeSource{results: []sourceResult{{payload: p}}}
	w := &fakeWriter{}
	s := NewSynchronizer(src, w, nil, testSyncConfig)

	s.Prime(&Snapshot{ParticipantIDs: []string{"@alice", "bob"}, TotalParticipants: 2, TotalAmount: 100, PaidIDs: []string{"bob"}})
	changed, err := s.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Zero(t, w.count())

	s.Prime(nil)
	assert.Equal(t, p.Hash(), s.Status().LastHash)
}
