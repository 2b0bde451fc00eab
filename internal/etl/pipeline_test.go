package etl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/weatherhub/weatherhub/internal/database"
)

// fakeStore upserts observations on (location, ts) like the real store
type fakeStore struct {
	mu           sync.Mutex
	snapshots    []*database.RawSnapshot
	observations map[string]*database.Observation
	loadErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{observations: make(map[string]*database.Observation)}
}

func obsKey(locationID int64, ts time.Time) string {
	return fmt.Sprintf("%d:%d", locationID, ts.Unix())
}

func (f *fakeStore) GetLatestObservation(ctx context.Context, locationID int64) (*database.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var latest *database.Observation
	for _, obs := range f.observations {
		if obs.LocationID != locationID {
			continue
		}
		if latest == nil || obs.Ts.After(latest.Ts) {
			latest = obs
		}
	}
	return latest, nil
}

func (f *fakeStore) LoadObservation(ctx context.Context, snap *database.RawSnapshot, obs *database.Observation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.loadErr != nil {
		return f.loadErr
	}

	snap.ID = int64(len(f.snapshots) + 1)
	f.snapshots = append(f.snapshots, snap)
	obs.RawID = snap.ID
	f.observations[obsKey(obs.LocationID, obs.Ts)] = obs
	return nil
}

type fakeFetcher struct {
	mu      sync.Mutex
	payload []byte
	err     error
	calls   int
}

func (f *fakeFetcher) Fetch(ctx context.Context, loc *database.Location) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.payload, f.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEvaluator struct {
	activations int
	err         error
	evaluated   int
}

func (f *fakeEvaluator) EvaluateAll(ctx context.Context, loc *database.Location, obs *database.Observation) (int, error) {
	f.evaluated++
	return f.activations, f.err
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[int64]time.Time
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[int64]time.Time)}
}

func (m *memoryCache) GetLatestTimestamp(ctx context.Context, locationID int64) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.entries[locationID]
	return ts, ok, nil
}

func (m *memoryCache) SetLatestTimestamp(ctx context.Context, locationID int64, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[locationID] = ts
	return nil
}

func payloadWithDt(dt int64, temp float64) []byte {
	return []byte(fmt.Sprintf(`{"dt": %d, "main": {"temp": %g, "humidity": 50}}`, dt, temp))
}

func testLocation() *database.Location {
	return &database.Location{ID: 1, Name: "Madrid"}
}

func TestPipeline_SuccessfulRun(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{payload: payloadWithDt(time.Now().Unix(), 22)}
	evaluator := &fakeEvaluator{activations: 2}
	p := NewPipeline(store, fetcher, evaluator, newMemoryCache(), time.Hour)

	result := p.Run(context.Background(), testLocation(), false)

	if result.Status != RunSuccess {
		t.Fatalf("Expected success, got %s (err=%v)", result.Status, result.Err)
	}
	if result.RawSnapshotID == 0 {
		t.Error("Expected raw snapshot id to be set")
	}
	if result.Activations != 2 {
		t.Errorf("Expected 2 activations, got %d", result.Activations)
	}
	if len(store.snapshots) != 1 || len(store.observations) != 1 {
		t.Errorf("Expected 1 snapshot and 1 observation, got %d and %d",
			len(store.snapshots), len(store.observations))
	}
}

func TestPipeline_IdempotentUpsert(t *testing.T) {
	dt := time.Now().Unix()
	store := newFakeStore()
	fetcher := &fakeFetcher{payload: payloadWithDt(dt, 20)}
	p := NewPipeline(store, fetcher, &fakeEvaluator{}, nil, time.Hour)
	loc := testLocation()

	if r := p.Run(context.Background(), loc, true); r.Status != RunSuccess {
		t.Fatalf("First run failed: %v", r.Err)
	}

	// Second forced run for the same timestamp with different readings
	fetcher.payload = payloadWithDt(dt, 25)
	if r := p.Run(context.Background(), loc, true); r.Status != RunSuccess {
		t.Fatalf("Second run failed: %v", r.Err)
	}

	if len(store.observations) != 1 {
		t.Fatalf("Expected exactly 1 observation row, got %d", len(store.observations))
	}
	if len(store.snapshots) != 2 {
		t.Errorf("Expected 2 raw snapshots (always appended), got %d", len(store.snapshots))
	}

	obs := store.observations[obsKey(loc.ID, time.Unix(dt, 0).UTC())]
	if obs == nil || obs.TempC == nil || *obs.TempC != 25 {
		t.Errorf("Expected observation fields from the second load, got %+v", obs)
	}
	if obs.RawID != 2 {
		t.Errorf("Expected raw back-reference to the second snapshot, got %d", obs.RawID)
	}
}

func TestPipeline_FreshnessSkip(t *testing.T) {
	store := newFakeStore()
	recent := time.Now().Add(-10 * time.Minute).UTC()
	store.observations[obsKey(1, recent)] = &database.Observation{LocationID: 1, Ts: recent}

	fetcher := &fakeFetcher{payload: payloadWithDt(time.Now().Unix(), 22)}
	evaluator := &fakeEvaluator{}
	p := NewPipeline(store, fetcher, evaluator, newMemoryCache(), time.Hour)

	result := p.Run(context.Background(), testLocation(), false)

	if result.Status != RunSkipped {
		t.Fatalf("Expected skipped, got %s", result.Status)
	}
	if fetcher.callCount() != 0 {
		t.Error("Skipped run must not call the provider")
	}
	if evaluator.evaluated != 0 {
		t.Error("Skipped run must not evaluate alerts")
	}
}

func TestPipeline_ForceRefreshAlwaysFetches(t *testing.T) {
	store := newFakeStore()
	recent := time.Now().Add(-10 * time.Minute).UTC()
	store.observations[obsKey(1, recent)] = &database.Observation{LocationID: 1, Ts: recent}

	fetcher := &fakeFetcher{payload: payloadWithDt(time.Now().Unix(), 22)}
	p := NewPipeline(store, fetcher, &fakeEvaluator{}, newMemoryCache(), time.Hour)

	result := p.Run(context.Background(), testLocation(), true)

	if result.Status != RunSuccess {
		t.Fatalf("Expected success, got %s (err=%v)", result.Status, result.Err)
	}
	if fetcher.callCount() != 1 {
		t.Errorf("Expected exactly 1 provider call, got %d", fetcher.callCount())
	}
}

func TestPipeline_StaleDataIsRefetched(t *testing.T) {
	store := newFakeStore()
	stale := time.Now().Add(-2 * time.Hour).UTC()
	store.observations[obsKey(1, stale)] = &database.Observation{LocationID: 1, Ts: stale}

	fetcher := &fakeFetcher{payload: payloadWithDt(time.Now().Unix(), 22)}
	p := NewPipeline(store, fetcher, &fakeEvaluator{}, newMemoryCache(), time.Hour)

	result := p.Run(context.Background(), testLocation(), false)

	if result.Status != RunSuccess {
		t.Fatalf("Expected success, got %s (err=%v)", result.Status, result.Err)
	}
	if fetcher.callCount() != 1 {
		t.Errorf("Expected 1 provider call for stale data, got %d", fetcher.callCount())
	}
}

func TestPipeline_FetchFailureAbortsRun(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	evaluator := &fakeEvaluator{}
	p := NewPipeline(store, fetcher, evaluator, nil, time.Hour)

	result := p.Run(context.Background(), testLocation(), false)

	if result.Status != RunError {
		t.Fatalf("Expected error status, got %s", result.Status)
	}
	if result.Err == nil {
		t.Fatal("Expected originating error to be reported")
	}
	if len(store.snapshots) != 0 {
		t.Error("Failed fetch must not persist anything")
	}
	if evaluator.evaluated != 0 {
		t.Error("Failed fetch must not evaluate alerts")
	}
}

func TestPipeline_LoadFailureAbortsRun(t *testing.T) {
	store := newFakeStore()
	store.loadErr = errors.New("connection lost")
	fetcher := &fakeFetcher{payload: payloadWithDt(time.Now().Unix(), 22)}
	evaluator := &fakeEvaluator{}
	p := NewPipeline(store, fetcher, evaluator, nil, time.Hour)

	result := p.Run(context.Background(), testLocation(), false)

	if result.Status != RunError {
		t.Fatalf("Expected error status, got %s", result.Status)
	}
	var loadErr *LoadError
	if !errors.As(result.Err, &loadErr) {
		t.Errorf("Expected LoadError, got %v", result.Err)
	}
	if evaluator.evaluated != 0 {
		t.Error("Failed load must not evaluate alerts")
	}
}

func TestPipeline_InvalidPayloadAbortsRun(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{payload: []byte(`{"wind": {}}`)}
	p := NewPipeline(store, fetcher, &fakeEvaluator{}, nil, time.Hour)

	result := p.Run(context.Background(), testLocation(), false)

	if result.Status != RunError {
		t.Fatalf("Expected error status, got %s", result.Status)
	}
	var invalid *InvalidPayloadError
	if !errors.As(result.Err, &invalid) {
		t.Errorf("Expected InvalidPayloadError, got %v", result.Err)
	}
	if len(store.snapshots) != 0 {
		t.Error("Invalid payload must not persist anything")
	}
}

func TestPipeline_CacheUpdatedAfterLoad(t *testing.T) {
	dt := time.Now().Unix()
	store := newFakeStore()
	fetcher := &fakeFetcher{payload: payloadWithDt(dt, 22)}
	memCache := newMemoryCache()
	p := NewPipeline(store, fetcher, &fakeEvaluator{}, memCache, time.Hour)

	if r := p.Run(context.Background(), testLocation(), false); r.Status != RunSuccess {
		t.Fatalf("Run failed: %v", r.Err)
	}

	ts, ok, _ := memCache.GetLatestTimestamp(context.Background(), 1)
	if !ok {
		t.Fatal("Expected cache entry after successful load")
	}
	if !ts.Equal(time.Unix(dt, 0).UTC()) {
		t.Errorf("Expected cached ts %d, got %s", dt, ts)
	}

	// The cached timestamp now satisfies the freshness check by itself
	result := p.Run(context.Background(), testLocation(), false)
	if result.Status != RunSkipped {
		t.Errorf("Expected skipped via cache, got %s", result.Status)
	}
	if fetcher.callCount() != 1 {
		t.Errorf("Expected no second provider call, got %d", fetcher.callCount())
	}
}
