package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/weatherhub/weatherhub/internal/database"
	"github.com/weatherhub/weatherhub/internal/etl"
)

type fakeLocationStore struct {
	locations []*database.Location
	listErr   error
}

func (f *fakeLocationStore) ListLocations(ctx context.Context) ([]*database.Location, error) {
	return f.locations, f.listErr
}

func (f *fakeLocationStore) GetLocation(ctx context.Context, id int64) (*database.Location, error) {
	for _, loc := range f.locations {
		if loc.ID == id {
			return loc, nil
		}
	}
	return nil, nil
}

func (f *fakeLocationStore) CountLocations(ctx context.Context) (int, error) {
	return len(f.locations), nil
}

func (f *fakeLocationStore) CountLocationsWithFreshData(ctx context.Context, since time.Time) (int, error) {
	return 1, nil
}

// fakeRunner fails configured locations and can block on a gate channel to
// hold runs in flight
type fakeRunner struct {
	mu      sync.Mutex
	failIDs map[int64]bool
	skipIDs map[int64]bool
	gate    chan struct{}
	runs    []int64
}

func (f *fakeRunner) Run(ctx context.Context, loc *database.Location, force bool) *etl.RunResult {
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	f.runs = append(f.runs, loc.ID)
	f.mu.Unlock()

	result := &etl.RunResult{LocationID: loc.ID}
	switch {
	case f.failIDs[loc.ID]:
		result.Status = etl.RunError
		result.Err = errors.New("provider unavailable")
	case f.skipIDs[loc.ID]:
		result.Status = etl.RunSkipped
	default:
		result.Status = etl.RunSuccess
	}
	return result
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func twoLocations() *fakeLocationStore {
	return &fakeLocationStore{locations: []*database.Location{
		{ID: 1, Name: "Madrid"},
		{ID: 2, Name: "Lisbon"},
	}}
}

func TestRunAll_SweepIsolation(t *testing.T) {
	store := twoLocations()
	runner := &fakeRunner{failIDs: map[int64]bool{1: true}}
	s := New(store, runner, time.Hour, 2, 2*time.Hour)

	result, err := s.RunAll(context.Background(), false)
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}

	if result.Total != 2 {
		t.Errorf("Expected total 2, got %d", result.Total)
	}
	if result.Processed != 1 {
		t.Errorf("Expected 1 processed, got %d", result.Processed)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Expected 1 error, got %d", len(result.Errors))
	}
	if runner.runCount() != 2 {
		t.Errorf("Expected both locations attempted, got %d runs", runner.runCount())
	}
}

func TestRunAll_CountsSkips(t *testing.T) {
	store := twoLocations()
	runner := &fakeRunner{skipIDs: map[int64]bool{2: true}}
	s := New(store, runner, time.Hour, 1, 2*time.Hour)

	result, err := s.RunAll(context.Background(), false)
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}

	if result.Processed != 1 || result.Skipped != 1 {
		t.Errorf("Expected processed=1 skipped=1, got processed=%d skipped=%d",
			result.Processed, result.Skipped)
	}
}

func TestRunAll_SweepsAreMutuallyExclusive(t *testing.T) {
	store := twoLocations()
	runner := &fakeRunner{gate: make(chan struct{})}
	s := New(store, runner, time.Hour, 1, 2*time.Hour)

	firstDone := make(chan struct{})
	go func() {
		s.RunAll(context.Background(), false)
		close(firstDone)
	}()

	// Wait for the first sweep to be in progress
	time.Sleep(50 * time.Millisecond)

	_, err := s.RunAll(context.Background(), false)
	if err != ErrSweepInProgress {
		t.Errorf("Expected ErrSweepInProgress, got %v", err)
	}

	close(runner.gate)
	<-firstDone

	// After completion a new sweep is accepted
	if _, err := s.RunAll(context.Background(), false); err != nil {
		t.Errorf("Expected sweep to be accepted after completion, got %v", err)
	}
}

func TestRunFor_SingleFlightPerLocation(t *testing.T) {
	store := twoLocations()
	runner := &fakeRunner{gate: make(chan struct{})}
	s := New(store, runner, time.Hour, 2, 2*time.Hour)

	firstDone := make(chan struct{})
	go func() {
		s.RunFor(context.Background(), 1, true)
		close(firstDone)
	}()

	time.Sleep(50 * time.Millisecond)

	// Second concurrent run for the same location is rejected
	_, err := s.RunFor(context.Background(), 1, true)
	if err != ErrRunInFlight {
		t.Errorf("Expected ErrRunInFlight, got %v", err)
	}

	// A different location is not affected
	done := make(chan struct{})
	go func() {
		if _, err := s.RunFor(context.Background(), 2, true); err != nil {
			t.Errorf("RunFor other location failed: %v", err)
		}
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	close(runner.gate)
	<-firstDone
	<-done

	if runner.runCount() != 2 {
		t.Errorf("Expected 2 runs, got %d", runner.runCount())
	}
}

func TestRunFor_UnknownLocation(t *testing.T) {
	s := New(twoLocations(), &fakeRunner{}, time.Hour, 1, 2*time.Hour)

	if _, err := s.RunFor(context.Background(), 99, false); err == nil {
		t.Error("Expected error for unknown location")
	}
}

func TestScheduler_StopIsPrompt(t *testing.T) {
	s := New(twoLocations(), &fakeRunner{}, 24*time.Hour, 1, 2*time.Hour)
	s.Start()

	stopped := make(chan struct{})
	go func() {
		s.Stop(5 * time.Second)
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return promptly")
	}

	if _, err := s.RunAll(context.Background(), false); err != ErrStopped {
		t.Errorf("Expected ErrStopped after shutdown, got %v", err)
	}
	if _, err := s.RunFor(context.Background(), 1, false); err != ErrStopped {
		t.Errorf("Expected ErrStopped after shutdown, got %v", err)
	}
}

func TestScheduler_StopGraceElapses(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{})}
	s := New(twoLocations(), runner, time.Hour, 1, 2*time.Hour)

	go s.RunAll(context.Background(), false)
	time.Sleep(50 * time.Millisecond)

	// In-flight run never finishes; Stop must return after the grace period
	start := time.Now()
	s.Stop(100 * time.Millisecond)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop blocked for %s, expected bounded grace", elapsed)
	}

	close(runner.gate)
}

func TestScheduler_Status(t *testing.T) {
	store := twoLocations()
	s := New(store, &fakeRunner{}, time.Hour, 1, 2*time.Hour)

	status, err := s.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != StateIdle {
		t.Errorf("Expected IDLE, got %s", status.State)
	}
	if status.TotalLocations != 2 {
		t.Errorf("Expected 2 locations, got %d", status.TotalLocations)
	}
	if !status.LastSweepTime.IsZero() {
		t.Error("Expected zero last sweep time before any sweep")
	}

	if _, err := s.RunAll(context.Background(), false); err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}

	status, err = s.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.LastSweepTime.IsZero() {
		t.Error("Expected last sweep time to be recorded")
	}
}
