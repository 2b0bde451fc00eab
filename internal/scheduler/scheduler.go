package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weatherhub/weatherhub/internal/database"
	"github.com/weatherhub/weatherhub/internal/etl"
)

// State of the scheduler
type State string

const (
	StateIdle    State = "IDLE"
	StateRunning State = "RUNNING"
	StateStopped State = "STOPPED"
)

// LocationStore is the location catalog contract consumed by the scheduler
type LocationStore interface {
	ListLocations(ctx context.Context) ([]*database.Location, error)
	GetLocation(ctx context.Context, id int64) (*database.Location, error)
	CountLocations(ctx context.Context) (int, error)
	CountLocationsWithFreshData(ctx context.Context, since time.Time) (int, error)
}

// Runner executes the ingestion pipeline for one location
type Runner interface {
	Run(ctx context.Context, loc *database.Location, force bool) *etl.RunResult
}

// SweepResult reports one scheduler pass across all locations
type SweepResult struct {
	SweepID   string
	Total     int
	Processed int
	Skipped   int
	Errors    []string
	StartedAt time.Time
	Duration  time.Duration
}

// Status is the scheduler's view for the API layer
type Status struct {
	State                  State
	TotalLocations         int
	LocationsWithFreshData int
	LastSweepTime          time.Time // zero when no sweep has completed yet
}

// Scheduler drives the ingestion pipeline across all tracked locations, on a
// fixed interval or on demand. Sweeps never overlap, whether timer-driven or
// manual, and no two pipeline runs for the same location run concurrently.
type Scheduler struct {
	store        LocationStore
	pipeline     Runner
	interval     time.Duration
	workers      int
	freshHorizon time.Duration

	mu        sync.Mutex
	state     State
	sweeping  bool
	lastSweep time.Time
	inflight  map[int64]struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new scheduler with injected dependencies
func New(store LocationStore, pipeline Runner, interval time.Duration, workers int, freshHorizon time.Duration) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		store:        store,
		pipeline:     pipeline,
		interval:     interval,
		workers:      workers,
		freshHorizon: freshHorizon,
		state:        StateIdle,
		inflight:     make(map[int64]struct{}),
		stopCh:       make(chan struct{}),
	}
}

// Start launches the background sweep loop
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop()
}

// Stop signals the scheduler to stop accepting new sweeps and waits for
// in-flight work up to the grace period, then returns regardless.
func (s *Scheduler) Stop(grace time.Duration) {
	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopCh) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		log.Printf("Shutdown grace period elapsed with work still in flight")
	}
}

// loop waits for the interval or a stop signal, whichever comes first. The
// timer rearms only after the previous sweep completes.
func (s *Scheduler) loop() {
	defer s.wg.Done()

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
			result, err := s.RunAll(context.Background(), false)
			if err != nil {
				log.Printf("Scheduled sweep not started: %v", err)
			} else {
				log.Printf("Sweep %s completed: processed=%d skipped=%d errors=%d duration=%s",
					result.SweepID, result.Processed, result.Skipped, len(result.Errors), result.Duration)
			}
			timer.Reset(s.interval)
		}
	}
}

// RunAll performs one sweep across all locations. Only one sweep runs at a
// time; a second request while one is in progress returns ErrSweepInProgress.
func (s *Scheduler) RunAll(ctx context.Context, force bool) (*SweepResult, error) {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	if s.sweeping {
		s.mu.Unlock()
		return nil, ErrSweepInProgress
	}
	s.sweeping = true
	s.state = StateRunning
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sweeping = false
		if s.state == StateRunning {
			s.state = StateIdle
		}
		s.lastSweep = time.Now()
		s.mu.Unlock()
		s.wg.Done()
	}()

	return s.sweep(ctx, force), nil
}

// RunFor performs one on-demand pipeline run for a single location. A second
// concurrent run for the same location is rejected with ErrRunInFlight.
func (s *Scheduler) RunFor(ctx context.Context, locationID int64, force bool) (*etl.RunResult, error) {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	loc, err := s.store.GetLocation(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get location: %w", err)
	}
	if loc == nil {
		return nil, fmt.Errorf("location %d not found", locationID)
	}

	if !s.acquire(locationID) {
		return nil, ErrRunInFlight
	}
	defer s.release(locationID)

	return s.pipeline.Run(ctx, loc, force), nil
}

// Status reports the scheduler state and data freshness counters
func (s *Scheduler) Status(ctx context.Context) (*Status, error) {
	total, err := s.store.CountLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count locations: %w", err)
	}

	fresh, err := s.store.CountLocationsWithFreshData(ctx, time.Now().Add(-s.freshHorizon))
	if err != nil {
		return nil, fmt.Errorf("failed to count fresh locations: %w", err)
	}

	s.mu.Lock()
	state := s.state
	if state == StateIdle && s.sweeping {
		state = StateRunning
	}
	lastSweep := s.lastSweep
	s.mu.Unlock()

	return &Status{
		State:                  state,
		TotalLocations:         total,
		LocationsWithFreshData: fresh,
		LastSweepTime:          lastSweep,
	}, nil
}

// sweep fans locations out to a bounded worker pool and aggregates per
// location outcomes. A location's failure never aborts the sweep.
func (s *Scheduler) sweep(ctx context.Context, force bool) *SweepResult {
	result := &SweepResult{
		SweepID:   uuid.New().String(),
		StartedAt: time.Now(),
	}

	locations, err := s.store.ListLocations(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to list locations: %v", err))
		result.Duration = time.Since(result.StartedAt)
		return result
	}
	result.Total = len(locations)

	jobs := make(chan *database.Location)
	var resultMu sync.Mutex
	var workerWg sync.WaitGroup

	for i := 0; i < s.workers; i++ {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			for loc := range jobs {
				run := s.runLocation(ctx, loc, force)

				resultMu.Lock()
				switch {
				case run.Err != nil:
					result.Errors = append(result.Errors,
						fmt.Sprintf("location %d (%s): %v", loc.ID, loc.Name, run.Err))
				case run.Status == etl.RunSkipped:
					result.Skipped++
				default:
					result.Processed++
				}
				resultMu.Unlock()
			}
		}()
	}

feed:
	for _, loc := range locations {
		select {
		case jobs <- loc:
		case <-s.stopCh:
			// Stop requested mid-sweep: stop feeding, let in-flight runs finish
			break feed
		}
	}
	close(jobs)
	workerWg.Wait()

	result.Duration = time.Since(result.StartedAt)
	return result
}

// runLocation runs the pipeline under per-location single-flight. The guard
// also covers manual RunFor calls racing a timer-driven sweep.
func (s *Scheduler) runLocation(ctx context.Context, loc *database.Location, force bool) *etl.RunResult {
	if !s.acquire(loc.ID) {
		return &etl.RunResult{LocationID: loc.ID, Status: etl.RunError, Err: ErrRunInFlight}
	}
	defer s.release(loc.ID)

	return s.pipeline.Run(ctx, loc, force)
}

func (s *Scheduler) acquire(locationID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inflight[locationID]; busy {
		return false
	}
	s.inflight[locationID] = struct{}{}
	return true
}

func (s *Scheduler) release(locationID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, locationID)
}

var (
	ErrStopped         = &SchedulerError{"scheduler is stopped"}
	ErrSweepInProgress = &SchedulerError{"sweep already in progress"}
	ErrRunInFlight     = &SchedulerError{"ingestion already in flight for location"}
)

// SchedulerError represents a scheduler error
type SchedulerError struct {
	msg string
}

func (e *SchedulerError) Error() string {
	return e.msg
}
