package etl

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/weatherhub/weatherhub/internal/database"
)

// Store is the observation persistence contract consumed by the pipeline
type Store interface {
	GetLatestObservation(ctx context.Context, locationID int64) (*database.Observation, error)
	LoadObservation(ctx context.Context, snap *database.RawSnapshot, obs *database.Observation) error
}

// Fetcher retrieves one raw provider snapshot for a location
type Fetcher interface {
	Fetch(ctx context.Context, loc *database.Location) ([]byte, error)
}

// Evaluator evaluates all alert rules for a location against an observation
// and returns the number of activations recorded
type Evaluator interface {
	EvaluateAll(ctx context.Context, loc *database.Location, obs *database.Observation) (int, error)
}

// LatestCache is a fast path for the freshness check. Implementations are
// best effort; the pipeline falls back to the store on a miss.
type LatestCache interface {
	GetLatestTimestamp(ctx context.Context, locationID int64) (time.Time, bool, error)
	SetLatestTimestamp(ctx context.Context, locationID int64, ts time.Time) error
}

// RunStatus is the outcome of one pipeline run
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunSkipped RunStatus = "skipped"
	RunError   RunStatus = "error"
)

// RunResult reports the outcome of one pipeline run for one location
type RunResult struct {
	RunID         string
	LocationID    int64
	Status        RunStatus
	Timestamp     time.Time
	RawSnapshotID int64
	Activations   int
	Err           error
}

// Pipeline runs fetch -> normalize -> load -> evaluate for one location.
// It is the unit of retry and error isolation: any stage failure aborts the
// run for that location and nothing partial becomes visible.
type Pipeline struct {
	store     Store
	fetcher   Fetcher
	evaluator Evaluator
	cache     LatestCache
	freshness time.Duration
}

// NewPipeline creates a new ingestion pipeline
func NewPipeline(store Store, fetcher Fetcher, evaluator Evaluator, cache LatestCache, freshness time.Duration) *Pipeline {
	return &Pipeline{
		store:     store,
		fetcher:   fetcher,
		evaluator: evaluator,
		cache:     cache,
		freshness: freshness,
	}
}

// Run executes the pipeline for one location. Unless force is set, a
// location whose latest observation is within the freshness window is
// skipped without calling the provider.
func (p *Pipeline) Run(ctx context.Context, loc *database.Location, force bool) *RunResult {
	result := &RunResult{
		RunID:      uuid.New().String(),
		LocationID: loc.ID,
	}

	if !force {
		fresh, ts, err := p.isFresh(ctx, loc.ID)
		if err != nil {
			result.Status = RunError
			result.Err = err
			return result
		}
		if fresh {
			log.Printf("Fresh data for location %d (ts=%s), skipping ingestion", loc.ID, ts.Format(time.RFC3339))
			result.Status = RunSkipped
			result.Timestamp = ts
			return result
		}
	}

	payload, err := p.fetcher.Fetch(ctx, loc)
	if err != nil {
		result.Status = RunError
		result.Err = err
		return result
	}

	obs, err := Normalize(loc, payload, time.Now())
	if err != nil {
		result.Status = RunError
		result.Err = err
		return result
	}

	loaded, err := p.load(ctx, loc, payload, obs)
	if err != nil {
		result.Status = RunError
		result.Err = err
		return result
	}
	result.Timestamp = loaded.Timestamp
	result.RawSnapshotID = loaded.RawSnapshotID

	if p.cache != nil {
		if err := p.cache.SetLatestTimestamp(ctx, loc.ID, loaded.Timestamp); err != nil {
			log.Printf("Failed to update latest-observation cache for location %d: %v", loc.ID, err)
		}
	}

	activations, err := p.evaluator.EvaluateAll(ctx, loc, obs)
	if err != nil {
		result.Status = RunError
		result.Err = err
		return result
	}
	result.Activations = activations

	result.Status = RunSuccess
	return result
}

// isFresh reports whether the location's latest observation falls within the
// freshness window. The cache is consulted first; cache errors degrade to a
// store lookup.
func (p *Pipeline) isFresh(ctx context.Context, locationID int64) (bool, time.Time, error) {
	cutoff := time.Now().Add(-p.freshness)

	if p.cache != nil {
		ts, ok, err := p.cache.GetLatestTimestamp(ctx, locationID)
		if err != nil {
			log.Printf("Latest-observation cache lookup failed for location %d: %v", locationID, err)
		} else if ok && ts.After(cutoff) {
			return true, ts, nil
		}
	}

	latest, err := p.store.GetLatestObservation(ctx, locationID)
	if err != nil {
		return false, time.Time{}, &LoadError{Err: err}
	}
	if latest == nil {
		return false, time.Time{}, nil
	}

	if p.cache != nil {
		if err := p.cache.SetLatestTimestamp(ctx, locationID, latest.Ts); err != nil {
			log.Printf("Failed to update latest-observation cache for location %d: %v", locationID, err)
		}
	}

	return latest.Ts.After(cutoff), latest.Ts, nil
}
