package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/weatherhub/weatherhub/internal/database"
)

// LoadError indicates a persistence failure during the load stage; the
// transaction has been rolled back and nothing is visible to readers.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load failed: %v", e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadResult reports what the load stage persisted
type LoadResult struct {
	Timestamp     time.Time
	RawSnapshotID int64
}

// load persists the raw payload and upserts the observation as one atomic
// unit. The snapshot is always appended, even when the observation row for
// (location, timestamp) already exists and is overwritten.
func (p *Pipeline) load(ctx context.Context, loc *database.Location, payload []byte, obs *database.Observation) (*LoadResult, error) {
	snap := &database.RawSnapshot{
		LocationID: loc.ID,
		FetchedAt:  time.Now().UTC(),
		Payload:    string(payload),
	}

	if err := p.store.LoadObservation(ctx, snap, obs); err != nil {
		return nil, &LoadError{Err: err}
	}

	return &LoadResult{
		Timestamp:     obs.Ts,
		RawSnapshotID: snap.ID,
	}, nil
}
