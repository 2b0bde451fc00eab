package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &DB{db}, nil
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		fmt.Printf("Running migration: %s\n", filename)

		filePath := filepath.Join(migrationsDir, filename)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	fmt.Println("All migrations completed successfully")
	return nil
}

// ListLocations returns all tracked locations ordered by id
func (db *DB) ListLocations(ctx context.Context) ([]*Location, error) {
	query := `
		SELECT id, name, country, lat, lon, openweather_id, created_at
		FROM locations
		ORDER BY id
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []*Location
	for rows.Next() {
		var loc Location
		if err := rows.Scan(
			&loc.ID,
			&loc.Name,
			&loc.Country,
			&loc.Lat,
			&loc.Lon,
			&loc.OpenWeatherID,
			&loc.CreatedAt,
		); err != nil {
			return nil, err
		}
		locations = append(locations, &loc)
	}

	return locations, rows.Err()
}

// GetLocation retrieves a location by id, returning nil when not found
func (db *DB) GetLocation(ctx context.Context, id int64) (*Location, error) {
	query := `
		SELECT id, name, country, lat, lon, openweather_id, created_at
		FROM locations
		WHERE id = $1
	`

	var loc Location
	err := db.QueryRowContext(ctx, query, id).Scan(
		&loc.ID,
		&loc.Name,
		&loc.Country,
		&loc.Lat,
		&loc.Lon,
		&loc.OpenWeatherID,
		&loc.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &loc, nil
}

// GetLatestObservation returns the most recent observation for a location,
// or nil when the location has no observations yet
func (db *DB) GetLatestObservation(ctx context.Context, locationID int64) (*Observation, error) {
	query := `
		SELECT id, location_id, ts, temp_c, feels_like_c, humidity, pressure,
		       wind_speed, wind_deg, clouds, visibility, weather_main,
		       weather_description, raw_id, created_at
		FROM observations
		WHERE location_id = $1
		ORDER BY ts DESC
		LIMIT 1
	`

	var obs Observation
	err := db.QueryRowContext(ctx, query, locationID).Scan(
		&obs.ID,
		&obs.LocationID,
		&obs.Ts,
		&obs.TempC,
		&obs.FeelsLikeC,
		&obs.Humidity,
		&obs.Pressure,
		&obs.WindSpeed,
		&obs.WindDeg,
		&obs.Clouds,
		&obs.Visibility,
		&obs.Main,
		&obs.Desc,
		&obs.RawID,
		&obs.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &obs, nil
}

// LoadObservation persists a raw snapshot and upserts the derived observation
// as one transaction. The snapshot is always appended; the observation row for
// (location_id, ts) has its measurement fields and raw back-reference replaced
// when it already exists. On success snap.ID and obs.RawID are populated.
func (db *DB) LoadObservation(ctx context.Context, snap *RawSnapshot, obs *Observation) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertRaw := `
		INSERT INTO raw_snapshots (location_id, fetched_at, payload)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	if err := tx.QueryRowContext(ctx, insertRaw,
		snap.LocationID, snap.FetchedAt, snap.Payload,
	).Scan(&snap.ID); err != nil {
		return fmt.Errorf("failed to insert raw snapshot: %w", err)
	}

	obs.RawID = snap.ID

	// Explicit field-list upsert: only measurement fields and the raw
	// back-reference are replaced, never identity or audit columns.
	upsert := `
		INSERT INTO observations (
			location_id, ts, temp_c, feels_like_c, humidity, pressure,
			wind_speed, wind_deg, clouds, visibility, weather_main,
			weather_description, raw_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (location_id, ts) DO UPDATE
		SET temp_c = EXCLUDED.temp_c,
		    feels_like_c = EXCLUDED.feels_like_c,
		    humidity = EXCLUDED.humidity,
		    pressure = EXCLUDED.pressure,
		    wind_speed = EXCLUDED.wind_speed,
		    wind_deg = EXCLUDED.wind_deg,
		    clouds = EXCLUDED.clouds,
		    visibility = EXCLUDED.visibility,
		    weather_main = EXCLUDED.weather_main,
		    weather_description = EXCLUDED.weather_description,
		    raw_id = EXCLUDED.raw_id
		RETURNING id
	`
	if err := tx.QueryRowContext(ctx, upsert,
		obs.LocationID,
		obs.Ts,
		obs.TempC,
		obs.FeelsLikeC,
		obs.Humidity,
		obs.Pressure,
		obs.WindSpeed,
		obs.WindDeg,
		obs.Clouds,
		obs.Visibility,
		obs.Main,
		obs.Desc,
		obs.RawID,
	).Scan(&obs.ID); err != nil {
		return fmt.Errorf("failed to upsert observation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit load: %w", err)
	}

	return nil
}

// GetActiveAlertRules retrieves all active, unpaused rules for a location
func (db *DB) GetActiveAlertRules(ctx context.Context, locationID int64) ([]*AlertRule, error) {
	query := `
		SELECT id, user_id, location_id, metric, operator, threshold, unit,
		       active, paused, created_at
		FROM alert_rules
		WHERE location_id = $1 AND active = true AND paused = false
		ORDER BY id
	`

	rows, err := db.QueryContext(ctx, query, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*AlertRule
	for rows.Next() {
		var r AlertRule
		if err := rows.Scan(
			&r.ID,
			&r.UserID,
			&r.LocationID,
			&r.Metric,
			&r.Operator,
			&r.Threshold,
			&r.Unit,
			&r.Active,
			&r.Paused,
			&r.CreatedAt,
		); err != nil {
			return nil, err
		}
		rules = append(rules, &r)
	}

	return rules, rows.Err()
}

// InsertAlertActivation appends a new activation history row
func (db *DB) InsertAlertActivation(ctx context.Context, a *AlertActivation) error {
	query := `
		INSERT INTO alert_activations (
			rule_id, user_id, location_id, ts, metric, operator,
			threshold, observed_value
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`

	return db.QueryRowContext(ctx, query,
		a.RuleID,
		a.UserID,
		a.LocationID,
		a.Ts,
		a.Metric,
		a.Operator,
		a.Threshold,
		a.ObservedValue,
	).Scan(&a.ID, &a.CreatedAt)
}

// ListAlertActivations returns recent activation history for a user,
// newest first
func (db *DB) ListAlertActivations(ctx context.Context, userID int64, limit int) ([]*AlertActivation, error) {
	query := `
		SELECT id, rule_id, user_id, location_id, ts, metric, operator,
		       threshold, observed_value, created_at
		FROM alert_activations
		WHERE user_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`

	rows, err := db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activations []*AlertActivation
	for rows.Next() {
		var a AlertActivation
		if err := rows.Scan(
			&a.ID,
			&a.RuleID,
			&a.UserID,
			&a.LocationID,
			&a.Ts,
			&a.Metric,
			&a.Operator,
			&a.Threshold,
			&a.ObservedValue,
			&a.CreatedAt,
		); err != nil {
			return nil, err
		}
		activations = append(activations, &a)
	}

	return activations, rows.Err()
}

// CountLocations returns the number of tracked locations
func (db *DB) CountLocations(ctx context.Context) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM locations`).Scan(&count)
	return count, err
}

// CountLocationsWithFreshData returns how many locations have at least one
// observation at or after the given cutoff
func (db *DB) CountLocationsWithFreshData(ctx context.Context, since time.Time) (int, error) {
	query := `
		SELECT COUNT(DISTINCT location_id)
		FROM observations
		WHERE ts >= $1
	`

	var count int
	err := db.QueryRowContext(ctx, query, since).Scan(&count)
	return count, err
}
