package database

import (
	"time"
)

// Location represents a tracked weather location. The catalog is owned by
// the API layer; the ingestion core only reads it.
type Location struct {
	ID            int64
	Name          string
	Country       *string
	Lat           *float64
	Lon           *float64
	OpenWeatherID *int64
	CreatedAt     time.Time
}

// RawSnapshot is one provider response stored verbatim for audit/replay
type RawSnapshot struct {
	ID         int64
	LocationID int64
	FetchedAt  time.Time
	Payload    string // JSON as text
}

// Observation is the normalized hourly weather record derived from a snapshot.
// Nil pointers mean the provider did not report the field; zero is a valid
// reading for several metrics and must not be conflated with absence.
type Observation struct {
	ID         int64
	LocationID int64
	Ts         time.Time
	TempC      *float64
	FeelsLikeC *float64
	Humidity   *float64
	Pressure   *float64
	WindSpeed  *float64
	WindDeg    *float64
	Clouds     *float64
	Visibility *float64
	Main       *string
	Desc       *string
	RawID      int64
	CreatedAt  time.Time
}

// AlertRule is a user-defined threshold rule for one location
type AlertRule struct {
	ID         int64
	UserID     int64
	LocationID int64
	Metric     string
	Operator   string
	Threshold  float64
	Unit       *string // c, f or k; temperature rules only
	Active     bool
	Paused     bool
	CreatedAt  time.Time
}

// AlertActivation is one row of activation history. Append-only; user and
// location ids are denormalized for fast history queries.
type AlertActivation struct {
	ID            int64
	RuleID        int64
	UserID        int64
	LocationID    int64
	Ts            time.Time
	Metric        string
	Operator      string
	Threshold     float64
	ObservedValue float64
	CreatedAt     time.Time
}

// Metric names accepted in alert rules
const (
	MetricTemperature = "temp"
	MetricHumidity    = "humidity"
	MetricWind        = "wind"
	MetricPressure    = "pressure"
	MetricClouds      = "clouds"
	MetricVisibility  = "visibility"
)

// Comparison operators accepted in alert rules
const (
	OpGreaterThan  = ">"
	OpLessThan     = "<"
	OpEqual        = "="
	OpGreaterEqual = ">="
	OpLessEqual    = "<="
)

// Temperature units accepted in alert rules
const (
	UnitCelsius    = "c"
	UnitFahrenheit = "f"
	UnitKelvin     = "k"
)
