package etl

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/weatherhub/weatherhub/internal/database"
)

// InvalidPayloadError indicates the provider payload is malformed or is
// missing required substructure
type InvalidPayloadError struct {
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("invalid provider payload: %s", e.Reason)
}

// snapshotPayload mirrors the OpenWeatherMap current-conditions response.
// Pointer fields distinguish absent values from zero readings.
type snapshotPayload struct {
	Dt   *int64 `json:"dt"`
	Main *struct {
		Temp      *float64 `json:"temp"`
		FeelsLike *float64 `json:"feels_like"`
		Humidity  *float64 `json:"humidity"`
		Pressure  *float64 `json:"pressure"`
	} `json:"main"`
	Wind *struct {
		Speed *float64 `json:"speed"`
		Deg   *float64 `json:"deg"`
	} `json:"wind"`
	Clouds *struct {
		All *float64 `json:"all"`
	} `json:"clouds"`
	Visibility *float64 `json:"visibility"`
	Weather    []struct {
		Main        *string `json:"main"`
		Description *string `json:"description"`
	} `json:"weather"`
}

// Normalize maps a raw provider payload into an observation for the
// location. Pure: no I/O, deterministic for a fixed now. The provider's
// observation time (dt, unix seconds) is used when present; otherwise now.
func Normalize(loc *database.Location, payload []byte, now time.Time) (*database.Observation, error) {
	var snap snapshotPayload
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, &InvalidPayloadError{Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}

	if snap.Main == nil {
		return nil, &InvalidPayloadError{Reason: "missing main substructure"}
	}

	ts := now.UTC()
	if snap.Dt != nil {
		ts = time.Unix(*snap.Dt, 0).UTC()
	}

	obs := &database.Observation{
		LocationID: loc.ID,
		Ts:         ts,
		TempC:      snap.Main.Temp,
		FeelsLikeC: snap.Main.FeelsLike,
		Humidity:   snap.Main.Humidity,
		Pressure:   snap.Main.Pressure,
		Visibility: snap.Visibility,
	}

	if snap.Wind != nil {
		obs.WindSpeed = snap.Wind.Speed
		obs.WindDeg = snap.Wind.Deg
	}
	if snap.Clouds != nil {
		obs.Clouds = snap.Clouds.All
	}
	if len(snap.Weather) > 0 {
		obs.Main = snap.Weather[0].Main
		obs.Desc = snap.Weather[0].Description
	}

	return obs, nil
}
