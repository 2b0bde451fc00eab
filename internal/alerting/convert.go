package alerting

import "github.com/weatherhub/weatherhub/internal/database"

// ToFahrenheit converts a Celsius reading to Fahrenheit
func ToFahrenheit(tempC float64) float64 {
	return tempC*9/5 + 32
}

// ToKelvin converts a Celsius reading to Kelvin
func ToKelvin(tempC float64) float64 {
	return tempC + 273.15
}

// ConvertTemperature converts a Celsius reading to the given rule unit.
// An empty or unknown unit falls back to Celsius.
func ConvertTemperature(tempC float64, unit string) float64 {
	switch unit {
	case database.UnitFahrenheit:
		return ToFahrenheit(tempC)
	case database.UnitKelvin:
		return ToKelvin(tempC)
	default:
		return tempC
	}
}
