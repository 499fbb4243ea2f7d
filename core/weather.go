package core

import (
	"context"
	"fmt"
)

// Forecast is the daily weather and air quality outlook for one location.
type Forecast struct {
	Location   string `json:"location"`
	Date       string `json:"date"`
	Conditions string `json:"conditions"`
	MinTempC   int    `json:"min_temp_c"`
	MaxTempC   int    `json:"max_temp_c"`
	// RainChance is the probability of precipitation in percent.
	RainChance int `json:"rain_chance"`
	// AirQualityIndex follows the US AQI scale, 0 to 500.
	AirQualityIndex int    `json:"air_quality_index"`
	AirQuality      string `json:"air_quality"`
	Source          string `json:"source"`
}

// Describe renders the forecast as one line.
func (f Forecast) Describe() string {
	return fmt.Sprintf("%s on %s: %s, %d-%d°C, %d%% chance of rain, air quality %s (AQI %d)",
		f.Location, f.Date, f.Conditions, f.MinTempC, f.MaxTempC, f.RainChance, f.AirQuality, f.AirQualityIndex)
}

// AirQualityLevel maps a US AQI value to its category name.
func AirQualityLevel(aqi int) string {
	switch {
	case aqi <= 50:
		return "good"
	case aqi <= 100:
		return "moderate"
	case aqi <= 150:
		return "unhealthy for sensitive groups"
	case aqi <= 200:
		return "unhealthy"
	case aqi <= 300:
		return "very unhealthy"
	default:
		return "hazardous"
	}
}

// WeatherAdapter wraps one external weather source. Date is YYYY-MM-DD; an
// empty date means today.
type WeatherAdapter interface {
	Name() string
	Forecast(ctx context.Context, location, date string) (Forecast, error)
}
