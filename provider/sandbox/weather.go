package sandbox

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hupe1980/travelmesh/core"
)

var conditions = []string{"sunny", "partly cloudy", "overcast", "light rain", "thunderstorms", "humid and hazy"}

// Weather is a deterministic core.WeatherAdapter. Temperatures follow a
// rough seasonal curve for the northern hemisphere; the rest is hashed from
// location and date.
type Weather struct {
	clock func() time.Time
}

var _ core.WeatherAdapter = (*Weather)(nil)

// NewWeather creates a weather adapter. A nil clock defaults to time.Now.
func NewWeather(clock func() time.Time) *Weather {
	if clock == nil {
		clock = time.Now
	}
	return &Weather{clock: clock}
}

func (w *Weather) Name() string { return "sandbox-weather" }

// Forecast returns the outlook for location on date.
func (w *Weather) Forecast(ctx context.Context, location, date string) (core.Forecast, error) {
	if err := ctx.Err(); err != nil {
		return core.Forecast{}, err
	}
	location = strings.TrimSpace(location)
	if location == "" {
		return core.Forecast{}, errors.New("sandbox: location is required")
	}
	day := w.clock().UTC().Truncate(24 * time.Hour)
	if date != "" {
		d, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return core.Forecast{}, err
		}
		day = d
	}

	h := hash("weather", strings.ToLower(location), day.Format(time.DateOnly))
	// warmest in May, coolest in December/January
	season := []int{0, 2, 5, 8, 10, 8, 6, 5, 5, 4, 2, 0}[day.Month()-1]
	low := 14 + season + int(h%6)
	cond := conditions[(h>>8)%uint64(len(conditions))]
	rain := int((h >> 16) % 40)
	if strings.Contains(cond, "rain") || cond == "thunderstorms" {
		rain += 50
	}
	aqi := 20 + int((h>>24)%180)

	return core.Forecast{
		Location:        title(location),
		Date:            day.Format(time.DateOnly),
		Conditions:      cond,
		MinTempC:        low,
		MaxTempC:        low + 6 + int((h>>32)%6),
		RainChance:      rain,
		AirQualityIndex: aqi,
		AirQuality:      core.AirQualityLevel(aqi),
		Source:          w.Name(),
	}, nil
}
