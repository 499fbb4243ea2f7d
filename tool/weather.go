package tool

import (
	"errors"
	"fmt"

	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/internal/util"
)

type weatherArgs struct {
	Location string `json:"location" format:"location" description:"City name or IATA code"`
	Date     string `json:"date,omitempty" format:"date" description:"Day of the forecast, YYYY-MM-DD; defaults to today"`
}

// NewWeatherTool returns get_weather backed by adapters, tried in order. The
// result is a core.Forecast.
func NewWeatherTool(adapters ...core.WeatherAdapter) (Tool, error) {
	if len(adapters) == 0 {
		return nil, fmt.Errorf("weather tool: no adapters")
	}
	return NewFunctionToolFromStruct(core.ToolGetWeather,
		"Get the weather forecast and air quality for a place on a day.",
		weatherArgs{},
		func(tc *ToolContext, args map[string]any) (any, error) {
			location, date := util.StringArg(args, "location"), util.StringArg(args, "date")
			var errs []error
			for _, a := range adapters {
				f, err := a.Forecast(tc.Context(), location, date)
				if err == nil {
					return f, nil
				}
				tc.Logger().Warn("tool.weather.adapter_failed", "adapter", a.Name(), "error", err.Error())
				errs = append(errs, fmt.Errorf("%s: %w", a.Name(), err))
				if tc.Context().Err() != nil {
					break
				}
			}
			return nil, errors.Join(errs...)
		}), nil
}
