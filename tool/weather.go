package tool

import (
	"fmt"
	"math/rand"
)

// WeatherOptions configure NewWeatherTool.
type WeatherOptions struct {
	// FailureRate in [0,1] makes the tool fail randomly, simulating an
	// unreliable upstream weather API. Zero disables simulated failures.
	FailureRate float64
	// Rand drives the failure simulation. Nil with a zero FailureRate is fine.
	Rand *rand.Rand
}

// NewWeatherTool returns a tool producing a canned weather description for a
// location. With a non-zero failure rate it occasionally returns an
// EXECUTION_ERROR, exercising the session's tool error path the way a real
// weather API would.
func NewWeatherTool(optFns ...func(o *WeatherOptions)) *FunctionTool {
	opts := WeatherOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	return NewFunctionTool(
		"get_weather",
		"Get the weather for a given location",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{
					"type":        "string",
					"description": "The location to get the weather for",
				},
			},
			"required": []string{"location"},
		},
		func(_ *Context, args map[string]any) (any, error) {
			location, _ := args["location"].(string)

			if opts.FailureRate > 0 && opts.Rand != nil && opts.Rand.Float64() < opts.FailureRate {
				return nil, fmt.Errorf("weather service is currently unavailable, please try again later")
			}

			return fmt.Sprintf("The weather in %s is cloudy with a high of 15°C.", location), nil
		},
	)
}
