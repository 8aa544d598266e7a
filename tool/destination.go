package tool

import (
	"math/rand"
	"time"
)

// destinations is the fixed list of vacation destinations the picker draws from.
var destinations = []string{
	"Garmisch-Partenkirchen, Germany",
	"Munich, Germany",
	"Barcelona, Spain",
	"Paris, France",
	"Berlin, Germany",
	"Tokyo, Japan",
	"Sydney, Australia",
	"New York, USA",
	"Cairo, Egypt",
	"Cape Town, South Africa",
	"Rio de Janeiro, Brazil",
	"Bali, Indonesia",
}

// NewRandomDestinationTool returns a tool picking a random vacation
// destination. The randomness source is injected so callers (and tests) can
// make the pick deterministic; a nil source falls back to a time-seeded one.
func NewRandomDestinationTool(r *rand.Rand) *FunctionTool {
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return NewFunctionTool(
		"get_random_destination",
		"Get a random vacation destination",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		func(_ *Context, _ map[string]any) (any, error) {
			return destinations[r.Intn(len(destinations))], nil
		},
	)
}
