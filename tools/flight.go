package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// FlightPriceToolName is the registered name of the flight-price tool.
const FlightPriceToolName = "check_flight_price"

// FlightPriceInfo is the structured flight ticket price payload produced by
// the flight-price tool and consumed by the chart stage.
type FlightPriceInfo struct {
	Departure   string  `json:"departure"`
	Destination string  `json:"destination"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
	Airline     string  `json:"airline,omitempty"`
	FlightClass string  `json:"flight_class,omitempty"`
}

// ParseFlightPriceInfo extracts a FlightPriceInfo from agent output. The
// output may be a bare JSON document or JSON embedded in surrounding text.
// Returns false when no well-formed flight payload with a positive price is
// present.
func ParseFlightPriceInfo(content string) (*FlightPriceInfo, bool) {
	try := func(s string) (*FlightPriceInfo, bool) {
		var info FlightPriceInfo
		if err := json.Unmarshal([]byte(s), &info); err != nil {
			return nil, false
		}
		if info.Departure == "" || info.Destination == "" || info.Price <= 0 {
			return nil, false
		}
		return &info, true
	}

	if info, ok := try(content); ok {
		return info, true
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return try(content[start : end+1])
	}
	return nil, false
}

// FlightLookup resolves a departure/destination pair to price information.
// The default lookup serves static demo data; production deployments swap in
// a real fare source.
type FlightLookup func(ctx context.Context, departure, destination string) (*FlightPriceInfo, error)

// staticFlightLookup returns the demo fare for any route.
func staticFlightLookup(_ context.Context, departure, destination string) (*FlightPriceInfo, error) {
	return &FlightPriceInfo{
		Departure:   departure,
		Destination: destination,
		Price:       350.0,
		Currency:    "USD",
		Airline:     "Air China",
		FlightClass: "Economy",
	}, nil
}

// FlightPriceTool checks flight ticket prices between two locations.
type FlightPriceTool struct {
	lookup FlightLookup
}

// NewFlightPriceTool creates the flight-price tool with the static demo
// lookup.
func NewFlightPriceTool() *FlightPriceTool {
	return NewFlightPriceToolWithLookup(staticFlightLookup)
}

// NewFlightPriceToolWithLookup creates the flight-price tool with a custom
// fare source.
func NewFlightPriceToolWithLookup(lookup FlightLookup) *FlightPriceTool {
	return &FlightPriceTool{lookup: lookup}
}

// Name returns the tool name.
func (t *FlightPriceTool) Name() string { return FlightPriceToolName }

// Description returns the tool description.
func (t *FlightPriceTool) Description() string {
	return "Check flight ticket prices between two locations"
}

// Schema returns the declared input contract.
func (t *FlightPriceTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"origin": map[string]interface{}{
				"type":        "string",
				"description": "The departure city or airport code",
			},
			"destination": map[string]interface{}{
				"type":        "string",
				"description": "The destination city or airport code",
			},
		},
		"required":             []string{"origin", "destination"},
		"additionalProperties": false,
	}
}

// Execute looks up the fare for the requested route.
func (t *FlightPriceTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	origin, _ := args["origin"].(string)
	destination, _ := args["destination"].(string)

	origin = strings.TrimSpace(origin)
	destination = strings.TrimSpace(destination)
	if origin == "" {
		return nil, fmt.Errorf("departure location cannot be empty")
	}
	if destination == "" {
		return nil, fmt.Errorf("destination location cannot be empty")
	}

	info, err := t.lookup(ctx, origin, destination)
	if err != nil {
		return nil, fmt.Errorf("failed to query flight price: %w", err)
	}
	return info, nil
}
