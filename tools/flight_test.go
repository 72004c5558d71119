package tools

import (
	"context"
	"fmt"
	"testing"
)

func TestFlightPriceToolExecute(t *testing.T) {
	tool := NewFlightPriceTool()

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"origin":      "Beijing",
		"destination": "Tokyo",
	})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	info, ok := result.(*FlightPriceInfo)
	if !ok {
		t.Fatalf("result type = %T, want *FlightPriceInfo", result)
	}
	if info.Departure != "Beijing" || info.Destination != "Tokyo" {
		t.Errorf("route = %s -> %s", info.Departure, info.Destination)
	}
	if info.Price != 350.0 || info.Currency != "USD" {
		t.Errorf("fare = %.2f %s, want 350.00 USD", info.Price, info.Currency)
	}
	if info.Airline != "Air China" || info.FlightClass != "Economy" {
		t.Errorf("carrier = %s/%s", info.Airline, info.FlightClass)
	}
}

func TestFlightPriceToolRejectsBlankLocations(t *testing.T) {
	tool := NewFlightPriceTool()

	cases := []map[string]interface{}{
		{"origin": "", "destination": "Tokyo"},
		{"origin": "   ", "destination": "Tokyo"},
		{"origin": "Beijing", "destination": ""},
		{"origin": "Beijing", "destination": "  "},
	}
	for _, args := range cases {
		if _, err := tool.Execute(context.Background(), args); err == nil {
			t.Errorf("Execute(%v): expected error", args)
		}
	}
}

func TestFlightPriceToolLookupError(t *testing.T) {
	tool := NewFlightPriceToolWithLookup(func(context.Context, string, string) (*FlightPriceInfo, error) {
		return nil, fmt.Errorf("fare source down")
	})

	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"origin":      "Beijing",
		"destination": "Tokyo",
	})
	if err == nil {
		t.Fatal("expected lookup error to propagate")
	}
}

func TestParseFlightPriceInfo(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{
			name:    "bare json",
			content: `{"departure":"Beijing","destination":"Tokyo","price":350,"currency":"USD"}`,
			want:    true,
		},
		{
			name:    "json embedded in prose",
			content: "Here is the fare I found:\n{\"departure\":\"Beijing\",\"destination\":\"Tokyo\",\"price\":350,\"currency\":\"USD\"}\nLet me know if you need more.",
			want:    true,
		},
		{
			name:    "plain text",
			content: "I could not determine the flight price.",
			want:    false,
		},
		{
			name:    "missing departure",
			content: `{"destination":"Tokyo","price":350}`,
			want:    false,
		},
		{
			name:    "zero price",
			content: `{"departure":"Beijing","destination":"Tokyo","price":0}`,
			want:    false,
		},
		{
			name:    "negative price",
			content: `{"departure":"Beijing","destination":"Tokyo","price":-5}`,
			want:    false,
		},
		{
			name:    "malformed json",
			content: `{"departure":"Beijing","destination":`,
			want:    false,
		},
		{
			name:    "empty",
			content: "",
			want:    false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, ok := ParseFlightPriceInfo(tt.content)
			if ok != tt.want {
				t.Fatalf("ParseFlightPriceInfo() ok = %v, want %v", ok, tt.want)
			}
			if ok && (info.Departure == "" || info.Price <= 0) {
				t.Errorf("parsed payload is incomplete: %+v", info)
			}
		})
	}
}
