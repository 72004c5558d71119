package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// ChartToolName is the registered name of the chart-generation tool.
const ChartToolName = "generate_chart"

// ChartResult is the payload produced by the chart tool: a rendered markdown
// table plus a chart URL the caller can embed.
type ChartResult struct {
	ChartURL      string `json:"chart_url"`
	TableMarkdown string `json:"table_markdown"`
}

// ChartTool renders flight price data as a table and a chart URL. Rendering
// is deterministic: identical arguments always produce identical output.
type ChartTool struct{}

// NewChartTool creates the local chart-generation tool.
func NewChartTool() *ChartTool {
	return &ChartTool{}
}

// Name returns the tool name.
func (t *ChartTool) Name() string { return ChartToolName }

// Description returns the tool description.
func (t *ChartTool) Description() string {
	return "Generate a table and chart from flight price information"
}

// Schema returns the declared input contract.
func (t *ChartTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"departure": map[string]interface{}{
				"type":        "string",
				"description": "The departure city or airport code",
			},
			"destination": map[string]interface{}{
				"type":        "string",
				"description": "The destination city or airport code",
			},
			"price": map[string]interface{}{
				"type":        "number",
				"description": "The ticket price",
			},
			"currency": map[string]interface{}{
				"type":        "string",
				"description": "The currency of the price",
			},
			"airline": map[string]interface{}{
				"type":        "string",
				"description": "The airline company",
			},
			"flight_class": map[string]interface{}{
				"type":        "string",
				"description": "Economy, Business, or First class",
			},
		},
		"required": []string{"departure", "destination", "price"},
	}
}

// Execute renders the chart and table for the given flight data.
func (t *ChartTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	departure, _ := args["departure"].(string)
	destination, _ := args["destination"].(string)
	price, ok := args["price"].(float64)
	if !ok || price <= 0 {
		return nil, fmt.Errorf("price must be a positive number")
	}
	currency, _ := args["currency"].(string)
	if currency == "" {
		currency = "USD"
	}
	airline, _ := args["airline"].(string)
	flightClass, _ := args["flight_class"].(string)

	var table strings.Builder
	table.WriteString("| Departure | Destination | Price | Airline | Class |\n")
	table.WriteString("|---|---|---|---|---|\n")
	fmt.Fprintf(&table, "| %s | %s | %.2f %s | %s | %s |\n",
		departure, destination, price, currency, orDash(airline), orDash(flightClass))

	chartURL, err := buildChartURL(departure, destination, price, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to build chart url: %w", err)
	}

	return &ChartResult{
		ChartURL:      chartURL,
		TableMarkdown: table.String(),
	}, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// buildChartURL encodes a bar-chart definition for the QuickChart rendering
// service.
func buildChartURL(departure, destination string, price float64, currency string) (string, error) {
	cfg := map[string]interface{}{
		"type": "bar",
		"data": map[string]interface{}{
			"labels": []string{fmt.Sprintf("%s → %s", departure, destination)},
			"datasets": []map[string]interface{}{
				{
					"label": fmt.Sprintf("Price (%s)", currency),
					"data":  []float64{price},
				},
			},
		},
	}
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}

	v := url.Values{}
	v.Set("c", string(encoded))
	return "https://quickchart.io/chart?" + v.Encode(), nil
}
