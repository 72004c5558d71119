package agent

import "github.com/xiaot623/flightcopilot/tools"

// FlightAgentConfig returns the configuration for the flight-price stage.
// The agent is restricted to the flight-price tool and instructed to emit a
// structured JSON payload the chart stage can inspect.
func FlightAgentConfig() Config {
	return Config{
		Name: "FlightPriceAgent",
		Instructions: `You are a flight price assistant. Help users check flight ticket prices between different locations.

When the user asks about a flight price:
1. Call the check_flight_price tool with the origin and destination.
2. Reply with the flight information as a single JSON object with the fields:
   departure, destination, price, currency, airline, flight_class.

If the price cannot be obtained, reply in plain text explaining that the
query could not be completed. Do not invent prices.`,
		Tools: []string{tools.FlightPriceToolName},
	}
}

// ChartAgentConfig returns the configuration for the chart-generation stage.
// The agent is restricted to the chart tool.
func ChartAgentConfig() Config {
	return Config{
		Name: "ChartGeneratorAgent",
		Instructions: `You are a chart generation assistant.

When you receive flight price information in JSON format:
1. Parse the JSON data (departure, destination, price, currency, airline, flight_class).
2. You MUST call the generate_chart tool with this data.
3. After getting the chart from the tool, provide a complete response that includes:
   - A friendly summary of the flight information
   - The chart or table produced by the tool

Always call the chart tool; do not skip it.`,
		Tools: []string{tools.ChartToolName},
	}
}
