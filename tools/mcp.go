package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPChartTool generates charts through an external MCP server spoken to
// over stdio, such as @antv/mcp-server-chart. It shares the chart tool's
// name and schema so the two are interchangeable behind the registry.
//
// Failures to start, initialize, or call the server surface as ordinary
// executor errors; the registry folds them into a ToolExecutionError.
type MCPChartTool struct {
	serverTool string
	client     *client.Client
}

// MCPChartConfig configures the MCP-backed chart tool.
type MCPChartConfig struct {
	// Command is the server executable. Default: "npx".
	Command string

	// Args are the server arguments. Default: ["-y", "@antv/mcp-server-chart"].
	Args []string

	// ServerTool is the tool name exposed by the MCP server.
	// Default: "generate_column_chart".
	ServerTool string

	// Env is the environment for the server process (optional).
	Env []string
}

// NewMCPChartTool starts the MCP server process and performs the protocol
// handshake.
func NewMCPChartTool(ctx context.Context, cfg MCPChartConfig) (*MCPChartTool, error) {
	if cfg.Command == "" {
		cfg.Command = "npx"
	}
	if cfg.Args == nil {
		cfg.Args = []string{"-y", "@antv/mcp-server-chart"}
	}
	if cfg.ServerTool == "" {
		cfg.ServerTool = "generate_column_chart"
	}

	c, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to start mcp chart server: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "flightcopilot",
		Version: "1.0.0",
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("mcp chart server handshake failed: %w", err)
	}

	return &MCPChartTool{
		serverTool: cfg.ServerTool,
		client:     c,
	}, nil
}

// Name returns the tool name.
func (t *MCPChartTool) Name() string { return ChartToolName }

// Description returns the tool description.
func (t *MCPChartTool) Description() string {
	return "Generate a chart from flight price information via the chart MCP server"
}

// Schema returns the declared input contract, identical to the local chart
// tool's.
func (t *MCPChartTool) Schema() map[string]interface{} {
	return (&ChartTool{}).Schema()
}

// Execute forwards the chart request to the MCP server and collects the text
// content of the result.
func (t *MCPChartTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
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

	req := mcp.CallToolRequest{}
	req.Params.Name = t.serverTool
	req.Params.Arguments = map[string]interface{}{
		"data": []map[string]interface{}{
			{
				"category": fmt.Sprintf("%s → %s", departure, destination),
				"value":    price,
			},
		},
		"title":     fmt.Sprintf("Flight price (%s)", currency),
		"axisXTitle": "Route",
		"axisYTitle": currency,
	}

	res, err := t.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp chart call failed: %w", err)
	}

	var sb strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return nil, fmt.Errorf("mcp chart server error: %s", sb.String())
	}

	return &ChartResult{ChartURL: strings.TrimSpace(sb.String())}, nil
}

// Close shuts down the MCP server process.
func (t *MCPChartTool) Close() error {
	return t.client.Close()
}
