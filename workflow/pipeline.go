package workflow

import (
	"log/slog"

	"github.com/xiaot623/flightcopilot/agent"
	"github.com/xiaot623/flightcopilot/flightcopilot"
	"github.com/xiaot623/flightcopilot/tools"
)

// FlightInfoPresent is the chart-stage trigger: proceed only when the
// previous stage's output carries a well-formed flight price payload with a
// positive price. The predicate is inspectable and involves no model call.
func FlightInfoPresent(prev *flightcopilot.Message) bool {
	if prev == nil {
		return false
	}
	_, ok := tools.ParseFlightPriceInfo(prev.Content)
	return ok
}

// PipelineOptions tunes the stock flight-then-chart pipeline.
type PipelineOptions struct {
	// MaxIterations overrides the per-agent tool-call iteration cap.
	MaxIterations int

	// Flight and Chart override the stage configurations entirely when
	// non-nil.
	Flight *agent.Config
	Chart  *agent.Config
}

// NewFlightChartPipeline builds the two-stage pipeline from the original
// design: a flight-price stage followed by a chart-generation stage gated on
// the flight stage producing structured price data. The pipeline shape
// generalizes to any ordered stage list; this is just the stock topology.
func NewFlightChartPipeline(provider flightcopilot.CompletionProvider, registry *tools.Registry, logger *slog.Logger, opts PipelineOptions) ([]Stage, error) {
	flightCfg := agent.FlightAgentConfig()
	if opts.Flight != nil {
		flightCfg = *opts.Flight
	}
	chartCfg := agent.ChartAgentConfig()
	if opts.Chart != nil {
		chartCfg = *opts.Chart
	}
	if opts.MaxIterations > 0 {
		flightCfg.MaxIterations = opts.MaxIterations
		chartCfg.MaxIterations = opts.MaxIterations
	}

	flightRuntime, err := agent.NewRuntime(flightCfg, provider, registry, logger)
	if err != nil {
		return nil, err
	}
	chartRuntime, err := agent.NewRuntime(chartCfg, provider, registry, logger)
	if err != nil {
		return nil, err
	}

	return []Stage{
		{Runtime: flightRuntime},
		{Runtime: chartRuntime, Trigger: FlightInfoPresent},
	}, nil
}
