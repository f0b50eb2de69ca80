package telemetry

import (
	"context"
	"fmt"

	"contrib.go.opencensus.io/exporter/ocagent"
	"go.opencensus.io/trace"
)

// InitTracing registers an ocagent exporter the way linkerd2's public-api
// client wires opencensus into its outbound http.Client, except here the
// spans traced are SPDP publish rounds and fast-path delivery fan-out
// rather than HTTP requests. agentAddr is the OpenCensus collector address;
// an empty agentAddr disables tracing and returns a no-op shutdown func.
func InitTracing(serviceName, agentAddr string) (shutdown func(), err error) {
	if agentAddr == "" {
		return func() {}, nil
	}

	exporter, err := ocagent.NewExporter(
		ocagent.WithInsecure(),
		ocagent.WithReconnectionPeriod(0),
		ocagent.WithAddress(agentAddr),
		ocagent.WithServiceName(serviceName),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: ocagent exporter: %w", err)
	}

	trace.RegisterExporter(exporter)
	trace.ApplyConfig(trace.Config{DefaultSampler: trace.AlwaysSample()})

	return func() {
		trace.UnregisterExporter(exporter)
		exporter.Stop()
	}, nil
}

// StartSpan starts a span named name as a child of ctx-less root tracing;
// the discovery and delivery packages call this around each publish round
// or fan-out batch rather than threading context.Context through their
// executor callbacks, which spec section 4.1 keeps free of per-call
// allocation where it can.
func StartSpan(name string) (*trace.Span, func()) {
	_, span := trace.StartSpan(context.Background(), name)
	return span, span.End
}
