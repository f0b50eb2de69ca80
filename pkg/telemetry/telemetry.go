// Package telemetry exposes prometheus metrics for entity counts, lease
// expirations, and delivery outcomes, grounded the way linkerd2's
// multicluster/service-mirror package wires its own gauges/counters via
// promauto.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const domainLabel = "domain"

// Metrics bundles the gauges/counters an admin HTTP endpoint exposes.
type Metrics struct {
	ParticipantsAlive *prometheus.GaugeVec
	EndpointsMatched  *prometheus.GaugeVec
	LeaseExpirations  *prometheus.CounterVec
	DeliveryDrops     *prometheus.CounterVec
	DeliveryMerged    *prometheus.CounterVec
	RetransmitQueued  *prometheus.CounterVec
}

var defaultMetrics = NewMetrics()

// NewMetrics registers a fresh metric set with the default registerer.
func NewMetrics() *Metrics {
	return &Metrics{
		ParticipantsAlive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rtmesh_participants_alive",
				Help: "Number of currently alive proxy participants per domain.",
			},
			[]string{domainLabel},
		),
		EndpointsMatched: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rtmesh_endpoints_matched",
				Help: "Number of currently matched reader/writer pairs per domain.",
			},
			[]string{domainLabel},
		),
		LeaseExpirations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtmesh_lease_expirations_total",
				Help: "Count of lease heap expirations fired per domain.",
			},
			[]string{domainLabel},
		),
		DeliveryDrops: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtmesh_delivery_drops_total",
				Help: "Count of samples dropped by the local delivery engine per domain.",
			},
			[]string{domainLabel},
		),
		DeliveryMerged: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtmesh_retransmit_merged_total",
				Help: "Count of retransmit requests merged into an already-queued entry per domain.",
			},
			[]string{domainLabel},
		),
		RetransmitQueued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtmesh_retransmit_queued_total",
				Help: "Count of retransmit requests accepted onto the queue per domain.",
			},
			[]string{domainLabel},
		),
	}
}

// Default returns the process-wide metric set registered at package
// init, mirroring linkerd2's package-level endpointRepairCounter
// pattern for metrics that don't need per-test isolation.
func Default() *Metrics { return defaultMetrics }

// Handler returns the admin HTTP handler exposing the default
// prometheus registry.
func Handler() http.Handler { return promhttp.Handler() }
