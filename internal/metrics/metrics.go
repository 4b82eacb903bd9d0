// Package metrics declares the Prometheus collectors shared by the
// controller, the dispatcher and the stations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "factory"

var (
	MachinesByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "machines",
		Help:      "Registered machines by type and status.",
	}, []string{"type", "status"})

	MachineTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "machine_transitions_total",
		Help:      "Committed machine state changes by target status.",
	}, []string{"status"})

	Failovers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "failovers_total",
		Help:      "Failure notifications by outcome.",
	}, []string{"outcome"})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Component deliveries by outcome.",
	}, []string{"outcome"})

	DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "delivery_duration_seconds",
		Help:      "Time spent dispatching one component to the stations.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2, 5},
	})

	ReconcileActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_actions_total",
		Help:      "Machines started or stopped by the reconciliation loop.",
	}, []string{"action"})

	NeedLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "need_level_percent",
		Help:      "Last storage level reported per component type.",
	}, []string{"type"})

	ZoneOccupancy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "zone_occupancy",
		Help:      "Components held per station zone.",
	}, []string{"station", "type"})

	ProductsAssembled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "products_assembled_total",
		Help:      "Products assembled per station.",
	}, []string{"station"})

	IntakeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "station_intake_rejections_total",
		Help:      "Components refused by a station, by reason.",
	}, []string{"station", "reason"})
)
