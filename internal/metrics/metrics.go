// Package metrics exposes the simulation as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"netfish/internal/model"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Market
	Price        prometheus.Gauge
	TrackedValue prometheus.Gauge
	RangeLower   prometheus.Gauge
	RangeUpper   prometheus.Gauge
	InRange      prometheus.Gauge

	// Yield
	AccumulatedProfit prometheus.Gauge
	HarvestableProfit prometheus.Gauge
	HarvestedProfit   prometheus.Gauge
	Deposit           prometheus.Gauge

	// Events
	Rebalances  *prometheus.CounterVec
	Harvests    prometheus.Counter
	HarvestFees prometheus.Counter

	// Transport
	WSClients prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "netfish"
	}
	f := promauto.With(reg)

	gauge := func(subsystem, name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Metrics{
		Price:        gauge("market", "price", "Current simulated price"),
		TrackedValue: gauge("market", "tracked_value", "Lagging value the net is tested against"),
		RangeLower:   gauge("market", "range_lower", "Lower bound of the net"),
		RangeUpper:   gauge("market", "range_upper", "Upper bound of the net"),
		InRange:      gauge("market", "in_range", "1 while the tracked value is inside the net"),

		AccumulatedProfit: gauge("yield", "accumulated_profit", "Total yield earned"),
		HarvestableProfit: gauge("yield", "harvestable_profit", "Yield available to harvest"),
		HarvestedProfit:   gauge("yield", "harvested_profit", "Yield already harvested"),
		Deposit:           gauge("yield", "deposit", "Configured deposit amount"),

		Rebalances: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "rebalances_total",
			Help:      "Total number of rebalances by trigger",
		}, []string{"trigger"}),
		Harvests: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "harvests_total",
			Help:      "Total number of booked harvests",
		}),
		HarvestFees: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "harvest_fees_total",
			Help:      "Total management fees deducted on harvest",
		}),

		WSClients: gauge("transport", "ws_clients", "Connected WebSocket clients"),
	}
}

// Observe records a state snapshot. It can be subscribed to the engine.
func (m *Metrics) Observe(s model.SimulationState) {
	r := s.Range()
	m.Price.Set(s.Price)
	m.TrackedValue.Set(s.TrackedValue)
	m.RangeLower.Set(r.Lower)
	m.RangeUpper.Set(r.Upper)
	if r.Contains(s.TrackedValue) {
		m.InRange.Set(1)
	} else {
		m.InRange.Set(0)
	}
	m.AccumulatedProfit.Set(s.AccumulatedProfit)
	m.HarvestableProfit.Set(s.HarvestableProfit)
	m.HarvestedProfit.Set(s.HarvestedProfit)
}

// ObserveDeposit records the configured deposit. Snapshots do not carry it,
// so callers report it next to Observe.
func (m *Metrics) ObserveDeposit(deposit float64) {
	m.Deposit.Set(deposit)
}

func (m *Metrics) ObserveRebalance(ev model.RebalanceEvent) {
	m.Rebalances.WithLabelValues(string(ev.Trigger)).Inc()
}

func (m *Metrics) ObserveHarvest(h model.HarvestRecord) {
	m.Harvests.Inc()
	m.HarvestFees.Add(h.Fee)
	m.Deposit.Set(h.DepositAfter)
}
