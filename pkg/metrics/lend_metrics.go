package metrics

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LendMetrics exposes protocol counters through Prometheus.
type LendMetrics struct {
	namespace string
	registry  *prometheus.Registry
	logger    log.Logger

	// Protocol metrics
	assetsTokenized  prometheus.Counter
	assetsVerified   *prometheus.CounterVec
	priceUpdates     prometheus.Counter
	loansRequested   prometheus.Counter
	loansFunded      prometheus.Counter
	repayments       prometheus.Counter
	liquidations     prometheus.Counter
	totalValueLocked prometheus.Gauge
	activeLoans      prometheus.Gauge
	protocolFees     prometheus.Gauge

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
}

// NewLendMetrics builds and registers the metric set.
func NewLendMetrics(namespace string) (*LendMetrics, error) {
	logger := log.Root().New("module", "metrics")

	registry := prometheus.NewRegistry()

	m := &LendMetrics{
		namespace: namespace,
		registry:  registry,
		logger:    logger,

		assetsTokenized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_tokenized_total",
			Help:      "Total number of assets tokenized",
		}),

		assetsVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_verified_total",
			Help:      "Total verification decisions by outcome",
		}, []string{"outcome"}),

		priceUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_updates_total",
			Help:      "Total oracle price updates applied",
		}),

		loansRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loans_requested_total",
			Help:      "Total loan requests opened",
		}),

		loansFunded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loans_funded_total",
			Help:      "Total loans funded",
		}),

		repayments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repayments_total",
			Help:      "Total repayments accepted",
		}),

		liquidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidations_total",
			Help:      "Total loans liquidated",
		}),

		totalValueLocked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_value_locked",
			Help:      "Current value of all locked collateral in smallest units",
		}),

		activeLoans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_loans",
			Help:      "Number of currently active loans",
		}),

		protocolFees: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "protocol_fees",
			Help:      "Accumulated origination fees in smallest units",
		}),

		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_usage_bytes",
			Help:      "Current memory usage in bytes",
		}),

		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines_count",
			Help:      "Current number of goroutines",
		}),
	}

	registry.MustRegister(
		m.assetsTokenized,
		m.assetsVerified,
		m.priceUpdates,
		m.loansRequested,
		m.loansFunded,
		m.repayments,
		m.liquidations,
		m.totalValueLocked,
		m.activeLoans,
		m.protocolFees,
		m.memoryUsage,
		m.goroutines,
	)

	logger.Info("Lend metrics initialized")
	return m, nil
}

// StartServer exposes the /metrics endpoint on the given port.
func (m *LendMetrics) StartServer(port string) error {
	m.logger.Info("Starting Prometheus metrics server", "port", port)

	http.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	go func() {
		if err := http.ListenAndServe(":"+port, nil); err != nil {
			m.logger.Error("Metrics server failed", "error", err)
		}
	}()

	return nil
}

// RecordTokenized records an asset entering the registry.
func (m *LendMetrics) RecordTokenized() {
	m.assetsTokenized.Inc()
}

// RecordVerified records a verification decision.
func (m *LendMetrics) RecordVerified(approved bool) {
	outcome := "rejected"
	if approved {
		outcome = "approved"
	}
	m.assetsVerified.WithLabelValues(outcome).Inc()
}

// RecordPriceUpdate records an oracle revaluation.
func (m *LendMetrics) RecordPriceUpdate() {
	m.priceUpdates.Inc()
}

// RecordLoanRequested records a new loan request.
func (m *LendMetrics) RecordLoanRequested() {
	m.loansRequested.Inc()
}

// RecordLoanFunded records a funded loan.
func (m *LendMetrics) RecordLoanFunded() {
	m.loansFunded.Inc()
}

// RecordRepayment records an accepted repayment.
func (m *LendMetrics) RecordRepayment() {
	m.repayments.Inc()
}

// RecordLiquidation records a liquidation.
func (m *LendMetrics) RecordLiquidation() {
	m.liquidations.Inc()
}

// UpdateProtocolGauges refreshes the point-in-time gauges.
func (m *LendMetrics) UpdateProtocolGauges(tvl, fees float64, activeLoans int) {
	m.totalValueLocked.Set(tvl)
	m.protocolFees.Set(fees)
	m.activeLoans.Set(float64(activeLoans))
}

// CollectSystemMetrics samples runtime stats until the context ends.
func (m *LendMetrics) CollectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)
			m.memoryUsage.Set(float64(memStats.Alloc))
			m.goroutines.Set(float64(runtime.NumGoroutine()))
		}
	}
}
