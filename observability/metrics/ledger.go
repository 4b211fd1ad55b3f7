package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type LedgerMetrics struct {
	operations   *prometheus.CounterVec
	failures     *prometheus.CounterVec
	liquidations prometheus.Counter
	marketSupply *prometheus.GaugeVec
	marketBorrow *prometheus.GaugeVec
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "Count of completed ledger operations by kind.",
			}, []string{"op"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_operation_failures_total",
				Help: "Count of rejected ledger operations by kind.",
			}, []string{"op"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ledger_liquidations_total",
				Help: "Count of successful liquidations.",
			}),
			marketSupply: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "ledger_market_supply",
				Help: "Total supplied amount per market.",
			}, []string{"symbol"}),
			marketBorrow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "ledger_market_borrow",
				Help: "Total borrowed amount per market.",
			}, []string{"symbol"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.failures,
			ledgerRegistry.liquidations,
			ledgerRegistry.marketSupply,
			ledgerRegistry.marketBorrow,
		)
	})
	return ledgerRegistry
}

func (m *LedgerMetrics) ObserveOperation(op string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.operations.WithLabelValues(op).Inc()
}

func (m *LedgerMetrics) ObserveFailure(op string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.failures.WithLabelValues(op).Inc()
}

func (m *LedgerMetrics) ObserveLiquidation() {
	if m == nil {
		return
	}
	m.liquidations.Inc()
}

func (m *LedgerMetrics) SetMarketTotals(symbol string, supply, borrow float64) {
	if m == nil {
		return
	}
	m.marketSupply.WithLabelValues(symbol).Set(supply)
	m.marketBorrow.WithLabelValues(symbol).Set(borrow)
}
