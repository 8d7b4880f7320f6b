package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LeverageMetrics tracks the borrowing lifecycle of the leverage engine.
type LeverageMetrics struct {
	operations    *prometheus.CounterVec
	liquidations  *prometheus.CounterVec
	totalBorrowed *prometheus.GaugeVec
	platformFees  *prometheus.GaugeVec
	approveRetry  *prometheus.CounterVec
}

var (
	leverageOnce     sync.Once
	leverageRegistry *LeverageMetrics
)

func Leverage() *LeverageMetrics {
	leverageOnce.Do(func() {
		leverageRegistry = &LeverageMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "leverage_operations_total",
				Help: "Count of leverage entry point executions by operation and outcome.",
			}, []string{"operation", "outcome"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "leverage_liquidations_total",
				Help: "Count of insolvent borrowings closed by kind.",
			}, []string{"kind"}),
			totalBorrowed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "leverage_total_borrowed",
				Help: "Principal currently borrowed against a token pair, in hold token units.",
			}, []string{"pair"}),
			platformFees: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "leverage_platform_fees",
				Help: "Uncollected platform fees per token, in token units.",
			}, []string{"token"}),
			approveRetry: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "leverage_approve_attempts_total",
				Help: "Approve attempts issued while granting swap target allowances.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			leverageRegistry.operations,
			leverageRegistry.liquidations,
			leverageRegistry.totalBorrowed,
			leverageRegistry.platformFees,
			leverageRegistry.approveRetry,
		)
	})
	return leverageRegistry
}

// ObserveOperation counts one execution of an entry point.
func (m *LeverageMetrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

func (m *LeverageMetrics) ObserveLiquidation(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.liquidations.WithLabelValues(kind).Inc()
}

func (m *LeverageMetrics) SetTotalBorrowed(pair string, amount float64) {
	if m == nil {
		return
	}
	m.totalBorrowed.WithLabelValues(pair).Set(amount)
}

func (m *LeverageMetrics) SetPlatformFees(token string, amount float64) {
	if m == nil {
		return
	}
	m.platformFees.WithLabelValues(token).Set(amount)
}

func (m *LeverageMetrics) ObserveApproveAttempt(ok bool) {
	if m == nil {
		return
	}
	outcome := "accepted"
	if !ok {
		outcome = "rejected"
	}
	m.approveRetry.WithLabelValues(outcome).Inc()
}
