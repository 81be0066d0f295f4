package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics aggregates the settlement counters exposed by the node.
type LedgerMetrics struct {
	purseOps        *prometheus.CounterVec
	redemptions     prometheus.Counter
	batchSkipped    *prometheus.CounterVec
	loanOps         *prometheus.CounterVec
	merchantPayouts prometheus.Counter
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the process-wide ledger metrics, registering them on first
// use.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			purseOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_purse_operations_total",
				Help: "Count of settled purse operations by kind.",
			}, []string{"op"}),
			redemptions: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ledger_voucher_redemptions_total",
				Help: "Count of vouchers settled, single and batch combined.",
			}),
			batchSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_batch_entries_skipped_total",
				Help: "Count of batch entries skipped by reason.",
			}, []string{"reason"}),
			loanOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_loan_operations_total",
				Help: "Count of settled loan operations by kind.",
			}, []string{"op"}),
			merchantPayouts: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ledger_merchant_payouts_total",
				Help: "Count of merchant earnings withdrawals.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.purseOps,
			ledgerRegistry.redemptions,
			ledgerRegistry.batchSkipped,
			ledgerRegistry.loanOps,
			ledgerRegistry.merchantPayouts,
		)
	})
	return ledgerRegistry
}

// ObservePurseOp counts a settled purse operation.
func (m *LedgerMetrics) ObservePurseOp(op string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.purseOps.WithLabelValues(op).Inc()
}

// ObserveRedemptions counts settled vouchers.
func (m *LedgerMetrics) ObserveRedemptions(settled int) {
	if m == nil || settled <= 0 {
		return
	}
	m.redemptions.Add(float64(settled))
}

// ObserveBatchSkipped counts a skipped batch entry.
func (m *LedgerMetrics) ObserveBatchSkipped(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.batchSkipped.WithLabelValues(reason).Inc()
}

// ObserveLoanOp counts a settled loan operation.
func (m *LedgerMetrics) ObserveLoanOp(op string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.loanOps.WithLabelValues(op).Inc()
}

// ObserveMerchantPayout counts a merchant earnings withdrawal.
func (m *LedgerMetrics) ObserveMerchantPayout() {
	if m == nil {
		return
	}
	m.merchantPayouts.Inc()
}
