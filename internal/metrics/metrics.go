package metrics

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "txprovider"

// Submission outcomes used as the "outcome" label.
const (
	OutcomeRecorded = "recorded"
	OutcomeFailed   = "failed"
)

var ErrInvalidConfig = errors.New("metrics: invalid config")

// Provider holds the provider's Prometheus collectors. A nil *Provider is valid and records
// nothing.
type Provider struct {
	submissions      *prometheus.CounterVec
	submitDuration   prometheus.Histogram
	walletRequests   *prometheus.CounterVec
	alerts           prometheus.Counter
	loading          prometheus.Gauge
	transactionCount prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) (*Provider, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: nil registerer", ErrInvalidConfig)
	}
	f := promauto.With(reg)
	return &Provider{
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Transfer submissions by outcome and failure kind.",
		}, []string{"outcome", "kind"}),
		submitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_duration_seconds",
			Help:      "Time from send request to counter update.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}),
		walletRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_requests_total",
			Help:      "Wallet requests by method and result.",
		}, []string{"method", "result"}),
		alerts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "User-facing alerts raised.",
		}),
		loading: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loading",
			Help:      "1 while a record transaction is awaiting confirmation.",
		}),
		transactionCount: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transaction_count",
			Help:      "Last transaction count read from the contract.",
		}),
	}, nil
}

func (p *Provider) ObserveSubmission(outcome, kind string, d time.Duration) {
	if p == nil {
		return
	}
	p.submissions.WithLabelValues(outcome, kind).Inc()
	if outcome == OutcomeRecorded {
		p.submitDuration.Observe(d.Seconds())
	}
}

func (p *Provider) ObserveWalletRequest(method string, err error) {
	if p == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.walletRequests.WithLabelValues(method, result).Inc()
}

func (p *Provider) IncAlerts() {
	if p == nil {
		return
	}
	p.alerts.Inc()
}

func (p *Provider) SetLoading(v bool) {
	if p == nil {
		return
	}
	if v {
		p.loading.Set(1)
		return
	}
	p.loading.Set(0)
}

// SetTransactionCount records n as a float. Counts beyond float64 precision are approximated.
func (p *Provider) SetTransactionCount(n *big.Int) {
	if p == nil || n == nil {
		return
	}
	f, _ := new(big.Float).SetInt(n).Float64()
	p.transactionCount.Set(f)
}
