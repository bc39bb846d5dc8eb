package metrics

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RequiresRegisterer(t *testing.T) {
	t.Parallel()

	if _, err := New(nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestNew_DoubleRegistrationPanics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	_, _ = New(reg)
}

func TestProvider_Records(t *testing.T) {
	t.Parallel()

	p, err := New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p.ObserveSubmission(OutcomeRecorded, "", 3*time.Second)
	p.ObserveSubmission(OutcomeFailed, "wallet_rejected", time.Second)
	p.ObserveSubmission(OutcomeFailed, "wallet_rejected", time.Second)
	p.ObserveWalletRequest("eth_sendTransaction", nil)
	p.ObserveWalletRequest("eth_sendTransaction", errors.New("boom"))
	p.IncAlerts()
	p.SetLoading(true)
	p.SetTransactionCount(big.NewInt(17))

	if got := testutil.ToFloat64(p.submissions.WithLabelValues(OutcomeRecorded, "")); got != 1 {
		t.Fatalf("recorded: got %v", got)
	}
	if got := testutil.ToFloat64(p.submissions.WithLabelValues(OutcomeFailed, "wallet_rejected")); got != 2 {
		t.Fatalf("failed: got %v", got)
	}
	if got := testutil.CollectAndCount(p.submitDuration); got != 1 {
		t.Fatalf("histogram series: got %d", got)
	}
	if got := testutil.ToFloat64(p.walletRequests.WithLabelValues("eth_sendTransaction", "error")); got != 1 {
		t.Fatalf("wallet errors: got %v", got)
	}
	if got := testutil.ToFloat64(p.alerts); got != 1 {
		t.Fatalf("alerts: got %v", got)
	}
	if got := testutil.ToFloat64(p.loading); got != 1 {
		t.Fatalf("loading: got %v", got)
	}
	p.SetLoading(false)
	if got := testutil.ToFloat64(p.loading); got != 0 {
		t.Fatalf("loading after clear: got %v", got)
	}
	if got := testutil.ToFloat64(p.transactionCount); got != 17 {
		t.Fatalf("transaction count: got %v", got)
	}
}

func TestProvider_NilIsNoop(t *testing.T) {
	t.Parallel()

	var p *Provider
	p.ObserveSubmission(OutcomeRecorded, "", time.Second)
	p.ObserveWalletRequest("eth_accounts", nil)
	p.IncAlerts()
	p.SetLoading(true)
	p.SetTransactionCount(big.NewInt(1))
}
