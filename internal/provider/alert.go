package provider

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// User-facing alert texts.
const (
	AlertInstallWallet = "Please install MetaMask first."
	AlertGetWallet     = "Get MetaMask!"
)

// Alerter shows a message to the user.
type Alerter interface {
	Alert(ctx context.Context, msg string)
}

// LogAlerter writes alerts to a logger. It is the default when no Alerter is configured.
type LogAlerter struct {
	Log *slog.Logger
}

func (a LogAlerter) Alert(_ context.Context, msg string) {
	log := a.Log
	if log == nil {
		log = slog.Default()
	}
	log.Warn("alert", "msg", msg)
}

// Alert is one recorded user-facing message.
type Alert struct {
	Message string
	At      time.Time
}

// AlertBuffer keeps the most recent alerts for a UI to poll. It is safe for concurrent use.
type AlertBuffer struct {
	mu   sync.Mutex
	max  int
	now  func() time.Time
	list []Alert
}

// NewAlertBuffer keeps at most max alerts (32 when max <= 0).
func NewAlertBuffer(max int, now func() time.Time) *AlertBuffer {
	if max <= 0 {
		max = 32
	}
	if now == nil {
		now = time.Now
	}
	return &AlertBuffer{max: max, now: now}
}

func (b *AlertBuffer) Alert(_ context.Context, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.list = append(b.list, Alert{Message: msg, At: b.now().UTC()})
	if over := len(b.list) - b.max; over > 0 {
		b.list = append([]Alert(nil), b.list[over:]...)
	}
}

// Alerts returns the buffered alerts, oldest first.
func (b *AlertBuffer) Alerts() []Alert {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Alert(nil), b.list...)
}

// MultiAlerter fans an alert out to several alerters in order.
type MultiAlerter []Alerter

func (m MultiAlerter) Alert(ctx context.Context, msg string) {
	for _, a := range m {
		if a != nil {
			a.Alert(ctx, msg)
		}
	}
}
