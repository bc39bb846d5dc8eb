package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/transferbook/txprovider/internal/provider"
	"github.com/transferbook/txprovider/internal/transfers"
	"github.com/transferbook/txprovider/internal/units"
)

// Service is the provider surface exposed over HTTP. *provider.Provider satisfies it.
type Service interface {
	Snapshot() provider.Snapshot
	ConnectWallet(ctx context.Context) error
	SetFormData(fd provider.FormData)
	HandleChange(f provider.Field, value string) error
	SendTransaction(ctx context.Context) (provider.Submission, error)
	RecordedTransfers(ctx context.Context) ([]transfers.Record, error)
}

// AlertSource lists recent user-facing alerts. *provider.AlertBuffer satisfies it.
type AlertSource interface {
	Alerts() []provider.Alert
}

type Config struct {
	// AuthToken enables bearer-token auth on every /v1 request when set.
	AuthToken string

	// MaxBodyBytes limits request sizes. Defaults to 64 KiB.
	MaxBodyBytes int64

	// MaxWaitSeconds bounds a send, including the confirmation wait. Zero means no bound.
	// A send is detached from the request: a client that goes away does not cancel the
	// record call of a transfer that already went out.
	MaxWaitSeconds int

	Alerts  AlertSource
	Metrics http.Handler
	Log     *slog.Logger
}

func NewHandler(svc Service, cfg Config) http.Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	h := &handler{svc: svc, cfg: cfg}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	mux.HandleFunc("GET /v1/state", h.auth(h.state))
	mux.HandleFunc("POST /v1/connect", h.auth(h.connect))
	mux.HandleFunc("PUT /v1/form", h.auth(h.putForm))
	mux.HandleFunc("PATCH /v1/form/{field}", h.auth(h.patchField))
	mux.HandleFunc("POST /v1/send", h.auth(h.send))
	mux.HandleFunc("GET /v1/transactions", h.auth(h.transactions))
	mux.HandleFunc("GET /v1/alerts", h.auth(h.alerts))

	return mux
}

type handler struct {
	svc Service
	cfg Config
}

func (h *handler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.AuthToken != "" && !checkBearer(r.Header.Get("Authorization"), h.cfg.AuthToken) {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (h *handler) state(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, stateResponse(h.svc.Snapshot()))
}

func (h *handler) connect(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ConnectWallet(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(h.svc.Snapshot()))
}

func (h *handler) putForm(w http.ResponseWriter, r *http.Request) {
	var req Form
	if !h.decode(w, r, &req) {
		return
	}
	h.svc.SetFormData(provider.FormData{
		AddressTo: req.AddressTo,
		Amount:    req.Amount,
		Keyword:   req.Keyword,
		Message:   req.Message,
	})
	writeJSON(w, http.StatusOK, stateResponse(h.svc.Snapshot()))
}

func (h *handler) patchField(w http.ResponseWriter, r *http.Request) {
	field, err := provider.ParseField(r.PathValue("field"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown_field"})
		return
	}
	var req FieldRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.HandleChange(field, req.Value); err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown_field"})
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(h.svc.Snapshot()))
}

func (h *handler) send(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	if h.cfg.MaxWaitSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(h.cfg.MaxWaitSeconds)*time.Second)
		defer cancel()
	}

	sub, err := h.svc.SendTransaction(ctx)
	if r.Context().Err() != nil {
		h.cfg.Log.Warn("client went away during send", "err", err, "record_tx", sub.RecordTxHash)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submissionResponse(sub))
}

func (h *handler) transactions(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.RecordedTransfers(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := TransactionsResponse{Transactions: make([]TransferRecord, 0, len(records))}
	for _, rec := range records {
		tr := TransferRecord{
			Sender:   rec.Sender.Hex(),
			Receiver: rec.Receiver.Hex(),
			Message:  rec.Message,
			Keyword:  rec.Keyword,
		}
		if rec.Amount != nil {
			tr.AmountWei = rec.Amount.String()
			tr.Amount = units.FormatEther(rec.Amount)
		}
		if !rec.Timestamp.IsZero() {
			tr.Timestamp = rec.Timestamp.UTC().Format(time.RFC3339)
		}
		out.Transactions = append(out.Transactions, tr)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) alerts(w http.ResponseWriter, _ *http.Request) {
	out := AlertsResponse{Alerts: []Alert{}}
	if h.cfg.Alerts != nil {
		for _, a := range h.cfg.Alerts.Alerts() {
			out.Alerts = append(out.Alerts, Alert{Message: a.Message, At: a.At.UTC().Format(time.RFC3339Nano)})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_json"})
		return false
	}
	// Reject trailing garbage.
	if dec.More() {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_json"})
		return false
	}
	return true
}

// writeError maps a provider kind first so callers learn which step failed. The context
// cause, if any, only picks the status and shows up in the message.
func (h *handler) writeError(w http.ResponseWriter, err error) {
	var pe *provider.Error
	if errors.As(err, &pe) {
		status := statusForKind(pe.Kind)
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		writeJSON(w, status, errorResponse(pe))
		return
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, ErrorResponse{Error: "timeout"})
	case errors.Is(err, context.Canceled):
		writeJSON(w, http.StatusRequestTimeout, ErrorResponse{Error: "canceled"})
	default:
		h.cfg.Log.Error("unclassified provider error", "err", err)
		// Avoid leaking internal details by default.
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal"})
	}
}

func errorResponse(pe *provider.Error) ErrorResponse {
	out := ErrorResponse{Error: pe.Kind.String()}
	if pe.Err != nil {
		out.Message = pe.Err.Error()
	}
	return out
}

func statusForKind(k provider.Kind) int {
	switch k {
	case provider.KindInvalidAmount:
		return http.StatusBadRequest
	case provider.KindWalletRejected:
		return http.StatusForbidden
	case provider.KindWalletAbsent:
		return http.StatusServiceUnavailable
	case provider.KindTransferFailed, provider.KindContractCallFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func stateResponse(s provider.Snapshot) StateResponse {
	out := StateResponse{
		CurrentAccount: s.CurrentAccount,
		Connected:      s.Connected,
		Form: Form{
			AddressTo: s.Form.AddressTo,
			Amount:    s.Form.Amount,
			Keyword:   s.Form.Keyword,
			Message:   s.Form.Message,
		},
		Loading:     s.Loading,
		Phase:       s.Phase.String(),
		LastOutcome: s.LastOutcome.String(),
	}
	if s.TransactionCount != nil {
		out.TransactionCount = s.TransactionCount.String()
	}
	var pe *provider.Error
	if errors.As(s.LastError, &pe) {
		er := errorResponse(pe)
		out.LastError = &er
	}
	return out
}

func submissionResponse(sub provider.Submission) SubmissionResponse {
	out := SubmissionResponse{
		SubmissionID:   sub.ID.Hex(),
		From:           sub.From.Hex(),
		To:             sub.To,
		Message:        sub.Message,
		Keyword:        sub.Keyword,
		TransferTxHash: sub.TransferTxHash.Hex(),
		RecordTxHash:   sub.RecordTxHash.Hex(),
		RecordBlock:    sub.RecordBlock,
	}
	if sub.AmountWei != nil {
		out.AmountWei = sub.AmountWei.String()
	}
	if sub.TransactionCount != nil {
		out.TransactionCount = sub.TransactionCount.String()
	}
	if !sub.RecordedAt.IsZero() {
		out.RecordedAt = sub.RecordedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func checkBearer(header string, wantToken string) bool {
	// Exact "Bearer <token>" with single space.
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	got := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return got == wantToken
}
