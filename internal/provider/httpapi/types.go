package httpapi

// Form is the transfer form as JSON. Field names match the form input names.
type Form struct {
	AddressTo string `json:"addressTo"`
	Amount    string `json:"amount"`
	Keyword   string `json:"keyword"`
	Message   string `json:"message"`
}

// FieldRequest is the request body for PATCH /v1/form/{field}.
type FieldRequest struct {
	Value string `json:"value"`
}

// StateResponse is the response body for GET /v1/state.
type StateResponse struct {
	CurrentAccount string `json:"current_account"`
	Connected      bool   `json:"connected"`
	Form           Form   `json:"form"`
	Loading        bool   `json:"loading"`
	// TransactionCount is a base-10 integer, empty while unknown.
	TransactionCount string         `json:"transaction_count,omitempty"`
	Phase            string         `json:"phase"`
	LastOutcome      string         `json:"last_outcome"`
	LastError        *ErrorResponse `json:"last_error,omitempty"`
}

// SubmissionResponse is the response body for POST /v1/send.
type SubmissionResponse struct {
	SubmissionID     string `json:"submission_id"`
	From             string `json:"from"`
	To               string `json:"to"`
	AmountWei        string `json:"amount_wei"`
	Message          string `json:"message"`
	Keyword          string `json:"keyword"`
	TransferTxHash   string `json:"transfer_tx_hash"`
	RecordTxHash     string `json:"record_tx_hash"`
	RecordBlock      uint64 `json:"record_block"`
	TransactionCount string `json:"transaction_count"`
	RecordedAt       string `json:"recorded_at,omitempty"`
}

// TransferRecord is one entry of GET /v1/transactions.
type TransferRecord struct {
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	AmountWei string `json:"amount_wei"`
	// Amount is AmountWei in ether.
	Amount    string `json:"amount"`
	Message   string `json:"message"`
	Keyword   string `json:"keyword"`
	Timestamp string `json:"timestamp,omitempty"`
}

type TransactionsResponse struct {
	Transactions []TransferRecord `json:"transactions"`
}

type Alert struct {
	Message string `json:"message"`
	At      string `json:"at"`
}

type AlertsResponse struct {
	Alerts []Alert `json:"alerts"`
}

// ErrorResponse is returned with every non-2xx status. Error is a stable code; for provider
// failures it is the failure kind and Message carries the cause.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
