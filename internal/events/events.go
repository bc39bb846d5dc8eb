package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/transferbook/txprovider/internal/idempotency"
	"github.com/transferbook/txprovider/internal/provider"
	"github.com/transferbook/txprovider/internal/queue"
)

const VersionTransferRecordedV1 = "transfers.recorded.v1"

const DefaultTopic = "transfers.recorded.v1"

var (
	ErrInvalidEvent  = errors.New("events: invalid event")
	ErrInvalidConfig = errors.New("events: invalid config")
)

// TransferRecorded is published once per submission whose record call was confirmed.
type TransferRecorded struct {
	Version          string `json:"version"`
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

func FromSubmission(sub provider.Submission) TransferRecorded {
	ev := TransferRecorded{
		Version:        VersionTransferRecordedV1,
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
		ev.AmountWei = sub.AmountWei.String()
	}
	if sub.TransactionCount != nil {
		ev.TransactionCount = sub.TransactionCount.String()
	}
	if !sub.RecordedAt.IsZero() {
		ev.RecordedAt = sub.RecordedAt.UTC().Format(time.RFC3339)
	}
	return ev
}

func (e TransferRecorded) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Decode parses and validates one event. Unknown fields are rejected.
func Decode(b []byte) (TransferRecorded, error) {
	var ev TransferRecorded
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		return TransferRecorded{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if dec.More() {
		return TransferRecorded{}, fmt.Errorf("%w: trailing data", ErrInvalidEvent)
	}
	if err := ev.Validate(); err != nil {
		return TransferRecorded{}, err
	}
	return ev, nil
}

// Validate checks field formats and that SubmissionID matches the two transaction hashes.
func (e TransferRecorded) Validate() error {
	if e.Version != VersionTransferRecordedV1 {
		return fmt.Errorf("%w: unsupported version %q", ErrInvalidEvent, e.Version)
	}
	id, err := parseHash("submission_id", e.SubmissionID)
	if err != nil {
		return err
	}
	transferTx, err := parseHash("transfer_tx_hash", e.TransferTxHash)
	if err != nil {
		return err
	}
	recordTx, err := parseHash("record_tx_hash", e.RecordTxHash)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(e.From) {
		return fmt.Errorf("%w: from %q", ErrInvalidEvent, e.From)
	}
	if _, err := parseUint("amount_wei", e.AmountWei); err != nil {
		return err
	}
	if _, err := parseUint("transaction_count", e.TransactionCount); err != nil {
		return err
	}
	if e.RecordedAt != "" {
		if _, err := time.Parse(time.RFC3339, e.RecordedAt); err != nil {
			return fmt.Errorf("%w: recorded_at: %v", ErrInvalidEvent, err)
		}
	}
	if want := common.Hash(idempotency.SubmissionIDV1(transferTx, recordTx)); id != want {
		return fmt.Errorf("%w: submission_id mismatch: got=%s want=%s", ErrInvalidEvent, id, want)
	}
	return nil
}

func (e TransferRecorded) Amount() *big.Int {
	v, _ := new(big.Int).SetString(e.AmountWei, 10)
	return v
}

func parseHash(field, s string) (common.Hash, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) != 64 {
		return common.Hash{}, fmt.Errorf("%w: %s must be 32 bytes hex", ErrInvalidEvent, field)
	}
	for _, c := range raw {
		if !isHex(c) {
			return common.Hash{}, fmt.Errorf("%w: %s must be 32 bytes hex", ErrInvalidEvent, field)
		}
	}
	return common.HexToHash(raw), nil
}

func parseUint(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidEvent, field)
	}
	return v, nil
}

func isHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// Publisher is a provider.Sink that publishes TransferRecorded events keyed by submission id.
type Publisher struct {
	producer queue.Producer
	topic    string
}

func NewPublisher(p queue.Producer, topic string) (*Publisher, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil producer", ErrInvalidConfig)
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{producer: p, topic: topic}, nil
}

func (p *Publisher) Record(ctx context.Context, sub provider.Submission) error {
	ev := FromSubmission(sub)
	payload, err := ev.Encode()
	if err != nil {
		return err
	}
	if err := p.producer.Publish(ctx, p.topic, []byte(ev.SubmissionID), payload); err != nil {
		return fmt.Errorf("events: publish %s: %w", ev.SubmissionID, err)
	}
	return nil
}
