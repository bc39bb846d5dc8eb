package provider

import (
	"fmt"
	"strings"
)

// Field names one input of the transfer form.
type Field int

const (
	FieldAddressTo Field = iota + 1
	FieldAmount
	FieldKeyword
	FieldMessage
)

func (f Field) String() string {
	switch f {
	case FieldAddressTo:
		return "addressTo"
	case FieldAmount:
		return "amount"
	case FieldKeyword:
		return "keyword"
	case FieldMessage:
		return "message"
	default:
		return fmt.Sprintf("Field(%d)", int(f))
	}
}

// ParseField maps a form input name to its Field. Matching is case-sensitive.
func ParseField(name string) (Field, error) {
	switch strings.TrimSpace(name) {
	case "addressTo":
		return FieldAddressTo, nil
	case "amount":
		return FieldAmount, nil
	case "keyword":
		return FieldKeyword, nil
	case "message":
		return FieldMessage, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
}

// FormData holds the raw, unvalidated form values.
type FormData struct {
	AddressTo string
	Amount    string
	Keyword   string
	Message   string
}

// with returns a copy of fd with one field replaced.
func (fd FormData) with(f Field, value string) (FormData, error) {
	switch f {
	case FieldAddressTo:
		fd.AddressTo = value
	case FieldAmount:
		fd.Amount = value
	case FieldKeyword:
		fd.Keyword = value
	case FieldMessage:
		fd.Message = value
	default:
		return fd, fmt.Errorf("%w: %s", ErrUnknownField, f)
	}
	return fd, nil
}
