package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType enumerates the transaction kinds understood by the detectors
type TransactionType string

const (
	TransactionTypeDeposit      TransactionType = "deposit"
	TransactionTypeWithdrawal   TransactionType = "withdrawal"
	TransactionTypeTransfer     TransactionType = "transfer"
	TransactionTypeBuy          TransactionType = "buy"
	TransactionTypeSell         TransactionType = "sell"
	TransactionTypeExchangeBuy  TransactionType = "exchange_buy"
	TransactionTypeExchangeSell TransactionType = "exchange_sell"
	TransactionTypeUnknown      TransactionType = "unknown"
)

// Well-known metadata keys
const (
	MetaCounterparty       = "counterparty"
	MetaDestinationAccount = "destination_account"
	MetaRoutingPath        = "routing_path"
	MetaFrom               = "from"
	MetaTo                 = "to"
	MetaPrice              = "price"
)

// ErrMalformedMetadata is returned when a metadata key is present but has an unusable shape
var ErrMalformedMetadata = errors.New("malformed transaction metadata")

// ParseTransactionType normalises a raw type string; unrecognised values map to unknown
func ParseTransactionType(raw string) TransactionType {
	switch t := TransactionType(raw); t {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypeTransfer,
		TransactionTypeBuy, TransactionTypeSell, TransactionTypeExchangeBuy, TransactionTypeExchangeSell:
		return t
	default:
		return TransactionTypeUnknown
	}
}

// IsBuySide reports whether the type accumulates a position
func (t TransactionType) IsBuySide() bool {
	return t == TransactionTypeBuy || t == TransactionTypeExchangeBuy
}

// IsSellSide reports whether the type distributes a position
func (t TransactionType) IsSellSide() bool {
	return t == TransactionTypeSell || t == TransactionTypeExchangeSell
}

// IsTrade reports whether the type is a market trade
func (t TransactionType) IsTrade() bool {
	return t.IsBuySide() || t.IsSellSide()
}

// UnmarshalJSON maps unknown strings to TransactionTypeUnknown
func (t *TransactionType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = ParseTransactionType(raw)
	return nil
}

// Transaction is the ephemeral record evaluated by the stream processor
type Transaction struct {
	ID        string                 `json:"id" validate:"required"`
	AccountID string                 `json:"account_id" validate:"required"`
	OwnerID   string                 `json:"owner_id,omitempty"`
	Amount    decimal.Decimal        `json:"amount" validate:"gte=0"`
	Type      TransactionType        `json:"type"`
	Timestamp time.Time              `json:"timestamp" validate:"required"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Unix returns the event time in seconds
func (t Transaction) Unix() int64 {
	return t.Timestamp.Unix()
}

// AmountFloat returns the amount as a float64 for statistical work
func (t Transaction) AmountFloat() float64 {
	return t.Amount.InexactFloat64()
}

// MetaString returns a string metadata value. Numbers are formatted; any other
// shape is reported as ErrMalformedMetadata.
func (t Transaction) MetaString(key string) (string, bool, error) {
	v, ok := t.Metadata[key]
	if !ok || v == nil {
		return "", false, nil
	}
	switch val := v.(type) {
	case string:
		return val, true, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true, nil
	case int:
		return strconv.Itoa(val), true, nil
	case int64:
		return strconv.FormatInt(val, 10), true, nil
	case json.Number:
		return val.String(), true, nil
	default:
		return "", true, fmt.Errorf("%w: %s has type %T", ErrMalformedMetadata, key, v)
	}
}

// MetaDecimal returns a numeric metadata value
func (t Transaction) MetaDecimal(key string) (decimal.Decimal, bool, error) {
	v, ok := t.Metadata[key]
	if !ok || v == nil {
		return decimal.Zero, false, nil
	}
	switch val := v.(type) {
	case decimal.Decimal:
		return val, true, nil
	case float64:
		return decimal.NewFromFloat(val), true, nil
	case int:
		return decimal.NewFromInt(int64(val)), true, nil
	case int64:
		return decimal.NewFromInt(val), true, nil
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return decimal.Zero, true, fmt.Errorf("%w: %s: %v", ErrMalformedMetadata, key, err)
		}
		return d, true, nil
	case string:
		d, err := decimal.NewFromString(val)
		if err != nil {
			return decimal.Zero, true, fmt.Errorf("%w: %s=%q", ErrMalformedMetadata, key, val)
		}
		return d, true, nil
	default:
		return decimal.Zero, true, fmt.Errorf("%w: %s has type %T", ErrMalformedMetadata, key, v)
	}
}
