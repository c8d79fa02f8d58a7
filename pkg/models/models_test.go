package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransaction_UnmarshalJSON(t *testing.T) {
	var txn Transaction
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "t1",
		"account_id": "acc-1",
		"amount": "9200.50",
		"type": "teleport",
		"timestamp": "2023-11-14T22:13:20Z",
		"metadata": {"counterparty": "acc-2"}
	}`), &txn))

	assert.Equal(t, "9200.5", txn.Amount.String())
	assert.Equal(t, TransactionTypeUnknown, txn.Type)
	assert.Equal(t, int64(1700000000), txn.Unix())
	assert.InDelta(t, 9200.5, txn.AmountFloat(), 1e-9)
}

func TestTransactionType_Sides(t *testing.T) {
	tests := []struct {
		typ  TransactionType
		buy  bool
		sell bool
	}{
		{TransactionTypeBuy, true, false},
		{TransactionTypeExchangeBuy, true, false},
		{TransactionTypeSell, false, true},
		{TransactionTypeExchangeSell, false, true},
		{TransactionTypeDeposit, false, false},
		{TransactionTypeUnknown, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			assert.Equal(t, tt.buy, tt.typ.IsBuySide())
			assert.Equal(t, tt.sell, tt.typ.IsSellSide())
			assert.Equal(t, tt.buy || tt.sell, tt.typ.IsTrade())
		})
	}
}

func TestTransaction_MetaString(t *testing.T) {
	txn := Transaction{Metadata: map[string]interface{}{
		"s":   "acc-9",
		"f":   12.5,
		"n":   json.Number("42"),
		"bad": []string{"x"},
		"nil": nil,
	}}

	v, ok, err := txn.MetaString("s")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "acc-9", v)

	v, _, err = txn.MetaString("f")
	require.NoError(t, err)
	assert.Equal(t, "12.5", v)

	v, _, err = txn.MetaString("n")
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	_, ok, err = txn.MetaString("nil")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = txn.MetaString("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = txn.MetaString("bad")
	assert.True(t, ok)
	assert.ErrorIs(t, err, ErrMalformedMetadata)
}

func TestTransaction_MetaDecimal(t *testing.T) {
	txn := Transaction{Metadata: map[string]interface{}{
		"str":    "10.25",
		"num":    json.Number("3"),
		"int":    7,
		"junk":   "ten",
		"object": map[string]interface{}{},
	}}

	d, ok, err := txn.MetaDecimal("str")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, decimal.RequireFromString("10.25").Equal(d))

	d, _, err = txn.MetaDecimal("num")
	require.NoError(t, err)
	assert.Equal(t, "3", d.String())

	d, _, err = txn.MetaDecimal("int")
	require.NoError(t, err)
	assert.Equal(t, "7", d.String())

	_, _, err = txn.MetaDecimal("junk")
	assert.ErrorIs(t, err, ErrMalformedMetadata)
	_, _, err = txn.MetaDecimal("object")
	assert.ErrorIs(t, err, ErrMalformedMetadata)
}

func TestSeverity_Weight(t *testing.T) {
	assert.Equal(t, 20.0, SeverityCritical.Weight())
	assert.Equal(t, 15.0, SeverityHigh.Weight())
	assert.Equal(t, 10.0, SeverityMedium.Weight())
	assert.Equal(t, 5.0, SeverityLow.Weight())
	assert.Zero(t, Severity("bogus").Weight())
}

func TestResult_HasFindings(t *testing.T) {
	assert.False(t, (&Result{}).HasFindings())
	assert.True(t, (&Result{Alerts: []Alert{{Type: AlertTypeVelocityExceeded}}}).HasFindings())
	assert.True(t, (&Result{Patterns: []PatternMatch{{Type: PatternLayering}}}).HasFindings())
}
