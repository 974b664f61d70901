package query

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// BalanceResponse is one holder's projected balance of one token. Vault
// shares use the vault address as token.
type BalanceResponse struct {
	Token   string `json:"token"`
	Holder  string `json:"holder"`
	Balance string `json:"balance"`

	// Display is Balance scaled by the token's decimals; empty when the
	// decimals are unknown.
	Display  string `json:"display,omitempty"`
	Decimals *uint8 `json:"decimals,omitempty"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// FormatUnits renders amount with decimals fractional digits, trailing
// zeros trimmed: FormatUnits(1500000, 6) == "1.5".
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// formatNumeric is FormatUnits for a NUMERIC column scanned as text.
func formatNumeric(s string, decimals uint8) string {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return s
	}
	return FormatUnits(v, decimals)
}
