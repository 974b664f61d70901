package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// IssuerAddress is the counter-account for mints and burns. Its balance is
// the negated total supply of the token, which keeps every token zero-sum.
var IssuerAddress = common.Address{}

// AccountKey identifies one holder's balance of one token. Vault shares use
// the vault's own address as the token.
type AccountKey struct {
	Token  common.Address
	Holder common.Address
}

// NewAccountKey creates a holder account key.
func NewAccountKey(token, holder common.Address) AccountKey {
	return AccountKey{Token: token, Holder: holder}
}

// NewIssuerAccountKey creates the supply counter-account key for token.
func NewIssuerAccountKey(token common.Address) AccountKey {
	return AccountKey{Token: token, Holder: IssuerAddress}
}

// IsIssuer reports whether the key is a supply counter-account.
func (k AccountKey) IsIssuer() bool {
	return k.Holder == IssuerAddress
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	if k.IsIssuer() {
		return fmt.Sprintf("issuer:%s", k.Token.Hex())
	}
	return fmt.Sprintf("holder:%s:%s", k.Holder.Hex(), k.Token.Hex())
}
