package protocol

import "errors"

// Error taxonomy shared by every component. Callers match with errors.Is;
// wrapping sites add context with fmt.Errorf("...: %w", err).
var (
	ErrZeroAddress   = errors.New("zero address")
	ErrNotAuthorized = errors.New("not authorized")

	// Registry / adapter validation
	ErrAdapterNotSet  = errors.New("adapter not set")
	ErrInvalidAdapter = errors.New("invalid adapter")

	// Oracle health
	ErrInvalidPrice     = errors.New("invalid price")
	ErrStalePrice       = errors.New("stale price")
	ErrPriceOutOfBounds = errors.New("price out of bounds")

	// Request validation
	ErrAmountMustBeGreaterThanZero = errors.New("amount must be greater than zero")
	ErrSharesMustBeGreaterThanZero = errors.New("shares must be greater than zero")
	ErrNotEnoughShares             = errors.New("not enough shares")

	// Intent validation
	ErrTokenNotWhitelisted = errors.New("token not whitelisted")
	ErrInvalidTotalAmount  = errors.New("invalid total amount")
	ErrEmptyIntent         = errors.New("empty intent")

	ErrTransferFailed = errors.New("transfer failed")
	ErrInvalidProof   = errors.New("invalid proof")

	// Policy rejections of the ERC-4626 synchronous entry points
	ErrSynchronousDepositDisabled  = errors.New("synchronous deposit disabled")
	ErrSynchronousMintDisabled     = errors.New("synchronous mint disabled")
	ErrSynchronousWithdrawDisabled = errors.New("synchronous withdraw disabled")
	ErrSynchronousRedeemDisabled   = errors.New("synchronous redeem disabled")

	// Orchestration
	ErrPhaseMismatch   = errors.New("phase mismatch")
	ErrUpkeepNotNeeded = errors.New("upkeep not needed")

	ErrZeroPrice             = errors.New("zero price")
	ErrReentrantCall         = errors.New("reentrant call")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrUnknownVault          = errors.New("unknown vault")
)

// retryable lists failures that may clear on their own or with a corrected
// retry (fresh oracle round, later proof, next tick). Everything else is
// a caller error that should be abandoned.
var retryable = map[error]bool{
	ErrInvalidPrice:          true,
	ErrStalePrice:            true,
	ErrPriceOutOfBounds:      true,
	ErrInvalidProof:          true,
	ErrUpkeepNotNeeded:       true,
	ErrTransferFailed:        true,
	ErrReentrantCall:         true,
	ErrInsufficientLiquidity: true,
	ErrPhaseMismatch:         true,
}

// IsRetryable reports whether err wraps a failure the keeper should retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for sentinel := range retryable {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
