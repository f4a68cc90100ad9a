package txerr

import "fmt"

// Kind is the closed taxonomy of failure classifications surfaced to callers.
type Kind string

const (
	KindInsufficientBalance       Kind = "INSUFFICIENT_BALANCE"
	KindInsufficientAllowance     Kind = "INSUFFICIENT_ALLOWANCE"
	KindInvalidTrade              Kind = "INVALID_TRADE"
	KindInsufficientQuantity      Kind = "INSUFFICIENT_QUANTITY"
	KindInvalidLogisticsProvider  Kind = "INVALID_LOGISTICS_PROVIDER"
	KindSelfPurchase              Kind = "SELF_PURCHASE"
	KindUserRejected              Kind = "USER_REJECTED"
	KindNetworkError              Kind = "NETWORK_ERROR"
	KindGasFailure                Kind = "GAS_FAILURE"
	KindCrossChainUnsupported     Kind = "CROSS_CHAIN_UNSUPPORTED"
	KindInsufficientCrossChainFee Kind = "INSUFFICIENT_CROSS_CHAIN_FEE"
	KindWalletNotConnected        Kind = "WALLET_NOT_CONNECTED"
	KindWrongNetwork              Kind = "WRONG_NETWORK"
	KindContractsUnavailable      Kind = "CONTRACTS_UNAVAILABLE"
	KindInvalidAddress            Kind = "INVALID_ADDRESS"
	KindInvalidQuantity           Kind = "INVALID_QUANTITY"
	KindUnknown                   Kind = "UNKNOWN"
)

// Error is a classified failure carrying both the internal kind and the
// underlying cause. The user-facing message comes from UserMessage, not
// from the wrapped error text.
type Error struct {
	Kind  Kind
	cause error
}

// New creates a classified error without an underlying cause.
func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Wrap attaches a classification to an underlying error.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf extracts the classification from an error, classifying raw error
// text when the error is not already a *Error.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if classified, ok := err.(*Error); ok {
		return classified.Kind
	}
	return Classify(err.Error())
}

// userMessages maps each kind to a short actionable message, distinct from
// the internal classification key.
var userMessages = map[Kind]string{
	KindInsufficientBalance:       "Insufficient USDT balance for this purchase",
	KindInsufficientAllowance:     "Approve USDT spending before purchasing",
	KindInvalidTrade:              "This trade is no longer available",
	KindInsufficientQuantity:      "Not enough quantity remaining for this trade",
	KindInvalidLogisticsProvider:  "The selected logistics provider is invalid",
	KindSelfPurchase:              "You cannot purchase your own trade",
	KindUserRejected:              "Transaction was rejected in your wallet",
	KindNetworkError:              "Network error, please try again",
	KindGasFailure:                "Could not estimate transaction cost, please try again",
	KindCrossChainUnsupported:     "Cross-chain purchase is not supported for this destination",
	KindInsufficientCrossChainFee: "Insufficient native balance to pay the cross-chain fee",
	KindWalletNotConnected:        "Connect your wallet to continue",
	KindWrongNetwork:              "Switch to a supported network to continue",
	KindContractsUnavailable:      "This network is not supported yet",
	KindInvalidAddress:            "The provided address is not valid",
	KindInvalidQuantity:           "Quantity must be a positive number",
	KindUnknown:                   "Transaction failed, please try again",
}

// UserMessage returns the short user-facing message for a kind.
func UserMessage(kind Kind) string {
	if msg, ok := userMessages[kind]; ok {
		return msg
	}
	return userMessages[KindUnknown]
}
