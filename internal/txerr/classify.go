package txerr

import "strings"

// matchRule pairs a lowercase substring with the kind it indicates.
// Rules are checked in order and the first match wins, so more specific
// phrases must come before generic ones.
type matchRule struct {
	substring string
	kind      Kind
}

// classifyRules is the exhaustive match table. The substrings track known
// escrow revert reasons and wallet-provider rejection phrases; provider
// wording drifts between versions, so anything unmatched is Unknown.
var classifyRules = []matchRule{
	// Escrow revert reasons
	{"insufficient allowance", KindInsufficientAllowance},
	{"erc20: transfer amount exceeds allowance", KindInsufficientAllowance},
	{"insufficient balance", KindInsufficientBalance},
	{"erc20: transfer amount exceeds balance", KindInsufficientBalance},
	{"transfer amount exceeds", KindInsufficientBalance},
	{"insufficient funds", KindInsufficientBalance},
	{"insufficient quantity", KindInsufficientQuantity},
	{"quantity exceeds", KindInsufficientQuantity},
	{"trade not active", KindInvalidTrade},
	{"trade does not exist", KindInvalidTrade},
	{"invalid trade", KindInvalidTrade},
	{"invalid logistics provider", KindInvalidLogisticsProvider},
	{"logistics provider not registered", KindInvalidLogisticsProvider},
	{"cannot buy own trade", KindSelfPurchase},
	{"seller cannot purchase", KindSelfPurchase},
	{"self purchase", KindSelfPurchase},

	// Cross-chain router failures
	{"unsupported destination chain", KindCrossChainUnsupported},
	{"destination chain not allowlisted", KindCrossChainUnsupported},
	{"invalid chain selector", KindCrossChainUnsupported},
	{"insufficient fee token amount", KindInsufficientCrossChainFee},
	{"msg.value does not match fee", KindInsufficientCrossChainFee},

	// Wallet provider rejections
	{"user rejected", KindUserRejected},
	{"user denied", KindUserRejected},
	{"request rejected", KindUserRejected},
	{"action_rejected", KindUserRejected},

	// Gas and estimation failures
	{"out of gas", KindGasFailure},
	{"gas required exceeds allowance", KindGasFailure},
	{"intrinsic gas too low", KindGasFailure},
	{"cannot estimate gas", KindGasFailure},
	{"replacement transaction underpriced", KindGasFailure},
	{"nonce too low", KindGasFailure},

	// Connectivity
	{"timeout", KindNetworkError},
	{"deadline exceeded", KindNetworkError},
	{"connection refused", KindNetworkError},
	{"connection reset", KindNetworkError},
	{"no such host", KindNetworkError},
	{"network error", KindNetworkError},
	{"503", KindNetworkError},
	{"429", KindNetworkError},
}

// Classify maps raw failure text from the chain client or wallet provider
// to an error kind. Matching is case-insensitive and best-effort; unmatched
// text classifies as Unknown rather than guessing.
func Classify(raw string) Kind {
	if raw == "" {
		return KindUnknown
	}
	lowered := strings.ToLower(raw)
	for _, rule := range classifyRules {
		if strings.Contains(lowered, rule.substring) {
			return rule.kind
		}
	}
	return KindUnknown
}
