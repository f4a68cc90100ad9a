package txerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected Kind
	}{
		{
			name:     "escrow insufficient allowance revert",
			raw:      "execution reverted: Insufficient allowance",
			expected: KindInsufficientAllowance,
		},
		{
			name:     "erc20 allowance revert",
			raw:      "execution reverted: ERC20: transfer amount exceeds allowance",
			expected: KindInsufficientAllowance,
		},
		{
			name:     "erc20 balance revert",
			raw:      "execution reverted: ERC20: transfer amount exceeds balance",
			expected: KindInsufficientBalance,
		},
		{
			name:     "node insufficient funds",
			raw:      "insufficient funds for gas * price + value",
			expected: KindInsufficientBalance,
		},
		{
			name:     "quantity exceeded",
			raw:      "execution reverted: Insufficient quantity remaining",
			expected: KindInsufficientQuantity,
		},
		{
			name:     "inactive trade",
			raw:      "execution reverted: Trade not active",
			expected: KindInvalidTrade,
		},
		{
			name:     "unregistered logistics provider",
			raw:      "execution reverted: Invalid logistics provider",
			expected: KindInvalidLogisticsProvider,
		},
		{
			name:     "self purchase",
			raw:      "execution reverted: cannot buy own trade",
			expected: KindSelfPurchase,
		},
		{
			name:     "router destination not allowlisted",
			raw:      "execution reverted: unsupported destination chain",
			expected: KindCrossChainUnsupported,
		},
		{
			name:     "router fee mismatch",
			raw:      "execution reverted: insufficient fee token amount",
			expected: KindInsufficientCrossChainFee,
		},
		{
			name:     "metamask style rejection",
			raw:      "MetaMask Tx Signature: User denied transaction signature.",
			expected: KindUserRejected,
		},
		{
			name:     "eip-1193 rejection code",
			raw:      "ACTION_REJECTED: user disapproved requested methods",
			expected: KindUserRejected,
		},
		{
			name:     "gas estimation failure",
			raw:      "gas required exceeds allowance (21000)",
			expected: KindGasFailure,
		},
		{
			name:     "nonce too low",
			raw:      "nonce too low: next nonce 7, tx nonce 5",
			expected: KindGasFailure,
		},
		{
			name:     "rpc timeout",
			raw:      "Post \"https://rpc.example\": context deadline exceeded",
			expected: KindNetworkError,
		},
		{
			name:     "connection refused",
			raw:      "dial tcp 127.0.0.1:8545: connect: connection refused",
			expected: KindNetworkError,
		},
		{
			name:     "case insensitive matching",
			raw:      "EXECUTION REVERTED: TRADE NOT ACTIVE",
			expected: KindInvalidTrade,
		},
		{
			name:     "unmatched text is unknown",
			raw:      "something novel went wrong",
			expected: KindUnknown,
		},
		{
			name:     "empty text is unknown",
			raw:      "",
			expected: KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.raw)
			if got != tt.expected {
				t.Errorf("Classify(%q) = %s, want %s", tt.raw, got, tt.expected)
			}
		})
	}
}

func TestClassify_AllowanceBeforeBalance(t *testing.T) {
	// "transfer amount exceeds allowance" must not fall into the broader
	// "transfer amount exceeds" balance rule.
	got := Classify("ERC20: transfer amount exceeds allowance")
	if got != KindInsufficientAllowance {
		t.Errorf("got %s, want %s", got, KindInsufficientAllowance)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: KindUnknown,
		},
		{
			name:     "already classified",
			err:      New(KindWrongNetwork),
			expected: KindWrongNetwork,
		},
		{
			name:     "classified with cause",
			err:      Wrap(KindNetworkError, errors.New("connection reset by peer")),
			expected: KindNetworkError,
		},
		{
			name:     "raw error classified by text",
			err:      errors.New("execution reverted: Trade does not exist"),
			expected: KindInvalidTrade,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := KindOf(tt.err)
			if got != tt.expected {
				t.Errorf("KindOf() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(KindGasFailure, cause)

	if !errors.Is(wrapped, cause) {
		t.Error("expected wrapped error to match its cause via errors.Is")
	}
	if wrapped.Error() != fmt.Sprintf("%s: %v", KindGasFailure, cause) {
		t.Errorf("unexpected error text: %s", wrapped.Error())
	}
}

func TestUserMessage(t *testing.T) {
	if msg := UserMessage(KindWalletNotConnected); msg != "Connect your wallet to continue" {
		t.Errorf("unexpected message: %s", msg)
	}
	// Unregistered kinds fall back to the generic message.
	if msg := UserMessage(Kind("NOPE")); msg != UserMessage(KindUnknown) {
		t.Errorf("expected fallback message, got %s", msg)
	}
}
