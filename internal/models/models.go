package models

import "time"

// TxStatus represents the lifecycle state of a payment transaction
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// Currency identifies one of the three unit lenses a balance can be viewed through
type Currency string

const (
	CurrencyStable Currency = "STABLE"
	CurrencyNative Currency = "NATIVE"
	CurrencyFiat   Currency = "FIAT"
)

// TokenBalance renders a single raw on-chain integer balance through three
// unit lenses. Raw is the smallest-unit integer as a decimal string; the
// three derived views are pure functions of Raw and the current rates.
type TokenBalance struct {
	Raw           string  `json:"raw"`
	InStableUnits float64 `json:"in_stable_units"`
	InNativeUnits float64 `json:"in_native_units"`
	InFiatUnits   float64 `json:"in_fiat_units"`
}

// WalletSnapshot is the canonical wallet state owned by the wallet session.
// Address and ChainID are both set or both empty.
type WalletSnapshot struct {
	Address       string        `json:"address,omitempty"`
	ChainID       uint64        `json:"chain_id,omitempty"`
	IsConnected   bool          `json:"is_connected"`
	IsConnecting  bool          `json:"is_connecting"`
	NativeBalance string        `json:"native_balance,omitempty"`
	TokenBalance  *TokenBalance `json:"token_balance,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
}

// ExchangeRates holds chain-scoped token/fiat conversion ratios.
// A record for chain A is never applied while the wallet is on chain B.
type ExchangeRates struct {
	StableToNative    float64 `json:"stable_to_native"`
	StableToFiat      float64 `json:"stable_to_fiat"`
	NativeToFiat      float64 `json:"native_to_fiat"`
	NativeTokenSymbol string  `json:"native_token_symbol"`
	NativeTokenName   string  `json:"native_token_name"`
	ChainID           uint64  `json:"chain_id"`
	LastUpdated       int64   `json:"last_updated"` // epoch ms
}

// Age returns how old the record is relative to now.
func (r *ExchangeRates) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(r.LastUpdated))
}

// CrossChainParams carries the routing information for a purchase whose
// settlement happens on a different chain.
type CrossChainParams struct {
	DestinationChainSelector uint64 `json:"destination_chain_selector"`
	DestinationContract      string `json:"destination_contract"`
	FeeToken                 string `json:"fee_token"`
}

// PurchaseRequest is the caller-constructed input to the trade orchestrator.
type PurchaseRequest struct {
	TradeID                  string            `json:"trade_id"`
	Quantity                 uint64            `json:"quantity"`
	LogisticsProviderAddress string            `json:"logistics_provider_address"`
	CrossChain               *CrossChainParams `json:"cross_chain,omitempty"`
}

// PaymentTransaction is the orchestrator's record of a submitted purchase.
// Status stays pending after submission; the orchestrator never marks a
// transaction confirmed on its own.
type PaymentTransaction struct {
	Hash       string   `json:"hash" db:"hash"`
	ChainID    uint64   `json:"chain_id" db:"chain_id"`
	Amount     string   `json:"amount" db:"amount"`
	Token      string   `json:"token" db:"token"`
	To         string   `json:"to" db:"to_address"`
	From       string   `json:"from" db:"from_address"`
	Status     TxStatus `json:"status" db:"status"`
	Timestamp  int64    `json:"timestamp" db:"timestamp"`
	PurchaseID string   `json:"purchase_id,omitempty" db:"purchase_id"`
	MessageID  string   `json:"message_id,omitempty" db:"message_id"`
	CrossChain bool     `json:"cross_chain" db:"cross_chain"`
}

// TradeDetails is the authoritative on-chain view of a listed trade.
// Amounts are in the stable token's smallest unit.
type TradeDetails struct {
	TradeID           string
	Seller            string
	UnitCost          string // smallest-unit integer as decimal string
	RemainingQuantity uint64
	Active            bool
}

// AllowanceState is the current approved spend for the escrow contract,
// scoped to one chain and token.
type AllowanceState struct {
	ChainID  uint64 `json:"chain_id"`
	Token    string `json:"token"`
	Owner    string `json:"owner"`
	Spender  string `json:"spender"`
	Approved string `json:"approved"` // smallest-unit integer
}

// ActionResult is the uniform outcome shape for UI-boundary actions.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Hash    string `json:"hash,omitempty"`
}
