package api

import "github.com/Psalm112/Dezentra/internal/models"

// ==================== Wallet ====================

// SwitchNetworkRequest asks the wallet to move to another chain
type SwitchNetworkRequest struct {
	ChainID uint64 `json:"chain_id"`
}

// ==================== Trades ====================

// BuyTradeRequest is the HTTP shape of a purchase request
type BuyTradeRequest struct {
	TradeID                  string                `json:"trade_id"`
	Quantity                 uint64                `json:"quantity"`
	LogisticsProviderAddress string                `json:"logistics_provider_address"`
	CrossChain               *CrossChainRequestDTO `json:"cross_chain,omitempty"`
}

// CrossChainRequestDTO carries the optional cross-chain routing parameters
type CrossChainRequestDTO struct {
	DestinationChainSelector uint64 `json:"destination_chain_selector"`
	DestinationContract      string `json:"destination_contract"`
	FeeToken                 string `json:"fee_token"`
}

// BuyTradeResponse wraps the submitted transaction
type BuyTradeResponse struct {
	Result      models.ActionResult        `json:"result"`
	Transaction *models.PaymentTransaction `json:"transaction,omitempty"`
}

// ==================== Allowance ====================

// ApproveAllowanceRequest approves escrow spending up to Amount
// (stable-token smallest units)
type ApproveAllowanceRequest struct {
	Amount string `json:"amount"`
}

// ==================== Transactions ====================

// ListTransactionsResponse is the transaction history page
type ListTransactionsResponse struct {
	Transactions []models.PaymentTransaction `json:"transactions"`
}

// ==================== Error Response ====================

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==================== Health Check ====================

// HealthResponse represents health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
