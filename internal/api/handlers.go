package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Psalm112/Dezentra/internal/models"
	"github.com/Psalm112/Dezentra/internal/txerr"
)

// WalletService is the wallet session surface exposed over HTTP
type WalletService interface {
	Connect(ctx context.Context) error
	SwitchNetwork(ctx context.Context, chainID uint64) error
	Disconnect(ctx context.Context) error
	Snapshot() models.WalletSnapshot
}

// TradeService is the orchestrator surface exposed over HTTP
type TradeService interface {
	BuyTrade(ctx context.Context, req *models.PurchaseRequest) (*models.PaymentTransaction, error)
	ApproveAllowance(ctx context.Context, amount string) (string, error)
	Allowance(ctx context.Context) (*models.AllowanceState, error)
	ConfirmDelivery(ctx context.Context, purchaseID string) (string, error)
	CancelPurchase(ctx context.Context, purchaseID string) (string, error)
	RaiseDispute(ctx context.Context, purchaseID string) (string, error)
}

// RateService serves cached exchange rates
type RateService interface {
	GetRates(ctx context.Context, chainID uint64) *models.ExchangeRates
}

// BalanceService triggers manual balance refreshes
type BalanceService interface {
	RefreshBalances(ctx context.Context)
}

// TxHistory lists previously submitted transactions
type TxHistory interface {
	ListPaymentTransactions(ctx context.Context, from string, limit, offset int) ([]models.PaymentTransaction, error)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	wallet  WalletService
	trades  TradeService
	rates   RateService
	balance BalanceService
	history TxHistory
	logger  *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	wallet WalletService,
	trades TradeService,
	rates RateService,
	balance BalanceService,
	history TxHistory,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		wallet:  wallet,
		trades:  trades,
		rates:   rates,
		balance: balance,
		history: history,
		logger:  logger,
	}
}

// ==================== Health Check ====================

// HandleHealth returns service health status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: "1.0.0",
	})
}

// ==================== Wallet ====================

// HandleGetWallet handles GET /api/v1/wallet
func (h *Handler) HandleGetWallet(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.wallet.Snapshot())
}

// HandleConnect handles POST /api/v1/wallet/connect
func (h *Handler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if err := h.wallet.Connect(r.Context()); err != nil {
		h.logger.Warn("Wallet connect failed", zap.Error(err))
		respondClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.wallet.Snapshot())
}

// HandleDisconnect handles POST /api/v1/wallet/disconnect
func (h *Handler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.wallet.Disconnect(r.Context()); err != nil {
		respondClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.wallet.Snapshot())
}

// HandleSwitchNetwork handles POST /api/v1/wallet/switch-network
func (h *Handler) HandleSwitchNetwork(w http.ResponseWriter, r *http.Request) {
	var req SwitchNetworkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ChainID == 0 {
		respondError(w, http.StatusBadRequest, "chain_id is required", nil)
		return
	}

	if err := h.wallet.SwitchNetwork(r.Context(), req.ChainID); err != nil {
		h.logger.Warn("Network switch failed",
			zap.Uint64("chain_id", req.ChainID),
			zap.Error(err))
		respondClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.wallet.Snapshot())
}

// ==================== Balances & Rates ====================

// HandleGetBalances handles GET /api/v1/balances
func (h *Handler) HandleGetBalances(w http.ResponseWriter, r *http.Request) {
	snapshot := h.wallet.Snapshot()
	respondJSON(w, http.StatusOK, snapshot)
}

// HandleRefreshBalances handles POST /api/v1/balances/refresh
func (h *Handler) HandleRefreshBalances(w http.ResponseWriter, r *http.Request) {
	h.balance.RefreshBalances(r.Context())
	respondJSON(w, http.StatusOK, h.wallet.Snapshot())
}

// HandleGetRates handles GET /api/v1/rates/{chainId}
func (h *Handler) HandleGetRates(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseUint(mux.Vars(r)["chainId"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid chain id", err)
		return
	}
	respondJSON(w, http.StatusOK, h.rates.GetRates(r.Context(), chainID))
}

// ==================== Trades ====================

// HandleBuyTrade handles POST /api/v1/trades/buy
func (h *Handler) HandleBuyTrade(w http.ResponseWriter, r *http.Request) {
	var req BuyTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.TradeID == "" {
		respondError(w, http.StatusBadRequest, "trade_id is required", nil)
		return
	}

	purchase := &models.PurchaseRequest{
		TradeID:                  req.TradeID,
		Quantity:                 req.Quantity,
		LogisticsProviderAddress: req.LogisticsProviderAddress,
	}
	if req.CrossChain != nil {
		purchase.CrossChain = &models.CrossChainParams{
			DestinationChainSelector: req.CrossChain.DestinationChainSelector,
			DestinationContract:      req.CrossChain.DestinationContract,
			FeeToken:                 req.CrossChain.FeeToken,
		}
	}

	tx, err := h.trades.BuyTrade(r.Context(), purchase)
	if err != nil {
		h.logger.Warn("BuyTrade failed",
			zap.String("trade_id", req.TradeID),
			zap.Error(err))
		respondClassified(w, err)
		return
	}

	respondJSON(w, http.StatusOK, BuyTradeResponse{
		Result: models.ActionResult{
			Success: true,
			Message: "Purchase submitted",
			Hash:    tx.Hash,
		},
		Transaction: tx,
	})
}

// ==================== Allowance ====================

// HandleGetAllowance handles GET /api/v1/allowance
func (h *Handler) HandleGetAllowance(w http.ResponseWriter, r *http.Request) {
	allowance, err := h.trades.Allowance(r.Context())
	if err != nil {
		respondClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, allowance)
}

// HandleApproveAllowance handles POST /api/v1/allowance/approve
func (h *Handler) HandleApproveAllowance(w http.ResponseWriter, r *http.Request) {
	var req ApproveAllowanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Amount == "" {
		respondError(w, http.StatusBadRequest, "amount is required", nil)
		return
	}

	hash, err := h.trades.ApproveAllowance(r.Context(), req.Amount)
	if err != nil {
		respondClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, models.ActionResult{
		Success: true,
		Message: "Allowance approved",
		Hash:    hash,
	})
}

// ==================== Purchase Lifecycle ====================

// HandlePurchaseAction dispatches confirm/cancel/dispute for a purchase
func (h *Handler) HandlePurchaseAction(action func(context.Context, string) (string, error), message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		purchaseID := mux.Vars(r)["purchaseId"]
		if purchaseID == "" {
			respondError(w, http.StatusBadRequest, "purchase id is required", nil)
			return
		}

		hash, err := action(r.Context(), purchaseID)
		if err != nil {
			h.logger.Warn("Purchase action failed",
				zap.String("purchase_id", purchaseID),
				zap.Error(err))
			respondClassified(w, err)
			return
		}
		respondJSON(w, http.StatusOK, models.ActionResult{
			Success: true,
			Message: message,
			Hash:    hash,
		})
	}
}

// ==================== Transactions ====================

// HandleListTransactions handles GET /api/v1/transactions
func (h *Handler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	snapshot := h.wallet.Snapshot()
	if !snapshot.IsConnected {
		respondClassified(w, txerr.New(txerr.KindWalletNotConnected))
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	txs, err := h.history.ListPaymentTransactions(r.Context(), snapshot.Address, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}
	respondJSON(w, http.StatusOK, ListTransactionsResponse{Transactions: txs})
}

// ==================== Responders ====================

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Headers are already out; nothing left to do.
		return
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Message = err.Error()
	}
	respondJSON(w, status, resp)
}

// respondClassified maps a classified failure to an HTTP status plus the
// user-facing message for its kind.
func respondClassified(w http.ResponseWriter, err error) {
	kind := txerr.KindOf(err)
	respondJSON(w, statusForKind(kind), ErrorResponse{
		Error:   string(kind),
		Message: txerr.UserMessage(kind),
	})
}

func statusForKind(kind txerr.Kind) int {
	switch kind {
	case txerr.KindWalletNotConnected, txerr.KindWrongNetwork:
		return http.StatusConflict
	case txerr.KindInvalidAddress, txerr.KindInvalidQuantity,
		txerr.KindInvalidLogisticsProvider, txerr.KindInvalidTrade,
		txerr.KindInsufficientQuantity, txerr.KindSelfPurchase,
		txerr.KindInsufficientBalance, txerr.KindInsufficientAllowance,
		txerr.KindCrossChainUnsupported, txerr.KindInsufficientCrossChainFee,
		txerr.KindUserRejected:
		return http.StatusBadRequest
	case txerr.KindContractsUnavailable:
		return http.StatusServiceUnavailable
	case txerr.KindNetworkError, txerr.KindGasFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
