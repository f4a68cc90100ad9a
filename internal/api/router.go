package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// SetupRouter creates and configures the HTTP router
func SetupRouter(handler *Handler, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()

	// Apply middleware
	router.Use(loggingMiddleware(logger))
	router.Use(corsMiddleware())
	router.Use(recoveryMiddleware(logger))

	// Health check endpoint
	router.HandleFunc("/health", handler.HandleHealth).Methods(http.MethodGet)

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	// Wallet session
	api.HandleFunc("/wallet", handler.HandleGetWallet).Methods(http.MethodGet)
	api.HandleFunc("/wallet/connect", handler.HandleConnect).Methods(http.MethodPost)
	api.HandleFunc("/wallet/disconnect", handler.HandleDisconnect).Methods(http.MethodPost)
	api.HandleFunc("/wallet/switch-network", handler.HandleSwitchNetwork).Methods(http.MethodPost)

	// Balances and rates
	api.HandleFunc("/balances", handler.HandleGetBalances).Methods(http.MethodGet)
	api.HandleFunc("/balances/refresh", handler.HandleRefreshBalances).Methods(http.MethodPost)
	api.HandleFunc("/rates/{chainId}", handler.HandleGetRates).Methods(http.MethodGet)

	// Trades and allowance
	api.HandleFunc("/trades/buy", handler.HandleBuyTrade).Methods(http.MethodPost)
	api.HandleFunc("/allowance", handler.HandleGetAllowance).Methods(http.MethodGet)
	api.HandleFunc("/allowance/approve", handler.HandleApproveAllowance).Methods(http.MethodPost)

	// Purchase lifecycle
	api.HandleFunc("/purchases/{purchaseId}/confirm",
		handler.HandlePurchaseAction(handler.trades.ConfirmDelivery, "Delivery confirmed")).Methods(http.MethodPost)
	api.HandleFunc("/purchases/{purchaseId}/cancel",
		handler.HandlePurchaseAction(handler.trades.CancelPurchase, "Purchase canceled")).Methods(http.MethodPost)
	api.HandleFunc("/purchases/{purchaseId}/dispute",
		handler.HandlePurchaseAction(handler.trades.RaiseDispute, "Dispute raised")).Methods(http.MethodPost)

	// Transaction history
	api.HandleFunc("/transactions", handler.HandleListTransactions).Methods(http.MethodGet)

	return router
}

// statusRecorder captures the status code written by a handler so the
// logging middleware can report it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)

			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("elapsed", time.Since(start)))
		})
	}
}

func corsMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func recoveryMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panic",
						zap.Any("panic", rec),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path))
					respondJSON(w, http.StatusInternalServerError, ErrorResponse{
						Error:   "internal_error",
						Message: "An unexpected error occurred",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
