package worker

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Psalm112/Dezentra/internal/models"
)

// Monitor polls the chain for receipts of pending payment transactions.
type Monitor struct {
	watcher *Watcher
	logger  *zap.Logger
}

// NewMonitor creates a new pending-transaction monitor
func NewMonitor(watcher *Watcher) *Monitor {
	return &Monitor{
		watcher: watcher,
		logger:  watcher.logger.Named("monitor"),
	}
}

// Run starts the monitor polling loop
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("Monitor started",
		zap.Duration("poll_interval", DefaultPollInterval))

	ticker := time.NewTicker(DefaultPollInterval)
	defer ticker.Stop()

	// Initial poll
	m.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Monitor stopping")
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// poll executes one polling cycle over all pending transactions
func (m *Monitor) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, PollTimeout)
	defer cancel()

	pending, err := m.watcher.db.ListPendingTransactions(pollCtx, pendingPageSize)
	if err != nil {
		m.logger.Error("Failed to list pending transactions", zap.Error(err))
		return
	}

	if len(pending) == 0 {
		return
	}

	m.logger.Debug("Checking pending transactions", zap.Int("count", len(pending)))

	for i := range pending {
		select {
		case <-pollCtx.Done():
			return
		default:
		}
		m.checkTransaction(pollCtx, &pending[i])
	}
}

// checkTransaction queries the receipt for one pending transaction and
// commits the resulting status. A transaction not yet mined stays pending.
func (m *Monitor) checkTransaction(ctx context.Context, tx *models.PaymentTransaction) {
	checker, ok := m.watcher.clients[tx.ChainID]
	if !ok {
		m.logger.Warn("No client for pending transaction's chain",
			zap.String("hash", tx.Hash),
			zap.Uint64("chain_id", tx.ChainID))
		return
	}

	receipt, err := checker.Receipt(ctx, common.HexToHash(tx.Hash))
	if err != nil || receipt == nil {
		// Not mined yet, or a transient read failure; retry next cycle.
		return
	}

	status := models.TxStatusConfirmed
	if receipt.Status == 0 {
		status = models.TxStatusFailed
	}

	if err := m.watcher.db.UpdatePaymentTransactionStatus(ctx, tx.Hash, status); err != nil {
		m.logger.Error("Failed to update transaction status",
			zap.String("hash", tx.Hash),
			zap.Error(err))
		return
	}

	m.logger.Info("Transaction settled",
		zap.String("hash", tx.Hash),
		zap.Uint64("chain_id", tx.ChainID),
		zap.String("status", string(status)))
}
