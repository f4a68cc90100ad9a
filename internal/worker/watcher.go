package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/Psalm112/Dezentra/internal/database"
)

// Constants for watcher configuration
const (
	DefaultPollInterval = 30 * time.Second
	PollTimeout         = 30 * time.Second
	pendingPageSize     = 100
)

// ReceiptChecker performs a one-shot receipt lookup. A nil receipt with a
// nil error means the transaction is not mined yet.
type ReceiptChecker interface {
	Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Watcher owns the confirmation polling loop. The orchestrator leaves
// submitted transactions pending; the watcher is the caller-side observer
// that moves them to confirmed or failed.
type Watcher struct {
	db      *database.DB
	clients map[uint64]ReceiptChecker
	logger  *zap.Logger

	monitor *Monitor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a confirmation watcher over the per-chain clients.
func NewWatcher(db *database.DB, clients map[uint64]ReceiptChecker, logger *zap.Logger) *Watcher {
	logger = logger.Named("worker")
	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		db:      db,
		clients: clients,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	w.monitor = NewMonitor(w)
	return w
}

// Start starts the watcher goroutine
func (w *Watcher) Start() {
	w.logger.Info("Starting confirmation watcher",
		zap.Int("num_chains", len(w.clients)),
		zap.Duration("poll_interval", DefaultPollInterval))

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.monitor.Run(w.ctx)
	}()
}

// Shutdown gracefully stops the watcher
func (w *Watcher) Shutdown(timeout time.Duration) error {
	w.logger.Info("Shutting down confirmation watcher")

	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Watcher stopped gracefully")
	case <-time.After(timeout):
		w.logger.Warn("Watcher shutdown timed out")
	}

	return nil
}
