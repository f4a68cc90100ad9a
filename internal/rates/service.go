package rates

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Psalm112/Dezentra/internal/clock"
	"github.com/Psalm112/Dezentra/internal/config"
	"github.com/Psalm112/Dezentra/internal/models"
)

// Staleness windows for cached rate records.
const (
	FreshWindow   = 5 * time.Minute  // serve without refetch
	ExpiredWindow = 30 * time.Minute // beyond this a refetch must complete
)

// Retry budget for a single refetch pipeline run.
const (
	fetchRetries = 2
)

// CurrencyResolver supplies the user's fiat currency for rate fetches.
type CurrencyResolver interface {
	UserCurrency(ctx context.Context) string
}

// SnapshotStore persists rate records keyed by chain id.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, key string, value interface{}, lastUpdated int64) error
	GetSnapshot(ctx context.Context, key string, out interface{}) (bool, error)
}

// Service fetches and caches token/fiat exchange rates per chain. Fetch
// failures degrade to cached or static default data; they never propagate
// to callers as errors.
type Service struct {
	cfg      *config.Config
	source   PriceSource
	currency CurrencyResolver
	store    SnapshotStore
	clock    clock.Clock
	logger   *zap.Logger

	// retryBaseDelay is the first backoff step (doubled per retry).
	// Overridable in tests.
	retryBaseDelay time.Duration

	mu        sync.Mutex
	cache     map[uint64]*models.ExchangeRates
	inFlight  map[uint64]bool
	restored  map[uint64]bool
	lastError string

	// Background refetches stop when the service context is canceled.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates the rate cache.
func NewService(
	cfg *config.Config,
	source PriceSource,
	currency CurrencyResolver,
	store SnapshotStore,
	clk clock.Clock,
	logger *zap.Logger,
) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:            cfg,
		source:         source,
		currency:       currency,
		store:          store,
		clock:          clk,
		logger:         logger.Named("rates"),
		retryBaseDelay: time.Second,
		cache:          make(map[uint64]*models.ExchangeRates),
		inFlight:       make(map[uint64]bool),
		restored:       make(map[uint64]bool),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Close cancels background refetches and waits for them to finish.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// LastError reports the most recent fetch failure, for observability only.
func (s *Service) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// GetRates returns rates for the chain. A fresh record is served as-is; a
// stale record is served immediately while a background refetch runs; an
// expired or absent record blocks on a refetch and falls back to the last
// cached record, then to the chain's static defaults. Never returns nil
// for a configured chain, and never returns an error.
func (s *Service) GetRates(ctx context.Context, chainID uint64) *models.ExchangeRates {
	chainCfg, ok := s.cfg.Chain(chainID)
	if !ok {
		// Unconfigured chains get a zero-defaults record rather than a panic;
		// callers gate on chain support before spending.
		return s.defaultRecord(&config.ChainConfig{ChainID: chainID})
	}

	s.mu.Lock()
	s.restoreLocked(ctx, chainID)
	cached := s.cache[chainID]
	now := s.clock.Now()
	s.mu.Unlock()

	if cached != nil {
		age := cached.Age(now)
		if age <= FreshWindow {
			return cached
		}
		if age <= ExpiredWindow {
			s.refreshAsync(chainID)
			return cached
		}
	}

	// Expired or absent: block until the refetch completes or fails.
	if fetched := s.refreshBlocking(ctx, chainID); fetched != nil {
		return fetched
	}

	// Fallback order: last-known cache for this chain (any age), then
	// static per-chain defaults.
	s.mu.Lock()
	cached = s.cache[chainID]
	s.mu.Unlock()
	if cached != nil {
		return cached
	}
	return s.defaultRecord(chainCfg)
}

// Refresh triggers a refetch for the chain. When force is false a fresh
// record short-circuits the refetch.
func (s *Service) Refresh(ctx context.Context, chainID uint64, force bool) {
	if !force {
		s.mu.Lock()
		cached := s.cache[chainID]
		now := s.clock.Now()
		s.mu.Unlock()
		if cached != nil && cached.Age(now) <= FreshWindow {
			return
		}
	}
	s.refreshBlocking(ctx, chainID)
}

// refreshAsync starts a background refetch unless one is already running
// for this chain.
func (s *Service) refreshAsync(chainID uint64) {
	s.mu.Lock()
	if s.inFlight[chainID] {
		s.mu.Unlock()
		return
	}
	s.inFlight[chainID] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.clearInFlight(chainID)
		s.fetchAndCommit(s.ctx, chainID)
	}()
}

// refreshBlocking runs the refetch pipeline synchronously. Returns nil on
// failure or when another refetch for this chain is already in flight.
func (s *Service) refreshBlocking(ctx context.Context, chainID uint64) *models.ExchangeRates {
	s.mu.Lock()
	if s.inFlight[chainID] {
		s.mu.Unlock()
		return nil
	}
	s.inFlight[chainID] = true
	s.mu.Unlock()
	defer s.clearInFlight(chainID)

	return s.fetchAndCommit(ctx, chainID)
}

func (s *Service) clearInFlight(chainID uint64) {
	s.mu.Lock()
	delete(s.inFlight, chainID)
	s.mu.Unlock()
}

// fetchAndCommit runs the refetch pipeline with retries and commits the
// result under a chain-id guard.
func (s *Service) fetchAndCommit(ctx context.Context, chainID uint64) *models.ExchangeRates {
	chainCfg, ok := s.cfg.Chain(chainID)
	if !ok {
		return nil
	}

	record, err := s.fetchWithRetry(ctx, chainCfg)
	if err != nil {
		s.mu.Lock()
		s.lastError = err.Error()
		s.mu.Unlock()
		s.logger.Warn("Rate refetch failed, serving cached or default data",
			zap.Uint64("chain_id", chainID),
			zap.Error(err))
		return nil
	}

	// Chain guard: a fetch started for chain A must never land in another
	// chain's cache slot. The record's own chain id is the cache key.
	if record.ChainID != chainID {
		s.logger.Warn("Discarding rate record with mismatched chain id",
			zap.Uint64("requested", chainID),
			zap.Uint64("got", record.ChainID))
		return nil
	}

	s.mu.Lock()
	s.cache[chainID] = record
	s.lastError = ""
	s.mu.Unlock()

	if err := s.store.PutSnapshot(ctx, snapshotKey(chainID), record, record.LastUpdated); err != nil {
		s.logger.Warn("Failed to persist rate snapshot",
			zap.Uint64("chain_id", chainID),
			zap.Error(err))
	}

	s.logger.Debug("Rates refreshed",
		zap.Uint64("chain_id", chainID),
		zap.Float64("stable_to_native", record.StableToNative),
		zap.Float64("native_to_fiat", record.NativeToFiat))

	return record
}

// fetchWithRetry runs the pipeline with exponential backoff: the fixed
// budget is two retries at 1s and 2s delays.
func (s *Service) fetchWithRetry(ctx context.Context, chainCfg *config.ChainConfig) (*models.ExchangeRates, error) {
	var lastErr error
	for attempt := 0; attempt <= fetchRetries; attempt++ {
		if attempt > 0 {
			delay := s.retryBaseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		record, err := s.fetchOnce(ctx, chainCfg)
		if err == nil {
			return record, nil
		}
		lastErr = err
		s.logger.Debug("Rate fetch attempt failed",
			zap.Uint64("chain_id", chainCfg.ChainID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return nil, fmt.Errorf("rate fetch exhausted retries: %w", lastErr)
}

// fetchOnce runs one pass of the refetch pipeline: resolve the user's fiat
// currency, fetch both token prices, compute the three ratios.
func (s *Service) fetchOnce(ctx context.Context, chainCfg *config.ChainConfig) (*models.ExchangeRates, error) {
	fiat := s.currency.UserCurrency(ctx)

	quote, err := s.source.FetchPrices(ctx, chainCfg.NativeTokenID, chainCfg.StableTokenID, fiat)
	if err != nil {
		return nil, err
	}
	if quote.NativeUSD <= 0 {
		return nil, fmt.Errorf("native token USD price is non-positive")
	}

	stableToFiat := quote.StableFiat
	if stableToFiat <= 0 {
		stableToFiat = quote.StableUSD
	}
	nativeToFiat := quote.NativeFiat
	if nativeToFiat <= 0 {
		nativeToFiat = quote.NativeUSD
	}

	return &models.ExchangeRates{
		StableToNative:    quote.StableUSD / quote.NativeUSD,
		StableToFiat:      stableToFiat,
		NativeToFiat:      nativeToFiat,
		NativeTokenSymbol: chainCfg.NativeTokenSymbol,
		NativeTokenName:   chainCfg.NativeTokenName,
		ChainID:           chainCfg.ChainID,
		LastUpdated:       s.clock.Now().UnixMilli(),
	}, nil
}

// restoreLocked loads the persisted snapshot for a chain once per process.
// Called with the mutex held.
func (s *Service) restoreLocked(ctx context.Context, chainID uint64) {
	if s.restored[chainID] {
		return
	}
	s.restored[chainID] = true

	var record models.ExchangeRates
	found, err := s.store.GetSnapshot(ctx, snapshotKey(chainID), &record)
	if err != nil {
		s.logger.Warn("Failed to load persisted rate snapshot",
			zap.Uint64("chain_id", chainID),
			zap.Error(err))
		return
	}
	if found && record.ChainID == chainID {
		s.cache[chainID] = &record
	}
}

// defaultRecord builds the static fallback rate record for a chain.
func (s *Service) defaultRecord(chainCfg *config.ChainConfig) *models.ExchangeRates {
	return &models.ExchangeRates{
		StableToNative:    chainCfg.DefaultStableToNative,
		StableToFiat:      chainCfg.DefaultStableToFiat,
		NativeToFiat:      chainCfg.DefaultNativeToFiat,
		NativeTokenSymbol: chainCfg.NativeTokenSymbol,
		NativeTokenName:   chainCfg.NativeTokenName,
		ChainID:           chainCfg.ChainID,
		LastUpdated:       0,
	}
}

func snapshotKey(chainID uint64) string {
	return fmt.Sprintf("rates:%d", chainID)
}
