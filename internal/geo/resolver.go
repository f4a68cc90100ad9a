package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Psalm112/Dezentra/internal/clock"
	"github.com/Psalm112/Dezentra/internal/config"
)

// snapshotKey is the persisted-cache key for the geo result.
const snapshotKey = "geo"

// defaultCurrency is served when no fetched or cached value is available.
const defaultCurrency = "USD"

// SnapshotStore persists the resolved currency across process restarts.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, key string, value interface{}, lastUpdated int64) error
	GetSnapshot(ctx context.Context, key string, out interface{}) (bool, error)
}

// snapshot is the persisted geo result.
type snapshot struct {
	Currency    string `json:"currency"`
	Country     string `json:"country"`
	LastUpdated int64  `json:"last_updated"` // epoch ms
}

// Resolver resolves the user's local currency code. The result is cached
// for the configured TTL (24h by default) independently of the rate cache.
type Resolver struct {
	cfg        config.GeoConfig
	store      SnapshotStore
	clock      clock.Clock
	httpClient *http.Client
	logger     *zap.Logger

	mu     sync.Mutex
	cached *snapshot
	loaded bool
}

// NewResolver creates a geo resolver.
func NewResolver(cfg config.GeoConfig, store SnapshotStore, clk clock.Clock, logger *zap.Logger) *Resolver {
	return &Resolver{
		cfg:        cfg,
		store:      store,
		clock:      clk,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("geo"),
	}
}

// UserCurrency returns the user's local currency code. Fetch failures fall
// back to the last cached value, then to USD; the call never blocks longer
// than one bounded network timeout and never returns an error.
func (r *Resolver) UserCurrency(ctx context.Context) string {
	r.mu.Lock()
	if !r.loaded {
		r.loadPersisted(ctx)
		r.loaded = true
	}

	nowMillis := r.clock.Now().UnixMilli()
	if r.cached != nil && nowMillis-r.cached.LastUpdated < r.cfg.CacheTTL.Milliseconds() {
		currency := r.cached.Currency
		r.mu.Unlock()
		return currency
	}
	r.mu.Unlock()

	fetched, err := r.fetch(ctx)
	if err != nil {
		r.logger.Warn("Geo lookup failed, using fallback", zap.Error(err))
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.cached != nil {
			return r.cached.Currency
		}
		return defaultCurrency
	}

	r.mu.Lock()
	r.cached = fetched
	r.mu.Unlock()

	if err := r.store.PutSnapshot(ctx, snapshotKey, fetched, fetched.LastUpdated); err != nil {
		r.logger.Warn("Failed to persist geo snapshot", zap.Error(err))
	}

	return fetched.Currency
}

// loadPersisted restores the last persisted snapshot, if any. Called with
// the mutex held.
func (r *Resolver) loadPersisted(ctx context.Context) {
	var snap snapshot
	found, err := r.store.GetSnapshot(ctx, snapshotKey, &snap)
	if err != nil {
		r.logger.Warn("Failed to load persisted geo snapshot", zap.Error(err))
		return
	}
	if found && snap.Currency != "" {
		r.cached = &snap
	}
}

// geoResponse is the shape returned by the geolocation source.
type geoResponse struct {
	Currency string `json:"currency"`
	Country  string `json:"country"`
}

func (r *Resolver) fetch(ctx context.Context) (*snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build geo request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geo source returned status %d", resp.StatusCode)
	}

	var body geoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode geo response: %w", err)
	}

	currency := strings.ToUpper(strings.TrimSpace(body.Currency))
	if currency == "" {
		return nil, fmt.Errorf("geo response has no currency")
	}

	r.logger.Debug("Resolved user currency",
		zap.String("currency", currency),
		zap.String("country", body.Country))

	return &snapshot{
		Currency:    currency,
		Country:     body.Country,
		LastUpdated: r.clock.Now().UnixMilli(),
	}, nil
}
