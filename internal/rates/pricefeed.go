package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/Psalm112/Dezentra/internal/config"
)

// PriceQuote holds USD- and fiat-denominated prices for the native and
// stable tokens. Fiat fields are zero when the source omits the pair.
type PriceQuote struct {
	NativeUSD  float64
	NativeFiat float64
	StableUSD  float64
	StableFiat float64
}

// PriceSource fetches token prices for one (native, stable) pair against
// (fiat, USD) in a single call.
type PriceSource interface {
	FetchPrices(ctx context.Context, nativeID, stableID, fiat string) (*PriceQuote, error)
}

// HTTPPriceSource queries a simple-price HTTP API returning
// {"<tokenId>": {"usd": n, "<fiat>": n}} for the requested token ids.
type HTTPPriceSource struct {
	cfg        config.PriceSourceConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPPriceSource creates the production price source client.
func NewHTTPPriceSource(cfg config.PriceSourceConfig, logger *zap.Logger) *HTTPPriceSource {
	return &HTTPPriceSource{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("pricefeed"),
	}
}

// FetchPrices requests both token prices in one call.
func (s *HTTPPriceSource) FetchPrices(ctx context.Context, nativeID, stableID, fiat string) (*PriceQuote, error) {
	fiat = strings.ToLower(fiat)

	query := url.Values{}
	query.Set("ids", nativeID+","+stableID)
	if fiat != "" && fiat != "usd" {
		query.Set("vs_currencies", "usd,"+fiat)
	} else {
		query.Set("vs_currencies", "usd")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.Endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build price request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price source returned status %d", resp.StatusCode)
	}

	var body map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode price response: %w", err)
	}

	native, ok := body[nativeID]
	if !ok {
		return nil, fmt.Errorf("price response missing token %q", nativeID)
	}
	stable, ok := body[stableID]
	if !ok {
		return nil, fmt.Errorf("price response missing token %q", stableID)
	}

	quote := &PriceQuote{
		NativeUSD:  native["usd"],
		NativeFiat: native[fiat],
		StableUSD:  stable["usd"],
		StableFiat: stable[fiat],
	}
	if quote.NativeUSD <= 0 || quote.StableUSD <= 0 {
		return nil, fmt.Errorf("price response has non-positive USD prices")
	}

	s.logger.Debug("Fetched token prices",
		zap.String("native_id", nativeID),
		zap.String("stable_id", stableID),
		zap.String("fiat", fiat),
		zap.Float64("native_usd", quote.NativeUSD),
		zap.Float64("stable_usd", quote.StableUSD))

	return quote, nil
}
