package balance

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Psalm112/Dezentra/internal/blockchain/evm"
	"github.com/Psalm112/Dezentra/internal/config"
	"github.com/Psalm112/Dezentra/internal/models"
)

// DefaultRefreshInterval is how often balances are re-read while the
// tracker is active.
const DefaultRefreshInterval = 30 * time.Second

// readTimeout bounds each balance read against the chain.
const readTimeout = 10 * time.Second

// RateProvider supplies the current exchange rates for a chain.
type RateProvider interface {
	GetRates(ctx context.Context, chainID uint64) *models.ExchangeRates
}

// CurrencyResolver supplies the fiat code used for display formatting.
type CurrencyResolver interface {
	UserCurrency(ctx context.Context) string
}

// Tracker reads native and stable-token balances for the connected address
// and derives the three display lenses from one canonical raw reading. It
// refreshes on a fixed interval while active and suspends entirely when the
// wallet is disconnected or on an unsupported network.
type Tracker struct {
	cfg      *config.Config
	readers  map[uint64]evm.BalanceReader
	rates    RateProvider
	currency CurrencyResolver
	logger   *zap.Logger
	interval time.Duration

	mu            sync.Mutex
	address       common.Address
	chainID       uint64
	active        bool
	inFlight      bool
	nativeBalance string
	tokenBalance  *models.TokenBalance
	lastError     string

	// Per-activation ticker goroutine control.
	stopTicker context.CancelFunc
	wg         sync.WaitGroup
}

// NewTracker creates a balance tracker over the per-chain balance readers.
func NewTracker(
	cfg *config.Config,
	readers map[uint64]evm.BalanceReader,
	rates RateProvider,
	currency CurrencyResolver,
	logger *zap.Logger,
) *Tracker {
	return &Tracker{
		cfg:      cfg,
		readers:  readers,
		rates:    rates,
		currency: currency,
		logger:   logger.Named("balance"),
		interval: DefaultRefreshInterval,
	}
}

// Activate points the tracker at a connected address on a supported chain
// and starts the periodic refresh loop. Any previous loop is stopped first.
func (t *Tracker) Activate(address common.Address, chainID uint64) {
	t.Suspend()

	t.mu.Lock()
	t.address = address
	t.chainID = chainID
	t.active = true
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.stopTicker = cancel
	t.mu.Unlock()

	t.wg.Add(1)
	go t.run(ctx)

	t.logger.Info("Balance tracker activated",
		zap.String("address", address.Hex()),
		zap.Uint64("chain_id", chainID))
}

// Suspend stops the refresh loop and clears the tracked target. Static
// fallback rates still serve conversions while suspended.
func (t *Tracker) Suspend() {
	t.mu.Lock()
	cancel := t.stopTicker
	t.stopTicker = nil
	t.active = false
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		t.wg.Wait()
		t.logger.Info("Balance tracker suspended")
	}
}

// ClearState drops balances derived from the previous address and chain.
func (t *Tracker) ClearState() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.address = common.Address{}
	t.chainID = 0
	t.nativeBalance = ""
	t.tokenBalance = nil
	t.lastError = ""
}

// run is the periodic refresh loop.
func (t *Tracker) run(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	// Initial read
	t.RefreshBalances(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.RefreshBalances(ctx)
		}
	}
}

// RefreshBalances re-reads the native and token balances. Concurrent calls
// coalesce: a refresh already in flight absorbs the new request.
func (t *Tracker) RefreshBalances(ctx context.Context) {
	t.mu.Lock()
	if !t.active || t.inFlight {
		t.mu.Unlock()
		return
	}
	t.inFlight = true
	address := t.address
	chainID := t.chainID
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.inFlight = false
		t.mu.Unlock()
	}()

	reader, ok := t.readers[chainID]
	if !ok {
		t.setError(fmt.Sprintf("no balance reader for chain %d", chainID))
		return
	}
	chainCfg, ok := t.cfg.Chain(chainID)
	if !ok {
		t.setError(fmt.Sprintf("chain %d not configured", chainID))
		return
	}

	readCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	native, err := reader.NativeBalance(readCtx, address)
	if err != nil {
		t.setError(err.Error())
		t.logger.Warn("Native balance read failed",
			zap.Uint64("chain_id", chainID),
			zap.Error(err))
		return
	}

	token, err := reader.TokenBalance(readCtx, common.HexToAddress(chainCfg.StableTokenAddress), address)
	if err != nil {
		t.setError(err.Error())
		t.logger.Warn("Token balance read failed",
			zap.Uint64("chain_id", chainID),
			zap.Error(err))
		return
	}

	rates := t.rates.GetRates(ctx, chainID)
	lenses := deriveLenses(token, chainCfg.StableTokenDecimals, rates)

	t.mu.Lock()
	// The wallet may have moved while the reads were in flight; a stale
	// result must not overwrite the new chain's balances.
	if t.chainID == chainID && t.address == address {
		t.nativeBalance = formatNative(native)
		t.tokenBalance = lenses
		t.lastError = ""
	}
	t.mu.Unlock()
}

// Balances returns the last committed readings plus refresh state.
func (t *Tracker) Balances() (native string, token *models.TokenBalance, refreshing bool, lastError string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nativeBalance, t.tokenBalance, t.inFlight, t.lastError
}

func (t *Tracker) setError(msg string) {
	t.mu.Lock()
	t.lastError = msg
	t.mu.Unlock()
}

// Convert translates an amount between the stable, native, and fiat lenses
// using the current chain's rates (static defaults while suspended).
// Non-finite inputs, identity conversions, and zero rates return the input
// unchanged rather than raising.
func (t *Tracker) Convert(ctx context.Context, amount float64, from, to models.Currency) float64 {
	if from == to || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return amount
	}

	t.mu.Lock()
	chainID := t.chainID
	t.mu.Unlock()
	rates := t.currentRates(ctx, chainID)

	// Native and fiat convert directly; everything else normalizes
	// through stable units.
	if from == models.CurrencyNative && to == models.CurrencyFiat {
		if rates.NativeToFiat <= 0 {
			return amount
		}
		return amount * rates.NativeToFiat
	}
	if from == models.CurrencyFiat && to == models.CurrencyNative {
		if rates.NativeToFiat <= 0 {
			return amount
		}
		return amount / rates.NativeToFiat
	}

	inStable := amount
	switch from {
	case models.CurrencyNative:
		if rates.StableToNative <= 0 {
			return amount
		}
		inStable = amount / rates.StableToNative
	case models.CurrencyFiat:
		if rates.StableToFiat <= 0 {
			return amount
		}
		inStable = amount / rates.StableToFiat
	}

	switch to {
	case models.CurrencyStable:
		return inStable
	case models.CurrencyNative:
		if rates.StableToNative <= 0 {
			return amount
		}
		return inStable * rates.StableToNative
	case models.CurrencyFiat:
		if rates.StableToFiat <= 0 {
			return amount
		}
		return inStable * rates.StableToFiat
	}
	return amount
}

// Format renders an amount with the display symbol for the given lens.
func (t *Tracker) Format(ctx context.Context, amount float64, currency models.Currency) string {
	t.mu.Lock()
	chainID := t.chainID
	t.mu.Unlock()

	switch currency {
	case models.CurrencyStable:
		symbol := "USDT"
		if chainCfg, ok := t.cfg.Chain(chainID); ok {
			symbol = chainCfg.StableTokenSymbol
		}
		return fmt.Sprintf("%.2f %s", amount, symbol)
	case models.CurrencyNative:
		rates := t.currentRates(ctx, chainID)
		return fmt.Sprintf("%.6f %s", amount, rates.NativeTokenSymbol)
	case models.CurrencyFiat:
		return fmt.Sprintf("%.2f %s", amount, t.currency.UserCurrency(ctx))
	}
	return fmt.Sprintf("%.2f", amount)
}

// currentRates serves live rates while active and static defaults while
// suspended or on an unconfigured chain, avoiding network calls entirely
// in the suspended case.
func (t *Tracker) currentRates(ctx context.Context, chainID uint64) *models.ExchangeRates {
	t.mu.Lock()
	active := t.active
	t.mu.Unlock()

	chainCfg, ok := t.cfg.Chain(chainID)
	if !ok {
		return &models.ExchangeRates{StableToFiat: 1}
	}
	if !active {
		return &models.ExchangeRates{
			StableToNative:    chainCfg.DefaultStableToNative,
			StableToFiat:      chainCfg.DefaultStableToFiat,
			NativeToFiat:      chainCfg.DefaultNativeToFiat,
			NativeTokenSymbol: chainCfg.NativeTokenSymbol,
			NativeTokenName:   chainCfg.NativeTokenName,
			ChainID:           chainID,
		}
	}
	return t.rates.GetRates(ctx, chainID)
}

// deriveLenses computes the three display views from one raw smallest-unit
// reading. All three are pure functions of the raw value and the rates.
func deriveLenses(raw *big.Int, decimals int, rates *models.ExchangeRates) *models.TokenBalance {
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	stable, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), divisor).Float64()

	return &models.TokenBalance{
		Raw:           raw.String(),
		InStableUnits: stable,
		InNativeUnits: stable * rates.StableToNative,
		InFiatUnits:   stable * rates.StableToFiat,
	}
}

// formatNative renders a wei-denominated balance as a decimal ether string.
func formatNative(wei *big.Int) string {
	ether := new(big.Float).Quo(
		new(big.Float).SetInt(wei),
		big.NewFloat(1e18),
	)
	return ether.Text('f', 6)
}
