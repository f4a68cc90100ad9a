package balance

import (
	"context"
	"errors"
	"math"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Psalm112/Dezentra/internal/blockchain/evm"
	"github.com/Psalm112/Dezentra/internal/config"
	"github.com/Psalm112/Dezentra/internal/models"
)

const testChainID = uint64(44787)

var testAddress = common.HexToAddress("0x1111111111111111111111111111111111111111")

type fakeReader struct {
	mu          sync.Mutex
	native      *big.Int
	token       *big.Int
	nativeErr   error
	tokenErr    error
	nativeReads int
	// onNativeRead runs inside NativeBalance, before returning.
	onNativeRead func()
}

func (f *fakeReader) NativeBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	f.mu.Lock()
	f.nativeReads++
	hook := f.onNativeRead
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if f.nativeErr != nil {
		return nil, f.nativeErr
	}
	return new(big.Int).Set(f.native), nil
}

func (f *fakeReader) TokenBalance(ctx context.Context, token, address common.Address) (*big.Int, error) {
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	return new(big.Int).Set(f.token), nil
}

func (f *fakeReader) reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nativeReads
}

type fakeRates struct {
	rates *models.ExchangeRates
}

func (f *fakeRates) GetRates(ctx context.Context, chainID uint64) *models.ExchangeRates {
	return f.rates
}

type fakeCurrency struct {
	currency string
}

func (f *fakeCurrency) UserCurrency(ctx context.Context) string { return f.currency }

func testConfig() *config.Config {
	return &config.Config{
		Chains: map[uint64]config.ChainConfig{
			testChainID: {
				ChainID:               testChainID,
				StableTokenAddress:    "0x2222222222222222222222222222222222222222",
				StableTokenSymbol:     "USDT",
				StableTokenDecimals:   6,
				NativeTokenSymbol:     "CELO",
				NativeTokenName:       "Celo",
				DefaultStableToNative: 2.0,
				DefaultStableToFiat:   1.0,
				DefaultNativeToFiat:   0.5,
			},
		},
	}
}

func newTestTracker(reader evm.BalanceReader, rates RateProvider) *Tracker {
	readers := map[uint64]evm.BalanceReader{testChainID: reader}
	return NewTracker(testConfig(), readers, rates, &fakeCurrency{currency: "USD"}, zap.NewNop())
}

func liveRates() *models.ExchangeRates {
	return &models.ExchangeRates{
		StableToNative:    2.0,
		StableToFiat:      1.0,
		NativeToFiat:      0.5,
		NativeTokenSymbol: "CELO",
		ChainID:           testChainID,
	}
}

func TestActivateStartsRefreshLoop(t *testing.T) {
	reader := &fakeReader{
		native: big.NewInt(1),
		token:  big.NewInt(1),
	}
	committed := make(chan struct{})
	var once sync.Once
	reader.onNativeRead = func() {
		once.Do(func() { close(committed) })
	}
	tracker := newTestTracker(reader, &fakeRates{rates: liveRates()})

	tracker.Activate(testAddress, testChainID)
	<-committed
	tracker.Suspend()

	if reader.reads() < 1 {
		t.Errorf("expected at least one read after activation, got %d", reader.reads())
	}
	// Suspend waits out the loop; nothing reads afterwards.
	before := reader.reads()
	tracker.RefreshBalances(context.Background())
	if reader.reads() != before {
		t.Error("suspended tracker must not read balances")
	}
}

func TestRefreshBalances_CommitsAllThreeLenses(t *testing.T) {
	reader := &fakeReader{
		native: big.NewInt(1_500_000_000_000_000_000), // 1.5 ether
		token:  big.NewInt(30_000_000),                // 30 USDT
	}
	tracker := newTestTracker(reader, &fakeRates{rates: liveRates()})
	tracker.mu.Lock()
	tracker.active = true
	tracker.address = testAddress
	tracker.chainID = testChainID
	tracker.mu.Unlock()

	tracker.RefreshBalances(context.Background())

	native, token, refreshing, lastError := tracker.Balances()
	if native != "1.500000" {
		t.Errorf("native balance = %q, want %q", native, "1.500000")
	}
	if token == nil {
		t.Fatal("expected a committed token balance")
	}
	if token.Raw != "30000000" {
		t.Errorf("raw token balance = %q, want %q", token.Raw, "30000000")
	}
	if token.InStableUnits != 30.0 {
		t.Errorf("InStableUnits = %v, want 30.0", token.InStableUnits)
	}
	if token.InNativeUnits != 60.0 {
		t.Errorf("InNativeUnits = %v, want 60.0", token.InNativeUnits)
	}
	if token.InFiatUnits != 30.0 {
		t.Errorf("InFiatUnits = %v, want 30.0", token.InFiatUnits)
	}
	if refreshing {
		t.Error("no refresh should be in flight after suspend")
	}
	if lastError != "" {
		t.Errorf("unexpected lastError: %s", lastError)
	}
}

func TestRefreshBalances_InactiveIsNoop(t *testing.T) {
	reader := &fakeReader{native: big.NewInt(1), token: big.NewInt(1)}
	tracker := newTestTracker(reader, &fakeRates{rates: liveRates()})

	tracker.RefreshBalances(context.Background())

	if reader.reads() != 0 {
		t.Errorf("suspended tracker must not read balances, reads = %d", reader.reads())
	}
}

func TestRefreshBalances_ConcurrentCallsCoalesce(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	reader := &fakeReader{
		native: big.NewInt(1),
		token:  big.NewInt(1),
	}
	reader.onNativeRead = func() {
		once.Do(func() { close(entered) })
		<-release
	}
	tracker := newTestTracker(reader, &fakeRates{rates: liveRates()})
	tracker.mu.Lock()
	tracker.active = true
	tracker.address = testAddress
	tracker.chainID = testChainID
	tracker.mu.Unlock()

	done := make(chan struct{})
	go func() {
		tracker.RefreshBalances(context.Background())
		close(done)
	}()

	<-entered
	// A second call while the first is mid-read must return immediately
	// without a second chain read.
	tracker.RefreshBalances(context.Background())
	if reader.reads() != 1 {
		t.Errorf("coalesced refresh performed %d reads, want 1", reader.reads())
	}

	close(release)
	<-done
}

func TestRefreshBalances_ReadErrorKeepsPreviousBalances(t *testing.T) {
	reader := &fakeReader{
		native: big.NewInt(1_000_000_000_000_000_000),
		token:  big.NewInt(5_000_000),
	}
	tracker := newTestTracker(reader, &fakeRates{rates: liveRates()})
	tracker.mu.Lock()
	tracker.active = true
	tracker.address = testAddress
	tracker.chainID = testChainID
	tracker.mu.Unlock()

	tracker.RefreshBalances(context.Background())
	nativeBefore, tokenBefore, _, _ := tracker.Balances()

	reader.nativeErr = errors.New("connection refused")
	tracker.RefreshBalances(context.Background())

	native, token, _, lastError := tracker.Balances()
	if native != nativeBefore || token.Raw != tokenBefore.Raw {
		t.Error("failed refresh must not clear the previous balances")
	}
	if lastError == "" {
		t.Error("expected lastError after a failed read")
	}
}

func TestRefreshBalances_StaleResultNotCommittedAfterChainMove(t *testing.T) {
	reader := &fakeReader{
		native: big.NewInt(1_000_000_000_000_000_000),
		token:  big.NewInt(5_000_000),
	}
	tracker := newTestTracker(reader, &fakeRates{rates: liveRates()})
	tracker.mu.Lock()
	tracker.active = true
	tracker.address = testAddress
	tracker.chainID = testChainID
	tracker.mu.Unlock()

	// The wallet moves to another chain while the read is in flight.
	reader.onNativeRead = func() {
		tracker.mu.Lock()
		tracker.chainID = 43113
		tracker.mu.Unlock()
	}

	tracker.RefreshBalances(context.Background())

	native, token, _, _ := tracker.Balances()
	if native != "" || token != nil {
		t.Error("stale read result must not be committed after the wallet moved")
	}
}

func TestConvert(t *testing.T) {
	// Suspended tracker on a configured chain converts via static defaults:
	// StableToNative 2.0, StableToFiat 1.0, NativeToFiat 0.5.
	tracker := newTestTracker(&fakeReader{}, &fakeRates{rates: liveRates()})
	tracker.mu.Lock()
	tracker.chainID = testChainID
	tracker.mu.Unlock()

	ctx := context.Background()

	tests := []struct {
		name     string
		amount   float64
		from     models.Currency
		to       models.Currency
		expected float64
	}{
		{"identity stable", 12.5, models.CurrencyStable, models.CurrencyStable, 12.5},
		{"stable to native", 10, models.CurrencyStable, models.CurrencyNative, 20},
		{"native to stable", 20, models.CurrencyNative, models.CurrencyStable, 10},
		{"stable to fiat", 10, models.CurrencyStable, models.CurrencyFiat, 10},
		{"fiat to stable", 10, models.CurrencyFiat, models.CurrencyStable, 10},
		{"native to fiat direct", 10, models.CurrencyNative, models.CurrencyFiat, 5},
		{"fiat to native direct", 5, models.CurrencyFiat, models.CurrencyNative, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tracker.Convert(ctx, tt.amount, tt.from, tt.to)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Convert(%v, %s, %s) = %v, want %v",
					tt.amount, tt.from, tt.to, got, tt.expected)
			}
		})
	}
}

func TestConvert_RoundTripIsStable(t *testing.T) {
	tracker := newTestTracker(&fakeReader{}, &fakeRates{rates: liveRates()})
	tracker.mu.Lock()
	tracker.chainID = testChainID
	tracker.mu.Unlock()

	ctx := context.Background()
	start := 123.45
	viaNative := tracker.Convert(ctx, tracker.Convert(ctx, start, models.CurrencyStable, models.CurrencyNative), models.CurrencyNative, models.CurrencyStable)
	if math.Abs(viaNative-start) > 1e-9 {
		t.Errorf("stable->native->stable round trip = %v, want %v", viaNative, start)
	}
}

func TestConvert_NonFiniteAndZeroRateInputsPassThrough(t *testing.T) {
	tracker := newTestTracker(&fakeReader{}, &fakeRates{rates: liveRates()})
	ctx := context.Background()

	if got := tracker.Convert(ctx, math.NaN(), models.CurrencyStable, models.CurrencyNative); !math.IsNaN(got) {
		t.Errorf("NaN input should pass through, got %v", got)
	}
	if got := tracker.Convert(ctx, math.Inf(1), models.CurrencyStable, models.CurrencyFiat); !math.IsInf(got, 1) {
		t.Errorf("Inf input should pass through, got %v", got)
	}

	// chainID 0 is unconfigured: StableToNative is zero, so the conversion
	// returns the input unchanged instead of dividing by zero.
	if got := tracker.Convert(ctx, 10, models.CurrencyNative, models.CurrencyStable); got != 10 {
		t.Errorf("zero-rate conversion should return input, got %v", got)
	}

	// The guard is symmetric: multiplying toward a zero rate must not
	// collapse the amount to zero either.
	if got := tracker.Convert(ctx, 10, models.CurrencyStable, models.CurrencyNative); got != 10 {
		t.Errorf("stable->native with zero rate should return input, got %v", got)
	}
	if got := tracker.Convert(ctx, 10, models.CurrencyStable, models.CurrencyFiat); got != 10 {
		t.Errorf("stable->fiat with zero rate should return input, got %v", got)
	}
}

func TestFormat(t *testing.T) {
	tracker := newTestTracker(&fakeReader{}, &fakeRates{rates: liveRates()})
	tracker.mu.Lock()
	tracker.chainID = testChainID
	tracker.mu.Unlock()

	ctx := context.Background()

	if got := tracker.Format(ctx, 12.5, models.CurrencyStable); got != "12.50 USDT" {
		t.Errorf("stable format = %q", got)
	}
	if got := tracker.Format(ctx, 1.5, models.CurrencyNative); got != "1.500000 CELO" {
		t.Errorf("native format = %q", got)
	}
	if got := tracker.Format(ctx, 9.999, models.CurrencyFiat); got != "10.00 USD" {
		t.Errorf("fiat format = %q", got)
	}
}

func TestDeriveLenses(t *testing.T) {
	rates := &models.ExchangeRates{StableToNative: 2.0, StableToFiat: 1500.0}
	lenses := deriveLenses(big.NewInt(30_000_000), 6, rates)

	if lenses.Raw != "30000000" {
		t.Errorf("Raw = %q", lenses.Raw)
	}
	if lenses.InStableUnits != 30.0 {
		t.Errorf("InStableUnits = %v", lenses.InStableUnits)
	}
	if lenses.InNativeUnits != 60.0 {
		t.Errorf("InNativeUnits = %v", lenses.InNativeUnits)
	}
	if lenses.InFiatUnits != 45000.0 {
		t.Errorf("InFiatUnits = %v", lenses.InFiatUnits)
	}
}
