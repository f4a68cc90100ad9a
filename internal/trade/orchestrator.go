package trade

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/Psalm112/Dezentra/internal/blockchain/evm"
	"github.com/Psalm112/Dezentra/internal/clock"
	"github.com/Psalm112/Dezentra/internal/config"
	"github.com/Psalm112/Dezentra/internal/models"
	"github.com/Psalm112/Dezentra/internal/txerr"
)

const (
	// FallbackGasLimit is used when simulation fails; the write is still
	// attempted with this conservative limit.
	FallbackGasLimit uint64 = 300_000

	// Safety margins applied to obtained gas estimates. Cross-chain gas is
	// less predictable and gets the larger margin.
	sameChainGasMarginPct  = 20
	crossChainGasMarginPct = 30

	// Receipt wait bounds. Cross-chain settlement is slower and must not
	// be prematurely treated as failed.
	sameChainReceiptTimeout  = 60 * time.Second
	crossChainReceiptTimeout = 120 * time.Second

	// Delays before the post-purchase balance refresh, letting chain state
	// settle before re-reading.
	sameChainRefreshDelay  = 2 * time.Second
	crossChainRefreshDelay = 5 * time.Second
)

// DefaultCrossChainFee is the fallback messaging fee (in wei) when fee
// estimation fails.
var DefaultCrossChainFee = big.NewInt(10_000_000_000_000_000) // 0.01 native

// SessionView is the wallet state the orchestrator reads.
type SessionView interface {
	Address() (common.Address, bool)
	CurrentChain() (uint64, bool)
	IsCorrectNetwork() bool
}

// BalanceRefresher triggers a balance re-read after a purchase settles.
type BalanceRefresher interface {
	RefreshBalances(ctx context.Context)
}

// HistoryStore records submitted transactions.
type HistoryStore interface {
	InsertPaymentTransaction(ctx context.Context, tx *models.PaymentTransaction) error
}

// Orchestrator validates purchase requests, estimates gas, submits
// (possibly cross-chain) purchase transactions, decodes the resulting
// events, and classifies failures.
//
// The orchestrator does not deduplicate resubmission: callers must not
// invoke BuyTrade twice for the same intent without a completion or
// cancellation signal.
type Orchestrator struct {
	cfg      *config.Config
	session  SessionView
	invokers map[uint64]evm.Invoker
	escrow   *evm.Escrow
	balances BalanceRefresher
	history  HistoryStore
	clock    clock.Clock
	logger   *zap.Logger

	// Overridable in tests.
	sameChainRefreshDelay  time.Duration
	crossChainRefreshDelay time.Duration
	sameChainTimeout       time.Duration
	crossChainTimeout      time.Duration

	// Scheduled refreshes stop when the orchestrator is closed; an
	// in-flight chain transaction is never canceled, only the local
	// waiting is abandoned.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the trade orchestrator.
func NewOrchestrator(
	cfg *config.Config,
	session SessionView,
	invokers map[uint64]evm.Invoker,
	escrow *evm.Escrow,
	balances BalanceRefresher,
	history HistoryStore,
	clk clock.Clock,
	logger *zap.Logger,
) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:                    cfg,
		session:                session,
		invokers:               invokers,
		escrow:                 escrow,
		balances:               balances,
		history:                history,
		clock:                  clk,
		logger:                 logger.Named("trade"),
		sameChainRefreshDelay:  sameChainRefreshDelay,
		crossChainRefreshDelay: crossChainRefreshDelay,
		sameChainTimeout:       sameChainReceiptTimeout,
		crossChainTimeout:      crossChainReceiptTimeout,
		ctx:                    ctx,
		cancel:                 cancel,
	}
}

// Close cancels pending scheduled refreshes.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

// callContext bundles the validated per-request state shared by all
// operations.
type callContext struct {
	from     common.Address
	chainID  uint64
	chainCfg *config.ChainConfig
	invoker  evm.Invoker
	escrow   common.Address
	token    common.Address
}

// preconditions checks the ordered gate: wallet connected, correct
// network, contracts resolvable. Short-circuits on the first failure and
// issues zero chain calls.
func (o *Orchestrator) preconditions() (*callContext, error) {
	from, ok := o.session.Address()
	if !ok {
		return nil, txerr.New(txerr.KindWalletNotConnected)
	}
	if !o.session.IsCorrectNetwork() {
		return nil, txerr.New(txerr.KindWrongNetwork)
	}
	chainID, ok := o.session.CurrentChain()
	if !ok {
		return nil, txerr.New(txerr.KindWalletNotConnected)
	}
	chainCfg, ok := o.cfg.Chain(chainID)
	if !ok || chainCfg.EscrowContractAddress == "" || chainCfg.StableTokenAddress == "" {
		return nil, txerr.New(txerr.KindContractsUnavailable)
	}
	invoker, ok := o.invokers[chainID]
	if !ok {
		return nil, txerr.New(txerr.KindContractsUnavailable)
	}

	return &callContext{
		from:     from,
		chainID:  chainID,
		chainCfg: chainCfg,
		invoker:  invoker,
		escrow:   common.HexToAddress(chainCfg.EscrowContractAddress),
		token:    common.HexToAddress(chainCfg.StableTokenAddress),
	}, nil
}

// BuyTrade validates and submits a purchase. It returns once a receipt is
// obtained; the returned transaction stays pending until the caller's own
// polling moves it.
func (o *Orchestrator) BuyTrade(ctx context.Context, req *models.PurchaseRequest) (*models.PaymentTransaction, error) {
	cc, err := o.preconditions()
	if err != nil {
		return nil, err
	}

	if req.Quantity == 0 {
		return nil, txerr.New(txerr.KindInvalidQuantity)
	}
	if !IsWellFormedAddress(req.LogisticsProviderAddress) {
		return nil, txerr.New(txerr.KindInvalidLogisticsProvider)
	}
	if req.CrossChain != nil {
		if !IsWellFormedAddress(req.CrossChain.DestinationContract) {
			return nil, txerr.New(txerr.KindInvalidAddress)
		}
		if req.CrossChain.DestinationChainSelector == cc.chainCfg.ChainSelector {
			// Routing a message back to the origin chain is never valid;
			// same-chain purchases take the direct path.
			return nil, txerr.New(txerr.KindCrossChainUnsupported)
		}
		if !cc.chainCfg.SupportsDestination(req.CrossChain.DestinationChainSelector) {
			return nil, txerr.New(txerr.KindCrossChainUnsupported)
		}
	}

	tradeID, ok := new(big.Int).SetString(req.TradeID, 10)
	if !ok {
		return nil, txerr.New(txerr.KindInvalidTrade)
	}

	// Authoritative on-chain trade details; client-cached trade data is
	// never trusted for the amount calculation.
	trade, err := o.fetchTrade(ctx, cc, tradeID)
	if err != nil {
		return nil, err
	}
	if !trade.Active {
		return nil, txerr.New(txerr.KindInvalidTrade)
	}
	if trade.RemainingQuantity.Cmp(new(big.Int).SetUint64(req.Quantity)) < 0 {
		return nil, txerr.New(txerr.KindInsufficientQuantity)
	}

	// Integer arithmetic in the token's smallest unit; floating point is
	// never used for on-chain amounts.
	quantity := new(big.Int).SetUint64(req.Quantity)
	totalCost := new(big.Int).Mul(trade.UnitCost, quantity)

	// The escrow pulls the stable token, so the allowance is revalidated
	// on every purchase.
	if err := o.checkAllowance(ctx, cc, totalCost); err != nil {
		return nil, err
	}

	var (
		hash       common.Hash
		receipt    *types.Receipt
		crossChain = req.CrossChain != nil
	)
	if crossChain {
		hash, receipt, err = o.submitCrossChain(ctx, cc, tradeID, quantity, totalCost, req)
	} else {
		hash, receipt, err = o.submitSameChain(ctx, cc, tradeID, quantity, req)
	}
	if err != nil {
		return nil, err
	}

	events := o.escrow.DecodePurchaseEvents(receipt)

	delay := o.sameChainRefreshDelay
	if crossChain {
		delay = o.crossChainRefreshDelay
	}
	o.scheduleBalanceRefresh(delay)

	tx := &models.PaymentTransaction{
		Hash:       hash.Hex(),
		ChainID:    cc.chainID,
		Amount:     totalCost.String(),
		Token:      cc.chainCfg.StableTokenSymbol,
		To:         cc.escrow.Hex(),
		From:       cc.from.Hex(),
		Status:     models.TxStatusPending,
		Timestamp:  o.clock.Now().UnixMilli(),
		PurchaseID: events.PurchaseID,
		MessageID:  events.MessageID,
		CrossChain: crossChain,
	}

	if err := o.history.InsertPaymentTransaction(ctx, tx); err != nil {
		o.logger.Warn("Failed to record payment transaction",
			zap.String("hash", tx.Hash),
			zap.Error(err))
	}

	o.logger.Info("Purchase submitted",
		zap.String("hash", tx.Hash),
		zap.String("trade_id", req.TradeID),
		zap.Uint64("quantity", req.Quantity),
		zap.String("total_cost", totalCost.String()),
		zap.Bool("cross_chain", crossChain),
		zap.String("purchase_id", events.PurchaseID),
		zap.String("message_id", events.MessageID))

	return tx, nil
}

// fetchTrade reads the trade record from the escrow contract.
func (o *Orchestrator) fetchTrade(ctx context.Context, cc *callContext, tradeID *big.Int) (*evm.TradeView, error) {
	data, err := o.escrow.PackGetTrade(tradeID)
	if err != nil {
		return nil, txerr.Wrap(txerr.KindUnknown, err)
	}

	result, err := cc.invoker.Read(ctx, evm.Call{From: cc.from, To: cc.escrow, Data: data})
	if err != nil {
		return nil, o.classified(err)
	}

	trade, err := o.escrow.UnpackTrade(result)
	if err != nil {
		return nil, txerr.Wrap(txerr.KindInvalidTrade, err)
	}
	return trade, nil
}

// checkAllowance verifies the escrow's approved spend covers the total.
func (o *Orchestrator) checkAllowance(ctx context.Context, cc *callContext, totalCost *big.Int) error {
	data, err := o.escrow.PackAllowance(cc.from, cc.escrow)
	if err != nil {
		return txerr.Wrap(txerr.KindUnknown, err)
	}

	result, err := cc.invoker.Read(ctx, evm.Call{From: cc.from, To: cc.token, Data: data})
	if err != nil {
		return o.classified(err)
	}

	approved, err := o.escrow.UnpackAllowance(result)
	if err != nil {
		return txerr.Wrap(txerr.KindUnknown, err)
	}
	if approved.Cmp(totalCost) < 0 {
		return txerr.New(txerr.KindInsufficientAllowance)
	}
	return nil
}

// submitSameChain simulates, submits, and awaits a same-chain purchase.
func (o *Orchestrator) submitSameChain(
	ctx context.Context,
	cc *callContext,
	tradeID, quantity *big.Int,
	req *models.PurchaseRequest,
) (common.Hash, *types.Receipt, error) {
	data, err := o.escrow.PackBuyTrade(tradeID, quantity, common.HexToAddress(req.LogisticsProviderAddress))
	if err != nil {
		return common.Hash{}, nil, txerr.Wrap(txerr.KindUnknown, err)
	}

	call := evm.Call{From: cc.from, To: cc.escrow, Data: data}
	call.GasLimit = o.estimateGas(ctx, cc, call, sameChainGasMarginPct)

	hash, err := cc.invoker.Write(ctx, call)
	if err != nil {
		return common.Hash{}, nil, o.classified(err)
	}

	receipt, err := cc.invoker.WaitForReceipt(ctx, hash, o.sameChainTimeout)
	if err != nil {
		return common.Hash{}, nil, o.classified(err)
	}
	return hash, receipt, nil
}

// submitCrossChain estimates the messaging fee, simulates with the fee
// attached as value, and submits with the larger safety margin.
func (o *Orchestrator) submitCrossChain(
	ctx context.Context,
	cc *callContext,
	tradeID, quantity, totalCost *big.Int,
	req *models.PurchaseRequest,
) (common.Hash, *types.Receipt, error) {
	params := req.CrossChain
	// The fee scales with the bridged value, which is the total cost in
	// token units, not the item count.
	fee := o.estimateCrossChainFee(ctx, cc, params.DestinationChainSelector, totalCost)

	data, err := o.escrow.PackBuyCrossChainTrade(
		tradeID, quantity,
		common.HexToAddress(req.LogisticsProviderAddress),
		params.DestinationChainSelector,
		common.HexToAddress(params.DestinationContract),
		common.HexToAddress(params.FeeToken),
	)
	if err != nil {
		return common.Hash{}, nil, txerr.Wrap(txerr.KindUnknown, err)
	}

	call := evm.Call{From: cc.from, To: cc.escrow, Data: data, Value: fee}
	call.GasLimit = o.estimateGas(ctx, cc, call, crossChainGasMarginPct)

	hash, err := cc.invoker.Write(ctx, call)
	if err != nil {
		return common.Hash{}, nil, o.classified(err)
	}

	receipt, err := cc.invoker.WaitForReceipt(ctx, hash, o.crossChainTimeout)
	if err != nil {
		return common.Hash{}, nil, o.classified(err)
	}
	return hash, receipt, nil
}

// estimateGas simulates the call and applies the safety margin; simulation
// failure falls back to the fixed conservative limit rather than aborting.
func (o *Orchestrator) estimateGas(ctx context.Context, cc *callContext, call evm.Call, marginPct uint64) uint64 {
	estimate, err := cc.invoker.Simulate(ctx, call)
	if err != nil {
		o.logger.Warn("Simulation failed, using fallback gas limit",
			zap.Uint64("chain_id", cc.chainID),
			zap.Uint64("fallback", FallbackGasLimit),
			zap.Error(err))
		return FallbackGasLimit
	}
	return estimate * (100 + marginPct) / 100
}

// estimateCrossChainFee queries the router fee through the escrow; failures
// fall back to the fixed default fee.
func (o *Orchestrator) estimateCrossChainFee(ctx context.Context, cc *callContext, selector uint64, amount *big.Int) *big.Int {
	data, err := o.escrow.PackEstimateCrossChainFee(selector, amount)
	if err != nil {
		return new(big.Int).Set(DefaultCrossChainFee)
	}

	result, err := cc.invoker.Read(ctx, evm.Call{From: cc.from, To: cc.escrow, Data: data})
	if err != nil {
		o.logger.Warn("Cross-chain fee estimation failed, using default",
			zap.Uint64("selector", selector),
			zap.String("default_fee", DefaultCrossChainFee.String()),
			zap.Error(err))
		return new(big.Int).Set(DefaultCrossChainFee)
	}

	fee, err := o.escrow.UnpackCrossChainFee(result)
	if err != nil || fee.Sign() <= 0 {
		return new(big.Int).Set(DefaultCrossChainFee)
	}
	return fee
}

// scheduleBalanceRefresh triggers a refresh after the delay without
// awaiting it. Canceled refreshes become no-ops at teardown.
func (o *Orchestrator) scheduleBalanceRefresh(delay time.Duration) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		select {
		case <-o.ctx.Done():
		case <-time.After(delay):
			o.balances.RefreshBalances(o.ctx)
		}
	}()
}

// classified wraps a raw failure with its classification.
func (o *Orchestrator) classified(err error) error {
	if err == nil {
		return nil
	}
	if classifiedErr, ok := err.(*txerr.Error); ok {
		return classifiedErr
	}
	return txerr.Wrap(txerr.Classify(err.Error()), err)
}

// IsWellFormedAddress reports whether s is a 0x-prefixed 20-byte hex
// address.
func IsWellFormedAddress(s string) bool {
	if len(s) != 42 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
