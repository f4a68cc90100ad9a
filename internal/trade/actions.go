package trade

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Psalm112/Dezentra/internal/blockchain/evm"
	"github.com/Psalm112/Dezentra/internal/models"
	"github.com/Psalm112/Dezentra/internal/txerr"
)

// ApproveAllowance submits an ERC20 approve letting the escrow pull up to
// amount (smallest units) of the stable token.
func (o *Orchestrator) ApproveAllowance(ctx context.Context, amount string) (string, error) {
	cc, err := o.preconditions()
	if err != nil {
		return "", err
	}

	value, ok := new(big.Int).SetString(amount, 10)
	if !ok || value.Sign() < 0 {
		return "", txerr.New(txerr.KindInvalidQuantity)
	}

	data, err := o.escrow.PackApprove(cc.escrow, value)
	if err != nil {
		return "", txerr.Wrap(txerr.KindUnknown, err)
	}

	hash, err := o.submitAction(ctx, cc, evm.Call{From: cc.from, To: cc.token, Data: data})
	if err != nil {
		return "", err
	}

	o.logger.Info("Allowance approved",
		zap.String("hash", hash.Hex()),
		zap.String("amount", value.String()))

	return hash.Hex(), nil
}

// Allowance reads the current approved spend for the escrow contract.
func (o *Orchestrator) Allowance(ctx context.Context) (*models.AllowanceState, error) {
	cc, err := o.preconditions()
	if err != nil {
		return nil, err
	}

	data, err := o.escrow.PackAllowance(cc.from, cc.escrow)
	if err != nil {
		return nil, txerr.Wrap(txerr.KindUnknown, err)
	}

	result, err := cc.invoker.Read(ctx, evm.Call{From: cc.from, To: cc.token, Data: data})
	if err != nil {
		return nil, o.classified(err)
	}

	approved, err := o.escrow.UnpackAllowance(result)
	if err != nil {
		return nil, txerr.Wrap(txerr.KindUnknown, err)
	}

	return &models.AllowanceState{
		ChainID:  cc.chainID,
		Token:    cc.token.Hex(),
		Owner:    cc.from.Hex(),
		Spender:  cc.escrow.Hex(),
		Approved: approved.String(),
	}, nil
}

// ConfirmDelivery releases escrowed funds for a completed purchase.
func (o *Orchestrator) ConfirmDelivery(ctx context.Context, purchaseID string) (string, error) {
	return o.purchaseAction(ctx, "confirmDelivery", purchaseID)
}

// CancelPurchase cancels a pending purchase and refunds the buyer.
func (o *Orchestrator) CancelPurchase(ctx context.Context, purchaseID string) (string, error) {
	return o.purchaseAction(ctx, "cancelPurchase", purchaseID)
}

// RaiseDispute flags a purchase for dispute resolution.
func (o *Orchestrator) RaiseDispute(ctx context.Context, purchaseID string) (string, error) {
	return o.purchaseAction(ctx, "raiseDispute", purchaseID)
}

// purchaseAction runs one of the single-argument purchase lifecycle calls.
func (o *Orchestrator) purchaseAction(ctx context.Context, method, purchaseID string) (string, error) {
	cc, err := o.preconditions()
	if err != nil {
		return "", err
	}

	id, ok := new(big.Int).SetString(purchaseID, 10)
	if !ok {
		return "", txerr.New(txerr.KindInvalidTrade)
	}

	data, err := o.escrow.PackPurchaseAction(method, id)
	if err != nil {
		return "", txerr.Wrap(txerr.KindUnknown, err)
	}

	hash, err := o.submitAction(ctx, cc, evm.Call{From: cc.from, To: cc.escrow, Data: data})
	if err != nil {
		return "", err
	}

	o.logger.Info("Purchase action submitted",
		zap.String("method", method),
		zap.String("purchase_id", purchaseID),
		zap.String("hash", hash.Hex()))

	// Lifecycle actions move escrowed funds, so balances are re-read after
	// the same settle delay as a same-chain purchase.
	o.scheduleBalanceRefresh(o.sameChainRefreshDelay)

	return hash.Hex(), nil
}

// submitAction estimates, submits, and awaits a same-chain write.
func (o *Orchestrator) submitAction(ctx context.Context, cc *callContext, call evm.Call) (common.Hash, error) {
	call.GasLimit = o.estimateGas(ctx, cc, call, sameChainGasMarginPct)

	hash, err := cc.invoker.Write(ctx, call)
	if err != nil {
		return common.Hash{}, o.classified(err)
	}

	if _, err := cc.invoker.WaitForReceipt(ctx, hash, o.sameChainTimeout); err != nil {
		return common.Hash{}, o.classified(err)
	}
	return hash, nil
}
