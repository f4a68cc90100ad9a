package evm

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Call describes a contract invocation.
type Call struct {
	From     common.Address
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

// Invoker is the contract-invocation boundary. The trade orchestrator is
// the sole caller of Simulate and Write for purchase flows.
type Invoker interface {
	// Read executes a view call and returns the raw result.
	Read(ctx context.Context, call Call) ([]byte, error)
	// Simulate runs the call without submitting and returns a gas estimate.
	Simulate(ctx context.Context, call Call) (uint64, error)
	// Write signs and submits the call, returning the transaction hash.
	Write(ctx context.Context, call Call) (common.Hash, error)
	// WaitForReceipt polls until the transaction is mined or the timeout
	// elapses.
	WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)
}

// BalanceReader reads account balances for the balance tracker.
type BalanceReader interface {
	NativeBalance(ctx context.Context, address common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, address common.Address) (*big.Int, error)
}

// Signer produces signatures for outgoing transactions. Key management and
// the signing handshake live in the external wallet provider, not here.
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}
