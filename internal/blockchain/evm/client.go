package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/Psalm112/Dezentra/internal/config"
)

// receiptPollInterval is how often WaitForReceipt re-queries the node.
const receiptPollInterval = 2 * time.Second

// Client wraps Ethereum client functionality for one EVM chain. It
// implements Invoker and BalanceReader; transaction signing is delegated
// to the injected Signer.
type Client struct {
	ethClient   *ethclient.Client
	chainConfig *config.ChainConfig
	signer      Signer
	logger      *zap.Logger
}

// NewClient creates a new EVM client for the specified chain
func NewClient(chainCfg *config.ChainConfig, signer Signer, logger *zap.Logger) (*Client, error) {
	ethClient, err := ethclient.Dial(chainCfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint %s: %w", chainCfg.RPCEndpoint, err)
	}

	logger.Info("EVM client initialized",
		zap.Uint64("chain_id", chainCfg.ChainID),
		zap.String("chain_name", chainCfg.Name),
		zap.String("signer_address", signer.Address().Hex()))

	return &Client{
		ethClient:   ethClient,
		chainConfig: chainCfg,
		signer:      signer,
		logger:      logger,
	}, nil
}

// Close closes the underlying RPC connection
func (c *Client) Close() {
	c.ethClient.Close()
}

// ChainID returns the configured chain ID
func (c *Client) ChainID() uint64 {
	return c.chainConfig.ChainID
}

// Read executes a view call against the chain
func (c *Client) Read(ctx context.Context, call Call) ([]byte, error) {
	result, err := c.ethClient.CallContract(ctx, callMsg(call), nil)
	if err != nil {
		return nil, fmt.Errorf("contract read failed: %w", err)
	}
	return result, nil
}

// Simulate estimates gas for the call without submitting it
func (c *Client) Simulate(ctx context.Context, call Call) (uint64, error) {
	gas, err := c.ethClient.EstimateGas(ctx, callMsg(call))
	if err != nil {
		return 0, fmt.Errorf("gas estimation failed: %w", err)
	}
	return gas, nil
}

// Write signs and submits the call as a transaction
func (c *Client) Write(ctx context.Context, call Call) (common.Hash, error) {
	from := c.signer.Address()

	nonce, err := c.ethClient.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := c.ethClient.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to suggest gas price: %w", err)
	}

	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}

	gasLimit := call.GasLimit
	if gasLimit == 0 {
		estimate, err := c.Simulate(ctx, call)
		if err != nil {
			return common.Hash{}, err
		}
		gasLimit = estimate * 120 / 100
	}

	tx := types.NewTransaction(nonce, call.To, value, gasLimit, gasPrice, call.Data)

	chainID := new(big.Int).SetUint64(c.chainConfig.ChainID)
	signedTx, err := c.signer.SignTx(ctx, tx, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.ethClient.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	c.logger.Info("Transaction sent",
		zap.String("tx_hash", signedTx.Hash().Hex()),
		zap.String("to", call.To.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", gasLimit))

	return signedTx.Hash(), nil
}

// WaitForReceipt waits for a transaction to be mined
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for transaction %s", txHash.Hex())
		case <-ticker.C:
			receipt, err := c.ethClient.TransactionReceipt(ctx, txHash)
			if err == nil && receipt != nil {
				if receipt.Status == types.ReceiptStatusFailed {
					return receipt, fmt.Errorf("transaction failed: %s", txHash.Hex())
				}
				return receipt, nil
			}
			// Transaction not yet mined, continue waiting
		}
	}
}

// Receipt performs a single receipt lookup without waiting. It returns
// (nil, nil) while the transaction is still unmined.
func (c *Client) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := c.ethClient.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get receipt for %s: %w", txHash.Hex(), err)
	}
	return receipt, nil
}

// NativeBalance returns the native token balance of an address
func (c *Client) NativeBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	return c.ethClient.BalanceAt(ctx, address, nil)
}

// TokenBalance returns an ERC20 token balance of an address
func (c *Client) TokenBalance(ctx context.Context, token, address common.Address) (*big.Int, error) {
	// ERC20 balanceOf(address) selector: 0x70a08231
	data := append(
		common.Hex2Bytes("70a08231"),
		common.LeftPadBytes(address.Bytes(), 32)...,
	)

	result, err := c.ethClient.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}

	if len(result) < 32 {
		return nil, fmt.Errorf("invalid balance response length: %d", len(result))
	}

	return new(big.Int).SetBytes(result), nil
}

// NetworkChainID returns the chain ID reported by the connected node
func (c *Client) NetworkChainID(ctx context.Context) (*big.Int, error) {
	return c.ethClient.ChainID(ctx)
}

func callMsg(call Call) ethereum.CallMsg {
	to := call.To
	return ethereum.CallMsg{
		From:  call.From,
		To:    &to,
		Data:  call.Data,
		Value: call.Value,
	}
}
