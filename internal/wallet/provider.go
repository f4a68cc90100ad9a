package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/Psalm112/Dezentra/internal/config"
)

// KeyedProvider is a wallet provider backed by a locally held key. It
// implements both the session's Provider boundary and the chain client's
// Signer boundary. Connect and SwitchNetwork succeed immediately; a
// browser-extension provider would run its handshake here instead.
type KeyedProvider struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    uint64
	logger     *zap.Logger
}

// NewKeyedProvider parses the configured private key and prepares the
// provider on the default chain.
func NewKeyedProvider(cfg config.WalletConfig, logger *zap.Logger) (*KeyedProvider, error) {
	privateKeyHex := strings.TrimPrefix(cfg.PrivateKey, "0x")
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to cast public key to ECDSA")
	}
	address := crypto.PubkeyToAddress(*publicKey)

	logger.Info("Wallet provider initialized",
		zap.String("address", address.Hex()),
		zap.Uint64("default_chain_id", cfg.DefaultChainID))

	return &KeyedProvider{
		privateKey: privateKey,
		address:    address,
		chainID:    cfg.DefaultChainID,
		logger:     logger,
	}, nil
}

// Connect completes the connect handshake.
func (p *KeyedProvider) Connect(ctx context.Context) (common.Address, uint64, error) {
	return p.address, p.chainID, nil
}

// SwitchNetwork moves the provider to the target chain.
func (p *KeyedProvider) SwitchNetwork(ctx context.Context, chainID uint64) error {
	p.chainID = chainID
	return nil
}

// Disconnect ends the provider session.
func (p *KeyedProvider) Disconnect(ctx context.Context) error {
	return nil
}

// Address returns the provider's account address.
func (p *KeyedProvider) Address() common.Address {
	return p.address
}

// SignTx signs a transaction for the given chain.
func (p *KeyedProvider) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), p.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}
