package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Psalm112/Dezentra/internal/config"
	"github.com/Psalm112/Dezentra/internal/models"
)

// State is the wallet session state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Provider is the external wallet provider boundary. The connect handshake
// and all key custody happen on the provider's side.
type Provider interface {
	Connect(ctx context.Context) (common.Address, uint64, error)
	SwitchNetwork(ctx context.Context, chainID uint64) error
	Disconnect(ctx context.Context) error
}

// TrackerControl is the balance tracker surface the session drives on
// state transitions.
type TrackerControl interface {
	Activate(address common.Address, chainID uint64)
	Suspend()
	ClearState()
	Balances() (native string, token *models.TokenBalance, refreshing bool, lastError string)
}

// RateControl lets the session warm the rate cache when a supported chain
// becomes active.
type RateControl interface {
	Refresh(ctx context.Context, chainID uint64, force bool)
}

// Session owns the connect/disconnect/network-switch state machine and the
// canonical wallet snapshot consumed by everything else.
type Session struct {
	cfg      *config.Config
	provider Provider
	tracker  TrackerControl
	rates    RateControl
	logger   *zap.Logger

	mu        sync.Mutex
	state     State
	address   common.Address
	chainID   uint64
	lastError string
	gen       uint64 // bumped by Disconnect; stale completions check it
}

// NewSession creates a wallet session in the Disconnected state.
func NewSession(cfg *config.Config, provider Provider, tracker TrackerControl, rates RateControl, logger *zap.Logger) *Session {
	return &Session{
		cfg:      cfg,
		provider: provider,
		tracker:  tracker,
		rates:    rates,
		logger:   logger.Named("wallet"),
		state:    StateDisconnected,
	}
}

// Connect runs the connect handshake. On failure the session returns to
// Disconnected with the error recorded in the snapshot.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("connect is only valid from disconnected state, current state: %s", state)
	}
	s.state = StateConnecting
	gen := s.gen
	s.mu.Unlock()

	address, chainID, err := s.provider.Connect(ctx)

	s.mu.Lock()
	if gen != s.gen {
		// A disconnect landed while the handshake was in flight; the
		// session is already Disconnected and this completion must not
		// revive it.
		s.mu.Unlock()
		s.logger.Info("Discarding connect completion after disconnect")
		return fmt.Errorf("connect aborted: session disconnected during handshake")
	}
	if err != nil {
		s.state = StateDisconnected
		s.lastError = err.Error()
		s.mu.Unlock()
		s.logger.Warn("Wallet connect failed", zap.Error(err))
		return fmt.Errorf("wallet connect failed: %w", err)
	}
	s.state = StateConnected
	s.address = address
	s.chainID = chainID
	s.lastError = ""
	s.mu.Unlock()

	s.logger.Info("Wallet connected",
		zap.String("address", address.Hex()),
		zap.Uint64("chain_id", chainID))

	s.reevaluateSubscriptions(ctx)
	return nil
}

// SwitchNetwork asks the provider to move to the target chain. Only valid
// while connected on an unsupported network; a provider rejection keeps the
// session connected on the wrong network with the error surfaced.
func (s *Session) SwitchNetwork(ctx context.Context, targetChainID uint64) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return fmt.Errorf("switch network requires a connected wallet")
	}
	if s.isCorrectNetworkLocked() {
		s.mu.Unlock()
		return fmt.Errorf("already on a supported network")
	}
	gen := s.gen
	s.mu.Unlock()

	if _, ok := s.cfg.Chain(targetChainID); !ok {
		return fmt.Errorf("chain %d is not supported", targetChainID)
	}

	if err := s.provider.SwitchNetwork(ctx, targetChainID); err != nil {
		s.mu.Lock()
		if gen == s.gen {
			s.lastError = err.Error()
		}
		s.mu.Unlock()
		s.logger.Warn("Network switch rejected",
			zap.Uint64("target_chain_id", targetChainID),
			zap.Error(err))
		return fmt.Errorf("network switch failed: %w", err)
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.logger.Info("Discarding network switch completion after disconnect")
		return fmt.Errorf("network switch aborted: session disconnected")
	}
	s.chainID = targetChainID
	s.lastError = ""
	s.mu.Unlock()

	s.logger.Info("Network switched", zap.Uint64("chain_id", targetChainID))

	s.reevaluateSubscriptions(ctx)
	return nil
}

// Disconnect terminates the session from any state and clears all derived
// caches scoped to the previous address and chain.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	wasConnected := s.state != StateDisconnected
	s.gen++
	s.state = StateDisconnected
	s.address = common.Address{}
	s.chainID = 0
	s.lastError = ""
	s.mu.Unlock()

	s.tracker.Suspend()
	s.tracker.ClearState()

	if wasConnected {
		if err := s.provider.Disconnect(ctx); err != nil {
			s.logger.Warn("Provider disconnect reported error", zap.Error(err))
		}
		s.logger.Info("Wallet disconnected")
	}
	return nil
}

// Snapshot returns the canonical wallet state, merged with the balance
// tracker's latest committed readings.
func (s *Session) Snapshot() models.WalletSnapshot {
	s.mu.Lock()
	state := s.state
	address := s.address
	chainID := s.chainID
	lastError := s.lastError
	s.mu.Unlock()

	native, token, refreshing, trackerErr := s.tracker.Balances()

	snapshot := models.WalletSnapshot{
		IsConnected:  state == StateConnected,
		IsConnecting: state == StateConnecting || refreshing,
		LastError:    lastError,
	}
	if state == StateConnected {
		snapshot.Address = address.Hex()
		snapshot.ChainID = chainID
		snapshot.NativeBalance = native
		snapshot.TokenBalance = token
		if snapshot.LastError == "" {
			snapshot.LastError = trackerErr
		}
	}
	return snapshot
}

// Address returns the connected address, or false when disconnected.
func (s *Session) Address() (common.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return common.Address{}, false
	}
	return s.address, true
}

// CurrentChain returns the connected chain id, or false when disconnected.
func (s *Session) CurrentChain() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return 0, false
	}
	return s.chainID, true
}

// IsCorrectNetwork reports whether the connected chain is configured.
func (s *Session) IsCorrectNetwork() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected && s.isCorrectNetworkLocked()
}

func (s *Session) isCorrectNetworkLocked() bool {
	_, ok := s.cfg.Chain(s.chainID)
	return ok
}

// reevaluateSubscriptions activates or suspends the balance tracker and
// warms the rate cache according to the new state. Runs on every transition.
func (s *Session) reevaluateSubscriptions(ctx context.Context) {
	s.mu.Lock()
	connected := s.state == StateConnected
	correct := s.isCorrectNetworkLocked()
	address := s.address
	chainID := s.chainID
	s.mu.Unlock()

	if connected && correct {
		s.tracker.Activate(address, chainID)
		go s.rates.Refresh(context.WithoutCancel(ctx), chainID, false)
	} else {
		s.tracker.Suspend()
	}
}
