package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// EscrowABI is the ABI for the Dezentra escrow contract
const EscrowABI = `[
	{
		"inputs": [
			{"internalType": "uint256", "name": "tradeId", "type": "uint256"},
			{"internalType": "uint256", "name": "quantity", "type": "uint256"},
			{"internalType": "address", "name": "logisticsProvider", "type": "address"}
		],
		"name": "buyTrade",
		"outputs": [{"internalType": "uint256", "name": "purchaseId", "type": "uint256"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "tradeId", "type": "uint256"},
			{"internalType": "uint256", "name": "quantity", "type": "uint256"},
			{"internalType": "address", "name": "logisticsProvider", "type": "address"},
			{"internalType": "uint64", "name": "destinationChainSelector", "type": "uint64"},
			{"internalType": "address", "name": "destinationContract", "type": "address"},
			{"internalType": "address", "name": "feeToken", "type": "address"}
		],
		"name": "buyCrossChainTrade",
		"outputs": [{"internalType": "bytes32", "name": "messageId", "type": "bytes32"}],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "uint256", "name": "tradeId", "type": "uint256"}],
		"name": "getTrade",
		"outputs": [
			{"internalType": "address", "name": "seller", "type": "address"},
			{"internalType": "uint256", "name": "unitCost", "type": "uint256"},
			{"internalType": "uint256", "name": "remainingQuantity", "type": "uint256"},
			{"internalType": "bool", "name": "active", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint64", "name": "destinationChainSelector", "type": "uint64"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"}
		],
		"name": "estimateCrossChainFee",
		"outputs": [{"internalType": "uint256", "name": "fee", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "uint256", "name": "purchaseId", "type": "uint256"}],
		"name": "confirmDelivery",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "uint256", "name": "purchaseId", "type": "uint256"}],
		"name": "cancelPurchase",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "uint256", "name": "purchaseId", "type": "uint256"}],
		"name": "raiseDispute",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "purchaseId", "type": "uint256"},
			{"indexed": true, "internalType": "uint256", "name": "tradeId", "type": "uint256"},
			{"indexed": false, "internalType": "address", "name": "buyer", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "quantity", "type": "uint256"},
			{"indexed": false, "internalType": "uint256", "name": "totalAmount", "type": "uint256"}
		],
		"name": "PurchaseCreated",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "bytes32", "name": "messageId", "type": "bytes32"},
			{"indexed": false, "internalType": "uint64", "name": "destinationChainSelector", "type": "uint64"},
			{"indexed": false, "internalType": "address", "name": "receiver", "type": "address"}
		],
		"name": "MessageSent",
		"type": "event"
	}
]`

// ERC20ABI covers the approve/allowance surface of the stable token
const ERC20ABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "spender", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"}
		],
		"name": "approve",
		"outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "owner", "type": "address"},
			{"internalType": "address", "name": "spender", "type": "address"}
		],
		"name": "allowance",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// Escrow packs calls against the escrow and stable-token contracts and
// decodes their event logs.
type Escrow struct {
	escrowABI abi.ABI
	erc20ABI  abi.ABI
	logger    *zap.Logger
}

// NewEscrow parses the contract ABIs
func NewEscrow(logger *zap.Logger) (*Escrow, error) {
	escrowABI, err := abi.JSON(strings.NewReader(EscrowABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse escrow ABI: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}
	return &Escrow{
		escrowABI: escrowABI,
		erc20ABI:  erc20ABI,
		logger:    logger,
	}, nil
}

// PackBuyTrade encodes a same-chain purchase call
func (e *Escrow) PackBuyTrade(tradeID, quantity *big.Int, logisticsProvider common.Address) ([]byte, error) {
	data, err := e.escrowABI.Pack("buyTrade", tradeID, quantity, logisticsProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to pack buyTrade call: %w", err)
	}
	return data, nil
}

// PackBuyCrossChainTrade encodes a cross-chain purchase call
func (e *Escrow) PackBuyCrossChainTrade(
	tradeID, quantity *big.Int,
	logisticsProvider common.Address,
	destinationChainSelector uint64,
	destinationContract common.Address,
	feeToken common.Address,
) ([]byte, error) {
	data, err := e.escrowABI.Pack("buyCrossChainTrade",
		tradeID, quantity, logisticsProvider,
		destinationChainSelector, destinationContract, feeToken)
	if err != nil {
		return nil, fmt.Errorf("failed to pack buyCrossChainTrade call: %w", err)
	}
	return data, nil
}

// PackGetTrade encodes the getTrade view call
func (e *Escrow) PackGetTrade(tradeID *big.Int) ([]byte, error) {
	data, err := e.escrowABI.Pack("getTrade", tradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getTrade call: %w", err)
	}
	return data, nil
}

// TradeView is the unpacked result of getTrade
type TradeView struct {
	Seller            common.Address
	UnitCost          *big.Int
	RemainingQuantity *big.Int
	Active            bool
}

// UnpackTrade decodes a getTrade result
func (e *Escrow) UnpackTrade(result []byte) (*TradeView, error) {
	values, err := e.escrowABI.Unpack("getTrade", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack getTrade result: %w", err)
	}
	if len(values) != 4 {
		return nil, fmt.Errorf("unexpected getTrade result arity: %d", len(values))
	}

	view := &TradeView{}
	var ok bool
	if view.Seller, ok = values[0].(common.Address); !ok {
		return nil, fmt.Errorf("unexpected seller type in getTrade result")
	}
	if view.UnitCost, ok = values[1].(*big.Int); !ok {
		return nil, fmt.Errorf("unexpected unitCost type in getTrade result")
	}
	if view.RemainingQuantity, ok = values[2].(*big.Int); !ok {
		return nil, fmt.Errorf("unexpected remainingQuantity type in getTrade result")
	}
	if view.Active, ok = values[3].(bool); !ok {
		return nil, fmt.Errorf("unexpected active type in getTrade result")
	}
	return view, nil
}

// PackEstimateCrossChainFee encodes the fee estimation view call
func (e *Escrow) PackEstimateCrossChainFee(destinationChainSelector uint64, amount *big.Int) ([]byte, error) {
	data, err := e.escrowABI.Pack("estimateCrossChainFee", destinationChainSelector, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack estimateCrossChainFee call: %w", err)
	}
	return data, nil
}

// UnpackCrossChainFee decodes the fee estimation result
func (e *Escrow) UnpackCrossChainFee(result []byte) (*big.Int, error) {
	var fee *big.Int
	if err := e.escrowABI.UnpackIntoInterface(&fee, "estimateCrossChainFee", result); err != nil {
		return nil, fmt.Errorf("failed to unpack estimateCrossChainFee result: %w", err)
	}
	return fee, nil
}

// PackPurchaseAction encodes one of the single-argument purchase lifecycle
// calls: confirmDelivery, cancelPurchase, raiseDispute.
func (e *Escrow) PackPurchaseAction(method string, purchaseID *big.Int) ([]byte, error) {
	data, err := e.escrowABI.Pack(method, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}
	return data, nil
}

// PackApprove encodes an ERC20 approve call
func (e *Escrow) PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	data, err := e.erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack approve call: %w", err)
	}
	return data, nil
}

// PackAllowance encodes an ERC20 allowance view call
func (e *Escrow) PackAllowance(owner, spender common.Address) ([]byte, error) {
	data, err := e.erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance call: %w", err)
	}
	return data, nil
}

// UnpackAllowance decodes an ERC20 allowance result
func (e *Escrow) UnpackAllowance(result []byte) (*big.Int, error) {
	var approved *big.Int
	if err := e.erc20ABI.UnpackIntoInterface(&approved, "allowance", result); err != nil {
		return nil, fmt.Errorf("failed to unpack allowance result: %w", err)
	}
	return approved, nil
}

// PurchaseEvents holds the identifiers recovered from a purchase receipt.
// Either field may be empty when the corresponding event was not found.
type PurchaseEvents struct {
	PurchaseID string
	MessageID  string
}

// DecodePurchaseEvents scans every log in the receipt for PurchaseCreated
// and MessageSent events. Individual logs that fail to decode are skipped
// rather than aborting the whole decode.
func (e *Escrow) DecodePurchaseEvents(receipt *types.Receipt) PurchaseEvents {
	var events PurchaseEvents

	purchaseCreated := e.escrowABI.Events["PurchaseCreated"]
	messageSent := e.escrowABI.Events["MessageSent"]

	for _, log := range receipt.Logs {
		if log == nil || len(log.Topics) == 0 {
			continue
		}

		switch log.Topics[0] {
		case purchaseCreated.ID:
			if len(log.Topics) < 2 {
				e.logger.Warn("PurchaseCreated log missing indexed topics",
					zap.String("tx_hash", receipt.TxHash.Hex()))
				continue
			}
			purchaseID := new(big.Int).SetBytes(log.Topics[1].Bytes())
			events.PurchaseID = purchaseID.String()

		case messageSent.ID:
			if len(log.Topics) < 2 {
				e.logger.Warn("MessageSent log missing indexed topics",
					zap.String("tx_hash", receipt.TxHash.Hex()))
				continue
			}
			events.MessageID = log.Topics[1].Hex()
		}
	}

	return events
}
