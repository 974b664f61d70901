package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

const aggregatorV3ABI = `[
  {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"latestRoundData","outputs":[
    {"internalType":"uint80","name":"roundId","type":"uint80"},
    {"internalType":"int256","name":"answer","type":"int256"},
    {"internalType":"uint256","name":"startedAt","type":"uint256"},
    {"internalType":"uint256","name":"updatedAt","type":"uint256"},
    {"internalType":"uint80","name":"answeredInRound","type":"uint80"}],
   "stateMutability":"view","type":"function"}
]`

const erc4626ABI = `[
  {"inputs":[],"name":"asset","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"shares","type":"uint256"}],"name":"convertToAssets","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var (
	parseOnce     sync.Once
	aggregatorABI abi.ABI
	vaultABI      abi.ABI
	parseErr      error
)

func parsedABIs() (abi.ABI, abi.ABI, error) {
	parseOnce.Do(func() {
		aggregatorABI, parseErr = abi.JSON(strings.NewReader(aggregatorV3ABI))
		if parseErr != nil {
			return
		}
		vaultABI, parseErr = abi.JSON(strings.NewReader(erc4626ABI))
	})
	return aggregatorABI, vaultABI, parseErr
}

// AggregatorV3 reads a Chainlink aggregator over RPC.
type AggregatorV3 struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewAggregatorV3 binds the read-only aggregator at address.
func NewAggregatorV3(address common.Address, caller bind.ContractCaller) (*AggregatorV3, error) {
	parsed, _, err := parsedABIs()
	if err != nil {
		return nil, fmt.Errorf("parse aggregator abi: %w", err)
	}
	return &AggregatorV3{
		address:  address,
		contract: bind.NewBoundContract(address, parsed, caller, nil, nil),
	}, nil
}

func (a *AggregatorV3) LatestRoundData(ctx context.Context) (RoundData, error) {
	var out []interface{}
	if err := a.contract.Call(&bind.CallOpts{Context: ctx}, &out, "latestRoundData"); err != nil {
		return RoundData{}, fmt.Errorf("aggregator %s latestRoundData: %w", a.address.Hex(), err)
	}
	if len(out) != 5 {
		return RoundData{}, fmt.Errorf("aggregator %s latestRoundData: got %d values", a.address.Hex(), len(out))
	}
	return RoundData{
		RoundID:         *abi.ConvertType(out[0], new(*big.Int)).(**big.Int),
		Answer:          *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		StartedAt:       *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
		UpdatedAt:       *abi.ConvertType(out[3], new(*big.Int)).(**big.Int),
		AnsweredInRound: *abi.ConvertType(out[4], new(*big.Int)).(**big.Int),
	}, nil
}

func (a *AggregatorV3) Decimals(ctx context.Context) (uint8, error) {
	return callDecimals(ctx, a.contract, a.address)
}

// ERC4626 reads a tokenized vault over RPC.
type ERC4626 struct {
	address  common.Address
	contract *bind.BoundContract
}

func (v *ERC4626) Asset(ctx context.Context) (common.Address, error) {
	var out []interface{}
	if err := v.contract.Call(&bind.CallOpts{Context: ctx}, &out, "asset"); err != nil {
		return common.Address{}, fmt.Errorf("vault %s asset: %w", v.address.Hex(), err)
	}
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("vault %s asset: got %d values", v.address.Hex(), len(out))
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

func (v *ERC4626) Decimals(ctx context.Context) (uint8, error) {
	return callDecimals(ctx, v.contract, v.address)
}

func (v *ERC4626) ConvertToAssets(ctx context.Context, shares *big.Int) (*big.Int, error) {
	var out []interface{}
	if err := v.contract.Call(&bind.CallOpts{Context: ctx}, &out, "convertToAssets", shares); err != nil {
		return nil, fmt.Errorf("vault %s convertToAssets: %w", v.address.Hex(), err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("vault %s convertToAssets: got %d values", v.address.Hex(), len(out))
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// ERC4626Source resolves asset addresses to RPC-backed vault readers.
type ERC4626Source struct {
	caller bind.ContractCaller

	mu     sync.Mutex
	vaults map[common.Address]*ERC4626
}

func NewERC4626Source(caller bind.ContractCaller) *ERC4626Source {
	return &ERC4626Source{caller: caller, vaults: make(map[common.Address]*ERC4626)}
}

func (s *ERC4626Source) Vault(asset common.Address) (VaultReader, error) {
	_, parsed, err := parsedABIs()
	if err != nil {
		return nil, fmt.Errorf("parse vault abi: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.vaults[asset]; ok {
		return v, nil
	}
	v := &ERC4626{address: asset, contract: bind.NewBoundContract(asset, parsed, s.caller, nil, nil)}
	s.vaults[asset] = v
	return v, nil
}

func callDecimals(ctx context.Context, contract *bind.BoundContract, address common.Address) (uint8, error) {
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "decimals"); err != nil {
		return 0, fmt.Errorf("%s decimals: %w", address.Hex(), err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("%s decimals: got %d values", address.Hex(), len(out))
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}
