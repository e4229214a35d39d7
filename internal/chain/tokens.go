package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// =============================================================================
// ERC-20
// =============================================================================

// ERC20 reads token contracts.
type ERC20 struct {
	client *Client
}

// NewERC20 returns an ERC-20 reader.
func NewERC20(client *Client) *ERC20 {
	return &ERC20{client: client}
}

func (e *ERC20) bind(token common.Address) boundContract {
	return boundContract{name: "erc20", client: e.client, address: token, abi: ERC20ABI}
}

// Symbol returns the token symbol.
func (e *ERC20) Symbol(ctx context.Context, token common.Address) (string, error) {
	out, err := e.bind(token).call(ctx, "symbol")
	if err != nil {
		return "", err
	}
	return asString("erc20.symbol", out[0])
}

// BalanceOf returns holder's balance of token in base units.
func (e *ERC20) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	out, err := e.bind(token).call(ctx, "balanceOf", holder)
	if err != nil {
		return nil, err
	}
	return asBigInt("erc20.balanceOf", out[0])
}

// =============================================================================
// Pool factory
// =============================================================================

// PoolFactory reads a concentrated-liquidity pool factory.
type PoolFactory struct {
	contract boundContract
}

// NewPoolFactory binds the factory at address.
func NewPoolFactory(client *Client, address common.Address) *PoolFactory {
	return &PoolFactory{contract: boundContract{name: "poolFactory", client: client, address: address, abi: PoolFactoryABI}}
}

// GetPool returns the pool for the pair at fee tier, or the zero address.
func (f *PoolFactory) GetPool(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	out, err := f.contract.call(ctx, "getPool", tokenA, tokenB, new(big.Int).SetUint64(uint64(fee)))
	if err != nil {
		return common.Address{}, err
	}
	return asAddress("poolFactory.getPool", out[0])
}

// =============================================================================
// Funding escrow
// =============================================================================

// Escrow reads accumulated app funding.
type Escrow struct {
	contract boundContract
}

// NewEscrow binds the escrow contract at address.
func NewEscrow(client *Client, address common.Address) *Escrow {
	return &Escrow{contract: boundContract{name: "escrow", client: client, address: address, abi: EscrowABI}}
}

// AppFunds returns the funds held for frameID in base units.
func (e *Escrow) AppFunds(ctx context.Context, frameID int64) (*big.Int, error) {
	out, err := e.contract.call(ctx, "getAppFunds", big.NewInt(frameID))
	if err != nil {
		return nil, err
	}
	return asBigInt("escrow.getAppFunds", out[0])
}
