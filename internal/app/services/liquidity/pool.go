package liquidity

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PoolLocator finds the pool for a token pair at a fee tier.
type PoolLocator interface {
	GetPool(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error)
}

// BalanceReader reads ERC-20 balances.
type BalanceReader interface {
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
}

// PoolConfig selects the reference side of the pool.
type PoolConfig struct {
	ReferenceAsset    common.Address
	FeeTier           uint32
	ReferenceDecimals int
}

// PoolResolver measures liquidity as the reference-asset balance held by the
// token's pool at a single fee tier.
type PoolResolver struct {
	pools    PoolLocator
	balances BalanceReader
	cfg      PoolConfig
}

var _ Resolver = (*PoolResolver)(nil)

// NewPoolResolver fills zero config fields with the defaults.
func NewPoolResolver(pools PoolLocator, balances BalanceReader, cfg PoolConfig) *PoolResolver {
	if cfg.ReferenceAsset == (common.Address{}) {
		cfg.ReferenceAsset = common.HexToAddress(DefaultReferenceAsset)
	}
	if cfg.FeeTier == 0 {
		cfg.FeeTier = DefaultFeeTier
	}
	if cfg.ReferenceDecimals == 0 {
		cfg.ReferenceDecimals = DefaultReferenceDecimals
	}
	return &PoolResolver{pools: pools, balances: balances, cfg: cfg}
}

func (r *PoolResolver) ResolveLiquidity(ctx context.Context, token common.Address) (float64, error) {
	pool, err := r.pools.GetPool(ctx, token, r.cfg.ReferenceAsset, r.cfg.FeeTier)
	if err != nil {
		return 0, err
	}
	if pool == (common.Address{}) {
		return 0, nil
	}
	balance, err := r.balances.BalanceOf(ctx, r.cfg.ReferenceAsset, pool)
	if err != nil {
		return 0, err
	}
	return FromWei(balance, r.cfg.ReferenceDecimals), nil
}
