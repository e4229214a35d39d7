// Package liquidity computes the derived financial figures attached to ledger
// entries: pool liquidity against a reference asset and escrowed funding.
package liquidity

import (
	"context"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Resolver computes the reference-asset liquidity for a token.
type Resolver interface {
	ResolveLiquidity(ctx context.Context, token common.Address) (float64, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, token common.Address) (float64, error)

func (f ResolverFunc) ResolveLiquidity(ctx context.Context, token common.Address) (float64, error) {
	if f == nil {
		return 0, nil
	}
	return f(ctx, token)
}

// Strategy names accepted by configuration.
const (
	StrategyPool       = "pool"
	StrategyAggregator = "aggregator"
)

// Reference asset defaults: wrapped ether on Base, 1% fee tier.
const (
	DefaultReferenceAsset    = "0x4200000000000000000000000000000000000006"
	DefaultFeeTier           = uint32(10000)
	DefaultReferenceDecimals = 18
)

// FromWei scales an integer amount in base units down by 10^decimals.
func FromWei(amount *big.Int, decimals int) float64 {
	if amount == nil || amount.Sign() == 0 {
		return 0
	}
	f := new(big.Float).SetInt(amount)
	if decimals > 0 {
		scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
		f.Quo(f, scale)
	}
	v, _ := f.Float64()
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}
