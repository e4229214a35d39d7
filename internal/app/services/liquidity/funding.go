package liquidity

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FundsReader reads the escrowed balance of a ledger entry.
type FundsReader interface {
	AppFunds(ctx context.Context, frameID int64) (*big.Int, error)
}

// SymbolReader reads an ERC-20 symbol.
type SymbolReader interface {
	Symbol(ctx context.Context, token common.Address) (string, error)
}

// FundingSource converts escrowed funds to a human-scaled figure.
type FundingSource struct {
	funds FundsReader
}

func NewFundingSource(funds FundsReader) *FundingSource {
	return &FundingSource{funds: funds}
}

// Funding returns the escrowed amount for frameID in whole units.
func (f *FundingSource) Funding(ctx context.Context, frameID int64) (float64, error) {
	amount, err := f.funds.AppFunds(ctx, frameID)
	if err != nil {
		return 0, err
	}
	return FromWei(amount, 18), nil
}

// TokenInfo resolves display metadata for launched tokens.
type TokenInfo struct {
	symbols SymbolReader
}

func NewTokenInfo(symbols SymbolReader) *TokenInfo {
	return &TokenInfo{symbols: symbols}
}

// Symbol returns the token's ticker.
func (t *TokenInfo) Symbol(ctx context.Context, token common.Address) (string, error) {
	return t.symbols.Symbol(ctx, token)
}
