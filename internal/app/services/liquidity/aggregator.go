package liquidity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// AggregatorConfig configures the market-data aggregator strategy.
type AggregatorConfig struct {
	// BaseURL is queried as {BaseURL}/tokens/{token}.
	BaseURL        string
	ReferenceAsset common.Address
	Timeout        time.Duration
}

// AggregatorResolver sums the quote-side liquidity of every trading pair
// reported for a token, counting only pairs quoted against the reference asset
// or the zero address.
type AggregatorResolver struct {
	client    *resty.Client
	baseURL   string
	reference common.Address
}

var _ Resolver = (*AggregatorResolver)(nil)

// NewAggregatorResolver builds a resolver for cfg.
func NewAggregatorResolver(cfg AggregatorConfig) (*AggregatorResolver, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("aggregator url required")
	}
	if cfg.ReferenceAsset == (common.Address{}) {
		cfg.ReferenceAsset = common.HexToAddress(DefaultReferenceAsset)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "registry-sync/1.0")

	return &AggregatorResolver{client: client, baseURL: baseURL, reference: cfg.ReferenceAsset}, nil
}

func (r *AggregatorResolver) ResolveLiquidity(ctx context.Context, token common.Address) (float64, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		SetPathParam("token", token.Hex()).
		Get(r.baseURL + "/tokens/{token}")
	if err != nil {
		return 0, fmt.Errorf("aggregator request: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("aggregator status %d", resp.StatusCode())
	}
	return SumQuotedLiquidity(resp.Body(), r.reference)
}

// SumQuotedLiquidity parses an aggregator pairs document.
func SumQuotedLiquidity(body []byte, reference common.Address) (float64, error) {
	if !gjson.ValidBytes(body) {
		return 0, fmt.Errorf("aggregator response is not valid JSON")
	}

	var total float64
	gjson.GetBytes(body, "pairs").ForEach(func(_, pair gjson.Result) bool {
		quote := pair.Get("quoteToken.address").String()
		if !common.IsHexAddress(quote) {
			return true
		}
		addr := common.HexToAddress(quote)
		if addr != reference && addr != (common.Address{}) {
			return true
		}
		if v := pair.Get("liquidity.quote").Float(); v > 0 {
			total += v
		}
		return true
	})
	return total, nil
}
