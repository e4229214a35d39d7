package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	svcerrors "github.com/farstore/registry-sync/internal/errors"
)

// =============================================================================
// Contract Call Methods
// =============================================================================

// EthCall executes a read-only call against the latest block.
func (c *Client) EthCall(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := callMsg{To: to.Hex(), Data: hexutil.Encode(data)}
	result, err := c.Call(ctx, "eth_call", []interface{}{msg, "latest"})
	if err != nil {
		return nil, err
	}

	var hex string
	if err := json.Unmarshal(result, &hex); err != nil {
		return nil, fmt.Errorf("decode eth_call result: %w", err)
	}
	return hexutil.Decode(hex)
}

// boundContract pairs an address with its ABI.
type boundContract struct {
	name    string
	client  *Client
	address common.Address
	abi     abi.ABI
}

// call packs args, performs eth_call and unpacks the outputs. Every failure is
// reported as LedgerUnavailable.
func (b boundContract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	op := b.name + "." + method

	input, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, svcerrors.LedgerUnavailable(op, fmt.Errorf("pack: %w", err))
	}

	output, err := b.client.EthCall(ctx, b.address, input)
	if err != nil {
		return nil, svcerrors.LedgerUnavailable(op, err)
	}

	values, err := b.abi.Unpack(method, output)
	if err != nil {
		return nil, svcerrors.LedgerUnavailable(op, fmt.Errorf("unpack: %w", err))
	}

	wantOut := len(b.abi.Methods[method].Outputs)
	if len(values) != wantOut {
		return nil, svcerrors.LedgerUnavailable(op, fmt.Errorf("expected %d outputs, got %d", wantOut, len(values)))
	}
	return values, nil
}

func asBigInt(op string, v interface{}) (*big.Int, error) {
	n, ok := v.(*big.Int)
	if !ok || n == nil {
		return nil, svcerrors.LedgerUnavailable(op, fmt.Errorf("unexpected output type %T", v))
	}
	return n, nil
}

// asInt64 narrows a uint256 output. Values that are negative or do not fit
// an int64 are malformed ledger responses.
func asInt64(op string, v interface{}) (int64, error) {
	n, err := asBigInt(op, v)
	if err != nil {
		return 0, err
	}
	if n.Sign() < 0 || !n.IsInt64() {
		return 0, svcerrors.LedgerUnavailable(op, fmt.Errorf("value %s out of int64 range", n))
	}
	return n.Int64(), nil
}

func asString(op string, v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", svcerrors.LedgerUnavailable(op, fmt.Errorf("unexpected output type %T", v))
	}
	return s, nil
}

func asAddress(op string, v interface{}) (common.Address, error) {
	a, ok := v.(common.Address)
	if !ok {
		return common.Address{}, svcerrors.LedgerUnavailable(op, fmt.Errorf("unexpected output type %T", v))
	}
	return a, nil
}

func parseQuantity(hex string) (uint64, error) {
	n, err := hexutil.DecodeUint64(hex)
	if err != nil {
		return 0, fmt.Errorf("decode quantity %q: %w", hex, err)
	}
	return n, nil
}
