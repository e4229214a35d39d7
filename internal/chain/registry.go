package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/farstore/registry-sync/internal/app/domain/registry"
	svcerrors "github.com/farstore/registry-sync/internal/errors"
)

// Registry reads the append-only app registry contract.
type Registry struct {
	contract boundContract
}

// NewRegistry binds the registry contract at address.
func NewRegistry(client *Client, address common.Address) *Registry {
	return &Registry{contract: boundContract{name: "registry", client: client, address: address, abi: RegistryABI}}
}

// Count returns the number of registered entries.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	out, err := r.contract.call(ctx, "getNumListedFrames")
	if err != nil {
		return 0, err
	}
	return asInt64("registry.getNumListedFrames", out[0])
}

// DomainAt resolves a 1-based ledger index to its domain.
func (r *Registry) DomainAt(ctx context.Context, index int64) (string, error) {
	out, err := r.contract.call(ctx, "getDomain", big.NewInt(index))
	if err != nil {
		return "", err
	}
	return asString("registry.getDomain", out[0])
}

// IDOf returns the ledger index of domain, or nil when it is not registered.
func (r *Registry) IDOf(ctx context.Context, domain string) (*int64, error) {
	out, err := r.contract.call(ctx, "getId", domain)
	if err != nil {
		return nil, err
	}
	id, err := asInt64("registry.getId", out[0])
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, nil
	}
	return &id, nil
}

// EntryDetails returns the structured fields of the entry at index.
func (r *Registry) EntryDetails(ctx context.Context, index int64) (registry.LedgerEntry, error) {
	const op = "registry.getFrame"

	out, err := r.contract.call(ctx, "getFrame", big.NewInt(index))
	if err != nil {
		return registry.LedgerEntry{}, err
	}

	domain, err := asString(op, out[0])
	if err != nil {
		return registry.LedgerEntry{}, err
	}
	owner, err := asAddress(op, out[1])
	if err != nil {
		return registry.LedgerEntry{}, err
	}
	token, err := asAddress(op, out[2])
	if err != nil {
		return registry.LedgerEntry{}, err
	}
	createdAt, err := asInt64(op, out[3])
	if err != nil {
		return registry.LedgerEntry{}, err
	}

	entry := registry.LedgerEntry{
		ID:        index,
		Domain:    registry.NormalizeDomain(domain),
		Owner:     owner.Hex(),
		CreatedAt: createdAt,
	}
	if token != (common.Address{}) {
		hex := token.Hex()
		entry.Token = &hex
	}
	return entry, nil
}

// DomainsAndVisibility reads count entries starting at the 1-based index
// start in a single call.
func (r *Registry) DomainsAndVisibility(ctx context.Context, start, count int64) ([]string, []bool, error) {
	const op = "registry.getFramesPage"

	out, err := r.contract.call(ctx, "getFramesPage", big.NewInt(start), big.NewInt(count))
	if err != nil {
		return nil, nil, err
	}

	domains, ok := out[0].([]string)
	if !ok {
		return nil, nil, svcerrors.LedgerUnavailable(op, fmt.Errorf("unexpected output type %T", out[0]))
	}
	hidden, ok := out[1].([]bool)
	if !ok {
		return nil, nil, svcerrors.LedgerUnavailable(op, fmt.Errorf("unexpected output type %T", out[1]))
	}
	if len(domains) != len(hidden) {
		return nil, nil, svcerrors.LedgerUnavailable(op, fmt.Errorf("page length mismatch: %d domains, %d flags", len(domains), len(hidden)))
	}
	return domains, hidden, nil
}
