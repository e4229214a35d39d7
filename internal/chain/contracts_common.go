package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// =============================================================================
// Contract Addresses (configurable)
// =============================================================================

// ContractAddresses holds the deployed contract addresses.
type ContractAddresses struct {
	Registry    string `yaml:"registry" env:"REGISTRY_CONTRACT"`
	Escrow      string `yaml:"escrow" env:"ESCROW_CONTRACT"`
	PoolFactory string `yaml:"pool_factory" env:"POOL_FACTORY_CONTRACT"`
}

// Validate checks that the configured addresses are well-formed. Escrow and
// pool factory are optional.
func (c ContractAddresses) Validate() error {
	if !common.IsHexAddress(c.Registry) {
		return fmt.Errorf("registry contract address %q is invalid", c.Registry)
	}
	for name, addr := range map[string]string{"escrow": c.Escrow, "pool factory": c.PoolFactory} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("%s contract address %q is invalid", name, addr)
		}
	}
	return nil
}

// =============================================================================
// ABIs
// =============================================================================

const registryABIJSON = `[
 {"type":"function","name":"getNumListedFrames","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getDomain","stateMutability":"view","inputs":[{"name":"frameId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"getId","stateMutability":"view","inputs":[{"name":"domain","type":"string"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getFrame","stateMutability":"view","inputs":[{"name":"frameId","type":"uint256"}],"outputs":[{"name":"domain","type":"string"},{"name":"owner","type":"address"},{"name":"token","type":"address"},{"name":"createdAt","type":"uint256"}]},
 {"type":"function","name":"getFramesPage","stateMutability":"view","inputs":[{"name":"start","type":"uint256"},{"name":"count","type":"uint256"}],"outputs":[{"name":"domains","type":"string[]"},{"name":"hidden","type":"bool[]"}]}
]`

const escrowABIJSON = `[
 {"type":"function","name":"getAppFunds","stateMutability":"view","inputs":[{"name":"frameId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const erc20ABIJSON = `[
 {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const poolFactoryABIJSON = `[
 {"type":"function","name":"getPool","stateMutability":"view","inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"fee","type":"uint24"}],"outputs":[{"name":"pool","type":"address"}]}
]`

var (
	RegistryABI    = mustParseABI(registryABIJSON)
	EscrowABI      = mustParseABI(escrowABIJSON)
	ERC20ABI       = mustParseABI(erc20ABIJSON)
	PoolFactoryABI = mustParseABI(poolFactoryABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}
