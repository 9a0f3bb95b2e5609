package vm

import (
	"fmt"

	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/gas"
	"github.com/govm-net/mvm/security"
)

// DefaultMaxGasPerCall is the default per-call gas ceiling
const DefaultMaxGasPerCall = 100_000_000

// Config represents coordinator configuration
type Config struct {
	Schedule gas.Schedule
	Limits   security.ResourceLimiter

	// StdlibAddresses are the reserved namespaces only root may publish to
	StdlibAddresses []core.Address
	// GasPrice converts gas used into the fee charged on failed execution
	GasPrice uint64
	// MaxGasPerCall caps the gas limit of every publish and execution.
	// Estimates run at this ceiling.
	MaxGasPerCall uint64
	// ABICacheSize is the number of ABIs the registry keeps in memory
	ABICacheSize int
}

// DefaultConfig returns the configuration used when nothing is set
func DefaultConfig() Config {
	return Config{
		Schedule:        gas.DefaultSchedule(),
		Limits:          security.DefaultResourceLimiter(),
		StdlibAddresses: []core.Address{core.MustAddress("0x1")},
		GasPrice:        1,
		MaxGasPerCall:   DefaultMaxGasPerCall,
	}
}

// validateConfig validates the configuration
func validateConfig(c *Config) error {
	if len(c.StdlibAddresses) == 0 {
		return fmt.Errorf("no stdlib address configured")
	}
	if c.MaxGasPerCall == 0 {
		return fmt.Errorf("invalid max gas per call: %d", c.MaxGasPerCall)
	}
	seen := make(map[core.Address]bool, len(c.StdlibAddresses))
	for _, addr := range c.StdlibAddresses {
		if seen[addr] {
			return fmt.Errorf("duplicate stdlib address %s", addr)
		}
		seen[addr] = true
	}
	return nil
}
