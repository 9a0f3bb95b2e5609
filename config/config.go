// Package config loads node configuration from flags, MVM_ environment
// variables and an optional config file, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/engine/wasm"
	"github.com/govm-net/mvm/gas"
	"github.com/govm-net/mvm/logging"
	"github.com/govm-net/mvm/security"
	"github.com/govm-net/mvm/storage"
	"github.com/govm-net/mvm/vm"
)

// EnvPrefix prefixes every environment variable, e.g. MVM_RPC_ADDR
const EnvPrefix = "MVM"

const (
	ConfigFileKey = "config-file"

	StoreKindKey     = "store.kind"
	StorePathKey     = "store.path"
	RPCAddrKey       = "rpc.addr"
	BlockIntervalKey = "rpc.block-interval"
	GenesisKey       = "genesis"

	StdlibAddressesKey = "vm.stdlib-addresses"
	GasPriceKey        = "vm.gas-price"
	MaxGasPerCallKey   = "vm.max-gas-per-call"
	ABICacheSizeKey    = "vm.abi-cache-size"

	MemoryPagesKey = "engine.memory-pages"

	LogLevelKey  = "log.level"
	LogFormatKey = "log.format"
	LogFileKey   = "log.file"
)

// StoreConfig selects the ledger backend
type StoreConfig struct {
	Kind string `mapstructure:"kind"`
	Path string `mapstructure:"path"`
}

// RPCConfig configures the JSON-RPC listener
type RPCConfig struct {
	Addr string `mapstructure:"addr"`
	// BlockInterval is how often serve finalizes a block, 0 disables it
	BlockInterval time.Duration `mapstructure:"block-interval"`
}

// VMConfig configures the coordinator
type VMConfig struct {
	StdlibAddresses []string `mapstructure:"stdlib-addresses"`
	GasPrice        uint64   `mapstructure:"gas-price"`
	MaxGasPerCall   uint64   `mapstructure:"max-gas-per-call"`
	ABICacheSize    int      `mapstructure:"abi-cache-size"`
}

// EngineConfig configures the wasm engine. Host calls are charged
// gas.host-call.
type EngineConfig struct {
	MemoryPages uint32 `mapstructure:"memory-pages"`
}

// Config is the node configuration
type Config struct {
	Store   StoreConfig              `mapstructure:"store"`
	RPC     RPCConfig                `mapstructure:"rpc"`
	Genesis string                   `mapstructure:"genesis"`
	VM      VMConfig                 `mapstructure:"vm"`
	Gas     gas.Schedule             `mapstructure:"gas"`
	Limits  security.ResourceLimiter `mapstructure:"limits"`
	Engine  EngineConfig             `mapstructure:"engine"`
	Log     logging.Config           `mapstructure:"log"`
}

// BuildFlagSet declares every option with its default
func BuildFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("mvm", pflag.ContinueOnError)

	fs.String(ConfigFileKey, "", "Config file (json, yaml or toml)")
	fs.String(StoreKindKey, string(storage.BadgerBackendType), "Ledger backend: badger or sqlite")
	fs.String(StorePathKey, ".mvm", "Ledger data path")
	fs.String(RPCAddrKey, "127.0.0.1:9650", "JSON-RPC listen address")
	fs.Duration(BlockIntervalKey, 5*time.Second, "Interval between blocks finalized by serve, 0 disables")
	fs.String(GenesisKey, "", "Genesis file, applied when the ledger is empty")

	def := vm.DefaultConfig()
	fs.StringSlice(StdlibAddressesKey, []string{"0x1"}, "Reserved stdlib addresses")
	fs.Uint64(GasPriceKey, def.GasPrice, "Fee per unit of gas charged on failed execution")
	fs.Uint64(MaxGasPerCallKey, def.MaxGasPerCall, "Gas ceiling of every call and estimate")
	fs.Int(ABICacheSizeKey, 4096, "Number of module ABIs kept in memory")

	fs.Uint32(MemoryPagesKey, wasm.DefaultMemoryLimitPages, "Guest memory limit in 64KiB pages")

	sched := def.Schedule
	for _, f := range []struct {
		name  string
		value uint64
		usage string
	}{
		{"publish-base", sched.PublishBase, "Gas per published module"},
		{"publish-per-byte", sched.PublishPerByte, "Gas per published byte"},
		{"per-dependency", sched.PerDependency, "Gas per module dependency"},
		{"execute-base", sched.ExecuteBase, "Gas per executed transaction"},
		{"execute-per-byte", sched.ExecutePerByte, "Gas per transaction byte"},
		{"load-base", sched.LoadBase, "Gas per module load"},
		{"load-per-byte", sched.LoadPerByte, "Gas per loaded code byte"},
		{"storage-read-base", sched.StorageReadBase, "Gas per resource read"},
		{"storage-write-base", sched.StorageWriteBase, "Gas per resource write"},
		{"storage-delete-base", sched.StorageDeleteBase, "Gas per resource delete"},
		{"storage-per-byte", sched.StoragePerByte, "Gas per resource byte"},
		{"host-call", sched.HostCall, "Gas per engine host call"},
		{"base-weight", sched.BaseWeight, "Weight of every invocation"},
		{"weight-per-gas", sched.WeightPerGas, "Weight per unit of gas"},
	} {
		fs.Uint64("gas."+f.name, f.value, f.usage)
	}

	lim := def.Limits
	fs.Int("limits.max-module-size", lim.MaxModuleSize, "Largest module in bytes")
	fs.Int("limits.max-bundle-modules", lim.MaxBundleModules, "Most modules per bundle")
	fs.Int("limits.max-transaction-size", lim.MaxTransactionLen, "Largest transaction in bytes")
	fs.Int("limits.max-args", lim.MaxArgs, "Most arguments per transaction")
	fs.Int("limits.max-dependencies", lim.MaxDependencies, "Most dependencies per module")

	logDef := logging.DefaultConfig()
	fs.String(LogLevelKey, logDef.Level, "Log level: debug, info, warn or error")
	fs.String(LogFormatKey, logDef.Format, "Log format: console or json")
	fs.String(LogFileKey, "", "Rotating log file")
	fs.Bool("log.no-stderr", false, "Do not log to stderr")
	fs.Int("log.max-size", logDef.MaxSizeMB, "Log file size in MB before rotation")
	fs.Int("log.max-backups", logDef.MaxBackups, "Rotated log files kept")
	fs.Int("log.max-age", logDef.MaxAgeDays, "Days rotated log files are kept")
	fs.Bool("log.compress", false, "Compress rotated log files")

	return fs
}

// BuildViper parses args into fs when it was not parsed yet and layers
// environment variables and the config file under it
func BuildViper(fs *pflag.FlagSet, args []string) (*viper.Viper, error) {
	if !fs.Parsed() {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}

	if file := v.GetString(ConfigFileKey); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}
	return v, nil
}

// Load decodes and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	switch storage.BackendType(c.Store.Kind) {
	case storage.BadgerBackendType, storage.SQLiteBackendType:
	default:
		return fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}
	if c.RPC.Addr == "" {
		return fmt.Errorf("rpc address is empty")
	}
	if c.RPC.BlockInterval < 0 {
		return fmt.Errorf("negative block interval: %s", c.RPC.BlockInterval)
	}
	if _, err := c.Coordinator(); err != nil {
		return err
	}
	if c.Engine.MemoryPages == 0 || c.Engine.MemoryPages > 65536 {
		return fmt.Errorf("invalid engine memory pages: %d", c.Engine.MemoryPages)
	}
	return c.Log.Validate()
}

// Coordinator returns the coordinator configuration
func (c *Config) Coordinator() (vm.Config, error) {
	if len(c.VM.StdlibAddresses) == 0 {
		return vm.Config{}, fmt.Errorf("no stdlib address configured")
	}
	addrs := make([]core.Address, 0, len(c.VM.StdlibAddresses))
	for _, s := range c.VM.StdlibAddresses {
		addr, err := core.AddressFromString(s)
		if err != nil {
			return vm.Config{}, fmt.Errorf("invalid stdlib address %q: %w", s, err)
		}
		addrs = append(addrs, addr)
	}
	if c.VM.MaxGasPerCall == 0 {
		return vm.Config{}, fmt.Errorf("max gas per call must be positive")
	}
	return vm.Config{
		Schedule:        c.Gas,
		Limits:          c.Limits,
		StdlibAddresses: addrs,
		GasPrice:        c.VM.GasPrice,
		MaxGasPerCall:   c.VM.MaxGasPerCall,
		ABICacheSize:    c.VM.ABICacheSize,
	}, nil
}

// StoreParams are the parameters handed to storage.Open
func (c *Config) StoreParams() map[string]any {
	return map[string]any{"path": c.Store.Path}
}
