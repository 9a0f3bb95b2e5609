package gas

// Schedule lists the cost of every metered operation. All costs are
// constants so that every node charges the same amount for the same work.
type Schedule struct {
	// publish
	PublishBase    uint64 `mapstructure:"publish-base"`
	PublishPerByte uint64 `mapstructure:"publish-per-byte"`
	PerDependency  uint64 `mapstructure:"per-dependency"`

	// execute
	ExecuteBase    uint64 `mapstructure:"execute-base"`
	ExecutePerByte uint64 `mapstructure:"execute-per-byte"`
	LoadBase       uint64 `mapstructure:"load-base"`
	LoadPerByte    uint64 `mapstructure:"load-per-byte"`

	// storage access from inside a script
	StorageReadBase   uint64 `mapstructure:"storage-read-base"`
	StorageWriteBase  uint64 `mapstructure:"storage-write-base"`
	StorageDeleteBase uint64 `mapstructure:"storage-delete-base"`
	StoragePerByte    uint64 `mapstructure:"storage-per-byte"`
	HostCall          uint64 `mapstructure:"host-call"`

	// weight conversion
	BaseWeight   uint64 `mapstructure:"base-weight"`
	WeightPerGas uint64 `mapstructure:"weight-per-gas"`
}

// DefaultSchedule returns the costs used when nothing is configured
func DefaultSchedule() Schedule {
	return Schedule{
		PublishBase:       5_000,
		PublishPerByte:    10,
		PerDependency:     500,
		ExecuteBase:       1_000,
		ExecutePerByte:    5,
		LoadBase:          200,
		LoadPerByte:       1,
		StorageReadBase:   100,
		StorageWriteBase:  300,
		StorageDeleteBase: 100,
		StoragePerByte:    2,
		HostCall:          10,
		BaseWeight:        125_000_000,
		WeightPerGas:      1_000,
	}
}

// Weight converts gas used into ledger weight: BaseWeight + gasUsed*WeightPerGas
func (s Schedule) Weight(gasUsed uint64) uint64 {
	return Add(s.BaseWeight, Mul(gasUsed, s.WeightPerGas))
}
