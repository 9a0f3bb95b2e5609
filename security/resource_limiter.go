package security

import (
	"errors"
	"fmt"
)

// ErrLimitExceeded is returned when an input is larger than allowed
var ErrLimitExceeded = errors.New("limit exceeded")

// ResourceLimiter 用于限制提交到VM的输入大小
type ResourceLimiter struct {
	MaxModuleSize     int `mapstructure:"max-module-size"`
	MaxBundleModules  int `mapstructure:"max-bundle-modules"`
	MaxTransactionLen int `mapstructure:"max-transaction-size"`
	MaxArgs           int `mapstructure:"max-args"`
	MaxDependencies   int `mapstructure:"max-dependencies"`
}

// DefaultResourceLimiter returns the limits used when nothing is configured
func DefaultResourceLimiter() ResourceLimiter {
	return ResourceLimiter{
		MaxModuleSize:     1024 * 1024, // 1MB
		MaxBundleModules:  64,
		MaxTransactionLen: 64 * 1024,
		MaxArgs:           32,
		MaxDependencies:   64,
	}
}

func check(what string, got, limit int) error {
	if limit > 0 && got > limit {
		return fmt.Errorf("%w: %s %d > %d", ErrLimitExceeded, what, got, limit)
	}
	return nil
}

// CheckModule 检查模块大小和依赖数量
func (r ResourceLimiter) CheckModule(size, deps int) error {
	if err := check("module size", size, r.MaxModuleSize); err != nil {
		return err
	}
	return check("dependencies", deps, r.MaxDependencies)
}

// CheckBundle 检查bundle中的模块数量
func (r ResourceLimiter) CheckBundle(modules int) error {
	return check("bundle modules", modules, r.MaxBundleModules)
}

// CheckTransaction 检查交易大小和参数数量
func (r ResourceLimiter) CheckTransaction(size, args int) error {
	if err := check("transaction size", size, r.MaxTransactionLen); err != nil {
		return err
	}
	return check("arguments", args, r.MaxArgs)
}
