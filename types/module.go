package types

import (
	"fmt"

	"github.com/govm-net/mvm/abi"
	"github.com/govm-net/mvm/core"
)

// ModulePackage is the publishable form of a module: its interface, the
// modules it links against and the code payload handed to the engine.
type ModulePackage struct {
	ABI          abi.ABI         `serialize:"true" json:"abi"`
	Dependencies []core.ModuleID `serialize:"true" json:"dependencies"`
	Code         []byte          `serialize:"true" json:"code"`
}

// ID returns the identity the package publishes to
func (p *ModulePackage) ID() core.ModuleID {
	return p.ABI.ID()
}

// Validate performs structural checks that need no state
func (p *ModulePackage) Validate() error {
	if err := p.ABI.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(p.Code) == 0 {
		return fmt.Errorf("%w: module %s has no code", ErrMalformed, p.ID())
	}
	seen := make(map[core.ModuleID]bool, len(p.Dependencies))
	for _, dep := range p.Dependencies {
		if dep == p.ID() {
			return fmt.Errorf("%w: module %s depends on itself", ErrMalformed, p.ID())
		}
		if seen[dep] {
			return fmt.Errorf("%w: module %s lists %s twice", ErrMalformed, p.ID(), dep)
		}
		seen[dep] = true
	}
	return nil
}

// EncodeModule serializes a module package
func EncodeModule(p *ModulePackage) ([]byte, error) {
	return encode(p)
}

// DecodeModule parses and validates a module package
func DecodeModule(data []byte) (*ModulePackage, error) {
	var p ModulePackage
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Bundle is an ordered list of modules published as one unit
type Bundle struct {
	Modules []ModulePackage `serialize:"true" json:"modules"`
}

// EncodeBundle serializes a bundle
func EncodeBundle(b *Bundle) ([]byte, error) {
	return encode(b)
}

// DecodeBundle parses a bundle and validates every module in it.
// Empty bundles and duplicate module identities are rejected.
func DecodeBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := decode(data, &b); err != nil {
		return nil, err
	}
	if len(b.Modules) == 0 {
		return nil, fmt.Errorf("%w: empty bundle", ErrMalformed)
	}

	seen := make(map[core.ModuleID]bool, len(b.Modules))
	for i := range b.Modules {
		m := &b.Modules[i]
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if seen[m.ID()] {
			return nil, fmt.Errorf("%w: duplicate module %s in bundle", ErrMalformed, m.ID())
		}
		seen[m.ID()] = true
	}
	return &b, nil
}

// ModuleRecord is a module as stored in the ledger
type ModuleRecord struct {
	Package ModulePackage `serialize:"true" json:"package"`
	Hash    [32]byte      `serialize:"true" json:"hash"`
}

// NewModuleRecord wraps a package and computes its code hash
func NewModuleRecord(p *ModulePackage) *ModuleRecord {
	return &ModuleRecord{Package: *p, Hash: core.Hash(p.Code)}
}

// ID returns the stored module identity
func (r *ModuleRecord) ID() core.ModuleID {
	return r.Package.ID()
}

// ABI returns the stored interface
func (r *ModuleRecord) ABI() *abi.ABI {
	return &r.Package.ABI
}

// Bytecode returns the package bytes as they were published
func (r *ModuleRecord) Bytecode() ([]byte, error) {
	return EncodeModule(&r.Package)
}

// EncodeRecord serializes a stored module record
func EncodeRecord(r *ModuleRecord) ([]byte, error) {
	return encode(r)
}

// DecodeRecord parses a stored module record
func DecodeRecord(data []byte) (*ModuleRecord, error) {
	var r ModuleRecord
	if err := decode(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
