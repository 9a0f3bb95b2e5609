// Package abi describes the public interface of a published module and
// decides whether a replacement module keeps that interface intact.
package abi

import (
	"fmt"
	"strings"

	"github.com/govm-net/mvm/core"
)

// Visibility of a module function
type Visibility uint8

const (
	Private Visibility = iota
	Public
	Friend
)

var visibilityNames = []string{"private", "public", "friend"}

// String implements fmt.Stringer
func (v Visibility) String() string {
	if int(v) < len(visibilityNames) {
		return visibilityNames[v]
	}
	return fmt.Sprintf("visibility(%d)", uint8(v))
}

// MarshalText implements encoding.TextMarshaler
func (v Visibility) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (v *Visibility) UnmarshalText(text []byte) error {
	for i, name := range visibilityNames {
		if name == string(text) {
			*v = Visibility(i)
			return nil
		}
	}
	return fmt.Errorf("unknown visibility %q", text)
}

// Ability is a capability granted to a data type (copy, drop, store, key)
type Ability string

const (
	AbilityCopy  Ability = "copy"
	AbilityDrop  Ability = "drop"
	AbilityStore Ability = "store"
	AbilityKey   Ability = "key"
)

// TypeParameter is a generic parameter with its ability constraints
type TypeParameter struct {
	Constraints []Ability `serialize:"true" json:"constraints"`
}

// Function is one function signature of a module
type Function struct {
	Name           string          `serialize:"true" json:"name"`
	Visibility     Visibility      `serialize:"true" json:"visibility"`
	IsEntry        bool            `serialize:"true" json:"is_entry"`
	TypeParameters []TypeParameter `serialize:"true" json:"generic_type_params"`
	Params         []core.TypeTag  `serialize:"true" json:"params"`
	Returns        []core.TypeTag  `serialize:"true" json:"return"`
}

// Exposed reports whether callers outside the module can reach the function
func (f *Function) Exposed() bool {
	return f.Visibility == Public || f.IsEntry
}

// ArgParams returns the parameters a transaction must supply, i.e. all
// parameters except the signer ones filled in by the VM.
func (f *Function) ArgParams() []core.TypeTag {
	params := make([]core.TypeTag, 0, len(f.Params))
	for _, p := range f.Params {
		if !p.IsSigner() {
			params = append(params, p)
		}
	}
	return params
}

// Signature renders "name<T0: copy>(u64, address): bool"
func (f *Function) Signature() string {
	var sb strings.Builder
	sb.WriteString(f.Name)
	if len(f.TypeParameters) > 0 {
		sb.WriteString("<")
		for i, tp := range f.TypeParameters {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("T%d", i))
			if len(tp.Constraints) > 0 {
				sb.WriteString(": ")
				sb.WriteString(joinAbilities(tp.Constraints))
			}
		}
		sb.WriteString(">")
	}
	sb.WriteString("(")
	sb.WriteString(joinTags(f.Params))
	sb.WriteString(")")
	if len(f.Returns) > 0 {
		sb.WriteString(": ")
		sb.WriteString(joinTags(f.Returns))
	}
	return sb.String()
}

// Field is a named field of a data type
type Field struct {
	Name string       `serialize:"true" json:"name"`
	Type core.TypeTag `serialize:"true" json:"type"`
}

// Struct is an exported data-type layout
type Struct struct {
	Name           string          `serialize:"true" json:"name"`
	Abilities      []Ability       `serialize:"true" json:"abilities"`
	TypeParameters []TypeParameter `serialize:"true" json:"generic_type_params"`
	Fields         []Field         `serialize:"true" json:"fields"`
}

// Field looks up a field by name
func (s *Struct) Field(name string) (*Field, bool) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

// ABI is the public interface of one module
type ABI struct {
	Address   core.Address    `serialize:"true" json:"address"`
	Name      string          `serialize:"true" json:"name"`
	Friends   []core.ModuleID `serialize:"true" json:"friends"`
	Functions []Function      `serialize:"true" json:"exposed_functions"`
	Structs   []Struct        `serialize:"true" json:"structs"`
}

// ID returns the module identity described by the ABI
func (a *ABI) ID() core.ModuleID {
	return core.NewModuleID(a.Address, a.Name)
}

// Function looks up a function by name
func (a *ABI) Function(name string) (*Function, bool) {
	for i := range a.Functions {
		if a.Functions[i].Name == name {
			return &a.Functions[i], true
		}
	}
	return nil, false
}

// Struct looks up a data type by name
func (a *ABI) Struct(name string) (*Struct, bool) {
	for i := range a.Structs {
		if a.Structs[i].Name == name {
			return &a.Structs[i], true
		}
	}
	return nil, false
}

// EntryFunctions returns the functions a transaction may invoke directly
func (a *ABI) EntryFunctions() []Function {
	var fns []Function
	for _, fn := range a.Functions {
		if fn.IsEntry {
			fns = append(fns, fn)
		}
	}
	return fns
}

// Validate checks the ABI for duplicate or empty names
func (a *ABI) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("module name is empty")
	}
	seen := make(map[string]bool, len(a.Functions))
	for _, fn := range a.Functions {
		if fn.Name == "" {
			return fmt.Errorf("module %s: function with empty name", a.Name)
		}
		if seen[fn.Name] {
			return fmt.Errorf("module %s: duplicate function %s", a.Name, fn.Name)
		}
		if fn.Visibility > Friend {
			return fmt.Errorf("module %s: function %s has invalid visibility", a.Name, fn.Name)
		}
		seen[fn.Name] = true
	}
	seen = make(map[string]bool, len(a.Structs))
	for _, st := range a.Structs {
		if st.Name == "" || seen[st.Name] {
			return fmt.Errorf("module %s: invalid or duplicate struct %q", a.Name, st.Name)
		}
		seen[st.Name] = true

		fields := make(map[string]bool, len(st.Fields))
		for _, f := range st.Fields {
			if f.Name == "" || fields[f.Name] {
				return fmt.Errorf("module %s: struct %s has an empty or duplicate field %q", a.Name, st.Name, f.Name)
			}
			fields[f.Name] = true
		}
	}
	return nil
}

// String returns a string representation of the ABI
func (a *ABI) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Module: %s\n", a.ID()))

	if len(a.Friends) > 0 {
		sb.WriteString("\nFriends:\n")
		for _, f := range a.Friends {
			sb.WriteString(fmt.Sprintf("  %s\n", f))
		}
	}

	sb.WriteString("\nFunctions:\n")
	for _, fn := range a.Functions {
		prefix := fn.Visibility.String()
		if fn.IsEntry {
			prefix += " entry"
		}
		sb.WriteString(fmt.Sprintf("  %s fun %s\n", prefix, fn.Signature()))
	}

	sb.WriteString("\nStructs:\n")
	for _, st := range a.Structs {
		sb.WriteString(fmt.Sprintf("  struct %s", st.Name))
		if len(st.Abilities) > 0 {
			sb.WriteString(" has " + joinAbilities(st.Abilities))
		}
		sb.WriteString(" {")
		for i, f := range st.Fields {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(fmt.Sprintf(" %s: %s", f.Name, f.Type))
		}
		sb.WriteString(" }\n")
	}

	return sb.String()
}

func joinTags(tags []core.TypeTag) string {
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

func joinAbilities(abilities []Ability) string {
	parts := make([]string, len(abilities))
	for i, a := range abilities {
		parts[i] = string(a)
	}
	return strings.Join(parts, " + ")
}
