package abi

import (
	"fmt"
	"slices"
	"strings"

	"github.com/govm-net/mvm/core"
)

// ChangeKind tags one kind of breaking change between two ABIs
type ChangeKind uint8

const (
	FunctionRemoved ChangeKind = iota + 1
	VisibilityNarrowed
	ArityChanged
	ParameterTypeChanged
	ReturnChanged
	TypeParametersChanged
	StructRemoved
	FieldRemoved
	FieldTypeChanged
	AbilitiesReduced
	// ModuleDropped marks a module left out of a bundle while other modules depend on it
	ModuleDropped
)

var changeKindNames = map[ChangeKind]string{
	FunctionRemoved:       "function_removed",
	VisibilityNarrowed:    "visibility_narrowed",
	ArityChanged:          "arity_changed",
	ParameterTypeChanged:  "parameter_type_changed",
	ReturnChanged:         "return_changed",
	TypeParametersChanged: "type_parameters_changed",
	StructRemoved:         "struct_removed",
	FieldRemoved:          "field_removed",
	FieldTypeChanged:      "field_type_changed",
	AbilitiesReduced:      "abilities_reduced",
	ModuleDropped:         "module_dropped",
}

// String implements fmt.Stringer
func (k ChangeKind) String() string {
	if name, ok := changeKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("change(%d)", uint8(k))
}

// MarshalText implements encoding.TextMarshaler
func (k ChangeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *ChangeKind) UnmarshalText(text []byte) error {
	for kind, name := range changeKindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown change kind %q", text)
}

// IsSignatureChange reports whether the kind describes a changed function signature
func (k ChangeKind) IsSignatureChange() bool {
	switch k {
	case ArityChanged, ParameterTypeChanged, ReturnChanged, TypeParametersChanged:
		return true
	}
	return false
}

// Incompatibility is one breaking change found by CheckCompatible.
// Position is the parameter index for ParameterTypeChanged and -1 otherwise.
type Incompatibility struct {
	Kind     ChangeKind    `json:"kind"`
	Module   core.ModuleID `json:"module"`
	Function string        `json:"function,omitempty"`
	Struct   string        `json:"struct,omitempty"`
	Field    string        `json:"field,omitempty"`
	Position int           `json:"position"`
	Old      string        `json:"old,omitempty"`
	New      string        `json:"new,omitempty"`
}

// String implements fmt.Stringer
func (i Incompatibility) String() string {
	subject := i.Module.String()
	switch {
	case i.Function != "":
		subject += "::" + i.Function
	case i.Struct != "":
		subject += "::" + i.Struct
		if i.Field != "" {
			subject += "." + i.Field
		}
	}

	s := fmt.Sprintf("%s: %s", subject, i.Kind)
	if i.Position >= 0 {
		s += fmt.Sprintf(" at #%d", i.Position)
	}
	if i.Old != "" || i.New != "" {
		s += fmt.Sprintf(" (%q -> %q)", i.Old, i.New)
	}
	return s
}

// CompatibilityReport lists every breaking change of a module update
type CompatibilityReport struct {
	Module            core.ModuleID     `json:"module"`
	Incompatibilities []Incompatibility `json:"incompatibilities"`
}

// Compatible reports whether no breaking change was found
func (r *CompatibilityReport) Compatible() bool {
	return r == nil || len(r.Incompatibilities) == 0
}

// Merge appends the findings of another report
func (r *CompatibilityReport) Merge(other *CompatibilityReport) {
	if other == nil {
		return
	}
	r.Incompatibilities = append(r.Incompatibilities, other.Incompatibilities...)
}

// Add records one breaking change
func (r *CompatibilityReport) Add(i Incompatibility) {
	r.Incompatibilities = append(r.Incompatibilities, i)
}

// String implements fmt.Stringer
func (r *CompatibilityReport) String() string {
	if r.Compatible() {
		return "compatible"
	}
	lines := make([]string, len(r.Incompatibilities))
	for i, inc := range r.Incompatibilities {
		lines[i] = inc.String()
	}
	return strings.Join(lines, "; ")
}

// CheckCompatible diffs an old ABI against its proposed replacement.
// Every exposed function of old must still exist in updated with the same
// parameters, returns and type parameters. Additions never break.
// Data types may gain fields but must keep every existing field and ability.
func CheckCompatible(old, updated *ABI) *CompatibilityReport {
	report := &CompatibilityReport{Module: old.ID()}
	id := old.ID()

	for i := range old.Functions {
		of := &old.Functions[i]
		if !of.Exposed() {
			continue
		}

		nf, ok := updated.Function(of.Name)
		if !ok {
			report.Add(Incompatibility{Kind: FunctionRemoved, Module: id, Function: of.Name, Position: -1, Old: of.Signature()})
			continue
		}
		checkFunction(report, id, of, nf)
	}

	for i := range old.Structs {
		os := &old.Structs[i]
		ns, ok := updated.Struct(os.Name)
		if !ok {
			report.Add(Incompatibility{Kind: StructRemoved, Module: id, Struct: os.Name, Position: -1})
			continue
		}
		checkStruct(report, id, os, ns)
	}

	return report
}

func checkFunction(report *CompatibilityReport, id core.ModuleID, of, nf *Function) {
	if of.Visibility == Public && nf.Visibility != Public {
		report.Add(Incompatibility{Kind: VisibilityNarrowed, Module: id, Function: of.Name, Position: -1,
			Old: of.Visibility.String(), New: nf.Visibility.String()})
	}
	if of.IsEntry && !nf.IsEntry {
		report.Add(Incompatibility{Kind: VisibilityNarrowed, Module: id, Function: of.Name, Position: -1,
			Old: "entry", New: "non-entry"})
	}

	if len(of.Params) != len(nf.Params) {
		report.Add(Incompatibility{Kind: ArityChanged, Module: id, Function: of.Name, Position: -1,
			Old: joinTags(of.Params), New: joinTags(nf.Params)})
	} else {
		for i := range of.Params {
			if of.Params[i] != nf.Params[i] {
				report.Add(Incompatibility{Kind: ParameterTypeChanged, Module: id, Function: of.Name, Position: i,
					Old: string(of.Params[i]), New: string(nf.Params[i])})
			}
		}
	}

	if !slices.Equal(of.Returns, nf.Returns) {
		report.Add(Incompatibility{Kind: ReturnChanged, Module: id, Function: of.Name, Position: -1,
			Old: joinTags(of.Returns), New: joinTags(nf.Returns)})
	}

	if !typeParamsCompatible(of.TypeParameters, nf.TypeParameters) {
		report.Add(Incompatibility{Kind: TypeParametersChanged, Module: id, Function: of.Name, Position: -1,
			Old: of.Signature(), New: nf.Signature()})
	}
}

func checkStruct(report *CompatibilityReport, id core.ModuleID, os, ns *Struct) {
	for _, ability := range os.Abilities {
		if !hasAbility(ns.Abilities, ability) {
			report.Add(Incompatibility{Kind: AbilitiesReduced, Module: id, Struct: os.Name, Position: -1,
				Old: joinAbilities(os.Abilities), New: joinAbilities(ns.Abilities)})
			break
		}
	}

	if !typeParamsCompatible(os.TypeParameters, ns.TypeParameters) {
		report.Add(Incompatibility{Kind: TypeParametersChanged, Module: id, Struct: os.Name, Position: -1})
	}

	for _, of := range os.Fields {
		nf, ok := ns.Field(of.Name)
		if !ok {
			report.Add(Incompatibility{Kind: FieldRemoved, Module: id, Struct: os.Name, Field: of.Name, Position: -1,
				Old: string(of.Type)})
			continue
		}
		if nf.Type != of.Type {
			report.Add(Incompatibility{Kind: FieldTypeChanged, Module: id, Struct: os.Name, Field: of.Name, Position: -1,
				Old: string(of.Type), New: string(nf.Type)})
		}
	}
}

// typeParamsCompatible requires the same number of type parameters and
// forbids new constraints, which would reject instantiations that used to work.
func typeParamsCompatible(old, updated []TypeParameter) bool {
	if len(old) != len(updated) {
		return false
	}
	for i := range updated {
		for _, c := range updated[i].Constraints {
			if !hasAbility(old[i].Constraints, c) {
				return false
			}
		}
	}
	return true
}

func hasAbility(abilities []Ability, a Ability) bool {
	for _, x := range abilities {
		if x == a {
			return true
		}
	}
	return false
}
