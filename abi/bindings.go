package abi

import (
	"fmt"
	"go/format"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// BindingGenerator generates Go helpers that build transactions for the
// entry functions of a module
type BindingGenerator struct {
	abi     *ABI
	pkgName string
	title   cases.Caser
}

// NewBindingGenerator creates a new binding generator
func NewBindingGenerator(abi *ABI, pkgName string) *BindingGenerator {
	if pkgName == "" {
		pkgName = strings.ToLower(abi.Name)
	}
	return &BindingGenerator{
		abi:     abi,
		pkgName: pkgName,
		title:   cases.Title(language.English),
	}
}

// GoName converts a snake_case identifier into an exported Go name
func (g *BindingGenerator) GoName(name string) string {
	var sb strings.Builder
	for _, part := range strings.Split(name, "_") {
		if part == "" {
			continue
		}
		sb.WriteString(g.title.String(part))
	}
	if sb.Len() == 0 {
		return "X"
	}
	return sb.String()
}

// Generate returns unformatted source for the bindings
func (g *BindingGenerator) Generate() string {
	var sb strings.Builder

	sb.WriteString("// Code generated by vm-cli inspect --bindings. DO NOT EDIT.\n\n")
	sb.WriteString(fmt.Sprintf("package %s\n\n", g.pkgName))
	sb.WriteString("import (\n")
	sb.WriteString("\t\"github.com/govm-net/mvm/core\"\n")
	sb.WriteString("\t\"github.com/govm-net/mvm/types\"\n")
	sb.WriteString(")\n\n")

	sb.WriteString(fmt.Sprintf("// Module is %s\n", g.abi.ID()))
	sb.WriteString(fmt.Sprintf("var Module = core.NewModuleID(core.MustAddress(%q), %q)\n\n", g.abi.Address.String(), g.abi.Name))

	for _, fn := range g.abi.EntryFunctions() {
		sb.WriteString(g.generateBuilder(fn))
	}
	return sb.String()
}

func (g *BindingGenerator) generateBuilder(fn Function) string {
	var sb strings.Builder

	args := fn.ArgParams()
	sb.WriteString(fmt.Sprintf("// %s builds a transaction calling %s.\n", g.GoName(fn.Name), fn.Signature()))
	sb.WriteString(fmt.Sprintf("func %s(signer core.Address", g.GoName(fn.Name)))
	if len(fn.TypeParameters) > 0 {
		sb.WriteString(", typeArgs []core.TypeTag")
	}
	for i := range args {
		sb.WriteString(fmt.Sprintf(", arg%d []byte", i))
	}
	sb.WriteString(") *types.Transaction {\n")

	sb.WriteString("\treturn &types.Transaction{\n")
	sb.WriteString("\t\tSigner: signer,\n")
	sb.WriteString("\t\tModule: Module,\n")
	sb.WriteString(fmt.Sprintf("\t\tFunction: %q,\n", fn.Name))
	if len(fn.TypeParameters) > 0 {
		sb.WriteString("\t\tTypeArgs: typeArgs,\n")
	}
	sb.WriteString("\t\tArgs: [][]byte{")
	for i := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("arg%d", i))
	}
	sb.WriteString("},\n")
	sb.WriteString("\t}\n")
	sb.WriteString("}\n\n")
	return sb.String()
}

// GenerateBindings generates a gofmt formatted bindings file
func GenerateBindings(abi *ABI, pkgName string) (string, error) {
	code := NewBindingGenerator(abi, pkgName).Generate()

	formatted, err := format.Source([]byte(code))
	if err != nil {
		return "", fmt.Errorf("failed to format bindings: %w", err)
	}
	return string(formatted), nil
}
