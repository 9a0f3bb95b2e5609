package wasm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultMeterCost is the gas charged at every function entry and loop
// iteration by Instrument
const DefaultMeterCost = 1

// ErrUnmetered is returned for code with a function or loop that does not
// start with a charge to env.gas
var ErrUnmetered = errors.New("code is not metered")

const (
	sectionImport = 2
	sectionCode   = 10

	opLoop     = 0x03
	opCall     = 0x10
	opI64Const = 0x42
)

// Instrument inserts "i64.const cost; call env.gas" at the entry of every
// function body and at the head of every loop. The code must import
// env.gas. Instrumenting twice charges twice.
func Instrument(code []byte, cost uint64) ([]byte, error) {
	if cost == 0 || cost > 1<<62 {
		return nil, fmt.Errorf("invalid meter cost %d", cost)
	}
	m, err := parseModule(code)
	if err != nil {
		return nil, err
	}
	if len(m.bodies) == 0 {
		return append([]byte(nil), code...), nil
	}
	if m.gasIndex < 0 {
		return nil, fmt.Errorf("%w: no %s.gas import", ErrUnmetered, HostModule)
	}

	charge := meterCall(cost, uint32(m.gasIndex))
	out := make([]byte, 0, len(code)+len(m.bodies)*2*len(charge))
	out = append(out, code[:m.codeStart]...)

	section := binary.AppendUvarint(nil, uint64(len(m.bodies)))
	for _, b := range m.bodies {
		body := make([]byte, 0, len(b.raw)+len(charge))
		body = append(body, b.raw[:b.exprStart]...)
		body = append(body, charge...)
		last := b.exprStart
		for _, at := range b.loops {
			body = append(body, b.raw[last:at]...)
			body = append(body, charge...)
			last = at
		}
		body = append(body, b.raw[last:]...)

		section = binary.AppendUvarint(section, uint64(len(body)))
		section = append(section, body...)
	}

	out = append(out, sectionCode)
	out = binary.AppendUvarint(out, uint64(len(section)))
	out = append(out, section...)
	return append(out, code[m.codeEnd:]...), nil
}

// checkMetered verifies that every function body and every loop starts
// with a positive charge to env.gas, so each call and each iteration
// consumes gas and execution always terminates within the meter.
func checkMetered(code []byte) error {
	m, err := parseModule(code)
	if err != nil {
		return err
	}
	if len(m.bodies) == 0 {
		return nil
	}
	if m.gasIndex < 0 {
		return fmt.Errorf("%w: no %s.gas import", ErrUnmetered, HostModule)
	}
	for i, b := range m.bodies {
		if !chargesAt(b.raw, b.exprStart, uint32(m.gasIndex)) {
			return fmt.Errorf("%w: function %d has no entry charge", ErrUnmetered, m.imports+i)
		}
		for _, at := range b.loops {
			if !chargesAt(b.raw, at, uint32(m.gasIndex)) {
				return fmt.Errorf("%w: function %d has a loop without charge at offset %d", ErrUnmetered, m.imports+i, at)
			}
		}
	}
	return nil
}

func meterCall(cost uint64, gasIndex uint32) []byte {
	out := []byte{opI64Const}
	out = appendSLEB(out, int64(cost))
	out = append(out, opCall)
	return binary.AppendUvarint(out, uint64(gasIndex))
}

func chargesAt(raw []byte, at int, gasIndex uint32) bool {
	r := &reader{data: raw, pos: at}
	if r.byte() != opI64Const {
		return false
	}
	amount := r.sleb()
	if r.byte() != opCall {
		return false
	}
	fn := r.uleb()
	return r.err == nil && amount > 0 && fn == uint64(gasIndex)
}

type funcBody struct {
	raw       []byte
	exprStart int
	// loops holds the offsets right after every loop block type
	loops []int
}

type moduleLayout struct {
	imports   int
	gasIndex  int
	codeStart int
	codeEnd   int
	bodies    []funcBody
}

// parseModule walks the sections wazero already validated. It only
// decodes the import section and the instruction stream of the code
// section.
func parseModule(code []byte) (*moduleLayout, error) {
	if len(code) < 8 || string(code[:4]) != "\x00asm" {
		return nil, fmt.Errorf("not a wasm binary")
	}
	m := &moduleLayout{gasIndex: -1, codeStart: len(code), codeEnd: len(code)}

	r := &reader{data: code, pos: 8}
	for r.err == nil && r.pos < len(code) {
		start := r.pos
		id := r.byte()
		size := int(r.uleb())
		if r.err != nil || size > len(code)-r.pos {
			return nil, fmt.Errorf("truncated section at %d", start)
		}
		content := code[r.pos : r.pos+size]
		r.pos += size

		var err error
		switch id {
		case sectionImport:
			err = m.parseImports(content)
		case sectionCode:
			m.codeStart, m.codeEnd = start, r.pos
			err = m.parseCode(content)
		}
		if err != nil {
			return nil, err
		}
	}
	return m, r.err
}

func (m *moduleLayout) parseImports(content []byte) error {
	r := &reader{data: content}
	for n := r.uleb(); n > 0 && r.err == nil; n-- {
		module := r.name()
		name := r.name()
		switch kind := r.byte(); kind {
		case 0x00:
			r.uleb()
			if module == HostModule && name == "gas" {
				m.gasIndex = m.imports
			}
			m.imports++
		case 0x01:
			r.byte()
			r.limits()
		case 0x02:
			r.limits()
		case 0x03:
			r.byte()
			r.byte()
		default:
			return fmt.Errorf("unknown import kind %d", kind)
		}
	}
	return r.err
}

func (m *moduleLayout) parseCode(content []byte) error {
	r := &reader{data: content}
	for n := r.uleb(); n > 0 && r.err == nil; n-- {
		size := int(r.uleb())
		if r.err != nil || size > len(content)-r.pos {
			return fmt.Errorf("truncated function body")
		}
		body, err := parseBody(content[r.pos : r.pos+size])
		if err != nil {
			return fmt.Errorf("function %d: %w", m.imports+len(m.bodies), err)
		}
		m.bodies = append(m.bodies, body)
		r.pos += size
	}
	return r.err
}

func parseBody(raw []byte) (funcBody, error) {
	b := funcBody{raw: raw}
	r := &reader{data: raw}
	for n := r.uleb(); n > 0 && r.err == nil; n-- {
		r.uleb()
		r.byte()
	}
	b.exprStart = r.pos

	for r.err == nil && r.pos < len(raw) {
		op := r.byte()
		switch {
		case op == 0x02 || op == 0x04:
			r.blockType()
		case op == opLoop:
			r.blockType()
			b.loops = append(b.loops, r.pos)
		case op == 0x0c || op == 0x0d || op == opCall,
			op >= 0x20 && op <= 0x26, op == 0xd2:
			r.uleb()
		case op == 0x0e:
			for n := r.uleb(); n > 0 && r.err == nil; n-- {
				r.uleb()
			}
			r.uleb()
		case op == 0x11:
			r.uleb()
			r.uleb()
		case op == 0x1c:
			r.skip(int(r.uleb()))
		case op >= 0x28 && op <= 0x3e:
			r.uleb()
			r.uleb()
		case op == 0x3f || op == 0x40 || op == 0xd0:
			r.byte()
		case op == 0x41 || op == opI64Const:
			r.sleb()
		case op == 0x43:
			r.skip(4)
		case op == 0x44:
			r.skip(8)
		case op == 0xfc:
			r.miscOp()
		case op <= 0x01, op == 0x05, op == 0x0b, op == 0x0f, op == 0x1a, op == 0x1b,
			op >= 0x45 && op <= 0xc4, op == 0xd1:
		default:
			return b, fmt.Errorf("unsupported opcode 0x%02x at %d", op, r.pos-1)
		}
	}
	return b, r.err
}

var errTruncated = errors.New("truncated code")

type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) byte() byte {
	if r.err != nil || r.pos >= len(r.data) {
		r.err = errTruncated
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

func (r *reader) skip(n int) {
	if r.err != nil || n < 0 || n > len(r.data)-r.pos {
		r.err = errTruncated
		return
	}
	r.pos += n
}

func (r *reader) uleb() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		r.err = errTruncated
		return 0
	}
	r.pos += n
	return v
}

func (r *reader) sleb() int64 {
	var v int64
	var shift uint
	for {
		b := r.byte()
		if r.err != nil {
			return 0
		}
		v |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				v |= -1 << shift
			}
			return v
		}
		if shift >= 70 {
			r.err = errTruncated
			return 0
		}
	}
}

func (r *reader) name() string {
	n := int(r.uleb())
	start := r.pos
	r.skip(n)
	if r.err != nil {
		return ""
	}
	return string(r.data[start:r.pos])
}

func (r *reader) limits() {
	flags := r.byte()
	r.uleb()
	if flags&0x01 != 0 {
		r.uleb()
	}
}

// blockType reads an empty type, a value type or a type index
func (r *reader) blockType() {
	if r.err != nil || r.pos >= len(r.data) {
		r.err = errTruncated
		return
	}
	switch r.data[r.pos] {
	case 0x40, 0x7f, 0x7e, 0x7d, 0x7c, 0x7b, 0x70, 0x6f:
		r.pos++
	default:
		r.sleb()
	}
}

// miscOp reads a 0xfc prefixed saturating truncation or bulk memory op
func (r *reader) miscOp() {
	switch sub := r.uleb(); {
	case sub <= 7:
	case sub == 8:
		r.uleb()
		r.byte()
	case sub == 9, sub == 13, sub >= 15 && sub <= 17:
		r.uleb()
	case sub == 10:
		r.skip(2)
	case sub == 11:
		r.byte()
	case sub == 12, sub == 14:
		r.uleb()
		r.uleb()
	default:
		r.err = fmt.Errorf("unsupported opcode 0xfc %d", sub)
	}
}

func appendSLEB(out []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
