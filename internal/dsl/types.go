package dsl

import (
	"encoding/binary"
	"math"
	"strings"
)

type kind int

const (
	kindInt kind = iota
	kindFloat
	kindIPv4
	kindMAC
)

// fieldType is the resolved form of a rule's type and endianness.
type fieldType struct {
	name   string
	kind   kind
	width  int // bytes
	signed bool
	order  binary.ByteOrder
}

var baseTypes = map[string]fieldType{
	"int8":   {kind: kindInt, width: 1, signed: true},
	"uint8":  {kind: kindInt, width: 1},
	"int16":  {kind: kindInt, width: 2, signed: true},
	"uint16": {kind: kindInt, width: 2},
	"int32":  {kind: kindInt, width: 4, signed: true},
	"uint32": {kind: kindInt, width: 4},
	"float":  {kind: kindFloat, width: 4},
	"double": {kind: kindFloat, width: 8},
	"ipv4":   {kind: kindIPv4, width: 4},
	"mac":    {kind: kindMAC, width: 6},
}

// resolveType combines a type name with an optional be/le suffix and the
// rule's endian key. Without either the read is big-endian.
func resolveType(name, endian string) (fieldType, error) {
	base, suffix := name, ""
	if strings.HasSuffix(name, "be") || strings.HasSuffix(name, "le") {
		if _, ok := baseTypes[name[:len(name)-2]]; ok {
			base, suffix = name[:len(name)-2], name[len(name)-2:]
		}
	}

	t, ok := baseTypes[base]
	if !ok {
		return fieldType{}, errorf("unsupported type %q", name)
	}
	t.name = name

	var declared string
	switch endian {
	case "":
	case "big", "be":
		declared = "be"
	case "little", "le":
		declared = "le"
	default:
		return fieldType{}, errorf("unknown endian %q", endian)
	}

	if suffix != "" && declared != "" && suffix != declared {
		return fieldType{}, errorf("type %q contradicts endian %q", name, endian)
	}
	if (suffix != "" || declared != "") && (t.kind != kindInt || t.width == 1) {
		return fieldType{}, errorf("endianness is not applicable to %s", base)
	}

	t.order = binary.BigEndian
	if suffix == "le" || declared == "le" {
		t.order = binary.LittleEndian
	}
	return t, nil
}

// read loads the type at off. ok is false when the buffer is too short.
func (t fieldType) read(buf []byte, off int64) (any, bool) {
	if off < 0 || off > int64(len(buf))-int64(t.width) {
		return nil, false
	}
	b := buf[off : off+int64(t.width)]
	switch t.kind {
	case kindFloat:
		if t.width == 8 {
			return math.Float64frombits(binary.BigEndian.Uint64(b)), true
		}
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), true
	case kindIPv4:
		return formatIPv4(binary.BigEndian.Uint32(b)), true
	case kindMAC:
		return formatMAC(b), true
	}
	return t.fromInt(t.readUint(b)), true
}

func (t fieldType) readUint(b []byte) uint64 {
	switch t.width {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(t.order.Uint16(b))
	default:
		return uint64(t.order.Uint32(b))
	}
}

// fromInt wraps v to the type's width and signedness.
func (t fieldType) fromInt(v uint64) int64 {
	bits := uint(t.width * 8)
	v &= 1<<bits - 1
	if t.signed && v&(1<<(bits-1)) != 0 {
		return int64(v) - 1<<bits
	}
	return int64(v)
}

// convert casts a computed value to the rule type.
func (t fieldType) convert(v value) (any, bool) {
	switch t.kind {
	case kindFloat:
		return v.float(), true
	case kindIPv4:
		i, ok := v.int()
		if !ok {
			return nil, false
		}
		return formatIPv4(uint32(i)), true
	}
	i, ok := v.int()
	if !ok {
		return nil, false
	}
	return t.fromInt(uint64(i)), true
}

func formatIPv4(v uint32) string {
	var sb strings.Builder
	for i := 3; i >= 0; i-- {
		sb.WriteString(itoa(int64(v >> (8 * i) & 0xff)))
		if i > 0 {
			sb.WriteByte('.')
		}
	}
	return sb.String()
}

func formatMAC(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 0, 17)
	for i, c := range b {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hexDigits[c>>4], hexDigits[c&0xf])
	}
	return string(out)
}
