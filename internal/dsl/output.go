package dsl

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Output formats.
const (
	OutputHex  = "hex"
	OutputText = "text"
	OutputCSV  = "csv"
	OutputJSON = "json"
	OutputMap  = "map"
)

type formatFunc func(p *Program, rec *Record) any

var formats = map[string]struct {
	fn        formatFunc
	separator string
}{
	OutputHex:  {formatHex, ""},
	OutputText: {formatText, " "},
	OutputCSV:  {formatCSV, ","},
	OutputJSON: {formatJSON, ""},
	OutputMap:  {formatMap, ""},
}

// Formats lists the supported output formats.
func Formats() []string {
	return []string{OutputHex, OutputText, OutputCSV, OutputJSON, OutputMap}
}

func formatHex(p *Program, rec *Record) any {
	parts := make([]string, len(rec.Fields))
	for i, f := range rec.Fields {
		parts[i] = hexValue(p.fields[i].typ, f.Value)
	}
	return strings.Join(parts, p.sep)
}

func formatText(p *Program, rec *Record) any {
	parts := make([]string, len(rec.Fields))
	for i, f := range rec.Fields {
		if f.Value == nil {
			parts[i] = f.Name + "=null"
			continue
		}
		parts[i] = f.Name + "=" + plainValue(f.Value)
	}
	return strings.Join(parts, p.sep)
}

func formatCSV(p *Program, rec *Record) any {
	parts := make([]string, len(rec.Fields))
	for i, f := range rec.Fields {
		if f.Value != nil {
			parts[i] = plainValue(f.Value)
		}
	}
	return strings.Join(parts, p.sep)
}

func formatJSON(_ *Program, rec *Record) any {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, f := range rec.Fields {
		if i > 0 {
			sb.WriteByte(',')
		}
		name, _ := json.Marshal(f.Name)
		sb.Write(name)
		sb.WriteByte(':')
		v, err := json.Marshal(f.Value)
		if err != nil {
			// NaN and infinities have no JSON form.
			v = []byte("null")
		}
		sb.Write(v)
	}
	sb.WriteByte('}')
	return sb.String()
}

func formatMap(_ *Program, rec *Record) any {
	return rec.Map()
}

func plainValue(v any) string {
	switch v := v.(type) {
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		return v
	}
	return fmt.Sprint(v)
}

// hexValue renders v zero padded to the width of t, "--" per byte when null.
func hexValue(t fieldType, v any) string {
	if v == nil {
		return strings.Repeat("--", t.width)
	}
	switch v := v.(type) {
	case int64:
		mask := uint64(1)<<(uint(t.width)*8) - 1
		return fmt.Sprintf("%0*x", t.width*2, uint64(v)&mask)
	case float64:
		if t.width == 8 {
			return fmt.Sprintf("%016x", math.Float64bits(v))
		}
		return fmt.Sprintf("%08x", math.Float32bits(float32(v)))
	case string:
		if t.kind == kindIPv4 {
			var sb strings.Builder
			for _, octet := range strings.Split(v, ".") {
				n, _ := strconv.Atoi(octet)
				fmt.Fprintf(&sb, "%02x", n)
			}
			return sb.String()
		}
		return strings.ReplaceAll(v, ":", "")
	}
	return fmt.Sprint(v)
}
