package dsl

// Field is one extracted value. Value is nil when the field could not be read.
type Field struct {
	Name  string
	Value any
}

// Record holds the fields of one buffer in declared order.
type Record struct {
	Fields []Field
}

// Get returns the value of the named field.
func (r *Record) Get(name string) (any, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Map returns the fields keyed by name.
func (r *Record) Map() map[string]any {
	m := make(map[string]any, len(r.Fields))
	for _, f := range r.Fields {
		m[f.Name] = f.Value
	}
	return m
}

// Program is a compiled expression. It is immutable and safe for concurrent use.
type Program struct {
	expr   *Expression
	fields []compiledField
	output string
	sep    string
	format formatFunc
}

// Expression returns a copy of the source expression.
func (p *Program) Expression() *Expression { return p.expr.Clone() }

// Output returns the serialization format.
func (p *Program) Output() string { return p.output }

// Names returns the field names in declared order.
func (p *Program) Names() []string { return p.expr.Names() }

// Extract reads every field from buf. It returns nil when no field could be read.
func (p *Program) Extract(buf []byte) *Record {
	rec := &Record{Fields: make([]Field, len(p.fields))}
	found := false
	for i, f := range p.fields {
		rec.Fields[i].Name = f.name
		if v, ok := f.extract(buf); ok {
			rec.Fields[i].Value = v
			found = true
		}
	}
	if !found {
		return nil
	}
	return rec
}

// Apply extracts and serializes one buffer. ok is false when nothing could be
// extracted.
func (p *Program) Apply(buf []byte) (any, bool) {
	rec := p.Extract(buf)
	if rec == nil {
		return nil, false
	}
	return p.format(p, rec), true
}

// ApplyBulk applies the program to each buffer, omitting buffers that yield
// nothing. Survivors keep their relative order.
func (p *Program) ApplyBulk(bufs [][]byte) []any {
	out := make([]any, 0, len(bufs))
	for _, buf := range bufs {
		if v, ok := p.Apply(buf); ok {
			out = append(out, v)
		}
	}
	return out
}

// Format serializes a record produced by this program.
func (p *Program) Format(rec *Record) any { return p.format(p, rec) }
