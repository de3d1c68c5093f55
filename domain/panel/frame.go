package panel

import (
	"fmt"
)

// Column is a named, typed vector of cells. Kind is the column-level type
// decided at coercion; individual cells may still be missing.
type Column struct {
	Name   string
	Kind   Kind
	Values []Value
}

// Frame is a rectangular table of columns in source order.
type Frame struct {
	columns []Column
	index   map[string]int
	rows    int
}

// NewFrame builds a frame, rejecting duplicate names and ragged columns.
func NewFrame(columns ...Column) (*Frame, error) {
	f := &Frame{index: make(map[string]int, len(columns))}
	for i, c := range columns {
		if _, dup := f.index[c.Name]; dup {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		if i == 0 {
			f.rows = len(c.Values)
		} else if len(c.Values) != f.rows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", c.Name, len(c.Values), f.rows)
		}
		f.index[c.Name] = i
		f.columns = append(f.columns, c)
	}
	return f, nil
}

// Len returns the row count
func (f *Frame) Len() int { return f.rows }

// Names returns column names in source order
func (f *Frame) Names() []string {
	names := make([]string, len(f.columns))
	for i, c := range f.columns {
		names[i] = c.Name
	}
	return names
}

// Has reports whether a column exists
func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Column returns a column by name
func (f *Frame) Column(name string) (Column, bool) {
	i, ok := f.index[name]
	if !ok {
		return Column{}, false
	}
	return f.columns[i], true
}

// Missing returns the subset of names that are not columns of the frame,
// preserving the order given.
func (f *Frame) Missing(names ...string) []string {
	var missing []string
	for _, n := range names {
		if !f.Has(n) {
			missing = append(missing, n)
		}
	}
	return missing
}
