package s7row

import (
	"fmt"

	"s7link/logging"
)

// Table is an ordered collection of Rows projected over repeating records
// in a single DB byte buffer, keyed either by row index or by an id field's
// value.
type Table struct {
	rows  []*Row
	index map[interface{}]*Row
	order []interface{}
}

// NewTable slices data into count rows of rowSize bytes each, starting at
// dbOffset, and builds a Row over each slice using layout. If idField is
// non-empty, rows are additionally indexed by that field's value; otherwise
// rows are indexed by their position (0..count-1).
func NewTable(data []byte, layout *Layout, rowSize, count, dbOffset, layoutOffset int, idField string) (*Table, error) {
	if idField != "" {
		if _, ok := layout.Field(idField); !ok {
			return nil, fmt.Errorf("s7row: id field %q not in layout", idField)
		}
	}

	t := &Table{
		index: make(map[interface{}]*Row, count),
	}

	for i := 0; i < count; i++ {
		rowStart := dbOffset + i*rowSize
		if rowStart+rowSize > len(data) {
			return nil, fmt.Errorf("s7row: row %d extends beyond buffer (need %d bytes, have %d)", i, rowStart+rowSize, len(data))
		}
		row := NewRow(data, layout, rowStart, layoutOffset)
		t.rows = append(t.rows, row)

		var key interface{} = i
		if idField != "" {
			v, err := row.Get(idField)
			if err != nil {
				return nil, fmt.Errorf("s7row: row %d: %w", i, err)
			}
			key = v
		}
		if _, dup := t.index[key]; dup {
			logging.DebugLog("s7row", "duplicate id field %q value %v at row %d, overwriting earlier row", idField, key, i)
		}
		t.index[key] = row
		t.order = append(t.order, key)
	}

	return t, nil
}

// NewDBTable behaves like NewTable but also binds every row to dbNumber and
// rowSize so Row.Read/Row.Write can move each row's bytes to and from that
// DB on the PLC.
func NewDBTable(data []byte, layout *Layout, dbNumber, rowSize, count, dbOffset, layoutOffset int, idField string) (*Table, error) {
	t, err := NewTable(data, layout, rowSize, count, dbOffset, layoutOffset, idField)
	if err != nil {
		return nil, err
	}
	for _, row := range t.rows {
		row.BindDB(dbNumber, rowSize)
	}
	return t, nil
}

// NewDBRow constructs a single Row already bound to dbNumber/rowSize via
// BindDB, for layouts that describe a single record rather than a table.
func NewDBRow(data []byte, layout *Layout, dbNumber, dbOffset, layoutOffset, rowSize int) *Row {
	row := NewRow(data, layout, dbOffset, layoutOffset)
	row.BindDB(dbNumber, rowSize)
	return row
}

// Get returns the row keyed by key (an int index, or the id field's value
// when the table was built with an idField).
func (t *Table) Get(key interface{}) (*Row, bool) {
	r, ok := t.index[key]
	return r, ok
}

// Rows returns all rows in table order.
func (t *Table) Rows() []*Row {
	return append([]*Row(nil), t.rows...)
}

// Len returns the number of rows in the table.
func (t *Table) Len() int {
	return len(t.rows)
}
