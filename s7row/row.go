package s7row

import (
	"fmt"

	"s7link/s7addr"
	"s7link/s7codec"
)

// Row is a field-oriented view over a slice of a DB byte buffer, addressed
// through a Layout. dbOffset anchors the row's start within the shared
// buffer; layoutOffset lets a Layout written against a sub-range of a DB
// (e.g. a dataview starting at byte 4) be reused starting from 0.
type Row struct {
	data         []byte
	layout       *Layout
	dbOffset     int
	layoutOffset int

	// dbNumber/rowSize are set by BindDB and used only by Read/Write; a row
	// constructed without a binding can still be used for in-memory
	// Get/Set against an already-populated buffer.
	dbNumber int
	rowSize  int
}

// NewRow constructs a Row over data using layout. dbOffset is the byte
// position within data where this row begins; layoutOffset is subtracted
// from each field's declared offset before translating into data, matching
// layouts copied directly from a PLC dataview that doesn't start at byte 0.
func NewRow(data []byte, layout *Layout, dbOffset, layoutOffset int) *Row {
	return &Row{data: data, layout: layout, dbOffset: dbOffset, layoutOffset: layoutOffset}
}

// PLCReadWriter is the subset of *s7.Client needed to move a row's bytes
// to and from the PLC: an area-qualified byte read/write over a DB.
type PLCReadWriter interface {
	DBRead(dbNumber, start, size int) ([]byte, error)
	DBWrite(dbNumber, start int, data []byte) error
}

// BindDB associates this row with a DB number and declared row size so
// Read/Write can move its bytes to and from a PLC.
func (r *Row) BindDB(dbNumber, rowSize int) {
	r.dbNumber = dbNumber
	r.rowSize = rowSize
}

// Read reads exactly RowSize bytes from the bound DB at this row's offset
// and copies them into the row's slice of the shared buffer.
func (r *Row) Read(client PLCReadWriter) error {
	if r.rowSize <= 0 {
		return fmt.Errorf("s7row: row has no DB binding; call BindDB first")
	}
	data, err := client.DBRead(r.dbNumber, r.dbOffset, r.rowSize)
	if err != nil {
		return err
	}
	if len(data) != r.rowSize {
		return fmt.Errorf("s7row: short DB read: got %d bytes, want %d", len(data), r.rowSize)
	}
	copy(r.data[r.dbOffset:r.dbOffset+r.rowSize], data)
	return nil
}

// Write writes the row's bytes back to the bound DB. When rowOffset is 0
// the full RowSize range is written; a positive rowOffset restricts the
// write to [rowOffset, RowSize), matching the spec's allowance for writing
// only the trailing part of a row the caller has modified.
func (r *Row) Write(client PLCReadWriter, rowOffset int) error {
	if r.rowSize <= 0 {
		return fmt.Errorf("s7row: row has no DB binding; call BindDB first")
	}
	if rowOffset < 0 || rowOffset > r.rowSize {
		return fmt.Errorf("s7row: row offset %d out of range [0,%d]", rowOffset, r.rowSize)
	}
	start := r.dbOffset + rowOffset
	end := r.dbOffset + r.rowSize
	return client.DBWrite(r.dbNumber, start, r.data[start:end])
}

func (r *Row) offset(f *Field) int {
	return f.Offset - r.layoutOffset + r.dbOffset
}

func (r *Row) field(name string) (*Field, error) {
	f, ok := r.layout.Field(name)
	if !ok {
		return nil, fmt.Errorf("s7row: unknown field %q", name)
	}
	return f, nil
}

// GetBool returns the boolean value of a BOOL field.
func (r *Row) GetBool(name string) (bool, error) {
	f, err := r.field(name)
	if err != nil {
		return false, err
	}
	if f.Type != s7addr.TypeBool {
		return false, fmt.Errorf("s7row: field %q is not BOOL", name)
	}
	off := r.offset(f)
	if off < 0 || off >= len(r.data) {
		return false, fmt.Errorf("s7row: field %q offset %d out of range", name, off)
	}
	return s7codec.GetBit(r.data[off], uint(f.BitOffset)), nil
}

// SetBool sets the boolean value of a BOOL field, leaving the other 7 bits
// of its byte untouched.
func (r *Row) SetBool(name string, value bool) error {
	f, err := r.field(name)
	if err != nil {
		return err
	}
	if f.Type != s7addr.TypeBool {
		return fmt.Errorf("s7row: field %q is not BOOL", name)
	}
	off := r.offset(f)
	if off < 0 || off >= len(r.data) {
		return fmt.Errorf("s7row: field %q offset %d out of range", name, off)
	}
	r.data[off] = s7codec.SetBit(r.data[off], uint(f.BitOffset), value)
	return nil
}

// GetInt returns the signed integer value of an INT/DINT field.
func (r *Row) GetInt(name string) (int64, error) {
	f, err := r.field(name)
	if err != nil {
		return 0, err
	}
	off := r.offset(f)
	switch f.Type {
	case s7addr.TypeInt:
		v, err := s7codec.GetUint16(r.data, off)
		return int64(int16(v)), err
	case s7addr.TypeDInt:
		v, err := s7codec.GetUint32(r.data, off)
		return int64(int32(v)), err
	case s7addr.TypeSInt:
		if off < 0 || off >= len(r.data) {
			return 0, fmt.Errorf("s7row: field %q offset %d out of range", name, off)
		}
		return int64(int8(r.data[off])), nil
	default:
		return 0, fmt.Errorf("s7row: field %q is not an integer type", name)
	}
}

// SetInt sets the signed integer value of an INT/DINT field.
func (r *Row) SetInt(name string, value int64) error {
	f, err := r.field(name)
	if err != nil {
		return err
	}
	off := r.offset(f)
	switch f.Type {
	case s7addr.TypeInt:
		return s7codec.PutUint16(r.data, off, uint16(int16(value)))
	case s7addr.TypeDInt:
		return s7codec.PutUint32(r.data, off, uint32(int32(value)))
	case s7addr.TypeSInt:
		if off < 0 || off >= len(r.data) {
			return fmt.Errorf("s7row: field %q offset %d out of range", name, off)
		}
		r.data[off] = byte(int8(value))
		return nil
	default:
		return fmt.Errorf("s7row: field %q is not an integer type", name)
	}
}

// GetWord returns the unsigned value of a WORD/DWORD/BYTE field.
func (r *Row) GetWord(name string) (uint64, error) {
	f, err := r.field(name)
	if err != nil {
		return 0, err
	}
	off := r.offset(f)
	switch f.Type {
	case s7addr.TypeByte:
		if off < 0 || off >= len(r.data) {
			return 0, fmt.Errorf("s7row: field %q offset %d out of range", name, off)
		}
		return uint64(r.data[off]), nil
	case s7addr.TypeWord:
		v, err := s7codec.GetUint16(r.data, off)
		return uint64(v), err
	case s7addr.TypeDWord:
		v, err := s7codec.GetUint32(r.data, off)
		return uint64(v), err
	default:
		return 0, fmt.Errorf("s7row: field %q is not an unsigned type", name)
	}
}

// SetWord sets the unsigned value of a WORD/DWORD/BYTE field.
func (r *Row) SetWord(name string, value uint64) error {
	f, err := r.field(name)
	if err != nil {
		return err
	}
	off := r.offset(f)
	switch f.Type {
	case s7addr.TypeByte:
		if off < 0 || off >= len(r.data) {
			return fmt.Errorf("s7row: field %q offset %d out of range", name, off)
		}
		r.data[off] = byte(value)
		return nil
	case s7addr.TypeWord:
		return s7codec.PutUint16(r.data, off, uint16(value))
	case s7addr.TypeDWord:
		return s7codec.PutUint32(r.data, off, uint32(value))
	default:
		return fmt.Errorf("s7row: field %q is not an unsigned type", name)
	}
}

// GetReal returns the float32 value of a REAL field.
func (r *Row) GetReal(name string) (float32, error) {
	f, err := r.field(name)
	if err != nil {
		return 0, err
	}
	if f.Type != s7addr.TypeReal {
		return 0, fmt.Errorf("s7row: field %q is not REAL", name)
	}
	return s7codec.GetFloat32(r.data, r.offset(f))
}

// SetReal sets the float32 value of a REAL field.
func (r *Row) SetReal(name string, value float32) error {
	f, err := r.field(name)
	if err != nil {
		return err
	}
	if f.Type != s7addr.TypeReal {
		return fmt.Errorf("s7row: field %q is not REAL", name)
	}
	return s7codec.PutFloat32(r.data, r.offset(f), value)
}

// GetString returns the value of a STRING field.
func (r *Row) GetString(name string) (string, error) {
	f, err := r.field(name)
	if err != nil {
		return "", err
	}
	if f.Type != s7addr.TypeString {
		return "", fmt.Errorf("s7row: field %q is not STRING", name)
	}
	return s7codec.GetString(r.data, r.offset(f))
}

// SetString sets the value of a STRING field.
func (r *Row) SetString(name, value string) error {
	f, err := r.field(name)
	if err != nil {
		return err
	}
	if f.Type != s7addr.TypeString {
		return fmt.Errorf("s7row: field %q is not STRING", name)
	}
	return s7codec.PutString(r.data, r.offset(f), value)
}

// Get returns the field's value as an idiomatic Go type, dispatching on the
// field's declared type.
func (r *Row) Get(name string) (interface{}, error) {
	f, err := r.field(name)
	if err != nil {
		return nil, err
	}
	switch f.Type {
	case s7addr.TypeBool:
		return r.GetBool(name)
	case s7addr.TypeInt, s7addr.TypeDInt, s7addr.TypeSInt:
		return r.GetInt(name)
	case s7addr.TypeByte, s7addr.TypeWord, s7addr.TypeDWord:
		return r.GetWord(name)
	case s7addr.TypeReal:
		return r.GetReal(name)
	case s7addr.TypeString:
		return r.GetString(name)
	default:
		return nil, fmt.Errorf("s7row: field %q has unsupported type %s", name, s7addr.TypeName(f.Type))
	}
}
