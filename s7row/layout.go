// Package s7row provides a field-oriented view over a raw DB byte buffer,
// driven by a textual layout specification in the style of a PLC
// programmer's data-block view: byte offset, field name, type.
package s7row

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"s7link/s7addr"
)

// Field describes one named field within a layout.
type Field struct {
	Name      string
	Offset    int    // byte offset from the row's start
	BitOffset int    // bit number for BOOL fields, -1 otherwise
	Type      uint16 // s7addr.Type* code
	Len       int    // declared capacity for STRING[n]; 0 otherwise
	Comment   string
}

// Layout is a parsed, ordered field specification.
type Layout struct {
	Fields []Field
	byName map[string]*Field
}

// Field looks up a field by name.
func (l *Layout) Field(name string) (*Field, bool) {
	f, ok := l.byName[name]
	return f, ok
}

var lineRe = regexp.MustCompile(`^(\d+)(?:\.(\d))?\s+(\S+)\s+(\w+)(?:\[(\d+)\])?\s*$`)

// ParseLayout parses a layout specification of the form
//
//	<byte>[.<bit>] <name> <type> [# comment]
//
// one field per line; blank lines and lines starting with # are ignored.
// Supported types: BOOL, BYTE, CHAR, WORD, INT, DWORD, DINT, REAL,
// STRING[n].
func ParseLayout(spec string) (*Layout, error) {
	var fields []Field
	seen := make(map[string]bool)

	for lineNum, rawLine := range strings.Split(spec, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		comment := ""
		if idx := strings.Index(line, "#"); idx >= 0 {
			comment = strings.TrimSpace(line[idx+1:])
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}

		m := lineRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("s7row: invalid layout line %d: %q", lineNum+1, rawLine)
		}

		offset, _ := strconv.Atoi(m[1])
		bitOffset := -1
		if m[2] != "" {
			bitOffset, _ = strconv.Atoi(m[2])
		}
		name := m[3]
		typeName := m[4]

		dataType, ok := s7addr.TypeCodeFromName(typeName)
		if !ok {
			return nil, fmt.Errorf("s7row: unknown type %q on line %d", typeName, lineNum+1)
		}
		if dataType == s7addr.TypeBool && bitOffset < 0 {
			return nil, fmt.Errorf("s7row: BOOL field %q on line %d requires a bit offset", name, lineNum+1)
		}

		strLen := 0
		if m[5] != "" {
			strLen, _ = strconv.Atoi(m[5])
			if dataType != s7addr.TypeString && dataType != s7addr.TypeWString {
				return nil, fmt.Errorf("s7row: [n] length suffix only valid on STRING/WSTRING, line %d", lineNum+1)
			}
		} else if dataType == s7addr.TypeString {
			strLen = 254
		}

		if seen[name] {
			return nil, fmt.Errorf("s7row: duplicate field %q on line %d", name, lineNum+1)
		}
		seen[name] = true

		fields = append(fields, Field{
			Name:      name,
			Offset:    offset,
			BitOffset: bitOffset,
			Type:      dataType,
			Len:       strLen,
			Comment:   comment,
		})
	}

	if len(fields) == 0 {
		return nil, fmt.Errorf("s7row: layout specification has no fields")
	}

	layout := &Layout{Fields: fields, byName: make(map[string]*Field, len(fields))}
	for i := range layout.Fields {
		layout.byName[layout.Fields[i].Name] = &layout.Fields[i]
	}

	return layout, nil
}
