package s7addr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Area represents an S7 memory area.
type Area int

const (
	AreaDB Area = iota // Data Block
	AreaI              // Process Image Input (IB, IW, ID)
	AreaQ              // Process Image Output (QB, QW, QD)
	AreaM              // Merker/Flag (MB, MW, MD)
	AreaT              // Timer
	AreaC              // Counter
)

// String returns the area name.
func (a Area) String() string {
	switch a {
	case AreaDB:
		return "DB"
	case AreaI:
		return "I"
	case AreaQ:
		return "Q"
	case AreaM:
		return "M"
	case AreaT:
		return "T"
	case AreaC:
		return "C"
	default:
		return "?"
	}
}

// WireValue returns the S7-ANY area code used on the wire.
func (a Area) WireValue() byte {
	switch a {
	case AreaI:
		return 0x81
	case AreaQ:
		return 0x82
	case AreaM:
		return 0x83
	case AreaDB:
		return 0x84
	case AreaC:
		return 0x1C
	case AreaT:
		return 0x1D
	default:
		return 0
	}
}

// Address represents a parsed S7 memory address.
type Address struct {
	Area     Area    // Memory area (DB, I, Q, M, T, C)
	DBNumber int     // Data block number (only for AreaDB)
	Offset   int     // Byte offset
	BitNum   int     // Bit number (0-7 for BOOL, -1 for other types)
	DataType uint16  // Inferred data type
	Size     int     // Size in bytes to read
	Count    int     // Number of elements (1 for scalar, >1 for array)
}

var (
	// DB addresses: DB1.DBX0.0 (bit), DB1.DBB0 (byte), DB1.DBW0 (word), DB1.DBD0 (dword)
	reDB = regexp.MustCompile(`^DB(\d+)\.DB([XBWDL])(\d+)(?:\.(\d))?$`)

	// Simple DB addresses: DB1.0 or DB1.0[6] (offset only, type from config, optional array count)
	reDBSimple = regexp.MustCompile(`^DB(\d+)\.(\d+)(?:\[(\d+)\])?$`)

	// I/Q/M addresses: M0.0 (bit), MB0 (byte), MW0 (word), MD0 (dword)
	reIQM = regexp.MustCompile(`^([IQM])([XBWDL])?(\d+)(?:\.(\d))?$`)

	// Timer/Counter: T0, C0
	reTC = regexp.MustCompile(`^([TC])(\d+)$`)
)

// ParseAddress parses an S7 address string and returns an Address.
// Supported formats:
//   - DB1.0      - Data Block with offset (requires type hint for size)
//   - DB1.DBX0.0 - Data Block bit
//   - DB1.DBB0   - Data Block byte
//   - DB1.DBW0   - Data Block word
//   - DB1.DBD0   - Data Block dword
//   - M0.0, MB0, MW0, MD0 - Merker
//   - I0.0, IB0, IW0, ID0 - Input
//   - Q0.0, QB0, QW0, QD0 - Output
//   - T0         - Timer
//   - C0         - Counter
func ParseAddress(addr string) (*Address, error) {
	addr = strings.ToUpper(strings.TrimSpace(addr))
	if addr == "" {
		return nil, fmt.Errorf("empty address")
	}

	if m := reDBSimple.FindStringSubmatch(addr); m != nil {
		return parseDBSimpleAddress(m)
	}
	if m := reDB.FindStringSubmatch(addr); m != nil {
		return parseDBAddress(m)
	}
	if m := reIQM.FindStringSubmatch(addr); m != nil {
		return parseIQMAddress(m)
	}
	if m := reTC.FindStringSubmatch(addr); m != nil {
		return parseTCAddress(m)
	}

	return nil, fmt.Errorf("invalid S7 address format: %s", addr)
}

func parseDBSimpleAddress(m []string) (*Address, error) {
	dbNum, _ := strconv.Atoi(m[1])
	offset, _ := strconv.Atoi(m[2])

	count := 1
	if m[3] != "" {
		count, _ = strconv.Atoi(m[3])
		if count < 1 {
			count = 1
		}
	}

	return &Address{
		Area:     AreaDB,
		DBNumber: dbNum,
		Offset:   offset,
		BitNum:   -1,
		DataType: 0,
		Size:     0,
		Count:    count,
	}, nil
}

func parseDBAddress(m []string) (*Address, error) {
	dbNum, _ := strconv.Atoi(m[1])
	typeLetter := m[2]
	offset, _ := strconv.Atoi(m[3])

	addr := &Address{
		Area:     AreaDB,
		DBNumber: dbNum,
		Offset:   offset,
		BitNum:   -1,
		Count:    1,
	}

	switch typeLetter {
	case "X":
		if m[4] == "" {
			return nil, fmt.Errorf("DBX requires bit number (e.g., DB1.DBX0.0)")
		}
		bitNum, _ := strconv.Atoi(m[4])
		if bitNum < 0 || bitNum > 7 {
			return nil, fmt.Errorf("bit number must be 0-7, got %d", bitNum)
		}
		addr.BitNum = bitNum
		addr.DataType = TypeBool
		addr.Size = 1
	case "B":
		addr.DataType = TypeByte
		addr.Size = 1
	case "W":
		addr.DataType = TypeWord
		addr.Size = 2
	case "D":
		addr.DataType = TypeDWord
		addr.Size = 4
	case "L":
		addr.DataType = TypeLInt
		addr.Size = 8
	default:
		return nil, fmt.Errorf("unknown DB type: %s", typeLetter)
	}

	return addr, nil
}

func parseIQMAddress(m []string) (*Address, error) {
	var area Area
	switch m[1] {
	case "I":
		area = AreaI
	case "Q":
		area = AreaQ
	case "M":
		area = AreaM
	}

	typeLetter := m[2]
	if typeLetter == "" {
		typeLetter = "X"
	}
	offset, _ := strconv.Atoi(m[3])

	addr := &Address{
		Area:   area,
		Offset: offset,
		BitNum: -1,
		Count:  1,
	}

	switch typeLetter {
	case "X":
		if m[4] != "" {
			bitNum, _ := strconv.Atoi(m[4])
			if bitNum < 0 || bitNum > 7 {
				return nil, fmt.Errorf("bit number must be 0-7, got %d", bitNum)
			}
			addr.BitNum = bitNum
		} else {
			addr.BitNum = 0
		}
		addr.DataType = TypeBool
		addr.Size = 1
	case "B":
		addr.DataType = TypeByte
		addr.Size = 1
	case "W":
		addr.DataType = TypeWord
		addr.Size = 2
	case "D":
		addr.DataType = TypeDWord
		addr.Size = 4
	case "L":
		addr.DataType = TypeLInt
		addr.Size = 8
	default:
		return nil, fmt.Errorf("unknown type: %s", typeLetter)
	}

	return addr, nil
}

func parseTCAddress(m []string) (*Address, error) {
	var area Area
	switch m[1] {
	case "T":
		area = AreaT
	case "C":
		area = AreaC
	}

	num, _ := strconv.Atoi(m[2])

	return &Address{
		Area:     area,
		Offset:   num,
		BitNum:   -1,
		DataType: TypeWord,
		Size:     2,
		Count:    1,
	}, nil
}

// ValidateAddress checks if an address string is valid.
func ValidateAddress(addr string) error {
	_, err := ParseAddress(addr)
	return err
}

// EncodeS7Any encodes addr as a 12-byte S7-ANY VariableSpec, as carried in
// READ/WRITE request items.
func EncodeS7Any(addr *Address) []byte {
	wordLen := WordLenForType(addr.DataType)

	count := addr.Count
	if count < 1 {
		count = 1
	}

	bitOffset := addr.Offset * 8
	if addr.BitNum > 0 {
		bitOffset += addr.BitNum
	}

	spec := make([]byte, 12)
	spec[0] = 0x12 // variable spec marker
	spec[1] = 0x0A // length of following address spec
	spec[2] = 0x10 // syntax: S7ANY
	spec[3] = byte(wordLen)
	spec[4] = byte(count >> 8)
	spec[5] = byte(count)
	spec[6] = byte(addr.DBNumber >> 8)
	spec[7] = byte(addr.DBNumber)
	spec[8] = addr.Area.WireValue()
	spec[9] = byte(bitOffset >> 16)
	spec[10] = byte(bitOffset >> 8)
	spec[11] = byte(bitOffset)

	return spec
}
