// Package s7proto builds and parses S7 request/response PDUs: read/write
// area, PDU-length negotiation, PLC control, and USERDATA operations
// (block listing, SZL reads, clock reads).
package s7proto

import (
	"fmt"
	"time"

	"s7link/s7addr"
	"s7link/s7codec"
)

// PDU type codes (byte 1 of the S7 header).
const (
	PDUTypeRequest  byte = 0x01
	PDUTypeAckData  byte = 0x03
	PDUTypeAck      byte = 0x02 // function-code-only ACK, typically signals an error
	PDUTypeUserData byte = 0x07
)

const protocolID = 0x32

// Function codes.
const (
	funcSetupComm  = 0xF0
	funcReadArea   = 0x04
	funcWriteArea  = 0x05
	funcPLCControl = 0x28
	funcPLCStop    = 0x29
)

// USERDATA group/subfunction codes.
const (
	groupBlockInfo byte = 0x03
	groupSZL       byte = 0x04
	groupTime      byte = 0x07

	subListAll           byte = 0x01
	subListBlocksOfType  byte = 0x02
	subReadSZL           byte = 0x01
	subGetClock          byte = 0x01
)

// Sequence generates S7 PDU sequence numbers: 16-bit, wrapping, never 0.
type Sequence struct {
	n uint16
}

// Next returns the next sequence number.
func (s *Sequence) Next() uint16 {
	s.n++
	if s.n == 0 {
		s.n = 1
	}
	return s.n
}

func header(pduType byte, seq uint16, paramLen, dataLen int) []byte {
	return []byte{
		protocolID, pduType,
		0x00, 0x00, // reserved
		byte(seq >> 8), byte(seq),
		byte(paramLen >> 8), byte(paramLen),
		byte(dataLen >> 8), byte(dataLen),
	}
}

// ResponseHeader is the parsed common header shared by RESPONSE and
// USERDATA PDUs.
type ResponseHeader struct {
	Sequence   uint16
	ErrorClass byte
	ErrorCode  byte
	Params     []byte
	Data       []byte
}

// ParseResponseHeader parses the 12-byte S7 response header plus the
// parameter and data sections that follow it.
func ParseResponseHeader(pdu []byte) (ResponseHeader, error) {
	var h ResponseHeader
	if len(pdu) < 12 {
		return h, fmt.Errorf("s7proto: PDU too short for response header: %d bytes", len(pdu))
	}
	if pdu[0] != protocolID {
		return h, fmt.Errorf("s7proto: invalid protocol ID 0x%02X", pdu[0])
	}
	if pdu[1] != PDUTypeAckData && pdu[1] != PDUTypeUserData && pdu[1] != PDUTypeAck {
		return h, fmt.Errorf("s7proto: expected response or userdata PDU, got 0x%02X", pdu[1])
	}

	seq, _ := s7codec.GetUint16(pdu, 4)
	paramLen, _ := s7codec.GetUint16(pdu, 6)
	dataLen, _ := s7codec.GetUint16(pdu, 8)
	h.Sequence = seq
	h.ErrorClass = pdu[10]
	h.ErrorCode = pdu[11]

	offset := 12
	if int(paramLen) > 0 {
		if offset+int(paramLen) > len(pdu) {
			return h, fmt.Errorf("s7proto: parameter section extends beyond PDU")
		}
		h.Params = pdu[offset : offset+int(paramLen)]
		offset += int(paramLen)
	}
	if int(dataLen) > 0 {
		if offset+int(dataLen) > len(pdu) {
			return h, fmt.Errorf("s7proto: data section extends beyond PDU")
		}
		h.Data = pdu[offset : offset+int(dataLen)]
	}

	return h, nil
}

// BuildSetupCommRequest builds a SETUP COMMUNICATION request negotiating
// maxAMQCaller/maxAMQCallee outstanding jobs and the requested PDU length.
func BuildSetupCommRequest(maxAMQCaller, maxAMQCallee, pduLength uint16, seq uint16) []byte {
	params := []byte{
		funcSetupComm, 0x00,
		byte(maxAMQCaller >> 8), byte(maxAMQCaller),
		byte(maxAMQCallee >> 8), byte(maxAMQCallee),
		byte(pduLength >> 8), byte(pduLength),
	}
	return append(header(PDUTypeRequest, seq, len(params), 0), params...)
}

// ParseSetupCommResponse parses a SETUP COMMUNICATION response and returns
// the PLC's negotiated PDU length.
func ParseSetupCommResponse(pdu []byte) (uint16, error) {
	h, err := ParseResponseHeader(pdu)
	if err != nil {
		return 0, err
	}
	if h.ErrorClass != 0 || h.ErrorCode != 0 {
		return 0, S7Error{Class: h.ErrorClass, Code: h.ErrorCode}
	}
	if len(h.Params) < 8 {
		return 0, fmt.Errorf("s7proto: setup comm response parameters too short")
	}
	pduLength, _ := s7codec.GetUint16(h.Params, 6)
	return pduLength, nil
}

// BuildReadRequest builds a READ VAR request for the given addresses.
func BuildReadRequest(addrs []*s7addr.Address, seq uint16) []byte {
	params := []byte{funcReadArea, byte(len(addrs))}
	for _, addr := range addrs {
		params = append(params, s7addr.EncodeS7Any(addr)...)
	}
	return append(header(PDUTypeRequest, seq, len(params), 0), params...)
}

// ParseReadResponse parses a READ VAR response expecting count items,
// returning each item's raw bytes or a per-item error. Grounded on the
// teacher's item-by-item recovery: a failure on one item does not abort
// parsing of the remaining items when their headers are still intact.
func ParseReadResponse(pdu []byte, count int) ([][]byte, []error) {
	results := make([][]byte, count)
	errs := make([]error, count)
	fail := func(err error) ([][]byte, []error) {
		for i := range errs {
			errs[i] = err
		}
		return results, errs
	}

	if len(pdu) < 12 {
		return fail(fmt.Errorf("s7proto: response too short"))
	}
	if pdu[0] != protocolID {
		return fail(fmt.Errorf("s7proto: invalid protocol ID 0x%02X", pdu[0]))
	}

	// A bare ACK (function-code-only) response signals a request-level
	// error rather than per-item results.
	if pdu[1] == PDUTypeAck {
		if pdu[10] != 0 || pdu[11] != 0 {
			return fail(S7Error{Class: pdu[10], Code: pdu[11]})
		}
		return fail(fmt.Errorf("s7proto: unexpected ACK response"))
	}

	h, err := ParseResponseHeader(pdu)
	if err != nil {
		return fail(err)
	}
	if h.ErrorClass != 0 || h.ErrorCode != 0 {
		return fail(S7Error{Class: h.ErrorClass, Code: h.ErrorCode})
	}

	data := h.Data
	pos := 0
	for i := 0; i < count; i++ {
		if pos >= len(data) {
			for j := i; j < count; j++ {
				errs[j] = fmt.Errorf("s7proto: unexpected end of data (item %d of %d)", j+1, count)
			}
			break
		}

		returnCode := data[pos]
		if returnCode != dataItemSuccess {
			errs[i] = fmt.Errorf("%s", dataItemError(returnCode))
			pos++
			continue
		}

		if pos+4 > len(data) {
			for j := i; j < count; j++ {
				errs[j] = fmt.Errorf("s7proto: data item header too short")
			}
			break
		}

		transportSize := data[pos+1]
		length, _ := s7codec.GetUint16(data, pos+2)

		// Transport sizes 0x00 (null) and 0x09 (octet string) carry a byte
		// count; every other transport size (notably 0x04, the common
		// byte/word/dword response tag) expresses length in bits.
		var byteLen int
		if transportSize == transportSizeNull || transportSize == transportSizeOctetString {
			byteLen = int(length)
		} else {
			byteLen = int((length + 7) / 8)
		}

		pos += 4
		if pos+byteLen > len(data) {
			for j := i; j < count; j++ {
				errs[j] = fmt.Errorf("s7proto: data truncated: need %d bytes, have %d", byteLen, len(data)-pos)
			}
			break
		}

		results[i] = append([]byte(nil), data[pos:pos+byteLen]...)
		pos += byteLen

		// Items are padded to an even byte boundary, except the last.
		if i < count-1 && byteLen%2 == 1 {
			pos++
		}
	}

	return results, errs
}

// BuildWriteRequest builds a WRITE VAR request for a single address.
func BuildWriteRequest(addr *s7addr.Address, data []byte, seq uint16) []byte {
	params := []byte{funcWriteArea, 0x01}
	params = append(params, s7addr.EncodeS7Any(addr)...)

	transportSize := transportSizeForAddress(addr)
	bitLen := len(data) * 8
	if addr.BitNum >= 0 {
		bitLen = 1
	}

	dataSection := []byte{0x00, transportSize, byte(bitLen >> 8), byte(bitLen)}
	dataSection = append(dataSection, data...)
	if len(data)%2 == 1 {
		dataSection = append(dataSection, 0x00)
	}

	return append(append(header(PDUTypeRequest, seq, len(params), len(dataSection)), params...), dataSection...)
}

// ParseWriteResponse parses a WRITE VAR response.
func ParseWriteResponse(pdu []byte) error {
	h, err := ParseResponseHeader(pdu)
	if err != nil {
		return err
	}
	if h.ErrorClass != 0 || h.ErrorCode != 0 {
		return S7Error{Class: h.ErrorClass, Code: h.ErrorCode}
	}
	if len(h.Data) < 1 {
		return fmt.Errorf("s7proto: no data in write response")
	}
	if h.Data[0] != dataItemSuccess {
		return fmt.Errorf("%s", dataItemError(h.Data[0]))
	}
	return nil
}

// PLCControlOp is a PLC start/stop control operation.
type PLCControlOp int

const (
	PLCControlStop PLCControlOp = iota
	PLCControlHotStart
	PLCControlColdStart
)

// BuildPLCControlRequest builds a PLC control request for op.
func BuildPLCControlRequest(op PLCControlOp, seq uint16) []byte {
	var params []byte
	switch op {
	case PLCControlStop:
		params = []byte{funcPLCStop}
	case PLCControlHotStart:
		params = []byte{funcPLCControl, 0x01}
	case PLCControlColdStart:
		params = []byte{funcPLCControl, 0x02}
	}
	return append(header(PDUTypeRequest, seq, len(params), 0), params...)
}

// ParsePLCControlResponse parses a PLC control response.
func ParsePLCControlResponse(pdu []byte) error {
	h, err := ParseResponseHeader(pdu)
	if err != nil {
		return err
	}
	if h.ErrorClass != 0 || h.ErrorCode != 0 {
		return S7Error{Class: h.ErrorClass, Code: h.ErrorCode}
	}
	return nil
}

func userDataRequestParams(group, subfunction byte, seq uint16) []byte {
	return []byte{
		0x00,             // reserved
		0x01,             // parameter count
		0x12, 0x04,       // type/length header
		0x11,             // method: request
		0x40 | group,     // type (4=request) | group
		subfunction,
		byte(seq), // sequence number (low byte)
	}
}

// BuildListBlocksRequest builds a USERDATA request listing all block
// counts by type.
func BuildListBlocksRequest(seq uint16) []byte {
	params := userDataRequestParams(groupBlockInfo, subListAll, seq)
	data := []byte{0x0A, 0x00, 0x00, 0x00}
	return append(append(header(PDUTypeUserData, seq, len(params), len(data)), params...), data...)
}

// BlockCounts holds the block counts returned by a list-blocks request.
type BlockCounts struct {
	OB, FB, FC, SFB, SFC, DB, SDB int
}

// ParseListBlocksResponse parses a list-all-blocks USERDATA response.
func ParseListBlocksResponse(pdu []byte) (BlockCounts, error) {
	var counts BlockCounts
	h, err := ParseResponseHeader(pdu)
	if err != nil {
		return counts, err
	}
	if h.ErrorClass != 0 || h.ErrorCode != 0 {
		return counts, S7Error{Class: h.ErrorClass, Code: h.ErrorCode}
	}

	raw := userDataPayload(h.Data)
	for offset := 0; offset+4 <= len(raw); offset += 4 {
		indicator := raw[offset]
		blockType := raw[offset+1]
		count := int(raw[offset+2])<<8 | int(raw[offset+3])
		if indicator != 0x30 {
			continue
		}
		switch blockType {
		case 0x38:
			counts.OB = count
		case 0x41:
			counts.DB = count
		case 0x42:
			counts.SDB = count
		case 0x43:
			counts.FC = count
		case 0x44:
			counts.SFC = count
		case 0x45:
			counts.FB = count
		case 0x46:
			counts.SFB = count
		}
	}
	return counts, nil
}

// BuildListBlocksOfTypeRequest builds a USERDATA request listing the block
// numbers of a given block type.
func BuildListBlocksOfTypeRequest(blockType byte, seq uint16) []byte {
	params := userDataRequestParams(groupBlockInfo, subListBlocksOfType, seq)
	data := []byte{0x0A, 0x00, 0x00, 0x01, blockType}
	return append(append(header(PDUTypeUserData, seq, len(params), len(data)), params...), data...)
}

// ParseListBlocksOfTypeResponse parses the block-number list from a
// list-blocks-of-type USERDATA response.
func ParseListBlocksOfTypeResponse(pdu []byte) ([]uint16, error) {
	h, err := ParseResponseHeader(pdu)
	if err != nil {
		return nil, err
	}
	if h.ErrorClass != 0 || h.ErrorCode != 0 {
		return nil, S7Error{Class: h.ErrorClass, Code: h.ErrorCode}
	}

	raw := userDataPayload(h.Data)
	var blocks []uint16
	for offset := 0; offset+2 <= len(raw); offset += 2 {
		v, _ := s7codec.GetUint16(raw, offset)
		blocks = append(blocks, v)
	}
	return blocks, nil
}

// BuildReadSZLRequest builds a USERDATA request reading the SZL record
// identified by id/index.
func BuildReadSZLRequest(id, index uint16, seq uint16) []byte {
	params := userDataRequestParams(groupSZL, subReadSZL, seq)
	data := []byte{
		0x0A, 0x00, 0x00, 0x04,
		byte(id >> 8), byte(id),
		byte(index >> 8), byte(index),
	}
	return append(append(header(PDUTypeUserData, seq, len(params), len(data)), params...), data...)
}

// SZLData is a parsed System Status List response.
type SZLData struct {
	ID    uint16
	Index uint16
	Data  []byte
}

// ParseReadSZLResponse parses a read-SZL USERDATA response.
func ParseReadSZLResponse(pdu []byte) (SZLData, error) {
	var szl SZLData
	h, err := ParseResponseHeader(pdu)
	if err != nil {
		return szl, err
	}
	if h.ErrorClass != 0 || h.ErrorCode != 0 {
		return szl, S7Error{Class: h.ErrorClass, Code: h.ErrorCode}
	}

	raw := userDataPayload(h.Data)
	if len(raw) < 4 {
		return szl, fmt.Errorf("s7proto: SZL response too short")
	}
	szl.ID, _ = s7codec.GetUint16(raw, 0)
	szl.Index, _ = s7codec.GetUint16(raw, 2)
	szl.Data = append([]byte(nil), raw[4:]...)
	return szl, nil
}

// BuildClockReadRequest builds a USERDATA request reading the PLC's clock.
func BuildClockReadRequest(seq uint16) []byte {
	params := userDataRequestParams(groupTime, subGetClock, seq)
	data := []byte{0x0A, 0x00, 0x00, 0x00}
	return append(append(header(PDUTypeUserData, seq, len(params), len(data)), params...), data...)
}

// ParseClockReadResponse parses a clock-read USERDATA response. The PLC
// encodes the clock as 8 BCD bytes (year, month, day, hour, minute,
// second, then three millisecond digits in byte 6 and the high nibble of
// byte 7, with the weekday in the low nibble of byte 7, which is ignored);
// this wraps that into a time.Time in UTC since
// the PLC's own timezone is not communicated on the wire.
func ParseClockReadResponse(pdu []byte) (time.Time, error) {
	h, err := ParseResponseHeader(pdu)
	if err != nil {
		return time.Time{}, err
	}
	if h.ErrorClass != 0 || h.ErrorCode != 0 {
		return time.Time{}, S7Error{Class: h.ErrorClass, Code: h.ErrorCode}
	}

	raw := userDataPayload(h.Data)
	if len(raw) < 8 {
		return time.Time{}, fmt.Errorf("s7proto: clock response too short")
	}

	bcd := func(b byte) int { return int(b>>4)*10 + int(b&0x0F) }
	year := bcd(raw[0])
	if year < 90 {
		year += 2000
	} else {
		year += 1900
	}
	month := bcd(raw[1])
	day := bcd(raw[2])
	hour := bcd(raw[3])
	minute := bcd(raw[4])
	second := bcd(raw[5])
	msec := bcd(raw[6])*10 + int(raw[7]>>4)

	return time.Date(year, time.Month(month), day, hour, minute, second, msec*1e6, time.UTC), nil
}

// userDataPayload extracts the actual bytes carried in a USERDATA data
// section, which is prefixed by a 4-byte return-code/transport-size/length
// header (same shape as a READ VAR item, but length is a byte count, not a
// bit count).
func userDataPayload(data []byte) []byte {
	if len(data) < 4 {
		return nil
	}
	length, _ := s7codec.GetUint16(data, 2)
	end := 4 + int(length)
	if end > len(data) {
		end = len(data)
	}
	return data[4:end]
}

func transportSizeForAddress(addr *s7addr.Address) byte {
	if addr.BitNum >= 0 {
		return transportSizeBit
	}
	switch s7addr.WordLenForType(addr.DataType) {
	case s7addr.WordLenByte:
		return transportSizeByte
	case s7addr.WordLenWord:
		return transportSizeWord
	case s7addr.WordLenDWord:
		return transportSizeDWord
	case s7addr.WordLenReal:
		return transportSizeReal
	default:
		return transportSizeByte
	}
}

// Transport size codes used in READ/WRITE data-item headers.
const (
	transportSizeNull  byte = 0x00
	transportSizeBit   byte = 0x01
	transportSizeByte  byte = 0x02
	transportSizeChar  byte = 0x03
	transportSizeWord  byte = 0x04
	transportSizeInt   byte = 0x05
	transportSizeDWord byte = 0x06
	transportSizeDInt  byte = 0x07
	transportSizeReal  byte = 0x08

	transportSizeOctetString byte = 0x09
)
