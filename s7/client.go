// Package s7 is the client facade for Siemens S7 communication: it drives
// the connection state machine and exposes synchronous read/write/control
// operations built on top of s7iso (transport) and s7proto (message layer).
package s7

import (
	"fmt"
	"sync"
	"time"

	"s7link/logging"
	"s7link/s7addr"
	"s7link/s7iso"
	"s7link/s7proto"
)

// ConnState describes the client's position in the connect state machine.
type ConnState int

const (
	Disconnected ConnState = iota
	TCPConnected
	ISOConnected
	Negotiated
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case TCPConnected:
		return "tcp-connected"
	case ISOConnected:
		return "iso-connected"
	case Negotiated:
		return "negotiated"
	default:
		return "unknown"
	}
}

// options holds configuration collected from functional Options.
type options struct {
	rack      int
	slot      int
	timeout   time.Duration
	pduLength uint16
}

// Option configures a Connect call.
type Option func(*options)

// WithRackSlot sets the rack/slot used to derive the destination TSAP.
// Default is rack 0, slot 0 (S7-1200/1500); S7-300/400 typically need
// slot 2.
func WithRackSlot(rack, slot int) Option {
	return func(o *options) { o.rack = rack; o.slot = slot }
}

// WithTimeout sets the connect/request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithPDULength requests a specific PDU length during SETUP COMMUNICATION.
func WithPDULength(n uint16) Option {
	return func(o *options) { o.pduLength = n }
}

// Client is a stateful, synchronous S7 client. Every operation is serialized
// through mu, so concurrent callers wait for one another instead of
// interleaving requests, and sequence numbers and the underlying connection
// stay consistent.
type Client struct {
	mu        sync.Mutex
	transport *s7iso.Transport
	seq       s7proto.Sequence
	state     ConnState
	address   string
	pduLength uint16
	timeout   time.Duration
}

// Connect dials address and drives the state machine from Disconnected to
// ISOConnected and finally Negotiated. s7iso.Dial performs the TCP connect
// and the COTP handshake in one step, so Connect never sets TCPConnected.
func Connect(address string, opts ...Option) (*Client, error) {
	cfg := &options{
		rack:      0,
		slot:      0,
		timeout:   10 * time.Second,
		pduLength: 960,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	c := &Client{
		address:   address,
		timeout:   cfg.timeout,
		pduLength: cfg.pduLength,
	}

	transport, err := s7iso.Dial(address, s7iso.Options{
		Rack:    cfg.rack,
		Slot:    cfg.slot,
		Timeout: cfg.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("s7: connect: %w", err)
	}
	c.transport = transport
	c.state = ISOConnected

	pduLength, err := c.negotiatePDULength(cfg.pduLength)
	if err != nil {
		transport.Close()
		c.state = Disconnected
		return nil, fmt.Errorf("s7: setup communication: %w", err)
	}
	c.pduLength = pduLength
	c.state = Negotiated

	logging.DebugConnectSuccess("s7", address, fmt.Sprintf("pduLength=%d", pduLength))

	return c, nil
}

func (c *Client) negotiatePDULength(requested uint16) (uint16, error) {
	req := s7proto.BuildSetupCommRequest(1, 1, requested, c.seq.Next())
	resp, err := c.exchange(req)
	if err != nil {
		return 0, err
	}
	return s7proto.ParseSetupCommResponse(resp)
}

// exchange sends req and returns the raw response PDU, applying the
// client's configured timeout and demoting the state to Disconnected on any
// transport-level failure.
func (c *Client) exchange(req []byte) ([]byte, error) {
	if c.transport == nil {
		return nil, TransportError{Err: fmt.Errorf("not connected")}
	}

	if c.timeout > 0 {
		c.transport.SetDeadline(time.Now().Add(c.timeout))
	}

	if err := c.transport.SendPDU(req); err != nil {
		c.state = Disconnected
		return nil, TransportError{Err: err}
	}

	resp, err := c.transport.RecvPDU()
	if err != nil {
		c.state = Disconnected
		return nil, TransportError{Err: err}
	}

	return resp, nil
}

// Close shuts down the connection and resets the state machine.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = Disconnected
	if c.transport == nil {
		return nil
	}
	err := c.transport.Close()
	c.transport = nil
	return err
}

// IsConnected reports whether the client has completed negotiation.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Negotiated
}

// State returns the client's current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Protocol overhead subtracted from the negotiated PDU length to bound the
// payload size of a single READ/WRITE request, matching the header+param+
// data-item framing built by s7proto.BuildReadRequest/BuildWriteRequest.
const (
	readOverhead  = 18 // response header (12) + param (2) + data-item header (4)
	writeOverhead = 28 // request header (10) + param (2) + VariableSpec (12) + data-item header (4)
)

// ReadArea reads count elements of wordLen from area/dbNumber starting at
// byte offset start (a bit offset when wordLen is WordLenBit; see addressFor).
func (c *Client) ReadArea(area s7addr.Area, dbNumber, start int, wordLen s7addr.WordLen, count int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	addr, err := addressFor(area, dbNumber, start, wordLen, count)
	if err != nil {
		return nil, err
	}

	if limit := int(c.pduLength) - readOverhead; limit > 0 {
		if size := requestedSize(addr); size > limit {
			return nil, SizeOverPduError{Requested: size, Limit: limit}
		}
	}

	req := s7proto.BuildReadRequest([]*s7addr.Address{addr}, c.seq.Next())
	resp, err := c.exchange(req)
	if err != nil {
		return nil, err
	}

	results, errs := s7proto.ParseReadResponse(resp, 1)
	if errs[0] != nil {
		return nil, errs[0]
	}
	return results[0], nil
}

// WriteArea writes data to area/dbNumber starting at byte offset start (a
// bit offset when wordLen is WordLenBit; see addressFor).
func (c *Client) WriteArea(area s7addr.Area, dbNumber, start int, wordLen s7addr.WordLen, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := len(data)
	if wordLen != s7addr.WordLenByte && wordLen != s7addr.WordLenBit {
		count = 1
	}
	addr, err := addressFor(area, dbNumber, start, wordLen, count)
	if err != nil {
		return err
	}

	if limit := int(c.pduLength) - writeOverhead; limit > 0 && len(data) > limit {
		return SizeOverPduError{Requested: len(data), Limit: limit}
	}

	req := s7proto.BuildWriteRequest(addr, data, c.seq.Next())
	resp, err := c.exchange(req)
	if err != nil {
		return err
	}
	return s7proto.ParseWriteResponse(resp)
}

// requestedSize returns the number of payload bytes a read of addr will
// return: one byte per element for BIT accesses (Count), Count*elementSize
// otherwise.
func requestedSize(addr *s7addr.Address) int {
	if addr.BitNum >= 0 && addr.DataType == s7addr.TypeBool {
		return addr.Count
	}
	return addr.Count * s7addr.TypeSize(addr.DataType)
}

// DBRead reads size bytes from DB dbNumber starting at byte start.
func (c *Client) DBRead(dbNumber, start, size int) ([]byte, error) {
	return c.ReadArea(s7addr.AreaDB, dbNumber, start, s7addr.WordLenByte, size)
}

// DBWrite writes data to DB dbNumber starting at byte start.
func (c *Client) DBWrite(dbNumber, start int, data []byte) error {
	return c.WriteArea(s7addr.AreaDB, dbNumber, start, s7addr.WordLenByte, data)
}

// ListBlocks returns the number of blocks of each type present on the PLC.
func (c *Client) ListBlocks() (s7proto.BlockCounts, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.seq.Next()
	req := s7proto.BuildListBlocksRequest(seq)
	resp, err := c.exchange(req)
	if err != nil {
		return s7proto.BlockCounts{}, err
	}
	return s7proto.ParseListBlocksResponse(resp)
}

// ListBlocksOfType returns the block numbers of the given block type code
// (e.g. 0x41 for DB).
func (c *Client) ListBlocksOfType(blockType byte) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.seq.Next()
	req := s7proto.BuildListBlocksOfTypeRequest(blockType, seq)
	resp, err := c.exchange(req)
	if err != nil {
		return nil, err
	}
	return s7proto.ParseListBlocksOfTypeResponse(resp)
}

// ReadSZL reads a System Status List record.
func (c *Client) ReadSZL(id, index uint16) (s7proto.SZLData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.seq.Next()
	req := s7proto.BuildReadSZLRequest(id, index, seq)
	resp, err := c.exchange(req)
	if err != nil {
		return s7proto.SZLData{}, err
	}
	return s7proto.ParseReadSZLResponse(resp)
}

// CPUState is the PLC's run/stop status, read via the CPU status SZL.
type CPUState int

const (
	CPUStateUnknown CPUState = iota
	CPUStateStop
	CPUStateRun
)

func (s CPUState) String() string {
	switch s {
	case CPUStateStop:
		return "stop"
	case CPUStateRun:
		return "run"
	default:
		return "unknown"
	}
}

// szlCPUStatus is SZL ID 0x0424, the CPU state SZL used by GetCPUState.
const szlCPUStatus = 0x0424

// GetCPUState reads the PLC's run/stop status via SZL 0x0424.
func (c *Client) GetCPUState() (CPUState, error) {
	szl, err := c.ReadSZL(szlCPUStatus, 0)
	if err != nil {
		return CPUStateUnknown, err
	}
	if len(szl.Data) < 4 {
		return CPUStateUnknown, fmt.Errorf("s7: short CPU state SZL response")
	}
	switch szl.Data[2] {
	case 0x08:
		return CPUStateRun, nil
	case 0x04:
		return CPUStateStop, nil
	default:
		return CPUStateUnknown, nil
	}
}

// PLCControl issues a start/stop control request.
func (c *Client) PLCControl(op s7proto.PLCControlOp) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.seq.Next()
	req := s7proto.BuildPLCControlRequest(op, seq)
	resp, err := c.exchange(req)
	if err != nil {
		return err
	}
	return s7proto.ParsePLCControlResponse(resp)
}

// ReadClock reads the PLC's real-time clock.
func (c *Client) ReadClock() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.seq.Next()
	req := s7proto.BuildClockReadRequest(seq)
	resp, err := c.exchange(req)
	if err != nil {
		return time.Time{}, err
	}
	return s7proto.ParseClockReadResponse(resp)
}

// addressFor builds the Address used to drive a read/write for the given
// WordLen, returning InvalidWordLenError for any value this client does not
// know how to map to a DataType. Counter and Timer elements are addressed as
// 16-bit words, matching their on-wire representation.
//
// For WordLenBit, start is a bit offset directly (e.g. start=85 means byte
// 10, bit 5), matching spec's encode_address(area, db, start, BIT, count).
// s7addr.EncodeS7Any reconstructs the same wire bit offset as
// Offset*8+BitNum, so it is split back into byte/bit parts here rather than
// treated as a byte offset.
func addressFor(area s7addr.Area, dbNumber, start int, wordLen s7addr.WordLen, count int) (*s7addr.Address, error) {
	addr := &s7addr.Address{
		Area:     area,
		DBNumber: dbNumber,
		Offset:   start,
		BitNum:   -1,
		Count:    count,
	}
	switch wordLen {
	case s7addr.WordLenBit:
		addr.DataType = s7addr.TypeBool
		addr.Offset = start / 8
		addr.BitNum = start % 8
	case s7addr.WordLenByte:
		addr.DataType = s7addr.TypeByte
	case s7addr.WordLenChar:
		addr.DataType = s7addr.TypeChar
	case s7addr.WordLenWord, s7addr.WordLenCounter, s7addr.WordLenTimer:
		addr.DataType = s7addr.TypeWord
	case s7addr.WordLenInt:
		addr.DataType = s7addr.TypeInt
	case s7addr.WordLenDWord:
		addr.DataType = s7addr.TypeDWord
	case s7addr.WordLenDInt:
		addr.DataType = s7addr.TypeDInt
	case s7addr.WordLenReal:
		addr.DataType = s7addr.TypeReal
	default:
		return nil, InvalidWordLenError{WordLen: wordLen}
	}
	addr.Size = s7addr.TypeSize(addr.DataType)
	return addr, nil
}
