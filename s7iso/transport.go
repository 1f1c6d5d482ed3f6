// Package s7iso implements the ISO-on-TCP (RFC 1006) transport used to
// carry S7 PDUs: TPKT framing over COTP (ISO 8073 class 0) connection
// setup and data transfer, including fragment reassembly.
package s7iso

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"s7link/logging"
)

const (
	defaultS7Port = 102

	tpktVersion    = 0x03
	tpktHeaderSize = 4

	// COTP PDU types (ISO 8073).
	cotpCR = 0xE0 // Connection Request
	cotpCC = 0xD0 // Connection Confirm
	cotpDR = 0x80 // Disconnect Request
	cotpDT = 0xF0 // Data Transfer

	cotpParamSrcTSAP  = 0xC1
	cotpParamDstTSAP  = 0xC2
	cotpParamTPDUSize = 0xC0

	cotpTPDUSize1024 = 0x0A // 2^10 = 1024 bytes

	// MaxFragments bounds the number of COTP DT fragments reassembled into
	// a single logical PDU, matching python-snap7's IsoMaxFragments.
	MaxFragments = 64

	// MaxPayloadSize bounds the payload carried by a single COTP DT
	// fragment, matching python-snap7's IsoPayload_Size.
	MaxPayloadSize = 4096

	eotBit = 0x80 // high bit of the TPDU-NR/EOT byte marks the final fragment
)

// ErrTooManyFragments is returned when a PDU would require reassembling
// more than MaxFragments COTP DT frames.
var ErrTooManyFragments = fmt.Errorf("s7iso: PDU exceeds %d fragments", MaxFragments)

// ErrFragmentOverflow is returned when a single fragment declares a
// payload larger than MaxPayloadSize.
var ErrFragmentOverflow = fmt.Errorf("s7iso: fragment payload exceeds %d bytes", MaxPayloadSize)

// Options configure a Transport.
type Options struct {
	Rack    int
	Slot    int
	Timeout time.Duration
}

// Transport carries S7 PDUs over ISO-on-TCP.
type Transport struct {
	conn    net.Conn
	address string
	rack    int
	slot    int
	timeout time.Duration
}

// Dial opens a TCP connection to address and performs the COTP CR/CC
// handshake. It does not negotiate the S7 PDU length; that is layered on
// top by the client facade once the transport is connected.
func Dial(address string, opts Options) (*Transport, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		address = fmt.Sprintf("%s:%d", address, defaultS7Port)
	} else if port == "" {
		address = fmt.Sprintf("%s:%d", host, defaultS7Port)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	logging.DebugConnect("s7iso", address)
	logging.DebugLog("s7iso", "connection params: rack=%d, slot=%d", opts.Rack, opts.Slot)

	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		logging.DebugConnectError("s7iso", address, err)
		return nil, fmt.Errorf("tcp connect failed: %w", err)
	}

	t := &Transport{
		conn:    conn,
		address: address,
		rack:    opts.Rack,
		slot:    opts.Slot,
		timeout: timeout,
	}

	if err := t.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	if err := t.cotpConnect(); err != nil {
		conn.Close()
		logging.DebugError("s7iso", "COTP connect", err)
		return nil, fmt.Errorf("COTP connect failed: %w", err)
	}

	logging.DebugConnectSuccess("s7iso", address, fmt.Sprintf("rack=%d, slot=%d", opts.Rack, opts.Slot))

	t.conn.SetDeadline(time.Time{})

	return t, nil
}

// Close closes the underlying connection.
func (t *Transport) Close() error {
	logging.DebugDisconnect("s7iso", t.address, "close requested")
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// SetDeadline applies d as the absolute deadline for the next SendPDU/RecvPDU
// pair; a zero time clears the deadline.
func (t *Transport) SetDeadline(deadline time.Time) error {
	return t.conn.SetDeadline(deadline)
}

// SendPDU wraps an S7 PDU in a single COTP DT fragment and sends it framed
// by TPKT. S7 PDUs produced by this module's own protocol layer always fit
// within MaxPayloadSize, so outbound traffic is never fragmented; only
// inbound reassembly needs to handle multi-fragment PDUs from the PLC.
func (t *Transport) SendPDU(s7PDU []byte) error {
	if t.conn == nil {
		return fmt.Errorf("s7iso: not connected")
	}
	cotpHeader := []byte{0x02, cotpDT, eotBit}
	payload := append(append([]byte{}, cotpHeader...), s7PDU...)
	return t.sendTPKT(payload)
}

// RecvPDU reads one logical S7 PDU, reassembling COTP DT fragments as
// needed (see recvFragment).
func (t *Transport) RecvPDU() ([]byte, error) {
	var assembled []byte

	for fragments := 1; ; fragments++ {
		payload, eot, err := t.recvFragment()
		if err != nil {
			return nil, err
		}
		if fragments > MaxFragments {
			return nil, ErrTooManyFragments
		}
		assembled = append(assembled, payload...)
		if eot {
			break
		}
	}

	return assembled, nil
}

// recvFragment reads a single TPKT-framed COTP DT fragment and returns its
// S7 payload (with the 3-byte COTP DT header stripped) along with whether
// this fragment is the last one (EoT bit set), grounded on python-snap7's
// isoRecvFragment.
func (t *Transport) recvFragment() (payload []byte, eot bool, err error) {
	frame, err := t.recvTPKT()
	if err != nil {
		return nil, false, err
	}

	if len(frame) < 3 {
		return nil, false, fmt.Errorf("s7iso: COTP fragment too short: %d bytes", len(frame))
	}
	if frame[1] != cotpDT {
		return nil, false, fmt.Errorf("s7iso: expected COTP DT (0x%02X), got 0x%02X", cotpDT, frame[1])
	}

	if len(frame)-3 > MaxPayloadSize {
		return nil, false, ErrFragmentOverflow
	}

	eot = frame[2]&eotBit == eotBit
	return frame[3:], eot, nil
}

func (t *Transport) sendTPKT(data []byte) error {
	length := len(data) + tpktHeaderSize
	header := []byte{tpktVersion, 0x00, byte(length >> 8), byte(length)}
	packet := append(header, data...)

	logging.DebugTX("s7iso", packet)
	_, err := t.conn.Write(packet)
	if err != nil {
		logging.DebugError("s7iso", "sendTPKT write", err)
	}
	return err
}

func (t *Transport) recvTPKT() ([]byte, error) {
	header := make([]byte, tpktHeaderSize)
	if _, err := io.ReadFull(t.conn, header); err != nil {
		logging.DebugError("s7iso", "recvTPKT read header", err)
		return nil, fmt.Errorf("failed to read TPKT header: %w", err)
	}

	if header[0] != tpktVersion {
		return nil, fmt.Errorf("invalid TPKT version: %d", header[0])
	}

	length := int(binary.BigEndian.Uint16(header[2:4]))
	if length < tpktHeaderSize {
		return nil, fmt.Errorf("invalid TPKT length: %d", length)
	}

	payload := make([]byte, length-tpktHeaderSize)
	if _, err := io.ReadFull(t.conn, payload); err != nil {
		logging.DebugError("s7iso", "recvTPKT read payload", err)
		return nil, fmt.Errorf("failed to read TPKT payload: %w", err)
	}

	logging.DebugRX("s7iso", append(header, payload...))

	return payload, nil
}

// cotpConnect performs the COTP Connection Request/Confirm exchange,
// deriving the destination TSAP from rack/slot.
func (t *Transport) cotpConnect() error {
	srcTSAP := []byte{0x01, 0x00}
	dstTSAP := []byte{0x02, byte(t.rack<<5 | t.slot)}

	cr := []byte{
		0x00,   // length, filled below
		cotpCR, // PDU type
		0x00, 0x00, // destination reference
		0x00, 0x01, // source reference
		0x00, // class 0
	}
	cr = append(cr, cotpParamSrcTSAP, byte(len(srcTSAP)))
	cr = append(cr, srcTSAP...)
	cr = append(cr, cotpParamDstTSAP, byte(len(dstTSAP)))
	cr = append(cr, dstTSAP...)
	cr = append(cr, cotpParamTPDUSize, 0x01, cotpTPDUSize1024)
	cr[0] = byte(len(cr) - 1)

	if err := t.sendTPKT(cr); err != nil {
		return fmt.Errorf("failed to send COTP CR: %w", err)
	}

	cc, err := t.recvTPKT()
	if err != nil {
		return fmt.Errorf("failed to receive COTP CC: %w", err)
	}
	if len(cc) < 2 {
		return fmt.Errorf("COTP CC too short")
	}
	if cc[1] != cotpCC {
		return fmt.Errorf("expected COTP CC (0x%02X), got 0x%02X", cotpCC, cc[1])
	}

	return nil
}
