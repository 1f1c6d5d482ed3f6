package s7

import (
	"errors"
	"testing"

	"s7link/s7addr"
)

func TestConnStateString(t *testing.T) {
	cases := map[ConnState]string{
		Disconnected: "disconnected",
		TCPConnected: "tcp-connected",
		ISOConnected: "iso-connected",
		Negotiated:   "negotiated",
		ConnState(99): "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("ConnState(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}

func TestExchangeWithoutTransport(t *testing.T) {
	c := &Client{}
	_, err := c.exchange([]byte{0x32, 0x01})
	if err == nil {
		t.Fatal("expected error when not connected")
	}
	var te TransportError
	if !errors.As(err, &te) {
		t.Errorf("expected TransportError, got %T: %v", err, err)
	}
}

func TestCloseNilTransport(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close on never-connected client: %v", err)
	}
	if c.State() != Disconnected {
		t.Errorf("state after close = %v, want Disconnected", c.State())
	}
}

func TestIsConnectedReflectsState(t *testing.T) {
	c := &Client{}
	if c.IsConnected() {
		t.Error("new client should not report connected")
	}
	c.state = Negotiated
	if !c.IsConnected() {
		t.Error("client in Negotiated state should report connected")
	}
}

func TestAddressForDerivesTypeAndSize(t *testing.T) {
	addr, err := addressFor(s7addr.AreaM, 0, 10, s7addr.WordLenDWord, 1)
	if err != nil {
		t.Fatalf("addressFor: %v", err)
	}
	if addr.Area != s7addr.AreaM || addr.Offset != 10 {
		t.Fatalf("unexpected address: %+v", addr)
	}
	if addr.DataType != s7addr.TypeDWord || addr.Size != 4 {
		t.Errorf("unexpected type/size: %+v", addr)
	}

	// start=85 is a bit offset (byte 10, bit 5), matching spec's worked
	// example encode_address(M, 0, 85, BIT, 1) -> wire bit offset 0x55.
	bitAddr, err := addressFor(s7addr.AreaM, 0, 85, s7addr.WordLenBit, 1)
	if err != nil {
		t.Fatalf("addressFor: %v", err)
	}
	if bitAddr.Offset != 10 || bitAddr.BitNum != 5 || bitAddr.DataType != s7addr.TypeBool {
		t.Errorf("unexpected bit address: %+v", bitAddr)
	}
	spec := s7addr.EncodeS7Any(bitAddr)
	if gotBitOffset := int(spec[9])<<16 | int(spec[10])<<8 | int(spec[11]); gotBitOffset != 85 {
		t.Errorf("wire bit offset = %d, want 85", gotBitOffset)
	}
}

func TestAddressForRejectsUnknownWordLen(t *testing.T) {
	if _, err := addressFor(s7addr.AreaM, 0, 0, s7addr.WordLen(0xFE), 1); err == nil {
		t.Fatal("expected InvalidWordLenError for unrecognized WordLen")
	} else if _, ok := err.(InvalidWordLenError); !ok {
		t.Errorf("expected InvalidWordLenError, got %T: %v", err, err)
	}
}

func TestGetCPUStateNotConnected(t *testing.T) {
	c := &Client{}
	_, err := c.GetCPUState()
	if err == nil {
		t.Fatal("expected error when not connected")
	}
}
