package s7iso

import (
	"encoding/binary"
	"net"
	"testing"
	"time"
)

// writeTPKT frames data with a TPKT header and writes it to conn.
func writeTPKT(t *testing.T, conn net.Conn, data []byte) {
	t.Helper()
	length := len(data) + tpktHeaderSize
	header := []byte{tpktVersion, 0x00, byte(length >> 8), byte(length)}
	if _, err := conn.Write(append(header, data...)); err != nil {
		t.Fatalf("write TPKT: %v", err)
	}
}

func TestRecvPDUSingleFragment(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	tr := &Transport{conn: client}

	done := make(chan struct{})
	go func() {
		defer close(done)
		cotpHeader := []byte{0x02, cotpDT, eotBit}
		writeTPKT(t, server, append(cotpHeader, []byte{0xDE, 0xAD, 0xBE, 0xEF}...))
	}()

	pdu, err := tr.RecvPDU()
	if err != nil {
		t.Fatalf("RecvPDU: %v", err)
	}
	<-done

	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if string(pdu) != string(want) {
		t.Errorf("got % X, want % X", pdu, want)
	}
}

func TestRecvPDUMultiFragment(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	tr := &Transport{conn: client}

	done := make(chan struct{})
	go func() {
		defer close(done)
		writeTPKT(t, server, append([]byte{0x02, cotpDT, 0x00}, []byte{0x01, 0x02}...))
		writeTPKT(t, server, append([]byte{0x02, cotpDT, eotBit}, []byte{0x03, 0x04}...))
	}()

	pdu, err := tr.RecvPDU()
	if err != nil {
		t.Fatalf("RecvPDU: %v", err)
	}
	<-done

	want := []byte{0x01, 0x02, 0x03, 0x04}
	if string(pdu) != string(want) {
		t.Errorf("got % X, want % X", pdu, want)
	}
}

func TestRecvPDUTooManyFragments(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	tr := &Transport{conn: client}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < MaxFragments+1; i++ {
			writeTPKT(t, server, []byte{0x02, cotpDT, 0x00, byte(i)})
		}
	}()
	defer func() {
		server.SetWriteDeadline(time.Now())
		<-done
	}()

	_, err := tr.RecvPDU()
	if err != ErrTooManyFragments {
		t.Errorf("got error %v, want ErrTooManyFragments", err)
	}
}

func TestSendPDUFraming(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	tr := &Transport{conn: client}

	done := make(chan []byte)
	go func() {
		header := make([]byte, 4)
		server.Read(header)
		length := binary.BigEndian.Uint16(header[2:4])
		payload := make([]byte, int(length)-4)
		server.Read(payload)
		done <- payload
	}()

	if err := tr.SendPDU([]byte{0x32, 0x01}); err != nil {
		t.Fatalf("SendPDU: %v", err)
	}

	payload := <-done
	if payload[0] != 0x02 || payload[1] != cotpDT || payload[2] != eotBit {
		t.Errorf("unexpected COTP header: % X", payload[:3])
	}
	if string(payload[3:]) != string([]byte{0x32, 0x01}) {
		t.Errorf("unexpected S7 payload: % X", payload[3:])
	}
}
