package s7codec

import "testing"

func TestUintRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		put  func([]byte, int) error
		get  func([]byte, int) (uint64, error)
		want uint64
		size int
	}{
		{
			name: "uint16",
			put:  func(b []byte, o int) error { return PutUint16(b, o, 0xBEEF) },
			get:  func(b []byte, o int) (uint64, error) { v, err := GetUint16(b, o); return uint64(v), err },
			want: 0xBEEF,
			size: 2,
		},
		{
			name: "uint32",
			put:  func(b []byte, o int) error { return PutUint32(b, o, 0xDEADBEEF) },
			get:  func(b []byte, o int) (uint64, error) { v, err := GetUint32(b, o); return uint64(v), err },
			want: 0xDEADBEEF,
			size: 4,
		},
		{
			name: "uint64",
			put:  func(b []byte, o int) error { return PutUint64(b, o, 0x0102030405060708) },
			get:  func(b []byte, o int) (uint64, error) { return GetUint64(b, o) },
			want: 0x0102030405060708,
			size: 8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, tt.size)
			if err := tt.put(buf, 0); err != nil {
				t.Fatalf("put: %v", err)
			}
			got, err := tt.get(buf, 0)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestShortBuffer(t *testing.T) {
	buf := make([]byte, 1)
	if _, err := GetUint16(buf, 0); err == nil {
		t.Error("expected error reading uint16 from 1-byte buffer")
	}
	if err := PutUint16(buf, 0, 1); err == nil {
		t.Error("expected error writing uint16 to 1-byte buffer")
	}
}

func TestFloat32RoundTrip(t *testing.T) {
	buf := make([]byte, 4)
	if err := PutFloat32(buf, 0, 3.14159); err != nil {
		t.Fatalf("PutFloat32: %v", err)
	}
	got, err := GetFloat32(buf, 0)
	if err != nil {
		t.Fatalf("GetFloat32: %v", err)
	}
	if got != float32(3.14159) {
		t.Errorf("got %v, want %v", got, float32(3.14159))
	}
	// Siemens REAL is big-endian: sign+exponent byte comes first.
	if buf[0] != 0x40 {
		t.Errorf("expected big-endian REAL leading byte 0x40, got %#02x", buf[0])
	}
}

func TestBitOps(t *testing.T) {
	var b byte = 0
	b = SetBit(b, 3, true)
	if !GetBit(b, 3) {
		t.Error("bit 3 should be set")
	}
	if GetBit(b, 2) {
		t.Error("bit 2 should not be set")
	}
	b = SetBit(b, 3, false)
	if GetBit(b, 3) {
		t.Error("bit 3 should be cleared")
	}
}

func TestStringRoundTrip(t *testing.T) {
	buf := make([]byte, 18) // capacity 16 + 2 header bytes
	buf[0] = 16
	if err := PutString(buf, 0, "hello"); err != nil {
		t.Fatalf("PutString: %v", err)
	}
	got, err := GetString(buf, 0)
	if err != nil {
		t.Fatalf("GetString: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
	// remainder of capacity should be space-padded
	if buf[2+5] != ' ' {
		t.Errorf("expected space padding after payload, got %#02x", buf[2+5])
	}
}

func TestStringCapacityExceeded(t *testing.T) {
	buf := make([]byte, 6)
	buf[0] = 4
	if err := PutString(buf, 0, "toolong"); err == nil {
		t.Error("expected error for string exceeding declared capacity")
	}
}
