package xmodem

import (
	"bytes"
	"testing"
)

func TestChecksum8KnownVectors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want byte
	}{
		{"all zeros", make([]byte, BlockSize), 0x00},
		{"all ones", bytes.Repeat([]byte{0x01}, BlockSize), 0x80},
		{"all 0xFF", bytes.Repeat([]byte{0xFF}, BlockSize), 0x80}, // 128*255 = 0x7F80
		{"small sum", []byte{1, 2, 3}, 6},
		{"wraparound", []byte{0x80, 0x80, 0x01}, 0x01},
		{"padding bytes", bytes.Repeat([]byte{CPMEOF}, 4), 0x68},
	}

	for _, tt := range tests {
		if got := Checksum8(tt.data); got != tt.want {
			t.Errorf("%s: Checksum8 = 0x%02x, want 0x%02x", tt.name, got, tt.want)
		}
	}
}

func TestCRC16KnownVector(t *testing.T) {
	// Standard CRC-16/XMODEM check value: "123456789" -> 0x31C3
	if got := CRC16([]byte("123456789")); got != 0x31C3 {
		t.Errorf("CRC16(\"123456789\") = 0x%04x, want 0x31C3", got)
	}
}

func TestCRC16Zeros(t *testing.T) {
	// With init 0 and no final XOR, any run of zero bytes stays at 0.
	if got := CRC16(make([]byte, BlockSize)); got != 0 {
		t.Errorf("CRC16 of 128 zero bytes = 0x%04x, want 0", got)
	}
	if got := CRC16(nil); got != 0 {
		t.Errorf("CRC16 of empty data = 0x%04x, want 0", got)
	}
}

// crc16Bitwise is the straightforward shift-and-xor rendition of the same
// polynomial, used to cross-check the lookup table entry by entry.
func crc16Bitwise(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func TestCRC16TableMatchesBitwise(t *testing.T) {
	block := make([]byte, BlockSize)
	seed := byte(0xA5)
	for i := range block {
		seed = seed*31 + 7
		block[i] = seed
	}

	if got, want := CRC16(block), crc16Bitwise(block); got != want {
		t.Errorf("table-driven CRC16 = 0x%04x, bitwise reference = 0x%04x", got, want)
	}

	// Single-byte inputs exercise every table entry directly.
	for i := 0; i < 256; i++ {
		b := []byte{byte(i)}
		if got, want := CRC16(b), crc16Bitwise(b); got != want {
			t.Fatalf("table entry mismatch for byte 0x%02x: 0x%04x != 0x%04x", i, got, want)
		}
	}
}
