package xmodem

import "fmt"

// packet is the parsed body of a data frame (everything after SOH).
type packet struct {
	blockNumber byte
	complement  byte
	payload     []byte
	trailer     uint16
}

// packetLength returns the wire length of a full data frame in the given
// mode, including the SOH control byte.
func packetLength(mode Mode) int {
	return 3 + BlockSize + mode.trailerSize()
}

// encodePacket builds the wire frame for one block:
// SOH, blockNumber, 255-blockNumber, payload, trailer.
// The payload must be exactly BlockSize bytes; callers pad short final
// chunks with CPMEOF before encoding.
func encodePacket(mode Mode, blockNumber byte, payload []byte) []byte {
	if len(payload) != BlockSize {
		panic(fmt.Sprintf("xmodem: encodePacket payload length %d", len(payload)))
	}

	frame := make([]byte, 0, packetLength(mode))
	frame = append(frame, SOH, blockNumber, 255-blockNumber)
	frame = append(frame, payload...)

	if mode == ModeCRC16 {
		crc := CRC16(payload)
		frame = append(frame, byte(crc>>8), byte(crc))
	} else {
		frame = append(frame, Checksum8(payload))
	}
	return frame
}

// decodePacket parses a frame body (everything after SOH) into its parts.
// This is a structural parse only: the complement and the check value are
// NOT validated here, because an invalid frame must still produce a NAK
// from the receiver rather than a decode failure. The only error is a
// body of the wrong length.
func decodePacket(mode Mode, body []byte) (packet, error) {
	want := packetLength(mode) - 1
	if len(body) != want {
		return packet{}, fmt.Errorf("xmodem: frame body length %d, want %d", len(body), want)
	}

	p := packet{
		blockNumber: body[0],
		complement:  body[1],
		payload:     body[2 : 2+BlockSize],
	}
	if mode == ModeCRC16 {
		p.trailer = uint16(body[2+BlockSize])<<8 | uint16(body[3+BlockSize])
	} else {
		p.trailer = uint16(body[2+BlockSize])
	}
	return p, nil
}

// headerValid reports whether the block number and its complement agree:
// blockNumber + complement == 255 in mod-256 arithmetic.
func (p packet) headerValid() bool {
	return p.blockNumber+p.complement == 0xFF
}

// checkValid reports whether the trailer matches the payload under the
// session mode.
func (p packet) checkValid(mode Mode) bool {
	if mode == ModeCRC16 {
		return p.trailer == CRC16(p.payload)
	}
	return p.trailer == uint16(Checksum8(p.payload))
}

// padBlock copies chunk into a full BlockSize payload, filling the
// remainder with CPMEOF. Padding is a sender-side convention; the receiver
// reproduces the padded stream byte for byte.
func padBlock(chunk []byte) []byte {
	padded := make([]byte, BlockSize)
	n := copy(padded, chunk)
	for i := n; i < BlockSize; i++ {
		padded[i] = CPMEOF
	}
	return padded
}
