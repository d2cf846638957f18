// Package xmodem implements the XModem file transfer protocol.
//
// XModem is a stop-and-wait, block-acknowledged file transfer protocol
// designed for use over serial connections. A transfer moves one file as a
// sequence of 128-byte blocks, each individually acknowledged, with
// integrity protected by an 8-bit checksum or by CRC16-CCITT. The receiver
// selects the check mode when it initiates the transfer: it announces with
// NAK for checksum mode or with 'C' for CRC mode.
//
// The package is designed as a library around a duplex byte channel. Any
// transport that supports read deadlines can carry a session; adapters for
// serial ports and SSH sessions are included.
package xmodem

// Protocol control bytes
const (
	// SOH begins every data block
	SOH = 0x01

	// EOT ends the transmission
	EOT = 0x04

	// ACK acknowledges a block or an EOT
	ACK = 0x06

	// NAK requests retransmission; also the checksum-mode start signal
	NAK = 0x15

	// CAN aborts the session unilaterally
	CAN = 0x18

	// WANTCRC is the CRC-mode start signal ('C')
	WANTCRC = 0x43

	// CPMEOF pads the final short block to BlockSize
	CPMEOF = 0x1A
)

// Protocol parameters
const (
	// BlockSize is the fixed payload size of every data block
	BlockSize = 128

	// MaxRetries bounds the attempts for the sender handshake and for
	// each block on either side
	MaxRetries = 10

	// StartAttempts bounds the receiver's start announcements. Together
	// with the per-read timeout this approximates a one minute ceiling
	// on waiting for the sender to appear.
	StartAttempts = 6
)

// Mode selects the integrity check for a session. It is negotiated once
// by the receiver's start byte and fixed for the rest of the session.
type Mode int

const (
	// ModeChecksum uses the 8-bit wraparound sum (1-byte trailer)
	ModeChecksum Mode = iota

	// ModeCRC16 uses CRC16-CCITT (2-byte trailer, high byte first)
	ModeCRC16
)

func (m Mode) String() string {
	switch m {
	case ModeChecksum:
		return "checksum"
	case ModeCRC16:
		return "crc16"
	default:
		return "unknown"
	}
}

// trailerSize returns the length of the check field for this mode.
func (m Mode) trailerSize() int {
	if m == ModeCRC16 {
		return 2
	}
	return 1
}

// startByte returns the announcement byte the receiver sends for this mode.
func (m Mode) startByte() byte {
	if m == ModeCRC16 {
		return WANTCRC
	}
	return NAK
}

// controlName returns a human-readable name for a control byte.
// Used for debugging and logging.
func controlName(b byte) string {
	switch b {
	case SOH:
		return "SOH"
	case EOT:
		return "EOT"
	case ACK:
		return "ACK"
	case NAK:
		return "NAK"
	case CAN:
		return "CAN"
	case WANTCRC:
		return "C"
	default:
		return "UNKNOWN"
	}
}
