package xmodem

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Receiver drives the inbound side of a transfer: announce the desired
// mode, validate each incoming block, acknowledge duplicates without
// re-appending them, and finish on EOT.
type Receiver struct {
	// I/O
	io *channelIO

	// Configuration
	mode          Mode
	maxRetries    int
	startAttempts int
	callbacks     *Callbacks
	logger        Logger

	// State
	expected      byte
	bytesReceived int64
}

// ReceiverConfig holds configuration for a receiver.
type ReceiverConfig struct {
	// UseCRC requests CRC16 mode; the announcement byte becomes 'C'
	// instead of NAK.
	UseCRC bool

	// Timeout bounds every single read from the channel.
	Timeout time.Duration

	// MaxRetries bounds the recoverable-error budget between accepted
	// blocks. Every recoverable branch counts against it, so a
	// persistently corrupt channel cannot loop forever.
	MaxRetries int

	// StartAttempts bounds the mode announcements while waiting for the
	// sender to appear.
	StartAttempts int

	Context   context.Context
	Logger    Logger
	Callbacks *Callbacks
}

// DefaultReceiverConfig returns a default receiver configuration.
func DefaultReceiverConfig() *ReceiverConfig {
	return &ReceiverConfig{
		UseCRC:        false,
		Timeout:       10 * time.Second,
		MaxRetries:    MaxRetries,
		StartAttempts: StartAttempts,
		Context:       context.Background(),
	}
}

// NewReceiver creates a new XModem receiver over the given channel.
func NewReceiver(reader ReaderWithTimeout, writer io.Writer, config *ReceiverConfig) *Receiver {
	if config == nil {
		config = DefaultReceiverConfig()
	}
	maxRetries := config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = MaxRetries
	}
	startAttempts := config.StartAttempts
	if startAttempts <= 0 {
		startAttempts = StartAttempts
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = NoopLogger{}
	}

	mode := ModeChecksum
	if config.UseCRC {
		mode = ModeCRC16
	}

	return &Receiver{
		io:            newChannelIO(reader, writer, timeout, config.Context),
		mode:          mode,
		maxRetries:    maxRetries,
		startAttempts: startAttempts,
		callbacks:     mergeCallbacks(config.Callbacks),
		logger:        logger,
		expected:      1,
	}
}

// Receive runs the inbound state machine, appending every accepted
// payload to out. Padding bytes in the final block are preserved: the
// output is the padded stream exactly as sent. On failure, out may hold a
// prefix of the transfer up to the last accepted block.
func (r *Receiver) Receive(out io.Writer) error {
	done, err := r.announceStart()
	if err != nil {
		r.callbacks.OnError(err, "start")
		return err
	}
	if done {
		// Empty transfer: EOT arrived in place of the first block.
		r.callbacks.OnTransferComplete(0)
		return nil
	}

	r.callbacks.OnTransferStart(r.mode)

	// A SOH is in hand on entry to each iteration. The retry counter
	// accumulates across every recoverable branch and resets only when a
	// block is accepted or recognized as a duplicate.
	retries := 0
	for {
		reply, accepted, err := r.readBlock(out)
		if err != nil {
			r.callbacks.OnError(err, fmt.Sprintf("block %d", r.expected))
			return err
		}

		if accepted {
			retries = 0
		} else {
			retries++
			r.callbacks.OnRetry(r.expected, retries, NewError(ErrIntegrity, "block rejected"))
			if retries > r.maxRetries {
				err := NewError(ErrRetriesExhausted, fmt.Sprintf("block %d still invalid after %d retries", r.expected, r.maxRetries))
				r.callbacks.OnError(err, "receive")
				return err
			}
		}

		if err := r.io.writeByte(reply); err != nil {
			return err
		}

		done, err := r.nextHeader(&retries)
		if err != nil {
			r.callbacks.OnError(err, "next header")
			return err
		}
		if done {
			r.callbacks.OnTransferComplete(r.bytesReceived)
			return nil
		}
	}
}

// announceStart sends the mode byte and waits for the sender's first
// control byte. Returns done=true when the very first byte is an EOT
// (the empty-file case).
func (r *Receiver) announceStart() (done bool, err error) {
	start := r.mode.startByte()
	r.logger.Info("announcing %s mode with %s", r.mode, controlName(start))

	for attempt := 1; attempt <= r.startAttempts; attempt++ {
		if err := r.io.writeByte(start); err != nil {
			return false, err
		}

		b, err := r.io.readByte()
		if err != nil {
			if IsTimeout(err) {
				r.logger.Debug("start announcement timeout, attempt %d/%d", attempt, r.startAttempts)
				continue
			}
			return false, err
		}

		switch b {
		case SOH:
			r.logger.Info("got SOH, receiving blocks")
			return false, nil
		case EOT:
			r.logger.Info("got EOT before any block (empty transfer)")
			return true, r.io.writeByte(ACK)
		case CAN:
			return false, NewError(ErrCancelled, "sender cancelled before start")
		default:
			r.logger.Debug("ignoring byte 0x%02x while announcing", b)
		}
	}

	return false, NewError(ErrHandshake, "sender did not start transfer")
}

// readBlock reads and validates one block body (SOH already consumed).
// It returns the reply byte to send and whether the block advanced the
// transfer (accepted or duplicate). Errors are fatal only: recoverable
// conditions are expressed through the reply byte.
//
// The mode byte, not NAK, re-requests transmission when the header or
// payload could not be read at all; NAK answers integrity and sequencing
// failures.
func (r *Receiver) readBlock(out io.Writer) (reply byte, accepted bool, err error) {
	body := make([]byte, packetLength(r.mode)-1)
	header := body[:2]
	payload := body[2 : 2+BlockSize]
	trailer := body[2+BlockSize:]

	if err := r.io.readFull(header); err != nil {
		if IsTimeout(err) {
			r.logger.Debug("short read on block header")
			return r.mode.startByte(), false, nil
		}
		return 0, false, err
	}

	if err := r.io.readFull(payload); err != nil {
		if IsTimeout(err) {
			r.logger.Debug("short read on block %d payload", header[0])
			return r.mode.startByte(), false, nil
		}
		return 0, false, err
	}

	if err := r.io.readFull(trailer); err != nil {
		if IsTimeout(err) {
			r.logger.Debug("short read on block %d trailer", header[0])
			return NAK, false, nil
		}
		return 0, false, err
	}

	p, err := decodePacket(r.mode, body)
	if err != nil {
		return 0, false, NewError(ErrProtocol, err.Error())
	}

	if !p.headerValid() {
		r.logger.Debug("block number %d and complement %d disagree", p.blockNumber, p.complement)
		return r.mode.startByte(), false, nil
	}

	if !p.checkValid(r.mode) {
		r.logger.Debug("%s mismatch on block %d", r.mode, p.blockNumber)
		return NAK, false, nil
	}

	switch {
	case p.blockNumber == r.expected-1 && r.expected > 1:
		// Retransmission of the last accepted block: acknowledge again
		// but do not re-append.
		r.logger.Debug("duplicate block %d, acknowledging without writing", p.blockNumber)
		return ACK, true, nil

	case p.blockNumber == r.expected:
		if _, err := out.Write(p.payload); err != nil {
			return 0, false, NewError(ErrIO, fmt.Sprintf("writing output: %v", err))
		}
		r.logger.Debug("block %d accepted", p.blockNumber)
		r.expected++ // truncates mod 256 past block 255
		r.bytesReceived += BlockSize
		r.callbacks.OnProgress(r.bytesReceived)
		return ACK, true, nil

	default:
		r.logger.Debug("out-of-sequence block %d, expected %d", p.blockNumber, r.expected)
		return NAK, false, nil
	}
}

// nextHeader reads control bytes until the next SOH or a final EOT,
// NAKing anything else. Each rejected byte or timeout counts against the
// shared retry budget.
func (r *Receiver) nextHeader(retries *int) (done bool, err error) {
	for {
		b, err := r.io.readByte()
		if err != nil {
			if !IsTimeout(err) {
				return false, err
			}
			r.logger.Debug("timeout waiting for next header")
		} else {
			switch b {
			case SOH:
				return false, nil
			case EOT:
				r.logger.Info("got EOT, transfer complete")
				return true, r.io.writeByte(ACK)
			case CAN:
				return false, NewError(ErrCancelled, "sender cancelled transfer")
			default:
				r.logger.Debug("unexpected control byte 0x%02x, expected SOH or EOT", b)
			}
		}

		*retries++
		if *retries > r.maxRetries {
			return false, NewError(ErrRetriesExhausted, fmt.Sprintf("no valid header after %d retries", r.maxRetries))
		}
		if err := r.io.writeByte(NAK); err != nil {
			return false, err
		}
	}
}
