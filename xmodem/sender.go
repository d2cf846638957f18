package xmodem

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Sender drives the outbound side of a transfer: wait for the receiver's
// start signal, send each 128-byte block until it is acknowledged, then
// close the session with EOT.
type Sender struct {
	// I/O
	io *channelIO

	// Configuration
	maxRetries int
	callbacks  *Callbacks
	logger     Logger

	// State
	mode      Mode
	bytesSent int64
}

// SenderConfig holds configuration for a sender.
type SenderConfig struct {
	// Timeout bounds every single read from the channel. There is no
	// escalation or backoff; each retry reuses the same timeout.
	Timeout time.Duration

	// MaxRetries bounds the handshake wait and each block's attempts.
	MaxRetries int

	Context   context.Context
	Logger    Logger
	Callbacks *Callbacks
}

// DefaultSenderConfig returns a default sender configuration.
func DefaultSenderConfig() *SenderConfig {
	return &SenderConfig{
		Timeout:    10 * time.Second,
		MaxRetries: MaxRetries,
		Context:    context.Background(),
	}
}

// NewSender creates a new XModem sender over the given channel.
func NewSender(reader ReaderWithTimeout, writer io.Writer, config *SenderConfig) *Sender {
	if config == nil {
		config = DefaultSenderConfig()
	}
	maxRetries := config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = MaxRetries
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = NoopLogger{}
	}

	return &Sender{
		io:         newChannelIO(reader, writer, timeout, config.Context),
		maxRetries: maxRetries,
		callbacks:  mergeCallbacks(config.Callbacks),
		logger:     logger,
	}
}

// Mode returns the integrity mode negotiated during the handshake.
// Valid after Send returns nil.
func (s *Sender) Mode() Mode {
	return s.mode
}

// Send transmits the contents of file over the channel. The final short
// chunk is padded with CPMEOF; a zero-length file produces an immediate
// EOT after the handshake.
func (s *Sender) Send(file io.Reader) error {
	mode, err := s.waitForStart()
	if err != nil {
		s.callbacks.OnError(err, "handshake")
		return err
	}
	s.mode = mode
	s.callbacks.OnTransferStart(mode)

	blockNumber := byte(1)
	chunk := make([]byte, BlockSize)
	for {
		n, err := io.ReadFull(file, chunk)
		if err == io.EOF {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			rerr := NewError(ErrIO, fmt.Sprintf("reading input: %v", err))
			s.callbacks.OnError(rerr, "read input")
			return rerr
		}

		frame := encodePacket(mode, blockNumber, padBlock(chunk[:n]))
		if err := s.sendBlock(blockNumber, frame); err != nil {
			s.callbacks.OnError(err, fmt.Sprintf("block %d", blockNumber))
			return err
		}

		s.bytesSent += BlockSize
		s.callbacks.OnProgress(s.bytesSent)
		blockNumber++ // truncates mod 256 past block 255
	}

	if err := s.sendEOT(); err != nil {
		s.callbacks.OnError(err, "EOT")
		return err
	}
	s.callbacks.OnTransferComplete(s.bytesSent)
	return nil
}

// waitForStart waits for the receiver to announce the session mode:
// NAK selects checksum mode, 'C' selects CRC mode. Other bytes are
// ignored; only timeouts consume attempts.
func (s *Sender) waitForStart() (Mode, error) {
	s.logger.Info("waiting for start signal (NAK or C)")

	for attempts := 0; attempts < s.maxRetries; {
		b, err := s.io.readByte()
		if err != nil {
			if IsTimeout(err) {
				attempts++
				s.logger.Debug("start wait timeout, attempt %d/%d", attempts, s.maxRetries)
				continue
			}
			return 0, err
		}

		switch b {
		case NAK:
			s.logger.Info("got NAK, sending in checksum mode")
			return ModeChecksum, nil
		case WANTCRC:
			s.logger.Info("got C, sending in CRC mode")
			return ModeCRC16, nil
		case CAN:
			return 0, NewError(ErrCancelled, "receiver cancelled before start")
		default:
			s.logger.Debug("ignoring byte 0x%02x during start wait", b)
		}
	}

	return 0, NewError(ErrHandshake, "receiver did not initiate transfer")
}

// sendBlock writes one encoded frame and waits for ACK, retrying the same
// bytes on NAK, timeout, or garbage, up to the retry budget.
func (s *Sender) sendBlock(blockNumber byte, frame []byte) error {
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		s.logger.Debug("sending block %d (%s, attempt %d)", blockNumber, s.mode, attempt)
		if err := s.io.write(frame); err != nil {
			return err
		}

		b, err := s.io.readByte()
		if err != nil {
			if IsTimeout(err) {
				s.logger.Debug("no response for block %d", blockNumber)
				s.callbacks.OnRetry(blockNumber, attempt, err)
				continue
			}
			return err
		}

		switch b {
		case ACK:
			s.logger.Debug("block %d accepted", blockNumber)
			return nil
		case NAK:
			s.logger.Debug("block %d rejected (NAK)", blockNumber)
			s.callbacks.OnRetry(blockNumber, attempt, NewError(ErrIntegrity, "receiver sent NAK"))
		case CAN:
			return NewError(ErrCancelled, "receiver cancelled transfer")
		default:
			s.logger.Debug("unexpected response 0x%02x for block %d", b, blockNumber)
			s.callbacks.OnRetry(blockNumber, attempt, NewError(ErrProtocol, fmt.Sprintf("unexpected response %s", controlName(b))))
		}
	}

	return NewError(ErrRetriesExhausted, fmt.Sprintf("block %d not acknowledged after %d attempts", blockNumber, s.maxRetries))
}

// sendEOT closes the transfer, retrying until the receiver acknowledges.
func (s *Sender) sendEOT() error {
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		s.logger.Debug("sending EOT (attempt %d)", attempt)
		if err := s.io.writeByte(EOT); err != nil {
			return err
		}

		b, err := s.io.readByte()
		if err != nil {
			if IsTimeout(err) {
				continue
			}
			return err
		}

		switch b {
		case ACK:
			s.logger.Info("EOT acknowledged, transfer complete")
			return nil
		case CAN:
			return NewError(ErrCancelled, "receiver cancelled at EOT")
		default:
			s.logger.Debug("unexpected response 0x%02x to EOT", b)
		}
	}

	return NewError(ErrRetriesExhausted, fmt.Sprintf("EOT not acknowledged after %d attempts", s.maxRetries))
}
