package xmodem

import (
	"context"
	"io"
	"os"
	"time"
)

// ReaderWithTimeout is an interface for reading with timeout support.
// It extends io.Reader with timeout capabilities. net.Conn satisfies it
// directly; adapters for transports without deadline support may make
// SetReadDeadline a no-op, in which case reads block indefinitely.
type ReaderWithTimeout interface {
	io.Reader
	SetReadDeadline(time.Time) error
}

// channelIO provides deadline-bounded byte I/O over the duplex channel.
// Every read blocks for at most one fixed timeout; expiry is reported as
// an ErrTimeout which the engines treat as a retry signal.
type channelIO struct {
	reader  ReaderWithTimeout
	writer  io.Writer
	timeout time.Duration
	ctx     context.Context
}

func newChannelIO(reader ReaderWithTimeout, writer io.Writer, timeout time.Duration, ctx context.Context) *channelIO {
	if ctx == nil {
		ctx = context.Background()
	}
	return &channelIO{
		reader:  reader,
		writer:  writer,
		timeout: timeout,
		ctx:     ctx,
	}
}

// readByte reads a single byte, waiting at most one timeout.
func (c *channelIO) readByte() (byte, error) {
	var buf [1]byte
	if err := c.readFull(buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// readFull reads exactly len(buf) bytes under a single deadline. A short
// read, a deadline expiry, a zero-byte read (the serial timeout
// convention), and EOF are all reported as ErrTimeout.
func (c *channelIO) readFull(buf []byte) error {
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
	}

	if c.timeout > 0 {
		if err := c.reader.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return NewError(ErrIO, err.Error())
		}
	}

	total := 0
	for total < len(buf) {
		n, err := c.reader.Read(buf[total:])
		total += n
		if err != nil {
			if err == io.EOF || os.IsTimeout(err) {
				return NewError(ErrTimeout, "no data within timeout")
			}
			return NewError(ErrIO, err.Error())
		}
		if n == 0 {
			return NewError(ErrTimeout, "no data within timeout")
		}
	}
	return nil
}

func (c *channelIO) write(p []byte) error {
	if _, err := c.writer.Write(p); err != nil {
		return NewError(ErrIO, err.Error())
	}
	return nil
}

func (c *channelIO) writeByte(b byte) error {
	return c.write([]byte{b})
}
