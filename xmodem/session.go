package xmodem

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Session represents an XModem transfer session over a duplex channel.
// It provides a high-level API for sending and receiving files. A session
// owns its channel for the duration of one transfer; no state survives
// into the next session.
type Session struct {
	// I/O
	reader ReaderWithTimeout
	writer io.Writer

	// Configuration
	config *Config

	// Callbacks
	callbacks *Callbacks

	// Context
	ctx context.Context

	// Logger
	logger Logger

	// Progress reporting
	progress         func(filename string, transferred, total int64, rate float64)
	progressInterval time.Duration
}

// Config holds session configuration.
type Config struct {
	// UseCRC selects CRC16 mode when this side receives. Ignored when
	// sending: the sender adopts whichever mode the receiver announces.
	UseCRC bool

	// Timeout bounds every single channel read.
	Timeout time.Duration

	// MaxRetries bounds the handshake and each block's attempts.
	MaxRetries int

	// StartAttempts bounds the receiver's mode announcements.
	StartAttempts int

	// ProgressInterval damps progress callback frequency.
	ProgressInterval time.Duration
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		UseCRC:           false,
		Timeout:          10 * time.Second,
		MaxRetries:       MaxRetries,
		StartAttempts:    StartAttempts,
		ProgressInterval: 100 * time.Millisecond,
	}
}

// Option configures a Session.
type Option func(*Session)

// WithConfig sets the session configuration.
func WithConfig(config *Config) Option {
	return func(s *Session) {
		s.config = config
	}
}

// WithCallbacks sets the session callbacks.
func WithCallbacks(callbacks *Callbacks) Option {
	return func(s *Session) {
		s.callbacks = mergeCallbacks(callbacks)
	}
}

// WithContext sets the session context.
func WithContext(ctx context.Context) Option {
	return func(s *Session) {
		s.ctx = ctx
	}
}

// WithLogger sets a logger for protocol debugging.
func WithLogger(logger Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithProgress sets a rate-reporting progress callback, invoked at most
// once per the configured progress interval.
func WithProgress(fn func(filename string, transferred, total int64, rate float64)) Option {
	return func(s *Session) {
		s.progress = fn
	}
}

// NewSession creates a new XModem session over the given channel.
func NewSession(reader ReaderWithTimeout, writer io.Writer, opts ...Option) *Session {
	s := &Session{
		reader:    reader,
		writer:    writer,
		config:    DefaultConfig(),
		callbacks: defaultCallbacks(),
		ctx:       context.Background(),
		logger:    NoopLogger{},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.progressInterval = s.config.ProgressInterval
	return s
}

// Send transmits the contents of file over the session.
func (s *Session) Send(ctx context.Context, file io.Reader) error {
	sender := NewSender(s.reader, s.writer, &SenderConfig{
		Timeout:    s.config.Timeout,
		MaxRetries: s.config.MaxRetries,
		Context:    s.sessionContext(ctx),
		Logger:     s.logger,
		Callbacks:  s.callbacks,
	})
	return sender.Send(file)
}

// Receive runs the session as receiver, appending the transferred stream
// to out. The output includes any CPMEOF padding the sender added to the
// final block.
func (s *Session) Receive(ctx context.Context, out io.Writer) error {
	receiver := NewReceiver(s.reader, s.writer, &ReceiverConfig{
		UseCRC:        s.config.UseCRC,
		Timeout:       s.config.Timeout,
		MaxRetries:    s.config.MaxRetries,
		StartAttempts: s.config.StartAttempts,
		Context:       s.sessionContext(ctx),
		Logger:        s.logger,
		Callbacks:     s.callbacks,
	})
	return receiver.Receive(out)
}

// SendFile opens the named file and sends it over the session, reporting
// progress against the padded on-the-wire size.
func (s *Session) SendFile(ctx context.Context, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		serr := NewError(ErrIO, err.Error())
		s.callbacks.OnError(serr, "open input file")
		return serr
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		serr := NewError(ErrIO, err.Error())
		s.callbacks.OnError(serr, "stat input file")
		return serr
	}

	total := paddedSize(info.Size())
	tracker, restore := s.trackProgress(filepath.Base(filename), total)
	defer restore()

	s.logger.Info("sending %s (%d bytes, %d on the wire)", filename, info.Size(), total)
	if err := s.Send(ctx, file); err != nil {
		return err
	}
	tracker.Complete()
	return nil
}

// ReceiveFile receives a file over the session into the named path. On
// failure the file may hold a partial transfer.
func (s *Session) ReceiveFile(ctx context.Context, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		serr := NewError(ErrIO, err.Error())
		s.callbacks.OnError(serr, "create output file")
		return serr
	}
	defer file.Close()

	tracker, restore := s.trackProgress(filepath.Base(filename), 0)
	defer restore()

	s.logger.Info("receiving into %s", filename)
	if err := s.Receive(ctx, file); err != nil {
		return err
	}
	tracker.Complete()
	return file.Close()
}

// trackProgress splices a ProgressTracker into the session callbacks for
// the duration of one transfer. The returned restore func undoes it.
func (s *Session) trackProgress(filename string, total int64) (*ProgressTracker, func()) {
	tracker := NewProgressTracker(s.progress, s.progressInterval)
	tracker.Start(filename, total)

	old := s.callbacks
	inner := old.OnProgress
	merged := *old
	merged.OnProgress = func(bytesTransferred int64) {
		tracker.Update(bytesTransferred)
		inner(bytesTransferred)
	}
	s.callbacks = &merged

	return tracker, func() { s.callbacks = old }
}

func (s *Session) sessionContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return s.ctx
}

// paddedSize returns size rounded up to a whole number of blocks, which
// is what actually crosses the wire.
func paddedSize(size int64) int64 {
	blocks := (size + BlockSize - 1) / BlockSize
	return blocks * BlockSize
}
