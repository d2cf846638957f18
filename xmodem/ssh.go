package xmodem

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHSession wraps an SSH session for XModem transfers: the remote side
// runs an XModem program (rx/sx) and the local session speaks the
// protocol over the command's stdin/stdout pipes.
type SSHSession struct {
	*Session
	sshSession *ssh.Session
	stdin      io.WriteCloser
	stdout     io.Reader
	stderr     io.Reader
}

// NewSSHSession creates an XModem session from an SSH session.
func NewSSHSession(sshSession *ssh.Session, opts ...Option) (*SSHSession, error) {
	stdin, err := sshSession.StdinPipe()
	if err != nil {
		return nil, err
	}

	stdout, err := sshSession.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}

	stderr, err := sshSession.StderrPipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}

	reader := &sshReader{reader: stdout}
	session := NewSession(reader, stdin, opts...)

	return &SSHSession{
		Session:    session,
		sshSession: sshSession,
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
	}, nil
}

// sshReader wraps an io.Reader to implement ReaderWithTimeout.
type sshReader struct {
	reader io.Reader
}

func (r *sshReader) Read(p []byte) (int, error) {
	return r.reader.Read(p)
}

func (r *sshReader) SetReadDeadline(t time.Time) error {
	// SSH pipes don't support deadlines; reads block until the remote
	// command produces data or exits.
	return nil
}

// SendFile sends a local file to the remote path by starting a remote
// receiver (rx) and driving the sender side of the protocol.
func (s *SSHSession) SendFile(ctx context.Context, localPath, remotePath string) error {
	if err := s.sshSession.Start(fmt.Sprintf("rx %q", remotePath)); err != nil {
		return err
	}
	return s.finish(ctx, s.Session.SendFile(ctx, localPath))
}

// ReceiveFile fetches the remote path into a local file by starting a
// remote sender (sx) and driving the receiver side of the protocol.
func (s *SSHSession) ReceiveFile(ctx context.Context, remotePath, localPath string) error {
	if err := s.sshSession.Start(fmt.Sprintf("sx %q", remotePath)); err != nil {
		return err
	}
	return s.finish(ctx, s.Session.ReceiveFile(ctx, localPath))
}

// finish closes stdin to signal completion and waits for the remote
// command to exit.
func (s *SSHSession) finish(ctx context.Context, transferErr error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan error, 1)
	go func() {
		done <- s.sshSession.Wait()
	}()

	s.stdin.Close()

	select {
	case waitErr := <-done:
		if transferErr != nil {
			return transferErr
		}
		return waitErr
	case <-ctx.Done():
		if transferErr != nil {
			return transferErr
		}
		return ctx.Err()
	}
}

// Close closes the SSH session and cleans up resources.
func (s *SSHSession) Close() error {
	var errs []error

	if s.stdin != nil {
		if err := s.stdin.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if s.sshSession != nil {
		if err := s.sshSession.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errs[0] // Return first error
	}

	return nil
}

// Stderr returns the stderr reader for monitoring remote command output.
func (s *SSHSession) Stderr() io.Reader {
	return s.stderr
}
