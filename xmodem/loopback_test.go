package xmodem

import (
	"bytes"
	"io"
	"os"
	"sync"
	"testing"
	"time"
)

// chanReader adapts a byte channel to ReaderWithTimeout. A zero deadline
// blocks until data or close; close reads as io.EOF.
type chanReader struct {
	ch chan byte

	mu       sync.Mutex
	deadline time.Time
}

func (r *chanReader) SetReadDeadline(t time.Time) error {
	r.mu.Lock()
	r.deadline = t
	r.mu.Unlock()
	return nil
}

func (r *chanReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	r.mu.Lock()
	deadline := r.deadline
	r.mu.Unlock()

	if deadline.IsZero() {
		b, ok := <-r.ch
		if !ok {
			return 0, io.EOF
		}
		p[0] = b
		return 1, nil
	}

	wait := time.Until(deadline)
	if wait <= 0 {
		return 0, os.ErrDeadlineExceeded
	}
	select {
	case b, ok := <-r.ch:
		if !ok {
			return 0, io.EOF
		}
		p[0] = b
		return 1, nil
	case <-time.After(wait):
		return 0, os.ErrDeadlineExceeded
	}
}

// chanWriter feeds each written byte into a channel.
type chanWriter struct {
	ch chan byte
}

func (w *chanWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		w.ch <- b
	}
	return len(p), nil
}

// recordingWriter remembers everything written through it.
type recordingWriter struct {
	inner io.Writer
	bytes []byte
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.bytes = append(w.bytes, p...)
	return w.inner.Write(p)
}

// testLink wires a sender end and a receiver end through two in-memory
// byte channels, recording the receiver's control bytes.
type testLink struct {
	senderIn  *chanReader
	senderOut *chanWriter

	receiverIn  *chanReader
	receiverOut *recordingWriter
}

func newTestLink() *testLink {
	toSender := make(chan byte, 4096)
	toReceiver := make(chan byte, 4096)

	return &testLink{
		senderIn:    &chanReader{ch: toSender},
		senderOut:   &chanWriter{ch: toReceiver},
		receiverIn:  &chanReader{ch: toReceiver},
		receiverOut: &recordingWriter{inner: &chanWriter{ch: toSender}},
	}
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + 13)
	}
	return data
}

// runLoopback runs a full transfer of data over an in-memory link and
// returns the receiver's output and its recorded control bytes.
func runLoopback(t *testing.T, data []byte, useCRC bool) ([]byte, []byte) {
	t.Helper()
	link := newTestLink()

	receiver := NewReceiver(link.receiverIn, link.receiverOut, &ReceiverConfig{
		UseCRC:  useCRC,
		Timeout: 2 * time.Second,
	})
	sender := NewSender(link.senderIn, link.senderOut, &SenderConfig{
		Timeout: 2 * time.Second,
	})

	var out bytes.Buffer
	recvErr := make(chan error, 1)
	go func() {
		recvErr <- receiver.Receive(&out)
	}()

	if err := sender.Send(bytes.NewReader(data)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := <-recvErr; err != nil {
		t.Fatalf("receive: %v", err)
	}

	wantMode := ModeChecksum
	if useCRC {
		wantMode = ModeCRC16
	}
	if sender.Mode() != wantMode {
		t.Errorf("negotiated mode = %s, want %s", sender.Mode(), wantMode)
	}

	return out.Bytes(), link.receiverOut.bytes
}

func checkPaddedOutput(t *testing.T, got, data []byte) {
	t.Helper()
	want := int(paddedSize(int64(len(data))))
	if len(got) != want {
		t.Fatalf("output length = %d, want %d", len(got), want)
	}
	if !bytes.Equal(got[:len(data)], data) {
		t.Error("output does not match input")
	}
	for i := len(data); i < len(got); i++ {
		if got[i] != CPMEOF {
			t.Fatalf("padding byte at %d = 0x%02x, want 0x%02x", i, got[i], CPMEOF)
		}
	}
}

func TestLoopbackChecksum(t *testing.T) {
	data := testData(300)
	out, controls := runLoopback(t, data, false)

	checkPaddedOutput(t, out, data)

	// Announce, three block ACKs, EOT ACK.
	want := []byte{NAK, ACK, ACK, ACK, ACK}
	if !bytes.Equal(controls, want) {
		t.Errorf("receiver control bytes = % 02x, want % 02x", controls, want)
	}
}

func TestLoopbackCRC16(t *testing.T) {
	data := testData(200)
	out, controls := runLoopback(t, data, true)

	checkPaddedOutput(t, out, data)

	want := []byte{WANTCRC, ACK, ACK, ACK}
	if !bytes.Equal(controls, want) {
		t.Errorf("receiver control bytes = % 02x, want % 02x", controls, want)
	}
}

func TestLoopbackEmptyFile(t *testing.T) {
	out, controls := runLoopback(t, nil, false)

	if len(out) != 0 {
		t.Errorf("empty transfer produced %d bytes", len(out))
	}
	want := []byte{NAK, ACK}
	if !bytes.Equal(controls, want) {
		t.Errorf("receiver control bytes = % 02x, want % 02x", controls, want)
	}
}

func TestLoopbackBlockNumberWrap(t *testing.T) {
	// 258 blocks: the block counter passes 255 and wraps through 0.
	data := testData(257*BlockSize + 5)
	out, _ := runLoopback(t, data, true)
	checkPaddedOutput(t, out, data)
}

// flippingReader corrupts one byte at a fixed stream offset, once.
type flippingReader struct {
	inner  ReaderWithTimeout
	offset int
	pos    int
}

func (r *flippingReader) SetReadDeadline(t time.Time) error {
	return r.inner.SetReadDeadline(t)
}

func (r *flippingReader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	for i := 0; i < n; i++ {
		if r.pos+i == r.offset {
			p[i] ^= 0x20
		}
	}
	r.pos += n
	return n, err
}

func TestLoopbackRecoversFromCorruption(t *testing.T) {
	data := testData(150)
	link := newTestLink()

	// Flip a payload byte inside the first frame on its first transit.
	corrupted := &flippingReader{inner: link.receiverIn, offset: 10}

	receiver := NewReceiver(corrupted, link.receiverOut, &ReceiverConfig{
		Timeout: 2 * time.Second,
	})
	sender := NewSender(link.senderIn, link.senderOut, &SenderConfig{
		Timeout: 2 * time.Second,
	})

	var out bytes.Buffer
	recvErr := make(chan error, 1)
	go func() {
		recvErr <- receiver.Receive(&out)
	}()

	if err := sender.Send(bytes.NewReader(data)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := <-recvErr; err != nil {
		t.Fatalf("receive: %v", err)
	}

	checkPaddedOutput(t, out.Bytes(), data)

	// Announce, NAK for the corrupted frame, then clean ACKs.
	want := []byte{NAK, NAK, ACK, ACK, ACK}
	if !bytes.Equal(link.receiverOut.bytes, want) {
		t.Errorf("receiver control bytes = % 02x, want % 02x", link.receiverOut.bytes, want)
	}
}

func TestSessionLoopback(t *testing.T) {
	data := testData(500)
	link := newTestLink()

	config := &Config{
		UseCRC:           true,
		Timeout:          2 * time.Second,
		MaxRetries:       MaxRetries,
		StartAttempts:    StartAttempts,
		ProgressInterval: time.Millisecond,
	}

	sendSession := NewSession(link.senderIn, link.senderOut, WithConfig(config))
	recvSession := NewSession(link.receiverIn, link.receiverOut, WithConfig(config))

	var out bytes.Buffer
	recvErr := make(chan error, 1)
	go func() {
		recvErr <- recvSession.Receive(nil, &out)
	}()

	if err := sendSession.Send(nil, bytes.NewReader(data)); err != nil {
		t.Fatalf("session send: %v", err)
	}
	if err := <-recvErr; err != nil {
		t.Fatalf("session receive: %v", err)
	}

	checkPaddedOutput(t, out.Bytes(), data)
}
