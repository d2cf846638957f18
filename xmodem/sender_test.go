package xmodem

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// scriptedPeer returns a reader pre-loaded with the peer's byte script
// and a channel capturing everything the engine under test writes. The
// script channel stays open, so reads past its end time out.
func scriptedPeer(script []byte) (*chanReader, *chanWriter) {
	in := make(chan byte, 4096)
	for _, b := range script {
		in <- b
	}
	out := make(chan byte, 65536)
	return &chanReader{ch: in}, &chanWriter{ch: out}
}

func drain(ch chan byte) []byte {
	var buf []byte
	for {
		select {
		case b := <-ch:
			buf = append(buf, b)
		default:
			return buf
		}
	}
}

func errorType(err error) ErrorType {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Type
	}
	return ErrorType(-1)
}

func TestSenderRetriesExhausted(t *testing.T) {
	// Handshake NAK, then a NAK for every attempt of block 1.
	reader, writer := scriptedPeer([]byte{NAK, NAK, NAK, NAK})

	sender := NewSender(reader, writer, &SenderConfig{
		Timeout:    50 * time.Millisecond,
		MaxRetries: 3,
	})

	err := sender.Send(bytes.NewReader(testData(10)))
	if !IsRetriesExhausted(err) {
		t.Fatalf("Send = %v, want retries-exhausted", err)
	}

	// Exactly MaxRetries identical frames, no more.
	sent := drain(writer.ch)
	if len(sent) != 3*132 {
		t.Fatalf("sender wrote %d bytes, want %d (3 frames)", len(sent), 3*132)
	}
	frame := sent[:132]
	if !bytes.Equal(sent[132:264], frame) || !bytes.Equal(sent[264:], frame) {
		t.Error("retransmitted frames differ from the original")
	}
	if frame[0] != SOH || frame[1] != 1 || frame[2] != 254 {
		t.Errorf("frame header = [%02x %02x %02x], want [01 01 fe]", frame[0], frame[1], frame[2])
	}
}

func TestSenderHandshakeTimeout(t *testing.T) {
	reader, writer := scriptedPeer(nil)

	sender := NewSender(reader, writer, &SenderConfig{
		Timeout:    10 * time.Millisecond,
		MaxRetries: 2,
	})

	err := sender.Send(bytes.NewReader(testData(10)))
	if errorType(err) != ErrHandshake {
		t.Fatalf("Send = %v, want handshake failure", err)
	}
	if sent := drain(writer.ch); len(sent) != 0 {
		t.Errorf("sender wrote %d bytes before the handshake", len(sent))
	}
}

func TestSenderHandshakeIgnoresGarbage(t *testing.T) {
	// Line noise before the start byte must not consume attempts.
	reader, writer := scriptedPeer([]byte{0x00, 0x7F, 'x', WANTCRC, ACK, ACK})

	sender := NewSender(reader, writer, &SenderConfig{
		Timeout:    50 * time.Millisecond,
		MaxRetries: 2,
	})

	if err := sender.Send(bytes.NewReader(testData(10))); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sender.Mode() != ModeCRC16 {
		t.Errorf("mode = %s, want %s", sender.Mode(), ModeCRC16)
	}

	// One CRC frame plus the EOT.
	if sent := drain(writer.ch); len(sent) != 133+1 {
		t.Errorf("sender wrote %d bytes, want %d", len(sent), 134)
	}
}

func TestSenderCancelledByReceiver(t *testing.T) {
	reader, writer := scriptedPeer([]byte{NAK, CAN})

	sender := NewSender(reader, writer, &SenderConfig{
		Timeout:    50 * time.Millisecond,
		MaxRetries: 3,
	})

	err := sender.Send(bytes.NewReader(testData(10)))
	if !IsCancelled(err) {
		t.Fatalf("Send = %v, want cancelled", err)
	}
}

func TestSenderCancelledDuringHandshake(t *testing.T) {
	reader, writer := scriptedPeer([]byte{CAN})

	sender := NewSender(reader, writer, DefaultSenderConfig())

	err := sender.Send(bytes.NewReader(testData(10)))
	if !IsCancelled(err) {
		t.Fatalf("Send = %v, want cancelled", err)
	}
}

func TestSenderRecoversFromSingleNAK(t *testing.T) {
	// NAK handshake, NAK the first attempt, then accept everything.
	reader, writer := scriptedPeer([]byte{NAK, NAK, ACK, ACK})

	var retried []byte
	sender := NewSender(reader, writer, &SenderConfig{
		Timeout:    50 * time.Millisecond,
		MaxRetries: 3,
		Callbacks: &Callbacks{
			OnRetry: func(block byte, attempt int, cause error) {
				retried = append(retried, block)
			},
		},
	})

	if err := sender.Send(bytes.NewReader(testData(10))); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// Two copies of block 1 plus the EOT.
	if sent := drain(writer.ch); len(sent) != 2*132+1 {
		t.Errorf("sender wrote %d bytes, want %d", len(sent), 2*132+1)
	}
	if !bytes.Equal(retried, []byte{1}) {
		t.Errorf("retry callback saw blocks %v, want [1]", retried)
	}
}

func TestSenderEOTRetry(t *testing.T) {
	// Accept block 1, answer the first EOT with garbage, ACK the second.
	reader, writer := scriptedPeer([]byte{NAK, ACK, 0x00, ACK})

	sender := NewSender(reader, writer, &SenderConfig{
		Timeout:    50 * time.Millisecond,
		MaxRetries: 3,
	})

	if err := sender.Send(bytes.NewReader(testData(10))); err != nil {
		t.Fatalf("Send: %v", err)
	}

	sent := drain(writer.ch)
	if len(sent) != 132+2 {
		t.Fatalf("sender wrote %d bytes, want %d (frame + 2 EOTs)", len(sent), 132+2)
	}
	if sent[132] != EOT || sent[133] != EOT {
		t.Errorf("trailing bytes = [%02x %02x], want two EOTs", sent[132], sent[133])
	}
}
