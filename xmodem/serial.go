package xmodem

import (
	"time"

	"go.bug.st/serial"
)

// SerialChannel adapts a serial port to the session channel interface.
// Read deadlines are mapped onto the port's read timeout, so a read
// returns within one timeout whether or not data arrived; the engines
// interpret an empty read as a retry signal.
type SerialChannel struct {
	port serial.Port
}

// OpenSerial opens the named port at the given baud rate with the
// classic XModem line settings (8 data bits, no parity, one stop bit)
// and returns it wrapped as a session channel.
func OpenSerial(portName string, baudRate int) (*SerialChannel, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, err
	}
	return &SerialChannel{port: port}, nil
}

func (c *SerialChannel) Read(p []byte) (int, error) {
	return c.port.Read(p)
}

func (c *SerialChannel) Write(p []byte) (int, error) {
	return c.port.Write(p)
}

// SetReadDeadline converts the absolute deadline into the port's
// relative read timeout. A zero deadline disables the timeout.
func (c *SerialChannel) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		return c.port.SetReadTimeout(serial.NoTimeout)
	}
	d := time.Until(t)
	if d < 0 {
		d = 0
	}
	return c.port.SetReadTimeout(d)
}

// Close closes the underlying port.
func (c *SerialChannel) Close() error {
	return c.port.Close()
}
