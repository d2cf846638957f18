package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/drunlade/go-xmodem/xmodem"
)

var (
	port    = flag.String("p", "", "serial port (default: stdin/stdout)")
	baud    = flag.Int("b", 9600, "baud rate for the serial port")
	useCRC  = flag.Bool("crc", false, "request CRC16 mode instead of checksum")
	timeout = flag.Int("t", 10, "per-read timeout in seconds")
	retries = flag.Int("r", xmodem.MaxRetries, "retry budget per block")
	logFile = flag.String("log", "", "write protocol log to file")
	verbose = flag.Bool("v", false, "verbose mode")
	quiet   = flag.Bool("q", false, "quiet mode")
	help    = flag.Bool("h", false, "show help")
	version = flag.Bool("version", false, "show version")
)

const versionString = "grx version 0.1.0"

func main() {
	flag.Parse()

	if *help {
		showUsage(0)
	}

	if *version {
		fmt.Println(versionString)
		os.Exit(0)
	}

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "%s: exactly one output file must be specified\n", os.Args[0])
		showUsage(1)
	}
	filename := flag.Arg(0)

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := signalContext(sigChan)
	defer cancel()

	reader, writer, cleanup, err := openChannel(*port, *baud)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening channel: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	opts := []xmodem.Option{
		xmodem.WithConfig(&xmodem.Config{
			UseCRC:           *useCRC,
			Timeout:          time.Duration(*timeout) * time.Second,
			MaxRetries:       *retries,
			ProgressInterval: 100 * time.Millisecond,
		}),
		xmodem.WithContext(ctx),
	}

	if *logFile != "" {
		logger, err := xmodem.NewFileLogger(*logFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer logger.Close()
		opts = append(opts, xmodem.WithLogger(logger))
	}

	if *verbose && !*quiet {
		opts = append(opts,
			xmodem.WithProgress(func(name string, transferred, total int64, rate float64) {
				fmt.Fprintf(os.Stderr, "\r%s: %d bytes (%.0f bytes/s)", name, transferred, rate)
			}),
			xmodem.WithCallbacks(&xmodem.Callbacks{
				OnTransferStart: func(mode xmodem.Mode) {
					fmt.Fprintf(os.Stderr, "Receiving %s in %s mode\n", filename, mode)
				},
				OnRetry: func(block byte, attempt int, cause error) {
					fmt.Fprintf(os.Stderr, "\nRequesting retransmission of block %d (attempt %d): %v\n", block, attempt, cause)
				},
			}),
		)
	}

	session := xmodem.NewSession(reader, writer, opts...)

	if err := session.ReceiveFile(ctx, filename); err != nil {
		if !*quiet {
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}
		os.Exit(1)
	}

	if !*quiet {
		fmt.Fprintf(os.Stderr, "\n%s\n", filename)
	}
}

// openChannel opens the transfer channel: a serial port when -p is given,
// otherwise the process's own stdin/stdout with the controlling terminal
// in raw mode so protocol bytes pass through unmolested.
func openChannel(portName string, baudRate int) (xmodem.ReaderWithTimeout, io.Writer, func(), error) {
	if portName != "" {
		ch, err := xmodem.OpenSerial(portName, baudRate)
		if err != nil {
			return nil, nil, nil, err
		}
		return ch, ch, func() { ch.Close() }, nil
	}

	cleanup := func() {}
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return nil, nil, nil, err
		}
		cleanup = func() { term.Restore(fd, oldState) }
	}
	return &stdinReader{reader: os.Stdin}, os.Stdout, cleanup, nil
}

// stdinReader wraps os.Stdin to implement ReaderWithTimeout.
type stdinReader struct {
	reader io.Reader
}

func (r *stdinReader) Read(p []byte) (int, error) {
	return r.reader.Read(p)
}

func (r *stdinReader) SetReadDeadline(t time.Time) error {
	// Stdin doesn't support deadlines; reads block until the peer speaks.
	return nil
}

func signalContext(sigChan chan os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx, cancel
}

func showUsage(exitcode int) {
	fmt.Fprintf(os.Stderr, `%s - receive a file with the XMODEM protocol

Usage: %s [options] file

Options:
  -p PORT      serial port (e.g. /dev/ttyUSB0); stdin/stdout if omitted
  -b N         baud rate (default: 9600)
  -crc         request CRC16 mode (announce with C instead of NAK)
  -t N         per-read timeout in seconds (default: 10)
  -r N         retry budget per block (default: %d)
  -log FILE    write protocol log to file
  -h, --help   show this help message
  -q, --quiet  quiet mode, minimal output
  -v           verbose mode
  --version    show version

The received file keeps the sender's 0x1A padding in the final block;
XMODEM reproduces the padded stream, not the original byte length.

Examples:
  %s out.bin                       # Receive over stdin/stdout
  %s -crc -p /dev/ttyUSB0 out.bin  # Receive over a serial port with CRC

`, versionString, os.Args[0], xmodem.MaxRetries, os.Args[0], os.Args[0])
	os.Exit(exitcode)
}
