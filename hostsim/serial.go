package hostsim

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/usbarmory/defender/link"
	"github.com/usbarmory/defender/timing"
)

// SerialPort is a development-host link.Transport backed by a real TTY
// (e.g. a USB-serial adapter wired to actual card/terminal hardware),
// configured with golang.org/x/sys/unix termios calls the way a host CLI
// tool configures any serial line — baud rate, 8 data bits, even parity,
// raw mode with no line discipline processing.
//
// It cannot reproduce the Defender's own line-level NACK sensing (that
// requires the UART's RTS/CTS-adjacent GPIO sampling hw.UART provides);
// SensedLow always reports false here. This is a development aid for
// exercising the link and iso7816 packages against real silicon from a
// host, not a substitute for the tamago-build hw package in production.
type SerialPort struct {
	f         *os.File
	cancelled bool
}

// OpenSerialPort opens path (e.g. "/dev/ttyUSB0") and configures it for the
// given baud rate, 8E1 framing.
func OpenSerialPort(path string, baud int) (*SerialPort, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, err
	}

	fd := int(f.Fd())
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("hostsim: get termios: %w", err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARODD
	t.Cflag |= unix.CS8 | unix.PARENB | unix.CLOCAL | unix.CREAD
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	rate, ok := termiosBaud(baud)
	if !ok {
		f.Close()
		return nil, fmt.Errorf("hostsim: unsupported baud rate %d", baud)
	}
	t.Ispeed = rate
	t.Ospeed = rate

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		f.Close()
		return nil, fmt.Errorf("hostsim: set termios: %w", err)
	}

	return &SerialPort{f: f}, nil
}

func termiosBaud(baud int) (uint32, bool) {
	switch baud {
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	default:
		return 0, false
	}
}

// TxByte writes one byte; stopBits is advisory only (a host TTY's own
// framing already supplies stop bits, so this records intent for callers
// inspecting timing but does not reconfigure the line per byte).
func (s *SerialPort) TxByte(b byte, stopBits int) error {
	_, err := s.f.Write([]byte{b})
	return err
}

// RxByte reads one byte, honouring maxWait via a read deadline. A host TTY
// has no parity-error signalling path of its own, so any I/O error other
// than a deadline expiry is reported as BadFrame.
func (s *SerialPort) RxByte(maxWait time.Duration) (byte, timing.Outcome) {
	if maxWait > 0 {
		s.f.SetReadDeadline(time.Now().Add(maxWait))
	} else {
		s.f.SetReadDeadline(time.Time{})
	}
	var b [1]byte
	_, err := s.f.Read(b[:])
	if err != nil {
		if os.IsTimeout(err) {
			return 0, timing.TimedOut
		}
		return 0, timing.BadFrame
	}
	return b[0], timing.OK
}

func (s *SerialPort) PullLow(d time.Duration) {} // not representable over a generic TTY
func (s *SerialPort) SensedLow() bool          { return false }
func (s *SerialPort) Cancelled() bool          { return s.cancelled }
func (s *SerialPort) ClockPresent() bool       { return true }

// Cancel raises the cooperative cancellation flag, as the RST-falling-edge
// ISR would on real hardware.
func (s *SerialPort) Cancel() { s.cancelled = true }

// Close releases the underlying file descriptor.
func (s *SerialPort) Close() error { return s.f.Close() }

var _ link.Transport = (*SerialPort)(nil)
