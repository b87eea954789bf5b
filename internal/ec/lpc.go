package ec

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	// Shared memory command window of the EC, as seen through /dev/port.
	smfiCmdBase = 0xE00
	smfiCmdSize = 0x100

	smfiCmdCmd  = 0x00
	smfiCmdRes  = 0x01
	smfiCmdData = 0x02

	lpcPollInterval = 100 * time.Microsecond
)

// PortIO is byte-addressed port I/O, such as *os.File on /dev/port.
type PortIO interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

// Lpc drives the EC command window over port I/O. The command byte is written
// last and the EC clears it once the reply is in place.
type Lpc struct {
	port    PortIO
	timeout time.Duration
}

// NewLpc wraps port. timeout bounds the wait for one command to complete.
func NewLpc(port PortIO, timeout time.Duration) *Lpc {
	return &Lpc{port: port, timeout: timeout}
}

// PortPath is the port I/O device the LPC window is reached through.
const PortPath = "/dev/port"

// CheckVendor fails unless the machine is a System76 one; poking the LPC
// window on other hardware is not safe.
func CheckVendor() error {
	vendor, err := os.ReadFile("/sys/class/dmi/id/sys_vendor")
	if err != nil {
		return fmt.Errorf("read sys_vendor: %w", err)
	}
	if !strings.HasPrefix(string(vendor), "System76") {
		return fmt.Errorf("unsupported sys_vendor %q", strings.TrimSpace(string(vendor)))
	}
	return nil
}

// OpenLpc opens /dev/port after CheckVendor.
func OpenLpc(timeout time.Duration) (*Lpc, error) {
	if err := CheckVendor(); err != nil {
		return nil, err
	}
	port, err := os.OpenFile(PortPath, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return NewLpc(port, timeout), nil
}

func (l *Lpc) read(reg int) (uint8, error) {
	var b [1]byte
	if _, err := l.port.ReadAt(b[:], int64(smfiCmdBase+reg)); err != nil {
		return 0, fmt.Errorf("ec lpc read %#x: %w", smfiCmdBase+reg, err)
	}
	return b[0], nil
}

func (l *Lpc) write(reg int, v uint8) error {
	if _, err := l.port.WriteAt([]byte{v}, int64(smfiCmdBase+reg)); err != nil {
		return fmt.Errorf("ec lpc write %#x: %w", smfiCmdBase+reg, err)
	}
	return nil
}

func (l *Lpc) Command(cmd uint8, data []byte) (uint8, error) {
	if len(data) > l.DataSize() {
		return 0, &DataLengthError{Len: len(data), Max: l.DataSize()}
	}

	for i, b := range data {
		if err := l.write(smfiCmdData+i, b); err != nil {
			return 0, err
		}
	}
	if err := l.write(smfiCmdCmd, cmd); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(l.timeout)
	for {
		busy, err := l.read(smfiCmdCmd)
		if err != nil {
			return 0, err
		}
		if busy == 0 {
			break
		}
		if time.Now().After(deadline) {
			return 0, ErrTimeout
		}
		time.Sleep(lpcPollInterval)
	}

	for i := range data {
		b, err := l.read(smfiCmdData + i)
		if err != nil {
			return 0, err
		}
		data[i] = b
	}
	return l.read(smfiCmdRes)
}

func (l *Lpc) DataSize() int {
	return smfiCmdSize - smfiCmdData
}

func (l *Lpc) Transport() Transport {
	return TransportLpc
}

func (l *Lpc) Close() error {
	return l.port.Close()
}

func (l *Lpc) sealed() {}
