package ec

import "time"

// Transport names the kind of physical interface behind an Access.
type Transport int

const (
	TransportHid Transport = iota + 1
	TransportLpc
)

func (t Transport) String() string {
	switch t {
	case TransportHid:
		return "hid"
	case TransportLpc:
		return "lpc"
	}
	return "unknown"
}

// Access sends one command frame to an EC and returns the reply status.
// data is both the request payload and, on success, the reply payload.
//
// Only *Hid and *Lpc implement Access.
type Access interface {
	Command(cmd uint8, data []byte) (status uint8, err error)
	// DataSize is the largest payload the frame format can carry.
	DataSize() int
	Transport() Transport
	Close() error

	sealed()
}

// FrameDevice is a report-oriented device node. ReadTimeout returns 0 bytes
// and a nil error when nothing arrived within timeout.
type FrameDevice interface {
	Write(p []byte) (int, error)
	ReadTimeout(p []byte, timeout time.Duration) (int, error)
	Close() error
}
