package ec

import (
	"fmt"
	"time"
)

const (
	hidFrameSize = 33

	hidCmd  = 1
	hidRes  = 2
	hidData = 3
)

// Hid speaks the EC frame format over raw HID reports: byte 0 is the report
// id, then opcode, status, and payload. Replies are read without the report id.
type Hid struct {
	dev     FrameDevice
	retries int
	timeout time.Duration
}

// NewHid wraps dev. retries bounds how many times a timed-out exchange is
// repeated; timeout bounds each read.
func NewHid(dev FrameDevice, retries int, timeout time.Duration) *Hid {
	if retries < 1 {
		retries = 1
	}
	return &Hid{dev: dev, retries: retries, timeout: timeout}
}

// commandTry performs one write/read exchange. ok is false when the read
// timed out.
func (h *Hid) commandTry(cmd uint8, data []byte) (status uint8, ok bool, err error) {
	var frame [hidFrameSize]byte
	frame[hidCmd] = cmd
	copy(frame[hidData:], data)

	n, err := h.dev.Write(frame[:])
	if err != nil {
		return 0, false, fmt.Errorf("ec hid write: %w", err)
	}
	if n != len(frame) {
		return 0, false, ErrVerify
	}

	n, err = h.dev.ReadTimeout(frame[1:], h.timeout)
	if err != nil {
		return 0, false, fmt.Errorf("ec hid read: %w", err)
	}
	switch n {
	case 0:
		return 0, false, nil
	case len(frame) - 1:
		copy(data, frame[hidData:hidData+len(data)])
		return frame[hidRes], true, nil
	default:
		// A short reply means the session is out of step; retrying would
		// pair the next reply with the wrong request.
		return 0, false, ErrVerify
	}
}

func (h *Hid) Command(cmd uint8, data []byte) (uint8, error) {
	if len(data) > h.DataSize() {
		return 0, &DataLengthError{Len: len(data), Max: h.DataSize()}
	}
	for i := 0; i < h.retries; i++ {
		status, ok, err := h.commandTry(cmd, data)
		if err != nil {
			return 0, err
		}
		if ok {
			return status, nil
		}
	}
	return 0, ErrTimeout
}

func (h *Hid) DataSize() int {
	return hidFrameSize - hidData
}

func (h *Hid) Transport() Transport {
	return TransportHid
}

func (h *Hid) Close() error {
	return h.dev.Close()
}

func (h *Hid) sealed() {}
