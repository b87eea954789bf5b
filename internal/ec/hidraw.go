package ec

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// HidRaw is a FrameDevice over an open /dev/hidraw* node.
type HidRaw struct {
	file *os.File
	fd   int
}

// NewHidRaw takes ownership of file, which may have come from the root helper.
func NewHidRaw(file *os.File) *HidRaw {
	return &HidRaw{file: file, fd: int(file.Fd())}
}

// OpenHidRaw opens path read-write. The caller needs access to the node.
func OpenHidRaw(path string) (*HidRaw, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return NewHidRaw(file), nil
}

func (h *HidRaw) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(h.fd, p)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return n, err
	}
}

// ReadTimeout follows hidapi's hid_read_timeout: poll for input, then read.
func (h *HidRaw) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	if timeout >= 0 {
		fds := []unix.PollFd{{Fd: int32(h.fd), Events: unix.POLLIN}}
		n, err := pollRetry(fds, int(timeout.Milliseconds()))
		if err != nil {
			return 0, fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			return 0, nil
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return 0, fmt.Errorf("poll error: revents %#x", fds[0].Revents)
		}
	}
	for {
		n, err := unix.Read(h.fd, p)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

func (h *HidRaw) Close() error {
	return h.file.Close()
}

func pollRetry(fds []unix.PollFd, timeoutMs int) (int, error) {
	for {
		n, err := unix.Poll(fds, timeoutMs)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return n, err
	}
}
