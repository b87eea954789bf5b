// Package roothelper opens device nodes in a privileged child process and
// passes the descriptors back over a SOCK_SEQPACKET socket.
package roothelper

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const startedMarker = "Started\n"

// AllowedPrefixes are the only paths the helper will open.
var AllowedPrefixes = []string{"/dev/hidraw", "/dev/port"}

func allowed(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func openDev(path string, prefixes []string) (int, error) {
	if !allowed(path, prefixes) {
		return -1, unix.EINVAL
	}
	for {
		fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return fd, err
	}
}

// Serve answers open requests on fd until the peer hangs up. Each request is
// one path; the reply carries the opened descriptor or a decimal errno.
// A nil prefixes means AllowedPrefixes.
func Serve(fd int, prefixes []string) error {
	if prefixes == nil {
		prefixes = AllowedPrefixes
	}
	if err := send(fd, []byte(startedMarker)); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}

	buf := make([]byte, unix.PathMax)
	for {
		n, err := recv(fd, buf)
		if n == 0 && err == nil || errors.Is(err, unix.EPIPE) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read from socket: %w", err)
		}

		dev, err := openDev(string(buf[:n]), prefixes)
		if err == nil {
			err = sendFd(fd, dev)
			unix.Close(dev)
		} else {
			var errno unix.Errno
			if !errors.As(err, &errno) {
				errno = unix.EIO
			}
			err = send(fd, []byte(strconv.Itoa(int(errno))))
		}
		if err != nil {
			return fmt.Errorf("write to socket: %w", err)
		}
	}
}

// Main runs the helper on standard input and returns the process exit code.
func Main() int {
	if err := Serve(0, nil); err != nil {
		log.Printf("Error in root helper: %v", err)
		return 1
	}
	return 0
}

func send(fd int, p []byte) error {
	for {
		_, err := unix.Write(fd, p)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

func recv(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

func sendFd(fd, dev int) error {
	rights := unix.UnixRights(dev)
	for {
		err := unix.Sendmsg(fd, nil, rights, nil, 0)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}
