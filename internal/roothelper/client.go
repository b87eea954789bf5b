package roothelper

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// ErrNotStarted means the helper exited before reporting readiness, usually
// because elevation was declined.
var ErrNotStarted = errors.New("root helper not started")

// Helper is the unprivileged end of a running helper process.
type Helper struct {
	mu   sync.Mutex
	sock *os.File
	cmd  *exec.Cmd
}

// Executable is the path the helper is re-executed from. Inside an AppImage
// the mounted binary is not reachable by root, so APPIMAGE wins.
func Executable() (string, error) {
	if p := os.Getenv("APPIMAGE"); p != "" {
		return p, nil
	}
	return os.Executable()
}

// Start runs "<command> <exe> root-helper" with one end of a socket pair as
// its stdin and waits for it to report readiness.
func Start(command string) (*Helper, error) {
	exe, err := Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socketpair: %w", err)
	}
	child := os.NewFile(uintptr(fds[0]), "root-helper-child")
	sock := os.NewFile(uintptr(fds[1]), "root-helper")

	cmd := exec.Command(command, exe, "root-helper")
	cmd.Stdin = child
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		child.Close()
		sock.Close()
		return nil, fmt.Errorf("spawn %s: %w", command, err)
	}
	child.Close()

	h, err := NewHelper(sock)
	if err != nil {
		sock.Close()
		cmd.Wait()
		return nil, err
	}
	h.cmd = cmd
	return h, nil
}

// NewHelper wraps an already connected socket and waits for the marker.
func NewHelper(sock *os.File) (*Helper, error) {
	buf := make([]byte, 32)
	n, err := recv(int(sock.Fd()), buf)
	if err != nil || n == 0 {
		return nil, ErrNotStarted
	}
	return &Helper{sock: sock}, nil
}

// OpenDev asks the helper to open path read-write.
func (h *Helper) OpenDev(path string) (*os.File, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fd := int(h.sock.Fd())
	if err := send(fd, []byte(path)); err != nil {
		return nil, fmt.Errorf("write to root helper: %w", err)
	}

	buf := make([]byte, 32)
	oob := make([]byte, unix.CmsgSpace(4))
	var n, oobn int
	for {
		var err error
		n, oobn, _, _, err = unix.Recvmsg(fd, buf, oob, unix.MSG_CMSG_CLOEXEC)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read from root helper: %w", err)
		}
		break
	}
	if n == 0 && oobn == 0 {
		return nil, fmt.Errorf("read from root helper: %w", ErrNotStarted)
	}

	// A descriptor wins over the payload, which may be a filler byte.
	if oobn > 0 {
		msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return nil, fmt.Errorf("parse control message: %w", err)
		}
		for _, msg := range msgs {
			fds, err := unix.ParseUnixRights(&msg)
			if err != nil || len(fds) == 0 {
				continue
			}
			for _, extra := range fds[1:] {
				unix.Close(extra)
			}
			return os.NewFile(uintptr(fds[0]), path), nil
		}
	}

	code, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return nil, fmt.Errorf("invalid root helper reply %q", buf[:n])
	}
	return nil, syscall.Errno(code)
}

// Close hangs up, which makes the helper exit, and reaps it.
func (h *Helper) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	err := h.sock.Close()
	if h.cmd != nil {
		if werr := h.cmd.Wait(); werr != nil && err == nil {
			err = werr
		}
		h.cmd = nil
	}
	return err
}
