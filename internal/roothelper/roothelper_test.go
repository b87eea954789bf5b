package roothelper

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func startInProcess(t *testing.T, prefixes []string) (*Helper, <-chan error) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- Serve(fds[0], prefixes)
		unix.Close(fds[0])
	}()

	h, err := NewHelper(os.NewFile(uintptr(fds[1]), "helper"))
	require.NoError(t, err)
	return h, done
}

func TestOpenDevRejectsPathsOutsideAllowList(t *testing.T) {
	t.Parallel()

	h, done := startInProcess(t, nil)

	f, err := h.OpenDev("/etc/shadow")
	assert.Nil(t, f)
	require.ErrorIs(t, err, syscall.EINVAL)

	require.NoError(t, h.Close())
	require.NoError(t, <-done)
}

func TestOpenDevReturnsDescriptor(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "hidraw7")
	require.NoError(t, os.WriteFile(path, []byte("report"), 0o600))

	h, done := startInProcess(t, []string{dir})

	f, err := h.OpenDev(path)
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 6)
	_, err = f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "report", string(buf))

	_, err = h.OpenDev(filepath.Join(dir, "missing"))
	require.ErrorIs(t, err, syscall.ENOENT)

	require.NoError(t, h.Close())
	require.NoError(t, <-done)
}

func TestNewHelperWithoutMarker(t *testing.T) {
	t.Parallel()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	unix.Close(fds[0])

	sock := os.NewFile(uintptr(fds[1]), "helper")
	defer sock.Close()
	_, err = NewHelper(sock)
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestStartDeclined(t *testing.T) {
	t.Parallel()

	// "false" exits at once, like pkexec after a dismissed prompt.
	_, err := Start("false")
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestAllowed(t *testing.T) {
	t.Parallel()

	assert.True(t, allowed("/dev/hidraw3", AllowedPrefixes))
	assert.True(t, allowed("/dev/port", AllowedPrefixes))
	assert.False(t, allowed("/dev/sda", AllowedPrefixes))
	assert.False(t, allowed("", AllowedPrefixes))
}
