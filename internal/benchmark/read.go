package benchmark

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

const (
	align   = 4096
	bufSize = align * 1024
	// MiB read per sample
	sampleMiB = float64(bufSize) / (1 << 20)
)

// ReadSpeed times one uncached 4 MiB read from the start of path and returns
// MB/s. O_DIRECT needs a page aligned buffer, which mmap guarantees.
func ReadSpeed(path string) (float64, error) {
	fd, err := open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer unix.Close(fd)

	buf, err := unix.Mmap(-1, 0, bufSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return 0, fmt.Errorf("allocate buffer: %w", err)
	}
	defer unix.Munmap(buf)

	start := time.Now()
	_, err = read(fd, buf)
	elapsed := time.Since(start)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	return sampleMiB / elapsed.Seconds(), nil
}

func open(path string) (int, error) {
	for {
		fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECT|unix.O_CLOEXEC, 0)
		if !errors.Is(err, unix.EINTR) {
			return fd, err
		}
	}
}

func read(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		if !errors.Is(err, unix.EINTR) {
			return n, err
		}
	}
}
