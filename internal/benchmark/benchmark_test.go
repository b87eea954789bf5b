package benchmark

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/mil-ad/kbdctl/internal/config"
	"github.com/mil-ad/kbdctl/internal/usb"
	"github.com/mil-ad/kbdctl/internal/usb/usbtest"
)

func fixture(t *testing.T) *usbtest.Tree {
	t.Helper()
	tree := usbtest.New(t)
	tree.Hub("3-1", 0x3384, 0x0003, "1", "2", "3", "4", "5", "6")
	tree.Hub("4-1", 0x3384, 0x0004, "1", "2", "3", "4")
	return tree
}

func run(t *testing.T, tree *usbtest.Tree, speeds map[string]float64) map[string]string {
	t.Helper()
	r := New(usb.Sysfs{Root: tree.Root, DevDir: tree.DevDir}, config.DefaultDevices().Hubs,
		WithSampler(func(path string) (float64, error) {
			speed, ok := speeds[filepath.Base(path)]
			if !ok {
				return 0, errors.New("unreadable")
			}
			return speed, nil
		}),
	)
	b, err := r.Run()
	require.NoError(t, err)

	out := map[string]string{}
	for name, res := range b.PortResults {
		out[name] = res.Err
	}
	return out
}

func TestRunAllPortsPass(t *testing.T) {
	t.Parallel()

	tree := fixture(t)
	speeds := map[string]float64{}
	for i, port := range []string{"1", "2", "3", "4"} {
		usb2 := "sd" + string(rune('a'+i))
		usb3 := "sd" + string(rune('e'+i))
		tree.Disk("3-1", port, usb2, nil)
		tree.Disk("4-1", port, usb3, nil)
		speeds[usb2] = 30
		speeds[usb3] = 300
	}

	got := run(t, tree, speeds)
	require.Len(t, got, 8, "ports 5 and 6 are skipped")
	for name, errMsg := range got {
		assert.Empty(t, errMsg, name)
	}
	assert.Contains(t, got, "USB 2.0: USB-C Right")
	assert.Contains(t, got, "USB 3.2 Gen 2: USB-A Left")
}

func TestRunPortFailures(t *testing.T) {
	t.Parallel()

	tree := fixture(t)
	tree.Disk("3-1", "1", "sda", nil)
	tree.Disk("3-1", "2", "sdb", nil)
	tree.Disk("4-1", "1", "sdc", nil)

	got := run(t, tree, map[string]float64{
		"sda": 1.5,
		"sdc": 45,
	})

	assert.Equal(t, "benchmarked speed of 1.50 MB/s was less than required speed of 1.50 MB/s", got["USB 2.0: USB-C Right"])
	assert.Equal(t, "no accessible disks", got["USB 2.0: USB-A Right"])
	assert.Equal(t, "no devices", got["USB 2.0: USB-A Left"])
	assert.Equal(t, "benchmarked speed of 45.00 MB/s was less than required speed of 60.00 MB/s", got["USB 3.2 Gen 2: USB-C Right"])
}

func TestRunHubCount(t *testing.T) {
	t.Parallel()

	tree := usbtest.New(t)
	tree.Hub("3-1", 0x3384, 0x0003, "1")
	tree.Hub("5-1", 0x3384, 0x0003, "1")
	tree.Hub("4-1", 0x3384, 0x0004, "1")

	_, err := New(usb.Sysfs{Root: tree.Root}, config.DefaultDevices().Hubs).Run()
	var countErr *HubCountError
	require.ErrorAs(t, err, &countErr)
	assert.Equal(t, "Found 2 USB 2 hubs instead of 1", err.Error())

	tree = usbtest.New(t)
	tree.Hub("3-1", 0x3384, 0x0003, "1")
	_, err = New(usb.Sysfs{Root: tree.Root}, config.DefaultDevices().Hubs).Run()
	require.ErrorAs(t, err, &countErr)
	assert.Equal(t, "Found 0 USB 3 hubs instead of 1", err.Error())
}

func TestReadSpeed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "disk")
	require.NoError(t, os.WriteFile(path, make([]byte, bufSize), 0o644))

	speed, err := ReadSpeed(path)
	if errors.Is(err, unix.EINVAL) {
		t.Skip("filesystem does not support O_DIRECT")
	}
	require.NoError(t, err)
	assert.Positive(t, speed)
}
