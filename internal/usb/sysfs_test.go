package usb_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mil-ad/kbdctl/internal/config"
	"github.com/mil-ad/kbdctl/internal/usb"
	"github.com/mil-ad/kbdctl/internal/usb/usbtest"
)

func TestHubsAndPorts(t *testing.T) {
	t.Parallel()

	tree := usbtest.New(t)
	tree.Hub("3-1", 0x3384, 0x0003, "1", "2", "5")
	tree.Hub("4-1", 0x3384, 0x0004, "1")
	tree.Device("3-2", 0x046d, 0xc52b)
	tree.Disk("3-1", "2", "sdb", nil)

	sys := usb.Sysfs{Root: tree.Root, DevDir: tree.DevDir}
	hubs, err := sys.Hubs(config.DefaultDevices().Hubs)
	require.NoError(t, err)
	require.Len(t, hubs, 2)

	byClass := map[usb.HubClass]usb.Hub{}
	for _, h := range hubs {
		byClass[h.Class] = h
	}
	require.Contains(t, byClass, usb.Usb2)
	require.Contains(t, byClass, usb.Usb3)

	ports, err := byClass[usb.Usb2].Ports()
	require.NoError(t, err)
	assert.Len(t, ports, 3)
	assert.False(t, ports["1"].Present())
	require.True(t, ports["2"].Present())

	blocks, err := ports["2"].BlockDevs()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(tree.DevDir, "sdb")}, blocks)
}

func TestBootloaders(t *testing.T) {
	t.Parallel()

	tree := usbtest.New(t)
	tree.Device("1-4", 0x03eb, 0x2ff9)
	tree.Device("1-2", 0x03eb, 0x2ff4)
	tree.Device("1-3", 0x3384, 0x0001)

	got, err := usb.Sysfs{Root: tree.Root}.Bootloaders(config.DefaultDevices().Bootloaders)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1-2", got[0].Name)
	assert.Equal(t, "ATmega32u4", got[0].Chip)
	assert.Equal(t, "AT90USB646", got[1].Chip)
}
