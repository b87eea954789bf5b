// Package usbtest builds synthetic sysfs USB trees.
package usbtest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// Tree is a fake /sys/bus/usb/devices plus /dev under a temp dir.
type Tree struct {
	Root   string
	DevDir string

	t     testing.TB
	hosts int
}

func New(t testing.TB) *Tree {
	t.Helper()
	dir := t.TempDir()
	tr := &Tree{
		Root:   filepath.Join(dir, "sys"),
		DevDir: filepath.Join(dir, "dev"),
		t:      t,
	}
	tr.mkdir(tr.Root)
	tr.mkdir(tr.DevDir)
	return tr
}

func (tr *Tree) mkdir(path string) {
	tr.t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		tr.t.Fatal(err)
	}
}

func (tr *Tree) write(path, data string) {
	tr.t.Helper()
	tr.mkdir(filepath.Dir(path))
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		tr.t.Fatal(err)
	}
}

// Device adds a device directory with the given ids.
func (tr *Tree) Device(name string, vendor, product uint16) string {
	tr.t.Helper()
	path := filepath.Join(tr.Root, name)
	tr.write(filepath.Join(path, "idVendor"), fmt.Sprintf("%04x\n", vendor))
	tr.write(filepath.Join(path, "idProduct"), fmt.Sprintf("%04x\n", product))
	return path
}

// Hub adds a hub with empty ports.
func (tr *Tree) Hub(name string, vendor, product uint16, ports ...string) {
	tr.t.Helper()
	path := tr.Device(name, vendor, product)
	for _, port := range ports {
		tr.mkdir(filepath.Join(path, name+":1.0", name+"-port"+port))
	}
}

// Disk attaches a mass storage device with one block device to a hub port
// and creates its device node holding data.
func (tr *Tree) Disk(hub, port, block string, data []byte) {
	tr.t.Helper()
	tr.hosts++
	host := fmt.Sprintf("host%d", tr.hosts)
	target := fmt.Sprintf("target%d:0:0", tr.hosts)
	disk := fmt.Sprintf("%d:0:0:0", tr.hosts)

	dev := filepath.Join(tr.Root, hub, hub+":1.0", hub+"-port"+port, "device")
	tr.mkdir(filepath.Join(dev, hub+"."+port+":1.0", host, target, disk, "block", block))

	if err := os.WriteFile(filepath.Join(tr.DevDir, block), data, 0o644); err != nil {
		tr.t.Fatal(err)
	}
}
