// Package usb walks the sysfs USB tree to find hubs, their ports and the
// block devices behind them.
package usb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/mil-ad/kbdctl/internal/config"
)

const (
	DefaultRoot   = "/sys/bus/usb/devices"
	DefaultDevDir = "/dev"
)

// Sysfs locates the USB device tree and the matching device nodes. The zero
// value uses the real system paths.
type Sysfs struct {
	Root   string
	DevDir string
}

func (s Sysfs) root() string {
	if s.Root == "" {
		return DefaultRoot
	}
	return s.Root
}

func (s Sysfs) devDir() string {
	if s.DevDir == "" {
		return DefaultDevDir
	}
	return s.DevDir
}

// Device is one USB device directory in sysfs.
type Device struct {
	Path   string
	devDir string
}

// Name is the kernel name of the device, for example "3-1.2".
func (d Device) Name() string {
	return filepath.Base(d.Path)
}

// Present reports whether something is attached at this path. Port links
// only resolve while a device is plugged in.
func (d Device) Present() bool {
	info, err := os.Stat(d.Path)
	return err == nil && info.IsDir()
}

func (d Device) readHex(attr string) (uint16, error) {
	data, err := os.ReadFile(filepath.Join(d.Path, attr))
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("parse %s of %s: %w", attr, d.Name(), err)
	}
	return uint16(v), nil
}

func (d Device) VendorID() (uint16, error) {
	return d.readHex("idVendor")
}

func (d Device) ProductID() (uint16, error) {
	return d.readHex("idProduct")
}

// Devices lists every directory of the tree that carries USB ids.
func (s Sysfs) Devices() ([]Device, error) {
	entries, err := os.ReadDir(s.root())
	if err != nil {
		return nil, err
	}
	var out []Device
	for _, entry := range entries {
		path := filepath.Join(s.root(), entry.Name())
		if !isFile(filepath.Join(path, "idVendor")) || !isFile(filepath.Join(path, "idProduct")) {
			continue
		}
		out = append(out, Device{Path: path, devDir: s.devDir()})
	}
	return out, nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// childrenWithPrefix returns the entries of dir whose names start with prefix.
func childrenWithPrefix(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), prefix) {
			out = append(out, entry.Name())
		}
	}
	return out, nil
}

// BlockDevs follows interface, SCSI host, target and disk links down to
// the block devices of a mass storage device, returned sorted as /dev paths.
// Only the first interface is considered.
func (d Device) BlockDevs() ([]string, error) {
	ifaces, err := os.ReadDir(d.Path)
	if err != nil {
		return nil, err
	}

	var blocks []string
	for _, iface := range ifaces {
		if !strings.HasSuffix(iface.Name(), ":1.0") {
			continue
		}
		ifacePath := filepath.Join(d.Path, iface.Name())
		hosts, err := childrenWithPrefix(ifacePath, "host")
		if err != nil {
			return nil, err
		}
		for _, host := range hosts {
			hostPath := filepath.Join(ifacePath, host)
			hostID := strings.TrimPrefix(host, "host")
			targets, err := childrenWithPrefix(hostPath, "target"+hostID+":")
			if err != nil {
				return nil, err
			}
			for _, target := range targets {
				targetPath := filepath.Join(hostPath, target)
				targetID := strings.TrimPrefix(target, "target")
				disks, err := childrenWithPrefix(targetPath, targetID+":")
				if err != nil {
					return nil, err
				}
				for _, disk := range disks {
					names, err := childrenWithPrefix(filepath.Join(targetPath, disk, "block"), "")
					if errors.Is(err, os.ErrNotExist) {
						continue
					}
					if err != nil {
						return nil, err
					}
					for _, name := range names {
						blocks = append(blocks, filepath.Join(d.devDir, name))
					}
				}
			}
		}
	}
	sort.Strings(blocks)
	return blocks, nil
}

// HubClass is the USB generation a benchmark hub serves.
type HubClass int

const (
	Usb2 HubClass = iota + 1
	Usb3
)

// Hub is one of the two hubs built into a keyboard with USB ports.
type Hub struct {
	Device
	Class HubClass
}

// Hubs finds every hub matching set.
func (s Sysfs) Hubs(set config.HubSet) ([]Hub, error) {
	devs, err := s.Devices()
	if err != nil {
		return nil, err
	}
	var hubs []Hub
	for _, dev := range devs {
		vendor, err := dev.VendorID()
		if err != nil {
			return nil, err
		}
		product, err := dev.ProductID()
		if err != nil {
			return nil, err
		}
		if vendor != set.Vendor {
			continue
		}
		switch product {
		case set.Usb2:
			hubs = append(hubs, Hub{Device: dev, Class: Usb2})
		case set.Usb3:
			hubs = append(hubs, Hub{Device: dev, Class: Usb3})
		}
	}
	return hubs, nil
}

// Ports maps port numbers of the hub to whatever is attached to them. The
// device of an empty port does not exist.
func (h Hub) Ports() (map[string]Device, error) {
	name := h.Name()
	ifacePath := filepath.Join(h.Path, name+":1.0")
	prefix := name + "-port"
	entries, err := childrenWithPrefix(ifacePath, prefix)
	if err != nil {
		return nil, err
	}
	ports := make(map[string]Device, len(entries))
	for _, entry := range entries {
		ports[strings.TrimPrefix(entry, prefix)] = Device{
			Path:   filepath.Join(ifacePath, entry, "device"),
			devDir: h.devDir,
		}
	}
	return ports, nil
}

// Bootloaded is a keyboard sitting in its firmware bootloader.
type Bootloaded struct {
	// Name is the sysfs device name, stable while the device stays plugged in.
	Name    string
	Chip    string
	Vendor  uint16
	Product uint16
}

// Bootloaders lists attached devices matching one of ids.
func (s Sysfs) Bootloaders(ids []config.DeviceID) ([]Bootloaded, error) {
	devs, err := s.Devices()
	if err != nil {
		return nil, err
	}
	var out []Bootloaded
	for _, dev := range devs {
		vendor, err := dev.VendorID()
		if err != nil {
			continue
		}
		product, err := dev.ProductID()
		if err != nil {
			continue
		}
		for _, id := range ids {
			if id.Vendor == vendor && id.Product == product {
				out = append(out, Bootloaded{Name: dev.Name(), Chip: id.Name, Vendor: vendor, Product: product})
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
