package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// AnyInterface matches a device regardless of its USB interface number.
const AnyInterface = -1

// DeviceID identifies a USB HID interface of a known device.
type DeviceID struct {
	Name      string `yaml:"name"`
	Vendor    uint16 `yaml:"vendor"`
	Product   uint16 `yaml:"product"`
	Interface int    `yaml:"interface"`
}

func (d DeviceID) String() string {
	return fmt.Sprintf("%04x:%04x", d.Vendor, d.Product)
}

// HubSet is the pair of hub ids the benchmark fixture enumerates as.
type HubSet struct {
	Vendor uint16 `yaml:"vendor"`
	Usb2   uint16 `yaml:"usb2"`
	Usb3   uint16 `yaml:"usb3"`
}

// Devices is the table of hardware the daemon recognizes.
type Devices struct {
	Boards      []DeviceID `yaml:"boards"`
	Nelson      DeviceID   `yaml:"nelson"`
	Hubs        HubSet     `yaml:"hubs"`
	Bootloaders []DeviceID `yaml:"bootloaders"`
}

const launchVendor = 0x3384

// DefaultDevices returns the compiled-in device table.
func DefaultDevices() Devices {
	launch := func(product uint16, name string) DeviceID {
		return DeviceID{Name: name, Vendor: launchVendor, Product: product, Interface: 1}
	}
	return Devices{
		Boards: []DeviceID{
			launch(0x0001, "launch_1"),
			launch(0x0005, "launch_lite_1"),
			launch(0x0006, "launch_2"),
			launch(0x0007, "launch_heavy_1"),
			launch(0x0009, "launch_3"),
			launch(0x000A, "launch_heavy_3"),
			launch(0x000B, "launch_lite_3"),
		},
		Nelson: DeviceID{Name: "nelson", Vendor: 0x1776, Product: 0x1776, Interface: 0},
		Hubs:   HubSet{Vendor: launchVendor, Usb2: 0x0003, Usb3: 0x0004},
		Bootloaders: []DeviceID{
			{Name: "ATmega32u4", Vendor: 0x03eb, Product: 0x2ff4, Interface: AnyInterface},
			{Name: "AT90USB646", Vendor: 0x03eb, Product: 0x2ff9, Interface: AnyInterface},
		},
	}
}

// DevicesPath is where LoadDevices looks when no file is configured.
func DevicesPath() string {
	return filepath.Join(Dir(), "devices.yaml")
}

// LoadDevices reads a device table from path. An empty path means
// DevicesPath(); a missing default file yields DefaultDevices. Sections left
// out of the file keep their defaults.
func LoadDevices(path string) (Devices, error) {
	explicit := path != ""
	if !explicit {
		path = DevicesPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return DefaultDevices(), nil
		}
		return Devices{}, fmt.Errorf("read devices: %w", err)
	}
	return ParseDevices(data)
}

// ParseDevices decodes a YAML device table over the defaults.
func ParseDevices(data []byte) (Devices, error) {
	var file Devices
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return Devices{}, fmt.Errorf("parse devices: %w", err)
	}

	d := Normalize(file)
	if err := Validate(d); err != nil {
		return Devices{}, err
	}
	return d, nil
}

// Normalize fills sections missing from d with their defaults.
func Normalize(d Devices) Devices {
	def := DefaultDevices()
	if len(d.Boards) == 0 {
		d.Boards = def.Boards
	}
	if d.Nelson == (DeviceID{}) {
		d.Nelson = def.Nelson
	}
	if d.Hubs == (HubSet{}) {
		d.Hubs = def.Hubs
	}
	if len(d.Bootloaders) == 0 {
		d.Bootloaders = def.Bootloaders
	}
	return d
}

// Validate checks the table without changing it.
func Validate(d Devices) error {
	seen := make(map[[2]uint16]string)
	check := func(kind string, id DeviceID) error {
		if id.Vendor == 0 || id.Product == 0 {
			return fmt.Errorf("%s %q: vendor and product must be non-zero", kind, id.Name)
		}
		if id.Interface < AnyInterface {
			return fmt.Errorf("%s %q: invalid interface %d", kind, id.Name, id.Interface)
		}
		key := [2]uint16{id.Vendor, id.Product}
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("%s %q: %s already used by %q", kind, id.Name, id, prev)
		}
		seen[key] = id.Name
		return nil
	}

	for _, b := range d.Boards {
		if err := check("board", b); err != nil {
			return err
		}
	}
	if err := check("nelson", d.Nelson); err != nil {
		return err
	}
	for _, b := range d.Bootloaders {
		if err := check("bootloader", b); err != nil {
			return err
		}
	}
	if d.Hubs.Vendor == 0 || d.Hubs.Usb2 == 0 || d.Hubs.Usb3 == 0 {
		return errors.New("hubs: vendor and products must be non-zero")
	}
	if d.Hubs.Usb2 == d.Hubs.Usb3 {
		return errors.New("hubs: usb2 and usb3 products must differ")
	}
	return nil
}

// Board returns the keyboard entry matching vendor:product on iface.
func (d Devices) Board(vendor, product uint16, iface int) (DeviceID, bool) {
	for _, b := range d.Boards {
		if b.Matches(vendor, product, iface) {
			return b, true
		}
	}
	return DeviceID{}, false
}

// Matches compares ids and, unless either side is AnyInterface, the
// interface number.
func (d DeviceID) Matches(vendor, product uint16, iface int) bool {
	if d.Vendor != vendor || d.Product != product {
		return false
	}
	return d.Interface == AnyInterface || iface == AnyInterface || d.Interface == iface
}
