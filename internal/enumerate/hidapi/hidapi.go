// Package hidapi lists and opens HID devices through libhidapi.
package hidapi

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sstallion/go-hid"

	"github.com/mil-ad/kbdctl/internal/config"
	"github.com/mil-ad/kbdctl/internal/ec"
	"github.com/mil-ad/kbdctl/internal/enumerate"
)

var initOnce = sync.OnceValue(hid.Init)

// Lister enumerates attached devices with hid_enumerate.
type Lister struct{}

func (Lister) List() ([]enumerate.HidInfo, error) {
	if err := initOnce(); err != nil {
		return nil, fmt.Errorf("hid init: %w", err)
	}
	var out []enumerate.HidInfo
	err := hid.Enumerate(hid.VendorIDAny, hid.ProductIDAny, func(info *hid.DeviceInfo) error {
		iface := info.InterfaceNbr
		if iface < 0 {
			iface = config.AnyInterface
		}
		out = append(out, enumerate.HidInfo{
			Path:            info.Path,
			VendorID:        info.VendorID,
			ProductID:       info.ProductID,
			SerialNumber:    info.SerialNbr,
			InterfaceNumber: iface,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hid enumerate: %w", err)
	}
	return out, nil
}

// device adapts a hidapi handle to ec.FrameDevice.
type device struct {
	dev *hid.Device
}

// Open opens path with hid_open_path.
func Open(path string) (ec.FrameDevice, error) {
	if err := initOnce(); err != nil {
		return nil, fmt.Errorf("hid init: %w", err)
	}
	dev, err := hid.OpenPath(path)
	if err != nil {
		return nil, err
	}
	return &device{dev: dev}, nil
}

func (d *device) Write(p []byte) (int, error) {
	return d.dev.Write(p)
}

func (d *device) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	n, err := d.dev.ReadWithTimeout(p, timeout)
	if errors.Is(err, hid.ErrTimeout) {
		return 0, nil
	}
	return n, err
}

func (d *device) Close() error {
	return d.dev.Close()
}
