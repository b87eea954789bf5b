// Package enumerate finds keyboard ECs and opens sessions to them.
package enumerate

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/mil-ad/kbdctl/internal/config"
	"github.com/mil-ad/kbdctl/internal/ec"
)

// HidInfo describes one HID interface as reported by the lister.
type HidInfo struct {
	Path         string `json:"path"`
	VendorID     uint16 `json:"vendor_id"`
	ProductID    uint16 `json:"product_id"`
	SerialNumber string `json:"serial_number,omitempty"`
	// InterfaceNumber is config.AnyInterface when the backend cannot tell;
	// hidraw has one node per interface but does not always expose it.
	InterfaceNumber int `json:"interface_number"`
}

// Matches reports whether info is the interface described by id.
func (i HidInfo) Matches(id config.DeviceID) bool {
	return id.Matches(i.VendorID, i.ProductID, i.InterfaceNumber)
}

func (i HidInfo) String() string {
	return fmt.Sprintf("%04x:%04x at %s", i.VendorID, i.ProductID, i.Path)
}

// Kind tells a keyboard apart from the test fixture.
type Kind int

const (
	KindBoard Kind = iota + 1
	KindNelson
)

// Candidate is an enumerated device worth opening.
type Candidate struct {
	Info HidInfo
	Kind Kind
	Name string
}

// Lister returns every HID interface currently attached.
type Lister interface {
	List() ([]HidInfo, error)
}

// Opener opens a device node on behalf of an unprivileged process.
type Opener interface {
	OpenDev(path string) (*os.File, error)
}

// DirectOpener opens a frame device without elevation.
type DirectOpener func(path string) (ec.FrameDevice, error)

// Enumerator filters the lister's devices to known hardware and opens EC
// sessions to them.
type Enumerator struct {
	lister  Lister
	devices config.Devices
	helper  Opener
	direct  DirectOpener
	openLpc func(time.Duration) (*ec.Lpc, error)

	retries    int
	timeout    time.Duration
	lpcTimeout time.Duration

	logger *log.Logger
}

type Option func(*Enumerator)

// WithHelper routes device opens through a privileged helper.
func WithHelper(h Opener) Option {
	return func(e *Enumerator) {
		e.helper = h
	}
}

// WithDirectOpener replaces the default hidraw open used without a helper.
func WithDirectOpener(open DirectOpener) Option {
	return func(e *Enumerator) {
		if open != nil {
			e.direct = open
		}
	}
}

// WithLpcOpener replaces ec.OpenLpc.
func WithLpcOpener(open func(time.Duration) (*ec.Lpc, error)) Option {
	return func(e *Enumerator) {
		if open != nil {
			e.openLpc = open
		}
	}
}

// WithTiming sets the HID retry budget and timeouts.
func WithTiming(retries int, timeout, lpcTimeout time.Duration) Option {
	return func(e *Enumerator) {
		e.retries = retries
		e.timeout = timeout
		e.lpcTimeout = lpcTimeout
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(e *Enumerator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New returns an enumerator over lister recognizing devices.
func New(lister Lister, devices config.Devices, opts ...Option) *Enumerator {
	defaults := config.Defaults()
	e := &Enumerator{
		lister:     lister,
		devices:    devices,
		direct:     openHidRaw,
		openLpc:    ec.OpenLpc,
		retries:    defaults.HidRetries,
		timeout:    defaults.HidTimeout,
		lpcTimeout: defaults.LpcTimeout,
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func openHidRaw(path string) (ec.FrameDevice, error) {
	return ec.OpenHidRaw(path)
}

// Enumerate lists attached keyboards and the nelson fixture. A listing
// failure is logged and reported as no devices.
func (e *Enumerator) Enumerate() []Candidate {
	if e.lister == nil {
		return nil
	}
	infos, err := e.lister.List()
	if err != nil {
		e.logger.Printf("Failed to list USB HID devices: %v", err)
		return nil
	}

	var out []Candidate
	for _, info := range infos {
		if info.Matches(e.devices.Nelson) {
			out = append(out, Candidate{Info: info, Kind: KindNelson, Name: e.devices.Nelson.Name})
			continue
		}
		if board, ok := e.devices.Board(info.VendorID, info.ProductID, info.InterfaceNumber); ok {
			out = append(out, Candidate{Info: info, Kind: KindBoard, Name: board.Name})
		}
	}
	return out
}

// Open opens info and probes the EC behind it. With a helper the node is
// opened by the helper; otherwise the direct opener is used.
func (e *Enumerator) Open(info HidInfo) (*ec.Ec, error) {
	var dev ec.FrameDevice
	if e.helper != nil && strings.HasPrefix(info.Path, "/dev/") {
		file, err := e.helper.OpenDev(info.Path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", info.Path, err)
		}
		dev = ec.NewHidRaw(file)
	} else {
		d, err := e.direct(info.Path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", info.Path, err)
		}
		dev = d
	}

	access := ec.NewHid(dev, e.retries, e.timeout)
	session, err := ec.New(access)
	if err != nil {
		access.Close()
		return nil, fmt.Errorf("probe %s: %w", info.Path, err)
	}
	return session, nil
}

// OpenLpc probes the EC on the LPC bus of this machine.
func (e *Enumerator) OpenLpc() (*ec.Ec, error) {
	access, err := e.openLpc(e.lpcTimeout)
	if err != nil {
		return nil, fmt.Errorf("access LPC EC: %w", err)
	}
	session, err := ec.New(access)
	if err != nil {
		access.Close()
		return nil, fmt.Errorf("probe LPC EC: %w", err)
	}
	return session, nil
}
