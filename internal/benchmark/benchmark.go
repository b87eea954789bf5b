// Package benchmark measures read speed through each port of the keyboard's
// built-in USB hubs.
package benchmark

import (
	"fmt"
	"log"

	"github.com/mil-ad/kbdctl/internal/config"
	"github.com/mil-ad/kbdctl/internal/protocol"
	"github.com/mil-ad/kbdctl/internal/usb"
)

// Ports 5 and 6 lead to the keyboard controller and an internal hub.
var portDescs = map[string]string{
	"1": "USB-C Right",
	"2": "USB-A Right",
	"3": "USB-A Left",
	"4": "USB-C Left",
}

type requirement struct {
	name string
	// MB/s a port must beat to prove it runs at this hub's generation
	speed float64
}

var requirements = map[usb.HubClass]requirement{
	// USB 1.1 tops out at 12 Mbps.
	usb.Usb2: {name: "USB 2.0", speed: 1.5},
	// USB 2.0 tops out at 480 Mbps.
	usb.Usb3: {name: "USB 3.2 Gen 2", speed: 60},
}

// HubCountError means the keyboard's hubs did not enumerate as expected.
type HubCountError struct {
	Class string
	Found int
}

func (e *HubCountError) Error() string {
	return fmt.Sprintf("Found %d %s hubs instead of 1", e.Found, e.Class)
}

// Sampler returns the read speed of a block device in MB/s.
type Sampler func(path string) (float64, error)

type Runner struct {
	sys    usb.Sysfs
	hubs   config.HubSet
	sample Sampler
	logger *log.Logger
}

type Option func(*Runner)

// WithSampler replaces ReadSpeed.
func WithSampler(s Sampler) Option {
	return func(r *Runner) {
		if s != nil {
			r.sample = s
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func New(sys usb.Sysfs, hubs config.HubSet, opts ...Option) *Runner {
	r := &Runner{sys: sys, hubs: hubs, sample: ReadSpeed, logger: log.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run benchmarks every external port. Exactly one hub of each class must be
// present; a port fails when empty, unreadable or too slow.
func (r *Runner) Run() (protocol.Benchmark, error) {
	hubs, err := r.sys.Hubs(r.hubs)
	if err != nil {
		return protocol.Benchmark{}, fmt.Errorf("probe hubs: %w", err)
	}

	counts := map[usb.HubClass]int{}
	for _, h := range hubs {
		counts[h.Class]++
	}
	if counts[usb.Usb2] != 1 {
		return protocol.Benchmark{}, &HubCountError{Class: "USB 2", Found: counts[usb.Usb2]}
	}
	if counts[usb.Usb3] != 1 {
		return protocol.Benchmark{}, &HubCountError{Class: "USB 3", Found: counts[usb.Usb3]}
	}

	results := make(map[string]protocol.PortResult)
	for _, hub := range hubs {
		req := requirements[hub.Class]
		ports, err := hub.Ports()
		if err != nil {
			return protocol.Benchmark{}, fmt.Errorf("list ports of %s: %w", hub.Name(), err)
		}
		for port, dev := range ports {
			desc, ok := portDescs[port]
			if !ok {
				continue
			}
			results[req.name+": "+desc] = r.port(dev, req)
		}
	}
	return protocol.Benchmark{PortResults: results}, nil
}

func (r *Runner) port(dev usb.Device, req requirement) protocol.PortResult {
	if !dev.Present() {
		return protocol.PortResult{Err: "no devices"}
	}
	blocks, err := dev.BlockDevs()
	if err != nil {
		return protocol.PortResult{Err: err.Error()}
	}

	best := -1.0
	for _, block := range blocks {
		speed, err := r.sample(block)
		if err != nil {
			r.logger.Printf("Failed to benchmark %s: %v", block, err)
			continue
		}
		best = max(best, speed)
	}

	switch {
	case best < 0:
		return protocol.PortResult{Err: "no accessible disks"}
	case best > req.speed:
		return protocol.PortResult{Speed: best}
	default:
		return protocol.PortResult{Err: fmt.Sprintf(
			"benchmarked speed of %.2f MB/s was less than required speed of %.2f MB/s",
			best, req.speed,
		)}
	}
}
