package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mil-ad/kbdctl/internal/backend"
	"github.com/mil-ad/kbdctl/internal/benchmark"
	"github.com/mil-ad/kbdctl/internal/daemon"
	"github.com/mil-ad/kbdctl/internal/ec"
	"github.com/mil-ad/kbdctl/internal/enumerate"
	"github.com/mil-ad/kbdctl/internal/enumerate/hidapi"
	"github.com/mil-ad/kbdctl/internal/roothelper"
	"github.com/mil-ad/kbdctl/internal/usb"
)

// openDevice opens hidraw nodes directly and anything else through hidapi.
func openDevice(path string) (ec.FrameDevice, error) {
	if strings.HasPrefix(path, "/dev/") {
		return ec.OpenHidRaw(path)
	}
	return hidapi.Open(path)
}

func helperLpc(h *roothelper.Helper) func(time.Duration) (*ec.Lpc, error) {
	return func(timeout time.Duration) (*ec.Lpc, error) {
		if err := ec.CheckVendor(); err != nil {
			return nil, err
		}
		port, err := h.OpenDev(ec.PortPath)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", ec.PortPath, err)
		}
		return ec.NewLpc(port, timeout), nil
	}
}

// newServer talks to hardware from this process. A nil helper means the
// process can open device nodes itself.
func (a *app) newServer(helper *roothelper.Helper) *daemon.Server {
	opts := []enumerate.Option{
		enumerate.WithTiming(a.settings.HidRetries, a.settings.HidTimeout, a.settings.LpcTimeout),
		enumerate.WithDirectOpener(openDevice),
		enumerate.WithLogger(a.logger),
	}
	if helper != nil {
		opts = append(opts, enumerate.WithHelper(helper), enumerate.WithLpcOpener(helperLpc(helper)))
	}
	enum := enumerate.New(hidapi.Lister{}, a.devices, opts...)

	runner := benchmark.New(usb.Sysfs{}, a.devices.Hubs, benchmark.WithLogger(a.logger))
	return daemon.NewServer(enum,
		daemon.WithBenchmark(runner),
		daemon.WithSettle(a.settings.NelsonSettle),
		daemon.WithLpc(a.settings.LpcEnabled),
		daemon.WithServerLogger(a.logger),
	)
}

func (a *app) fakeNames() []string {
	names := make([]string, 0, len(a.devices.Boards))
	for _, board := range a.devices.Boards {
		names = append(names, "system76/"+board.Name)
	}
	return names
}

// openDaemon picks the daemon implementation selected by flags. The returned
// cleanup releases whatever the daemon needed beyond Exit.
func (a *app) openDaemon() (daemon.Daemon, func() error, error) {
	noop := func() error { return nil }

	switch {
	case a.fake:
		return daemon.NewDummy(a.fakeNames()), noop, nil
	case a.s76power:
		d, err := daemon.NewS76Power()
		if err != nil {
			return nil, nil, err
		}
		return d, noop, nil
	case a.pkexec:
		c, err := daemon.StartPkexec(a.settings.HelperCommand)
		if err != nil {
			return nil, nil, explainNotStarted(err)
		}
		return c, c.Close, nil
	case os.Geteuid() == 0:
		return a.newServer(nil), noop, nil
	default:
		helper, err := roothelper.Start(a.settings.HelperCommand)
		if err != nil {
			return nil, nil, explainNotStarted(err)
		}
		return a.newServer(helper), helper.Close, nil
	}
}

func explainNotStarted(err error) error {
	if errors.Is(err, daemon.ErrNotStarted) || errors.Is(err, roothelper.ErrNotStarted) {
		return fmt.Errorf("%w: permission to access keyboards was not granted", err)
	}
	return err
}

// openBackend starts the worker over the selected daemon and loads boards.
func (a *app) openBackend(opts ...backend.Option) (*backend.Thread, func(), error) {
	d, cleanup, err := a.openDaemon()
	if err != nil {
		return nil, nil, err
	}

	opts = append([]backend.Option{
		backend.WithLogger(a.logger),
		backend.WithTesting(a.settings.Testing),
		backend.WithRefreshInterval(a.settings.RefreshInterval),
		backend.WithBootloaders(usb.Sysfs{}, a.devices.Bootloaders),
	}, opts...)
	th := backend.New(d, opts...)

	closeAll := func() {
		if err := th.Close(); err != nil {
			a.logger.Printf("Failed to stop daemon: %v", err)
		}
		if err := cleanup(); err != nil {
			a.logger.Printf("Failed to clean up: %v", err)
		}
	}
	return th, closeAll, nil
}
