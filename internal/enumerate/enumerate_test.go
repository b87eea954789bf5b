package enumerate

import (
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mil-ad/kbdctl/internal/config"
	"github.com/mil-ad/kbdctl/internal/ec"
	"github.com/mil-ad/kbdctl/internal/ec/ectest"
)

type staticLister struct {
	infos []HidInfo
	err   error
}

func (l staticLister) List() ([]HidInfo, error) {
	return l.infos, l.err
}

type refusingHelper struct {
	paths []string
}

func (h *refusingHelper) OpenDev(path string) (*os.File, error) {
	h.paths = append(h.paths, path)
	return nil, syscall.EACCES
}

var attached = []HidInfo{
	{Path: "/dev/hidraw0", VendorID: 0x3384, ProductID: 0x0001, InterfaceNumber: 0},
	{Path: "/dev/hidraw1", VendorID: 0x3384, ProductID: 0x0001, InterfaceNumber: 1},
	{Path: "/dev/hidraw2", VendorID: 0x046d, ProductID: 0xc52b, InterfaceNumber: 1},
	{Path: "/dev/hidraw3", VendorID: 0x1776, ProductID: 0x1776, InterfaceNumber: 0},
	{Path: "/dev/hidraw4", VendorID: 0x3384, ProductID: 0x0009, InterfaceNumber: config.AnyInterface},
}

func TestEnumerateFiltersKnownDevices(t *testing.T) {
	t.Parallel()

	e := New(staticLister{infos: attached}, config.DefaultDevices())
	got := e.Enumerate()

	require.Len(t, got, 3)
	assert.Equal(t, "/dev/hidraw1", got[0].Info.Path)
	assert.Equal(t, KindBoard, got[0].Kind)
	assert.Equal(t, "launch_1", got[0].Name)
	assert.Equal(t, KindNelson, got[1].Kind)
	assert.Equal(t, "/dev/hidraw4", got[2].Info.Path, "unknown interface matches")
}

func TestEnumerateListFailure(t *testing.T) {
	t.Parallel()

	e := New(staticLister{err: errors.New("no hidapi")}, config.DefaultDevices())
	assert.Empty(t, e.Enumerate())
	assert.Empty(t, New(nil, config.DefaultDevices()).Enumerate())
}

func TestOpenDirect(t *testing.T) {
	t.Parallel()

	fake := ectest.New("system76/launch_1", "1.0")
	var opened string
	e := New(nil, config.DefaultDevices(),
		WithTiming(2, time.Millisecond, time.Millisecond),
		WithDirectOpener(func(path string) (ec.FrameDevice, error) {
			opened = path
			return fake, nil
		}),
	)

	session, err := e.Open(attached[1])
	require.NoError(t, err)
	assert.Equal(t, "/dev/hidraw1", opened)
	assert.True(t, session.IsHid())

	board, err := session.Board()
	require.NoError(t, err)
	assert.Equal(t, "system76/launch_1", board)
}

func TestOpenProbeFailure(t *testing.T) {
	t.Parallel()

	fake := ectest.New("x", "y")
	fake.Timeouts(100)
	e := New(nil, config.DefaultDevices(),
		WithTiming(2, time.Millisecond, time.Millisecond),
		WithDirectOpener(func(string) (ec.FrameDevice, error) { return fake, nil }),
	)

	_, err := e.Open(attached[1])
	require.ErrorIs(t, err, ec.ErrTimeout)
}

func TestOpenThroughHelper(t *testing.T) {
	t.Parallel()

	helper := &refusingHelper{}
	e := New(nil, config.DefaultDevices(),
		WithHelper(helper),
		WithDirectOpener(func(string) (ec.FrameDevice, error) {
			t.Fatal("direct opener used with a helper")
			return nil, nil
		}),
	)

	_, err := e.Open(attached[1])
	require.ErrorIs(t, err, syscall.EACCES)
	assert.Equal(t, []string{"/dev/hidraw1"}, helper.paths)
}

func TestOpenLpc(t *testing.T) {
	t.Parallel()

	e := New(nil, config.DefaultDevices(), WithLpcOpener(func(time.Duration) (*ec.Lpc, error) {
		return nil, os.ErrPermission
	}))
	_, err := e.OpenLpc()
	require.ErrorIs(t, err, os.ErrPermission)
}
