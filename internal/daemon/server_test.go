package daemon

import (
	"io"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mil-ad/kbdctl/internal/config"
	"github.com/mil-ad/kbdctl/internal/ec"
	"github.com/mil-ad/kbdctl/internal/ec/ectest"
	"github.com/mil-ad/kbdctl/internal/enumerate"
	"github.com/mil-ad/kbdctl/internal/protocol"
)

var (
	launchInfo = enumerate.HidInfo{Path: "/dev/hidraw1", VendorID: 0x3384, ProductID: 0x0001, InterfaceNumber: 1}
	otherInfo  = enumerate.HidInfo{Path: "/dev/hidraw2", VendorID: 0x3384, ProductID: 0x0005, InterfaceNumber: 1}
	nelsonInfo = enumerate.HidInfo{Path: "/dev/hidraw3", VendorID: 0x1776, ProductID: 0x1776, InterfaceNumber: 0}
	mouseInfo  = enumerate.HidInfo{Path: "/dev/hidraw4", VendorID: 0x046d, ProductID: 0xc52b, InterfaceNumber: 1}
)

type fakeHardware struct {
	mu    sync.Mutex
	infos []enumerate.HidInfo
	devs  map[string]*ectest.FakeEC
}

func (h *fakeHardware) List() ([]enumerate.HidInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]enumerate.HidInfo(nil), h.infos...), nil
}

func (h *fakeHardware) open(path string) (ec.FrameDevice, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	dev, ok := h.devs[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return dev, nil
}

func (h *fakeHardware) plug(info enumerate.HidInfo, dev *ectest.FakeEC) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.infos = append(h.infos, info)
	h.devs[info.Path] = dev
}

func (h *fakeHardware) unplug(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, info := range h.infos {
		if info.Path == path {
			h.infos = append(h.infos[:i], h.infos[i+1:]...)
			break
		}
	}
	h.devs[path].Unplug()
	delete(h.devs, path)
}

var quiet = log.New(io.Discard, "", 0)

func newTestServer(t *testing.T, hw *fakeHardware, opts ...ServerOption) *Server {
	t.Helper()
	enum := enumerate.New(hw, config.DefaultDevices(),
		enumerate.WithTiming(3, time.Millisecond, time.Millisecond),
		enumerate.WithDirectOpener(hw.open),
		enumerate.WithLogger(quiet),
	)
	opts = append([]ServerOption{
		WithLpc(false),
		WithSleep(func(time.Duration) {}),
		WithServerLogger(quiet),
	}, opts...)
	s := NewServer(enum, opts...)
	t.Cleanup(func() { s.Exit() })
	return s
}

func newHardware() *fakeHardware {
	return &fakeHardware{devs: make(map[string]*ectest.FakeEC)}
}

func onlyBoard(t *testing.T, d Daemon) protocol.BoardID {
	t.Helper()
	ids, err := d.Boards()
	require.NoError(t, err)
	require.Len(t, ids, 1)
	return ids[0]
}

func TestServerFindsLaunch(t *testing.T) {
	t.Parallel()

	hw := newHardware()
	hw.plug(launchInfo, ectest.New("system76/launch_1", "1.2.3"))
	hw.plug(mouseInfo, ectest.New("mouse", ""))
	s := newTestServer(t, hw)

	id := onlyBoard(t, s)
	model, err := s.Model(id)
	require.NoError(t, err)
	assert.Equal(t, "system76/launch_1", model)

	version, err := s.Version(id)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", version)
	assert.False(t, s.IsFake())
}

func TestServerRefresh(t *testing.T) {
	t.Parallel()

	hw := newHardware()
	hw.plug(launchInfo, ectest.New("system76/launch_1", "1.0"))
	s := newTestServer(t, hw)
	first := onlyBoard(t, s)

	require.NoError(t, s.Refresh())
	require.NoError(t, s.Refresh())
	assert.Equal(t, first, onlyBoard(t, s), "refresh keeps ids of live boards")

	hw.plug(otherInfo, ectest.New("system76/launch_2", "1.0"))
	require.NoError(t, s.Refresh())
	ids, err := s.Boards()
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, first, ids[0])

	hw.unplug(launchInfo.Path)
	require.NoError(t, s.Refresh())
	remaining := onlyBoard(t, s)
	assert.Equal(t, ids[1], remaining)

	_, err = s.Model(first)
	require.ErrorIs(t, err, ErrUnknownBoard)
}

func TestServerSkipsUnopenable(t *testing.T) {
	t.Parallel()

	hw := newHardware()
	broken := ectest.New("x", "")
	broken.Timeouts(1000)
	hw.plug(launchInfo, broken)
	s := newTestServer(t, hw)

	ids, err := s.Boards()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestServerUnknownBoard(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, newHardware())
	_, err := s.Model(protocol.NewBoardID())
	require.ErrorIs(t, err, ErrUnknownBoard)
	assert.Equal(t, protocol.KindUnknownBoard, Kind(err))

	err = s.SetColor(protocol.NewBoardID(), AllLeds, protocol.Hs{})
	require.ErrorIs(t, err, ErrUnknownBoard)
}

func TestServerKeymapAndLeds(t *testing.T) {
	t.Parallel()

	hw := newHardware()
	fake := ectest.New("system76/launch_1", "1.0")
	hw.plug(launchInfo, fake)
	s := newTestServer(t, hw)
	id := onlyBoard(t, s)

	require.NoError(t, s.KeymapSet(id, 1, 2, 3, 0x1234))
	assert.Equal(t, uint16(0x1234), fake.Keymap(1, 2, 3))
	v, err := s.KeymapGet(id, 1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), v)

	require.NoError(t, s.SetMode(id, 0, 7, 128))
	mode, err := s.Mode(id, 0)
	require.NoError(t, err)
	assert.Equal(t, protocol.ModeValue{Mode: 7, Speed: 128}, mode)

	require.NoError(t, s.LedSave(id))
	assert.Equal(t, 1, fake.Saves())

	require.NoError(t, s.SetNoInput(id, true))
	assert.True(t, fake.NoInput())
}

func TestServerColor(t *testing.T) {
	t.Parallel()

	hw := newHardware()
	fake := ectest.New("system76/launch_1", "1.0")
	hw.plug(launchInfo, fake)
	s := newTestServer(t, hw)
	id := onlyBoard(t, s)

	// layer indices carry native hue and saturation bytes
	require.NoError(t, s.SetColor(id, 0xF0, protocol.HsFromInts(10, 200)))
	assert.Equal(t, [3]uint8{10, 200, 0}, fake.Color(0xF0))
	got, err := s.Color(id, 0xF0)
	require.NoError(t, err)
	assert.Equal(t, protocol.HsFromInts(10, 200), got)

	// single keys are plain RGB
	red := protocol.Rgb{R: 255}
	require.NoError(t, s.SetColor(id, 3, red.Hs()))
	assert.Equal(t, [3]uint8{255, 0, 0}, fake.Color(3))
	got, err = s.Color(id, 3)
	require.NoError(t, err)
	assert.Equal(t, red, got.Rgb())
}

func TestServerBrightness(t *testing.T) {
	t.Parallel()

	hw := newHardware()
	fake := ectest.New("system76/launch_1", "1.0")
	fake.SetValue(0xF0, 40, 255)
	hw.plug(launchInfo, fake)
	s := newTestServer(t, hw)
	id := onlyBoard(t, s)

	max, err := s.MaxBrightness(id)
	require.NoError(t, err)
	assert.Equal(t, 255, max)

	require.NoError(t, s.SetBrightness(id, 0xF0, 100))
	b, err := s.Brightness(id, 0xF0)
	require.NoError(t, err)
	assert.Equal(t, 100, b)

	require.ErrorIs(t, s.SetBrightness(id, 0xF0, 300), ec.ErrParameter)

	_, err = s.Brightness(id, 5)
	var protoErr *ec.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, protocol.KindProtocol, Kind(err))
}

func TestServerMatrix(t *testing.T) {
	t.Parallel()

	hw := newHardware()
	fake := ectest.New("system76/launch_1", "1.0")
	hw.plug(launchInfo, fake)
	s := newTestServer(t, hw)
	id := onlyBoard(t, s)

	_, err := s.MatrixGet(id)
	require.Error(t, err)

	want := protocol.NewMatrix(6, 16)
	want.Set(5, 15, true)
	fake.SetMatrix(func() protocol.Matrix { return want })
	got, err := s.MatrixGet(id)
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
}

func TestServerBenchmarkUnsupported(t *testing.T) {
	t.Parallel()

	hw := newHardware()
	hw.plug(launchInfo, ectest.New("system76/launch_1", "1.0"))
	s := newTestServer(t, hw)

	_, err := s.Benchmark(onlyBoard(t, s))
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestServerExit(t *testing.T) {
	t.Parallel()

	hw := newHardware()
	hw.plug(launchInfo, ectest.New("system76/launch_1", "1.0"))
	s := newTestServer(t, hw)
	id := onlyBoard(t, s)

	require.NoError(t, s.Exit())
	require.NoError(t, s.Exit())
	_, err := s.Model(id)
	require.ErrorIs(t, err, ErrUnknownBoard)
}

func TestServerRefreshAfterExit(t *testing.T) {
	t.Parallel()

	hw := newHardware()
	s := newTestServer(t, hw)
	require.NoError(t, s.Exit())

	hw.plug(launchInfo, ectest.New("system76/launch_1", "1.0"))
	require.NoError(t, s.Refresh())
	boards, err := s.Boards()
	require.NoError(t, err)
	assert.Empty(t, boards)
}
