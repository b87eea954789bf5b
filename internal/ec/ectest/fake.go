// Package ectest provides an in-memory EC that speaks the HID frame format.
package ectest

import (
	"errors"
	"sync"
	"time"

	"github.com/mil-ad/kbdctl/internal/ec"
	"github.com/mil-ad/kbdctl/internal/protocol"
)

const (
	frameSize = 33
	dataSize  = frameSize - 3
)

// ErrClosed is returned by a FakeEC after Close or Unplug.
var ErrClosed = errors.New("ectest: device closed")

type keymapKey struct {
	layer, output, input uint8
}

// FakeEC simulates keyboard firmware behind a hidraw node. The zero value is
// not usable; call New.
type FakeEC struct {
	mu sync.Mutex

	board   string
	version string

	keymap map[keymapKey]uint16
	values map[uint8][2]uint8
	colors map[uint8][3]uint8
	modes  map[uint8][2]uint8

	matrix   func() protocol.Matrix
	statuses map[ec.Cmd]uint8
	noInput  bool
	saves    int

	timeouts int
	partial  bool
	shortW   bool
	closed   bool

	writes int
	reply  []byte
}

// New returns a fake board reporting the given model and firmware version.
func New(board, version string) *FakeEC {
	return &FakeEC{
		board:    board,
		version:  version,
		keymap:   make(map[keymapKey]uint16),
		values:   make(map[uint8][2]uint8),
		colors:   make(map[uint8][3]uint8),
		modes:    make(map[uint8][2]uint8),
		statuses: make(map[ec.Cmd]uint8),
	}
}

// SetKeymap seeds one keymap entry.
func (f *FakeEC) SetKeymap(layer, output, input uint8, value uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keymap[keymapKey{layer, output, input}] = value
}

// Keymap returns the stored keymap entry.
func (f *FakeEC) Keymap(layer, output, input uint8) uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keymap[keymapKey{layer, output, input}]
}

// SetValue seeds the value and maximum of LED index.
func (f *FakeEC) SetValue(index, value, max uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[index] = [2]uint8{value, max}
}

// Value returns the current value of LED index.
func (f *FakeEC) Value(index uint8) uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[index][0]
}

// Color returns the raw color bytes stored for LED index.
func (f *FakeEC) Color(index uint8) [3]uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.colors[index]
}

// SetColor seeds the raw color bytes of LED index.
func (f *FakeEC) SetColor(index uint8, c [3]uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.colors[index] = c
}

// Mode returns the mode and speed stored for layer.
func (f *FakeEC) Mode(layer uint8) (mode, speed uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.modes[layer]
	return m[0], m[1]
}

// SetMatrix installs the function consulted on every matrix read. Without
// one the board does not support matrix reads.
func (f *FakeEC) SetMatrix(fn func() protocol.Matrix) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matrix = fn
}

// FailWith makes every cmd reply with the given non-zero status.
func (f *FakeEC) FailWith(cmd ec.Cmd, status uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[cmd] = status
}

// Timeouts makes the next n reads return nothing.
func (f *FakeEC) Timeouts(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeouts = n
}

// Partial makes the next read return a truncated reply.
func (f *FakeEC) Partial() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partial = true
}

// ShortWrite makes the next write report fewer bytes than requested.
func (f *FakeEC) ShortWrite() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shortW = true
}

// Unplug makes every later access fail, as a removed device does.
func (f *FakeEC) Unplug() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// Writes counts frames written so far.
func (f *FakeEC) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// Saves counts LED save commands.
func (f *FakeEC) Saves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

// NoInput reports the last set_no_input value.
func (f *FakeEC) NoInput() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.noInput
}

func (f *FakeEC) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrClosed
	}
	f.writes++
	if f.shortW {
		f.shortW = false
		return len(p) - 1, nil
	}
	if len(p) != frameSize {
		return 0, errors.New("ectest: bad frame size")
	}

	cmd := ec.Cmd(p[1])
	data := make([]byte, dataSize)
	copy(data, p[3:])
	status := f.handle(cmd, data)
	if s, ok := f.statuses[cmd]; ok {
		status = s
	}

	f.reply = make([]byte, frameSize-1)
	f.reply[0] = uint8(cmd)
	f.reply[1] = status
	copy(f.reply[2:], data)
	return len(p), nil
}

func (f *FakeEC) handle(cmd ec.Cmd, data []byte) uint8 {
	switch cmd {
	case ec.CmdProbe:
		data[0], data[1], data[2] = 0x76, 0xEC, 1
	case ec.CmdBoard:
		clear(data)
		copy(data, f.board)
	case ec.CmdVersion:
		clear(data)
		copy(data, f.version)
	case ec.CmdKeymapGet:
		v := f.keymap[keymapKey{data[0], data[1], data[2]}]
		data[3], data[4] = uint8(v), uint8(v>>8)
	case ec.CmdKeymapSet:
		f.keymap[keymapKey{data[0], data[1], data[2]}] = uint16(data[3]) | uint16(data[4])<<8
	case ec.CmdLedGetValue:
		v, ok := f.values[data[0]]
		if !ok {
			return 1
		}
		data[1], data[2] = v[0], v[1]
	case ec.CmdLedSetValue:
		v := f.values[data[0]]
		v[0] = data[1]
		f.values[data[0]] = v
	case ec.CmdLedGetColor:
		c := f.colors[data[0]]
		data[1], data[2], data[3] = c[0], c[1], c[2]
	case ec.CmdLedSetColor:
		f.colors[data[0]] = [3]uint8{data[1], data[2], data[3]}
	case ec.CmdLedGetMode:
		m := f.modes[data[0]]
		data[1], data[2] = m[0], m[1]
	case ec.CmdLedSetMode:
		f.modes[data[0]] = [2]uint8{data[1], data[2]}
	case ec.CmdLedSave:
		f.saves++
	case ec.CmdMatrixGet:
		if f.matrix == nil {
			return 1
		}
		// The hook may consult other fakes, so it runs without f.mu.
		fn := f.matrix
		f.mu.Unlock()
		m := fn()
		f.mu.Lock()
		clear(data)
		data[0], data[1] = uint8(m.Rows), uint8(m.Cols)
		copy(data[2:], m.Data)
	case ec.CmdSetNoInput:
		f.noInput = data[0] != 0
	default:
		return 1
	}
	return 0
}

func (f *FakeEC) ReadTimeout(p []byte, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrClosed
	}
	if f.timeouts > 0 {
		f.timeouts--
		return 0, nil
	}
	if f.reply == nil {
		return 0, nil
	}
	reply := f.reply
	f.reply = nil
	if f.partial {
		f.partial = false
		return copy(p, reply[:len(reply)/2]), nil
	}
	return copy(p, reply), nil
}

// Close is a no-op so a fake can be reopened after its session is dropped.
func (f *FakeEC) Close() error {
	return nil
}

// Hid wraps f in a HID access with a single-read timeout budget.
func (f *FakeEC) Hid(retries int) *ec.Hid {
	return ec.NewHid(f, retries, time.Millisecond)
}
