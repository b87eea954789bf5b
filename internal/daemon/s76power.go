package daemon

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/mil-ad/kbdctl/internal/protocol"
)

const (
	powerBusName      = "com.system76.PowerDaemon"
	powerPath         = "/com/system76/PowerDaemon"
	powerKeyboardPath = powerPath + "/keyboard"
	keyboardIface     = "com.system76.PowerDaemon.Keyboard"
	propsIface        = "org.freedesktop.DBus.Properties"
	objectManager     = "org.freedesktop.DBus.ObjectManager"
)

// keyboardBus is the slice of system76-power that S76Power needs.
type keyboardBus interface {
	Keyboards() ([]dbus.ObjectPath, error)
	Get(path dbus.ObjectPath, prop string) (dbus.Variant, error)
	Set(path dbus.ObjectPath, prop string, value any) error
	Close() error
}

// powerBus talks to system76-power on the system bus.
type powerBus struct {
	conn *dbus.Conn
}

func (b *powerBus) Keyboards() ([]dbus.ObjectPath, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	obj := b.conn.Object(powerBusName, powerPath)
	if err := obj.Call(objectManager+".GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, fmt.Errorf("list power daemon objects: %w", err)
	}
	var paths []dbus.ObjectPath
	for path := range objects {
		if strings.HasPrefix(string(path), powerKeyboardPath) {
			paths = append(paths, path)
		}
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths, nil
}

func (b *powerBus) Get(path dbus.ObjectPath, prop string) (dbus.Variant, error) {
	var v dbus.Variant
	obj := b.conn.Object(powerBusName, path)
	err := obj.Call(propsIface+".Get", 0, keyboardIface, prop).Store(&v)
	return v, err
}

func (b *powerBus) Set(path dbus.ObjectPath, prop string, value any) error {
	obj := b.conn.Object(powerBusName, path)
	return obj.Call(propsIface+".Set", 0, keyboardIface, prop, dbus.MakeVariant(value)).Err
}

func (b *powerBus) Close() error {
	return b.conn.Close()
}

// S76Power drives keyboard backlights through system76-power, which needs
// no elevation. Only whole-keyboard color and brightness are available.
type S76Power struct {
	mu     sync.Mutex
	bus    keyboardBus
	boards map[protocol.BoardID]dbus.ObjectPath
	ids    []protocol.BoardID
}

// NewS76Power connects to the system bus and lists keyboards.
func NewS76Power() (*S76Power, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	p, err := newS76Power(&powerBus{conn: conn})
	if err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func newS76Power(bus keyboardBus) (*S76Power, error) {
	p := &S76Power{
		bus:    bus,
		boards: make(map[protocol.BoardID]dbus.ObjectPath),
	}
	if err := p.refresh(); err != nil {
		return nil, err
	}
	return p, nil
}

// refresh keeps ids of keyboards that are still present.
func (p *S76Power) refresh() error {
	paths, err := p.bus.Keyboards()
	if err != nil {
		return err
	}
	present := make(map[dbus.ObjectPath]bool, len(paths))
	for _, path := range paths {
		present[path] = true
	}

	known := make(map[dbus.ObjectPath]bool, len(p.ids))
	ids := p.ids[:0]
	for _, id := range p.ids {
		path := p.boards[id]
		if !present[path] {
			delete(p.boards, id)
			continue
		}
		known[path] = true
		ids = append(ids, id)
	}
	p.ids = ids

	for _, path := range paths {
		if known[path] {
			continue
		}
		id := protocol.NewBoardID()
		p.boards[id] = path
		p.ids = append(p.ids, id)
	}
	return nil
}

func (p *S76Power) board(id protocol.BoardID) (dbus.ObjectPath, error) {
	path, ok := p.boards[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownBoard, id)
	}
	return path, nil
}

func (p *S76Power) get(board protocol.BoardID, prop string) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	path, err := p.board(board)
	if err != nil {
		return nil, err
	}
	v, err := p.bus.Get(path, prop)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", prop, err)
	}
	return v.Value(), nil
}

func (p *S76Power) getInt(board protocol.BoardID, prop string) (int, error) {
	v, err := p.get(board, prop)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int32)
	if !ok {
		return 0, fmt.Errorf("property %s is not int32", prop)
	}
	return int(n), nil
}

func (p *S76Power) set(board protocol.BoardID, prop string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	path, err := p.board(board)
	if err != nil {
		return err
	}
	if err := p.bus.Set(path, prop, value); err != nil {
		return fmt.Errorf("set %s: %w", prop, err)
	}
	return nil
}

func (p *S76Power) Boards() ([]protocol.BoardID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.BoardID(nil), p.ids...), nil
}

// Model is the keyboard's name, or empty when it has none.
func (p *S76Power) Model(board protocol.BoardID) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	path, err := p.board(board)
	if err != nil {
		return "", err
	}
	v, err := p.bus.Get(path, "Name")
	if err != nil {
		return "", nil
	}
	name, _ := v.Value().(string)
	return name, nil
}

func (p *S76Power) Version(board protocol.BoardID) (string, error) {
	return "", fmt.Errorf("version: %w", ErrUnsupported)
}

func (p *S76Power) Refresh() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refresh()
}

func (p *S76Power) KeymapGet(protocol.BoardID, uint8, uint8, uint8) (uint16, error) {
	return 0, fmt.Errorf("keymap: %w", ErrUnsupported)
}

func (p *S76Power) KeymapSet(protocol.BoardID, uint8, uint8, uint8, uint16) error {
	return fmt.Errorf("keymap: %w", ErrUnsupported)
}

func (p *S76Power) MatrixGet(protocol.BoardID) (protocol.Matrix, error) {
	return protocol.Matrix{}, fmt.Errorf("matrix: %w", ErrUnsupported)
}

func (p *S76Power) Benchmark(protocol.BoardID) (protocol.Benchmark, error) {
	return protocol.Benchmark{}, fmt.Errorf("benchmark: %w", ErrUnsupported)
}

func (p *S76Power) Nelson(protocol.BoardID, protocol.NelsonKind) (protocol.Nelson, error) {
	return protocol.Nelson{}, fmt.Errorf("nelson: %w", ErrUnsupported)
}

// Color reads the keyboard color. An unparsable value reads as black.
func (p *S76Power) Color(board protocol.BoardID, index uint8) (protocol.Hs, error) {
	if err := checkAllLeds(index); err != nil {
		return protocol.Hs{}, err
	}
	v, err := p.get(board, "Color")
	if err != nil {
		return protocol.Hs{}, err
	}
	s, _ := v.(string)
	rgb, err := protocol.ParseRgb(s)
	if err != nil {
		return protocol.Hs{}, nil
	}
	return rgb.Hs(), nil
}

func (p *S76Power) SetColor(board protocol.BoardID, index uint8, color protocol.Hs) error {
	if err := checkAllLeds(index); err != nil {
		return err
	}
	return p.set(board, "Color", color.Rgb().Hex())
}

func (p *S76Power) MaxBrightness(board protocol.BoardID) (int, error) {
	return p.getInt(board, "MaxBrightness")
}

func (p *S76Power) Brightness(board protocol.BoardID, index uint8) (int, error) {
	if err := checkAllLeds(index); err != nil {
		return 0, err
	}
	return p.getInt(board, "Brightness")
}

func (p *S76Power) SetBrightness(board protocol.BoardID, index uint8, brightness int) error {
	if err := checkAllLeds(index); err != nil {
		return err
	}
	return p.set(board, "Brightness", int32(brightness))
}

func (p *S76Power) Mode(protocol.BoardID, uint8) (protocol.ModeValue, error) {
	return protocol.ModeValue{}, fmt.Errorf("mode: %w", ErrUnsupported)
}

func (p *S76Power) SetMode(protocol.BoardID, uint8, uint8, uint8) error {
	return fmt.Errorf("mode: %w", ErrUnsupported)
}

func (p *S76Power) LedSave(protocol.BoardID) error {
	return fmt.Errorf("led save: %w", ErrUnsupported)
}

func (p *S76Power) SetNoInput(protocol.BoardID, bool) error {
	return fmt.Errorf("no input: %w", ErrUnsupported)
}

// Exit closes the bus connection.
func (p *S76Power) Exit() error {
	return p.bus.Close()
}

func (p *S76Power) IsFake() bool {
	return false
}

var _ Daemon = (*S76Power)(nil)
