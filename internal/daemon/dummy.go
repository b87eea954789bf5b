package daemon

import (
	"fmt"
	"sync"

	"github.com/mil-ad/kbdctl/internal/protocol"
)

type keymapKey struct {
	layer, output, input uint8
}

type dummyBoard struct {
	name       string
	keymap     map[keymapKey]uint16
	color      protocol.Hs
	brightness int
	modes      map[uint8]protocol.ModeValue
	noInput    bool
}

// Dummy is an in-memory daemon with made-up boards, for running without
// hardware.
type Dummy struct {
	mu     sync.Mutex
	boards map[protocol.BoardID]*dummyBoard
	ids    []protocol.BoardID
}

// NewDummy creates one fake board per model name.
func NewDummy(names []string) *Dummy {
	d := &Dummy{boards: make(map[protocol.BoardID]*dummyBoard)}
	for _, name := range names {
		id := protocol.NewBoardID()
		d.boards[id] = &dummyBoard{
			name:   name,
			keymap: make(map[keymapKey]uint16),
			modes:  make(map[uint8]protocol.ModeValue),
		}
		d.ids = append(d.ids, id)
	}
	return d
}

func (d *Dummy) board(id protocol.BoardID) (*dummyBoard, error) {
	b, ok := d.boards[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBoard, id)
	}
	return b, nil
}

func (d *Dummy) Boards() ([]protocol.BoardID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]protocol.BoardID(nil), d.ids...), nil
}

func (d *Dummy) Model(board protocol.BoardID) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.board(board)
	if err != nil {
		return "", err
	}
	return b.name, nil
}

func (d *Dummy) Version(board protocol.BoardID) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.board(board); err != nil {
		return "", err
	}
	return "", nil
}

func (d *Dummy) Refresh() error {
	return nil
}

func (d *Dummy) KeymapGet(board protocol.BoardID, layer, output, input uint8) (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.board(board)
	if err != nil {
		return 0, err
	}
	return b.keymap[keymapKey{layer, output, input}], nil
}

func (d *Dummy) KeymapSet(board protocol.BoardID, layer, output, input uint8, value uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.board(board)
	if err != nil {
		return err
	}
	b.keymap[keymapKey{layer, output, input}] = value
	return nil
}

func (d *Dummy) MatrixGet(board protocol.BoardID) (protocol.Matrix, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.board(board); err != nil {
		return protocol.Matrix{}, err
	}
	return protocol.NewMatrix(0, 0), nil
}

func (d *Dummy) Benchmark(protocol.BoardID) (protocol.Benchmark, error) {
	return protocol.Benchmark{}, fmt.Errorf("benchmark: %w", ErrUnsupported)
}

func (d *Dummy) Nelson(board protocol.BoardID, _ protocol.NelsonKind) (protocol.Nelson, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.board(board); err != nil {
		return protocol.Nelson{}, err
	}
	return protocol.Nelson{
		Missing:  protocol.NewMatrix(0, 0),
		Bouncing: protocol.NewMatrix(0, 0),
		Sticking: protocol.NewMatrix(0, 0),
	}, nil
}

func checkAllLeds(index uint8) error {
	if index != AllLeds {
		return fmt.Errorf("led index %d: %w", index, ErrUnsupported)
	}
	return nil
}

func (d *Dummy) Color(board protocol.BoardID, index uint8) (protocol.Hs, error) {
	if err := checkAllLeds(index); err != nil {
		return protocol.Hs{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.board(board)
	if err != nil {
		return protocol.Hs{}, err
	}
	return b.color, nil
}

func (d *Dummy) SetColor(board protocol.BoardID, index uint8, color protocol.Hs) error {
	if err := checkAllLeds(index); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.board(board)
	if err != nil {
		return err
	}
	b.color = color
	return nil
}

func (d *Dummy) MaxBrightness(board protocol.BoardID) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.board(board); err != nil {
		return 0, err
	}
	return 100, nil
}

func (d *Dummy) Brightness(board protocol.BoardID, index uint8) (int, error) {
	if err := checkAllLeds(index); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.board(board)
	if err != nil {
		return 0, err
	}
	return b.brightness, nil
}

func (d *Dummy) SetBrightness(board protocol.BoardID, index uint8, brightness int) error {
	if err := checkAllLeds(index); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.board(board)
	if err != nil {
		return err
	}
	b.brightness = brightness
	return nil
}

func (d *Dummy) Mode(board protocol.BoardID, layer uint8) (protocol.ModeValue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.board(board)
	if err != nil {
		return protocol.ModeValue{}, err
	}
	return b.modes[layer], nil
}

func (d *Dummy) SetMode(board protocol.BoardID, layer, mode, speed uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.board(board)
	if err != nil {
		return err
	}
	b.modes[layer] = protocol.ModeValue{Mode: mode, Speed: speed}
	return nil
}

func (d *Dummy) LedSave(board protocol.BoardID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.board(board)
	return err
}

func (d *Dummy) SetNoInput(board protocol.BoardID, noInput bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.board(board)
	if err != nil {
		return err
	}
	b.noInput = noInput
	return nil
}

func (d *Dummy) Exit() error {
	return nil
}

func (d *Dummy) IsFake() bool {
	return true
}

var _ Daemon = (*Dummy)(nil)
