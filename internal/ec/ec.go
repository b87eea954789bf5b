package ec

import (
	"bytes"
	"fmt"

	"github.com/mil-ad/kbdctl/internal/protocol"
)

// Signature returned by a probe of System76 EC firmware.
var signature = [2]uint8{0x76, 0xEC}

// Ec is a command session with one embedded controller.
type Ec struct {
	access Access
	// protocol version reported by the first probe
	version uint8
}

// New probes access and returns a session on success. The caller keeps
// ownership of access when New fails.
func New(access Access) (*Ec, error) {
	e := &Ec{access: access}
	v, err := e.Probe()
	if err != nil {
		return nil, err
	}
	e.version = v
	return e, nil
}

func (e *Ec) command(cmd Cmd, data []byte) error {
	status, err := e.access.Command(uint8(cmd), data)
	if err != nil {
		return err
	}
	if status != 0 {
		return &ProtocolError{Cmd: cmd, Status: status}
	}
	return nil
}

// Probe checks the EC is still answering and returns its protocol version.
func (e *Ec) Probe() (uint8, error) {
	data := make([]byte, 3)
	if err := e.command(CmdProbe, data); err != nil {
		return 0, err
	}
	got := [2]uint8{data[0], data[1]}
	if got != signature {
		return 0, &SignatureError{Got: got}
	}
	return data[2], nil
}

// ProtocolVersion is the version byte seen when the session was opened.
func (e *Ec) ProtocolVersion() uint8 {
	return e.version
}

func (e *Ec) str(cmd Cmd) (string, error) {
	data := make([]byte, e.access.DataSize())
	if err := e.command(cmd, data); err != nil {
		return "", err
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return string(data), nil
}

// Board returns the board model string, for example "system76/launch_1".
func (e *Ec) Board() (string, error) {
	return e.str(CmdBoard)
}

// Version returns the firmware version string.
func (e *Ec) Version() (string, error) {
	return e.str(CmdVersion)
}

func (e *Ec) KeymapGet(layer, output, input uint8) (uint16, error) {
	data := []byte{layer, output, input, 0, 0}
	if err := e.command(CmdKeymapGet, data); err != nil {
		return 0, err
	}
	return uint16(data[3]) | uint16(data[4])<<8, nil
}

func (e *Ec) KeymapSet(layer, output, input uint8, value uint16) error {
	data := []byte{layer, output, input, uint8(value), uint8(value >> 8)}
	return e.command(CmdKeymapSet, data)
}

// LedGetValue returns the current and maximum value of LED index.
func (e *Ec) LedGetValue(index uint8) (value, max uint8, err error) {
	data := []byte{index, 0, 0}
	if err := e.command(CmdLedGetValue, data); err != nil {
		return 0, 0, err
	}
	return data[1], data[2], nil
}

func (e *Ec) LedSetValue(index, value uint8) error {
	return e.command(CmdLedSetValue, []byte{index, value})
}

// LedGetColor returns the three color bytes of LED index. Their meaning
// depends on the index and transport; see the daemon color handling.
func (e *Ec) LedGetColor(index uint8) (r, g, b uint8, err error) {
	data := []byte{index, 0, 0, 0}
	if err := e.command(CmdLedGetColor, data); err != nil {
		return 0, 0, 0, err
	}
	return data[1], data[2], data[3], nil
}

func (e *Ec) LedSetColor(index, r, g, b uint8) error {
	return e.command(CmdLedSetColor, []byte{index, r, g, b})
}

// LedGetMode returns the animation mode and speed of layer.
func (e *Ec) LedGetMode(layer uint8) (mode, speed uint8, err error) {
	data := []byte{layer, 0, 0}
	if err := e.command(CmdLedGetMode, data); err != nil {
		return 0, 0, err
	}
	return data[1], data[2], nil
}

func (e *Ec) LedSetMode(layer, mode, speed uint8) error {
	return e.command(CmdLedSetMode, []byte{layer, mode, speed})
}

// LedSave commits the current LED settings to EC flash.
func (e *Ec) LedSave() error {
	return e.command(CmdLedSave, nil)
}

// MatrixGet reads the key scan matrix. The reply carries rows and cols in
// its first two bytes followed by the packed key bits.
func (e *Ec) MatrixGet() (protocol.Matrix, error) {
	data := make([]byte, e.access.DataSize())
	if err := e.command(CmdMatrixGet, data); err != nil {
		return protocol.Matrix{}, err
	}
	rows, cols := int(data[0]), int(data[1])
	size := (rows*cols + 7) / 8
	if size > len(data)-2 {
		return protocol.Matrix{}, fmt.Errorf("matrix %dx%d does not fit reply: %w", rows, cols, ErrVerify)
	}
	m := protocol.NewMatrix(rows, cols)
	copy(m.Data, data[2:2+size])
	return m, nil
}

// SetNoInput stops the keyboard from sending key reports while set.
func (e *Ec) SetNoInput(noInput bool) error {
	var v uint8
	if noInput {
		v = 1
	}
	return e.command(CmdSetNoInput, []byte{v})
}

// IsHid reports whether the session runs over USB HID frames.
func (e *Ec) IsHid() bool {
	return e.access.Transport() == TransportHid
}

func (e *Ec) DataSize() int {
	return e.access.DataSize()
}

func (e *Ec) Close() error {
	return e.access.Close()
}
