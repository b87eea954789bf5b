// Package daemon owns keyboard EC sessions and exposes one command set over
// them, in process or across a stdio pipe to an elevated child.
package daemon

import (
	"errors"
	"fmt"

	"github.com/mil-ad/kbdctl/internal/protocol"
)

var (
	// ErrUnknownBoard means the board id is not (or no longer) tracked.
	ErrUnknownBoard = errors.New("failed to find board")
	// ErrUnsupported means the daemon or board cannot perform the command.
	ErrUnsupported = errors.New("unsupported")
	// ErrNelsonNotFound means no continuity test fixture is attached.
	ErrNelsonNotFound = fmt.Errorf("failed to find nelson: %w", ErrUnsupported)
	// ErrNotStarted means the daemon process exited before becoming ready,
	// usually because elevation was declined.
	ErrNotStarted = errors.New("daemon not started")
	// ErrDaemonCrashed means the daemon process went away mid-session.
	ErrDaemonCrashed = errors.New("daemon exited unexpectedly")
)

// Daemon is the command set every backend offers. Index 0xFF addresses the
// whole keyboard for color and brightness.
type Daemon interface {
	Boards() ([]protocol.BoardID, error)
	Model(board protocol.BoardID) (string, error)
	Version(board protocol.BoardID) (string, error)
	Refresh() error

	KeymapGet(board protocol.BoardID, layer, output, input uint8) (uint16, error)
	KeymapSet(board protocol.BoardID, layer, output, input uint8, value uint16) error
	MatrixGet(board protocol.BoardID) (protocol.Matrix, error)

	Benchmark(board protocol.BoardID) (protocol.Benchmark, error)
	Nelson(board protocol.BoardID, kind protocol.NelsonKind) (protocol.Nelson, error)

	Color(board protocol.BoardID, index uint8) (protocol.Hs, error)
	SetColor(board protocol.BoardID, index uint8, color protocol.Hs) error
	MaxBrightness(board protocol.BoardID) (int, error)
	Brightness(board protocol.BoardID, index uint8) (int, error)
	SetBrightness(board protocol.BoardID, index uint8, brightness int) error
	Mode(board protocol.BoardID, layer uint8) (protocol.ModeValue, error)
	SetMode(board protocol.BoardID, layer, mode, speed uint8) error
	LedSave(board protocol.BoardID) error
	SetNoInput(board protocol.BoardID, noInput bool) error

	Exit() error
	IsFake() bool
}

// AllLeds addresses every LED of a keyboard at once.
const AllLeds uint8 = 0xFF
