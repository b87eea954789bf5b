package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"github.com/mil-ad/kbdctl/internal/ec"
	"github.com/mil-ad/kbdctl/internal/protocol"
)

// Dispatch runs cmd against d. Commands without a result return nil.
func Dispatch(d Daemon, cmd protocol.Command) (any, error) {
	switch c := cmd.(type) {
	case protocol.ListBoards:
		return d.Boards()
	case protocol.GetModel:
		return d.Model(c.Board)
	case protocol.GetVersion:
		return d.Version(c.Board)
	case protocol.Refresh:
		return nil, d.Refresh()
	case protocol.GetKeymap:
		return d.KeymapGet(c.Board, c.Layer, c.Output, c.Input)
	case protocol.SetKeymap:
		return nil, d.KeymapSet(c.Board, c.Layer, c.Output, c.Input, c.Value)
	case protocol.GetMatrix:
		return d.MatrixGet(c.Board)
	case protocol.RunBenchmark:
		return d.Benchmark(c.Board)
	case protocol.RunNelson:
		return d.Nelson(c.Board, c.Kind)
	case protocol.GetColor:
		return d.Color(c.Board, c.Index)
	case protocol.SetColor:
		return nil, d.SetColor(c.Board, c.Index, c.Color)
	case protocol.GetMaxBrightness:
		return d.MaxBrightness(c.Board)
	case protocol.GetBrightness:
		return d.Brightness(c.Board, c.Index)
	case protocol.SetBrightness:
		return nil, d.SetBrightness(c.Board, c.Index, c.Brightness)
	case protocol.GetMode:
		return d.Mode(c.Board, c.Layer)
	case protocol.SetMode:
		return nil, d.SetMode(c.Board, c.Layer, c.Mode, c.Speed)
	case protocol.LedSave:
		return nil, d.LedSave(c.Board)
	case protocol.SetNoInput:
		return nil, d.SetNoInput(c.Board, c.NoInput)
	case protocol.Exit:
		return nil, d.Exit()
	default:
		return nil, fmt.Errorf("command %T: %w", cmd, ErrUnsupported)
	}
}

// Kind classifies err for the wire.
func Kind(err error) protocol.ErrorKind {
	var (
		protoErr *ec.ProtocolError
		sigErr   *ec.SignatureError
		pathErr  *fs.PathError
		errno    syscall.Errno
	)
	switch {
	case errors.Is(err, ErrUnknownBoard):
		return protocol.KindUnknownBoard
	case errors.Is(err, ErrUnsupported):
		return protocol.KindUnsupported
	case errors.Is(err, ec.ErrTimeout):
		return protocol.KindTimeout
	case errors.Is(err, ec.ErrVerify), errors.As(err, &sigErr):
		return protocol.KindVerify
	case errors.As(err, &protoErr):
		return protocol.KindProtocol
	case errors.As(err, &pathErr), errors.As(err, &errno):
		return protocol.KindIO
	default:
		return protocol.KindOther
	}
}

// RemoteError is a failure reported by a daemon in another process.
type RemoteError struct {
	Kind protocol.ErrorKind
	Msg  string
}

func (e *RemoteError) Error() string {
	return e.Msg
}

// Unwrap maps the kind back to a sentinel so errors.Is works across the pipe.
func (e *RemoteError) Unwrap() error {
	switch e.Kind {
	case protocol.KindUnknownBoard:
		return ErrUnknownBoard
	case protocol.KindUnsupported:
		return ErrUnsupported
	case protocol.KindTimeout:
		return ec.ErrTimeout
	case protocol.KindVerify:
		return ec.ErrVerify
	}
	return nil
}
