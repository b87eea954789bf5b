package daemon

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mil-ad/kbdctl/internal/ec"
	"github.com/mil-ad/kbdctl/internal/protocol"
)

// servePipe runs Serve over a pair of pipes and connects a client to it.
func servePipe(t *testing.T, d Daemon) *Client {
	t.Helper()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := Serve(d, reqR, respW)
		respW.Close()
		done <- err
	}()

	c, err := NewClient(respR, reqW, func() error { return <-done })
	require.NoError(t, err)
	return c
}

func TestClientRoundTrip(t *testing.T) {
	t.Parallel()

	c := servePipe(t, NewDummy([]string{"system76/launch_1"}))
	id := onlyBoard(t, c)

	model, err := c.Model(id)
	require.NoError(t, err)
	assert.Equal(t, "system76/launch_1", model)

	require.NoError(t, c.KeymapSet(id, 0, 1, 2, 0x00E0))
	v, err := c.KeymapGet(id, 0, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x00E0), v)

	color := protocol.Hs{H: 1.5, S: 0.25}
	require.NoError(t, c.SetColor(id, AllLeds, color))
	got, err := c.Color(id, AllLeds)
	require.NoError(t, err)
	assert.InDelta(t, color.H, got.H, 1e-9)
	assert.InDelta(t, color.S, got.S, 1e-9)

	require.NoError(t, c.SetBrightness(id, AllLeds, 42))
	b, err := c.Brightness(id, AllLeds)
	require.NoError(t, err)
	assert.Equal(t, 42, b)

	max, err := c.MaxBrightness(id)
	require.NoError(t, err)
	assert.Equal(t, 100, max)

	require.NoError(t, c.SetMode(id, 1, 3, 4))
	mode, err := c.Mode(id, 1)
	require.NoError(t, err)
	assert.Equal(t, protocol.ModeValue{Mode: 3, Speed: 4}, mode)

	m, err := c.MatrixGet(id)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Rows)

	n, err := c.Nelson(id, protocol.NelsonNormal)
	require.NoError(t, err)
	assert.True(t, n.Success(nil))

	require.NoError(t, c.LedSave(id))
	require.NoError(t, c.SetNoInput(id, true))
	require.NoError(t, c.Refresh())

	require.NoError(t, c.Close())
}

func TestClientRemoteErrors(t *testing.T) {
	t.Parallel()

	c := servePipe(t, NewDummy([]string{"system76/launch_1"}))
	id := onlyBoard(t, c)

	_, err := c.Model(protocol.NewBoardID())
	require.ErrorIs(t, err, ErrUnknownBoard)

	_, err = c.Color(id, 3)
	require.ErrorIs(t, err, ErrUnsupported)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, protocol.KindUnsupported, remote.Kind)

	_, err = c.Benchmark(id)
	require.ErrorIs(t, err, ErrUnsupported)

	require.NoError(t, c.Close())
}

func TestClientNotStarted(t *testing.T) {
	t.Parallel()

	_, w := io.Pipe()
	_, err := NewClient(strings.NewReader(""), w, nil)
	require.ErrorIs(t, err, ErrNotStarted)

	_, err = NewClient(strings.NewReader("Error executing command as another user\n"), w, nil)
	require.ErrorIs(t, err, ErrNotStarted)
}

// scriptedDaemon prints the ready line, then answers every request with
// reply until the request pipe closes.
func scriptedDaemon(t *testing.T, reply string) *Client {
	t.Helper()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	go func() {
		defer respW.Close()
		fmt.Fprintln(respW, Ready)
		in := bufio.NewScanner(reqR)
		for in.Scan() {
			fmt.Fprintln(respW, reply)
		}
	}()

	c, err := NewClient(respR, reqW, nil)
	require.NoError(t, err)
	t.Cleanup(func() { reqW.Close() })
	return c
}

func TestClientTagMismatchPanics(t *testing.T) {
	t.Parallel()

	c := scriptedDaemon(t, `{"t":"model","c":"launch"}`)
	assert.Panics(t, func() { c.Boards() })
}

func TestClientWrongResultPanics(t *testing.T) {
	t.Parallel()

	c := scriptedDaemon(t, `{"t":"boards","c":"not a list"}`)
	assert.Panics(t, func() { c.Boards() })
}

func TestClientDaemonCrash(t *testing.T) {
	t.Parallel()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	go func() {
		fmt.Fprintln(respW, Ready)
		respW.Close()
		reqR.Close()
	}()

	crash := errors.New("exit status 101")
	c, err := NewClient(respR, reqW, func() error { return crash })
	require.NoError(t, err)

	_, err = c.Boards()
	require.ErrorIs(t, err, ErrDaemonCrashed)
	require.ErrorIs(t, c.Close(), ErrDaemonCrashed)
}

func TestDispatch(t *testing.T) {
	t.Parallel()

	d := NewDummy([]string{"a", "b"})
	v, err := Dispatch(d, protocol.ListBoards{})
	require.NoError(t, err)
	ids := v.([]protocol.BoardID)
	require.Len(t, ids, 2)

	v, err = Dispatch(d, protocol.SetKeymap{Board: ids[1], Layer: 1, Value: 7})
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = Dispatch(d, protocol.GetKeymap{Board: ids[1], Layer: 1})
	require.NoError(t, err)
	assert.Equal(t, uint16(7), v)

	v, err = Dispatch(d, protocol.GetModel{Board: ids[0]})
	require.NoError(t, err)
	assert.Equal(t, "a", v)
}

func TestKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want protocol.ErrorKind
	}{
		{fmt.Errorf("x: %w", ErrUnknownBoard), protocol.KindUnknownBoard},
		{ErrNelsonNotFound, protocol.KindUnsupported},
		{fmt.Errorf("probe: %w", ec.ErrTimeout), protocol.KindTimeout},
		{ec.ErrVerify, protocol.KindVerify},
		{&ec.SignatureError{}, protocol.KindVerify},
		{fmt.Errorf("led: %w", &ec.ProtocolError{Cmd: ec.CmdLedGetValue, Status: 1}), protocol.KindProtocol},
		{&fs.PathError{Op: "open", Path: "/dev/hidraw0", Err: fs.ErrPermission}, protocol.KindIO},
		{errors.New("boom"), protocol.KindOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.err), tt.err.Error())
	}
}

func TestServeRejectsGarbage(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	err := Serve(NewDummy(nil), strings.NewReader("not json\n"), &out)
	require.Error(t, err)
	assert.Equal(t, Ready+"\n", out.String())

	out.Reset()
	require.NoError(t, Serve(NewDummy(nil), strings.NewReader(`{"t":"exit"}`+"\n"+`{"t":"boards"}`+"\n"), &out))
	assert.Equal(t, Ready+"\n"+`{"t":"exit"}`+"\n", out.String())
}
