package daemon

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/mil-ad/kbdctl/internal/protocol"
	"github.com/mil-ad/kbdctl/internal/roothelper"
)

// Client forwards every command to a daemon process over its stdio.
type Client struct {
	mu   sync.Mutex
	r    *bufio.Reader
	w    io.WriteCloser
	wait func() error

	closed bool
}

// StartPkexec runs "<command> <exe> daemon" and waits for it to become
// ready. An empty command runs the daemon without elevation.
func StartPkexec(command string) (*Client, error) {
	exe, err := roothelper.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}

	var cmd *exec.Cmd
	if command == "" {
		cmd = exec.Command(exe, "daemon")
	} else {
		cmd = exec.Command(command, exe, "daemon")
	}
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn daemon: %w", err)
	}

	c, err := NewClient(stdout, stdin, cmd.Wait)
	if err != nil {
		stdin.Close()
		cmd.Wait()
		return nil, err
	}
	return c, nil
}

// NewClient reads the ready line from r. wait, if set, reaps the daemon
// process on Close.
func NewClient(r io.Reader, w io.WriteCloser, wait func() error) (*Client, error) {
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil {
		return nil, ErrNotStarted
	}
	if strings.TrimSpace(line) != Ready {
		return nil, fmt.Errorf("%w: unexpected line %q", ErrNotStarted, line)
	}
	return &Client{r: br, w: w, wait: wait}, nil
}

func (c *Client) roundTrip(cmd protocol.Command) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return protocol.Response{}, ErrDaemonCrashed
	}

	req, err := protocol.EncodeRequest(cmd)
	if err != nil {
		return protocol.Response{}, err
	}
	if _, err := c.w.Write(append(req, '\n')); err != nil {
		return protocol.Response{}, fmt.Errorf("%w: %v", ErrDaemonCrashed, err)
	}

	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return protocol.Response{}, fmt.Errorf("%w: %v", ErrDaemonCrashed, err)
	}
	var resp protocol.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return protocol.Response{}, fmt.Errorf("invalid response: %w", err)
	}
	if resp.T != cmd.Name() {
		panic(fmt.Sprintf("daemon answered %q to %q", resp.T, cmd.Name()))
	}
	if resp.E != "" {
		return protocol.Response{}, &RemoteError{Kind: resp.K, Msg: resp.E}
	}
	return resp, nil
}

func call[T any](c *Client, cmd protocol.Command) (T, error) {
	var value T
	resp, err := c.roundTrip(cmd)
	if err != nil {
		return value, err
	}
	if err := json.Unmarshal(resp.C, &value); err != nil {
		panic(fmt.Sprintf("daemon returned wrong result for %q: %v", cmd.Name(), err))
	}
	return value, nil
}

func (c *Client) exec(cmd protocol.Command) error {
	_, err := c.roundTrip(cmd)
	return err
}

func (c *Client) Boards() ([]protocol.BoardID, error) {
	return call[[]protocol.BoardID](c, protocol.ListBoards{})
}

func (c *Client) Model(board protocol.BoardID) (string, error) {
	return call[string](c, protocol.GetModel{Board: board})
}

func (c *Client) Version(board protocol.BoardID) (string, error) {
	return call[string](c, protocol.GetVersion{Board: board})
}

func (c *Client) Refresh() error {
	return c.exec(protocol.Refresh{})
}

func (c *Client) KeymapGet(board protocol.BoardID, layer, output, input uint8) (uint16, error) {
	return call[uint16](c, protocol.GetKeymap{Board: board, Layer: layer, Output: output, Input: input})
}

func (c *Client) KeymapSet(board protocol.BoardID, layer, output, input uint8, value uint16) error {
	return c.exec(protocol.SetKeymap{Board: board, Layer: layer, Output: output, Input: input, Value: value})
}

func (c *Client) MatrixGet(board protocol.BoardID) (protocol.Matrix, error) {
	return call[protocol.Matrix](c, protocol.GetMatrix{Board: board})
}

func (c *Client) Benchmark(board protocol.BoardID) (protocol.Benchmark, error) {
	return call[protocol.Benchmark](c, protocol.RunBenchmark{Board: board})
}

func (c *Client) Nelson(board protocol.BoardID, kind protocol.NelsonKind) (protocol.Nelson, error) {
	return call[protocol.Nelson](c, protocol.RunNelson{Board: board, Kind: kind})
}

func (c *Client) Color(board protocol.BoardID, index uint8) (protocol.Hs, error) {
	return call[protocol.Hs](c, protocol.GetColor{Board: board, Index: index})
}

func (c *Client) SetColor(board protocol.BoardID, index uint8, color protocol.Hs) error {
	return c.exec(protocol.SetColor{Board: board, Index: index, Color: color})
}

func (c *Client) MaxBrightness(board protocol.BoardID) (int, error) {
	return call[int](c, protocol.GetMaxBrightness{Board: board})
}

func (c *Client) Brightness(board protocol.BoardID, index uint8) (int, error) {
	return call[int](c, protocol.GetBrightness{Board: board, Index: index})
}

func (c *Client) SetBrightness(board protocol.BoardID, index uint8, brightness int) error {
	return c.exec(protocol.SetBrightness{Board: board, Index: index, Brightness: brightness})
}

func (c *Client) Mode(board protocol.BoardID, layer uint8) (protocol.ModeValue, error) {
	return call[protocol.ModeValue](c, protocol.GetMode{Board: board, Layer: layer})
}

func (c *Client) SetMode(board protocol.BoardID, layer, mode, speed uint8) error {
	return c.exec(protocol.SetMode{Board: board, Layer: layer, Mode: mode, Speed: speed})
}

func (c *Client) LedSave(board protocol.BoardID) error {
	return c.exec(protocol.LedSave{Board: board})
}

func (c *Client) SetNoInput(board protocol.BoardID, noInput bool) error {
	return c.exec(protocol.SetNoInput{Board: board, NoInput: noInput})
}

// Exit asks the daemon to stop. The process is reaped by Close.
func (c *Client) Exit() error {
	err := c.exec(protocol.Exit{})
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return err
}

func (c *Client) IsFake() bool {
	return false
}

// Close stops the daemon if it is still running and waits for it to exit.
// A daemon that died with an error reports ErrDaemonCrashed.
func (c *Client) Close() error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	var exitErr error
	if !closed {
		exitErr = c.Exit()
	}
	c.w.Close()

	if c.wait != nil {
		if err := c.wait(); err != nil {
			return fmt.Errorf("%w: %v", ErrDaemonCrashed, err)
		}
	}
	if exitErr != nil && errors.Is(exitErr, ErrDaemonCrashed) {
		return exitErr
	}
	return nil
}

var _ Daemon = (*Client)(nil)
