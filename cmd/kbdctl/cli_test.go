package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mil-ad/kbdctl/internal/backend"
	"github.com/mil-ad/kbdctl/internal/daemon"
	"github.com/mil-ad/kbdctl/internal/protocol"
)

func executeCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestListFake(t *testing.T) {
	stdout, err := executeCLI(t, "list", "--fake", "--json")
	require.NoError(t, err)

	var boards []backend.BoardInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &boards))
	require.Len(t, boards, 7)
	assert.Equal(t, "system76/launch_1", boards[0].Model)
	assert.True(t, boards[0].IsFake)
}

func TestListFakeTable(t *testing.T) {
	stdout, err := executeCLI(t, "list", "--fake")
	require.NoError(t, err)
	assert.Contains(t, stdout, "MODEL")
	assert.Contains(t, stdout, "system76/launch_heavy_1")
}

func writeLayout(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "layout.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestNelsonFake(t *testing.T) {
	layout := writeLayout(t, `{"K_ESC": [0, 0], "K_A": [1, 1]}`)

	stdout, err := executeCLI(t, "nelson", "--fake", "--kind", "bouncing", "--layout", layout)
	require.NoError(t, err)
	assert.Contains(t, stdout, "continuity test passed")

	_, err = executeCLI(t, "nelson", "--fake", "--kind", "sideways", "--layout", layout)
	require.Error(t, err)

	_, err = executeCLI(t, "nelson", "--fake")
	require.Error(t, err, "layout is required")

	_, err = executeCLI(t, "nelson", "--fake", "--layout", writeLayout(t, "not json"))
	require.Error(t, err)
}

// nelsonBoard reports a 2x3 matrix without a key at (1, 2) and records
// whether input was disabled while the fixture ran.
type nelsonBoard struct {
	*daemon.Dummy

	mu           sync.Mutex
	noInput      bool
	inputDuring  bool
	noInputCalls []bool
}

func (d *nelsonBoard) SetNoInput(board protocol.BoardID, noInput bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.noInput = noInput
	d.noInputCalls = append(d.noInputCalls, noInput)
	return d.Dummy.SetNoInput(board, noInput)
}

func (d *nelsonBoard) Nelson(board protocol.BoardID, _ protocol.NelsonKind) (protocol.Nelson, error) {
	d.mu.Lock()
	d.inputDuring = !d.noInput
	d.mu.Unlock()

	missing := protocol.NewMatrix(2, 3)
	missing.Set(1, 2, true)
	return protocol.Nelson{
		Missing:  missing,
		Bouncing: protocol.NewMatrix(2, 3),
		Sticking: protocol.NewMatrix(2, 3),
	}, nil
}

func TestRunNelsonDisablesInput(t *testing.T) {
	d := &nelsonBoard{Dummy: daemon.NewDummy([]string{"system76/launch_1"})}
	th := backend.New(d, backend.WithLogger(log.New(io.Discard, "", 0)))
	t.Cleanup(func() { _ = th.Close() })

	ids, err := d.Boards()
	require.NoError(t, err)
	result, err := runNelson(context.Background(), th, ids[0], protocol.NelsonNormal, log.New(io.Discard, "", 0))
	require.NoError(t, err)

	d.mu.Lock()
	assert.False(t, d.inputDuring, "keys reach the OS during the run")
	assert.Equal(t, []bool{true, false}, d.noInputCalls)
	d.mu.Unlock()

	layout, err := protocol.ParseLayout([]byte(`{"K_A": [0, 0], "K_B": [0, 2], "K_C": [1, 0], "K_D": [1, 1]}`))
	require.NoError(t, err)
	assert.True(t, result.Success(layout), "a matrix gap outside the layout is not a missing key")
	assert.False(t, result.Success(nil))
}

func TestBenchmarkFakeUnsupported(t *testing.T) {
	_, err := executeCLI(t, "benchmark", "--fake")
	require.Error(t, err)
}

func TestDevicesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
boards:
  - name: prototype
    vendor: 0x3384
    product: 0x00ff
    interface: 1
`), 0o644))

	stdout, err := executeCLI(t, "list", "--fake", "--json", "--devices", path)
	require.NoError(t, err)
	var boards []backend.BoardInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &boards))
	require.Len(t, boards, 1)
	assert.Equal(t, "system76/prototype", boards[0].Model)
}

func TestPickBoard(t *testing.T) {
	th := backend.New(daemon.NewDummy(nil))
	t.Cleanup(func() { _ = th.Close() })

	_, err := pickBoard(th, "")
	require.Error(t, err, "no boards yet")

	_, err = pickBoard(th, "not-a-uuid")
	require.Error(t, err)

	id := protocol.NewBoardID()
	got, err := pickBoard(th, id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestDescribe(t *testing.T) {
	id := protocol.NewBoardID()
	assert.Equal(t, "removed "+id.String(), describe(backend.BoardRemoved{ID: id}))
	assert.Equal(t, "boards loaded", describe(backend.BoardLoadingDone{}))
}

func TestFormatMatrix(t *testing.T) {
	m := protocol.NewMatrix(2, 3)
	m.Set(0, 0, true)
	m.Set(1, 2, true)
	assert.Equal(t, "#..\n..#", formatMatrix(m))
}
