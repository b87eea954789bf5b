// Package backend runs every daemon call on one dedicated goroutine and
// turns board changes into broadcast events.
package backend

import (
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/mil-ad/kbdctl/internal/config"
	"github.com/mil-ad/kbdctl/internal/daemon"
	"github.com/mil-ad/kbdctl/internal/protocol"
	"github.com/mil-ad/kbdctl/internal/usb"
)

type slotKind int

const (
	slotKeymap slotKind = iota + 1
	slotColor
	slotBrightness
	slotMode
	slotLedSave
	slotNoInput
	slotMatrixRate
	slotRefresh
)

// slot identifies requests that replace each other. Only the newest request
// for a slot is dispatched.
type slot struct {
	kind    slotKind
	board   protocol.BoardID
	a, b, c uint8
}

type tracked struct {
	info   BoardInfo
	matrix protocol.Matrix
	// false while held back by the firmware update check
	announced bool
}

// Thread owns a Daemon. Requests are queued, run in order, and answered
// through Pending values; nothing blocks the caller except Wait.
type Thread struct {
	daemon daemon.Daemon
	events *Hub
	logger *log.Logger

	queueSize       int
	testing         bool
	checkUpdated    UpdateChecker
	refreshInterval time.Duration
	sysfs           *usb.Sysfs
	bootloaderIDs   []config.DeviceID

	reqs     chan *request
	quit     chan struct{}
	done     chan struct{}
	inflight sync.WaitGroup

	mu      sync.Mutex
	cancels map[slot]*request
	closed  bool

	// worker state
	boards      map[protocol.BoardID]*tracked
	order       []protocol.BoardID
	bootloaded  map[string]usb.Bootloaded
	matrixRate  time.Duration
	rateChanged bool

	snapshotMu sync.Mutex
	snapshot   []BoardInfo

	exitErr error
}

type Option func(*Thread)

// WithTesting enables the firmware update check on newly added boards.
func WithTesting(enabled bool) Option {
	return func(t *Thread) {
		t.testing = enabled
	}
}

func WithUpdateChecker(check UpdateChecker) Option {
	return func(t *Thread) {
		if check != nil {
			t.checkUpdated = check
		}
	}
}

// WithRefreshInterval refreshes periodically. Zero disables it.
func WithRefreshInterval(d time.Duration) Option {
	return func(t *Thread) {
		t.refreshInterval = d
	}
}

// WithBootloaders watches sysfs for controllers in bootloader mode on every
// refresh.
func WithBootloaders(sys usb.Sysfs, ids []config.DeviceID) Option {
	return func(t *Thread) {
		t.sysfs = &sys
		t.bootloaderIDs = ids
	}
}

// WithMatrixRate starts matrix polling at d. Zero disables it.
func WithMatrixRate(d time.Duration) Option {
	return func(t *Thread) {
		t.matrixRate = d
	}
}

func WithQueueSize(n int) Option {
	return func(t *Thread) {
		if n > 0 {
			t.queueSize = n
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(t *Thread) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New starts the worker. Boards appear after the first Refresh.
func New(d daemon.Daemon, opts ...Option) *Thread {
	t := &Thread{
		daemon:       d,
		events:       NewHub(),
		logger:       log.Default(),
		queueSize:    64,
		checkUpdated: FwupdUpdated,
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		cancels:      make(map[slot]*request),
		boards:       make(map[protocol.BoardID]*tracked),
		bootloaded:   make(map[string]usb.Bootloaded),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.reqs = make(chan *request, t.queueSize)

	go t.run()
	return t
}

// Subscribe returns a feed of every later event.
func (t *Thread) Subscribe() *Subscription {
	return t.events.Subscribe()
}

// Boards returns the boards added so far, in the order they were added.
func (t *Thread) Boards() []BoardInfo {
	t.snapshotMu.Lock()
	defer t.snapshotMu.Unlock()
	return append([]BoardInfo(nil), t.snapshot...)
}

// IsFake reports whether the daemon drives made-up boards.
func (t *Thread) IsFake() bool {
	return t.daemon.IsFake()
}

func (t *Thread) submit(s *slot, run func(*Thread) (any, error)) *request {
	req := newRequest(s, run)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		req.finish(nil, ErrClosed)
		return req
	}
	if s != nil {
		if prev, ok := t.cancels[*s]; ok {
			prev.cancelled.Store(true)
		}
		t.cancels[*s] = req
	}
	t.inflight.Add(1)
	t.mu.Unlock()

	defer t.inflight.Done()
	select {
	case t.reqs <- req:
	case <-t.quit:
		t.forget(req)
		req.finish(nil, ErrClosed)
	}
	return req
}

func (t *Thread) forget(req *request) {
	if req.slot == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancels[*req.slot] == req {
		delete(t.cancels, *req.slot)
	}
}

func submit[T any](t *Thread, s *slot, run func(*Thread) (any, error)) Pending[T] {
	return Pending[T]{req: t.submit(s, run)}
}

func (t *Thread) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(t.done)

	var refreshC <-chan time.Time
	if t.refreshInterval > 0 {
		ticker := time.NewTicker(t.refreshInterval)
		defer ticker.Stop()
		refreshC = ticker.C
	}

	var matrix *time.Ticker
	var matrixC <-chan time.Time
	resetMatrix := func() {
		if matrix != nil {
			matrix.Stop()
			matrix, matrixC = nil, nil
		}
		if t.matrixRate > 0 {
			matrix = time.NewTicker(t.matrixRate)
			matrixC = matrix.C
		}
	}
	resetMatrix()
	defer func() {
		if matrix != nil {
			matrix.Stop()
		}
	}()

	for {
		select {
		case req := <-t.reqs:
			t.handle(req)
			if t.rateChanged {
				t.rateChanged = false
				resetMatrix()
			}
		case <-matrixC:
			t.pollMatrix()
		case <-refreshC:
			if err := t.refresh(); err != nil {
				t.logger.Printf("Failed to refresh boards: %v", err)
			}
		case <-t.quit:
			t.inflight.Wait()
		drain:
			for {
				select {
				case req := <-t.reqs:
					t.forget(req)
					req.finish(nil, ErrClosed)
				default:
					break drain
				}
			}
			t.exitErr = t.daemon.Exit()
			return
		}
	}
}

func (t *Thread) handle(req *request) {
	t.forget(req)
	if req.cancelled.Load() {
		req.finish(nil, ErrSuperseded)
		return
	}
	value, err := req.run(t)
	req.finish(value, err)
}

// Close stops the worker, fails queued requests with ErrClosed, and exits
// the daemon.
func (t *Thread) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		<-t.done
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.quit)
	<-t.done
	t.events.Close()
	return t.exitErr
}

func (t *Thread) publishSnapshot() {
	infos := make([]BoardInfo, 0, len(t.order))
	for _, id := range t.order {
		if b := t.boards[id]; b.announced {
			infos = append(infos, b.info)
		}
	}
	t.snapshotMu.Lock()
	t.snapshot = infos
	t.snapshotMu.Unlock()
}

// refresh diffs the daemon's boards against the tracked set and announces
// the difference.
func (t *Thread) refresh() error {
	if err := t.daemon.Refresh(); err != nil {
		return err
	}
	ids, err := t.daemon.Boards()
	if err != nil {
		return err
	}

	present := make(map[protocol.BoardID]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}
	order := t.order[:0]
	for _, id := range t.order {
		if present[id] {
			order = append(order, id)
			continue
		}
		delete(t.boards, id)
		t.events.Publish(BoardRemoved{ID: id})
	}
	t.order = order

	loading := false
	safe := true
	for _, id := range ids {
		if _, ok := t.boards[id]; ok {
			continue
		}
		if !loading {
			t.events.Publish(BoardLoading{})
			loading = true
		}

		if t.testing {
			updated, err := t.checkUpdated()
			if err != nil {
				t.logger.Printf("Failed to check firmware updates: %v", err)
			}
			safe = err == nil && updated
			if !safe {
				t.events.Publish(BoardNotUpdated{})
			}
		}

		info, err := t.probeBoard(t.daemon, id)
		if err != nil {
			t.logger.Printf("Failed to add board: %v", err)
			continue
		}
		t.boards[id] = &tracked{info: info, announced: safe}
		t.order = append(t.order, id)
		if safe {
			t.events.Publish(BoardAdded{Info: info})
		}
	}
	if loading && safe {
		t.events.Publish(BoardLoadingDone{})
	}
	t.publishSnapshot()

	t.refreshBootloaders()
	return nil
}

func (t *Thread) refreshBootloaders() {
	if t.sysfs == nil {
		return
	}
	found, err := t.sysfs.Bootloaders(t.bootloaderIDs)
	if err != nil {
		t.logger.Printf("Failed to look for bootloaders: %v", err)
		return
	}

	now := make(map[string]usb.Bootloaded, len(found))
	for _, dev := range found {
		now[dev.Name] = dev
		if _, ok := t.bootloaded[dev.Name]; !ok {
			t.events.Publish(BootloadedAdded{Device: dev})
		}
	}
	for name, dev := range t.bootloaded {
		if _, ok := now[name]; !ok {
			t.events.Publish(BootloadedRemoved{Device: dev})
		}
	}
	t.bootloaded = now
}

// pollMatrix reads every matrix-capable board and announces changes. The
// first failure ends the sweep.
func (t *Thread) pollMatrix() {
	for _, id := range t.order {
		b := t.boards[id]
		if !b.announced || !b.info.HasMatrix {
			continue
		}
		m, err := t.daemon.MatrixGet(id)
		if err != nil {
			t.logger.Printf("Failed to get matrix: %v", err)
			break
		}
		if m.Equal(b.matrix) {
			continue
		}
		b.matrix = m
		t.events.Publish(MatrixChanged{ID: id, Matrix: m.Clone()})
	}
}

// Refresh picks up attached and detached boards.
func (t *Thread) Refresh() Pending[struct{}] {
	return submit[struct{}](t, &slot{kind: slotRefresh}, func(t *Thread) (any, error) {
		return nil, t.refresh()
	})
}

// PollMatrix reads all matrices once, regardless of the polling rate.
func (t *Thread) PollMatrix() Pending[struct{}] {
	return submit[struct{}](t, nil, func(t *Thread) (any, error) {
		t.pollMatrix()
		return nil, nil
	})
}

// SetMatrixGetRate changes the polling period. Zero stops polling.
func (t *Thread) SetMatrixGetRate(rate time.Duration) Pending[struct{}] {
	return submit[struct{}](t, &slot{kind: slotMatrixRate}, func(t *Thread) (any, error) {
		t.matrixRate = rate
		t.rateChanged = true
		return nil, nil
	})
}

func (t *Thread) KeymapSet(board protocol.BoardID, layer, output, input uint8, value uint16) Pending[struct{}] {
	s := &slot{kind: slotKeymap, board: board, a: layer, b: output, c: input}
	return submit[struct{}](t, s, daemonCall(func(d daemon.Daemon) error {
		return d.KeymapSet(board, layer, output, input, value)
	}))
}

func (t *Thread) SetColor(board protocol.BoardID, index uint8, color protocol.Hs) Pending[struct{}] {
	s := &slot{kind: slotColor, board: board, a: index}
	return submit[struct{}](t, s, daemonCall(func(d daemon.Daemon) error {
		return d.SetColor(board, index, color)
	}))
}

func (t *Thread) SetBrightness(board protocol.BoardID, index uint8, brightness int) Pending[struct{}] {
	s := &slot{kind: slotBrightness, board: board, a: index}
	return submit[struct{}](t, s, daemonCall(func(d daemon.Daemon) error {
		return d.SetBrightness(board, index, brightness)
	}))
}

func (t *Thread) SetMode(board protocol.BoardID, layer, mode, speed uint8) Pending[struct{}] {
	s := &slot{kind: slotMode, board: board, a: layer}
	return submit[struct{}](t, s, daemonCall(func(d daemon.Daemon) error {
		return d.SetMode(board, layer, mode, speed)
	}))
}

func (t *Thread) LedSave(board protocol.BoardID) Pending[struct{}] {
	return submit[struct{}](t, &slot{kind: slotLedSave, board: board}, daemonCall(func(d daemon.Daemon) error {
		return d.LedSave(board)
	}))
}

func (t *Thread) SetNoInput(board protocol.BoardID, noInput bool) Pending[struct{}] {
	return submit[struct{}](t, &slot{kind: slotNoInput, board: board}, daemonCall(func(d daemon.Daemon) error {
		return d.SetNoInput(board, noInput)
	}))
}

func (t *Thread) Benchmark(board protocol.BoardID) Pending[protocol.Benchmark] {
	return submit[protocol.Benchmark](t, nil, func(t *Thread) (any, error) {
		return t.daemon.Benchmark(board)
	})
}

func (t *Thread) Nelson(board protocol.BoardID, kind protocol.NelsonKind) Pending[protocol.Nelson] {
	return submit[protocol.Nelson](t, nil, func(t *Thread) (any, error) {
		return t.daemon.Nelson(board, kind)
	})
}

func (t *Thread) KeymapGet(board protocol.BoardID, layer, output, input uint8) Pending[uint16] {
	return submit[uint16](t, nil, func(t *Thread) (any, error) {
		return t.daemon.KeymapGet(board, layer, output, input)
	})
}

func (t *Thread) Color(board protocol.BoardID, index uint8) Pending[protocol.Hs] {
	return submit[protocol.Hs](t, nil, func(t *Thread) (any, error) {
		return t.daemon.Color(board, index)
	})
}

func (t *Thread) Brightness(board protocol.BoardID, index uint8) Pending[int] {
	return submit[int](t, nil, func(t *Thread) (any, error) {
		return t.daemon.Brightness(board, index)
	})
}

func (t *Thread) Mode(board protocol.BoardID, layer uint8) Pending[protocol.ModeValue] {
	return submit[protocol.ModeValue](t, nil, func(t *Thread) (any, error) {
		return t.daemon.Mode(board, layer)
	})
}

func (t *Thread) MatrixGet(board protocol.BoardID) Pending[protocol.Matrix] {
	return submit[protocol.Matrix](t, nil, func(t *Thread) (any, error) {
		return t.daemon.MatrixGet(board)
	})
}
