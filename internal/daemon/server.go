package daemon

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mil-ad/kbdctl/internal/benchmark"
	"github.com/mil-ad/kbdctl/internal/ec"
	"github.com/mil-ad/kbdctl/internal/enumerate"
	"github.com/mil-ad/kbdctl/internal/protocol"
)

// Indices at and above this address per-layer values on HID boards, which
// store color natively as hue and saturation.
const hidLayerIndex uint8 = 0xF0

type session struct {
	ec *ec.Ec
	// nil for the LPC EC, which cannot be unplugged
	info *enumerate.HidInfo
}

// Server talks to hardware directly. It is safe for concurrent use, but all
// hardware access is serialized.
type Server struct {
	mu sync.Mutex

	enum   *enumerate.Enumerator
	boards map[protocol.BoardID]*session
	ids    []protocol.BoardID
	nelson *session

	bench  *benchmark.Runner
	settle time.Duration
	sleep  func(time.Duration)
	lpc    bool
	logger *log.Logger

	exited bool
}

type ServerOption func(*Server)

// WithBenchmark enables the port benchmark.
func WithBenchmark(r *benchmark.Runner) ServerOption {
	return func(s *Server) {
		s.bench = r
	}
}

// WithSettle sets how long the nelson relay is given to switch.
func WithSettle(d time.Duration) ServerOption {
	return func(s *Server) {
		s.settle = d
	}
}

// WithSleep replaces time.Sleep for the relay settle delay.
func WithSleep(sleep func(time.Duration)) ServerOption {
	return func(s *Server) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// WithLpc controls whether the LPC EC is probed at startup.
func WithLpc(enabled bool) ServerOption {
	return func(s *Server) {
		s.lpc = enabled
	}
}

func WithServerLogger(logger *log.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer probes the LPC EC when enabled and runs a first refresh.
func NewServer(enum *enumerate.Enumerator, opts ...ServerOption) *Server {
	s := &Server{
		enum:   enum,
		boards: make(map[protocol.BoardID]*session),
		settle: 300 * time.Millisecond,
		sleep:  time.Sleep,
		lpc:    true,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.lpc {
		e, err := enum.OpenLpc()
		if err != nil {
			s.logger.Printf("Failed to open LPC EC: %v", err)
		} else {
			s.logger.Printf("Adding LPC EC")
			s.add(&session{ec: e})
		}
	}

	s.refresh()
	return s
}

func (s *Server) add(sess *session) protocol.BoardID {
	id := protocol.NewBoardID()
	s.boards[id] = sess
	s.ids = append(s.ids, id)
	return id
}

func (s *Server) remove(id protocol.BoardID) {
	sess := s.boards[id]
	delete(s.boards, id)
	for i, v := range s.ids {
		if v == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			break
		}
	}
	sess.ec.Close()
}

func (s *Server) board(id protocol.BoardID) (*session, error) {
	sess, ok := s.boards[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBoard, id)
	}
	return sess, nil
}

// tracked reports whether info already has a live session.
func (s *Server) tracked(info enumerate.HidInfo) bool {
	if s.nelson != nil && *s.nelson.info == info {
		return true
	}
	for _, sess := range s.boards {
		if sess.info != nil && *sess.info == info {
			return true
		}
	}
	return false
}

func (s *Server) Boards() ([]protocol.BoardID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.BoardID(nil), s.ids...), nil
}

// Refresh drops HID boards that stopped answering and opens newly attached
// ones. The LPC EC is kept as is.
func (s *Server) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		return nil
	}
	s.refresh()
	return nil
}

func (s *Server) refresh() {
	for _, id := range append([]protocol.BoardID(nil), s.ids...) {
		sess := s.boards[id]
		if sess.info == nil {
			continue
		}
		if _, err := sess.ec.Probe(); err != nil {
			s.logger.Printf("Removing USB HID EC at %s: %v", sess.info.Path, err)
			s.remove(id)
		}
	}
	if s.nelson != nil {
		if _, err := s.nelson.ec.Probe(); err != nil {
			s.logger.Printf("Removing nelson at %s: %v", s.nelson.info.Path, err)
			s.nelson.ec.Close()
			s.nelson = nil
		}
	}

	for _, c := range s.enum.Enumerate() {
		if s.tracked(c.Info) {
			continue
		}
		if c.Kind == enumerate.KindNelson && s.nelson != nil {
			continue
		}
		e, err := s.enum.Open(c.Info)
		if err != nil {
			s.logger.Printf("Failed to open %s: %v", c.Info, err)
			continue
		}
		info := c.Info
		switch c.Kind {
		case enumerate.KindNelson:
			s.logger.Printf("Adding nelson at %s", info.Path)
			s.nelson = &session{ec: e, info: &info}
		default:
			s.logger.Printf("Adding USB HID EC at %s", info.Path)
			s.add(&session{ec: e, info: &info})
		}
	}
}

func (s *Server) Model(board protocol.BoardID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.board(board)
	if err != nil {
		return "", err
	}
	return sess.ec.Board()
}

func (s *Server) Version(board protocol.BoardID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.board(board)
	if err != nil {
		return "", err
	}
	return sess.ec.Version()
}

func (s *Server) KeymapGet(board protocol.BoardID, layer, output, input uint8) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.board(board)
	if err != nil {
		return 0, err
	}
	return sess.ec.KeymapGet(layer, output, input)
}

func (s *Server) KeymapSet(board protocol.BoardID, layer, output, input uint8, value uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.board(board)
	if err != nil {
		return err
	}
	return sess.ec.KeymapSet(layer, output, input, value)
}

func (s *Server) MatrixGet(board protocol.BoardID) (protocol.Matrix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.board(board)
	if err != nil {
		return protocol.Matrix{}, err
	}
	return sess.ec.MatrixGet()
}

// Benchmark measures the keyboard's USB ports. Hubs are found by id, so the
// board argument only has to be valid.
func (s *Server) Benchmark(board protocol.BoardID) (protocol.Benchmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.board(board); err != nil {
		return protocol.Benchmark{}, err
	}
	if s.bench == nil {
		return protocol.Benchmark{}, fmt.Errorf("benchmark: %w", ErrUnsupported)
	}
	return s.bench.Run()
}

func (s *Server) Color(board protocol.BoardID, index uint8) (protocol.Hs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.board(board)
	if err != nil {
		return protocol.Hs{}, err
	}
	r, g, b, err := sess.ec.LedGetColor(index)
	if err != nil {
		return protocol.Hs{}, err
	}
	if sess.ec.IsHid() && index >= hidLayerIndex {
		return protocol.HsFromInts(r, g), nil
	}
	return protocol.Rgb{R: r, G: g, B: b}.Hs(), nil
}

func (s *Server) SetColor(board protocol.BoardID, index uint8, color protocol.Hs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.board(board)
	if err != nil {
		return err
	}
	if sess.ec.IsHid() && index >= hidLayerIndex {
		h, sat := color.Ints()
		return sess.ec.LedSetColor(index, h, sat, 0)
	}
	rgb := color.Rgb()
	return sess.ec.LedSetColor(index, rgb.R, rgb.G, rgb.B)
}

func (s *Server) MaxBrightness(board protocol.BoardID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.board(board)
	if err != nil {
		return 0, err
	}
	index := AllLeds
	if sess.ec.IsHid() {
		index = hidLayerIndex
	}
	_, max, err := sess.ec.LedGetValue(index)
	if err != nil {
		return 0, err
	}
	return int(max), nil
}

func (s *Server) Brightness(board protocol.BoardID, index uint8) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.board(board)
	if err != nil {
		return 0, err
	}
	value, _, err := sess.ec.LedGetValue(index)
	if err != nil {
		return 0, err
	}
	return int(value), nil
}

func (s *Server) SetBrightness(board protocol.BoardID, index uint8, brightness int) error {
	if brightness < 0 || brightness > 0xFF {
		return fmt.Errorf("brightness %d: %w", brightness, ec.ErrParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.board(board)
	if err != nil {
		return err
	}
	return sess.ec.LedSetValue(index, uint8(brightness))
}

func (s *Server) Mode(board protocol.BoardID, layer uint8) (protocol.ModeValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.board(board)
	if err != nil {
		return protocol.ModeValue{}, err
	}
	mode, speed, err := sess.ec.LedGetMode(layer)
	if err != nil {
		return protocol.ModeValue{}, err
	}
	return protocol.ModeValue{Mode: mode, Speed: speed}, nil
}

func (s *Server) SetMode(board protocol.BoardID, layer, mode, speed uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.board(board)
	if err != nil {
		return err
	}
	return sess.ec.LedSetMode(layer, mode, speed)
}

func (s *Server) LedSave(board protocol.BoardID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.board(board)
	if err != nil {
		return err
	}
	return sess.ec.LedSave()
}

func (s *Server) SetNoInput(board protocol.BoardID, noInput bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.board(board)
	if err != nil {
		return err
	}
	return sess.ec.SetNoInput(noInput)
}

// Exit closes every session. Later calls fail with ErrUnknownBoard.
func (s *Server) Exit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		return nil
	}
	s.exited = true
	for _, id := range append([]protocol.BoardID(nil), s.ids...) {
		s.remove(id)
	}
	if s.nelson != nil {
		s.nelson.ec.Close()
		s.nelson = nil
	}
	return nil
}

func (s *Server) IsFake() bool {
	return false
}

var _ Daemon = (*Server)(nil)
