package daemon

import (
	"fmt"

	"github.com/mil-ad/kbdctl/internal/protocol"
)

// The fixture's relay is driven through LED value 0; 0 means open.
const (
	relayIndex  uint8 = 0
	relayOpen   uint8 = 0
	relayClosed uint8 = 1
)

func (s *Server) setRelay(value uint8) error {
	if err := s.nelson.ec.LedSetValue(relayIndex, value); err != nil {
		return fmt.Errorf("set relay: %w", err)
	}
	s.sleep(s.settle)
	return nil
}

// Nelson runs the continuity test of board against the attached fixture.
// Closing the relay presses every key; a key still pressed after it opens
// again is sticking.
func (s *Server) Nelson(board protocol.BoardID, kind protocol.NelsonKind) (protocol.Nelson, error) {
	if _, err := protocol.ParseNelsonKind(string(kind)); err != nil {
		return protocol.Nelson{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.board(board)
	if err != nil {
		return protocol.Nelson{}, err
	}
	if s.nelson == nil {
		return protocol.Nelson{}, ErrNelsonNotFound
	}

	value, _, err := s.nelson.ec.LedGetValue(relayIndex)
	if err != nil {
		return protocol.Nelson{}, fmt.Errorf("get relay: %w", err)
	}
	if value != relayOpen {
		if err := s.nelson.ec.LedSetValue(relayIndex, relayOpen); err != nil {
			return protocol.Nelson{}, fmt.Errorf("set relay: %w", err)
		}
	}
	s.sleep(s.settle)

	// Until the relay is back open every key of the board stays pressed.
	shut := true
	defer func() {
		if !shut {
			return
		}
		if err := s.nelson.ec.LedSetValue(relayIndex, relayOpen); err != nil {
			s.logger.Printf("Failed to open nelson relay: %v", err)
		}
	}()
	if err := s.setRelay(relayClosed); err != nil {
		return protocol.Nelson{}, err
	}
	closed, err := sess.ec.MatrixGet()
	if err != nil {
		return protocol.Nelson{}, err
	}

	var result protocol.Nelson
	switch kind {
	case protocol.NelsonBouncing:
		result.Missing = protocol.NewMatrix(closed.Rows, closed.Cols)
		result.Bouncing = closed
	default:
		result.Missing = closed.Inverted()
		result.Bouncing = protocol.NewMatrix(closed.Rows, closed.Cols)
	}

	if err := s.setRelay(relayOpen); err != nil {
		return protocol.Nelson{}, err
	}
	shut = false
	result.Sticking, err = sess.ec.MatrixGet()
	if err != nil {
		return protocol.Nelson{}, err
	}
	return result, nil
}
