package protocol

import (
	"encoding/json"
	"fmt"
)

// NelsonKind selects how keys pressed while the relay is closed are reported.
type NelsonKind string

const (
	// NelsonNormal inverts the closed-relay scan into the missing matrix.
	NelsonNormal NelsonKind = "normal"
	// NelsonBouncing reports the closed-relay scan as-is in the bouncing matrix.
	NelsonBouncing NelsonKind = "bouncing"
)

// ParseNelsonKind accepts the textual kinds used on the wire and the CLI.
func ParseNelsonKind(s string) (NelsonKind, error) {
	switch NelsonKind(s) {
	case NelsonNormal, NelsonBouncing:
		return NelsonKind(s), nil
	}
	return "", fmt.Errorf("unknown nelson kind %q", s)
}

// KeyPosition is the electrical (row, col) of one logical key.
type KeyPosition struct {
	Row uint8 `json:"row"`
	Col uint8 `json:"col"`
}

// Layout maps logical key names to their electrical position.
type Layout map[string]KeyPosition

// ParseLayout decodes a layout.json file: an object of key names to
// [row, col] pairs.
func ParseLayout(data []byte) (Layout, error) {
	var raw map[string][2]uint8
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	layout := make(Layout, len(raw))
	for name, pos := range raw {
		layout[name] = KeyPosition{Row: pos[0], Col: pos[1]}
	}
	return layout, nil
}

// Nelson is the result of one continuity test run.
type Nelson struct {
	Missing  Matrix `json:"missing"`
	Bouncing Matrix `json:"bouncing"`
	Sticking Matrix `json:"sticking"`
}

func (n Nelson) matrices() []Matrix {
	return []Matrix{n.Missing, n.Bouncing, n.Sticking}
}

// MaxRows is the largest row count of the three result matrices.
func (n Nelson) MaxRows() int {
	rows := 0
	for _, m := range n.matrices() {
		rows = max(rows, m.Rows)
	}
	return rows
}

// MaxCols is the largest column count of the three result matrices.
func (n Nelson) MaxCols() int {
	cols := 0
	for _, m := range n.matrices() {
		cols = max(cols, m.Cols)
	}
	return cols
}

// Success reports whether no result matrix has a key set at any position of
// layout. A nil layout checks every position of every matrix.
func (n Nelson) Success(layout Layout) bool {
	for _, m := range n.matrices() {
		if layout == nil {
			if m.Any() {
				return false
			}
			continue
		}
		for _, pos := range layout {
			if pressed, _ := m.Get(int(pos.Row), int(pos.Col)); pressed {
				return false
			}
		}
	}
	return true
}
