package protocol

import "bytes"

// Matrix is the row/column grid of currently pressed keys, packed one bit per
// key, row-major, least significant bit first.
type Matrix struct {
	Rows int    `json:"rows"`
	Cols int    `json:"cols"`
	Data []byte `json:"data"`
}

// NewMatrix returns an all-released matrix of the given size.
func NewMatrix(rows, cols int) Matrix {
	return Matrix{
		Rows: rows,
		Cols: cols,
		Data: make([]byte, (rows*cols+7)/8),
	}
}

// Get reports whether the key at (row, col) is pressed. ok is false when the
// position is outside the matrix.
func (m Matrix) Get(row, col int) (pressed, ok bool) {
	if row < 0 || col < 0 || row >= m.Rows || col >= m.Cols {
		return false, false
	}
	i := row*m.Cols + col
	if i/8 >= len(m.Data) {
		return false, true
	}
	return m.Data[i/8]&(1<<(i%8)) != 0, true
}

// Set updates the key at (row, col). Out of range positions are ignored.
func (m Matrix) Set(row, col int, pressed bool) {
	if row < 0 || col < 0 || row >= m.Rows || col >= m.Cols {
		return
	}
	i := row*m.Cols + col
	if i/8 >= len(m.Data) {
		return
	}
	if pressed {
		m.Data[i/8] |= 1 << (i % 8)
	} else {
		m.Data[i/8] &^= 1 << (i % 8)
	}
}

// Any reports whether any key in the matrix is pressed.
func (m Matrix) Any() bool {
	for row := 0; row < m.Rows; row++ {
		for col := 0; col < m.Cols; col++ {
			if pressed, _ := m.Get(row, col); pressed {
				return true
			}
		}
	}
	return false
}

// Inverted returns a copy with every in-range key flipped.
func (m Matrix) Inverted() Matrix {
	out := NewMatrix(m.Rows, m.Cols)
	for row := 0; row < m.Rows; row++ {
		for col := 0; col < m.Cols; col++ {
			pressed, _ := m.Get(row, col)
			out.Set(row, col, !pressed)
		}
	}
	return out
}

// Clone returns a deep copy.
func (m Matrix) Clone() Matrix {
	return Matrix{Rows: m.Rows, Cols: m.Cols, Data: bytes.Clone(m.Data)}
}

// Equal compares size and packed bits byte for byte.
func (m Matrix) Equal(o Matrix) bool {
	return m.Rows == o.Rows && m.Cols == o.Cols && bytes.Equal(m.Data, o.Data)
}
