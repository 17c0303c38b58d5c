package tensor

import "fmt"

// Batch is a dense (batch, seq, width) tensor stored row-major.
type Batch struct {
	B, S, W int
	Data    []float64
}

// NewBatch allocates a zeroed batch.
func NewBatch(b, s, w int) *Batch {
	return &Batch{B: b, S: s, W: w, Data: make([]float64, b*s*w)}
}

// Shape returns (batch, seq, width).
func (t *Batch) Shape() [3]int {
	return [3]int{t.B, t.S, t.W}
}

// Row returns the width-long vector at (b, s). The slice aliases Data.
func (t *Batch) Row(b, s int) []float64 {
	off := (b*t.S + s) * t.W
	return t.Data[off : off+t.W]
}

// SetRow copies v into position (b, s).
func (t *Batch) SetRow(b, s int, v []float64) error {
	if len(v) != t.W {
		return fmt.Errorf("row width %d does not match batch width %d", len(v), t.W)
	}
	copy(t.Row(b, s), v)
	return nil
}
