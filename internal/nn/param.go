package nn

import (
	"fmt"
	"math/rand"
)

// Param is a named trainable tensor with an accumulated gradient. Frozen
// parameters keep accumulating gradients but are skipped by the optimizer.
type Param struct {
	Name   string
	Shape  []int
	Data   []float64
	Grad   []float64
	Frozen bool
}

// NewParam allocates a zero-initialized parameter.
func NewParam(name string, shape ...int) *Param {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return &Param{
		Name:  name,
		Shape: append([]int{}, shape...),
		Data:  make([]float64, size),
		Grad:  make([]float64, size),
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// Clone returns a deep value-copy of the parameter.
func (p *Param) Clone() *Param {
	clone := &Param{
		Name:   p.Name,
		Shape:  append([]int{}, p.Shape...),
		Data:   append([]float64{}, p.Data...),
		Grad:   make([]float64, len(p.Grad)),
		Frozen: p.Frozen,
	}
	return clone
}

// CopyFrom overwrites the parameter values from src. Shapes must match.
func (p *Param) CopyFrom(src *Param) error {
	if len(p.Data) != len(src.Data) {
		return fmt.Errorf("param %s: size mismatch %d vs %d", p.Name, len(p.Data), len(src.Data))
	}
	copy(p.Data, src.Data)
	return nil
}

// initNormal fills data with scaled Gaussian values (He initialization).
func initNormal(rng *rand.Rand, data []float64, scale float64) {
	for i := range data {
		data[i] = rng.NormFloat64() * scale
	}
}
