package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// Linear is a fully connected layer y = W·x + b with W stored row-major as
// [out][in].
type Linear struct {
	W   *Param
	B   *Param
	In  int
	Out int
}

// NewLinear creates a layer with He-initialized weights and zero bias.
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		W:   NewParam(name+".weight", out, in),
		B:   NewParam(name+".bias", out),
		In:  in,
		Out: out,
	}
	initNormal(rng, l.W.Data, math.Sqrt(2.0/float64(in)))
	return l
}

// Forward computes W·x + b for a single input vector.
func (l *Linear) Forward(x []float64) ([]float64, error) {
	if len(x) != l.In {
		return nil, fmt.Errorf("linear %s: input size %d, expected %d", l.W.Name, len(x), l.In)
	}
	y := make([]float64, l.Out)
	for o := 0; o < l.Out; o++ {
		sum := l.B.Data[o]
		row := l.W.Data[o*l.In : (o+1)*l.In]
		for i, v := range x {
			sum += row[i] * v
		}
		y[o] = sum
	}
	return y, nil
}

// Backward accumulates parameter gradients for the pair (x, dy) and returns
// dL/dx. The caller supplies the same x that produced the forward output.
func (l *Linear) Backward(x, dy []float64) ([]float64, error) {
	if len(x) != l.In || len(dy) != l.Out {
		return nil, fmt.Errorf("linear %s: backward size mismatch", l.W.Name)
	}
	dx := make([]float64, l.In)
	for o := 0; o < l.Out; o++ {
		g := dy[o]
		l.B.Grad[o] += g
		row := l.W.Data[o*l.In : (o+1)*l.In]
		gradRow := l.W.Grad[o*l.In : (o+1)*l.In]
		for i, v := range x {
			gradRow[i] += g * v
			dx[i] += g * row[i]
		}
	}
	return dx, nil
}

// Params returns the layer parameters.
func (l *Linear) Params() []*Param { return []*Param{l.W, l.B} }

// Clone returns a deep copy of the layer.
func (l *Linear) Clone() *Linear {
	return &Linear{W: l.W.Clone(), B: l.B.Clone(), In: l.In, Out: l.Out}
}
