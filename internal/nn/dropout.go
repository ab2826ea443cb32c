package nn

import "math/rand"

// Dropout implements inverted dropout. The random source is injected so runs
// are reproducible from a single seed.
type Dropout struct {
	Rate float64
	rng  *rand.Rand
	mask []float64
}

// NewDropout creates a dropout layer with the given drop probability.
func NewDropout(rate float64, rng *rand.Rand) *Dropout {
	return &Dropout{Rate: rate, rng: rng}
}

// Forward drops units when training is true; at inference it is the identity.
func (d *Dropout) Forward(x []float64, training bool) []float64 {
	if !training || d.Rate <= 0 {
		d.mask = nil
		return x
	}
	keep := 1 - d.Rate
	d.mask = make([]float64, len(x))
	y := make([]float64, len(x))
	for i, v := range x {
		if d.rng.Float64() < keep {
			d.mask[i] = 1 / keep
			y[i] = v * d.mask[i]
		}
	}
	return y
}

// Backward applies the mask recorded by the most recent Forward call.
func (d *Dropout) Backward(dy []float64) []float64 {
	return ApplyMask(d.mask, dy)
}

// Mask returns the mask produced by the most recent Forward call, or nil when
// the layer acted as the identity. Callers that batch multiple Forward calls
// keep the returned slices and replay them through ApplyMask.
func (d *Dropout) Mask() []float64 { return d.mask }

// ApplyMask replays a recorded dropout mask over a gradient.
func ApplyMask(mask, dy []float64) []float64 {
	if mask == nil {
		return dy
	}
	dx := make([]float64, len(dy))
	for i, g := range dy {
		dx[i] = g * mask[i]
	}
	return dx
}
