package nn

import (
	"fmt"
	"math"
)

// Adam implements the Adam optimizer with decoupled weight decay. Frozen
// parameters are skipped entirely so their moment estimates stay untouched
// until they are unfrozen.
type Adam struct {
	params      []*Param
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	step        int
	m           [][]float64
	v           [][]float64
}

// NewAdam creates an optimizer over params with standard moment decays.
func NewAdam(params []*Param, lr, weightDecay float64) *Adam {
	a := &Adam{
		params:      params,
		lr:          lr,
		beta1:       0.9,
		beta2:       0.999,
		eps:         1e-8,
		weightDecay: weightDecay,
		m:           make([][]float64, len(params)),
		v:           make([][]float64, len(params)),
	}
	for i, p := range params {
		a.m[i] = make([]float64, len(p.Data))
		a.v[i] = make([]float64, len(p.Data))
	}
	return a
}

// SetLR updates the learning rate, typically once per epoch from a schedule.
func (a *Adam) SetLR(lr float64) { a.lr = lr }

// LR returns the current learning rate.
func (a *Adam) LR() float64 { return a.lr }

// StepCount returns the number of optimizer steps taken.
func (a *Adam) StepCount() int { return a.step }

// Step applies one update from the accumulated gradients.
func (a *Adam) Step() {
	a.step++
	correction1 := 1 - math.Pow(a.beta1, float64(a.step))
	correction2 := 1 - math.Pow(a.beta2, float64(a.step))

	for i, p := range a.params {
		if p.Frozen {
			continue
		}
		m := a.m[i]
		v := a.v[i]
		for j, g := range p.Grad {
			m[j] = a.beta1*m[j] + (1-a.beta1)*g
			v[j] = a.beta2*v[j] + (1-a.beta2)*g*g
			mHat := m[j] / correction1
			vHat := v[j] / correction2
			p.Data[j] -= a.lr * (mHat/(math.Sqrt(vHat)+a.eps) + a.weightDecay*p.Data[j])
		}
	}
}

// AdamState is a serializable snapshot of the optimizer: step count, learning
// rate, and both moment estimates in parameter order.
type AdamState struct {
	LR   float64     `json:"lr"`
	Step int         `json:"step"`
	M    [][]float64 `json:"m"`
	V    [][]float64 `json:"v"`
}

// State copies the optimizer's moments for checkpointing.
func (a *Adam) State() AdamState {
	s := AdamState{
		LR:   a.lr,
		Step: a.step,
		M:    make([][]float64, len(a.m)),
		V:    make([][]float64, len(a.v)),
	}
	for i := range a.m {
		s.M[i] = append([]float64(nil), a.m[i]...)
		s.V[i] = append([]float64(nil), a.v[i]...)
	}
	return s
}

// LoadState restores a snapshot captured from an optimizer over parameters of
// the same shapes.
func (a *Adam) LoadState(s AdamState) error {
	if len(s.M) != len(a.params) || len(s.V) != len(a.params) {
		return fmt.Errorf("optimizer state covers %d parameters, have %d", len(s.M), len(a.params))
	}
	for i, p := range a.params {
		if len(s.M[i]) != len(p.Data) || len(s.V[i]) != len(p.Data) {
			return fmt.Errorf("optimizer state size mismatch for %s", p.Name)
		}
	}
	a.lr = s.LR
	a.step = s.Step
	for i := range a.params {
		copy(a.m[i], s.M[i])
		copy(a.v[i], s.V[i])
	}
	return nil
}

// ZeroGrad clears gradients on every tracked parameter.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

// CosineLR returns the epoch learning rate for a cosine annealing schedule
// from base down to floor over maxEpochs.
func CosineLR(base, floor float64, epoch, maxEpochs int) float64 {
	if maxEpochs <= 1 {
		return base
	}
	progress := float64(epoch) / float64(maxEpochs)
	if progress > 1 {
		progress = 1
	}
	return floor + 0.5*(base-floor)*(1+math.Cos(math.Pi*progress))
}
