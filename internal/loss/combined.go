package loss

import (
	"fmt"
	"math"

	"veritect/internal/dataset"
	"veritect/internal/model"
)

const (
	orthWeight     = 0.01
	consMaxWeight  = 0.3
	realMargin     = 0.1
	fakeMargin     = 0.3
	warmupEnd      = 0.1
	consistencyOn  = 0.2
	consRampLength = 0.8
)

// Phase names the active stage of the composite objective.
type Phase int

const (
	PhaseWarmup Phase = iota
	PhaseOrthogonal
	PhaseFull
)

func (p Phase) String() string {
	switch p {
	case PhaseWarmup:
		return "warmup"
	case PhaseOrthogonal:
		return "orthogonal"
	case PhaseFull:
		return "full"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// PhaseFor maps training progress (epoch over maxEpochs) to the stage that
// governs which loss terms are active.
func PhaseFor(epoch, maxEpochs int) Phase {
	p := progress(epoch, maxEpochs)
	switch {
	case p < warmupEnd:
		return PhaseWarmup
	case p < consistencyOn:
		return PhaseOrthogonal
	default:
		return PhaseFull
	}
}

// RampWeight is the consistency term's weight at the given progress: zero
// before the term switches on, then a linear ramp to its ceiling over the
// remaining schedule.
func RampWeight(epoch, maxEpochs int) float64 {
	p := progress(epoch, maxEpochs)
	if p < consistencyOn {
		return 0
	}
	return consMaxWeight * math.Min(1, (p-consistencyOn)/consRampLength)
}

func progress(epoch, maxEpochs int) float64 {
	if maxEpochs <= 0 {
		return 0
	}
	return float64(epoch) / float64(maxEpochs)
}

// Diagnostics breaks the composite loss into its unweighted components.
// Inconsistency and Orthogonality are zero while their terms are inactive.
type Diagnostics struct {
	Cls           float64
	Inconsistency float64
	Orthogonality float64
}

// Result carries the composite loss value and every gradient the backward
// pass needs. SpatialGrad, TemporalGrad, and InconsistencyGrad are nil while
// their terms are inactive.
type Result struct {
	Total       float64
	Diagnostics Diagnostics

	LogitGrad         [][]float64
	SpatialGrad       [][]float64
	TemporalGrad      [][]float64
	InconsistencyGrad [][]float64
}

// Scale multiplies the total and every gradient by s, for gradient
// accumulation. Diagnostics keep their unscaled values.
func (r *Result) Scale(s float64) {
	r.Total *= s
	scaleRows(r.LogitGrad, s)
	scaleRows(r.SpatialGrad, s)
	scaleRows(r.TemporalGrad, s)
	scaleRows(r.InconsistencyGrad, s)
}

func scaleRows(rows [][]float64, s float64) {
	for _, row := range rows {
		for i := range row {
			row[i] *= s
		}
	}
}

// Combined evaluates the staged objective for one batch. Warmup uses the
// classification criterion alone. The orthogonality penalty on the two
// feature streams joins after 10% of the schedule, and the temporal
// consistency hinges ramp in after 20%.
func Combined(out *model.Output, labels []int, criterion Criterion, epoch, maxEpochs int) (*Result, error) {
	if out == nil {
		return nil, fmt.Errorf("combined loss requires a forward output")
	}
	cls, logitGrad, err := criterion.Loss(out.Logits, labels)
	if err != nil {
		return nil, fmt.Errorf("classification loss: %w", err)
	}
	res := &Result{
		Total:       cls,
		Diagnostics: Diagnostics{Cls: cls},
		LogitGrad:   logitGrad,
	}
	if PhaseFor(epoch, maxEpochs) == PhaseWarmup {
		return res, nil
	}

	orth, dSpatial, dTemporal := orthogonality(out.SpatialFeats, out.TemporalFeats)
	res.Total += orthWeight * orth
	res.Diagnostics.Orthogonality = orth
	res.SpatialGrad = dSpatial
	res.TemporalGrad = dTemporal

	// The hinge diagnostic is reported for the whole full phase, including
	// the boundary epoch where the ramp weight is still zero.
	if PhaseFor(epoch, maxEpochs) == PhaseFull {
		weight := RampWeight(epoch, maxEpochs)
		cons, dIncons := consistency(out.Inconsistency, labels, weight)
		res.Total += weight * cons
		res.Diagnostics.Inconsistency = cons
		res.InconsistencyGrad = dIncons
	}
	return res, nil
}

// orthogonality penalizes correlation between the spatial and temporal
// feature streams: the squared Frobenius norm of the batch cross-covariance
// M = SᵀT. Gradients follow as dS[b] = 2·M·T[b] and dT[b] = 2·Mᵀ·S[b],
// already scaled by the term's weight.
func orthogonality(spatial, temporal [][]float64) (float64, [][]float64, [][]float64) {
	batch := len(spatial)
	if batch == 0 {
		return 0, nil, nil
	}
	dim := len(spatial[0])

	m := make([][]float64, dim)
	for i := range m {
		m[i] = make([]float64, dim)
	}
	for b := 0; b < batch; b++ {
		for i := 0; i < dim; i++ {
			si := spatial[b][i]
			if si == 0 {
				continue
			}
			for j := 0; j < dim; j++ {
				m[i][j] += si * temporal[b][j]
			}
		}
	}

	norm := 0.0
	for i := range m {
		for _, v := range m[i] {
			norm += v * v
		}
	}

	dSpatial := make([][]float64, batch)
	dTemporal := make([][]float64, batch)
	for b := 0; b < batch; b++ {
		dSpatial[b] = make([]float64, dim)
		dTemporal[b] = make([]float64, dim)
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				dSpatial[b][i] += 2 * orthWeight * m[i][j] * temporal[b][j]
				dTemporal[b][j] += 2 * orthWeight * m[i][j] * spatial[b][i]
			}
		}
	}
	return norm, dSpatial, dTemporal
}

// consistency pushes real videos toward low inconsistency and fake videos
// above a higher floor, through two one-sided hinges on the per-class means.
// A class absent from the batch contributes nothing. Gradients are scaled by
// the ramp weight.
func consistency(incons [][]float64, labels []int, weight float64) (float64, [][]float64) {
	grads := make([][]float64, len(incons))
	for b := range grads {
		grads[b] = make([]float64, len(incons[b]))
	}

	realSum, realCount := 0.0, 0
	fakeSum, fakeCount := 0.0, 0
	for b, row := range incons {
		for _, v := range row {
			if labels[b] == dataset.LabelFake {
				fakeSum += v
				fakeCount++
			} else {
				realSum += v
				realCount++
			}
		}
	}

	total := 0.0
	if realCount > 0 {
		if mean := realSum / float64(realCount); mean > realMargin {
			total += mean - realMargin
			g := weight / float64(realCount)
			for b := range incons {
				if labels[b] != dataset.LabelFake {
					for t := range grads[b] {
						grads[b][t] += g
					}
				}
			}
		}
	}
	if fakeCount > 0 {
		if mean := fakeSum / float64(fakeCount); mean < fakeMargin {
			total += fakeMargin - mean
			g := weight / float64(fakeCount)
			for b := range incons {
				if labels[b] == dataset.LabelFake {
					for t := range grads[b] {
						grads[b][t] -= g
					}
				}
			}
		}
	}
	return total, grads
}
