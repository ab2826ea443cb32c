package loss

import (
	"fmt"
	"math"
)

// Criterion scores a batch of two-way logits against one-hot targets and
// returns the mean loss together with the gradient of that mean with respect
// to each logit.
type Criterion interface {
	Loss(logits [][]float64, labels []int) (float64, [][]float64, error)
}

// ptFloor keeps log(pt) finite for saturated logits.
const ptFloor = 1e-7

// OneHot expands class indices into two-way targets.
func OneHot(labels []int) [][]float64 {
	targets := make([][]float64, len(labels))
	for b, label := range labels {
		targets[b] = make([]float64, 2)
		if label >= 0 && label < 2 {
			targets[b][label] = 1
		}
	}
	return targets
}

// BinaryFocal is a sigmoid focal loss applied independently to both logits
// and averaged over every logit in the batch. Alpha weights the positive
// class; Gamma sharpens the focus on hard examples.
type BinaryFocal struct {
	Alpha float64
	Gamma float64
}

// NewBinaryFocal returns the focal criterion used for training.
func NewBinaryFocal(alpha, gamma float64) *BinaryFocal {
	return &BinaryFocal{Alpha: alpha, Gamma: gamma}
}

func (f *BinaryFocal) Loss(logits [][]float64, labels []int) (float64, [][]float64, error) {
	if err := checkLogits(logits, labels); err != nil {
		return 0, nil, err
	}
	targets := OneHot(labels)
	n := float64(len(logits) * 2)
	grads := make([][]float64, len(logits))

	total := 0.0
	for b, row := range logits {
		grads[b] = make([]float64, 2)
		for j, x := range row {
			y := targets[b][j]
			p := sigmoid(x)

			pt := p
			alphaT := f.Alpha
			sign := 1.0
			if y == 0 {
				pt = 1 - p
				alphaT = 1 - f.Alpha
				sign = -1
			}
			pt = clamp(pt, ptFloor, 1-ptFloor)

			modulator := math.Pow(1-pt, f.Gamma)
			total += -alphaT * modulator * math.Log(pt)

			// d/dpt of -alphaT (1-pt)^g log(pt), chained through
			// dpt/dx = sign * p(1-p).
			dpt := alphaT * (f.Gamma*math.Pow(1-pt, f.Gamma-1)*math.Log(pt) - modulator/pt)
			grads[b][j] = dpt * sign * p * (1 - p) / n
		}
	}
	return total / n, grads, nil
}

// BCEWithLogits is the numerically stable binary cross-entropy over logits,
// averaged the same way as the focal criterion. Used for validation so the
// reported loss is comparable across runs regardless of focal settings.
type BCEWithLogits struct{}

func (BCEWithLogits) Loss(logits [][]float64, labels []int) (float64, [][]float64, error) {
	if err := checkLogits(logits, labels); err != nil {
		return 0, nil, err
	}
	targets := OneHot(labels)
	n := float64(len(logits) * 2)
	grads := make([][]float64, len(logits))

	total := 0.0
	for b, row := range logits {
		grads[b] = make([]float64, 2)
		for j, x := range row {
			y := targets[b][j]
			total += math.Max(x, 0) - x*y + math.Log1p(math.Exp(-math.Abs(x)))
			grads[b][j] = (sigmoid(x) - y) / n
		}
	}
	return total / n, grads, nil
}

func checkLogits(logits [][]float64, labels []int) error {
	if len(logits) == 0 {
		return fmt.Errorf("criterion requires a non-empty batch")
	}
	if len(logits) != len(labels) {
		return fmt.Errorf("%d logit rows for %d labels", len(logits), len(labels))
	}
	for b, row := range logits {
		if len(row) != 2 {
			return fmt.Errorf("logit row %d has %d values, expected 2", b, len(row))
		}
	}
	return nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
