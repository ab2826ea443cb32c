package nn

import "math"

// ReLU applies max(0, x) element-wise, returning a new slice.
func ReLU(x []float64) []float64 {
	y := make([]float64, len(x))
	for i, v := range x {
		if v > 0 {
			y[i] = v
		}
	}
	return y
}

// ReLUBackward masks dy by the sign of the pre-activation input.
func ReLUBackward(pre, dy []float64) []float64 {
	dx := make([]float64, len(dy))
	for i, v := range pre {
		if v > 0 {
			dx[i] = dy[i]
		}
	}
	return dx
}

// Softmax returns the normalized exponentials of x, numerically stabilized.
func Softmax(x []float64) []float64 {
	maxVal := math.Inf(-1)
	for _, v := range x {
		if v > maxVal {
			maxVal = v
		}
	}
	y := make([]float64, len(x))
	var sum float64
	for i, v := range x {
		y[i] = math.Exp(v - maxVal)
		sum += y[i]
	}
	for i := range y {
		y[i] /= sum
	}
	return y
}

// SoftmaxBackward converts dL/dsoftmax into dL/dlogits for one sample.
func SoftmaxBackward(probs, dy []float64) []float64 {
	var dot float64
	for i, p := range probs {
		dot += dy[i] * p
	}
	dx := make([]float64, len(dy))
	for i, p := range probs {
		dx[i] = p * (dy[i] - dot)
	}
	return dx
}

// Sigmoid is the logistic function.
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
