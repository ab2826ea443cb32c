package loss_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"veritect/internal/loss"
	"veritect/internal/model"
)

func TestBCEWithLogitsKnownValue(t *testing.T) {
	// Zero logits give p=0.5 for both classes, so every element costs ln 2.
	criterion := loss.BCEWithLogits{}
	value, grads, err := criterion.Loss([][]float64{{0, 0}, {0, 0}}, []int{0, 1})
	require.NoError(t, err)
	require.InDelta(t, math.Ln2, value, 1e-12)

	// Gradient is (sigmoid(x)-y)/n: ±0.5/4 at zero logits.
	require.InDelta(t, -0.125, grads[0][0], 1e-12)
	require.InDelta(t, 0.125, grads[0][1], 1e-12)
	require.InDelta(t, 0.125, grads[1][0], 1e-12)
	require.InDelta(t, -0.125, grads[1][1], 1e-12)
}

func TestBinaryFocalDownWeightsEasyExamples(t *testing.T) {
	criterion := loss.NewBinaryFocal(0.75, 1)

	easy, _, err := criterion.Loss([][]float64{{-4, 4}}, []int{1})
	require.NoError(t, err)
	hard, _, err := criterion.Loss([][]float64{{4, -4}}, []int{1})
	require.NoError(t, err)
	require.Greater(t, hard, easy)
}

func TestCriterionGradientsMatchFiniteDifferences(t *testing.T) {
	criteria := map[string]loss.Criterion{
		"focal": loss.NewBinaryFocal(0.75, 1),
		"bce":   loss.BCEWithLogits{},
	}
	logits := [][]float64{{0.4, -1.2}, {-0.3, 0.9}, {2.1, 0.2}}
	labels := []int{0, 1, 1}
	const h = 1e-6

	for name, criterion := range criteria {
		_, grads, err := criterion.Loss(logits, labels)
		require.NoError(t, err, name)
		for b := range logits {
			for j := range logits[b] {
				bumped := cloneRows(logits)
				bumped[b][j] += h
				plus, _, err := criterion.Loss(bumped, labels)
				require.NoError(t, err)
				bumped[b][j] -= 2 * h
				minus, _, err := criterion.Loss(bumped, labels)
				require.NoError(t, err)
				numeric := (plus - minus) / (2 * h)
				require.InDelta(t, numeric, grads[b][j], 1e-6, "%s grad [%d][%d]", name, b, j)
			}
		}
	}
}

func TestCriterionRejectsBadShapes(t *testing.T) {
	criterion := loss.BCEWithLogits{}
	_, _, err := criterion.Loss(nil, nil)
	require.Error(t, err)
	_, _, err = criterion.Loss([][]float64{{0, 0}}, []int{0, 1})
	require.Error(t, err)
	_, _, err = criterion.Loss([][]float64{{0, 0, 0}}, []int{0})
	require.Error(t, err)
}

func TestPhaseBoundaries(t *testing.T) {
	const maxEpochs = 50
	require.Equal(t, loss.PhaseWarmup, loss.PhaseFor(0, maxEpochs))
	require.Equal(t, loss.PhaseWarmup, loss.PhaseFor(4, maxEpochs))
	require.Equal(t, loss.PhaseOrthogonal, loss.PhaseFor(5, maxEpochs))
	require.Equal(t, loss.PhaseOrthogonal, loss.PhaseFor(9, maxEpochs))
	require.Equal(t, loss.PhaseFull, loss.PhaseFor(10, maxEpochs))
	require.Equal(t, loss.PhaseFull, loss.PhaseFor(49, maxEpochs))
}

func TestRampWeightSchedule(t *testing.T) {
	const maxEpochs = 50
	require.Zero(t, loss.RampWeight(5, maxEpochs))
	require.Zero(t, loss.RampWeight(10, maxEpochs)) // ramp starts from zero
	require.InDelta(t, 0.15, loss.RampWeight(30, maxEpochs), 1e-12)
	require.InDelta(t, 0.3, loss.RampWeight(50, maxEpochs), 1e-12)
}

func correlatedOutput() *model.Output {
	return &model.Output{
		Logits:        [][]float64{{0.5, -0.5}, {-1, 1}},
		SpatialFeats:  [][]float64{{1, 0.5}, {-0.5, 1}},
		TemporalFeats: [][]float64{{0.8, 0.1}, {-0.2, 0.9}},
		Inconsistency: [][]float64{{0.4, 0.4}, {0.1, 0.1}},
	}
}

func TestCombinedWarmupIsClassificationOnly(t *testing.T) {
	out := correlatedOutput()
	res, err := loss.Combined(out, []int{0, 1}, loss.BCEWithLogits{}, 2, 50)
	require.NoError(t, err)
	require.InDelta(t, res.Diagnostics.Cls, res.Total, 1e-12)
	require.Zero(t, res.Diagnostics.Orthogonality)
	require.Zero(t, res.Diagnostics.Inconsistency)
	require.Nil(t, res.SpatialGrad)
	require.Nil(t, res.TemporalGrad)
	require.Nil(t, res.InconsistencyGrad)
	require.NotNil(t, res.LogitGrad)
}

func TestCombinedAddsOrthogonalityAfterWarmup(t *testing.T) {
	out := correlatedOutput()
	res, err := loss.Combined(out, []int{0, 1}, loss.BCEWithLogits{}, 7, 50)
	require.NoError(t, err)
	require.Greater(t, res.Diagnostics.Orthogonality, 0.0)
	require.InDelta(t, res.Diagnostics.Cls+0.01*res.Diagnostics.Orthogonality, res.Total, 1e-12)
	require.NotNil(t, res.SpatialGrad)
	require.Nil(t, res.InconsistencyGrad)
}

func TestCombinedOrthogonalStreamsCostNothing(t *testing.T) {
	out := correlatedOutput()
	out.SpatialFeats = [][]float64{{1, 0}, {-1, 0}}
	out.TemporalFeats = [][]float64{{0, 1}, {0, 1}}
	res, err := loss.Combined(out, []int{0, 1}, loss.BCEWithLogits{}, 7, 50)
	require.NoError(t, err)
	require.InDelta(t, 0, res.Diagnostics.Orthogonality, 1e-12)
	for _, row := range res.SpatialGrad {
		for _, g := range row {
			require.Zero(t, g)
		}
	}
}

func TestCombinedFeatureGradientsMatchFiniteDifferences(t *testing.T) {
	labels := []int{0, 1}
	const epoch, maxEpochs = 30, 50
	const h = 1e-6

	eval := func(out *model.Output) float64 {
		res, err := loss.Combined(out, labels, loss.BCEWithLogits{}, epoch, maxEpochs)
		require.NoError(t, err)
		return res.Total
	}

	base := correlatedOutput()
	res, err := loss.Combined(base, labels, loss.BCEWithLogits{}, epoch, maxEpochs)
	require.NoError(t, err)

	for b := range base.SpatialFeats {
		for i := range base.SpatialFeats[b] {
			out := correlatedOutput()
			out.SpatialFeats[b][i] += h
			plus := eval(out)
			out.SpatialFeats[b][i] -= 2 * h
			minus := eval(out)
			require.InDelta(t, (plus-minus)/(2*h), res.SpatialGrad[b][i], 1e-6, "spatial [%d][%d]", b, i)
		}
		for i := range base.TemporalFeats[b] {
			out := correlatedOutput()
			out.TemporalFeats[b][i] += h
			plus := eval(out)
			out.TemporalFeats[b][i] -= 2 * h
			minus := eval(out)
			require.InDelta(t, (plus-minus)/(2*h), res.TemporalGrad[b][i], 1e-6, "temporal [%d][%d]", b, i)
		}
		for s := range base.Inconsistency[b] {
			out := correlatedOutput()
			out.Inconsistency[b][s] += h
			plus := eval(out)
			out.Inconsistency[b][s] -= 2 * h
			minus := eval(out)
			require.InDelta(t, (plus-minus)/(2*h), res.InconsistencyGrad[b][s], 1e-6, "inconsistency [%d][%d]", b, s)
		}
	}
}

func TestCombinedConsistencyHinges(t *testing.T) {
	// Real mean 0.4 breaches the 0.1 margin by 0.3; fake mean 0.1 sits 0.2
	// below its 0.3 floor.
	out := correlatedOutput()
	res, err := loss.Combined(out, []int{0, 1}, loss.BCEWithLogits{}, 50, 50)
	require.NoError(t, err)
	require.InDelta(t, 0.5, res.Diagnostics.Inconsistency, 1e-12)

	for _, g := range res.InconsistencyGrad[0] {
		require.Greater(t, g, 0.0) // real pushed down
	}
	for _, g := range res.InconsistencyGrad[1] {
		require.Less(t, g, 0.0) // fake pushed up
	}
}

func TestCombinedConsistencyDiagnosticAtRampOnset(t *testing.T) {
	// At exactly 20% progress the full phase begins but the ramp weight is
	// still zero: the hinge value appears in the diagnostics while the total
	// and the gradients stay untouched.
	out := correlatedOutput()
	res, err := loss.Combined(out, []int{0, 1}, loss.BCEWithLogits{}, 10, 50)
	require.NoError(t, err)
	require.InDelta(t, 0.5, res.Diagnostics.Inconsistency, 1e-12)

	orthOnly, err := loss.Combined(correlatedOutput(), []int{0, 1}, loss.BCEWithLogits{}, 9, 50)
	require.NoError(t, err)
	require.InDelta(t, orthOnly.Total, res.Total, 1e-12)
	for _, row := range res.InconsistencyGrad {
		for _, g := range row {
			require.Zero(t, g)
		}
	}
}

func TestCombinedConsistencySatisfiedMarginsCostNothing(t *testing.T) {
	out := correlatedOutput()
	out.Inconsistency = [][]float64{{0.05, 0.05}, {0.5, 0.5}}
	res, err := loss.Combined(out, []int{0, 1}, loss.BCEWithLogits{}, 50, 50)
	require.NoError(t, err)
	require.Zero(t, res.Diagnostics.Inconsistency)
	for _, row := range res.InconsistencyGrad {
		for _, g := range row {
			require.Zero(t, g)
		}
	}
}

func TestCombinedSingleClassBatch(t *testing.T) {
	out := correlatedOutput()
	res, err := loss.Combined(out, []int{0, 0}, loss.BCEWithLogits{}, 50, 50)
	require.NoError(t, err)

	// Only the real-class hinge can fire: rows 0 and 1 are both real, with
	// mean 0.25 over four entries, 0.15 over the margin.
	require.InDelta(t, 0.15, res.Diagnostics.Inconsistency, 1e-12)
	for _, row := range res.InconsistencyGrad {
		for _, g := range row {
			require.Greater(t, g, 0.0)
		}
	}
}

func TestResultScale(t *testing.T) {
	out := correlatedOutput()
	res, err := loss.Combined(out, []int{0, 1}, loss.BCEWithLogits{}, 30, 50)
	require.NoError(t, err)

	total := res.Total
	logit := res.LogitGrad[0][0]
	spatial := res.SpatialGrad[1][1]
	diag := res.Diagnostics

	res.Scale(0.5)
	require.InDelta(t, total/2, res.Total, 1e-12)
	require.InDelta(t, logit/2, res.LogitGrad[0][0], 1e-12)
	require.InDelta(t, spatial/2, res.SpatialGrad[1][1], 1e-12)
	require.Equal(t, diag, res.Diagnostics)
}

func cloneRows(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = append([]float64(nil), row...)
	}
	return out
}
