package bsl

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

//logisticFixture draws a deterministic design and a binary response whose
//log-odds depend on column 0 only.
func logisticFixture(seed int64, n, m int) (*mat.Dense, []float64) {
	rng := rand.New(rand.NewSource(seed))
	x := randomDense(rng, n, m)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		eta := -0.2 + 1.5*x.At(i, 0)
		if rng.Float64() < sigmoid(eta) {
			y[i] = 1
		}
	}
	return x, y
}

func TestUnivLogRegConverges(t *testing.T) {
	x, y := logisticFixture(11, 200, 8)

	rows, err := UnivLogReg(DenseReader{M: x}, y, LogRegParams{})
	require.NoError(t, err)
	require.Len(t, rows, 8)

	for j, row := range rows {
		assert.Equal(t, FitIRLS, row.Status, "column %d", j)
		assert.GreaterOrEqual(t, row.NIter, 1)
		assert.Less(t, row.NIter, defaultMaxIter)
		assert.False(t, math.IsNaN(row.Estimate))
		assert.Greater(t, row.StdErr, 0.0)
		assert.GreaterOrEqual(t, row.PValue, 0.0)
		assert.LessOrEqual(t, row.PValue, 1.0)
		assert.InDelta(t, row.Estimate/row.StdErr, row.ZScore, 1e-15)
	}

	// The causal column carries a strong positive effect.
	assert.Greater(t, rows[0].Estimate, 0.5)
	assert.Less(t, rows[0].PValue, 1e-4)
}

func TestUnivLogRegParallelMatchesSequential(t *testing.T) {
	x, y := logisticFixture(12, 150, 11)

	sequential, err := UnivLogReg(DenseReader{M: x}, y, LogRegParams{NCores: 1})
	require.NoError(t, err)

	for _, ncores := range []int{2, 3, 11, 30} {
		parallel, err := UnivLogReg(DenseReader{M: x}, y, LogRegParams{NCores: ncores})
		require.NoError(t, err)
		assert.Equal(t, sequential, parallel, "ncores=%d", ncores)
	}
}

func TestUnivLogRegSmallBlocksMatchWholeMatrix(t *testing.T) {
	x, y := logisticFixture(13, 100, 7)

	whole, err := UnivLogReg(DenseReader{M: x}, y, LogRegParams{})
	require.NoError(t, err)

	narrow, err := UnivLogReg(DenseReader{M: x}, y, LogRegParams{BlockWidth: 2})
	require.NoError(t, err)
	assert.Equal(t, whole, narrow)
}

func TestUnivLogRegWithCovariates(t *testing.T) {
	x, y := logisticFixture(14, 120, 5)
	rng := rand.New(rand.NewSource(15))
	covar := randomDense(rng, 120, 2)

	rows, err := UnivLogReg(DenseReader{M: x}, y, LogRegParams{Covar: covar})
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for _, row := range rows {
		assert.Equal(t, FitIRLS, row.Status)
	}

	// Covariates with the wrong row count are a validation error.
	_, err = UnivLogReg(DenseReader{M: x}, y, LogRegParams{Covar: randomDense(rng, 119, 2)})
	assert.Error(t, err)
}

func TestUnivLogRegRowSubset(t *testing.T) {
	x, y := logisticFixture(16, 90, 4)

	rowInd := make([]int, 0, 45)
	for i := 0; i < 90; i += 2 {
		rowInd = append(rowInd, i)
	}
	ySub := make([]float64, len(rowInd))
	for p, i := range rowInd {
		ySub[p] = y[i]
	}

	rows, err := UnivLogReg(DenseReader{M: x}, ySub, LogRegParams{RowInd: rowInd})
	require.NoError(t, err)
	require.Len(t, rows, 4)
	for _, row := range rows {
		assert.Equal(t, FitIRLS, row.Status)
	}
}

func TestUnivLogRegValidation(t *testing.T) {
	x, y := logisticFixture(17, 50, 3)
	cr := &countingReader{DenseReader: DenseReader{M: x}}

	bad := append([]float64(nil), y...)
	bad[7] = 2
	_, err := UnivLogReg(cr, bad, LogRegParams{})
	assert.Error(t, err)

	_, err = UnivLogReg(cr, y[:49], LogRegParams{})
	assert.Error(t, err)

	_, err = UnivLogReg(cr, y, LogRegParams{ColInd: []int{0, 3}})
	assert.Error(t, err)

	_, err = UnivLogReg(cr, y, LogRegParams{ColInd: []int{-1}})
	assert.Error(t, err)

	// Every rejection above happened before any block was read.
	assert.Zero(t, cr.reads)
}

func TestUnivLogRegFallbackAgreesWithIRLS(t *testing.T) {
	x, y := logisticFixture(18, 150, 6)

	irls, err := UnivLogReg(DenseReader{M: x}, y, LogRegParams{MaxIter: 30})
	require.NoError(t, err)

	// A budget of 2 cannot converge, so every column goes through the
	// fallback; the two solvers must land on the same optimum.
	viaFallback, err := UnivLogReg(DenseReader{M: x}, y, LogRegParams{MaxIter: 2})
	require.NoError(t, err)

	for j := range irls {
		require.Equal(t, FitIRLS, irls[j].Status)
		require.Equal(t, FitFallback, viaFallback[j].Status)
		assert.Zero(t, viaFallback[j].NIter)
		assert.InDelta(t, irls[j].Estimate, viaFallback[j].Estimate, 1e-4)
		assert.InDelta(t, irls[j].StdErr, viaFallback[j].StdErr, 1e-4)
	}
}

func TestUnivLogRegFallbackOutcomes(t *testing.T) {
	x, y := logisticFixture(19, 60, 3)

	stub := func(y []float64, design *mat.Dense, tol float64, maxIter int) (float64, float64, bool) {
		return 1.0, 0.5, true
	}
	rows, err := UnivLogReg(DenseReader{M: x}, y, LogRegParams{MaxIter: 2, Fallback: stub})
	require.NoError(t, err)
	for _, row := range rows {
		assert.Equal(t, FitFallback, row.Status)
		assert.Equal(t, 1.0, row.Estimate)
		assert.Equal(t, 0.5, row.StdErr)
		assert.InDelta(t, 2.0, row.ZScore, 1e-15)
	}

	// A fallback failure degrades the column to missing, never to an error.
	failing := func(y []float64, design *mat.Dense, tol float64, maxIter int) (float64, float64, bool) {
		return nan, nan, false
	}
	rows, err = UnivLogReg(DenseReader{M: x}, y, LogRegParams{MaxIter: 2, Fallback: failing})
	require.NoError(t, err)
	for _, row := range rows {
		assert.Equal(t, FitFailed, row.Status)
		assert.True(t, math.IsNaN(row.Estimate))
		assert.True(t, math.IsNaN(row.StdErr))
		assert.True(t, math.IsNaN(row.ZScore))
		assert.True(t, math.IsNaN(row.PValue))
	}
}

func TestUnivLogRegSaturatedColumnDegrades(t *testing.T) {
	// A perfectly separated column with huge magnitudes saturates the fitted
	// probabilities, so the weights underflow to zero mid-iteration. The fast
	// path must surface that as exhaustion, and the call must degrade the
	// column rather than panic or report non-finite IRLS output.
	x, y := logisticFixture(22, 80, 4)
	for i := 0; i < 80; i++ {
		x.Set(i, 2, (2*y[i]-1)*1e8)
	}

	des, err := newLogRegDesign(y, nil)
	require.NoError(t, err)
	col := make([]float64, 80)
	mat.Col(col, 2, x)
	assert.True(t, logisticColumn(col, des, defaultTol, defaultMaxIter).exhausted)

	rows, err := UnivLogReg(DenseReader{M: x}, y, LogRegParams{})
	require.NoError(t, err)
	require.Len(t, rows, 4)

	row := rows[2]
	assert.NotEqual(t, FitIRLS, row.Status)
	assert.Zero(t, row.NIter)
	if row.Status == FitFailed {
		assert.True(t, math.IsNaN(row.Estimate))
		assert.True(t, math.IsNaN(row.StdErr))
		assert.True(t, math.IsNaN(row.ZScore))
		assert.True(t, math.IsNaN(row.PValue))
	} else {
		assert.False(t, math.IsNaN(row.Estimate))
		assert.Greater(t, row.StdErr, 0.0)
	}

	// The healthy columns are untouched by their saturated neighbour.
	for _, j := range []int{0, 1, 3} {
		assert.Equal(t, FitIRLS, rows[j].Status, "column %d", j)
	}
}

func TestBFGSLogisticMatchesIRLSColumn(t *testing.T) {
	x, y := logisticFixture(20, 150, 1)

	des, err := newLogRegDesign(y, nil)
	require.NoError(t, err)

	col := make([]float64, 150)
	mat.Col(col, 0, x)
	fast := logisticColumn(col, des, defaultTol, 50)
	require.False(t, fast.exhausted)

	design := mat.NewDense(150, 2, nil)
	for i := 0; i < 150; i++ {
		design.Set(i, 0, col[i])
		design.Set(i, 1, 1)
	}
	estimate, stdErr, converged := BFGSLogistic(y, design, fallbackTol, fallbackMaxIter)
	require.True(t, converged)
	assert.InDelta(t, fast.estimate, estimate, 1e-5)
	assert.InDelta(t, fast.stdErr, stdErr, 1e-5)
}
