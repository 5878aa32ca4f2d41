package bsl

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

//FitStatus tells which stage produced (or failed to produce) a column result.
type FitStatus int

const (
	//FitIRLS marks a column solved by the fast per-column IRLS path.
	FitIRLS FitStatus = iota
	//FitFallback marks a column re-fitted by the slower general solver.
	FitFallback
	//FitFailed marks a column that neither solver could fit.
	FitFailed
)

func (s FitStatus) String() string {
	switch s {
	case FitIRLS:
		return "irls"
	case FitFallback:
		return "fallback"
	case FitFailed:
		return "failed"
	}
	return fmt.Sprintf("FitStatus(%d)", int(s))
}

//RegressionRow is the result for one matrix column. Estimate, StdErr, ZScore
//and PValue are NaN when the column is unresolved; NIter is zero unless the
//fast IRLS path converged.
type RegressionRow struct {
	Estimate float64
	StdErr   float64
	NIter    int
	ZScore   float64
	PValue   float64
	Status   FitStatus
}

//LogRegParams collect the optional arguments of UnivLogReg.
type LogRegParams struct {
	RowInd     []int      //row subset of X, nil for all rows
	ColInd     []int      //column subset of X, nil for all columns
	Covar      *mat.Dense //user covariates, one row per selected row, may be nil
	Tol        float64    //IRLS convergence tolerance, 0 for 1e-8
	MaxIter    int        //IRLS iteration budget, 0 for 20
	NCores     int        //worker count, 0 for 1
	BlockWidth int        //columns per block, 0 to derive from the memory budget
	Fallback   GLMFitter  //solver for non-converged columns, nil for the BFGS fitter
	Config     *Config
}

const (
	defaultTol     = 1e-8
	defaultMaxIter = 20

	//warm-start fit settings; the covariate-only solution only seeds the
	//shared working response and weights, so its budget is separate.
	covarTol     = 1e-10
	covarMaxIter = 25
)

//logRegDesign holds the per-call state shared read-only across all columns
//and all workers: the covariate design (intercept first), its pre-computed
//per-observation outer products, the response and the warm-start working
//response and weights from the covariate-only fit.
type logRegDesign struct {
	c     *mat.Dense //n x k, first column all ones
	outer *tensor.Dense
	y     []float64
	z0    []float64
	w0    []float64
	n, k  int
}

//covariateOuter pre-computes the (n, k, k) array of covariate outer products
//C_i·C_iᵗ. These never change across IRLS iterations or columns, only their
//weights do, so the array is built once and shared.
func covariateOuter(c *mat.Dense) *tensor.Dense {
	h, d := c.Dims()
	outer := tensor.New(tensor.WithShape(h, d, d), tensor.Of(tensor.Float64))
	for p := 0; p < h; p++ {
		for q := 0; q < d; q++ {
			for r := 0; r < d; r++ {
				HandleError(outer.SetAt(c.At(p, q)*c.At(p, r), p, q, r))
			}
		}
	}
	return outer
}

//accumCovarBlock writes Σ_i w_i·C_i·C_iᵗ into the dst window at (rowOff, colOff).
func (des *logRegDesign) accumCovarBlock(w []float64, dst *mat.Dense, rowOff, colOff int) {
	for p := 0; p < des.k; p++ {
		for q := 0; q < des.k; q++ {
			s := 0.0
			for i := 0; i < des.n; i++ {
				element, err := des.outer.At(i, p, q)
				HandleError(err)
				s += w[i] * element.(float64)
			}
			dst.Set(rowOff+p, colOff+q, s)
		}
	}
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

//relConverged implements the symmetric relative-change criterion
//|bNew - bOld| < tol·(|bNew| + |bOld| + tol).
func relConverged(bNew, bOld, tol float64) bool {
	return math.Abs(bNew-bOld) < tol*(math.Abs(bNew)+math.Abs(bOld)+tol)
}

//newLogRegDesign builds the covariate design (intercept plus user covariates),
//runs the covariate-only IRLS once and stores its working response and weights
//as the warm start shared by every column.
func newLogRegDesign(y []float64, covar *mat.Dense) (*logRegDesign, error) {
	n := len(y)
	k := 1
	if covar != nil {
		ch, cw := covar.Dims()
		if ch != n {
			return nil, fmt.Errorf("bsl: covariates have %d rows but %d rows are selected", ch, n)
		}
		k += cw
	}

	c := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		c.Set(i, 0, 1)
		for q := 1; q < k; q++ {
			c.Set(i, q, covar.At(i, q-1))
		}
	}

	des := &logRegDesign{
		c:     c,
		outer: covariateOuter(c),
		y:     y,
		n:     n,
		k:     k,
	}
	if err := des.covariateFit(); err != nil {
		return nil, err
	}
	return des, nil
}

//covariateFit runs IRLS on the covariate-only model and records the working
//response and weights at its solution.
func (des *logRegDesign) covariateFit() error {
	n, k := des.n, des.k

	beta := make([]float64, k)
	w := make([]float64, n)
	z := make([]float64, n)
	for i := 0; i < n; i++ {
		// beta = 0: fitted probability one half everywhere.
		w[i] = 0.25
		z[i] = (des.y[i] - 0.5) / 0.25
	}

	normal := mat.NewDense(k, k, nil)
	inverse := mat.NewDense(k, k, nil)
	rhs := mat.NewDense(k, 1, nil)
	update := mat.NewDense(k, 1, nil)

	for iter := 1; iter <= covarMaxIter; iter++ {
		des.accumCovarBlock(w, normal, 0, 0)
		for q := 0; q < k; q++ {
			s := 0.0
			for i := 0; i < n; i++ {
				s += w[i] * des.c.At(i, q) * z[i]
			}
			rhs.Set(q, 0, s)
		}

		if err := inverse.Inverse(normal); err != nil {
			return fmt.Errorf("bsl: covariate-only fit has a singular design: %w", err)
		}
		update.Mul(inverse, rhs)

		done := true
		for q := 0; q < k; q++ {
			v := update.At(q, 0)
			if !relConverged(v, beta[q], covarTol) {
				done = false
			}
			beta[q] = v
		}

		for i := 0; i < n; i++ {
			e := 0.0
			for q := 0; q < k; q++ {
				e += beta[q] * des.c.At(i, q)
			}
			p := sigmoid(e)
			w[i] = p * (1 - p)
			z[i] = e + (des.y[i]-p)/w[i]
			if w[i] == 0 || math.IsNaN(z[i]) || math.IsInf(z[i], 0) {
				return fmt.Errorf("bsl: covariate-only fit diverged at row %d", i)
			}
		}
		if done {
			break
		}
	}

	des.z0 = z
	des.w0 = w
	return nil
}

//irlsResult is the transient per-column outcome of the fast path.
type irlsResult struct {
	estimate  float64
	stdErr    float64
	nIter     int
	exhausted bool
}

//logisticColumn fits one column by IRLS over the design [x | C], warm-started
//from the shared covariate-only working response and weights. Convergence is
//judged on the column coefficient alone with the symmetric relative-change
//criterion; hitting the iteration budget, a singular step, a zero weight or a
//non-finite working response all surface as exhaustion, never as non-finite
//output.
func logisticColumn(x []float64, des *logRegDesign, tol float64, maxIter int) irlsResult {
	n, k := des.n, des.k
	k1 := k + 1

	w := append([]float64(nil), des.w0...)
	z := append([]float64(nil), des.z0...)

	normal := mat.NewDense(k1, k1, nil)
	inverse := mat.NewDense(k1, k1, nil)
	rhs := mat.NewDense(k1, 1, nil)
	update := mat.NewDense(k1, 1, nil)
	beta := make([]float64, k1)

	var b, bOld float64
	for nIter := 1; nIter <= maxIter; nIter++ {
		des.accumCovarBlock(w, normal, 1, 1)
		sxx, sxz := 0.0, 0.0
		for i := 0; i < n; i++ {
			wx := w[i] * x[i]
			sxx += wx * x[i]
			sxz += wx * z[i]
		}
		normal.Set(0, 0, sxx)
		rhs.Set(0, 0, sxz)
		for q := 0; q < k; q++ {
			sxc, scz := 0.0, 0.0
			for i := 0; i < n; i++ {
				cv := des.c.At(i, q)
				sxc += w[i] * x[i] * cv
				scz += w[i] * cv * z[i]
			}
			normal.Set(0, q+1, sxc)
			normal.Set(q+1, 0, sxc)
			rhs.Set(q+1, 0, scz)
		}

		if err := inverse.Inverse(normal); err != nil {
			return irlsResult{exhausted: true}
		}
		update.Mul(inverse, rhs)
		for q := 0; q < k1; q++ {
			beta[q] = update.At(q, 0)
		}
		bOld, b = b, beta[0]

		for i := 0; i < n; i++ {
			e := b * x[i]
			for q := 0; q < k; q++ {
				e += beta[q+1] * des.c.At(i, q)
			}
			p := sigmoid(e)
			w[i] = p * (1 - p)
			z[i] = e + (des.y[i]-p)/w[i]
			if w[i] == 0 || math.IsNaN(z[i]) || math.IsInf(z[i], 0) {
				return irlsResult{exhausted: true}
			}
		}

		if relConverged(b, bOld, tol) {
			if nIter == maxIter {
				// Converging on the very last update still counts as
				// exhaustion: the budget was spent.
				break
			}
			return irlsResult{
				estimate: b,
				stdErr:   math.Sqrt(inverse.At(0, 0)),
				nIter:    nIter,
			}
		}
	}
	return irlsResult{exhausted: true}
}

//UnivLogReg fits, for every addressed column x of the matrix behind reader, a
//logistic regression of y on x plus the covariates, and reports one row per
//column in column order. Columns whose IRLS run does not converge within the
//budget are re-fitted by the fallback solver; columns the fallback cannot fit
//either degrade to NaN results. y has one value per selected row.
func UnivLogReg(reader BlockReader, y []float64, params LogRegParams) ([]RegressionRow, error) {
	cfg := params.Config.orDefault()
	nrow, ncol := reader.Dims()

	rowInd := params.RowInd
	if rowInd == nil {
		rowInd = seqInd(nrow)
	}
	colInd := params.ColInd
	if colInd == nil {
		colInd = seqInd(ncol)
	}
	if len(colInd) == 0 {
		return nil, fmt.Errorf("bsl: no columns selected")
	}

	if cfg.CheckArgs {
		if err := checkIndices(rowInd, nrow, "row"); err != nil {
			return nil, err
		}
		if err := checkIndices(colInd, ncol, "column"); err != nil {
			return nil, err
		}
		if err := checkResponse(y); err != nil {
			return nil, err
		}
	}
	if len(y) != len(rowInd) {
		return nil, fmt.Errorf("bsl: response has %d values but %d rows are selected", len(y), len(rowInd))
	}

	tol := params.Tol
	if tol <= 0 {
		tol = defaultTol
	}
	maxIter := params.MaxIter
	if maxIter <= 0 {
		maxIter = defaultMaxIter
	}
	ncores := params.NCores
	if ncores <= 0 {
		ncores = 1
	}
	if ncores > cfg.NCoresMax {
		ncores = cfg.NCoresMax
	}
	blockWidth := params.BlockWidth
	if blockWidth <= 0 {
		blockWidth = BlockWidth(cfg.BlockBudgetGB, len(rowInd))
	}

	des, err := newLogRegDesign(y, params.Covar)
	if err != nil {
		return nil, err
	}

	fitter := params.Fallback
	if fitter == nil {
		fitter = BFGSLogistic
	}

	job := &logRegJob{
		reader:     reader,
		rowInd:     rowInd,
		colInd:     colInd,
		des:        des,
		tol:        tol,
		maxIter:    maxIter,
		blockWidth: blockWidth,
		fitter:     fitter,
	}
	rows, err := dispatch(job, ncores)
	if err != nil {
		return nil, err
	}

	fillStats(rows)
	return rows, nil
}
