package bsl

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

//GLMFitter is the external capability consumed for columns whose IRLS run did
//not converge: a full logistic regression of y on the design [x | covariates],
//with its own tolerance and iteration budget. It reports the coefficient and
//standard error of the first design column and whether the fit converged.
type GLMFitter func(y []float64, design *mat.Dense, tol float64, maxIter int) (estimate, stdErr float64, converged bool)

//fallback budget: slower but wider than the fast path.
const (
	fallbackTol     = 1e-10
	fallbackMaxIter = 100
)

//log1pExp computes log(1+exp(e)) without overflowing for large e.
func log1pExp(e float64) float64 {
	if e > 0 {
		return e + math.Log1p(math.Exp(-e))
	}
	return math.Log1p(math.Exp(e))
}

//BFGSLogistic is the default fallback fitter: BFGS on the negated logistic
//log-likelihood, with the standard error taken from the inverse observed
//information at the optimum.
func BFGSLogistic(y []float64, design *mat.Dense, tol float64, maxIter int) (float64, float64, bool) {
	n, k := design.Dims()

	logLike := func(beta []float64) float64 {
		ll := 0.0
		for i := 0; i < n; i++ {
			e := 0.0
			for q := 0; q < k; q++ {
				e += beta[q] * design.At(i, q)
			}
			ll += log1pExp(e) - y[i]*e
		}
		return ll
	}
	score := func(grad, beta []float64) {
		for q := range grad {
			grad[q] = 0
		}
		for i := 0; i < n; i++ {
			e := 0.0
			for q := 0; q < k; q++ {
				e += beta[q] * design.At(i, q)
			}
			r := sigmoid(e) - y[i]
			for q := 0; q < k; q++ {
				grad[q] += r * design.At(i, q)
			}
		}
	}

	problem := optimize.Problem{Func: logLike, Grad: score}
	settings := &optimize.Settings{
		GradientThreshold: tol,
		MajorIterations:   maxIter,
	}

	result, err := optimize.Minimize(problem, make([]float64, k), settings, &optimize.BFGS{})
	if result == nil {
		return math.NaN(), math.NaN(), false
	}
	if err != nil || result.Status.Err() != nil {
		// A line search can stall with the gradient already essentially
		// zero; that is still a converged fit.
		if result.Gradient == nil || floats.Norm(result.Gradient, 2) > math.Sqrt(tol) {
			return math.NaN(), math.NaN(), false
		}
	}

	// Observed information at the optimum.
	info := mat.NewDense(k, k, nil)
	for i := 0; i < n; i++ {
		e := 0.0
		for q := 0; q < k; q++ {
			e += result.X[q] * design.At(i, q)
		}
		p := sigmoid(e)
		w := p * (1 - p)
		for q := 0; q < k; q++ {
			for r := 0; r < k; r++ {
				info.Set(q, r, info.At(q, r)+w*design.At(i, q)*design.At(i, r))
			}
		}
	}
	inverse := mat.NewDense(k, k, nil)
	if err := inverse.Inverse(info); err != nil {
		return math.NaN(), math.NaN(), false
	}

	return result.X[0], math.Sqrt(inverse.At(0, 0)), true
}

//fallbackColumn hands one exhausted column to the fitter over the full design
//[x | C]. A successful re-fit carries the fallback estimate and standard
//error; a failed one degrades the column to missing values. Either way the
//column never fails the whole call on numerical grounds.
func fallbackColumn(x []float64, des *logRegDesign, fitter GLMFitter) RegressionRow {
	design := mat.NewDense(des.n, des.k+1, nil)
	for i := 0; i < des.n; i++ {
		design.Set(i, 0, x[i])
		for q := 0; q < des.k; q++ {
			design.Set(i, q+1, des.c.At(i, q))
		}
	}

	estimate, stdErr, converged := fitter(des.y, design, fallbackTol, fallbackMaxIter)
	if !converged {
		return RegressionRow{Estimate: nan, StdErr: nan, Status: FitFailed}
	}
	return RegressionRow{Estimate: estimate, StdErr: stdErr, Status: FitFallback}
}
