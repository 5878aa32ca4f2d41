package bsl

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

var nan = math.NaN()

//NaN is the missing-value marker used throughout result tables.
func NaN() float64 {
	return nan
}

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

//fillStats computes the z-score estimate/stdErr and the two-sided standard
//normal p-value 2·Φ̄(|z|) for every row. NaN estimates propagate to NaN
//z-scores and p-values.
func fillStats(rows []RegressionRow) {
	for i := range rows {
		z := rows[i].Estimate / rows[i].StdErr
		rows[i].ZScore = z
		if math.IsNaN(z) {
			rows[i].PValue = nan
			continue
		}
		rows[i].PValue = 2 * stdNormal.Survival(math.Abs(z))
	}
}
