package bsl

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

//CrossProdParams collect the optional arguments of CrossProd.
type CrossProdParams struct {
	RowInd     []int //row subset of X, nil for all rows
	ColInd     []int //column subset of X, nil for all columns
	BlockWidth int   //columns per block, 0 to derive from the memory budget
	Config     *Config
}

//CrossProd computes crossprod(X, A) = Xᵗ·A over the selected row and column
//subsets of X, streaming X one column block at a time so that peak memory is
//bounded by a single block. A must have exactly one row per selected row of X.
//Each block contributes a disjoint row window of the result, so the block
//width changes computation granularity only, never the values beyond the
//summation order inside one block multiply.
func CrossProd(reader BlockReader, a *mat.Dense, params CrossProdParams) (*mat.Dense, error) {
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

	aRows, aCols := a.Dims()
	if cfg.CheckArgs {
		if err := checkIndices(rowInd, nrow, "row"); err != nil {
			return nil, err
		}
		if err := checkIndices(colInd, ncol, "column"); err != nil {
			return nil, err
		}
	}
	// The dimension check is not optional: a mismatch here is never meaningful.
	if aRows != len(rowInd) {
		return nil, fmt.Errorf("bsl: A has %d rows but %d rows of X are selected", aRows, len(rowInd))
	}

	blockWidth := params.BlockWidth
	if blockWidth <= 0 {
		blockWidth = BlockWidth(cfg.BlockBudgetGB, len(rowInd))
	}
	plan, err := PlanBlocks(len(colInd), blockWidth)
	if err != nil {
		return nil, err
	}

	result := mat.NewDense(len(colInd), aCols, nil)
	for _, r := range plan {
		block, err := reader.ReadBlock(rowInd, colInd[r.Begin:r.End])
		if err != nil {
			return nil, err
		}

		var partial mat.Dense
		partial.Mul(block.T(), a)
		result.Slice(r.Begin, r.End, 0, aCols).(*mat.Dense).Copy(&partial)
	}
	return result, nil
}
