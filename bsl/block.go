package bsl

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

//ColRange is a half interval [Begin, End) of block-local column positions.
type ColRange struct {
	Begin, End int
}

//Width returns the number of columns covered by the range.
func (r ColRange) Width() int {
	return r.End - r.Begin
}

//PlanBlocks splits the m addressed columns into contiguous ranges of width at
//most maxWidth. The ranges cover [0, m) exactly, in order, with no gaps and no
//overlaps; at least one range is always produced.
func PlanBlocks(m, maxWidth int) ([]ColRange, error) {
	if m <= 0 {
		return nil, fmt.Errorf("bsl: cannot plan blocks over %d columns", m)
	}
	if maxWidth <= 0 {
		return nil, fmt.Errorf("bsl: block width %d is not positive", maxWidth)
	}

	plan := make([]ColRange, 0, (m+maxWidth-1)/maxWidth)
	for begin := 0; begin < m; begin += maxWidth {
		end := begin + maxWidth
		if end > m {
			end = m
		}
		plan = append(plan, ColRange{begin, end})
	}
	return plan, nil
}

//BlockWidth derives the widest column block that fits the memory budget given
//the row count of the current row subset, never less than one column.
func BlockWidth(budgetGB float64, rows int) int {
	width := int(budgetGB * 1024 * 1024 * 1024 / (8 * float64(rows)))
	if width < 1 {
		width = 1
	}
	return width
}

//BlockReader is the storage boundary: it materializes one dense block of the
//underlying matrix. rowInd selects a row subset (nil means all rows) and
//colInd the exact columns of the block; both are checked against the matrix
//bounds and produce a range error when violated. The returned block has
//len(rowInd) rows and len(colInd) columns.
type BlockReader interface {
	Dims() (rows, cols int)
	ReadBlock(rowInd, colInd []int) (*mat.Dense, error)
}

//DenseReader adapts an in-memory dense matrix to the BlockReader contract.
type DenseReader struct {
	M *mat.Dense
}

//Dims returns the dimensions of the wrapped matrix.
func (dr DenseReader) Dims() (int, int) {
	return dr.M.Dims()
}

//ReadBlock copies the requested submatrix out of the wrapped matrix.
func (dr DenseReader) ReadBlock(rowInd, colInd []int) (*mat.Dense, error) {
	nrow, ncol := dr.M.Dims()
	if rowInd == nil {
		rowInd = seqInd(nrow)
	}
	if err := checkIndices(rowInd, nrow, "row"); err != nil {
		return nil, err
	}
	if err := checkIndices(colInd, ncol, "column"); err != nil {
		return nil, err
	}

	block := mat.NewDense(len(rowInd), len(colInd), nil)
	for q, j := range colInd {
		for p, i := range rowInd {
			block.Set(p, q, dr.M.At(i, j))
		}
	}
	return block, nil
}
