package bsl

import (
	"log"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

//Partition splits n addressed columns into at most ncores contiguous,
//disjoint, exhaustive slices with sizes as equal as possible (they differ by
//at most one column). Order is preserved: slice i holds the i-th contiguous
//run of columns.
func Partition(n, ncores int) []ColRange {
	if ncores < 1 {
		ncores = 1
	}
	if ncores > n {
		ncores = n
	}

	parts := make([]ColRange, 0, ncores)
	base, rem := n/ncores, n%ncores
	begin := 0
	for p := 0; p < ncores; p++ {
		width := base
		if p < rem {
			width++
		}
		parts = append(parts, ColRange{begin, begin + width})
		begin += width
	}
	return parts
}

//logRegJob carries everything a worker needs to fit its partition. All fields
//are read-only once the job is built, so workers share them without locks.
type logRegJob struct {
	reader     BlockReader
	rowInd     []int
	colInd     []int
	des        *logRegDesign
	tol        float64
	maxIter    int
	blockWidth int
	fitter     GLMFitter
}

//partitionTable is one worker's result: its rows in column order plus the
//fallback tallies to aggregate after the join.
type partitionTable struct {
	rows     []RegressionRow
	fellBack int
	failed   int
}

//runPartition fits the columns of one partition, streaming them block by
//block. A column that exhausts the fast path goes straight to the fallback
//fitter while its block is still in memory.
func (job *logRegJob) runPartition(part ColRange) (partitionTable, error) {
	plan, err := PlanBlocks(part.Width(), job.blockWidth)
	if err != nil {
		return partitionTable{}, err
	}

	table := partitionTable{rows: make([]RegressionRow, 0, part.Width())}
	x := make([]float64, len(job.rowInd))
	for _, r := range plan {
		block, err := job.reader.ReadBlock(job.rowInd, job.colInd[part.Begin+r.Begin:part.Begin+r.End])
		if err != nil {
			return partitionTable{}, err
		}

		for q := 0; q < r.Width(); q++ {
			mat.Col(x, q, block)
			res := logisticColumn(x, job.des, job.tol, job.maxIter)
			if res.exhausted {
				row := fallbackColumn(x, job.des, job.fitter)
				table.fellBack++
				if row.Status == FitFailed {
					table.failed++
				}
				table.rows = append(table.rows, row)
				continue
			}
			table.rows = append(table.rows, RegressionRow{
				Estimate: res.estimate,
				StdErr:   res.stdErr,
				NIter:    res.nIter,
				Status:   FitIRLS,
			})
		}
	}
	return table, nil
}

//dispatch runs the per-partition pipeline either on the calling goroutine
//(one core) or on one worker per partition, then concatenates the partition
//tables in partition order. A failing worker fails the whole dispatch;
//partial results are never returned. The fallback tallies of all partitions
//are reported once, after the join: an informational count of re-fitted
//columns and a warning count of columns the fallback could not fit either.
func dispatch(job *logRegJob, ncores int) ([]RegressionRow, error) {
	parts := Partition(len(job.colInd), ncores)
	tables := make([]partitionTable, len(parts))

	if len(parts) == 1 {
		table, err := job.runPartition(parts[0])
		if err != nil {
			return nil, err
		}
		tables[0] = table
	} else {
		var g errgroup.Group
		for pi := range parts {
			pi := pi
			g.Go(func() error {
				table, err := job.runPartition(parts[pi])
				if err != nil {
					return err
				}
				tables[pi] = table
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	rows := make([]RegressionRow, 0, len(job.colInd))
	fellBack, failed := 0, 0
	for _, table := range tables {
		rows = append(rows, table.rows...)
		fellBack += table.fellBack
		failed += table.failed
	}
	if fellBack > 0 {
		log.Printf("%d columns needed the slower fallback fit", fellBack)
	}
	if failed > 0 {
		log.Printf("warning: %d of them could not be fitted by the fallback either", failed)
	}
	return rows, nil
}
