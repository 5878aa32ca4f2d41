package bsl

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
)

const (
	fbmMagic      = "BSLFBM01"
	fbmHeaderSize = 24
)

//FBM is a file-backed matrix of float64 values stored column-major in a flat
//backing file, so reading one column is one contiguous read. The matrix is
//read-only once filled; concurrent ReadBlock calls are safe because they go
//through positional reads that never move a shared file offset.
type FBM struct {
	path string
	file *os.File
	nrow int
	ncol int
}

//CreateFBM creates a zero-filled backing file for an nrow by ncol matrix.
func CreateFBM(path string, nrow, ncol int) (*FBM, error) {
	if nrow <= 0 || ncol <= 0 {
		return nil, fmt.Errorf("bsl: invalid FBM dimensions %d x %d", nrow, ncol)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	header := make([]byte, fbmHeaderSize)
	copy(header, fbmMagic)
	binary.LittleEndian.PutUint64(header[8:], uint64(nrow))
	binary.LittleEndian.PutUint64(header[16:], uint64(ncol))
	if _, err := file.Write(header); err != nil {
		file.Close()
		return nil, err
	}
	if err := file.Truncate(int64(fbmHeaderSize) + int64(nrow)*int64(ncol)*8); err != nil {
		file.Close()
		return nil, err
	}

	return &FBM{path: path, file: file, nrow: nrow, ncol: ncol}, nil
}

//OpenFBM attaches to an existing backing file.
func OpenFBM(path string) (*FBM, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	header := make([]byte, fbmHeaderSize)
	if _, err := file.ReadAt(header, 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("bsl: reading FBM header of %s: %w", path, err)
	}
	if string(header[:8]) != fbmMagic {
		file.Close()
		return nil, fmt.Errorf("bsl: %s is not an FBM backing file", path)
	}

	fbm := &FBM{
		path: path,
		file: file,
		nrow: int(binary.LittleEndian.Uint64(header[8:])),
		ncol: int(binary.LittleEndian.Uint64(header[16:])),
	}
	return fbm, nil
}

//Close detaches from the backing file.
func (fbm *FBM) Close() error {
	return fbm.file.Close()
}

//Path returns the location of the backing file.
func (fbm *FBM) Path() string {
	return fbm.path
}

//Dims returns the matrix dimensions.
func (fbm *FBM) Dims() (int, int) {
	return fbm.nrow, fbm.ncol
}

func (fbm *FBM) colOffset(j int) int64 {
	return int64(fbmHeaderSize) + int64(j)*int64(fbm.nrow)*8
}

//SetCol writes one full column into the backing file.
func (fbm *FBM) SetCol(j int, col []float64) error {
	if j < 0 || j >= fbm.ncol {
		return fmt.Errorf("bsl: column index %d out of range [0, %d)", j, fbm.ncol)
	}
	if len(col) != fbm.nrow {
		return fmt.Errorf("bsl: column of length %d does not fit %d rows", len(col), fbm.nrow)
	}

	buf := make([]byte, 8*fbm.nrow)
	for i, v := range col {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	_, err := fbm.file.WriteAt(buf, fbm.colOffset(j))
	return err
}

//Col reads one full column from the backing file.
func (fbm *FBM) Col(j int) ([]float64, error) {
	if j < 0 || j >= fbm.ncol {
		return nil, fmt.Errorf("bsl: column index %d out of range [0, %d)", j, fbm.ncol)
	}

	buf := make([]byte, 8*fbm.nrow)
	if _, err := fbm.file.ReadAt(buf, fbm.colOffset(j)); err != nil {
		return nil, err
	}
	col := make([]float64, fbm.nrow)
	for i := range col {
		col[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return col, nil
}

//ReadBlock materializes the submatrix selected by rowInd and colInd as one
//dense block. A nil rowInd selects all rows. Whole columns are read from disk
//and the row subset is applied in memory.
func (fbm *FBM) ReadBlock(rowInd, colInd []int) (*mat.Dense, error) {
	if rowInd == nil {
		rowInd = seqInd(fbm.nrow)
	}
	if err := checkIndices(rowInd, fbm.nrow, "row"); err != nil {
		return nil, err
	}
	if err := checkIndices(colInd, fbm.ncol, "column"); err != nil {
		return nil, err
	}

	block := mat.NewDense(len(rowInd), len(colInd), nil)
	for q, j := range colInd {
		col, err := fbm.Col(j)
		if err != nil {
			return nil, err
		}
		for p, i := range rowInd {
			block.Set(p, q, col[i])
		}
	}
	return block, nil
}

//FillFromDense copies a dense matrix into the backing file column by column.
func (fbm *FBM) FillFromDense(m *mat.Dense) error {
	if Height(m) != fbm.nrow || Width(m) != fbm.ncol {
		return fmt.Errorf("bsl: dense matrix %d x %d does not match FBM %d x %d", Height(m), Width(m), fbm.nrow, fbm.ncol)
	}

	col := make([]float64, fbm.nrow)
	for j := 0; j < fbm.ncol; j++ {
		mat.Col(col, j, m)
		if err := fbm.SetCol(j, col); err != nil {
			return err
		}
	}
	return nil
}
