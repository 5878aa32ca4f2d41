package bsl

import (
	"fmt"
	"log"
	"os"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

//ReadNpy reads the content of an npy file into a dense matrix. Files holding
//float32 or integer data are upcast to float64; when the configuration asks
//for it, the upcast is reported on the log.
func ReadNpy(fileName string, cfg *Config) (*mat.Dense, error) {
	cfg = cfg.orDefault()

	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer func() { HandleError(f.Close()) }()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("bsl: reading npy header of %s: %w", fileName, err)
	}

	shape := r.Header.Descr.Shape
	if len(shape) != 2 {
		return nil, fmt.Errorf("bsl: %s holds a %d-dimensional array, want a matrix", fileName, len(shape))
	}
	h, w := shape[0], shape[1]

	var data []float64
	switch dtype := r.Header.Descr.Type; dtype {
	case "<f8", "f8":
		if err := r.Read(&data); err != nil {
			return nil, err
		}
	case "<f4", "f4":
		var raw []float32
		if err := r.Read(&raw); err != nil {
			return nil, err
		}
		data = upcast(fileName, dtype, raw, cfg, func(v float32) float64 { return float64(v) })
	case "<i8", "i8":
		var raw []int64
		if err := r.Read(&raw); err != nil {
			return nil, err
		}
		data = upcast(fileName, dtype, raw, cfg, func(v int64) float64 { return float64(v) })
	case "<i4", "i4":
		var raw []int32
		if err := r.Read(&raw); err != nil {
			return nil, err
		}
		data = upcast(fileName, dtype, raw, cfg, func(v int32) float64 { return float64(v) })
	default:
		return nil, fmt.Errorf("bsl: unsupported npy dtype %q in %s", dtype, fileName)
	}

	if len(data) != h*w {
		return nil, fmt.Errorf("bsl: %s holds %d values for shape %d x %d", fileName, len(data), h, w)
	}
	if r.Header.Descr.Fortran {
		// npy column-major layout; transpose into gonum's row-major Dense.
		dense := mat.NewDense(h, w, nil)
		for j := 0; j < w; j++ {
			for i := 0; i < h; i++ {
				dense.Set(i, j, data[j*h+i])
			}
		}
		return dense, nil
	}
	return mat.NewDense(h, w, data), nil
}

func upcast[T float32 | int64 | int32](fileName, dtype string, raw []T, cfg *Config, conv func(T) float64) []float64 {
	if cfg.TypecastWarning {
		log.Printf("warning: upcasting %s from dtype %q to float64", fileName, dtype)
	}
	data := make([]float64, len(raw))
	for i, v := range raw {
		data[i] = conv(v)
	}
	return data
}

//WriteNpy writes a dense matrix into an npy file.
func WriteNpy(fileName string, m *mat.Dense) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer func() { HandleError(f.Close()) }()

	return npyio.Write(f, m)
}

//FBMFromNpy builds a file-backed matrix from the content of an npy file.
func FBMFromNpy(npyName, backingName string, cfg *Config) (*FBM, error) {
	dense, err := ReadNpy(npyName, cfg)
	if err != nil {
		return nil, err
	}

	h, w := dense.Dims()
	fbm, err := CreateFBM(backingName, h, w)
	if err != nil {
		return nil, err
	}
	if err := fbm.FillFromDense(dense); err != nil {
		fbm.Close()
		return nil, err
	}
	return fbm, nil
}
