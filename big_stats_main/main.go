package main

import (
	"flag"
	"log"
	"os"
	"runtime/pprof"

	"github.com/NBICNamibia/bigstatsr/bsl"
	"gonum.org/v1/gonum/mat"
)

func openReader(fbmName, npyName string, cfg *bsl.Config) (bsl.BlockReader, func()) {
	if fbmName != "" {
		log.Print("attach to backing file <", fbmName, ">")
		fbm, err := bsl.OpenFBM(fbmName)
		if err != nil {
			log.Fatal(err)
		}
		return fbm, func() { bsl.HandleError(fbm.Close()) }
	}

	log.Print("load matrix <", npyName, ">")
	dense, err := bsl.ReadNpy(npyName, cfg)
	if err != nil {
		log.Fatal(err)
	}
	return bsl.DenseReader{M: dense}, func() {}
}

func readColumn(npyName string, cfg *bsl.Config) []float64 {
	dense, err := bsl.ReadNpy(npyName, cfg)
	if err != nil {
		log.Fatal(err)
	}
	if bsl.Width(dense) != 1 {
		log.Fatalf("expected a single-column matrix in %s, got %d x %d", npyName, bsl.Height(dense), bsl.Width(dense))
	}
	col := make([]float64, bsl.Height(dense))
	mat.Col(col, 0, dense)
	return col
}

func main() {
	mode := flag.String("mode", "", "one of: import, crossprod, logreg")
	xName := flag.String("x", "", "matrix X as an npy file")
	fbmName := flag.String("fbm", "", "matrix X as an FBM backing file")
	aName := flag.String("a", "", "right-hand matrix A as an npy file (crossprod)")
	yName := flag.String("y", "", "binary response as a single-column npy file (logreg)")
	covarName := flag.String("covar", "", "optional covariate matrix as an npy file (logreg)")
	outName := flag.String("out", "out.npy", "output file")
	ncores := flag.Int("ncores", 1, "worker count for logreg")
	blockGB := flag.Float64("blockgb", 1, "block memory budget in GB")
	tol := flag.Float64("tol", 1e-8, "IRLS convergence tolerance")
	maxIter := flag.Int("maxiter", 20, "IRLS iteration budget")
	cpuprofile := flag.String("cpuprofile", "", "write a cpu profile to this file")
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		bsl.HandleError(pprof.StartCPUProfile(f))
		defer pprof.StopCPUProfile()
	}

	cfg := bsl.DefaultConfig()
	cfg.BlockBudgetGB = *blockGB

	switch *mode {
	case "import":
		log.Print("import <", *xName, "> into <", *outName, ">")
		fbm, err := bsl.FBMFromNpy(*xName, *outName, cfg)
		if err != nil {
			log.Fatal(err)
		}
		bsl.HandleError(fbm.Close())

	case "crossprod":
		reader, closeReader := openReader(*fbmName, *xName, cfg)
		defer closeReader()

		log.Print("load A <", *aName, ">")
		a, err := bsl.ReadNpy(*aName, cfg)
		if err != nil {
			log.Fatal(err)
		}

		log.Print("compute crossprod")
		result, err := bsl.CrossProd(reader, a, bsl.CrossProdParams{Config: cfg})
		if err != nil {
			log.Fatal(err)
		}
		bsl.HandleError(bsl.WriteNpy(*outName, result))

	case "logreg":
		reader, closeReader := openReader(*fbmName, *xName, cfg)
		defer closeReader()

		y := readColumn(*yName, cfg)
		var covar *mat.Dense
		if *covarName != "" {
			var err error
			covar, err = bsl.ReadNpy(*covarName, cfg)
			if err != nil {
				log.Fatal(err)
			}
		}

		log.Print("fit per-column logistic regressions")
		rows, err := bsl.UnivLogReg(reader, y, bsl.LogRegParams{
			Covar:   covar,
			Tol:     *tol,
			MaxIter: *maxIter,
			NCores:  *ncores,
			Config:  cfg,
		})
		if err != nil {
			log.Fatal(err)
		}

		// One row per column: estimate, stdErr, nIter, zScore, pValue.
		result := mat.NewDense(len(rows), 5, nil)
		for i, row := range rows {
			nIter := float64(row.NIter)
			if row.Status != bsl.FitIRLS {
				nIter = bsl.NaN()
			}
			result.SetRow(i, []float64{row.Estimate, row.StdErr, nIter, row.ZScore, row.PValue})
		}
		bsl.HandleError(bsl.WriteNpy(*outName, result))

	default:
		log.Fatalf("unknown mode %q", *mode)
	}
}
