package bsl

import (
	"log"

	"gonum.org/v1/gonum/mat"
)

//HandleError panics on an unexpected error from an operation that must not fail.
func HandleError(err error) {
	if err != nil {
		log.Panic(err)
	}
}

//Height returns the number of rows of a dense matrix.
func Height(m *mat.Dense) int {
	h, _ := m.Dims()
	return h
}

//Width returns the number of columns of a dense matrix.
func Width(m *mat.Dense) int {
	_, w := m.Dims()
	return w
}

//seqInd returns the identity index vector 0..n-1.
func seqInd(n int) []int {
	ind := make([]int, n)
	for i := range ind {
		ind[i] = i
	}
	return ind
}
