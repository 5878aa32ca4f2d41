package bsl

import "fmt"

//checkIndices verifies that every index lies in [0, n). Negative indices are
//rejected outright, never reinterpreted as complement selections.
func checkIndices(ind []int, n int, what string) error {
	for _, v := range ind {
		if v < 0 {
			return fmt.Errorf("bsl: negative %s index %d is not supported", what, v)
		}
		if v >= n {
			return fmt.Errorf("bsl: %s index %d out of range [0, %d)", what, v, n)
		}
	}
	return nil
}

//checkResponse verifies that the response vector contains only zeros and ones.
func checkResponse(y []float64) error {
	for i, v := range y {
		if v != 0 && v != 1 {
			return fmt.Errorf("bsl: response value %g at position %d is not in {0,1}", v, i)
		}
	}
	return nil
}
