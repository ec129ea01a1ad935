package util

import (
	"math"
	"sort"
)

// Panics if there is an error, otherwise returns the result
func Try[T any](result T, err error) T {
	CheckErr(err)
	return result
}

// Panics if error is not null
func CheckErr(err error) {
	if err != nil {
		panic(err)
	}
}

// Computes a percentile (0-100) from an array. The array is sorted in place.
func Percentile(a []float64, p int) float64 {
	if len(a) <= 1 {
		return math.NaN()
	}

	sort.Float64s(a)

	r := (float64(p)/100)*float64(len(a)) - 1
	if r < 0 {
		return a[0]
	}

	if r == float64(int(r)) {
		return a[int(r)]
	} else {
		ri := int(r)
		rf := r - float64(ri)
		return a[ri] + rf*(a[ri+1]-a[ri])
	}
}
