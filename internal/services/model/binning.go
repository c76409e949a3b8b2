package model

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const missingBin = -1

// binMatrix holds the column-major bin index of every training value.
// missingBin marks NaN.
type binMatrix struct {
	cuts [][]float64
	bins [][]int16
}

// quantileCuts returns at most maxBins-1 distinct cut points for one column.
// A value v falls in bin b when v <= cuts[b], or in the last bin above all cuts.
func quantileCuts(col []float64, maxBins int) []float64 {
	vals := make([]float64, 0, len(col))
	for _, v := range col {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return nil
	}
	sort.Float64s(vals)

	var cuts []float64
	for i := 1; i < maxBins; i++ {
		q := stat.Quantile(float64(i)/float64(maxBins), stat.Empirical, vals, nil)
		if q >= vals[len(vals)-1] {
			break
		}
		if len(cuts) == 0 || q > cuts[len(cuts)-1] {
			cuts = append(cuts, q)
		}
	}
	return cuts
}

func binOf(cuts []float64, v float64) int16 {
	if math.IsNaN(v) {
		return missingBin
	}
	return int16(sort.Search(len(cuts), func(i int) bool { return v <= cuts[i] }))
}

func newBinMatrix(x [][]float64, nFeatures, maxBins int) *binMatrix {
	m := &binMatrix{cuts: make([][]float64, nFeatures), bins: make([][]int16, nFeatures)}
	col := make([]float64, len(x))
	for f := 0; f < nFeatures; f++ {
		for i, row := range x {
			col[i] = row[f]
		}
		m.cuts[f] = quantileCuts(col, maxBins)
		m.bins[f] = make([]int16, len(x))
		for i, v := range col {
			m.bins[f][i] = binOf(m.cuts[f], v)
		}
	}
	return m
}

func (m *binMatrix) numBins(f int) int { return len(m.cuts[f]) + 1 }
