package model

import (
	"math"
	"math/rand"
)

// Node is one tree node. Leaves carry Value; splits send x[Feature] <= Threshold
// left and NaN to the learned default side.
type Node struct {
	Leaf        bool    `json:"leaf,omitempty"`
	Value       float64 `json:"value,omitempty"`
	Feature     int     `json:"feature,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
	DefaultLeft bool    `json:"default_left,omitempty"`
	Left        int     `json:"left,omitempty"`
	Right       int     `json:"right,omitempty"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		v := x[n.Feature]
		switch {
		case math.IsNaN(v):
			if n.DefaultLeft {
				i = n.Left
			} else {
				i = n.Right
			}
		case v <= n.Threshold:
			i = n.Left
		default:
			i = n.Right
		}
	}
}

type split struct {
	feature     int
	bin         int
	defaultLeft bool
	gain        float64
}

// treeBuilder grows one regression tree on gradient statistics.
type treeBuilder struct {
	p     Params
	bins  *binMatrix
	grad  []float64
	hess  []float64
	feats []int
	tree  Tree
	gain  []float64 // accumulated split gain per feature
}

func (b *treeBuilder) build(rows []int) Tree {
	b.grow(rows, 0)
	return b.tree
}

func (b *treeBuilder) grow(rows []int, depth int) int {
	idx := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, Node{})

	var g, h float64
	for _, r := range rows {
		g += b.grad[r]
		h += b.hess[r]
	}

	var best split
	if depth < b.p.MaxDepth && h >= 2*b.p.MinChildWeight {
		best = b.bestSplit(rows, g, h)
	}
	if best.gain <= 0 {
		b.tree.Nodes[idx] = Node{Leaf: true, Value: b.leafWeight(g, h) * b.p.LearningRate}
		return idx
	}

	left, right := b.partition(rows, best)
	b.gain[best.feature] += best.gain

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.tree.Nodes[idx] = Node{
		Feature:     best.feature,
		Threshold:   b.bins.cuts[best.feature][best.bin],
		DefaultLeft: best.defaultLeft,
		Left:        l,
		Right:       r,
	}
	return idx
}

func (b *treeBuilder) bestSplit(rows []int, g, h float64) split {
	var best split
	parent := b.score(g, h)
	for _, f := range b.feats {
		nb := b.bins.numBins(f)
		if nb < 2 {
			continue
		}
		hg := make([]float64, nb)
		hh := make([]float64, nb)
		var mg, mh float64
		col := b.bins.bins[f]
		for _, r := range rows {
			bin := col[r]
			if bin == missingBin {
				mg += b.grad[r]
				mh += b.hess[r]
				continue
			}
			hg[bin] += b.grad[r]
			hh[bin] += b.hess[r]
		}

		var lg, lh float64
		for bin := 0; bin < nb-1; bin++ {
			lg += hg[bin]
			lh += hh[bin]
			for _, missLeft := range []bool{false, true} {
				gl, hl := lg, lh
				if missLeft {
					gl += mg
					hl += mh
				}
				gr, hr := g-gl, h-hl
				if hl < b.p.MinChildWeight || hr < b.p.MinChildWeight {
					continue
				}
				gain := 0.5*(b.score(gl, hl)+b.score(gr, hr)-parent) - b.p.Gamma
				if gain > best.gain {
					best = split{feature: f, bin: bin, defaultLeft: missLeft, gain: gain}
				}
			}
		}
	}
	return best
}

func (b *treeBuilder) partition(rows []int, s split) (left, right []int) {
	col := b.bins.bins[s.feature]
	for _, r := range rows {
		bin := col[r]
		goLeft := s.defaultLeft
		if bin != missingBin {
			goLeft = int(bin) <= s.bin
		}
		if goLeft {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	return left, right
}

// softThreshold applies the L1 penalty to a gradient sum.
func (b *treeBuilder) softThreshold(g float64) float64 {
	switch {
	case g > b.p.Alpha:
		return g - b.p.Alpha
	case g < -b.p.Alpha:
		return g + b.p.Alpha
	}
	return 0
}

func (b *treeBuilder) score(g, h float64) float64 {
	t := b.softThreshold(g)
	return t * t / (h + b.p.Lambda)
}

func (b *treeBuilder) leafWeight(g, h float64) float64 {
	if h+b.p.Lambda == 0 {
		return 0
	}
	return -b.softThreshold(g) / (h + b.p.Lambda)
}

// sample returns a sorted random subset of [0, n) of size ceil(frac*n).
func sample(rng *rand.Rand, n int, frac float64) []int {
	if frac >= 1 {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	k := int(math.Ceil(frac * float64(n)))
	if k < 1 {
		k = 1
	}
	perm := rng.Perm(n)[:k]
	chosen := make([]bool, n)
	for _, i := range perm {
		chosen[i] = true
	}
	out := make([]int, 0, k)
	for i, ok := range chosen {
		if ok {
			out = append(out, i)
		}
	}
	return out
}
