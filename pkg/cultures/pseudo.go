package cultures

import (
	"fmt"
	"math"

	"github.com/gilchrisn/election-map/pkg/election"
)

func registerPseudo(r *Registry) {
	for name, fn := range compassMatrices {
		fn := fn
		r.RegisterPseudo("pseudo_"+name, func(m int, p election.Params) (PseudoMatrices, error) {
			return fn(m, p.Float("weight", 0.5)), nil
		})
	}
	for _, pair := range [][2]string{
		{"un", "id"}, {"an", "id"}, {"st", "id"},
		{"an", "un"}, {"st", "un"}, {"st", "an"},
	} {
		a, b := compassMatrices[compassNames[pair[0]]], compassMatrices[compassNames[pair[1]]]
		r.RegisterPseudo("pseudo_"+pair[0]+pair[1], func(m int, p election.Params) (PseudoMatrices, error) {
			alpha, err := probability(p, "alpha", 0.5)
			if err != nil {
				return PseudoMatrices{}, err
			}
			weight := p.Float("weight", 0.5)
			return blend(alpha, a(m, weight), b(m, weight)), nil
		})
	}
	r.RegisterPseudo("pseudo_single_crossing", func(m int, _ election.Params) (PseudoMatrices, error) {
		return PseudoMatrices{Frequency: SingleCrossingMatrix(m)}, nil
	})
	r.RegisterPseudo("pseudo_single_peaked_conitzer", func(m int, _ election.Params) (PseudoMatrices, error) {
		return PseudoMatrices{Frequency: ConitzerMatrix(m)}, nil
	})
	r.RegisterPseudo("pseudo_single_peaked_walsh", func(m int, _ election.Params) (PseudoMatrices, error) {
		return PseudoMatrices{Frequency: WalshMatrix(m)}, nil
	})
	r.RegisterPseudo("pseudo_norm_mallows", func(m int, p election.Params) (PseudoMatrices, error) {
		phi := p.Float("phi", 0.5)
		if phi < 0 || phi > 1 {
			return PseudoMatrices{}, fmt.Errorf("%w: mallows phi must lie in [0,1], got %v", election.ErrBadInput, phi)
		}
		return PseudoMatrices{Frequency: MallowsMatrix(m, phi, p.Float("weight", 0))}, nil
	})
}

var compassNames = map[string]string{
	"id": "identity",
	"un": "uniformity",
	"an": "antagonism",
	"st": "stratification",
}

// compassMatrices yield the frequency and pairwise matrices of the four
// compass elections. weight is only read by stratification (top block share).
var compassMatrices = map[string]func(m int, weight float64) PseudoMatrices{
	"identity": func(m int, _ float64) PseudoMatrices {
		freq, pair := square(m), square(m)
		for c := 0; c < m; c++ {
			freq[c][c] = 1
			for d := c + 1; d < m; d++ {
				pair[c][d] = 1
			}
		}
		return PseudoMatrices{Frequency: freq, Pairwise: pair}
	},
	"uniformity": func(m int, _ float64) PseudoMatrices {
		freq, pair := square(m), square(m)
		for c := 0; c < m; c++ {
			for k := 0; k < m; k++ {
				freq[c][k] = 1 / float64(m)
				if c != k {
					pair[c][k] = 0.5
				}
			}
		}
		return PseudoMatrices{Frequency: freq, Pairwise: pair}
	},
	"antagonism": func(m int, _ float64) PseudoMatrices {
		freq, pair := square(m), square(m)
		for c := 0; c < m; c++ {
			freq[c][c] += 0.5
			freq[c][m-1-c] += 0.5
			for k := 0; k < m; k++ {
				if c != k {
					pair[c][k] = 0.5
				}
			}
		}
		return PseudoMatrices{Frequency: freq, Pairwise: pair}
	},
	"stratification": func(m int, weight float64) PseudoMatrices {
		top := stratumSize(m, weight)
		freq, pair := square(m), square(m)
		for c := 0; c < m; c++ {
			for k := 0; k < m; k++ {
				switch {
				case c < top && k < top:
					freq[c][k] = 1 / float64(top)
				case c >= top && k >= top:
					freq[c][k] = 1 / float64(m-top)
				}
				if c == k {
					continue
				}
				switch {
				case (c < top) == (k < top):
					pair[c][k] = 0.5
				case c < top:
					pair[c][k] = 1
				}
			}
		}
		return PseudoMatrices{Frequency: freq, Pairwise: pair}
	},
}

// blend returns alpha*a + (1-alpha)*b for both matrices.
func blend(alpha float64, a, b PseudoMatrices) PseudoMatrices {
	mix := func(x, y [][]float64) [][]float64 {
		out := square(len(x))
		for i := range x {
			for j := range x[i] {
				out[i][j] = alpha*x[i][j] + (1-alpha)*y[i][j]
			}
		}
		return out
	}
	return PseudoMatrices{Frequency: mix(a.Frequency, b.Frequency), Pairwise: mix(a.Pairwise, b.Pairwise)}
}

func square(m int) [][]float64 {
	out := make([][]float64, m)
	for i := range out {
		out[i] = make([]float64, m)
	}
	return out
}

// ConitzerMatrix is the expected frequency matrix of the Conitzer
// single-peaked culture (identity axis). The ranked candidates always form an
// interval [l, r]; g[l][r] is the probability of passing through it. The
// peak is uniform and each step extends the interval by the left or right
// neighbour with probability 1/2 (forced at the axis ends).
func ConitzerMatrix(m int) [][]float64 {
	freq := square(m)
	g := square(m)
	for c := 0; c < m; c++ {
		g[c][c] = 1 / float64(m)
		freq[c][0] = 1 / float64(m)
	}
	for size := 1; size < m; size++ {
		for l := 0; l+size-1 < m; l++ {
			r := l + size - 1
			pr := g[l][r]
			if pr == 0 {
				continue
			}
			switch {
			case l == 0:
				g[l][r+1] += pr
				freq[r+1][size] += pr
			case r == m-1:
				g[l-1][r] += pr
				freq[l-1][size] += pr
			default:
				g[l][r+1] += pr / 2
				freq[r+1][size] += pr / 2
				g[l-1][r] += pr / 2
				freq[l-1][size] += pr / 2
			}
		}
	}
	return freq
}

// WalshMatrix is the frequency matrix of the uniform distribution over
// single-peaked rankings (identity axis). Filled from the bottom, the
// unranked candidates form an interval [l, r] whose end goes to position r-l
// with probability 1/2 each.
func WalshMatrix(m int) [][]float64 {
	freq := square(m)
	g := square(m)
	g[0][m-1] = 1
	for size := m; size >= 1; size-- {
		for l := 0; l+size-1 < m; l++ {
			r := l + size - 1
			pr := g[l][r]
			if pr == 0 {
				continue
			}
			pos := size - 1
			if l == r {
				freq[l][pos] += pr
				continue
			}
			freq[l][pos] += pr / 2
			freq[r][pos] += pr / 2
			g[l+1][r] += pr / 2
			g[l][r-1] += pr / 2
		}
	}
	return freq
}

// SingleCrossingMatrix is the frequency matrix of the uniform distribution
// over the canonical maximal single-crossing domain: the m(m-1)/2+1 rankings
// visited by bubble-sorting the identity into its reverse, always swapping
// the leftmost pair still in identity order.
func SingleCrossingMatrix(m int) [][]float64 {
	domain := singleCrossingDomain(nil, m)
	freq := square(m)
	w := 1 / float64(len(domain))
	for _, vote := range domain {
		for k, c := range vote {
			freq[c][k] += w
		}
	}
	return freq
}

// MallowsMatrix is the exact expected frequency matrix of Mallows(phi)
// around the identity, mixed with its reverse by weight. It tracks the
// position distribution of each candidate through the later insertions of
// the repeated insertion model.
func MallowsMatrix(m int, phi, weight float64) [][]float64 {
	ins := insertionWeights(m, phi)
	freq := square(m)
	for c := 0; c < m; c++ {
		dist := make([]float64, m)
		if c == 0 {
			dist[0] = 1
		} else {
			copy(dist, ins[c])
		}
		for i := c + 1; i < m; i++ {
			next := make([]float64, m)
			for pos := 0; pos < i; pos++ {
				if dist[pos] == 0 {
					continue
				}
				// slots 0..pos push c one step down
				below := 0.0
				for j := 0; j <= pos; j++ {
					below += ins[i][j]
				}
				next[pos+1] += dist[pos] * below
				next[pos] += dist[pos] * (1 - below)
			}
			dist = next
		}
		copy(freq[c], dist)
	}
	if weight > 0 {
		out := square(m)
		for c := 0; c < m; c++ {
			for k := 0; k < m; k++ {
				out[c][k] = (1-weight)*freq[c][k] + weight*freq[c][m-1-k]
			}
		}
		freq = out
	}
	for c := range freq {
		for k := range freq[c] {
			freq[c][k] = math.Max(0, math.Min(1, freq[c][k]))
		}
	}
	return freq
}
