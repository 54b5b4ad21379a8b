package cultures

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/gilchrisn/election-map/pkg/election"
)

// NormalizeParams returns a copy of p with culture-specific defaults filled
// in. It runs once, before sampling:
//   - Mallows: normphi (or id norm_mallows) is converted to phi.
//   - Urn: a missing alpha is drawn from Gamma(0.8, 1).
//   - Approval resampling family: rel_size_central_vote mirrors p.
func NormalizeParams(rng *rand.Rand, id string, m int, p election.Params) election.Params {
	out := p.Clone()
	switch id {
	case "mallows", "norm_mallows", "pseudo_norm_mallows", "mallows_matrix":
		if out.Has("normphi") || id == "norm_mallows" || id == "pseudo_norm_mallows" {
			normphi := out.Float("normphi", out.Float("norm-phi", 0.5))
			out["normphi"] = normphi
			out["phi"] = PhiFromNormPhi(m, normphi)
		} else if !out.Has("phi") {
			out["phi"] = 0.5
		}
	case "urn", "approval_urn", "alliance_urn":
		if !out.Has("alpha") {
			out["alpha"] = distuv.Gamma{Alpha: 0.8, Beta: 1, Src: rng}.Rand()
		}
	case "resampling", "disjoint_resampling", "noise_model":
		if !out.Has("p") {
			out["p"] = out.Float("rel_size_central_vote", 0.5)
		}
		out["rel_size_central_vote"] = out.Float("p", 0.5)
		if !out.Has("phi") {
			out["phi"] = 0.5
		}
	}
	return out
}

// ExpectedSwaps is the expected swap distance of a Mallows(phi) vote from
// its centre over m candidates. Inserting candidate i at slot j of i+1 adds
// i-j inversions with probability proportional to phi^(i-j).
func ExpectedSwaps(m int, phi float64) float64 {
	total := 0.0
	for i := 1; i < m; i++ {
		num, den, w := 0.0, 0.0, 1.0
		for k := 0; k <= i; k++ {
			num += float64(k) * w
			den += w
			w *= phi
		}
		total += num / den
	}
	return total
}

// PhiFromNormPhi converts a normalised dispersion into phi: the returned phi
// has expected swap distance normphi * m(m-1)/4, found by bisection.
func PhiFromNormPhi(m int, normphi float64) float64 {
	switch {
	case normphi <= 0:
		return 0
	case normphi >= 1:
		return 1
	case m < 2:
		return normphi
	}
	target := normphi * float64(m*(m-1)) / 4
	lo, hi := 0.0, 1.0
	for iter := 0; iter < 100 && hi-lo > 1e-12; iter++ {
		mid := (lo + hi) / 2
		if ExpectedSwaps(m, mid) < target {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// insertionWeights returns, for i = 1..m-1, the normalised probabilities of
// inserting candidate i at slot j (0..i).
func insertionWeights(m int, phi float64) [][]float64 {
	w := make([][]float64, m)
	for i := 1; i < m; i++ {
		row := make([]float64, i+1)
		sum := 0.0
		for j := 0; j <= i; j++ {
			row[j] = math.Pow(phi, float64(i-j))
			sum += row[j]
		}
		for j := range row {
			row[j] /= sum
		}
		w[i] = row
	}
	return w
}
