package cultures

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/gilchrisn/election-map/pkg/election"
)

func registerAlliance(r *Registry) {
	r.RegisterAlliance("alliance_ic", allianceOver(impartialVotes))
	r.RegisterAlliance("alliance_urn", allianceOver(urnVotes))
	r.RegisterAlliance("alliance_euclidean", allianceEuclidean)
}

// assignAlliances spreads m candidates over k alliances as evenly as
// possible, in random order.
func assignAlliances(rng *rand.Rand, m, k int) []int {
	labels := make([]int, m)
	for i, c := range rng.Perm(m) {
		labels[c] = i % k
	}
	return labels
}

func numAlliances(m int, p election.Params) (int, error) {
	k := p.Int("num_alliances", 2)
	if k < 1 || k > m {
		return 0, fmt.Errorf("%w: num_alliances must lie in [1, %d], got %d", election.ErrBadInput, m, k)
	}
	return k, nil
}

// allianceOver labels candidates at random and samples votes from an
// ordinary ordinal culture.
func allianceOver(sampler OrdinalSampler) AllianceSampler {
	return func(rng *rand.Rand, n, m int, p election.Params) ([][]int, []int, error) {
		k, err := numAlliances(m, p)
		if err != nil {
			return nil, nil, err
		}
		alliances := assignAlliances(rng, m, k)
		votes, err := sampler(rng, n, m, p)
		if err != nil {
			return nil, nil, err
		}
		return votes, alliances, nil
	}
}

// allianceEuclidean places each alliance centre uniformly in the unit cube
// and its candidates around it with Gaussian spread; voters are uniform and
// rank candidates by distance.
func allianceEuclidean(rng *rand.Rand, n, m int, p election.Params) ([][]int, []int, error) {
	k, err := numAlliances(m, p)
	if err != nil {
		return nil, nil, err
	}
	dim := p.Int("dim", 2)
	if dim < 1 {
		return nil, nil, fmt.Errorf("%w: euclidean dim must be positive, got %d", election.ErrBadInput, dim)
	}
	spread := p.Float("spread", 0.1)
	centres, err := samplePoints(rng, k, dim, "uniform")
	if err != nil {
		return nil, nil, err
	}
	alliances := assignAlliances(rng, m, k)
	noise := distuv.Normal{Mu: 0, Sigma: spread, Src: rng}
	candidates := make([][]float64, m)
	for c := range candidates {
		x := make([]float64, dim)
		for d := range x {
			x[d] = centres[alliances[c]][d] + noise.Rand()
		}
		candidates[c] = x
	}
	voters, err := samplePoints(rng, n, dim, "uniform")
	if err != nil {
		return nil, nil, err
	}
	votes := make([][]int, n)
	for v := range votes {
		votes[v] = rankByDistance(voters[v], candidates)
	}
	return votes, alliances, nil
}
