package cultures

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/gilchrisn/election-map/pkg/election"
)

func registerApproval(r *Registry) {
	r.RegisterApproval("impartial", icApprovals)
	r.RegisterApproval("identity", identityApprovals)
	r.RegisterApproval("empty", emptyApprovals)
	r.RegisterApproval("full", fullApprovals)
	r.RegisterApproval("resampling", resamplingApprovals)
	r.RegisterApproval("disjoint_resampling", disjointResamplingApprovals)
	r.RegisterApproval("noise_model", noiseApprovals)
	r.RegisterApproval("euclidean", euclideanApprovals)
	r.RegisterApproval("approval_urn", urnApprovals)
	r.Alias("impartial_culture", "impartial")
}

func probability(p election.Params, key string, def float64) (float64, error) {
	x := p.Float(key, def)
	if x < 0 || x > 1 || math.IsNaN(x) {
		return 0, fmt.Errorf("%w: %s must lie in [0,1], got %v", election.ErrBadInput, key, x)
	}
	return x, nil
}

func icApprovals(rng *rand.Rand, n, m int, p election.Params) ([][]int, error) {
	prob, err := probability(p, "p", 0.5)
	if err != nil {
		return nil, err
	}
	votes := make([][]int, n)
	for v := range votes {
		vote := []int{}
		for c := 0; c < m; c++ {
			if rng.Float64() < prob {
				vote = append(vote, c)
			}
		}
		votes[v] = vote
	}
	return votes, nil
}

func centralSize(m int, prob float64) int {
	return int(math.Round(prob * float64(m)))
}

func identityApprovals(_ *rand.Rand, n, m int, p election.Params) ([][]int, error) {
	prob, err := probability(p, "p", 0.5)
	if err != nil {
		return nil, err
	}
	k := centralSize(m, prob)
	votes := make([][]int, n)
	for v := range votes {
		votes[v] = identityRanking(k)
	}
	return votes, nil
}

func emptyApprovals(_ *rand.Rand, n, _ int, _ election.Params) ([][]int, error) {
	votes := make([][]int, n)
	for v := range votes {
		votes[v] = []int{}
	}
	return votes, nil
}

func fullApprovals(_ *rand.Rand, n, m int, _ election.Params) ([][]int, error) {
	votes := make([][]int, n)
	for v := range votes {
		votes[v] = identityRanking(m)
	}
	return votes, nil
}

// resampleVote copies each candidate's membership in central with
// probability 1-phi and otherwise re-draws it with probability prob.
func resampleVote(rng *rand.Rand, m int, central []bool, prob, phi float64) []int {
	vote := []int{}
	for c := 0; c < m; c++ {
		in := central[c]
		if rng.Float64() < phi {
			in = rng.Float64() < prob
		}
		if in {
			vote = append(vote, c)
		}
	}
	return vote
}

func resamplingApprovals(rng *rand.Rand, n, m int, p election.Params) ([][]int, error) {
	prob, err := probability(p, "p", 0.5)
	if err != nil {
		return nil, err
	}
	phi, err := probability(p, "phi", 0.5)
	if err != nil {
		return nil, err
	}
	central := make([]bool, m)
	for _, c := range rng.Perm(m)[:centralSize(m, prob)] {
		central[c] = true
	}
	votes := make([][]int, n)
	for v := range votes {
		votes[v] = resampleVote(rng, m, central, prob, phi)
	}
	return votes, nil
}

// disjointResamplingApprovals splits voters uniformly over g groups, each
// with its own disjoint central ballot of size p*m.
func disjointResamplingApprovals(rng *rand.Rand, n, m int, p election.Params) ([][]int, error) {
	prob, err := probability(p, "p", 0.5)
	if err != nil {
		return nil, err
	}
	phi, err := probability(p, "phi", 0.5)
	if err != nil {
		return nil, err
	}
	g := p.Int("g", 2)
	if g < 1 || float64(g)*prob > 1+1e-9 {
		return nil, fmt.Errorf("%w: disjoint_resampling needs g >= 1 and g*p <= 1 (g=%d, p=%v)", election.ErrBadInput, g, prob)
	}
	size := centralSize(m, prob)
	if g*size > m {
		size = m / g
	}
	order := rng.Perm(m)
	centrals := make([][]bool, g)
	for i := range centrals {
		centrals[i] = make([]bool, m)
		for _, c := range order[i*size : (i+1)*size] {
			centrals[i][c] = true
		}
	}
	votes := make([][]int, n)
	for v := range votes {
		votes[v] = resampleVote(rng, m, centrals[rng.IntN(g)], prob, phi)
	}
	return votes, nil
}

// noiseApprovals draws ballots with probability proportional to
// phi^hamming(ballot, central): every candidate flips independently with
// probability phi/(1+phi).
func noiseApprovals(rng *rand.Rand, n, m int, p election.Params) ([][]int, error) {
	prob, err := probability(p, "p", 0.5)
	if err != nil {
		return nil, err
	}
	phi, err := probability(p, "phi", 0.5)
	if err != nil {
		return nil, err
	}
	flip := phi / (1 + phi)
	central := make([]bool, m)
	for c := 0; c < centralSize(m, prob); c++ {
		central[c] = true
	}
	votes := make([][]int, n)
	for v := range votes {
		vote := []int{}
		for c := 0; c < m; c++ {
			in := central[c]
			if rng.Float64() < flip {
				in = !in
			}
			if in {
				vote = append(vote, c)
			}
		}
		votes[v] = vote
	}
	return votes, nil
}

// euclideanApprovals approves every candidate within radius of the voter.
func euclideanApprovals(rng *rand.Rand, n, m int, p election.Params) ([][]int, error) {
	dim := p.Int("dim", 2)
	if dim < 1 {
		return nil, fmt.Errorf("%w: euclidean dim must be positive, got %d", election.ErrBadInput, dim)
	}
	radius := p.Float("radius", 0.25)
	space := p.String("space", "uniform")
	voters, err := samplePoints(rng, n, dim, space)
	if err != nil {
		return nil, err
	}
	candidates, err := samplePoints(rng, m, dim, space)
	if err != nil {
		return nil, err
	}
	votes := make([][]int, n)
	for v := range votes {
		vote := []int{}
		for c, x := range candidates {
			if floats.Distance(voters[v], x, 2) <= radius {
				vote = append(vote, c)
			}
		}
		votes[v] = vote
	}
	return votes, nil
}

// urnApprovals is the urn model over impartial-culture ballots.
func urnApprovals(rng *rand.Rand, n, m int, p election.Params) ([][]int, error) {
	prob, err := probability(p, "p", 0.5)
	if err != nil {
		return nil, err
	}
	alpha := p.Float("alpha", 0.1)
	votes := make([][]int, n)
	size := 1.0
	for j := 0; j < n; j++ {
		if j == 0 || rng.Float64()*size <= 1 {
			vote := []int{}
			for c := 0; c < m; c++ {
				if rng.Float64() < prob {
					vote = append(vote, c)
				}
			}
			votes[j] = vote
		} else {
			votes[j] = append([]int{}, votes[rng.IntN(j)]...)
		}
		size += alpha
	}
	return votes, nil
}
