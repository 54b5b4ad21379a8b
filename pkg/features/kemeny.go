package features

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/combin"

	"github.com/gilchrisn/election-map/pkg/assignment"
	"github.com/gilchrisn/election-map/pkg/election"
)

func registerKemeny(r *Registry) {
	r.Register("avg_dist_to_kemeny", election.Ordinal, avgDistToKemeny)
	r.Register("kkemeny_diversity_upto_r", election.Ordinal, kkemenyDiversity)
	r.Register("polarization", election.Ordinal, polarization)
}

// KemenyRanking returns an optimal Kemeny ranking and its total swap
// distance to the voters, enumerating all m! rankings.
func KemenyRanking(ctx context.Context, env *Env, o *election.OrdinalElection) ([]int, float64, error) {
	m, n := o.NumCandidates(), float64(o.NumVoters())
	if m > 20 {
		return nil, 0, fmt.Errorf("%w: Kemeny ranking over %d candidates", assignment.ErrTooLarge, m)
	}
	if err := enumerationAllowed(env, float64(combin.NumPermutations(m, m)), "Kemeny ranking"); err != nil {
		return nil, 0, err
	}
	p, err := o.PairwiseMatrix()
	if err != nil {
		return nil, 0, err
	}
	gen := combin.NewPermutationGenerator(m, m)
	ranking := make([]int, m)
	var best []int
	bestCost := math.Inf(1)
	for gen.Next() {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		gen.Permutation(ranking)
		cost := 0.0
		for i := 0; i < m && cost < bestCost; i++ {
			for j := i + 1; j < m; j++ {
				cost += p[ranking[j]][ranking[i]] * n
			}
		}
		if cost < bestCost-1e-9 {
			bestCost = cost
			best = append(best[:0], ranking...)
		}
	}
	return best, bestCost, nil
}

func avgDistToKemeny(ctx context.Context, env *Env, e election.Election, _ election.Params) (Result, error) {
	o, err := withVotes(e)
	if err != nil {
		return Result{}, err
	}
	if o.NumVoters() == 0 {
		return Scalar(0), nil
	}
	_, cost, err := KemenyRanking(ctx, env, o)
	if err != nil {
		return Result{}, err
	}
	return Scalar(cost / float64(o.NumVoters())), nil
}

// kkemeny picks k centres among the distinct ballots minimising the total
// swap distance of voters to their nearest centre. Greedy construction is
// followed by local search exchanging up to neighbourhood centres at a
// time.
type kkemeny struct {
	dist       [][]float64
	quantities []float64
}

func newKKemeny(o *election.OrdinalElection) *kkemeny {
	ballots, quantities := o.DistinctVotes()
	potes := make([][]int, len(ballots))
	for i, vote := range ballots {
		potes[i] = election.PotesOf(vote)
	}
	dist := make([][]float64, len(ballots))
	for i := range dist {
		dist[i] = make([]float64, len(ballots))
		for j := range dist[i] {
			dist[i][j] = float64(election.SwapDistance(potes[i], potes[j]))
		}
	}
	q := make([]float64, len(quantities))
	for i, x := range quantities {
		q[i] = float64(x)
	}
	return &kkemeny{dist: dist, quantities: q}
}

func (kk *kkemeny) cost(centres []int) float64 {
	total := 0.0
	for i, q := range kk.quantities {
		best := math.Inf(1)
		for _, c := range centres {
			best = math.Min(best, kk.dist[i][c])
		}
		total += q * best
	}
	return total
}

func (kk *kkemeny) solve(ctx context.Context, k, neighbourhood, maxIterations int) (float64, error) {
	size := len(kk.quantities)
	if k >= size {
		return 0, nil
	}
	in := make([]bool, size)
	centres := make([]int, 0, k)
	for len(centres) < k {
		best, bestCost := -1, math.Inf(1)
		for c := 0; c < size; c++ {
			if in[c] {
				continue
			}
			if cost := kk.cost(append(centres, c)); cost < bestCost {
				best, bestCost = c, cost
			}
		}
		in[best] = true
		centres = append(centres, best)
	}

	current := kk.cost(centres)
	for iter := 0; maxIterations <= 0 || iter < maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		improved := false
		for s := 1; s <= neighbourhood && s <= k && !improved; s++ {
			improved = kk.exchange(centres, in, s, &current)
		}
		if !improved {
			break
		}
	}
	return current, nil
}

// exchange applies the first improving swap of s centres for s outsiders.
func (kk *kkemeny) exchange(centres []int, in []bool, s int, current *float64) bool {
	var outside []int
	for c := range in {
		if !in[c] {
			outside = append(outside, c)
		}
	}
	if s > len(outside) {
		return false
	}
	trial := make([]int, len(centres))
	out := combin.NewCombinationGenerator(len(centres), s)
	outIdx := make([]int, s)
	inIdx := make([]int, s)
	for out.Next() {
		out.Combination(outIdx)
		candidates := combin.NewCombinationGenerator(len(outside), s)
		for candidates.Next() {
			candidates.Combination(inIdx)
			copy(trial, centres)
			for t := 0; t < s; t++ {
				trial[outIdx[t]] = outside[inIdx[t]]
			}
			if cost := kk.cost(trial); cost < *current-1e-9 {
				for t := 0; t < s; t++ {
					in[centres[outIdx[t]]] = false
					in[outside[inIdx[t]]] = true
				}
				copy(centres, trial)
				*current = cost
				return true
			}
		}
	}
	return false
}

func kemenyParams(env *Env, p election.Params) (int, int) {
	neighbourhood := p.Int("neighbourhood", env.KemenyNeighbourhood)
	if neighbourhood < 1 {
		neighbourhood = 1
	}
	return neighbourhood, p.Int("max_iterations", env.KemenyMaxIterations)
}

// kkemenyDiversity sums the normalised k-Kemeny costs for k = 1..r; Values
// holds each term.
func kkemenyDiversity(ctx context.Context, env *Env, e election.Election, p election.Params) (Result, error) {
	o, err := withVotes(e)
	if err != nil {
		return Result{}, err
	}
	n, m := o.NumVoters(), o.NumCandidates()
	r := p.Int("r", 5)
	if r < 1 {
		return Result{}, fmt.Errorf("%w: r must be positive, got %d", election.ErrBadInput, r)
	}
	if r > n {
		r = n
	}
	norm := float64(n) * float64(m*(m-1)) / 2
	neighbourhood, maxIterations := kemenyParams(env, p)
	kk := newKKemeny(o)
	res := Result{Values: make([]float64, r)}
	total := 0.0
	for k := 1; k <= r; k++ {
		cost, err := kk.solve(ctx, k, neighbourhood, maxIterations)
		if err != nil {
			return Result{}, err
		}
		if norm > 0 {
			cost /= norm
		}
		res.Values[k-1] = cost
		total += cost
	}
	res.Value = &total
	return res, nil
}

// polarization is 2 (C1 - C2) / (n m (m-1) / 2) for k-Kemeny costs C1, C2.
func polarization(ctx context.Context, env *Env, e election.Election, p election.Params) (Result, error) {
	o, err := withVotes(e)
	if err != nil {
		return Result{}, err
	}
	n, m := o.NumVoters(), o.NumCandidates()
	norm := float64(n) * float64(m*(m-1)) / 2
	if norm == 0 {
		return Scalar(0), nil
	}
	neighbourhood, maxIterations := kemenyParams(env, p)
	kk := newKKemeny(o)
	c1, err := kk.solve(ctx, 1, neighbourhood, maxIterations)
	if err != nil {
		return Result{}, err
	}
	c2, err := kk.solve(ctx, 2, neighbourhood, maxIterations)
	if err != nil {
		return Result{}, err
	}
	return Scalar(2 * (c1 - c2) / norm), nil
}
