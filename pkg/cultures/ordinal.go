package cultures

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/gilchrisn/election-map/pkg/election"
)

func registerOrdinal(r *Registry) {
	r.RegisterOrdinal("impartial", impartialVotes)
	r.RegisterOrdinal("impartial_anonymous", impartialAnonymousVotes)
	r.RegisterOrdinal("urn", urnVotes)
	r.RegisterOrdinal("mallows", mallowsVotes)
	r.RegisterOrdinal("norm_mallows", mallowsVotes)
	r.RegisterOrdinal("single_peaked_conitzer", conitzerVotes)
	r.RegisterOrdinal("single_peaked_walsh", walshVotes)
	r.RegisterOrdinal("single_crossing", singleCrossingVotes)
	r.RegisterOrdinal("single_peaked_circle", spocVotes)
	r.RegisterOrdinal("group_separable", groupSeparableVotes)
	r.RegisterOrdinal("euclidean", euclideanVotes)

	r.RegisterOrdinal("identity", identityVotes)
	r.RegisterOrdinal("antagonism", antagonismVotes)
	r.RegisterOrdinal("approx_uniformity", uniformityVotes)
	r.RegisterOrdinal("approx_stratification", stratificationVotes)
	for id, pair := range partCultures {
		a, b := compassSamplers[pair[0]], compassSamplers[pair[1]]
		r.RegisterOrdinal(id, mixtureVotes(a, b))
	}

	r.Alias("ic", "impartial")
	r.Alias("iac", "impartial_anonymous")
	r.Alias("spoc", "single_peaked_circle")
	r.Alias("conitzer", "single_peaked_conitzer")
	r.Alias("walsh", "single_peaked_walsh")
}

var compassSamplers = map[string]OrdinalSampler{
	"id": identityVotes,
	"an": antagonismVotes,
	"un": uniformityVotes,
	"st": stratificationVotes,
}

// partCultures blend two compass models; part_share of the voters come from the first.
var partCultures = map[string][2]string{
	"idan_part": {"id", "an"},
	"idun_part": {"id", "un"},
	"idst_part": {"id", "st"},
	"anun_part": {"an", "un"},
	"anst_part": {"an", "st"},
	"unst_part": {"un", "st"},
}

func identityRanking(m int) []int {
	v := make([]int, m)
	for i := range v {
		v[i] = i
	}
	return v
}

func reversed(v []int) []int {
	out := make([]int, len(v))
	for i, c := range v {
		out[len(v)-1-i] = c
	}
	return out
}

func impartialVotes(rng *rand.Rand, n, m int, _ election.Params) ([][]int, error) {
	votes := make([][]int, n)
	for v := range votes {
		votes[v] = rng.Perm(m)
	}
	return votes, nil
}

// impartialAnonymousVotes is the urn model with alpha = 1/m!, which is
// uniform over anonymous profiles.
func impartialAnonymousVotes(rng *rand.Rand, n, m int, _ election.Params) ([][]int, error) {
	return urn(rng, n, m, 1/math.Gamma(float64(m+1))), nil
}

func urnVotes(rng *rand.Rand, n, m int, p election.Params) ([][]int, error) {
	alpha := p.Float("alpha", 0.1)
	if alpha < 0 {
		return nil, fmt.Errorf("%w: urn alpha must be non-negative, got %v", election.ErrBadInput, alpha)
	}
	return urn(rng, n, m, alpha), nil
}

// urn is the Polya-Eggenberger urn: the urn starts with every ranking once
// (weight 1) and every drawn ranking is returned with alpha extra copies.
func urn(rng *rand.Rand, n, m int, alpha float64) [][]int {
	votes := make([][]int, n)
	size := 1.0
	for j := 0; j < n; j++ {
		if j == 0 || rng.Float64()*size <= 1 {
			votes[j] = rng.Perm(m)
		} else {
			votes[j] = append([]int(nil), votes[rng.IntN(j)]...)
		}
		size += alpha
	}
	return votes
}

// mallowsVotes draws from Mallows(phi) around the identity by repeated
// insertion. With weight w a voter uses the reversed centre with probability w.
func mallowsVotes(rng *rand.Rand, n, m int, p election.Params) ([][]int, error) {
	phi := p.Float("phi", 0.5)
	if phi < 0 || phi > 1 {
		return nil, fmt.Errorf("%w: mallows phi must lie in [0,1], got %v", election.ErrBadInput, phi)
	}
	weight := p.Float("weight", 0)
	weights := insertionWeights(m, phi)
	votes := make([][]int, n)
	for v := range votes {
		vote := []int{0}
		for i := 1; i < m; i++ {
			j := int(distuv.NewCategorical(weights[i], rng).Rand())
			vote = append(vote, 0)
			copy(vote[j+1:], vote[j:])
			vote[j] = i
		}
		if weight > 0 && rng.Float64() < weight {
			vote = reversed(vote)
		}
		votes[v] = vote
	}
	return votes, nil
}

// conitzerVotes picks a uniform peak and extends the ranked interval left or
// right with probability 1/2 each.
func conitzerVotes(rng *rand.Rand, n, m int, _ election.Params) ([][]int, error) {
	votes := make([][]int, n)
	for v := range votes {
		peak := rng.IntN(m)
		vote := []int{peak}
		l, r := peak, peak
		for len(vote) < m {
			switch {
			case l == 0:
				r++
				vote = append(vote, r)
			case r == m-1:
				l--
				vote = append(vote, l)
			case rng.IntN(2) == 0:
				l--
				vote = append(vote, l)
			default:
				r++
				vote = append(vote, r)
			}
		}
		votes[v] = vote
	}
	return votes, nil
}

// walshVotes is uniform over single-peaked rankings: filled from the bottom,
// each position takes one end of the remaining interval.
func walshVotes(rng *rand.Rand, n, m int, _ election.Params) ([][]int, error) {
	votes := make([][]int, n)
	for v := range votes {
		vote := make([]int, m)
		l, r := 0, m-1
		for pos := m - 1; pos >= 0; pos-- {
			if l == r || rng.IntN(2) == 0 {
				vote[pos] = l
				l++
			} else {
				vote[pos] = r
				r--
			}
		}
		votes[v] = vote
	}
	return votes, nil
}

// spocVotes is single-peaked on a circle: a uniform peak, then either
// neighbour of the ranked arc with probability 1/2.
func spocVotes(rng *rand.Rand, n, m int, _ election.Params) ([][]int, error) {
	votes := make([][]int, n)
	for v := range votes {
		peak := rng.IntN(m)
		vote := []int{peak}
		l, r := peak, peak
		for len(vote) < m {
			if rng.IntN(2) == 0 {
				l = (l - 1 + m) % m
				vote = append(vote, l)
			} else {
				r = (r + 1) % m
				vote = append(vote, r)
			}
		}
		votes[v] = vote
	}
	return votes, nil
}

// singleCrossingDomain returns a random maximal single-crossing domain from
// the identity to its reverse: m(m-1)/2 adjacent swaps of pairs still in
// identity order.
func singleCrossingDomain(rng *rand.Rand, m int) [][]int {
	cur := identityRanking(m)
	domain := [][]int{append([]int(nil), cur...)}
	for {
		var options []int
		for i := 0; i+1 < m; i++ {
			if cur[i] < cur[i+1] {
				options = append(options, i)
			}
		}
		if len(options) == 0 {
			return domain
		}
		var i int
		if rng == nil {
			i = options[0]
		} else {
			i = options[rng.IntN(len(options))]
		}
		cur[i], cur[i+1] = cur[i+1], cur[i]
		domain = append(domain, append([]int(nil), cur...))
	}
}

func singleCrossingVotes(rng *rand.Rand, n, m int, _ election.Params) ([][]int, error) {
	domain := singleCrossingDomain(rng, m)
	votes := make([][]int, n)
	for v := range votes {
		votes[v] = append([]int(nil), domain[rng.IntN(len(domain))]...)
	}
	return votes, nil
}

// gsNode is a node of a group-separable tree; leaves carry a candidate.
type gsNode struct {
	candidate int
	children  []*gsNode
}

func buildTree(rng *rand.Rand, sampler string, lo, hi int) (*gsNode, error) {
	if hi-lo == 1 {
		return &gsNode{candidate: lo}, nil
	}
	node := &gsNode{candidate: -1}
	var cuts []int
	switch sampler {
	case "balanced":
		cuts = []int{lo + (hi-lo)/2}
	case "caterpillar":
		cuts = []int{lo + 1}
	case "schroeder", "":
		// every boundary is a cut with probability 1/2, at least one cut
		for c := lo + 1; c < hi; c++ {
			if rng.IntN(2) == 0 {
				cuts = append(cuts, c)
			}
		}
		if len(cuts) == 0 {
			cuts = []int{lo + 1 + rng.IntN(hi-lo-1)}
		}
	default:
		return nil, fmt.Errorf("%w: unknown tree_sampler %q", election.ErrBadInput, sampler)
	}
	start := lo
	for _, c := range append(cuts, hi) {
		child, err := buildTree(rng, sampler, start, c)
		if err != nil {
			return nil, err
		}
		node.children = append(node.children, child)
		start = c
	}
	return node, nil
}

func (t *gsNode) emit(rng *rand.Rand, out []int) []int {
	if t.children == nil {
		return append(out, t.candidate)
	}
	if rng.IntN(2) == 0 {
		for i := len(t.children) - 1; i >= 0; i-- {
			out = t.children[i].emit(rng, out)
		}
		return out
	}
	for _, ch := range t.children {
		out = ch.emit(rng, out)
	}
	return out
}

// groupSeparableVotes reverses the children of every tree node with
// probability 1/2 and reads the leaves left to right.
func groupSeparableVotes(rng *rand.Rand, n, m int, p election.Params) ([][]int, error) {
	tree, err := buildTree(rng, p.String("tree_sampler", "schroeder"), 0, m)
	if err != nil {
		return nil, err
	}
	votes := make([][]int, n)
	for v := range votes {
		votes[v] = tree.emit(rng, make([]int, 0, m))
	}
	return votes, nil
}

// samplePoints draws k points of the given dimension from space.
func samplePoints(rng *rand.Rand, k, dim int, space string) ([][]float64, error) {
	uniform := distuv.Uniform{Min: 0, Max: 1, Src: rng}
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
	points := make([][]float64, k)
	for i := range points {
		x := make([]float64, dim)
		switch space {
		case "uniform", "":
			for d := range x {
				x[d] = uniform.Rand()
			}
		case "gaussian":
			for d := range x {
				x[d] = normal.Rand()
			}
		case "sphere", "ball":
			for d := range x {
				x[d] = normal.Rand()
			}
			norm := floats.Norm(x, 2)
			if norm == 0 {
				x[0], norm = 1, 1
			}
			scale := 1 / norm
			if space == "ball" {
				scale *= math.Pow(uniform.Rand(), 1/float64(dim))
			}
			floats.Scale(scale, x)
		default:
			return nil, fmt.Errorf("%w: unknown euclidean space %q", election.ErrBadInput, space)
		}
		points[i] = x
	}
	return points, nil
}

// rankByDistance orders candidates by distance from the voter, ties by index.
func rankByDistance(voter []float64, candidates [][]float64) []int {
	dist := make([]float64, len(candidates))
	for c, x := range candidates {
		dist[c] = floats.Distance(voter, x, 2)
	}
	vote := identityRanking(len(candidates))
	sort.SliceStable(vote, func(i, j int) bool { return dist[vote[i]] < dist[vote[j]] })
	return vote
}

func euclideanVotes(rng *rand.Rand, n, m int, p election.Params) ([][]int, error) {
	dim := p.Int("dim", 2)
	if dim < 1 {
		return nil, fmt.Errorf("%w: euclidean dim must be positive, got %d", election.ErrBadInput, dim)
	}
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
		votes[v] = rankByDistance(voters[v], candidates)
	}
	return votes, nil
}

func identityVotes(_ *rand.Rand, n, m int, _ election.Params) ([][]int, error) {
	votes := make([][]int, n)
	for v := range votes {
		votes[v] = identityRanking(m)
	}
	return votes, nil
}

// antagonismVotes gives the identity to the first half of the voters and its
// reverse to the rest.
func antagonismVotes(_ *rand.Rand, n, m int, _ election.Params) ([][]int, error) {
	votes := make([][]int, n)
	for v := range votes {
		if v < (n+1)/2 {
			votes[v] = identityRanking(m)
		} else {
			votes[v] = reversed(identityRanking(m))
		}
	}
	return votes, nil
}

// uniformityVotes uses cyclic shifts of the identity; the frequency matrix is
// exactly uniform whenever m divides n.
func uniformityVotes(_ *rand.Rand, n, m int, _ election.Params) ([][]int, error) {
	votes := make([][]int, n)
	for v := range votes {
		vote := make([]int, m)
		for k := range vote {
			vote[k] = (k + v) % m
		}
		votes[v] = vote
	}
	return votes, nil
}

// stratificationVotes ranks the top weight*m candidates above the rest, each
// block in cyclically shifted order.
func stratificationVotes(_ *rand.Rand, n, m int, p election.Params) ([][]int, error) {
	top := stratumSize(m, p.Float("weight", 0.5))
	votes := make([][]int, n)
	for v := range votes {
		vote := make([]int, m)
		for k := 0; k < top; k++ {
			vote[k] = (k + v) % top
		}
		for k := top; k < m; k++ {
			vote[k] = top + (k-top+v)%(m-top)
		}
		votes[v] = vote
	}
	return votes, nil
}

func stratumSize(m int, weight float64) int {
	top := int(math.Round(weight * float64(m)))
	if top < 1 {
		top = 1
	}
	if top >= m && m > 1 {
		top = m - 1
	}
	if m == 1 {
		top = 1
	}
	return top
}

// mixtureVotes takes round(part_share*n) voters from a and the rest from b.
func mixtureVotes(a, b OrdinalSampler) OrdinalSampler {
	return func(rng *rand.Rand, n, m int, p election.Params) ([][]int, error) {
		share := p.Float("part_share", 0.5)
		if share < 0 || share > 1 {
			return nil, fmt.Errorf("%w: part_share must lie in [0,1], got %v", election.ErrBadInput, share)
		}
		k := int(math.Round(share * float64(n)))
		first, err := a(rng, k, m, p)
		if err != nil {
			return nil, err
		}
		second, err := b(rng, n-k, m, p)
		if err != nil {
			return nil, err
		}
		return append(first, second...), nil
	}
}
