package features

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/gilchrisn/election-map/pkg/election"
	"github.com/gilchrisn/election-map/pkg/milp"
)

const majorityTol = 1e-9

func registerOrdinal(r *Registry) {
	r.Register("highest_borda_score", election.Ordinal, highestBordaScore)
	r.Register("highest_plurality_score", election.Ordinal, highestPluralityScore)
	r.Register("highest_copeland_score", election.Ordinal, highestCopelandScore)
	r.Register("lowest_dodgson_score", election.Ordinal, lowestDodgsonScore)
	r.Register("is_condorcet", election.Ordinal, isCondorcet)
	r.Register("borda_std", election.Ordinal, bordaStd)
	r.Register("borda_spread", election.Ordinal, bordaSpread)
	r.Register("avg_vote_dist", election.Ordinal, avgVoteDist)
	r.Register("max_vote_dist", election.Ordinal, maxVoteDist)
	r.Register("agreement", election.Ordinal, agreement)
	r.Register("karpov_index", election.Ordinal, karpovIndex)
	r.Register("cand_pos_dist_std", election.Ordinal, candPosDistStd)
	r.Register("effective_num_candidates", election.Ordinal, effectiveNumCandidates)
}

func highestBordaScore(_ context.Context, _ *Env, e election.Election, _ election.Params) (Result, error) {
	o, err := ordinalOf(e)
	if err != nil {
		return Result{}, err
	}
	return Scalar(floats.Max(o.BordaScores())), nil
}

func highestPluralityScore(_ context.Context, _ *Env, e election.Election, _ election.Params) (Result, error) {
	o, err := ordinalOf(e)
	if err != nil {
		return Result{}, err
	}
	best := 0.0
	for _, row := range o.FrequencyMatrix() {
		best = math.Max(best, row[0])
	}
	return Scalar(best * float64(o.NumVoters())), nil
}

// copelandScores gives one point per pairwise majority win and half a point
// per tie.
func copelandScores(p [][]float64) []float64 {
	m := len(p)
	scores := make([]float64, m)
	for a := 0; a < m; a++ {
		for b := 0; b < m; b++ {
			if a == b {
				continue
			}
			switch d := p[a][b] - p[b][a]; {
			case d > majorityTol:
				scores[a]++
			case d >= -majorityTol:
				scores[a] += 0.5
			}
		}
	}
	return scores
}

func highestCopelandScore(_ context.Context, _ *Env, e election.Election, _ election.Params) (Result, error) {
	o, err := ordinalOf(e)
	if err != nil {
		return Result{}, err
	}
	p, err := o.PairwiseMatrix()
	if err != nil {
		return Result{}, err
	}
	return Scalar(floats.Max(copelandScores(p))), nil
}

// isCondorcet is 1 when some candidate beats every other one in a strict
// pairwise majority, 0 otherwise.
func isCondorcet(_ context.Context, _ *Env, e election.Election, _ election.Params) (Result, error) {
	o, err := ordinalOf(e)
	if err != nil {
		return Result{}, err
	}
	p, err := o.PairwiseMatrix()
	if err != nil {
		return Result{}, err
	}
	m := len(p)
	for a := 0; a < m; a++ {
		wins := true
		for b := 0; b < m && wins; b++ {
			if a != b && p[a][b]-p[b][a] <= majorityTol {
				wins = false
			}
		}
		if wins {
			return Scalar(1), nil
		}
	}
	return Scalar(0), nil
}

func bordaStd(_ context.Context, _ *Env, e election.Election, _ election.Params) (Result, error) {
	o, err := ordinalOf(e)
	if err != nil {
		return Result{}, err
	}
	return Scalar(stat.PopStdDev(o.BordaScores(), nil)), nil
}

func bordaSpread(_ context.Context, _ *Env, e election.Election, _ election.Params) (Result, error) {
	o, err := ordinalOf(e)
	if err != nil {
		return Result{}, err
	}
	scores := o.BordaScores()
	return Scalar(floats.Max(scores) - floats.Min(scores)), nil
}

// voteDistances lists the swap distances of all unordered voter pairs.
func voteDistances(o *election.OrdinalElection) ([]float64, error) {
	vl, err := o.VoterlikenessMatrix(election.SwapMetric)
	if err != nil {
		return nil, err
	}
	var out []float64
	for v := range vl {
		out = append(out, vl[v][v+1:]...)
	}
	return out, nil
}

func avgVoteDist(_ context.Context, _ *Env, e election.Election, _ election.Params) (Result, error) {
	o, err := withVotes(e)
	if err != nil {
		return Result{}, err
	}
	d, err := voteDistances(o)
	if err != nil {
		return Result{}, err
	}
	if len(d) == 0 {
		return Scalar(0), nil
	}
	return Scalar(stat.Mean(d, nil)), nil
}

func maxVoteDist(_ context.Context, _ *Env, e election.Election, _ election.Params) (Result, error) {
	o, err := withVotes(e)
	if err != nil {
		return Result{}, err
	}
	d, err := voteDistances(o)
	if err != nil {
		return Result{}, err
	}
	if len(d) == 0 {
		return Scalar(0), nil
	}
	return Scalar(floats.Max(d)), nil
}

// agreement averages max(|#a>b - #b>a|, n - #a>b - #b>a) over candidate
// pairs, normalised by n times the number of pairs.
func agreement(_ context.Context, _ *Env, e election.Election, _ election.Params) (Result, error) {
	o, err := ordinalOf(e)
	if err != nil {
		return Result{}, err
	}
	m, n := o.NumCandidates(), float64(o.NumVoters())
	if m < 2 || n == 0 {
		return Scalar(0), nil
	}
	p, err := o.PairwiseMatrix()
	if err != nil {
		return Result{}, err
	}
	total := 0.0
	for a := 0; a < m; a++ {
		for b := a + 1; b < m; b++ {
			ab, ba := p[a][b]*n, p[b][a]*n
			total += math.Max(math.Abs(ab-ba), n-ab-ba)
		}
	}
	pairs := float64(m*(m-1)) / 2
	return Scalar(total / (n * pairs)), nil
}

// karpovIndex is the geometric mean of the off-diagonal voter swap
// distances after adding one to each, minus one.
func karpovIndex(_ context.Context, _ *Env, e election.Election, _ election.Params) (Result, error) {
	o, err := withVotes(e)
	if err != nil {
		return Result{}, err
	}
	d, err := voteDistances(o)
	if err != nil {
		return Result{}, err
	}
	if len(d) == 0 {
		return Scalar(0), nil
	}
	smoothed := make([]float64, len(d))
	for i, x := range d {
		smoothed[i] = x + 1
	}
	return Scalar(stat.GeometricMean(smoothed, nil) - 1), nil
}

// candPosDistStd is the standard deviation, over candidate pairs, of the
// mean positional distance between the two candidates.
func candPosDistStd(_ context.Context, _ *Env, e election.Election, _ election.Params) (Result, error) {
	o, err := withVotes(e)
	if err != nil {
		return Result{}, err
	}
	m, n := o.NumCandidates(), o.NumVoters()
	if m < 2 || n == 0 {
		return Scalar(0), nil
	}
	potes := o.Potes()
	var dists []float64
	for a := 0; a < m; a++ {
		for b := a + 1; b < m; b++ {
			sum := 0.0
			for _, row := range potes {
				sum += math.Abs(float64(rank(row[a], m) - rank(row[b], m)))
			}
			dists = append(dists, sum/float64(n))
		}
	}
	return Scalar(stat.PopStdDev(dists, nil)), nil
}

func rank(pos, m int) int {
	if pos == election.Unranked {
		return m
	}
	return pos
}

// effectiveNumCandidates is 1 / sum s_c^2 for Borda shares s_c.
func effectiveNumCandidates(_ context.Context, _ *Env, e election.Election, _ election.Params) (Result, error) {
	o, err := ordinalOf(e)
	if err != nil {
		return Result{}, err
	}
	scores := append([]float64(nil), o.BordaScores()...)
	total := floats.Sum(scores)
	if total == 0 {
		return Scalar(1), nil
	}
	floats.Scale(1/total, scores)
	return Scalar(1 / floats.Dot(scores, scores)), nil
}

// lowestDodgsonScore is the minimum over candidates of the Dodgson score,
// each computed by an integer program over distinct ballots: y[i][j]
// counts ballots of type i in which the candidate moves up exactly j
// positions, and every pairwise deficit has to be covered.
func lowestDodgsonScore(ctx context.Context, env *Env, e election.Election, _ election.Params) (Result, error) {
	o, err := withVotes(e)
	if err != nil {
		return Result{}, err
	}
	if o.IsTruncated() {
		return Result{}, fmt.Errorf("%w: Dodgson score needs complete rankings", election.ErrNotApplicable)
	}
	n, m := o.NumVoters(), o.NumCandidates()
	if n == 0 || m < 2 {
		return Scalar(0), nil
	}
	pair, err := o.PairwiseMatrix()
	if err != nil {
		return Result{}, err
	}
	ballots, quantities := o.DistinctVotes()
	need := n/2 + 1

	best := math.Inf(1)
	for c := 0; c < m; c++ {
		score, err := dodgsonScore(ctx, env, o, c, need, pair, ballots, quantities)
		if err != nil {
			return Result{}, err
		}
		best = math.Min(best, score)
	}
	return Scalar(best), nil
}

func dodgsonScore(ctx context.Context, env *Env, o *election.OrdinalElection, c, need int,
	pair [][]float64, ballots [][]int, quantities []int) (float64, error) {
	n, m := o.NumVoters(), o.NumCandidates()
	deficit := make([]int, m)
	condorcet := true
	for d := 0; d < m; d++ {
		if d == c {
			continue
		}
		wins := int(math.Round(pair[c][d] * float64(n)))
		if wins < need {
			deficit[d] = need - wins
			condorcet = false
		}
	}
	if condorcet {
		return 0, nil
	}

	model := milp.NewModel(fmt.Sprintf("dodgson_%s_%d", o.ID(), c))
	covers := make([][]milp.Term, m)
	var objective []milp.Term
	for i, vote := range ballots {
		pos := 0
		for k, x := range vote {
			if x == c {
				pos = k
			}
		}
		if pos == 0 {
			continue
		}
		moves := make([]milp.Term, 0, pos)
		for j := 1; j <= pos; j++ {
			y := model.AddInteger(fmt.Sprintf("y_%d_%d", i, j), 0, float64(quantities[i]))
			moves = append(moves, milp.T(y, 1))
			objective = append(objective, milp.T(y, float64(j)))
			// moving up j positions passes the j candidates directly above
			for k := pos - j; k < pos; k++ {
				covers[vote[k]] = append(covers[vote[k]], milp.T(y, 1))
			}
		}
		model.AddConstraint(fmt.Sprintf("ballots_%d", i), moves, milp.LessEq, float64(quantities[i]))
	}
	for d, def := range deficit {
		if def > 0 {
			model.AddConstraint(fmt.Sprintf("deficit_%d", d), covers[d], milp.GreaterEq, float64(def))
		}
	}
	model.SetObjective(objective, 0, false)

	sol, err := solve(ctx, env, model)
	if err != nil {
		return 0, err
	}
	if sol.Status != milp.Optimal {
		return 0, fmt.Errorf("%w: Dodgson model for candidate %d is %s", ErrNotSolved, c, sol.Status)
	}
	return math.Round(sol.Objective), nil
}
