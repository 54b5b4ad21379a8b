package features

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/combin"

	"github.com/gilchrisn/election-map/pkg/election"
	"github.com/gilchrisn/election-map/pkg/rules"
)

func registerCommitteeScores(r *Registry) {
	r.Register("highest_cc_score", election.Ordinal, committeeScore(ccUtility))
	r.Register("highest_hb_score", election.Ordinal, committeeScore(hbUtility))
	r.Register("highest_pav_score", election.Ordinal, committeeScore(pavUtility))
}

// utility scores one voter's committee given the Borda utilities of its
// members (m-1-position); k is the committee size.
type utility struct {
	score func(utils []float64, k, m int) float64
	// best is the score of a voter whose top k candidates are all elected.
	best func(k, m int) float64
}

// ccUtility is the Borda utility of the best elected candidate.
var ccUtility = utility{
	score: func(utils []float64, _, _ int) float64 { return utils[0] },
	best:  func(_, m int) float64 { return float64(m - 1) },
}

// hbUtility weights the i-th best elected candidate by 1/i.
var hbUtility = utility{
	score: func(utils []float64, _, _ int) float64 {
		s := 0.0
		for i, u := range utils {
			s += u / float64(i+1)
		}
		return s
	},
	best: func(k, m int) float64 {
		s := 0.0
		for i := 0; i < k; i++ {
			s += float64(m-1-i) / float64(i+1)
		}
		return s
	},
}

// pavUtility treats each voter's top k candidates as approved.
var pavUtility = utility{
	score: func(utils []float64, k, m int) float64 {
		ell := 0
		for _, u := range utils {
			if u >= float64(m-k) {
				ell++
			}
		}
		return rules.Harmonic(ell)
	},
	best: func(k, _ int) float64 { return rules.Harmonic(k) },
}

// committeeScore enumerates committees of size committee_size and reports
// the highest total score; Dissat is the gap to every voter getting its
// best possible committee.
func committeeScore(u utility) Func {
	return func(ctx context.Context, env *Env, e election.Election, p election.Params) (Result, error) {
		o, err := withVotes(e)
		if err != nil {
			return Result{}, err
		}
		if o.IsTruncated() {
			return Result{}, fmt.Errorf("%w: committee scores need complete rankings", election.ErrNotApplicable)
		}
		m := o.NumCandidates()
		k := p.Int("committee_size", 1)
		if k < 1 || k > m {
			return Result{}, fmt.Errorf("%w: committee_size %d outside [1, %d]", election.ErrBadInput, k, m)
		}
		if err := enumerationAllowed(env, combin.GeneralizedBinomial(float64(m), float64(k)), "committee enumeration"); err != nil {
			return Result{}, err
		}

		ballots, quantities := o.DistinctVotes()
		potes := make([][]int, len(ballots))
		for i, vote := range ballots {
			potes[i] = election.PotesOf(vote)
		}

		best := math.Inf(-1)
		gen := combin.NewCombinationGenerator(m, k)
		committee := make([]int, k)
		utils := make([]float64, k)
		for gen.Next() {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			gen.Combination(committee)
			total := 0.0
			for i, row := range potes {
				for j, c := range committee {
					utils[j] = float64(m - 1 - row[c])
				}
				sort.Sort(sort.Reverse(sort.Float64Slice(utils)))
				total += float64(quantities[i]) * u.score(utils, k, m)
			}
			best = math.Max(best, total)
		}
		dissat := float64(o.NumVoters())*u.best(k, m) - best
		res := Scalar(best)
		res.Dissat = &dissat
		return res, nil
	}
}
