package election

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Unranked marks an empty position in a truncated ordinal ballot, and an
// unranked candidate in a pote row.
const Unranked = -1

// OrdinalElection is a multiset of (possibly truncated) rankings, or a
// pseudo-election that only carries a frequency matrix.
type OrdinalElection struct {
	id            string
	cultureID     string
	params        Params
	numVoters     int
	numCandidates int
	votes         [][]int // votes[v][k] = candidate at position k, Unranked if none
	pseudo        bool

	// Alliances[c] is the alliance label of candidate c (alliance cultures only).
	Alliances []int

	mu            sync.Mutex
	potes         [][]int
	frequency     [][]float64
	pairwise      [][]float64
	bordaScores   []float64
	distinct      [][]int
	quantities    []int
	voterlikeness map[string][][]float64
	truncated     *bool
}

// NewOrdinalElection validates and wraps votes. Every vote must have exactly
// numCandidates entries; ranked entries must be distinct candidates in
// [0, numCandidates) and empty positions are Unranked. Truncation is a
// suffix: nothing may be ranked after an Unranked position.
func NewOrdinalElection(id, cultureID string, params Params, numCandidates int, votes [][]int) (*OrdinalElection, error) {
	if numCandidates < 1 {
		return nil, badInput("election %s: num_candidates must be positive, got %d", id, numCandidates)
	}
	seen := make([]int, numCandidates)
	for v, vote := range votes {
		if len(vote) != numCandidates {
			return nil, badInput("election %s: vote %d has length %d, expected %d", id, v, len(vote), numCandidates)
		}
		truncated := false
		for k, c := range vote {
			if c == Unranked {
				truncated = true
				continue
			}
			if truncated {
				return nil, badInput("election %s: vote %d ranks candidate %d at position %d after an unranked position", id, v, c, k)
			}
			if c < 0 || c >= numCandidates {
				return nil, badInput("election %s: vote %d ranks unknown candidate %d", id, v, c)
			}
			if seen[c] == v+1 {
				return nil, badInput("election %s: vote %d ranks candidate %d twice", id, v, c)
			}
			seen[c] = v + 1
		}
	}
	if params == nil {
		params = Params{}
	}
	return &OrdinalElection{
		id:            id,
		cultureID:     cultureID,
		params:        params,
		numVoters:     len(votes),
		numCandidates: numCandidates,
		votes:         votes,
	}, nil
}

// NewPseudoOrdinal wraps a frequency matrix produced directly by a pseudo
// culture. numVoters stays a formal attribute used by Borda-like scaling.
func NewPseudoOrdinal(id, cultureID string, params Params, numVoters int, frequency [][]float64) (*OrdinalElection, error) {
	m := len(frequency)
	if m == 0 {
		return nil, badInput("election %s: empty frequency matrix", id)
	}
	for c, row := range frequency {
		if len(row) != m {
			return nil, badInput("election %s: frequency matrix is not square (row %d has %d entries, expected %d)", id, c, len(row), m)
		}
		for _, x := range row {
			if math.IsNaN(x) || x < -1e-9 || x > 1+1e-9 {
				return nil, badInput("election %s: frequency entry %v outside [0,1]", id, x)
			}
		}
	}
	if params == nil {
		params = Params{}
	}
	return &OrdinalElection{
		id:            id,
		cultureID:     cultureID,
		params:        params,
		numVoters:     numVoters,
		numCandidates: m,
		pseudo:        true,
		frequency:     frequency,
	}, nil
}

func (e *OrdinalElection) ID() string         { return e.id }
func (e *OrdinalElection) Kind() Kind         { return Ordinal }
func (e *OrdinalElection) NumVoters() int     { return e.numVoters }
func (e *OrdinalElection) NumCandidates() int { return e.numCandidates }
func (e *OrdinalElection) CultureID() string  { return e.cultureID }
func (e *OrdinalElection) Params() Params     { return e.params }
func (e *OrdinalElection) IsPseudo() bool     { return e.pseudo }

// Votes returns the ballots (nil for pseudo-elections). Callers must not modify them.
func (e *OrdinalElection) Votes() [][]int { return e.votes }

// SetPairwiseMatrix attaches a culture-supplied pairwise matrix to a pseudo-election.
func (e *OrdinalElection) SetPairwiseMatrix(p [][]float64) error {
	if len(p) != e.numCandidates {
		return badInput("election %s: pairwise matrix has %d rows, expected %d", e.id, len(p), e.numCandidates)
	}
	for _, row := range p {
		if len(row) != e.numCandidates {
			return badInput("election %s: pairwise matrix is not square", e.id)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pairwise = p
	return nil
}

// Recompute drops every derived cache of a real election.
func (e *OrdinalElection) Recompute() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pseudo {
		return
	}
	e.potes = nil
	e.frequency = nil
	e.pairwise = nil
	e.bordaScores = nil
	e.distinct = nil
	e.quantities = nil
	e.voterlikeness = nil
	e.truncated = nil
}

// IsTruncated reports whether any ballot leaves a position unranked.
func (e *OrdinalElection) IsTruncated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.truncated == nil {
		t := false
		for _, vote := range e.votes {
			for _, c := range vote {
				if c == Unranked {
					t = true
					break
				}
			}
		}
		e.truncated = &t
	}
	return *e.truncated
}

// Potes returns potes[v][c] = position of c in vote v (Unranked when absent).
// Nil for pseudo-elections.
func (e *OrdinalElection) Potes() [][]int {
	if e.pseudo {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.potesLocked()
}

func (e *OrdinalElection) potesLocked() [][]int {
	if e.potes != nil {
		return e.potes
	}
	potes := make([][]int, e.numVoters)
	for v, vote := range e.votes {
		row := make([]int, e.numCandidates)
		for c := range row {
			row[c] = Unranked
		}
		for k, c := range vote {
			if c != Unranked {
				row[c] = k
			}
		}
		potes[v] = row
	}
	e.potes = potes
	return potes
}

// FrequencyMatrix returns F[c][k], the fraction of voters ranking c at
// position k. Each observed appearance contributes 1/n to its position and
// nothing is added for unobserved positions, so rows of truncated elections
// may sum to less than one.
func (e *OrdinalElection) FrequencyMatrix() [][]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frequency != nil {
		return e.frequency
	}
	m := e.numCandidates
	freq := make([][]float64, m)
	for c := range freq {
		freq[c] = make([]float64, m)
	}
	if e.numVoters > 0 {
		w := 1.0 / float64(e.numVoters)
		for _, vote := range e.votes {
			for k, c := range vote {
				if c != Unranked {
					freq[c][k] += w
				}
			}
		}
	}
	e.frequency = freq
	return freq
}

// PairwiseMatrix returns P[a][b], the fraction of voters preferring a to b.
// A pair is resolved in a vote when at least one of the two candidates is
// ranked; a ranked candidate beats an unranked one and pairs where both are
// unranked contribute nothing.
func (e *OrdinalElection) PairwiseMatrix() ([][]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pairwise != nil {
		return e.pairwise, nil
	}
	if e.pseudo {
		return nil, RequireVotes(e)
	}
	m := e.numCandidates
	counts := make([][]float64, m)
	for a := range counts {
		counts[a] = make([]float64, m)
	}
	potes := e.potesLocked()
	for _, row := range potes {
		for a := 0; a < m; a++ {
			pa := row[a]
			for b := a + 1; b < m; b++ {
				pb := row[b]
				switch {
				case pa == Unranked && pb == Unranked:
				case pb == Unranked || (pa != Unranked && pa < pb):
					counts[a][b]++
				default:
					counts[b][a]++
				}
			}
		}
	}
	if e.numVoters > 0 {
		n := float64(e.numVoters)
		for a := range counts {
			for b := range counts[a] {
				counts[a][b] /= n
			}
		}
	}
	e.pairwise = counts
	return counts, nil
}

// BordaScores returns the (unsorted) Borda score of every candidate computed
// from the frequency matrix as sum_k F[c][k]*(m-1-k)*n.
func (e *OrdinalElection) BordaScores() []float64 {
	freq := e.FrequencyMatrix()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bordaScores != nil {
		return e.bordaScores
	}
	m := e.numCandidates
	n := float64(e.numVoters)
	scores := make([]float64, m)
	for c := 0; c < m; c++ {
		for k := 0; k < m; k++ {
			scores[c] += freq[c][k] * float64(m-1-k) * n
		}
	}
	e.bordaScores = scores
	return scores
}

// BordaVector returns the Borda scores sorted descending. Candidate identity
// is dropped on purpose.
func (e *OrdinalElection) BordaVector() []float64 {
	scores := e.BordaScores()
	out := make([]float64, len(scores))
	copy(out, scores)
	sort.Sort(sort.Reverse(sort.Float64Slice(out)))
	return out
}

// DistinctVotes returns the unique ballots in order of first appearance with
// their multiplicities; sum(quantities) = n.
func (e *OrdinalElection) DistinctVotes() ([][]int, []int) {
	if e.pseudo {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.distinct == nil {
		e.distinct, e.quantities = distinctRows(e.votes)
	}
	return e.distinct, e.quantities
}

// VoterlikenessMatrix returns the n×n matrix of metric distances between
// the voters' ballots.
func (e *OrdinalElection) VoterlikenessMatrix(metric VoteMetric) ([][]float64, error) {
	if err := RequireVotes(e); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.voterlikeness == nil {
		e.voterlikeness = make(map[string][][]float64)
	}
	if vl, ok := e.voterlikeness[metric.Name]; ok {
		return vl, nil
	}
	potes := e.potesLocked()
	n := e.numVoters
	vl := make([][]float64, n)
	for v := range vl {
		vl[v] = make([]float64, n)
	}
	for v := 0; v < n; v++ {
		for w := v + 1; w < n; w++ {
			d := metric.Fn(potes[v], potes[w])
			vl[v][w] = d
			vl[w][v] = d
		}
	}
	e.voterlikeness[metric.Name] = vl
	return vl, nil
}

func distinctRows(rows [][]int) ([][]int, []int) {
	index := make(map[string]int)
	var distinct [][]int
	var quantities []int
	var sb strings.Builder
	for _, row := range rows {
		sb.Reset()
		for _, x := range row {
			sb.WriteString(strconv.Itoa(x))
			sb.WriteByte(',')
		}
		key := sb.String()
		if i, ok := index[key]; ok {
			quantities[i]++
			continue
		}
		index[key] = len(distinct)
		distinct = append(distinct, row)
		quantities = append(quantities, 1)
	}
	return distinct, quantities
}
