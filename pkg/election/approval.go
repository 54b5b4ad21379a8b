package election

import (
	"sort"
	"sync"
)

// ApprovalElection is a multiset of approval ballots (candidate subsets).
type ApprovalElection struct {
	id            string
	cultureID     string
	params        Params
	numVoters     int
	numCandidates int
	votes         [][]int // sorted, duplicate-free candidate sets

	mu                sync.Mutex
	counts            []int
	approvalwise      []float64
	reverse           [][]int
	candidatelikeness [][]float64
	approves          [][]bool
	distinct          [][]int
	quantities        []int
	committees        map[string][]int
}

// NewApprovalElection validates and normalises ballots. Each ballot is sorted
// and must not repeat a candidate.
func NewApprovalElection(id, cultureID string, params Params, numCandidates int, votes [][]int) (*ApprovalElection, error) {
	if numCandidates < 1 {
		return nil, badInput("election %s: num_candidates must be positive, got %d", id, numCandidates)
	}
	normalised := make([][]int, len(votes))
	for v, vote := range votes {
		set := make([]int, len(vote))
		copy(set, vote)
		sort.Ints(set)
		for i, c := range set {
			if c < 0 || c >= numCandidates {
				return nil, badInput("election %s: vote %d approves unknown candidate %d", id, v, c)
			}
			if i > 0 && set[i-1] == c {
				return nil, badInput("election %s: vote %d approves candidate %d twice", id, v, c)
			}
		}
		normalised[v] = set
	}
	if params == nil {
		params = Params{}
	}
	return &ApprovalElection{
		id:            id,
		cultureID:     cultureID,
		params:        params,
		numVoters:     len(votes),
		numCandidates: numCandidates,
		votes:         normalised,
	}, nil
}

func (e *ApprovalElection) ID() string         { return e.id }
func (e *ApprovalElection) Kind() Kind         { return Approval }
func (e *ApprovalElection) NumVoters() int     { return e.numVoters }
func (e *ApprovalElection) NumCandidates() int { return e.numCandidates }
func (e *ApprovalElection) CultureID() string  { return e.cultureID }
func (e *ApprovalElection) Params() Params     { return e.params }
func (e *ApprovalElection) IsPseudo() bool     { return false }

// Votes returns the sorted approval sets. Callers must not modify them.
func (e *ApprovalElection) Votes() [][]int { return e.votes }

// Recompute drops every derived cache. Winning committees are kept.
func (e *ApprovalElection) Recompute() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counts = nil
	e.approvalwise = nil
	e.reverse = nil
	e.candidatelikeness = nil
	e.approves = nil
	e.distinct = nil
	e.quantities = nil
}

// ApprovalCounts returns the number of approvals of every candidate.
func (e *ApprovalElection) ApprovalCounts() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.countsLocked()
}

func (e *ApprovalElection) countsLocked() []int {
	if e.counts != nil {
		return e.counts
	}
	counts := make([]int, e.numCandidates)
	for _, vote := range e.votes {
		for _, c := range vote {
			counts[c]++
		}
	}
	e.counts = counts
	return counts
}

// ApprovalwiseVector returns per-candidate approval frequencies sorted ascending.
func (e *ApprovalElection) ApprovalwiseVector() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.approvalwise != nil {
		return e.approvalwise
	}
	counts := e.countsLocked()
	vec := make([]float64, e.numCandidates)
	if e.numVoters > 0 {
		for c, k := range counts {
			vec[c] = float64(k) / float64(e.numVoters)
		}
	}
	sort.Float64s(vec)
	e.approvalwise = vec
	return vec
}

// ReverseApprovals returns, for every candidate, the sorted voters approving it.
func (e *ApprovalElection) ReverseApprovals() [][]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reverse != nil {
		return e.reverse
	}
	reverse := make([][]int, e.numCandidates)
	for c := range reverse {
		reverse[c] = []int{}
	}
	for v, vote := range e.votes {
		for _, c := range vote {
			reverse[c] = append(reverse[c], v)
		}
	}
	e.reverse = reverse
	return reverse
}

// ApprovalMatrix returns A[v][c] = whether voter v approves candidate c.
func (e *ApprovalElection) ApprovalMatrix() [][]bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.approves != nil {
		return e.approves
	}
	a := make([][]bool, e.numVoters)
	for v, vote := range e.votes {
		row := make([]bool, e.numCandidates)
		for _, c := range vote {
			row[c] = true
		}
		a[v] = row
	}
	e.approves = a
	return a
}

// CandidatelikenessMatrix returns C[a][b], the fraction of voters approving
// exactly one of a and b. Symmetric with a zero diagonal.
func (e *ApprovalElection) CandidatelikenessMatrix() [][]float64 {
	approves := e.ApprovalMatrix()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.candidatelikeness != nil {
		return e.candidatelikeness
	}
	m := e.numCandidates
	cl := make([][]float64, m)
	for a := range cl {
		cl[a] = make([]float64, m)
	}
	for _, row := range approves {
		for a := 0; a < m; a++ {
			for b := a + 1; b < m; b++ {
				if row[a] != row[b] {
					cl[a][b]++
				}
			}
		}
	}
	if e.numVoters > 0 {
		n := float64(e.numVoters)
		for a := 0; a < m; a++ {
			for b := a + 1; b < m; b++ {
				cl[a][b] /= n
				cl[b][a] = cl[a][b]
			}
		}
	}
	e.candidatelikeness = cl
	return cl
}

// DistinctVotes returns unique ballots with multiplicities.
func (e *ApprovalElection) DistinctVotes() ([][]int, []int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.distinct == nil {
		e.distinct, e.quantities = distinctRows(e.votes)
	}
	return e.distinct, e.quantities
}

// WinningCommittee returns the committee stored for rule, if any.
func (e *ApprovalElection) WinningCommittee(rule string) ([]int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.committees[rule]
	return w, ok
}

// SetWinningCommittee stores the committee chosen by rule.
func (e *ApprovalElection) SetWinningCommittee(rule string, committee []int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.committees == nil {
		e.committees = make(map[string][]int)
	}
	w := make([]int, len(committee))
	copy(w, committee)
	sort.Ints(w)
	e.committees[rule] = w
}

// Intersection returns |a ∩ b| for two sorted sets.
func Intersection(a, b []int) int {
	i, j, n := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			n++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return n
}

// SymmetricDifference returns |a Δ b| for two sorted sets.
func SymmetricDifference(a, b []int) int {
	return len(a) + len(b) - 2*Intersection(a, b)
}
