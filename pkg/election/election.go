// Package election holds ordinal and approval election containers together
// with their lazily cached derived representations (potes, frequency matrix,
// pairwise matrix, Borda vector, approvalwise vector, reverse approvals,
// candidatelikeness matrix). Elections are immutable once built; caches only
// deepen and are dropped solely by Recompute.
package election

import (
	"errors"
	"fmt"
)

var (
	// ErrBadInput marks malformed votes, matrices or vectors.
	ErrBadInput = errors.New("bad input")
	// ErrNotApplicable marks operations that need real votes on a pseudo-election.
	ErrNotApplicable = errors.New("not applicable")
)

// Kind distinguishes ordinal from approval elections.
type Kind int

const (
	Ordinal Kind = iota
	Approval
)

func (k Kind) String() string {
	switch k {
	case Ordinal:
		return "ordinal"
	case Approval:
		return "approval"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Election is the common surface of every election container.
type Election interface {
	ID() string
	Kind() Kind
	NumVoters() int
	NumCandidates() int
	CultureID() string
	Params() Params
	IsPseudo() bool
}

// RequireVotes returns ErrNotApplicable when e carries no real ballots.
func RequireVotes(e Election) error {
	if e.IsPseudo() {
		return fmt.Errorf("%w: election %s is a pseudo-election", ErrNotApplicable, e.ID())
	}
	return nil
}

// SameKind returns ErrBadInput when the two elections are of different kinds.
func SameKind(e1, e2 Election) error {
	if e1.Kind() != e2.Kind() {
		return fmt.Errorf("%w: cannot compare %s election %s with %s election %s",
			ErrBadInput, e1.Kind(), e1.ID(), e2.Kind(), e2.ID())
	}
	return nil
}

func badInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrBadInput, fmt.Sprintf(format, args...))
}
