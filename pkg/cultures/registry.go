// Package cultures maps culture ids to samplers. Four disjoint registries
// exist: ordinal samplers produce rankings, approval samplers produce
// candidate subsets, pseudo-ordinal cultures produce a frequency matrix
// directly and alliance cultures produce rankings plus candidate alliances.
package cultures

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/gilchrisn/election-map/pkg/election"
)

// ErrUnknownCulture is returned for ids that no registry knows.
var ErrUnknownCulture = errors.New("unknown culture")

// OrdinalSampler draws n rankings of m candidates.
type OrdinalSampler func(rng *rand.Rand, n, m int, p election.Params) ([][]int, error)

// ApprovalSampler draws n approval ballots over m candidates.
type ApprovalSampler func(rng *rand.Rand, n, m int, p election.Params) ([][]int, error)

// PseudoMatrices is what a pseudo-culture yields instead of votes.
type PseudoMatrices struct {
	Frequency [][]float64
	// Pairwise is optional; nil when the culture has no closed form for it.
	Pairwise [][]float64
}

// PseudoSampler computes the matrices of a pseudo-culture over m candidates.
type PseudoSampler func(m int, p election.Params) (PseudoMatrices, error)

// AllianceSampler draws rankings together with an alliance label per candidate.
type AllianceSampler func(rng *rand.Rand, n, m int, p election.Params) ([][]int, []int, error)

// Kind tells which of the four registries holds a culture id.
type Kind int

const (
	KindOrdinal Kind = iota
	KindApproval
	KindPseudo
	KindAlliance
)

func (k Kind) String() string {
	switch k {
	case KindOrdinal:
		return "ordinal"
	case KindApproval:
		return "approval"
	case KindPseudo:
		return "pseudo_ordinal"
	case KindAlliance:
		return "alliance_ordinal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Registry manages available cultures. Build it once at startup and treat
// it as read-only afterwards.
type Registry struct {
	ordinal  map[string]OrdinalSampler
	approval map[string]ApprovalSampler
	pseudo   map[string]PseudoSampler
	alliance map[string]AllianceSampler
	aliases  map[string]string
}

// NewRegistry creates a registry holding every built-in culture.
func NewRegistry() *Registry {
	r := &Registry{
		ordinal:  make(map[string]OrdinalSampler),
		approval: make(map[string]ApprovalSampler),
		pseudo:   make(map[string]PseudoSampler),
		alliance: make(map[string]AllianceSampler),
		aliases:  make(map[string]string),
	}
	registerOrdinal(r)
	registerApproval(r)
	registerPseudo(r)
	registerAlliance(r)
	return r
}

// RegisterOrdinal adds or replaces an ordinal culture.
func (r *Registry) RegisterOrdinal(id string, fn OrdinalSampler) { r.ordinal[id] = fn }

// RegisterApproval adds or replaces an approval culture.
func (r *Registry) RegisterApproval(id string, fn ApprovalSampler) { r.approval[id] = fn }

// RegisterPseudo adds or replaces a pseudo-ordinal culture.
func (r *Registry) RegisterPseudo(id string, fn PseudoSampler) { r.pseudo[id] = fn }

// RegisterAlliance adds or replaces an alliance culture.
func (r *Registry) RegisterAlliance(id string, fn AllianceSampler) { r.alliance[id] = fn }

// Alias makes alias resolve to id in every registry.
func (r *Registry) Alias(alias, id string) { r.aliases[alias] = id }

func (r *Registry) resolve(id string) string {
	if target, ok := r.aliases[id]; ok {
		return target
	}
	return id
}

// Lookup reports which registry holds id for elections of the given kind.
// Pseudo and alliance cultures are ordinal.
func (r *Registry) Lookup(kind election.Kind, id string) (Kind, bool) {
	id = r.resolve(id)
	if kind == election.Approval {
		_, ok := r.approval[id]
		return KindApproval, ok
	}
	if _, ok := r.pseudo[id]; ok {
		return KindPseudo, true
	}
	if _, ok := r.alliance[id]; ok {
		return KindAlliance, true
	}
	_, ok := r.ordinal[id]
	return KindOrdinal, ok
}

// List returns the sorted culture ids of one registry.
func (r *Registry) List(kind Kind) []string {
	var ids []string
	switch kind {
	case KindOrdinal:
		for id := range r.ordinal {
			ids = append(ids, id)
		}
	case KindApproval:
		for id := range r.approval {
			ids = append(ids, id)
		}
	case KindPseudo:
		for id := range r.pseudo {
			ids = append(ids, id)
		}
	case KindAlliance:
		for id := range r.alliance {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Generate samples one election. Params are normalised first and the
// normalised copy is stored on the election.
func (r *Registry) Generate(rng *rand.Rand, electionID, cultureID string, kind election.Kind, n, m int, params election.Params) (election.Election, error) {
	if n < 0 || m < 1 {
		return nil, fmt.Errorf("%w: culture %s needs n >= 0 and m >= 1 (got n=%d, m=%d)", election.ErrBadInput, cultureID, n, m)
	}
	id := r.resolve(cultureID)
	p := NormalizeParams(rng, id, m, params)

	if kind == election.Approval {
		fn, ok := r.approval[id]
		if !ok {
			return nil, fmt.Errorf("%w: approval culture %q", ErrUnknownCulture, cultureID)
		}
		votes, err := fn(rng, n, m, p)
		if err != nil {
			return nil, fmt.Errorf("culture %s: %w", cultureID, err)
		}
		return election.NewApprovalElection(electionID, cultureID, p, m, votes)
	}

	if fn, ok := r.pseudo[id]; ok {
		mats, err := fn(m, p)
		if err != nil {
			return nil, fmt.Errorf("culture %s: %w", cultureID, err)
		}
		e, err := election.NewPseudoOrdinal(electionID, cultureID, p, n, mats.Frequency)
		if err != nil {
			return nil, err
		}
		if mats.Pairwise != nil {
			if err := e.SetPairwiseMatrix(mats.Pairwise); err != nil {
				return nil, err
			}
		}
		return e, nil
	}

	if fn, ok := r.alliance[id]; ok {
		votes, alliances, err := fn(rng, n, m, p)
		if err != nil {
			return nil, fmt.Errorf("culture %s: %w", cultureID, err)
		}
		e, err := election.NewOrdinalElection(electionID, cultureID, p, m, votes)
		if err != nil {
			return nil, err
		}
		e.Alliances = alliances
		return e, nil
	}

	fn, ok := r.ordinal[id]
	if !ok {
		return nil, fmt.Errorf("%w: ordinal culture %q", ErrUnknownCulture, cultureID)
	}
	votes, err := fn(rng, n, m, p)
	if err != nil {
		return nil, fmt.Errorf("culture %s: %w", cultureID, err)
	}
	return election.NewOrdinalElection(electionID, cultureID, p, m, votes)
}
