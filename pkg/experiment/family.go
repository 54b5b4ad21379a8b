package experiment

import (
	"fmt"

	"github.com/gilchrisn/election-map/pkg/election"
)

// Path sweeps one culture parameter across the elections of a family.
type Path struct {
	Variable string  `yaml:"variable" json:"variable"`
	Start    float64 `yaml:"start" json:"start"`
	Step     float64 `yaml:"step" json:"step"`
	// Scale multiplies every value (0 means 1).
	Scale float64 `yaml:"scale" json:"scale"`
	// Extremes spreads values evenly over [0, 1] including both ends.
	Extremes bool `yaml:"extremes" json:"extremes"`
}

// Value returns the parameter value of the j-th of size elections: evenly
// spaced on [0,1] with Extremes, start + j*step when a start or step is
// given and (j+1)/(size+1) otherwise, times Scale.
func (p *Path) Value(j, size int) float64 {
	var t float64
	switch {
	case p.Extremes:
		if size > 1 {
			t = float64(j) / float64(size-1)
		}
	case p.Start != 0 || p.Step != 0:
		t = p.Start + float64(j)*p.Step
	default:
		t = float64(j+1) / float64(size+1)
	}
	if p.Scale != 0 {
		t *= p.Scale
	}
	return t
}

// Family is a group of elections drawn from one culture with shared
// parameters and plotting attributes.
type Family struct {
	ID            string          `yaml:"family_id" json:"family_id"`
	CultureID     string          `yaml:"culture_id" json:"culture_id"`
	Kind          election.Kind   `yaml:"-" json:"-"`
	Size          int             `yaml:"size" json:"size"`
	NumCandidates int             `yaml:"num_candidates" json:"num_candidates"`
	NumVoters     int             `yaml:"num_voters" json:"num_voters"`
	Params        election.Params `yaml:"params" json:"params"`
	Path          *Path           `yaml:"path" json:"path,omitempty"`

	Label  string  `yaml:"label" json:"label"`
	Color  string  `yaml:"color" json:"color"`
	Alpha  float64 `yaml:"alpha" json:"alpha"`
	Marker string  `yaml:"marker" json:"marker"`
	MS     float64 `yaml:"ms" json:"ms"`

	// ElectionIDs lists the members in sampling order.
	ElectionIDs []string `yaml:"-" json:"election_ids"`
}

func (f *Family) validate() error {
	if f.ID == "" {
		return fmt.Errorf("%w: family without id", election.ErrBadInput)
	}
	if f.CultureID == "" {
		return fmt.Errorf("%w: family %s has no culture", election.ErrBadInput, f.ID)
	}
	if f.Size < 1 {
		return fmt.Errorf("%w: family %s has size %d", election.ErrBadInput, f.ID, f.Size)
	}
	if f.NumCandidates < 1 || f.NumVoters < 0 {
		return fmt.Errorf("%w: family %s has m=%d, n=%d", election.ErrBadInput, f.ID, f.NumCandidates, f.NumVoters)
	}
	if f.Path != nil && f.Path.Variable == "" {
		return fmt.Errorf("%w: family %s has a path without variable", election.ErrBadInput, f.ID)
	}
	return nil
}

// electionID names the j-th member; single-election families reuse the
// family id.
func (f *Family) electionID(j int) string {
	if f.Size == 1 {
		return f.ID
	}
	return fmt.Sprintf("%s_%d", f.ID, j)
}

// paramsFor returns the parameters of the j-th member.
func (f *Family) paramsFor(j int) election.Params {
	p := f.Params.Clone()
	if f.Path != nil {
		p[f.Path.Variable] = f.Path.Value(j, f.Size)
	}
	return p
}
