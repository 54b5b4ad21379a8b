package experiment

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gilchrisn/election-map/pkg/election"
	"github.com/gilchrisn/election-map/pkg/electionio"
)

// MapColumns is the header of a map.csv manifest.
var MapColumns = []string{"size", "num_candidates", "num_voters", "culture_id", "params",
	"family_id", "label", "color", "alpha", "marker", "ms", "path"}

// FeatureSpec names a feature and its parameters.
type FeatureSpec struct {
	ID     string          `yaml:"id"`
	Params election.Params `yaml:"params"`
}

// RuleSpec names a committee rule and its size.
type RuleSpec struct {
	Rule string `yaml:"rule"`
	K    int    `yaml:"k"`
}

// Manifest describes a whole experiment: the families to sample and what to
// compute on them.
type Manifest struct {
	Kind      string        `yaml:"kind"`
	Families  []Family      `yaml:"families"`
	Distances []string      `yaml:"distances"`
	Rules     []RuleSpec    `yaml:"rules"`
	Features  []FeatureSpec `yaml:"features"`
	// Dim is the embedding dimension (0 = no embedding).
	Dim int `yaml:"dim"`
}

// ElectionKind parses Kind, defaulting to def.
func (m *Manifest) ElectionKind(def election.Kind) (election.Kind, error) {
	switch m.Kind {
	case "":
		return def, nil
	case "ordinal":
		return election.Ordinal, nil
	case "approval":
		return election.Approval, nil
	}
	return 0, fmt.Errorf("%w: unknown election kind %q", election.ErrBadInput, m.Kind)
}

// LoadManifest reads a YAML manifest, or a map.csv file when the extension
// is .csv.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		families, err := ReadMapCSV(f)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", path, err)
		}
		return &Manifest{Families: families}, nil
	}

	var m Manifest
	if err := yaml.NewDecoder(f).Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: manifest %s: %v", election.ErrBadInput, path, err)
	}
	return &m, nil
}

// ReadMapCSV parses the ';'-delimited family table. params and path are
// python dict literals.
func ReadMapCSV(r io.Reader) ([]Family, error) {
	cr := csv.NewReader(r)
	cr.Comma = Delimiter
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: map header: %v", election.ErrBadInput, err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"size", "num_candidates", "num_voters", "culture_id", "family_id"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("%w: map is missing column %q", election.ErrBadInput, required)
		}
	}

	var families []Family
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: map line %d: %v", election.ErrBadInput, line, err)
		}
		row := mapRow{rec: rec, col: col, line: line}
		f := Family{
			ID:        row.cell("family_id"),
			CultureID: row.cell("culture_id"),
			Label:     row.cell("label"),
			Color:     row.cell("color"),
			Marker:    row.cell("marker"),
		}
		f.Size = row.intCell("size", 1)
		f.NumCandidates = row.intCell("num_candidates", 0)
		f.NumVoters = row.intCell("num_voters", 0)
		f.Alpha = row.floatCell("alpha", 1)
		f.MS = row.floatCell("ms", 20)
		f.Params = row.paramsCell("params")
		if path := row.paramsCell("path"); len(path) > 0 {
			f.Path = &Path{
				Variable: path.String("variable", ""),
				Start:    path.Float("start", 0),
				Step:     path.Float("step", 0),
				Scale:    path.Float("scale", 1),
				Extremes: path.Bool("extremes", false),
			}
		}
		if row.err != nil {
			return nil, row.err
		}
		if f.Label == "" {
			f.Label = f.ID
		}
		families = append(families, f)
	}
	return families, nil
}

// mapRow reads typed cells, keeping the first error.
type mapRow struct {
	rec  []string
	col  map[string]int
	line int
	err  error
}

func (r *mapRow) cell(name string) string {
	i, ok := r.col[name]
	if !ok || i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r *mapRow) fail(name string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: map line %d, column %s: %v", election.ErrBadInput, r.line, name, err)
	}
}

func (r *mapRow) intCell(name string, def int) int {
	s := r.cell(name)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		r.fail(name, err)
	}
	return v
}

func (r *mapRow) floatCell(name string, def float64) float64 {
	s := r.cell(name)
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.fail(name, err)
	}
	return v
}

func (r *mapRow) paramsCell(name string) election.Params {
	s := r.cell(name)
	if s == "" || s == "None" {
		return election.Params{}
	}
	p, err := electionio.ParseParams(s)
	if err != nil {
		r.fail(name, err)
		return election.Params{}
	}
	return p
}

// AddFamilies samples every family of the manifest in order.
func (x *Experiment) AddFamilies(ctx context.Context, m *Manifest) error {
	kind, err := m.ElectionKind(x.opts.Kind)
	if err != nil {
		return err
	}
	for _, f := range m.Families {
		f.Kind = kind
		if _, err := x.AddFamily(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// WriteMapCSV writes families in the map.csv layout.
func WriteMapCSV(path string, families []*Family) error {
	rows := make([][]string, 0, len(families))
	for _, f := range families {
		pathCell := ""
		if f.Path != nil {
			pathCell = electionio.FormatParams(election.Params{
				"variable": f.Path.Variable,
				"start":    f.Path.Start,
				"step":     f.Path.Step,
				"scale":    f.Path.Scale,
				"extremes": f.Path.Extremes,
			})
		}
		rows = append(rows, []string{
			strconv.Itoa(f.Size),
			strconv.Itoa(f.NumCandidates),
			strconv.Itoa(f.NumVoters),
			f.CultureID,
			electionio.FormatParams(f.Params),
			f.ID,
			f.Label,
			f.Color,
			formatFloat(f.Alpha),
			f.Marker,
			formatFloat(f.MS),
			pathCell,
		})
	}
	return writeTable(path, MapColumns, rows)
}
