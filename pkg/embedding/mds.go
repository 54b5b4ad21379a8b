// Package embedding places elections in the plane from a distance table.
// The map treats the embedder as opaque; classical MDS is the built-in one.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/mds"
)

// ErrEmptyTable is returned when there is nothing to embed.
var ErrEmptyTable = errors.New("empty distance table")

// Table maps election id pairs to distances. Entries may be missing in
// either direction; absent or NaN entries are treated as unknown.
type Table map[string]map[string]float64

// Lookup returns the distance between a and b in either direction.
func (t Table) Lookup(a, b string) (float64, bool) {
	if a == b {
		return 0, true
	}
	if d, ok := t[a][b]; ok && !math.IsNaN(d) {
		return d, true
	}
	if d, ok := t[b][a]; ok && !math.IsNaN(d) {
		return d, true
	}
	return 0, false
}

// IDs returns every id mentioned in the table, sorted.
func (t Table) IDs() []string {
	seen := make(map[string]bool)
	for a, row := range t {
		seen[a] = true
		for b := range row {
			seen[b] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Point is a position in the embedding space.
type Point []float64

// Result holds the embedding and the per-axis bounds used for
// normalisation.
type Result struct {
	Coordinates map[string]Point
	Min, Max    []float64
	// Eigenvalues of the double-centred matrix, largest first.
	Eigenvalues []float64
}

// Embedder turns a distance table into coordinates of dimension dim.
type Embedder interface {
	Embed(ctx context.Context, table Table, dim int) (*Result, error)
}

// MDS embeds with classical multidimensional scaling (Torgerson scaling).
type MDS struct {
	missingDistance float64
	logger          zerolog.Logger
}

// NewMDS creates an MDS embedder. Unknown distances default to the largest
// known one.
func NewMDS(logger zerolog.Logger) *MDS {
	return &MDS{logger: logger}
}

// WithMissingDistance sets the distance used for unknown pairs.
func (m *MDS) WithMissingDistance(d float64) *MDS {
	m.missingDistance = d
	return m
}

// Embed computes coordinates for every id of the table, in sorted id order.
func (m *MDS) Embed(ctx context.Context, table Table, dim int) (*Result, error) {
	if dim < 1 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	ids := table.IDs()
	if len(ids) == 0 {
		return nil, ErrEmptyTable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dis, missing := m.dissimilarities(table, ids)
	if missing > 0 {
		m.logger.Warn().Int("missing_pairs", missing).Msg("Filling unknown distances before MDS")
	}

	coords, eig, err := m.torgerson(dis, dim)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Coordinates: make(map[string]Point, len(ids)),
		Min:         make([]float64, dim),
		Max:         make([]float64, dim),
		Eigenvalues: eig,
	}
	for i, id := range ids {
		p := make(Point, dim)
		mat.Row(p, i, coords)
		result.Coordinates[id] = p
	}
	for d := 0; d < dim; d++ {
		col := mat.Col(nil, d, coords)
		result.Min[d], result.Max[d] = floats.Min(col), floats.Max(col)
	}

	m.logger.Debug().Int("points", len(ids)).Int("dim", dim).Msg("MDS embedding computed")
	return result, nil
}

// dissimilarities builds the symmetric matrix, filling unknown entries.
func (m *MDS) dissimilarities(table Table, ids []string) (*mat.SymDense, int) {
	n := len(ids)
	dis := mat.NewSymDense(n, nil)
	known := make([][]bool, n)
	largest := 0.0
	for i := range ids {
		known[i] = make([]bool, n)
		for j := i; j < n; j++ {
			if d, ok := table.Lookup(ids[i], ids[j]); ok {
				dis.SetSym(i, j, d)
				known[i][j] = true
				largest = math.Max(largest, d)
			}
		}
	}
	fill := m.missingDistance
	if fill <= 0 {
		fill = largest
	}
	missing := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if !known[i][j] {
				dis.SetSym(i, j, fill)
				missing++
			}
		}
	}
	return dis, missing
}

// torgerson runs the scaling and keeps the first dim axes, padding with
// zeros when fewer eigenvalues are positive.
func (m *MDS) torgerson(dis *mat.SymDense, dim int) (*mat.Dense, []float64, error) {
	n := dis.SymmetricDim()
	if n == 1 {
		return mat.NewDense(1, dim, nil), []float64{0}, nil
	}

	var full mat.Dense
	eig := make([]float64, n)
	k, _ := mds.TorgersonScaling(&full, eig, dis)
	if full.IsEmpty() {
		return nil, nil, fmt.Errorf("torgerson scaling failed: eigendecomposition did not converge")
	}
	if k == 0 {
		// every point coincides
		return mat.NewDense(n, dim, nil), eig, nil
	}

	coords := mat.NewDense(n, dim, nil)
	_, cols := full.Dims()
	for i := 0; i < n; i++ {
		for j := 0; j < dim && j < cols; j++ {
			coords.Set(i, j, full.At(i, j))
		}
	}
	return coords, eig, nil
}

// Normalized returns the coordinates of id scaled to [0,1] per axis. Flat
// axes and unknown ids map to 0.5.
func (r *Result) Normalized(id string) Point {
	out := make(Point, len(r.Min))
	p, ok := r.Coordinates[id]
	for d := range out {
		out[d] = 0.5
		if ok && r.Max[d] != r.Min[d] {
			out[d] = (p[d] - r.Min[d]) / (r.Max[d] - r.Min[d])
		}
	}
	return out
}

// Scaled maps the normalised coordinates of id onto [lo, hi].
func (r *Result) Scaled(id string, lo, hi float64) Point {
	p := r.Normalized(id)
	for d := range p {
		p[d] = lo + p[d]*(hi-lo)
	}
	return p
}

// Distance is the Euclidean distance between two embedded ids.
func (r *Result) Distance(a, b string) (float64, bool) {
	pa, ok := r.Coordinates[a]
	if !ok {
		return 0, false
	}
	pb, ok := r.Coordinates[b]
	if !ok {
		return 0, false
	}
	return floats.Distance(pa, pb, 2), true
}
