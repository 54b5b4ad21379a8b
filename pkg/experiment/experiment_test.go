package experiment

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilchrisn/election-map/pkg/config"
	"github.com/gilchrisn/election-map/pkg/cultures"
	"github.com/gilchrisn/election-map/pkg/election"
	"github.com/gilchrisn/election-map/pkg/embedding"
	"github.com/gilchrisn/election-map/pkg/features"
)

func newExperiment(t *testing.T, workers int) *Experiment {
	t.Helper()
	opts := DefaultOptions()
	opts.OutputDir = t.TempDir()
	opts.NumWorkers = workers
	return New("test", opts)
}

func addOrdinal(t *testing.T, x *Experiment, id string, votes [][]int) {
	t.Helper()
	e, err := election.NewOrdinalElection(id, "test", nil, len(votes[0]), votes)
	require.NoError(t, err)
	require.NoError(t, x.AddElection(e))
}

// addThree adds three pairwise non-isomorphic elections.
func addThree(t *testing.T, x *Experiment) {
	addOrdinal(t, x, "half", [][]int{{0, 1, 2}, {1, 0, 2}})
	addOrdinal(t, x, "id", [][]int{{0, 1, 2}, {0, 1, 2}})
	addOrdinal(t, x, "mix", [][]int{{0, 1, 2}, {2, 1, 0}})
}

func readTable(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r := csv.NewReader(f)
	r.Comma = Delimiter
	rows, err := r.ReadAll()
	require.NoError(t, err)
	return rows
}

func TestPathValue(t *testing.T) {
	tests := []struct {
		name string
		path Path
		j    int
		size int
		want float64
	}{
		{"extremes first", Path{Extremes: true}, 0, 5, 0},
		{"extremes middle", Path{Extremes: true}, 2, 5, 0.5},
		{"extremes last", Path{Extremes: true}, 4, 5, 1},
		{"extremes single", Path{Extremes: true}, 0, 1, 0},
		{"step", Path{Start: 0.1, Step: 0.2}, 2, 5, 0.5},
		{"start only", Path{Start: 0.3}, 2, 5, 0.3},
		{"interior", Path{}, 0, 3, 0.25},
		{"scaled", Path{Scale: 2}, 0, 3, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.path.Value(tt.j, tt.size), 1e-12)
		})
	}
}

func TestAddFamilyIsDeterministic(t *testing.T) {
	fam := Family{ID: "ic", CultureID: "impartial", Size: 4, NumCandidates: 4, NumVoters: 12}

	sample := func(workers int) *Experiment {
		x := newExperiment(t, workers)
		f, err := x.AddFamily(context.Background(), fam)
		require.NoError(t, err)
		assert.Equal(t, []string{"ic_0", "ic_1", "ic_2", "ic_3"}, f.ElectionIDs)
		return x
	}
	a, b := sample(1), sample(4)

	for _, id := range a.ElectionIDs() {
		ea, ok := a.Election(id)
		require.True(t, ok)
		eb, ok := b.Election(id)
		require.True(t, ok)
		assert.Equal(t, ea.(*election.OrdinalElection).Votes(), eb.(*election.OrdinalElection).Votes(), id)
	}

	// Different members draw from different generators.
	e0, _ := a.Election("ic_0")
	e1, _ := a.Election("ic_1")
	assert.NotEqual(t, e0.(*election.OrdinalElection).Votes(), e1.(*election.OrdinalElection).Votes())
}

func TestAddFamilyPathAndSingleton(t *testing.T) {
	x := newExperiment(t, 2)
	ctx := context.Background()

	_, err := x.AddFamily(ctx, Family{
		ID: "mal", CultureID: "mallows", Size: 3, NumCandidates: 4, NumVoters: 5,
		Path: &Path{Variable: "normphi", Extremes: true},
	})
	require.NoError(t, err)
	_, err = x.AddFamily(ctx, Family{ID: "un", CultureID: "impartial", Size: 1, NumCandidates: 4, NumVoters: 5})
	require.NoError(t, err)

	assert.Equal(t, []string{"mal_0", "mal_1", "mal_2", "un"}, x.ElectionIDs())
	last, _ := x.Election("mal_2")
	assert.InDelta(t, 1.0, last.Params().Float("normphi", -1), 1e-12)
	first, _ := x.Election("mal_0")
	assert.InDelta(t, 0.0, first.Params().Float("normphi", -1), 1e-12)

	fams := x.Families()
	require.Len(t, fams, 2)
	assert.Equal(t, "mal", fams[0].ID)
	assert.Equal(t, "un", fams[1].ID)
}

func TestAddFamilyErrors(t *testing.T) {
	x := newExperiment(t, 1)
	ctx := context.Background()

	_, err := x.AddFamily(ctx, Family{ID: "f", CultureID: "impartial", Size: 0, NumCandidates: 3})
	assert.ErrorIs(t, err, election.ErrBadInput)
	_, err = x.AddFamily(ctx, Family{ID: "f", CultureID: "no_such_culture", Size: 1, NumCandidates: 3, NumVoters: 2})
	assert.ErrorIs(t, err, cultures.ErrUnknownCulture)

	_, err = x.AddFamily(ctx, Family{ID: "f", CultureID: "impartial", Size: 1, NumCandidates: 3, NumVoters: 2})
	require.NoError(t, err)
	_, err = x.AddFamily(ctx, Family{ID: "f", CultureID: "impartial", Size: 1, NumCandidates: 3, NumVoters: 2})
	assert.ErrorIs(t, err, election.ErrBadInput)

	e, err := election.NewOrdinalElection("f", "test", nil, 2, [][]int{{0, 1}})
	require.NoError(t, err)
	assert.ErrorIs(t, x.AddElection(e), election.ErrBadInput)
}

func TestComputeDistances(t *testing.T) {
	x := newExperiment(t, 3)
	x.opts.Export = true
	addThree(t, x)

	table, err := x.ComputeDistances(context.Background(), "positionwise")
	require.NoError(t, err)
	assert.Equal(t, 3, table.Summary.Total)
	assert.Equal(t, 3, table.Summary.OK)
	assert.Zero(t, table.Summary.Missing)
	assert.Zero(t, table.Summary.Failed)

	ids := x.ElectionIDs()
	for _, a := range ids {
		d, ok := table.Get(a, a)
		require.True(t, ok)
		assert.Zero(t, d)
		for _, b := range ids {
			dab, ok1 := table.Get(a, b)
			dba, ok2 := table.Get(b, a)
			require.True(t, ok1 && ok2)
			assert.Equal(t, dab, dba)
		}
	}
	d, _ := table.Get("id", "mix")
	assert.Greater(t, d, 0.0)
	assert.Same(t, table, x.Distances["positionwise"])

	rows := readTable(t, filepath.Join(x.opts.OutputDir, "test", "distances", "positionwise.csv"))
	assert.Equal(t, []string{"v1", "v2", "distance"}, rows[0])
	assert.Len(t, rows, 1+6)
}

func TestComputeDistancesUnknownAndMissing(t *testing.T) {
	x := newExperiment(t, 2)
	addOrdinal(t, x, "a", [][]int{{0, 1, 2}, {1, 0, 2}})
	addOrdinal(t, x, "b", [][]int{{2, 1, 0}, {0, 2, 1}})
	p, err := election.NewPseudoOrdinal("p", "pseudo_identity", nil, 2, [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}})
	require.NoError(t, err)
	require.NoError(t, x.AddElection(p))

	table, err := x.ComputeDistances(context.Background(), "no_such_distance")
	require.NoError(t, err)
	assert.True(t, table.Summary.Unknown)
	_, ok := table.Get("a", "b")
	assert.False(t, ok)

	table, err = x.ComputeDistances(context.Background(), "swap")
	require.NoError(t, err)
	assert.Equal(t, 3, table.Summary.Total)
	assert.Equal(t, 1, table.Summary.OK)
	assert.Equal(t, 2, table.Summary.Missing)
	_, ok = table.Get("a", "p")
	assert.False(t, ok)
	_, ok = table.Get("a", "b")
	assert.True(t, ok)
}

func TestComputeDistancesTimeLimit(t *testing.T) {
	x := newExperiment(t, 2)
	x.opts.Distances.TimeLimit = time.Nanosecond
	addThree(t, x)

	table, err := x.ComputeDistances(context.Background(), "spearman_bb")
	require.NoError(t, err)
	assert.Equal(t, 3, table.Summary.Total)
	assert.Equal(t, 3, table.Summary.Missing)
	assert.Zero(t, table.Summary.OK)
	_, ok := table.Get("half", "mix")
	assert.False(t, ok)
}

func TestProgressLogging(t *testing.T) {
	var buf bytes.Buffer
	opts := DefaultOptions()
	opts.OutputDir = t.TempDir()
	opts.Logger = zerolog.New(&buf)
	opts.ProgressInterval = time.Hour
	x := New("test", opts)
	addThree(t, x)

	_, err := x.ComputeDistances(context.Background(), "positionwise")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(buf.String(), `"message":"Progress"`), "only the final step logs within the interval")

	buf.Reset()
	x.opts.EnableProgress = false
	_, err = x.ComputeDistances(context.Background(), "positionwise")
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), `"message":"Progress"`)
}

func TestComputeDistancesCancelled(t *testing.T) {
	x := newExperiment(t, 1)
	addThree(t, x)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := x.ComputeDistances(ctx, "positionwise")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestComputeFeature(t *testing.T) {
	x := newExperiment(t, 2)
	x.opts.Export = true
	addThree(t, x)
	p, err := election.NewPseudoOrdinal("p", "pseudo_identity", nil, 2, [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}})
	require.NoError(t, err)
	require.NoError(t, x.AddElection(p))
	a, err := election.NewApprovalElection("app", "test", nil, 3, [][]int{{0}, {1}})
	require.NoError(t, err)
	require.NoError(t, x.AddElection(a))

	table, err := x.ComputeFeature(context.Background(), "max_vote_dist", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, table.Summary.Total, "approval elections are skipped")
	assert.Equal(t, 3, table.Summary.OK)
	assert.Equal(t, 1, table.Summary.Missing)
	assert.NotContains(t, table.Results, "app")

	assert.Equal(t, 0.0, *table.Results["id"].Value)
	assert.Equal(t, 1.0, *table.Results["half"].Value)
	assert.Equal(t, 3.0, *table.Results["mix"].Value)
	assert.Equal(t, features.StatusNotApplicable, table.Results["p"].Status)

	rows := readTable(t, filepath.Join(x.opts.OutputDir, "test", "features", "max_vote_dist.csv"))
	assert.Equal(t, []string{"election_id", "value", "time", "status"}, rows[0])
	require.Len(t, rows, 5)
	assert.Equal(t, "p", rows[4][0])
	assert.Equal(t, "None", rows[4][1])
	assert.Equal(t, "not_applicable", rows[4][3])

	unknown, err := x.ComputeFeature(context.Background(), "no_such_feature", nil)
	require.NoError(t, err)
	assert.True(t, unknown.Summary.Unknown)
	assert.Empty(t, unknown.Results)
}

func TestComputeRule(t *testing.T) {
	x := newExperiment(t, 2)
	votes := [][]int{{0, 1}, {0, 1}, {0}, {2}}
	a, err := election.NewApprovalElection("a", "test", nil, 3, votes)
	require.NoError(t, err)
	require.NoError(t, x.AddElection(a))
	addOrdinal(t, x, "o", [][]int{{0, 1, 2}})

	committees, sum, err := x.ComputeRule(context.Background(), "av", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 1, sum.OK)
	assert.ElementsMatch(t, []int{0, 1}, committees["a"])

	cached, ok := a.WinningCommittee("av")
	require.True(t, ok)
	assert.ElementsMatch(t, []int{0, 1}, cached)
}

func TestEmbedAndDistortion(t *testing.T) {
	x := newExperiment(t, 1)
	x.opts.Export = true
	addThree(t, x)
	ctx := context.Background()
	mds := embedding.NewMDS(zerolog.Nop())

	_, err := x.Embed(ctx, mds, "", 2)
	assert.Error(t, err, "no distances computed yet")
	_, err = x.ComputeDistortion("")
	assert.Error(t, err)

	_, err = x.ComputeDistances(ctx, "positionwise")
	require.NoError(t, err)
	_, err = x.ComputeDistortion("positionwise")
	assert.Error(t, err, "no embedding yet")

	res, err := x.Embed(ctx, mds, "", 2)
	require.NoError(t, err)
	assert.Len(t, res.Coordinates, 3)
	assert.Same(t, res, x.Coordinates)

	rows := readTable(t, filepath.Join(x.opts.OutputDir, "test", "coordinates", "positionwise.csv"))
	assert.Equal(t, []string{"vote_id", "x", "y"}, rows[0])
	assert.Len(t, rows, 4)

	table, err := x.ComputeFeature(ctx, DistortionFeature, election.Params{"distance": "positionwise"})
	require.NoError(t, err)
	assert.Equal(t, 3, table.Summary.OK)
	for id, r := range table.Results {
		require.NotNil(t, r.Value, id)
		assert.GreaterOrEqual(t, *r.Value, 1.0-1e-9, id)
	}
}

const mapCSV = `size;num_candidates;num_voters;culture_id;params;family_id;label;color;alpha;marker;ms;path
3;4;6;mallows;{'normphi': 0.5};mal;Mallows;blue;0.8;o;15;{'variable': 'normphi', 'extremes': True}
1;4;6;impartial;{};ic;;red;1;x;20;
`

func TestReadMapCSV(t *testing.T) {
	fams, err := ReadMapCSV(strings.NewReader(mapCSV))
	require.NoError(t, err)
	require.Len(t, fams, 2)

	mal := fams[0]
	assert.Equal(t, "mal", mal.ID)
	assert.Equal(t, "mallows", mal.CultureID)
	assert.Equal(t, 3, mal.Size)
	assert.Equal(t, 4, mal.NumCandidates)
	assert.Equal(t, 6, mal.NumVoters)
	assert.InDelta(t, 0.5, mal.Params.Float("normphi", 0), 1e-12)
	assert.Equal(t, "Mallows", mal.Label)
	assert.InDelta(t, 0.8, mal.Alpha, 1e-12)
	require.NotNil(t, mal.Path)
	assert.Equal(t, "normphi", mal.Path.Variable)
	assert.True(t, mal.Path.Extremes)

	ic := fams[1]
	assert.Equal(t, "ic", ic.Label, "label defaults to the family id")
	assert.Nil(t, ic.Path)
	assert.Empty(t, ic.Params)

	_, err = ReadMapCSV(strings.NewReader("size;culture_id\n1;impartial\n"))
	assert.ErrorIs(t, err, election.ErrBadInput)
	_, err = ReadMapCSV(strings.NewReader(strings.Replace(mapCSV, "3;4;6", "x;4;6", 1)))
	assert.ErrorIs(t, err, election.ErrBadInput)
}

func TestMapCSVRoundTrip(t *testing.T) {
	x := newExperiment(t, 2)
	fams, err := ReadMapCSV(strings.NewReader(mapCSV))
	require.NoError(t, err)
	require.NoError(t, x.AddFamilies(context.Background(), &Manifest{Families: fams}))
	assert.Equal(t, []string{"ic", "mal_0", "mal_1", "mal_2"}, x.ElectionIDs())

	path := filepath.Join(t.TempDir(), "map.csv")
	require.NoError(t, WriteMapCSV(path, x.Families()))
	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, m.Families, 2)
	assert.Equal(t, "mal", m.Families[0].ID)
	require.NotNil(t, m.Families[0].Path)
	assert.True(t, m.Families[0].Path.Extremes)
	assert.Equal(t, "blue", m.Families[0].Color)
}

func TestLoadManifestYAML(t *testing.T) {
	content := `kind: approval
families:
  - family_id: res
    culture_id: resampling
    size: 2
    num_candidates: 6
    num_voters: 10
    params: {p: 0.3, phi: 0.5}
distances: [l1-approvalwise]
rules:
  - {rule: av, k: 2}
features:
  - id: abstract
dim: 2
`
	path := filepath.Join(t.TempDir(), "map.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	kind, err := m.ElectionKind(election.Ordinal)
	require.NoError(t, err)
	assert.Equal(t, election.Approval, kind)
	require.Len(t, m.Families, 1)
	assert.InDelta(t, 0.3, m.Families[0].Params.Float("p", 0), 1e-12)
	assert.Equal(t, []string{"l1-approvalwise"}, m.Distances)
	assert.Equal(t, []RuleSpec{{Rule: "av", K: 2}}, m.Rules)
	assert.Equal(t, "abstract", m.Features[0].ID)
	assert.Equal(t, 2, m.Dim)

	x := newExperiment(t, 2)
	require.NoError(t, x.AddFamilies(context.Background(), m))
	e, ok := x.Election("res_1")
	require.True(t, ok)
	assert.Equal(t, election.Approval, e.Kind())

	bad := &Manifest{Kind: "cardinal"}
	_, err = bad.ElectionKind(election.Ordinal)
	assert.ErrorIs(t, err, election.ErrBadInput)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Set("experiment.kind", "approval")
	cfg.Set("performance.num_workers", 3)

	opts, err := OptionsFromConfig(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, election.Approval, opts.Kind)
	assert.Equal(t, 3, opts.NumWorkers)
	assert.Equal(t, int64(42), opts.Seed)
	require.NotNil(t, opts.Features.Rules)
	assert.True(t, opts.Distances.Solver == opts.Features.Solver)
	assert.Zero(t, opts.Distances.TimeLimit)
	assert.True(t, opts.EnableProgress)
	assert.Equal(t, time.Second, opts.ProgressInterval)

	cfg.Set("distances.time_limit", "2s")
	cfg.Set("logging.progress_interval_ms", 250)
	cfg.Set("logging.enable_progress", false)
	opts, err = OptionsFromConfig(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, opts.Distances.TimeLimit)
	assert.Equal(t, 250*time.Millisecond, opts.ProgressInterval)
	assert.False(t, opts.EnableProgress)

	cfg.Set("distances.bap_method", "nope")
	_, err = OptionsFromConfig(cfg, zerolog.Nop())
	assert.ErrorIs(t, err, election.ErrBadInput)

	cfg.Set("distances.bap_method", "bb")
	cfg.Set("experiment.kind", "cardinal")
	_, err = OptionsFromConfig(cfg, zerolog.Nop())
	assert.ErrorIs(t, err, election.ErrBadInput)
}
