// Package electionio reads and writes elections in the PrefLib-style text
// format: a "# KEY: value" header followed by vote lines. Ordinal elections
// use ".soc" ("count: c1,c2,..."), approval elections ".app"
// ("count: {c1, c2}") and pseudo-elections store their frequency matrix as
// m lines of m floats.
package electionio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gilchrisn/election-map/pkg/election"
)

// ErrMalformed marks files that do not follow the format.
var ErrMalformed = errors.New("malformed election file")

// Header keys.
const (
	KeyFileName     = "FILE NAME"
	KeyDataType     = "DATA TYPE"
	KeyCultureID    = "CULTURE ID"
	KeyParams       = "PARAMS"
	KeyAlternatives = "NUMBER ALTERNATIVES"
	KeyVoters       = "NUMBER VOTERS"
)

// Options control both directions.
type Options struct {
	// Aggregated writes one line per distinct ballot with its multiplicity.
	Aggregated bool
	// Shifted stores candidates 1-indexed.
	Shifted bool
	// ID overrides the election id on import (default: file base name).
	ID string
}

// Header is the parsed comment block.
type Header struct {
	FileName      string
	DataType      string
	CultureID     string
	Params        election.Params
	NumCandidates int
	NumVoters     int
	// Extra keeps unrecognised keys.
	Extra map[string]string
}

// Export writes e to path, creating parent directories.
func Export(path string, e election.Election, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := Write(f, filepath.Base(path), e, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Import reads the election stored at path.
func Import(path string, opts Options) (election.Election, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	if opts.ID == "" {
		base := filepath.Base(path)
		opts.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return Read(f, opts)
}

// Write serialises e under the given file name.
func Write(w io.Writer, fileName string, e election.Election, opts Options) error {
	bw := bufio.NewWriter(w)
	switch x := e.(type) {
	case *election.OrdinalElection:
		if x.IsPseudo() {
			writeHeader(bw, fileName, "soc", x)
			writePseudo(bw, x)
		} else {
			dataType := "soc"
			if x.IsTruncated() {
				dataType = "soi"
			}
			writeHeader(bw, fileName, dataType, x)
			writeVotes(bw, x.Votes(), opts, formatRanking)
		}
	case *election.ApprovalElection:
		writeHeader(bw, fileName, "app", x)
		writeVotes(bw, x.Votes(), opts, formatApproval)
	default:
		return fmt.Errorf("%w: cannot export election type %T", election.ErrBadInput, e)
	}
	return bw.Flush()
}

func writeHeader(w *bufio.Writer, fileName, dataType string, e election.Election) {
	fmt.Fprintf(w, "# %s: %s\n", KeyFileName, fileName)
	fmt.Fprintf(w, "# %s: %s\n", KeyDataType, dataType)
	fmt.Fprintf(w, "# %s: %s\n", KeyCultureID, e.CultureID())
	fmt.Fprintf(w, "# %s: %s\n", KeyParams, FormatParams(e.Params()))
	fmt.Fprintf(w, "# %s: %d\n", KeyAlternatives, e.NumCandidates())
	fmt.Fprintf(w, "# %s: %d\n", KeyVoters, e.NumVoters())
}

func writeVotes(w *bufio.Writer, votes [][]int, opts Options, format func([]int, int) string) {
	shift := 0
	if opts.Shifted {
		shift = 1
	}
	if !opts.Aggregated {
		for _, vote := range votes {
			fmt.Fprintf(w, "1: %s\n", format(vote, shift))
		}
		return
	}
	ballots, counts := sortedCounts(countBallots(votes))
	for i, vote := range ballots {
		fmt.Fprintf(w, "%d: %s\n", counts[i], format(vote, shift))
	}
}

func countBallots(votes [][]int) ([][]int, []int) {
	index := make(map[string]int)
	var ballots [][]int
	var counts []int
	for _, vote := range votes {
		key := fmt.Sprint(vote)
		if i, ok := index[key]; ok {
			counts[i]++
			continue
		}
		index[key] = len(ballots)
		ballots = append(ballots, vote)
		counts = append(counts, 1)
	}
	return ballots, counts
}

// sortedCounts orders distinct ballots by decreasing multiplicity, ties by
// first appearance.
func sortedCounts(ballots [][]int, counts []int) ([][]int, []int) {
	idx := make([]int, len(ballots))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return counts[idx[a]] > counts[idx[b]] })
	outB := make([][]int, len(idx))
	outC := make([]int, len(idx))
	for i, j := range idx {
		outB[i], outC[i] = ballots[j], counts[j]
	}
	return outB, outC
}

// formatRanking lists ranked candidates only; unranked tails are dropped.
func formatRanking(vote []int, shift int) string {
	items := make([]string, 0, len(vote))
	for _, c := range vote {
		if c != election.Unranked {
			items = append(items, strconv.Itoa(c+shift))
		}
	}
	return strings.Join(items, ",")
}

func formatApproval(vote []int, shift int) string {
	items := make([]string, len(vote))
	for i, c := range vote {
		items[i] = strconv.Itoa(c + shift)
	}
	return "{" + strings.Join(items, ", ") + "}"
}

func writePseudo(w *bufio.Writer, e *election.OrdinalElection) {
	for _, row := range e.FrequencyMatrix() {
		items := make([]string, len(row))
		for i, x := range row {
			items[i] = strconv.FormatFloat(x, 'g', -1, 64)
		}
		fmt.Fprintln(w, strings.Join(items, ","))
	}
}

// Read parses one election. Approval files are recognised by their data
// type or by set-literal vote lines; pseudo-elections by vote lines without
// a multiplicity.
func Read(r io.Reader, opts Options) (election.Election, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	h := Header{Params: election.Params{}, Extra: make(map[string]string), NumCandidates: -1, NumVoters: -1}
	var body []string
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "#") {
			if len(body) > 0 {
				return nil, fmt.Errorf("%w: line %d: header line after votes", ErrMalformed, line)
			}
			if err := h.set(strings.TrimSpace(strings.TrimPrefix(text, "#"))); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			continue
		}
		body = append(body, text)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read election: %w", err)
	}
	if h.NumCandidates < 1 {
		return nil, fmt.Errorf("%w: missing or invalid %q", ErrMalformed, KeyAlternatives)
	}
	if h.NumVoters < 0 {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformed, KeyVoters)
	}
	id := opts.ID
	if id == "" {
		id = strings.TrimSuffix(h.FileName, filepath.Ext(h.FileName))
	}
	shift := 0
	if opts.Shifted {
		shift = 1
	}

	switch {
	case h.DataType == "app" || (len(body) > 0 && strings.Contains(body[0], "{")):
		votes, err := readVotes(body, h.NumVoters, func(s string) ([]int, error) {
			return parseApproval(s, shift)
		})
		if err != nil {
			return nil, err
		}
		return election.NewApprovalElection(id, h.CultureID, h.Params, h.NumCandidates, votes)
	case len(body) > 0 && !strings.Contains(body[0], ":"):
		freq, err := parseMatrix(body, h.NumCandidates)
		if err != nil {
			return nil, err
		}
		return election.NewPseudoOrdinal(id, h.CultureID, h.Params, h.NumVoters, freq)
	default:
		if h.DataType == "toc" || h.DataType == "toi" {
			return nil, fmt.Errorf("%w: data type %s (ties) is not supported", ErrMalformed, h.DataType)
		}
		m := h.NumCandidates
		votes, err := readVotes(body, h.NumVoters, func(s string) ([]int, error) {
			return parseRanking(s, m, shift)
		})
		if err != nil {
			return nil, err
		}
		return election.NewOrdinalElection(id, h.CultureID, h.Params, m, votes)
	}
}

func (h *Header) set(entry string) error {
	key, value, ok := strings.Cut(entry, ":")
	if !ok {
		return nil // free comment
	}
	key, value = strings.TrimSpace(key), strings.TrimSpace(value)
	var err error
	switch key {
	case KeyFileName:
		h.FileName = value
	case KeyDataType:
		h.DataType = value
	case KeyCultureID:
		h.CultureID = value
	case KeyParams:
		h.Params, err = ParseParams(value)
	case KeyAlternatives:
		h.NumCandidates, err = strconv.Atoi(value)
	case KeyVoters:
		h.NumVoters, err = strconv.Atoi(value)
	default:
		h.Extra[key] = value
	}
	if err != nil && !errors.Is(err, ErrMalformed) {
		err = fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}
	return err
}

// readVotes expands "count: ballot" lines and checks the voter total.
func readVotes(body []string, numVoters int, parse func(string) ([]int, error)) ([][]int, error) {
	votes := make([][]int, 0, numVoters)
	for i, text := range body {
		countText, ballotText, ok := strings.Cut(text, ":")
		if !ok {
			return nil, fmt.Errorf("%w: vote line %d has no multiplicity", ErrMalformed, i+1)
		}
		count, err := strconv.Atoi(strings.TrimSpace(countText))
		if err != nil || count < 0 {
			return nil, fmt.Errorf("%w: vote line %d: bad multiplicity %q", ErrMalformed, i+1, countText)
		}
		ballot, err := parse(strings.TrimSpace(ballotText))
		if err != nil {
			return nil, fmt.Errorf("vote line %d: %w", i+1, err)
		}
		for j := 0; j < count; j++ {
			votes = append(votes, append([]int(nil), ballot...))
		}
	}
	if len(votes) != numVoters {
		return nil, fmt.Errorf("%w: header declares %d voters, body has %d", ErrMalformed, numVoters, len(votes))
	}
	return votes, nil
}

func parseCandidates(s string, shift int) ([]int, error) {
	var out []int
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		c, err := strconv.Atoi(item)
		if err != nil {
			return nil, fmt.Errorf("%w: bad candidate %q", ErrMalformed, item)
		}
		out = append(out, c-shift)
	}
	return out, nil
}

// parseRanking pads truncated rankings with Unranked up to m positions.
func parseRanking(s string, m, shift int) ([]int, error) {
	if strings.ContainsAny(s, "{}") {
		return nil, fmt.Errorf("%w: tied positions are not supported", ErrMalformed)
	}
	ranked, err := parseCandidates(s, shift)
	if err != nil {
		return nil, err
	}
	if len(ranked) > m {
		return nil, fmt.Errorf("%w: ranking has %d entries for %d candidates", ErrMalformed, len(ranked), m)
	}
	vote := make([]int, m)
	copy(vote, ranked)
	for k := len(ranked); k < m; k++ {
		vote[k] = election.Unranked
	}
	return vote, nil
}

func parseApproval(s string, shift int) ([]int, error) {
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return nil, fmt.Errorf("%w: approval ballot %q is not a set literal", ErrMalformed, s)
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" || inner == "set()" {
		return []int{}, nil
	}
	return parseCandidates(inner, shift)
}

func parseMatrix(body []string, m int) ([][]float64, error) {
	if len(body) != m {
		return nil, fmt.Errorf("%w: frequency matrix has %d rows, expected %d", ErrMalformed, len(body), m)
	}
	freq := make([][]float64, m)
	for i, text := range body {
		for _, item := range strings.Split(text, ",") {
			x, err := strconv.ParseFloat(strings.TrimSpace(item), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: frequency row %d: bad value %q", ErrMalformed, i, item)
			}
			freq[i] = append(freq[i], x)
		}
	}
	return freq, nil
}
