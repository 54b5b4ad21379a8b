package experiment

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/gilchrisn/election-map/pkg/embedding"
)

// Delimiter separates columns of every exported table.
const Delimiter = ';'

func (x *Experiment) exportPath(kind, id string) string {
	return filepath.Join(x.dir(kind), id+".csv")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// writeTable creates path and writes the header and rows.
func writeTable(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	w.Comma = Delimiter
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// ExportDistances writes v1;v2;distance with both orientations of every
// known pair.
func ExportDistances(path string, t *DistanceTable) error {
	ids := t.Values.IDs()
	var rows [][]string
	for _, a := range ids {
		for _, b := range ids {
			if a == b {
				continue
			}
			d, ok := t.Get(a, b)
			if !ok {
				continue
			}
			rows = append(rows, []string{a, b, formatFloat(d)})
		}
	}
	return writeTable(path, []string{"v1", "v2", "distance"}, rows)
}

// ExportCoordinates writes vote_id;x;y (further axes follow as z2, z3...).
func ExportCoordinates(path string, res *embedding.Result) error {
	header := []string{"vote_id", "x", "y"}
	for d := 2; d < len(res.Min); d++ {
		header = append(header, fmt.Sprintf("z%d", d))
	}
	ids := make([]string, 0, len(res.Coordinates))
	for id := range res.Coordinates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		row := []string{id}
		for _, v := range res.Coordinates[id] {
			row = append(row, formatFloat(v))
		}
		for len(row) < len(header) {
			row = append(row, "0")
		}
		rows = append(rows, row)
	}
	return writeTable(path, header, rows)
}

// ExportFeature writes election_id;value;time;status. Missing values are
// written as "None".
func ExportFeature(path string, t *FeatureTable) error {
	ids := make([]string, 0, len(t.Results))
	for id := range t.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		res := t.Results[id]
		value := "None"
		if res.Value != nil {
			value = formatFloat(*res.Value)
		}
		rows = append(rows, []string{id, value, formatFloat(res.Time.Seconds()), string(res.Status)})
	}
	return writeTable(path, []string{"election_id", "value", "time", "status"}, rows)
}
