package election

// VoteMetric is a named distance between two ballots given as pote rows.
type VoteMetric struct {
	Name string
	Fn   func(p1, p2 []int) float64
}

var (
	// SwapMetric counts candidate pairs ordered differently by the two ballots.
	SwapMetric = VoteMetric{Name: "swap", Fn: func(p1, p2 []int) float64 { return float64(SwapDistance(p1, p2)) }}
	// SpearmanMetric sums absolute positional differences.
	SpearmanMetric = VoteMetric{Name: "spearman", Fn: func(p1, p2 []int) float64 { return float64(SpearmanDistance(p1, p2)) }}
)

// MetricByName resolves "swap" or "spearman"; ok is false otherwise.
func MetricByName(name string) (VoteMetric, bool) {
	switch name {
	case "swap", "":
		return SwapMetric, true
	case "spearman":
		return SpearmanMetric, true
	}
	return VoteMetric{}, false
}

// SwapDistance is the Kendall tau distance between two pote rows. Unranked
// candidates sit tied below every ranked one; tied pairs never count.
func SwapDistance(p1, p2 []int) int {
	m := len(p1)
	d := 0
	for a := 0; a < m; a++ {
		a1, a2 := rankOf(p1[a], m), rankOf(p2[a], m)
		for b := a + 1; b < m; b++ {
			x := a1 - rankOf(p1[b], m)
			y := a2 - rankOf(p2[b], m)
			if (x < 0 && y > 0) || (x > 0 && y < 0) {
				d++
			}
		}
	}
	return d
}

// SpearmanDistance is the footrule distance between two pote rows.
func SpearmanDistance(p1, p2 []int) int {
	m := len(p1)
	d := 0
	for c := 0; c < m; c++ {
		x := rankOf(p1[c], m) - rankOf(p2[c], m)
		if x < 0 {
			x = -x
		}
		d += x
	}
	return d
}

// PotesOf inverts a single ranking.
func PotesOf(vote []int) []int {
	p := make([]int, len(vote))
	for c := range p {
		p[c] = Unranked
	}
	for k, c := range vote {
		if c != Unranked {
			p[c] = k
		}
	}
	return p
}

func rankOf(pos, m int) int {
	if pos == Unranked {
		return m
	}
	return pos
}
