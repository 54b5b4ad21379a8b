package distances

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// InnerDistance is a named vector metric used inside election distances.
type InnerDistance struct {
	Name string
	Fn   func(x, y []float64) float64
}

var (
	L1   = InnerDistance{Name: "l1", Fn: func(x, y []float64) float64 { return floats.Distance(x, y, 1) }}
	L2   = InnerDistance{Name: "l2", Fn: func(x, y []float64) float64 { return floats.Distance(x, y, 2) }}
	Linf = InnerDistance{Name: "linf", Fn: func(x, y []float64) float64 { return floats.Distance(x, y, math.Inf(1)) }}
	EMD  = InnerDistance{Name: "emd", Fn: EarthMovers}
)

var innerByName = map[string]InnerDistance{
	"l1":      L1,
	"l2":      L2,
	"linf":    Linf,
	"l_infty": Linf,
	"emd":     EMD,
}

// Inner resolves an inner distance by name.
func Inner(name string) (InnerDistance, bool) {
	d, ok := innerByName[name]
	return d, ok
}

// EarthMovers is the 1-D earth mover's distance between two equal-length
// histograms: the sum of absolute prefix-sum differences.
func EarthMovers(x, y []float64) float64 {
	dirt, surplus := 0.0, 0.0
	for i := 0; i+1 < len(x); i++ {
		surplus += x[i] - y[i]
		dirt += math.Abs(surplus)
	}
	return dirt
}
