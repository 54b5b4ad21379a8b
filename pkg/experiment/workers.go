package experiment

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

var (
	// kernelDuration observes one distance or feature kernel call.
	// Labels: kind ("distance", "feature", "rule"), id.
	kernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mapel_kernel_duration_seconds",
		Help:    "Duration of distance, feature and rule kernels",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"kind", "id"})

	// kernelResults counts kernel outcomes.
	// Labels: kind, id, status ("ok", "missing", "failed").
	kernelResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapel_kernel_results_total",
		Help: "Kernel results by outcome",
	}, []string{"kind", "id", "status"})
)

const (
	statusOK      = "ok"
	statusMissing = "missing"
	statusFailed  = "failed"
)

func observe(kind, id, status string, elapsed time.Duration) {
	kernelDuration.WithLabelValues(kind, id).Observe(elapsed.Seconds())
	kernelResults.WithLabelValues(kind, id, status).Inc()
}

// forEach runs fn for tasks 0..n-1 on at most NumWorkers goroutines. The
// first error cancels the remaining tasks and is returned.
func (x *Experiment) forEach(ctx context.Context, n int, fn func(ctx context.Context, task int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.opts.NumWorkers)
	for task := 0; task < n; task++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, task)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// progress logs completed/total at most once per interval when enabled.
type progress struct {
	x        *Experiment
	what     string
	total    int
	interval time.Duration
	last     time.Time
	done     int
}

func (x *Experiment) newProgress(what string, total int) *progress {
	return &progress{x: x, what: what, total: total, interval: x.opts.ProgressInterval, last: time.Now()}
}

// step must be called with x.mu held.
func (p *progress) step() {
	p.done++
	if !p.x.opts.EnableProgress {
		return
	}
	if now := time.Now(); now.Sub(p.last) >= p.interval || p.done == p.total {
		p.last = now
		p.x.logger.Debug().Str("task", p.what).Int("done", p.done).Int("total", p.total).Msg("Progress")
	}
}
