// Package batch runs the curation graph over many (paper, RNA) pairs.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mirna-curator/curator/internal/article"
	"github.com/mirna-curator/curator/internal/curation"
	"github.com/mirna-curator/curator/internal/model"
	"github.com/mirna-curator/curator/internal/sink"
	"golang.org/x/sync/errgroup"
)

// Status of a finished job.
type Status string

const (
	StatusDone    Status = "done"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome is what happened to one job.
type Outcome struct {
	Job
	Status   Status
	Result   *curation.Result
	Err      error
	Duration time.Duration
	// Transcript is the path of the saved conversation, if any.
	Transcript string
}

// Runner wires the graph, model sessions and persistence together. The graph
// is shared; every job gets its own interpreter and session.
type Runner struct {
	Graph       *curation.Graph
	Interpreter curation.Config

	// NewSession returns a fresh conversation for one job.
	NewSession func() model.Session

	// Sink and Transcripts are optional.
	Sink        sink.Sink
	Transcripts *sink.Transcripts

	Workers int
	// Resume skips pairs the sink already holds.
	Resume bool

	// OnDone is called after every job, from the job's goroutine.
	OnDone func(Outcome)
}

// RunOne curates a single job and persists the result. An empty PaperID
// takes the article's own id.
func (r *Runner) RunOne(ctx context.Context, job Job) Outcome {
	start := time.Now()
	out := Outcome{Job: job}

	res, transcript, err := r.runOne(ctx, job)
	out.Duration = time.Since(start)
	out.Result = res
	out.Transcript = transcript
	if res != nil {
		out.PaperID = res.PaperID
	}
	if err != nil {
		out.Status, out.Err = StatusFailed, err
	} else {
		out.Status = StatusDone
	}
	return out
}

func (r *Runner) runOne(ctx context.Context, job Job) (*curation.Result, string, error) {
	art, err := article.Load(job.Article)
	if err != nil {
		return nil, "", err
	}
	if job.PaperID != "" && art.ID != job.PaperID {
		if art.ID != "" {
			slog.Warn("Article id differs from manifest, using manifest", "article", art.ID, "paper", job.PaperID)
		}
		art.ID = job.PaperID
	}

	in := curation.NewInterpreter(r.Graph, r.Interpreter)
	res, err := in.Run(ctx, r.NewSession(), art, job.RNAID)
	if err != nil {
		return nil, "", fmt.Errorf("curating %s/%s: %w", job.PaperID, job.RNAID, err)
	}

	var transcript string
	if r.Transcripts != nil {
		if transcript, err = r.Transcripts.Write(res); err != nil {
			return res, "", err
		}
	}
	if r.Sink != nil {
		if err := r.Sink.Write(ctx, res); err != nil {
			return res, transcript, err
		}
	}
	return res, transcript, nil
}

// Run processes jobs with at most Workers in flight. A failed job is logged
// and skipped; Run itself only fails when ctx is cancelled or the sink can't
// be queried. Outcomes are returned in job order.
func (r *Runner) Run(ctx context.Context, jobs []Job) ([]Outcome, error) {
	outcomes := make([]Outcome, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.Workers, 1))

	var mu sync.Mutex
	done := func(i int, out Outcome) {
		mu.Lock()
		outcomes[i] = out
		mu.Unlock()
		if r.OnDone != nil {
			r.OnDone(out)
		}
	}

	for i, job := range jobs {
		if r.Resume && r.Sink != nil {
			has, err := r.Sink.Has(ctx, job.PaperID, job.RNAID)
			if err != nil {
				return nil, fmt.Errorf("checking results for %s/%s: %w", job.PaperID, job.RNAID, err)
			}
			if has {
				slog.Info("Skipping pair with existing result", "paper", job.PaperID, "rna", job.RNAID)
				done(i, Outcome{Job: job, Status: StatusSkipped})
				continue
			}
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				done(i, Outcome{Job: job, Status: StatusFailed, Err: err})
				return err
			}

			out := r.RunOne(gctx, job)
			if out.Err != nil {
				slog.Error("Curation failed, skipping pair", "paper", job.PaperID, "rna", job.RNAID, "error", out.Err)
			}
			done(i, out)

			// only cancellation stops the batch
			if errors.Is(out.Err, context.Canceled) || errors.Is(out.Err, context.DeadlineExceeded) {
				return out.Err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// Failed counts failed outcomes.
func Failed(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Status == StatusFailed {
			n++
		}
	}
	return n
}
