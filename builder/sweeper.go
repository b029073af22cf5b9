package builder

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leeforge/thumbforge/logging"
	"github.com/leeforge/thumbforge/record"
)

// SweepConfig bounds one pass over the buildable backlog.
type SweepConfig struct {
	// MaxErrors skips records that have already failed more than this
	// many times. Negative disables error retries entirely.
	MaxErrors int
	// StaleAfter reclaims BUILDING records abandoned longer than
	// this. Zero leaves them alone.
	StaleAfter time.Duration
	// Limit caps how many records one sweep attempts; zero means all.
	Limit int
	// Workers is the build parallelism; values below 1 mean serial.
	Workers int
}

// SweepResult tallies one pass.
type SweepResult struct {
	Attempted int
	Built     int
	Failed    int
	Skipped   int
}

type outcome struct {
	built bool
	err   error
}

// Sweeper drains the build backlog: queued records, retryable errors
// and abandoned builds. It is what the queue-processing command and
// any background loop run.
type Sweeper struct {
	store    record.Store
	executor *Executor
	log      logging.Logger
}

func NewSweeper(store record.Store, executor *Executor, log logging.Logger) *Sweeper {
	if log == nil {
		log = logging.Nop()
	}
	return &Sweeper{store: store, executor: executor, log: log.Named("sweeper")}
}

// ProcessQueue runs one sweep. Individual build failures are recorded
// on their records and counted, not returned; only listing errors
// abort the sweep.
func (s *Sweeper) ProcessQueue(ctx context.Context, cfg SweepConfig) (SweepResult, error) {
	recs, err := s.store.ListBuildable(ctx, record.BuildableFilter{
		MaxErrors:  cfg.MaxErrors,
		StaleAfter: cfg.StaleAfter,
		Limit:      cfg.Limit,
	})
	if err != nil {
		return SweepResult{}, err
	}
	if len(recs) == 0 {
		return SweepResult{}, nil
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(recs) {
		workers = len(recs)
	}

	jobs := make(chan *record.Record)
	outcomes := make(chan outcome)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				built, err := s.executor.Build(ctx, rec, cfg.StaleAfter)
				outcomes <- outcome{built: built, err: err}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, rec := range recs {
			select {
			case jobs <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	result := SweepResult{}
	for o := range outcomes {
		result.Attempted++
		switch {
		case o.err != nil:
			result.Failed++
		case o.built:
			result.Built++
		default:
			result.Skipped++
		}
	}
	s.log.Info("sweep finished",
		zap.Int("attempted", result.Attempted),
		zap.Int("built", result.Built),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped))
	return result, ctx.Err()
}
