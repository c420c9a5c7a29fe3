package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/trobanga/pacsbatch/internal/dimse"
	"github.com/trobanga/pacsbatch/internal/lib"
	"github.com/trobanga/pacsbatch/internal/metrics"
	"github.com/trobanga/pacsbatch/internal/models"
	"github.com/trobanga/pacsbatch/internal/ui"
)

var errNotEstablished = errors.New("association not established")

// Summary counts what a pool run recorded
type Summary struct {
	Succeeded   int64
	Failed      int64
	Interrupted bool
	Duration    time.Duration
}

// Recorded returns the number of requests with a recorded outcome
func (s Summary) Recorded() int64 {
	return s.Succeeded + s.Failed
}

// Pool sends a work list over a fixed number of sessions, one per worker
type Pool struct {
	provider   dimse.Provider
	peer       dimse.Peer
	classifier *Classifier
	policy     lib.BackoffPolicy
	schedule   *Schedule
	limiter    *rate.Limiter
	progress   *ui.ProgressBar
	metrics    *metrics.Metrics
	logger     *lib.Logger
}

// PoolOption configures optional pool behavior
type PoolOption func(*Pool)

// WithSchedule pauses dispatch outside the schedule window
func WithSchedule(s *Schedule) PoolOption {
	return func(p *Pool) { p.schedule = s }
}

// WithMaxRate caps requests per second across all workers (0 disables the cap)
func WithMaxRate(perSecond float64) PoolOption {
	return func(p *Pool) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithProgress advances bar once per recorded request
func WithProgress(bar *ui.ProgressBar) PoolOption {
	return func(p *Pool) { p.progress = bar }
}

// WithMetrics records reconnects into m
func WithMetrics(m *metrics.Metrics) PoolOption {
	return func(p *Pool) { p.metrics = m }
}

// NewPool creates a pool opening sessions to peer through provider
func NewPool(provider dimse.Provider, peer dimse.Peer, classifier *Classifier, policy lib.BackoffPolicy, logger *lib.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		provider:   provider,
		peer:       peer,
		classifier: classifier,
		policy:     policy,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Partition splits work into n contiguous shards whose sizes differ by at most one.
// The first len(work)%n shards get the extra item; shards may be empty when n > len(work).
func Partition(work []models.Request, n int) [][]models.Request {
	if n < 1 {
		n = 1
	}
	shards := make([][]models.Request, n)
	size, extra := len(work)/n, len(work)%n
	start := 0
	for i := range shards {
		end := start + size
		if i < extra {
			end++
		}
		shards[i] = work[start:end:end]
		start = end
	}
	return shards
}

// Run distributes work over workers sessions and blocks until every shard is done,
// a worker fails fatally, or ctx is cancelled. Cancellation is reported through
// Summary.Interrupted, not as an error.
func (p *Pool) Run(ctx context.Context, work []models.Request, workers int) (Summary, error) {
	start := time.Now()
	var succeeded, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for id, shard := range Partition(work, workers) {
		if len(shard) == 0 {
			continue
		}
		g.Go(func() error {
			return p.runShard(gctx, id, shard, &succeeded, &failed)
		})
	}
	err := g.Wait()

	summary := Summary{
		Succeeded: succeeded.Load(),
		Failed:    failed.Load(),
		Duration:  time.Since(start),
	}
	// The first error wins; only a cancellation that came first is an interruption
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		summary.Interrupted = true
		return summary, nil
	}
	return summary, err
}

func (p *Pool) runShard(ctx context.Context, id int, shard []models.Request, succeeded, failed *atomic.Int64) error {
	logger := p.logger.With("worker", id)

	session, err := p.establish(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Release(); err != nil {
			logger.Warn("Failed to release session", "error", err)
		}
	}()
	logger.Debug("Worker started", "requests", len(shard))

	for _, r := range shard {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.schedule.Wait(ctx, p.progress); err != nil {
			return err
		}

		if !session.Established() {
			logger.Info("Session dropped, re-establishing", "peer", p.peer.String())
			fresh, err := p.establish(ctx)
			if err != nil {
				return err
			}
			_ = session.Release()
			session = fresh
			p.metrics.SessionReconnect()
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		out, err := p.classifier.Handle(ctx, session, r)
		if err != nil {
			return err
		}
		if out.Success {
			succeeded.Add(1)
		} else {
			failed.Add(1)
		}
		_ = p.progress.Add(1)

		if err := lib.Sleep(ctx, r.ThrottleDelay); err != nil {
			return err
		}
	}

	logger.Debug("Worker finished")
	return nil
}

// establish opens a session, retrying under the pool's backoff policy.
// An exhausted budget is a fatal session error.
func (p *Pool) establish(ctx context.Context) (dimse.Session, error) {
	var session dimse.Session
	operation := fmt.Sprintf("association with %s", p.peer)

	err := lib.ExecuteWithRetry(ctx, p.policy, func(ctx context.Context, _ int) error {
		s, err := p.provider.Establish(ctx, p.peer)
		if err != nil {
			return err
		}
		if !s.Established() {
			_ = s.Release()
			return errNotEstablished
		}
		session = s
		return nil
	}, func(attempt int, err error) {
		lib.LogRetry(p.logger, operation, attempt, p.policy.MaxAttempts, err)
	})
	if err == nil {
		return session, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	attempts := p.policy.MaxAttempts
	var exhausted *lib.ErrAttemptsExhausted
	if errors.As(err, &exhausted) {
		attempts = exhausted.Attempts
		err = exhausted.Last
	}
	return nil, lib.ErrSessionNotEstablished(p.peer.String(), attempts, err)
}
