package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Worker is a feed loop the supervisor can start, restart and run once.
type Worker interface {
	Name() string
	Run(ctx context.Context) error
	RunOnce(ctx context.Context) (*PassResult, error)
}

// Supervisor runs one worker per feed. Workers share nothing, so a crash in
// one feed never affects the others.
type Supervisor struct {
	workers      []Worker
	stagger      time.Duration
	restartDelay time.Duration
	log          *zap.SugaredLogger
}

// NewSupervisor creates a supervisor. Worker i starts i*stagger after the first.
func NewSupervisor(workers []Worker, stagger, restartDelay time.Duration, log *zap.SugaredLogger) *Supervisor {
	return &Supervisor{
		workers:      workers,
		stagger:      stagger,
		restartDelay: restartDelay,
		log:          log,
	}
}

// Run starts every worker and blocks until ctx is cancelled. A worker that
// returns or panics is restarted after the restart delay.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, w := range s.workers {
		i, w := i, w
		delay := time.Duration(i) * s.stagger
		g.Go(func() error {
			if !sleep(ctx, delay) {
				return nil
			}
			s.supervise(ctx, w)
			return nil
		})
	}
	return g.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, w Worker) {
	log := s.log.With("feed", w.Name())
	for {
		log.Infow("Starting feed worker")
		err := runProtected(ctx, w)
		if ctx.Err() != nil {
			log.Infow("Feed worker stopped")
			return
		}
		if err == nil {
			err = errors.New("worker exited")
		}
		log.Errorw("Feed worker crashed, restarting", "error", err, "delay", s.restartDelay)
		if !sleep(ctx, s.restartDelay) {
			return
		}
	}
}

func runProtected(ctx context.Context, w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.Run(ctx)
}

// Once runs a single pass of every worker, staggered like Run, and returns
// the failures of all feeds joined together.
func (s *Supervisor) Once(ctx context.Context) error {
	var g errgroup.Group
	errs := make([]error, len(s.workers))
	for i, w := range s.workers {
		i, w := i, w
		delay := time.Duration(i) * s.stagger
		g.Go(func() error {
			if !sleep(ctx, delay) {
				errs[i] = fmt.Errorf("feed %s: %w", w.Name(), ctx.Err())
				return nil
			}
			if err := runOnceProtected(ctx, w); err != nil {
				s.log.Errorw("Pass failed", "feed", w.Name(), "error", err)
				errs[i] = fmt.Errorf("feed %s: %w", w.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func runOnceProtected(ctx context.Context, w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	_, err = w.RunOnce(ctx)
	return err
}
