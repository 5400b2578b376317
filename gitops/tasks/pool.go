package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/byte4ever/tagpromoter/gitops/metrics"
	"github.com/byte4ever/tagpromoter/gitops/promoter"
)

var (
	// ErrQueueFull is returned by Submit when every
	// queue slot is taken.
	ErrQueueFull = errors.New("task queue is full")

	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("task pool is closed")
)

// Runner executes one promotion.
type Runner interface {
	Run(ctx context.Context, req promoter.Request) promoter.Outcome
}

// Config holds the settings of a Pool.
type Config struct {
	// Runner executes promotions.
	Runner Runner
	// Registry receives task states. A new one is
	// created when nil.
	Registry *Registry
	// Workers is the number of concurrent promotions.
	Workers int
	// QueueSize bounds the number of waiting tasks.
	QueueSize int
	// Logger is optional.
	Logger *zap.Logger
	// Metrics is optional.
	Metrics *metrics.Collector
}

type job struct {
	ctx context.Context //nolint:containedctx // detached per task
	id  string
	req promoter.Request
}

// Pool executes submitted promotions on a fixed set of
// workers.
type Pool struct {
	runner   Runner
	registry *Registry
	logger   *zap.Logger
	metrics  *metrics.Collector

	// Keyed by promotion branch.
	flight singleflight.Group
	// joining is called right before a worker enters
	// the shared call of a branch.
	joining func(branch string)

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

// NewPool validates cfg and starts the workers.
func NewPool(cfg Config) (*Pool, error) {
	const errCtx = "creating task pool"

	if cfg.Runner == nil {
		return nil, fmt.Errorf("%s: runner must be set", errCtx)
	}

	if cfg.Workers <= 0 {
		return nil, fmt.Errorf(
			"%s: workers must be positive", errCtx,
		)
	}

	if cfg.QueueSize < 0 {
		return nil, fmt.Errorf(
			"%s: queue size must not be negative", errCtx,
		)
	}

	p := &Pool{
		runner:   cfg.Runner,
		registry: cfg.Registry,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		queue:    make(chan job, cfg.QueueSize),
	}

	if p.registry == nil {
		p.registry = NewRegistry()
	}

	if p.logger == nil {
		p.logger = zap.NewNop()
	}

	p.wg.Add(cfg.Workers)

	for range cfg.Workers {
		go p.work()
	}

	return p, nil
}

// Registry returns the registry tasks are recorded in.
func (p *Pool) Registry() *Registry {
	return p.registry
}

// Submit queues req and returns its task id. The run
// does not inherit ctx cancellation.
func (p *Pool) Submit(
	ctx context.Context,
	req promoter.Request,
) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return "", ErrPoolClosed
	}

	id := uuid.NewString()
	p.registry.add(id, req)

	select {
	case p.queue <- job{
		ctx: context.WithoutCancel(ctx),
		id:  id,
		req: req,
	}:
	default:
		p.registry.remove(id)
		p.metrics.TaskFinished("rejected")

		return "", ErrQueueFull
	}

	p.metrics.SetQueueDepth(len(p.queue))

	p.logger.Info(
		"task submitted",
		zap.String("task", id),
		zap.String("branch", req.BranchName),
	)

	return id, nil
}

// Close stops accepting tasks and waits until queued
// and running tasks are finished.
func (p *Pool) Close() {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return
	}

	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) work() {
	defer p.wg.Done()

	for j := range p.queue {
		p.metrics.SetQueueDepth(len(p.queue))
		p.execute(j)
	}
}

func (p *Pool) execute(j job) {
	logger := p.logger.With(
		zap.String("task", j.id),
		zap.String("branch", j.req.BranchName),
	)

	p.registry.start(j.id)
	logger.Debug("task started")

	if p.joining != nil {
		p.joining(j.req.BranchName)
	}

	v, _, shared := p.flight.Do(
		j.req.BranchName,
		func() (v any, err error) {
			defer func() {
				if r := recover(); r != nil {
					v = promoter.Failed(
						promoter.StateStart,
						fmt.Errorf("promotion panicked: %v", r),
					)
				}
			}()

			return p.runner.Run(j.ctx, j.req), nil
		},
	)

	out, _ := v.(promoter.Outcome)

	state := p.registry.finish(j.id, out)
	p.metrics.TaskFinished(string(state))

	logger.Info(
		"task finished",
		zap.String("state", string(state)),
		zap.Stringer("outcome", out.Kind),
		zap.Bool("shared", shared),
	)
}
