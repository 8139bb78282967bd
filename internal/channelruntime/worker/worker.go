package worker

import (
	"context"
	"sync"
	"time"
)

type StartOptions[J any] struct {
	Ctx    context.Context
	Sem    chan struct{}
	Jobs   <-chan J
	Handle func(context.Context, J)
	// OnPanic is called with the job and the recovered value when Handle
	// panics. The worker keeps running.
	OnPanic func(J, any)
	// Group, when set, tracks the worker goroutine until it exits.
	Group *sync.WaitGroup
	// IdleTimeout, when positive, calls OnIdle after that long without a job.
	// The worker exits when OnIdle is nil or returns true.
	IdleTimeout time.Duration
	OnIdle      func() bool
}

// Start runs jobs one at a time in arrival order. Sem bounds how many
// workers handle a job at the same moment.
func Start[J any](opts StartOptions[J]) {
	if opts.Group != nil {
		opts.Group.Add(1)
	}
	go func() {
		if opts.Group != nil {
			defer opts.Group.Done()
		}
		var idle <-chan time.Time
		var timer *time.Timer
		if opts.IdleTimeout > 0 {
			timer = time.NewTimer(opts.IdleTimeout)
			defer timer.Stop()
			idle = timer.C
		}
		for {
			select {
			case <-opts.Ctx.Done():
				return
			case <-idle:
				if opts.OnIdle == nil || opts.OnIdle() {
					return
				}
				timer.Reset(opts.IdleTimeout)
			case job, ok := <-opts.Jobs:
				if !ok {
					return
				}
				select {
				case opts.Sem <- struct{}{}:
				case <-opts.Ctx.Done():
					return
				}
				run(opts, job)
				if timer != nil {
					timer.Reset(opts.IdleTimeout)
				}
			}
		}
	}()
}

func run[J any](opts StartOptions[J], job J) {
	defer func() { <-opts.Sem }()
	defer func() {
		if r := recover(); r != nil && opts.OnPanic != nil {
			opts.OnPanic(job, r)
		}
	}()
	opts.Handle(opts.Ctx, job)
}

func Enqueue[J any](ctx, workersCtx context.Context, jobs chan<- J, job J) error {
	if ctx == nil {
		ctx = workersCtx
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-workersCtx.Done():
		return workersCtx.Err()
	case jobs <- job:
		return nil
	}
}
