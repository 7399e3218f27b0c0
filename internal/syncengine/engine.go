// Package syncengine replays the pending operation queue against the remote
// API, translating local ids to server ids as creates are confirmed.
package syncengine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/erauner12/garagesync/internal/connectivity"
	"github.com/erauner12/garagesync/internal/events"
	"github.com/erauner12/garagesync/internal/queue"
	"github.com/erauner12/garagesync/internal/remote"
	"github.com/erauner12/garagesync/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxRetries is the abandonment threshold: an operation that has
// failed this many times is dropped before a further attempt.
const DefaultMaxRetries = 3

// Doer executes a deferred request. *remote.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, r remote.Request) (*remote.Response, error)
}

// Result counts the outcomes of one drain pass.
type Result struct {
	Success   int `json:"success"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
}

// Options tune an Engine.
type Options struct {
	MaxRetries int
	// Now returns the current Unix ms. Defaults to the wall clock.
	Now func() int64
}

// Engine drains the queue. At most one drain runs at a time: concurrent
// Drain calls share the running pass, and Trigger is dropped while a pass
// is in flight.
type Engine struct {
	store  *store.Store
	queue  *queue.Queue
	remote Doer
	signal connectivity.Signal
	bus    *events.Bus

	maxRetries int
	now        func() int64
	logger     zerolog.Logger

	group    singleflight.Group
	inFlight atomic.Bool
	trigger  chan struct{}
}

// New wires an engine. bus may be nil.
func New(s *store.Store, q *queue.Queue, r Doer, signal connectivity.Signal, bus *events.Bus, opts Options) *Engine {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Now == nil {
		opts.Now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Engine{
		store:      s,
		queue:      q,
		remote:     r,
		signal:     signal,
		bus:        bus,
		maxRetries: opts.MaxRetries,
		now:        opts.Now,
		logger:     log.With().Str("component", "syncengine").Logger(),
		trigger:    make(chan struct{}, 1),
	}
}

// InFlight reports whether a drain pass is running.
func (e *Engine) InFlight() bool {
	return e.inFlight.Load()
}

// Drain runs one pass over the queue, or joins the pass already running.
func (e *Engine) Drain(ctx context.Context) (Result, error) {
	v, err, shared := e.group.Do("drain", func() (any, error) {
		e.inFlight.Store(true)
		defer e.inFlight.Store(false)
		return e.drain(ctx)
	})
	if shared {
		e.logger.Debug().Msg("joined drain already in flight")
	}
	res, _ := v.(Result)
	return res, err
}

// Trigger requests a drain from the Run loop without waiting for it.
// Requests made while a pass is running are dropped.
func (e *Engine) Trigger() {
	if e.inFlight.Load() {
		return
	}
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run is the sync worker. It drains on Trigger and whenever connectivity is
// regained, until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	regained, cancel := e.signal.Subscribe()
	defer cancel()

	e.logger.Info().Msg("sync worker started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("sync worker stopped")
			return ctx.Err()
		case <-e.trigger:
		case <-regained:
			e.logger.Info().Msg("connectivity regained, draining queue")
		}
		if _, err := e.Drain(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error().Err(err).Msg("drain failed")
		}
	}
}
