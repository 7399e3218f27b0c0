// Package offline assembles the client-side sync stack: local store,
// pending queue, remote client, connectivity, events, query cache, sync
// engine and accessor.
package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/erauner12/garagesync/internal/accessor"
	"github.com/erauner12/garagesync/internal/cache"
	"github.com/erauner12/garagesync/internal/config"
	"github.com/erauner12/garagesync/internal/connectivity"
	"github.com/erauner12/garagesync/internal/events"
	"github.com/erauner12/garagesync/internal/queue"
	"github.com/erauner12/garagesync/internal/remote"
	"github.com/erauner12/garagesync/internal/scheduler"
	"github.com/erauner12/garagesync/internal/schema"
	"github.com/erauner12/garagesync/internal/store"
	"github.com/erauner12/garagesync/internal/syncengine"
	"github.com/rs/zerolog/log"
)

// Options override parts of the stack. Zero values build the defaults.
type Options struct {
	Registry   *schema.Registry
	HTTPClient *http.Client
	// Signal replaces the health-probe driven connectivity signal.
	Signal connectivity.Signal
}

// Client is an opened sync stack.
type Client struct {
	Config    *config.Config
	Registry  *schema.Registry
	Store     *store.Store
	Queue     *queue.Queue
	Remote    *remote.Client
	Signal    connectivity.Signal
	Bus       *events.Bus
	Cache     *cache.QueryCache
	Engine    *syncengine.Engine
	Accessor  *accessor.Accessor
	Scheduler *scheduler.Scheduler

	prober        *connectivity.Prober
	unsubscribeFn func()

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// Open validates cfg and builds the stack. Nothing runs in the background
// until Start.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("offline: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := opts.Registry
	if registry == nil {
		registry = schema.DefaultRegistry()
	}

	st, err := store.Open(cfg.DatabasePath, registry)
	if err != nil {
		return nil, err
	}

	rc, err := remote.New(remote.Options{
		BaseURL:      cfg.APIBaseURL,
		HTTPClient:   opts.HTTPClient,
		SessionToken: cfg.SessionToken,
		DebugSubject: cfg.DevSubject,
		Timeout:      cfg.RequestTimeout,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	c := &Client{
		Config:    cfg,
		Registry:  registry,
		Store:     st,
		Queue:     queue.New(st.DB()),
		Remote:    rc,
		Bus:       events.NewBus(),
		Cache:     cache.NewQueryCache(),
		Scheduler: scheduler.New(),
	}

	if opts.Signal != nil {
		c.Signal = opts.Signal
	} else {
		manual := connectivity.NewManual(false)
		c.Signal = manual
		c.prober = connectivity.NewProber(manual, rc, cfg.RequestTimeout)
	}

	c.unsubscribeFn = cache.Bridge(c.Bus, c.Cache)
	c.Engine = syncengine.New(st, c.Queue, rc, c.Signal, c.Bus, syncengine.Options{MaxRetries: cfg.MaxRetries})
	c.Accessor = accessor.New(st, c.Queue, rc, c.Signal, c.Bus, c.Engine)

	log.Info().
		Str("apiBaseUrl", cfg.APIBaseURL).
		Str("databasePath", cfg.DatabasePath).
		Msg("sync client opened")
	return c, nil
}

// Probe runs one health check when the client owns its connectivity signal.
// It returns the current connectivity state.
func (c *Client) Probe(ctx context.Context) bool {
	if c.prober != nil {
		return c.prober.Probe(ctx)
	}
	return c.Signal.Online()
}

// Start launches the sync worker and the periodic jobs.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	if c.prober != nil && c.Config.ProbeSchedule != "" {
		if err := c.prober.Schedule(c.Scheduler, c.Config.ProbeSchedule); err != nil {
			return err
		}
	}
	if c.Config.SyncSchedule != "" {
		err := c.Scheduler.Every("drain", c.Config.SyncSchedule, func(context.Context) {
			c.Engine.Trigger()
		})
		if err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		if err := c.Engine.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("sync worker exited")
		}
	}()

	c.Scheduler.Start()
	c.started = true

	// First probe right away so a reachable server is drained without
	// waiting for the schedule.
	go func() {
		if c.Probe(runCtx) {
			c.Engine.Trigger()
		}
	}()
	return nil
}

// Close stops background work and closes the local store.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.started {
		c.Scheduler.Stop()
		c.cancel()
		<-c.done
		c.started = false
	}
	c.mu.Unlock()

	if c.unsubscribeFn != nil {
		c.unsubscribeFn()
	}
	if err := c.Store.Close(); err != nil {
		return fmt.Errorf("failed to close local store: %w", err)
	}
	return nil
}
