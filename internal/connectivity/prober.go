package connectivity

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Pinger checks remote reachability. *remote.Client satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Scheduler registers periodic jobs. *scheduler.Scheduler satisfies it.
type Scheduler interface {
	Every(name, spec string, fn func(ctx context.Context)) error
}

// Prober keeps a Manual signal in line with the health endpoint.
type Prober struct {
	signal  *Manual
	pinger  Pinger
	timeout time.Duration
	logger  zerolog.Logger
}

// NewProber returns a prober updating signal.
func NewProber(signal *Manual, pinger Pinger, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		signal:  signal,
		pinger:  pinger,
		timeout: timeout,
		logger:  log.With().Str("component", "connectivity").Logger(),
	}
}

// Probe pings once and updates the signal. It returns the new state.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(ctx)
	if err != nil {
		p.logger.Debug().Err(err).Msg("health probe failed")
	}
	p.signal.SetOnline(err == nil)
	return err == nil
}

// Schedule registers Probe on s under the "connectivity-probe" job name.
func (p *Prober) Schedule(s Scheduler, spec string) error {
	return s.Every("connectivity-probe", spec, func(ctx context.Context) {
		p.Probe(ctx)
	})
}
