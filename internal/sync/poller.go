package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"livepoll/internal/domain/poll"
	"livepoll/internal/metrics"
)

// WaitClient is the long-poll side of the API client: it blocks until
// the poll changes or the server-side timeout returns the poll
// unchanged.
type WaitClient interface {
	Wait(ctx context.Context, pollID string) (*poll.Poll, error)
}

// PollerConfig tunes the wait loop. Zero values get the defaults the
// web client shipped with.
type PollerConfig struct {
	// RetryDelay is the pause after a failed wait call.
	RetryDelay time.Duration
	// ActiveDelay is the pause between wait calls while the poll is
	// active, to catch rapid successive changes.
	ActiveDelay time.Duration
	// IdleDelay is the pause after seeing a non-active status; the loop
	// keeps running because an external re-activation is possible.
	IdleDelay time.Duration
	// MaxRate caps how often wait calls may be issued regardless of the
	// delays above.
	MaxRate rate.Limit
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.RetryDelay == 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.ActiveDelay == 0 {
		c.ActiveDelay = time.Second
	}
	if c.IdleDelay == 0 {
		c.IdleDelay = 5 * time.Second
	}
	if c.MaxRate == 0 {
		c.MaxRate = rate.Every(200 * time.Millisecond)
	}
	return c
}

// Poller drives the fallback channel: a loop of blocking wait calls,
// each yielding a full poll snapshot. It is the only update path while
// a poll is still a draft, which is how a waiting voter discovers
// activation. Wait failures retry forever; this is a background
// resiliency channel and never surfaces errors to the user.
type Poller struct {
	client  WaitClient
	pollID  string
	onPoll  func(poll.Poll)
	cfg     PollerConfig
	limiter *rate.Limiter
	logger  *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

func NewPoller(client WaitClient, pollID string, cfg PollerConfig, onPoll func(poll.Poll), logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Poller{
		client:  client,
		pollID:  pollID,
		onPoll:  onPoll,
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.MaxRate, 1),
		logger:  logger,
	}
}

// Start launches the wait loop. Calling Start on a running poller is a
// no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	go p.run(ctx)
}

// Stop aborts the in-flight wait call and ends the loop. It does not
// wait for the loop to drain: Stop may be invoked from inside the
// onPoll callback (a status transition stopping its own poller), and
// a final already-delivered update is harmless because merges are
// idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) run(ctx context.Context) {
	p.logger.Debug("fallback poller started", "poll_id", p.pollID)
	defer p.logger.Debug("fallback poller stopped", "poll_id", p.pollID)

	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}

		current, err := p.client.Wait(ctx, p.pollID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			metrics.IncWaitCycle("error")
			p.logger.Debug("wait call failed, retrying", "poll_id", p.pollID, "error", err)
			if !sleep(ctx, p.cfg.RetryDelay) {
				return
			}
			continue
		}

		// A server-side timeout returns the poll unchanged with status
		// 200; that is a normal cycle, not an error.
		metrics.IncWaitCycle("ok")
		p.onPoll(*current)

		delay := p.cfg.IdleDelay
		if current.Status == poll.StatusActive {
			delay = p.cfg.ActiveDelay
		}
		if !sleep(ctx, delay) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
