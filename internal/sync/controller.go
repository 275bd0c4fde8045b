package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"livepoll/internal/domain/poll"
	"livepoll/internal/metrics"
	"livepoll/internal/transport"
)

// ChannelKind is which update path currently carries the poll.
type ChannelKind int

const (
	KindNone ChannelKind = iota
	KindRealtime
	KindFallback
)

func (k ChannelKind) String() string {
	switch k {
	case KindRealtime:
		return "realtime"
	case KindFallback:
		return "fallback"
	default:
		return "none"
	}
}

// Options configures a Controller.
type Options struct {
	// SafetyNet keeps the fallback poller running even while the
	// realtime channel is connected, the way the presentation screen
	// does. Both paths feed the same merge, which is idempotent, so
	// duplicate delivery is harmless.
	SafetyNet bool

	ReconnectBase time.Duration
	MaxReconnects int
	Poller        PollerConfig

	// OnUpdate receives a clone of the snapshot after every merge. It
	// is the render sink; it runs on the delivering goroutine and must
	// not block for long.
	OnUpdate func(*poll.Snapshot, poll.MergeResult)
}

// Controller owns the live-sync lifecycle for one poll: it decides
// which channels run based on poll status, feeds every inbound payload
// through reconciliation, and tears everything down on exit.
//
// The realtime channel only runs while the poll is active; the
// fallback poller runs whenever the poll is not active, when the
// realtime channel has degraded, or permanently as a safety net.
type Controller struct {
	pollID string
	wsBase string
	waiter WaitClient
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	snap    *poll.Snapshot
	kind    ChannelKind
	channel *transport.Channel
	poller  *Poller
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

func NewController(waiter WaitClient, wsBase string, initial *poll.Snapshot, opts Options, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ReconnectBase == 0 {
		opts.ReconnectBase = time.Second
	}
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = 5
	}
	return &Controller{
		pollID: initial.ID,
		wsBase: wsBase,
		waiter: waiter,
		opts:   opts,
		snap:   initial,
		logger: logger,
	}
}

// Start opens the channels appropriate for the poll's current status.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	active := c.snap.Status == poll.StatusActive
	c.mu.Unlock()

	if active {
		c.openRealtime()
		if c.opts.SafetyNet {
			c.startPoller()
		}
	} else {
		c.startPoller()
	}
}

// Stop closes the realtime channel with a normal-closure code and stops
// the poller. Nothing reconnects afterwards.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	channel := c.channel
	poller := c.poller
	c.channel = nil
	c.poller = nil
	c.kind = KindNone
	c.mu.Unlock()

	if channel != nil {
		channel.Close()
	}
	if poller != nil {
		poller.Stop()
	}
	if cancel != nil {
		cancel()
	}
}

// Snapshot returns a copy of the current canonical snapshot.
func (c *Controller) Snapshot() *poll.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Clone()
}

// Kind reports which channel is currently primary.
func (c *Controller) Kind() ChannelKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kind
}

// Apply merges one inbound update into the snapshot. Updates may come
// from either channel in any order; the merge is idempotent for vote
// counts, so no cross-channel ordering is needed. Status transitions
// toggle the channels.
func (c *Controller) Apply(u poll.Update) {
	if u.PollID != "" && u.PollID != c.pollID {
		return
	}

	c.mu.Lock()
	res := poll.Merge(c.snap, u)
	clone := c.snap.Clone()
	c.mu.Unlock()

	metrics.IncMerge()
	if res.StatusChanged {
		metrics.IncStatusTransition(string(res.From), string(res.To))
		c.logger.Info("poll status changed", "poll_id", c.pollID, "from", res.From, "to", res.To)
		c.handleTransition(res)
	}
	if c.opts.OnUpdate != nil {
		c.opts.OnUpdate(clone, res)
	}
}

func (c *Controller) handleTransition(res poll.MergeResult) {
	switch {
	case res.To == poll.StatusActive:
		// The poller stays up until the stream has actually opened
		// (realtimeOpen releases it); a failed dial must leave the poll
		// with a working update path.
		c.openRealtime()
	case res.From == poll.StatusActive:
		// The realtime stream only exists for active polls; drop it and
		// let the poller watch for re-activation.
		c.closeRealtime()
		c.startPoller()
	}
}

func (c *Controller) openRealtime() {
	c.mu.Lock()
	if c.channel != nil || c.ctx == nil || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	policy := transport.NewReconnectPolicy(c.opts.ReconnectBase, c.opts.MaxReconnects)
	ch := transport.NewChannel(c.wsBase, c.pollID, policy, transport.Events{
		OnOpen:     c.realtimeOpen,
		OnMessage:  c.Apply,
		OnDegraded: c.degrade,
	}, c.logger)
	c.channel = ch
	ctx := c.ctx
	c.mu.Unlock()

	if err := ch.Open(ctx); err != nil {
		// Could not establish the stream at all: fall straight back to
		// polling.
		c.logger.Warn("realtime channel unavailable, using fallback", "poll_id", c.pollID, "error", err)
		c.degrade()
	}
}

// realtimeOpen marks the stream primary once it is actually connected.
// Only now may the poller be released; until this fires the fallback is
// still the poll's only update path.
func (c *Controller) realtimeOpen() {
	c.mu.Lock()
	c.kind = KindRealtime
	c.mu.Unlock()

	if !c.opts.SafetyNet {
		c.stopPoller()
	}
}

func (c *Controller) closeRealtime() {
	c.mu.Lock()
	channel := c.channel
	c.channel = nil
	if c.kind == KindRealtime {
		c.kind = KindNone
	}
	c.mu.Unlock()

	if channel != nil {
		channel.Close()
	}
}

// degrade is called when the realtime channel is gone for good (dial
// failure or exhausted reconnects); the poller becomes primary.
func (c *Controller) degrade() {
	c.mu.Lock()
	channel := c.channel
	c.channel = nil
	c.mu.Unlock()

	if channel != nil {
		channel.Close()
	}
	c.startPoller()
}

func (c *Controller) startPoller() {
	c.mu.Lock()
	if c.ctx == nil || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	if c.poller == nil {
		c.poller = NewPoller(c.waiter, c.pollID, c.opts.Poller, c.applyPoll, c.logger)
	}
	poller := c.poller
	if c.channel == nil {
		c.kind = KindFallback
	}
	ctx := c.ctx
	c.mu.Unlock()

	poller.Start(ctx)
}

func (c *Controller) stopPoller() {
	c.mu.Lock()
	poller := c.poller
	c.mu.Unlock()

	if poller != nil {
		poller.Stop()
	}
}

// applyPoll feeds a full wait-call snapshot through the same merge path
// as realtime payloads.
func (c *Controller) applyPoll(p poll.Poll) {
	c.Apply(poll.FromPoll(p))
}
