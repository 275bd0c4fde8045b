package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"livepoll/internal/domain/poll"
	"livepoll/internal/metrics"
)

// Events are the channel's callbacks. All of them are invoked from the
// channel's own goroutine, one at a time. Nil callbacks are skipped.
type Events struct {
	OnOpen    func()
	OnMessage func(poll.Update)
	OnClose   func(code int, wasClean bool)
	OnError   func(error)
	// OnDegraded fires once when the reconnect bound is exhausted and
	// the channel gives up; from then on the fallback poller is the
	// only update path.
	OnDegraded func()
}

type subscribeMessage struct {
	Type   string `json:"type"`
	PollID string `json:"pollId"`
}

// Channel is one push connection to a poll's update stream. It owns
// connect, the subscribe handshake, the read loop, and bounded
// reconnection; an intentional Close is terminal.
type Channel struct {
	pollID string
	wsURL  string
	events Events
	policy *ReconnectPolicy
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	cancel context.CancelFunc
}

func NewChannel(wsBaseURL, pollID string, policy *ReconnectPolicy, events Events, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		pollID: pollID,
		wsURL:  wsBaseURL + "/polls/" + url.PathEscape(pollID),
		events: events,
		policy: policy,
		logger: logger,
	}
}

// Open dials the stream and starts the read loop. The channel keeps
// itself alive across unclean closes per its reconnect policy until
// Close is called or the policy is exhausted.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	return c.dial(ctx)
}

func (c *Channel) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		c.emitError(err)
		return err
	}

	sub := subscribeMessage{Type: "SUBSCRIBE", PollID: c.pollID}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		c.emitError(err)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.mu.Unlock()

	c.policy.Reset()
	c.logger.Debug("realtime channel open", "poll_id", c.pollID)
	if c.events.OnOpen != nil {
		c.events.OnOpen()
	}

	go c.readLoop(ctx, conn)
	return nil
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClosed(ctx, err)
			return
		}

		var u poll.Update
		if err := json.Unmarshal(data, &u); err != nil {
			// Malformed payloads are dropped, never fatal.
			c.logger.Warn("dropping malformed realtime payload", "poll_id", c.pollID, "error", err)
			continue
		}
		metrics.IncMessage()
		if c.events.OnMessage != nil {
			c.events.OnMessage(u)
		}
	}
}

func (c *Channel) handleClosed(ctx context.Context, err error) {
	code := websocket.CloseAbnormalClosure
	if closeErr, ok := err.(*websocket.CloseError); ok {
		code = closeErr.Code
	}

	c.mu.Lock()
	intentional := c.closed
	c.conn = nil
	c.mu.Unlock()

	wasClean := intentional || code == websocket.CloseNormalClosure
	if c.events.OnClose != nil {
		c.events.OnClose(code, wasClean)
	}
	if wasClean {
		return
	}

	delay, ok := c.policy.Next(wasClean)
	if !ok {
		c.logger.Warn("realtime channel gave up reconnecting", "poll_id", c.pollID, "attempts", c.policy.Attempts())
		if c.events.OnDegraded != nil {
			c.events.OnDegraded()
		}
		return
	}

	metrics.IncReconnect()
	c.logger.Info("realtime channel reconnecting",
		"poll_id", c.pollID, "attempt", c.policy.Attempts(), "delay", delay)

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	if err := c.dial(ctx); err != nil {
		// The dial itself failed; treat it like another unclean close
		// so the attempt budget keeps counting down.
		c.handleClosed(ctx, err)
	}
}

// Close shuts the channel down for good with a normal-closure code.
// It is idempotent and never triggers reconnection.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leaving"), deadline)
		_ = conn.Close()
	}
	c.logger.Debug("realtime channel closed", "poll_id", c.pollID)
}

func (c *Channel) emitError(err error) {
	c.logger.Warn("realtime channel error", "poll_id", c.pollID, "error", err)
	if c.events.OnError != nil {
		c.events.OnError(err)
	}
}
