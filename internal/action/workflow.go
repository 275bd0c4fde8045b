package action

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"livepoll/internal/domain/poll"
	"livepoll/internal/metrics"
	"livepoll/internal/platform/apperr"
)

type Action string

const (
	Activate  Action = "activate"
	Close     Action = "close"
	Delete    Action = "delete"
	Duplicate Action = "duplicate"
	Archive   Action = "archive"
)

// Prompt is the static per-action copy shown in the confirmation step.
type Prompt struct {
	Title        string
	Message      string
	ButtonLabel  string
	LoadingLabel string
	Level        string
	SuccessMsg   string
	FailureMsg   string
}

var prompts = map[Action]Prompt{
	Delete: {
		Title:        "Delete poll",
		Message:      "Are you sure you want to permanently delete this poll? This cannot be undone.",
		ButtonLabel:  "Delete",
		LoadingLabel: "Deleting...",
		Level:        "danger",
		SuccessMsg:   "Poll deleted",
		FailureMsg:   "Failed to delete poll",
	},
	Close: {
		Title:        "Close poll",
		Message:      "Are you sure you want to close this poll? No further votes can be cast afterwards.",
		ButtonLabel:  "Close",
		LoadingLabel: "Closing...",
		Level:        "warning",
		SuccessMsg:   "Poll closed",
		FailureMsg:   "Failed to close poll",
	},
	Activate: {
		Title:        "Activate poll",
		Message:      "Are you sure you want to activate this poll? Participants can vote once it is active.",
		ButtonLabel:  "Activate",
		LoadingLabel: "Activating...",
		Level:        "success",
		SuccessMsg:   "Poll activated",
		FailureMsg:   "Failed to activate poll",
	},
	Duplicate: {
		Title:        "Duplicate poll",
		Message:      "Duplicate this poll? A copy with all settings will be created.",
		ButtonLabel:  "Duplicate",
		LoadingLabel: "Duplicating...",
		Level:        "info",
		SuccessMsg:   "Poll duplicated",
		FailureMsg:   "Failed to duplicate poll",
	},
	Archive: {
		Title:        "Archive poll",
		Message:      "Archive this poll? Archived polls are no longer listed.",
		ButtonLabel:  "Archive",
		LoadingLabel: "Archiving...",
		Level:        "secondary",
		SuccessMsg:   "Poll archived",
		FailureMsg:   "Failed to archive poll",
	},
}

// PromptFor returns the confirmation copy for an action.
func PromptFor(a Action) (Prompt, bool) {
	p, ok := prompts[a]
	return p, ok
}

type State int

const (
	Idle State = iota
	AwaitingConfirmation
	Executing
)

func (s State) String() string {
	switch s {
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	case Executing:
		return "executing"
	default:
		return "idle"
	}
}

var ErrNotAwaiting = errors.New("no action awaiting confirmation")

// API is the slice of the REST client the default executors need.
type API interface {
	StartPoll(ctx context.Context, id string) error
	ClosePoll(ctx context.Context, id string) error
	DeletePoll(ctx context.Context, id string) error
}

// Notifier receives the user-facing outcome of every confirmed action.
type Notifier interface {
	Success(msg string)
	Failure(msg string)
}

// CustomExec replaces the default REST call for one request. Duplicate
// and archive have no REST endpoint and always need one.
type CustomExec func(ctx context.Context, pollID string) error

// Request is one pending user-confirmed action. It exists from trigger
// until completion or cancellation.
type Request struct {
	Type    Action
	PollID  string
	Summary *poll.Poll
	custom  CustomExec
}

// Workflow serializes every state-changing poll action: at most one
// request exists at a time, and exactly one network call is issued per
// confirmation. The single slot is the concurrency control; triggering
// while not idle is rejected.
type Workflow struct {
	api       API
	notify    Notifier
	onRefresh func()
	logger    *slog.Logger

	mu    sync.Mutex
	state State
	req   *Request
}

// NewWorkflow wires the workflow to its collaborators at construction
// time. onRefresh is the view-appropriate reload invoked after every
// successful action; it may be nil.
func NewWorkflow(api API, notify Notifier, onRefresh func(), logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{api: api, notify: notify, onRefresh: onRefresh, logger: logger}
}

// Trigger opens the confirmation step for an action. It returns false
// if another request is pending or executing; stacked confirmations
// are rejected, not queued.
func (w *Workflow) Trigger(a Action, pollID string, summary *poll.Poll, custom CustomExec) (Prompt, bool) {
	prompt, ok := prompts[a]
	if !ok {
		return Prompt{}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Idle {
		w.logger.Debug("action trigger rejected", "action", a, "state", w.state)
		return Prompt{}, false
	}
	w.state = AwaitingConfirmation
	w.req = &Request{Type: a, PollID: pollID, Summary: summary, custom: custom}
	return prompt, true
}

// Cancel discards the pending request without any network effect. Only
// legal while awaiting confirmation.
func (w *Workflow) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != AwaitingConfirmation {
		return
	}
	w.state = Idle
	w.req = nil
}

// Confirm executes the pending request. Exactly one network call is
// issued; afterwards the workflow is idle again regardless of outcome,
// so the user can retry a failed action by triggering anew. A Confirm
// without a pending request (for example a double confirm) is rejected
// before any call is made.
func (w *Workflow) Confirm(ctx context.Context) error {
	w.mu.Lock()
	if w.state != AwaitingConfirmation {
		w.mu.Unlock()
		return ErrNotAwaiting
	}
	w.state = Executing
	req := w.req
	w.mu.Unlock()

	err := w.execute(ctx, req)

	w.mu.Lock()
	w.state = Idle
	w.req = nil
	w.mu.Unlock()

	prompt := prompts[req.Type]
	if err != nil {
		appErr := apperr.FromError(err)
		metrics.IncAction(string(req.Type), "failure")
		w.logger.Warn("action failed",
			"action", req.Type, "poll_id", req.PollID, "kind", appErr.Kind().String(), "error", err)
		if w.notify != nil {
			w.notify.Failure(prompt.FailureMsg + ": " + appErr.Error())
		}
		return appErr
	}

	metrics.IncAction(string(req.Type), "success")
	w.logger.Info("action completed", "action", req.Type, "poll_id", req.PollID)
	if w.notify != nil {
		w.notify.Success(prompt.SuccessMsg)
	}
	if w.onRefresh != nil {
		w.onRefresh()
	}
	return nil
}

func (w *Workflow) execute(ctx context.Context, req *Request) error {
	if req.custom != nil {
		return req.custom(ctx, req.PollID)
	}
	switch req.Type {
	case Activate:
		return w.api.StartPoll(ctx, req.PollID)
	case Close:
		return w.api.ClosePoll(ctx, req.PollID)
	case Delete:
		return w.api.DeletePoll(ctx, req.PollID)
	default:
		// No REST endpoint exists for these; they only work with a
		// custom executor supplied at trigger time.
		return apperr.Validation(string(req.Type)+" requires a custom executor", nil)
	}
}

// State reports the current workflow state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Pending returns the request awaiting confirmation, if any.
func (w *Workflow) Pending() *Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.req
}
