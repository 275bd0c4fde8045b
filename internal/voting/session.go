package voting

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"livepoll/internal/domain/poll"
	"livepoll/internal/metrics"
	"livepoll/internal/platform/apperr"
	"livepoll/internal/platform/identity"
)

// API is the voting slice of the REST client.
type API interface {
	Vote(ctx context.Context, pollID string, optionID int64, voter identity.Identity) error
	VoteMultiple(ctx context.Context, pollID string, optionIDs []int64, voter identity.Identity) error
	IssueIdentity(ctx context.Context) (identity.Identity, error)
}

// Store is the persistent device state the session needs: the voter
// identity and the per-poll voted flag.
type Store interface {
	Ensure(ctx context.Context, issue func(context.Context) (identity.Identity, error)) (identity.Identity, error)
	HasVoted(ctx context.Context, pollID string) (bool, error)
	MarkVoted(ctx context.Context, pollID string) error
}

// Session manages one participant's ballot for one poll: the selection
// set, local preconditions, the single submission, and the terminal
// has-voted flag. Incoming result updates never touch any of this; the
// session only reads the current snapshot to validate.
type Session struct {
	api      API
	store    Store
	snapshot func() *poll.Snapshot
	logger   *slog.Logger

	mu       sync.Mutex
	selected map[int64]struct{}
	hasVoted bool
}

func NewSession(api API, store Store, snapshot func() *poll.Snapshot, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		api:      api,
		store:    store,
		snapshot: snapshot,
		logger:   logger,
		selected: make(map[int64]struct{}),
	}
}

// Init loads the persisted voted flag for this poll. Having voted in an
// earlier session is as terminal as having voted in this one.
func (s *Session) Init(ctx context.Context) error {
	voted, err := s.store.HasVoted(ctx, s.snapshot().ID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.hasVoted = s.hasVoted || voted
	s.mu.Unlock()
	return nil
}

// Toggle updates the selection for an option. For a single-choice poll
// the new option replaces any previous selection; for a multiple-choice
// poll the option is toggled. Selection is purely local and is rejected
// once the ballot has been cast.
func (s *Session) Toggle(optionID int64) error {
	snap := s.snapshot()
	if snap.Option(optionID) == nil {
		return apperr.OptionNotFound("the selected option was not found", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasVoted {
		return apperr.AlreadyVoted("you have already voted in this poll", nil)
	}

	if snap.AllowsMultiple() {
		if _, ok := s.selected[optionID]; ok {
			delete(s.selected, optionID)
		} else {
			s.selected[optionID] = struct{}{}
		}
		return nil
	}

	s.selected = map[int64]struct{}{optionID: {}}
	return nil
}

// Selected returns the selected option ids in ascending order.
func (s *Session) Selected() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.selected))
	for id := range s.selected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// HasVoted reports whether the ballot has been cast. Once true it never
// reverts, regardless of later poll updates.
func (s *Session) HasVoted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasVoted
}

// Submit casts the ballot. Local preconditions fail fast without any
// network call; a rejected submission leaves the selection intact so it
// can be corrected and retried.
func (s *Session) Submit(ctx context.Context) error {
	snap := s.snapshot()

	s.mu.Lock()
	if s.hasVoted {
		s.mu.Unlock()
		return apperr.AlreadyVoted("you have already voted in this poll", nil)
	}
	ids := make([]int64, 0, len(s.selected))
	for id := range s.selected {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if len(ids) == 0 {
		return apperr.Validation("select at least one option", nil)
	}
	if !snap.AllowsMultiple() && len(ids) > 1 {
		return apperr.Validation("this poll allows only one selection", nil)
	}
	if snap.Status != poll.StatusActive {
		return apperr.PollInactive("this poll is not active", nil)
	}

	voter, err := s.store.Ensure(ctx, s.api.IssueIdentity)
	if err != nil {
		return apperr.Unclassified("load voter identity", err)
	}

	if snap.AllowsMultiple() {
		err = s.api.VoteMultiple(ctx, snap.ID, ids, voter)
	} else {
		err = s.api.Vote(ctx, snap.ID, ids[0], voter)
	}

	if err != nil {
		// The server remembering an earlier vote is terminal too, so the
		// flag sticks even though this submission did not count.
		if apperr.KindOf(err) == apperr.KindAlreadyVoted {
			s.markVoted(ctx, snap.ID)
		}
		metrics.IncAction("vote", "failure")
		s.logger.Warn("vote rejected", "poll_id", snap.ID, "kind", apperr.KindOf(err).String(), "error", err)
		return err
	}

	s.markVoted(ctx, snap.ID)
	metrics.IncAction("vote", "success")
	s.logger.Info("vote cast", "poll_id", snap.ID, "options", ids, "voter", voter.UserID)
	return nil
}

func (s *Session) markVoted(ctx context.Context, pollID string) {
	s.mu.Lock()
	s.hasVoted = true
	s.mu.Unlock()
	if err := s.store.MarkVoted(ctx, pollID); err != nil {
		s.logger.Warn("persisting voted flag failed", "poll_id", pollID, "error", err)
	}
}
