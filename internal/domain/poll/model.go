package poll

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

type Status string

const (
	StatusDraft   Status = "DRAFT"
	StatusActive  Status = "ACTIVE"
	StatusClosed  Status = "CLOSED"
	StatusExpired Status = "EXPIRED"
)

type Type string

const (
	SingleChoice   Type = "SINGLE_CHOICE"
	MultipleChoice Type = "MULTIPLE_CHOICE"
)

var (
	ErrQuestionTooShort = errors.New("question must be at least 3 characters")
	ErrOptionCount      = errors.New("poll must have between 2 and 10 options")
	ErrOptionText       = errors.New("option text must be 1-100 characters")
	ErrDuplicateOption  = errors.New("option texts must be unique")
)

type Poll struct {
	ID                 string     `json:"id"`
	ShortCode          string     `json:"shortCode,omitempty"`
	Question           string     `json:"question"`
	PollType           Type       `json:"pollType"`
	Status             Status     `json:"status"`
	AllowMultipleVotes bool       `json:"allowMultipleVotes"`
	CreatedAt          time.Time  `json:"createdAt"`
	EndTime            *time.Time `json:"endTime,omitempty"`
	Options            []Option   `json:"options"`
	TotalVotes         int        `json:"totalVotes"`
}

type Option struct {
	ID    int64  `json:"id"`
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

// Validate checks the constraints the server enforces on creation, so a
// bad poll never leaves the client.
func (p *Poll) Validate() error {
	if len(strings.TrimSpace(p.Question)) < 3 {
		return ErrQuestionTooShort
	}
	if len(p.Options) < 2 || len(p.Options) > 10 {
		return ErrOptionCount
	}
	seen := make(map[string]struct{}, len(p.Options))
	for _, opt := range p.Options {
		text := strings.TrimSpace(opt.Text)
		if len(text) < 1 || len(text) > 100 {
			return ErrOptionText
		}
		key := strings.ToLower(text)
		if _, ok := seen[key]; ok {
			return ErrDuplicateOption
		}
		seen[key] = struct{}{}
	}
	return nil
}

// AllowsMultiple reports whether a ballot may select more than one
// option. Older servers only set the boolean flag, newer ones the poll
// type; either counts.
func (p *Poll) AllowsMultiple() bool {
	return p.AllowMultipleVotes || p.PollType == MultipleChoice
}

// Option returns the option with the given id, or nil.
func (p *Poll) Option(id int64) *Option {
	for i := range p.Options {
		if p.Options[i].ID == id {
			return &p.Options[i]
		}
	}
	return nil
}

// Snapshot is the client-held canonical copy of one poll. The embedded
// Poll holds server-owned fields; everything else is client-only state
// that reconciliation must never touch.
type Snapshot struct {
	Poll

	Selected map[int64]struct{}
	HasVoted bool
}

func NewSnapshot(p Poll) *Snapshot {
	return &Snapshot{
		Poll:     p,
		Selected: make(map[int64]struct{}),
	}
}

// Clone deep-copies the snapshot. Renderers receive clones so they can
// never race with or mutate the canonical copy.
func (s *Snapshot) Clone() *Snapshot {
	out := *s
	out.Options = make([]Option, len(s.Options))
	copy(out.Options, s.Options)
	out.Selected = make(map[int64]struct{}, len(s.Selected))
	for id := range s.Selected {
		out.Selected[id] = struct{}{}
	}
	return &out
}

// Percentage is the integer share of total, rounded half up. A zero
// total is 0%, not an error.
func Percentage(votes, total int) int {
	if total <= 0 {
		return 0
	}
	return int(float64(votes)/float64(total)*100 + 0.5)
}

// SortedByVotes returns the options ordered by descending vote count
// for display. Ties keep their original order; the canonical option
// slice itself is never reordered.
func SortedByVotes(options []Option) []Option {
	out := make([]Option, len(options))
	copy(out, options)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Votes > out[j].Votes
	})
	return out
}

func (s Status) DisplayName() string {
	switch s {
	case StatusDraft:
		return "Draft"
	case StatusActive:
		return "Active"
	case StatusClosed:
		return "Closed"
	case StatusExpired:
		return "Expired"
	default:
		return string(s)
	}
}

// FormatRelativeTime renders a timestamp the way the dashboard shows
// poll age ("just now", "5 minutes ago", ...).
func FormatRelativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%d days ago", int(d.Hours()/24))
	}
}
