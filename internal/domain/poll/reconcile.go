package poll

// Update is one inbound payload from either the realtime channel or the
// wait endpoint. Results maps option text to the current vote count and
// may be partial; Status and Question are only present when the server
// includes them.
type Update struct {
	PollID   string         `json:"pollId"`
	Results  map[string]int `json:"results"`
	Status   Status         `json:"status,omitempty"`
	Question string         `json:"question,omitempty"`
}

// FromPoll converts a full poll (as returned by the wait endpoint) into
// an Update so both channels feed reconciliation the same way.
func FromPoll(p Poll) Update {
	results := make(map[string]int, len(p.Options))
	for _, opt := range p.Options {
		results[opt.Text] = opt.Votes
	}
	return Update{
		PollID:   p.ID,
		Results:  results,
		Status:   p.Status,
		Question: p.Question,
	}
}

// MergeResult reports what a merge changed, so the caller can toggle
// channels and voting UI on status transitions.
type MergeResult struct {
	StatusChanged bool
	From, To      Status
	Applied       int
}

// Merge folds an update into the snapshot. Options are matched by text;
// keys absent from the update keep their prior count (payloads may be
// partial), unknown keys are ignored (no option creation after load).
// TotalVotes is recomputed from scratch afterwards. Client-only fields
// (Selected, HasVoted) are never touched.
func Merge(s *Snapshot, u Update) MergeResult {
	var res MergeResult

	for i := range s.Options {
		if votes, ok := u.Results[s.Options[i].Text]; ok {
			s.Options[i].Votes = votes
			res.Applied++
		}
	}

	total := 0
	for _, opt := range s.Options {
		total += opt.Votes
	}
	s.TotalVotes = total

	if u.Question != "" {
		s.Question = u.Question
	}
	if u.Status != "" && u.Status != s.Status {
		res.StatusChanged = true
		res.From = s.Status
		res.To = u.Status
		s.Status = u.Status
	}
	return res
}
