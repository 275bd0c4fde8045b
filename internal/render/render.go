package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"livepoll/internal/domain/poll"
)

const barWidth = 40

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	checkStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	promptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)

	statusStyles = map[poll.Status]lipgloss.Style{
		poll.StatusDraft:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		poll.StatusActive:  lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		poll.StatusClosed:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		poll.StatusExpired: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
)

// Renderer draws poll state to a terminal. It only ever receives
// snapshot clones, so it needs no locking of its own.
type Renderer struct {
	out io.Writer
}

func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{out: out}
}

func (r *Renderer) Print(s string) {
	fmt.Fprintln(r.out, s)
}

// Results renders the live results view: the question, the status, and
// a bar per option sorted by votes.
func Results(s *poll.Snapshot, channel string) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(s.Question))
	b.WriteString("  ")
	b.WriteString(statusBadge(s.Status))
	if channel != "" {
		b.WriteString(dimStyle.Render("  [" + channel + "]"))
	}
	b.WriteString("\n\n")

	switch s.Status {
	case poll.StatusDraft:
		b.WriteString(dimStyle.Render("This poll has not started yet."))
		b.WriteString("\n")
		return b.String()
	case poll.StatusActive:
		if s.TotalVotes == 0 {
			b.WriteString(dimStyle.Render("Waiting for participants..."))
			b.WriteString("\n\n")
		}
	}

	for _, opt := range poll.SortedByVotes(s.Options) {
		pct := poll.Percentage(opt.Votes, s.TotalVotes)
		filled := barWidth * pct / 100
		bar := barStyle.Render(strings.Repeat("█", filled)) +
			dimStyle.Render(strings.Repeat("░", barWidth-filled))
		fmt.Fprintf(&b, "%-20s %s %3d%% (%d)\n", truncate(opt.Text, 20), bar, pct, opt.Votes)
	}

	fmt.Fprintf(&b, "\n%s\n", dimStyle.Render(fmt.Sprintf("%d votes total", s.TotalVotes)))
	if s.Status == poll.StatusClosed || s.Status == poll.StatusExpired {
		b.WriteString(dimStyle.Render("Final results. Voting has ended."))
		b.WriteString("\n")
	}
	return b.String()
}

// Ballot renders the voting view: options with selection markers, or
// the post-vote results once the ballot has been cast.
func Ballot(s *poll.Snapshot, selected []int64, hasVoted bool) string {
	if hasVoted {
		return okStyle.Render("Your vote has been recorded.") + "\n\n" + Results(s, "")
	}
	if s.Status != poll.StatusActive {
		return Results(s, "")
	}

	sel := make(map[int64]bool, len(selected))
	for _, id := range selected {
		sel[id] = true
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(s.Question))
	b.WriteString("\n\n")
	for i, opt := range s.Options {
		marker := "[ ]"
		line := fmt.Sprintf("%s %d. %s", marker, i+1, opt.Text)
		if sel[opt.ID] {
			line = checkStyle.Render(fmt.Sprintf("[x] %d. %s", i+1, opt.Text))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	hint := "Pick one option and submit."
	if s.AllowsMultiple() {
		hint = "Pick one or more options and submit."
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(hint))
	b.WriteString("\n")
	return b.String()
}

// Confirmation renders an action's confirmation prompt box.
func Confirmation(title, message, button string) string {
	body := titleStyle.Render(title) + "\n" + message + "\n\n" +
		dimStyle.Render("[y] "+button+"   [n] Cancel")
	return promptStyle.Render(body)
}

// PollList renders the dashboard's poll overview rows.
func PollList(polls []poll.Poll) string {
	if len(polls) == 0 {
		return dimStyle.Render("No polls yet.")
	}
	var b strings.Builder
	for _, p := range polls {
		fmt.Fprintf(&b, "%s  %s  %s  %s\n",
			statusBadge(p.Status),
			titleStyle.Render(truncate(p.Question, 40)),
			dimStyle.Render(fmt.Sprintf("%d votes", p.TotalVotes)),
			dimStyle.Render(poll.FormatRelativeTime(p.CreatedAt)))
	}
	return b.String()
}

func statusBadge(s poll.Status) string {
	style, ok := statusStyles[s]
	if !ok {
		style = dimStyle
	}
	return style.Render(s.DisplayName())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// Toast prints one-line action outcomes; it is the notification sink
// for the action workflow.
type Toast struct {
	out io.Writer
}

func NewToast(out io.Writer) *Toast {
	return &Toast{out: out}
}

func (t *Toast) Success(msg string) {
	fmt.Fprintln(t.out, okStyle.Render("✓ "+msg))
}

func (t *Toast) Failure(msg string) {
	fmt.Fprintln(t.out, errorStyle.Render("✗ "+msg))
}
