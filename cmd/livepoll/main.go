package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"livepoll/internal/action"
	"livepoll/internal/api"
	"livepoll/internal/config"
	"livepoll/internal/domain/poll"
	"livepoll/internal/metrics"
	"livepoll/internal/platform/identity"
	"livepoll/internal/platform/token"
	"livepoll/internal/render"
	"livepoll/internal/retry"
	syncctl "livepoll/internal/sync"
	"livepoll/internal/voting"
)

const usage = `livepoll - live poll client

Usage:
  livepoll list                   list all polls (--active for running ones)
  livepoll create <question> <option>...   create a draft poll (--multiple)
  livepoll watch   <id|code>      follow live results
  livepoll present <id|code>      presentation view with share code
  livepoll vote    <id|code>      cast a ballot
  livepoll action  <type> <id>    run a poll action (activate, close, delete)

Flags:
`

func main() {
	verbose := pflag.BoolP("verbose", "v", false, "debug logging")
	activeOnly := pflag.Bool("active", false, "list only active polls")
	multiple := pflag.Bool("multiple", false, "create a multiple-choice poll")
	apiURL := pflag.String("api-url", "", "API base URL (overrides LIVEPOLL_API_URL)")
	wsURL := pflag.String("ws-url", "", "websocket base URL (overrides LIVEPOLL_WS_URL)")
	bearer := pflag.String("token", "", "bearer token (overrides LIVEPOLL_TOKEN)")
	metricsAddr := pflag.String("metrics-addr", "", "Prometheus listen address (overrides LIVEPOLL_METRICS_ADDR)")
	pflag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		pflag.PrintDefaults()
	}
	pflag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := config.Load()
	if *apiURL != "" {
		cfg.APIBaseURL = *apiURL
	}
	if *wsURL != "" {
		cfg.WSBaseURL = *wsURL
	}
	if *bearer != "" {
		cfg.Token = *bearer
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	if err := run(cfg, logger, pflag.Args(), cliFlags{activeOnly: *activeOnly, multiple: *multiple}); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	activeOnly bool
	multiple   bool
}

func run(cfg config.Config, logger *slog.Logger, args []string, flags cliFlags) error {
	if len(args) == 0 {
		pflag.Usage()
		return fmt.Errorf("no command given")
	}

	if cfg.Token != "" {
		if claims, err := token.Inspect(cfg.Token); err != nil {
			logger.Warn("bearer token is not parseable, sending it anyway", "error", err)
		} else if claims.Expired(time.Now()) {
			logger.Warn("bearer token is expired, requests will likely be rejected",
				"subject", claims.Subject, "expired_at", claims.ExpiresAt)
		}
	}

	metrics.Register()
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	client := api.NewClient(cfg.APIBaseURL, cfg.Token, cfg.RequestTimeout, cfg.WaitTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "list":
		return runList(ctx, client, flags.activeOnly)
	case "create":
		return runCreate(ctx, client, rest, flags.multiple)
	case "watch":
		return runWatch(ctx, cfg, client, logger, rest, false)
	case "present":
		return runWatch(ctx, cfg, client, logger, rest, true)
	case "vote":
		return runVote(ctx, cfg, client, logger, rest)
	case "action":
		return runAction(ctx, client, logger, rest)
	default:
		pflag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func serveMetrics(addr string, logger *slog.Logger) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Warn("metrics listener stopped", "error", err)
	}
}

// loadPoll resolves a poll by id or short code, retrying transient
// startup failures.
func loadPoll(ctx context.Context, client *api.Client, idOrCode string) (*poll.Poll, error) {
	var p *poll.Poll
	err := retry.Do(ctx, 3, retry.Linear(time.Second), func() error {
		var err error
		p, err = client.ResolvePoll(ctx, idOrCode)
		return err
	})
	return p, err
}

func runList(ctx context.Context, client *api.Client, activeOnly bool) error {
	var (
		polls []poll.Poll
		err   error
	)
	if activeOnly {
		polls, err = client.ActivePolls(ctx)
	} else {
		polls, err = client.ListPolls(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Println(render.PollList(polls))
	return nil
}

func runCreate(ctx context.Context, client *api.Client, args []string, multiple bool) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: livepoll create <question> <option> <option>...")
	}
	p := &poll.Poll{
		Question: args[0],
		PollType: poll.SingleChoice,
	}
	if multiple {
		p.PollType = poll.MultipleChoice
		p.AllowMultipleVotes = true
	}
	for _, text := range args[1:] {
		p.Options = append(p.Options, poll.Option{Text: text})
	}

	created, err := client.CreatePoll(ctx, p)
	if err != nil {
		return err
	}
	fmt.Printf("Created poll %s", created.ID)
	if created.ShortCode != "" {
		fmt.Printf(" (code %s)", created.ShortCode)
	}
	fmt.Println()
	return nil
}

func runWatch(ctx context.Context, cfg config.Config, client *api.Client, logger *slog.Logger, args []string, present bool) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: livepoll watch <id|code>")
	}
	p, err := loadPoll(ctx, client, args[0])
	if err != nil {
		return err
	}

	out := render.NewRenderer(os.Stdout)
	if present {
		printShareInfo(ctx, client, p, out, logger)
	}

	var ctl *syncctl.Controller
	ctl = syncctl.NewController(client, cfg.WSBaseURL, poll.NewSnapshot(*p), syncctl.Options{
		SafetyNet:     present,
		ReconnectBase: cfg.ReconnectBase,
		MaxReconnects: cfg.ReconnectRetries,
		OnUpdate: func(s *poll.Snapshot, _ poll.MergeResult) {
			out.Print("\033[H\033[2J" + render.Results(s, ctl.Kind().String()))
		},
	}, logger)

	out.Print(render.Results(ctl.Snapshot(), ""))
	ctl.Start(ctx)
	defer ctl.Stop()

	if present {
		// Periodic full-results refresh on top of both sync channels, in
		// case a partial push was missed. The merge is idempotent.
		go refreshResults(ctx, client, ctl, logger)
	}

	<-ctx.Done()

	if present {
		if final := ctl.Snapshot(); final.Status == poll.StatusClosed || final.Status == poll.StatusExpired {
			out.Print("Export results: " + client.ExportCSVURL(final.ID) + "  " + client.ExportXMLURL(final.ID))
		}
	}
	return nil
}

func refreshResults(ctx context.Context, client *api.Client, ctl *syncctl.Controller, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := ctl.Snapshot()
			results, err := client.Results(ctx, snap.ID)
			if err != nil {
				logger.Debug("results refresh failed", "poll_id", snap.ID, "error", err)
				continue
			}
			ctl.Apply(poll.Update{PollID: snap.ID, Results: results})
		}
	}
}

// printShareInfo shows how participants can join: the short code, and a
// QR code written next to the current directory if the server provides
// one.
func printShareInfo(ctx context.Context, client *api.Client, p *poll.Poll, out *render.Renderer, logger *slog.Logger) {
	if p.ShortCode == "" {
		return
	}
	out.Print("Join with code: " + p.ShortCode)

	svg, err := client.QRCode(ctx, p.ShortCode, 300, 2)
	if err != nil {
		logger.Debug("qr code unavailable", "error", err)
		return
	}
	name := "poll-" + p.ShortCode + ".svg"
	if err := os.WriteFile(name, svg, 0o644); err != nil {
		logger.Debug("writing qr code failed", "error", err)
		return
	}
	out.Print("QR code saved to " + name)
	out.Print("")
}

func runVote(ctx context.Context, cfg config.Config, client *api.Client, logger *slog.Logger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: livepoll vote <id|code>")
	}
	p, err := loadPoll(ctx, client, args[0])
	if err != nil {
		return err
	}

	store, err := identity.Open(cfg.StorePath, logger)
	if err != nil {
		return fmt.Errorf("open identity store: %w", err)
	}
	defer store.Close()

	out := render.NewRenderer(os.Stdout)
	toast := render.NewToast(os.Stdout)

	var session *voting.Session
	ctl := syncctl.NewController(client, cfg.WSBaseURL, poll.NewSnapshot(*p), syncctl.Options{
		ReconnectBase: cfg.ReconnectBase,
		MaxReconnects: cfg.ReconnectRetries,
		OnUpdate: func(s *poll.Snapshot, res poll.MergeResult) {
			if session == nil {
				return
			}
			// A waiting voter discovers activation here; after voting the
			// view keeps following the results.
			if res.StatusChanged || session.HasVoted() {
				out.Print(render.Ballot(s, session.Selected(), session.HasVoted()))
			}
		},
	}, logger)
	session = voting.NewSession(client, store, ctl.Snapshot, logger)
	if err := session.Init(ctx); err != nil {
		return err
	}

	ctl.Start(ctx)
	defer ctl.Stop()

	out.Print(render.Ballot(ctl.Snapshot(), session.Selected(), session.HasVoted()))
	if session.HasVoted() {
		<-ctx.Done()
		return nil
	}

	out.Print("Type an option number to select, 's' to submit, 'q' to quit.")
	lines := readLines(ctx, os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok || line == "q" {
				return nil
			}
			switch {
			case line == "s":
				if err := session.Submit(ctx); err != nil {
					toast.Failure(err.Error())
					continue
				}
				toast.Success("Your vote has been recorded.")
				out.Print(render.Ballot(ctl.Snapshot(), nil, true))
				// Keep following the results until interrupted.
				<-ctx.Done()
				return nil
			default:
				n, err := strconv.Atoi(line)
				if err != nil {
					continue
				}
				snap := ctl.Snapshot()
				if n < 1 || n > len(snap.Options) {
					toast.Failure("no such option")
					continue
				}
				if err := session.Toggle(snap.Options[n-1].ID); err != nil {
					toast.Failure(err.Error())
					continue
				}
				out.Print(render.Ballot(snap, session.Selected(), false))
			}
		}
	}
}

func runAction(ctx context.Context, client *api.Client, logger *slog.Logger, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: livepoll action <activate|close|delete> <id|code>")
	}
	act := action.Action(args[0])
	prompt, ok := action.PromptFor(act)
	if !ok {
		return fmt.Errorf("unknown action %q", args[0])
	}

	p, err := loadPoll(ctx, client, args[1])
	if err != nil {
		return err
	}

	toast := render.NewToast(os.Stdout)
	wf := action.NewWorkflow(client, toast, nil, logger)
	if _, ok := wf.Trigger(act, p.ID, p, nil); !ok {
		return fmt.Errorf("action could not be started")
	}

	fmt.Println(render.Confirmation(prompt.Title, prompt.Message, prompt.ButtonLabel))
	answer := <-readLines(ctx, os.Stdin)
	if strings.ToLower(answer) != "y" {
		wf.Cancel()
		fmt.Println("Cancelled.")
		return nil
	}

	fmt.Println(prompt.LoadingLabel)
	return wf.Confirm(ctx)
}

// readLines feeds trimmed stdin lines to a channel so input can be
// selected alongside context cancellation.
func readLines(ctx context.Context, r *os.File) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case out <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
