package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/luup-life/luup/internal/assets"
	"github.com/luup-life/luup/internal/authority"
	"github.com/luup-life/luup/internal/client"
	"github.com/luup-life/luup/internal/config"
	"github.com/luup-life/luup/internal/poll"
	"github.com/luup-life/luup/internal/realtime"
	"github.com/luup-life/luup/internal/session"
	"github.com/luup-life/luup/internal/storage/sqlite"
	"github.com/luup-life/luup/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: luup [flags] <command> [args]

Commands:
  list                                 List cached sessions that are still active
  prune                                Drop expired sessions from the local cache
  create <type> [args]                 Create a session and join it
      photo_share <file> [file...]
      chat_room <room name>
      whiteboard
      quick_poll <min_responses> <question> [question...]
  join <type> <session-id>             Join an existing session
  submit <session-id> <answer...>      Submit quick poll answers (yes/no/maybe)
  delete <session-id>                  Remove a session from the local cache

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting luup",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	storage, err := sqlite.NewSessionStorage(cfg.Storage.SQLitePath, log)
	if err != nil {
		log.Error("Failed to open session cache", logger.Error(err))
		os.Exit(1)
	}
	defer storage.Close()

	auth := authority.NewClient(
		cfg.Server.BaseURL,
		time.Duration(cfg.Server.RequestTimeoutSeconds)*time.Second,
		log,
	)
	dialer := realtime.NewDialer(
		time.Duration(cfg.Realtime.HandshakeTimeoutSeconds)*time.Second,
		cfg.Realtime.SendBufferSize,
		log,
	)
	channels := realtime.NewManager(dialer, log)
	guard := assets.NewGuard(
		auth,
		cfg.Assets.MaxRetries,
		time.Duration(cfg.Assets.BackoffStepMs)*time.Millisecond,
		log,
	)

	expired := make(chan string, 1)
	events := client.Events{
		OnCountdown: func(sessionID string, remaining time.Duration) {
			fmt.Printf("\r%s expires in %s   ", sessionID, remaining.Round(time.Second))
		},
		OnExpired: func(sessionID string) {
			fmt.Printf("\nSession %s expired\n", sessionID)
			select {
			case expired <- sessionID:
			default:
			}
		},
		OnChat: func(_ string, ev realtime.ChatEvent) {
			who := ev.User
			if who == "" {
				who = "peer"
			}
			fmt.Printf("\n[%s] %s\n", who, ev.Text)
		},
		OnDraw: func(_ string, ev realtime.DrawEvent) {
			fmt.Printf("\ndraw (%.1f, %.1f)\n", ev.X, ev.Y)
		},
		OnChannelDown: func(sessionID string, err error) {
			fmt.Printf("\nRealtime channel down for %s: %v\n", sessionID, err)
		},
		OnAssetLoaded: func(sessionID, filename string, data []byte) {
			fmt.Printf("Photo %s ready (%d bytes)\n", filename, len(data))
		},
		OnAssetFailed: func(sessionID, filename string, err error) {
			fmt.Printf("Photo %s failed: %v\n", filename, err)
		},
	}

	engine := client.New(cfg, storage, auth, channels, guard, events, log)
	engine.Start()
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := run(ctx, engine, expired, flag.Args()); err != nil {
		log.Error("Command failed", logger.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, engine *client.Client, expired <-chan string, args []string) error {
	switch args[0] {
	case "list":
		return runList(engine)
	case "prune":
		n, err := engine.PruneCache()
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d expired sessions\n", n)
		return nil
	case "create":
		return runCreate(ctx, engine, expired, args[1:])
	case "join":
		return runJoin(ctx, engine, expired, args[1:])
	case "submit":
		return runSubmit(ctx, engine, args[1:])
	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("usage: delete <session-id>")
		}
		if err := engine.DeleteStoredSession(args[1]); err != nil {
			return err
		}
		fmt.Printf("Removed %s from the local cache\n", args[1])
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runList(engine *client.Client) error {
	records, err := engine.ListActiveSessions()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No active sessions in the local cache")
		return nil
	}
	now := time.Now().UTC()
	for _, rec := range records {
		fmt.Printf("%s  %-12s  expires in %s\n",
			rec.ID, rec.Type, rec.Remaining(now).Round(time.Second))
	}
	return nil
}

func runCreate(ctx context.Context, engine *client.Client, expired <-chan string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: create <type> [args]")
	}
	typ, err := session.ParseType(args[0])
	if err != nil {
		return err
	}

	params := authority.CreateParams{}
	switch typ {
	case session.TypePhotoShare:
		params.Files = args[1:]
	case session.TypeChatRoom:
		params.RoomName = strings.Join(args[1:], " ")
	case session.TypeQuickPoll:
		if len(args) < 3 {
			return fmt.Errorf("usage: create quick_poll <min_responses> <question> [question...]")
		}
		if _, err := fmt.Sscanf(args[1], "%d", &params.MinResponses); err != nil {
			return fmt.Errorf("min_responses must be a number: %w", err)
		}
		params.Questions = args[2:]
	}

	view, err := engine.CreateSession(ctx, typ, params)
	if err != nil {
		return err
	}
	fmt.Printf("Created %s session %s (expires %s)\n",
		view.Record.Type, view.Record.ID, view.Record.ExpiresAt.Format(time.RFC3339))
	return attach(ctx, engine, expired)
}

func runJoin(ctx context.Context, engine *client.Client, expired <-chan string, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: join <type> <session-id>")
	}
	typ, err := session.ParseType(args[0])
	if err != nil {
		return err
	}
	view, err := engine.JoinSession(ctx, args[1], typ)
	if err != nil {
		return err
	}
	fmt.Printf("Joined %s session %s (expires %s)\n",
		view.Record.Type, view.Record.ID, view.Record.ExpiresAt.Format(time.RFC3339))
	return attach(ctx, engine, expired)
}

func runSubmit(ctx context.Context, engine *client.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: submit <session-id> <answer...>")
	}
	answers := make([]poll.Answer, 0, len(args)-1)
	for _, a := range args[1:] {
		answers = append(answers, poll.Answer(a))
	}
	outcome, err := engine.SubmitPollResponse(ctx, args[0], answers)
	if err != nil {
		return err
	}
	fmt.Printf("Recorded response %d of %d\n", outcome.State.ResponseCount, outcome.State.MinResponses)
	if outcome.State.ResultsShown {
		printResults(outcome.Results)
	} else {
		fmt.Println("Results are hidden until the response quorum is reached")
	}
	return nil
}

func printResults(results []poll.QuestionResult) {
	for i, qr := range results {
		fmt.Printf("%d. %s\n", i+1, qr.Question)
		for _, ans := range []poll.Answer{poll.AnswerYes, poll.AnswerNo, poll.AnswerMaybe} {
			opt := qr.Options[ans]
			fmt.Printf("   %-5s %3d%% (%d)\n", ans, opt.Percent, opt.Count)
		}
	}
}

// attach keeps the process in the session until expiry or interrupt.
// Realtime and gallery events print as they arrive.
func attach(ctx context.Context, engine *client.Client, expired <-chan string) error {
	fmt.Println("Attached. Press Ctrl+C to leave.")
	select {
	case <-ctx.Done():
		engine.ExitSession()
		fmt.Println("\nLeft session")
	case <-expired:
	}
	return nil
}
