package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"beatbattle-controller/internal/app"
	"beatbattle-controller/internal/config"
	"beatbattle-controller/internal/domain"
	"beatbattle-controller/internal/transport/ws"
)

// NewJoinCmd builds the subcommand that joins a room as a controller.
func NewJoinCmd(configPath, serverURL *string) *cobra.Command {
	var room, name string
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a game room as a controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(cmd.Context(), *configPath, *serverURL, room, name)
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room code shared by the host")
	cmd.Flags().StringVar(&name, "name", "", "display name (auto-generated when empty)")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}

func runJoin(ctx context.Context, configPath, serverFlag, room, name string) error {
	cfg, err := config.Load(configPath)
	if err != nil && serverFlag == "" {
		return fmt.Errorf("load config: %w", err)
	}

	url := serverFlag
	if url == "" {
		url = cfg.Server.URL
	}
	if url == "" {
		return fmt.Errorf("no server URL configured (use --server or config)")
	}
	if name == "" {
		name = cfg.Controller.Nickname
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)

	session := app.NewSession(app.Config{
		ServerURL:        url,
		RoomCode:         room,
		Nickname:         name,
		PingInterval:     config.Duration(cfg.Server.Ping, 15*time.Second),
		HandshakeTimeout: config.Duration(cfg.Server.HandshakeTimeout, 10*time.Second),
		WriteTimeout:     config.Duration(cfg.Server.WriteTimeout, 5*time.Second),
		Retry: ws.RetryConfig{
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			BaseDelay:   config.Duration(cfg.Reconnect.BaseDelay, time.Second),
			MaxDelay:    config.Duration(cfg.Reconnect.MaxDelay, 10*time.Second),
		},
		ResyncGrace:   config.Duration(cfg.Controller.ResyncGrace, 2*time.Second),
		PulseDuration: config.Duration(cfg.Controller.Pulse, 200*time.Millisecond),
	}, log)
	defer session.Close()

	session.Open(ctx)

	updates, cancel := session.Subscribe()
	defer cancel()
	go renderLoop(updates)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(strings.ToLower(scanner.Text()))
		}
		close(lines)
	}()

	fmt.Printf("joined room %s as %s — commands: ready, a-d, next, up/down/left/right, ok, retry, leave\n",
		room, session.Nickname())

	for {
		select {
		case <-stop:
			return session.Leave()
		case <-ctx.Done():
			return session.Leave()
		case line, ok := <-lines:
			if !ok {
				return session.Leave()
			}
			if done := handleCommand(session, line); done {
				return session.Leave()
			}
		}
	}
}

func handleCommand(session *app.Session, line string) (done bool) {
	switch line {
	case "":
	case "leave", "quit", "exit":
		return true
	case "ready":
		_ = session.ToggleReady()
	case "next":
		session.RequestNextQuestion()
	case "retry":
		session.Retry()
	case "up", "down", "left", "right":
		session.SendDirection(domain.Direction(line))
	case "ok", "enter", "confirm":
		session.SendConfirm()
	default:
		if id, ok := optionForInput(session.Snapshot(), line); ok {
			_ = session.SubmitAnswer(id)
		} else {
			fmt.Printf("unknown command %q\n", line)
		}
	}
	return false
}

// optionForInput maps "a".."f" (or a literal option id) to an option of the
// current question.
func optionForInput(snap app.Snapshot, line string) (string, bool) {
	if snap.Question == nil {
		return "", false
	}
	opts := snap.Question.Options
	if len(line) == 1 {
		idx := int(line[0] - 'a')
		if idx >= 0 && idx < len(opts) {
			return opts[idx].ID, true
		}
	}
	for _, o := range opts {
		if strings.EqualFold(o.ID, line) {
			return o.ID, true
		}
	}
	return "", false
}

// renderLoop prints the parts of each snapshot that changed.
func renderLoop(updates <-chan app.Snapshot) {
	var prev app.Snapshot
	for snap := range updates {
		if snap.ConnectionState != prev.ConnectionState {
			fmt.Printf("-- connection: %s", snap.ConnectionState)
			if snap.LastError != "" {
				fmt.Printf(" (%s)", snap.LastError)
			}
			fmt.Println()
			if snap.ConnectionState == domain.ConnFailed {
				fmt.Println("-- type 'retry' to reconnect or 'leave' to give up")
			}
		}
		if snap.Notice != "" && snap.Notice != prev.Notice {
			fmt.Printf("!! server: %s\n", snap.Notice)
		}
		if len(snap.Participants) != len(prev.Participants) {
			names := make([]string, 0, len(snap.Participants))
			for _, p := range snap.Participants {
				label := p.DisplayName
				if p.IsHost {
					label += " (host)"
				}
				if p.IsReady {
					label += " *"
				}
				names = append(names, label)
			}
			fmt.Printf("-- room: %s\n", strings.Join(names, ", "))
		}
		if snap.Phase != prev.Phase {
			switch snap.Phase {
			case domain.PhaseCountdown:
				fmt.Printf("-- starting in %d...\n", snap.Countdown)
			case domain.PhaseGameEnded:
				fmt.Println("-- game over!")
			}
		}
		if snap.Question != nil && (prev.Question == nil || snap.Question.ID != prev.Question.ID ||
			snap.Question.Text != prev.Question.Text) {
			renderQuestion(snap)
		}
		if snap.Attempt != nil && (prev.Attempt == nil || snap.Attempt.Outcome != prev.Attempt.Outcome) {
			renderOutcome(snap)
		}
		if snap.CorrectAnswer != "" && snap.CorrectAnswer != prev.CorrectAnswer {
			fmt.Printf("-- correct answer: %s\n", snap.CorrectAnswer)
		}
		prev = snap
	}
}

func renderQuestion(snap app.Snapshot) {
	q := snap.Question
	header := "question"
	if q.OrderIndex > 0 && q.TotalQuestions > 0 {
		header = fmt.Sprintf("question %d/%d", q.OrderIndex, q.TotalQuestions)
	}
	fmt.Printf("\n== %s (%ds): %s\n", header, q.TimeLimitSeconds, q.Text)
	for i, o := range q.Options {
		fmt.Printf("   %c) %s\n", 'a'+i, o.Text)
	}
}

func renderOutcome(snap app.Snapshot) {
	switch snap.Attempt.Outcome {
	case domain.OutcomePending:
		fmt.Printf("-- answered %s, waiting for result...\n", snap.Attempt.SelectedOptionID)
	case domain.OutcomeCorrect:
		fmt.Println("-- correct!")
	case domain.OutcomeIncorrect:
		fmt.Println("-- incorrect")
	case domain.OutcomeTimedOut:
		fmt.Println("-- time's up, waiting for the result...")
	}
}
