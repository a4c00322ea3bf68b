package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/vquiz/internal/capture"
	"github.com/kalambet/vquiz/internal/config"
	"github.com/kalambet/vquiz/internal/questions"
	"github.com/kalambet/vquiz/internal/quiz"
	"github.com/kalambet/vquiz/internal/session"
	"github.com/kalambet/vquiz/internal/tts"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play a quiz session in the terminal",
	Long: `Play a quiz session in the terminal.

Each typed line is taken as your spoken answer. Say "skip" or "next" to
pass on a question. The question countdown and silence watchdog apply
exactly as they do for voice input.

Examples:
  vquiz play
  vquiz play --difficulty hard --domain history
  vquiz play --topic "space exploration" --no-speech`,
	RunE: func(cmd *cobra.Command, args []string) error {
		difficulty, _ := cmd.Flags().GetString("difficulty")
		topic, _ := cmd.Flags().GetString("topic")
		domain, _ := cmd.Flags().GetString("domain")
		noSpeech, _ := cmd.Flags().GetBool("no-speech")

		d, err := quiz.ParseDifficulty(difficulty)
		if err != nil {
			return err
		}

		cfg, err := config.LoadOptional()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level, slog.LevelWarn)
		if len(cfg.Provider.APIKeys) == 0 {
			printWarning("No provider API keys configured; questions come from the offline bank and answers are not graded.")
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var speaker session.Speaker
		if !noSpeech && speechConfigured(cfg.TTS) {
			if player := tts.ParseCommand(cfg.TTS.Player); player != nil {
				speaker = tts.Speaker{Synth: a.speech, Player: tts.CommandPlayer{Args: player}}
			}
		}

		return playSession(ctx, a, questions.Request{Topic: topic, Domain: domain, Difficulty: d}, os.Stdin, speaker)
	},
}

func init() {
	playCmd.Flags().String("difficulty", "easy", "easy, medium or hard")
	playCmd.Flags().String("topic", "", "optional topic hint")
	playCmd.Flags().String("domain", "", "optional subject domain")
	playCmd.Flags().Bool("no-speech", false, "do not read questions aloud")
}

func playSession(ctx context.Context, a *app, req questions.Request, in io.Reader, speaker session.Speaker) error {
	ctrl := capture.NewController(capture.NewTextRecognizer(in), capture.Options{
		QuestionTimeout: a.cfg.Quiz.QuestionTimeout,
		SilenceTimeout:  a.cfg.Quiz.SilenceTimeout,
		OnUpdate:        countdownPrinter(),
	})
	m := a.newManager(func() { ctrl.Abort() })

	var wg sync.WaitGroup
	workerCtx, cancelWorker := context.WithCancel(ctx)
	if worker := a.newSinkWorker(); worker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(workerCtx)
		}()
	}
	defer func() {
		cancelWorker()
		wg.Wait()
	}()

	printStep("Starting a %s session of %d questions", req.Difficulty, a.cfg.Quiz.SessionLength)
	m.Start(req)
	runner := session.NewRunner(m, ctrl, speaker, session.Hooks{
		Question: func(n int, q quiz.Question) { printQuestion(n, a.cfg.Quiz.SessionLength, q) },
		Attempt:  printAttempt,
	})

	sum, err := runner.Play(ctx)
	fmt.Fprintln(os.Stderr)
	printSummary(sum)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		printWarning("Session interrupted")
		return nil
	case errors.Is(err, capture.ErrUnavailable):
		return fmt.Errorf("answer input is not available: %w", err)
	}
	return err
}

// countdownPrinter reports the remaining time every ten seconds.
func countdownPrinter() func(capture.Update) {
	var mu sync.Mutex
	var last time.Duration
	return func(u capture.Update) {
		if u.State != capture.StateListening || u.Remaining <= 0 {
			return
		}
		if u.Remaining%(10*time.Second) != 0 && u.Remaining > 5*time.Second {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if u.Remaining == last {
			return
		}
		last = u.Remaining
		printCountdown(u.Remaining)
	}
}
