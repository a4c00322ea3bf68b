package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kalambet/vquiz/internal/capture"
	"github.com/kalambet/vquiz/internal/quiz"
)

// Speaker reads a question aloud.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Capturer runs one capture episode.
type Capturer interface {
	Capture(ctx context.Context) (capture.Result, error)
}

// Hooks let a front end follow the loop. All fields are optional.
type Hooks struct {
	Question func(n int, q quiz.Question)
	Attempt  func(a quiz.Attempt)
}

// Runner drives fetch, speak, capture, evaluate and record until the
// session ends.
type Runner struct {
	manager  *Manager
	capturer Capturer
	speaker  Speaker
	hooks    Hooks
	logger   *slog.Logger
}

// NewRunner creates a runner. speaker may be nil.
func NewRunner(m *Manager, c Capturer, speaker Speaker, hooks Hooks) *Runner {
	return &Runner{manager: m, capturer: c, speaker: speaker, hooks: hooks, logger: slog.Default()}
}

// Play runs questions until the session ends or ctx is cancelled. A
// platform without speech recognition stops the loop with
// capture.ErrUnavailable after the failed question is recorded.
func (r *Runner) Play(ctx context.Context) (Summary, error) {
	for {
		if err := ctx.Err(); err != nil {
			return r.manager.Summary(), err
		}

		q, err := r.manager.NextQuestion(ctx)
		if errors.Is(err, ErrSessionEnded) {
			return r.manager.Summary(), nil
		}
		if errors.Is(err, ErrSuperseded) {
			continue
		}
		if err != nil {
			return r.manager.Summary(), err
		}

		if r.hooks.Question != nil {
			r.hooks.Question(len(r.manager.Snapshot().Attempts)+1, q)
		}
		if r.speaker != nil {
			if err := r.speaker.Speak(ctx, q.Prompt); err != nil {
				r.logger.Warn("could not read question aloud", "error", err)
			}
		}

		res, err := r.capturer.Capture(ctx)
		if err != nil {
			return r.manager.Summary(), err
		}
		if err := ctx.Err(); err != nil {
			return r.manager.Summary(), err
		}

		var a quiz.Attempt
		switch res.Kind {
		case capture.KindFinalized:
			a, err = r.manager.SubmitAnswer(ctx, res.Transcript, res.Elapsed)
		case capture.KindTimeout:
			a, err = r.manager.RecordTimeout(res.Elapsed)
		default:
			if errors.Is(res.Err, capture.ErrAborted) {
				// The question was abandoned; the next loop picks up
				// whatever replaced it.
				continue
			}
			a, err = r.manager.RecordCaptureError(res.Elapsed, res.Err)
		}

		switch {
		case errors.Is(err, ErrSuperseded), errors.Is(err, ErrNoQuestion):
			continue
		case err != nil && !errors.Is(err, ErrSessionEnded):
			return r.manager.Summary(), err
		}
		if err == nil && r.hooks.Attempt != nil {
			r.hooks.Attempt(a)
		}
		if errors.Is(res.Err, capture.ErrUnavailable) {
			return r.manager.Summary(), res.Err
		}
	}
}
