// Package evaluator scores a spoken answer through the broker and degrades
// to a zero score when no provider pair can do it.
package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/kalambet/vquiz/internal/broker"
	"github.com/kalambet/vquiz/internal/provider"
	"github.com/kalambet/vquiz/internal/questions"
	"github.com/kalambet/vquiz/internal/quiz"
	"github.com/kalambet/vquiz/internal/ratelimit"
)

const (
	// DefaultTimeout is the hard cap on one evaluation.
	DefaultTimeout = 120 * time.Second

	degradedExplanation = "The answer could not be evaluated right now."
)

const systemPrompt = `You are grading a spoken quiz answer. The answer was transcribed from speech, so ignore spelling, filler words and minor transcription errors. Your output must be ONLY a single valid JSON object of the form {"isCorrect": true|false, "score": <number>, "explanation": "...", "correctAnswer": "..."}. Do not include any other text, prose, or markdown.`

// Completer is the chat completion call the evaluator needs.
type Completer interface {
	Complete(ctx context.Context, apiKey, model string, messages []provider.Message, jsonMode bool) (string, error)
}

// Client evaluates answers.
type Client struct {
	broker  *broker.Broker
	client  Completer
	timeout time.Duration
	logger  *slog.Logger
}

// New creates an evaluator. timeout <= 0 uses DefaultTimeout.
func New(b *broker.Broker, client Completer, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{broker: b, client: client, timeout: timeout, logger: slog.Default()}
}

// Evaluate scores transcript against q. It never fails: when every pair is
// exhausted, or the call times out, a degraded result is returned.
func (c *Client) Evaluate(ctx context.Context, q quiz.Question, transcript string, elapsed time.Duration) quiz.Evaluation {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := BuildPrompt(q, transcript, elapsed)
	ev, err := broker.Run(ctx, c.broker, func(ctx context.Context, pair ratelimit.Pair) (quiz.Evaluation, error) {
		raw, err := c.client.Complete(ctx, pair.Credential, pair.Model, messages, true)
		if err != nil {
			return quiz.Evaluation{}, err
		}
		return parseEvaluation(raw)
	})
	if err != nil {
		c.logger.Warn("answer evaluation failed, returning degraded result", "error", err)
		evaluationsTotal.WithLabelValues("degraded").Inc()
		d := Degraded(q)
		d.Reauthenticate = errors.Is(err, broker.ErrReauthenticate)
		return d
	}

	if ev.CorrectAnswer == "" {
		ev.CorrectAnswer = q.Answer
	}
	evaluationsTotal.WithLabelValues("evaluated").Inc()
	return ev
}

// Degraded is the result used when no evaluation could be obtained.
func Degraded(q quiz.Question) quiz.Evaluation {
	return quiz.Evaluation{
		IsCorrect:     false,
		Score:         0,
		Explanation:   degradedExplanation,
		CorrectAnswer: q.Answer,
		Degraded:      true,
	}
}

// BuildPrompt constructs the chat messages for one evaluation.
func BuildPrompt(q quiz.Question, transcript string, elapsed time.Duration) []provider.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n", q.Prompt)
	if q.Answer != "" {
		fmt.Fprintf(&sb, "Expected answer: %s\n", q.Answer)
	}
	fmt.Fprintf(&sb, "User answer: %s\n", transcript)
	fmt.Fprintf(&sb, "Time taken (seconds): %d\n", int(elapsed.Round(time.Second)/time.Second))
	fmt.Fprintf(&sb, "Difficulty: %s\n", q.Difficulty)

	return []provider.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: sb.String()},
	}
}

// evaluationResponse uses pointers so missing required fields are detectable.
type evaluationResponse struct {
	IsCorrect     *bool    `json:"isCorrect"`
	Score         *float64 `json:"score"`
	Explanation   string   `json:"explanation"`
	CorrectAnswer string   `json:"correctAnswer"`
}

func parseEvaluation(raw string) (quiz.Evaluation, error) {
	var resp evaluationResponse
	if err := json.Unmarshal([]byte(questions.ExtractJSON(raw)), &resp); err != nil {
		return quiz.Evaluation{}, provider.Malformed("decoding evaluation: %v", err)
	}
	if resp.IsCorrect == nil {
		return quiz.Evaluation{}, provider.Malformed("evaluation is missing %q", "isCorrect")
	}
	if resp.Score == nil {
		return quiz.Evaluation{}, provider.Malformed("evaluation is missing %q", "score")
	}

	score := *resp.Score
	if math.IsNaN(score) || score < 0 {
		score = 0
	}
	return quiz.Evaluation{
		IsCorrect:     *resp.IsCorrect,
		Score:         score,
		Explanation:   strings.TrimSpace(resp.Explanation),
		CorrectAnswer: strings.TrimSpace(resp.CorrectAnswer),
	}, nil
}
