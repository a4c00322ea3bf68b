// Package questions supplies quiz questions from the remote generator, a
// bundled offline bank and, as a last resort, a built-in safety question.
package questions

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/kalambet/vquiz/internal/broker"
	"github.com/kalambet/vquiz/internal/quiz"
)

const (
	// DefaultDedupeAttempts is how many generations are tried to get an
	// unseen prompt before the last one is accepted.
	DefaultDedupeAttempts = 3
	// DefaultRequestTimeout is the hard cap on one generation call.
	DefaultRequestTimeout = 120 * time.Second
)

// Request selects what kind of question to produce.
type Request struct {
	Topic       string          `json:"topic,omitempty"`
	Domain      string          `json:"domain,omitempty"`
	Category    string          `json:"category,omitempty"`
	SubCategory string          `json:"subCategory,omitempty"`
	Difficulty  quiz.Difficulty `json:"difficulty"`
}

// SafetyQuestion is served when both the remote service and the bank fail.
var SafetyQuestion = quiz.Question{
	Prompt: "What is the largest planet in our solar system?",
	Answer: "Jupiter",
	Domain: "science",
	Source: quiz.SourceFallback,
}

// Options tunes a Source. Zero values use the defaults.
type Options struct {
	DedupeAttempts int
	RequestTimeout time.Duration
	// Pick returns an index in [0, n). Defaults to math/rand.
	Pick func(n int) int
}

// Source always produces a question.
type Source struct {
	gen      Generator
	bank     Bank
	attempts int
	timeout  time.Duration
	pick     func(n int) int
	logger   *slog.Logger
}

// NewSource creates a Source. gen may be nil, in which case every question
// comes from the bank.
func NewSource(gen Generator, bank Bank, opts Options) *Source {
	if opts.DedupeAttempts <= 0 {
		opts.DedupeAttempts = DefaultDedupeAttempts
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Pick == nil {
		opts.Pick = rand.IntN
	}
	return &Source{
		gen:      gen,
		bank:     bank,
		attempts: opts.DedupeAttempts,
		timeout:  opts.RequestTimeout,
		pick:     opts.Pick,
		logger:   slog.Default(),
	}
}

// Next returns a question for req and records its prompt in seen before
// returning. Remote failures fall back to the bank; it never fails.
func (s *Source) Next(ctx context.Context, req Request, seen *SeenSet) quiz.Question {
	if req.Difficulty == "" {
		req.Difficulty = quiz.Easy
	}

	q, err := s.remote(ctx, req, seen)
	if err != nil {
		q = s.fallback(req, seen)
		if errors.Is(err, broker.ErrReauthenticate) {
			// Not marked seen: callers surface the credential problem
			// instead of asking this question.
			q.Reauthenticate = true
			servedTotal.WithLabelValues(string(q.Source)).Inc()
			return q
		}
	}
	seen.Add(q.Prompt)
	servedTotal.WithLabelValues(string(q.Source)).Inc()
	return q
}

var errNoGenerator = errors.New("no remote generator")

func (s *Source) remote(ctx context.Context, req Request, seen *SeenSet) (quiz.Question, error) {
	if s.gen == nil {
		return quiz.Question{}, errNoGenerator
	}

	var last quiz.Question
	for i := 0; i < s.attempts; i++ {
		q, err := s.generateOnce(ctx, req, seen.Prompts())
		if err != nil {
			s.logger.Warn("question generation failed, using offline bank", "difficulty", req.Difficulty, "error", err)
			return quiz.Question{}, err
		}
		if !seen.Contains(q.Prompt) {
			return q, nil
		}
		duplicatesTotal.Inc()
		s.logger.Debug("generated question already seen, retrying", "attempt", i+1, "prompt", q.Prompt)
		last = q
	}
	return last, nil
}

func (s *Source) generateOnce(ctx context.Context, req Request, seen []string) (quiz.Question, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.gen.Generate(ctx, req, seen)
}

// fallback picks from the bank, widening the filter from unseen entries in
// the requested domain, to any unseen entry, to any entry at all.
func (s *Source) fallback(req Request, seen *SeenSet) quiz.Question {
	safety := SafetyQuestion
	safety.Difficulty = req.Difficulty

	if s.bank == nil {
		return safety
	}
	entries, err := s.bank.Entries(req.Difficulty)
	if err != nil {
		s.logger.Warn("offline question bank unavailable", "difficulty", req.Difficulty, "error", err)
		return safety
	}
	if len(entries) == 0 {
		return safety
	}

	domain := strings.TrimSpace(req.Domain)
	if domain == "" {
		domain = strings.TrimSpace(req.Topic)
	}

	filters := []func(BankEntry) bool{
		func(e BankEntry) bool { return !seen.Contains(e.Question) },
		func(BankEntry) bool { return true },
	}
	if domain != "" {
		inDomain := func(e BankEntry) bool {
			return strings.EqualFold(e.Domain, domain) && !seen.Contains(e.Question)
		}
		filters = append([]func(BankEntry) bool{inDomain}, filters...)
	}

	for _, keep := range filters {
		var candidates []BankEntry
		for _, e := range entries {
			if keep(e) {
				candidates = append(candidates, e)
			}
		}
		if len(candidates) == 0 {
			continue
		}
		e := candidates[s.pick(len(candidates))]
		return quiz.Question{
			Prompt:     e.Question,
			Answer:     e.Answer,
			Difficulty: req.Difficulty,
			Domain:     e.Domain,
			Source:     quiz.SourceFallback,
		}
	}
	return safety
}
