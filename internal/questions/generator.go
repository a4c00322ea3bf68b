package questions

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kalambet/vquiz/internal/broker"
	"github.com/kalambet/vquiz/internal/provider"
	"github.com/kalambet/vquiz/internal/quiz"
	"github.com/kalambet/vquiz/internal/ratelimit"
)

// Completer is the chat completion call a generator needs.
type Completer interface {
	Complete(ctx context.Context, apiKey, model string, messages []provider.Message, jsonMode bool) (string, error)
}

// Generator produces one question from the remote service.
type Generator interface {
	Generate(ctx context.Context, req Request, seen []string) (quiz.Question, error)
}

// RemoteGenerator generates questions through the broker's credential/model
// chain.
type RemoteGenerator struct {
	broker *broker.Broker
	client Completer
}

// NewRemoteGenerator creates a generator issuing calls through b.
func NewRemoteGenerator(b *broker.Broker, client Completer) *RemoteGenerator {
	return &RemoteGenerator{broker: b, client: client}
}

type generated struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Generate runs one generation task. A response missing either field is
// malformed and lets the broker move on to the next pair.
func (g *RemoteGenerator) Generate(ctx context.Context, req Request, seen []string) (quiz.Question, error) {
	messages := BuildPrompt(req, seen)
	return broker.Run(ctx, g.broker, func(ctx context.Context, pair ratelimit.Pair) (quiz.Question, error) {
		raw, err := g.client.Complete(ctx, pair.Credential, pair.Model, messages, true)
		if err != nil {
			return quiz.Question{}, err
		}
		return parseGenerated(raw, req)
	})
}

func parseGenerated(raw string, req Request) (quiz.Question, error) {
	var out generated
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &out); err != nil {
		return quiz.Question{}, provider.Malformed("decoding generated question: %v", err)
	}
	out.Question = strings.TrimSpace(out.Question)
	out.Answer = strings.TrimSpace(out.Answer)
	if out.Question == "" {
		return quiz.Question{}, provider.Malformed("generated question is missing %q", "question")
	}
	if out.Answer == "" {
		return quiz.Question{}, provider.Malformed("generated question is missing %q", "answer")
	}

	domain := req.Domain
	if domain == "" {
		domain = req.Topic
	}
	return quiz.Question{
		Prompt:     out.Question,
		Answer:     out.Answer,
		Difficulty: req.Difficulty,
		Domain:     domain,
		Source:     quiz.SourceRemote,
	}, nil
}
