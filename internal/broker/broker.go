// Package broker runs provider calls across a chain of credentials and a
// priority list of models, skipping pairs that are cooling down.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/vquiz/internal/provider"
	"github.com/kalambet/vquiz/internal/ratelimit"
)

// AuthCooldown keeps a rejected credential out of rotation for the rest of
// the process lifetime in practice.
const AuthCooldown = 24 * time.Hour

var (
	// ErrExhausted matches every failure returned once no pair succeeded.
	ErrExhausted = errors.New("all credential/model pairs exhausted")
	// ErrReauthenticate matches an exhaustion where every pair was rejected
	// for authentication, now or on an earlier call still cooling down.
	ErrReauthenticate = errors.New("please reauthenticate")
)

// ExhaustedError aggregates the messages collected while iterating the chain.
type ExhaustedError struct {
	Messages []string
	authOnly bool
	cause    error
}

func (e *ExhaustedError) Error() string {
	if len(e.Messages) == 0 {
		return ErrExhausted.Error()
	}
	return ErrExhausted.Error() + ": " + strings.Join(e.Messages, "; ")
}

func (e *ExhaustedError) Is(target error) bool {
	switch target {
	case ErrExhausted:
		return true
	case ErrReauthenticate:
		return e.authOnly
	}
	return false
}

func (e *ExhaustedError) Unwrap() error { return e.cause }

// Task is one unit of work bound to a credential/model pair.
type Task func(ctx context.Context, pair ratelimit.Pair) error

// Broker owns iteration, failure classification and cooldown bookkeeping. It
// has no knowledge of what a task does.
type Broker struct {
	models      []string
	credentials []string
	registry    *ratelimit.Registry
	logger      *slog.Logger
}

// New creates a Broker. models are tried best-quality first; credentials in
// the given order for each model.
func New(models, credentials []string, registry *ratelimit.Registry) *Broker {
	if registry == nil {
		registry = ratelimit.NewRegistry(nil)
	}
	return &Broker{
		models:      compact(models),
		credentials: compact(credentials),
		registry:    registry,
		logger:      slog.Default(),
	}
}

// Registry exposes the cooldown table for diagnostics.
func (b *Broker) Registry() *ratelimit.Registry { return b.registry }

// Execute runs task against each eligible pair until one succeeds.
func (b *Broker) Execute(ctx context.Context, task Task) error {
	agg := &ExhaustedError{}
	// authPairs and otherPairs count every pair that could not serve the
	// task, including skipped ones, by whether a credential was rejected.
	attempted, authPairs, otherPairs := 0, 0, 0

	if len(b.models) == 0 || len(b.credentials) == 0 {
		agg.Messages = append(agg.Messages, "no credentials or models configured")
		exhaustedTotal.Inc()
		return agg
	}

models:
	for _, model := range b.models {
		for _, cred := range b.credentials {
			pair := ratelimit.Pair{Credential: cred, Model: model}
			if reason, limited := b.registry.Limit(pair); limited {
				attemptsTotal.WithLabelValues("skipped").Inc()
				if reason == ratelimit.ReasonAuth {
					authPairs++
				} else {
					otherPairs++
				}
				continue
			}

			attempted++
			err := task(ctx, pair)
			if err == nil {
				attemptsTotal.WithLabelValues("success").Inc()
				return nil
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				attemptsTotal.WithLabelValues("canceled").Inc()
				agg.Messages = append(agg.Messages, fmt.Sprintf("%s: %v", pair, err))
				agg.cause = ctxErr
				otherPairs++
				break models
			}

			kind := provider.Classify(err)
			attemptsTotal.WithLabelValues(kind.String()).Inc()
			agg.Messages = append(agg.Messages, fmt.Sprintf("%s: %v", pair, err))

			switch kind {
			case provider.KindRateLimit:
				otherPairs++
				d := b.registry.MarkLimitedHint(pair, provider.RetryHint(err))
				b.logger.Warn("pair rate limited", "pair", pair.String(), "cooldown", d)
			case provider.KindAuth:
				authPairs++
				b.registry.MarkAuthFailed(pair, AuthCooldown)
				b.logger.Warn("credential rejected", "pair", pair.String(), "error", err)
			case provider.KindModelUnavailable:
				otherPairs++
				b.logger.Warn("model unavailable, moving to next model", "model", model, "error", err)
				continue models
			default:
				otherPairs++
				b.logger.Warn("provider call failed", "pair", pair.String(), "kind", kind.String(), "error", err)
			}
		}
	}

	if attempted == 0 {
		agg.Messages = append(agg.Messages, "every pair is cooling down")
	}
	agg.authOnly = authPairs > 0 && otherPairs == 0
	exhaustedTotal.Inc()
	return agg
}

// Run executes fn through b and returns its value.
func Run[T any](ctx context.Context, b *Broker, fn func(ctx context.Context, pair ratelimit.Pair) (T, error)) (T, error) {
	var out T
	err := b.Execute(ctx, func(ctx context.Context, pair ratelimit.Pair) error {
		v, err := fn(ctx, pair)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
