package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/vquiz/internal/broker"
	"github.com/kalambet/vquiz/internal/config"
	"github.com/kalambet/vquiz/internal/evaluator"
	"github.com/kalambet/vquiz/internal/provider"
	"github.com/kalambet/vquiz/internal/questions"
	"github.com/kalambet/vquiz/internal/ratelimit"
	"github.com/kalambet/vquiz/internal/session"
	"github.com/kalambet/vquiz/internal/sink"
	"github.com/kalambet/vquiz/internal/storage"
	"github.com/kalambet/vquiz/internal/tts"
)

const apiTokenKey = "api_token"

// app holds the process-wide collaborators shared by every session.
type app struct {
	cfg       config.Config
	store     *storage.Store
	registry  *ratelimit.Registry
	broker    *broker.Broker
	bank      questions.Bank
	source    *questions.Source
	evaluator *evaluator.Client
	seen      *questions.SeenSet
	speech    *tts.Client
	recorder  *sink.Recorder
}

func newApp(cfg config.Config) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	bank, err := questions.OpenBank(cfg.Quiz.BankDir)
	if err != nil {
		store.Close()
		return nil, err
	}

	seen, err := questions.LoadSeenSet(store, cfg.User.ID, cfg.Quiz.SeenCap)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("loading seen questions: %w", err)
	}

	registry := ratelimit.NewRegistry(time.Now)
	b := broker.New(cfg.Provider.Models, cfg.Provider.APIKeys, registry)
	client := provider.NewClient(cfg.Provider.BaseURL)

	a := &app{
		cfg:      cfg,
		store:    store,
		registry: registry,
		broker:   b,
		bank:     bank,
		source: questions.NewSource(questions.NewRemoteGenerator(b, client), bank, questions.Options{
			DedupeAttempts: cfg.Quiz.DedupeAttempts,
			RequestTimeout: cfg.Quiz.RequestTimeout,
		}),
		evaluator: evaluator.New(b, client, cfg.Quiz.RequestTimeout),
		seen:      seen,
		speech:    newSpeechClient(cfg.TTS),
	}
	if cfg.Sink.URL != "" {
		a.recorder = sink.NewRecorder(store)
	}

	slog.Debug("app initialized",
		"models", len(cfg.Provider.Models),
		"credentials", len(cfg.Provider.APIKeys),
		"seen", seen.Len(),
		"sink", cfg.Sink.URL != "",
	)
	return a, nil
}

func newSpeechClient(cfg config.TTSConfig) *tts.Client {
	opts := tts.Options{
		Endpoint: cfg.BaseURL,
		Voice:    cfg.Voice,
		CacheTTL: cfg.CacheTTL,
	}
	if args := tts.ParseCommand(cfg.FallbackCommand); args != nil {
		opts.Fallback = tts.CommandSynthesizer{Args: args}
	}
	return tts.NewClient(opts)
}

// speechConfigured reports whether questions can be read aloud at all.
func speechConfigured(cfg config.TTSConfig) bool {
	return cfg.BaseURL != "" || cfg.FallbackCommand != ""
}

// newManager builds an idle session manager sharing the app's seen set.
func (a *app) newManager(onAbandon func()) *session.Manager {
	deps := session.Deps{
		Source:    a.source,
		Evaluator: a.evaluator,
		Seen:      a.seen,
		SeenStore: a.store,
		UserID:    a.cfg.User.ID,
		OnAbandon: onAbandon,
	}
	if a.recorder != nil {
		deps.Sink = a.recorder
	}
	return session.NewManager(deps, a.cfg.Quiz.SessionLength)
}

func (a *app) newSinkWorker() *sink.Worker {
	if a.cfg.Sink.URL == "" {
		return nil
	}
	return sink.NewWorker(a.store, sink.NewHTTPPoster(a.cfg.Sink.URL, ""), a.cfg.Sink.Rate, 0)
}

func (a *app) Close() error {
	return a.store.Close()
}

// KV is the key/value slice of the store the token helpers need.
type KV interface {
	GetValue(key string) (string, error)
	SetValue(key, value string) error
}

// ensureAPIToken returns the bearer token for the HTTP API, generating and
// persisting one on first use.
func ensureAPIToken(kv KV) (string, error) {
	token, err := kv.GetValue(apiTokenKey)
	if err == nil && token != "" {
		return token, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("reading API token: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	token = hex.EncodeToString(buf)
	if err := kv.SetValue(apiTokenKey, token); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return token, nil
}
