package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/vquiz/internal/broker"
	"github.com/kalambet/vquiz/internal/questions"
	"github.com/kalambet/vquiz/internal/quiz"
	"github.com/kalambet/vquiz/internal/ratelimit"
	"github.com/kalambet/vquiz/internal/session"
	"github.com/kalambet/vquiz/internal/tts"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxSpeechText      = 2000
)

type AppDeps struct {
	Token string
	// NewManager builds an idle manager for one client session.
	NewManager func() *session.Manager
	// Speech is optional; without it POST /tts answers 501.
	Speech tts.Synthesizer
	// Limits lists live credential/model cooldowns. Optional.
	Limits func() []ratelimit.Entry
}

// LimitResponse is one cooling-down pair. The credential is masked.
type LimitResponse struct {
	Pair             string    `json:"pair"`
	Model            string    `json:"model"`
	Expires          time.Time `json:"expires"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

type StartRequest struct {
	Difficulty string `json:"difficulty"`
	Topic      string `json:"topic"`
	Domain     string `json:"domain"`
}

type AnswerRequest struct {
	Transcript     string  `json:"transcript"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

type DifficultyRequest struct {
	Difficulty string `json:"difficulty"`
}

type SpeechRequest struct {
	Text string `json:"text"`
}

type SessionResponse struct {
	Session  session.Session `json:"session"`
	Question *quiz.Question  `json:"question,omitempty"`
}

type AttemptResponse struct {
	Attempt      quiz.Attempt     `json:"attempt"`
	Session      session.Session  `json:"session"`
	NextQuestion *quiz.Question   `json:"next_question,omitempty"`
	Summary      *session.Summary `json:"summary,omitempty"`
	// Reauthenticate reports that the next question could not be fetched
	// because every provider credential was rejected.
	Reauthenticate bool `json:"reauthenticate,omitempty"`
}

// sessions maps live session ids to their managers. A restart issues a new
// id, so the entry is re-keyed.
type sessions struct {
	mu   sync.Mutex
	byID map[string]*session.Manager
}

func (s *sessions) get(id string) (*session.Manager, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	return m, ok
}

func (s *sessions) put(id string, m *session.Manager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id] = m
}

func (s *sessions) rekey(oldID, newID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.byID[oldID]; ok {
		delete(s.byID, oldID)
		s.byID[newID] = m
	}
}

func (s *sessions) remove(id string) (*session.Manager, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	delete(s.byID, id)
	return m, ok
}

// NewAppHandler returns the quiz HTTP API. /health and /metrics are public;
// everything else requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	live := &sessions{byID: make(map[string]*session.Manager)}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(RequireToken(deps.Token))

		r.Post("/sessions", handleStartSession(deps, live))
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", withSession(live, handleGetSession))
			r.Delete("/", handleDeleteSession(live))
			r.Post("/answer", withSession(live, handleAnswer))
			r.Post("/skip", withSession(live, handleSkip))
			r.Post("/timeout", withSession(live, handleTimeout))
			r.Post("/difficulty", withSession(live, handleDifficulty))
			r.Post("/restart", handleRestart(live))
			r.Get("/summary", withSession(live, handleSummary))
		})
		r.Post("/tts", handleSpeech(deps))
		r.Get("/limits", handleLimits(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleLimits(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := []LimitResponse{}
		if deps.Limits != nil {
			now := time.Now()
			for _, e := range deps.Limits() {
				out = append(out, LimitResponse{
					Pair:             e.Pair.String(),
					Model:            e.Pair.Model,
					Expires:          e.Expires,
					RemainingSeconds: int(e.Expires.Sub(now).Round(time.Second) / time.Second),
				})
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, m *session.Manager)

func withSession(live *sessions, h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		m, ok := live.get(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found_error", "session %s not found", id)
			return
		}
		h(w, r, m)
	}
}

func handleStartSession(deps AppDeps, live *sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartRequest
		if !decodeBody(w, r, &req) {
			return
		}
		d, err := quiz.ParseDifficulty(req.Difficulty)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		m := deps.NewManager()
		snap := m.Start(questions.Request{Topic: req.Topic, Domain: req.Domain, Difficulty: d})
		live.put(snap.ID, m)

		q, err := m.NextQuestion(r.Context())
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, SessionResponse{Session: m.Snapshot(), Question: &q})
	}
}

func handleGetSession(w http.ResponseWriter, r *http.Request, m *session.Manager) {
	writeJSON(w, http.StatusOK, SessionResponse{Session: m.Snapshot()})
}

func handleDeleteSession(live *sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		m, ok := live.remove(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found_error", "session %s not found", id)
			return
		}
		m.Abandon()
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleAnswer(w http.ResponseWriter, r *http.Request, m *session.Manager) {
	var req AnswerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	elapsed, ok := parseElapsed(w, req.ElapsedSeconds)
	if !ok {
		return
	}
	a, err := m.SubmitAnswer(r.Context(), req.Transcript, elapsed)
	respondAttempt(w, r, m, a, err)
}

func handleSkip(w http.ResponseWriter, r *http.Request, m *session.Manager) {
	a, err := m.Skip()
	respondAttempt(w, r, m, a, err)
}

func handleTimeout(w http.ResponseWriter, r *http.Request, m *session.Manager) {
	var req AnswerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	elapsed, ok := parseElapsed(w, req.ElapsedSeconds)
	if !ok {
		return
	}
	a, err := m.RecordTimeout(elapsed)
	respondAttempt(w, r, m, a, err)
}

func handleDifficulty(w http.ResponseWriter, r *http.Request, m *session.Manager) {
	var req DifficultyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	d, err := quiz.ParseDifficulty(req.Difficulty)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}
	q, err := m.ChangeDifficulty(r.Context(), d)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Session: m.Snapshot(), Question: &q})
}

func handleRestart(live *sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		oldID := chi.URLParam(r, "id")
		m, ok := live.get(oldID)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found_error", "session %s not found", oldID)
			return
		}
		snap := m.StartNew()
		live.rekey(oldID, snap.ID)

		q, err := m.NextQuestion(r.Context())
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, SessionResponse{Session: m.Snapshot(), Question: &q})
	}
}

func handleSummary(w http.ResponseWriter, r *http.Request, m *session.Manager) {
	writeJSON(w, http.StatusOK, m.Summary())
}

// respondAttempt reports a recorded attempt and, while the session is still
// running, prefetches the next question.
func respondAttempt(w http.ResponseWriter, r *http.Request, m *session.Manager, a quiz.Attempt, err error) {
	if err != nil {
		writeSessionError(w, err)
		return
	}
	resp := AttemptResponse{Attempt: a}
	snap := m.Snapshot()
	if snap.State == session.StateEnded {
		sum := session.Summarize(snap)
		resp.Summary = &sum
	} else {
		q, err := m.NextQuestion(r.Context())
		switch {
		case err == nil:
			resp.NextQuestion = &q
		case errors.Is(err, session.ErrSuperseded), errors.Is(err, context.Canceled):
		case errors.Is(err, broker.ErrReauthenticate):
			resp.Reauthenticate = true
		default:
			slog.Warn("prefetching next question failed", "session", snap.ID, "error", err)
		}
		snap = m.Snapshot()
	}
	resp.Session = snap
	writeJSON(w, http.StatusOK, resp)
}

func handleSpeech(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Speech == nil {
			httpError(w, http.StatusNotImplemented, "not_configured_error", "%v", tts.ErrNotConfigured)
			return
		}
		var req SpeechRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}
		if len(req.Text) > maxSpeechText {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text exceeds %d bytes", maxSpeechText)
			return
		}

		audio, err := deps.Speech.Synthesize(r.Context(), req.Text)
		if errors.Is(err, tts.ErrNotConfigured) {
			httpError(w, http.StatusNotImplemented, "not_configured_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "speech synthesis failed: %v", err)
			return
		}
		w.Header().Set("Content-Type", audio.ContentType)
		w.Write(audio.Data)
	}
}

func parseElapsed(w http.ResponseWriter, seconds float64) (time.Duration, bool) {
	if seconds < 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "elapsed_seconds must not be negative")
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionEnded):
		httpError(w, http.StatusConflict, "session_ended_error", "%v", err)
	case errors.Is(err, session.ErrNoQuestion), errors.Is(err, session.ErrSuperseded), errors.Is(err, session.ErrNotStarted):
		httpError(w, http.StatusConflict, "conflict_error", "%v", err)
	case errors.Is(err, broker.ErrReauthenticate):
		httpError(w, http.StatusUnauthorized, "authentication_error", "please reauthenticate")
	case errors.Is(err, context.DeadlineExceeded):
		httpError(w, http.StatusGatewayTimeout, "timeout_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
