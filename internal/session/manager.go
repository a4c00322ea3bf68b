// Package session drives a fixed-length quiz: one question at a time, exactly
// one recorded attempt per question, and a summary once the session is full.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/vquiz/internal/broker"
	"github.com/kalambet/vquiz/internal/capture"
	"github.com/kalambet/vquiz/internal/questions"
	"github.com/kalambet/vquiz/internal/quiz"
)

// DefaultLength is the number of attempts after which a session ends.
const DefaultLength = 10

var (
	ErrNotStarted   = errors.New("no session has been started")
	ErrSessionEnded = errors.New("session has ended")
	ErrNoQuestion   = errors.New("no question is pending")
	// ErrSuperseded is returned when a question fetch or evaluation finishes
	// after its question was skipped, abandoned or answered elsewhere. The
	// late result is discarded.
	ErrSuperseded = errors.New("question was superseded")
)

type State string

const (
	StateActive State = "active"
	StateEnded  State = "ended"
)

// QuestionSource always produces a question.
type QuestionSource interface {
	Next(ctx context.Context, req questions.Request, seen *questions.SeenSet) quiz.Question
}

// Evaluator scores an answer. It never fails; degraded results are flagged.
type Evaluator interface {
	Evaluate(ctx context.Context, q quiz.Question, transcript string, elapsed time.Duration) quiz.Evaluation
}

// AttemptSink receives every recorded attempt. Record must not block.
type AttemptSink interface {
	Record(a quiz.Attempt)
}

// Session is a point-in-time copy of the session state.
type Session struct {
	ID           string          `json:"id"`
	TargetLength int             `json:"target_length"`
	Difficulty   quiz.Difficulty `json:"difficulty"`
	State        State           `json:"state"`
	Attempts     []quiz.Attempt  `json:"attempts"`
	Score        float64         `json:"score"`
	CorrectCount int             `json:"correct_count"`
	Current      *quiz.Question  `json:"current,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	EndedAt      *time.Time      `json:"ended_at,omitempty"`
}

// Deps are the collaborators of a Manager. Sink, SeenStore and OnAbandon are
// optional.
type Deps struct {
	Source    QuestionSource
	Evaluator Evaluator
	Sink      AttemptSink
	Seen      *questions.SeenSet
	SeenStore questions.SeenStore
	UserID    string
	// OnAbandon is called, outside the manager's lock, whenever a pending
	// question is dropped without an attempt so that an in-flight capture
	// can be aborted.
	OnAbandon func()
}

// Manager owns one session at a time. It is safe for concurrent use.
type Manager struct {
	deps   Deps
	length int
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	sess    Session
	request questions.Request
	current *quiz.Question
	// token identifies the pending question; any change to the pending
	// question bumps it so late fetches and evaluations can be discarded.
	token uint64
}

// NewManager creates a manager. length <= 0 uses DefaultLength. No session is
// active until Start is called.
func NewManager(deps Deps, length int) *Manager {
	if length <= 0 {
		length = DefaultLength
	}
	if deps.Seen == nil {
		deps.Seen = questions.NewSeenSet(questions.DefaultSeenCap)
	}
	return &Manager{
		deps:   deps,
		length: length,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// Start begins a fresh session for req, replacing any previous one.
func (m *Manager) Start(req questions.Request) Session {
	if req.Difficulty == "" {
		req.Difficulty = quiz.Easy
	}
	m.mu.Lock()
	m.request = req
	abandoned := m.resetLocked()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.notifyAbandon(abandoned)
	sessionsStarted.Inc()
	m.logger.Info("session started", "session", snap.ID, "difficulty", req.Difficulty)
	return snap
}

// StartNew resets all counters and issues a fresh session identifier,
// keeping the current difficulty and topic.
func (m *Manager) StartNew() Session {
	m.mu.Lock()
	req := m.request
	m.mu.Unlock()
	return m.Start(req)
}

func (m *Manager) resetLocked() bool {
	abandoned := m.current != nil
	m.current = nil
	m.token++
	m.sess = Session{
		ID:           uuid.NewString(),
		TargetLength: m.length,
		Difficulty:   m.request.Difficulty,
		State:        StateActive,
		Attempts:     []quiz.Attempt{},
		StartedAt:    m.now(),
	}
	return abandoned
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Session {
	s := m.sess
	s.Attempts = append([]quiz.Attempt{}, m.sess.Attempts...)
	if m.current != nil {
		q := *m.current
		s.Current = &q
	}
	return s
}

// NextQuestion returns the pending question, fetching a new one when none
// is pending. It fails with broker.ErrReauthenticate when every provider
// credential was rejected.
func (m *Manager) NextQuestion(ctx context.Context) (quiz.Question, error) {
	m.mu.Lock()
	if err := m.activeLocked(); err != nil {
		m.mu.Unlock()
		return quiz.Question{}, err
	}
	if m.current != nil {
		q := *m.current
		m.mu.Unlock()
		return q, nil
	}
	m.token++
	token := m.token
	req := m.request
	m.mu.Unlock()

	q := m.deps.Source.Next(ctx, req, m.deps.Seen)
	m.persistSeen()

	m.mu.Lock()
	defer m.mu.Unlock()
	if token != m.token {
		if m.current != nil {
			return *m.current, nil
		}
		return quiz.Question{}, ErrSuperseded
	}
	if err := ctx.Err(); err != nil {
		return quiz.Question{}, err
	}
	if q.Reauthenticate {
		return quiz.Question{}, broker.ErrReauthenticate
	}
	m.current = &q
	return q, nil
}

func (m *Manager) persistSeen() {
	if m.deps.SeenStore == nil {
		return
	}
	if err := questions.SaveSeenSet(m.deps.SeenStore, m.deps.UserID, m.deps.Seen); err != nil {
		m.logger.Warn("failed to persist seen questions", "error", err)
	}
}

// SubmitAnswer evaluates transcript against the pending question and
// records the attempt. Skip phrases and empty transcripts are recorded as
// skips without calling the evaluator.
func (m *Manager) SubmitAnswer(ctx context.Context, transcript string, elapsed time.Duration) (quiz.Attempt, error) {
	transcript = strings.TrimSpace(transcript)

	m.mu.Lock()
	q, token, err := m.pendingLocked()
	if err != nil {
		m.mu.Unlock()
		return quiz.Attempt{}, err
	}
	if transcript == "" || capture.IsSkipIntent(transcript) {
		a := m.recordLocked(q, quiz.Attempt{
			UserAnswer: transcript,
			Elapsed:    elapsed,
			Outcome:    quiz.OutcomeSkipped,
		})
		m.mu.Unlock()
		m.emit(a)
		return a, nil
	}
	m.mu.Unlock()

	ev := m.deps.Evaluator.Evaluate(ctx, q, transcript, elapsed)

	m.mu.Lock()
	if token != m.token || m.current == nil {
		m.mu.Unlock()
		m.logger.Debug("discarding late evaluation", "question", q.Prompt)
		return quiz.Attempt{}, ErrSuperseded
	}
	if ev.Reauthenticate {
		// The question stays pending so it can be answered once the
		// credentials are fixed.
		m.mu.Unlock()
		return quiz.Attempt{}, broker.ErrReauthenticate
	}
	outcome := quiz.OutcomeEvaluated
	if ev.Degraded {
		outcome = quiz.OutcomeDegraded
	}
	a := m.recordLocked(q, quiz.Attempt{
		UserAnswer:    transcript,
		CorrectAnswer: ev.CorrectAnswer,
		IsCorrect:     ev.IsCorrect,
		Score:         ev.Score,
		Explanation:   ev.Explanation,
		Elapsed:       elapsed,
		Outcome:       outcome,
	})
	m.mu.Unlock()

	m.emit(a)
	return a, nil
}

// Skip records the pending question as skipped.
func (m *Manager) Skip() (quiz.Attempt, error) {
	return m.recordZero(quiz.OutcomeSkipped, 0, "")
}

// RecordTimeout records the pending question as unanswered in time.
func (m *Manager) RecordTimeout(elapsed time.Duration) (quiz.Attempt, error) {
	return m.recordZero(quiz.OutcomeTimeout, elapsed, "")
}

// RecordCaptureError records the pending question as failed because no
// answer could be captured.
func (m *Manager) RecordCaptureError(elapsed time.Duration, cause error) (quiz.Attempt, error) {
	explanation := ""
	if cause != nil {
		explanation = cause.Error()
	}
	return m.recordZero(quiz.OutcomeError, elapsed, explanation)
}

func (m *Manager) recordZero(outcome quiz.Outcome, elapsed time.Duration, explanation string) (quiz.Attempt, error) {
	m.mu.Lock()
	q, _, err := m.pendingLocked()
	if err != nil {
		m.mu.Unlock()
		return quiz.Attempt{}, err
	}
	a := m.recordLocked(q, quiz.Attempt{Elapsed: elapsed, Outcome: outcome, Explanation: explanation})
	m.mu.Unlock()

	m.emit(a)
	return a, nil
}

// ChangeDifficulty drops the pending question without an attempt and
// immediately fetches one at d. Recorded attempts are untouched.
func (m *Manager) ChangeDifficulty(ctx context.Context, d quiz.Difficulty) (quiz.Question, error) {
	m.mu.Lock()
	if err := m.activeLocked(); err != nil {
		m.mu.Unlock()
		return quiz.Question{}, err
	}
	m.request.Difficulty = d
	m.sess.Difficulty = d
	abandoned := m.current != nil
	m.current = nil
	m.token++
	m.mu.Unlock()

	m.notifyAbandon(abandoned)
	m.logger.Info("difficulty changed", "difficulty", d)
	return m.NextQuestion(ctx)
}

// Abandon drops the pending question without recording an attempt.
func (m *Manager) Abandon() {
	m.mu.Lock()
	abandoned := m.current != nil
	m.current = nil
	m.token++
	m.mu.Unlock()
	m.notifyAbandon(abandoned)
}

func (m *Manager) activeLocked() error {
	switch {
	case m.sess.ID == "":
		return ErrNotStarted
	case m.sess.State == StateEnded:
		return ErrSessionEnded
	}
	return nil
}

func (m *Manager) pendingLocked() (quiz.Question, uint64, error) {
	if err := m.activeLocked(); err != nil {
		return quiz.Question{}, 0, err
	}
	if m.current == nil {
		return quiz.Question{}, 0, ErrNoQuestion
	}
	return *m.current, m.token, nil
}

// recordLocked appends the attempt for q and clears the pending question.
func (m *Manager) recordLocked(q quiz.Question, a quiz.Attempt) quiz.Attempt {
	a.ID = uuid.NewString()
	a.SessionID = m.sess.ID
	a.Question = q
	a.Difficulty = q.Difficulty
	if a.CorrectAnswer == "" {
		a.CorrectAnswer = q.Answer
	}
	if a.Score < 0 {
		a.Score = 0
	}
	a.RecordedAt = m.now()

	m.sess.Attempts = append(m.sess.Attempts, a)
	m.sess.Score += a.Score
	if a.IsCorrect {
		m.sess.CorrectCount++
	}
	m.current = nil
	m.token++

	attemptsRecorded.WithLabelValues(string(a.Outcome)).Inc()
	answerSeconds.Observe(a.Elapsed.Seconds())

	if len(m.sess.Attempts) >= m.sess.TargetLength {
		m.sess.State = StateEnded
		ended := a.RecordedAt
		m.sess.EndedAt = &ended
		sessionsCompleted.Inc()
		m.logger.Info("session ended", "session", m.sess.ID, "score", m.sess.Score, "correct", m.sess.CorrectCount)
	}
	return a
}

func (m *Manager) emit(a quiz.Attempt) {
	if m.deps.Sink != nil {
		m.deps.Sink.Record(a)
	}
}

func (m *Manager) notifyAbandon(abandoned bool) {
	if abandoned && m.deps.OnAbandon != nil {
		m.deps.OnAbandon()
	}
}
