package sink

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/vquiz/internal/quiz"
	"github.com/kalambet/vquiz/internal/storage"
)

// Enqueuer is the outbox write the recorder needs.
type Enqueuer interface {
	Enqueue(d storage.Delivery) error
}

// Record is the wire shape of one attempt.
type Record struct {
	AttemptID     string          `json:"attemptId"`
	SessionID     string          `json:"sessionId"`
	Question      string          `json:"question"`
	UserAnswer    string          `json:"userAnswer"`
	CorrectAnswer string          `json:"correctAnswer"`
	IsCorrect     bool            `json:"isCorrect"`
	Score         float64         `json:"score"`
	Difficulty    quiz.Difficulty `json:"difficulty"`
	Domain        string          `json:"domain,omitempty"`
	Outcome       quiz.Outcome    `json:"outcome"`
	TimeTaken     float64         `json:"timeTaken"`
	RecordedAt    string          `json:"recordedAt"`
}

// NewRecord converts an attempt to its wire shape.
func NewRecord(a quiz.Attempt) Record {
	return Record{
		AttemptID:     a.ID,
		SessionID:     a.SessionID,
		Question:      a.Question.Prompt,
		UserAnswer:    a.UserAnswer,
		CorrectAnswer: a.CorrectAnswer,
		IsCorrect:     a.IsCorrect,
		Score:         a.Score,
		Difficulty:    a.Difficulty,
		Domain:        a.Question.Domain,
		Outcome:       a.Outcome,
		TimeTaken:     a.Elapsed.Seconds(),
		RecordedAt:    a.RecordedAt.UTC().Format(time.RFC3339),
	}
}

// Recorder enqueues attempts into the outbox. It never blocks on the
// network and never returns an error to the caller.
type Recorder struct {
	store  Enqueuer
	logger *slog.Logger
}

func NewRecorder(store Enqueuer) *Recorder {
	return &Recorder{store: store, logger: slog.Default()}
}

func (r *Recorder) Record(a quiz.Attempt) {
	payload, err := json.Marshal(NewRecord(a))
	if err != nil {
		r.logger.Error("failed to encode attempt", "attempt_id", a.ID, "error", err)
		return
	}
	d := storage.Delivery{
		ID:        uuid.New().String(),
		AttemptID: a.ID,
		Payload:   payload,
	}
	if err := r.store.Enqueue(d); err != nil {
		r.logger.Warn("failed to enqueue attempt", "attempt_id", a.ID, "error", err)
	}
}
