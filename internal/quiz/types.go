// Package quiz holds the value types shared by the question source, the
// evaluator and the session manager.
package quiz

import (
	"fmt"
	"strings"
	"time"
)

type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// Difficulties lists the supported levels in ascending order.
var Difficulties = []Difficulty{Easy, Medium, Hard}

// ParseDifficulty accepts a level name in any case. An empty string maps to Easy.
func ParseDifficulty(s string) (Difficulty, error) {
	switch Difficulty(strings.ToLower(strings.TrimSpace(s))) {
	case "", Easy:
		return Easy, nil
	case Medium:
		return Medium, nil
	case Hard:
		return Hard, nil
	}
	return "", fmt.Errorf("unknown difficulty %q (want easy, medium or hard)", s)
}

type Source string

const (
	SourceRemote   Source = "remote"
	SourceFallback Source = "fallback"
)

// Question is held for the duration of one attempt.
type Question struct {
	Prompt     string     `json:"question"`
	Answer     string     `json:"answer"`
	Difficulty Difficulty `json:"difficulty"`
	Domain     string     `json:"domain,omitempty"`
	Source     Source     `json:"source"`
	// Reauthenticate is set on a fallback question served because every
	// provider credential was rejected.
	Reauthenticate bool `json:"-"`
}

// Outcome records how an attempt came to be.
type Outcome string

const (
	OutcomeEvaluated Outcome = "evaluated"
	OutcomeDegraded  Outcome = "degraded"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeError     Outcome = "error"
)

// Attempt is immutable once appended to a session.
type Attempt struct {
	ID            string        `json:"id"`
	SessionID     string        `json:"session_id"`
	Question      Question      `json:"question"`
	UserAnswer    string        `json:"user_answer"`
	CorrectAnswer string        `json:"correct_answer"`
	IsCorrect     bool          `json:"is_correct"`
	Score         float64       `json:"score"`
	Explanation   string        `json:"explanation,omitempty"`
	Elapsed       time.Duration `json:"elapsed"`
	Difficulty    Difficulty    `json:"difficulty"`
	Outcome       Outcome       `json:"outcome"`
	RecordedAt    time.Time     `json:"recorded_at"`
}

// Evaluation is the tagged result of the answer-scoring call.
type Evaluation struct {
	IsCorrect     bool    `json:"isCorrect"`
	Score         float64 `json:"score"`
	Explanation   string  `json:"explanation"`
	CorrectAnswer string  `json:"correctAnswer"`
	Degraded      bool    `json:"-"`
	// Reauthenticate is set on a degraded result caused by rejected
	// credentials.
	Reauthenticate bool `json:"-"`
}
