package session

import (
	"time"

	"github.com/kalambet/vquiz/internal/quiz"
)

// Stats aggregates a group of attempts.
type Stats struct {
	Attempts int     `json:"attempts"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
	Score    float64 `json:"score"`
}

func (s *Stats) add(a quiz.Attempt) {
	s.Attempts++
	s.Score += a.Score
	if a.IsCorrect {
		s.Correct++
	}
	s.Accuracy = float64(s.Correct) / float64(s.Attempts)
}

// Summary is the end-of-session report. It can be computed at any time;
// Ended tells whether the session is complete.
type Summary struct {
	SessionID    string                    `json:"session_id"`
	Ended        bool                      `json:"ended"`
	TargetLength int                       `json:"target_length"`
	Overall      Stats                     `json:"overall"`
	ByDifficulty map[quiz.Difficulty]Stats `json:"by_difficulty"`
	ByDomain     map[string]Stats          `json:"by_domain"`
	Outcomes     map[quiz.Outcome]int      `json:"outcomes"`
	TotalTime    time.Duration             `json:"total_time"`
	MeanTime     time.Duration             `json:"mean_time"`
	MinTime      time.Duration             `json:"min_time"`
	MaxTime      time.Duration             `json:"max_time"`
}

const unknownDomain = "general"

// Summarize computes the report for s.
func Summarize(s Session) Summary {
	sum := Summary{
		SessionID:    s.ID,
		Ended:        s.State == StateEnded,
		TargetLength: s.TargetLength,
		ByDifficulty: make(map[quiz.Difficulty]Stats),
		ByDomain:     make(map[string]Stats),
		Outcomes:     make(map[quiz.Outcome]int),
	}

	for i, a := range s.Attempts {
		sum.Overall.add(a)

		d := sum.ByDifficulty[a.Difficulty]
		d.add(a)
		sum.ByDifficulty[a.Difficulty] = d

		domain := a.Question.Domain
		if domain == "" {
			domain = unknownDomain
		}
		dm := sum.ByDomain[domain]
		dm.add(a)
		sum.ByDomain[domain] = dm

		sum.Outcomes[a.Outcome]++

		sum.TotalTime += a.Elapsed
		if i == 0 || a.Elapsed < sum.MinTime {
			sum.MinTime = a.Elapsed
		}
		if a.Elapsed > sum.MaxTime {
			sum.MaxTime = a.Elapsed
		}
	}
	if n := len(s.Attempts); n > 0 {
		sum.MeanTime = sum.TotalTime / time.Duration(n)
	}
	return sum
}

// Summary reports on the current session.
func (m *Manager) Summary() Summary {
	return Summarize(m.Snapshot())
}
