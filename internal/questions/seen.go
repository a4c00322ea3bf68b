package questions

import (
	"fmt"
	"strings"
	"sync"
)

// DefaultSeenCap bounds the seen-question history per user.
const DefaultSeenCap = 500

// SeenSet is a bounded, insertion-ordered set of prompts already shown to a
// user. When full, the oldest prompt is evicted.
type SeenSet struct {
	mu    sync.Mutex
	cap   int
	order []string
	index map[string]struct{}
}

// NewSeenSet creates a set holding at most capacity prompts, seeded with
// prompts in order. capacity <= 0 uses DefaultSeenCap.
func NewSeenSet(capacity int, prompts ...string) *SeenSet {
	if capacity <= 0 {
		capacity = DefaultSeenCap
	}
	s := &SeenSet{
		cap:   capacity,
		index: make(map[string]struct{}, len(prompts)),
	}
	for _, p := range prompts {
		s.add(p)
	}
	return s
}

// Add records prompt. It returns false if the prompt is empty or already
// present.
func (s *SeenSet) Add(prompt string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(prompt)
}

func (s *SeenSet) add(prompt string) bool {
	key := normalizePrompt(prompt)
	if key == "" {
		return false
	}
	if _, ok := s.index[key]; ok {
		return false
	}
	for len(s.order) >= s.cap {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.index, normalizePrompt(oldest))
	}
	s.order = append(s.order, strings.TrimSpace(prompt))
	s.index[key] = struct{}{}
	return true
}

// Contains reports whether prompt was already shown.
func (s *SeenSet) Contains(prompt string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[normalizePrompt(prompt)]
	return ok
}

// Prompts returns a copy of the prompts, oldest first.
func (s *SeenSet) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Recent returns at most n of the newest prompts, oldest first.
func (s *SeenSet) Recent(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if n >= 0 && len(s.order) > n {
		start = len(s.order) - n
	}
	out := make([]string, len(s.order)-start)
	copy(out, s.order[start:])
	return out
}

func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// normalizePrompt folds case and surrounding whitespace so trivially
// re-cased prompts count as duplicates.
func normalizePrompt(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

// SeenStore persists seen sets keyed by user identity.
type SeenStore interface {
	LoadSeen(userID string) ([]string, error)
	SaveSeen(userID string, prompts []string) error
}

// LoadSeenSet restores the set persisted for userID.
func LoadSeenSet(store SeenStore, userID string, capacity int) (*SeenSet, error) {
	prompts, err := store.LoadSeen(userID)
	if err != nil {
		return NewSeenSet(capacity), fmt.Errorf("loading seen questions for %q: %w", userID, err)
	}
	return NewSeenSet(capacity, prompts...), nil
}

// SaveSeenSet writes the current contents of s for userID.
func SaveSeenSet(store SeenStore, userID string, s *SeenSet) error {
	if err := store.SaveSeen(userID, s.Prompts()); err != nil {
		return fmt.Errorf("saving seen questions for %q: %w", userID, err)
	}
	return nil
}
