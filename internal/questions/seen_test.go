package questions

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeenSet_NoDuplicates(t *testing.T) {
	s := NewSeenSet(10)

	assert.True(t, s.Add("What is 2+2?"))
	assert.False(t, s.Add("What is 2+2?"))
	assert.False(t, s.Add("  what is 2+2?  "), "case and whitespace are folded")
	assert.False(t, s.Add(""))
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Contains("WHAT IS 2+2?"))
}

func TestSeenSet_EvictsOldestAtCap(t *testing.T) {
	s := NewSeenSet(3, "a", "b", "c")

	s.Add("d")

	assert.Equal(t, []string{"b", "c", "d"}, s.Prompts())
	assert.False(t, s.Contains("a"))
	assert.True(t, s.Add("a"), "evicted prompt may be added again")
}

func TestSeenSet_DefaultCap(t *testing.T) {
	s := NewSeenSet(0)
	for i := 0; i < DefaultSeenCap+20; i++ {
		s.Add(fmt.Sprintf("q%d", i))
	}

	assert.Equal(t, DefaultSeenCap, s.Len())
	assert.False(t, s.Contains("q0"))
	assert.True(t, s.Contains(fmt.Sprintf("q%d", DefaultSeenCap+19)))
}

func TestSeenSet_Recent(t *testing.T) {
	s := NewSeenSet(10, "a", "b", "c", "d")

	assert.Equal(t, []string{"c", "d"}, s.Recent(2))
	assert.Equal(t, []string{"a", "b", "c", "d"}, s.Recent(10))
}

type memSeenStore struct {
	data    map[string][]string
	loadErr error
}

func (m *memSeenStore) LoadSeen(userID string) ([]string, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.data[userID], nil
}

func (m *memSeenStore) SaveSeen(userID string, prompts []string) error {
	if m.data == nil {
		m.data = make(map[string][]string)
	}
	m.data[userID] = prompts
	return nil
}

func TestSeenSet_PersistRoundTrip(t *testing.T) {
	store := &memSeenStore{}
	s := NewSeenSet(5, "x", "y")

	require.NoError(t, SaveSeenSet(store, "u1", s))

	restored, err := LoadSeenSet(store, "u1", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, restored.Prompts())
}

func TestLoadSeenSet_ErrorReturnsEmptySet(t *testing.T) {
	store := &memSeenStore{loadErr: errors.New("disk gone")}

	s, err := LoadSeenSet(store, "u1", 5)
	require.Error(t, err)
	require.NotNil(t, s)
	assert.Zero(t, s.Len())
}
