package tts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSynth struct {
	synthesizeFn func(ctx context.Context, text string) (Audio, error)
	calls        int
}

func (m *mockSynth) Synthesize(ctx context.Context, text string) (Audio, error) {
	m.calls++
	return m.synthesizeFn(ctx, text)
}

func TestSynthesize_RemoteAndCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var req speechRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Capital of France?", req.Text)
		assert.Equal(t, "alloy", req.Voice)
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	c := NewClient(Options{Endpoint: srv.URL, Voice: "alloy"})

	a, err := c.Synthesize(context.Background(), "Capital of France?")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3-bytes"), a.Data)
	assert.Equal(t, "audio/mpeg", a.ContentType)

	_, err = c.Synthesize(context.Background(), "  Capital of France?  ")
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load(), "second call served from cache")
}

func TestSynthesize_FallbackOnRemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	local := &mockSynth{synthesizeFn: func(context.Context, string) (Audio, error) {
		return Audio{Data: []byte("wav"), ContentType: "audio/wav"}, nil
	}}
	c := NewClient(Options{Endpoint: srv.URL, Fallback: local})

	a, err := c.Synthesize(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", a.ContentType)
	assert.Equal(t, 1, local.calls)
}

func TestSynthesize_RemoteFailureWithoutFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(Options{Endpoint: srv.URL}).Synthesize(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSynthesize_NotConfigured(t *testing.T) {
	_, err := NewClient(Options{}).Synthesize(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewClient(Options{}).Synthesize(context.Background(), " ")
	assert.Error(t, err)
}

func TestSpeaker_PropagatesSynthesisError(t *testing.T) {
	local := &mockSynth{synthesizeFn: func(context.Context, string) (Audio, error) {
		return Audio{}, errors.New("no voice")
	}}
	err := Speaker{Synth: local}.Speak(context.Background(), "hi")
	assert.EqualError(t, err, "no voice")
}

func TestParseCommand(t *testing.T) {
	assert.Nil(t, ParseCommand("   "))
	assert.Equal(t, []string{"espeak-ng", "--stdout"}, ParseCommand(" espeak-ng  --stdout "))
}
