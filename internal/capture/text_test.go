package capture

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextRecognizer_LineFinalizesEpisode(t *testing.T) {
	rec := NewTextRecognizer(strings.NewReader("\n  \nParis\n"))
	c := NewController(rec, Options{QuestionTimeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	r, err := c.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindFinalized, r.Kind)
	assert.Equal(t, "Paris", r.Transcript)
}

func TestTextRecognizer_ClosedInputErrors(t *testing.T) {
	rec := NewTextRecognizer(strings.NewReader(""))
	c := NewController(rec, Options{QuestionTimeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	r, err := c.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindError, r.Kind)
	assert.ErrorIs(t, r.Err, errInputClosed)
}
