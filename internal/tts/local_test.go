package tts

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandPlayer_PassesClipPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	dst := filepath.Join(t.TempDir(), "played")
	// The clip path is appended after the configured arguments, so it
	// reaches the script as $0.
	p := CommandPlayer{Args: []string{"sh", "-c", `cp "$0" "` + dst + `"`}}

	require.NoError(t, p.Play(context.Background(), Audio{Data: []byte("mp3-bytes"), ContentType: "audio/mpeg"}))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "mp3-bytes", string(got))
}

func TestCommandPlayer_NoCommandIsSilent(t *testing.T) {
	assert.NoError(t, CommandPlayer{}.Play(context.Background(), Audio{Data: []byte("x")}))
}
