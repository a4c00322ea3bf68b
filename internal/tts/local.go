package tts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CommandSynthesizer runs a local program that reads text on stdin and
// writes audio to stdout, such as "espeak-ng --stdout".
type CommandSynthesizer struct {
	Args        []string
	ContentType string
}

// ParseCommand splits a configured command line on whitespace. An empty
// line yields nil.
func ParseCommand(line string) []string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func (s CommandSynthesizer) Synthesize(ctx context.Context, text string) (Audio, error) {
	if len(s.Args) == 0 {
		return Audio{}, ErrNotConfigured
	}
	var out, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.Args[0], s.Args[1:]...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Audio{}, fmt.Errorf("running %s: %w: %s", s.Args[0], err, strings.TrimSpace(stderr.String()))
	}
	ct := s.ContentType
	if ct == "" {
		ct = "audio/wav"
	}
	return Audio{Data: out.Bytes(), ContentType: ct}, nil
}

// Player plays a clip.
type Player interface {
	Play(ctx context.Context, a Audio) error
}

// CommandPlayer writes the clip to a temporary file and runs a player
// program on it, such as "afplay" or "aplay -q".
type CommandPlayer struct {
	Args []string
}

func (p CommandPlayer) Play(ctx context.Context, a Audio) error {
	if len(p.Args) == 0 {
		return nil
	}
	f, err := os.CreateTemp("", "vquiz-*.audio")
	if err != nil {
		return fmt.Errorf("creating audio file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(a.Data); err != nil {
		f.Close()
		return fmt.Errorf("writing audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing audio file: %w", err)
	}

	args := append(append([]string{}, p.Args[1:]...), f.Name())
	if err := exec.CommandContext(ctx, p.Args[0], args...).Run(); err != nil {
		return fmt.Errorf("running %s: %w", p.Args[0], err)
	}
	return nil
}

// Speaker synthesizes text and plays it.
type Speaker struct {
	Synth  Synthesizer
	Player Player
}

func (s Speaker) Speak(ctx context.Context, text string) error {
	audio, err := s.Synth.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	if s.Player == nil {
		return nil
	}
	return s.Player.Play(ctx, audio)
}
