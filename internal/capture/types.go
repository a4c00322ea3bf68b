// Package capture runs one speech capture episode per question: a
// continuous recognition stream, a silence watchdog and the question
// countdown, reconciled into exactly one Result.
package capture

import (
	"errors"
	"time"
)

var (
	// ErrUnavailable is reported when the platform has no speech recognition.
	ErrUnavailable = errors.New("speech recognition is not available")
	// ErrAborted is reported when an episode is cancelled before finishing.
	ErrAborted = errors.New("capture aborted")
	// ErrEpisodeActive is returned by Start while an episode is running.
	ErrEpisodeActive = errors.New("a capture episode is already active")
)

type State int

const (
	StateIdle State = iota
	StateListening
	StateFinalizing
	StateTimedOut
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateFinalizing:
		return "finalizing"
	case StateTimedOut:
		return "timed_out"
	case StateErrored:
		return "errored"
	default:
		return "idle"
	}
}

// Kind is the terminal outcome of an episode.
type Kind string

const (
	KindFinalized Kind = "finalized"
	KindTimeout   Kind = "timeout"
	KindError     Kind = "error"
)

// Result is produced exactly once per episode. Transcript is only set when
// Kind is KindFinalized.
type Result struct {
	Kind       Kind
	Transcript string
	Elapsed    time.Duration
	Err        error
}

// Update is published on every state change, recognition event and
// countdown tick.
type Update struct {
	Epoch      uint64
	State      State
	Remaining  time.Duration
	Transcript string
	Interim    string
}

// Event is one recognition result fragment.
type Event struct {
	Text  string
	Final bool
}

// Handlers receive the recognition stream's callbacks. OnEnd is called once
// when the stream terminates, whether or not Stop was called.
type Handlers struct {
	OnResult func(Event)
	OnEnd    func(err error)
}

// Recognizer is a continuous, interim-results-enabled speech recognition
// stream.
type Recognizer interface {
	Available() bool
	Start(h Handlers) error
	Stop()
}
