package capture

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
)

// errInputClosed is returned by TextRecognizer.Start once its input is
// exhausted.
var errInputClosed = errors.New("text input closed")

// TextRecognizer treats each typed line as one final recognition result
// followed by the end of the stream. It stands in for a microphone in the
// terminal client.
type TextRecognizer struct {
	lines chan string

	mu     sync.Mutex
	stop   chan struct{}
	closed bool
}

// NewTextRecognizer reads lines from r in the background.
func NewTextRecognizer(r io.Reader) *TextRecognizer {
	t := &TextRecognizer{lines: make(chan string)}
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			t.lines <- sc.Text()
		}
		close(t.lines)
	}()
	return t
}

func (t *TextRecognizer) Available() bool { return true }

func (t *TextRecognizer) Start(h Handlers) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errInputClosed
	}
	stop := make(chan struct{})
	t.stop = stop
	t.mu.Unlock()

	go func() {
		for {
			select {
			case <-stop:
				h.OnEnd(nil)
				return
			case line, ok := <-t.lines:
				if !ok {
					t.mu.Lock()
					t.closed = true
					t.mu.Unlock()
					h.OnEnd(errInputClosed)
					return
				}
				if strings.TrimSpace(line) == "" {
					continue
				}
				h.OnResult(Event{Text: line, Final: true})
				h.OnEnd(nil)
				return
			}
		}
	}()
	return nil
}

func (t *TextRecognizer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}
