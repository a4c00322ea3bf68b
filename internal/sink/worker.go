// Package sink forwards recorded attempts to an external history store
// through a durable outbox, so delivery failures never reach a session.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/kalambet/vquiz/internal/storage"
)

// Outbox is the durable queue the worker drains.
type Outbox interface {
	RequeueInFlight() (int, error)
	ClaimDue() (*storage.Delivery, error)
	MarkDelivered(id string) error
	MarkFailed(id, reason string) error
}

// Poster delivers one encoded attempt.
type Poster interface {
	Post(ctx context.Context, body []byte) error
}

// Worker forwards queued attempts to a Poster.
type Worker struct {
	store   Outbox
	poster  Poster
	limiter *rate.Limiter
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker. perSecond caps deliveries; <= 0 means
// unlimited. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store Outbox, poster Poster, perSecond float64, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Worker{
		store:   store,
		poster:  poster,
		limiter: rate.NewLimiter(limit, 1),
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

// Run polls the outbox until ctx is cancelled. Entries a previous run left
// in flight are queued again first.
func (w *Worker) Run(ctx context.Context) {
	if n, err := w.store.RequeueInFlight(); err != nil {
		w.logger.Error("failed to requeue in-flight attempts", "error", err)
	} else if n > 0 {
		w.logger.Info("requeued interrupted attempt deliveries", "count", n)
	}
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("sink iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce delivers at most one due attempt. It reports whether an entry
// was claimed, whatever the delivery outcome.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return false, nil
	}

	d, err := w.store.ClaimDue()
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}

	if err := w.poster.Post(ctx, d.Payload); err != nil {
		try := d.Tries + 1
		if try >= d.MaxTries {
			w.logger.Error("giving up on attempt delivery", "attempt_id", d.AttemptID, "tries", try, "error", err)
		} else {
			w.logger.Warn("attempt delivery failed", "attempt_id", d.AttemptID, "try", try,
				"retry_in", storage.RetryDelay(try), "error", err)
		}
		deliveriesTotal.WithLabelValues("failed").Inc()
		if markErr := w.store.MarkFailed(d.ID, err.Error()); markErr != nil {
			w.logger.Error("failed to record delivery failure", "attempt_id", d.AttemptID, "error", markErr)
		}
		return true, nil
	}

	deliveriesTotal.WithLabelValues("delivered").Inc()
	if err := w.store.MarkDelivered(d.ID); err != nil {
		return true, fmt.Errorf("marking attempt %s delivered: %w", d.AttemptID, err)
	}
	return true, nil
}

// HTTPPoster POSTs attempts as JSON to a fixed URL.
type HTTPPoster struct {
	url        string
	token      string
	httpClient *http.Client
}

// NewHTTPPoster creates a poster for url. token, if set, is sent as a
// bearer credential.
func NewHTTPPoster(url, token string) *HTTPPoster {
	return &HTTPPoster{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *HTTPPoster) Post(ctx context.Context, body []byte) error {
	if !json.Valid(body) {
		return fmt.Errorf("payload is not valid JSON")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("attempt sink returned status %d", resp.StatusCode)
	}
	return nil
}
