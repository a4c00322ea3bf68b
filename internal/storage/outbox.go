package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DeliveryStatus is where an outbox entry is in its delivery lifecycle.
type DeliveryStatus string

const (
	StatusQueued    DeliveryStatus = "queued"
	StatusSending   DeliveryStatus = "sending"
	StatusDelivered DeliveryStatus = "delivered"
	// StatusFailed is terminal: the entry ran out of tries.
	StatusFailed DeliveryStatus = "failed"
)

const (
	// DefaultMaxTries bounds deliveries of one attempt.
	DefaultMaxTries = 5
	maxRetryDelay   = 10 * time.Minute
)

// Delivery is one attempt record queued for the history sink.
type Delivery struct {
	ID            string
	AttemptID     string
	Payload       []byte
	Status        DeliveryStatus
	Tries         int
	MaxTries      int
	NextAttemptAt time.Time
	CreatedAt     time.Time
	LastError     string
}

// RetryDelay is the wait after the given number of failed tries: 2s, 4s,
// 8s and so on, capped at ten minutes.
func RetryDelay(tries int) time.Duration {
	if tries < 1 {
		tries = 1
	}
	if tries > 10 {
		return maxRetryDelay
	}
	return min(time.Duration(1<<tries)*time.Second, maxRetryDelay)
}

// Enqueue adds d to the outbox. A zero NextAttemptAt makes it due now and
// a zero MaxTries means DefaultMaxTries.
func (s *Store) Enqueue(d Delivery) error {
	now := s.now()
	if d.NextAttemptAt.IsZero() {
		d.NextAttemptAt = now
	}
	if d.MaxTries <= 0 {
		d.MaxTries = DefaultMaxTries
	}
	_, err := s.db.Exec(`INSERT INTO outbox
		(id, attempt_id, payload, status, max_tries, next_attempt_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.AttemptID, d.Payload, StatusQueued, d.MaxTries,
		d.NextAttemptAt.UnixMilli(), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("queueing attempt %s: %w", d.AttemptID, err)
	}
	return nil
}

const deliveryColumns = `id, attempt_id, payload, status, tries, max_tries, next_attempt_at, created_at, last_error`

// ClaimDue marks the oldest due queued entry as sending and returns it, or
// nil when nothing is due.
func (s *Store) ClaimDue() (*Delivery, error) {
	now := s.now().UnixMilli()
	row := s.db.QueryRow(`UPDATE outbox SET status = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM outbox
			WHERE status = ? AND next_attempt_at <= ?
			ORDER BY next_attempt_at, created_at
			LIMIT 1
		)
		RETURNING `+deliveryColumns,
		StatusSending, now, StatusQueued, now)

	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming outbox entry: %w", err)
	}
	return d, nil
}

// MarkDelivered records a successful delivery.
func (s *Store) MarkDelivered(id string) error {
	res, err := s.db.Exec(`UPDATE outbox SET status = ?, updated_at = ? WHERE id = ?`,
		StatusDelivered, s.now().UnixMilli(), id)
	if err != nil {
		return err
	}
	return requireOne(res)
}

// MarkFailed records a failed try. The entry is queued again after
// RetryDelay, or becomes StatusFailed once its tries are used up.
func (s *Store) MarkFailed(id, reason string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var tries, maxTries int
	err = tx.QueryRow(`SELECT tries, max_tries FROM outbox WHERE id = ?`, id).Scan(&tries, &maxTries)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := s.now()
	tries++
	status := StatusQueued
	if tries >= maxTries {
		status = StatusFailed
	}
	if _, err := tx.Exec(`UPDATE outbox
		SET status = ?, tries = ?, next_attempt_at = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		status, tries, now.Add(RetryDelay(tries)).UnixMilli(), reason, now.UnixMilli(), id); err != nil {
		return fmt.Errorf("recording failed delivery %s: %w", id, err)
	}
	return tx.Commit()
}

// RequeueInFlight returns entries left sending by an interrupted worker to
// the queue. It reports how many were requeued.
func (s *Store) RequeueInFlight() (int, error) {
	res, err := s.db.Exec(`UPDATE outbox SET status = ?, updated_at = ? WHERE status = ?`,
		StatusQueued, s.now().UnixMilli(), StatusSending)
	if err != nil {
		return 0, fmt.Errorf("requeueing in-flight deliveries: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// OutboxCounts returns the number of entries per status.
func (s *Store) OutboxCounts() (map[DeliveryStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting outbox: %w", err)
	}
	defer rows.Close()

	counts := make(map[DeliveryStatus]int)
	for rows.Next() {
		var status DeliveryStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ListOutbox returns up to limit entries with the given status, most
// recently updated first.
func (s *Store) ListOutbox(status DeliveryStatus, limit int) ([]Delivery, error) {
	rows, err := s.db.Query(`SELECT `+deliveryColumns+` FROM outbox
		WHERE status = ? ORDER BY updated_at DESC, id LIMIT ?`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("listing outbox: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(r rowScanner) (*Delivery, error) {
	var d Delivery
	var next, created int64
	if err := r.Scan(&d.ID, &d.AttemptID, &d.Payload, &d.Status, &d.Tries, &d.MaxTries,
		&next, &created, &d.LastError); err != nil {
		return nil, err
	}
	d.NextAttemptAt = time.UnixMilli(next).UTC()
	d.CreatedAt = time.UnixMilli(created).UTC()
	return &d, nil
}

func requireOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
