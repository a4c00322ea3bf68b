package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func openTestStore(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	s, err := Open(MemoryDir, WithClock(clk))
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", MemoryDir, err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clk
}

// TestMigrationsIdempotent reopens a file database and checks no migration
// is applied twice.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) == 0 {
		t.Fatal("no migrations applied")
	}
	if fmt.Sprint(v1) != fmt.Sprint(v2) {
		t.Errorf("applied migrations changed: %v -> %v", v1, v2)
	}
}

func TestIndexesExist(t *testing.T) {
	s, _ := openTestStore(t)

	for _, idx := range []string{"idx_seen_questions_user_seq", "idx_outbox_due"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestSeenRoundTripPreservesOrder(t *testing.T) {
	s, _ := openTestStore(t)

	want := []string{"What is 2+2?", "Capital of France?", "Largest planet?"}
	if err := s.SaveSeen("user-1", want); err != nil {
		t.Fatalf("SaveSeen: %v", err)
	}

	got, err := s.LoadSeen("user-1")
	if err != nil {
		t.Fatalf("LoadSeen: %v", err)
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("LoadSeen = %v, want %v", got, want)
	}
}

func TestSaveSeen_ReplacesAndIsolatesUsers(t *testing.T) {
	s, _ := openTestStore(t)

	if err := s.SaveSeen("user-1", []string{"a", "b"}); err != nil {
		t.Fatalf("SaveSeen: %v", err)
	}
	if err := s.SaveSeen("user-2", []string{"x"}); err != nil {
		t.Fatalf("SaveSeen: %v", err)
	}
	if err := s.SaveSeen("user-1", []string{"b", "c"}); err != nil {
		t.Fatalf("SaveSeen: %v", err)
	}

	got, _ := s.LoadSeen("user-1")
	if fmt.Sprint(got) != fmt.Sprint([]string{"b", "c"}) {
		t.Errorf("user-1 seen = %v, want [b c]", got)
	}
	other, _ := s.LoadSeen("user-2")
	if len(other) != 1 || other[0] != "x" {
		t.Errorf("user-2 seen = %v, want [x]", other)
	}
}

func TestLoadSeen_UnknownUser(t *testing.T) {
	s, _ := openTestStore(t)

	got, err := s.LoadSeen("nobody")
	if err != nil {
		t.Fatalf("LoadSeen: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no prompts, got %v", got)
	}
}

func TestValueRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)

	if _, err := s.GetValue("api_token"); err != ErrNotFound {
		t.Fatalf("GetValue on empty store = %v, want ErrNotFound", err)
	}
	if err := s.SetValue("api_token", "t1"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if err := s.SetValue("api_token", "t2"); err != nil {
		t.Fatalf("SetValue overwrite: %v", err)
	}

	got, err := s.GetValue("api_token")
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if got != "t2" {
		t.Errorf("GetValue = %q, want %q", got, "t2")
	}
}

func queueAttempt(t *testing.T, s *Store, id string, maxTries int) {
	t.Helper()
	d := Delivery{ID: id, AttemptID: "attempt-" + id, Payload: []byte(`{"sessionId":"s1"}`), MaxTries: maxTries}
	if err := s.Enqueue(d); err != nil {
		t.Fatalf("Enqueue(%s): %v", id, err)
	}
}

func claim(t *testing.T, s *Store) *Delivery {
	t.Helper()
	d, err := s.ClaimDue()
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	return d
}

func TestClaimDue_ClaimsOnce(t *testing.T) {
	s, _ := openTestStore(t)
	queueAttempt(t, s, "d-1", 0)

	got := claim(t, s)
	if got == nil {
		t.Fatal("ClaimDue returned nil")
	}
	if got.ID != "d-1" || got.AttemptID != "attempt-d-1" {
		t.Errorf("claimed %+v", got)
	}
	if got.Status != StatusSending {
		t.Errorf("Status = %q, want %q", got.Status, StatusSending)
	}
	if got.MaxTries != DefaultMaxTries {
		t.Errorf("MaxTries = %d, want %d", got.MaxTries, DefaultMaxTries)
	}
	if string(got.Payload) != `{"sessionId":"s1"}` {
		t.Errorf("Payload = %s", got.Payload)
	}

	if again := claim(t, s); again != nil {
		t.Errorf("entry in flight was claimed twice")
	}
}

func TestClaimDue_OldestFirstAndNotBeforeDue(t *testing.T) {
	s, clk := openTestStore(t)

	later := Delivery{ID: "d-later", AttemptID: "a", Payload: []byte(`{}`), NextAttemptAt: clk.Now().Add(time.Hour)}
	if err := s.Enqueue(later); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	queueAttempt(t, s, "d-first", 0)
	clk.Advance(time.Second)
	queueAttempt(t, s, "d-second", 0)

	for _, want := range []string{"d-first", "d-second"} {
		got := claim(t, s)
		if got == nil || got.ID != want {
			t.Fatalf("claimed %+v, want %s", got, want)
		}
	}
	if got := claim(t, s); got != nil {
		t.Errorf("claimed %q before it was due", got.ID)
	}

	clk.Advance(time.Hour)
	if got := claim(t, s); got == nil || got.ID != "d-later" {
		t.Errorf("claimed %+v, want d-later once due", got)
	}
}

func TestMarkDelivered(t *testing.T) {
	s, _ := openTestStore(t)
	queueAttempt(t, s, "d-done", 0)
	claim(t, s)

	if err := s.MarkDelivered("d-done"); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if err := s.MarkDelivered("missing"); err != ErrNotFound {
		t.Errorf("MarkDelivered(missing) = %v, want ErrNotFound", err)
	}

	counts, err := s.OutboxCounts()
	if err != nil {
		t.Fatalf("OutboxCounts: %v", err)
	}
	if counts[StatusDelivered] != 1 || counts[StatusQueued] != 0 {
		t.Errorf("counts = %v", counts)
	}
}

func TestMarkFailed_RequeuesWithBackoff(t *testing.T) {
	s, clk := openTestStore(t)
	queueAttempt(t, s, "d-retry", 0)
	claim(t, s)

	if err := s.MarkFailed("d-retry", "connection refused"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	queued, err := s.ListOutbox(StatusQueued, 10)
	if err != nil {
		t.Fatalf("ListOutbox: %v", err)
	}
	if len(queued) != 1 {
		t.Fatalf("queued = %d entries, want 1", len(queued))
	}
	d := queued[0]
	if d.Tries != 1 || d.LastError != "connection refused" {
		t.Errorf("entry = %+v", d)
	}
	if want := clk.Now().Add(2 * time.Second); !d.NextAttemptAt.Equal(want) {
		t.Errorf("NextAttemptAt = %v, want %v", d.NextAttemptAt, want)
	}

	if got := claim(t, s); got != nil {
		t.Fatal("claimed during backoff")
	}
	clk.Advance(2 * time.Second)
	if got := claim(t, s); got == nil || got.Tries != 1 {
		t.Errorf("claimed %+v after backoff", got)
	}
}

func TestMarkFailed_StopsAtMaxTries(t *testing.T) {
	s, _ := openTestStore(t)
	queueAttempt(t, s, "d-fatal", 1)
	claim(t, s)

	if err := s.MarkFailed("d-fatal", "status 500"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if err := s.MarkFailed("missing", "x"); err != ErrNotFound {
		t.Errorf("MarkFailed(missing) = %v, want ErrNotFound", err)
	}

	failed, err := s.ListOutbox(StatusFailed, 10)
	if err != nil {
		t.Fatalf("ListOutbox: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "d-fatal" || failed[0].LastError != "status 500" {
		t.Errorf("failed = %+v", failed)
	}
}

func TestRequeueInFlight(t *testing.T) {
	s, _ := openTestStore(t)
	queueAttempt(t, s, "d-crash", 0)
	claim(t, s)

	n, err := s.RequeueInFlight()
	if err != nil {
		t.Fatalf("RequeueInFlight: %v", err)
	}
	if n != 1 {
		t.Errorf("requeued %d, want 1", n)
	}
	if got := claim(t, s); got == nil || got.ID != "d-crash" {
		t.Errorf("claimed %+v after requeue", got)
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		tries int
		want  time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{9, 512 * time.Second},
		{10, maxRetryDelay},
		{40, maxRetryDelay},
	}
	for _, tt := range tests {
		if got := RetryDelay(tt.tries); got != tt.want {
			t.Errorf("RetryDelay(%d) = %v, want %v", tt.tries, got, tt.want)
		}
	}
}
