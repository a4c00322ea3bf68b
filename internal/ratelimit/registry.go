// Package ratelimit tracks which credential/model pairs are cooling down after
// the provider reported quota exhaustion.
package ratelimit

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultCooldown applies when the provider's retry hint cannot be parsed.
const DefaultCooldown = 60 * time.Second

// Pair is the unit of rate-limit tracking: one API credential combined with
// one model identifier.
type Pair struct {
	Credential string
	Model      string
}

// String masks the credential so pairs can be logged.
func (p Pair) String() string {
	return maskCredential(p.Credential) + "/" + p.Model
}

func maskCredential(c string) string {
	if len(c) <= 8 {
		return "****"
	}
	return c[:4] + "…" + c[len(c)-4:]
}

// Reason says why a pair was taken out of rotation.
type Reason string

const (
	ReasonRateLimit Reason = "rate_limit"
	ReasonAuth      Reason = "auth"
)

// Entry is a live cooldown, returned by Snapshot.
type Entry struct {
	Pair    Pair
	Reason  Reason
	Expires time.Time
}

type cooldown struct {
	reason  Reason
	expires time.Time
}

// Registry maps pairs to cooldown expiry. Expired entries are removed lazily
// on lookup; there is no background sweep.
type Registry struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[Pair]cooldown
}

// NewRegistry returns an empty registry. A nil clock uses time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{now: now, entries: make(map[Pair]cooldown)}
}

// IsLimited reports whether p is cooling down, dropping the entry once the
// current time is past its expiry.
func (r *Registry) IsLimited(p Pair) bool {
	_, ok := r.Limit(p)
	return ok
}

// Limit returns why p is cooling down. ok is false when p is usable; an
// expired entry is dropped on the way.
func (r *Registry) Limit(p Pair) (reason Reason, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.entries[p]
	if !ok {
		return "", false
	}
	if r.now().After(c.expires) {
		delete(r.entries, p)
		return "", false
	}
	return c.reason, true
}

// MarkLimited puts p on a rate-limit cooldown for d. Non-positive durations
// use DefaultCooldown.
func (r *Registry) MarkLimited(p Pair, d time.Duration) {
	r.mark(p, ReasonRateLimit, d)
}

// MarkAuthFailed takes p out of rotation for d because its credential was
// rejected.
func (r *Registry) MarkAuthFailed(p Pair, d time.Duration) {
	r.mark(p, ReasonAuth, d)
}

func (r *Registry) mark(p Pair, reason Reason, d time.Duration) {
	if d <= 0 {
		d = DefaultCooldown
	}
	r.mu.Lock()
	r.entries[p] = cooldown{reason: reason, expires: r.now().Add(d)}
	r.mu.Unlock()
}

// MarkLimitedHint parses a human-readable provider hint such as
// "Please try again in 43m14s" and marks p for that long. The applied
// cooldown is returned.
func (r *Registry) MarkLimitedHint(p Pair, hint string) time.Duration {
	d, ok := ParseRetryHint(hint)
	if !ok {
		d = DefaultCooldown
	}
	r.MarkLimited(p, d)
	return d
}

// Snapshot returns live entries sorted by expiry. Expired entries are not
// returned but are left for IsLimited to remove.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]Entry, 0, len(r.entries))
	for p, c := range r.entries {
		if now.After(c.expires) {
			continue
		}
		out = append(out, Entry{Pair: p, Reason: c.reason, Expires: c.expires})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Expires.Before(out[j].Expires) })
	return out
}

var hintPattern = regexp.MustCompile(`(?i)(?:try again in|retry after|retry in|wait)\s*([0-9][0-9.hms]*)`)

// ParseRetryHint extracts a duration from provider messages like
// "try again in 43m14s", "try again in 1h2m3.5s", "try again in 590ms" or
// "retry after 20". Fractional seconds round up.
func ParseRetryHint(hint string) (time.Duration, bool) {
	m := hintPattern.FindStringSubmatch(hint)
	if m == nil {
		return 0, false
	}
	tok := strings.TrimRight(m[1], ".")

	var d time.Duration
	if n, err := strconv.ParseFloat(tok, 64); err == nil {
		d = time.Duration(n * float64(time.Second))
	} else if parsed, err := time.ParseDuration(tok); err == nil {
		d = parsed
	} else {
		return 0, false
	}
	if d <= 0 {
		return 0, false
	}

	secs := math.Ceil(d.Seconds())
	return time.Duration(secs) * time.Second, true
}
