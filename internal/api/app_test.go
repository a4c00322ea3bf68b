package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/vquiz/internal/questions"
	"github.com/kalambet/vquiz/internal/quiz"
	"github.com/kalambet/vquiz/internal/ratelimit"
	"github.com/kalambet/vquiz/internal/session"
	"github.com/kalambet/vquiz/internal/tts"
)

const testToken = "test-token-12345"

// --- fakes ---

type fakeSource struct {
	mu     sync.Mutex
	n      int
	reauth bool
}

func (f *fakeSource) Next(_ context.Context, req questions.Request, seen *questions.SeenSet) quiz.Question {
	f.mu.Lock()
	f.n++
	n, reauth := f.n, f.reauth
	f.mu.Unlock()
	q := quiz.Question{
		Prompt:     fmt.Sprintf("Question %d?", n),
		Answer:     "Paris",
		Difficulty: req.Difficulty,
		Domain:     req.Domain,
		Source:     quiz.SourceRemote,
	}
	if reauth {
		q.Source = quiz.SourceFallback
		q.Reauthenticate = true
		return q
	}
	seen.Add(q.Prompt)
	return q
}

func (f *fakeSource) setReauth(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reauth = v
}

type fakeEvaluator struct {
	mu     sync.Mutex
	calls  int
	reauth bool
}

func (f *fakeEvaluator) setReauth(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reauth = v
}

func (f *fakeEvaluator) Evaluate(_ context.Context, q quiz.Question, transcript string, _ time.Duration) quiz.Evaluation {
	f.mu.Lock()
	f.calls++
	reauth := f.reauth
	f.mu.Unlock()
	if reauth {
		return quiz.Evaluation{CorrectAnswer: q.Answer, Degraded: true, Reauthenticate: true}
	}
	if strings.EqualFold(transcript, q.Answer) {
		return quiz.Evaluation{IsCorrect: true, Score: 10, CorrectAnswer: q.Answer}
	}
	return quiz.Evaluation{Score: 0, CorrectAnswer: q.Answer}
}

type fakeSynth struct {
	audio tts.Audio
	err   error
}

func (f fakeSynth) Synthesize(context.Context, string) (tts.Audio, error) {
	return f.audio, f.err
}

// --- helpers ---

func setupAppHandler(t *testing.T, length int) (http.Handler, *fakeEvaluator) {
	t.Helper()
	h, _, ev := setupAppHandlerWithSource(t, length)
	return h, ev
}

func setupAppHandlerWithSource(t *testing.T, length int) (http.Handler, *fakeSource, *fakeEvaluator) {
	t.Helper()
	src := &fakeSource{}
	ev := &fakeEvaluator{}
	h := NewAppHandler(AppDeps{
		Token: testToken,
		NewManager: func() *session.Manager {
			return session.NewManager(session.Deps{Source: src, Evaluator: ev}, length)
		},
		Speech: fakeSynth{audio: tts.Audio{Data: []byte("mp3"), ContentType: "audio/mpeg"}},
	})
	return h, src, ev
}

func assertReauthenticate(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401; body = %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "please reauthenticate") {
		t.Errorf("body = %s, want a reauthenticate message", rr.Body.String())
	}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func do(t *testing.T, h http.Handler, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(method, url, body, testToken))
	return rr
}

func startSession(t *testing.T, h http.Handler, body string) SessionResponse {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/sessions", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("start status = %d, want %d; body = %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	var resp SessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding start response: %v", err)
	}
	return resp
}

func decodeAttempt(t *testing.T, rr *httptest.ResponseRecorder) AttemptResponse {
	t.Helper()
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rr.Code, rr.Body.String())
	}
	var resp AttemptResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding attempt response: %v", err)
	}
	return resp
}

// --- tests ---

func TestAuth_RejectsMissingToken(t *testing.T) {
	h, _ := setupAppHandler(t, 10)

	for _, tok := range []string{"", "wrong"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(http.MethodPost, "/sessions", `{}`, tok))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", tok, rr.Code)
		}
	}
}

func TestAuth_ChallengeAndSchemeCase(t *testing.T) {
	h, _ := setupAppHandler(t, 10)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/limits", "", ""))
	if got := rr.Header().Get("WWW-Authenticate"); got != `Bearer realm="vquiz"` {
		t.Errorf("WWW-Authenticate = %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/limits", nil)
	req.Header.Set("Authorization", "bearer "+testToken)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("lowercase scheme: status = %d, want 200", rr.Code)
	}
}

func TestAuth_EmptyTokenRejectsEverything(t *testing.T) {
	h := RequireToken("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached without a configured token")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/", "", "anything"))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	h, _ := setupAppHandler(t, 10)

	for _, path := range []string{"/health", "/metrics"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rr.Code)
		}
	}
}

func TestStartSession_ReturnsFirstQuestion(t *testing.T) {
	h, _ := setupAppHandler(t, 10)

	resp := startSession(t, h, `{"difficulty":"medium","domain":"geography"}`)
	if resp.Session.ID == "" {
		t.Fatal("empty session id")
	}
	if resp.Session.State != session.StateActive {
		t.Errorf("state = %q, want active", resp.Session.State)
	}
	if resp.Question == nil || resp.Question.Difficulty != quiz.Medium || resp.Question.Domain != "geography" {
		t.Errorf("question = %+v", resp.Question)
	}

	rr := do(t, h, http.MethodGet, "/sessions/"+resp.Session.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	var got SessionResponse
	json.Unmarshal(rr.Body.Bytes(), &got)
	if got.Session.Current == nil || got.Session.Current.Prompt != resp.Question.Prompt {
		t.Errorf("pending question = %+v, want %q", got.Session.Current, resp.Question.Prompt)
	}
}

func TestStartSession_InvalidDifficulty(t *testing.T) {
	h, _ := setupAppHandler(t, 10)

	rr := do(t, h, http.MethodPost, "/sessions", `{"difficulty":"impossible"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	rr = do(t, h, http.MethodPost, "/sessions", `not json`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestStartSession_RejectedCredentials(t *testing.T) {
	h, src, _ := setupAppHandlerWithSource(t, 10)
	src.setReauth(true)

	assertReauthenticate(t, do(t, h, http.MethodPost, "/sessions", `{}`))
}

func TestAnswer_RejectedCredentialsKeepQuestionPending(t *testing.T) {
	h, _, ev := setupAppHandlerWithSource(t, 10)
	start := startSession(t, h, `{}`)
	ev.setReauth(true)

	answer := "/sessions/" + start.Session.ID + "/answer"
	assertReauthenticate(t, do(t, h, http.MethodPost, answer, `{"transcript":"paris","elapsed_seconds":2}`))

	ev.setReauth(false)
	resp := decodeAttempt(t, do(t, h, http.MethodPost, answer, `{"transcript":"paris","elapsed_seconds":2}`))
	if resp.Attempt.Question.Prompt != start.Question.Prompt || !resp.Attempt.IsCorrect {
		t.Errorf("attempt = %+v, want a correct answer to %q", resp.Attempt, start.Question.Prompt)
	}
}

func TestAnswer_PrefetchReportsRejectedCredentials(t *testing.T) {
	h, src, _ := setupAppHandlerWithSource(t, 10)
	start := startSession(t, h, `{}`)
	src.setReauth(true)

	resp := decodeAttempt(t, do(t, h, http.MethodPost, "/sessions/"+start.Session.ID+"/answer",
		`{"transcript":"paris","elapsed_seconds":1}`))
	if !resp.Reauthenticate {
		t.Error("reauthenticate = false, want true")
	}
	if resp.NextQuestion != nil {
		t.Errorf("next question = %+v, want none", resp.NextQuestion)
	}
	if len(resp.Session.Attempts) != 1 {
		t.Errorf("attempts = %d, want 1", len(resp.Session.Attempts))
	}
}

func TestAnswer_RecordsAttemptAndPrefetches(t *testing.T) {
	h, ev := setupAppHandler(t, 10)
	start := startSession(t, h, `{}`)

	resp := decodeAttempt(t, do(t, h, http.MethodPost, "/sessions/"+start.Session.ID+"/answer",
		`{"transcript":"paris","elapsed_seconds":4.5}`))

	if !resp.Attempt.IsCorrect || resp.Attempt.Score != 10 {
		t.Errorf("attempt = %+v", resp.Attempt)
	}
	if resp.Attempt.Elapsed != 4500*time.Millisecond {
		t.Errorf("elapsed = %v, want 4.5s", resp.Attempt.Elapsed)
	}
	if resp.NextQuestion == nil || resp.NextQuestion.Prompt == start.Question.Prompt {
		t.Errorf("next question = %+v", resp.NextQuestion)
	}
	if len(resp.Session.Attempts) != 1 || resp.Session.CorrectCount != 1 {
		t.Errorf("session = %+v", resp.Session)
	}
	if ev.calls != 1 {
		t.Errorf("evaluator calls = %d, want 1", ev.calls)
	}
}

func TestAnswer_SkipPhraseBypassesEvaluator(t *testing.T) {
	h, ev := setupAppHandler(t, 10)
	start := startSession(t, h, `{}`)

	resp := decodeAttempt(t, do(t, h, http.MethodPost, "/sessions/"+start.Session.ID+"/answer",
		`{"transcript":"skip","elapsed_seconds":2}`))

	if resp.Attempt.Outcome != quiz.OutcomeSkipped {
		t.Errorf("outcome = %q, want skipped", resp.Attempt.Outcome)
	}
	if ev.calls != 0 {
		t.Errorf("evaluator calls = %d, want 0", ev.calls)
	}
}

func TestAnswer_NegativeElapsed(t *testing.T) {
	h, _ := setupAppHandler(t, 10)
	start := startSession(t, h, `{}`)

	rr := do(t, h, http.MethodPost, "/sessions/"+start.Session.ID+"/answer", `{"transcript":"x","elapsed_seconds":-1}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestSkipAndTimeout(t *testing.T) {
	h, _ := setupAppHandler(t, 10)
	id := startSession(t, h, `{}`).Session.ID

	skip := decodeAttempt(t, do(t, h, http.MethodPost, "/sessions/"+id+"/skip", ""))
	if skip.Attempt.Outcome != quiz.OutcomeSkipped || skip.Attempt.Score != 0 {
		t.Errorf("skip attempt = %+v", skip.Attempt)
	}

	to := decodeAttempt(t, do(t, h, http.MethodPost, "/sessions/"+id+"/timeout", `{"elapsed_seconds":30}`))
	if to.Attempt.Outcome != quiz.OutcomeTimeout || to.Attempt.Elapsed != 30*time.Second {
		t.Errorf("timeout attempt = %+v", to.Attempt)
	}
	if len(to.Session.Attempts) != 2 {
		t.Errorf("attempts = %d, want 2", len(to.Session.Attempts))
	}
}

func TestSessionEndsAndRestart(t *testing.T) {
	h, _ := setupAppHandler(t, 2)
	id := startSession(t, h, `{}`).Session.ID

	decodeAttempt(t, do(t, h, http.MethodPost, "/sessions/"+id+"/skip", ""))
	last := decodeAttempt(t, do(t, h, http.MethodPost, "/sessions/"+id+"/answer", `{"transcript":"Paris","elapsed_seconds":1}`))

	if last.Session.State != session.StateEnded {
		t.Fatalf("state = %q, want ended", last.Session.State)
	}
	if last.Summary == nil || last.Summary.Overall.Attempts != 2 || last.Summary.Overall.Correct != 1 {
		t.Errorf("summary = %+v", last.Summary)
	}
	if last.NextQuestion != nil {
		t.Error("next question offered after the session ended")
	}

	rr := do(t, h, http.MethodPost, "/sessions/"+id+"/skip", "")
	if rr.Code != http.StatusConflict {
		t.Errorf("skip after end: status = %d, want 409", rr.Code)
	}

	rr = do(t, h, http.MethodPost, "/sessions/"+id+"/restart", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("restart status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var restarted SessionResponse
	json.Unmarshal(rr.Body.Bytes(), &restarted)
	if restarted.Session.ID == id {
		t.Error("restart kept the old session id")
	}
	if len(restarted.Session.Attempts) != 0 || restarted.Session.Score != 0 || restarted.Question == nil {
		t.Errorf("restarted session = %+v", restarted)
	}

	if rr := do(t, h, http.MethodGet, "/sessions/"+id, ""); rr.Code != http.StatusNotFound {
		t.Errorf("old id: status = %d, want 404", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/sessions/"+restarted.Session.ID, ""); rr.Code != http.StatusOK {
		t.Errorf("new id: status = %d, want 200", rr.Code)
	}
}

func TestChangeDifficulty(t *testing.T) {
	h, _ := setupAppHandler(t, 10)
	start := startSession(t, h, `{"difficulty":"easy"}`)
	id := start.Session.ID

	rr := do(t, h, http.MethodPost, "/sessions/"+id+"/difficulty", `{"difficulty":"hard"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var resp SessionResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Question == nil || resp.Question.Difficulty != quiz.Hard || resp.Question.Prompt == start.Question.Prompt {
		t.Errorf("question = %+v", resp.Question)
	}
	if resp.Session.Difficulty != quiz.Hard || len(resp.Session.Attempts) != 0 {
		t.Errorf("session = %+v", resp.Session)
	}

	if rr := do(t, h, http.MethodPost, "/sessions/"+id+"/difficulty", `{"difficulty":"brutal"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid difficulty: status = %d, want 400", rr.Code)
	}
}

func TestSummaryAndDelete(t *testing.T) {
	h, _ := setupAppHandler(t, 10)
	id := startSession(t, h, `{"domain":"geography"}`).Session.ID
	decodeAttempt(t, do(t, h, http.MethodPost, "/sessions/"+id+"/answer", `{"transcript":"Paris","elapsed_seconds":3}`))

	rr := do(t, h, http.MethodGet, "/sessions/"+id+"/summary", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("summary status = %d", rr.Code)
	}
	var sum session.Summary
	if err := json.Unmarshal(rr.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if sum.Ended || sum.Overall.Attempts != 1 || sum.ByDomain["geography"].Correct != 1 {
		t.Errorf("summary = %+v", sum)
	}

	if rr := do(t, h, http.MethodDelete, "/sessions/"+id, ""); rr.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/sessions/"+id+"/summary", ""); rr.Code != http.StatusNotFound {
		t.Errorf("after delete: status = %d, want 404", rr.Code)
	}
}

func TestUnknownSession(t *testing.T) {
	h, _ := setupAppHandler(t, 10)
	if rr := do(t, h, http.MethodPost, "/sessions/nope/skip", ""); rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestSpeech(t *testing.T) {
	h, _ := setupAppHandler(t, 10)

	rr := do(t, h, http.MethodPost, "/tts", `{"text":"Capital of France?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rr.Body.String() != "mp3" {
		t.Errorf("body = %q", rr.Body.String())
	}

	if rr := do(t, h, http.MethodPost, "/tts", `{"text":""}`); rr.Code != http.StatusBadRequest {
		t.Errorf("empty text: status = %d, want 400", rr.Code)
	}
}

func TestSpeech_Errors(t *testing.T) {
	cases := []struct {
		name  string
		synth tts.Synthesizer
		want  int
	}{
		{"unset", nil, http.StatusNotImplemented},
		{"not configured", fakeSynth{err: tts.ErrNotConfigured}, http.StatusNotImplemented},
		{"upstream failure", fakeSynth{err: errors.New("boom")}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewAppHandler(AppDeps{Token: testToken, Speech: tc.synth})
			rr := do(t, h, http.MethodPost, "/tts", `{"text":"hi"}`)
			if rr.Code != tc.want {
				t.Errorf("status = %d, want %d", rr.Code, tc.want)
			}
		})
	}
}

func TestLimits(t *testing.T) {
	reg := ratelimit.NewRegistry(nil)
	reg.MarkLimited(ratelimit.Pair{Credential: "gsk_abcdefghijkl", Model: "llama-3.3-70b-versatile"}, 90*time.Second)

	h := NewAppHandler(AppDeps{Token: testToken, Limits: reg.Snapshot})
	rr := do(t, h, http.MethodGet, "/limits", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "gsk_abcdefghijkl") {
		t.Errorf("response leaks the credential: %s", rr.Body.String())
	}

	var limits []LimitResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &limits); err != nil {
		t.Fatalf("decoding limits: %v", err)
	}
	if len(limits) != 1 {
		t.Fatalf("got %d limits, want 1", len(limits))
	}
	if limits[0].Model != "llama-3.3-70b-versatile" {
		t.Errorf("model = %q", limits[0].Model)
	}
	if limits[0].RemainingSeconds < 85 || limits[0].RemainingSeconds > 90 {
		t.Errorf("remaining = %d, want about 90", limits[0].RemainingSeconds)
	}
}

func TestLimits_EmptyWithoutRegistry(t *testing.T) {
	h := NewAppHandler(AppDeps{Token: testToken})
	rr := do(t, h, http.MethodGet, "/limits", "")
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("got %d %q, want 200 []", rr.Code, rr.Body.String())
	}
}
