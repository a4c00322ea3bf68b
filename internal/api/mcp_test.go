package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/vquiz/internal/questions"
	"github.com/kalambet/vquiz/internal/quiz"
)

// --- helpers ---

type recordingEvaluator struct {
	gotQuestion quiz.Question
	gotElapsed  time.Duration
	result      quiz.Evaluation
}

func (r *recordingEvaluator) Evaluate(_ context.Context, q quiz.Question, _ string, elapsed time.Duration) quiz.Evaluation {
	r.gotQuestion = q
	r.gotElapsed = elapsed
	return r.result
}

type memSeenStore struct {
	saved map[string][]string
}

func (m *memSeenStore) LoadSeen(userID string) ([]string, error) {
	return m.saved[userID], nil
}

func (m *memSeenStore) SaveSeen(userID string, prompts []string) error {
	if m.saved == nil {
		m.saved = make(map[string][]string)
	}
	m.saved[userID] = prompts
	return nil
}

func newTestMCPDeps() MCPDeps {
	return MCPDeps{
		Source:    &fakeSource{},
		Evaluator: &fakeEvaluator{},
		Seen:      questions.NewSeenSet(questions.DefaultSeenCap),
		Bank:      questions.BundledBank(),
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// --- tests ---

func TestMCPTool_NextQuestion(t *testing.T) {
	deps := newTestMCPDeps()
	handler := mcpNextQuestion(deps)

	result, err := handler(context.Background(), makeCallToolRequest("next_question", map[string]interface{}{
		"difficulty": "hard",
		"domain":     "science",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var q quiz.Question
	if err := json.Unmarshal([]byte(toolText(t, result)), &q); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if q.Prompt == "" || q.Difficulty != quiz.Hard || q.Domain != "science" {
		t.Errorf("question = %+v", q)
	}
	if !deps.Seen.Contains(q.Prompt) {
		t.Error("served question was not added to the seen set")
	}
}

func TestMCPTool_NextQuestion_PersistsSeenSet(t *testing.T) {
	deps := newTestMCPDeps()
	store := &memSeenStore{}
	deps.SeenStore = store
	deps.UserID = "user-1"
	handler := mcpNextQuestion(deps)

	for i := 0; i < 2; i++ {
		result, err := handler(context.Background(), makeCallToolRequest("next_question", map[string]interface{}{}))
		if err != nil || result.IsError {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}

	want := []string{"Question 1?", "Question 2?"}
	got := store.saved["user-1"]
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("persisted seen set = %v, want %v", got, want)
	}
}

func TestMCPTool_NextQuestion_RejectedCredentials(t *testing.T) {
	deps := newTestMCPDeps()
	deps.Source = &fakeSource{reauth: true}

	result, err := mcpNextQuestion(deps)(context.Background(), makeCallToolRequest("next_question", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError || toolText(t, result) != "please reauthenticate" {
		t.Errorf("result = %+v, want a reauthenticate error", result)
	}
}

func TestMCPTool_NextQuestion_InvalidDifficulty(t *testing.T) {
	result, err := mcpNextQuestion(newTestMCPDeps())(context.Background(), makeCallToolRequest("next_question", map[string]interface{}{
		"difficulty": "nightmare",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for unknown difficulty")
	}
}

func TestMCPTool_EvaluateAnswer(t *testing.T) {
	deps := newTestMCPDeps()
	ev := &recordingEvaluator{result: quiz.Evaluation{IsCorrect: true, Score: 8, Explanation: "close enough", CorrectAnswer: "Paris"}}
	deps.Evaluator = ev

	result, err := mcpEvaluateAnswer(deps)(context.Background(), makeCallToolRequest("evaluate_answer", map[string]interface{}{
		"question":        "Capital of France?",
		"answer":          "Paris",
		"transcript":      "paris i think",
		"difficulty":      "medium",
		"elapsed_seconds": 3.5,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var got struct {
		IsCorrect bool    `json:"isCorrect"`
		Score     float64 `json:"score"`
		Degraded  bool    `json:"degraded"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !got.IsCorrect || got.Score != 8 || got.Degraded {
		t.Errorf("evaluation = %+v", got)
	}
	if ev.gotQuestion.Difficulty != quiz.Medium || ev.gotQuestion.Answer != "Paris" {
		t.Errorf("question passed = %+v", ev.gotQuestion)
	}
	if ev.gotElapsed != 3500*time.Millisecond {
		t.Errorf("elapsed passed = %v", ev.gotElapsed)
	}
}

func TestMCPTool_EvaluateAnswer_DegradedFlag(t *testing.T) {
	deps := newTestMCPDeps()
	deps.Evaluator = &recordingEvaluator{result: quiz.Evaluation{Degraded: true, CorrectAnswer: "Paris"}}

	result, _ := mcpEvaluateAnswer(deps)(context.Background(), makeCallToolRequest("evaluate_answer", map[string]interface{}{
		"question":   "Capital of France?",
		"transcript": "london",
	}))
	var got struct {
		Degraded bool `json:"degraded"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !got.Degraded {
		t.Error("degraded flag not reported")
	}
}

func TestMCPTool_EvaluateAnswer_MissingArgs(t *testing.T) {
	handler := mcpEvaluateAnswer(newTestMCPDeps())

	for _, args := range []map[string]interface{}{
		{"transcript": "paris"},
		{"question": "Capital of France?"},
	} {
		result, err := handler(context.Background(), makeCallToolRequest("evaluate_answer", args))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Errorf("args %v: expected error result", args)
		}
	}
}

func TestMCPResource_Bank(t *testing.T) {
	deps := newTestMCPDeps()
	contents, err := mcpResourceBank(deps)(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "quiz://bank"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var sizes map[string]int
	if err := json.Unmarshal([]byte(tc.Text), &sizes); err != nil {
		t.Fatalf("failed to parse sizes: %v", err)
	}
	for _, d := range quiz.Difficulties {
		if sizes[string(d)] == 0 {
			t.Errorf("bank has no %s questions", d)
		}
	}
}

func TestNewMCPServer(t *testing.T) {
	if NewMCPServer(newTestMCPDeps()) == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_EvaluateAnswer_RejectedCredentials(t *testing.T) {
	deps := newTestMCPDeps()
	deps.Evaluator = &recordingEvaluator{result: quiz.Evaluation{Degraded: true, Reauthenticate: true, CorrectAnswer: "Paris"}}

	result, err := mcpEvaluateAnswer(deps)(context.Background(), makeCallToolRequest("evaluate_answer", map[string]interface{}{
		"question":   "Capital of France?",
		"transcript": "paris",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError || toolText(t, result) != "please reauthenticate" {
		t.Errorf("result = %+v, want a reauthenticate error", result)
	}
}
