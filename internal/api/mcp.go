package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/vquiz/internal/questions"
	"github.com/kalambet/vquiz/internal/quiz"
	"github.com/kalambet/vquiz/internal/session"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Source    session.QuestionSource
	Evaluator session.Evaluator
	Seen      *questions.SeenSet
	// SeenStore and UserID persist Seen after each served question; a nil
	// SeenStore keeps the set in memory only.
	SeenStore questions.SeenStore
	UserID    string
	Bank      questions.Bank // optional; if nil, the bank resource is not registered
}

// NewMCPServer creates an MCP server exposing question generation and
// answer grading as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"vquiz",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("vquiz: trivia questions and answer grading for spoken quizzes."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("next_question",
			mcp.WithDescription("Produce a trivia question the user has not seen yet. Falls back to the offline bank when generation is unavailable."),
			mcp.WithString("difficulty", mcp.Description("easy, medium or hard (default easy)")),
			mcp.WithString("topic", mcp.Description("Optional topic hint")),
			mcp.WithString("domain", mcp.Description("Optional subject domain")),
		),
		mcpNextQuestion(deps),
	)

	s.AddTool(
		mcp.NewTool("evaluate_answer",
			mcp.WithDescription("Grade a transcribed spoken answer against a question."),
			mcp.WithString("question", mcp.Description("The question text"), mcp.Required()),
			mcp.WithString("answer", mcp.Description("The reference answer")),
			mcp.WithString("transcript", mcp.Description("What the user said"), mcp.Required()),
			mcp.WithString("difficulty", mcp.Description("easy, medium or hard (default easy)")),
			mcp.WithNumber("elapsed_seconds", mcp.Description("Seconds the user took to answer")),
		),
		mcpEvaluateAnswer(deps),
	)

	if deps.Bank != nil {
		s.AddResource(
			mcp.NewResource(
				"quiz://bank",
				"Fallback Bank",
				mcp.WithResourceDescription("Number of offline questions per difficulty"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceBank(deps),
		)
	}

	return s
}

func mcpNextQuestion(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		d, err := quiz.ParseDifficulty(req.GetString("difficulty", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		q := deps.Source.Next(ctx, questions.Request{
			Topic:      req.GetString("topic", ""),
			Domain:     req.GetString("domain", ""),
			Difficulty: d,
		}, deps.Seen)
		if q.Reauthenticate {
			return mcpError("please reauthenticate"), nil
		}
		if deps.SeenStore != nil {
			if err := questions.SaveSeenSet(deps.SeenStore, deps.UserID, deps.Seen); err != nil {
				slog.Warn("failed to persist seen questions", "error", err)
			}
		}

		b, err := json.Marshal(q)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal question: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpEvaluateAnswer(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("question")
		if err != nil || prompt == "" {
			return mcpError("question is required"), nil
		}
		transcript, err := req.RequireString("transcript")
		if err != nil {
			return mcpError("transcript is required"), nil
		}
		d, err := quiz.ParseDifficulty(req.GetString("difficulty", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		seconds := req.GetFloat("elapsed_seconds", 0)
		if seconds < 0 {
			seconds = 0
		}

		q := quiz.Question{Prompt: prompt, Answer: req.GetString("answer", ""), Difficulty: d}
		ev := deps.Evaluator.Evaluate(ctx, q, transcript, time.Duration(seconds*float64(time.Second)))
		if ev.Reauthenticate {
			return mcpError("please reauthenticate"), nil
		}

		type evaluationResult struct {
			quiz.Evaluation
			Degraded bool `json:"degraded"`
		}
		b, err := json.Marshal(evaluationResult{Evaluation: ev, Degraded: ev.Degraded})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal evaluation: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceBank(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(questions.Sizes(deps.Bank))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal bank sizes: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
