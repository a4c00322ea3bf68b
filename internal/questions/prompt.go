package questions

import (
	"fmt"
	"strings"

	"github.com/kalambet/vquiz/internal/provider"
)

const generationSystemPrompt = `You are a trivia question generator for a spoken quiz. Your output must be ONLY a single valid JSON object of the form {"question": "...", "answer": "..."}. Do not include any other text, prose, or markdown.

Rules:
- The question must be answerable out loud in a few words.
- The answer must be short and unambiguous.
- Never repeat a question from the list of questions already asked.`

// recentSeenInPrompt caps how much of the seen history is sent upstream.
const recentSeenInPrompt = 50

// BuildPrompt constructs the chat messages for one generation request.
func BuildPrompt(req Request, seen []string) []provider.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Difficulty: %s\n", req.Difficulty)
	if req.Topic != "" {
		fmt.Fprintf(&sb, "Topic: %s\n", req.Topic)
	}
	if req.Domain != "" {
		fmt.Fprintf(&sb, "Domain: %s\n", req.Domain)
	}
	if req.Category != "" {
		fmt.Fprintf(&sb, "Category: %s\n", req.Category)
	}
	if req.SubCategory != "" {
		fmt.Fprintf(&sb, "Sub-category: %s\n", req.SubCategory)
	}

	if len(seen) > recentSeenInPrompt {
		seen = seen[len(seen)-recentSeenInPrompt:]
	}
	if len(seen) > 0 {
		sb.WriteString("\n[Already asked]\n")
		for _, q := range seen {
			fmt.Fprintf(&sb, "- %s\n", q)
		}
	}

	return []provider.Message{
		{Role: "system", Content: generationSystemPrompt},
		{Role: "user", Content: sb.String()},
	}
}

// ExtractJSON returns the outermost JSON object in s, tolerating code fences
// or chatter around it.
func ExtractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
