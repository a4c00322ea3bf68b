package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/vquiz/internal/quiz"
	"github.com/kalambet/vquiz/internal/session"
)

// Prompts and questions go to stdout so answers can be piped; everything
// else is commentary on stderr.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

type tone struct {
	color string
	mark  string
}

var (
	toneGood = tone{colorGreen, "✓"}
	toneBad  = tone{colorRed, "✗"}
	toneWarn = tone{colorYellow, "⚠"}
	toneInfo = tone{colorCyan, "→"}
)

func (t tone) say(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(t.color, t.mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { toneGood.say(format, args...) }
func printError(format string, args ...any)   { toneBad.say(format, args...) }
func printWarning(format string, args ...any) { toneWarn.say(format, args...) }
func printStep(format string, args ...any)    { toneInfo.say(format, args...) }

// printStatus prints an indented "label: value" line.
func printStatus(label, format string, args ...any) {
	fmt.Fprintf(stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func printCountdown(remaining time.Duration) {
	fmt.Fprintln(stderr, colorize(colorCyan, fmt.Sprintf("  … %ds left", int(remaining/time.Second))))
}

func printQuestion(n, total int, q quiz.Question) {
	tags := []string{string(q.Difficulty)}
	if q.Domain != "" {
		tags = append(tags, q.Domain)
	}
	if q.Source == quiz.SourceFallback {
		tags = append(tags, "offline")
	}
	header := colorize(colorBold, fmt.Sprintf("Question %d/%d", n, total))
	fmt.Fprintf(stdout, "\n%s [%s]\n  %s\n> ", header, strings.Join(tags, ", "), q.Prompt)
}

func printAttempt(a quiz.Attempt) {
	switch a.Outcome {
	case quiz.OutcomeSkipped:
		printWarning("Skipped. The answer was: %s", a.CorrectAnswer)
		return
	case quiz.OutcomeTimeout:
		printWarning("Time is up. The answer was: %s", a.CorrectAnswer)
		return
	case quiz.OutcomeError:
		printError("No answer captured (%s). The answer was: %s", a.Explanation, a.CorrectAnswer)
		return
	}

	if a.IsCorrect {
		printSuccess("Correct! +%.0f (%.1fs)", a.Score, a.Elapsed.Seconds())
	} else {
		printError("Not quite. The answer was: %s", a.CorrectAnswer)
	}
	if a.Explanation != "" {
		fmt.Fprintf(stderr, "  %s\n", a.Explanation)
	}
}

// summaryOutcomes are the non-evaluated outcomes listed under "Other".
var summaryOutcomes = []quiz.Outcome{quiz.OutcomeSkipped, quiz.OutcomeTimeout, quiz.OutcomeError, quiz.OutcomeDegraded}

func printSummary(sum session.Summary) {
	title := "Session summary"
	if !sum.Ended {
		title += " (incomplete)"
	}
	fmt.Fprintln(stderr, colorize(colorBold, title))
	printStatus("Score", "%.0f", sum.Overall.Score)
	printStatus("Correct", "%d/%d", sum.Overall.Correct, sum.Overall.Attempts)
	if sum.Overall.Attempts > 0 {
		printStatus("Mean time", "%.1fs", sum.MeanTime.Seconds())
	}

	domains := make([]string, 0, len(sum.ByDomain))
	for d := range sum.ByDomain {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	for _, d := range domains {
		st := sum.ByDomain[d]
		printStatus("  "+d, "%d/%d", st.Correct, st.Attempts)
	}

	var other []string
	for _, o := range summaryOutcomes {
		if n := sum.Outcomes[o]; n > 0 {
			other = append(other, fmt.Sprintf("%d %s", n, o))
		}
	}
	if len(other) > 0 {
		printStatus("Other", "%s", strings.Join(other, ", "))
	}
}
