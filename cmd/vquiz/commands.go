package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/vquiz/internal/api"
	"github.com/kalambet/vquiz/internal/config"
	"github.com/kalambet/vquiz/internal/questions"
	"github.com/kalambet/vquiz/internal/quiz"
	"github.com/kalambet/vquiz/internal/session"
)

// --- bank ---

var bankCmd = &cobra.Command{
	Use:   "bank",
	Short: "Inspect the offline question bank",
}

var bankListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bank sizes, or the questions of one difficulty",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		difficulty, _ := cmd.Flags().GetString("difficulty")

		if dir == "" {
			cfg, err := config.LoadOptional()
			if err != nil {
				return err
			}
			dir = cfg.Quiz.BankDir
		}
		bank, err := questions.OpenBank(dir)
		if err != nil {
			return err
		}

		if difficulty == "" {
			sizes := questions.Sizes(bank)
			for _, d := range quiz.Difficulties {
				printStatus(string(d), "%d", sizes[d])
			}
			return nil
		}

		d, err := quiz.ParseDifficulty(difficulty)
		if err != nil {
			return err
		}
		entries, err := bank.Entries(d)
		if err != nil {
			return err
		}
		for _, e := range entries {
			domain := ""
			if e.Domain != "" {
				domain = colorize(colorCyan, "["+e.Domain+"] ")
			}
			fmt.Printf("%s%s  %s\n", domain, e.Question, colorize(colorBold, e.Answer))
		}
		return nil
	},
}

func init() {
	bankListCmd.Flags().String("dir", "", "bank directory (default: quiz.bank_dir or the bundled bank)")
	bankListCmd.Flags().String("difficulty", "", "print the questions of one difficulty")
	bankCmd.AddCommand(bankListCmd)
}

// --- session (remote) ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Drive a session on a running server",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a session and print the first question",
	RunE: func(cmd *cobra.Command, args []string) error {
		difficulty, _ := cmd.Flags().GetString("difficulty")
		topic, _ := cmd.Flags().GetString("topic")
		domain, _ := cmd.Flags().GetString("domain")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/sessions", api.StartRequest{
			Difficulty: difficulty,
			Topic:      topic,
			Domain:     domain,
		})
		if err != nil {
			return err
		}

		var result api.SessionResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Session %s started", result.Session.ID)
		if result.Question != nil {
			printQuestion(1, result.Session.TargetLength, *result.Question)
			fmt.Println()
		}
		return nil
	},
}

var sessionAnswerCmd = &cobra.Command{
	Use:   "answer <id> <transcript...>",
	Short: "Submit an answer for the pending question",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		elapsed, _ := cmd.Flags().GetFloat64("elapsed")
		return postAttempt(cmd.Context(), "/sessions/"+args[0]+"/answer", api.AnswerRequest{
			Transcript:     strings.Join(args[1:], " "),
			ElapsedSeconds: elapsed,
		})
	},
}

var sessionSkipCmd = &cobra.Command{
	Use:   "skip <id>",
	Short: "Skip the pending question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postAttempt(cmd.Context(), "/sessions/"+args[0]+"/skip", nil)
	},
}

var sessionSummaryCmd = &cobra.Command{
	Use:   "summary <id>",
	Short: "Print the session summary as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/sessions/"+args[0]+"/summary")
		if err != nil {
			return err
		}
		var sum session.Summary
		if err := decodeJSON(resp, &sum); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	},
}

var sessionEndCmd = &cobra.Command{
	Use:   "end <id>",
	Short: "Discard a session on the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/sessions/"+args[0])
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Session %s discarded", args[0])
		return nil
	},
}

func postAttempt(ctx context.Context, path string, body any) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.post(ctx, path, body)
	if err != nil {
		return err
	}
	var result api.AttemptResponse
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	printAttempt(result.Attempt)
	switch {
	case result.Summary != nil:
		printSummary(*result.Summary)
	case result.NextQuestion != nil:
		printQuestion(len(result.Session.Attempts)+1, result.Session.TargetLength, *result.NextQuestion)
		fmt.Println()
	case result.Reauthenticate:
		printWarning("Provider credentials were rejected: please reauthenticate (vquiz config set-keys).")
	}
	return nil
}

func init() {
	sessionStartCmd.Flags().String("difficulty", "easy", "easy, medium or hard")
	sessionStartCmd.Flags().String("topic", "", "optional topic hint")
	sessionStartCmd.Flags().String("domain", "", "optional subject domain")
	sessionAnswerCmd.Flags().Float64("elapsed", 0, "seconds taken to answer")

	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionAnswerCmd)
	sessionCmd.AddCommand(sessionSkipCmd)
	sessionCmd.AddCommand(sessionSummaryCmd)
	sessionCmd.AddCommand(sessionEndCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOptional()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value.\n\nValid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetKeysCmd = &cobra.Command{
	Use:   "set-keys <key,key,...>",
	Short: "Store provider API keys in the platform secret store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetAPIKeys(args[0]); err != nil {
			return err
		}
		printSuccess("Stored provider API keys")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetKeysCmd)
}
