package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/vquiz/internal/api"
	"github.com/kalambet/vquiz/internal/config"
	"github.com/kalambet/vquiz/internal/provider"
	"github.com/kalambet/vquiz/internal/questions"
	"github.com/kalambet/vquiz/internal/session"
	"github.com/kalambet/vquiz/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the quiz HTTP API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vquiz status",
	RunE: func(cmd *cobra.Command, args []string) error {
		checkModels, _ := cmd.Flags().GetBool("check-models")
		return showStatus(cmd.Context(), checkModels)
	},
}

func runServer() error {
	fmt.Fprintln(os.Stderr, versionLine())

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level, slog.LevelInfo)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	apiToken, err := ensureAPIToken(a.store)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := api.NewAppHandler(api.AppDeps{
		Token:      apiToken,
		NewManager: func() *session.Manager { return a.newManager(nil) },
		Speech:     a.speech,
		Limits:     a.registry.Snapshot,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "vquiz listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if worker := a.newSinkWorker(); worker != nil {
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
		slog.Info("attempt sink worker started", "url", cfg.Sink.URL)
	}

	if cfg.Server.MCPEnabled {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Source:    a.source,
			Evaluator: a.evaluator,
			Seen:      a.seen,
			SeenStore: a.store,
			UserID:    a.cfg.User.ID,
			Bank:      a.bank,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}

func init() {
	statusCmd.Flags().Bool("check-models", false, "ask the provider whether the configured models are available")
}

func showStatus(ctx context.Context, checkModels bool) error {
	cfg, err := config.LoadOptional()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}
	if running {
		printLimits(ctx)
	}

	if len(cfg.Provider.APIKeys) == 0 {
		printStatus("Credentials", "%s", colorize(colorYellow, "none (questions come from the offline bank)"))
	} else {
		printStatus("Credentials", "%d", len(cfg.Provider.APIKeys))
	}
	printStatus("Models", "%v", cfg.Provider.Models)
	if checkModels && len(cfg.Provider.APIKeys) > 0 {
		missing, err := missingModels(ctx, provider.NewClient(cfg.Provider.BaseURL), cfg.Provider.APIKeys[0], cfg.Provider.Models)
		switch {
		case err != nil:
			printStatus("Model check", "%s", colorize(colorRed, err.Error()))
		case len(missing) > 0:
			printStatus("Model check", "%s", colorize(colorYellow, "not offered: "+strings.Join(missing, ", ")))
		default:
			printStatus("Model check", "%s", colorize(colorGreen, "all available"))
		}
	}

	if bank, err := questions.OpenBank(cfg.Quiz.BankDir); err == nil {
		sizes := questions.Sizes(bank)
		printStatus("Bank", "easy %d, medium %d, hard %d", sizes["easy"], sizes["medium"], sizes["hard"])
	} else {
		printStatus("Bank", "%v", err)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		printStatus("Storage", "%v", err)
		return nil
	}
	defer store.Close()

	if seen, err := store.LoadSeen(cfg.User.ID); err == nil {
		printStatus("Seen questions", "%d (user %s)", len(seen), cfg.User.ID)
	}
	if counts, err := store.OutboxCounts(); err == nil {
		printStatus("Attempt outbox", "%d pending, %d delivered, %d failed",
			counts[storage.StatusQueued]+counts[storage.StatusSending],
			counts[storage.StatusDelivered], counts[storage.StatusFailed])
	}
	if failed, err := store.ListOutbox(storage.StatusFailed, 1); err == nil && len(failed) > 0 {
		printStatus("Last failed delivery", "attempt %s after %d tries: %s",
			failed[0].AttemptID, failed[0].Tries, failed[0].LastError)
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// printLimits reports the running server's credential/model cooldowns.
func printLimits(ctx context.Context) {
	client, err := newAPIClient()
	if err != nil {
		return
	}
	resp, err := client.get(ctx, "/limits")
	if err != nil {
		return
	}
	var limits []api.LimitResponse
	if err := decodeJSON(resp, &limits); err != nil {
		printStatus("Cooldowns", "%v", err)
		return
	}
	if len(limits) == 0 {
		printStatus("Cooldowns", "none")
		return
	}
	for _, l := range limits {
		printStatus("Cooldown", "%s for %ds", l.Pair, l.RemainingSeconds)
	}
}

type modelLister interface {
	ListModels(ctx context.Context, apiKey string) ([]provider.Model, error)
}

// missingModels returns the configured models the provider does not list as
// active for apiKey.
func missingModels(ctx context.Context, lister modelLister, apiKey string, want []string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	models, err := lister.ListModels(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	offered := make(map[string]bool, len(models))
	for _, m := range models {
		if m.Active == nil || *m.Active {
			offered[m.ID] = true
		}
	}
	var missing []string
	for _, id := range want {
		if !offered[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
