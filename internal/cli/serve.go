// serve.go implements the "ccgrid serve" command, which runs the
// orchestrator and its HTTP/websocket API.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/O6lvl4/ccgrid-sub001/internal/api"
	"github.com/O6lvl4/ccgrid-sub001/internal/engine"
	"github.com/O6lvl4/ccgrid-sub001/internal/event"
	runlog "github.com/O6lvl4/ccgrid-sub001/internal/log"
	"github.com/O6lvl4/ccgrid-sub001/internal/orchestrator"
	"github.com/O6lvl4/ccgrid-sub001/internal/permission"
	"github.com/O6lvl4/ccgrid-sub001/internal/session"
)

const eventHistorySize = 1000

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ccgrid server",
	Long: `Start the orchestrator and serve the REST API, the websocket event
stream, and the callback endpoints used by running agents. Sessions
persisted by an earlier server are restored on startup.`,
	RunE: runServe,
}

var addrFlag string

func init() {
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (default: server.addr from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addrFlag != "" {
		cfg.Server.Addr = addrFlag
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	store, err := session.NewStore(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer func() { _ = store.Close() }()

	journal, err := runlog.NewLogger(cfg.Storage.JournalDir)
	if err != nil {
		return err
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating ccgrid executable: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := event.NewBus(ctx, event.BusOptions{
		Name:        "ccgrid",
		HistorySize: eventHistorySize,
		Logger:      logger,
	})
	dispatcher := engine.NewDispatcher()
	claude := engine.NewClaudeEngine(engine.ClaudeOptions{
		Binary:      cfg.Claude.Binary,
		SelfPath:    self,
		CallbackURL: serverURL(cfg.Server.Addr),
		Logger:      logger,
	}, dispatcher)
	rules := permission.NewFileRuleStore(cfg.Storage.RulesPath)

	svc := orchestrator.New(orchestrator.Options{
		Engine:                claude,
		Broadcaster:           bus,
		Store:                 store,
		Rules:                 rules,
		Journal:               journal,
		Logger:                logger,
		ClaudeDir:             cfg.Claude.Home,
		DefaultModel:          cfg.Claude.Model,
		DefaultPermissionMode: session.PermissionMode(cfg.Claude.PermissionMode),
		TaskInterval:          cfg.TaskInterval(),
		TranscriptInterval:    cfg.TranscriptInterval(),
		PersistDelay:          cfg.PersistDelay(),
	})
	restored, err := svc.LoadPersisted()
	if err != nil {
		return err
	}

	router := api.NewRouter(api.Deps{
		Service:    svc,
		Bus:        bus,
		Rules:      rules,
		Dispatcher: dispatcher,
		AuthToken:  cfg.Server.AuthToken,
		Logger:     logger,
	})

	// No write timeout: websocket streams and permission waits stay open.
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(done)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", cfg.Server.Addr,
			"restored_sessions", restored,
			"auth", cfg.Server.AuthToken != "",
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case sig := <-done:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			svc.Shutdown()
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop runs first so open websocket streams see their bus close.
	svc.Shutdown()
	cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	published, dropped := bus.Stats()
	logger.Info("server stopped", "events_published", published, "events_dropped", dropped)
	return nil
}
