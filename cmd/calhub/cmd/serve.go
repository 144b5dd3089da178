package cmd

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	_ "modernc.org/sqlite"

	"calhub/internal/adapter/google"
	"calhub/internal/adapter/local"
	"calhub/internal/adapter/outlook"
	"calhub/internal/broadcast"
	"calhub/internal/core"
	"calhub/internal/dispatch"
	"calhub/internal/gateway"
	"calhub/internal/reconcile"
	"calhub/internal/session"
	"calhub/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", "", "listen address (overrides config)")
	viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
}

func runServe(ctx context.Context) error {
	// .env is optional; real env vars win either way.
	godotenv.Load()

	log := newLogger(viper.GetString("log_level"))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(viper.GetString("db"))
	if err != nil {
		return err
	}
	defer db.Close()

	subs := store.NewSQLiteStore(db)
	if err := subs.EnsureSchema(ctx); err != nil {
		return err
	}

	adapters, err := buildAdapters(ctx, db)
	if err != nil {
		return err
	}
	if len(adapters) == 0 {
		return errors.New("no providers enabled; enable at least one under providers.* in the config")
	}
	for _, a := range adapters {
		log.Info("provider enabled", "provider", a.Provider())
	}

	registry := dispatch.NewRegistry(adapters...)
	reconciler := reconcile.New(subs)

	ttl := viper.GetDuration("session.ttl")
	sessions := session.NewStore(ttl)
	mintKey := viper.GetString("session.mint_key")
	if mintKey == "" {
		log.Warn("session.mint_key is empty; the mint and broadcast endpoints are disabled")
	}

	gw := gateway.New(sessions, reconciler, registry, viper.GetStringSlice("allowed_origins"), log)
	broadcaster := broadcast.New(subs, registry, gw, log)

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	mux.Handle("/session", session.MintHandler(sessions, mintKey))
	mux.Handle("/broadcast", broadcastHandler(broadcaster, mintKey))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	var poller *broadcast.Poller
	if viper.GetBool("poll.enabled") {
		poller = broadcast.NewPoller(broadcaster, subs, registry, log)
		if err := poller.Start(viper.GetString("poll.schedule")); err != nil {
			return fmt.Errorf("start poller: %w", err)
		}
	}

	srv := &http.Server{
		Addr:    viper.GetString("listen"),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	if poller != nil {
		poller.Stop()
	}
	gw.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openDB opens the SQLite database with settings suited to a single server
// process with concurrent handlers.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// buildAdapters constructs one adapter per enabled provider.
func buildAdapters(ctx context.Context, db *sql.DB) ([]core.Adapter, error) {
	var adapters []core.Adapter

	if viper.GetBool("providers.local.enabled") {
		a := local.New(db)
		if err := a.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}

	if viper.GetBool("providers.google.enabled") {
		creds := expandPath(viper.GetString("providers.google.credentials_file"))
		tokenDir := expandPath(viper.GetString("providers.google.token_dir"))
		if err := os.MkdirAll(tokenDir, 0o700); err != nil {
			return nil, fmt.Errorf("create google token dir: %w", err)
		}
		adapters = append(adapters, google.New(creds, tokenDir))
	}

	if viper.GetBool("providers.outlook.enabled") {
		clientID := viper.GetString("providers.outlook.client_id")
		if clientID == "" {
			return nil, errors.New("providers.outlook.client_id is required when outlook is enabled")
		}
		tokenDir := expandPath(viper.GetString("providers.outlook.token_dir"))
		if err := os.MkdirAll(tokenDir, 0o700); err != nil {
			return nil, fmt.Errorf("create outlook token dir: %w", err)
		}
		adapters = append(adapters, outlook.New(clientID, viper.GetString("providers.outlook.tenant_id"), tokenDir))
	}

	return adapters, nil
}

// broadcastHandler lets an external trigger (a webhook relay, an admin) force
// a broadcast for one user and provider without waiting for the next poll:
// POST {"userId": ..., "provider": ...} with the shared key in X-Mint-Key.
func broadcastHandler(b *broadcast.Broadcaster, mintKey string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if mintKey == "" || r.Header.Get("X-Mint-Key") != mintKey {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		var body struct {
			UserID   string `json:"userId"`
			Provider string `json:"provider"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
			http.Error(w, "userId and provider are required", http.StatusBadRequest)
			return
		}
		provider, err := core.ParseProvider(body.Provider)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := b.Broadcast(r.Context(), body.UserID, provider); err != nil {
			http.Error(w, "broadcast failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(log)
	return log
}
