package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mailfinder/internal/model"
	"github.com/sells-group/mailfinder/internal/orchestrator"
	"github.com/sells-group/mailfinder/internal/progress"
	"github.com/sells-group/mailfinder/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the JSON API for runs, progress and the outbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(ctx, env.Store, env.Sink, env.Runner, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		env.Runner.Wait()
		return nil
	},
}

// runStarter launches background runs.
type runStarter interface {
	Start(ctx context.Context, opts orchestrator.Options) (bool, error)
}

// newRouter mounts the API. runCtx parents background runs so they carry
// the server's values, not the request's lifetime.
func newRouter(runCtx context.Context, st store.Store, sink progress.Sink, runner runStarter, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/progress", func(w http.ResponseWriter, req *http.Request) {
		p, err := sink.Read(req.Context())
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, p)
	})

	r.Post("/runs", func(w http.ResponseWriter, req *http.Request) {
		var opts orchestrator.Options
		if err := json.NewDecoder(req.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
			writeJSONError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if opts.Limit < 0 {
			writeJSONError(w, "limit must be >= 0", http.StatusBadRequest)
			return
		}

		started, err := runner.Start(runCtx, opts)
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !started {
			writeJSONError(w, "a run is already active", http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	})

	r.Get("/outbox", func(w http.ResponseWriter, req *http.Request) {
		filter := model.OutboxFilter{
			Status: model.OutboxStatus(req.URL.Query().Get("status")),
			Search: req.URL.Query().Get("search"),
		}
		entries, err := st.ListOutbox(req.Context(), filter)
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []model.OutboxEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	})

	r.Get("/outbox/stats", func(w http.ResponseWriter, req *http.Request) {
		counts, err := st.CountOutboxByStatus(req.Context())
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, counts)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
