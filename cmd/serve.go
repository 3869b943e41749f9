package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/tariff-cli/internal/completeness"
	"github.com/sells-group/tariff-cli/internal/config"
	"github.com/sells-group/tariff-cli/internal/model"
	"github.com/sells-group/tariff-cli/internal/monitoring"
	"github.com/sells-group/tariff-cli/internal/registry"
	"github.com/sells-group/tariff-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the completeness scoring API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		// The store is optional; without one the snapshot routes return 503.
		var st store.Store
		if cfg.Store.DatabaseURL != "" {
			s, err := initMigratedStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck
			st = s
		}

		if cfg.Monitoring.Enabled {
			if st == nil {
				zap.L().Warn("monitoring enabled but no store configured, skipping alert checker")
			} else {
				checker := monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
				go checker.Run(ctx)
			}
		}

		reg, err := loadRegistry()
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(newAPI(cfg, st, reg)),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			timeout := cfg.Server.ShutdownTimeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port), zap.Bool("store", st != nil))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// api holds the dependencies of the HTTP handlers.
type api struct {
	completeness completeness.Config
	groupBy      string
	concurrency  int
	thresholds   registry.Thresholds
	registry     *registry.Registry
	store        store.Store
	server       config.ServerConfig
}

func newAPI(c *config.Config, st store.Store, reg *registry.Registry) *api {
	return &api{
		completeness: c.Completeness,
		groupBy:      c.Score.GroupBy,
		concurrency:  c.Score.Concurrency,
		thresholds:   c.Registry.Thresholds,
		registry:     reg,
		store:        st,
		server:       c.Server,
	}
}

func buildRouter(a *api) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := a.server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", a.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(newClientLimiter(a.server.RateLimit, a.server.Burst).middleware)
		r.Post("/completeness", a.handleCompleteness)
		r.Get("/snapshots", a.handleListSnapshots)
		r.Get("/snapshots/{id}", a.handleGetSnapshot)
	})

	return r
}

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "store": a.store != nil})
}

// completenessRequest is the POST /v1/completeness body. Config fields
// that are omitted fall back to the server's configuration.
type completenessRequest struct {
	Records []model.RateRecord `json:"records"`
	Config  *struct {
		InferredCredit *float64           `json:"inferred_credit"`
		UntaggedSource *model.SourceTag   `json:"untagged_source"`
		Fields         []string           `json:"fields"`
		Weights        map[string]float64 `json:"weights"`
	} `json:"config"`
	GroupBy string `json:"group_by"`
}

func (a *api) handleCompleteness(w http.ResponseWriter, r *http.Request) {
	if a.server.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.server.MaxBodyBytes)
	}

	var req completenessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ccfg := a.completeness
	if c := req.Config; c != nil {
		if c.InferredCredit != nil {
			ccfg.InferredCredit = *c.InferredCredit
		}
		if c.UntaggedSource != nil {
			ccfg.UntaggedSource = *c.UntaggedSource
		}
		if c.Fields != nil {
			ccfg.Fields = c.Fields
			ccfg.Weights = nil
		}
		if c.Weights != nil {
			ccfg.Weights = c.Weights
		}
	}
	groupBy := a.groupBy
	if req.GroupBy != "" {
		groupBy = req.GroupBy
	}
	if _, err := completeness.ParseGroupBy(groupBy); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := scoreRecords(r.Context(), scoreRequest{
		Records:     req.Records,
		Config:      ccfg,
		GroupBy:     groupBy,
		Concurrency: a.concurrency,
		Registry:    a.registry,
		Thresholds:  a.thresholds,
	})
	var cerr *completeness.ConfigurationError
	switch {
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "invalid configuration", "problems": cerr.Problems})
		return
	case err != nil:
		zap.L().Error("completeness scoring failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "scoring failed")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (a *api) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}

	q := r.URL.Query()
	filter := store.SnapshotFilter{
		UtilityID: q.Get("utility_id"),
		Commodity: model.Commodity(q.Get("commodity")),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	snaps, err := a.store.ListSnapshots(r.Context(), filter)
	if err != nil {
		zap.L().Error("list snapshots failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list snapshots failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

func (a *api) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}

	id := chi.URLParam(r, "id")
	snap, err := a.store.GetSnapshot(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "snapshot not found")
		return
	case err != nil:
		zap.L().Error("get snapshot failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get snapshot failed")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, eris.Errorf("invalid integer %q", s)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// clientLimiter applies a token bucket per client address.
type clientLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// newClientLimiter returns a limiter allowing rps sustained requests per
// client. A non-positive rps disables limiting.
func newClientLimiter(rps float64, burst int) *clientLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (l *clientLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

func (l *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			key = host
		}
		if !l.get(key).Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
