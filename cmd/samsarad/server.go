package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/samsara-labs/samsara/core/pkg/bus"
	"github.com/samsara-labs/samsara/core/pkg/classifier"
	"github.com/samsara-labs/samsara/core/pkg/config"
	"github.com/samsara-labs/samsara/core/pkg/engine"
	"github.com/samsara-labs/samsara/core/pkg/event"
	"github.com/samsara-labs/samsara/core/pkg/evidence"
	"github.com/samsara-labs/samsara/core/pkg/feedback"
	"github.com/samsara-labs/samsara/core/pkg/ledger"
	"github.com/samsara-labs/samsara/core/pkg/lifecycle"
	"github.com/samsara-labs/samsara/core/pkg/metering"
	"github.com/samsara-labs/samsara/core/pkg/observability"
	"github.com/samsara-labs/samsara/core/pkg/oracle"
	"github.com/samsara-labs/samsara/core/pkg/store"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver (lite mode)
)

// stack is everything a running node wires together.
type stack struct {
	cfg    *config.Config
	db     *sql.DB
	store  store.Store
	ledger *ledger.TokenLedger
	bus    *bus.Bus
	engine *engine.Engine
	meter  metering.Meter
	obs    *observability.Provider
	logger *slog.Logger
}

func openDatabase(dbURL string) (*sql.DB, bool, error) {
	if strings.HasPrefix(dbURL, "postgres://") || strings.HasPrefix(dbURL, "postgresql://") {
		db, err := sql.Open("postgres", dbURL)
		return db, true, err
	}
	db, err := sql.Open("sqlite", dbURL)
	return db, false, err
}

func newStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stack, error) {
	db, isPostgres, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	st := store.NewSQLStore(db)
	if err := st.Init(ctx); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	// Engine profile: absent file keeps defaults.
	profile, err := config.LoadProfile(cfg.ProfilesDir, cfg.Profile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		logger.Warn("profile not found, using defaults", "profile", cfg.Profile)
		profile = &config.EngineProfile{SchemaVersion: "1.0.0", Code: cfg.Profile}
	}

	lifecycleCfg, err := profile.LifecycleConfig()
	if err != nil {
		return nil, err
	}
	feedbackCfg, err := profile.FeedbackConfig()
	if err != nil {
		return nil, err
	}

	cl, err := classifier.NewFromFile(cfg.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	machine := lifecycle.NewMachine(lifecycleCfg)
	led := ledger.New(st, machine, logger)
	b := bus.New(profile.BusConfig(), logger)

	fb, err := feedback.New(feedbackCfg, st, b, logger)
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{
		engine.WithFeedback(fb),
		engine.WithOracle(oracle.NewRuleOracle(st, lifecycleCfg.DeathThreshold, feedbackCfg.WindowSize)),
	}

	policy := engine.LimiterPolicy{
		EventsPerSecond: profile.Limiter.EventsPerSecond,
		Burst:           profile.Limiter.Burst,
	}
	if cfg.RedisAddr != "" {
		opts = append(opts, engine.WithLimiter(engine.NewRedisLimiter(cfg.RedisAddr, "", 0, policy)))
		logger.Info("redis limiter enabled", "addr", cfg.RedisAddr)
	} else {
		opts = append(opts, engine.WithLimiter(engine.NewMemoryLimiter(policy)))
	}

	if ev, err := evidence.NewStoreFromEnv(ctx); err == nil {
		opts = append(opts, engine.WithEvidence(ev))
	} else {
		logger.Warn("evidence store unavailable, refs pass unverified", "error", err)
	}

	engineCfg := engine.Config{
		ClassifyTimeout: profile.Engine.ClassifyTimeout.Std(),
		QueueSize:       profile.Engine.QueueSize,
	}
	eng := engine.New(engineCfg, cl, led, b, logger, opts...)

	var meter metering.Meter
	if isPostgres {
		pm := metering.NewPostgresMeter(db)
		if err := pm.Init(ctx); err != nil {
			return nil, fmt.Errorf("init metering: %w", err)
		}
		meter = pm
	} else {
		meter = metering.NewMemoryMeter()
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTLPEndpoint != ""
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return nil, err
	}

	return &stack{
		cfg:    cfg,
		db:     db,
		store:  st,
		ledger: led,
		bus:    b,
		engine: eng,
		meter:  meter,
		obs:    obs,
		logger: logger,
	}, nil
}

func (s *stack) Close(ctx context.Context) {
	s.engine.Close()
	_ = s.obs.Shutdown(ctx)
	_ = s.db.Close()
}

func runServer() {
	fmt.Fprintf(os.Stdout, "%sSamsara Core starting...%s\n", ColorBold+ColorBlue, ColorReset)
	ctx := context.Background()

	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	s, err := newStack(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to build engine stack: %v", err)
	}
	logger.Info("engine ready",
		"profile", cfg.Profile,
		"rules", cfg.RulesPath,
		"database", cfg.DatabaseURL,
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info("listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-stop.Done()
	logger.Info("shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	_ = srv.Shutdown(shutdownCtx)
	s.Close(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func (s *stack) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events", s.handleSubmit)
	mux.HandleFunc("GET /v1/identities/{id}/ledger", s.handleLedger)
	mux.HandleFunc("GET /v1/identities/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /v1/identities/{id}/stats", s.handleStats)
	mux.HandleFunc("GET /v1/identities/{id}/debts", s.handleDebts)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *stack) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var in event.Inbound
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	source := in.Source
	if source == "" {
		source = "http"
	}

	ctx, done := s.obs.TrackOperation(r.Context(), "submit",
		observability.AttrEventType.String(string(in.Type)),
		observability.AttrSource.String(source),
	)

	res, err := s.engine.Submit(ctx, in)
	done(err)

	if err != nil {
		s.recordUsage(ctx, source, in.IdentityID, metering.EventRejection)
		writeError(w, err)
		return
	}

	s.recordUsage(ctx, source, in.IdentityID, metering.EventIngestion)
	writeJSON(w, http.StatusOK, res)
}

func (s *stack) handleLedger(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.GetLedger(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *stack) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if _, err := fmt.Sscanf(q, "%d", &limit); err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}
	history, err := s.engine.GetHistory(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *stack) handleStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stats, err := s.engine.GetStats(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	s.recordUsage(r.Context(), "http", id, metering.EventStatsRead)
	writeJSON(w, http.StatusOK, stats)
}

func (s *stack) handleDebts(w http.ResponseWriter, r *http.Request) {
	includeResolved := r.URL.Query().Get("resolved") == "true"
	debts, err := s.store.Debts(r.Context(), r.PathValue("id"), includeResolved)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, debts)
}

// handleStream serves bus facts as server-sent events. Query params:
// identity and kind filter the stream; since (RFC3339) replays the
// buffered window before going live.
func (s *stack) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	filter := bus.Filter{IdentityID: r.URL.Query().Get("identity")}
	for _, k := range r.URL.Query()["kind"] {
		filter.Kinds = append(filter.Kinds, bus.FactKind(k))
	}
	var since time.Time
	if q := r.URL.Query().Get("since"); q != "" {
		t, err := time.Parse(time.RFC3339, q)
		if err != nil {
			http.Error(w, "invalid since, want RFC3339", http.StatusBadRequest)
			return
		}
		since = t
	}

	sub := s.bus.SubscribeReplay(filter, since)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case fact, open := <-sub.C:
			if !open {
				// Evicted past the watermark; the client reconnects
				// with since to catch up.
				return
			}
			data, err := json.Marshal(fact)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", fact.Kind, data)
			flusher.Flush()
		}
	}
}

func (s *stack) handleStatus(w http.ResponseWriter, _ *http.Request) {
	published, buffered, subscribers, dropped := s.bus.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"profile": s.cfg.Profile,
		"bus": map[string]uint64{
			"published":   published,
			"buffered":    buffered,
			"subscribers": subscribers,
			"dropped":     dropped,
		},
	})
}

func (s *stack) recordUsage(ctx context.Context, source, identityID string, kind metering.EventType) {
	err := s.meter.Record(ctx, metering.Event{
		Source:     source,
		IdentityID: identityID,
		EventType:  kind,
		Quantity:   1,
	})
	if err != nil {
		s.logger.Warn("metering record failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var (
		vErr  *engine.ValidationError
		sErr  *engine.StateConflictError
		rlErr *engine.RateLimitedError
	)
	switch {
	case errors.As(err, &vErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &sErr):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &rlErr):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "identity not found", http.StatusNotFound)
	case errors.Is(err, engine.ErrShuttingDown):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
