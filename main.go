package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	openai "github.com/sashabaranov/go-openai"

	"reconcile-cloud/internal/audit"
	"reconcile-cloud/internal/auth"
	"reconcile-cloud/internal/explain"
	"reconcile-cloud/internal/observability/metrics"
	reconcileapp "reconcile-cloud/internal/reconcile/application"
	reconcilehttp "reconcile-cloud/internal/reconcile/interfaces/http"
	reconcilerepo "reconcile-cloud/internal/reconcile/infrastructure/postgres"
	refapp "reconcile-cloud/internal/reference/application"
	refrepo "reconcile-cloud/internal/reference/infrastructure/postgres"
	refhttp "reconcile-cloud/internal/reference/interfaces/http"
)

func main() {
	logger := log.New(os.Stdout, "reconcile-cloud ", log.LstdFlags|log.LUTC)
	cfg := loadConfig()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)

	auditRepo := audit.NewRepository(db)

	engineCfg, err := reconcileapp.LoadConfig()
	if err != nil {
		logger.Fatalf("engine config error: %v", err)
	}

	sourceRepo := refrepo.NewSourceRepository(db)
	signals, err := refapp.NewService(sourceRepo, sourceRepo, refapp.DefaultServiceConfig(), logger)
	if err != nil {
		logger.Fatalf("reference service error: %v", err)
	}

	verdictRepo := reconcilerepo.NewVerdictRepository(db)
	evaluationService, err := reconcileapp.NewLineEvaluationService(engineCfg, verdictRepo, signals, auditRepo, logger)
	if err != nil {
		logger.Fatalf("evaluation service error: %v", err)
	}

	var completer explain.ChatCompleter
	if cfg.OpenAIKey != "" {
		completer = openai.NewClient(cfg.OpenAIKey)
	}
	explainer := explain.New(completer, explain.DefaultConfig(), logger)

	handler, err := reconcilehttp.NewHandler(evaluationService, explainer)
	if err != nil {
		logger.Fatalf("handler error: %v", err)
	}

	referenceHandler, err := refhttp.NewHandler(sourceRepo)
	if err != nil {
		logger.Fatalf("reference handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/invoices/evaluate", handler)
	mux.Handle("/api/v1/invoices/", handler)
	mux.Handle("/api/v1/verdicts", handler)
	mux.Handle("/api/v1/verdicts/", handler)
	mux.Handle("/api/v1/duplicates", handler)
	mux.Handle("/api/v1/references", referenceHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL string
	HTTPAddr    string
	JWTSecret   string
	OpenAIKey   string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL: getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:   getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		OpenAIKey:   getenvDefault("RECONCILE_OPENAI_KEY", getenvDefault("OPENAI_API_KEY", "")),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
