package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/username/depositmirror/backend/src/collector"
	"github.com/username/depositmirror/backend/src/config"
	"github.com/username/depositmirror/backend/src/database"
	"github.com/username/depositmirror/backend/src/handlers"
	"github.com/username/depositmirror/backend/src/logger"
	"github.com/username/depositmirror/backend/src/normalizer"
	"github.com/username/depositmirror/backend/src/storage"
	"github.com/username/depositmirror/backend/src/syncer"
	"golang.org/x/time/rate"
)

func proxyHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Forwarded-Proto") == "https" {
			r.URL.Scheme = "https"
			r.TLS = &tls.ConnectionState{}
		}
		next.ServeHTTP(w, r)
	})
}

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded", "path", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000":    true,
			config.Cfg.FrontendBaseURL: true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)

	logger.L.Info("DepositMirror backend server starting...")

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	database.RunMigrations(config.Cfg.DatabasePath)

	reportCache := cache.New(handlers.SummaryCacheExpiration, handlers.CacheCleanupInterval)

	collectorCfg := collector.Config{
		BaseURL:            config.Cfg.UpstreamBaseURL,
		XSRFToken:          config.Cfg.XSRFToken,
		SessionToken:       config.Cfg.SessionToken,
		SessionCookieName:  config.Cfg.SessionCookieName,
		PerPage:            config.Cfg.PerPage,
		NavigateTimeout:    config.Cfg.NavigateTimeout,
		TableTimeout:       config.Cfg.TableTimeout,
		LoadingPlaceholder: config.Cfg.LoadingPlaceholder,
	}

	var col collector.Collector
	switch config.Cfg.CollectorStrategy {
	case config.StrategyHTTP:
		col = collector.NewHTTPCollector(collectorCfg, nil)
		logger.L.Info("Using HTTP collector strategy")
	default:
		browserCol, err := collector.NewBrowserCollector(rootCtx, collectorCfg)
		if err != nil {
			stdlog.Fatalf("Failed to launch browser collector: %v", err)
		}
		col = browserCol
		logger.L.Info("Using browser collector strategy")
	}
	defer col.Close()

	depositStore := storage.NewDepositStore(database.DB)
	rowNormalizer := normalizer.New(
		config.Cfg.TimestampLayout,
		config.Cfg.TimestampSuffix,
		config.Cfg.MonthAbbreviations,
	)
	controller := syncer.New(col, rowNormalizer, depositStore, syncer.Config{
		FetchWidth:       config.Cfg.FetchWidth,
		RetryCeiling:     config.Cfg.RetryCeiling,
		RoundDelay:       config.Cfg.RoundDelay,
		ExhaustThreshold: config.Cfg.ExhaustThreshold,
	}, syncer.WithLogger(logger.L))

	syncHandler := handlers.NewSyncHandler(controller)
	depositHandler := handlers.NewDepositHandler(depositStore)
	reportHandler := handlers.NewReportHandler(depositStore, reportCache)

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(handlers.ContextualLoggerMiddleware)
	r.Use(proxyHeadersMiddleware)
	r.Use(enableCORS)
	r.Use(rateLimitMiddleware)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "DepositMirror Backend is running"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/sync", syncHandler.HandleSync)
		r.Get("/deposits", depositHandler.HandleListDeposits)
		r.Get("/deposits/export", depositHandler.HandleExportDeposits)
		r.Get("/reports/summary", reportHandler.HandleSummaryReport)
	})

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:    serverAddr,
		Handler: r,
		// Sync runs can legitimately take minutes; the write timeout has to
		// cover a full run triggered through the API.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			// In-flight runs observe shutdown via their request context.
			return rootCtx
		},
	}

	go func() {
		<-rootCtx.Done()
		logger.L.Info("Shutdown signal received, stopping server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.L.Error("Server shutdown failed", "error", err)
		}
	}()

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stdlog.Fatalf("Failed to start server: %v", err)
	}
	logger.L.Info("Server stopped")
}
