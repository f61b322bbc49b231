// Command lexgend serves the generation functions over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/direitopremium/lexgen"
	"github.com/direitopremium/lexgen/internal/admin"
	"github.com/direitopremium/lexgen/internal/genlog"
	"github.com/direitopremium/lexgen/internal/logging"
	"github.com/direitopremium/lexgen/internal/ratelimit"
	"github.com/direitopremium/lexgen/internal/version"
)

func main() {
	logging.Setup(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	if err := run(); err != nil {
		logging.Logger.Error("lexgend exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := os.Getenv("LEXGEN_CONFIG")
	if cfgPath == "" {
		return errors.New("LEXGEN_CONFIG is required")
	}
	cfg, err := lexgen.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	lexgen.ResolveCredentials(cfg, os.LookupEnv)
	log := logging.Logger
	log.Info("config loaded", "path", cfgPath, "providers", len(cfg.Providers), "profiles", len(cfg.Profiles))

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := lexgen.OpenStore(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("open cache store: %w", err)
	}
	client := &http.Client{}
	opts := []lexgen.Option{lexgen.WithStore(store)}

	var logs genlog.Reader
	glog, err := lexgen.OpenGenerationLog(cfg.GenerationLog)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("open generation log: %w", err)
	}
	if glog != nil {
		opts = append(opts, lexgen.WithGenerationLog(glog))
		logs = glog
	}
	bucket, err := lexgen.OpenBucket(cfg.Storage, client)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("open storage bucket: %w", err)
	}
	if bucket != nil {
		opts = append(opts, lexgen.WithUploader(bucket))
	}

	svc, err := lexgen.New(*cfg, opts...)
	if err != nil {
		_ = store.Close()
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Warn("close service", "error", err)
		}
	}()
	if err := svc.LoadProviders(ctx, client); err != nil {
		return err
	}

	var limiter *ratelimit.Store
	if raw := os.Getenv("RATE_LIMIT_RPS"); raw != "" {
		rps, err := strconv.ParseFloat(raw, 64)
		if err != nil || rps <= 0 {
			return fmt.Errorf("RATE_LIMIT_RPS must be a positive number, got %q", raw)
		}
		limiter = ratelimit.NewStore(rps, rps*2)
		go pruneLoop(ctx, limiter)
	}

	var corsOrigins []string
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		corsOrigins = strings.Split(origins, ",")
	}

	r := newRouter(routerConfig{
		Service:       svc,
		Logs:          logs,
		AdminTokens:   admin.ParseTokens(os.Getenv("ADMIN_TOKENS")),
		Limiter:       limiter,
		CORSOrigins:   corsOrigins,
		PlacesProfile: envOr("PLACES_PROFILE", "locais"),
		ImageProfile:  envOr("COMPRESS_PROFILE", "imagens-webp"),
	})

	addr := ":8080"
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", "error", err)
		}
	}()

	log.Info("lexgend listening", "addr", addr, "version", version.String(), "profiles", len(svc.ProfileNames()), "providers", svc.ProviderNames())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// pruneLoop drops idle per-client limiters until ctx is done.
func pruneLoop(ctx context.Context, s *ratelimit.Store) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Prune(10 * time.Minute); n > 0 {
				logging.Logger.Debug("rate limiters pruned", "removed", n, "remaining", s.Len())
			}
		}
	}
}

// routerConfig holds the router's dependencies. Nil Logs and Limiter
// disable the generation log listing and rate limiting.
type routerConfig struct {
	Service       *lexgen.Service
	Logs          genlog.Reader
	AdminTokens   *admin.Tokens
	Limiter       *ratelimit.Store
	CORSOrigins   []string
	PlacesProfile string
	ImageProfile  string
}

// newRouter builds the HTTP router.
func newRouter(cfg routerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(cfg.CORSOrigins...))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, version.Get())
	})
	r.Handle("/metrics", promhttp.Handler())

	fn := &functions{svc: cfg.Service, placesProfile: cfg.PlacesProfile, imageProfile: cfg.ImageProfile}
	r.Route("/functions/v1", func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(ratelimit.Middleware(cfg.Limiter))
		}
		fn.routes(r)
	})

	adminHandlers := &admin.Handlers{
		Cache:    cfg.Service,
		Breakers: cfg.Service,
	}
	if cfg.Logs != nil {
		adminHandlers.Logs = cfg.Logs
	}
	r.Route("/admin", func(r chi.Router) {
		r.Use(admin.AuthMiddleware(cfg.AdminTokens))
		r.Mount("/", adminHandlers.Routes())
	})

	return r
}
