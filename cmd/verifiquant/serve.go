package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/verifiquant/pkg/api"
	"github.com/Mindburn-Labs/verifiquant/pkg/audit"
	"github.com/Mindburn-Labs/verifiquant/pkg/auth"
)

// apiKeyID names the JWT signing key derived from VQ_JWT_SEED.
const apiKeyID = "vq-api-1"

const (
	idempotencyTTL  = 24 * time.Hour
	shutdownTimeout = 15 * time.Second
)

// shutdownSignal is a variable to allow tests to stop the server.
var shutdownSignal = func(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func runServeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	addr := cmd.String("addr", "", "Listen address (default :$PORT)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if *addr == "" {
		*addr = ":" + cfg.Port
	}
	logger := newLogger(cfg, stderr)

	ctx, stop := shutdownSignal(context.Background())
	defer stop()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		logger.ErrorContext(ctx, "startup failed", "error", err)
		return 2
	}
	defer rt.Close(context.Background())

	validator, err := rt.apiValidator()
	if err != nil {
		logger.ErrorContext(ctx, "startup failed", "error", err)
		return 2
	}
	var auditGuard func(http.Handler) http.Handler
	if validator != nil {
		auditGuard = auth.RequireRole(auth.RoleAuditor)
	}

	srv, err := api.NewServer(api.Options{
		Solver:       rt.solver,
		Catalog:      rt.catalog,
		DomainLabels: cfg.DomainLabels,
		Recorder:     rt.recorder,
		Exporter:     rt.exporter,
		Archive:      rt.archive,
		SLO:          rt.slo,
		AuditGuard:   auditGuard,
		Logger:       logger,
	})
	if err != nil {
		logger.ErrorContext(ctx, "startup failed", "error", err)
		return 2
	}

	handler, stopLimiter := rt.middleware(srv.Handler(), validator)
	defer stopLimiter()

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.ResolverTimeout*4 + 30*time.Second,
	}

	_, _ = fmt.Fprintf(stdout, "%sverifiquant %s%s listening on %s (%d cards, receipt key %s)\n",
		ColorBold+ColorBlue, Version, ColorReset, *addr, rt.catalog.Len(), rt.signer.PublicKey())

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			return 2
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(sctx); err != nil {
			logger.Error("shutdown", "error", err)
			return 2
		}
	}
	return 0
}

// apiValidator returns nil when VQ_JWT_SEED is unset, which leaves the API
// unauthenticated.
func (rt *runtime) apiValidator() (*auth.JWTValidator, error) {
	if rt.cfg.JWTSecretSeed == "" {
		rt.logger.Warn("auth: VQ_JWT_SEED not set, API is unauthenticated")
		return nil, nil
	}
	ks, err := auth.NewDerivedKeySet(rt.cfg.JWTSecretSeed, apiKeyID)
	if err != nil {
		return nil, fmt.Errorf("api keyset: %w", err)
	}
	return auth.NewJWTValidator(ks), nil
}

// middleware wraps h with request ids, CORS, authentication, rate limiting
// and idempotent replay, outermost first. The returned func stops the rate
// limiter's sweeper.
func (rt *runtime) middleware(h http.Handler, validator *auth.JWTValidator) (http.Handler, func()) {
	cfg := rt.cfg

	var idem api.IdempotencyStorer = api.NewIdempotencyStore(idempotencyTTL)
	if cfg.RedisAddr != "" {
		idem = api.NewRedisIdempotencyStore(rt.redisClient(), idempotencyTTL, rt.logger)
	}

	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, auth.ActorKey)

	h = api.IdempotencyMiddleware(idem)(h)
	h = limiter.Middleware(h)
	h = audit.NewAccessLog(rt.audits, rt.logger, "/health").WithActor(auth.Actor).Middleware(h)
	h = auth.NewMiddleware(validator)(h)
	h = auth.CORSMiddleware(cfg.CORSOrigins)(h)
	h = auth.RequestIDMiddleware(h)
	return h, limiter.Stop
}

func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("health", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	addr := cmd.String("addr", "http://localhost:8080", "Server base URL")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, string(body))
	return 0
}
