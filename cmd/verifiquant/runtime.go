package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq" // Postgres driver for the catalog and receipt stores

	"github.com/Mindburn-Labs/verifiquant/pkg/artifacts"
	"github.com/Mindburn-Labs/verifiquant/pkg/audit"
	"github.com/Mindburn-Labs/verifiquant/pkg/confidence"
	"github.com/Mindburn-Labs/verifiquant/pkg/config"
	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/crypto"
	"github.com/Mindburn-Labs/verifiquant/pkg/embedding"
	"github.com/Mindburn-Labs/verifiquant/pkg/interpreter"
	"github.com/Mindburn-Labs/verifiquant/pkg/llm"
	"github.com/Mindburn-Labs/verifiquant/pkg/observability"
	"github.com/Mindburn-Labs/verifiquant/pkg/registry"
	"github.com/Mindburn-Labs/verifiquant/pkg/resolver"
	"github.com/Mindburn-Labs/verifiquant/pkg/selector"
	"github.com/Mindburn-Labs/verifiquant/pkg/solver"
	"github.com/Mindburn-Labs/verifiquant/pkg/store"
	"github.com/Mindburn-Labs/verifiquant/pkg/symbolic"
	"github.com/Mindburn-Labs/verifiquant/pkg/util/resiliency"
	"github.com/Mindburn-Labs/verifiquant/pkg/verifier"
)

// runtime is the fully wired pipeline shared by serve and solve.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	catalog   *registry.Registry
	solver    *solver.Solver
	audits    *store.AuditStore
	receipts  store.ReceiptStore
	recorder  *audit.Recorder
	exporter  *audit.Exporter
	signer    *crypto.Ed25519Signer
	archive   *artifacts.Archive
	redis     *redis.Client
	telemetry *observability.Provider
	slo       *observability.SLOTracker

	closers []io.Closer
}

// Close releases every handle opened while wiring, last opened first.
func (rt *runtime) Close(ctx context.Context) {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			rt.logger.WarnContext(ctx, "close", "error", err)
		}
	}
	if err := rt.telemetry.Shutdown(ctx); err != nil {
		rt.logger.WarnContext(ctx, "telemetry shutdown", "error", err)
	}
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadCatalog builds the registry from the configured card directory (or the
// embedded catalog) followed by any cards published to Postgres.
func loadCatalog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*registry.Registry, error) {
	var (
		cards []*contracts.FormulaCard
		err   error
	)
	if cfg.CardsDir != "" {
		cards, err = registry.LoadDir(cfg.CardsDir)
	} else {
		cards, err = registry.BuiltinCards()
	}
	if err != nil {
		return nil, err
	}

	if cfg.CatalogDatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.CatalogDatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("catalog db: %w", err)
		}
		defer func() { _ = db.Close() }()
		pc := registry.NewPostgresCatalog(db)
		if err := pc.Init(ctx); err != nil {
			return nil, fmt.Errorf("catalog db init: %w", err)
		}
		published, err := pc.Latest(ctx)
		if err != nil {
			return nil, fmt.Errorf("catalog db: %w", err)
		}
		logger.InfoContext(ctx, "catalog: postgres cards loaded", "count", len(published))
		cards = append(cards, published...)
	}

	return registry.NewBuilder().Add(cards...).Build()
}

func catalogSource(cfg *config.Config) string {
	src := "builtin"
	if cfg.CardsDir != "" {
		src = "dir:" + cfg.CardsDir
	}
	if cfg.CatalogDatabaseURL != "" {
		src += "+postgres"
	}
	return src
}

func catalogVersions(reg *registry.Registry) map[string]string {
	out := make(map[string]string, reg.Len())
	for _, e := range reg.Entries() {
		out[e.Card.ID] = e.Version.String()
	}
	return out
}

func buildInterpreter(ctx context.Context, cfg *config.Config, vocab *interpreter.Vocabulary) (interpreter.TaskInterpreter, error) {
	var next interpreter.TaskInterpreter
	switch cfg.Interpreter {
	case config.InterpreterOpenAI:
		client := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL,
			resiliency.NewClient("openai", cfg.ResolverTimeout*6))
		next = interpreter.NewChatInterpreter(client, vocab)
	case config.InterpreterGemini:
		g, err := interpreter.NewGeminiInterpreter(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, vocab)
		if err != nil {
			return nil, err
		}
		next = g
	default:
		return interpreter.NewKeywordInterpreter(vocab), nil
	}
	burst := int(cfg.InterpreterRate)
	if burst < 1 {
		burst = 1
	}
	return interpreter.NewLimited(next, cfg.InterpreterRate, burst), nil
}

// withEmbeddings enables hybrid fallback retrieval when configured. Any
// failure leaves the lexical selector in place.
func withEmbeddings(ctx context.Context, cfg *config.Config, sel *selector.Selector, logger *slog.Logger) *selector.Selector {
	if cfg.Embeddings != config.EmbeddingsGemini {
		return sel
	}
	engine, err := embedding.NewGenAIEngine(ctx, embedding.Options{APIKey: cfg.GeminiAPIKey, Model: cfg.EmbeddingModel})
	if err != nil {
		logger.WarnContext(ctx, "embeddings: disabled", "error", err)
		return sel
	}
	hybrid, err := sel.WithEmbeddings(ctx, engine)
	if err != nil {
		logger.WarnContext(ctx, "embeddings: disabled", "engine", engine.Name(), "error", err)
		return sel
	}
	logger.InfoContext(ctx, "embeddings: ready", "engine", engine.Name(), "alpha", cfg.Alpha)
	return hybrid
}

// buildResolver chains the configured data sources. Values stated with the
// request never reach it; the solver binds those first.
func (rt *runtime) buildResolver(ctx context.Context) (resolver.DataResolver, error) {
	cfg := rt.cfg
	var chain resolver.Chain

	if cfg.FactsDSN != "" {
		facts, err := resolver.OpenSQLStore(ctx, cfg.FactsDriver, cfg.FactsDSN)
		if err != nil {
			return nil, err
		}
		if err := facts.Init(ctx); err != nil {
			_ = facts.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, facts)
		chain = append(chain, facts)
	}
	if cfg.DataServiceURL != "" {
		client := resiliency.NewClient("data-service", cfg.ResolverTimeout)
		chain = append(chain, resolver.NewHTTPResolver(cfg.DataServiceURL, cfg.DataServiceToken, client))
	}

	if cfg.RedisAddr != "" && len(chain) > 0 {
		return resolver.NewRedisCache(rt.redisClient(), chain, cfg.CacheTTL, rt.logger), nil
	}
	return chain, nil
}

func (rt *runtime) redisClient() *redis.Client {
	if rt.redis == nil {
		rt.redis = resolver.NewRedisClient(rt.cfg.RedisAddr, rt.cfg.RedisPassword, rt.cfg.RedisDB)
		rt.closers = append(rt.closers, rt.redis)
	}
	return rt.redis
}

func (rt *runtime) openReceipts(ctx context.Context) error {
	cfg := rt.cfg
	switch {
	case cfg.ReceiptDatabaseURL != "":
		db, err := sql.Open("postgres", cfg.ReceiptDatabaseURL)
		if err != nil {
			return fmt.Errorf("receipt db: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("receipt db ping: %w", err)
		}
		ps := store.NewPostgresReceiptStore(db)
		if err := ps.Init(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("receipt db init: %w", err)
		}
		rt.closers = append(rt.closers, db)
		rt.receipts = ps
		rt.logger.InfoContext(ctx, "receipts: postgres")
	case cfg.AuditDBPath != "":
		ss, err := store.OpenSQLiteReceiptStore(ctx, cfg.AuditDBPath)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, ss)
		rt.receipts = ss
		rt.logger.InfoContext(ctx, "receipts: sqlite", "path", cfg.AuditDBPath)
	default:
		rt.receipts = store.NewMemoryReceiptStore()
		rt.logger.InfoContext(ctx, "receipts: memory")
	}
	return nil
}

func (rt *runtime) openSigner() error {
	if rt.cfg.ReceiptSeed == "" {
		s, err := crypto.NewEd25519Signer(rt.cfg.ReceiptKeyID)
		if err != nil {
			return err
		}
		rt.logger.Warn("receipts: no VQ_RECEIPT_SEED, using an ephemeral key", "public_key", s.PublicKey())
		rt.signer = s
		return nil
	}
	s, err := crypto.DeriveSigner(rt.cfg.ReceiptSeed, rt.cfg.ReceiptKeyID)
	if err != nil {
		return fmt.Errorf("receipt signer: %w", err)
	}
	rt.signer = s
	return nil
}

func (rt *runtime) openArchive(ctx context.Context) error {
	cfg := rt.cfg
	s, err := artifacts.Open(ctx, artifacts.Options{
		Backend:  artifacts.Backend(cfg.ArchiveBackend),
		Dir:      cfg.ArchiveDir,
		Bucket:   cfg.ArchiveBucket,
		Region:   cfg.ArchiveRegion,
		Endpoint: cfg.ArchiveEndpoint,
		Prefix:   "verifiquant",
	})
	if errors.Is(err, artifacts.ErrDisabled) {
		return nil
	}
	if err != nil {
		return err
	}
	if c, ok := s.(io.Closer); ok {
		rt.closers = append(rt.closers, c)
	}
	rt.archive = artifacts.NewArchive(s, rt.signer, rt.signer, rt.logger)
	rt.logger.InfoContext(ctx, "archive: enabled", "backend", cfg.ArchiveBackend)
	return nil
}

func (rt *runtime) openTelemetry(ctx context.Context) error {
	rt.slo = observability.NewSLOTracker()
	rt.slo.SetTarget(observability.DefaultSolveSLO())
	if !rt.cfg.OTelEnabled {
		rt.telemetry = observability.Disabled().WithSLO(rt.slo)
		return nil
	}
	p, err := observability.New(ctx, observability.Config{
		ServiceName:    rt.cfg.ServiceName,
		ServiceVersion: Version,
		Endpoint:       rt.cfg.OTelEndpoint,
		Insecure:       strings.HasPrefix(rt.cfg.OTelEndpoint, "localhost"),
	})
	if err != nil {
		return err
	}
	rt.telemetry = p.WithSLO(rt.slo)
	return nil
}

// newRuntime wires every component from cfg. The caller must Close it.
func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (rt *runtime, err error) {
	rt = &runtime{cfg: cfg, logger: logger, telemetry: observability.Disabled()}
	defer func() {
		if err != nil {
			rt.Close(context.WithoutCancel(ctx))
			rt = nil
		}
	}()

	if err = rt.openTelemetry(ctx); err != nil {
		return rt, fmt.Errorf("telemetry: %w", err)
	}
	if rt.catalog, err = loadCatalog(ctx, cfg, logger); err != nil {
		return rt, fmt.Errorf("catalog: %w", err)
	}
	logger.InfoContext(ctx, "catalog: ready", "cards", rt.catalog.Len(), "domains", len(rt.catalog.DomainNames()))

	sel, err := selector.New(rt.catalog, cfg.Selection(), logger)
	if err != nil {
		return rt, err
	}
	sel = withEmbeddings(ctx, cfg, sel, logger)
	scorer, err := confidence.NewScorer(cfg.ConfidenceThreshold, cfg.FallbackPenalty)
	if err != nil {
		return rt, err
	}
	interp, err := buildInterpreter(ctx, cfg, interpreter.VocabularyFrom(rt.catalog))
	if err != nil {
		return rt, fmt.Errorf("interpreter: %w", err)
	}
	res, err := rt.buildResolver(ctx)
	if err != nil {
		return rt, fmt.Errorf("resolver: %w", err)
	}

	if err = rt.openReceipts(ctx); err != nil {
		return rt, err
	}
	if err = rt.openSigner(); err != nil {
		return rt, err
	}
	if err = rt.openArchive(ctx); err != nil {
		return rt, fmt.Errorf("archive: %w", err)
	}

	rt.audits = store.NewAuditStore().WithRetention(cfg.AuditRetention)
	rt.recorder = audit.NewRecorder(rt.audits)
	if err = rt.recorder.Catalog(ctx, catalogSource(cfg), catalogVersions(rt.catalog)); err != nil {
		return rt, err
	}
	rt.exporter = audit.NewExporter(rt.audits, rt.receipts)

	rt.solver, err = solver.New(solver.Deps{
		Interpreter:     interp,
		Resolver:        res,
		Selector:        sel,
		Engine:          symbolic.NewEngine(logger),
		Verifier:        verifier.NewLayer(cfg.Verification(), logger),
		Scorer:          scorer,
		Notary:          audit.NewNotary(rt.receipts, rt.signer, logger),
		Recorder:        rt.recorder,
		Telemetry:       rt.telemetry,
		Logger:          logger,
		ResolverTimeout: cfg.ResolverTimeout,
	})
	if err != nil {
		return rt, err
	}
	return rt, nil
}
