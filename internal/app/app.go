// README: Wires config into stores, tools, extractor and the concierge for both binaries.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"roam/internal/ai"
	"roam/internal/config"
	"roam/internal/infra"
	"roam/internal/maps"
	"roam/internal/metrics"
	"roam/internal/modules/aiusage"
	"roam/internal/modules/intent"
	"roam/internal/modules/inventory"
	"roam/internal/modules/pricing"
	"roam/internal/modules/prompt"
	"roam/internal/modules/query"
	"roam/internal/modules/relax"
	"roam/internal/modules/session"
	"roam/internal/modules/tools"
	"roam/internal/service"
)

// App owns every long-lived client. Close releases them.
type App struct {
	Concierge *service.Concierge
	Registry  *tools.Registry
	Tables    *query.Tables
	Detector  *intent.Detector
	Metrics   *prometheus.Registry
	Verifier  infra.TokenVerifier

	log     *zap.Logger
	closers []func()
}

// Build connects to whatever the config names. Without a DSN, Redis address or Gemini key
// the corresponding piece falls back to in-memory storage or detector-only extraction.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{log: log, Metrics: prometheus.NewRegistry()}
	a.Metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.Metrics)

	if err := a.build(ctx, cfg, m); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg config.Config, m *metrics.Metrics) error {
	tables, err := loadTables(cfg.Booking.TablesFile)
	if err != nil {
		return err
	}
	a.Tables = tables
	a.Detector = intent.MustDefault()

	persona, err := loadPersona(cfg.Booking.PersonaFile)
	if err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	var geocoder query.Geocoder
	if cfg.Maps.APIKey != "" {
		g, err := maps.NewGeocoder(cfg.Maps.APIKey, cfg.Maps.Region)
		if err != nil {
			return err
		}
		geocoder = g
	}
	resolver := query.NewLocationResolver(tables, geocoder)

	var (
		inv      catalog
		reviews  tools.ReviewLister
		history  session.History
		sessions session.Store
		cache    prompt.Cache
		usage    aiusage.Backend
	)

	if cfg.DB.DSN != "" {
		db, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		if cfg.DB.Migrate {
			if err := infra.Migrate(ctx, db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		inv, reviews, history = pgStores(db, tables)
		usage = aiusage.NewStore(db)
	} else {
		a.log.Info("no database configured, using demo inventory")
		inv = inventory.NewMemoryStore(tables, inventory.DemoListings()...)
		reviews = inventory.NewMemoryReviews(inventory.DemoReviews()...)
		history = session.NewMemoryLog()
		usage = aiusage.NewMemoryStore()
	}

	if cfg.Redis.Addr != "" {
		rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		sessions, cache = redisStores(rdb, cfg)
	} else {
		a.log.Info("no redis configured, sessions are in-memory")
		sessions = session.NewMemoryStore()
		cache = prompt.NewMemoryCache()
	}

	composer := query.NewComposer(tables)
	engine := relax.NewEngine(composer, inv, a.log.Named("relax"))
	reg := tools.NewRegistry(a.log.Named("tools"),
		tools.NewSearchTool(engine),
		tools.CalculatorTool{},
		tools.NewReviewsTool(reviews),
		tools.NewWeatherTool(&http.Client{}, cfg.Tools.WeatherURL, resolver, tables),
		tools.NewRiskTool(cfg.Tools.RiskThreshold),
	)
	reg.SetTimeout("", cfg.Tools.Timeout)
	reg.SetTimeout(tools.SearchToolName, cfg.Tools.SearchTimeout)
	reg.SetObserver(m)
	a.Registry = reg

	var extractor ai.Extractor
	if cfg.AI.GeminiKey != "" {
		g, err := ai.NewGeminiExtractor(ctx, ai.GeminiConfig{
			APIKey:     cfg.AI.GeminiKey,
			Model:      cfg.AI.Model,
			CacheTTL:   cfg.AI.CacheTTL,
			ToolRounds: cfg.AI.ToolRounds,
		}, reg, a.log.Named("gemini"))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, g.Close)
		extractor = g
	} else {
		a.log.Warn("no gemini key configured, extraction is detector-only")
	}

	if cfg.Firebase.ProjectID != "" {
		v, err := infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return fmt.Errorf("firebase init: %w", err)
		}
		a.Verifier = v
	}

	var meter service.Meter
	if cfg.AI.MonthlyAllowance > 0 {
		meter = aiusage.NewService(usage, cfg.AI.MonthlyAllowance, nil)
	}

	a.Concierge = service.NewConcierge(service.Deps{
		Sessions:  sessions,
		History:   history,
		Machine:   session.NewMachine(resolver, cfg.Booking.MaxRentalDays),
		Detector:  a.Detector,
		Composer:  composer,
		Inventory: inv,
		Registry:  reg,
		Assembler: prompt.NewAssembler(persona, reg.Contracts(), cache, a.log.Named("prompt")),
		Extractor: extractor,
		Pricing:   pricing.NewService(inv, cfg.Booking.ServiceFeeRate),
		Usage:     meter,
		Metrics:   m,
		Log:       a.log.Named("concierge"),
	}, service.Config{
		MaxMessageRunes: cfg.Booking.MaxMessageRunes,
		HistoryLimit:    cfg.Booking.HistoryLimit,
		AuxParallelism:  cfg.Tools.AuxParallelism,
		Location:        loc,
	})
	return nil
}

// catalog is an inventory that can also look up a single listing for quoting.
type catalog interface {
	relax.Inventory
	pricing.Lister
}

func pgStores(db *pgxpool.Pool, tables *query.Tables) (*inventory.Store, *inventory.ReviewStore, *session.MessageLog) {
	return inventory.NewStore(db, tables), inventory.NewReviewStore(db), session.NewMessageLog(db)
}

func redisStores(rdb *redis.Client, cfg config.Config) (*session.RedisStore, *prompt.RedisCache) {
	return session.NewRedisStore(rdb, cfg.Redis.SessionTTL), prompt.NewRedisCache(rdb, cfg.AI.CacheTTL)
}

func loadTables(path string) (*query.Tables, error) {
	if path == "" {
		return query.DefaultTables()
	}
	return query.LoadTablesFile(path)
}

func loadPersona(path string) (prompt.Persona, error) {
	if path == "" {
		return prompt.DefaultPersona()
	}
	return prompt.LoadPersonaFile(path)
}

// Close releases clients in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
