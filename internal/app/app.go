package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pegwatch/internal/alerting"
	"pegwatch/internal/cache"
	"pegwatch/internal/catalog"
	"pegwatch/internal/config"
	"pegwatch/internal/cooldown"
	"pegwatch/internal/dispatch"
	"pegwatch/internal/gateway"
	"pegwatch/internal/risk"
	"pegwatch/internal/scheduler"
	"pegwatch/internal/service"
	"pegwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Catalog *catalog.Catalog
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config:  cfg,
		Logger:  logger.With().Str("component", "app").Logger(),
		Catalog: catalog.NewDefault(),
	}
}

func (a *App) newGateway() gateway.MarketDataGateway {
	return gateway.NewCoinGecko(gateway.CoinGeckoOptions{
		BaseURL:        a.Config.Provider.BaseURL,
		APIKey:         a.Config.Provider.APIKey,
		Timeout:        a.Config.Provider.RequestTimeout,
		UserAgent:      a.Config.Provider.UserAgent,
		CallsPerMinute: a.Config.Provider.CallsPerMinute,
		MaxAttempts:    a.Config.Provider.MaxAttempts,
		RetryBaseDelay: a.Config.Provider.RetryBaseDelay,
		RetryMaxDelay:  a.Config.Provider.RetryMaxDelay,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	tg := a.Config.Alerting.Telegram
	if !tg.Enabled {
		return nil
	}

	chatIDs := make(map[catalog.Tier]string)
	if tg.FreeChatID != "" {
		chatIDs[catalog.TierFree] = tg.FreeChatID
	}
	if tg.PremiumChatID != "" {
		chatIDs[catalog.TierPremium] = tg.PremiumChatID
	}
	return alerting.NewTelegramNotifier(tg.BotToken, chatIDs, tg.APIBase, 10*time.Second, a.Logger)
}

func (a *App) newAggregator() *risk.Aggregator {
	if !a.Config.Risk.Enabled {
		return nil
	}
	return risk.NewAggregator(risk.Options{
		Weights: risk.Weights{
			Volatility: a.Config.Risk.Weights.Volatility,
			Trend:      a.Config.Risk.Weights.Trend,
			Sentiment:  a.Config.Risk.Weights.Sentiment,
		},
		MinSamples:      a.Config.Risk.MinSamples,
		VolatilityScale: a.Config.Risk.VolatilityScale,
		TrendScale:      a.Config.Risk.TrendScale,
		Horizon:         risk.Horizon(a.Config.Risk.Horizon),
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	return store, store.Close, nil
}

func (a *App) openCache() (cache.SnapshotCache, func(), error) {
	if a.Config.Redis.Addr == "" {
		return nil, nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	closer := func() {
		_ = client.Close()
	}
	return cache.NewRedis(client, a.Config.Redis.TTL, a.Logger), closer, nil
}

func (a *App) cooldownWindows() map[catalog.Tier]time.Duration {
	return map[catalog.Tier]time.Duration{
		catalog.TierFree:    a.Config.Tiers.Free.Cooldown,
		catalog.TierPremium: a.Config.Tiers.Premium.Cooldown,
	}
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	snapshots, closeCache, err := a.openCache()
	if err != nil {
		return err
	}
	if closeCache != nil {
		defer closeCache()
	}

	var cooldowns cooldown.Store
	var sampleStore storage.SampleStore
	var alertStore storage.AlertStore
	var locker storage.AdvisoryLocker
	if store != nil {
		cooldowns = store
		sampleStore = store
		alertStore = store
		locker = store
	} else {
		// Without a durable store a restart resets every cooldown, so the
		// same depeg can alert again immediately.
		a.Logger.Warn().Msg("database.dsn not configured; cooldowns will not survive restarts")
		cooldowns = cooldown.NewMemory()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		TickTimeout:  a.Config.Scheduler.TickTimeout,
	}, a.Logger)

	var audit dispatch.AuditStore
	if alertStore != nil {
		audit = alertStore
	}
	dispatcher := dispatch.New(cooldowns, a.newNotifier(), audit, a.cooldownWindows(), a.Logger)

	monitor := service.New(a.Config, service.Deps{
		Scheduler:  sched,
		Catalog:    a.Catalog,
		Gateway:    a.newGateway(),
		Store:      sampleStore,
		Snapshots:  snapshots,
		Aggregator: a.newAggregator(),
		Dispatcher: dispatcher,
		Locker:     locker,
	}, a.Logger)

	a.Logger.Info().
		Int("assets", len(a.Catalog.All())).
		Dur("interval", a.Config.Scheduler.Interval).
		Msg("starting peg monitor")

	err = monitor.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("monitor terminated with error")
		return err
	}

	a.Logger.Info().Msg("peg monitor stopped")
	return nil
}

// ExportOptions hold parameters for exporting deviation history.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// StatusOptions configure the status command.
type StatusOptions struct {
	Limit int
}
