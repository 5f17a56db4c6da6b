// cmd/notifier/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"guardian-notify/internal/audit"
	"guardian-notify/internal/catalog"
	"guardian-notify/internal/common/clock"
	"guardian-notify/internal/common/config"
	"guardian-notify/internal/common/database"
	"guardian-notify/internal/common/logger"
	"guardian-notify/internal/contentcheck"
	"guardian-notify/internal/delivery"
	"guardian-notify/internal/models"
	"guardian-notify/internal/notify"
	"guardian-notify/internal/offline"
	"guardian-notify/internal/queue"
	"guardian-notify/internal/ruleeval"
	"guardian-notify/internal/suppression"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting guardian notifier...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	loc, err := time.LoadLocation(cfg.App.SchoolTZ)
	if err != nil {
		zapLog.Fatal("invalid school timezone", zap.Error(err))
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	clk := clock.System()

	// --- Init Redis with retry ---
	var redisClient *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redisClient, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redisClient.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redisClient.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Elasticsearch (audit trail, optional) ---
	var recorder audit.Recorder = audit.NopRecorder{}
	if cfg.Audit.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		recorder = audit.NewESRecorder(esClient.Client, cfg.Database.Elasticsearch.AuditIndex, cfg.App.DeviceID, clk, log)
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Rules and templates ---
	rules, err := ruleeval.LoadRules(cfg.Rules.Path)
	if err != nil {
		zapLog.Fatal("rule set load failed", zap.Error(err))
	}
	zapLog.Info("Rule set loaded", zap.Int("rules", len(rules)))

	cat := catalog.New(cfg.Templates.RegistryPath, time.Duration(cfg.Templates.CacheTTL)*time.Second, clk)

	// --- Core services ---
	ledger := suppression.NewLedger(
		suppression.NewRedisStore(redisClient.Client),
		clk, cfg.Suppression.RetentionDays, loc, log,
	)
	evaluator := ruleeval.New(rules, ledger, clk, loc, log)

	channel, err := buildChannel(ctx, cfg, log)
	if err != nil {
		zapLog.Fatal("delivery channel init failed", zap.Error(err))
	}

	store := queue.NewMemoryStore()
	q := queue.New(store, ledger, evaluator, clk, loc, log)
	scheduler := queue.NewScheduler(store, clk, time.Duration(cfg.Queue.PollInterval)*time.Second, log)
	dispatcher := queue.NewDispatcher(store, q, channel, clk, queue.DispatcherConfig{
		MaxRetries:  uint(cfg.Queue.MaxRetries),
		BackoffBase: time.Duration(cfg.Queue.BackoffBase) * time.Millisecond,
		SendTimeout: time.Duration(cfg.Queue.SendTimeout) * time.Millisecond,
	}, log)
	escalator := queue.NewEscalator(store, q, evaluator, cat, contentcheck.NewValidator(), clk, log)

	engine := offline.NewEngine(
		offline.NewRedisLocalStore(redisClient.Client),
		offline.NewPostgresBackend(pg.DB),
		models.SyncOrigin{
			SchoolID: cfg.App.Name,
			UserID:   "system",
			DeviceID: cfg.App.DeviceID,
		},
		clk, cfg.Sync.MaxRetries, log,
	)

	q.SetCapture(engine)
	payloads, err := engine.LocalEntities(ctx, queue.CaptureEntityType)
	if err != nil {
		zapLog.Fatal("reading captured queue state failed", zap.Error(err))
	}
	restored, err := q.Replay(ctx, payloads)
	if err != nil {
		zapLog.Fatal("queue state replay failed", zap.Error(err))
	}
	if restored > 0 {
		zapLog.Info("Queue state restored from local captures", zap.Int("restored", restored))
	}

	service := notify.NewService(evaluator, cat, contentcheck.NewValidator(), q, recorder, engine, log)

	// --- Background loops ---
	var wg sync.WaitGroup
	runLoop := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			zapLog.Info("loop started", zap.String("loop", name))
			fn(ctx)
			zapLog.Info("loop stopped", zap.String("loop", name))
		}()
	}

	runLoop("scheduler", scheduler.Run)
	runLoop("dispatcher", func(ctx context.Context) {
		dispatcher.Run(ctx, time.Duration(cfg.Queue.PollInterval)*time.Second)
	})
	runLoop("escalator", func(ctx context.Context) {
		escalator.Run(ctx, time.Duration(cfg.Queue.EscalationScan)*time.Second)
	})
	runLoop("ledger-prune", func(ctx context.Context) {
		archive := suppression.NewPostgresArchive(pg.DB)
		ticker := time.NewTicker(time.Duration(cfg.Suppression.PruneInterval) * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := ledger.Prune(ctx, archive); err != nil {
					log.Error("ledger prune failed", map[string]interface{}{"error": err.Error()})
				} else if n > 0 {
					log.Info("ledger pruned", map[string]interface{}{"archived": n})
				}
			}
		}
	})
	runLoop("sync", func(ctx context.Context) {
		if _, err := engine.SetOnline(ctx, true); err != nil {
			log.Error("initial sync failed", map[string]interface{}{"error": err.Error()})
		}
		ticker := time.NewTicker(time.Duration(cfg.Queue.PollInterval) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := engine.SyncPending(ctx); err != nil {
					log.Error("sync pass failed", map[string]interface{}{"error": err.Error()})
				}
			}
		}
	})

	// --- HTTP API ---
	go func() {
		handler := newAPIHandler(service, engine, log)
		zapLog.Info("API listening", zap.String("addr", cfg.App.ListenAddr))
		if err := http.ListenAndServe(cfg.App.ListenAddr, handler); err != nil {
			zapLog.Error("api server failed", zap.Error(err))
		}
	}()

	// --- Metrics endpoint ---
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Metrics endpoint listening", zap.String("addr", cfg.App.MetricsAddr))
		if err := http.ListenAndServe(cfg.App.MetricsAddr, nil); err != nil {
			zapLog.Error("metrics server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping loops...")
	stop()
	wg.Wait()
	zapLog.Info("Guardian notifier stopped")
}

// buildChannel assembles the delivery path from config: the default channel
// plus any extra channels emergencies fan out to.
func buildChannel(ctx context.Context, cfg *config.Config, log logger.Logger) (delivery.Channel, error) {
	resolver := &delivery.StaticResolver{}

	var channels []delivery.Channel
	if cfg.Delivery.Email.Enabled {
		email, err := delivery.NewEmailChannel(ctx, cfg.Delivery.AWS.Region, cfg.Delivery.Email.FromEmail, resolver, log)
		if err != nil {
			return nil, err
		}
		channels = append(channels, email)
	}
	if cfg.Delivery.SMS.Enabled {
		sms, err := delivery.NewSMSChannel(ctx, cfg.Delivery.AWS.Region, resolver, log)
		if err != nil {
			return nil, err
		}
		channels = append(channels, sms)
	}
	if cfg.Delivery.Webhook.Enabled {
		channels = append(channels, delivery.NewWebhookChannel(
			cfg.Delivery.Webhook.URL,
			time.Duration(cfg.Delivery.Webhook.Timeout)*time.Millisecond,
			log,
		))
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("no delivery channel enabled")
	}
	return delivery.NewRouter(channels[0], channels[1:], log), nil
}
