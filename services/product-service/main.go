package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	awspkg "github.com/kevin-soria/system-design-playground/pkg/aws"
	ddbpkg "github.com/kevin-soria/system-design-playground/pkg/dynamodb"
	"github.com/kevin-soria/system-design-playground/services/common/logger"
	"github.com/kevin-soria/system-design-playground/services/product-service/cache"
	"github.com/kevin-soria/system-design-playground/services/product-service/config"
	"github.com/kevin-soria/system-design-playground/services/product-service/controllers"
	"github.com/kevin-soria/system-design-playground/services/product-service/database"
	"github.com/kevin-soria/system-design-playground/services/product-service/events"
	"github.com/kevin-soria/system-design-playground/services/product-service/kafka"
	"github.com/kevin-soria/system-design-playground/services/product-service/rabbitmq"
	"github.com/kevin-soria/system-design-playground/services/product-service/repository"
	"github.com/kevin-soria/system-design-playground/services/product-service/routes"
	"github.com/kevin-soria/system-design-playground/services/product-service/services"
)

func main() {
	log, err := logger.Initialize("development")
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// AWS is only needed by some backends; load it once on demand.
	var awsCfg *sdkaws.Config
	loadAWS := func() sdkaws.Config {
		if awsCfg == nil {
			c, err := awspkg.LoadAWSConfig(ctx, cfg.AWS)
			if err != nil {
				zap.L().Fatal("failed to load AWS config", zap.Error(err))
			}
			awsCfg = &c
		}
		return *awsCfg
	}

	if cfg.CloudWatchEnabled {
		cwl, err := awspkg.NewCloudWatchLogsClient(ctx, loadAWS(), cfg.CloudWatchLogGroup, routes.ServiceName)
		if err != nil {
			zap.L().Warn("CloudWatch Logs unavailable, logging locally only", zap.Error(err))
		} else if log, err = logger.InitializeWithWriter(cfg.Env, cwl); err != nil {
			panic("failed to initialize logger: " + err.Error())
		}
	} else if log, err = logger.Initialize(cfg.Env); err != nil {
		panic("failed to initialize logger: " + err.Error())
	}

	if cfg.UseSecrets {
		cfg.ApplySecrets(ctx, awspkg.NewSecretsClient(loadAWS()))
	}

	var metrics *awspkg.MetricsClient
	if cfg.CloudWatchEnabled {
		metrics = awspkg.NewMetricsClient(loadAWS(), cfg.CloudWatchNamespace, true)
	}

	conns := &database.Connections{}

	var repo repository.ProductRepo
	switch cfg.StoreBackend {
	case config.StoreMongo:
		if err := conns.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
			zap.L().Fatal("failed to create MongoDB client", zap.Error(err))
		}
		repo = repository.NewProductRepository(conns.DB, cfg.MongoCollection)
	case config.StoreDynamo:
		repo = repository.NewDynamoAdapter(ddbpkg.NewClientFromConfig(loadAWS(), cfg.AWS.Endpoint), cfg.DynamoTable)
	case config.StoreMemory:
		zap.L().Warn("using in-memory store, data is lost on restart")
		repo = repository.NewMemoryRepository()
	}
	if err := repo.EnsureIndexes(ctx); err != nil {
		zap.L().Warn("failed to ensure product indexes", zap.Error(err))
	}

	conns.ConnectRedis(ctx, cfg.RedisAddr(), cfg.RedisPassword, cfg.RedisDB)
	cacheManager := cache.NewCacheManager(conns.Redis, cfg.CacheTTL, cfg.CacheOpTimeout)

	var (
		publisher events.Publisher
		consumer  events.Consumer
		closers   []func() error
	)
	switch cfg.EventBroker {
	case config.BrokerRabbitMQ:
		publisher = rabbitmq.NewPublisher(rabbitmq.NewSession(cfg.RabbitMQURL(), rabbitmq.Dial, cfg.PublishConfirms), cfg.Exchange)
		// The consumer gets its own connection so a slow handler never
		// blocks publishing.
		consumerSession := rabbitmq.NewSession(cfg.RabbitMQURL(), rabbitmq.Dial, false)
		consumer = rabbitmq.NewConsumer(consumerSession, cfg.Exchange, cfg.Queue, cfg.Prefetch)
		closers = append(closers, consumerSession.Close)
	case config.BrokerKafka:
		publisher = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		consumer = kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
	case config.BrokerSNS:
		publisher = events.NewSNSPublisher(awspkg.NewSNSClient(loadAWS()), cfg.SNSTopicARN)
		if cfg.SQSQueueURL != "" {
			consumer = events.NewSQSConsumer(awspkg.NewSQSConsumer(loadAWS(), cfg.SQSQueueURL))
		}
	}
	zap.L().Info("event broker selected", zap.String("broker", cfg.EventBroker), zap.String("store", cfg.StoreBackend))

	productService := services.NewProductService(repo, cacheManager, publisher,
		services.WithMetrics(metrics),
		services.WithWriteTimeout(cfg.WriteTimeout),
	)

	if cfg.SeedProducts {
		n, err := productService.Seed(ctx, services.SeedProducts)
		if err != nil {
			zap.L().Warn("failed to seed products", zap.Error(err))
		} else if n > 0 {
			zap.L().Info("seeded sample products", zap.Int("count", n))
		}
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := routes.NewRouter(ctx, routes.RouterConfig{
		AllowedOrigins:     cfg.AllowedOrigins,
		RequestTimeout:     cfg.RequestTimeout,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RateLimitBurst:     cfg.RateLimitBurst,
		Metrics:            metrics,
	}, controllers.NewProductController(productService))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg conc.WaitGroup
	if cfg.ConsumerEnabled && consumer != nil {
		handler := events.Instrument(metrics, events.Deduplicate(conns.Redis, cfg.EventDedupTTL, events.LogHandler))
		policy := events.DefaultPolicy(cfg.ConsumerMaxBackoff)
		policy.Restart = cfg.ConsumerSupervised
		wg.Go(func() {
			err := events.Supervise(ctx, "event-consumer", policy, func(ctx context.Context) error {
				return consumer.Start(ctx, handler)
			})
			if err != nil {
				zap.L().Error("event consumer is down", zap.Error(err))
			}
		})
	}

	wg.Go(func() {
		zap.L().Info("product service starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("failed to start server", zap.Error(err))
		}
	})

	<-ctx.Done()
	zap.L().Info("shutting down product service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("server forced to shutdown", zap.Error(err))
	}
	wg.Wait()

	if err := publisher.Close(); err != nil {
		zap.L().Error("failed to close event publisher", zap.Error(err))
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			zap.L().Error("failed to close event consumer", zap.Error(err))
		}
	}
	if err := conns.Close(shutdownCtx); err != nil {
		zap.L().Error("failed to close connections", zap.Error(err))
	}

	zap.L().Info("product service stopped gracefully")
}
