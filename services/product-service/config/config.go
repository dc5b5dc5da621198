package config

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	awspkg "github.com/kevin-soria/system-design-playground/pkg/aws"
)

const (
	StoreMongo  = "mongodb"
	StoreDynamo = "dynamodb"
	StoreMemory = "memory"

	BrokerRabbitMQ = "rabbitmq"
	BrokerKafka    = "kafka"
	BrokerSNS      = "sns"
)

// Config holds every environment setting of the product-service.
type Config struct {
	Env            string
	Port           string
	AllowedOrigins string

	StoreBackend    string
	MongoURI        string
	MongoDBName     string
	MongoCollection string
	DynamoTable     string

	RedisHost      string
	RedisPort      string
	RedisPassword  string
	RedisDB        int
	CacheTTL       time.Duration
	CacheOpTimeout time.Duration

	EventBroker        string
	RabbitHost         string
	RabbitPort         string
	RabbitUser         string
	RabbitPassword     string
	RabbitVHost        string
	Exchange           string
	Queue              string
	Prefetch           int
	PublishConfirms    bool
	KafkaBrokers       []string
	KafkaTopic         string
	KafkaGroupID       string
	SNSTopicARN        string
	SQSQueueURL        string
	ConsumerEnabled    bool
	ConsumerSupervised bool
	ConsumerMaxBackoff time.Duration
	EventDedupTTL      time.Duration

	RequestTimeout     time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	RateLimitPerMinute int
	RateLimitBurst     int
	SeedProducts       bool

	AWS                 awspkg.Settings
	UseSecrets          bool
	CloudWatchEnabled   bool
	CloudWatchNamespace string
	CloudWatchLogGroup  string
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		zap.L().Warn("failed to load .env file", zap.Error(err))
	}

	cfg := &Config{
		Env:            getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8082"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "*"),

		StoreBackend:    strings.ToLower(getEnv("STORE_BACKEND", StoreMongo)),
		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017/godb"),
		MongoDBName:     getEnv("MONGO_DB_NAME", "godb"),
		MongoCollection: getEnv("MONGO_COLLECTION", "products"),
		DynamoTable:     getEnv("DDB_TABLE_PRODUCTS", "Products"),

		RedisHost:      getEnv("REDIS_HOST", "localhost"),
		RedisPort:      getEnv("REDIS_PORT", "6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		CacheTTL:       time.Duration(getEnvInt("CACHE_TTL_SECONDS", 300)) * time.Second,
		CacheOpTimeout: time.Duration(getEnvInt("CACHE_OP_TIMEOUT_MS", 500)) * time.Millisecond,

		EventBroker:        strings.ToLower(getEnv("EVENT_BROKER", BrokerRabbitMQ)),
		RabbitHost:         getEnv("RABBITMQ_HOST", "localhost"),
		RabbitPort:         getEnv("RABBITMQ_PORT", "5672"),
		RabbitUser:         getEnv("RABBITMQ_USER", "guest"),
		RabbitPassword:     getEnv("RABBITMQ_PASSWORD", "guest"),
		RabbitVHost:        getEnv("RABBITMQ_VHOST", "/"),
		Exchange:           getEnv("PRODUCT_EXCHANGE", "product_events"),
		Queue:              getEnv("NOTIFICATION_QUEUE", "go_notifications"),
		Prefetch:           getEnvInt("RABBITMQ_PREFETCH", 10),
		PublishConfirms:    getEnvBool("RABBITMQ_PUBLISH_CONFIRMS", true),
		KafkaBrokers:       splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "product_events"),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "go_notifications"),
		SNSTopicARN:        getEnv("SNS_TOPIC_ARN", ""),
		SQSQueueURL:        getEnv("SQS_QUEUE_URL", ""),
		ConsumerEnabled:    getEnvBool("CONSUMER_ENABLED", true),
		ConsumerSupervised: getEnvBool("CONSUMER_SUPERVISED", true),
		ConsumerMaxBackoff: time.Duration(getEnvInt("CONSUMER_MAX_BACKOFF_SECONDS", 30)) * time.Second,
		EventDedupTTL:      time.Duration(getEnvInt("EVENT_DEDUP_TTL_SECONDS", 86400)) * time.Second,

		RequestTimeout:     time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 30)) * time.Second,
		WriteTimeout:       time.Duration(getEnvInt("WRITE_TIMEOUT_SECONDS", 10)) * time.Second,
		ShutdownTimeout:    time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second,
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 600),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 100),
		SeedProducts:       getEnvBool("SEED_PRODUCTS", false),

		AWS: awspkg.Settings{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			Endpoint:        getEnv("AWS_ENDPOINT", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		},
		UseSecrets:          getEnvBool("AWS_USE_SECRETS", false),
		CloudWatchEnabled:   getEnvBool("CLOUDWATCH_ENABLED", false),
		CloudWatchNamespace: getEnv("CLOUDWATCH_NAMESPACE", "ProductService"),
		CloudWatchLogGroup:  getEnv("CLOUDWATCH_LOG_GROUP", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown backends and unusable durations.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMongo, StoreDynamo, StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.EventBroker {
	case BrokerRabbitMQ, BrokerKafka:
	case BrokerSNS:
		if c.SNSTopicARN == "" {
			return fmt.Errorf("SNS_TOPIC_ARN is required when EVENT_BROKER=sns")
		}
		if c.ConsumerEnabled && c.SQSQueueURL == "" {
			return fmt.Errorf("SQS_QUEUE_URL is required when EVENT_BROKER=sns and the consumer is enabled")
		}
	default:
		return fmt.Errorf("unknown EVENT_BROKER %q", c.EventBroker)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must be positive")
	}
	if c.CacheOpTimeout <= 0 || c.WriteTimeout <= 0 || c.RequestTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.Prefetch < 0 {
		return fmt.Errorf("RABBITMQ_PREFETCH must not be negative")
	}
	return nil
}

// SecretGetter resolves a named secret.
type SecretGetter interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// ApplySecrets overlays credentials from the secret store. A missing secret
// keeps the environment value.
func (c *Config) ApplySecrets(ctx context.Context, sm SecretGetter) {
	overlay := map[string]*string{
		"product/MONGO_URI":         &c.MongoURI,
		"product/REDIS_PASSWORD":    &c.RedisPassword,
		"product/RABBITMQ_PASSWORD": &c.RabbitPassword,
	}
	for name, dst := range overlay {
		v, err := sm.GetSecret(ctx, name)
		if err != nil || v == "" {
			zap.L().Warn("secret unavailable, keeping environment value", zap.String("secret", name), zap.Error(err))
			continue
		}
		*dst = v
	}
}

// RedisAddr returns host:port for the cache.
func (c *Config) RedisAddr() string {
	return net.JoinHostPort(c.RedisHost, c.RedisPort)
}

// RabbitMQURL builds the AMQP URL with escaped credentials.
func (c *Config) RabbitMQURL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.RabbitUser, c.RabbitPassword),
		Host:   net.JoinHostPort(c.RabbitHost, c.RabbitPort),
	}
	if c.RabbitVHost != "" && c.RabbitVHost != "/" {
		u.Path = "/" + strings.TrimPrefix(c.RabbitVHost, "/")
	}
	return u.String()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		zap.L().Warn("invalid integer setting, using default", zap.String("key", key), zap.String("value", val))
		return defaultVal
	}
	return n
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
