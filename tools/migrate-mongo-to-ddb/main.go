package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	awspkg "github.com/kevin-soria/system-design-playground/pkg/aws"
	ddbpkg "github.com/kevin-soria/system-design-playground/pkg/dynamodb"
	"github.com/kevin-soria/system-design-playground/services/common/logger"
	"github.com/kevin-soria/system-design-playground/services/product-service/database"
	"github.com/kevin-soria/system-design-playground/services/product-service/models"
	"github.com/kevin-soria/system-design-playground/services/product-service/repository"
)

// source pages through the records to copy.
type source interface {
	Find(ctx context.Context, skip, limit int) ([]*models.Product, error)
}

// sink stores a record keeping its id and timestamps.
type sink interface {
	Put(ctx context.Context, p *models.Product) error
}

// migrate copies every record from src to dst in pages of batch. A record
// that fails to write is logged and skipped.
func migrate(ctx context.Context, src source, dst sink, batch int) (copied, failed int, err error) {
	for skip := 0; ; skip += batch {
		page, err := src.Find(ctx, skip, batch)
		if err != nil {
			return copied, failed, err
		}
		for _, p := range page {
			if err := dst.Put(ctx, p); err != nil {
				zap.L().Warn("failed to copy product", zap.String("id", p.ID), zap.Error(err))
				failed++
				continue
			}
			copied++
			if copied%100 == 0 {
				zap.L().Info("migration progress", zap.Int("copied", copied))
			}
		}
		if len(page) < batch {
			return copied, failed, nil
		}
	}
}

func main() {
	var (
		mongoURI, dbName, collection, table string
		batch                               int
	)
	flag.StringVar(&mongoURI, "mongo", os.Getenv("MONGO_URI"), "MongoDB URI")
	flag.StringVar(&dbName, "db", envOr("MONGO_DB_NAME", "godb"), "MongoDB database name")
	flag.StringVar(&collection, "collection", envOr("MONGO_COLLECTION", "products"), "MongoDB collection")
	flag.StringVar(&table, "table", envOr("DDB_TABLE_PRODUCTS", "Products"), "DynamoDB table name")
	flag.IntVar(&batch, "batch", 500, "records per page")
	flag.Parse()

	log, err := logger.Initialize(envOr("APP_ENV", "development"))
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	if mongoURI == "" {
		log.Fatal("MONGO_URI must be set or provided via -mongo")
	}
	if batch < 1 {
		log.Fatal("-batch must be positive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conns := &database.Connections{}
	if err := conns.ConnectMongo(ctx, mongoURI, dbName); err != nil {
		log.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	defer func() { _ = conns.Close(context.Background()) }()

	settings := awspkg.Settings{
		Region:          envOr("AWS_REGION", "us-east-1"),
		Endpoint:        os.Getenv("AWS_ENDPOINT"),
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
	}
	awsCfg, err := awspkg.LoadAWSConfig(ctx, settings)
	if err != nil {
		log.Fatal("failed to load AWS config", zap.Error(err))
	}

	dst := repository.NewDynamoAdapter(ddbpkg.NewClientFromConfig(awsCfg, settings.Endpoint), table)
	if err := dst.EnsureIndexes(ctx); err != nil {
		log.Fatal("failed to prepare table", zap.String("table", table), zap.Error(err))
	}

	copied, failed, err := migrate(ctx, repository.NewProductRepository(conns.DB, collection), dst, batch)
	if err != nil {
		log.Fatal("migration aborted", zap.Int("copied", copied), zap.Error(err))
	}
	log.Info("migration complete", zap.Int("copied", copied), zap.Int("failed", failed))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
