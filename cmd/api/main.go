package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/valkey-io/valkey-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	stepapp "github.com/here-xyz/tasked-step-engine/internal/application/step"
	"github.com/here-xyz/tasked-step-engine/internal/bootstrap"
	infraauth "github.com/here-xyz/tasked-step-engine/internal/infrastructure/auth"
	"github.com/here-xyz/tasked-step-engine/internal/infrastructure/executor"
	"github.com/here-xyz/tasked-step-engine/internal/infrastructure/objectstore"
	"github.com/here-xyz/tasked-step-engine/internal/infrastructure/repository"
	"github.com/here-xyz/tasked-step-engine/internal/infrastructure/statistics"
	"github.com/here-xyz/tasked-step-engine/internal/platform/config"
	"github.com/here-xyz/tasked-step-engine/internal/platform/logging"
)

func main() {
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	port := getEnv("PORT", "8080")
	schema := getEnv("TASK_TABLE_SCHEMA", "public")

	defaults, err := config.Load(getEnv("ENGINE_CONFIG_PATH", "config/engine.yaml"))
	if err != nil {
		log.Fatalf("failed to load engine config: %v", err)
	}

	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		log.Fatalf("failed to create pgx pool: %v", err)
	}
	defer pool.Close()

	var valkeyClient valkey.Client
	if addr := os.Getenv("VALKEY_ADDR"); addr != "" {
		valkeyClient, err = valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
		if err != nil {
			log.Fatalf("failed to create valkey client: %v", err)
		}
		defer valkeyClient.Close()
	}

	var presigner *objectstore.Presigner
	if bucket := os.Getenv("EXPORT_BUCKET"); bucket != "" {
		presigner, err = objectstore.NewPresigner(context.Background(), objectstore.Config{
			Bucket:   bucket,
			Region:   getEnv("AWS_REGION", "us-east-1"),
			Endpoint: os.Getenv("EXPORT_BUCKET_ENDPOINT"),
		})
		if err != nil {
			log.Fatalf("failed to create object store presigner: %v", err)
		}
	}

	statisticsClient := statistics.NewClient(getEnv("STATISTICS_BASE_URL", "http://localhost:8081"), nil)

	var ownerAuth *infraauth.OwnerExtractor
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		ownerAuth = infraauth.NewOwnerExtractor(secret)
	}

	stepRepo := repository.NewStepRepository(db)

	service := stepapp.NewService(stepapp.Dependencies{
		Pool:        pool,
		Valkey:      valkeyClient,
		Presigner:   presigner,
		Statistics:  statisticsClient,
		TagService:  statisticsClient,
		Precalc:     statisticsClient,
		Executor:    executor.NewNoopExecutor(),
		Resources:   executor.NewPermissiveResourceManager(),
		OwnerAuth:   ownerAuth,
		StepRepo:    stepRepo,
		Defaults:    defaults,
		Log:         logging.New(nil),
		Schema:      schema,
		DownloadTTL: time.Duration(parseIntEnv("DOWNLOAD_URL_TTL_SECONDS", 3600)) * time.Second,
	})

	server := bootstrap.NewHTTPServer(service)

	go func() {
		if err := server.Start(":" + port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("graceful shutdown failed: %v", err)
	}
}

func parseIntEnv(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
