// The server command runs the deployment tracking service: the HTTP
// boundary, the per-deployment coordinators, and their durable store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/daangn/websites-integration/artifact"
	"github.com/daangn/websites-integration/config"
	"github.com/daangn/websites-integration/coordinator"
	"github.com/daangn/websites-integration/server"
	"github.com/daangn/websites-integration/store"
)

var (
	configFile = flag.String("config", "", "Path to service configuration YAML file")
	addr       = flag.String("addr", "", "HTTP listen address (overrides config)")
)

func main() {
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	var cfg *config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(*configFile)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	} else {
		cfg = config.Default()
		cfg.AdminKeys = adminKeysFromEnv()
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid configuration: %v", err)
		}
		logger.Info("No config file specified, using defaults")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := newStateStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open state store: %v", err)
	}
	defer st.Close()

	artifacts, err := newArtifactStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to set up artifact store: %v", err)
	}

	registry, err := coordinator.NewRegistry(st, cfg.BaseURL)
	if err != nil {
		log.Fatalf("Failed to create coordinator registry: %v", err)
	}

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.New(registry, artifacts, cfg.AdminKeys, logger).Router(),
	}

	go func() {
		logger.Info("Starting server", "addr", cfg.Addr, "base_url", cfg.BaseURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	fmt.Printf("Deployment tracking server started on %s\n", cfg.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	cancel()

	if err := srv.Shutdown(context.Background()); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	fmt.Println("Shutdown complete")
}

// adminKeysFromEnv reads WEBSITES_ADMIN_KEY for config-less local runs.
func adminKeysFromEnv() []string {
	if key := os.Getenv("WEBSITES_ADMIN_KEY"); key != "" {
		return []string{key}
	}
	return nil
}

func newStateStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		return store.NewPostgresStore(cfg.Storage.DSN)
	default:
		return store.NewSQLiteStore(cfg.Storage.DSN)
	}
}

func newArtifactStore(ctx context.Context, cfg *config.Config) (artifact.Store, error) {
	switch cfg.Artifacts.Backend {
	case "s3":
		opts := []func(*awsconfig.LoadOptions) error{}
		if cfg.Artifacts.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Artifacts.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		return artifact.NewS3Store(s3.NewFromConfig(awsCfg), cfg.Artifacts.Bucket, cfg.Artifacts.Prefix), nil
	default:
		return artifact.NewLocalStore(cfg.Artifacts.Dir), nil
	}
}
