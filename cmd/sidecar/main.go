// Command sidecar is the chat sidecar's entrypoint: it wires config, storage, the transport
// backend, and the HTTP edge together, then serves until a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/HyphaGroup/chatsidecar/internal/config"
	"github.com/HyphaGroup/chatsidecar/internal/httpapi"
	"github.com/HyphaGroup/chatsidecar/internal/livebus"
	applog "github.com/HyphaGroup/chatsidecar/internal/logger"
	"github.com/HyphaGroup/chatsidecar/internal/sessionregistry"
	"github.com/HyphaGroup/chatsidecar/internal/store"
	"github.com/HyphaGroup/chatsidecar/internal/streamruntime"
	"github.com/HyphaGroup/chatsidecar/internal/transport"
)

// Version is set at build time via -ldflags; the zero value just prints "dev".
var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	logJSON := flag.Bool("log-json", false, "Emit logs as JSON instead of plain text")
	flag.Parse()

	if *showVersion {
		fmt.Printf("chatsidecar %s\n", Version)
		os.Exit(0)
	}

	if err := applog.InitSlog("logs", *logJSON); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = applog.CloseSlog() }()

	logger := applog.Slog()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	messageStore := store.New(pool)
	if err := messageStore.Init(ctx); err != nil {
		logger.Error("failed to initialize message store schema", "error", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	bus := livebus.New(redisClient)

	factory, err := buildTransportFactory(cfg)
	if err != nil {
		logger.Error("failed to initialize sandbox transport factory", "error", err)
		os.Exit(1)
	}
	logger.Info("sandbox backend ready", "backend", cfg.SandboxBackend)

	sessions := sessionregistry.New(logger)
	runtime := streamruntime.New(messageStore, bus, sessions, logger)

	server := httpapi.New(cfg, messageStore, bus, sessions, runtime, factory, logger)

	reaperStop := make(chan struct{})
	go runReaper(sessions, server, reaperStop)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}

	case sig := <-shutdownChan:
		logger.Info("received signal, shutting down", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		logger.Info("closing HTTP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown error", "error", err)
		}

		close(reaperStop)

		logger.Info("terminating live chat sessions")
		sessions.TerminateAll()

		logger.Info("shutdown complete")
	}
}

// runReaper periodically reaps idle chat sessions and rate-limiter buckets until stop closes,
// mirroring the cadence sessionregistry.ReaperInterval documents.
func runReaper(sessions *sessionregistry.Registry, server *httpapi.Server, stop <-chan struct{}) {
	ticker := time.NewTicker(sessionregistry.ReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sessions.ReapIdle(sessionregistry.ReaperInterval)
			server.CleanupRateLimiter()
		}
	}
}

// buildTransportFactory selects the Docker or Kubernetes pod-exec backend per
// cfg.SandboxBackend, matching create_transport_factory's branch in the original source.
func buildTransportFactory(cfg *config.Config) (transport.Factory, error) {
	switch cfg.SandboxBackend {
	case "k8s":
		restCfg, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("in-cluster config: %w", err)
		}
		clientset, err := kubernetes.NewForConfig(restCfg)
		if err != nil {
			return nil, fmt.Errorf("kubernetes client: %w", err)
		}
		namespace := podNamespace()
		return transport.NewPodFactory(restCfg, clientset, namespace), nil

	default:
		cli, err := dockerClientFromEnv()
		if err != nil {
			return nil, fmt.Errorf("docker client: %w", err)
		}
		return transport.NewDockerFactory(cli), nil
	}
}

// dockerClientFromEnv builds a Docker engine client from the standard DOCKER_HOST/DOCKER_CERT_PATH
// environment, negotiating the API version against whatever daemon is actually listening rather
// than pinning one at compile time.
func dockerClientFromEnv() (*client.Client, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

// podNamespace reads the namespace a pod's service account token is scoped to, defaulting to
// "default" when the namespace file cannot be read.
func podNamespace() string {
	const nsFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"
	data, err := os.ReadFile(nsFile)
	if err != nil {
		return "default"
	}
	return string(data)
}
