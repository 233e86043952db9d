// Package main is the entry point for dataplatformd, the background service
// that keeps registered connectors monitored and runs the audit/config-backup
// maintenance loops.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/dafelhub/dataplatform/internal/audit"
	"github.com/dafelhub/dataplatform/internal/config"
	"github.com/dafelhub/dataplatform/internal/configbackup"
	"github.com/dafelhub/dataplatform/internal/connector"
	"github.com/dafelhub/dataplatform/internal/monitor"
	"github.com/dafelhub/dataplatform/internal/registry"
	"github.com/dafelhub/dataplatform/internal/vault"
	"github.com/dafelhub/dataplatform/pkg/logger"
	"github.com/dafelhub/dataplatform/pkg/metrics"
)

const (
	serviceName    = "dataplatformd"
	serviceVersion = "1.0.0"
)

func main() {
	var showVersion = flag.Bool("version", false, "Show version information")
	var configPath = flag.String("config", "", "Path to YAML config file (env vars always override)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", serviceName, serviceVersion)
		os.Exit(0)
	}

	log := logger.NewLogger(logger.Config{Level: "info", Format: "json", Output: "stdout"})
	slog.SetDefault(log)

	log.Info("starting dataplatformd", "service", serviceName, "version", serviceVersion)

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadConfig(*configPath)
	} else {
		cfg, err = config.LoadConfigFromEnv()
	}
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	passphrase := os.Getenv(cfg.Vault.PassphraseEnv)
	if passphrase == "" {
		log.Error("vault passphrase not set", "env", cfg.Vault.PassphraseEnv)
		os.Exit(1)
	}
	v, err := vault.New([]byte(passphrase), cfg.Vault.MaxOldVersions)
	if err != nil {
		log.Error("failed to initialize vault", "error", err)
		os.Exit(1)
	}

	trail, err := audit.Open(cfg.Audit.DatabasePath, cfg.Audit.BackupDir, v, log)
	if err != nil {
		log.Error("failed to open audit trail", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trail.Start(ctx)
	log.Info("audit trail started", "database_path", cfg.Audit.DatabasePath)

	registryMetrics := metrics.DefaultRegistry()
	collector := monitor.NewCollector(log)
	exporter := monitor.NewExporter(collector, registryMetrics)

	for _, cc := range cfg.Connectors {
		connCfg := connector.ConnectionConfig{
			ID:             cc.ID,
			Backend:        connector.Backend(cc.Backend),
			Host:           cc.Host,
			Port:           cc.Port,
			Database:       cc.Database,
			Username:       cc.Username,
			Password:       os.Getenv(cc.PasswordEnv),
			TLS:            cc.TLS,
			ConnectTimeout: cc.ConnectTimeout,
			OpTimeout:      cc.OpTimeout,
			PoolMin:        cc.PoolMin,
			PoolMax:        cc.PoolMax,
			Options:        cc.Options,
		}
		conn, err := registry.New(connCfg, log, true)
		if err != nil {
			log.Error("failed to build connector, skipping", "connector_id", cc.ID, "error", err)
			continue
		}
		if err := conn.Connect(ctx); err != nil {
			log.Error("failed to connect, skipping", "connector_id", cc.ID, "error", err)
			continue
		}
		collector.Register(conn)
		log.Info("connector registered with monitor", "connector_id", cc.ID, "backend", cc.Backend)
	}

	cbEngine, err := configbackup.NewEngine(v, cfg.ConfigBackup.SnapshotDir, cfg.ConfigBackup.Roots,
		cfg.ConfigBackup.Excludes, cfg.ConfigBackup.MaxSnapshots, cfg.ConfigBackup.MaxAge)
	if err != nil {
		log.Error("failed to initialize config-backup engine", "error", err)
		os.Exit(1)
	}

	var snapshotLockClient *redis.Client
	if cfg.ConfigBackup.UseDistributedLock && cfg.Redis.Addr != "" {
		snapshotLockClient = redis.NewClient(&redis.Options{
			Addr:            cfg.Redis.Addr,
			Password:        cfg.Redis.Password,
			DB:              cfg.Redis.DB,
			PoolSize:        cfg.Redis.PoolSize,
			MinIdleConns:    cfg.Redis.MinIdleConns,
			DialTimeout:     cfg.Redis.DialTimeout,
			ReadTimeout:     cfg.Redis.ReadTimeout,
			WriteTimeout:    cfg.Redis.WriteTimeout,
			MaxRetries:      cfg.Redis.MaxRetries,
			MinRetryBackoff: cfg.Redis.MinRetryBackoff,
			MaxRetryBackoff: cfg.Redis.MaxRetryBackoff,
		})
		defer snapshotLockClient.Close()
	}

	go collector.Run(ctx, cfg.Monitor.PollInterval)
	go runExportLoop(ctx, exporter, cfg.Monitor.PollInterval)
	go runConfigBackupLoop(ctx, log, cbEngine, snapshotLockClient, cfg.ConfigBackup.BackupInterval)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: mux,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("metrics server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	log.Info("shutting down dataplatformd")

	cancel()
	trail.WaitIdle()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server forced to shutdown", "error", err)
	}
	if err := trail.Close(shutdownCtx); err != nil {
		log.Error("audit trail close failed", "error", err)
	}

	log.Info("dataplatformd exited")
}

func runExportLoop(ctx context.Context, exporter *monitor.Exporter, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			exporter.Export()
		}
	}
}

func runConfigBackupLoop(ctx context.Context, log *slog.Logger, engine *configbackup.Engine, lockClient *redis.Client, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	snapshot := func() error {
		_, err := engine.CreateSnapshot()
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var err error
			if lockClient != nil {
				err = configbackup.WithSnapshotLock(ctx, lockClient, log, snapshot)
			} else {
				err = snapshot()
			}
			if err != nil {
				log.Error("config-backup snapshot failed", "error", err)
			}
		}
	}
}
