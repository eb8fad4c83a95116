// Command kb-ingest loads a clinic knowledge file into the pgvector
// knowledge backend the intake agent queries.
//
//	kb-ingest -config config.yaml -file clinic.yaml [-tenant demo_clinic] [-replace]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/app"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/internal/config"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/knowledge/kbfile"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/knowledge/pgvector"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	filePath := flag.String("file", "", "knowledge file to ingest (required)")
	tenant := flag.String("tenant", "", "tenant ID; overrides the file's tenant")
	replace := flag.Bool("replace", false, "delete the tenant's existing chunks first")
	batch := flag.Int("batch", kbfile.DefaultBatchSize, "chunks embedded per request")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "kb-ingest: -file is required")
		flag.Usage()
		return 2
	}
	if err := config.LoadDotEnv(os.Getenv("ENV_FILE"), ".env"); err != nil {
		slog.Error("load env", "err", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		return 1
	}
	if cfg.Knowledge.PostgresDSN == "" {
		slog.Error("knowledge.postgres_dsn is not set")
		return 1
	}

	kf, err := kbfile.Load(*filePath)
	if err != nil {
		slog.Error("load knowledge file", "err", err)
		return 1
	}
	tenantID := *tenant
	if tenantID == "" {
		tenantID = kf.Tenant
	}
	if tenantID == "" {
		tenantID = cfg.Tenant.ID
	}

	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)
	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		slog.Error("build providers", "err", err)
		return 1
	}
	if providers.Embedder == nil {
		slog.Error("providers.embeddings must name an embeddings provider")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := pgvector.NewStore(ctx, cfg.Knowledge.PostgresDSN, providers.Embedder)
	if err != nil {
		slog.Error("connect knowledge store", "err", err)
		return 1
	}
	defer store.Close()

	if *replace {
		n, err := store.Clear(ctx, tenantID)
		if err != nil {
			slog.Error("clear tenant", "tenant", tenantID, "err", err)
			return 1
		}
		slog.Info("cleared existing chunks", "tenant", tenantID, "deleted", n)
	}

	n, err := kbfile.Import(ctx, store, tenantID, kf, *batch)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Warn("interrupted", "ingested", n)
		} else {
			slog.Error("ingest", "ingested", n, "err", err)
		}
		return 1
	}
	slog.Info("ingest complete", "tenant", tenantID, "chunks", n, "model", providers.Embedder.ModelID())
	return 0
}
