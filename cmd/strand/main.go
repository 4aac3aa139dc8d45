package main

import (
	"log"
	"os"
	"time"

	"github.com/strandlabs/strand/internal/api"
	"github.com/strandlabs/strand/internal/catalog"
	"github.com/strandlabs/strand/internal/config"
	"github.com/strandlabs/strand/internal/engine"
	"github.com/strandlabs/strand/internal/runner"
	"github.com/strandlabs/strand/internal/spec"
	"github.com/strandlabs/strand/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("strand: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"catalog_dir", cfg.CatalogDir,
		"workers", cfg.Workers,
	)

	registry, err := catalog.LoadDir(cfg.CatalogDir)
	if err != nil {
		log.Fatalf("failed to load catalog: %v", err)
	}
	logger.Info("catalog loaded",
		"tools", len(registry.List("tool")),
		"workflows", len(registry.List("workflow")),
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	eng := engine.NewEngine(
		db,
		spec.NewBuilder(registry, cfg.DataDir),
		runner.NewExec(),
		engine.NewLogs(cfg.DataDir),
		logger,
		engine.Options{
			Workers:        cfg.Workers,
			QueueSize:      cfg.QueueSize,
			DefaultTimeout: time.Duration(cfg.DefaultTimeoutS) * time.Second,
		},
	)
	eng.Start()
	defer eng.Shutdown()

	srv := api.NewServer(cfg.ListenAddr, db, registry, eng, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
