package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"photokeep/internal/config"
	"photokeep/internal/db"
	"photokeep/internal/engine"
	"photokeep/internal/exif"
	"photokeep/internal/kvcache"
	"photokeep/internal/logger"
	"photokeep/internal/repo"
)

func main() {
	var (
		cfgPath = flag.String("config", "config/config.yaml", "Path to configuration file")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("Cannot load config:", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LogPath); err != nil {
		logger.Error("Cannot open log file:", err)
		os.Exit(1)
	}

	gdb, err := db.Connect(cfg.DB)
	if err != nil {
		logger.Error("Cannot open database:", err)
		os.Exit(1)
	}
	if err := db.Migrate(gdb); err != nil {
		logger.Error("Cannot migrate database:", err)
		os.Exit(1)
	}

	folders := repo.NewFolderRepository(gdb)
	images := repo.NewImageRepository(gdb)
	albums := repo.NewAlbumRepository(gdb)
	ruleRepo := repo.NewRuleRepository(gdb)

	ops := engine.NewOperations(folders, images, albums, ruleRepo, exif.NewExtractor(), cfg.Scan.Workers)
	rulesSvc := engine.NewRulesService(ruleRepo)
	if err := rulesSvc.Seed(cfg.SeedPaths); err != nil {
		logger.Error("Cannot seed watch rules:", err)
		os.Exit(1)
	}

	mgr := engine.NewManager(ops, rulesSvc, kvcache.New(cfg.Redis), cfg.Scan.Debounce())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Start(ctx); err != nil {
		logger.Error("Cannot start engine:", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down")
	cancel()
	if err := mgr.Close(); err != nil {
		logger.Error("Shutdown error:", err)
	}
}
