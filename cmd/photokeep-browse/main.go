package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"photokeep/cmd/photokeep-browse/ui"
	"photokeep/internal/config"
	"photokeep/internal/db"
	"photokeep/internal/engine"
	"photokeep/internal/exif"
	"photokeep/internal/kvcache"
	"photokeep/internal/logger"
	"photokeep/internal/repo"

	tea "github.com/charmbracelet/bubbletea"
)

type rootModel struct {
	browser ui.BrowserModel
}

func (m rootModel) Init() tea.Cmd { return m.browser.Init() }

func (m rootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.browser, cmd = m.browser.Update(msg)
	return m, cmd
}

func (m rootModel) View() string { return m.browser.View() }

func main() {
	var (
		cfgPath = flag.String("config", "config/config.yaml", "Path to configuration file")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Println("Cannot load config:", err)
		os.Exit(1)
	}
	// keep engine logs out of the terminal UI
	logPath := cfg.LogPath
	if logPath == "" {
		logPath = os.DevNull
	}
	if err := logger.Init(logPath); err != nil {
		fmt.Println("Cannot open log file:", err)
		os.Exit(1)
	}

	gdb, err := db.Connect(cfg.DB)
	if err != nil {
		fmt.Println("Cannot open database:", err)
		os.Exit(1)
	}
	if err := db.Migrate(gdb); err != nil {
		fmt.Println("Cannot migrate database:", err)
		os.Exit(1)
	}

	ops := engine.NewOperations(
		repo.NewFolderRepository(gdb),
		repo.NewImageRepository(gdb),
		repo.NewAlbumRepository(gdb),
		repo.NewRuleRepository(gdb),
		exif.NewExtractor(),
		cfg.Scan.Workers,
	)
	rulesSvc := engine.NewRulesService(repo.NewRuleRepository(gdb))
	if err := rulesSvc.Seed(cfg.SeedPaths); err != nil {
		fmt.Println("Cannot seed watch rules:", err)
		os.Exit(1)
	}
	mgr := engine.NewManager(ops, rulesSvc, kvcache.New(cfg.Redis), cfg.Scan.Debounce())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Start(ctx); err != nil {
		fmt.Println("Cannot start engine:", err)
		os.Exit(1)
	}
	defer mgr.Close()

	sub := mgr.Containers().Connect(ctx)
	program := tea.NewProgram(rootModel{browser: ui.NewBrowserModel(sub, 24)}, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fmt.Println("UI error:", err)
		os.Exit(1)
	}
}
