package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type DB struct {
	Driver string // "sqlite" or "mysql"
	Path   string // sqlite file path
	Host   string
	Port   int
	User   string
	Pass   string
	Name   string
}

type Redis struct {
	Enabled bool
	Addr    string
	DB      int
}

type Scan struct {
	Workers    int
	DebounceMs int
}

type Config struct {
	DB        DB
	Redis     Redis
	Scan      Scan
	LogPath   string
	SeedPaths []string // imported as Always rules when the rule table is empty
}

func (s Scan) Debounce() time.Duration {
	return time.Duration(s.DebounceMs) * time.Millisecond
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("photokeep.db.driver", "sqlite")
	v.SetDefault("photokeep.db.path", filepath.Join(os.TempDir(), "photokeep", "photokeep.db"))
	v.SetDefault("photokeep.db.host", "127.0.0.1")
	v.SetDefault("photokeep.db.port", 3306)
	v.SetDefault("photokeep.db.user", "root")
	v.SetDefault("photokeep.db.pass", "")
	v.SetDefault("photokeep.db.name", "photokeep")
	v.SetDefault("photokeep.redis.enabled", false)
	v.SetDefault("photokeep.redis.addr", "127.0.0.1:6379")
	v.SetDefault("photokeep.redis.db", 0)
	v.SetDefault("photokeep.scan.workers", 4)
	v.SetDefault("photokeep.scan.debounce_ms", 500)
	v.SetDefault("photokeep.seed_paths", []string{})

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{
		DB: DB{
			Driver: v.GetString("photokeep.db.driver"),
			Path:   v.GetString("photokeep.db.path"),
			Host:   v.GetString("photokeep.db.host"),
			Port:   v.GetInt("photokeep.db.port"),
			User:   v.GetString("photokeep.db.user"),
			Pass:   v.GetString("photokeep.db.pass"),
			Name:   v.GetString("photokeep.db.name"),
		},
		Redis: Redis{
			Enabled: v.GetBool("photokeep.redis.enabled"),
			Addr:    v.GetString("photokeep.redis.addr"),
			DB:      v.GetInt("photokeep.redis.db"),
		},
		Scan: Scan{
			Workers:    v.GetInt("photokeep.scan.workers"),
			DebounceMs: v.GetInt("photokeep.scan.debounce_ms"),
		},
		LogPath:   v.GetString("photokeep.log_path"),
		SeedPaths: v.GetStringSlice("photokeep.seed_paths"),
	}
	if cfg.Scan.Workers <= 0 {
		cfg.Scan.Workers = 4
	}
	if cfg.Scan.DebounceMs <= 0 {
		cfg.Scan.DebounceMs = 500
	}
	return cfg, nil
}
