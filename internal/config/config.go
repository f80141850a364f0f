// Package config loads the reading host's configuration: defaults, then the
// YAML config file, then environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	gap "github.com/muesli/go-app-paths"
	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/tabreader/internal/ai"
	"github.com/dgnsrekt/tabreader/internal/storage"
	"github.com/dgnsrekt/tabreader/prefetch"
	"github.com/dgnsrekt/tabreader/queue"
)

// Storage backend names.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

// QueueConfig tunes the queue manager and the prefetch pipeline.
type QueueConfig struct {
	SaveDelay      time.Duration `yaml:"save_delay" env:"TABREADER_SAVE_DELAY"`
	ContentBudget  int           `yaml:"content_budget" env:"TABREADER_CONTENT_BUDGET"`
	Lookahead      int           `yaml:"lookahead" env:"TABREADER_LOOKAHEAD"`
	Cooldown       time.Duration `yaml:"cooldown" env:"TABREADER_COOLDOWN"`
	RetryDelay     time.Duration `yaml:"retry_delay" env:"TABREADER_RETRY_DELAY"`
	ResultTTL      time.Duration `yaml:"result_ttl" env:"TABREADER_RESULT_TTL"`
	ResultCapacity int           `yaml:"result_capacity" env:"TABREADER_RESULT_CAPACITY"`
}

// Config is the full host configuration.
type Config struct {
	Debug      bool   `yaml:"debug" env:"TABREADER_DEBUG"`
	DataDir    string `yaml:"data_dir" env:"TABREADER_DATA_DIR"`
	Storage    string `yaml:"storage" env:"TABREADER_STORAGE"`
	IgnoreFile string `yaml:"ignore_file" env:"TABREADER_IGNORE_FILE"`

	Redis storage.RedisConfig `yaml:"redis"`
	AI    ai.Config           `yaml:"ai"`
	Queue QueueConfig         `yaml:"queue"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Storage: StorageFile,
		Queue: QueueConfig{
			SaveDelay:      queue.DefaultSaveDelay,
			ContentBudget:  queue.DefaultContentBudget,
			Lookahead:      prefetch.DefaultLookahead,
			Cooldown:       prefetch.DefaultCooldown,
			RetryDelay:     prefetch.DefaultRetryDelay,
			ResultTTL:      prefetch.DefaultTTL,
			ResultCapacity: prefetch.DefaultCapacity,
		},
	}
}

// Load builds the configuration. An explicit path must exist; with an empty
// path the default locations are tried and a missing file is fine.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist) && !explicit:
			// no config file, keep defaults
		case err != nil:
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	if cfg.IgnoreFile == "" {
		cfg.IgnoreFile = filepath.Join(cfg.DataDir, "ignore.txt")
	}

	switch cfg.Storage {
	case StorageMemory, StorageFile, StorageRedis:
	case "":
		cfg.Storage = StorageFile
	default:
		return Config{}, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}

	return cfg, nil
}

// ConfigDirs returns the candidate config directories, most specific first.
func ConfigDirs() []string {
	var dirs []string

	if c := os.Getenv("TABREADER_CONFIG_HOME"); c != "" {
		dirs = append(dirs, c)
	}
	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append(dirs, filepath.Join(c, "tabreader"))
	}

	scope := gap.NewScope(gap.User, "tabreader")
	if scoped, err := scope.ConfigDirs(); err == nil {
		dirs = append(dirs, scoped...)
	}
	return dirs
}

// DefaultConfigPath is where a new config file is created.
func DefaultConfigPath() string {
	dirs := ConfigDirs()
	if len(dirs) == 0 {
		return "tabreader.yml"
	}
	return filepath.Join(dirs[0], "tabreader.yml")
}

func findConfigFile() string {
	for _, dir := range ConfigDirs() {
		for _, name := range []string{"tabreader.yml", "tabreader.yaml"} {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}

func defaultDataDir() string {
	scope := gap.NewScope(gap.User, "tabreader")
	if dir, err := scope.DataPath(""); err == nil && dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".tabreader")
}
