package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/tabreader/internal/config"
)

const defaultConfig = `# enable debug logging
debug: false

# where queue state and the ignore list live (defaults to the user data dir)
# data_dir: ""

# storage backend: memory, file or redis
storage: "file"

# one ignored domain per line; subdomains are ignored too
# ignore_file: ""

# redis connection, used when storage is "redis"
redis:
  addr: "localhost:6379"
  # password: ""
  db: 0
  prefix: "tabreader"

# AI preprocessing
ai:
  # api_key: "your-api-key-here"
  model: "gpt-4o-mini"
  # base_url: ""
  rate_per_sec: 0.5
  max_retries: 3
  timeout: "60s"

# queue and prefetch tuning
queue:
  save_delay: "500ms"
  content_budget: 100000
  lookahead: 2
  cooldown: "5s"
  retry_delay: "3s"
  result_ttl: "24h"
  result_capacity: 50
`

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Edit the tabreader config file",
	Long:    "\nEdit the tabreader config file. We'll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.",
	Example: "tabreader config\ntabreader config --config path/to/tabreader.yml",
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("TabReader", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = config.DefaultConfigPath()
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
