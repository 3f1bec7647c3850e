package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/api"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/cms"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/ingest"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/orchestrator"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/processing"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/provider"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/thumbnail"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/transport"
)

const USER_DIR_SUFFIX = "wpr"

// PublisherConfig is the struct used to contain the
// various user config supplied by file or environment.
type PublisherConfig struct {
	LogLevel     string                     `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Provider     provider.Config            `yaml:"provider"`
	Automation   transport.AutomationConfig `yaml:"automation"`
	CMS          cms.Config                 `yaml:"cms"`
	Processing   processing.Config          `yaml:"processing"`
	Thumbnail    thumbnail.Config           `yaml:"thumbnail"`
	Orchestrator orchestrator.Config        `yaml:"orchestrator"`
	Jobs         orchestrator.ServiceConfig `yaml:"jobs"`
	Ingest       ingest.Config              `yaml:"ingest"`
	RestConfig   api.RestConfig             `yaml:"api"`
	HistoryPath  string                     `yaml:"history_path" env:"HISTORY_PATH"`
}

// LoadConfig reads the YAML configuration file provided, falling back to
// the environment alone when the path is empty. The resulting config
// is validated before being returned.
func LoadConfig(configPath string) (*PublisherConfig, error) {
	config := &PublisherConfig{}
	if configPath != "" {
		if err := cleanenv.ReadConfig(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
		}
	} else if err := cleanenv.ReadEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	if err := config.expandPaths(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// expandPaths resolves a leading '~' in every configured file path.
func (config *PublisherConfig) expandPaths() error {
	paths := []*string{
		&config.HistoryPath,
		&config.Ingest.IngestPath,
		&config.Thumbnail.OutputDir,
		&config.CMS.CookieFile,
		&config.Automation.CookieFile,
	}
	for _, path := range paths {
		expanded, err := homedir.Expand(*path)
		if err != nil {
			return fmt.Errorf("failed to expand path '%s': %w", *path, err)
		}
		*path = expanded
	}

	for account, cookieFile := range config.Automation.AccountCookies {
		expanded, err := homedir.Expand(cookieFile)
		if err != nil {
			return fmt.Errorf("failed to expand cookie path for account '%s': %w", account, err)
		}
		config.Automation.AccountCookies[account] = expanded
	}

	return nil
}

func (config *PublisherConfig) Validate() error {
	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	return nil
}

// getHistoryPath returns the path of the outcome history database. If
// none is configured, a directory beneath the user config dir is used.
func (config *PublisherConfig) getHistoryPath() string {
	if config.HistoryPath != "" {
		return config.HistoryPath
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		panic(fmt.Sprintf("FAILURE to derive user config dir %s", err))
	}

	return filepath.Join(dir, USER_DIR_SUFFIX, "history")
}
