package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/byte4ever/tagpromoter/gitops/git"
	"github.com/byte4ever/tagpromoter/gitops/promoter"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TAGPROMOTER"

// Repository providers.
const (
	ProviderGitHub    = "github"
	ProviderGitLab    = "gitlab"
	ProviderBitbucket = "bitbucket"
	ProviderLocal     = "local"
)

// Config is the complete tagpromoter configuration.
type Config struct {
	Common     Common     `mapstructure:"common"`
	Server     Server     `mapstructure:"server"`
	Repository Repository `mapstructure:"repository"`
	Promotion  Promotion  `mapstructure:"promotion"`
}

// Common holds process wide settings.
type Common struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Server holds the HTTP front end and task pool
// settings.
type Server struct {
	Listen        string        `mapstructure:"listen"`
	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	Retention     time.Duration `mapstructure:"retention"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// Repository selects and configures the manifest
// repository host.
type Repository struct {
	Provider  string    `mapstructure:"provider"`
	GitHub    GitHub    `mapstructure:"github"`
	GitLab    GitLab    `mapstructure:"gitlab"`
	Bitbucket Bitbucket `mapstructure:"bitbucket"`
	Local     Local     `mapstructure:"local"`
	Retry     Retry     `mapstructure:"retry"`
}

// GitHub configures the github provider.
type GitHub struct {
	Owner          string `mapstructure:"owner"`
	Repo           string `mapstructure:"repo"`
	Token          string `mapstructure:"token"`
	EnterpriseHost string `mapstructure:"enterprise_host"`
	BaseURL        string `mapstructure:"base_url"`
}

// GitLab configures the gitlab provider.
type GitLab struct {
	Host  string `mapstructure:"host"`
	Repo  string `mapstructure:"repo"`
	Token string `mapstructure:"token"`
}

// Bitbucket configures the bitbucket provider.
type Bitbucket struct {
	BaseURL  string `mapstructure:"base_url"`
	Project  string `mapstructure:"project"`
	Repo     string `mapstructure:"repo"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// Local configures an in-memory repository seeded from
// a directory.
type Local struct {
	Dir           string `mapstructure:"dir"`
	DefaultBranch string `mapstructure:"default_branch"`
}

// Retry bounds transient failure retries.
type Retry struct {
	MaxRetries int           `mapstructure:"max_retries"`
	WaitMin    time.Duration `mapstructure:"wait_min"`
	WaitMax    time.Duration `mapstructure:"wait_max"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Promotion holds the promotion conventions.
type Promotion struct {
	ReleasePrefix string   `mapstructure:"release_prefix"`
	PathTemplate  string   `mapstructure:"path_template"`
	TagPath       string   `mapstructure:"tag_path"`
	TagKey        string   `mapstructure:"tag_key"`
	Labels        []string `mapstructure:"labels"`
}

// Defaults returns the value of every known key. Each
// key must have a default for its environment override
// to be picked up.
func Defaults() map[string]any {
	retry := git.DefaultRetryConfig()

	return map[string]any{
		"common.log_level":  "info",
		"common.log_format": LogFormatStructured,

		"server.listen":         ":8080",
		"server.workers":        4,
		"server.queue_size":     64,
		"server.retention":      time.Hour,
		"server.prune_interval": time.Minute,
		"server.shutdown_grace": 30 * time.Second,

		"repository.provider":               ProviderGitHub,
		"repository.github.owner":           "",
		"repository.github.repo":            "",
		"repository.github.token":           "",
		"repository.github.enterprise_host": "",
		"repository.github.base_url":        "",
		"repository.gitlab.host":            "https://gitlab.com",
		"repository.gitlab.repo":            "",
		"repository.gitlab.token":           "",
		"repository.bitbucket.base_url":     "",
		"repository.bitbucket.project":      "",
		"repository.bitbucket.repo":         "",
		"repository.bitbucket.user":         "",
		"repository.bitbucket.password":     "",
		"repository.local.dir":              "",
		"repository.local.default_branch":   "main",
		"repository.retry.max_retries":      retry.MaxRetries,
		"repository.retry.wait_min":         retry.WaitMin,
		"repository.retry.wait_max":         retry.WaitMax,
		"repository.retry.timeout":          retry.Timeout,

		"promotion.release_prefix": promoter.DefaultReleasePrefix,
		"promotion.path_template":  promoter.DefaultPathTemplate,
		"promotion.tag_path":       promoter.DefaultTagPath,
		"promotion.tag_key":        promoter.DefaultTagKey,
		"promotion.labels":         promoter.DefaultLabels,
	}
}

// Load reads the configuration. path may be empty, in
// which case only defaults and the environment apply.
func Load(path string) (Config, error) {
	const errCtx = "loading configuration"

	v := viper.New()

	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf(
				"%s: read %s: %w", errCtx, path, err,
			)
		}
	}

	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	return cfg, nil
}

// Validate checks values that defaults cannot make
// correct. Errors name the offending key. Repository
// credentials are checked by NewRepository so that
// commands working on a local directory need none.
func (c Config) Validate() error {
	if _, ok := logLevels[c.Common.LogLevel]; !ok {
		return fmt.Errorf(
			"common.log_level: unsupported value %q",
			c.Common.LogLevel,
		)
	}

	if _, ok := logEncodings[c.Common.LogFormat]; !ok {
		return fmt.Errorf(
			"common.log_format: unsupported value %q",
			c.Common.LogFormat,
		)
	}

	if c.Server.Workers <= 0 {
		return fmt.Errorf("server.workers must be positive")
	}

	if c.Server.QueueSize < 0 {
		return fmt.Errorf("server.queue_size must not be negative")
	}

	if c.Repository.Retry.MaxRetries < 0 {
		return fmt.Errorf(
			"repository.retry.max_retries must not be negative",
		)
	}

	return nil
}

func (r Repository) validate() error {
	var missing []string

	switch r.Provider {
	case ProviderGitHub:
		missing = blank(map[string]string{
			"repository.github.owner": r.GitHub.Owner,
			"repository.github.repo":  r.GitHub.Repo,
			"repository.github.token": r.GitHub.Token,
		})
	case ProviderGitLab:
		missing = blank(map[string]string{
			"repository.gitlab.repo":  r.GitLab.Repo,
			"repository.gitlab.token": r.GitLab.Token,
		})
	case ProviderBitbucket:
		missing = blank(map[string]string{
			"repository.bitbucket.base_url": r.Bitbucket.BaseURL,
			"repository.bitbucket.project":  r.Bitbucket.Project,
			"repository.bitbucket.repo":     r.Bitbucket.Repo,
			"repository.bitbucket.user":     r.Bitbucket.User,
			"repository.bitbucket.password": r.Bitbucket.Password,
		})
	case ProviderLocal:
		missing = blank(map[string]string{
			"repository.local.dir": r.Local.Dir,
		})
	default:
		return fmt.Errorf(
			"repository.provider: unsupported value %q",
			r.Provider,
		)
	}

	if len(missing) > 0 {
		return fmt.Errorf(
			"%s must be set", strings.Join(missing, ", "),
		)
	}

	return nil
}

// RetryConfig converts r for the providers.
func (r Retry) RetryConfig() git.RetryConfig {
	return git.RetryConfig{
		MaxRetries: r.MaxRetries,
		WaitMin:    r.WaitMin,
		WaitMax:    r.WaitMax,
		Timeout:    r.Timeout,
	}
}
