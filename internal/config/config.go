// Package config loads run settings from flags, environment, .env and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/naka-gawa/gerrit-stats/internal/domain"
	"github.com/naka-gawa/gerrit-stats/internal/render"
	"github.com/naka-gawa/gerrit-stats/internal/usecase"
)

const (
	configName = ".gerrit-stats"
	configType = "yaml"
	envPrefix  = "GERRIT_STATS"
)

// Defaults.
const (
	DefaultWeeks      = 53
	DefaultPageSize   = 100
	DefaultFailPolicy = "any"
)

// Config is the resolved configuration for one stats run.
type Config struct {
	Owner       string        `mapstructure:"owner"`
	Hosts       []string      `mapstructure:"hosts"`
	After       string        `mapstructure:"after"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	Token       string        `mapstructure:"token"`
	OutputSVG   string        `mapstructure:"output-svg"`
	OutputMD    string        `mapstructure:"output-md"`
	MDDate      bool          `mapstructure:"md-date"`
	Theme       string        `mapstructure:"theme"`
	MultiColor  bool          `mapstructure:"multi-color"`
	Weeks       int           `mapstructure:"weeks"`
	PageSize    int           `mapstructure:"page-size"`
	QPS         float64       `mapstructure:"qps"`
	FailPolicy  string        `mapstructure:"fail-policy"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Metrics     string        `mapstructure:"metrics-file"`
	SkipReviews bool          `mapstructure:"skip-reviews"`
}

// RegisterFlags declares the stats flags. Their names are the config keys.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("owner", "o", "", `Change owner: "self", an email address or a username`)
	fs.StringSliceP("hosts", "H", nil, "Gerrit hosts, as known aliases or URLs (comma separated or repeated)")
	fs.StringP("after", "a", "", "Only count changes merged on or after this date (YYYY-MM-DD)")
	fs.String("username", "", "HTTP username for authenticated requests")
	fs.String("password", "", "HTTP password for authenticated requests")
	fs.String("token", "", "OAuth2 bearer token for authenticated requests")
	fs.String("output-svg", "", "Write the heatmap SVG to this path")
	fs.String("output-md", "", "Write the markdown report to this path")
	fs.Bool("md-date", false, "Print today's date in the markdown footer")
	fs.String("theme", render.DefaultTheme, "SVG colour theme (see the themes command)")
	fs.Bool("multi-color", false, "Colour cells by host or project family")
	fs.Int("weeks", DefaultWeeks, "Number of weeks shown in the heatmap (0 shows the whole range)")
	fs.Int("page-size", DefaultPageSize, "Changes requested per page")
	fs.Float64("qps", 0, "Maximum requests per second per host (0 is unlimited)")
	fs.String("fail-policy", DefaultFailPolicy, `"any" succeeds if one host answers, "all" requires every host`)
	fs.Duration("timeout", 0, "Overall timeout for fetching (0 disables)")
	fs.String("metrics-file", "", "Write fetch metrics in Prometheus text format to this path")
	fs.Bool("skip-reviews", false, "Skip fetching code review activity (faster, but omits review stats)")
}

// Load merges, in increasing precedence, defaults, the config file,
// GERRIT_STATS_* environment variables (a .env file in the working directory
// is loaded first) and explicitly set flags.
// A missing config file is not an error unless configPath names it.
func Load(flags *pflag.FlagSet, configPath string) (*Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	v := viper.New()
	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Hosts = splitHosts(cfg.Hosts)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("theme", render.DefaultTheme)
	v.SetDefault("weeks", DefaultWeeks)
	v.SetDefault("page-size", DefaultPageSize)
	v.SetDefault("fail-policy", DefaultFailPolicy)
}

// splitHosts accepts both repeated values and comma-separated lists.
func splitHosts(in []string) []string {
	var out []string
	for _, s := range in {
		for _, tok := range strings.Split(s, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				out = append(out, tok)
			}
		}
	}
	return out
}

// Validate checks values that can be rejected without network access.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Owner) == "" {
		return errors.New("owner is required (use \"self\", an email address or a username)")
	}
	if len(c.Hosts) == 0 {
		return errors.New("at least one host is required")
	}
	if c.After != "" {
		if _, err := domain.ParseDate(c.After); err != nil {
			return err
		}
	}
	if _, err := render.ThemeByName(c.Theme); err != nil {
		return err
	}
	if _, err := usecase.ParseFailurePolicy(c.FailPolicy); err != nil {
		return err
	}
	if c.Weeks < 0 {
		return fmt.Errorf("weeks must not be negative, got %d", c.Weeks)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", c.PageSize)
	}
	if c.QPS < 0 {
		return fmt.Errorf("qps must not be negative, got %v", c.QPS)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %v", c.Timeout)
	}
	return nil
}

// AfterDate returns the parsed --after date, or nil when unset.
func (c *Config) AfterDate() *time.Time {
	if c.After == "" {
		return nil
	}
	t, err := domain.ParseDate(c.After)
	if err != nil {
		return nil
	}
	return &t
}

// Credentials returns the credentials applied to every host, or nil when none are set.
func (c *Config) Credentials() *domain.Credentials {
	if c.Username == "" && c.Password == "" && c.Token == "" {
		return nil
	}
	return &domain.Credentials{Username: c.Username, Password: c.Password, Token: c.Token}
}
