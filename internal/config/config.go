package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"homespark/harvester/internal/domain"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Crawl         CrawlConfig         `mapstructure:"crawl"`
	Browser       BrowserConfig       `mapstructure:"browser"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Schedule      ScheduleConfig      `mapstructure:"schedule"`
	Proxies       []string            `mapstructure:"proxies"`
	Targets       []TargetConfig      `mapstructure:"targets"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// DatabaseConfig holds listing store configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // postgres or mongo
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MongoURI string `mapstructure:"mongo_uri"`
}

// DSN is the libpq connection string for the postgres driver.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name)
}

// RedisConfig holds Redis connection details
type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	Password          string        `mapstructure:"password"`
	Database          int           `mapstructure:"database"`
	ConsumerGroup     string        `mapstructure:"consumer_group"`
	KeyPrefix         string        `mapstructure:"key_prefix"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	BlockTimeout      time.Duration `mapstructure:"block_timeout"`
}

func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CrawlConfig controls the crawl pipeline shared by every target.
type CrawlConfig struct {
	PageLimit         int           `mapstructure:"page_limit"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	EnqueueDelayMin   time.Duration `mapstructure:"enqueue_delay_min"`
	EnqueueDelayMax   time.Duration `mapstructure:"enqueue_delay_max"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	JobTimeout        time.Duration `mapstructure:"job_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	Sequencing        string        `mapstructure:"sequencing"` // staged or concurrent
	StoreRetries      int           `mapstructure:"store_retries"`
	StoreRetryDelay   time.Duration `mapstructure:"store_retry_delay"`
	EvictionGrace     time.Duration `mapstructure:"eviction_grace"`
}

type BrowserConfig struct {
	Driver               string   `mapstructure:"driver"` // playwright or rod
	Mode                 string   `mapstructure:"mode"`   // shared or ephemeral
	Headless             bool     `mapstructure:"headless"`
	Args                 []string `mapstructure:"args"`
	InstallDriver        bool     `mapstructure:"install_driver"`
	NavigationsPerSecond int      `mapstructure:"navigations_per_second"`
	UserAgents           []string `mapstructure:"user_agents"`
	ProxyCheckURL        string   `mapstructure:"proxy_check_url"`
}

type EmbeddingConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Dimensions int           `mapstructure:"dimensions"`
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

type ScheduleConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"`
}

// TargetConfig describes one (site, listing type) crawl target.
type TargetConfig struct {
	Site        string `mapstructure:"site"`
	Type        string `mapstructure:"type"`
	URLTemplate string `mapstructure:"url_template"`
	PageLimit   int    `mapstructure:"page_limit"` // 0 falls back to crawl.page_limit
}

const (
	SequencingStaged     = "staged"
	SequencingConcurrent = "concurrent"
)

// Load loads configuration from YAML file with environment variable overrides.
// An empty path looks for config.yaml in the working directory; a missing file
// there is not an error, defaults and environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// The legacy deployment sets the page limit through PARSER_PAGE_LIMIT.
	_ = v.BindEnv("crawl.page_limit", "CRAWL_PAGE_LIMIT", "PARSER_PAGE_LIMIT")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate rejects configurations that would silently produce no crawl coverage.
func (c *Config) Validate() error {
	if c.Crawl.PageLimit <= 0 {
		return fmt.Errorf("crawl.page_limit must be a positive integer, got %d", c.Crawl.PageLimit)
	}
	if c.Crawl.MaxAttempts <= 0 {
		return fmt.Errorf("crawl.max_attempts must be positive, got %d", c.Crawl.MaxAttempts)
	}
	if c.Crawl.EnqueueDelayMin < 0 || c.Crawl.EnqueueDelayMax < c.Crawl.EnqueueDelayMin {
		return fmt.Errorf("crawl enqueue delay bounds are invalid: [%s, %s]", c.Crawl.EnqueueDelayMin, c.Crawl.EnqueueDelayMax)
	}
	if c.Crawl.PollInterval <= 0 {
		return fmt.Errorf("crawl.poll_interval must be positive")
	}
	if c.Crawl.EvictionGrace < 0 {
		return fmt.Errorf("crawl.eviction_grace must not be negative")
	}
	switch c.Crawl.Sequencing {
	case SequencingStaged, SequencingConcurrent:
	default:
		return fmt.Errorf("unknown crawl.sequencing %q", c.Crawl.Sequencing)
	}
	switch c.Browser.Driver {
	case "playwright", "rod":
	default:
		return fmt.Errorf("unknown browser.driver %q", c.Browser.Driver)
	}
	switch c.Browser.Mode {
	case "shared", "ephemeral":
	default:
		return fmt.Errorf("unknown browser.mode %q", c.Browser.Mode)
	}
	switch c.Database.Driver {
	case "postgres", "mongo":
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("no crawl targets configured")
	}

	seen := make(map[string]bool, len(c.Targets))
	for _, target := range c.CrawlTargets() {
		if err := target.Validate(); err != nil {
			return err
		}
		if seen[target.ID()] {
			return fmt.Errorf("target %s configured twice", target.ID())
		}
		seen[target.ID()] = true
	}
	return nil
}

// CrawlTargets converts the configured targets into domain targets.
func (c *Config) CrawlTargets() []domain.CrawlTarget {
	targets := make([]domain.CrawlTarget, 0, len(c.Targets))
	for _, t := range c.Targets {
		pageLimit := t.PageLimit
		if pageLimit == 0 {
			pageLimit = c.Crawl.PageLimit
		}
		targets = append(targets, domain.CrawlTarget{
			Site:             domain.Site(t.Site),
			ListingType:      domain.ListingType(t.Type),
			IndexURLTemplate: t.URLTemplate,
			PageLimit:        pageLimit,
		})
	}
	return targets
}

// Target looks up a configured target by its "site/type" id.
func (c *Config) Target(id string) (domain.CrawlTarget, bool) {
	for _, target := range c.CrawlTargets() {
		if target.ID() == id {
			return target, true
		}
	}
	return domain.CrawlTarget{}, false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3939)
	v.SetDefault("server.host", "localhost")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "homespark")
	v.SetDefault("database.user", "homespark_user")
	v.SetDefault("database.password", "homespark_pass")
	v.SetDefault("database.mongo_uri", "mongodb://localhost:27017")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.consumer_group", "harvester")
	v.SetDefault("redis.key_prefix", "harvester:")
	v.SetDefault("redis.visibility_timeout", "5m")
	v.SetDefault("redis.block_timeout", "5s")

	v.SetDefault("crawl.page_limit", 50)
	v.SetDefault("crawl.max_attempts", 3)
	v.SetDefault("crawl.backoff_base", "5s")
	v.SetDefault("crawl.enqueue_delay_min", "2s")
	v.SetDefault("crawl.enqueue_delay_max", "5s")
	v.SetDefault("crawl.poll_interval", "2s")
	v.SetDefault("crawl.job_timeout", "2m")
	v.SetDefault("crawl.navigation_timeout", "60s")
	v.SetDefault("crawl.sequencing", SequencingStaged)
	v.SetDefault("crawl.store_retries", 5)
	v.SetDefault("crawl.store_retry_delay", "5s")
	v.SetDefault("crawl.eviction_grace", "0s")

	v.SetDefault("browser.driver", "playwright")
	v.SetDefault("browser.mode", "shared")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.args", []string{"--no-sandbox", "--disable-setuid-sandbox"})
	v.SetDefault("browser.install_driver", false)
	v.SetDefault("browser.navigations_per_second", 1)
	v.SetDefault("browser.proxy_check_url", "https://krisha.kz")

	v.SetDefault("embedding.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("embedding.model", "embedding-001")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.timeout", "30s")
	v.SetDefault("embedding.dimensions", 768)

	v.SetDefault("elasticsearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("elasticsearch.index", "homespark3")

	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.cron", "0 */12 * * *")

	v.SetDefault("targets", []map[string]any{
		{"site": "etagi", "type": "buy", "url_template": "https://almaty.etagi.com/realty/?page={page}"},
		{"site": "etagi", "type": "rent", "url_template": "https://almaty.etagi.com/realty_rent/?page={page}"},
		{"site": "krisha", "type": "buy", "url_template": "https://krisha.kz/prodazha/kvartiry/almaty/?das[_sys.hasphoto]=1&das[who]=1&page={page}"},
		{"site": "krisha", "type": "daily", "url_template": "https://krisha.kz/arenda/kvartiry-posutochno/almaty/?das[_sys.hasphoto]=1&das[who]=1&rent-period-switch=%2Farenda%2Fkvartiry-posutochno&page={page}"},
		{"site": "kn", "type": "rent", "url_template": "https://www.kn.kz/almaty/arenda-kvartir/page/{page}/"},
		{"site": "kn", "type": "daily", "url_template": "https://www.kn.kz/almaty/arenda-kvartir-posutochno/page/{page}/"},
	})
}
