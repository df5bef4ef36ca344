package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Slack      SlackConfig      `mapstructure:"slack"`
	Database   DatabaseConfig   `mapstructure:"database"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Events     EventsConfig     `mapstructure:"events"`
	Engagement EngagementConfig `mapstructure:"engagement"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	WorkTimeout     time.Duration `mapstructure:"work_timeout"`
}

type SlackConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	SigningSecret  string        `mapstructure:"signing_secret"`
	BotUserID      string        `mapstructure:"bot_user_id"`
	AdminUserIDs   []string      `mapstructure:"admin_user_ids"`
	APIURL         string        `mapstructure:"api_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Debug          bool          `mapstructure:"debug"`

	// Token rotation. When RefreshToken is set the bot token is refreshed
	// through oauth.v2.access before it expires.
	ClientID       string `mapstructure:"client_id"`
	ClientSecret   string `mapstructure:"client_secret"`
	RefreshToken   string `mapstructure:"refresh_token"`
	TokenExpiresAt int64  `mapstructure:"token_expires_at"`
}

type DatabaseConfig struct {
	URL         string `mapstructure:"url"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type OpenAIConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Temperature    float64       `mapstructure:"temperature"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type ClassifierConfig struct {
	// Provider is "openai" or "keyword".
	Provider     string `mapstructure:"provider"`
	MaxGroupSize int    `mapstructure:"max_group_size"`
}

type SchedulerConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
	MinResponses  int           `mapstructure:"min_responses"`
}

type EventsConfig struct {
	DefaultDuration time.Duration `mapstructure:"default_duration"`
}

type EngagementConfig struct {
	MinScore          int `mapstructure:"min_score"`
	MaxChannelMembers int `mapstructure:"max_channel_members"`
	TopicMessages     int `mapstructure:"topic_messages"`
}

const (
	ProviderOpenAI  = "openai"
	ProviderKeyword = "keyword"
)

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		if port, err = strconv.Atoi(u.Port()); err != nil {
			return DatabaseConfig{}, fmt.Errorf("invalid port %q", u.Port())
		}
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		URL:      dbURL,
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.work_timeout", 2*time.Minute)

	v.SetDefault("slack.bot_token", "")
	v.SetDefault("slack.signing_secret", "")
	v.SetDefault("slack.bot_user_id", "")
	v.SetDefault("slack.admin_user_ids", []string{})
	v.SetDefault("slack.api_url", "")
	v.SetDefault("slack.request_timeout", 15*time.Second)
	v.SetDefault("slack.debug", false)
	v.SetDefault("slack.client_id", "")
	v.SetDefault("slack.client_secret", "")
	v.SetDefault("slack.refresh_token", "")
	v.SetDefault("slack.token_expires_at", 0)

	v.SetDefault("database.url", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "circlebot")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 1024)
	v.SetDefault("openai.temperature", 0.3)
	v.SetDefault("openai.request_timeout", 60*time.Second)

	v.SetDefault("classifier.provider", ProviderOpenAI)
	v.SetDefault("classifier.max_group_size", 6)

	v.SetDefault("scheduler.check_interval", 5*time.Minute)
	v.SetDefault("scheduler.startup_delay", 10*time.Second)
	v.SetDefault("scheduler.min_responses", 2)

	v.SetDefault("events.default_duration", 7*24*time.Hour)

	v.SetDefault("engagement.min_score", 10)
	v.SetDefault("engagement.max_channel_members", 8)
	v.SetDefault("engagement.topic_messages", 5)
}

// LoadConfig reads defaults, then the YAML file at path (skipped when path is
// empty), then the environment. A .env file in the working directory is
// loaded into the environment first. Environment keys are the config keys
// upper-cased with dots replaced by underscores, e.g. SLACK_BOT_TOKEN.
func LoadConfig(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	// Enable environment variable support
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if dbURL := config.Database.URL; dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		dbConfig.UseInMemory = config.Database.UseInMemory
		config.Database = dbConfig
	}

	return &config, nil
}

// Validate checks the settings the server cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Slack.SigningSecret == "" {
		errs = append(errs, errors.New("slack.signing_secret is required"))
	}
	if c.Slack.BotToken == "" {
		errs = append(errs, errors.New("slack.bot_token is required"))
	}
	if c.Slack.RefreshToken != "" && (c.Slack.ClientID == "" || c.Slack.ClientSecret == "") {
		errs = append(errs, errors.New("slack.client_id and slack.client_secret are required with slack.refresh_token"))
	}
	switch c.Classifier.Provider {
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("openai.api_key is required for the openai classifier"))
		}
	case ProviderKeyword:
	default:
		errs = append(errs, fmt.Errorf("classifier.provider must be %q or %q, got %q", ProviderOpenAI, ProviderKeyword, c.Classifier.Provider))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Events.DefaultDuration <= 0 {
		errs = append(errs, errors.New("events.default_duration must be positive"))
	}
	return errors.Join(errs...)
}
