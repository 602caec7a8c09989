// Package config loads process configuration from a YAML file and
// overlays secrets from the environment.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/audit"
	"github.com/VadimVDM/VisAPI-sub006/backoff"
	"github.com/VadimVDM/VisAPI-sub006/job"
	"github.com/VadimVDM/VisAPI-sub006/order"
	"github.com/VadimVDM/VisAPI-sub006/queue"
	"github.com/VadimVDM/VisAPI-sub006/saga"
)

// Backends selectable for the queue and the records.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
)

// Config is the full process configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Postgres  DBConfig        `mapstructure:"postgres"`
	MySQL     DBConfig        `mapstructure:"mysql"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Saga      SagaConfig      `mapstructure:"saga"`
	LogPrune  LogPruneConfig  `mapstructure:"log_prune"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Audit     AuditConfig     `mapstructure:"audit"`

	Secrets Secrets `mapstructure:"-"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig picks the backend of each storage concern.
type StoreConfig struct {
	Queue   string `mapstructure:"queue"`
	Records string `mapstructure:"records"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LaneConfig bounds one lane.
type LaneConfig struct {
	Concurrency int     `mapstructure:"concurrency"`
	RateLimit   float64 `mapstructure:"rate_limit"`
	RateBurst   int     `mapstructure:"rate_burst"`
}

type QueueConfig struct {
	Lanes             map[string]LaneConfig `mapstructure:"lanes"`
	PollInterval      time.Duration         `mapstructure:"poll_interval"`
	HeartbeatInterval time.Duration         `mapstructure:"heartbeat_interval"`
	StaleJobThreshold time.Duration         `mapstructure:"stale_job_threshold"`
	JobTimeout        time.Duration         `mapstructure:"job_timeout"`
	ShutdownTimeout   time.Duration         `mapstructure:"shutdown_timeout"`
	MaxAttempts       int                   `mapstructure:"max_attempts"`
}

// RetryConfig shapes the exponential backoff between attempts.
type RetryConfig struct {
	Base   time.Duration `mapstructure:"base"`
	Max    time.Duration `mapstructure:"max"`
	Jitter float64       `mapstructure:"jitter"`
}

// NotificationConfig is one required notification and its template.
type NotificationConfig struct {
	Channel     string `mapstructure:"channel"`
	MessageType string `mapstructure:"message_type"`
	Template    string `mapstructure:"template"`
	Subject     string `mapstructure:"subject"`
}

type SagaConfig struct {
	Notifications  []NotificationConfig `mapstructure:"notifications"`
	ResyncInterval time.Duration        `mapstructure:"resync_interval"`
	SyncLockTTL    time.Duration        `mapstructure:"sync_lock_ttl"`
}

type LogPruneConfig struct {
	Schedule string        `mapstructure:"schedule"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

// AuditConfig selects the lifecycle actions written to the audit log.
// An empty list disables auditing.
type AuditConfig struct {
	Actions []string `mapstructure:"actions"`
}

type ProviderConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type WhatsAppConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	PhoneNumberID string `mapstructure:"phone_number_id"`
}

type MailerConfig struct {
	BaseURL string `mapstructure:"base_url"`
	From    string `mapstructure:"from"`
}

type ProvidersConfig struct {
	Timeout  time.Duration  `mapstructure:"timeout"`
	CRM      ProviderConfig `mapstructure:"crm"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	Mailer   MailerConfig   `mapstructure:"mailer"`
	Scraper  ProviderConfig `mapstructure:"scraper"`
}

// Secrets never live in the config file.
type Secrets struct {
	CRMToken             string `env:"VISAPI_CRM_TOKEN"`
	WhatsAppToken        string `env:"VISAPI_WHATSAPP_TOKEN"`
	MailerToken          string `env:"VISAPI_MAILER_TOKEN"`
	ScraperToken         string `env:"VISAPI_SCRAPER_TOKEN"`
	CallbackSecret       string `env:"VISAPI_CALLBACK_SECRET"`
	MailerCallbackSecret string `env:"VISAPI_MAILER_CALLBACK_SECRET"`
	RedisURL             string `env:"VISAPI_REDIS_URL"`
	PostgresDSN          string `env:"VISAPI_POSTGRES_DSN"`
	MySQLDSN             string `env:"VISAPI_MYSQL_DSN"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "visapi")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)

	v.SetDefault("store.queue", BackendRedis)
	v.SetDefault("store.records", BackendPostgres)
	v.SetDefault("redis.url", "redis://localhost:6379/0")

	d := visapi.DefaultConfig()
	v.SetDefault("queue.lanes", map[string]any{
		string(job.LaneCritical): map[string]any{"concurrency": d.Lanes["critical"]},
		string(job.LaneDefault):  map[string]any{"concurrency": d.Lanes["default"]},
		string(job.LaneBulk):     map[string]any{"concurrency": d.Lanes["bulk"]},
	})
	v.SetDefault("queue.poll_interval", d.PollInterval)
	v.SetDefault("queue.heartbeat_interval", d.HeartbeatInterval)
	v.SetDefault("queue.stale_job_threshold", d.StaleJobThreshold)
	v.SetDefault("queue.job_timeout", d.JobTimeout)
	v.SetDefault("queue.shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("queue.max_attempts", 5)

	v.SetDefault("retry.base", time.Second)
	v.SetDefault("retry.max", 5*time.Minute)
	v.SetDefault("retry.jitter", 0.2)

	v.SetDefault("saga.resync_interval", 2*time.Second)
	v.SetDefault("saga.sync_lock_ttl", 2*time.Minute)
	v.SetDefault("saga.notifications", []map[string]any{
		{"channel": string(order.ChannelWhatsApp), "message_type": order.MessageOrderConfirmation, "template": "order_confirmation"},
		{"channel": string(order.ChannelEmail), "message_type": order.MessageOrderConfirmation, "template": "order_confirmation", "subject": "Your visa order"},
	})

	v.SetDefault("log_prune.schedule", "@daily")
	v.SetDefault("log_prune.max_age", 30*24*time.Hour)

	v.SetDefault("providers.timeout", 15*time.Second)

	v.SetDefault("audit.actions", []string{"job.retrying", "job.failed", "job.dead_lettered", "cron.fired"})
}

// Load reads the YAML file at path, applies defaults and overlays
// secrets from the environment. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := env.Parse(&cfg.Secrets); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.overlay()
	return &cfg, nil
}

// overlay lets connection strings from the environment win over the file.
func (c *Config) overlay() {
	if c.Secrets.RedisURL != "" {
		c.Redis.URL = c.Secrets.RedisURL
	}
	if c.Secrets.PostgresDSN != "" {
		c.Postgres.DSN = c.Secrets.PostgresDSN
	}
	if c.Secrets.MySQLDSN != "" {
		c.MySQL.DSN = c.Secrets.MySQLDSN
	}
}

// Validate reports every problem found in c.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Queue {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("store.queue: unknown backend %q", c.Store.Queue))
	}
	switch c.Store.Records {
	case BackendMemory, BackendPostgres, BackendMySQL:
	default:
		errs = append(errs, fmt.Errorf("store.records: unknown backend %q", c.Store.Records))
	}
	if c.Store.Queue == BackendRedis && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url is required"))
	}
	if (c.Store.Queue == BackendPostgres || c.Store.Records == BackendPostgres) && c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn is required"))
	}
	if c.Store.Records == BackendMySQL && c.MySQL.DSN == "" {
		errs = append(errs, errors.New("mysql.dsn is required"))
	}
	if (c.Store.Queue == BackendMemory) != (c.Store.Records == BackendMemory) {
		errs = append(errs, errors.New("store: memory backend must serve both queue and records"))
	}

	if len(c.Queue.Lanes) == 0 {
		errs = append(errs, errors.New("queue.lanes: at least one lane is required"))
	}
	for name, l := range c.Queue.Lanes {
		if _, err := job.ParseLane(name); err != nil {
			errs = append(errs, fmt.Errorf("queue.lanes.%s: %w", name, err))
		}
		if l.Concurrency <= 0 {
			errs = append(errs, fmt.Errorf("queue.lanes.%s.concurrency must be positive", name))
		}
		if l.RateLimit < 0 {
			errs = append(errs, fmt.Errorf("queue.lanes.%s.rate_limit must not be negative", name))
		}
	}
	if c.Queue.MaxAttempts <= 0 {
		errs = append(errs, errors.New("queue.max_attempts must be positive"))
	}
	if c.Retry.Base <= 0 || c.Retry.Max < c.Retry.Base {
		errs = append(errs, errors.New("retry: base must be positive and not exceed max"))
	}

	if len(c.Saga.Notifications) == 0 {
		errs = append(errs, errors.New("saga.notifications: at least one notification is required"))
	}
	for i, n := range c.Saga.Notifications {
		switch order.Channel(n.Channel) {
		case order.ChannelWhatsApp, order.ChannelEmail:
		default:
			errs = append(errs, fmt.Errorf("saga.notifications[%d]: unknown channel %q", i, n.Channel))
		}
		if n.MessageType == "" {
			errs = append(errs, fmt.Errorf("saga.notifications[%d]: message_type is required", i))
		}
	}

	for _, a := range c.Audit.Actions {
		if !slices.Contains(audit.AllActions(), a) {
			errs = append(errs, fmt.Errorf("audit.actions: unknown action %q", a))
		}
	}

	return errors.Join(errs...)
}

// Dispatcher returns the dispatcher settings.
func (c *Config) Dispatcher() visapi.Config {
	lanes := make(map[string]int, len(c.Queue.Lanes))
	for name, l := range c.Queue.Lanes {
		lanes[strings.ToLower(name)] = l.Concurrency
	}
	return visapi.Config{
		Lanes:             lanes,
		PollInterval:      c.Queue.PollInterval,
		ShutdownTimeout:   c.Queue.ShutdownTimeout,
		HeartbeatInterval: c.Queue.HeartbeatInterval,
		StaleJobThreshold: c.Queue.StaleJobThreshold,
		JobTimeout:        c.Queue.JobTimeout,
		MaxAttempts:       c.Queue.MaxAttempts,
	}
}

// LaneLimits returns the lane manager settings.
func (c *Config) LaneLimits() []queue.Config {
	out := make([]queue.Config, 0, len(c.Queue.Lanes))
	for name, l := range c.Queue.Lanes {
		out = append(out, queue.Config{
			Lane:           job.Lane(strings.ToLower(name)),
			MaxConcurrency: l.Concurrency,
			RateLimit:      l.RateLimit,
			RateBurst:      l.RateBurst,
		})
	}
	return out
}

// Backoff returns the retry delay strategy.
func (c *Config) Backoff() backoff.Strategy {
	s := backoff.Strategy(backoff.NewExponential(c.Retry.Base, c.Retry.Max))
	if c.Retry.Jitter > 0 {
		s = backoff.NewJittered(s, c.Retry.Jitter)
	}
	return s
}

// Notifications returns the notifications every order must receive.
func (c *Config) Notifications() []order.Notification {
	out := make([]order.Notification, 0, len(c.Saga.Notifications))
	for _, n := range c.Saga.Notifications {
		out = append(out, order.Notification{Channel: order.Channel(n.Channel), MessageType: n.MessageType})
	}
	return out
}

// SagaOptions returns the orchestrator settings: required notifications
// and their templates.
func (c *Config) SagaOptions() []saga.Option {
	opts := []saga.Option{saga.WithRequiredNotifications(c.Notifications()...)}
	for _, n := range c.Saga.Notifications {
		if n.Template == "" {
			continue
		}
		opts = append(opts, saga.WithTemplate(
			order.Notification{Channel: order.Channel(n.Channel), MessageType: n.MessageType},
			saga.Template{Name: n.Template, Subject: n.Subject},
		))
	}
	return opts
}
