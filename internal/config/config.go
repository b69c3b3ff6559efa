package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"marketsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App         AppConfig         `yaml:"app"`
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	Warehouse   WarehouseConfig   `yaml:"warehouse"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Ads         AdsConfig         `yaml:"ads"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Logging     LoggingConfig     `yaml:"logging"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Exports     ExportConfig      `yaml:"exports"`
	Google      GoogleConfig      `yaml:"google"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type ServerConfig struct {
	Port            int    `yaml:"port"`
	SchedulerHeader string `yaml:"scheduler_header"`
	SchedulerToken  string `yaml:"scheduler_token"`
	AdminHeader     string `yaml:"admin_header"`
	AdminToken      string `yaml:"admin_token"`
	DefaultBrand    string `yaml:"default_brand"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type WarehouseConfig struct {
	Path string `yaml:"path"`
}

type CredentialsConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig drives the dispatcher's delay arithmetic and the queue's
// retry policy for daily jobs.
type SchedulerConfig struct {
	Attempts        int                `yaml:"attempts"`
	BackoffBaseSec  int                `yaml:"backoff_base_sec"`
	BackoffMaxSec   int                `yaml:"backoff_max_sec"`
	StaggerBaseSec  int                `yaml:"stagger_base_sec"`
	StaggerStepSec  int                `yaml:"stagger_step_sec"`
	MutexGroups     []MutexGroupConfig `yaml:"mutex_groups"`
	LockDurationMin int                `yaml:"lock_duration_min"`
	PromoteTickSec  int                `yaml:"promote_tick_sec"`
}

// MutexGroupConfig names a set of brands sharing one upstream partner
// account. MinGap is a scheduling hint, not a hard lock: a sufficiently slow
// job can still overlap the next staggered one.
type MutexGroupConfig struct {
	Name      string `yaml:"name"`
	MinGapMin int    `yaml:"min_gap_min"`
}

func (s SchedulerConfig) Backoff() models.BackoffPolicy {
	return models.BackoffPolicy{
		Base:   time.Duration(s.BackoffBaseSec) * time.Second,
		Factor: 2,
		Max:    time.Duration(s.BackoffMaxSec) * time.Second,
	}
}

func (s SchedulerConfig) StaggerBase() time.Duration {
	return time.Duration(s.StaggerBaseSec) * time.Second
}

func (s SchedulerConfig) StaggerStep() time.Duration {
	return time.Duration(s.StaggerStepSec) * time.Second
}

func (s SchedulerConfig) LockDuration() time.Duration {
	return time.Duration(s.LockDurationMin) * time.Minute
}

func (s SchedulerConfig) PromoteTick() time.Duration {
	return time.Duration(s.PromoteTickSec) * time.Second
}

func (s SchedulerConfig) MinGap(group string) time.Duration {
	for _, g := range s.MutexGroups {
		if g.Name == group {
			return time.Duration(g.MinGapMin) * time.Minute
		}
	}
	return 0
}

type MarketplaceConfig struct {
	BaseURL      string `yaml:"base_url"`
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	PageSize     int    `yaml:"page_size"`
	PageDelayMs  int    `yaml:"page_delay_ms"`
	TimeoutSec   int    `yaml:"timeout_sec"`
	UserAgent    string `yaml:"user_agent"`
}

func (m MarketplaceConfig) PageDelay() time.Duration {
	return time.Duration(m.PageDelayMs) * time.Millisecond
}

func (m MarketplaceConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSec) * time.Second
}

// AdsConfig covers the ads platform endpoints plus the shared, globally
// serialized request budget against its rate-limited report path.
type AdsConfig struct {
	BaseURL          string `yaml:"base_url"`
	GlobalIntervalMs int    `yaml:"global_interval_ms"`
}

func (a AdsConfig) GlobalInterval() time.Duration {
	return time.Duration(a.GlobalIntervalMs) * time.Millisecond
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type GoogleConfig struct {
	CredentialsFile     string `yaml:"credentials_file"`
	ReportSpreadsheetID string `yaml:"report_spreadsheet_id"`
}

func Load(configPath string) (*Config, error) {
	// .env feeds the ${VAR} placeholders in the YAML; missing file is fine.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Server.SchedulerToken == "" {
		return errors.New("server.scheduler_token is required")
	}
	if c.Redis.Address == "" {
		return errors.New("redis.address is required")
	}
	if c.Warehouse.Path == "" {
		return errors.New("warehouse.path is required")
	}
	if c.Credentials.Path == "" {
		return errors.New("credentials.path is required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.SchedulerHeader == "" {
		c.Server.SchedulerHeader = "x-scheduler-token"
	}
	if c.Server.AdminHeader == "" {
		c.Server.AdminHeader = "x-admin-token"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Scheduler.Attempts == 0 {
		c.Scheduler.Attempts = 5
	}
	if c.Scheduler.BackoffBaseSec == 0 {
		c.Scheduler.BackoffBaseSec = 60
	}
	if c.Scheduler.BackoffMaxSec == 0 {
		c.Scheduler.BackoffMaxSec = 3600
	}
	if c.Scheduler.StaggerStepSec == 0 {
		c.Scheduler.StaggerStepSec = 120
	}
	if c.Scheduler.LockDurationMin == 0 {
		// Pipelines run for tens of minutes to hours; the lease must outlive them.
		c.Scheduler.LockDurationMin = 180
	}
	if c.Scheduler.PromoteTickSec == 0 {
		c.Scheduler.PromoteTickSec = 5
	}

	if c.Marketplace.PageSize == 0 {
		c.Marketplace.PageSize = 50
	}
	if c.Marketplace.PageDelayMs == 0 {
		c.Marketplace.PageDelayMs = 500
	}
	if c.Marketplace.TimeoutSec == 0 {
		c.Marketplace.TimeoutSec = 30
	}
	if c.Marketplace.UserAgent == "" {
		c.Marketplace.UserAgent = "marketsync/1.0"
	}
	if c.Ads.GlobalIntervalMs == 0 {
		c.Ads.GlobalIntervalMs = 1000
	}
}

// ValidateBrands rejects duplicate keys, brands without a key, and brands
// naming a mutex group the scheduler does not configure. An unknown group
// would make its gap read as zero, collapsing the delays meant to keep those
// brands apart, so it fails startup instead.
func ValidateBrands(brands []models.Brand, sched SchedulerConfig) error {
	groups := make(map[string]bool, len(sched.MutexGroups))
	for _, g := range sched.MutexGroups {
		groups[g.Name] = true
	}

	seen := make(map[string]bool)
	for _, b := range brands {
		if b.Key == "" {
			return fmt.Errorf("brand '%s' has empty key", b.Name)
		}
		if seen[b.Key] {
			return fmt.Errorf("duplicate brand key: %s", b.Key)
		}
		seen[b.Key] = true
		if b.MutexGroup != "" && !groups[b.MutexGroup] {
			return fmt.Errorf("brand %s references unknown mutex group %q", b.Key, b.MutexGroup)
		}
	}
	return nil
}
