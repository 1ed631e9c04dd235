package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Market    MarketConfig    `mapstructure:"market"`
	Economic  EconomicConfig  `mapstructure:"economic"`
	Calendar  CalendarConfig  `mapstructure:"calendar"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Timezone string `mapstructure:"timezone"`
}

// NATSConfig holds the notification transport settings.
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	AlertChannel   string        `mapstructure:"alert_channel"`
	DevChannel     string        `mapstructure:"dev_channel"`
}

// SchedulerConfig holds the job engine settings.
type SchedulerConfig struct {
	MaxInstances  int           `mapstructure:"max_instances"`
	MisfireGrace  time.Duration `mapstructure:"misfire_grace"`
	DailySetup    string        `mapstructure:"daily_setup"`    // "HH:MM" gatekeeper fire time
	HistoryMaxAge time.Duration `mapstructure:"history_max_age"`
}

// MarketConfig holds the market schedule calculator settings.
type MarketConfig struct {
	SourceTimezone string `mapstructure:"source_timezone"`
	OpenTime       string `mapstructure:"open_time"`
	CloseTime      string `mapstructure:"close_time"`
	HorizonDays    int    `mapstructure:"horizon_days"`
	RefreshDays    int    `mapstructure:"refresh_days"`
}

// EconomicConfig holds the economic event orchestrator settings.
type EconomicConfig struct {
	RefreshTime    string        `mapstructure:"refresh_time"` // "HH:MM" daily refresh
	WarningLead    time.Duration `mapstructure:"warning_lead"`
	PostEventDelay time.Duration `mapstructure:"post_event_delay"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
	Countries      []string      `mapstructure:"countries"`
	MinImportance  int           `mapstructure:"min_importance"`
}

// CalendarConfig holds the calendar data service settings.
type CalendarConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MonitorConfig holds the health monitor settings.
type MonitorConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	MaxCPU    float64       `mapstructure:"max_cpu"`
	MaxMemory float64       `mapstructure:"max_memory"`
}

// StorageConfig holds the persistence settings.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// Load reads config/config.yaml, falling back to defaults for anything
// missing. A missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tickerwatch-scheduler")
	v.SetDefault("app.timezone", "Asia/Jerusalem")

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("nats.alert_channel", "events")
	v.SetDefault("nats.dev_channel", "dev")

	v.SetDefault("scheduler.max_instances", 3)
	v.SetDefault("scheduler.misfire_grace", 180*time.Second)
	v.SetDefault("scheduler.daily_setup", "07:58")
	v.SetDefault("scheduler.history_max_age", 30*24*time.Hour)

	v.SetDefault("market.source_timezone", "America/New_York")
	v.SetDefault("market.open_time", "09:30")
	v.SetDefault("market.close_time", "16:00")
	v.SetDefault("market.horizon_days", 90)
	v.SetDefault("market.refresh_days", 30)

	v.SetDefault("economic.refresh_time", "08:00")
	v.SetDefault("economic.warning_lead", 5*time.Minute)
	v.SetDefault("economic.post_event_delay", 3*time.Second)
	v.SetDefault("economic.poll_interval", time.Second)
	v.SetDefault("economic.max_wait", 60*time.Second)
	v.SetDefault("economic.countries", []string{"united states"})
	v.SetDefault("economic.min_importance", 2)

	v.SetDefault("calendar.base_url", "http://127.0.0.1:8081")
	v.SetDefault("calendar.timeout", 30*time.Second)

	v.SetDefault("monitor.interval", 60*time.Second)
	v.SetDefault("monitor.max_cpu", 85.0)
	v.SetDefault("monitor.max_memory", 90.0)

	v.SetDefault("storage.path", "data/scheduler.db")
}
