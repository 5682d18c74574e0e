package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration tree. It is filled from viper using
// mapstructure tags, so every key below can come from the config file or from a
// DROID_PILOT_* environment variable.
type Config struct {
	Agent     AgentConfig     `mapstructure:"agent"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Device    DeviceConfig    `mapstructure:"device"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Apps      AppsConfig      `mapstructure:"apps"`
	Server    ServerConfig    `mapstructure:"server"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// AgentConfig holds the control loop tuning knobs.
type AgentConfig struct {
	MaxSteps               int           `mapstructure:"max_steps"`
	CaptureInterval        time.Duration `mapstructure:"capture_interval"`
	LowConfidenceThreshold float64       `mapstructure:"low_confidence_threshold"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	CaptureRetryLimit      int           `mapstructure:"capture_retry_limit"`
	CaptureRetryDelay      time.Duration `mapstructure:"capture_retry_delay"`
	PausePollInterval      time.Duration `mapstructure:"pause_poll_interval"`
	HistorySize            int           `mapstructure:"history_size"`
	WaitDuration           time.Duration `mapstructure:"wait_duration"`
	Annotate               bool          `mapstructure:"annotate"`
}

type ExtractorConfig struct {
	MaxDepth   int `mapstructure:"max_depth"`
	MinSize    int `mapstructure:"min_size"`
	CharBudget int `mapstructure:"char_budget"`
	LabelLimit int `mapstructure:"label_limit"`
}

// DeviceConfig selects and configures the device backend.
type DeviceConfig struct {
	Backend        string        `mapstructure:"backend"`
	Serial         string        `mapstructure:"serial"`
	ADBPath        string        `mapstructure:"adb_path"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	OCRLanguage    string        `mapstructure:"ocr_language"`
}

// LLMConfig describes the decision backend. Provider may be left empty, in
// which case it is derived from the shape of APIKey.
type LLMConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	Provider          string        `mapstructure:"provider"`
	BaseURL           string        `mapstructure:"base_url"`
	Models            []string      `mapstructure:"models"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Temperature       float64       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Debug             bool          `mapstructure:"debug"`
}

// AppsConfig maps spoken app names to package identifiers.
type AppsConfig struct {
	Aliases map[string]string `mapstructure:"aliases"`
}

type ServerConfig struct {
	BindIP string `mapstructure:"bind_ip"`
	Port   int    `mapstructure:"port"`
}

type JournalConfig struct {
	Path string `mapstructure:"path"`
}

type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level"`
	Format      string      `mapstructure:"format"`
	AddSource   bool        `mapstructure:"add_source"`
	ServiceName string      `mapstructure:"service_name"`
	LogFile     string      `mapstructure:"log_file"`
	MaxSize     int         `mapstructure:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups"`
	MaxAge      int         `mapstructure:"max_age"`
	Compress    bool        `mapstructure:"compress"`
	Colors      ColorConfig `mapstructure:"colors"`
}

// ColorConfig defines the color settings for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug"`
	Info   string `mapstructure:"info"`
	Warn   string `mapstructure:"warn"`
	Error  string `mapstructure:"error"`
	DPanic string `mapstructure:"dpanic"`
	Panic  string `mapstructure:"panic"`
	Fatal  string `mapstructure:"fatal"`
}

// DefaultAppAliases covers the consumer apps people most often ask for by name.
var DefaultAppAliases = map[string]string{
	"uber":          "com.ubercab",
	"lyft":          "me.lyft.android",
	"whatsapp":      "com.whatsapp",
	"telegram":      "org.telegram.messenger",
	"messages":      "com.google.android.apps.messaging",
	"maps":          "com.google.android.apps.maps",
	"google maps":   "com.google.android.apps.maps",
	"waze":          "com.waze",
	"doordash":      "com.dd.doordash",
	"uber eats":     "com.ubercab.eats",
	"grubhub":       "com.grubhub.android",
	"chrome":        "com.android.chrome",
	"gmail":         "com.google.android.gm",
	"youtube":       "com.google.android.youtube",
	"spotify":       "com.spotify.music",
	"instagram":     "com.instagram.android",
	"settings":      "com.android.settings",
	"camera":        "com.android.camera",
	"play store":    "com.android.vending",
	"calendar":      "com.google.android.calendar",
	"clock":         "com.google.android.deskclock",
	"phone":         "com.google.android.dialer",
	"contacts":      "com.google.android.contacts",
	"photos":        "com.google.android.apps.photos",
	"amazon":        "com.amazon.mShop.android.shopping",
	"netflix":       "com.netflix.mediaclient",
	"calculator":    "com.google.android.calculator",
	"files":         "com.google.android.apps.nbu.files",
	"google":        "com.google.android.googlequicksearchbox",
	"x":             "com.twitter.android",
	"twitter":       "com.twitter.android",
	"facebook":      "com.facebook.katana",
	"messenger":     "com.facebook.orca",
	"signal":        "org.thoughtcrime.securesms",
	"slack":         "com.Slack",
	"outlook":       "com.microsoft.office.outlook",
	"google pay":    "com.google.android.apps.walletnfcrel",
	"wallet":        "com.google.android.apps.walletnfcrel",
	"booking":       "com.booking",
	"airbnb":        "com.airbnb.android",
	"tiktok":        "com.zhiliaoapp.musically",
	"reddit":        "com.reddit.frontpage",
	"linkedin":      "com.linkedin.android",
	"bolt":          "ee.mtakso.client",
	"grab":          "com.grabtaxi.passenger",
	"deliveroo":     "com.deliveroo.orderapp",
	"just eat":      "com.justeat.app.uk",
	"google photos": "com.google.android.apps.photos",
}

// SetDefaults registers every default with the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("agent.max_steps", 50)
	v.SetDefault("agent.capture_interval", "2s")
	v.SetDefault("agent.low_confidence_threshold", 0.3)
	v.SetDefault("agent.max_consecutive_failures", 3)
	v.SetDefault("agent.capture_retry_limit", 5)
	v.SetDefault("agent.capture_retry_delay", "500ms")
	v.SetDefault("agent.pause_poll_interval", "250ms")
	v.SetDefault("agent.history_size", 6)
	v.SetDefault("agent.wait_duration", "1500ms")
	v.SetDefault("agent.annotate", true)

	v.SetDefault("extractor.max_depth", 12)
	v.SetDefault("extractor.min_size", 5)
	v.SetDefault("extractor.char_budget", 3000)
	v.SetDefault("extractor.label_limit", 30)

	v.SetDefault("device.backend", "adb")
	v.SetDefault("device.serial", "")
	v.SetDefault("device.adb_path", "adb")
	v.SetDefault("device.command_timeout", "15s")
	v.SetDefault("device.ocr_language", "eng")

	// empty defaults make the keys visible to AutomaticEnv during Unmarshal
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.provider", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.models", []string{})
	v.SetDefault("llm.debug", false)
	v.SetDefault("llm.timeout", "2m")
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.requests_per_minute", 30)
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 1024)

	v.SetDefault("apps.aliases", DefaultAppAliases)

	v.SetDefault("server.bind_ip", "127.0.0.1")
	v.SetDefault("server.port", 8080)

	v.SetDefault("journal.path", "~/.droid-pilot/journal.db")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "http://127.0.0.1:4318")
	v.SetDefault("telemetry.insecure", false)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "droid-pilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")
}

// NewDefaultConfig returns a Config populated only from defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	if err != nil {
		// defaults are static and always decode
		panic(fmt.Sprintf("config: decoding defaults: %v", err))
	}
	return cfg
}

// Load decodes the viper state into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Device.Backend = strings.ToLower(strings.TrimSpace(c.Device.Backend))
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)

	aliases := make(map[string]string, len(c.Apps.Aliases))
	for name, pkg := range c.Apps.Aliases {
		aliases[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(pkg)
	}
	c.Apps.Aliases = aliases

	if c.Agent.HistorySize < 5 {
		c.Agent.HistorySize = 5
	}
	if c.Agent.HistorySize > 8 {
		c.Agent.HistorySize = 8
	}
}

// Validate checks invariants the rest of the program relies on. The API key is
// not required here because several commands never talk to a model.
func (c *Config) Validate() error {
	var errs []error
	if c.Agent.MaxSteps < 1 {
		errs = append(errs, errors.New("agent.max_steps must be at least 1"))
	}
	if c.Agent.CaptureInterval < 0 {
		errs = append(errs, errors.New("agent.capture_interval must not be negative"))
	}
	if c.Agent.LowConfidenceThreshold < 0 || c.Agent.LowConfidenceThreshold > 1 {
		errs = append(errs, errors.New("agent.low_confidence_threshold must be within [0,1]"))
	}
	if c.Agent.MaxConsecutiveFailures < 1 {
		errs = append(errs, errors.New("agent.max_consecutive_failures must be at least 1"))
	}
	if c.Agent.CaptureRetryLimit < 0 {
		errs = append(errs, errors.New("agent.capture_retry_limit must not be negative"))
	}
	if c.Agent.PausePollInterval <= 0 {
		errs = append(errs, errors.New("agent.pause_poll_interval must be positive"))
	}
	if c.Extractor.MaxDepth < 1 {
		errs = append(errs, errors.New("extractor.max_depth must be at least 1"))
	}
	if c.Extractor.CharBudget < 1 {
		errs = append(errs, errors.New("extractor.char_budget must be at least 1"))
	}
	switch c.Device.Backend {
	case "adb", "desktop":
	default:
		errs = append(errs, fmt.Errorf("device.backend %q is not one of adb, desktop", c.Device.Backend))
	}
	switch c.LLM.Provider {
	case "", "gemini", "openai", "openrouter", "zai", "deepseek":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	return errors.Join(errs...)
}
