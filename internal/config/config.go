package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/postrelay/internal/source"
	"github.com/ppiankov/postrelay/internal/window"
)

const (
	DefaultConfigFile    = "config.yaml"
	DefaultEnvFile       = ".env"
	DefaultStoragePath   = ".postrelay/postrelay.db"
	DefaultRetainDays    = 30
	DefaultTimezone      = "Asia/Tehran"
	DefaultTokenEnv      = "TELEGRAM_BOT_TOKEN"
	DefaultTargetEnv     = "TARGET_CHANNEL"
	DefaultSourceEnv     = "SOURCE_CHANNEL_1"
	DefaultMarker        = "#خبرنامه_افسران"
	DefaultFeedFormat    = "html"
	DefaultFeedBase      = "https://t.me/s/"
	DefaultFetchTimeout  = 30 * time.Second
	DefaultWindowMode    = "fixed"
	DefaultWindowStart   = "22:00"
	DefaultWindowEnd     = "01:00"
	DefaultCutoff        = "03:00"
	DefaultRetryInterval = 5 * time.Minute
	DefaultWorkDir       = "."
	DefaultOnPhotoMiss   = "next"
	DefaultTransform     = "none"
	DefaultResample      = "nearest"
	DefaultCaption       = "♨️ امروز در ایران و جهان چه گذشت؟\nمنتخب مهم‌ترین اخبار ۲۴ ساعت گذشته\n\nبرای دسترسی به شماره‌های قبلی این خبرنامه، هشتگ زیر را لمس کنید:\n#خبرنامه@SumsTweetMD"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Timezone  string          `yaml:"timezone"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Sources   []SourceConfig  `yaml:"sources"`
	Feed      FeedConfig      `yaml:"feed"`
	Window    WindowConfig    `yaml:"window"`
	Media     MediaConfig     `yaml:"media"`
	Transform TransformConfig `yaml:"transform"`
	Publish   PublishConfig   `yaml:"publish"`
	Storage   StorageConfig   `yaml:"storage"`
	Privacy   PrivacyConfig   `yaml:"privacy"`

	// Resolved at load time.
	Location *time.Location `yaml:"-"`
}

type TelegramConfig struct {
	TokenEnv  string `yaml:"token_env"`
	TargetEnv string `yaml:"target_env"`
	APIURL    string `yaml:"api_url"`

	// Resolved from env vars at load time.
	Token  string `yaml:"-"`
	Target string `yaml:"-"`
}

type SourceConfig struct {
	Channel    string `yaml:"channel"`
	ChannelEnv string `yaml:"channel_env"`
	Marker     string `yaml:"marker"`
}

type FeedConfig struct {
	Format    string   `yaml:"format"`
	BaseURL   string   `yaml:"base_url"`
	Timeout   Duration `yaml:"timeout"`
	UserAgent string   `yaml:"user_agent"`
}

type WindowConfig struct {
	Mode          string   `yaml:"mode"`
	Start         string   `yaml:"start"`
	StartDay      string   `yaml:"start_day"`
	End           string   `yaml:"end"`
	Cutoff        string   `yaml:"cutoff"`
	RetryInterval Duration `yaml:"retry_interval"`
}

type MediaConfig struct {
	WorkDir     string `yaml:"work_dir"`
	OnPhotoMiss string `yaml:"on_photo_miss"`
}

type TransformConfig struct {
	Mode     string `yaml:"mode"`
	Overlay  string `yaml:"overlay"`
	Resample string `yaml:"resample"`
	CropTop  int    `yaml:"crop_top"`
}

type PublishConfig struct {
	Caption string `yaml:"caption"`
}

type StorageConfig struct {
	Path       string `yaml:"path"`
	RetainDays int    `yaml:"retain_days"`
}

type PrivacyConfig struct {
	Redact RedactConfig `yaml:"redact"`
}

type RedactConfig struct {
	Patterns []string `yaml:"patterns"`
}

// Load reads .env files and config.yaml from dir, applies defaults, resolves
// env vars, and validates. A missing config.yaml is not an error: the
// defaults describe a single-source relay configured purely from the
// environment.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	if err := loadEnvFiles(dir); err != nil {
		return nil, err
	}

	var cfg Config
	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// loadEnvFiles loads .env from dir and from the working directory. Values
// already present in the process environment win.
func loadEnvFiles(dir string) error {
	for _, p := range []string{filepath.Join(dir, DefaultEnvFile), DefaultEnvFile} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	if cfg.Telegram.TokenEnv == "" {
		cfg.Telegram.TokenEnv = DefaultTokenEnv
	}
	if cfg.Telegram.TargetEnv == "" {
		cfg.Telegram.TargetEnv = DefaultTargetEnv
	}
	if len(cfg.Sources) == 0 {
		cfg.Sources = []SourceConfig{{ChannelEnv: DefaultSourceEnv, Marker: DefaultMarker}}
	}
	if cfg.Feed.Format == "" {
		cfg.Feed.Format = DefaultFeedFormat
	}
	if cfg.Feed.BaseURL == "" && cfg.Feed.Format == DefaultFeedFormat {
		cfg.Feed.BaseURL = DefaultFeedBase
	}
	if cfg.Feed.Timeout.Duration == 0 {
		cfg.Feed.Timeout.Duration = DefaultFetchTimeout
	}
	if cfg.Window.Mode == "" {
		cfg.Window.Mode = DefaultWindowMode
	}
	if cfg.Window.Start == "" {
		cfg.Window.Start = DefaultWindowStart
	}
	if cfg.Window.StartDay == "" {
		cfg.Window.StartDay = string(window.Yesterday)
	}
	if cfg.Window.End == "" {
		cfg.Window.End = DefaultWindowEnd
	}
	if cfg.Window.Cutoff == "" {
		cfg.Window.Cutoff = DefaultCutoff
	}
	if cfg.Window.RetryInterval.Duration == 0 {
		cfg.Window.RetryInterval.Duration = DefaultRetryInterval
	}
	if cfg.Media.WorkDir == "" {
		cfg.Media.WorkDir = DefaultWorkDir
	}
	if cfg.Media.OnPhotoMiss == "" {
		cfg.Media.OnPhotoMiss = DefaultOnPhotoMiss
	}
	if cfg.Transform.Mode == "" {
		cfg.Transform.Mode = DefaultTransform
	}
	if cfg.Transform.Resample == "" {
		cfg.Transform.Resample = DefaultResample
	}
	if cfg.Publish.Caption == "" {
		cfg.Publish.Caption = DefaultCaption
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.RetainDays == 0 {
		cfg.Storage.RetainDays = DefaultRetainDays
	}
}

func resolveEnv(cfg *Config) {
	cfg.Telegram.Token = os.Getenv(cfg.Telegram.TokenEnv)
	cfg.Telegram.Target = os.Getenv(cfg.Telegram.TargetEnv)
	for i := range cfg.Sources {
		if cfg.Sources[i].Channel == "" && cfg.Sources[i].ChannelEnv != "" {
			cfg.Sources[i].Channel = os.Getenv(cfg.Sources[i].ChannelEnv)
		}
	}
}

func validate(cfg *Config) error {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	cfg.Location = loc

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram: bot token is empty (set %s)", cfg.Telegram.TokenEnv)
	}
	if cfg.Telegram.Target == "" {
		return fmt.Errorf("telegram: target channel is empty (set %s)", cfg.Telegram.TargetEnv)
	}

	seen := make(map[string]int, len(cfg.Sources))
	for i, src := range cfg.Sources {
		if strings.TrimSpace(src.Channel) == "" {
			if src.ChannelEnv != "" {
				return fmt.Errorf("sources[%d]: channel is empty (set %s)", i, src.ChannelEnv)
			}
			return fmt.Errorf("sources[%d]: channel or channel_env is required", i)
		}
		if src.Marker == "" {
			return fmt.Errorf("sources[%d]: marker is required", i)
		}
		handle := source.NormalizeHandle(src.Channel)
		if j, dup := seen[handle]; dup {
			return fmt.Errorf("sources[%d]: channel %q already listed as sources[%d]", i, handle, j)
		}
		seen[handle] = i
	}

	switch cfg.Feed.Format {
	case "html":
		if !strings.HasPrefix(cfg.Feed.BaseURL, "http://") && !strings.HasPrefix(cfg.Feed.BaseURL, "https://") {
			return fmt.Errorf("feed.base_url: %q is not an http(s) url", cfg.Feed.BaseURL)
		}
	case "rss":
		if !strings.Contains(cfg.Feed.BaseURL, "{channel}") {
			return errors.New("feed.base_url: rss format needs a url template containing {channel}")
		}
	default:
		return fmt.Errorf("feed.format: unknown format %q (want html or rss)", cfg.Feed.Format)
	}

	policy, err := cfg.WindowPolicy()
	if err != nil {
		return err
	}
	if policy.Mode == window.ModeFixed && policy.StartDay == window.Today && policy.Start.After(policy.End) {
		return fmt.Errorf("window: fixed window starting today at %s ends before it starts (%s); use start_day: yesterday",
			policy.Start, policy.End)
	}
	if cfg.Window.RetryInterval.Duration < 0 {
		return errors.New("window.retry_interval: must be positive")
	}

	switch cfg.Media.OnPhotoMiss {
	case "next", "stop":
	default:
		return fmt.Errorf("media.on_photo_miss: unknown policy %q (want next or stop)", cfg.Media.OnPhotoMiss)
	}

	switch cfg.Transform.Mode {
	case "none":
	case "composite":
		if cfg.Transform.Overlay == "" {
			return errors.New("transform.overlay: required for composite mode")
		}
	case "crop":
		if cfg.Transform.CropTop <= 0 {
			return errors.New("transform.crop_top: must be positive for crop mode")
		}
	default:
		return fmt.Errorf("transform.mode: unknown mode %q (want none, composite, or crop)", cfg.Transform.Mode)
	}

	switch cfg.Transform.Resample {
	case "nearest", "catmull-rom":
	default:
		return fmt.Errorf("transform.resample: unknown filter %q (want nearest or catmull-rom)", cfg.Transform.Resample)
	}

	return nil
}

// WindowPolicy builds the time window policy from the window section.
func (cfg *Config) WindowPolicy() (window.Policy, error) {
	w := cfg.Window
	p := window.Policy{
		Mode:     window.Mode(w.Mode),
		StartDay: window.Day(w.StartDay),
		Location: cfg.Location,
	}

	switch p.Mode {
	case window.ModeFixed, window.ModeRolling:
	default:
		return window.Policy{}, fmt.Errorf("window.mode: unknown mode %q (want fixed or rolling)", w.Mode)
	}
	switch p.StartDay {
	case window.Yesterday, window.Today:
	default:
		return window.Policy{}, fmt.Errorf("window.start_day: unknown day %q (want yesterday or today)", w.StartDay)
	}

	var err error
	if p.Start, err = window.ParseClock(w.Start); err != nil {
		return window.Policy{}, fmt.Errorf("window.start: %w", err)
	}
	if p.End, err = window.ParseClock(w.End); err != nil {
		return window.Policy{}, fmt.Errorf("window.end: %w", err)
	}
	if p.Cutoff, err = window.ParseClock(w.Cutoff); err != nil {
		return window.Policy{}, fmt.Errorf("window.cutoff: %w", err)
	}
	return p, nil
}
