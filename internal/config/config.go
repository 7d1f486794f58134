package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starCarlos/HotSpot-Hunter/internal/domain"
)

const (
	defaultTimezone    = "Asia/Shanghai"
	configPathEnv      = "HOTSPOT_CONFIG"
	dataDirEnv         = "HOTSPOT_DATA_DIR"
	aiAPIKeyEnv        = "AI_API_KEY"
	aiProviderEnv      = "AI_PROVIDER"
	aiModelEnv         = "AI_MODEL"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv  = "TELEGRAM_CHAT_ID"
	crawlIntervalEnv   = "CRAWL_INTERVAL_HOURS"
	feishuWebhookEnv   = "FEISHU_WEBHOOK_URL"
	dingtalkWebhookEnv = "DINGTALK_WEBHOOK_URL"
	weworkWebhookEnv   = "WEWORK_WEBHOOK_URL"
	genericWebhookEnv  = "GENERIC_WEBHOOK_URL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Storage       StorageConfig      `yaml:"storage"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Crawl         CrawlConfig        `yaml:"crawl"`
	Feeds         []FeedConfig       `yaml:"feeds"`
	Classifier    ClassifierConfig   `yaml:"classifier"`
	Importance    ImportanceConfig   `yaml:"importance"`
	Notifications NotificationConfig `yaml:"notifications"`
	Metrics       MetricsConfig      `yaml:"metrics"`
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// StorageConfig describes the partitioned sqlite layout.
type StorageConfig struct {
	DataDir       string `yaml:"dataDir"`
	RetentionDays int    `yaml:"retentionDays"` // 0 disables retention cleanup
	BusyTimeoutMS int    `yaml:"busyTimeoutMs"`
}

// SchedulerConfig defines when ingestion cycles run.
type SchedulerConfig struct {
	IntervalHours float64        `yaml:"intervalHours"`
	Enabled       bool           `yaml:"enabled"`
	Timezone      string         `yaml:"timezone"`
	location      *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// Interval converts the configured hours into a duration.
func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalHours * float64(time.Hour))
}

// PlatformConfig describes one ranked-item source with its scanner strategy.
type PlatformConfig struct {
	ID      string            `yaml:"id"`
	Name    string            `yaml:"name"`
	Scanner string            `yaml:"scanner"` // "newsnow" (default) or "board"
	Options map[string]string `yaml:"options"`
}

// CrawlConfig groups the fetch-side settings.
type CrawlConfig struct {
	APIBaseURL        string           `yaml:"apiBaseUrl"`
	RequestIntervalMS int              `yaml:"requestIntervalMs"`
	Platforms         []PlatformConfig `yaml:"platforms"`
	FrequencyFile     string           `yaml:"frequencyFile"` // keyword filter rules, optional
}

// FeedConfig describes one subscribed RSS/Atom feed.
type FeedConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// ClassifierConfig defines how to contact the remote classification model.
// Provider is a closed set; unknown values fail at construction time.
type ClassifierConfig struct {
	Provider       string  `yaml:"provider"`
	Model          string  `yaml:"model"`
	APIKey         string  `yaml:"apiKey"`
	BaseURL        string  `yaml:"baseUrl"`
	TimeoutSeconds int     `yaml:"timeoutSeconds"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"maxTokens"`
}

// openAICompatibleURLs maps each supported provider to its chat endpoint.
var openAICompatibleURLs = map[string]string{
	"deepseek":  "https://api.deepseek.com/v1/chat/completions",
	"openai":    "https://api.openai.com/v1/chat/completions",
	"glm":       "https://open.bigmodel.cn/api/paas/v4/chat/completions",
	"zhipu":     "https://open.bigmodel.cn/api/paas/v4/chat/completions",
	"minimax":   "https://api.minimax.io/v1/text/chatcompletion_v2",
	"moonshot":  "https://api.moonshot.cn/v1/chat/completions",
	"dashscope": "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions",
	"tongyi":    "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions",
	"baichuan":  "https://api.baichuan-ai.com/v1/chat/completions",
	"ollama":    "http://localhost:11434/v1/chat/completions",
	"vllm":      "http://localhost:8000/v1/chat/completions",
}

// localProviders run self-hosted and do not require an API key.
var localProviders = map[string]bool{"ollama": true, "vllm": true}

// Validate checks the provider against the closed set and the credential
// requirements. It returns a *domain.ConfigurationError so construction
// fails fast instead of erroring on the first remote call.
func (c ClassifierConfig) Validate() error {
	if c.Provider == "gemini" {
		if c.APIKey == "" {
			return &domain.ConfigurationError{Field: "classifier.apiKey", Reason: "required for gemini"}
		}
		return nil
	}
	if c.BaseURL == "" {
		if _, ok := openAICompatibleURLs[c.Provider]; !ok {
			return &domain.ConfigurationError{Field: "classifier.provider", Reason: "unknown provider " + c.Provider}
		}
	}
	if c.APIKey == "" && !localProviders[c.Provider] {
		return &domain.ConfigurationError{Field: "classifier.apiKey", Reason: "required for provider " + c.Provider}
	}
	return nil
}

// Endpoint resolves the chat completions URL for OpenAI-compatible
// providers. Gemini builds its URL in the client instead.
func (c ClassifierConfig) Endpoint() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return openAICompatibleURLs[c.Provider]
}

// Enabled reports whether the importance pipeline should run at all.
// Without credentials the pipeline is skipped, mirroring a crawl-only setup.
func (c ClassifierConfig) Enabled() bool {
	return c.APIKey != "" || localProviders[c.Provider]
}

// Timeout converts the configured seconds into a duration.
func (c ClassifierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ImportanceConfig bounds the background classification job.
type ImportanceConfig struct {
	MaxPerRun            int `yaml:"maxPerRun"`
	BatchSize            int `yaml:"batchSize"`
	BatchDelaySeconds    int `yaml:"batchDelaySeconds"`
	FallbackDelaySeconds int `yaml:"fallbackDelaySeconds"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Telegram           TelegramConfig `yaml:"telegram"`
	FeishuWebhookURL   string         `yaml:"feishuWebhookUrl"`
	DingTalkWebhookURL string         `yaml:"dingtalkWebhookUrl"`
	WeworkWebhookURL   string         `yaml:"weworkWebhookUrl"`
	GenericWebhookURL  string         `yaml:"genericWebhookUrl"`
}

// TelegramConfig wires all data required to send bot messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// MetricsConfig enables the optional Prometheus listener.
type MetricsConfig struct {
	ListenAddr string `yaml:"listenAddr"` // empty disables the listener
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	if len(cfg.Crawl.Platforms) == 0 {
		cfg.Crawl.Platforms = defaultConfig().Crawl.Platforms
	}

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(dataDirEnv); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv(aiAPIKeyEnv); v != "" {
		c.Classifier.APIKey = v
	}
	if v := os.Getenv(aiProviderEnv); v != "" {
		c.Classifier.Provider = v
	}
	if v := os.Getenv(aiModelEnv); v != "" {
		c.Classifier.Model = v
	}
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
	if v := os.Getenv(feishuWebhookEnv); v != "" {
		c.Notifications.FeishuWebhookURL = v
	}
	if v := os.Getenv(dingtalkWebhookEnv); v != "" {
		c.Notifications.DingTalkWebhookURL = v
	}
	if v := os.Getenv(weworkWebhookEnv); v != "" {
		c.Notifications.WeworkWebhookURL = v
	}
	if v := os.Getenv(genericWebhookEnv); v != "" {
		c.Notifications.GenericWebhookURL = v
	}
	if v := os.Getenv(crawlIntervalEnv); v != "" {
		if hours, err := strconv.ParseFloat(v, 64); err == nil && hours > 0 {
			c.Scheduler.IntervalHours = hours
		}
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	if override.Storage.DataDir != "" {
		base.Storage.DataDir = override.Storage.DataDir
	}
	if override.Storage.RetentionDays != 0 {
		base.Storage.RetentionDays = override.Storage.RetentionDays
	}
	if override.Storage.BusyTimeoutMS != 0 {
		base.Storage.BusyTimeoutMS = override.Storage.BusyTimeoutMS
	}

	if override.Scheduler.IntervalHours != 0 {
		base.Scheduler.IntervalHours = override.Scheduler.IntervalHours
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if override.Crawl.APIBaseURL != "" {
		base.Crawl.APIBaseURL = override.Crawl.APIBaseURL
	}
	if override.Crawl.RequestIntervalMS != 0 {
		base.Crawl.RequestIntervalMS = override.Crawl.RequestIntervalMS
	}
	if len(override.Crawl.Platforms) > 0 {
		base.Crawl.Platforms = override.Crawl.Platforms
	}
	if override.Crawl.FrequencyFile != "" {
		base.Crawl.FrequencyFile = override.Crawl.FrequencyFile
	}

	if len(override.Feeds) > 0 {
		base.Feeds = override.Feeds
	}

	if override.Classifier.Provider != "" {
		base.Classifier.Provider = override.Classifier.Provider
	}
	if override.Classifier.Model != "" {
		base.Classifier.Model = override.Classifier.Model
	}
	if override.Classifier.APIKey != "" {
		base.Classifier.APIKey = override.Classifier.APIKey
	}
	if override.Classifier.BaseURL != "" {
		base.Classifier.BaseURL = override.Classifier.BaseURL
	}
	if override.Classifier.TimeoutSeconds != 0 {
		base.Classifier.TimeoutSeconds = override.Classifier.TimeoutSeconds
	}
	if override.Classifier.Temperature != 0 {
		base.Classifier.Temperature = override.Classifier.Temperature
	}
	if override.Classifier.MaxTokens != 0 {
		base.Classifier.MaxTokens = override.Classifier.MaxTokens
	}

	if override.Importance.MaxPerRun != 0 {
		base.Importance.MaxPerRun = override.Importance.MaxPerRun
	}
	if override.Importance.BatchSize != 0 {
		base.Importance.BatchSize = override.Importance.BatchSize
	}
	if override.Importance.BatchDelaySeconds != 0 {
		base.Importance.BatchDelaySeconds = override.Importance.BatchDelaySeconds
	}
	if override.Importance.FallbackDelaySeconds != 0 {
		base.Importance.FallbackDelaySeconds = override.Importance.FallbackDelaySeconds
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}
	if override.Notifications.FeishuWebhookURL != "" {
		base.Notifications.FeishuWebhookURL = override.Notifications.FeishuWebhookURL
	}
	if override.Notifications.DingTalkWebhookURL != "" {
		base.Notifications.DingTalkWebhookURL = override.Notifications.DingTalkWebhookURL
	}
	if override.Notifications.WeworkWebhookURL != "" {
		base.Notifications.WeworkWebhookURL = override.Notifications.WeworkWebhookURL
	}
	if override.Notifications.GenericWebhookURL != "" {
		base.Notifications.GenericWebhookURL = override.Notifications.GenericWebhookURL
	}

	if override.Metrics.ListenAddr != "" {
		base.Metrics.ListenAddr = override.Metrics.ListenAddr
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Storage: StorageConfig{
			DataDir:       "output",
			RetentionDays: 0,
			BusyTimeoutMS: 10_000,
		},
		Scheduler: SchedulerConfig{
			IntervalHours: 3,
			Enabled:       true,
			Timezone:      defaultTimezone,
			location:      tz,
		},
		Crawl: CrawlConfig{
			APIBaseURL:        "https://newsnow.busiyi.world/api/s",
			RequestIntervalMS: 100,
			Platforms: []PlatformConfig{
				{ID: "weibo", Name: "微博"},
				{ID: "zhihu", Name: "知乎"},
				{ID: "baidu", Name: "百度"},
				{ID: "toutiao", Name: "今日头条"},
				{ID: "bilibili", Name: "B站"},
				{ID: "douyin", Name: "抖音"},
				{ID: "36kr", Name: "36氪"},
				{ID: "ithome", Name: "IT之家"},
				{ID: "thepaper", Name: "澎湃新闻"},
				{ID: "cls", Name: "财联社"},
			},
		},
		Classifier: ClassifierConfig{
			Provider:       "deepseek",
			Model:          "deepseek-chat",
			TimeoutSeconds: 30,
			Temperature:    0.7,
			MaxTokens:      500,
		},
		Importance: ImportanceConfig{
			MaxPerRun:            100,
			BatchSize:            20,
			BatchDelaySeconds:    2,
			FallbackDelaySeconds: 1,
		},
	}
}
