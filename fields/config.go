package fields

import (
	"strings"
	"time"
)

// AppConfig is the process configuration. It is read from the `bizpilot` key of config.yaml
// and overlaid with environment variables in cli.
type AppConfig struct {
	Port           string `yaml:"port" json:"port"`
	DatabaseURL    string `yaml:"database_url" json:"database_url"`
	DatabaseDriver string `yaml:"database_driver" json:"database_driver"`
	SQLitePath     string `yaml:"sqlite_path" json:"sqlite_path"`
	SecretKey      string `yaml:"secret_key" json:"-"`
	DataKey        string `yaml:"data_key" json:"-"`
	IsDebug        bool   `yaml:"debug" json:"debug"`

	DBMaxOpenConns       int `yaml:"db_max_open_conns" json:"db_max_open_conns"`
	DBMaxIdleConns       int `yaml:"db_max_idle_conns" json:"db_max_idle_conns"`
	DBConnMaxLifetimeSec int `yaml:"db_conn_max_lifetime_sec" json:"db_conn_max_lifetime_sec"`

	OllamaHost  string `yaml:"ollama_host" json:"ollama_host"`
	OllamaModel string `yaml:"ollama_model" json:"ollama_model"`
	LLMRateMin  int64  `yaml:"llm_rate_per_min" json:"llm_rate_per_min"`

	UploadFolder string `yaml:"upload_folder" json:"upload_folder"`
	MaxCSVRows   int    `yaml:"max_csv_rows" json:"max_csv_rows"`
	MaxUploadMB  int    `yaml:"max_upload_mb" json:"max_upload_mb"`
	MLModelPath  string `yaml:"ml_model_path" json:"ml_model_path"`

	MailServer   string `yaml:"mail_server" json:"mail_server"`
	MailPort     int    `yaml:"mail_port" json:"mail_port"`
	MailUsername string `yaml:"mail_username" json:"mail_username"`
	MailPassword string `yaml:"mail_password" json:"-"`
	SenderEmail  string `yaml:"sender_email" json:"sender_email"`
	SenderName   string `yaml:"sender_name" json:"sender_name"`

	NotionToken   string `yaml:"notion_token" json:"-"`
	NotionBaseURL string `yaml:"notion_base_url" json:"notion_base_url"`

	RedisURL string `yaml:"redis_url" json:"redis_url"`

	AdminKey          string `yaml:"admin_key" json:"-"`
	AdminUser         string `yaml:"admin_user" json:"admin_user"`
	AdminPasswordHash string `yaml:"admin_password_hash" json:"-"`

	Cors CorsConfig `yaml:"cors" json:"cors"`

	LogSamplingTickMs  int `yaml:"log_sampling_tick_ms" json:"log_sampling_tick_ms"`
	LogSamplingAfterMs int `yaml:"log_sampling_after_ms" json:"log_sampling_after_ms"`

	OtelEnabled        bool    `yaml:"otel_enabled" json:"otel_enabled"`
	OtelEndpoint       string  `yaml:"otel_endpoint" json:"otel_endpoint"`
	OtelInsecure       bool    `yaml:"otel_insecure" json:"otel_insecure"`
	OtelSampleRate     float64 `yaml:"otel_sample_rate" json:"otel_sample_rate"`
	OtelServiceName    string  `yaml:"otel_service_name" json:"otel_service_name"`
	OtelServiceVersion string  `yaml:"otel_service_version" json:"otel_service_version"`
}

type CorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
}

const (
	DefaultChatModel = "llama3"
	DefaultCompanyID = 1
)

// Defaults fills every zero value.
func (c *AppConfig) Defaults() {
	if c.Port == "" {
		c.Port = ":5000"
	}
	if !strings.HasPrefix(c.Port, ":") && !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}
	if c.SQLitePath == "" {
		c.SQLitePath = "bizpilot.db"
	}
	if c.SecretKey == "" {
		c.SecretKey = "dev-secret"
	}
	if c.DBMaxOpenConns == 0 {
		// pool of 10 plus 20 overflow
		c.DBMaxOpenConns = 30
	}
	if c.DBMaxIdleConns == 0 {
		c.DBMaxIdleConns = 10
	}
	if c.DBConnMaxLifetimeSec == 0 {
		c.DBConnMaxLifetimeSec = 300
	}
	if c.OllamaHost == "" {
		c.OllamaHost = "http://127.0.0.1:11434"
	}
	if c.OllamaModel == "" {
		c.OllamaModel = "qwen2.5:7b"
	}
	if c.LLMRateMin == 0 {
		c.LLMRateMin = 60
	}
	if c.UploadFolder == "" {
		c.UploadFolder = "public/storage"
	}
	if c.MaxCSVRows == 0 {
		c.MaxCSVRows = 100
	}
	if c.MaxUploadMB == 0 {
		c.MaxUploadMB = 5
	}
	if c.MLModelPath == "" {
		c.MLModelPath = "ml/models/model.json"
	}
	if c.MailPort == 0 {
		c.MailPort = 587
	}
	if c.SenderName == "" {
		c.SenderName = "MVP2 System"
	}
	if c.NotionBaseURL == "" {
		c.NotionBaseURL = "https://api.notion.com/v1"
	}
	if len(c.Cors.AllowedOrigins) == 0 {
		c.Cors.AllowedOrigins = []string{"*"}
	}
	if len(c.Cors.AllowedMethods) == 0 {
		c.Cors.AllowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(c.Cors.AllowedHeaders) == 0 {
		c.Cors.AllowedHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Admin-Key", "X-Request-ID"}
	}
	if c.OtelServiceName == "" {
		c.OtelServiceName = "bizpilot"
	}
}

func (c AppConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.DBConnMaxLifetimeSec) * time.Second
}

// SMTPConfigured reports whether outgoing mail can be delivered.
func (c AppConfig) SMTPConfigured() bool {
	return c.MailServer != "" && c.MailUsername != "" && c.MailPassword != ""
}

func (c AppConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}
