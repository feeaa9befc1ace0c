package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/adonese/bizpilot/fields"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	configPaths  = []string{defaultConfigPath, "./config.yaml", "../config.yaml"}
	secretsPaths = []string{defaultSecretsPath, "./secrets.yaml", "../secrets.yaml"}
)

// loadConfig reads config.yaml (plus sops secrets when present), overlays the environment and
// fills defaults. A missing config file is not an error; the environment alone is enough.
func loadConfig() (fields.AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrusLogger.WithError(err).Warn("could not read .env")
	}
	cfg, err := readConfigFile(firstExistingPath(configPaths...), firstExistingPath(secretsPaths...))
	if err != nil {
		return cfg, err
	}
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return cfg, err
	}
	cfg.Defaults()
	return cfg, nil
}

func readConfigFile(configPath, secretsPath string) (fields.AppConfig, error) {
	var cfg fields.AppConfig
	if configPath == "" {
		return cfg, nil
	}
	configData, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	configMap := map[string]interface{}{}
	if err := yaml.Unmarshal(configData, &configMap); err != nil {
		return cfg, fmt.Errorf("parse config yaml: %w", err)
	}

	secretsMap := map[string]interface{}{}
	if secretsPath != "" {
		decrypted, err := decryptSopsFile(secretsPath)
		if err != nil {
			logrusLogger.WithError(err).Warnf("skipping secrets %s", secretsPath)
		} else if err := yaml.Unmarshal(decrypted, &secretsMap); err != nil {
			return cfg, fmt.Errorf("parse secrets yaml: %w", err)
		} else {
			logrusLogger.Printf("Loaded secrets from %s", secretsPath)
		}
	}

	merged, ok := mergeConfig(configMap, secretsMap).(map[string]interface{})
	if !ok {
		return cfg, errors.New("merged config is not a map")
	}
	section := getMap(merged, "bizpilot")
	if section == nil {
		return cfg, nil
	}
	payload, err := yaml.Marshal(section)
	if err != nil {
		return cfg, fmt.Errorf("encode bizpilot config: %w", err)
	}
	if err := yaml.Unmarshal(payload, &cfg); err != nil {
		return cfg, fmt.Errorf("decode bizpilot config: %w", err)
	}
	logrusLogger.Printf("Loaded config from %s", configPath)
	return cfg, nil
}

// applyEnv overrides cfg with every environment variable that is set.
func applyEnv(cfg *fields.AppConfig, getenv func(string) string) error {
	str := func(dst *string, names ...string) {
		for _, n := range names {
			if v := strings.TrimSpace(getenv(n)); v != "" {
				*dst = v
				return
			}
		}
	}
	var errs []error
	num := func(dst *int, name string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(dst *bool, name string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}

	str(&cfg.DatabaseURL, "SUPABASE_DATABASE_URL", "DATABASE_URL")
	str(&cfg.DatabaseDriver, "DATABASE_DRIVER")
	str(&cfg.SQLitePath, "SQLITE_PATH")
	str(&cfg.Port, "PORT")
	str(&cfg.SecretKey, "SECRET_KEY")
	str(&cfg.DataKey, "DATA_KEY")
	flag(&cfg.IsDebug, "DEBUG")

	str(&cfg.OllamaHost, "OLLAMA_HOST")
	str(&cfg.OllamaModel, "OLLAMA_MODEL")
	if v := getenv("LLM_RATE_PER_MIN"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("LLM_RATE_PER_MIN: %w", err))
		} else {
			cfg.LLMRateMin = n
		}
	}

	str(&cfg.UploadFolder, "UPLOAD_FOLDER")
	num(&cfg.MaxCSVRows, "MAX_CSV_ROWS")
	num(&cfg.MaxUploadMB, "MAX_UPLOAD_MB")
	str(&cfg.MLModelPath, "ML_MODEL_PATH")

	str(&cfg.MailServer, "MAIL_SERVER")
	num(&cfg.MailPort, "MAIL_PORT")
	str(&cfg.MailUsername, "MAIL_USERNAME")
	str(&cfg.MailPassword, "MAIL_PASSWORD")
	str(&cfg.SenderEmail, "SENDER_EMAIL")
	str(&cfg.SenderName, "SENDER_NAME")

	str(&cfg.NotionToken, "NOTION_TOKEN")
	str(&cfg.NotionBaseURL, "NOTION_BASE_URL")
	str(&cfg.RedisURL, "REDIS_URL")

	str(&cfg.AdminKey, "ADMIN_KEY")
	str(&cfg.AdminUser, "ADMIN_USER")
	str(&cfg.AdminPasswordHash, "ADMIN_PASSWORD_HASH")

	num(&cfg.LogSamplingTickMs, "LOG_SAMPLING_TICK_MS")
	num(&cfg.LogSamplingAfterMs, "LOG_SAMPLING_AFTER_MS")

	str(&cfg.OtelEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	str(&cfg.OtelServiceName, "OTEL_SERVICE_NAME")
	flag(&cfg.OtelInsecure, "OTEL_EXPORTER_OTLP_INSECURE")
	return errors.Join(errs...)
}
