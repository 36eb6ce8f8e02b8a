package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/nurpe/sealed-bids/internal/keystore"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type HTTPConfig struct {
	Host               string
	Port               int
	CORSAllowedOrigins []string
}

type DBConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime string
}

type AuthConfig struct {
	AccessSecret string
}

type SealingConfig struct {
	// Keys maps key id to base64 key material.
	Keys        map[string]string
	ActiveKeyID string
	Workers     int
}

type ReportConfig struct {
	// SigningKeyPEM is optional; signed export is disabled without it.
	SigningKeyPEM string
	SigningKeyID  string
	// FontFile is a TrueType font for PDF reports; the bundled Go fonts are used without it.
	FontFile string
}

type Config struct {
	Environment string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	Sealing     SealingConfig
	Report      ReportConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	keys, err := keystore.ParseKeyList(v.GetString("SEALING_KEYS"))
	if err != nil {
		return nil, fmt.Errorf("SEALING_KEYS: %w", err)
	}

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host:               v.GetString("HTTP_HOST"),
			Port:               v.GetInt("HTTP_PORT"),
			CORSAllowedOrigins: parseList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
		DB: DBConfig{
			Driver:          strings.ToLower(strings.TrimSpace(v.GetString("DB_DRIVER"))),
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetString("DB_CONN_MAX_LIFETIME"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Sealing: SealingConfig{
			Keys:        keys,
			ActiveKeyID: strings.TrimSpace(v.GetString("SEALING_ACTIVE_KEY_ID")),
			Workers:     v.GetInt("OPENING_WORKERS"),
		},
		Report: ReportConfig{
			SigningKeyPEM: v.GetString("REPORT_SIGNING_KEY"),
			SigningKeyID:  v.GetString("REPORT_SIGNING_KEY_ID"),
			FontFile:      strings.TrimSpace(v.GetString("REPORT_FONT_FILE")),
		},
	}

	if path := strings.TrimSpace(v.GetString("REPORT_SIGNING_KEY_FILE")); path != "" && cfg.Report.SigningKeyPEM == "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read REPORT_SIGNING_KEY_FILE: %w", err)
		}
		cfg.Report.SigningKeyPEM = string(data)
	}

	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 7091
	}
	if len(cfg.HTTP.CORSAllowedOrigins) == 0 {
		cfg.HTTP.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.DB.Driver == "" {
		cfg.DB.Driver = DriverPostgres
	}
	if cfg.Sealing.Workers <= 0 {
		cfg.Sealing.Workers = 4
	}
	if cfg.Sealing.ActiveKeyID == "" && len(cfg.Sealing.Keys) == 1 {
		for id := range cfg.Sealing.Keys {
			cfg.Sealing.ActiveKeyID = id
		}
	}
	if cfg.Report.SigningKeyID == "" {
		cfg.Report.SigningKeyID = "report-signing"
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.DB.Driver {
	case DriverPostgres:
		if cfg.DB.DSN == "" {
			return fmt.Errorf("DB_DSN is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q", DriverPostgres, DriverMemory)
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if len(cfg.Sealing.Keys) == 0 {
		return fmt.Errorf("SEALING_KEYS is required")
	}
	if cfg.Sealing.ActiveKeyID == "" {
		return fmt.Errorf("SEALING_ACTIVE_KEY_ID is required when more than one sealing key is configured")
	}
	if _, ok := cfg.Sealing.Keys[cfg.Sealing.ActiveKeyID]; !ok {
		return fmt.Errorf("SEALING_ACTIVE_KEY_ID %q is not among SEALING_KEYS", cfg.Sealing.ActiveKeyID)
	}
	return nil
}

func parseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	items := strings.Split(raw, ",")
	result := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}
