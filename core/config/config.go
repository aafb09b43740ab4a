package config

import (
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App      AppConfig
	Tenancy  TenancyConfig
	Paths    PathsConfig
	Database DatabaseConfig
	Whatsapp WhatsappConfig
	Security SecurityConfig
}

type AppConfig struct {
	Version            string
	Port               string
	Debug              bool
	Environment        string
	BasePath           string
	BaseUrl            string
	TrustedProxies     []string
	CorsAllowedOrigins []string
}

// TenancyConfig identifies this server inside the fleet. Name is fixed at
// process startup; only the Server catalog row is mutable at runtime.
type TenancyConfig struct {
	Name        string
	MaxBotCount int
	Description string
	URL         string
}

type PathsConfig struct {
	Storages string
	AuthDir  string
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string // File path for SQLite, DB Name for Postgres
	ValkeyEnabled   bool
	ValkeyAddress   string
	ValkeyPassword  string
	ValkeyDB        int
	ValkeyKeyPrefix string
}

type WhatsappConfig struct {
	LogLevel           string
	MaxCredentialBytes int64
	AccountValidation  bool
	OS                 string
}

type SecurityConfig struct {
	AdminUsername string
	AdminPassword string
	JWTSecret     string
}

// Global provides access to the loaded configuration globally.
var Global *Config

// LoadConfig loads configuration from environment variables or defaults.
func LoadConfig() (*Config, error) {
	storages := getEnv("APP_STORAGES_DIR", "storages")

	appCfg := AppConfig{
		Version:     "v1.4.2",
		Port:        getEnv("APP_PORT", "3000"),
		Debug:       getEnvBool("APP_DEBUG", false),
		Environment: getEnv("APP_ENV", "development"),
		BasePath:    getEnv("APP_BASE_PATH", ""),
		BaseUrl:     getEnv("APP_BASE_URL", "http://localhost:3000"),
	}
	if v := getEnv("APP_TRUSTED_PROXIES", ""); v != "" {
		appCfg.TrustedProxies = strings.Split(v, ",")
	}
	corsOrigins := []string{"http://localhost:3000", "http://localhost:5173"}
	if v := getEnv("APP_CORS_ALLOWED_ORIGINS", ""); v != "" {
		corsOrigins = strings.Split(v, ",")
	}
	appCfg.CorsAllowedOrigins = corsOrigins

	tenancyCfg := TenancyConfig{
		Name:        resolveTenancyName(storages),
		MaxBotCount: getEnvInt("BOTCOUNT", 10),
		Description: getEnv("SERVER_DESCRIPTION", ""),
		URL:         getEnv("SERVER_URL", ""),
	}

	pathsCfg := PathsConfig{
		Storages: storages,
		AuthDir:  getEnv("AUTH_DIR", "auth"),
	}

	dbCfg := DatabaseConfig{
		Driver:          getEnv("DB_DRIVER", "sqlite"),
		Name:            getEnv("DB_NAME", filepath.Join(storages, "fleet.db")),
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", ""),
		ValkeyEnabled:   getEnvBool("VALKEY_ENABLED", false),
		ValkeyAddress:   getEnv("VALKEY_ADDRESS", "localhost:6379"),
		ValkeyPassword:  getEnv("VALKEY_PASSWORD", ""),
		ValkeyDB:        getEnvInt("VALKEY_DB", 0),
		ValkeyKeyPrefix: getEnv("VALKEY_KEY_PREFIX", "wafleet:"),
	}

	waCfg := WhatsappConfig{
		LogLevel:           getEnv("WHATSAPP_LOG_LEVEL", "ERROR"),
		MaxCredentialBytes: getEnvInt64("WHATSAPP_MAX_CREDENTIAL_BYTES", 5*1024*1024),
		AccountValidation:  getEnvBool("WHATSAPP_ACCOUNT_VALIDATION", true),
		OS:                 getEnv("APP_OS", "Linux"),
	}

	secCfg := SecurityConfig{
		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		JWTSecret:     getEnv("JWT_SECRET", ""),
	}

	cfg := &Config{
		App:      appCfg,
		Tenancy:  tenancyCfg,
		Paths:    pathsCfg,
		Database: dbCfg,
		Whatsapp: waCfg,
		Security: secCfg,
	}

	Global = cfg
	return cfg, nil
}

// resolveTenancyName picks the canonical tenancy name for this process.
// Precedence: RUNTIME_SERVER_NAME > SERVER_NAME > SERVER_CONFIG literal >
// persistent server ID derived from the storage directory.
func resolveTenancyName(storages string) string {
	if v := strings.TrimSpace(viper.GetString("RUNTIME_SERVER_NAME")); v != "" {
		return v
	}
	if v := getEnv("RUNTIME_SERVER_NAME", ""); v != "" {
		return v
	}
	if v := getEnv("SERVER_NAME", ""); v != "" {
		return v
	}
	// SERVER_CONFIG is a legacy literal like "Server1|10|Main server".
	if v := getEnv("SERVER_CONFIG", ""); v != "" {
		if name := strings.TrimSpace(strings.Split(v, "|")[0]); name != "" {
			return name
		}
	}
	return ""
}
