// Пакет config — загрузка и валидация конфигурации Issue Tracker
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Issue Tracker.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Объектное хранилище (S3-совместимое) ---

	// Endpoint объектного хранилища (host:port, без схемы)
	S3Endpoint string
	// Access key
	S3AccessKey string
	// Secret key
	S3SecretKey string
	// Имя bucket для вложений
	S3Bucket string
	// Использовать TLS при обращении к хранилищу
	S3UseSSL bool
	// Время жизни pre-signed URL для загрузки вложений
	UploadURLExpiry time.Duration

	// --- Identity Provider (Keycloak) ---

	// URL Keycloak (например, https://keycloak.kryukov.lan)
	KeycloakURL string
	// Имя realm в Keycloak
	KeycloakRealm string
	// Путь к CA-сертификату Keycloak (опционально, для TLS с собственным CA)
	KeycloakCACertPath string

	// --- JWT ---

	// Issuer JWT (авто-вычисляется из KeycloakURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из KeycloakURL, если не задан)
	JWTJWKSURL string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал фонового обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- Мониторинг зависимостей ---

	// Имя группы в topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// IT_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("IT_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("IT_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("IT_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// IT_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("IT_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("IT_LOG_LEVEL: %w", err)
	}

	// IT_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("IT_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("IT_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	// IT_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("IT_DB_HOST")
	if err != nil {
		return nil, err
	}

	// IT_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("IT_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("IT_DB_PORT: %w", err)
	}

	// IT_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("IT_DB_NAME")
	if err != nil {
		return nil, err
	}

	// IT_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("IT_DB_USER")
	if err != nil {
		return nil, err
	}

	// IT_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("IT_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// IT_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("IT_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("IT_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Объектное хранилище ---

	// IT_S3_ENDPOINT — обязательный (host:port)
	cfg.S3Endpoint, err = getEnvRequired("IT_S3_ENDPOINT")
	if err != nil {
		return nil, err
	}
	if strings.Contains(cfg.S3Endpoint, "://") {
		return nil, fmt.Errorf("IT_S3_ENDPOINT: укажите host:port без схемы, схема определяется IT_S3_USE_SSL")
	}

	// IT_S3_ACCESS_KEY — обязательный
	cfg.S3AccessKey, err = getEnvRequired("IT_S3_ACCESS_KEY")
	if err != nil {
		return nil, err
	}

	// IT_S3_SECRET_KEY — обязательный
	cfg.S3SecretKey, err = getEnvRequired("IT_S3_SECRET_KEY")
	if err != nil {
		return nil, err
	}

	// IT_S3_BUCKET — bucket вложений (по умолчанию issue-attachments)
	cfg.S3Bucket = getEnvDefault("IT_S3_BUCKET", "issue-attachments")

	// IT_S3_USE_SSL — TLS к хранилищу (по умолчанию false)
	cfg.S3UseSSL, err = getEnvBool("IT_S3_USE_SSL", false)
	if err != nil {
		return nil, fmt.Errorf("IT_S3_USE_SSL: %w", err)
	}

	// IT_UPLOAD_URL_EXPIRY — время жизни pre-signed URL (по умолчанию 5m)
	cfg.UploadURLExpiry, err = getEnvDuration("IT_UPLOAD_URL_EXPIRY", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("IT_UPLOAD_URL_EXPIRY: %w", err)
	}
	if cfg.UploadURLExpiry < time.Second {
		return nil, fmt.Errorf("IT_UPLOAD_URL_EXPIRY: значение %s меньше минимального 1s", cfg.UploadURLExpiry)
	}

	// --- Keycloak ---

	// IT_KEYCLOAK_URL — обязательный
	cfg.KeycloakURL, err = getEnvRequired("IT_KEYCLOAK_URL")
	if err != nil {
		return nil, err
	}
	// Убираем trailing slash
	cfg.KeycloakURL = strings.TrimRight(cfg.KeycloakURL, "/")

	// IT_KEYCLOAK_REALM — realm (по умолчанию issuetrack)
	cfg.KeycloakRealm = getEnvDefault("IT_KEYCLOAK_REALM", "issuetrack")

	// IT_KEYCLOAK_CA_CERT — путь к CA-сертификату (опционально)
	cfg.KeycloakCACertPath = getEnvDefault("IT_KEYCLOAK_CA_CERT", "")

	// --- JWT ---

	// IT_JWT_ISSUER — авто-вычисляется из KeycloakURL, если не задан
	cfg.JWTIssuer = getEnvDefault("IT_JWT_ISSUER",
		fmt.Sprintf("%s/realms/%s", cfg.KeycloakURL, cfg.KeycloakRealm))

	// IT_JWT_JWKS_URL — авто-вычисляется из KeycloakURL, если не задан
	cfg.JWTJWKSURL = getEnvDefault("IT_JWT_JWKS_URL",
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.KeycloakURL, cfg.KeycloakRealm))

	// IT_JWKS_CLIENT_TIMEOUT — таймаут HTTP-клиента JWKS (по умолчанию 10s)
	cfg.JWKSClientTimeout, err = getEnvDuration("IT_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IT_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// IT_JWKS_REFRESH_INTERVAL — интервал обновления JWKS-ключей (по умолчанию 1h)
	cfg.JWKSRefreshInterval, err = getEnvDuration("IT_JWKS_REFRESH_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("IT_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// IT_JWT_LEEWAY — допуск времени при проверке JWT (по умолчанию 30s)
	cfg.JWTLeeway, err = getEnvDuration("IT_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IT_JWT_LEEWAY: %w", err)
	}

	// --- Мониторинг зависимостей ---

	// IT_DEPHEALTH_GROUP — группа topologymetrics (по умолчанию issuetrack)
	cfg.DephealthGroup = getEnvDefault("IT_DEPHEALTH_GROUP", "issuetrack")

	// IT_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("IT_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IT_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	// IT_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("IT_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IT_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL (для метрик dephealth).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s@%s:%d/%s",
		c.DBUser, c.DBHost, c.DBPort, c.DBName,
	)
}

// S3URL возвращает базовый URL объектного хранилища.
func (c *Config) S3URL() string {
	scheme := "http"
	if c.S3UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, c.S3Endpoint)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("недопустимый уровень логирования %q, допустимые: debug, info, warn, error", level)
	}
}
