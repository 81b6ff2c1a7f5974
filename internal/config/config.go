// Пакет config — загрузка и валидация конфигурации консоли ALBA
// из переменных окружения с префиксом AC_.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации консоли.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- API фреймворка ---

	// Адрес REST API фреймворка, например https://ovs.example.com/api
	APIURL string
	// Bearer-токен для API (пустой — без авторизации)
	APIToken string
	// Путь к CA-сертификату API (опционально)
	APICACertPath string
	// Таймаут одного запроса к API
	APITimeout time.Duration
	// Начальный интервал опроса задачи
	TaskPollInterval time.Duration
	// Максимальное время ожидания задачи
	TaskMaxWait time.Duration

	// --- Топология ---

	// Обслуживаемые backend-ы (guid)
	BackendGUIDs []string
	// Интервал полного обновления топологии
	RefreshInterval time.Duration
	// Интервал calculate_safety
	SafetyInterval time.Duration
	// Время жизни записи реестра backend-ов
	RegistryTTL time.Duration
	// Интервал heartbeat в потоке событий
	SSEInterval time.Duration

	// --- JWT ---

	JWTJWKSURL          string
	JWTIssuer           string
	JWKSClientTimeout   time.Duration
	JWKSRefreshInterval time.Duration
	JWTLeeway           time.Duration

	// --- Маппинг групп → ролей ---

	RoleManageGroups []string
	RoleReadGroups   []string

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// AC_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("AC_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("AC_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("AC_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("AC_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("AC_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("AC_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("AC_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	if cfg.HTTPReadTimeout, err = getEnvDuration("AC_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("AC_HTTP_READ_TIMEOUT: %w", err)
	}
	// Должен превышать AC_TASK_MAX_WAIT: обработчики операций ждут завершения задачи
	if cfg.HTTPWriteTimeout, err = getEnvDuration("AC_HTTP_WRITE_TIMEOUT", 11*time.Minute); err != nil {
		return nil, fmt.Errorf("AC_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("AC_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("AC_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- API фреймворка ---

	cfg.APIURL, err = getEnvRequired("AC_API_URL")
	if err != nil {
		return nil, err
	}
	if u, parseErr := url.Parse(cfg.APIURL); parseErr != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("AC_API_URL: некорректный адрес %q", cfg.APIURL)
	}
	cfg.APIToken = getEnvDefault("AC_API_TOKEN", "")
	cfg.APICACertPath = getEnvDefault("AC_API_CA_CERT_PATH", "")

	if cfg.APITimeout, err = getEnvPositiveDuration("AC_API_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("AC_API_TIMEOUT: %w", err)
	}
	if cfg.TaskPollInterval, err = getEnvPositiveDuration("AC_TASK_POLL_INTERVAL", time.Second); err != nil {
		return nil, fmt.Errorf("AC_TASK_POLL_INTERVAL: %w", err)
	}
	// AC_TASK_MAX_WAIT — 0 отключает ограничение
	if cfg.TaskMaxWait, err = getEnvDuration("AC_TASK_MAX_WAIT", 10*time.Minute); err != nil {
		return nil, fmt.Errorf("AC_TASK_MAX_WAIT: %w", err)
	}

	// --- Топология ---

	guids, err := getEnvRequired("AC_BACKEND_GUIDS")
	if err != nil {
		return nil, err
	}
	cfg.BackendGUIDs = parseCSV(guids)
	if len(cfg.BackendGUIDs) == 0 {
		return nil, errors.New("AC_BACKEND_GUIDS: не задан ни один backend")
	}

	if cfg.RefreshInterval, err = getEnvPositiveDuration("AC_REFRESH_INTERVAL", 30*time.Second); err != nil {
		return nil, fmt.Errorf("AC_REFRESH_INTERVAL: %w", err)
	}
	if cfg.SafetyInterval, err = getEnvPositiveDuration("AC_SAFETY_INTERVAL", 5*time.Second); err != nil {
		return nil, fmt.Errorf("AC_SAFETY_INTERVAL: %w", err)
	}
	if cfg.RegistryTTL, err = getEnvPositiveDuration("AC_REGISTRY_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("AC_REGISTRY_TTL: %w", err)
	}
	if cfg.SSEInterval, err = getEnvPositiveDuration("AC_SSE_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("AC_SSE_INTERVAL: %w", err)
	}

	// --- JWT ---

	cfg.JWTJWKSURL, err = getEnvRequired("AC_JWT_JWKS_URL")
	if err != nil {
		return nil, err
	}
	cfg.JWTIssuer = getEnvDefault("AC_JWT_ISSUER", "")

	if cfg.JWKSClientTimeout, err = getEnvPositiveDuration("AC_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("AC_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvPositiveDuration("AC_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("AC_JWKS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.JWTLeeway, err = getEnvDuration("AC_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("AC_JWT_LEEWAY: %w", err)
	}

	cfg.RoleManageGroups = parseCSV(getEnvDefault("AC_ROLE_MANAGE_GROUPS", "alba-admins"))
	cfg.RoleReadGroups = parseCSV(getEnvDefault("AC_ROLE_READ_GROUPS", "alba-viewers"))

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("AC_DEPHEALTH_GROUP", "alba-console")
	if cfg.DephealthCheckInterval, err = getEnvPositiveDuration("AC_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("AC_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	if cfg.ShutdownTimeout, err = getEnvDuration("AC_SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("AC_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
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
	if d < 0 {
		return 0, errors.New("значение не может быть отрицательным")
	}
	return d, nil
}

// getEnvPositiveDuration — как getEnvDuration, но значение должно быть > 0.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("значение должно быть > 0")
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
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
