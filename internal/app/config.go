package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/notify"
)

// envPrefix — префикс переменных окружения: SHOP_HTTP_ADDR и т.д.
const envPrefix = "SHOP"

// StorageDriver выбирает реализацию хранилища.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR"`
	GRPCAddr    string `envconfig:"GRPC_ADDR"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`

	StorageDriver       StorageDriver `envconfig:"STORAGE_DRIVER"`
	PostgresDSN         string        `envconfig:"POSTGRES_DSN"`
	PostgresAutoMigrate bool          `envconfig:"POSTGRES_AUTO_MIGRATE"`

	RedisAddr       string        `envconfig:"REDIS_ADDR"`
	CatalogCacheTTL time.Duration `envconfig:"CATALOG_CACHE_TTL"`

	KafkaBrokers      []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic        string   `envconfig:"KAFKA_TOPIC"`
	KafkaProductTopic string   `envconfig:"KAFKA_PRODUCT_TOPIC"`
	KafkaDLQTopic     string   `envconfig:"KAFKA_DLQ_TOPIC"`

	SMTPAddr     string `envconfig:"SMTP_ADDR"`
	SMTPFrom     string `envconfig:"SMTP_FROM"`
	SMTPUsername string `envconfig:"SMTP_USERNAME"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`

	JWTSecret string        `envconfig:"JWT_SECRET"`
	JWTIssuer string        `envconfig:"JWT_ISSUER"`
	JWTTTL    time.Duration `envconfig:"JWT_TTL"`

	// Администратор создаётся при старте, если заданы все три поля.
	AdminUsername string `envconfig:"ADMIN_USERNAME"`
	AdminEmail    string `envconfig:"ADMIN_EMAIL"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD"`
	BcryptCost    int    `envconfig:"BCRYPT_COST"`

	// DigestInterval — период рассылки о новых товарах; ноль отключает рассылку.
	DigestInterval time.Duration `envconfig:"DIGEST_INTERVAL"`

	// CallTimeout ограничивает каждое обращение к каталогу и хранилищу.
	CallTimeout          time.Duration `envconfig:"CALL_TIMEOUT"`
	NotifyInboxSize      int           `envconfig:"NOTIFY_INBOX_SIZE"`
	NotifyDropPolicy     string        `envconfig:"NOTIFY_DROP_POLICY"`
	NotifyHandlerTimeout time.Duration `envconfig:"NOTIFY_HANDLER_TIMEOUT"`
	OrderDeletePolicy    string        `envconfig:"ORDER_DELETE_POLICY"`

	LogLevel  string `envconfig:"LOG_LEVEL"`
	LogFormat string `envconfig:"LOG_FORMAT"`
}

// DefaultConfig возвращает настройки для локального запуска без внешних сервисов.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:             ":8080",
		GRPCAddr:             ":50051",
		MetricsAddr:          ":9090",
		StorageDriver:        StorageDriverMemory,
		PostgresAutoMigrate:  true,
		CatalogCacheTTL:      30 * time.Second,
		JWTIssuer:            "shop",
		JWTTTL:               time.Hour,
		BcryptCost:           bcrypt.DefaultCost,
		CallTimeout:          2 * time.Second,
		NotifyInboxSize:      64,
		NotifyDropPolicy:     notify.DropOldest.String(),
		NotifyHandlerTimeout: 5 * time.Second,
		OrderDeletePolicy:    string(domain.DeleteHard),
		LogLevel:             "info",
		LogFormat:            "text",
	}
}

// LoadConfig накладывает переменные окружения SHOP_* на DefaultConfig и проверяет результат.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	cfg.KafkaBrokers = normalizeList(cfg.KafkaBrokers)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate возвращает все найденные ошибки конфигурации разом.
func (c Config) Validate() error {
	var errs []error
	requireValue := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s_%s is required", envPrefix, name))
		}
	}
	requirePositive := func(name string, value time.Duration) {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s_%s must be positive", envPrefix, name))
		}
	}

	requireValue("HTTP_ADDR", c.HTTPAddr)
	requireValue("GRPC_ADDR", c.GRPCAddr)
	requireValue("METRICS_ADDR", c.MetricsAddr)
	requireValue("JWT_SECRET", c.JWTSecret)

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		requireValue("POSTGRES_DSN", c.PostgresDSN)
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver: %q", c.StorageDriver))
	}

	requirePositive("CALL_TIMEOUT", c.CallTimeout)
	requirePositive("NOTIFY_HANDLER_TIMEOUT", c.NotifyHandlerTimeout)
	requirePositive("JWT_TTL", c.JWTTTL)
	if c.RedisAddr != "" {
		requirePositive("CATALOG_CACHE_TTL", c.CatalogCacheTTL)
	}
	if c.NotifyInboxSize <= 0 {
		errs = append(errs, fmt.Errorf("%s_NOTIFY_INBOX_SIZE must be positive", envPrefix))
	}
	if c.SMTPAddr != "" {
		requireValue("SMTP_FROM", c.SMTPFrom)
	}
	if c.AdminUsername != "" || c.AdminEmail != "" || c.AdminPassword != "" {
		requireValue("ADMIN_USERNAME", c.AdminUsername)
		requireValue("ADMIN_EMAIL", c.AdminEmail)
		requireValue("ADMIN_PASSWORD", c.AdminPassword)
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("%s_BCRYPT_COST must be between %d and %d", envPrefix, bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.DigestInterval < 0 {
		errs = append(errs, fmt.Errorf("%s_DIGEST_INTERVAL must not be negative", envPrefix))
	}

	if _, err := notify.ParseDropPolicy(c.NotifyDropPolicy); err != nil {
		errs = append(errs, err)
	}
	if _, err := domain.ParseDeletePolicy(c.OrderDeletePolicy); err != nil {
		errs = append(errs, err)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unsupported log format: %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// ConfigureLogger применяет уровень и формат логов из конфигурации.
func ConfigureLogger(logger *log.Logger, cfg Config) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	switch cfg.LogFormat {
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func normalizeList(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
