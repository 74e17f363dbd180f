package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/rl1809/inventory-sync/internal/core/domain"
)

const (
	ServiceName = "inventory-sync"

	StoreMemory = "memory"
	StoreMySQL  = "mysql"
	StoreRedis  = "redis"
)

type Config struct {
	Env      string
	LogLevel string
	LogFile  string

	HTTPAddr string
	GRPCAddr string

	// Rabbit is the queue host, the "rabbit" configuration key
	Rabbit         string
	RabbitUser     string
	RabbitPassword string
	Queue          QueueConfig
	Consumer       ConsumerConfig

	StoreBackend string
	MySQLDSN     string
	RedisAddr    string
	Seed         []domain.InventoryItem
}

type QueueConfig struct {
	Name            string
	DeadLetterQueue string
	Durable         bool
	Quorum          bool
	Prefetch        int
}

type ConsumerConfig struct {
	Workers          int
	ApplyAttempts    int
	ApplyTimeout     time.Duration
	MaxDeliveries    int
	ValidateAttempts int
	ValidateBudget   time.Duration
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists. Variables already set take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	var errs []error
	intVar := func(key string, def int) int {
		v, err := getInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	durVar := func(key string, def time.Duration) time.Duration {
		v, err := getDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	boolVar := func(key string, def bool) bool {
		v, err := getBool(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Env:      getEnv("ENV", "dev"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr: getEnv("GRPC_ADDR", ":50051"),

		Rabbit:         getEnv("RABBIT", "localhost"),
		RabbitUser:     getEnv("RABBIT_USER", "guest"),
		RabbitPassword: getEnv("RABBIT_PASSWORD", "guest"),
		Queue: QueueConfig{
			Name:            getEnv("QUEUE_NAME", "stock"),
			DeadLetterQueue: getEnv("DEAD_LETTER_QUEUE", "stock.dlq"),
			Durable:         boolVar("QUEUE_DURABLE", false),
			Quorum:          boolVar("QUEUE_QUORUM", false),
			Prefetch:        intVar("QUEUE_PREFETCH", 10),
		},
		Consumer: ConsumerConfig{
			Workers:          intVar("CONSUMER_WORKERS", 1),
			ApplyAttempts:    intVar("APPLY_ATTEMPTS", 3),
			ApplyTimeout:     durVar("APPLY_TIMEOUT", 5*time.Second),
			MaxDeliveries:    intVar("MAX_DELIVERIES", 5),
			ValidateAttempts: intVar("VALIDATE_ATTEMPTS", 2),
			ValidateBudget:   durVar("VALIDATE_BUDGET", 5*time.Second),
		},

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
		MySQLDSN:     getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/inventorydb?parseTime=true"),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
	}

	seed, err := ParseSeed(getEnv("INVENTORY_SEED", ""))
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Seed = seed

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Rabbit == "" {
		errs = append(errs, errors.New("RABBIT is required"))
	}
	if c.Queue.Name == "" {
		errs = append(errs, errors.New("QUEUE_NAME is required"))
	}
	if c.Queue.DeadLetterQueue == c.Queue.Name {
		errs = append(errs, errors.New("DEAD_LETTER_QUEUE must differ from QUEUE_NAME"))
	}
	if c.Queue.Quorum && !c.Queue.Durable {
		errs = append(errs, errors.New("QUEUE_QUORUM requires QUEUE_DURABLE"))
	}
	if c.Consumer.Workers < 1 {
		errs = append(errs, errors.New("CONSUMER_WORKERS must be at least 1"))
	}
	if c.Consumer.ValidateAttempts < 1 {
		errs = append(errs, errors.New("VALIDATE_ATTEMPTS must be at least 1"))
	}
	switch c.StoreBackend {
	case StoreMemory, StoreMySQL, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q is not one of memory, mysql, redis", c.StoreBackend))
	}
	return errors.Join(errs...)
}

// ParseSeed parses "id:name:stock" entries separated by commas.
func ParseSeed(raw string) ([]domain.InventoryItem, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var items []domain.InventoryItem
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("INVENTORY_SEED entry %q: want id:name:stock", entry)
		}
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("INVENTORY_SEED entry %q: bad id: %w", entry, err)
		}
		stock, err := strconv.Atoi(parts[2])
		if err != nil || stock < 0 {
			return nil, fmt.Errorf("INVENTORY_SEED entry %q: stock must be a non-negative integer", entry)
		}
		items = append(items, domain.InventoryItem{ID: id, Name: parts[1], Stock: stock})
	}
	return items, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
