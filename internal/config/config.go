// Package config loads the immutable runtime configuration of the service.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
	DriverKafka  = "kafka"
)

// Config is built once at startup and passed by value to every constructor.
type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	ShutdownTimeout time.Duration
	LogLevel        string
	LogFormat       string

	Store  StoreConfig
	Queue  QueueConfig
	Redis  RedisConfig
	Ledger LedgerConfig
	Poll   PollConfig
	Outbox OutboxConfig

	parseErrs []error
}

type StoreConfig struct {
	Driver          string
	MySQLDSN        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Tables          TableNames
	SeedCatalog     bool
}

type TableNames struct {
	Products  string
	Customers string
	Orders    string
	Outbox    string
}

type QueueConfig struct {
	Driver             string
	Brokers            []string
	TLS                bool
	ConsumerGroup      string
	OrderNotifications string
	StockNotifications string
	PoisonSuffix       string
	MaxDeliveryCount   int
	RetryInterval      time.Duration
	Workers            int
}

// PoisonTopic names the quarantine topic for topic.
func (q QueueConfig) PoisonTopic(topic string) string {
	return topic + q.PoisonSuffix
}

type RedisConfig struct {
	Addr           string
	IdempotencyTTL time.Duration
	PoisonListKey  string
}

// Enabled reports whether a Redis endpoint was supplied.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

type LedgerConfig struct {
	MaxAttempts int
}

type PollConfig struct {
	MaxAttempts  int
	Delay        time.Duration
	MaxWait      time.Duration
	WaitOnCreate bool
}

type OutboxConfig struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// loader keeps the default for a value it cannot parse and remembers the failure
// so Validate can report it.
type loader struct {
	errs []error
}

func (l *loader) fail(key, v, kind string) {
	l.errs = append(l.errs, fmt.Errorf("%s: invalid %s %q", key, kind, v))
}

func (l *loader) atoi(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.fail(key, v, "integer")
		return def
	}
	return n
}

func (l *loader) boolean(key string, def bool) bool {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.fail(key, v, "boolean")
		return def
	}
	return b
}

// duration accepts Go duration syntax ("500ms", "2s").
func (l *loader) duration(key string, def time.Duration) time.Duration {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.fail(key, v, "duration")
		return def
	}
	return d
}

func listenv(key string) []string {
	parts := strings.Split(getenv(key, ""), ",")
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			res = append(res, p)
		}
	}
	return res
}

// Load collects configuration from environment with defaults. Values that do not
// parse keep their default and are reported by Validate.
func Load() Config {
	l := &loader{}
	c := Config{
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		GRPCAddr:        getenv("GRPC_ADDR", ":50051"),
		ShutdownTimeout: l.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogFormat:       getenv("LOG_FORMAT", "json"),
		Store: StoreConfig{
			Driver:          getenv("STORE_DRIVER", DriverMySQL),
			MySQLDSN:        getenv("MYSQL_DSN", ""),
			MaxOpenConns:    l.atoi("MYSQL_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    l.atoi("MYSQL_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: l.duration("MYSQL_CONN_MAX_LIFETIME", 5*time.Minute),
			Tables: TableNames{
				Products:  getenv("TABLE_PRODUCTS", "products"),
				Customers: getenv("TABLE_CUSTOMERS", "customers"),
				Orders:    getenv("TABLE_ORDERS", "orders"),
				Outbox:    getenv("TABLE_OUTBOX", "outbox"),
			},
			SeedCatalog: l.boolean("SEED_CATALOG", false),
		},
		Queue: QueueConfig{
			Driver:             getenv("QUEUE_DRIVER", DriverKafka),
			Brokers:            listenv("KAFKA_BROKERS"),
			TLS:                l.boolean("KAFKA_TLS", false),
			ConsumerGroup:      getenv("KAFKA_CONSUMER_GROUP", "order-pipeline"),
			OrderNotifications: getenv("QUEUE_ORDER_NOTIFICATIONS", "order-notifications"),
			StockNotifications: getenv("QUEUE_STOCK_NOTIFICATIONS", "stock-notifications"),
			PoisonSuffix:       getenv("QUEUE_POISON_SUFFIX", "-poison"),
			MaxDeliveryCount:   l.atoi("QUEUE_MAX_DELIVERY_COUNT", 5),
			RetryInterval:      l.duration("QUEUE_RETRY_INTERVAL", 200*time.Millisecond),
			Workers:            l.atoi("QUEUE_WORKERS", 4),
		},
		Redis: RedisConfig{
			Addr:           getenv("REDIS_ADDR", ""),
			IdempotencyTTL: l.duration("IDEMPOTENCY_TTL", 24*time.Hour),
			PoisonListKey:  getenv("REDIS_POISON_LIST", "orders:poison"),
		},
		Ledger: LedgerConfig{
			MaxAttempts: l.atoi("LEDGER_MAX_ATTEMPTS", 3),
		},
		Poll: PollConfig{
			MaxAttempts:  l.atoi("POLL_MAX_ATTEMPTS", 20),
			Delay:        l.duration("POLL_DELAY", 500*time.Millisecond),
			MaxWait:      l.duration("POLL_MAX_WAIT", 10*time.Second),
			WaitOnCreate: l.boolean("POLL_ON_CREATE", true),
		},
		Outbox: OutboxConfig{
			Enabled:   l.boolean("OUTBOX_ENABLED", true),
			Interval:  l.duration("OUTBOX_INTERVAL", 200*time.Millisecond),
			BatchSize: l.atoi("OUTBOX_BATCH_SIZE", 100),
		},
	}
	c.parseErrs = l.errs
	return c
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)
var topicName = regexp.MustCompile(`^[A-Za-z0-9._-]{1,249}$`)

// Validate reports every startup-fatal problem at once.
func (c Config) Validate() error {
	errs := append([]error(nil), c.parseErrs...)

	switch c.Store.Driver {
	case DriverMySQL:
		if c.Store.MySQLDSN == "" {
			errs = append(errs, errors.New("MYSQL_DSN is required for the mysql store driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}
	for _, name := range []string{c.Store.Tables.Products, c.Store.Tables.Customers, c.Store.Tables.Orders, c.Store.Tables.Outbox} {
		if !identifier.MatchString(name) {
			errs = append(errs, fmt.Errorf("invalid table name %q", name))
		}
	}

	switch c.Queue.Driver {
	case DriverKafka:
		if len(c.Queue.Brokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for the kafka queue driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown QUEUE_DRIVER %q", c.Queue.Driver))
	}
	for _, name := range []string{c.Queue.OrderNotifications, c.Queue.StockNotifications} {
		if !topicName.MatchString(name) || !topicName.MatchString(c.Queue.PoisonTopic(name)) {
			errs = append(errs, fmt.Errorf("invalid queue name %q", name))
		}
	}
	if c.Queue.OrderNotifications == c.Queue.StockNotifications {
		errs = append(errs, errors.New("order and stock notification queues must differ"))
	}
	if c.Queue.MaxDeliveryCount < 1 {
		errs = append(errs, errors.New("QUEUE_MAX_DELIVERY_COUNT must be >= 1"))
	}
	if c.Queue.Workers < 1 {
		errs = append(errs, errors.New("QUEUE_WORKERS must be >= 1"))
	}
	if c.Ledger.MaxAttempts < 1 {
		errs = append(errs, errors.New("LEDGER_MAX_ATTEMPTS must be >= 1"))
	}
	if c.Poll.MaxAttempts < 1 || c.Poll.Delay < 0 {
		errs = append(errs, errors.New("POLL_MAX_ATTEMPTS must be >= 1 and POLL_DELAY >= 0"))
	}
	if c.Poll.MaxWait <= 0 || (c.Poll.MaxAttempts > 0 && c.Poll.Delay > c.Poll.MaxWait/time.Duration(c.Poll.MaxAttempts)) {
		errs = append(errs, errors.New("POLL_MAX_WAIT must be positive and cover POLL_MAX_ATTEMPTS x POLL_DELAY"))
	}
	if c.Outbox.Enabled && (c.Outbox.Interval <= 0 || c.Outbox.BatchSize < 1) {
		errs = append(errs, errors.New("OUTBOX_INTERVAL and OUTBOX_BATCH_SIZE must be positive"))
	}

	return errors.Join(errs...)
}
