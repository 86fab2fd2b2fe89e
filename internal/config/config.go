package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Sink kinds accepted in SINK.
const (
	SinkNATS      = "nats"
	SinkRedis     = "redis"
	SinkMQTT      = "mqtt"
	SinkPostgres  = "postgres"
	SinkMongo     = "mongo"
	SinkWebSocket = "websocket"
	SinkDiscard   = "discard"
)

const (
	DefaultVehicles     = 1000
	DefaultPollInterval = 500 * time.Millisecond

	// Applied by --high-performance when the defaults above are untouched.
	HighPerfVehicles     = 5000
	HighPerfPollInterval = 100 * time.Millisecond
)

var (
	ErrInvalidFeed = errors.New("invalid feed parameters")
	ErrSinkConfig  = errors.New("invalid sink configuration")
)

type Config struct {
	Agency          string
	RouteTag        string
	Vehicles        int
	PollInterval    time.Duration
	HighPerformance bool
	MaxTicks        int
	Seed            int64
	ReportEvery     int

	ChunkSize         int
	EncodeConcurrency int
	SubmitConcurrency int
	EventFormat       string
	EventSource       string

	Sink           string
	MaxBatchEvents int
	MaxBatchBytes  int

	NATSURL           string
	NATSSubjectPrefix string
	NATSCreds         string
	LogNATSSubjects   bool

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisStream    string
	RedisStreamMax int64

	MQTTBroker      string
	MQTTTopicPrefix string
	MQTTClientID    string
	MQTTQoS         int

	DatabaseURL string
	PGTable     string

	MongoURI        string
	MongoDatabase   string
	MongoCollection string

	WSAddr string
	WSPath string

	MetricsAddr string
	LogLevel    string
	LogFormat   string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Agency:            os.Getenv("AGENCY"),
		RouteTag:          getenvDefault("ROUTE", "all-routes"),
		EventFormat:       getenvDefault("EVENT_FORMAT", "json"),
		EventSource:       getenvDefault("EVENT_SOURCE", "vehicle-generator"),
		Sink:              strings.ToLower(getenvDefault("SINK", SinkNATS)),
		NATSURL:           os.Getenv("NATS_URL"),
		NATSSubjectPrefix: getenvDefault("NATS_SUBJECT_PREFIX", "vehicles"),
		NATSCreds:         os.Getenv("NATS_CREDS"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisStream:       getenvDefault("REDIS_STREAM", "vehicle-events"),
		MQTTBroker:        os.Getenv("MQTT_BROKER"),
		MQTTTopicPrefix:   getenvDefault("MQTT_TOPIC_PREFIX", "vehicles"),
		MQTTClientID:      getenvDefault("MQTT_CLIENT_ID", "vehicle-generator"),
		PGTable:           getenvDefault("PG_TABLE", "vehicle_positions"),
		MongoURI:          os.Getenv("MONGO_URI"),
		MongoDatabase:     getenvDefault("MONGO_DATABASE", "fleet"),
		MongoCollection:   getenvDefault("MONGO_COLLECTION", "vehicle_events"),
		WSAddr:            os.Getenv("WS_ADDR"),
		WSPath:            getenvDefault("WS_PATH", "/ws"),
		// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
		MetricsAddr: os.Getenv("METRICS_ADDR"),
		LogLevel:    getenvDefault("LOG_LEVEL", "info"),
		LogFormat:   getenvDefault("LOG_FORMAT", "text"),
	}

	var err error
	ints := []struct {
		key string
		def int
		min int
		dst *int
	}{
		{"VEHICLES", DefaultVehicles, 1, &cfg.Vehicles},
		{"MAX_TICKS", 0, 0, &cfg.MaxTicks},
		{"REPORT_EVERY", 10, 1, &cfg.ReportEvery},
		{"CHUNK_SIZE", 100, 1, &cfg.ChunkSize},
		{"ENCODE_CONCURRENCY", 100, 1, &cfg.EncodeConcurrency},
		{"SUBMIT_CONCURRENCY", 10, 1, &cfg.SubmitConcurrency},
		{"SINK_MAX_BATCH_EVENTS", 500, 0, &cfg.MaxBatchEvents},
		{"SINK_MAX_BATCH_BYTES", 1 << 20, 0, &cfg.MaxBatchBytes},
		{"REDIS_DB", 0, 0, &cfg.RedisDB},
		{"MQTT_QOS", 0, 0, &cfg.MQTTQoS},
	}
	for _, it := range ints {
		if *it.dst, err = getenvInt(it.key, it.def, it.min); err != nil {
			return nil, err
		}
	}
	if cfg.MQTTQoS > 2 {
		return nil, fmt.Errorf("invalid MQTT_QOS: %d", cfg.MQTTQoS)
	}

	if v := os.Getenv("POLL_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid POLL_INTERVAL_MS: %q", v)
		}
		cfg.PollInterval = time.Duration(ms) * time.Millisecond
	} else {
		cfg.PollInterval = DefaultPollInterval
	}

	if v := os.Getenv("REDIS_STREAM_MAXLEN"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid REDIS_STREAM_MAXLEN: %q", v)
		}
		cfg.RedisStreamMax = n
	} else {
		cfg.RedisStreamMax = 100000
	}

	if v := os.Getenv("SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SEED: %q", v)
		}
		cfg.Seed = n
	} else {
		cfg.Seed = time.Now().UnixNano()
	}

	cfg.HighPerformance = parseBool(os.Getenv("HIGH_PERFORMANCE"))
	// Debug logging for NATS publish subjects
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))

	cfg.DatabaseURL = databaseURL()

	return cfg, nil
}

// ApplyHighPerformance raises the fleet size and cadence to the
// high-throughput preset, keeping any value the caller changed explicitly.
func (c *Config) ApplyHighPerformance() {
	if !c.HighPerformance {
		return
	}
	if c.Vehicles == DefaultVehicles {
		c.Vehicles = HighPerfVehicles
	}
	if c.PollInterval == DefaultPollInterval {
		c.PollInterval = HighPerfPollInterval
	}
}

// ExpectedThroughput is the event rate the feed aims for, in events/second.
func (c *Config) ExpectedThroughput() float64 {
	if c.PollInterval <= 0 {
		return 0
	}
	return float64(c.Vehicles) / c.PollInterval.Seconds()
}

// Validate checks everything that must hold before a feed starts.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Agency) == "" {
		return fmt.Errorf("%w: agency is required", ErrInvalidFeed)
	}
	if c.Vehicles <= 0 {
		return fmt.Errorf("%w: number of vehicles must be positive, got %d", ErrInvalidFeed, c.Vehicles)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive, got %s", ErrInvalidFeed, c.PollInterval)
	}
	return c.validateSink()
}

func (c *Config) validateSink() error {
	missing := func(what string) error {
		return fmt.Errorf("%w: %s sink requires %s", ErrSinkConfig, c.Sink, what)
	}
	switch c.Sink {
	case SinkNATS:
		if c.NATSURL == "" {
			return missing("NATS_URL")
		}
		if c.NATSSubjectPrefix == "" {
			return missing("NATS_SUBJECT_PREFIX")
		}
	case SinkRedis:
		if c.RedisAddr == "" {
			return missing("REDIS_ADDR")
		}
		if c.RedisStream == "" {
			return missing("REDIS_STREAM")
		}
	case SinkMQTT:
		if c.MQTTBroker == "" {
			return missing("MQTT_BROKER")
		}
		if c.MQTTTopicPrefix == "" {
			return missing("MQTT_TOPIC_PREFIX")
		}
	case SinkPostgres:
		if c.DatabaseURL == "" {
			return missing("DATABASE_URL, PG_DSN or PGDATABASE")
		}
		if c.PGTable == "" {
			return missing("PG_TABLE")
		}
	case SinkMongo:
		if c.MongoURI == "" {
			return missing("MONGO_URI")
		}
		if c.MongoDatabase == "" || c.MongoCollection == "" {
			return missing("MONGO_DATABASE and MONGO_COLLECTION")
		}
	case SinkWebSocket:
		if c.WSAddr == "" {
			return missing("WS_ADDR")
		}
		if c.WSPath == "" {
			return missing("WS_PATH")
		}
	case SinkDiscard:
	default:
		return fmt.Errorf("%w: unknown sink %q", ErrSinkConfig, c.Sink)
	}
	return nil
}

// databaseURL prefers DATABASE_URL / PG_DSN, else builds a DSN from PG* vars.
// It returns "" when no database is named.
func databaseURL() string {
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		return dsn
	}
	db := os.Getenv("PGDATABASE")
	if db == "" {
		return ""
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def, min int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < min {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
