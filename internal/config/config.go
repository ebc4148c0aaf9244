package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DoyleJ11/kuhhandel/internal/dedup"
)

type Config struct {
	Room       string
	PlayerID   string
	PlayerName string

	Transport  string // memory | redis | mqtt
	RedisAddr  string
	MQTTBroker string

	Store       string // none | bolt | postgres
	BoltPath    string
	DatabaseURL string

	HTTPAddr string

	DedupCapacity     int
	ReconcileInterval time.Duration
	RequestStateAfter time.Duration
	PresenceTTL       time.Duration

	LogLevel  string
	LogFormat string // dev | json
}

func Defaults() Config {
	return Config{
		Transport:         "memory",
		RedisAddr:         "localhost:6379",
		MQTTBroker:        "tcp://localhost:1883",
		Store:             "none",
		BoltPath:          "kuhhandel.db",
		HTTPAddr:          ":8080",
		DedupCapacity:     dedup.DefaultCapacity,
		ReconcileInterval: 2 * time.Second,
		RequestStateAfter: 1500 * time.Millisecond,
		PresenceTTL:       15 * time.Second,
		LogLevel:          "info",
		LogFormat:         "dev",
	}
}

// Load reads an optional .env file, then KH_* variables over the defaults.
// Variables already set in the environment win over the file.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, usually os.LookupEnv.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	c := Defaults()
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, v))
			return
		}
		*dst = d
	}

	str("KH_ROOM", &c.Room)
	str("KH_PLAYER_ID", &c.PlayerID)
	str("KH_PLAYER_NAME", &c.PlayerName)
	str("KH_TRANSPORT", &c.Transport)
	str("KH_REDIS_ADDR", &c.RedisAddr)
	str("KH_MQTT_BROKER", &c.MQTTBroker)
	str("KH_STORE", &c.Store)
	str("KH_BOLT_PATH", &c.BoltPath)
	str("KH_DATABASE_URL", &c.DatabaseURL)
	str("KH_HTTP_ADDR", &c.HTTPAddr)
	str("KH_LOG_LEVEL", &c.LogLevel)
	str("KH_LOG_FORMAT", &c.LogFormat)
	dur("KH_RECONCILE_INTERVAL", &c.ReconcileInterval)
	dur("KH_REQUEST_STATE_AFTER", &c.RequestStateAfter)
	dur("KH_PRESENCE_TTL", &c.PresenceTTL)

	if v, ok := lookup("KH_DEDUP_CAPACITY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errs = append(errs, fmt.Errorf("KH_DEDUP_CAPACITY: invalid value %q", v))
		} else {
			c.DedupCapacity = n
		}
	}

	switch c.Transport {
	case "memory", "redis", "mqtt":
	default:
		errs = append(errs, fmt.Errorf("KH_TRANSPORT: unknown transport %q", c.Transport))
	}
	switch c.Store {
	case "none", "bolt":
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("KH_DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("KH_STORE: unknown store %q", c.Store))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("KH_LOG_LEVEL: %w", err))
	}
	if c.LogFormat != "dev" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("KH_LOG_FORMAT: unknown format %q", c.LogFormat))
	}
	return c, errors.Join(errs...)
}

// Logger builds the process logger from LogLevel and LogFormat.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewDevelopmentConfig()
	if c.LogFormat == "json" {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
