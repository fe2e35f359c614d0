package config

import (
	"os"
	"strconv"
	"time"

	"mrtdreader/pkg/validation"
)

// Server captures process level configuration for the scan service.
type Server struct {
	Addr        string `env:"MRTD_ADDR" validate:"required"`
	Environment string `env:"ENVIRONMENT" validate:"required"`
	LogLevel    string `env:"MRTD_LOG_LEVEL" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`

	// RelayAddr is the host:port of the APDU relay in front of the chip reader.
	RelayAddr       string        `env:"MRTD_RELAY_ADDR" validate:"required,hostname_port"`
	ExchangeTimeout time.Duration `env:"MRTD_EXCHANGE_TIMEOUT" validate:"gt=0"`
	DialTimeout     time.Duration `env:"MRTD_DIAL_TIMEOUT" validate:"gt=0"`

	ImageChunkSize int `env:"MRTD_IMAGE_CHUNK_SIZE" validate:"min=1,max=65536"`
	MaxBlockSize   int `env:"MRTD_MAX_BLOCK_SIZE" validate:"min=1,max=65536"`
	// OPJDecompress is the path to the OpenJPEG CLI used for JPEG2000 portraits.
	OPJDecompress string `env:"MRTD_OPJ_DECOMPRESS"`

	ResultTTL time.Duration `env:"MRTD_RESULT_TTL" validate:"gt=0"`
	// ResultKey seals stored results. Empty leaves the in-memory store unsealed.
	ResultKey string `env:"MRTD_RESULT_KEY" validate:"omitempty,min=16"`
	// APIToken is the bearer token operators present. Empty disables the check.
	APIToken string `env:"MRTD_API_TOKEN" validate:"omitempty,min=16"`

	ShutdownTimeout time.Duration `env:"MRTD_SHUTDOWN_TIMEOUT" validate:"gt=0"`
	Redis           RedisConfig
	Kafka           KafkaConfig
}

// KafkaConfig configures the optional scan event stream. Empty Brokers
// disables it.
type KafkaConfig struct {
	Brokers         string        `env:"KAFKA_BROKERS"`
	Topic           string        `env:"MRTD_EVENTS_TOPIC" validate:"required"`
	Acks            string        `env:"KAFKA_ACKS" validate:"oneof=0 1 all"`
	Retries         int           `env:"KAFKA_RETRIES"`
	DeliveryTimeout time.Duration `env:"KAFKA_DELIVERY_TIMEOUT" validate:"gt=0"`
}

// RedisConfig configures the optional shared result store.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL" validate:"omitempty,url"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" validate:"min=1"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT"`
}

// Defaults.
var (
	ExchangeTimeout = 5 * time.Second
	DialTimeout     = 3 * time.Second
	ImageChunkSize  = 1024
	MaxBlockSize    = 223
	ResultTTL       = 10 * time.Minute
	ShutdownTimeout = 15 * time.Second
)

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:            stringEnv("MRTD_ADDR", ":8080"),
		Environment:     stringEnv("ENVIRONMENT", "development"),
		LogLevel:        stringEnv("MRTD_LOG_LEVEL", "info"),
		RelayAddr:       os.Getenv("MRTD_RELAY_ADDR"),
		ExchangeTimeout: durationEnv("MRTD_EXCHANGE_TIMEOUT", ExchangeTimeout),
		DialTimeout:     durationEnv("MRTD_DIAL_TIMEOUT", DialTimeout),
		ImageChunkSize:  intEnv("MRTD_IMAGE_CHUNK_SIZE", ImageChunkSize),
		MaxBlockSize:    intEnv("MRTD_MAX_BLOCK_SIZE", MaxBlockSize),
		OPJDecompress:   os.Getenv("MRTD_OPJ_DECOMPRESS"),
		ResultTTL:       durationEnv("MRTD_RESULT_TTL", ResultTTL),
		ResultKey:       os.Getenv("MRTD_RESULT_KEY"),
		APIToken:        os.Getenv("MRTD_API_TOKEN"),
		ShutdownTimeout: durationEnv("MRTD_SHUTDOWN_TIMEOUT", ShutdownTimeout),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     intEnv("REDIS_POOL_SIZE", 10),
			MinIdleConns: intEnv("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  durationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  durationEnv("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: durationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:         os.Getenv("KAFKA_BROKERS"),
			Topic:           stringEnv("MRTD_EVENTS_TOPIC", "mrtd.scan-finished"),
			Acks:            stringEnv("KAFKA_ACKS", "all"),
			Retries:         intEnv("KAFKA_RETRIES", 3),
			DeliveryTimeout: durationEnv("KAFKA_DELIVERY_TIMEOUT", 30*time.Second),
		},
	}
}

// Validate reports the first invalid setting by its environment variable.
func (s Server) Validate() error {
	return validation.Validate(s)
}

// IsProduction reports whether ENVIRONMENT is "production".
func (s Server) IsProduction() bool {
	return s.Environment == "production"
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Unparseable or non-positive values fall back to the default.
func intEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func durationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
