package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string
	AutoMigrate bool

	StorageBackend    string
	AWSRegion         string
	S3Bucket          string
	S3Endpoint        string
	S3Prefix          string
	PresignTTLSeconds int

	CABackend           string
	ADCSHost            string
	ADCSCAName          string
	ADCSUsername        string
	ADCSPassword        string
	ADCSTemplate        string
	ADCSTimeoutSeconds  int
	LocalCACertFile     string
	LocalCAKeyFile      string
	LocalCAValidityDays int

	RequestPolicyPath string

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool
	RateLimitMaxKeys       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

const (
	StorageMemory = "memory"
	StorageS3     = "s3"

	CALocal = "local"
	CAADCS  = "adcs"
)

func FromEnv() Config {
	return Config{
		HTTPAddr:               envDefault("HTTP_ADDR", ":8080"),
		PostgresDSN:            envDefault("POSTGRES_DSN", os.Getenv("DATABASE_URL")),
		LogLevel:               envDefault("LOG_LEVEL", "info"),
		AutoMigrate:            envBoolDefault("AUTO_MIGRATE", false),
		StorageBackend:         strings.ToLower(envDefault("STORAGE_BACKEND", StorageMemory)),
		AWSRegion:              envDefault("AWS_REGION", "us-east-1"),
		S3Bucket:               os.Getenv("S3_BUCKET_NAME"),
		S3Endpoint:             os.Getenv("S3_ENDPOINT"),
		S3Prefix:               os.Getenv("S3_PREFIX"),
		PresignTTLSeconds:      envIntDefault("PRESIGN_TTL_SECONDS", 3600),
		CABackend:              strings.ToLower(envDefault("CA_BACKEND", CALocal)),
		ADCSHost:               os.Getenv("ADCS_HOST"),
		ADCSCAName:             os.Getenv("ADCS_CA_NAME"),
		ADCSUsername:           os.Getenv("ADCS_USERNAME"),
		ADCSPassword:           os.Getenv("ADCS_PASSWORD"),
		ADCSTemplate:           envDefault("ADCS_TEMPLATE", "WebServer"),
		ADCSTimeoutSeconds:     envIntDefault("ADCS_TIMEOUT_SECONDS", 30),
		LocalCACertFile:        os.Getenv("LOCAL_CA_CERT_FILE"),
		LocalCAKeyFile:         os.Getenv("LOCAL_CA_KEY_FILE"),
		LocalCAValidityDays:    envIntDefault("LOCAL_CA_VALIDITY_DAYS", 365),
		RequestPolicyPath:      os.Getenv("REQUEST_POLICY_PATH"),
		RateLimitRequests:      envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds: envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitFailClosed:    envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
		RateLimitMaxKeys:       envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                envIntDefault("REDIS_DB", 0),
	}
}

// LoadFile reads a flat YAML map of environment variable names to values and
// exports every key that is not already set. Environment always wins.
// A missing file is not an error.
func LoadFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for key, raw := range values {
		key = strings.ToUpper(strings.TrimSpace(key))
		if key == "" || os.Getenv(key) != "" || raw == nil {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(raw)); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) Validate() error {
	switch c.StorageBackend {
	case StorageMemory:
	case StorageS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET_NAME is required for storage backend %q", c.StorageBackend)
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	switch c.CABackend {
	case CALocal:
		if (c.LocalCACertFile == "") != (c.LocalCAKeyFile == "") {
			return fmt.Errorf("LOCAL_CA_CERT_FILE and LOCAL_CA_KEY_FILE must be set together")
		}
	case CAADCS:
		if c.ADCSHost == "" || c.ADCSCAName == "" {
			return fmt.Errorf("ADCS_HOST and ADCS_CA_NAME are required for CA backend %q", c.CABackend)
		}
	default:
		return fmt.Errorf("unknown CA_BACKEND %q", c.CABackend)
	}
	return nil
}

func (c Config) PresignTTL() time.Duration {
	return time.Duration(c.PresignTTLSeconds) * time.Second
}

func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

func (c Config) ADCSTimeout() time.Duration {
	return time.Duration(c.ADCSTimeoutSeconds) * time.Second
}

func (c Config) LocalCAValidity() time.Duration {
	return time.Duration(c.LocalCAValidityDays) * 24 * time.Hour
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}
