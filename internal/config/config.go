package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	RPCURL             string
	DBDSN              string
	HTTPAddr           string
	RedisAddr          string
	CacheTTL           time.Duration
	OtelEndpoint       string
	KafkaBrokers       []string
	KafkaTopicPrefix   string
	KafkaGroupID       string
	ReconcileWorkers   int
	ReconcilePolicy    string
	BlockTimeCacheSize int
	LogLevel           string
	LogFormat          string
	LogFile            string
	LogMaxSizeMB       int
	LogMaxBackups      int
	ShutdownTimeout    time.Duration
	// ColonyNames maps colony names to addresses for the name lookup endpoint.
	ColonyNames map[string]string
}

// KafkaEnabled reports whether the command feed and record events are wired.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func (c Config) CommandsTopic() string {
	return c.KafkaTopicPrefix + "-commands"
}

func (c Config) RecordsTopic() string {
	return c.KafkaTopicPrefix + "-records"
}

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}

func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	rpcURL, ok := source.Lookup("RPC_URL")
	if !ok || strings.TrimSpace(rpcURL) == "" {
		return Config{}, errors.New("RPC_URL is required")
	}

	dbDSN, ok := source.Lookup("DB_DSN")
	if !ok || strings.TrimSpace(dbDSN) == "" {
		dbDSN = "sqlite://ledger.db"
	}

	httpAddr := ":8080"
	if raw, ok := source.Lookup("HTTP_ADDR"); ok && raw != "" {
		httpAddr = raw
	}

	redisAddr, _ := source.Lookup("REDIS_ADDR")
	redisAddr = strings.TrimSpace(redisAddr)

	cacheTTL, err := parseDurationEnv(source, "CACHE_TTL", time.Minute)
	if err != nil {
		return Config{}, err
	}
	shutdownTimeout, err := parseDurationEnv(source, "SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}

	otelEndpoint, _ := source.Lookup("OTEL_EXPORTER_OTLP_ENDPOINT")
	otelEndpoint = strings.TrimSpace(otelEndpoint)

	kafkaBrokers := parseList(source, "KAFKA_BROKERS")
	kafkaTopicPrefix, ok := source.Lookup("KAFKA_TOPIC_PREFIX")
	if !ok || kafkaTopicPrefix == "" {
		kafkaTopicPrefix = "colonyledger"
	}
	kafkaGroupID, ok := source.Lookup("KAFKA_GROUP_ID")
	if !ok || kafkaGroupID == "" {
		kafkaGroupID = "colonyledger-session"
	}

	workers, err := parseUintEnv(source, "RECONCILE_WORKERS", 8)
	if err != nil {
		return Config{}, err
	}
	policy := "fail-fast"
	if raw, ok := source.Lookup("RECONCILE_POLICY"); ok && strings.TrimSpace(raw) != "" {
		policy = strings.ToLower(strings.TrimSpace(raw))
	}
	if policy != "fail-fast" && policy != "collect-all" {
		return Config{}, fmt.Errorf("invalid RECONCILE_POLICY %q: want fail-fast or collect-all", policy)
	}
	blockTimeCacheSize, err := parseUintEnv(source, "BLOCK_TIME_CACHE_SIZE", 4096)
	if err != nil {
		return Config{}, err
	}

	logLevel, _ := source.Lookup("LOG_LEVEL")
	logFormat, ok := source.Lookup("LOG_FORMAT")
	if !ok || logFormat == "" {
		logFormat = "text"
	}
	logFile, _ := source.Lookup("LOG_FILE")
	logMaxSizeMB, err := parseUintEnv(source, "LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return Config{}, err
	}
	logMaxBackups, err := parseUintEnv(source, "LOG_MAX_BACKUPS", 3)
	if err != nil {
		return Config{}, err
	}

	colonyNames, err := parsePairs(source, "COLONY_NAMES")
	if err != nil {
		return Config{}, err
	}

	return Config{
		RPCURL:             rpcURL,
		DBDSN:              dbDSN,
		HTTPAddr:           httpAddr,
		RedisAddr:          redisAddr,
		CacheTTL:           cacheTTL,
		OtelEndpoint:       otelEndpoint,
		KafkaBrokers:       kafkaBrokers,
		KafkaTopicPrefix:   kafkaTopicPrefix,
		KafkaGroupID:       kafkaGroupID,
		ReconcileWorkers:   int(workers),
		ReconcilePolicy:    policy,
		BlockTimeCacheSize: int(blockTimeCacheSize),
		LogLevel:           logLevel,
		LogFormat:          logFormat,
		LogFile:            strings.TrimSpace(logFile),
		LogMaxSizeMB:       int(logMaxSizeMB),
		LogMaxBackups:      int(logMaxBackups),
		ShutdownTimeout:    shutdownTimeout,
		ColonyNames:        colonyNames,
	}, nil
}

func parseUintEnv(source EnvSource, key string, defaultValue uint64) (uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return duration, nil
}

func parseList(source EnvSource, key string) []string {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	var values []string
	for _, item := range strings.Split(raw, ",") {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		values = append(values, value)
	}
	return values
}

// parsePairs reads "name=value,name2=value2".
func parsePairs(source EnvSource, key string) (map[string]string, error) {
	pairs := make(map[string]string)
	for _, item := range parseList(source, key) {
		name, value, ok := strings.Cut(item, "=")
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			return nil, fmt.Errorf("invalid %s entry %q: want name=value", key, item)
		}
		pairs[name] = value
	}
	return pairs, nil
}
