package config

import (
	"fmt"
	"time"
)

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"
const STORAGE_TYPE_SQLITE StorageType = "sqlite"
const STORAGE_TYPE_POSTGRES StorageType = "postgres"

type Config struct {
	HttpPort           int
	CatalogFile        string
	WatchCatalog       bool
	FeatureFlags       []string
	StatsStoreType     StorageType
	RedisConfig        RedisStorageConfig
	SQLConfig          SQLStorageConfig
	CacheTTL           time.Duration
	CacheSweepInterval time.Duration
	CacheShards        int
	RankingTimeout     time.Duration
	ServiceCallTimeout time.Duration
	// ServiceEndpoints maps a button's service name to its base url.
	ServiceEndpoints   map[string]string
	StatsWorkers       int
	StatsQueueSize     int
	SessionIdleTimeout time.Duration
	AnalyticsFile      string
	LogLevel           string
	Development        bool
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
	Password  string
	PoolSize  int
}

type SQLStorageConfig struct {
	DSN string
}

func Default() Config {
	return Config{
		HttpPort:           8080,
		StatsStoreType:     STORAGE_TYPE_INMEM,
		RedisConfig:        RedisStorageConfig{Addrs: []string{"localhost:6379"}, Namespace: "actionrouter", PoolSize: 20},
		CacheTTL:           24 * time.Hour,
		CacheSweepInterval: time.Hour,
		CacheShards:        16,
		RankingTimeout:     3 * time.Second,
		ServiceCallTimeout: 3 * time.Second,
		StatsWorkers:       8,
		StatsQueueSize:     256,
		SessionIdleTimeout: 30 * time.Minute,
		LogLevel:           "info",
	}
}

func (c Config) Validate() error {
	if c.HttpPort <= 0 || c.HttpPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.HttpPort)
	}
	if c.CatalogFile == "" {
		return fmt.Errorf("catalog file is required")
	}
	switch c.StatsStoreType {
	case STORAGE_TYPE_INMEM:
	case STORAGE_TYPE_REDIS:
		if len(c.RedisConfig.Addrs) == 0 {
			return fmt.Errorf("redis stats store needs at least one address")
		}
		if c.RedisConfig.PoolSize < 0 {
			return fmt.Errorf("invalid redis pool size %d", c.RedisConfig.PoolSize)
		}
	case STORAGE_TYPE_SQLITE, STORAGE_TYPE_POSTGRES:
		if c.SQLConfig.DSN == "" {
			return fmt.Errorf("%s stats store needs a dsn", c.StatsStoreType)
		}
	default:
		return fmt.Errorf("unknown stats store %s", c.StatsStoreType)
	}
	if c.CacheTTL <= 0 || c.CacheSweepInterval <= 0 {
		return fmt.Errorf("cache ttl and sweep interval must be positive")
	}
	if c.StatsWorkers <= 0 {
		return fmt.Errorf("stats workers must be positive")
	}
	return nil
}
