package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mohitkumar/actionrouter/agent"
	"github.com/mohitkumar/actionrouter/config"
	"github.com/mohitkumar/actionrouter/logger"
	"github.com/mohitkumar/actionrouter/ranking"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	d := config.Default()
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("env-file", ".env", "Path to a dotenv file, ignored when missing.")
	cmd.Flags().Int("http-port", d.HttpPort, "http port for rest endpoints")
	cmd.Flags().String("catalog-file", "catalog.yaml", "action catalog (yaml or json)")
	cmd.Flags().Bool("watch-catalog", false, "reload the catalog when the file changes")
	cmd.Flags().StringSlice("feature-flags", nil, "feature flags turned on")
	cmd.Flags().String("stats-store", string(d.StatsStoreType), "stats store: memory, redis, sqlite or postgres")
	cmd.Flags().String("redis-addr", strings.Join(d.RedisConfig.Addrs, ","), "comma separated list of redis host:port")
	cmd.Flags().String("namespace", d.RedisConfig.Namespace, "namespace used in redis keys")
	cmd.Flags().String("redis-password", "", "redis password")
	cmd.Flags().Int("redis-pool-size", d.RedisConfig.PoolSize, "redis connections per node")
	cmd.Flags().String("sql-dsn", "", "dsn for the sqlite or postgres stats store")
	cmd.Flags().Duration("cache-ttl", d.CacheTTL, "registry cache entry ttl")
	cmd.Flags().Duration("cache-sweep-interval", d.CacheSweepInterval, "how often expired registry entries are swept")
	cmd.Flags().Int("cache-shards", d.CacheShards, "registry cache shard count")
	cmd.Flags().Duration("ranking-timeout", d.RankingTimeout, "budget for a personalized ranking, clamped to 2s-5s")
	cmd.Flags().Duration("service-call-timeout", d.ServiceCallTimeout, "timeout for modal service calls, clamped to 2s-5s")
	cmd.Flags().StringToString("service-endpoints", nil, "service=baseUrl pairs for modal service buttons")
	cmd.Flags().Int("stats-workers", d.StatsWorkers, "stats recorder lanes")
	cmd.Flags().Int("stats-queue-size", d.StatsQueueSize, "pending events per stats lane")
	cmd.Flags().Duration("session-idle-timeout", d.SessionIdleTimeout, "idle modal and flow sessions are cancelled after this")
	cmd.Flags().String("analytics-file", "", "write analytics events to this file")
	cmd.Flags().String("log-level", d.LogLevel, "log level")
	cmd.Flags().Bool("development", false, "development logging")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return err
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	viper.SetEnvPrefix("ACTIONROUTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err = viper.ReadInConfig(); err != nil {
			// it's ok if config file doesn't exist
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return err
			}
		}
	}

	c.cfg.Config = config.Default()
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.CatalogFile = viper.GetString("catalog-file")
	c.cfg.WatchCatalog = viper.GetBool("watch-catalog")
	c.cfg.FeatureFlags = viper.GetStringSlice("feature-flags")
	c.cfg.StatsStoreType = config.StorageType(viper.GetString("stats-store"))
	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.RedisConfig.Password = viper.GetString("redis-password")
	c.cfg.RedisConfig.PoolSize = viper.GetInt("redis-pool-size")
	c.cfg.SQLConfig.DSN = viper.GetString("sql-dsn")
	c.cfg.CacheTTL = viper.GetDuration("cache-ttl")
	c.cfg.CacheSweepInterval = viper.GetDuration("cache-sweep-interval")
	c.cfg.CacheShards = viper.GetInt("cache-shards")
	c.cfg.RankingTimeout = ranking.ClampTimeout(viper.GetDuration("ranking-timeout"))
	c.cfg.ServiceCallTimeout = ranking.ClampTimeout(viper.GetDuration("service-call-timeout"))
	c.cfg.ServiceEndpoints = viper.GetStringMapString("service-endpoints")
	c.cfg.StatsWorkers = viper.GetInt("stats-workers")
	c.cfg.StatsQueueSize = viper.GetInt("stats-queue-size")
	c.cfg.SessionIdleTimeout = viper.GetDuration("session-idle-timeout")
	c.cfg.AnalyticsFile = viper.GetString("analytics-file")
	c.cfg.LogLevel = viper.GetString("log-level")
	c.cfg.Development = viper.GetBool("development")

	if err := logger.Init(c.cfg.LogLevel, c.cfg.Development); err != nil {
		return err
	}
	return c.cfg.Validate()
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	defer func() { _ = logger.Sync() }()
	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		logger.Error("error starting action router", zap.Error(err))
		return err
	}
	err = agent.Start()
	if err != nil {
		return err
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-agent.Done():
	}
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "actionrouter",
		Short:   "Ranks, presents and runs contextual actions for mail and ads content",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
