package container

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mohitkumar/actionrouter/action"
	"github.com/mohitkumar/actionrouter/analytics"
	"github.com/mohitkumar/actionrouter/cache"
	"github.com/mohitkumar/actionrouter/compound"
	"github.com/mohitkumar/actionrouter/config"
	"github.com/mohitkumar/actionrouter/logger"
	"github.com/mohitkumar/actionrouter/metrics"
	"github.com/mohitkumar/actionrouter/modal"
	"github.com/mohitkumar/actionrouter/partition"
	"github.com/mohitkumar/actionrouter/persistence"
	"github.com/mohitkumar/actionrouter/persistence/memory"
	rd "github.com/mohitkumar/actionrouter/persistence/redis"
	sqlstore "github.com/mohitkumar/actionrouter/persistence/sql"
	"github.com/mohitkumar/actionrouter/ranking"
	"github.com/mohitkumar/actionrouter/schema"
	"github.com/mohitkumar/actionrouter/session"
	"github.com/mohitkumar/actionrouter/stats"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type DIContiner struct {
	initialized bool
	conf        config.Config
	registerer  prometheus.Registerer

	catalog        *action.Catalog
	flags          *action.StaticFlags
	validator      *action.Validator
	ring           *partition.Ring
	registryCache  *cache.RegistryCache
	statsStore     persistence.StatsStore
	metrics        *metrics.Metrics
	interpreter    *schema.Interpreter
	modalRegistry  *modal.Registry
	resolver       *modal.Resolver
	orchestrator   *compound.Orchestrator
	rankingService *ranking.Service
	recorder       *stats.Recorder
	sessions       *session.Registry
	collector      analytics.Collector
}

func NewDiContainer(conf config.Config, registerer prometheus.Registerer) *DIContiner {
	return &DIContiner{
		conf:       conf,
		registerer: registerer,
	}
}

// Init wires every component. snapshot is the catalog loaded at startup.
func (d *DIContiner) Init(snapshot *action.Snapshot, invoker modal.ServiceInvoker) error {
	conf := d.conf
	d.metrics = metrics.MustNewMetrics(d.registerer)

	store, err := newStatsStore(conf)
	if err != nil {
		return err
	}
	d.statsStore = store

	collector, err := newCollector(conf)
	if err != nil {
		return err
	}
	d.collector = collector

	d.catalog = action.NewCatalog(snapshot)
	d.flags = action.NewStaticFlags(conf.FeatureFlags...)
	d.validator = action.NewValidator(d.catalog, d.flags)
	d.ring = partition.NewRing(conf.CacheShards)
	d.registryCache = cache.NewRegistryCache(conf.CacheTTL, d.ring, time.Now)

	d.interpreter, err = schema.NewInterpreter(schema.DefaultCacheSize)
	if err != nil {
		return err
	}
	d.modalRegistry = modal.NewRegistry(d.catalog, d.interpreter)
	if invoker == nil {
		invoker = modal.NewHTTPInvoker(conf.ServiceEndpoints, &http.Client{Timeout: conf.ServiceCallTimeout})
	}
	d.resolver = modal.NewResolver(d.validator, d.modalRegistry, d.interpreter, invoker, d.collector,
		modal.WithMetrics(d.metrics), modal.WithCallTimeout(conf.ServiceCallTimeout))
	d.orchestrator = compound.NewOrchestrator(d.catalog, d.resolver, d.collector, d.metrics)
	d.rankingService = ranking.NewService(d.catalog, d.validator, d.statsStore, d.registryCache, d.metrics, conf.RankingTimeout, time.Now)

	workers := partition.NewRing(conf.StatsWorkers)
	d.recorder = stats.NewRecorder(d.statsStore, d.registryCache, workers, conf.StatsQueueSize, conf.ServiceCallTimeout, d.metrics)
	d.sessions = session.NewRegistry(conf.SessionIdleTimeout)
	d.initialized = true
	logger.Info("container initialized", zap.String("statsStore", string(conf.StatsStoreType)), zap.Int("actions", snapshot.Size()))
	return nil
}

func newStatsStore(conf config.Config) (persistence.StatsStore, error) {
	switch conf.StatsStoreType {
	case config.STORAGE_TYPE_REDIS:
		return rd.NewRedisStatsStore(rd.Config{
			Addrs:     conf.RedisConfig.Addrs,
			Namespace: conf.RedisConfig.Namespace,
			Password:  conf.RedisConfig.Password,
			PoolSize:  conf.RedisConfig.PoolSize,
			Timeout:   conf.ServiceCallTimeout,
		}), nil
	case config.STORAGE_TYPE_SQLITE:
		return sqlstore.NewSQLStatsStore(sqlstore.WithDialect(sqlstore.DIALECT_SQLITE), sqlstore.WithDSN(conf.SQLConfig.DSN))
	case config.STORAGE_TYPE_POSTGRES:
		return sqlstore.NewSQLStatsStore(sqlstore.WithDialect(sqlstore.DIALECT_POSTGRES), sqlstore.WithDSN(conf.SQLConfig.DSN))
	case config.STORAGE_TYPE_INMEM, "":
		return memory.NewMemoryStatsStore(), nil
	}
	return nil, fmt.Errorf("unknown stats store %s", conf.StatsStoreType)
}

func newCollector(conf config.Config) (analytics.Collector, error) {
	if conf.AnalyticsFile == "" {
		return analytics.NewCollector(analytics.DataCollectorConfig{CollectorType: analytics.NOP_DATA_COLLECTOR})
	}
	return analytics.NewCollector(analytics.DataCollectorConfig{CollectorType: analytics.LOG_FILE_DATA_COLLECTOR, FileName: conf.AnalyticsFile})
}

func (d *DIContiner) check() {
	if !d.initialized {
		panic("container not initialized")
	}
}

func (d *DIContiner) Config() config.Config {
	return d.conf
}

func (d *DIContiner) GetCatalog() *action.Catalog {
	d.check()
	return d.catalog
}

func (d *DIContiner) GetFlags() *action.StaticFlags {
	d.check()
	return d.flags
}

func (d *DIContiner) GetValidator() *action.Validator {
	d.check()
	return d.validator
}

func (d *DIContiner) GetRegistryCache() *cache.RegistryCache {
	d.check()
	return d.registryCache
}

func (d *DIContiner) GetStatsStore() persistence.StatsStore {
	d.check()
	return d.statsStore
}

func (d *DIContiner) GetMetrics() *metrics.Metrics {
	d.check()
	return d.metrics
}

func (d *DIContiner) GetModalRegistry() *modal.Registry {
	d.check()
	return d.modalRegistry
}

func (d *DIContiner) GetResolver() *modal.Resolver {
	d.check()
	return d.resolver
}

func (d *DIContiner) GetOrchestrator() *compound.Orchestrator {
	d.check()
	return d.orchestrator
}

func (d *DIContiner) GetRankingService() *ranking.Service {
	d.check()
	return d.rankingService
}

func (d *DIContiner) GetRecorder() *stats.Recorder {
	d.check()
	return d.recorder
}

func (d *DIContiner) GetSessions() *session.Registry {
	d.check()
	return d.sessions
}

func (d *DIContiner) GetCollector() analytics.Collector {
	d.check()
	return d.collector
}
