package agent

import (
	"sync"
	"time"

	"github.com/mohitkumar/actionrouter/action"
	"github.com/mohitkumar/actionrouter/config"
	"github.com/mohitkumar/actionrouter/container"
	"github.com/mohitkumar/actionrouter/logger"
	"github.com/mohitkumar/actionrouter/rest"
	"github.com/mohitkumar/actionrouter/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

type Agent struct {
	Config       config.Config
	container    *container.DIContiner
	watcher      *action.Watcher
	sweeper      *util.TickWorker
	httpServer   *rest.Server
	registry     *prometheus.Registry
	shutdown     bool
	shutdowns    chan struct{}
	shutdownLock sync.Mutex
	wg           sync.WaitGroup
}

func New(config config.Config) (*Agent, error) {
	a := &Agent{
		Config:    config,
		shutdowns: make(chan struct{}),
		registry:  prometheus.NewRegistry(),
	}
	setup := []func() error{
		a.setupContainer,
		a.setupCatalogWatcher,
		a.setupCacheSweeper,
		a.setupRecorder,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupContainer() error {
	snapshot, err := action.LoadFile(a.Config.CatalogFile)
	if err != nil {
		return err
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.container = container.NewDiContainer(a.Config, a.registry)
	return a.container.Init(snapshot, nil)
}

func (a *Agent) setupCatalogWatcher() error {
	if !a.Config.WatchCatalog {
		return nil
	}
	registryCache := a.container.GetRegistryCache()
	var err error
	a.watcher, err = action.NewWatcher(a.Config.CatalogFile, a.container.GetCatalog(), func(s *action.Snapshot) {
		registryCache.Clear()
		logger.Info("catalog reloaded, registry cache cleared", zap.Int("actions", s.Size()))
	}, &a.wg)
	if err != nil {
		return err
	}
	return a.watcher.Start()
}

func (a *Agent) setupCacheSweeper() error {
	registryCache := a.container.GetRegistryCache()
	a.sweeper = util.NewTickWorker("registry-cache-sweeper", a.Config.CacheSweepInterval, func(now time.Time) {
		registryCache.Sweep(now)
	}, &a.wg)
	a.sweeper.Start()
	return nil
}

func (a *Agent) setupRecorder() error {
	a.container.GetRecorder().Start()
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.container, a.registry)
	if err != nil {
		return err
	}
	return nil
}

func (a *Agent) Start() error {
	go func() {
		err := a.httpServer.Start()
		if err != nil {
			_ = a.Shutdown()
			panic(err)
		}
	}()
	return nil
}

// Done is closed once Shutdown begins.
func (a *Agent) Done() <-chan struct{} {
	return a.shutdowns
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true
	close(a.shutdowns)

	shutdown := []func() error{
		a.httpServer.Stop,
		func() error {
			if a.watcher == nil {
				return nil
			}
			return a.watcher.Stop()
		},
		func() error {
			a.sweeper.Stop()
			return nil
		},
		func() error {
			logger.Info("draining stats recorder")
			a.container.GetRecorder().Stop()
			return nil
		},
		func() error {
			a.container.GetSessions().Shutdown()
			return nil
		},
		a.container.GetStatsStore().Close,
		a.container.GetCollector().Close,
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			logger.Error("error during shutdown", zap.Error(err))
		}
	}
	logger.Info("waiting for all services to shutdown...")
	a.wg.Wait()
	return nil
}
