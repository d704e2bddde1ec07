// Package server wires the burrow components together with fx and runs
// them: storage, directory, hidden-address manager, delivery engine, relay
// loop and the HTTP (REST + WebSocket) and gRPC listeners.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/burrow/internal/cryptox"
	"github.com/dmitrijs2005/burrow/internal/logging"
	"github.com/dmitrijs2005/burrow/internal/server/config"
	"github.com/dmitrijs2005/burrow/internal/server/delivery"
	"github.com/dmitrijs2005/burrow/internal/server/directory"
	"github.com/dmitrijs2005/burrow/internal/server/hiddensvc"
	"github.com/dmitrijs2005/burrow/internal/server/hub"
	"github.com/dmitrijs2005/burrow/internal/server/registry"
	"github.com/dmitrijs2005/burrow/internal/server/repositories/kv"
	"github.com/dmitrijs2005/burrow/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/burrow/internal/server/rest"
	"github.com/dmitrijs2005/burrow/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/burrow/internal/server/grpc"
)

type App struct {
	fx     *fx.App
	logger logging.Logger
}

func NewApp(cfg *config.Config) (*App, error) {
	var logger logging.Logger
	app := fx.New(
		Module(cfg),
		fx.NopLogger,
		fx.Populate(&logger),
	)
	if err := app.Err(); err != nil {
		return nil, fmt.Errorf("app init error: %w", err)
	}
	return &App{fx: app, logger: logger}, nil
}

// Module provides every component for cfg and registers the lifecycle.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("burrow",
		fx.Supply(cfg),
		fx.Provide(
			newLogger,
			newClock,
			newMetricsRegistry,
			newRepositoryManager,
			newKVStore,
			directory.NewStore,
			newSealer,
			newHiddenRepository,
			newControlDialer,
			hiddensvc.NewManager,
			registry.New,
			newPresence,
			newDeliveryMetrics,
			newConfirmer,
			newCallbacks,
			newRelayQueue,
			newTransport,
			delivery.NewEngine,
			services.NewChatService,
			newHub,
			newHTTPServer,
			newGRPCServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func newLogger(cfg *config.Config) logging.Logger {
	return logging.NewJSONLogger(os.Stdout, cfg.LogLevel)
}

func newClock() clock.Clock {
	return clock.New()
}

func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func newRepositoryManager(lc fx.Lifecycle, cfg *config.Config, logger logging.Logger) (repomanager.RepositoryManager, error) {
	ctx := context.Background()
	m, err := repomanager.Open(ctx, cfg.StorageBackend, cfg.DataDir, cfg.DatabaseDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}
	if err := m.RunMigrations(ctx); err != nil {
		return nil, multierr.Append(fmt.Errorf("migrations failed: %w", err), m.Close())
	}
	lc.Append(fx.StopHook(m.Close))
	return m, nil
}

func newKVStore(m repomanager.RepositoryManager) kv.Store {
	return m.KV()
}

func newSealer(cfg *config.Config) (*cryptox.Sealer, error) {
	return cryptox.NewSealer([]byte(cfg.SecretKey))
}

func newHiddenRepository(cfg *config.Config, store kv.Store) (hiddensvc.Repository, error) {
	switch cfg.HiddenServiceStore {
	case config.HiddenStoreKV, "":
		return hiddensvc.NewKVRepository(store), nil
	case config.HiddenStoreS3:
		return hiddensvc.NewS3Repository(context.Background(), hiddensvc.S3Options{
			Region:   cfg.S3Region,
			User:     cfg.S3RootUser,
			Password: cfg.S3RootPassword,
			Bucket:   cfg.S3Bucket,
			Endpoint: cfg.S3BaseEndpoint,
		})
	default:
		return nil, fmt.Errorf("unknown hidden service store %q", cfg.HiddenServiceStore)
	}
}

func newControlDialer(cfg *config.Config) hiddensvc.Dialer {
	return hiddensvc.ControlDialer(cfg.ControlAddress, cfg.ControlPassword)
}

func newPresence(reg *registry.Registry) delivery.Presence {
	return reg
}

func newDeliveryMetrics(reg *prometheus.Registry) *delivery.Metrics {
	return delivery.NewMetrics(reg)
}

func newConfirmer(p delivery.Presence, cfg *config.Config) (*delivery.Confirmer, error) {
	return delivery.NewConfirmer(p, cfg.DedupeSize)
}

func newCallbacks(cfg *config.Config, clk clock.Clock) *delivery.Callbacks {
	return delivery.NewCallbacks(cfg.CallbackRetention, clk)
}

func newRelayQueue(cfg *config.Config, p delivery.Presence, cb *delivery.Callbacks, c *delivery.Confirmer,
	clk clock.Clock, m *delivery.Metrics, logger logging.Logger) *delivery.RelayQueue {
	qc := delivery.QueueConfig{
		Tick:        cfg.RelayTick,
		Spacing:     cfg.RelaySpacing,
		MaxAttempts: cfg.RelayMaxAttempts,
		Retention:   cfg.RelayRetention,
	}
	return delivery.NewRelayQueue(qc, p, cb, c, clk, m, logger)
}

func newTransport(cfg *config.Config) delivery.Transport {
	return delivery.NewHTTPTransport(&http.Client{}, cfg.DirectPort, cfg.DirectTimeout)
}

func newHub(svc *services.ChatService, logger logging.Logger) *hub.Hub {
	return hub.New(svc, logger)
}

func newHTTPServer(cfg *config.Config, svc *services.ChatService, h *hub.Hub, reg *prometheus.Registry,
	clk clock.Clock, logger logging.Logger) *rest.Server {
	metrics := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	handler := rest.NewHandler(svc, h, metrics, cfg.SecretKey, clk, logger)
	return rest.NewServer(cfg.HTTPAddress, handler.Routes(), logger)
}

func newGRPCServer(cfg *config.Config, svc *services.ChatService, logger logging.Logger) *gs.GRPCServer {
	return gs.NewGRPCServer(cfg.GRPCAddress, logger, svc, cfg.SecretKey)
}

type lifecycleParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Hidden     *hiddensvc.Manager
	Queue      *delivery.RelayQueue
	Hub        *hub.Hub
	HTTP       *rest.Server
	GRPC       *gs.GRPCServer
	Logger     logging.Logger
}

// registerLifecycle connects the control channel, restores hidden
// addresses, then runs the relay loop and both listeners until stop.
func registerLifecycle(p lifecycleParams) {
	var (
		cancel context.CancelFunc
		group  *errgroup.Group
	)

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := p.Hidden.Connect(ctx); err != nil {
				return err
			}
			n, err := p.Hidden.LoadAll(ctx)
			if err != nil {
				return fmt.Errorf("hidden services restore failed: %w", err)
			}
			p.Logger.Info(ctx, "hidden services restored", "count", n)

			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())
			group, runCtx = errgroup.WithContext(runCtx)

			run := func(name string, fn func(context.Context) error) {
				group.Go(func() error {
					err := fn(runCtx)
					if err != nil {
						p.Logger.Error(runCtx, name+" failed", "error", err)
						_ = p.Shutdowner.Shutdown(fx.ExitCode(1))
					}
					return err
				})
			}
			run("relay loop", p.Queue.Run)
			run("http server", p.HTTP.Run)
			run("grpc server", p.GRPC.Run)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel == nil {
				return nil
			}
			cancel()
			p.Hub.Close()

			err := group.Wait()
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			return multierr.Append(err, p.Hidden.Disconnect(ctx))
		},
	})
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts the application and blocks until ctx is canceled, a signal
// arrives or a component fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	app.initSignalHandler(cancelFunc)

	app.logger.Info(ctx, "Starting app...")
	if err := app.fx.Start(ctx); err != nil {
		return err
	}

	var exitCode int
	select {
	case <-ctx.Done():
	case sig := <-app.fx.Wait():
		exitCode = sig.ExitCode
	}

	app.logger.Info(context.Background(), "Stopping app...")
	stopCtx, cancel := context.WithTimeout(context.Background(), app.fx.StopTimeout())
	defer cancel()
	err := app.fx.Stop(stopCtx)
	if exitCode != 0 {
		err = multierr.Append(err, fmt.Errorf("exited with code %d", exitCode))
	}
	return err
}
