package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Snehask3825/kortex/internal/bus"
	"github.com/Snehask3825/kortex/internal/config"
	"github.com/Snehask3825/kortex/internal/controller"
	"github.com/Snehask3825/kortex/internal/httpapi"
	"github.com/Snehask3825/kortex/internal/invoker"
	"github.com/Snehask3825/kortex/internal/metrics"
	"github.com/Snehask3825/kortex/internal/notifylog"
	"github.com/Snehask3825/kortex/internal/redisbus"
	"github.com/Snehask3825/kortex/internal/rpc"
	"github.com/Snehask3825/kortex/internal/subscription"
	"github.com/Snehask3825/kortex/pkg/notification"
)

const shutdownTimeout = 30 * time.Second

// daemon owns every component kortexd runs.
type daemon struct {
	config *config.Config
	logger *zap.SugaredLogger

	registry *prometheus.Registry
	history  *notifylog.Log
	bus      *bus.Bus
	redis    *redis.Client
	mirror   *redisbus.Bus
	ctrl     *controller.Controller
	gateway  *httpapi.Server
	rpc      *rpc.Server
}

// newDaemon builds the components. Redis is connected here so a bad URL
// fails startup instead of the first publish.
func newDaemon(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*daemon, error) {
	d := &daemon{config: cfg, logger: logger, registry: prometheus.NewRegistry()}

	d.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(d.registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	busOpts := []bus.Option{bus.WithLogger(logger), bus.WithMetrics(m)}
	if !cfg.History.Disabled {
		d.history = notifylog.New(cfg.History.Retention)
		busOpts = append(busOpts, bus.WithHistory(d.history))
	}
	d.bus = bus.New(cfg.Bus, busOpts...)

	var publisher notification.Publisher = d.bus
	if cfg.Redis != nil {
		d.redis, err = redisbus.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			d.close()
			return nil, err
		}
		d.mirror = redisbus.New(d.redis, *cfg.Redis, redisbus.WithLogger(logger))
		publisher = notification.Publishers{d.bus, d.mirror}
		logger.Infow("Mirroring notifications to Redis", "prefix", cfg.Redis.ChannelPrefix)
	}

	d.ctrl, err = controller.New(cfg.Controller, publisher, controller.WithLogger(logger))
	if err != nil {
		d.close()
		return nil, fmt.Errorf("create controller: %w", err)
	}

	manager := subscription.NewManager(d.bus, subscription.WithLogger(logger), subscription.WithMetrics(m))
	inv := invoker.New(manager,
		invoker.WithLogger(logger),
		invoker.WithMetrics(m),
		invoker.WithReleaseTimeout(cfg.Wait.ReleaseTimeout),
	)

	d.gateway, err = httpapi.NewServer(httpapi.Dependencies{
		Commands:      d.ctrl,
		Notifications: d.bus,
		History:       d.history,
		Faults:        d.ctrl,
		Invoker:       inv,
		Gatherer:      d.registry,
		Logger:        logger,
	}, cfg.Gateway)
	if err != nil {
		d.close()
		return nil, fmt.Errorf("create gateway: %w", err)
	}

	d.rpc = rpc.NewServer(d.ctrl, d.bus, cfg.RPC, []rpc.Option{rpc.WithLogger(logger)})
	return d, nil
}

// listen opens the gateway and gRPC listeners from the configuration.
func (d *daemon) listen() (httpL, rpcL net.Listener, err error) {
	httpL, err = net.Listen("tcp", ":"+d.config.Gateway.Port)
	if err != nil {
		return nil, nil, fmt.Errorf("listen gateway: %w", err)
	}
	rpcL, err = net.Listen("tcp", d.config.RPC.Address)
	if err != nil {
		httpL.Close()
		return nil, nil, fmt.Errorf("listen rpc: %w", err)
	}
	return httpL, rpcL, nil
}

// run serves until ctx ends, then shuts everything down.
func (d *daemon) run(ctx context.Context, httpL, rpcL net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := d.gateway.Serve(httpL); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := d.rpc.Serve(rpcL); err != nil {
			return fmt.Errorf("rpc: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		d.logger.Infow("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := d.gateway.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop gateway: %w", err))
		}
		if err := d.rpc.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop rpc: %w", err))
		}
		return errors.Join(errs...)
	})

	d.logger.Infow("kortexd started",
		"controller", d.config.Controller.Name,
		"gateway", httpL.Addr().String(),
		"rpc", rpcL.Addr().String(),
		"history", d.history != nil,
		"redis", d.mirror != nil,
	)

	err := g.Wait()
	d.close()
	return err
}

// close releases components in reverse start order.
func (d *daemon) close() {
	if d.ctrl != nil {
		_ = d.ctrl.Close()
	}
	if d.mirror != nil {
		if err := d.mirror.Close(); err != nil {
			d.logger.Warnw("Error closing Redis bus", "error", err)
		}
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.bus != nil {
		_ = d.bus.Close()
	}
	if d.history != nil {
		_ = d.history.Close()
	}
}
