// Package app assembles the order pipeline from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/order-pipeline/internal/adapter/handler"
	"github.com/rl1809/order-pipeline/internal/adapter/messaging"
	"github.com/rl1809/order-pipeline/internal/config"
	"github.com/rl1809/order-pipeline/internal/core/service"
	"github.com/rl1809/order-pipeline/internal/logging"
)

const readHeaderTimeout = 5 * time.Second

type App struct {
	cfg   config.Config
	log   zerolog.Logger
	infra *Infra

	Orders *service.OrderService
	Poller *service.Poller
	Relay  *service.OutboxRelay
	Router *message.Router
	HTTP   *http.Server
	GRPC   *grpc.Server
}

func New(cfg config.Config, infra *Infra, log zerolog.Logger) (*App, error) {
	publisher := messaging.NewPublisher(infra.Transport.Publisher)

	orders := service.NewOrderService(cfg, service.Dependencies{
		Catalog:     infra.Store,
		Products:    infra.Store,
		Orders:      infra.Store,
		Publisher:   publisher,
		Idempotency: infra.Idempotency,
	}, log)
	poller := service.NewPoller(infra.Store, cfg.Poll, log)
	materializer := service.NewMaterializer(infra.Store, log)
	notifier := service.NewStockNotifier(log)
	sink := service.NewPoisonSink(infra.Archive, log)

	router, err := messaging.NewRouter(cfg.Queue, infra.Transport, messaging.Consumers{
		Orders: materializer.Handle,
		Stock:  notifier.Handle,
		Poison: sink,
	}, logging.NewWatermillAdapter(log))
	if err != nil {
		return nil, err
	}

	httpHandler := handler.NewHTTPHandler(orders, poller, sink, cfg.Poll, log)
	grpcHandler := handler.NewGRPCHandler(orders, poller, cfg.Poll)

	a := &App{
		cfg:    cfg,
		log:    log,
		infra:  infra,
		Orders: orders,
		Poller: poller,
		Router: router,
		HTTP: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           httpHandler.Routes(),
			ReadHeaderTimeout: readHeaderTimeout,
		},
		GRPC: handler.NewGRPCServer(grpcHandler, log),
	}
	if cfg.Outbox.Enabled {
		a.Relay = service.NewOutboxRelay(infra.Store, publisher, cfg.Outbox, log)
	}
	return a, nil
}

// RunWorkers runs the consumers and the outbox relay until ctx is cancelled.
// started is closed once the router is consuming.
func (a *App) RunWorkers(ctx context.Context, started chan<- struct{}) error {
	var wg sync.WaitGroup
	routerErr := make(chan error, 1)
	go func() { routerErr <- a.Router.Run(ctx) }()

	select {
	case <-a.Router.Running():
	case err := <-routerErr:
		return fmt.Errorf("router: %w", err)
	}
	if started != nil {
		close(started)
	}

	if a.Relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Relay.Run(ctx)
		}()
	}

	<-ctx.Done()
	closeErr := a.Router.Close()
	wg.Wait()
	return errors.Join(closeErr, <-routerErr)
}

// Run serves HTTP and gRPC alongside the workers and shuts everything down when
// ctx is cancelled. The servers start only once the consumers are subscribed.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	started := make(chan struct{})
	g.Go(func() error { return a.RunWorkers(gctx, started) })
	select {
	case <-started:
	case <-gctx.Done():
		return a.finish(g.Wait())
	}

	g.Go(func() error {
		a.log.Info().Str("addr", a.cfg.HTTPAddr).Msg("HTTP server listening")
		if err := a.HTTP.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", a.cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		a.log.Info().Str("addr", a.cfg.GRPCAddr).Msg("gRPC server listening")
		return a.GRPC.Serve(lis)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := a.HTTP.Shutdown(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Msg("HTTP shutdown incomplete")
		}
		a.log.Info().Msg("HTTP server stopped")

		a.GRPC.GracefulStop()
		a.log.Info().Msg("gRPC server stopped")
		return nil
	})

	return a.finish(g.Wait())
}

func (a *App) finish(err error) error {
	if cerr := a.infra.Close(); cerr != nil {
		a.log.Warn().Err(cerr).Msg("closing connections")
	}
	a.log.Info().Msg("connections closed")
	return err
}
