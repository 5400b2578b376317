package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/byte4ever/tagpromoter/gitops/config"
	"github.com/byte4ever/tagpromoter/gitops/metrics"
	"github.com/byte4ever/tagpromoter/gitops/server"
	"github.com/byte4ever/tagpromoter/gitops/tasks"
)

const readHeaderTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve promotion requests over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.load(); err != nil {
				return err
			}
			defer a.sync()

			if listen != "" {
				a.cfg.Server.Listen = listen
			}

			return a.serve(cmd.Context())
		},
	}

	cmd.Flags().StringVar(
		&listen, "listen", "",
		"listen address, overrides server.listen",
	)

	return cmd
}

//nolint:funlen // wiring of every long-lived component
func (a *app) serve(ctx context.Context) error {
	const errCtx = "serving"

	repo, err := config.NewRepository(a.cfg.Repository, a.logger)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
	)

	collector, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	prom, err := a.newPromoter(repo, collector)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	pool, err := tasks.NewPool(tasks.Config{
		Runner:    prom,
		Workers:   a.cfg.Server.Workers,
		QueueSize: a.cfg.Server.QueueSize,
		Logger:    a.logger,
		Metrics:   collector,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	srv, err := server.New(server.Config{
		Queue:         pool,
		Tasks:         pool.Registry(),
		Layout:        prom.Layout(),
		Gatherer:      reg,
		Retention:     a.cfg.Server.Retention,
		PruneInterval: a.cfg.Server.PruneInterval,
		Logger:        a.logger,
	})
	if err != nil {
		pool.Close()

		return fmt.Errorf("%s: %w", errCtx, err)
	}

	httpSrv := &http.Server{
		Addr:              a.cfg.Server.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(
		ctx, os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		srv.PruneLoop(gctx)

		return nil
	})

	g.Go(func() error {
		a.logger.Info(
			"listening", zap.String("address", httpSrv.Addr),
		)

		err := httpSrv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("%s: %w", errCtx, err)
	})

	g.Go(func() error {
		<-gctx.Done()

		a.logger.Info("shutting down")

		sctx, cancel := context.WithTimeout(
			context.WithoutCancel(gctx),
			a.cfg.Server.ShutdownGrace,
		)
		defer cancel()

		err := httpSrv.Shutdown(sctx)

		// Running promotions are not cancellable;
		// wait for them.
		pool.Close()

		if err != nil {
			return fmt.Errorf("%s: shutdown: %w", errCtx, err)
		}

		return nil
	})

	return g.Wait()
}
