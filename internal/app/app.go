// Package app wires every Paygress domain component together and runs
// the enabled transports until the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DhananjayPurohit/paygress/internal/config"
	"github.com/DhananjayPurohit/paygress/internal/httpserver"
	"github.com/DhananjayPurohit/paygress/internal/telemetry"
	"github.com/DhananjayPurohit/paygress/pkg/admission"
	"github.com/DhananjayPurohit/paygress/pkg/catalog"
	"github.com/DhananjayPurohit/paygress/pkg/container"
	_ "github.com/DhananjayPurohit/paygress/pkg/container/localsim"
	"github.com/DhananjayPurohit/paygress/pkg/httpapi"
	"github.com/DhananjayPurohit/paygress/pkg/identity"
	"github.com/DhananjayPurohit/paygress/pkg/ledger"
	"github.com/DhananjayPurohit/paygress/pkg/pod"
	"github.com/DhananjayPurohit/paygress/pkg/portpool"
	"github.com/DhananjayPurohit/paygress/pkg/reaper"
	"github.com/DhananjayPurohit/paygress/pkg/relay"
	"github.com/DhananjayPurohit/paygress/pkg/stdiorpc"
)

// Run is the main application entry point. It reads the assembled config,
// constructs every domain component, and starts each enabled transport
// under a shared errgroup: the first one to fail cancels the rest, and
// Run returns that failure.
func Run(ctx context.Context, cfg *config.Config) error {
	// Standard output is reserved for framed JSON-RPC when the stdio
	// transport is enabled, and nothing else in this process reads
	// anything off stdout — so every logger, not just the stdio
	// transport's own, writes to stderr unconditionally.
	logger := telemetry.NewStderrLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting paygress",
		"http", cfg.EnableHTTP, "relay", cfg.EnableRelay, "stdio", cfg.EnableStdio,
	)

	ids, err := identity.NewStore(cfg.ServicePrivateKey)
	if err != nil {
		return fmt.Errorf("initializing identity store: %w", err)
	}
	logger.Info("service identity loaded", "pubkey", ids.ServiceIdentity().PublicKey)

	cat, err := catalog.Load(cfg.PodSpecsFile)
	if err != nil {
		return fmt.Errorf("loading pod catalog: %w", err)
	}
	logger.Info("catalog loaded", "tiers", len(cat.Tiers()))

	led, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return fmt.Errorf("opening redemption ledger: %w", err)
	}
	defer func() {
		if err := led.Close(); err != nil {
			logger.Error("closing ledger", "error", err)
		}
	}()

	ports, err := portpool.New(cfg.PortRangeStart, cfg.PortRangeEnd)
	if err != nil {
		return fmt.Errorf("initializing port pool: %w", err)
	}

	driver, err := container.New(cfg.ContainerDriver, map[string]string{
		"default_image": cfg.DefaultContainerImage,
	}, func(msg string) { logger.Warn(msg) })
	if err != nil {
		return fmt.Errorf("initializing container driver: %w", err)
	}

	registry := pod.NewRegistry()

	pipeline := admission.New(admission.Config{
		WhitelistedMints:      cfg.WhitelistedMints,
		MinDurationSecs:       cfg.MinDurationSecs,
		MaxDurationSecs:       cfg.MaxDurationSecs,
		DefaultContainerImage: cfg.DefaultContainerImage,
		HostPublicAddress:     cfg.HostPublicAddress,
	}, cat, led, ports, ids, driver, registry, logger)

	metricsReg := telemetry.NewMetricsRegistry()

	reap := reaper.New(registry, driver, ports, time.Duration(cfg.ReapIntervalSecs)*time.Second, logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return reap.Run(ctx)
	})

	if cfg.EnableHTTP {
		srv := httpserver.NewServer(logger, metricsReg, cfg.MetricsPath)
		srv.RegisterHealthProviders(registry, ports)

		api := httpapi.New(pipeline, cat, ids, cfg.WhitelistedMints, cfg.MinDurationSecs)
		api.Mount(srv.Router)

		httpSrv := &http.Server{
			Addr:         cfg.HTTPBind,
			Handler:      srv,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		g.Go(func() error {
			errCh := make(chan error, 1)
			go func() {
				logger.Info("http transport listening", "addr", cfg.HTTPBind)
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- fmt.Errorf("http server: %w", err)
					return
				}
				errCh <- nil
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down http transport")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := httpSrv.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("shutting down http server: %w", err)
				}
				return nil
			case err := <-errCh:
				return err
			}
		})
	}

	if cfg.EnableRelay {
		transport, err := relay.New(cfg.RelayURLs, pipeline, cat, ids, cfg.WhitelistedMints, cfg.MinDurationSecs, logger)
		if err != nil {
			return fmt.Errorf("initializing relay transport: %w", err)
		}
		logger.Info("relay transport enabled", "relays", cfg.RelayURLs)
		g.Go(func() error {
			return transport.Run(ctx)
		})
	}

	if cfg.EnableStdio {
		transport := stdiorpc.New(pipeline, cat, logger, os.Stdin, os.Stdout)
		logger.Info("stdio transport enabled")
		g.Go(func() error {
			return transport.Run(ctx)
		})
	}

	return g.Wait()
}
