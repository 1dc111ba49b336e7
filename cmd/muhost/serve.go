package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"muhost/internal/activity"
	"muhost/internal/catalog"
	"muhost/internal/httpapi"
	"muhost/internal/manager"
)

const shutdownGrace = 5 * time.Second

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the loopback enhance server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), v)
		},
	}
	f := cmd.Flags()
	f.String("addr", "127.0.0.1:48159", "HTTP listen address")
	f.Bool("cors", true, "Enable CORS for the extension origins")
	f.String("cors-origins", "", "Comma separated allowed origins (default chrome-extension://*,moz-extension://*)")
	f.Int64("max-body-bytes", 1<<20, "Maximum JSON request body size")
	f.Int64("max-image-bytes", 64<<20, "Maximum POST /enhance body size")
	f.Int64("enhance-timeout", 0, "Per-request enhance timeout in seconds (0 disables)")
	f.Duration("sweep-interval", 10*time.Minute, "How often the result cache is swept")
	f.Duration("idle-check-interval", 5*time.Second, "How often idle shutdown is evaluated")
	return cmd
}

func runServe(parent context.Context, v *viper.Viper) error {
	log, closeLog, err := newLogger(v.GetString("log-level"), v.GetString("log-format"), v.GetString("log-file"))
	if err != nil {
		return err
	}
	defer closeLog()

	svc, err := openService(v, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Warn().Err(err).Msg("engine close")
		}
	}()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpapi.SetBaseContext(ctx)
	httpapi.SetShutdownFunc(cancel)
	httpapi.SetMaxBodyBytes(v.GetInt64("max-body-bytes"))
	httpapi.SetMaxImageBytes(v.GetInt64("max-image-bytes"))
	httpapi.SetEnhanceTimeoutSeconds(v.GetInt64("enhance-timeout"))
	httpapi.SetCORSOptions(v.GetBool("cors"), splitCSV(v.GetString("cors-origins")), nil, nil)

	addr := v.GetString("addr")
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           httpapi.NewMux(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	watcher, err := catalog.NewWatcher(svc.ModelsDir(), func() {
		if _, err := svc.ReloadCatalog(); err != nil {
			log.Warn().Err(err).Msg("catalog reload")
		}
	}, log.With().Str("component", "catalog").Logger())
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("watch models dir: %w", err)
	}

	sup := &activity.Supervisor{
		Tracker:   svc.Tracker(),
		Threshold: svc.IdleShutdownAfter,
		Shutdown:  cancel,
		Tick:      v.GetDuration("idle-check-interval"),
		Log:       log.With().Str("component", "idle").Logger(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Str("version", version).Msg("muhost listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer scancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown")
		}
		return nil
	})
	g.Go(func() error { return sup.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error {
		return runSweeper(gctx, svc, v.GetDuration("sweep-interval"), log)
	})

	err = g.Wait()
	log.Info().Msg("muhost stopped")
	return err
}

// runSweeper applies the cache size and age limits periodically until ctx
// is done.
func runSweeper(ctx context.Context, svc *manager.Service, every time.Duration, log zerolog.Logger) error {
	if every <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			res, err := svc.SweepCache(false)
			if err != nil {
				log.Warn().Err(err).Msg("cache sweep")
				continue
			}
			if res.Removed > 0 {
				log.Info().Int("removed", res.Removed).Int64("freed", res.Freed).Int64("remaining", res.Remaining).Msg("cache swept")
			}
		}
	}
}
