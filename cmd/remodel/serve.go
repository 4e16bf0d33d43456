package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/remodel"
	"github.com/aretw0/remodel/internal/presentation/tui"
	remotehttp "github.com/aretw0/remodel/pkg/adapters/http"
	"github.com/aretw0/remodel/pkg/adapters/loam"
	"github.com/aretw0/remodel/pkg/adapters/memory"
	"github.com/aretw0/remodel/pkg/adapters/sqlite"
	"github.com/aretw0/remodel/pkg/connector"
	"github.com/aretw0/remodel/pkg/persistence/middleware"
	"github.com/aretw0/remodel/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a model store over HTTP",
	Long: `Exposes the repositories of a store (mem://, redis://, sqlite:// or loam://) over
HTTP so that clients can reach it with an http:// URL.

A mem:// store lives as long as the server. Repositories listed with --init
are created on start for mem://, sqlite:// and loam:// stores.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		store, _ := cmd.Flags().GetString("store")
		metrics, _ := cmd.Flags().GetBool("metrics")
		initRepos, _ := cmd.Flags().GetStringSlice("init")

		logger, err := newLogger(cmd)
		if err != nil {
			return err
		}

		routerOpts := []connector.Option{connector.WithLogger(logger)}
		u, err := url.Parse(store)
		if err != nil {
			return fmt.Errorf("invalid store url %q: %w", store, err)
		}
		switch u.Scheme {
		case memory.Scheme:
			hub := memory.NewHub(u.Host)
			for _, name := range initRepos {
				hub.CreateRepository(name)
			}
			routerOpts = append(routerOpts, connector.WithHub(hub))
		case sqlite.Scheme:
			for _, name := range initRepos {
				if err := sqlite.CreateRepository(u.Host+u.Path, name); err != nil {
					return err
				}
			}
		case loam.Scheme:
			for _, name := range initRepos {
				if err := loam.CreateRepository(u.Host+u.Path, name); err != nil {
					return err
				}
			}
		case remotehttp.Scheme, remotehttp.SecureScheme:
			return errors.New("serve needs a local store, not an http:// URL")
		}
		router := connector.New(routerOpts...)

		mws := []middleware.Middleware{middleware.NewLogging(logger)}
		serverOpts := []remotehttp.ServerOption{remotehttp.WithLogger(logger)}
		if metrics {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			mws = append(mws, middleware.NewMetrics(reg))
			serverOpts = append(serverOpts, remotehttp.WithMetrics(reg))
		}

		server := remotehttp.NewServer(remotehttp.RepositoriesFunc(
			func(ctx context.Context, repository string) (ports.Backend, error) {
				b, err := router.Dial(ctx, store, repository)
				if err != nil {
					return nil, err
				}
				return middleware.Chain(b, mws...), nil
			},
		), serverOpts...)
		defer server.Close()

		srv := &http.Server{
			Addr:              addr,
			Handler:           server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)
		go func() {
			out := cmd.OutOrStdout()
			if terminalWidth(out) > 0 {
				tui.PrintBanner(out, remodel.Version)
			}
			fmt.Fprintf(out, "Serving %s on %s\n", store, srv.Addr)
			serverErrors <- srv.ListenAndServe()
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
			fmt.Fprintln(cmd.OutOrStdout(), "\nShutting down...")

			// Give outstanding requests a deadline for completion.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("graceful shutdown did not complete", "err", err)
				return srv.Close()
			}
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", ":8080", "Address to listen on")
	serveCmd.Flags().String("store", "mem://local", "Store to serve")
	serveCmd.Flags().Bool("metrics", false, "Expose Prometheus metrics on /metrics")
	serveCmd.Flags().StringSlice("init", nil, "Repositories to create on start (mem, sqlite and loam stores)")
}
