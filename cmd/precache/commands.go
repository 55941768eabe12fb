package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/always-cache/precache"
	"github.com/always-cache/precache/cache"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

type serveFlags struct {
	origin string
	addr   string
	host   string
	port   int
}

func (f serveFlags) apply(cmd *cobra.Command, config *Config) {
	if cmd.Flags().Changed("origin") {
		config.Origin = f.origin
	}
	if cmd.Flags().Changed("addr") {
		config.Addr = f.addr
	}
	if cmd.Flags().Changed("host") {
		config.Host = f.host
	}
	if cmd.Flags().Changed("port") {
		config.Port = f.port
	}
}

func addOriginFlags(cmd *cobra.Command, f *serveFlags) {
	cmd.Flags().StringVar(&f.origin, "origin", "", "Origin URL to proxy to (overrides addr and host)")
	cmd.Flags().StringVar(&f.addr, "addr", "", "Origin IP address to proxy to")
	cmd.Flags().StringVar(&f.host, "host", "", "Hostname of origin")
}

func newServeCmd(root *rootFlags) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Install the cache and serve requests cache-first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := root.config
			f.apply(cmd, &config)
			return serve(cmd.Context(), config)
		},
	}
	addOriginFlags(cmd, f)
	cmd.Flags().IntVar(&f.port, "port", 8080, "Port to listen on")
	return cmd
}

func newInstallCmd(root *rootFlags) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Fill the cache with the listed resources and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := root.config
			f.apply(cmd, &config)
			agent, provider, err := createAgent(config)
			if err != nil {
				return err
			}
			defer provider.Close()
			return agent.Install(cmd.Context())
		},
	}
	addOriginFlags(cmd, f)
	return cmd
}

func newKeysCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List the requests stored in the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := cache.NewSQLiteCache(root.config.dbFilename())
			if err != nil {
				return err
			}
			defer provider.Close()
			storage := precache.NewCacheStorage(provider, nil, url.URL{}, log.Logger)
			c, err := storage.Lookup(precache.CacheName)
			if err != nil {
				return err
			}
			reqs, err := c.Keys()
			if err != nil {
				return err
			}
			for _, req := range reqs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", req.Method, req.URL.RequestURI())
			}
			return nil
		},
	}
}

// createAgent creates the agent with its sqlite cache provider, which the caller must close.
func createAgent(config Config) (*precache.Agent, cache.SQLiteCache, error) {
	originURL, originHost, err := config.originURL()
	if err != nil {
		return nil, cache.SQLiteCache{}, err
	}
	provider, err := cache.NewSQLiteCache(config.dbFilename())
	if err != nil {
		return nil, provider, err
	}
	logger := log.Logger.With().Str("origin", originURL.String()).Logger()
	agent := precache.CreateAgent(precache.Config{
		Cache:      provider,
		OriginURL:  originURL,
		OriginHost: originHost,
		Logger:     &logger,
	})
	return agent, provider, nil
}

// serve installs the agent and serves it until ctx is done.
// If install fails, a complete cache from a previous install is served instead.
func serve(ctx context.Context, config Config) error {
	agent, provider, err := createAgent(config)
	if err != nil {
		return err
	}
	defer provider.Close()

	if err := agent.Install(ctx); err != nil {
		resumed, resumeErr := agent.Resume()
		if resumeErr != nil || !resumed {
			return errors.Join(err, resumeErr)
		}
		log.Warn().Err(err).Msg("Install failed, serving previously installed cache")
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: newRouter(agent),
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Int("port", config.Port).Str("host", config.Host).Msg("Serving")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newRouter(agent http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.RemoteAddrHandler("sourceIp"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Trace().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("code", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request")
	}))
	r.Handle("/*", agent)
	return r
}
