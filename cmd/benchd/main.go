// benchd is the production test-station daemon: a TCP control socket for
// the control panel, a test engine driving model plugins through a
// loadlist, and an optional HTTP surface for status, catalog browsing and
// metrics.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"benchd/internal/catalog"
	"benchd/internal/config"
	"benchd/internal/engine"
	"benchd/internal/httpapi"
	"benchd/internal/instrument"
	"benchd/internal/model"
	"benchd/internal/record"
	"benchd/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath     string
		host        string
		port        int
		httpAddr    string
		logLevel    string
		catalogDB   string
		recordDB    string
		corsEnabled bool
		corsOrigins []string
	)

	root := &cobra.Command{
		Use:           "benchd",
		Short:         "Production test-station daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Config{
				Host:     host,
				Port:     port,
				HTTPAddr: httpAddr,
				LogLevel: logLevel,
			}
			if cfgPath != "" {
				fileCfg, err := config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				cfg = mergeConfig(fileCfg, cmd, cfg)
			}
			cfg.CatalogDB = pick(cmd, "catalog-db", catalogDB, cfg.CatalogDB)
			cfg.RecordDB = pick(cmd, "record-db", recordDB, cfg.RecordDB)
			return run(cfg, corsEnabled, corsOrigins)
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "Config file (.yaml, .json or .toml); flags override it")
	root.Flags().StringVar(&host, "host", "localhost", "Control socket host")
	root.Flags().IntVar(&port, "port", 5001, "Control socket port")
	root.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address, e.g. :8080 (empty disables HTTP)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	root.Flags().StringVar(&catalogDB, "catalog-db", "", "Catalog SQLite path (empty disables catalog endpoints)")
	root.Flags().StringVar(&recordDB, "record-db", "", "Record SQLite path (empty keeps records in memory)")
	root.Flags().BoolVar(&corsEnabled, "cors-enabled", false, "Enable CORS on the HTTP surface")
	root.Flags().StringSliceVar(&corsOrigins, "cors-origins", nil, "Allowed CORS origins (default *)")
	return root
}

// mergeConfig starts from the file config and lets explicitly set flags
// win over it.
func mergeConfig(file config.Config, cmd *cobra.Command, flags config.Config) config.Config {
	out := file
	if cmd.Flags().Changed("host") || out.Host == "" {
		out.Host = flags.Host
	}
	if cmd.Flags().Changed("port") || out.Port == 0 {
		out.Port = flags.Port
	}
	if cmd.Flags().Changed("http-addr") {
		out.HTTPAddr = flags.HTTPAddr
	}
	if cmd.Flags().Changed("log-level") || out.LogLevel == "" {
		out.LogLevel = flags.LogLevel
	}
	return out
}

func pick(cmd *cobra.Command, flag, flagVal, fileVal string) string {
	if cmd.Flags().Changed(flag) || fileVal == "" {
		return flagVal
	}
	return fileVal
}

func run(cfg config.Config, corsEnabled bool, corsOrigins []string) error {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	var cat *catalog.Store
	if cfg.CatalogDB != "" {
		cat, err = catalog.Open(cfg.CatalogDB)
		if err != nil {
			return err
		}
		defer cat.Close()
		if err := cat.Seed(); err != nil {
			return fmt.Errorf("seeding catalog: %w", err)
		}
		log.Info().Str("path", cfg.CatalogDB).Msg("catalog database open")
	}

	var records record.Store
	if cfg.RecordDB != "" {
		sqlStore, err := record.OpenSQLite(cfg.RecordDB)
		if err != nil {
			return err
		}
		records = sqlStore
		log.Info().Str("path", cfg.RecordDB).Msg("record database open")
	} else {
		records = record.NewMemoryStore()
		log.Info().Msg("records kept in memory")
	}
	defer records.Close()

	bench := instrument.NewBench(log)
	registry := model.NewRegistry()
	model.RegisterBuiltins(registry, bench, log)
	log.Info().Strs("models", registry.Names()).Msg("plugins registered")

	eng := engine.New(engine.Config{
		Registry: registry,
		Records:  records,
		Bench:    bench,
		Log:      log,
	})

	srv := server.New(eng, log)
	eng.SetSink(srv)
	if err := srv.Listen(cfg.Host, cfg.Port); err != nil {
		return err
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	var httpSrv *http.Server
	if cfg.HTTPAddr != "" {
		httpSrv = &http.Server{
			Addr: cfg.HTTPAddr,
			Handler: httpapi.NewMux(httpapi.Config{
				Engine:      eng,
				Clients:     srv,
				Registry:    registry,
				Catalog:     cat,
				Log:         log,
				CORSEnabled: corsEnabled,
				CORSOrigins: corsOrigins,
			}),
		}
		go func() {
			log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("http server error")
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	// Stop the active run first so plugins wind down before the sockets
	// disappear.
	eng.RequestStop()
	if httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
	}
	srv.Shutdown()
	log.Info().Msg("benchd stopped")
	return nil
}
