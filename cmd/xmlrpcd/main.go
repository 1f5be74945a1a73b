// xmlrpcd hosts the product dispatchers over XML-RPC.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"secure-xmlrpc/config"
	"secure-xmlrpc/cryptobox"
	"secure-xmlrpc/features"
	"secure-xmlrpc/keys"
	"secure-xmlrpc/logging"
	"secure-xmlrpc/middleware"
	"secure-xmlrpc/registry"
	"secure-xmlrpc/server"
)

var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "YAML configuration file",
	}
	ListenFlag = &cli.StringFlag{
		Name:  "listen",
		Usage: "XML-RPC listen address (overrides the configuration)",
	}
	AdminListenFlag = &cli.StringFlag{
		Name:  "admin.listen",
		Usage: "Listen address of the metrics and key endpoints, empty disables them",
	}
	LogLevelFlag = &cli.StringFlag{
		Name:  "log.level",
		Usage: "Log level (debug, info, warn, error)",
	}
)

var app = &cli.App{
	Name:   "xmlrpcd",
	Usage:  "authenticated XML-RPC dispatch host",
	Flags:  []cli.Flag{ConfigFlag, ListenFlag, AdminListenFlag, LogLevelFlag},
	Action: serve,
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String(ConfigFlag.Name))
	if err != nil {
		return err
	}
	if ctx.IsSet(ListenFlag.Name) {
		cfg.Server.Listen = ctx.String(ListenFlag.Name)
	}
	if ctx.IsSet(AdminListenFlag.Name) {
		cfg.Server.AdminListen = ctx.String(AdminListenFlag.Name)
	}
	if ctx.IsSet(LogLevelFlag.Name) {
		cfg.Log.Level = ctx.String(LogLevelFlag.Name)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var etcd *registry.EtcdRegistry
	if len(cfg.Etcd.Endpoints) > 0 {
		etcd, err = registry.NewEtcdRegistry(cfg.Etcd.Endpoints, logger.Named("registry"))
		if err != nil {
			return err
		}
		defer etcd.Close()
	}

	store, err := keyStore(cfg.Keys, etcd)
	if err != nil {
		return err
	}
	manager := keys.NewManager(store)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := server.NewServer(
		server.WithLogger(logger.Named("server")),
		server.WithPath(cfg.Server.Path),
	)
	srv.Use(middleware.Logging(logger.Named("calls")))
	srv.Use(middleware.Metrics(promRegistry))
	if cfg.Server.RateLimit > 0 {
		srv.Use(middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}
	if cfg.Server.CallTimeout > 0 {
		srv.Use(middleware.Timeout(cfg.Server.CallTimeout))
	}

	// Feature history is only kept when something can read it.
	var history *features.HistoryHandler
	if cfg.Server.AdminListen != "" && cfg.Server.AdminToken != "" {
		history = features.NewHistoryHandler(cfg.Server.AdminToken)
	}
	if err := mountNamespaces(ctx.Context, srv, cfg, manager, history, logger); err != nil {
		return err
	}

	var reg registry.Registry
	if etcd != nil && cfg.Etcd.Register {
		if cfg.Server.AdvertiseAddr == "" {
			return errors.New("etcd registration needs server.advertiseAddress")
		}
		reg = etcd
	}

	var admin *http.Server
	if cfg.Server.AdminListen != "" {
		admin = adminServer(cfg.Server, promRegistry, manager, history, logger)
		go func() {
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin server stopped", zap.Error(err))
			}
		}()
	}

	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve("tcp", cfg.Server.Listen, cfg.Server.AdvertiseAddr, reg)
	}()

	select {
	case err := <-errc:
		return err
	case <-sigCtx.Done():
		logger.Info("shutting down")
	}

	if admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		admin.Shutdown(shutdownCtx)
		cancel()
	}
	if err := srv.Shutdown(cfg.Server.ShutdownGrace); err != nil {
		return err
	}
	return <-errc
}

func keyStore(cfg config.KeyStoreConfig, etcd *registry.EtcdRegistry) (keys.Store, error) {
	switch cfg.Backend {
	case "memory":
		return keys.NewMemoryStore(), nil
	case "", "file":
		return keys.NewFileStore(cfg.Path), nil
	case "etcd":
		if etcd == nil {
			return nil, errors.New("etcd key store needs etcd.endpoints")
		}
		return keys.NewEtcdStore(etcd.Client(), cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown key store backend %q", cfg.Backend)
	}
}

// mountNamespaces mounts one product dispatcher per configured namespace, or
// the default namespace when none is configured. Keys missing from the
// configuration come from the key store. With a non-nil history, each
// namespace records its feature changes into a bounded store published there.
func mountNamespaces(ctx context.Context, srv *server.Server, cfg config.Config, manager *keys.Manager, history *features.HistoryHandler, logger *zap.Logger) error {
	namespaces := cfg.Namespaces
	if len(namespaces) == 0 {
		namespaces = []config.NamespaceConfig{{Name: server.DefaultNamespace}}
	}

	for _, ns := range namespaces {
		creds := keys.Credentials{PublicKey: ns.PublicKey, SecretKey: ns.SecretKey}
		if creds.PublicKey == "" || creds.SecretKey == "" {
			stored, err := manager.Load(ctx, ns.Name)
			if err != nil {
				return err
			}
			if creds.PublicKey == "" {
				creds.PublicKey = stored.PublicKey
			}
			if creds.SecretKey == "" {
				creds.SecretKey = stored.SecretKey
			}
		}
		if err := creds.Validate(); err != nil {
			return fmt.Errorf("namespace %s: %w", ns.Name, err)
		}

		box, err := cryptobox.New(cfg.Server.Scheme, creds.SecretKey)
		if err != nil {
			return err
		}
		var store features.Store
		if history != nil {
			mem := features.NewMemoryStore(0)
			history.Add(ns.Name, mem)
			store = mem
		}
		handler := features.NewHandler(ns.Name, store, logger.Named("features"))
		d, err := server.NewDispatcher(creds.SecretKey, creds.PublicKey, ns.Name, handler,
			server.WithRootNamespace(cfg.Server.RootNamespace),
			server.WithBox(box),
		)
		if err != nil {
			return fmt.Errorf("namespace %s: %w", ns.Name, err)
		}
		if err := srv.Mount(d); err != nil {
			return err
		}
	}
	return nil
}

// adminServer exposes /metrics, the save-keys action and, when history is set,
// the feature history. Saved keys take effect for a namespace on the next
// restart.
func adminServer(cfg config.ServerConfig, gatherer prometheus.Gatherer, manager *keys.Manager, history *features.HistoryHandler, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/keys/{namespace}", keys.NewHandler(manager, cfg.AdminToken, logger.Named("keys")))
	if history != nil {
		mux.Handle("/features/{namespace}", history)
	}
	return &http.Server{
		Addr:              cfg.AdminListen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(logger.Named("admin")),
	}
}
