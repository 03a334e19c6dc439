package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/5g-mag/mbs-traffic-function/pkg/api"
	"github.com/5g-mag/mbs-traffic-function/pkg/config"
	"github.com/5g-mag/mbs-traffic-function/pkg/controller"
	"github.com/5g-mag/mbs-traffic-function/pkg/log"
	"github.com/5g-mag/mbs-traffic-function/pkg/manifest"
	"github.com/5g-mag/mbs-traffic-function/pkg/metrics"
	"github.com/5g-mag/mbs-traffic-function/pkg/objectstore"
	"github.com/5g-mag/mbs-traffic-function/pkg/session"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "mbstf",
	Short:   "MBS Traffic Function - 5G Multicast/Broadcast distribution session server",
	Long:    `mbstf runs the nmbstf-distsession API: it accepts Distribution Session requests, ingests objects by pull or push, and forwards them to a multicast transmitter.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"mbstf version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	serveCmd.Flags().String("config", "", "Path to the mbstf YAML configuration file (defaults are used if omitted)")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Listen address for /metrics, /health, /ready, /live")
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the distribution session API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store := objectstore.NewStore("mbstf")
	defer store.Close()
	store.Bus().Subscribe(metrics.NewStoreEventRecorder())

	manifestRegistry := manifest.NewRegistry()
	manifestRegistry.Register(manifest.DASHContentType, manifest.DASHFactoryPriority(), manifest.NewDASHHandler)

	factory := controller.NewFactory()
	factory.Register("object-list", controller.ObjectListControllerPriority, controller.NewObjectListController)
	factory.Register("object-streaming", controller.ObjectStreamingControllerPriority, controller.NewObjectStreamingController)

	registry := session.NewRegistry()

	collector := metrics.NewCollector(registry, func() map[string]*objectstore.Store {
		return map[string]*objectstore.Store{"default": store}
	})
	collector.Start()
	defer collector.Stop()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("objectStore", true, "ready")
	metrics.RegisterComponent("pushIngest", true, "ready")
	metrics.RegisterComponent("distSessionAPI", false, "initializing")

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.Handle("/health", metrics.HealthHandler())
	metricsMux.Handle("/ready", metrics.ReadyHandler())
	metricsMux.Handle("/live", metrics.LivenessHandler())
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()
	log.Logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

	apiCfg := api.Config{
		Info: api.ServerInfo{
			ServerName: serviceName(cfg.MBSTF.ServiceName),
			APIRelease: "1.0.0",
			AppName:    "mbstf",
			AppVersion: Version,
		},
		CacheControl: api.CacheControl{
			DistMaxAge:   cfg.MBSTF.ServerResponseCacheCtrl.DistMaxAge,
			ObjectMaxAge: cfg.MBSTF.ServerResponseCacheCtrl.ObjectMaxAge,
		},
	}
	srv := api.NewServer(apiCfg, registry, factory, store, manifestRegistry)

	distAddr := listenAddr(cfg.MBSTF.DistSessionAPI, "0.0.0.0", 8080)
	httpSrv := &http.Server{Addr: distAddr, Handler: srv.Handler()}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("distribution session API server: %w", err)
		}
	}()

	time.Sleep(200 * time.Millisecond)
	metrics.RegisterComponent("distSessionAPI", true, "ready")
	log.Logger.Info().Str("addr", distAddr).Msg("distribution session API listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("shutting down")
	case err := <-errCh:
		log.Logger.Error().Err(err).Msg("server error, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	for _, sess := range registry.Snapshot() {
		if sess.Controller != nil {
			sess.Controller.Close()
		}
	}

	log.Logger.Info().Msg("shutdown complete")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Parse(nil)
	}
	return config.Load(path)
}

func serviceName(configured string) string {
	if configured != "" {
		return configured
	}
	return "mbstf"
}

// listenAddr picks the first configured address/port pair for sa,
// falling back to defaultHost/defaultPort when either is unset.
func listenAddr(sa config.ServerAddr, defaultHost string, defaultPort int) string {
	host := defaultHost
	if len(sa.Addr) > 0 && sa.Addr[0] != "" {
		host = sa.Addr[0]
	}
	port := defaultPort
	if sa.Port != 0 {
		port = sa.Port
	}
	return fmt.Sprintf("%s:%d", host, port)
}
