package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"proxy-fleet-evaluator/internal/cache"
	"proxy-fleet-evaluator/internal/evaluator"
	"proxy-fleet-evaluator/internal/fetch"
	"proxy-fleet-evaluator/internal/geoip"
	"proxy-fleet-evaluator/internal/httpapi"
	"proxy-fleet-evaluator/internal/kv"
	"proxy-fleet-evaluator/internal/probe"
	"proxy-fleet-evaluator/internal/publisher"
	"proxy-fleet-evaluator/internal/settings"
)

var log = logrus.New()

func main() {
	root := &cobra.Command{
		Use:   "evaluator",
		Short: "Fetches, probes and ranks proxy subscription feeds",
	}
	settings.BindFlags(root.PersistentFlags())

	root.AddCommand(serveCmd(), probeOnceCmd(), validateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(level string) {
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		log.Warnf("invalid log level %q, defaulting to info", level)
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
}

// serveCmd runs the HTTP surface and the periodic refresh loop. This is the
// primary mode.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and periodic refresh loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := settings.Load(cmd.Flags())
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)

			c, cleanup, err := buildCache(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go c.StartPeriodic(ctx)

			srv := httpapi.New(c, log)
			addr := fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort)
			httpServer := &http.Server{Addr: addr, Handler: srv}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				httpServer.Shutdown(shutdownCtx)
			}()

			log.WithField("addr", addr).Info("listening")
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		},
	}
}

// probeOnceCmd runs a single evaluation pass without starting the HTTP
// server or touching any cache state, mirroring the live-endpoint contract.
func probeOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe-once",
		Short: "Run a single evaluation pass and print the working server set",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := settings.Load(cmd.Flags())
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)

			eval, cleanup, err := buildEvaluator(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			top := eval.ComputeTopServers(ctx)
			log.WithField("count", len(top)).Info("evaluation complete")
			for _, d := range top {
				fmt.Println(d.RawURI)
			}
			return nil
		},
	}
}

// validateCmd checks that the xray binary and GeoIP database are reachable,
// surfacing the original tool's startup checks as an explicit CLI mode.
func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that the xray binary and GeoIP database are reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := settings.Load(cmd.Flags())
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)

			ok := true
			if _, err := os.Stat(cfg.XrayPath); err != nil {
				log.WithError(err).Errorf("xray binary not found at %s", cfg.XrayPath)
				ok = false
			} else {
				log.Infof("xray binary found at %s", cfg.XrayPath)
			}

			if _, err := os.Stat(cfg.GeoIPDBPath); err != nil {
				log.WithError(err).Warnf("GeoIP database not found at %s, lookups will default to UN", cfg.GeoIPDBPath)
			} else {
				log.Infof("GeoIP database found at %s", cfg.GeoIPDBPath)
			}

			if !ok {
				return fmt.Errorf("validation failed")
			}
			log.Info("validation passed")
			return nil
		},
	}
}

func buildEvaluator(cfg settings.Settings) (*evaluator.Evaluator, func(), error) {
	fetcher := fetch.New(log)

	geo := geoip.Open(cfg.GeoIPDBPath, log)

	prober := probe.New(probe.Settings{
		XrayPath:       cfg.XrayPath,
		XrayAssetsPath: cfg.XrayAssetsPath,
		BasePort:       cfg.BasePort,
		TestTimeout:    cfg.TestTimeoutDuration(),
		LatencyTestURL: cfg.LatencyTestURL,
	}, log)

	eval := evaluator.New(evaluator.Settings{
		SubURLs:          cfg.SubURLs,
		BatchSize:        cfg.BatchSize,
		MaxDelayMS:       cfg.MaxDelayMS,
		LowInternetCons:  cfg.LowInternetCons,
		LowInternetLimit: cfg.LowInternetLimit,
	}, fetcher, prober, geo, log)

	return eval, func() { geo.Close() }, nil
}

func buildCache(cfg settings.Settings) (*cache.Cache, func(), error) {
	eval, cleanupEval, err := buildEvaluator(cfg)
	if err != nil {
		return nil, nil, err
	}

	store := kv.New(kv.Options{
		Addr:     redisAddr(cfg),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, log)

	pub := publisher.New(publisher.Options{
		RepoURL:  cfg.GithubRepoURL,
		Token:    cfg.GithubToken,
		UserName: cfg.GithubUser,
		UserMail: cfg.GithubEmail,
		RepoDir:  cfg.GithubRepoDir,
		Branch:   cfg.GithubBranch,
	}, log)

	c := cache.New(cache.Settings{
		RefreshInterval: cfg.CacheIntervalDuration(),
		SiteCacheTTL:    cfg.SiteCacheTTLDuration(),
		PrecheckSites:   cfg.PrecheckSites,
		PublishFilename: cfg.GithubFilename,
		PublishEnabled:  cfg.GithubPushEnabled,
	}, eval, store, pub, log)

	cleanup := func() {
		cleanupEval()
		store.Close()
	}
	return c, cleanup, nil
}

func redisAddr(cfg settings.Settings) string {
	if cfg.RedisHost == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort)
}
