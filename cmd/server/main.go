package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ntealan/genaiti"
	"github.com/ntealan/genaiti/logger"
	"github.com/ntealan/genaiti/metrics"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML, TOML or JSON)")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	watch := flag.Bool("watch", true, "Reload the config file when it changes")
	flag.Parse()

	cfg := genaiti.DefaultConfig()
	if *configPath != "" {
		loaded, err := genaiti.LoadConfig(*configPath)
		if err != nil {
			logger.New(false).Fatal("server: loading config", zap.Error(err))
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	// Structured JSON logging.
	log := logger.NewWithWriter(os.Stdout, cfg.Debug, true)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Server.OTLPEndpoint != "" {
		shutdown, err := setupTracing(ctx, cfg.Server.OTLPEndpoint, version)
		if err != nil {
			log.Fatal("server: setting up tracing", zap.Error(err))
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				log.Warn("server: flushing traces", zap.Error(err))
			}
		}()
	}

	m := metrics.NewCollector("genaiti")
	a, err := genaiti.New(ctx, cfg, genaiti.WithLogger(log), genaiti.WithMetrics(m))
	if err != nil {
		log.Fatal("server: creating assistant", zap.Error(err))
	}
	defer a.Close()

	if *configPath != "" && *watch {
		go func() {
			err := genaiti.Watch(ctx, *configPath, log, func(next genaiti.Config) {
				// The listener keeps its address and credentials.
				next.Server = cfg.Server
				if err := a.Reload(ctx, next); err != nil {
					log.Warn("server: applying reloaded config", zap.Error(err))
				}
			})
			if err != nil {
				log.Warn("server: config watcher stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     newRouter(a, cfg.Server, m, log),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info("server: starting", zap.String("addr", cfg.Server.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server: listen failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("server: shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error("server: shutdown error", zap.Error(err))
	}
	log.Info("server: stopped")
}
