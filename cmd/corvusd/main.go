package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/corvusdb/corvus/internal/cnet"
	"github.com/corvusdb/corvus/internal/config"
	"github.com/corvusdb/corvus/internal/engine/mem"
	"github.com/corvusdb/corvus/internal/observability"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var (
	Commit string
)

func main() {
	if len(os.Args) > 2 {
		log.Fatal("invalid args")
	}
	confPath := ""
	if len(os.Args) == 2 {
		confPath = os.Args[1]
	}
	var conf config.Config
	if err := loadConfig(confPath, &conf); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	logLevel := parseLogLevel(conf.Log.Level)
	var logger *slog.Logger
	switch conf.Log.Type {
	case "json":
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		}))
	default:
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		}))
	}

	logger.Info("starting corvus server")
	logger.Info(fmt.Sprintf("commit: %s", Commit))

	shutdownObs, err := observability.Init(ctx, conf.Observability, logger)
	if err != nil {
		logger.Error(fmt.Errorf("init observability: %w", err).Error())
		os.Exit(1)
	}
	defer func() {
		if err := shutdownObs(context.Background()); err != nil {
			logger.Error("shutdown observability", "err", err)
		}
	}()

	serverConf, err := conf.ParseServerConfig()
	if err != nil {
		logger.Error(fmt.Errorf("parse server conf: %w", err).Error())
		os.Exit(1)
	}

	factory := mem.NewFactory()

	server, err := cnet.NewServer(*serverConf, factory, logger)
	if err != nil {
		logger.Error(fmt.Errorf("create server: %w", err).Error())
		os.Exit(1)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(ctx)
	})
	if err := g.Wait(); err != nil {
		logger.Error(fmt.Errorf("listen and serve: %w", err).Error())
	}
}

func parseLogLevel(name string) slog.Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadConfig(filePath string, cfg *config.Config) error {
	paths := []string{}

	if filePath == "" {
		paths = append(paths, "./config.yaml", "conf/config.yaml", "config/config.yaml")
	} else {
		paths = append(paths, filePath)
	}

	for _, p := range paths {
		f, err := os.Open(p)
		if err == nil {
			defer f.Close()
			log.Printf("found config file in: %s\n", p)
			data, err := io.ReadAll(f)
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return fmt.Errorf("unmarshal config: %w", err)
			}

			cfg.SetDefaults()
			return nil
		}
	}

	if filePath == "" {
		cfg.SetDefaults()
		return nil
	}

	return fmt.Errorf("failed to find config in: %v", paths)
}
