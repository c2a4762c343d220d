package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"xstream/internal/application/usecase/feed"
	"xstream/internal/infrastructure/config"
	"xstream/internal/infrastructure/logger"
	"xstream/internal/infrastructure/svc"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	logger.Setup("info")
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("service context init failed")
	}
	defer func() {
		if err := sc.Close(); err != nil {
			log.Error().Err(err).Msg("close resources failed")
		}
	}()

	service := feed.NewService(sc.BuildFeedServiceDeps())

	log.Info().
		Str("config", *configPath).
		Strs("symbols", cfg.Symbols.List).
		Bool("user_data", cfg.Streams.UserData).
		Int("print_every_min", cfg.App.PrintEveryMin).
		Msg("xstream started")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("feed service exited")
	}
}
