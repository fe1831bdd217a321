package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	alertx "github.com/Crohns-Kate/echo-desk-sub000/agent/alert"
	inferencex "github.com/Crohns-Kate/echo-desk-sub000/agent/inference"
	promptx "github.com/Crohns-Kate/echo-desk-sub000/agent/prompt"
	statex "github.com/Crohns-Kate/echo-desk-sub000/agent/state"
	turnx "github.com/Crohns-Kate/echo-desk-sub000/agent/turn"
	configx "github.com/Crohns-Kate/echo-desk-sub000/pkg/config"
	_ "github.com/Crohns-Kate/echo-desk-sub000/pkg/logger/autoload"
	openrouterx "github.com/Crohns-Kate/echo-desk-sub000/pkg/openrouter"
	schedulingx "github.com/Crohns-Kate/echo-desk-sub000/pkg/scheduling"
	smsx "github.com/Crohns-Kate/echo-desk-sub000/pkg/sms"
	serverx "github.com/Crohns-Kate/echo-desk-sub000/server"
)

type AppConfig struct {
	AlertsDSN string `envconfig:"ALERTS_DSN" required:"true"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("")

	openRouterCfg := configx.MustNew[openrouterx.Config]("OPENROUTER")
	chatModel, err := openRouterCfg.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("build chat model")
	}

	prompts := promptx.LoadPromptSet()
	engine, err := inferencex.NewEngine(ctx, chatModel, prompts.Receptionist)
	if err != nil {
		log.Fatal().Err(err).Msg("build inference engine")
	}

	storeCfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
	store, err := statex.NewUpstashRedisStore(*storeCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build context store")
	}

	scheduler := schedulingx.MustNew(*configx.MustNew[schedulingx.Config]("SCHEDULING"))
	notifier := smsx.MustNew(*configx.MustNew[smsx.Config]("SMS"))

	alerts, err := alertx.NewStore(appCfg.AlertsDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open alert store")
	}
	defer func() { _ = alerts.Close() }()
	if err := alerts.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate alert store")
	}

	processor, err := turnx.New(ctx, store, engine, scheduler, notifier, alerts)
	if err != nil {
		log.Fatal().Err(err).Msg("build turn processor")
	}

	srv, err := serverx.New(*configx.MustNew[serverx.Config]("SERVER"), processor)
	if err != nil {
		log.Fatal().Err(err).Msg("build webhook server")
	}
	if err := srv.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("webhook server stopped")
	}
	log.Info().Msg("shutdown complete")
}
