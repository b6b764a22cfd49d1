package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/watchtowerbot/watchtower/internal/alert"
	"github.com/watchtowerbot/watchtower/internal/bot"
	"github.com/watchtowerbot/watchtower/internal/config"
	"github.com/watchtowerbot/watchtower/internal/db/sqlite"
	"github.com/watchtowerbot/watchtower/internal/detect"
	"github.com/watchtowerbot/watchtower/internal/engine"
	"github.com/watchtowerbot/watchtower/internal/infra"
	"github.com/watchtowerbot/watchtower/internal/lifecycle"
	"github.com/watchtowerbot/watchtower/internal/observability"
	"github.com/watchtowerbot/watchtower/internal/policy"
	"github.com/watchtowerbot/watchtower/internal/reports"
	"github.com/watchtowerbot/watchtower/internal/risk"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		// Configuration problems are fatal before any event is consumed.
		log.WithError(err).Fatalln("cant load config")
	}
	log.SetFormatter(&config.WtFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.Level(cfg.LogLevel))

	if err := observability.Init(ctx); err != nil {
		log.WithError(err).Fatalln("cant initialize observability")
	}

	infra.GoRecoverable(-1, "watchtower", func() {
		run(ctx, cfg)
	})
}

func run(ctx context.Context, cfg *config.Config) {
	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		log.WithError(err).Errorln("cant initialize bot api")
		time.Sleep(1 * time.Second)
		log.Fatalln("exiting")
	}
	if log.Level(cfg.LogLevel) == log.TraceLevel {
		botAPI.Debug = true
	}
	defer botAPI.StopReceivingUpdates()

	store, err := sqlite.NewSQLiteStore(ctx, infra.EnsureWorkDir(cfg.DotPath), "watchtower.db")
	if err != nil {
		log.WithError(err).Fatalln("cant open state store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Error("cant close state store")
		}
	}()

	telegram := bot.NewTelegram(botAPI, cfg.OperatorChatID)
	dispatcher := alert.NewDispatcher(telegram, cfg.Engine.AlertQueueSize)
	detector := detect.NewDetector(cfg.Lists)
	scorer := risk.NewScorer(cfg.Risk, cfg.Lists.SuspiciousNames)
	policyEngine := policy.NewEngine(cfg.Policy)
	reportsService := reports.NewService(store, telegram, cfg.Engine.AlertWindow)
	riskEngine := engine.New(telegram, telegram, store, detector, scorer, policyEngine, dispatcher, reportsService, cfg.Engine)

	runtime := lifecycle.NewRuntime()
	runtime.Register("metrics", observability.NewServer(cfg.MetricsAddr))
	runtime.Register("alert_dispatcher", dispatcher)
	runtime.Register("engine", riskEngine)

	if err := runtime.Start(ctx); err != nil {
		log.WithError(err).Fatalln("cant start runtime")
	}
	log.Info("watchtower is running")

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownGrace)
	defer stopCancel()
	if err := runtime.Stop(stopCtx); err != nil {
		log.WithError(err).Error("shutdown finished with errors")
	}
}
