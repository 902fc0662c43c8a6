package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"VentaBot/ai/gpt"
	"VentaBot/bot"
	"VentaBot/bot/cloudapi"
	botsession "VentaBot/bot/session"
	"VentaBot/entity"
	"VentaBot/internal/config"
	repository "VentaBot/internal/database"
	"VentaBot/internal/http-server/api"
	"VentaBot/internal/lib/logger"
	"VentaBot/internal/lib/sl"
	"VentaBot/internal/service/aggregator"
	"VentaBot/internal/service/dispatcher"
	"VentaBot/internal/service/followup"
	"VentaBot/internal/service/normalizer"

	"github.com/joho/godotenv"
)

func main() {

	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "/var/log/", "path to log file directory")
	flag.Parse()

	_ = godotenv.Load()

	conf := config.MustLoad(*configPath)
	lg := logger.SetupLogger(conf.Env, *logPath)

	// Operator alert bot: warn/error logs and order reports go to Telegram.
	var tgBot *bot.TgBot
	if conf.Telegram.Enabled {
		var err error
		tgBot, err = bot.NewTgBot(conf.Telegram.BotName, conf.Telegram.ApiKey, conf.Telegram.AdminId, lg)
		if err != nil {
			lg.Error("failed to initialize telegram bot", slog.String("error", err.Error()))
		} else {
			lg = logger.SetupTelegramHandler(lg, tgBot, slog.LevelWarn)
			lg.With(
				slog.String("bot_name", conf.Telegram.BotName),
			).Info("telegram bot initialized")

			go func() {
				if err := tgBot.Start(); err != nil {
					lg.Error("telegram bot error", slog.String("error", err.Error()))
				}
			}()
		}
	}

	lg.Info("starting ventabot", slog.String("config", *configPath), slog.String("env", conf.Env))
	lg.Debug("debug messages enabled")

	db, err := repository.NewMongoClient(conf, lg)
	if err != nil {
		lg.Error("mongo client", sl.Err(err))
		return
	}
	if err = db.EnsureIndexes(); err != nil {
		lg.Error("mongo indexes", sl.Err(err))
	}
	lg.With(
		slog.String("host", conf.Mongo.Host),
		slog.String("port", conf.Mongo.Port),
		slog.String("database", conf.Mongo.Database),
	).Info("mongo client initialized")

	seller := gpt.NewSeller(conf, lg)
	lg.With(
		sl.Secret("openai_key", conf.OpenAI.ApiKey),
		slog.String("model", conf.OpenAI.ChatModel),
	).Info("seller initialized")

	norm := normalizer.New(seller, seller, lg)
	disp := dispatcher.New(db,
		time.Duration(conf.Pipeline.TypingMinMs)*time.Millisecond,
		time.Duration(conf.Pipeline.TypingMaxMs)*time.Millisecond,
		lg)

	credStore, err := botsession.NewCredStore(conf.Session.CredsDir)
	if err != nil {
		lg.Error("cred store", sl.Err(err))
		return
	}

	// The resolver is filled after the session manager exists; both sides
	// need it.
	var sessions *botsession.Manager
	resolver := func(b *entity.Bot) (bot.Channel, error) {
		if b.Channel == entity.ChannelSession {
			sess, ok := sessions.Session(b.ID.Hex())
			if !ok {
				return nil, fmt.Errorf("no live session for bot %s", b.ID.Hex())
			}
			return sess, nil
		}
		return cloudapi.NewClient(b, lg), nil
	}

	agg := aggregator.New(db, norm, seller, disp, resolver,
		time.Duration(conf.Pipeline.DebounceSeconds)*time.Second,
		conf.Pipeline.HistoryLimit,
		conf.Pipeline.MaxSegmentChars,
		lg)

	// Both transports feed this one pipeline; every event gets its own
	// goroutine so debounce sleeps never block ingestion.
	sink := func(b *entity.Bot, ev entity.InboundEvent) {
		go func() {
			if err := agg.HandleInbound(b, ev); err != nil {
				lg.With(
					slog.String("bot", b.ID.Hex()),
					slog.String("customer", ev.From),
				).Error("inbound processing failed", sl.Err(err))
			}
		}()
	}

	sessions = botsession.NewManager(conf.Session.GatewayURL,
		time.Duration(conf.Session.ReconnectSeconds)*time.Second,
		credStore, db, botsession.Sink(sink), lg)
	if conf.Session.GatewayURL != "" {
		if err := sessions.StartAll(); err != nil {
			lg.Error("session startup", sl.Err(err))
		}
	}

	worker := followup.NewWorker(db, seller, resolver,
		time.Duration(conf.Pipeline.FollowUpPollSeconds)*time.Second, lg)
	go worker.Run(context.Background())

	gateway := cloudapi.NewGateway(db, cloudapi.Sink(sink), lg)

	// *** blocking start with http server ***
	err = api.New(conf, lg, api.Handler{
		Gateway:  gateway,
		Sessions: sessions,
		Chats:    db,
	})
	if err != nil {
		lg.Error("server start", sl.Err(err))
		return
	}
	lg.Error("service stopped")
}
