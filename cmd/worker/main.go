package main

import (
	"context"
	"os/signal"
	"syscall"

	"ralph/internal/events"
	"ralph/internal/store"
	"ralph/internal/worker"
	"ralph/pkg/config"
	"ralph/pkg/notify"

	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}
	config.InitLogger(cfg.Log, true)

	db, err := config.InitDB(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect database: ", err)
	}

	conn, err := config.InitRabbitMQ(cfg.RabbitMQ)
	if err != nil {
		log.Fatal("Failed to connect RabbitMQ: ", err)
	}
	defer conn.Close()

	consumer, err := config.NewConsumer(conn, events.QueueTickEvents)
	if err != nil {
		log.Fatal("Failed to create consumer: ", err)
	}
	defer consumer.Close()

	h := &worker.Handler{
		Events: store.NewTickEventStore(db),
		Notify: newNotifier(cfg.Notify),
		Log:    log.WithField("component", "worker"),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Infof("Tick event worker started, consuming %s", events.QueueTickEvents)
	err = consumer.Consume(ctx, func(msg []byte) error {
		return h.Handle(ctx, msg)
	})
	if err != nil && ctx.Err() == nil {
		log.Fatal("Consumer stopped: ", err)
	}
	log.Info("Worker stopped")
}

func newNotifier(cfg config.NotifyConfig) *notify.Service {
	svc := notify.NewService()
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.WithError(err).Warn("telegram notifications disabled")
		} else {
			svc.Add(tg)
		}
	}
	if cfg.SlackToken != "" && cfg.SlackChannel != "" {
		svc.Add(notify.NewSlack(cfg.SlackToken, cfg.SlackChannel))
	}
	if !svc.Enabled() {
		log.Info("No notification platform configured")
	}
	return svc
}
