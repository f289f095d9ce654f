package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ralph/internal/agent"
	"ralph/internal/events"
	"ralph/internal/handlers"
	"ralph/internal/ledger"
	"ralph/internal/memory"
	"ralph/internal/middleware"
	"ralph/internal/routes"
	"ralph/internal/runlog"
	"ralph/internal/scheduler"
	"ralph/internal/store"
	"ralph/pkg/config"
	"ralph/pkg/jupiter"
	"ralph/pkg/llm"
	"ralph/pkg/signer"
	"ralph/pkg/solana"

	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}
	config.InitLogger(cfg.Log, false)

	db, err := config.InitDB(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect database: ", err)
	}
	if cfg.MigrateOnStart {
		if err := config.ExecuteMigrations(db); err != nil {
			log.Fatal("Failed to run migrations: ", err)
		}
	}

	mem, closeMem, err := openMemory(cfg.Memory)
	if err != nil {
		log.Fatal("Failed to open memory store: ", err)
	}
	defer closeMem()

	sgn, err := newSigner(cfg)
	if err != nil {
		log.Fatal("Failed to init signer: ", err)
	}

	blobs, err := runlog.NewFSStore(cfg.RunLogDir)
	if err != nil {
		log.Fatal("Failed to open run log dir: ", err)
	}

	rpc := solana.NewClient(cfg.RPCEndpoint)
	bots := store.NewBotStore(db)
	configs := store.NewLoopConfigStore(db, cfg.LoopEnabledDefault)
	trades := ledger.New(db)

	runner := &agent.Runner{
		RPC:        rpc,
		Aggregator: jupiter.NewClient(jupiter.Config{BaseURL: cfg.JupiterBaseURL, APIKey: cfg.JupiterAPIKey}),
		Signer:     sgn,
		Model:      llm.NewClient(llm.Config{BaseURL: cfg.LLMBaseURL, APIKey: cfg.LLMAPIKey, Model: cfg.LLMModel}),
		Memory:     mem,
		Ledger:     trades,
		Config:     configs,
		Bots:       bots,
	}

	hub := events.NewHub()
	sinks := events.MultiSink{hub}
	if cfg.RabbitMQ.Host != "" {
		conn, err := config.InitRabbitMQ(cfg.RabbitMQ)
		if err != nil {
			log.Fatal("Failed to connect RabbitMQ: ", err)
		}
		defer conn.Close()
		pub, err := config.NewPublisher(conn)
		if err != nil {
			log.Fatal("Failed to create publisher: ", err)
		}
		defer pub.Close()
		sinks = append(sinks, events.NewRabbitSink(pub))
		log.Info("RabbitMQ initialized successfully")
	} else {
		log.Info("RabbitMQ not configured, tick events stay in process")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := scheduler.NewRegistry(ctx, scheduler.Deps{
		Bots:    bots,
		Configs: configs,
		Alarms:  store.NewAlarmStore(db),
		Runner: &scheduler.AgentTickRunner{
			Agent:   runner,
			Configs: configs,
			Blobs:   blobs,
			Logger:  log.StandardLogger(),
		},
		Events:     sinks,
		Log:        log.WithField("component", "scheduler"),
		Interval:   cfg.TickInterval,
		MaxRuntime: cfg.MaxTickRuntime,
	})
	if n, err := registry.Restore(ctx); err != nil {
		log.WithError(err).Warn("Failed to restore alarms")
	} else {
		log.Infof("Restored %d bot alarms", n)
	}

	sweeper, err := scheduler.NewSweeper(registry, bots, cfg.SweepSpec)
	if err != nil {
		log.Fatal("Failed to create sweeper: ", err)
	}
	sweeper.Start()

	origins := middleware.ParseOrigins(cfg.AllowedOrigins)
	h := &handlers.Handler{
		Bots:           bots,
		Actors:         registry,
		Memory:         mem,
		Trades:         trades,
		RPC:            rpc,
		Signer:         sgn,
		SignerType:     cfg.SignerBackend,
		Logs:           blobs,
		Hub:            hub,
		AllowedOrigins: origins,
	}
	r := routes.SetupRouter(h, routes.Options{
		AllowedOrigins: origins,
		RateLimit: middleware.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		},
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.Infof("API listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown")
	}
	sweeper.Stop()
	cancel()
	registry.Shutdown()
}

func openMemory(cfg config.MemoryConfig) (memory.Store, func(), error) {
	switch cfg.Backend {
	case "badger":
		s, err := memory.OpenBadgerStore(cfg.BadgerPath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		client := memory.NewRedisClient(memory.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return memory.NewRedisStore(client), func() { _ = client.Close() }, nil
	}
}

func newSigner(cfg config.Config) (signer.Signer, error) {
	switch cfg.SignerBackend {
	case signer.BackendKeystore:
		if cfg.KeystoreDir == "" {
			return nil, errors.New("KEYSTORE_DIR is required for the keystore signer")
		}
		return signer.NewKeystoreSigner(solana.NewKeystore(cfg.KeystoreDir, cfg.KeystorePassword)), nil
	default:
		if cfg.PrivyAppID == "" || cfg.PrivyAppSecret == "" {
			return nil, errors.New("PRIVY_APP_ID and PRIVY_APP_SECRET are required for the privy signer")
		}
		cache := signer.NewAddressCache(1024, 10*time.Minute)
		return signer.NewPrivySigner(signer.PrivyConfig{
			AppID:     cfg.PrivyAppID,
			AppSecret: cfg.PrivyAppSecret,
			BaseURL:   cfg.PrivyBaseURL,
		}, cache), nil
	}
}
