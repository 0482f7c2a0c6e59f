package main

import (
	"context"
	"log"
	"time"

	"clave-backend/internal/auth"
	"clave-backend/internal/chat"
	"clave-backend/internal/media"
	"clave-backend/internal/server"
	"clave-backend/internal/storage"

	"github.com/caarlos0/env/v6"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("zap.NewDevelopment: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()
	sugar.Info("Application is starting")

	srvCfg := server.EnvConfig{}
	if err := env.Parse(&srvCfg); err != nil {
		sugar.Fatalf("Cannot parse server env config: %v", err)
	}

	storeCfg := storage.Config{}
	if err := env.Parse(&storeCfg); err != nil {
		sugar.Fatalf("Cannot parse storage env config: %v", err)
	}

	authCfg := auth.Config{}
	if err := env.Parse(&authCfg); err != nil {
		sugar.Fatalf("Cannot parse auth env config: %v", err)
	}

	mediaCfg := media.Config{}
	if err := env.Parse(&mediaCfg); err != nil {
		sugar.Fatalf("Cannot parse media env config: %v", err)
	}

	store, err := storage.New(sugar, storeCfg, storage.ConnectionTimeout(30*time.Second))
	if err != nil {
		sugar.Fatalf("Cannot create Store instance: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		sugar.Fatalf("Cannot apply schema: %v", err)
	}

	gateway := auth.NewGateway(sugar, store, auth.LogResetter{Logger: sugar}, authCfg)
	chats := chat.NewService(sugar, store)

	blobs, err := media.NewStore(sugar, mediaCfg)
	if err != nil {
		sugar.Fatalf("Cannot create media Store instance: %v", err)
	}

	serverOpts := []server.Option{
		server.WithEnvConfig(srvCfg),
		server.ReadTimeout(5 * time.Second),
		server.RequestTimeout(10 * time.Second),
		server.RegisterAfterShutdown(store.Close),
	}

	srv, err := server.NewServer(sugar, gateway, chats, blobs, serverOpts...)
	if err != nil {
		sugar.Fatalf("Cannot create Server instance: %v", err)
	}

	if err := srv.Start(); err != nil {
		sugar.Fatalf("Cannot start http srv: %v", err)
	}
}
