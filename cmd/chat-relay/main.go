package main

import (
	"context"
	"time"

	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/api"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/auth"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/config"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/connection"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/database"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/event"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/logger"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/presence"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/relay"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/server"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/storage"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/utils"
)

func main() {
	cfg, err := config.ReadConfig()
	if err != nil {
		logger.FatalF("Error occured while reading config %v", err)
		return
	}
	loggerCallback := logger.Init()
	logger.Debug("Application initializing...")
	cleaner := event.NewCleaner()
	cleaner.Init(loggerCallback)
	defer cleaner.Clean()

	stores, err := database.OpenStores(cfg)
	if err != nil {
		logger.FatalF("Error occured while initializing database, details: %v", err)
		return
	}

	blobs, err := storage.NewDiskStore(cfg.Relay.UploadDir)
	if err != nil {
		logger.FatalF("Error occured while preparing upload directory, details: %v", err)
		return
	}

	tokens := auth.NewTokens(auth.TokenOptions{
		Secret: []byte(cfg.Auth.JWTSecret),
		TTL:    utils.ParseStringTimeOr(cfg.Auth.TokenTTL, 7*24*time.Hour),
	})
	verifier := auth.NewVerifier(tokens, stores.Users, cfg.Auth.UserCacheSize,
		utils.ParseStringTimeOr(cfg.Auth.UserCacheTTL, time.Minute))

	var mirror relay.PresenceMirror
	if cfg.Redis.Enabled() {
		ttl := utils.ParseStringTimeOr(cfg.Redis.TTL, time.Minute)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		sink, err := presence.NewRedisSink(ctx, cfg.Redis, ttl)
		cancel()
		if err != nil {
			logger.FatalF("Error occured while connecting to redis, details: %v", err)
			return
		}
		publisher := presence.NewPublisher(sink, ttl/2)
		publisher.Start()
		cleaner.Add(publisher)
		mirror = publisher
	}

	registry := connection.NewRegistry()
	hub := relay.NewHub(relay.Options{
		PingInterval:    cfg.Relay.PingIntervalDuration(),
		PongTimeout:     cfg.Relay.PongTimeoutDuration(),
		VerifyTimeout:   cfg.Relay.VerifyTimeoutDuration(),
		CloseUnverified: cfg.Relay.CloseUnverified,
	}, registry, verifier, relay.NewBroadcaster(registry, mirror), relay.NewRouter(registry, stores.Messages, blobs))
	cleaner.Add(relay.NewHubCloseCallback(hub))

	handler := api.NewHandler(stores.Users, stores.Messages, tokens, verifier, api.Options{
		CookieName:   cfg.Auth.CookieName,
		TokenTTL:     utils.ParseStringTimeOr(cfg.Auth.TokenTTL, 7*24*time.Hour),
		SecureCookie: true,
	})

	srv := server.New(cfg, hub, handler, blobs.Dir())
	cleaner.Add(server.NewServerCloseCallback(srv))
	if err = srv.StartServer(); err != nil {
		logger.FatalF("Chat relay stopped, details: %v", err)
	}
}
