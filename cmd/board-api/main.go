package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"sprint-board/api"
	"sprint-board/internal/config"
	"sprint-board/storage"
	"sprint-board/stream"
)

func main() {
	if config.Debug() {
		log.SetLevel(log.DebugLevel)
	}
	connStr, storeCfg, err := config.Storage()
	if err != nil {
		log.Fatal(err)
	}
	base, err := storage.New(connStr, storeCfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisOpts, err := config.Redis()
	if err != nil {
		log.Fatal(err)
	}
	rc := redis.NewClient(redisOpts)
	cacheTTL, err := config.Duration("BOARD_CACHE_TTL", 5*time.Minute)
	if err != nil {
		log.Fatal(err)
	}
	store := storage.NewCache(base, rc, cacheTTL)

	dedupeTTL, err := config.Duration("DEDUPER_TTL", 24*time.Hour)
	if err != nil {
		log.Fatal(err)
	}
	deduper := api.NewRedisDeduper(rc, dedupeTTL)

	auth, err := newAuth()
	if err != nil {
		log.Fatal(err)
	}

	previewRate, err := config.Float("PREVIEW_RATE_LIMIT", 20)
	if err != nil {
		log.Fatal(err)
	}
	previewBurst, err := config.Int("PREVIEW_RATE_BURST", 40)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := stream.NewHub()
	updatesChannel := os.Getenv("BOARD_UPDATES_CHANNEL")
	if updatesChannel == "" {
		updatesChannel = "board-updates"
	}
	go hub.Run(ctx, rc, updatesChannel)

	logger := log.New()
	logger.SetLevel(log.GetLevel())
	sender := api.NewCommitSender(api.SenderConfigFromEnv(), store, deduper, stream.NewPublisher(rc, updatesChannel), logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins(),
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))
	if config.Debug() {
		pprof.Register(e)
	}

	api.Register(e, api.Deps{
		Store:        store,
		Auth:         auth,
		Deduper:      deduper,
		Sender:       sender,
		Notifier:     hub,
		Logger:       logger,
		PreviewRate:  rate.Limit(previewRate),
		PreviewBurst: previewBurst,
	})

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	go func() {
		if err := e.Start(listenAddr); err != nil {
			log.Info(err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
	sender.Close()
	_ = rc.Close()
}

func newAuth() (*api.Auth, error) {
	ttl, err := config.Duration("JWKS_CACHE_TTL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(os.Getenv("LOCAL_AUTH_MODE"), "hs256") {
		secret := os.Getenv("LOCAL_AUTH_SHARED_SECRET")
		if secret == "" {
			return nil, fmt.Errorf("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
		return api.NewAuth(api.AuthConfig{SharedSecret: []byte(secret), KeyCacheTTL: ttl}), nil
	}

	audience := os.Getenv("AUTH0_AUDIENCE")
	domain := os.Getenv("AUTH0_DOMAIN")
	if audience == "" || domain == "" {
		return nil, fmt.Errorf("missing Auth0 config")
	}
	jwks, err := keyfunc.Get(fmt.Sprintf("https://%s/.well-known/jwks.json", domain), keyfunc.Options{})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(api.AuthConfig{
		JWKS:        jwks,
		Audience:    audience,
		Issuer:      "https://" + domain + "/",
		KeyCacheTTL: ttl,
	}), nil
}

func allowedOrigins() []string {
	v := os.Getenv("CORS_ALLOWED_ORIGINS")
	if v == "" {
		return []string{"*"}
	}
	return strings.Split(v, ",")
}
