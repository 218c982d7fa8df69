package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/npezzotti/go-intranet-chat/internal/api"
	"github.com/npezzotti/go-intranet-chat/internal/cache"
	"github.com/npezzotti/go-intranet-chat/internal/config"
	"github.com/npezzotti/go-intranet-chat/internal/database"
	"github.com/npezzotti/go-intranet-chat/internal/server"
	"github.com/npezzotti/go-intranet-chat/internal/stats"
	"github.com/redis/go-redis/v9"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

var (
	addr           string
	dsn            string
	signingKey     string
	redisAddr      string
	muteCacheTTL   time.Duration
	allowedOrigins stringSliceFlag
)

func main() {
	logger := log.New(os.Stderr, "[intranet-chat] ", log.LstdFlags)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Println("load .env:", err)
	}

	defaultTTL, err := time.ParseDuration(envOr("CHAT_MUTE_CACHE_TTL", config.DefaultMuteCacheTTL.String()))
	if err != nil {
		logger.Fatal("CHAT_MUTE_CACHE_TTL:", err)
	}

	if origins := os.Getenv("CHAT_ALLOWED_ORIGINS"); origins != "" {
		allowedOrigins.Set(origins)
	}

	flag.StringVar(&addr, "addr", envOr("CHAT_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", envOr("CHAT_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&signingKey, "signing-key", os.Getenv("CHAT_SIGNING_KEY"), "base64 encoded key shared with the auth service")
	flag.StringVar(&redisAddr, "redis-addr", os.Getenv("CHAT_REDIS_ADDR"), "redis address for the mute cache, empty to read mutes from the database")
	flag.DurationVar(&muteCacheTTL, "mute-cache-ttl", defaultTTL, "how long cached mute lists live")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins, redisAddr, muteCacheTTL)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	if err := dbConn.Migrate(); err != nil {
		logger.Fatal("db migrate:", err)
	}

	var mutes cache.MuteList = cache.NewDirectMuteList(dbConn)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Printf("redis ping %s: %v, mute lookups will fall back to the database", cfg.RedisAddr, err)
		}
		cancel()

		mutes = cache.NewRedisMuteList(rdb, dbConn, cfg.MuteCacheTTL, logger)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, dbConn, mutes, statsUpdater)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	srv := api.NewChatApp(mux, logger, chatServer, dbConn, mutes, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
