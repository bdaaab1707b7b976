package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chat-registry-bot/bot"
)

func main() {
	_ = godotenv.Load()

	c := bot.Config{
		TelegramBotToken: os.Getenv("BOT_TOKEN"),
		DatabaseAddress:  getEnv("DATABASE_ADDRESS", ":5432"),
		DatabaseUser:     getEnv("DATABASE_USER", "bot"),
		DatabasePassword: os.Getenv("DATABASE_PASS"),
		DatabaseName:     getEnv("DATABASE_NAME", "bot"),
		RedisAddress:     getEnv("REDIS_ADDRESS", ":6379"),
		HTTPAddress:      getEnv("HTTP_ADDRESS", ":3000"),
		WebhookListen:    getEnv("BOT_WEBHOOK_LISTEN", ":8443"),
		Debug:            os.Getenv("BOT_DEBUG") == "true",
	}
	if url := os.Getenv("BOT_WEBHOOK_URL"); url != "" {
		c.WebhookURL = &url
	}

	setupLogger(c.Debug)

	if c.TelegramBotToken == "" {
		log.Fatal().Msg("BOT_TOKEN is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	confirm := make(chan struct{})
	go func() {
		if err := bot.Start(ctx, c, confirm); err != nil {
			log.Fatal().Err(err).Msg("bot stopped")
		}
	}()
	s := make(chan os.Signal, 1)
	signal.Notify(s, os.Interrupt, syscall.SIGTERM)
	<-s
	cancel()
	<-confirm
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func setupLogger(debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().
		Timestamp().
		Logger()
}
