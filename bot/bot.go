package bot

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"chat-registry-bot/db"
	"chat-registry-bot/membership"
	"chat-registry-bot/mutex"
	"chat-registry-bot/session"
	"chat-registry-bot/templates"
)

type Config struct {
	TelegramBotToken string
	DatabaseAddress  string
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string
	RedisAddress     string
	HTTPAddress      string
	// WebhookURL switches update delivery from long polling to a
	// webhook served on WebhookListen.
	WebhookURL    *string
	WebhookListen string
	Debug         bool
}

func Start(ctx context.Context, config Config, confirm chan<- struct{}) error {
	dbService := db.New(
		config.DatabaseAddress,
		config.DatabaseUser,
		config.DatabasePassword,
		config.DatabaseName,
	)
	if config.Debug {
		dbService.EnableDebug()
	}
	if err := dbService.InitSchema(ctx); err != nil {
		return err
	}
	sessions := session.New(config.RedisAddress)
	mutexBuilder := mutex.NewBuilder(config.RedisAddress)

	var poller tele.Poller = &tele.LongPoller{
		Timeout: time.Second * 10,
	}
	if config.WebhookURL != nil {
		poller = &tele.Webhook{
			Listen:   config.WebhookListen,
			Endpoint: &tele.WebhookEndpoint{PublicURL: *config.WebhookURL},
		}
	}
	s := tele.Settings{
		Token:  config.TelegramBotToken,
		Poller: poller,
	}
	bot, err := tele.NewBot(s)
	if err != nil {
		return errors.Wrap(err, "error during creation of a new bot")
	}

	reconciler := membership.NewReconciler(
		dbService,
		telegramAdmins{bot: bot},
		chatLocks{mb: mutexBuilder},
		bot.Me.ID,
		bot.Me.FirstName,
	)
	botService := NewService(dbService, sessions, reconciler, bot)

	bot.Handle("/start", botService.Start)
	bot.Handle("/settings", botService.Settings)
	bot.Handle("/help", func(context tele.Context) error {
		return context.Send(templates.Help)
	})
	bot.Handle("/back", func(context tele.Context) error {
		return context.Send(templates.Back)
	})
	bot.Handle("/cancel", func(context tele.Context) error {
		return context.Send(templates.Cancel)
	})
	bot.Handle(tele.OnMyChatMember, botService.MyChatMember)

	bot.OnError = botService.HandleError

	registerCommands(bot)

	router := mux.NewRouter()
	router.Methods(http.MethodGet).Path("/health").HandlerFunc(botService.HandleHealth)
	go func() {
		err := http.ListenAndServe(config.HTTPAddress, router)
		log.Fatal().Err(err).Msg("http server stopped")
	}()

	go func() {
		<-ctx.Done()
		bot.Stop()
		confirm <- struct{}{}
	}()

	log.Info().
		Int64("id", bot.Me.ID).
		Str("username", bot.Me.Username).
		Msg("bot started")
	// Blocks until stop
	bot.Start()
	return nil
}

var botCommands = []tele.Command{
	{Text: "start", Description: "Start interaction with the bot"},
	{Text: "help", Description: "Display help information"},
	{Text: "settings", Description: "Display bot settings"},
	{Text: "back", Description: "Go back to the previous step"},
	{Text: "cancel", Description: "Cancel the current operation"},
}

// registerCommands republishes the command list. Failures only cost
// command completion in clients, so they are logged and ignored.
func registerCommands(bot *tele.Bot) {
	if _, err := bot.DeleteCommands(); err != nil {
		log.Warn().Err(err).Msg("unable to delete previously registered commands")
	}
	if err := bot.SetCommands(botCommands); err != nil {
		log.Warn().Err(err).Msg("unable to register commands")
		return
	}
	log.Info().Msg("bot commands registered")
}
