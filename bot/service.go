package bot

import (
	ctx "context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"chat-registry-bot/db"
	"chat-registry-bot/membership"
	"chat-registry-bot/session"
	"chat-registry-bot/templates"
)

const errorNoticeTTL = time.Second * 4

// noticeSender is the slice of the bot API needed for the
// self-deleting error notice. *tele.Bot satisfies it.
type noticeSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Delete(msg tele.Editable) error
}

type Service struct {
	db         *db.DB
	sessions   *session.Store
	reconciler *membership.Reconciler
	bot        *tele.Bot
	notices    noticeSender
	noticeTTL  time.Duration
}

func NewService(
	db *db.DB,
	sessions *session.Store,
	reconciler *membership.Reconciler,
	bot *tele.Bot,
) *Service {
	return &Service{
		db:         db,
		sessions:   sessions,
		reconciler: reconciler,
		bot:        bot,
		notices:    bot,
		noticeTTL:  errorNoticeTTL,
	}
}

func (s *Service) Start(context tele.Context) error {
	if context.Chat().Type == tele.ChatPrivate {
		if err := s.registerPrivateChat(context); err != nil {
			return err
		}
	}
	markup := &tele.ReplyMarkup{}
	markup.Inline(markup.Row(markup.URL(
		templates.AddToChatButton,
		fmt.Sprintf("https://t.me/%v?startgroup=true", s.bot.Me.Username),
	)))
	return context.Send(templates.Start, markup)
}

// registerPrivateChat creates the chat record on the first /start of a
// session. The session flag only keeps repeat commands cheap; the
// create itself tolerates duplicates, so a lost or unreachable flag is
// not a correctness problem.
func (s *Service) registerPrivateChat(context tele.Context) error {
	sender := context.Sender()
	first, err := s.sessions.FirstStart(sender.ID)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", sender.ID).
			Msg("first start flag unavailable, falling back to tolerant create")
		first = true
	}
	if !first {
		return nil
	}
	return s.db.CreateChat(ctx.Background(), membership.ChatRecord{
		ChatID:    context.Chat().ID,
		Type:      string(tele.ChatPrivate),
		FirstName: sender.FirstName,
		LastName:  sender.LastName,
		Status:    membership.Available,
	})
}

// Settings reports what the registry has stored for the current chat.
func (s *Service) Settings(context tele.Context) error {
	chat, err := s.db.GetChat(ctx.Background(), context.Chat().ID)
	if err != nil && errors.Is(err, db.ErrNotFound) {
		return context.Send(templates.ChatUnknown)
	}
	if err != nil {
		return err
	}
	admins, err := s.db.ListAdministrators(ctx.Background(), chat.ChatID)
	if err != nil {
		return err
	}
	lines := []string{
		templates.Settings,
		fmt.Sprintf("Chat status: %v", chat.Status),
	}
	for _, admin := range admins {
		lines = append(lines, fmt.Sprintf("%v — %v", adminName(admin), admin.Status))
	}
	return context.Send(strings.Join(lines, "\r\n"))
}

// MyChatMember reacts to changes of the bot's own membership in a chat.
func (s *Service) MyChatMember(context tele.Context) error {
	update := context.ChatMember()
	if update == nil || update.OldChatMember == nil || update.NewChatMember == nil {
		return nil
	}
	var rawMember json.RawMessage
	if needsMemberPayload(membership.Status(update.NewChatMember.Role)) {
		var err error
		rawMember, err = s.rawChatMember(update.Chat.ID)
		if err != nil {
			// The reconciler still runs: its other reactions do not
			// depend on the payload, and the extractor surfaces the
			// missing record as its own failure.
			log.Warn().Err(err).Int64("chat_id", update.Chat.ID).
				Msg("unable to fetch own member record")
		}
	}
	event := membershipEvent(update, rawMember)
	log.Info().
		Int64("chat_id", event.ChatID).
		Str("old_status", string(event.OldStatus)).
		Str("new_status", string(event.NewStatus)).
		Msg("membership change")
	return s.reconciler.HandleUpdate(ctx.Background(), event)
}

// HandleError is the bot-wide error sink. Platform API errors get a
// short error-code notice that is deleted again after a few seconds;
// everything else is only logged.
func (s *Service) HandleError(err error, context tele.Context) {
	log.Error().Err(err).Msg("update handling failed")

	var apiErr *tele.Error
	if !errors.As(err, &apiErr) || context == nil {
		return
	}
	s.sendErrorNotice(context.Recipient(), apiErr)
}

// sendErrorNotice answers a platform API error with its code and
// deletes the notice again after a short delay.
func (s *Service) sendErrorNotice(to tele.Recipient, apiErr *tele.Error) {
	notice, sendErr := s.notices.Send(
		to,
		fmt.Sprintf(templates.APIError, apiErr.Code),
		tele.ModeMarkdownV2,
	)
	if sendErr != nil {
		log.Error().Err(sendErr).Msg("unable to send error notice")
		return
	}
	time.AfterFunc(s.noticeTTL, func() {
		if delErr := s.notices.Delete(notice); delErr != nil {
			log.Error().Err(delErr).Msg("unable to delete error notice")
		}
	})
}

func (s *Service) HandleHealth(writer http.ResponseWriter, request *http.Request) {
	writer.Header().Set("Content-Type", "application/json")
	payload := struct {
		Status string `json:"status"`
		Bot    string `json:"bot"`
	}{
		Status: "ok",
		Bot:    s.bot.Me.Username,
	}
	if err := json.NewEncoder(writer).Encode(payload); err != nil {
		log.Error().Err(err).Msg("unable to write health response")
	}
}

func adminName(admin db.ChatAdministrator) string {
	if admin.LastName != nil {
		return fmt.Sprintf("%v %v", admin.FirstName, *admin.LastName)
	}
	return admin.FirstName
}
