package bot

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	tele "gopkg.in/telebot.v3"

	"chat-registry-bot/membership"
	"chat-registry-bot/mutex"
)

// telegramAdmins is the live administrator query source.
type telegramAdmins struct {
	bot *tele.Bot
}

func (t telegramAdmins) ChatAdministrators(_ context.Context, chatID int64) ([]membership.Admin, error) {
	members, err := t.bot.AdminsOf(&tele.Chat{ID: chatID})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to list administrators of chat %v", chatID)
	}
	admins := make([]membership.Admin, 0, len(members))
	for _, member := range members {
		if member.User == nil {
			continue
		}
		admins = append(admins, membership.Admin{
			UserID:    member.User.ID,
			FirstName: member.User.FirstName,
			LastName:  member.User.LastName,
			Status:    membership.Status(member.Role),
		})
	}
	return admins, nil
}

type chatLocks struct {
	mb *mutex.Builder
}

func (l chatLocks) Chat(chatID int64) membership.Lock {
	return l.mb.Chat(chatID)
}

// membershipEvent converts a telebot chat member update into the
// reconciler's event snapshot. rawMember is the platform's own JSON
// for the bot's membership record; re-encoding telebot's typed struct
// would invent fields Telegram never sent and drop fields it adds in
// future Bot API versions, so the raw payload is carried verbatim.
func membershipEvent(update *tele.ChatMemberUpdate, rawMember json.RawMessage) membership.Event {
	return membership.Event{
		ChatID:    update.Chat.ID,
		ChatType:  string(update.Chat.Type),
		ChatTitle: update.Chat.Title,
		OldStatus: membership.Status(update.OldChatMember.Role),
		NewStatus: membership.Status(update.NewChatMember.Role),
		NewMember: rawMember,
	}
}

// needsMemberPayload reports whether the reconciler will run the
// permission extractor for this status. Only then is the raw member
// record fetched.
func needsMemberPayload(status membership.Status) bool {
	return status == membership.StatusAdministrator || status == membership.StatusRestricted
}

// rawChatMember fetches the bot's own member record of a chat as the
// untyped JSON the platform returned.
func (s *Service) rawChatMember(chatID int64) (json.RawMessage, error) {
	data, err := s.bot.Raw("getChatMember", map[string]interface{}{
		"chat_id": chatID,
		"user_id": s.bot.Me.ID,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to fetch own member record of chat %v", chatID)
	}
	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Wrap(err, "unable to decode member record response")
	}
	return resp.Result, nil
}
