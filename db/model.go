package db

// Chat mirrors one Telegram chat the bot has seen. A chat is never
// hard-deleted; it only toggles between available and unavailable.
// FirstName and LastName are set for private chats, Title for the rest.
type Chat struct {
	ChatID     int64 `bun:"chat_id,pk"`
	Type       string
	FirstName  *string
	LastName   *string
	Title      *string
	Status     string
	Restricted map[string]bool `bun:"restricted,type:jsonb"`
}

// ChatAdministrator is one entry of a chat's recorded roster. The
// roster is wiped and rebuilt wholesale on every membership refresh,
// rows are never patched in place. CustomData is set only on the
// bot's own entry.
type ChatAdministrator struct {
	ID         int64 `bun:"id,pk,autoincrement"`
	ChatID     int64 `bun:"chat_id"`
	UserID     int64 `bun:"user_id"`
	FirstName  string
	LastName   *string
	Status     string
	CustomData map[string]bool `bun:"custom_data,type:jsonb"`
}
