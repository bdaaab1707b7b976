package membership

import "encoding/json"

// Status is a chat membership status as reported by Telegram.
type Status string

const (
	StatusCreator       Status = "creator"
	StatusAdministrator Status = "administrator"
	StatusMember        Status = "member"
	StatusRestricted    Status = "restricted"
	StatusLeft          Status = "left"
	StatusKicked        Status = "kicked"
)

// Availability of a chat from the bot's point of view.
type Availability string

const (
	Available   Availability = "available"
	Unavailable Availability = "unavailable"
)

const ChatPrivate = "private"

// Event is an immutable snapshot of a single my_chat_member update
// concerning the bot's own membership. NewMember holds the raw
// new_chat_member payload so permission fields can be filtered
// structurally instead of through an enumerated list.
type Event struct {
	ChatID    int64
	ChatType  string
	ChatTitle string
	OldStatus Status
	NewStatus Status
	NewMember json.RawMessage
}

// Admin is one entry of a chat's live administrator list.
type Admin struct {
	UserID    int64
	FirstName string
	LastName  string
	Status    Status
}

// ChatRecord is the attribute set written to the chat store.
type ChatRecord struct {
	ChatID     int64
	Type       string
	FirstName  string
	LastName   string
	Title      *string
	Status     Availability
	Restricted Flags
}

// AdminRecord is one administrator row to be written to the store.
// CustomData is populated only for the bot's own entry.
type AdminRecord struct {
	ChatID     int64
	UserID     int64
	FirstName  string
	LastName   string
	Status     Status
	CustomData Flags
}
