package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"chat-registry-bot/membership"
)

var (
	ErrNotFound = errors.New("entity not found")
)

type DB struct {
	db      *bun.DB
	timeout time.Duration
}

const defaultTimeout = time.Minute

func New(address, user, password, database string) *DB {
	connector := pgdriver.NewConnector(
		pgdriver.WithInsecure(true),
		pgdriver.WithAddr(address),
		pgdriver.WithUser(user),
		pgdriver.WithPassword(password),
		pgdriver.WithDatabase(database),
	)
	sqldb := sql.OpenDB(connector)
	db := bun.NewDB(sqldb, pgdialect.New())
	return &DB{db: db, timeout: defaultTimeout}
}

func (d *DB) SetTimeout(duration time.Duration) {
	d.timeout = duration
}

func (d *DB) EnableDebug() {
	d.db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
}

// InitSchema creates both tables if they do not exist yet, mirroring
// the models. There is no migration history; columns are added by hand.
func (d *DB) InitSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	_, err := d.db.NewCreateTable().Model((*Chat)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to create chats table")
	}
	_, err = d.db.NewCreateTable().Model((*ChatAdministrator)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to create chat_administrators table")
	}
	return nil
}

// CreateChat inserts a chat record, silently tolerating an already
// existing row. The first-start guard in front of it is best-effort
// only, so a duplicate create attempt must not fail.
func (d *DB) CreateChat(ctx context.Context, chat membership.ChatRecord) error {
	c := fromChatRecord(chat)
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	_, err := d.db.NewInsert().
		Model(&c).
		On("CONFLICT (chat_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "error during creating chat")
	}
	return nil
}

// UpsertChat inserts the chat or, when the chat id is already known,
// overwrites type, title, status and the restriction record.
func (d *DB) UpsertChat(ctx context.Context, chat membership.ChatRecord) error {
	c := fromChatRecord(chat)
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	_, err := d.db.NewInsert().
		Model(&c).
		On("CONFLICT (chat_id) DO UPDATE").
		Set("type = EXCLUDED.type").
		Set("title = EXCLUDED.title").
		Set("status = EXCLUDED.status").
		Set("restricted = EXCLUDED.restricted").
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "error during upserting chat")
	}
	return nil
}

func (d *DB) SetChatStatus(ctx context.Context, chatID int64, status membership.Availability) error {
	c := Chat{
		ChatID: chatID,
		Status: string(status),
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	_, err := d.db.NewUpdate().Model(&c).Set("status = ?status").WherePK().Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "error during updating chat status")
	}
	return nil
}

func (d *DB) SetChatRestrictions(ctx context.Context, chatID int64, flags membership.Flags) error {
	c := Chat{
		ChatID:     chatID,
		Restricted: flags,
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	_, err := d.db.NewUpdate().Model(&c).Set("restricted = ?restricted").WherePK().Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "error during updating chat restrictions")
	}
	return nil
}

func (d *DB) AddAdministrator(ctx context.Context, admin membership.AdminRecord) error {
	a := ChatAdministrator{
		ChatID:     admin.ChatID,
		UserID:     admin.UserID,
		FirstName:  admin.FirstName,
		LastName:   optional(admin.LastName),
		Status:     string(admin.Status),
		CustomData: admin.CustomData,
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	_, err := d.db.NewInsert().Model(&a).Exec(ctx)
	if err != nil {
		return errors.Wrapf(err, "error during adding administrator %v", admin.UserID)
	}
	return nil
}

// DeleteAdministrators wipes the whole recorded roster of a chat.
func (d *DB) DeleteAdministrators(ctx context.Context, chatID int64) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	_, err := d.db.NewDelete().
		Model((*ChatAdministrator)(nil)).
		Where("chat_id = ?", chatID).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "error during deleting administrators")
	}
	return nil
}

func (d *DB) GetChat(ctx context.Context, chatID int64) (Chat, error) {
	c := Chat{ChatID: chatID}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	err := d.db.NewSelect().Model(&c).WherePK().Scan(ctx)
	if err != nil && errors.Is(err, sql.ErrNoRows) {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, errors.Wrap(err, "error during querying chat")
	}
	return c, nil
}

func (d *DB) ListAdministrators(ctx context.Context, chatID int64) ([]ChatAdministrator, error) {
	var admins []ChatAdministrator
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	err := d.db.NewSelect().
		Model(&admins).
		Where("chat_id = ?", chatID).
		Order("user_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "error during querying administrators")
	}
	return admins, nil
}

func fromChatRecord(chat membership.ChatRecord) Chat {
	return Chat{
		ChatID:     chat.ChatID,
		Type:       chat.Type,
		FirstName:  optional(chat.FirstName),
		LastName:   optional(chat.LastName),
		Title:      chat.Title,
		Status:     string(chat.Status),
		Restricted: chat.Restricted,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
