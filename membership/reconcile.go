package membership

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Store is the persistence gateway the reconciler writes through.
type Store interface {
	UpsertChat(ctx context.Context, chat ChatRecord) error
	SetChatStatus(ctx context.Context, chatID int64, status Availability) error
	SetChatRestrictions(ctx context.Context, chatID int64, flags Flags) error
	AddAdministrator(ctx context.Context, admin AdminRecord) error
	DeleteAdministrators(ctx context.Context, chatID int64) error
}

// AdminSource lists the current administrators of a chat against the
// live platform.
type AdminSource interface {
	ChatAdministrators(ctx context.Context, chatID int64) ([]Admin, error)
}

// Lock is satisfied by *redsync.Mutex.
type Lock interface {
	Lock() error
	Unlock() (bool, error)
}

// Locks hands out one lock per chat so concurrent roster rebuilds for
// the same chat cannot interleave between wipe and insert.
type Locks interface {
	Chat(chatID int64) Lock
}

// Reconciler turns one membership-change event for the bot's own
// membership into a sequence of persistence effects.
type Reconciler struct {
	store  Store
	admins AdminSource
	locks  Locks

	selfID        int64
	selfFirstName string
}

func NewReconciler(store Store, admins AdminSource, locks Locks, selfID int64, selfFirstName string) *Reconciler {
	return &Reconciler{
		store:         store,
		admins:        admins,
		locks:         locks,
		selfID:        selfID,
		selfFirstName: selfFirstName,
	}
}

// HandleUpdate runs the three reactions to a membership event: roster
// refresh, restriction capture, departure. The reactions touch disjoint
// fields and none of them blocks the others; every failure is logged
// and the first one is returned for the caller's error surface.
func (r *Reconciler) HandleUpdate(ctx context.Context, event Event) error {
	var firstErr error
	keep := func(err error) {
		if err != nil {
			log.Error().Err(err).
				Int64("chat_id", event.ChatID).
				Str("old_status", string(event.OldStatus)).
				Str("new_status", string(event.NewStatus)).
				Msg("membership reaction failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if event.NewStatus == StatusMember || event.NewStatus == StatusAdministrator {
		keep(r.refreshRoster(ctx, event))
	}
	if event.NewStatus == StatusRestricted {
		keep(r.captureRestrictions(ctx, event))
	}
	keep(r.handleDeparture(ctx, event))

	return firstErr
}

// refreshRoster rebuilds the stored administrator roster from scratch.
// The platform offers no change feed for rosters, so the previous rows
// are wiped and the live list is re-inserted wholesale. The whole
// sequence holds the per-chat lock: a second rebuild racing between
// wipe and insert would leave a partially populated roster.
func (r *Reconciler) refreshRoster(ctx context.Context, event Event) error {
	lock := r.locks.Chat(event.ChatID)
	if err := lock.Lock(); err != nil {
		return errors.Wrapf(err, "unable to lock chat %v for roster rebuild", event.ChatID)
	}
	defer func() {
		if _, err := lock.Unlock(); err != nil {
			log.Error().Err(err).Int64("chat_id", event.ChatID).Msg("unable to unlock chat")
		}
	}()

	var title *string
	if event.ChatType != ChatPrivate {
		t := event.ChatTitle
		title = &t
	}
	err := r.store.UpsertChat(ctx, ChatRecord{
		ChatID: event.ChatID,
		Type:   event.ChatType,
		Title:  title,
		Status: Available,
	})
	if err != nil {
		return errors.Wrap(err, "unable to upsert chat")
	}

	if err := r.store.DeleteAdministrators(ctx, event.ChatID); err != nil {
		return errors.Wrap(err, "unable to wipe administrator roster")
	}

	// If the live list cannot be fetched the upsert and the wipe
	// stand; the roster stays empty until a future event repopulates
	// it. No retry here.
	admins, err := r.admins.ChatAdministrators(ctx, event.ChatID)
	if err != nil {
		return errors.Wrapf(err, "unable to fetch administrators of chat %v", event.ChatID)
	}

	if event.NewStatus == StatusAdministrator {
		rights, err := AdminRights(event.NewMember)
		if err != nil {
			return err
		}
		err = r.store.AddAdministrator(ctx, AdminRecord{
			ChatID:     event.ChatID,
			UserID:     r.selfID,
			FirstName:  r.selfFirstName,
			Status:     event.NewStatus,
			CustomData: rights,
		})
		if err != nil {
			return errors.Wrap(err, "unable to store own administrator entry")
		}
	}

	for _, admin := range admins {
		if admin.UserID == r.selfID {
			continue
		}
		err := r.store.AddAdministrator(ctx, AdminRecord{
			ChatID:    event.ChatID,
			UserID:    admin.UserID,
			FirstName: admin.FirstName,
			LastName:  admin.LastName,
			Status:    admin.Status,
		})
		if err != nil {
			return errors.Wrapf(err, "unable to store administrator %v", admin.UserID)
		}
	}
	return nil
}

// captureRestrictions records which capabilities the bot keeps while
// its membership is restricted. Chat availability is untouched.
func (r *Reconciler) captureRestrictions(ctx context.Context, event Event) error {
	flags, err := RestrictionFlags(event.NewMember)
	if err != nil {
		return err
	}
	if err := r.store.SetChatRestrictions(ctx, event.ChatID, flags); err != nil {
		return errors.Wrap(err, "unable to store restriction flags")
	}
	return nil
}

// handleDeparture tracks availability on the old/new view of the event.
// Both rules may fire for the same event and target the same field;
// they are applied in this order on purpose.
func (r *Reconciler) handleDeparture(ctx context.Context, event Event) error {
	if event.NewStatus == StatusKicked || event.NewStatus == StatusLeft {
		if err := r.store.SetChatStatus(ctx, event.ChatID, Unavailable); err != nil {
			return errors.Wrap(err, "unable to mark chat unavailable")
		}
	}
	if event.OldStatus == StatusKicked {
		if err := r.store.SetChatStatus(ctx, event.ChatID, Available); err != nil {
			return errors.Wrap(err, "unable to mark chat available")
		}
	}
	return nil
}
