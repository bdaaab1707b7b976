package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"testing"

	"github.com/pkg/errors"
)

const (
	botID      = 99
	botName    = "registry-bot"
	testChatID = 100
)

type opLog struct {
	ops []string
}

func (l *opLog) add(format string, args ...interface{}) {
	l.ops = append(l.ops, fmt.Sprintf(format, args...))
}

type fakeStore struct {
	log *opLog

	chats        map[int64]ChatRecord
	statuses     map[int64]Availability
	restrictions map[int64]Flags
	rosters      map[int64][]AdminRecord

	upsertErr error
	deleteErr error
	addErr    error
}

func newFakeStore(log *opLog) *fakeStore {
	return &fakeStore{
		log:          log,
		chats:        make(map[int64]ChatRecord),
		statuses:     make(map[int64]Availability),
		restrictions: make(map[int64]Flags),
		rosters:      make(map[int64][]AdminRecord),
	}
}

func (f *fakeStore) UpsertChat(_ context.Context, chat ChatRecord) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.log.add("upsert:%v", chat.ChatID)
	f.chats[chat.ChatID] = chat
	f.statuses[chat.ChatID] = chat.Status
	f.restrictions[chat.ChatID] = chat.Restricted
	return nil
}

func (f *fakeStore) SetChatStatus(_ context.Context, chatID int64, status Availability) error {
	f.log.add("status:%v:%v", chatID, status)
	f.statuses[chatID] = status
	return nil
}

func (f *fakeStore) SetChatRestrictions(_ context.Context, chatID int64, flags Flags) error {
	f.log.add("restrict:%v", chatID)
	f.restrictions[chatID] = flags
	return nil
}

func (f *fakeStore) AddAdministrator(_ context.Context, admin AdminRecord) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.log.add("add:%v:%v", admin.ChatID, admin.UserID)
	f.rosters[admin.ChatID] = append(f.rosters[admin.ChatID], admin)
	return nil
}

func (f *fakeStore) DeleteAdministrators(_ context.Context, chatID int64) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.log.add("wipe:%v", chatID)
	f.rosters[chatID] = nil
	return nil
}

type fakeAdmins struct {
	admins []Admin
	err    error
}

func (f fakeAdmins) ChatAdministrators(context.Context, int64) ([]Admin, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.admins, nil
}

type fakeLock struct {
	log *opLog
}

func (f *fakeLock) Lock() error {
	f.log.add("lock")
	return nil
}

func (f *fakeLock) Unlock() (bool, error) {
	f.log.add("unlock")
	return true, nil
}

type fakeLocks struct {
	log *opLog
}

func (f fakeLocks) Chat(int64) Lock {
	return &fakeLock{log: f.log}
}

func newTestReconciler(store *fakeStore, admins fakeAdmins, log *opLog) *Reconciler {
	return NewReconciler(store, admins, fakeLocks{log: log}, botID, botName)
}

func memberEvent(newStatus Status) Event {
	return Event{
		ChatID:    testChatID,
		ChatType:  "group",
		ChatTitle: "Team",
		OldStatus: StatusLeft,
		NewStatus: newStatus,
		NewMember: json.RawMessage(fmt.Sprintf(`{"status": %q}`, newStatus)),
	}
}

func liveAdmins() []Admin {
	return []Admin{
		{UserID: 10, FirstName: "Alice", Status: StatusCreator},
		{UserID: 20, FirstName: "Bob", LastName: "Smith", Status: StatusAdministrator},
		{UserID: botID, FirstName: botName, Status: StatusAdministrator},
	}
}

func TestMemberJoinRebuildsRoster(t *testing.T) {
	t.Parallel()
	log := &opLog{}
	store := newFakeStore(log)
	r := newTestReconciler(store, fakeAdmins{admins: liveAdmins()}, log)

	if err := r.HandleUpdate(context.Background(), memberEvent(StatusMember)); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}

	chat := store.chats[testChatID]
	if chat.Type != "group" || chat.Title == nil || *chat.Title != "Team" {
		t.Errorf("unexpected chat record: %+v", chat)
	}
	if store.statuses[testChatID] != Available {
		t.Errorf("chat status: got %v, want %v", store.statuses[testChatID], Available)
	}

	roster := store.rosters[testChatID]
	if len(roster) != 2 {
		t.Fatalf("roster size: got %v, want 2", len(roster))
	}
	for _, admin := range roster {
		if admin.UserID == botID {
			t.Error("bot row synthesized although it was added as plain member")
		}
		if admin.CustomData != nil {
			t.Errorf("rights recorded for foreign administrator %v", admin.UserID)
		}
	}

	want := []string{"lock", "upsert:100", "wipe:100", "add:100:10", "add:100:20", "unlock"}
	if !reflect.DeepEqual(log.ops, want) {
		t.Errorf("operation order: got %v, want %v", log.ops, want)
	}
}

func TestPromotionStoresOwnRights(t *testing.T) {
	t.Parallel()
	log := &opLog{}
	store := newFakeStore(log)
	r := newTestReconciler(store, fakeAdmins{admins: liveAdmins()}, log)

	event := memberEvent(StatusAdministrator)
	event.NewMember = json.RawMessage(`{
		"status": "administrator",
		"user": {"id": 99},
		"can_post_messages": true,
		"can_delete_messages": false,
		"is_anonymous": false
	}`)

	if err := r.HandleUpdate(context.Background(), event); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}

	roster := store.rosters[testChatID]
	if len(roster) != 3 {
		t.Fatalf("roster size: got %v, want 3", len(roster))
	}
	self := roster[0]
	if self.UserID != botID || self.Status != StatusAdministrator || self.FirstName != botName {
		t.Errorf("unexpected own entry: %+v", self)
	}
	wantRights := Flags{
		"can_post_messages":   true,
		"can_delete_messages": false,
		"is_anonymous":        false,
	}
	if !reflect.DeepEqual(self.CustomData, wantRights) {
		t.Errorf("own rights: got %v, want %v", self.CustomData, wantRights)
	}
	for _, admin := range roster[1:] {
		if admin.UserID == botID {
			t.Error("bot row duplicated from the live list")
		}
	}
}

func TestRosterRefreshIsIdempotent(t *testing.T) {
	t.Parallel()
	log := &opLog{}
	store := newFakeStore(log)
	r := newTestReconciler(store, fakeAdmins{admins: liveAdmins()}, log)

	event := memberEvent(StatusMember)
	if err := r.HandleUpdate(context.Background(), event); err != nil {
		t.Fatalf("first HandleUpdate: %v", err)
	}
	once := append([]AdminRecord(nil), store.rosters[testChatID]...)

	if err := r.HandleUpdate(context.Background(), event); err != nil {
		t.Fatalf("second HandleUpdate: %v", err)
	}
	if !reflect.DeepEqual(store.rosters[testChatID], once) {
		t.Errorf("roster changed on replay: got %v, want %v", store.rosters[testChatID], once)
	}
}

func TestAdminListFetchFailure(t *testing.T) {
	t.Parallel()
	log := &opLog{}
	store := newFakeStore(log)
	store.rosters[testChatID] = []AdminRecord{{ChatID: testChatID, UserID: 55}}
	r := newTestReconciler(store, fakeAdmins{err: errors.New("chat not found")}, log)

	err := r.HandleUpdate(context.Background(), memberEvent(StatusMember))
	if err == nil {
		t.Fatal("expected error when the live list cannot be fetched")
	}

	// The upsert and the wipe stand; the roster stays empty until a
	// future event repopulates it.
	if _, ok := store.chats[testChatID]; !ok {
		t.Error("chat was not upserted")
	}
	if len(store.rosters[testChatID]) != 0 {
		t.Errorf("stale roster survived: %v", store.rosters[testChatID])
	}
	want := []string{"lock", "upsert:100", "wipe:100", "unlock"}
	if !reflect.DeepEqual(log.ops, want) {
		t.Errorf("operation order: got %v, want %v", log.ops, want)
	}
}

func TestDeparture(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		oldStatus  Status
		newStatus  Status
		wantStatus Availability
		wantOps    []string
	}{
		{
			name:       "kicked",
			oldStatus:  StatusMember,
			newStatus:  StatusKicked,
			wantStatus: Unavailable,
			wantOps:    []string{"status:100:unavailable"},
		},
		{
			name:       "left",
			oldStatus:  StatusMember,
			newStatus:  StatusLeft,
			wantStatus: Unavailable,
			wantOps:    []string{"status:100:unavailable"},
		},
		{
			name:       "unbanned into left",
			oldStatus:  StatusKicked,
			newStatus:  StatusLeft,
			wantStatus: Available,
			wantOps:    []string{"status:100:unavailable", "status:100:available"},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			log := &opLog{}
			store := newFakeStore(log)
			store.rosters[testChatID] = []AdminRecord{{ChatID: testChatID, UserID: 10}}
			r := newTestReconciler(store, fakeAdmins{admins: liveAdmins()}, log)

			event := memberEvent(test.newStatus)
			event.OldStatus = test.oldStatus
			if err := r.HandleUpdate(context.Background(), event); err != nil {
				t.Fatalf("HandleUpdate: %v", err)
			}

			if store.statuses[testChatID] != test.wantStatus {
				t.Errorf("status: got %v, want %v", store.statuses[testChatID], test.wantStatus)
			}
			if !reflect.DeepEqual(log.ops, test.wantOps) {
				t.Errorf("ops: got %v, want %v", log.ops, test.wantOps)
			}
			// The departure reaction never touches the roster.
			if len(store.rosters[testChatID]) != 1 {
				t.Errorf("roster touched by departure reaction: %v", store.rosters[testChatID])
			}
		})
	}
}

func TestUnbannedIntoMemberRebuildsRoster(t *testing.T) {
	t.Parallel()
	log := &opLog{}
	store := newFakeStore(log)
	r := newTestReconciler(store, fakeAdmins{admins: liveAdmins()}, log)

	event := memberEvent(StatusMember)
	event.OldStatus = StatusKicked
	if err := r.HandleUpdate(context.Background(), event); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}

	// Both reactions fire: the roster refresh marks the chat available
	// and rebuilds the roster, the departure rule independently marks
	// it available again.
	if store.statuses[testChatID] != Available {
		t.Errorf("status: got %v, want %v", store.statuses[testChatID], Available)
	}
	if len(store.rosters[testChatID]) != 2 {
		t.Errorf("roster size: got %v, want 2", len(store.rosters[testChatID]))
	}
	want := []string{"lock", "upsert:100", "wipe:100", "add:100:10", "add:100:20", "unlock", "status:100:available"}
	if !reflect.DeepEqual(log.ops, want) {
		t.Errorf("ops: got %v, want %v", log.ops, want)
	}
}

func TestRestrictionCapture(t *testing.T) {
	t.Parallel()
	log := &opLog{}
	store := newFakeStore(log)
	store.statuses[testChatID] = Available
	r := newTestReconciler(store, fakeAdmins{admins: liveAdmins()}, log)

	event := memberEvent(StatusRestricted)
	event.NewMember = json.RawMessage(`{
		"status": "restricted",
		"is_member": true,
		"can_send_messages": true,
		"can_send_media_messages": false
	}`)
	if err := r.HandleUpdate(context.Background(), event); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}

	want := Flags{"can_send_messages": true, "can_send_media_messages": false}
	if !reflect.DeepEqual(store.restrictions[testChatID], want) {
		t.Errorf("restrictions: got %v, want %v", store.restrictions[testChatID], want)
	}
	// Availability is not part of the restriction reaction.
	if store.statuses[testChatID] != Available {
		t.Errorf("status changed by restriction reaction: %v", store.statuses[testChatID])
	}
	if !reflect.DeepEqual(log.ops, []string{"restrict:100"}) {
		t.Errorf("ops: got %v", log.ops)
	}
}

func TestRejoiningClearsRestrictions(t *testing.T) {
	t.Parallel()
	log := &opLog{}
	store := newFakeStore(log)
	store.restrictions[testChatID] = Flags{"can_send_messages": false}
	r := newTestReconciler(store, fakeAdmins{admins: liveAdmins()}, log)

	event := memberEvent(StatusMember)
	event.OldStatus = StatusRestricted
	if err := r.HandleUpdate(context.Background(), event); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}
	if store.restrictions[testChatID] != nil {
		t.Errorf("restrictions survived rejoin: %v", store.restrictions[testChatID])
	}
}

func TestPrivateChatHasNoTitle(t *testing.T) {
	t.Parallel()
	log := &opLog{}
	store := newFakeStore(log)
	r := newTestReconciler(store, fakeAdmins{}, log)

	event := memberEvent(StatusMember)
	event.ChatType = ChatPrivate
	event.ChatTitle = ""
	if err := r.HandleUpdate(context.Background(), event); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}
	if store.chats[testChatID].Title != nil {
		t.Errorf("title set for private chat: %v", *store.chats[testChatID].Title)
	}
}

func TestReactionsDoNotBlockEachOther(t *testing.T) {
	t.Parallel()
	log := &opLog{}
	store := newFakeStore(log)
	store.upsertErr = errors.New("connection refused")
	r := newTestReconciler(store, fakeAdmins{admins: liveAdmins()}, log)

	event := memberEvent(StatusMember)
	event.OldStatus = StatusKicked
	err := r.HandleUpdate(context.Background(), event)
	if err == nil {
		t.Fatal("expected upsert error to surface")
	}
	// The departure reaction still ran.
	if store.statuses[testChatID] != Available {
		t.Errorf("departure reaction blocked by roster failure: %v", store.statuses[testChatID])
	}
}
