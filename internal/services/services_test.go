package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"khata/internal/core"
	"khata/internal/events"
	"khata/internal/live"
	"khata/internal/log"
	"khata/internal/media"
	"khata/internal/session"
	"khata/internal/store"
)

type colKey struct {
	owner   string
	profile core.ProfileType
	uid     string
}

// memStore is an in-memory Store for service tests.
type memStore struct {
	mu         sync.Mutex
	users      map[string]core.User
	names      map[string]string
	txs        map[string]core.Transaction
	cats       map[string]core.Category
	cols       map[colKey]core.Collaborator
	insertErr  error
	insertSeen int
}

func newMemStore() *memStore {
	return &memStore{
		users: make(map[string]core.User),
		names: make(map[string]string),
		txs:   make(map[string]core.Transaction),
		cats:  make(map[string]core.Category),
		cols:  make(map[colKey]core.Collaborator),
	}
}

func (m *memStore) GetUser(_ context.Context, uid string) (core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[uid]
	if !ok {
		return core.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m *memStore) UIDByUsername(_ context.Context, username string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uid, ok := m.names[core.NormalizeUsername(username)]
	if !ok {
		return "", store.ErrNotFound
	}
	return uid, nil
}

func (m *memStore) ListTransactions(_ context.Context, uid string, ptype core.ProfileType) ([]core.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []core.Transaction{}
	for _, tx := range m.txs {
		if tx.UID == uid && tx.Profile == ptype {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *memStore) InsertTransaction(_ context.Context, tx core.Transaction) (core.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertSeen++
	if m.insertErr != nil {
		return core.Transaction{}, m.insertErr
	}
	tx.Date = time.Now().UTC()
	m.txs[tx.ID] = tx
	return tx, nil
}

func (m *memStore) UpdateTransaction(_ context.Context, uid string, ptype core.ProfileType, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	if !ok || tx.UID != uid || tx.Profile != ptype {
		return store.ErrNotFound
	}
	if v, ok := fields["description"].(string); ok {
		tx.Description = v
	}
	if v, ok := fields["amountPaise"].(int64); ok {
		tx.Amount = core.Money{Paise: v}
	}
	m.txs[id] = tx
	return nil
}

func (m *memStore) DeleteTransaction(_ context.Context, uid string, ptype core.ProfileType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	if !ok || tx.UID != uid || tx.Profile != ptype {
		return store.ErrNotFound
	}
	delete(m.txs, id)
	return nil
}

func (m *memStore) ListCategories(_ context.Context, uid string, ptype core.ProfileType) ([]core.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []core.Category{}
	for _, c := range m.cats {
		if c.UID == uid && c.Profile == ptype {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) InsertCategory(_ context.Context, cat core.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cats[cat.ID] = cat
	return nil
}

func (m *memStore) UpdateCategory(_ context.Context, uid string, ptype core.ProfileType, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cats[id]
	if !ok || c.UID != uid || c.Profile != ptype {
		return store.ErrNotFound
	}
	if v, ok := fields["title"].(string); ok {
		c.Title = v
	}
	if v, ok := fields["budgetMonthlyPaise"].(int64); ok {
		c.BudgetMonthly = core.Money{Paise: v}
	}
	m.cats[id] = c
	return nil
}

func (m *memStore) DeleteCategory(_ context.Context, uid string, ptype core.ProfileType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cats[id]
	if !ok || c.UID != uid || c.Profile != ptype {
		return store.ErrNotFound
	}
	delete(m.cats, id)
	return nil
}

func (m *memStore) ListCollaborators(_ context.Context, ownerUID string, ptype core.ProfileType) ([]core.Collaborator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []core.Collaborator{}
	for k, c := range m.cols {
		if k.owner == ownerUID && k.profile == ptype {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) GetCollaborator(_ context.Context, ownerUID string, ptype core.ProfileType, uid string) (core.Collaborator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cols[colKey{ownerUID, ptype, uid}]
	if !ok {
		return core.Collaborator{}, store.ErrNotFound
	}
	return c, nil
}

func (m *memStore) UpsertCollaborator(_ context.Context, col core.Collaborator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cols[colKey{col.OwnerUID, col.Profile, col.UID}] = col
	return nil
}

func (m *memStore) DeactivateCollaborator(_ context.Context, ownerUID string, ptype core.ProfileType, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := colKey{ownerUID, ptype, uid}
	c, ok := m.cols[k]
	if !ok {
		return store.ErrNotFound
	}
	c.Active = false
	m.cols[k] = c
	return nil
}

type fakeUploader struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

func (f *fakeUploader) Upload(_ context.Context, filename string, content io.Reader, _ media.ProgressFunc) (media.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, filename)
	if f.fail[filename] {
		return media.UploadResult{}, errors.New("upstream rejected file")
	}
	n, _ := io.Copy(io.Discard, content)
	return media.UploadResult{
		SecureURL: "https://res.example/" + filename,
		PublicID:  strings.TrimSuffix(filename, ".png"),
		Bytes:     n,
	}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	keys []live.Key
}

func (f *fakeNotifier) Notify(_ context.Context, key live.Key) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

type fakePublisher struct {
	mu     sync.Mutex
	fail   bool
	events []*events.ChangeEvent
}

func (f *fakePublisher) PublishChange(_ context.Context, e *events.ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker down")
	}
	f.events = append(f.events, e)
	return nil
}

func testLogger() *log.Logger { return log.New(log.DefaultConfig()) }

func sess() session.Session {
	return session.Session{UID: "u1", Email: "u1@example.com", Profile: core.ProfilePersonal}
}

func TestTransactionAdd(t *testing.T) {
	st := newMemStore()
	up := &fakeUploader{}
	hub := &fakeNotifier{}
	pub := &fakePublisher{}
	svc := NewTransactionService(st, up, hub, pub, testLogger())

	res, err := svc.Add(context.Background(), sess(), TransactionInput{
		Amount:      core.Money{Paise: 45000},
		Kind:        core.Expense,
		CategoryID:  "c1",
		Description: "Team lunch",
	}, []StagedFile{{Filename: "bill.png", Content: strings.NewReader("img")}}, nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(res.UploadErrors) != 0 {
		t.Fatalf("upload errors: %v", res.UploadErrors)
	}
	if res.Transaction.Date.IsZero() {
		t.Error("store did not assign the canonical date")
	}
	if len(res.Transaction.Attachments) != 1 {
		t.Fatalf("attachments = %d", len(res.Transaction.Attachments))
	}
	att := res.Transaction.Attachments[0]
	if att.URL != "https://res.example/bill.png" || att.Provider != core.ProviderCloudinary {
		t.Errorf("attachment = %+v", att)
	}

	if hub.count() != 1 {
		t.Fatalf("hub notified %d times", hub.count())
	}
	hub.mu.Lock()
	key := hub.keys[0]
	hub.mu.Unlock()
	want := live.Key{UID: "u1", Profile: core.ProfilePersonal, Collection: live.CollectionTransactions}
	if key != want {
		t.Errorf("notify key = %+v", key)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.events) != 1 || pub.events[0].Collection != "transactions" {
		t.Errorf("published events = %+v", pub.events)
	}
}

func TestTransactionAddValidationBeforeUploads(t *testing.T) {
	st := newMemStore()
	up := &fakeUploader{}
	svc := NewTransactionService(st, up, &fakeNotifier{}, &fakePublisher{}, testLogger())

	tests := []struct {
		name string
		in   TransactionInput
		want error
	}{
		{"zero amount", TransactionInput{Kind: core.Expense, CategoryID: "c1", Description: "x"}, core.ErrInvalidAmount},
		{"missing category", TransactionInput{Amount: core.Money{Paise: 100}, Kind: core.Expense, Description: "x"}, core.ErrMissingCategory},
		{"empty description", TransactionInput{Amount: core.Money{Paise: 100}, Kind: core.Expense, CategoryID: "c1"}, core.ErrEmptyDescription},
		{"bad kind", TransactionInput{Amount: core.Money{Paise: 100}, Kind: "transfer", CategoryID: "c1", Description: "x"}, core.ErrInvalidKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Add(context.Background(), sess(), tt.in,
				[]StagedFile{{Filename: "a.png", Content: strings.NewReader("x")}}, nil)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	up.mu.Lock()
	defer up.mu.Unlock()
	if len(up.calls) != 0 {
		t.Errorf("uploader called %d times before validation passed", len(up.calls))
	}
	if st.insertSeen != 0 {
		t.Errorf("store touched %d times on rejected input", st.insertSeen)
	}
}

func TestTransactionAddPartialUploadFailure(t *testing.T) {
	st := newMemStore()
	up := &fakeUploader{fail: map[string]bool{"b.png": true}}
	svc := NewTransactionService(st, up, &fakeNotifier{}, &fakePublisher{}, testLogger())

	res, err := svc.Add(context.Background(), sess(), TransactionInput{
		Amount:      core.Money{Paise: 100},
		Kind:        core.Expense,
		CategoryID:  "c1",
		Description: "supplies",
	}, []StagedFile{
		{Filename: "a.png", Content: strings.NewReader("x")},
		{Filename: "b.png", Content: strings.NewReader("y")},
		{Filename: "c.png", Content: strings.NewReader("z")},
	}, nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(res.UploadErrors) != 1 {
		t.Fatalf("upload errors = %v", res.UploadErrors)
	}
	if len(res.Transaction.Attachments) != 2 {
		t.Fatalf("attachments = %d, want the two that succeeded", len(res.Transaction.Attachments))
	}
	up.mu.Lock()
	defer up.mu.Unlock()
	if len(up.calls) != 3 {
		t.Errorf("uploads attempted = %d, want all three", len(up.calls))
	}
}

func TestTransactionAddPublishFailureDoesNotFailWrite(t *testing.T) {
	st := newMemStore()
	svc := NewTransactionService(st, &fakeUploader{}, &fakeNotifier{}, &fakePublisher{fail: true}, testLogger())

	res, err := svc.Add(context.Background(), sess(), TransactionInput{
		Amount:      core.Money{Paise: 100},
		Kind:        core.Income,
		CategoryID:  "c1",
		Description: "invoice",
	}, nil, nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, ok := st.txs[res.Transaction.ID]; !ok {
		t.Error("transaction not committed")
	}
}

func TestTransactionUpdateAndDelete(t *testing.T) {
	st := newMemStore()
	hub := &fakeNotifier{}
	svc := NewTransactionService(st, &fakeUploader{}, hub, &fakePublisher{}, testLogger())
	ctx := context.Background()

	res, err := svc.Add(ctx, sess(), TransactionInput{
		Amount: core.Money{Paise: 100}, Kind: core.Expense, CategoryID: "c1", Description: "old",
	}, nil, nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	desc := "new"
	if err := svc.Update(ctx, sess(), res.Transaction.ID, TransactionUpdate{Description: &desc}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if st.txs[res.Transaction.ID].Description != "new" {
		t.Errorf("description = %q", st.txs[res.Transaction.ID].Description)
	}

	empty := ""
	if err := svc.Update(ctx, sess(), res.Transaction.ID, TransactionUpdate{Description: &empty}); !errors.Is(err, core.ErrEmptyDescription) {
		t.Fatalf("empty description accepted: %v", err)
	}

	other := sess().WithProfile(core.ProfileBusiness)
	if err := svc.Delete(ctx, other, res.Transaction.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cross-profile delete: %v", err)
	}
	if err := svc.Delete(ctx, sess(), res.Transaction.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(st.txs) != 0 {
		t.Error("transaction survived delete")
	}
	if hub.count() != 3 {
		t.Errorf("hub notified %d times, want 3", hub.count())
	}
}

func TestCategoryService(t *testing.T) {
	st := newMemStore()
	hub := &fakeNotifier{}
	svc := NewCategoryService(st, hub, &fakePublisher{}, testLogger())
	ctx := context.Background()

	if _, err := svc.Add(ctx, sess(), CategoryInput{}); !errors.Is(err, core.ErrEmptyTitle) {
		t.Fatalf("untitled category accepted: %v", err)
	}
	if _, err := svc.Add(ctx, sess(), CategoryInput{Title: "Food", BudgetMonthly: core.Money{Paise: -1}}); !errors.Is(err, core.ErrNegativeBudget) {
		t.Fatalf("negative budget accepted: %v", err)
	}

	cat, err := svc.Add(ctx, sess(), CategoryInput{Title: "Food", Color: "#ff0000", BudgetMonthly: core.Money{Paise: 500000}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	budget := core.Money{Paise: 700000}
	if err := svc.Update(ctx, sess(), cat.ID, CategoryUpdate{BudgetMonthly: &budget}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if st.cats[cat.ID].BudgetMonthly.Paise != 700000 {
		t.Errorf("budget = %d", st.cats[cat.ID].BudgetMonthly.Paise)
	}

	if err := svc.Delete(ctx, sess(), cat.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if hub.count() != 3 {
		t.Errorf("hub notified %d times, want 3", hub.count())
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.keys[0].Collection != live.CollectionCategories {
		t.Errorf("notify collection = %s", hub.keys[0].Collection)
	}
}

func TestCollaboratorInvite(t *testing.T) {
	st := newMemStore()
	st.users["owner"] = core.User{UID: "owner", Email: "o@x.com"}
	st.users["friend"] = core.User{UID: "friend", Email: "f@x.com"}
	st.names["friend_user"] = "friend"
	svc := NewCollaboratorService(st, testLogger())
	ctx := context.Background()

	owner := session.Session{UID: "owner", Profile: core.ProfileBusiness}

	if _, err := svc.Invite(ctx, session.Session{UID: "owner", Profile: core.ProfilePersonal}, "owner", "friend_user", core.RoleEditor); !errors.Is(err, ErrOwnerProfile) {
		t.Fatalf("personal-profile invite: %v", err)
	}
	if _, err := svc.Invite(ctx, owner, "owner", "friend_user", "superuser"); !errors.Is(err, core.ErrInvalidRole) {
		t.Fatalf("bad role: %v", err)
	}
	if _, err := svc.Invite(ctx, owner, "owner", "nobody", core.RoleEditor); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("unknown username: %v", err)
	}

	col, err := svc.Invite(ctx, owner, "owner", "friend_user", core.RoleEditor)
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if col.UID != "friend" || col.Role != core.RoleEditor || !col.Active {
		t.Errorf("collaborator = %+v", col)
	}

	// An editor cannot manage the roster
	editor := session.Session{UID: "friend", Profile: core.ProfileBusiness}
	if _, err := svc.Invite(ctx, editor, "owner", "friend_user", core.RoleViewer); !errors.Is(err, ErrForbidden) {
		t.Fatalf("editor invited: %v", err)
	}

	// But may read it
	if _, err := svc.List(ctx, editor, "owner"); err != nil {
		t.Fatalf("editor list: %v", err)
	}

	if err := svc.Deactivate(ctx, owner, "owner", "friend"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	got, err := st.GetCollaborator(ctx, "owner", core.ProfileBusiness, "friend")
	if err != nil || got.Active {
		t.Fatalf("deactivation not persisted: %+v/%v", got, err)
	}

	// Deactivated collaborators lose access
	if _, err := svc.List(ctx, editor, "owner"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("deactivated collaborator still reads: %v", err)
	}

	// Re-invite reactivates
	col, err = svc.Invite(ctx, owner, "owner", "friend_user", core.RoleAdmin)
	if err != nil {
		t.Fatalf("re-invite: %v", err)
	}
	if !col.Active || col.Role != core.RoleAdmin {
		t.Errorf("re-invite = %+v", col)
	}
}
