package history

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/hpungsan/studybuddy/internal/errors"
	"github.com/hpungsan/studybuddy/internal/identity"
	"github.com/hpungsan/studybuddy/internal/logging"
	"github.com/hpungsan/studybuddy/internal/session"
)

// fakeStore is an in-memory remote store.
type fakeStore struct {
	mu      sync.Mutex
	records []session.Record
	listErr error
	saveErr error
	delErr  error
	saved   []session.Draft
	deleted []string
	nextID  int
	lists   int

	// saveGate, when set, blocks Save until closed.
	saveGate chan struct{}
}

func (f *fakeStore) List(ctx context.Context) ([]session.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]session.Record, len(f.records))
	copy(out, f.records)
	return out, nil
}

func (f *fakeStore) Save(ctx context.Context, d session.Draft) (string, error) {
	if f.saveGate != nil {
		<-f.saveGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, d)
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.nextID++
	id := fmt.Sprintf("srv-%d", f.nextID)
	f.records = append([]session.Record{{SessionID: id, Title: d.Title, Extracted: d.Extracted, Summary: d.Summary}}, f.records...)
	return id, nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.delErr
}

func (f *fakeStore) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

func (f *fakeStore) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakeResolver struct{ label string }

func (r fakeResolver) Me(ctx context.Context) (string, error) { return r.label, nil }
func (r fakeResolver) Logout(ctx context.Context) error       { return nil }

func newCache(t *testing.T, store *fakeStore, label string) (*Cache, *identity.Gate) {
	t.Helper()
	gate := identity.NewGate(fakeResolver{label: label}, "https://example.test/login", logging.Discard())
	c := New(store, gate, logging.Discard())
	return c, gate
}

func identified(t *testing.T, store *fakeStore) *Cache {
	t.Helper()
	c, gate := newCache(t, store, "ada@example.test")
	gate.Resolve(context.Background())
	c.Wait()
	return c
}

func TestLoad_ReplacesWholesaleOnIdentify(t *testing.T) {
	store := &fakeStore{records: []session.Record{
		{SessionID: "2", Title: "Second", Extracted: "b", Summary: "B"},
		{SessionID: "1", Title: "", Extracted: "a", Summary: "A"},
	}}
	c := identified(t, store)

	entries := c.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, "2", entries[0].ID)
	require.Equal(t, "Session 2", entries[1].Title)
	require.Equal(t, session.SyncConfirmed, entries[0].SyncState)
}

func TestLoad_AnonymousIsNoop(t *testing.T) {
	store := &fakeStore{records: []session.Record{{SessionID: "1"}}}
	c, gate := newCache(t, store, "")
	gate.Resolve(context.Background())
	c.Wait()

	require.NoError(t, c.Load(context.Background()))
	require.Zero(t, c.Len())
}

func TestLoad_FailureKeepsCacheEmpty(t *testing.T) {
	store := &fakeStore{listErr: fmt.Errorf("502")}
	c := identified(t, store)
	require.Zero(t, c.Len())

	err := c.Load(context.Background())
	require.True(t, errors.Is(err, errors.ErrHistoryLoadFailed))
}

func TestLoad_DropsDuplicateIDs(t *testing.T) {
	store := &fakeStore{records: []session.Record{
		{SessionID: "1", Title: "first"},
		{SessionID: "1", Title: "dup"},
	}}
	c := identified(t, store)
	require.Equal(t, 1, c.Len())
	require.Equal(t, "first", c.Entries()[0].Title)
}

func TestLoad_DropsUnconfirmedOptimisticEntry(t *testing.T) {
	store := &fakeStore{saveGate: make(chan struct{})}
	c := identified(t, store)

	_, err := c.Insert(context.Background(), session.Draft{Title: "pending"})
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	// Remote has not seen the save yet; load replaces wholesale.
	require.NoError(t, c.Load(context.Background()))
	require.Zero(t, c.Len())

	close(store.saveGate)
	c.Wait()
	require.Zero(t, c.Len())
	require.Empty(t, store.deleted, "entries dropped by a load are not deleted remotely")
}

func TestInsert_HeadAndConfirmed(t *testing.T) {
	store := &fakeStore{records: []session.Record{{SessionID: "old", Title: "Old"}}}
	c := identified(t, store)

	e, err := c.Insert(context.Background(), session.Draft{Title: "Lecture 1", Extracted: "Hello world", Summary: "Hi"})
	require.NoError(t, err)
	require.True(t, session.IsLocal(e.ID))
	require.Equal(t, session.SyncLocal, e.SyncState)

	head := c.Entries()[0]
	require.Equal(t, e.ID, head.ID)
	require.Equal(t, "Lecture 1", head.Title)
	require.Equal(t, "Hello world", head.Extracted)
	require.Equal(t, "Hi", head.Summary)

	c.Wait()
	head = c.Entries()[0]
	require.Equal(t, session.SyncConfirmed, head.SyncState)
	require.Equal(t, "srv-1", head.RemoteID)
	require.Equal(t, 1, store.savedCount())
}

func TestInsert_RemoteFailureKeepsEntryMarked(t *testing.T) {
	store := &fakeStore{saveErr: fmt.Errorf("boom")}
	c := identified(t, store)

	e, err := c.Insert(context.Background(), session.Draft{Title: "t"})
	require.NoError(t, err)
	c.Wait()

	got, ok := c.Get(e.ID)
	require.True(t, ok)
	require.Equal(t, session.SyncFailed, got.SyncState)
	require.Contains(t, got.SyncError, "boom")
}

func TestInsert_AnonymousStaysLocal(t *testing.T) {
	store := &fakeStore{}
	c, gate := newCache(t, store, "")
	gate.Resolve(context.Background())

	e, err := c.Insert(context.Background(), session.Draft{Title: "t"})
	require.NoError(t, err)
	c.Wait()

	got, _ := c.Get(e.ID)
	require.Equal(t, session.SyncLocal, got.SyncState)
	require.Zero(t, store.savedCount())
}

func TestInsert_UnresolvedFailsClosed(t *testing.T) {
	store := &fakeStore{}
	c, _ := newCache(t, store, "ada@example.test")

	_, err := c.Insert(context.Background(), session.Draft{Title: "t"})
	require.NoError(t, err)
	c.Wait()
	require.Zero(t, store.savedCount())
}

func TestRetry_AfterFailure(t *testing.T) {
	store := &fakeStore{saveErr: fmt.Errorf("boom")}
	c := identified(t, store)

	e, _ := c.Insert(context.Background(), session.Draft{Title: "t"})
	c.Wait()

	store.mu.Lock()
	store.saveErr = nil
	store.mu.Unlock()

	require.NoError(t, c.Retry(context.Background(), e.ID))
	c.Wait()

	got, _ := c.Get(e.ID)
	require.Equal(t, session.SyncConfirmed, got.SyncState)
	require.Empty(t, got.SyncError)
	require.Equal(t, 2, store.savedCount())

	// Confirmed entries are not re-sent.
	require.NoError(t, c.Retry(context.Background(), e.ID))
	c.Wait()
	require.Equal(t, 2, store.savedCount())
}

func TestRetry_Errors(t *testing.T) {
	c := identified(t, &fakeStore{})
	err := c.Retry(context.Background(), "nope")
	require.True(t, errors.Is(err, errors.ErrNotFound))

	anon, gate := newCache(t, &fakeStore{}, "")
	gate.Resolve(context.Background())
	err = anon.Retry(context.Background(), "x")
	require.True(t, errors.Is(err, errors.ErrAuthorizationRequired))
}

func TestRename(t *testing.T) {
	store := &fakeStore{records: []session.Record{{SessionID: "1", Title: "Old"}}}
	c := identified(t, store)

	e, err := c.Rename("1", "  New title ")
	require.NoError(t, err)
	require.Equal(t, "New title", e.Title)
	require.Equal(t, "New title", c.Entries()[0].Title)
	require.Zero(t, store.savedCount(), "rename is local-only")

	_, err = c.Rename("1", "   ")
	require.True(t, errors.Is(err, errors.ErrValidation))

	_, err = c.Rename("missing", "x")
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestDelete_ExactlyOne(t *testing.T) {
	store := &fakeStore{records: []session.Record{
		{SessionID: "1", Title: "one"},
		{SessionID: "2", Title: "two"},
	}}
	c := identified(t, store)

	require.True(t, c.Delete(context.Background(), "1"))
	c.Wait()

	entries := c.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "2", entries[0].ID)
	require.Equal(t, []string{"1"}, store.deleted)
}

func TestDelete_UnknownIsNoop(t *testing.T) {
	store := &fakeStore{records: []session.Record{{SessionID: "1"}}}
	c := identified(t, store)

	require.False(t, c.Delete(context.Background(), "404"))
	c.Wait()
	require.Equal(t, 1, c.Len())
	require.Empty(t, store.deleted)
}

func TestDelete_RemoteFailureDoesNotRestore(t *testing.T) {
	store := &fakeStore{records: []session.Record{{SessionID: "1"}}, delErr: fmt.Errorf("500")}
	c := identified(t, store)

	require.True(t, c.Delete(context.Background(), "1"))
	c.Wait()
	require.Zero(t, c.Len())
}

func TestDelete_LocalOnlyEntrySkipsRemote(t *testing.T) {
	store := &fakeStore{}
	c, gate := newCache(t, store, "")
	gate.Resolve(context.Background())

	e, _ := c.Insert(context.Background(), session.Draft{Title: "t"})
	require.True(t, c.Delete(context.Background(), e.ID))
	c.Wait()
	require.Empty(t, store.deleted)
}

func TestDelete_WhilePersistInFlight(t *testing.T) {
	store := &fakeStore{saveGate: make(chan struct{})}
	c := identified(t, store)

	e, _ := c.Insert(context.Background(), session.Draft{Title: "t"})
	require.True(t, c.Delete(context.Background(), e.ID))

	close(store.saveGate)
	c.Wait()

	require.Zero(t, c.Len())
	require.Equal(t, []string{"srv-1"}, store.deleted, "late-confirmed entry is deleted remotely")
}

func TestLogoutClearsCache(t *testing.T) {
	store := &fakeStore{records: []session.Record{{SessionID: "1"}}}
	c, gate := newCache(t, store, "ada@example.test")
	gate.Resolve(context.Background())
	c.Wait()
	require.Equal(t, 1, c.Len())

	gate.Logout(context.Background())
	require.Zero(t, c.Len())
}

func TestLoad_RacingLogoutLeavesCacheEmpty(t *testing.T) {
	store := &fakeStore{records: []session.Record{{SessionID: "1"}}}
	c, gate := newCache(t, store, "ada@example.test")
	gate.Resolve(context.Background())
	c.Wait()
	before := store.listCount()

	c.mu.Lock()
	loadDone := make(chan error, 1)
	go func() { loadDone <- c.Load(context.Background()) }()
	logoutDone := make(chan struct{})
	go func() {
		gate.Logout(context.Background())
		close(logoutDone)
	}()
	require.Eventually(t, func() bool { return !gate.Identified() }, time.Second, time.Millisecond)
	c.mu.Unlock()

	require.NoError(t, <-loadDone)
	<-logoutDone
	c.Wait()

	require.Zero(t, c.Len())
	require.Equal(t, before, store.listCount(), "no fetch after sign-out")
}

// Property: any interleaving of inserts and deletes keeps ids unique, puts every
// insert at index 0, and removes exactly the targeted id.
func TestCache_InsertDeleteProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		store := &fakeStore{}
		gate := identity.NewGate(fakeResolver{}, "/login", logging.Discard())
		gate.Resolve(context.Background())
		c := New(store, gate, logging.Discard())

		var model []string
		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for range steps {
			if len(model) == 0 || rapid.Bool().Draw(rt, "insert") {
				e, err := c.Insert(context.Background(), session.Draft{Title: "t"})
				if err != nil {
					rt.Fatalf("Insert error = %v", err)
				}
				if c.Entries()[0].ID != e.ID {
					rt.Fatalf("insert not at head")
				}
				model = append([]string{e.ID}, model...)
				continue
			}

			idx := rapid.IntRange(0, len(model)-1).Draw(rt, "idx")
			target := model[idx]
			before := c.Len()
			if !c.Delete(context.Background(), target) {
				rt.Fatalf("Delete(%s) = false", target)
			}
			model = append(model[:idx:idx], model[idx+1:]...)
			if c.Len() != before-1 {
				rt.Fatalf("Delete removed %d entries", before-c.Len())
			}
			if _, ok := c.Get(target); ok {
				rt.Fatalf("deleted id %s still present", target)
			}
		}

		got := c.Entries()
		if len(got) != len(model) {
			rt.Fatalf("len = %d, want %d", len(got), len(model))
		}
		seen := make(map[string]bool)
		for i, e := range got {
			if seen[e.ID] {
				rt.Fatalf("duplicate id %s", e.ID)
			}
			seen[e.ID] = true
			if e.ID != model[i] {
				rt.Fatalf("order mismatch at %d", i)
			}
		}
		c.Wait()
	})
}
