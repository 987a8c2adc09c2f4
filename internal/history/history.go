// Package history owns the ordered collection of session entries and
// reconciles optimistic local writes with the remote store.
package history

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hpungsan/studybuddy/internal/errors"
	"github.com/hpungsan/studybuddy/internal/identity"
	"github.com/hpungsan/studybuddy/internal/session"
)

// Store is the remote persistent store for history entries.
type Store interface {
	List(ctx context.Context) ([]session.Record, error)
	// Save persists draft and returns the server-assigned id ("" if none was returned).
	Save(ctx context.Context, draft session.Draft) (string, error)
	Delete(ctx context.Context, remoteID string) error
}

// Cache is the single source of truth for rendered history. Entries are
// ordered most-recent-first; new saves always go to index 0.
type Cache struct {
	store Store
	gate  *identity.Gate
	log   *logrus.Logger
	now   func() time.Time

	mu       sync.Mutex
	entries  []session.Entry
	inflight map[string]bool // local ids with a remote persist in flight
	deleted  map[string]bool // in-flight ids deleted locally before the persist finished
	loadSeq  uint64

	wg sync.WaitGroup
}

// New creates an empty cache and subscribes it to gate: becoming identified
// triggers a background Load, becoming anonymous clears the cache.
func New(store Store, gate *identity.Gate, log *logrus.Logger) *Cache {
	c := &Cache{
		store:    store,
		gate:     gate,
		log:      log,
		now:      time.Now,
		inflight: make(map[string]bool),
		deleted:  make(map[string]bool),
	}
	gate.Subscribe(c.onIdentity)
	return c
}

func (c *Cache) onIdentity(id identity.Identity) {
	switch id.State {
	case identity.StateIdentified:
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			_ = c.Load(context.Background())
		}()
	case identity.StateAnonymous:
		c.Clear()
	}
}

// Load fetches the full remote collection and replaces local state wholesale.
// Optimistic entries not yet confirmed remotely are dropped; this is accepted.
// Load is a no-op while anonymous. A load superseded by a later Load or Clear
// is discarded.
func (c *Cache) Load(ctx context.Context) error {
	// Checked under c.mu so a concurrent Clear either sees this token or
	// happens before the check.
	c.mu.Lock()
	if !c.gate.Identified() {
		c.mu.Unlock()
		return nil
	}
	c.loadSeq++
	token := c.loadSeq
	c.mu.Unlock()

	records, err := c.store.List(ctx)
	if err != nil {
		c.log.WithError(err).WithField("op", "history_load").Warn("failed to load history from backend")
		return errors.NewHistoryLoadFailed(err)
	}

	entries := make([]session.Entry, 0, len(records))
	seen := make(map[string]bool, len(records))
	for i, r := range records {
		e := r.ToEntry(i)
		if seen[e.ID] {
			c.log.WithFields(logrus.Fields{"op": "history_load", "entry_id": e.ID}).Warn("dropping duplicate history id")
			continue
		}
		seen[e.ID] = true
		entries = append(entries, e)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if token != c.loadSeq || !c.gate.Identified() {
		c.log.WithFields(logrus.Fields{"op": "history_load", "token": token}).Debug("discarding superseded history load")
		return nil
	}
	c.entries = entries
	return nil
}

// Insert adds a new entry at the head of the cache immediately and
// unconditionally. When identified, a remote persist is started in the
// background; its outcome only changes the entry's SyncState.
func (c *Cache) Insert(ctx context.Context, draft session.Draft) (session.Entry, error) {
	id, err := session.NewLocalID()
	if err != nil {
		return session.Entry{}, errors.NewInternal(err)
	}

	entry := session.Entry{
		ID:        id,
		Title:     draft.Title,
		Extracted: draft.Extracted,
		Summary:   draft.Summary,
		SyncState: session.SyncLocal,
		CreatedAt: c.now().Unix(),
	}

	c.mu.Lock()
	c.entries = append([]session.Entry{entry}, c.entries...)
	c.mu.Unlock()

	if c.gate.Identified() {
		c.persist(ctx, id, draft)
	}
	return entry, nil
}

// Retry re-attempts the remote persist of an entry whose sync failed (or that
// was saved while anonymous). Confirmed entries and entries with a persist in
// flight are left alone.
func (c *Cache) Retry(ctx context.Context, id string) error {
	if !c.gate.Identified() {
		return errors.NewAuthorizationRequired("sync", c.gate.LoginURL())
	}

	c.mu.Lock()
	idx := c.indexOf(id)
	if idx < 0 {
		c.mu.Unlock()
		return errors.NewNotFound(id)
	}
	e := c.entries[idx]
	if e.SyncState == session.SyncConfirmed || c.inflight[id] {
		c.mu.Unlock()
		return nil
	}
	c.entries[idx].SyncState = session.SyncLocal
	c.entries[idx].SyncError = ""
	c.mu.Unlock()

	c.persist(ctx, id, session.Draft{Title: e.Title, Extracted: e.Extracted, Summary: e.Summary})
	return nil
}

func (c *Cache) persist(ctx context.Context, id string, draft session.Draft) {
	ctx = context.WithoutCancel(ctx)

	c.mu.Lock()
	c.inflight[id] = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		remoteID, err := c.store.Save(ctx, draft)

		c.mu.Lock()
		delete(c.inflight, id)
		idx := c.indexOf(id)
		if idx < 0 {
			// Deleted by the user (or dropped by a load/clear) while in flight.
			tombstoned := c.deleted[id]
			delete(c.deleted, id)
			c.mu.Unlock()
			if err == nil && tombstoned && remoteID != "" {
				c.remoteDelete(ctx, id, remoteID)
			}
			return
		}

		fields := logrus.Fields{"op": "history_save", "entry_id": id}
		if err != nil {
			c.entries[idx].SyncState = session.SyncFailed
			c.entries[idx].SyncError = err.Error()
			c.mu.Unlock()
			c.log.WithError(err).WithFields(fields).Warn("failed to save history to backend; keeping local entry")
			return
		}
		c.entries[idx].SyncState = session.SyncConfirmed
		c.entries[idx].RemoteID = remoteID
		c.mu.Unlock()
		fields["remote_id"] = remoteID
		c.log.WithFields(fields).Debug("history entry confirmed")
	}()
}

// Rename updates an entry's title locally. Not propagated to the remote store.
func (c *Cache) Rename(id, title string) (session.Entry, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return session.Entry{}, errors.NewValidation("title must not be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexOf(id)
	if idx < 0 {
		return session.Entry{}, errors.NewNotFound(id)
	}
	c.entries[idx].Title = title
	return c.entries[idx], nil
}

// Delete removes the entry locally at once, then issues a best-effort remote
// delete. A remote failure is logged and never restores the entry.
// Deleting an unknown id is a no-op and returns false.
func (c *Cache) Delete(ctx context.Context, id string) bool {
	c.mu.Lock()
	idx := c.indexOf(id)
	if idx < 0 {
		c.mu.Unlock()
		return false
	}
	e := c.entries[idx]
	c.entries = append(c.entries[:idx:idx], c.entries[idx+1:]...)
	if c.inflight[id] {
		c.deleted[id] = true
	}
	c.mu.Unlock()

	if e.RemoteID != "" && c.gate.Identified() {
		ctx = context.WithoutCancel(ctx)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.remoteDelete(ctx, id, e.RemoteID)
		}()
	}
	return true
}

func (c *Cache) remoteDelete(ctx context.Context, id, remoteID string) {
	if err := c.store.Delete(ctx, remoteID); err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{
			"op":        "history_delete",
			"entry_id":  id,
			"remote_id": remoteID,
		}).Warn("failed to delete from backend")
	}
}

// Clear empties the cache and discards any in-flight load.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.loadSeq++
}

// Entries returns a snapshot of the cache, most recent first.
func (c *Cache) Entries() []session.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]session.Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Get returns a copy of the entry with id.
func (c *Cache) Get(id string) (session.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexOf(id)
	if idx < 0 {
		return session.Entry{}, false
	}
	return c.entries[idx], true
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Wait blocks until all background loads, persists and deletes have finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}

// indexOf must be called with c.mu held.
func (c *Cache) indexOf(id string) int {
	for i := range c.entries {
		if c.entries[i].ID == id {
			return i
		}
	}
	return -1
}
