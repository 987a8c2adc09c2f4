package session

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SyncState records how far an entry has been reconciled with the remote store.
type SyncState string

const (
	// SyncLocal: held only locally (anonymous save, or remote persist still in flight).
	SyncLocal SyncState = "local"
	// SyncConfirmed: the remote store accepted the entry.
	SyncConfirmed SyncState = "confirmed"
	// SyncFailed: the remote persist failed; the entry is kept locally.
	SyncFailed SyncState = "sync_failed"
)

// LocalIDPrefix marks ids generated on the client.
const LocalIDPrefix = "local-"

// Entry is one extract+summarize cycle, identified and titled.
type Entry struct {
	// ID is unique within the history cache. Server-assigned for entries loaded
	// from the remote store, "local-<ulid>" for entries saved on this client.
	ID string `json:"id"`

	// RemoteID is the server-assigned id once the remote store has the entry.
	// Empty while the entry is local-only.
	RemoteID string `json:"remote_id,omitempty"`

	Title     string    `json:"title"`
	Extracted string    `json:"extracted"`
	Summary   string    `json:"summary"`
	SyncState SyncState `json:"sync_state"`

	// SyncError is the last remote persist failure, if SyncState is SyncFailed.
	SyncError string `json:"sync_error,omitempty"`

	// CreatedAt is the Unix timestamp when the entry was created locally,
	// or the remote timestamp when known.
	CreatedAt int64 `json:"created_at"`
}

// IsLocal reports whether id was generated on this client.
func IsLocal(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// Draft is the content of an entry about to be saved.
type Draft struct {
	Title     string `json:"title"`
	Extracted string `json:"extracted"`
	Summary   string `json:"summary"`
}

// Record is a history entry as the remote store returns it.
type Record struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
	Timestamp string `json:"timestamp,omitempty"`
	Extracted string `json:"extracted"`
	Summary   string `json:"summary"`
}

// ToEntry converts a remote record at position index (0-based) into a confirmed entry.
// Missing titles become "Session N"; a missing id falls back to the position.
func (r Record) ToEntry(index int) Entry {
	id := r.SessionID
	if id == "" {
		id = fmt.Sprintf("%d", index)
	}
	title := r.Title
	if title == "" {
		title = fmt.Sprintf("Session %d", index+1)
	}
	return Entry{
		ID:        id,
		RemoteID:  r.SessionID,
		Title:     title,
		Extracted: r.Extracted,
		Summary:   r.Summary,
		SyncState: SyncConfirmed,
		CreatedAt: parseTimestamp(r.Timestamp),
	}
}

// parseTimestamp accepts the backend's "20060102_150405" layout or RFC 3339.
// Unparseable values yield 0.
func parseTimestamp(s string) int64 {
	if s == "" {
		return 0
	}
	for _, layout := range []string{"20060102_150405", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix()
		}
	}
	return 0
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID generates a new monotonic ULID string.
func NewULID() (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewLocalID generates a client-side entry id. Ids are time-ordered and unique
// within the process.
func NewLocalID() (string, error) {
	id, err := NewULID()
	if err != nil {
		return "", err
	}
	return LocalIDPrefix + id, nil
}
