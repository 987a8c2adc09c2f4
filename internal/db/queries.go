package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"

	"github.com/hpungsan/studybuddy/internal/errors"
)

// Session is a saved study session row.
type Session struct {
	ID        string
	Owner     string
	Title     string
	Extracted string
	Summary   string
	CreatedAt int64
}

// Document is an exported document row.
type Document struct {
	ID        string
	Owner     string
	Title     string
	Extracted string
	Summary   string
	CreatedAt int64
}

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.StudyError{
	Code:    "UNIQUE_CONSTRAINT",
	Kind:    errors.KindInternal,
	Status:  409,
	Message: "unique constraint violation",
}

// InsertSession stores a new session.
func InsertSession(ctx context.Context, db *sql.DB, s *Session) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (id, owner, title, extracted, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ID, s.Owner, s.Title, s.Extracted, s.Summary, s.CreatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// ListSessions returns owner's sessions, most recent first.
// Ties on created_at are broken by id (ULIDs sort by creation).
func ListSessions(ctx context.Context, db *sql.DB, owner string) ([]Session, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, owner, title, extracted, summary, created_at
		FROM sessions
		WHERE owner = ?
		ORDER BY created_at DESC, id DESC
	`, owner)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Owner, &s.Title, &s.Extracted, &s.Summary, &s.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// GetSession retrieves one of owner's sessions by id.
func GetSession(ctx context.Context, db *sql.DB, owner, id string) (*Session, error) {
	var s Session
	err := db.QueryRowContext(ctx, `
		SELECT id, owner, title, extracted, summary, created_at
		FROM sessions
		WHERE owner = ? AND id = ?
	`, owner, id).Scan(&s.ID, &s.Owner, &s.Title, &s.Extracted, &s.Summary, &s.CreatedAt)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFound(id)
		}
		return nil, errors.NewInternal(err)
	}
	return &s, nil
}

// DeleteSession removes one of owner's sessions.
// Returns NotFound if owner has no session with id.
func DeleteSession(ctx context.Context, db *sql.DB, owner, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE owner = ? AND id = ?`, owner, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

// InsertDocument stores an exported document.
func InsertDocument(ctx context.Context, db *sql.DB, d *Document) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO documents (id, owner, title, extracted, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, d.ID, d.Owner, d.Title, d.Extracted, d.Summary, d.CreatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetDocument retrieves an exported document by id.
// Documents are readable by anyone holding the id.
func GetDocument(ctx context.Context, db *sql.DB, id string) (*Document, error) {
	var d Document
	err := db.QueryRowContext(ctx, `
		SELECT id, owner, title, extracted, summary, created_at
		FROM documents
		WHERE id = ?
	`, id).Scan(&d.ID, &d.Owner, &d.Title, &d.Extracted, &d.Summary, &d.CreatedAt)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFound(id)
		}
		return nil, errors.NewInternal(err)
	}
	return &d, nil
}

// RevokeToken records a login token id as revoked until expiresAt.
// Revoking an already revoked token is a no-op.
func RevokeToken(ctx context.Context, db *sql.DB, jti string, expiresAt int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at) VALUES (?, ?)
		ON CONFLICT(jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// IsTokenRevoked reports whether jti has been revoked.
func IsTokenRevoked(ctx context.Context, db *sql.DB, jti string) (bool, error) {
	var exists int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM revoked_tokens WHERE jti = ?`, jti).Scan(&exists)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// PurgeRevokedTokens drops revocations whose token has expired anyway.
func PurgeRevokedTokens(ctx context.Context, db *sql.DB, now int64) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
