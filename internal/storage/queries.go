package storage

import (
	"context"
	"database/sql"
	"time"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type DocumentRow struct {
	UserID          string
	Payload         string
	LastUpdated     string
	UpdatedBy       string
	Version         int64
	MirroredVersion int64
	MirrorError     string
}

const createUser = `-- name: CreateUser :exec
INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)
`

type CreateUserParams struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) error {
	_, err := q.db.ExecContext(ctx, createUser, arg.ID, arg.Email, arg.PasswordHash, arg.CreatedAt)
	return err
}

const getUserByEmail = `-- name: GetUserByEmail :one
SELECT id, email, password_hash, created_at FROM users WHERE email = ? COLLATE NOCASE
`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByEmail, email)
	var i User
	err := row.Scan(&i.ID, &i.Email, &i.PasswordHash, &i.CreatedAt)
	return i, err
}

const countUsers = `-- name: CountUsers :one
SELECT COUNT(*) FROM users
`

func (q *Queries) CountUsers(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countUsers)
	var n int64
	err := row.Scan(&n)
	return n, err
}

const getDocument = `-- name: GetDocument :one
SELECT user_id, payload, last_updated, updated_by, version, mirrored_version, mirror_error
FROM documents WHERE user_id = ?
`

func (q *Queries) GetDocument(ctx context.Context, userID string) (DocumentRow, error) {
	row := q.db.QueryRowContext(ctx, getDocument, userID)
	var i DocumentRow
	err := row.Scan(&i.UserID, &i.Payload, &i.LastUpdated, &i.UpdatedBy, &i.Version, &i.MirroredVersion, &i.MirrorError)
	return i, err
}

const upsertDocument = `-- name: UpsertDocument :one
INSERT INTO documents (user_id, payload, last_updated, updated_by, version, updated_at)
VALUES (?, ?, ?, ?, 1, CURRENT_TIMESTAMP)
ON CONFLICT (user_id) DO UPDATE SET
    payload = excluded.payload,
    last_updated = excluded.last_updated,
    updated_by = excluded.updated_by,
    version = documents.version + 1,
    updated_at = CURRENT_TIMESTAMP
RETURNING version
`

type UpsertDocumentParams struct {
	UserID      string
	Payload     string
	LastUpdated string
	UpdatedBy   string
}

func (q *Queries) UpsertDocument(ctx context.Context, arg UpsertDocumentParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, upsertDocument, arg.UserID, arg.Payload, arg.LastUpdated, arg.UpdatedBy)
	var version int64
	err := row.Scan(&version)
	return version, err
}

const getPendingMirrors = `-- name: GetPendingMirrors :many
SELECT user_id, version FROM documents
WHERE version > mirrored_version
ORDER BY updated_at ASC
LIMIT ?
`

type GetPendingMirrorsRow struct {
	UserID  string
	Version int64
}

func (q *Queries) GetPendingMirrors(ctx context.Context, limit int64) ([]GetPendingMirrorsRow, error) {
	rows, err := q.db.QueryContext(ctx, getPendingMirrors, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []GetPendingMirrorsRow
	for rows.Next() {
		var i GetPendingMirrorsRow
		if err := rows.Scan(&i.UserID, &i.Version); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const markMirrored = `-- name: MarkMirrored :exec
UPDATE documents SET mirrored_version = ?, mirror_error = ''
WHERE user_id = ? AND mirrored_version < ?
`

func (q *Queries) MarkMirrored(ctx context.Context, userID string, version int64) error {
	_, err := q.db.ExecContext(ctx, markMirrored, version, userID, version)
	return err
}

const markMirrorError = `-- name: MarkMirrorError :exec
UPDATE documents SET mirror_error = ? WHERE user_id = ?
`

func (q *Queries) MarkMirrorError(ctx context.Context, userID, msg string) error {
	_, err := q.db.ExecContext(ctx, markMirrorError, msg, userID)
	return err
}
