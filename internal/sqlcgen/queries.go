package sqlcgen

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

const createPortalItemsTable = `-- name: CreatePortalItemsTable :exec
CREATE TABLE IF NOT EXISTS portal_items (
  id         text PRIMARY KEY,
  data       jsonb NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now()
)
`

func (q *Queries) CreatePortalItemsTable(ctx context.Context) error {
	_, err := q.db.Exec(ctx, createPortalItemsTable)
	return err
}

const getPortalItem = `-- name: GetPortalItem :one
SELECT id, data, updated_at
FROM portal_items
WHERE id = $1
`

func (q *Queries) GetPortalItem(ctx context.Context, id string) (PortalItem, error) {
	row := q.db.QueryRow(ctx, getPortalItem, id)
	var i PortalItem
	err := row.Scan(&i.ID, &i.Data, &i.UpdatedAt)
	return i, err
}

const upsertPortalItem = `-- name: UpsertPortalItem :one
INSERT INTO portal_items (id, data, updated_at)
VALUES ($1, $2::jsonb, now())
ON CONFLICT (id) DO UPDATE
SET data = EXCLUDED.data,
    updated_at = now()
RETURNING id, data, updated_at
`

type UpsertPortalItemParams struct {
	ID   string
	Data []byte
}

func (q *Queries) UpsertPortalItem(ctx context.Context, arg UpsertPortalItemParams) (PortalItem, error) {
	row := q.db.QueryRow(ctx, upsertPortalItem, arg.ID, string(arg.Data))
	var i PortalItem
	err := row.Scan(&i.ID, &i.Data, &i.UpdatedAt)
	return i, err
}

const deletePortalItem = `-- name: DeletePortalItem :execrows
DELETE FROM portal_items
WHERE id = $1
`

func (q *Queries) DeletePortalItem(ctx context.Context, id string) (int64, error) {
	tag, err := q.db.Exec(ctx, deletePortalItem, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
