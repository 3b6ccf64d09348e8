package itemstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"webmap_gallery/gallery-go/internal/arcgis"
	"webmap_gallery/gallery-go/internal/sqlcgen"
)

var (
	ErrNotFound    = errors.New("itemstore: item not found")
	ErrInvalidItem = errors.New("itemstore: invalid item")
)

// Source looks up portal item data by item id.
type Source interface {
	Item(ctx context.Context, itemID string) (*arcgis.Item, error)
}

// Queries is the subset of the generated queries the Postgres store uses.
// *sqlcgen.Queries satisfies it.
type Queries interface {
	GetPortalItem(ctx context.Context, id string) (sqlcgen.PortalItem, error)
	UpsertPortalItem(ctx context.Context, arg sqlcgen.UpsertPortalItemParams) (sqlcgen.PortalItem, error)
	DeletePortalItem(ctx context.Context, id string) (int64, error)
}

// Postgres serves item data stored in the local portal_items table.
type Postgres struct {
	q Queries
}

func NewPostgres(q Queries) *Postgres {
	return &Postgres{q: q}
}

func (s *Postgres) Item(ctx context.Context, itemID string) (*arcgis.Item, error) {
	row, err := s.q.GetPortalItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("itemstore: get %s: %w", itemID, err)
	}

	var data arcgis.ItemData
	if err := json.Unmarshal(row.Data, &data); err != nil {
		return nil, fmt.Errorf("itemstore: decode %s: %w", itemID, err)
	}
	return &arcgis.Item{ID: row.ID, ItemData: &data}, nil
}

// Put stores item data, replacing any previous version. data must be a JSON
// object; only its "layers" member is used for popups.
func (s *Postgres) Put(ctx context.Context, itemID string, data json.RawMessage) error {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return fmt.Errorf("%w: item id is required", ErrInvalidItem)
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("%w: item data must be a JSON object: %v", ErrInvalidItem, err)
	}
	if probe == nil {
		return fmt.Errorf("%w: item data must be a JSON object", ErrInvalidItem)
	}
	if _, err := s.q.UpsertPortalItem(ctx, sqlcgen.UpsertPortalItemParams{ID: itemID, Data: data}); err != nil {
		return fmt.Errorf("itemstore: put %s: %w", itemID, err)
	}
	return nil
}

// Delete removes a stored item. It returns ErrNotFound when nothing was removed.
func (s *Postgres) Delete(ctx context.Context, itemID string) error {
	n, err := s.q.DeletePortalItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("itemstore: delete %s: %w", itemID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Portal fetches item data from the ArcGIS portal.
type Portal struct {
	client *arcgis.Client
}

func NewPortal(client *arcgis.Client) *Portal {
	return &Portal{client: client}
}

func (s *Portal) Item(ctx context.Context, itemID string) (*arcgis.Item, error) {
	return s.client.ItemData(ctx, itemID)
}

// Chain asks each source in turn and returns the first item found.
type Chain []Source

func (c Chain) Item(ctx context.Context, itemID string) (*arcgis.Item, error) {
	for _, s := range c {
		if s == nil {
			continue
		}
		item, err := s.Item(ctx, itemID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return item, nil
	}
	return nil, ErrNotFound
}
