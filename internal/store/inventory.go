package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Item is a piece of farm equipment offered for rent.
type Item struct {
	ID          int64           `json:"id"`
	OwnerID     int64           `json:"owner_id"`
	Owner       string          `json:"owner"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	PricePerDay decimal.Decimal `json:"price_per_day"`
	Location    string          `json:"location"`
	Available   bool            `json:"available"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ItemInput carries the editable fields of an Item. A nil Available keeps
// the current value on update and means true on create.
type ItemInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	PricePerDay decimal.Decimal `json:"price_per_day"`
	Location    string          `json:"location"`
	Available   *bool           `json:"available"`
}

func (in *ItemInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Location = strings.TrimSpace(in.Location)
	if in.Name == "" {
		return invalid("item name is required")
	}
	if in.PricePerDay.IsNegative() {
		return invalid("price per day must not be negative")
	}
	in.PricePerDay = in.PricePerDay.Round(2)
	return nil
}

func (s *Store) CreateItem(ctx context.Context, ownerID int64, in ItemInput) (*Item, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	available := in.Available == nil || *in.Available
	res, err := s.db.ExecContext(ctx, `
INSERT INTO inventory (owner_id, name, description, price_per_day, location, available, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ownerID, in.Name, in.Description, in.PricePerDay.StringFixed(2), in.Location, available, toUnix(s.now()))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetItem(ctx, id)
}

const itemColumns = `i.id, i.owner_id, u.username, i.name, i.description, i.price_per_day, i.location, i.available, i.created_at`

func (s *Store) GetItem(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM inventory i JOIN users u ON u.id = i.owner_id WHERE i.id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return it, err
}

// ListItems returns items newest first, optionally only those available to rent.
func (s *Store) ListItems(ctx context.Context, onlyAvailable bool) ([]Item, error) {
	q := `SELECT ` + itemColumns + ` FROM inventory i JOIN users u ON u.id = i.owner_id`
	if onlyAvailable {
		q += ` WHERE i.available = 1`
	}
	q += ` ORDER BY i.created_at DESC, i.id DESC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// UpdateItem replaces the editable fields of an item owned by ownerID.
func (s *Store) UpdateItem(ctx context.Context, ownerID, id int64, in ItemInput) (*Item, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	cur, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	available := cur.Available
	if in.Available != nil {
		available = *in.Available
	}
	_, err = s.db.ExecContext(ctx, `
UPDATE inventory SET name = ?, description = ?, price_per_day = ?, location = ?, available = ?
WHERE id = ? AND owner_id = ?`,
		in.Name, in.Description, in.PricePerDay.StringFixed(2), in.Location, available, id, ownerID)
	if err != nil {
		return nil, err
	}
	return s.GetItem(ctx, id)
}

func (s *Store) DeleteItem(ctx context.Context, ownerID, id int64) error {
	cur, err := s.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if cur.OwnerID != ownerID {
		return ErrForbidden
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM inventory WHERE id = ? AND owner_id = ?`, id, ownerID)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(sc scanner) (*Item, error) {
	var it Item
	var price string
	var created int64
	if err := sc.Scan(&it.ID, &it.OwnerID, &it.Owner, &it.Name, &it.Description, &price, &it.Location, &it.Available, &created); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("item %d: bad price %q: %w", it.ID, price, err)
	}
	it.PricePerDay = d
	it.CreatedAt = fromUnix(created)
	return &it, nil
}
