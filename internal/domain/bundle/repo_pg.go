package bundle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labprice/labprice/internal/platform/apperrors"
	"github.com/labprice/labprice/internal/platform/db"
)

type dealRepoPG struct{ pool *pgxpool.Pool }

func NewDealRepoPG(pool *pgxpool.Pool) DealRepository {
	return &dealRepoPG{pool: pool}
}

func (r *dealRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const dealCols = `id, name, discount_type, discount_value, starts_at, ends_at, is_active, created_at`

func (r *dealRepoPG) scanRow(row pgx.Row) (*BundleDeal, error) {
	var d BundleDeal
	err := row.Scan(&d.ID, &d.Name, &d.DiscountType, &d.DiscountValue, &d.StartsAt, &d.EndsAt, &d.IsActive, &d.CreatedAt)
	return &d, err
}

// Create must run inside a transaction: the deal row and its mapping set
// are written together.
func (r *dealRepoPG) Create(ctx context.Context, d *BundleDeal) error {
	d.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bundle_deal (id, name, discount_type, discount_value, starts_at, ends_at, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		d.ID, d.Name, d.DiscountType, d.DiscountValue, d.StartsAt, d.EndsAt, d.IsActive).Scan(&d.CreatedAt)
	if err != nil {
		return err
	}
	for _, mid := range d.MappingIDs {
		if _, err := r.conn(ctx).Exec(ctx,
			`INSERT INTO bundle_deal_mapping (deal_id, mapping_id) VALUES ($1, $2)`, d.ID, mid); err != nil {
			if db.IsForeignKeyViolation(err) {
				return apperrors.NotFound("test mappings not found", mid.String())
			}
			return err
		}
	}
	return nil
}

func (r *dealRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*BundleDeal, error) {
	d, err := r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+dealCols+` FROM bundle_deal WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("bundle deal not found", id.String())
		}
		return nil, err
	}
	if err := r.loadMappings(ctx, []*BundleDeal{d}); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *dealRepoPG) List(ctx context.Context, limit, offset int) ([]*BundleDeal, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bundle_deal`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+dealCols+` FROM bundle_deal ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, r.loadMappings(ctx, items)
}

func (r *dealRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE bundle_deal SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("bundle deal not found", id.String())
	}
	return nil
}

func (r *dealRepoPG) ListActive(ctx context.Context, now time.Time) ([]*BundleDeal, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+dealCols+` FROM bundle_deal
		WHERE is_active AND starts_at <= $1 AND (ends_at IS NULL OR ends_at > $1)
		ORDER BY id`, now)
	if err != nil {
		return nil, err
	}
	items, err := r.collect(rows)
	if err != nil {
		return nil, err
	}
	return items, r.loadMappings(ctx, items)
}

func (r *dealRepoPG) collect(rows pgx.Rows) ([]*BundleDeal, error) {
	defer rows.Close()
	var items []*BundleDeal
	for rows.Next() {
		d, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *dealRepoPG) loadMappings(ctx context.Context, deals []*BundleDeal) error {
	if len(deals) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*BundleDeal, len(deals))
	ids := make([]uuid.UUID, 0, len(deals))
	for _, d := range deals {
		d.MappingIDs = []uuid.UUID{}
		byID[d.ID] = d
		ids = append(ids, d.ID)
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT deal_id, mapping_id FROM bundle_deal_mapping WHERE deal_id = ANY($1) ORDER BY deal_id, mapping_id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var dealID, mappingID uuid.UUID
		if err := rows.Scan(&dealID, &mappingID); err != nil {
			return err
		}
		byID[dealID].MappingIDs = append(byID[dealID].MappingIDs, mappingID)
	}
	return rows.Err()
}
