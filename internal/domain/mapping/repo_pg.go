package mapping

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/labprice/labprice/internal/platform/apperrors"
	"github.com/labprice/labprice/internal/platform/db"
)

type mappingRepoPG struct{ pool *pgxpool.Pool }

func NewMappingRepoPG(pool *pgxpool.Pool) MappingRepository {
	return &mappingRepoPG{pool: pool}
}

func (r *mappingRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const mappingCols = `id, canonical_name, normalized_name, created_by_id, created_at, updated_at`

const entrySelect = `
	SELECT e.id, e.mapping_id, e.test_id, e.laboratory_id, l.name,
		t.price_list_id, t.name, t.code, e.price, NOT pl.is_active, e.position, e.created_at
	FROM test_mapping_entry e
	JOIN lab_test t ON t.id = e.test_id
	JOIN price_list pl ON pl.id = t.price_list_id
	JOIN laboratory l ON l.id = e.laboratory_id`

func (r *mappingRepoPG) scanMapping(row pgx.Row) (*TestMapping, error) {
	var m TestMapping
	err := row.Scan(&m.ID, &m.CanonicalName, &m.NormalizedName, &m.CreatedByID, &m.CreatedAt, &m.UpdatedAt)
	return &m, err
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.MappingID, &e.TestID, &e.LaboratoryID, &e.LaboratoryName,
		&e.PriceListID, &e.TestName, &e.TestCode, &e.Price, &e.Stale, &e.Position, &e.CreatedAt)
	return &e, err
}

func (r *mappingRepoPG) Create(ctx context.Context, m *TestMapping) error {
	m.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO test_mapping (id, canonical_name, normalized_name, created_by_id)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at, updated_at`,
		m.ID, m.CanonicalName, m.NormalizedName, m.CreatedByID).Scan(&m.CreatedAt, &m.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperrors.Validation("canonical name is already used by another mapping", m.CanonicalName)
	}
	return err
}

func (r *mappingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TestMapping, error) {
	m, err := r.scanMapping(r.conn(ctx).QueryRow(ctx, `SELECT `+mappingCols+` FROM test_mapping WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("test mapping not found", id.String())
		}
		return nil, err
	}
	if err := r.loadEntries(ctx, []*TestMapping{m}); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *mappingRepoPG) GetMany(ctx context.Context, ids []uuid.UUID) ([]*TestMapping, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+mappingCols+` FROM test_mapping WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	items, err := r.collect(rows)
	if err != nil {
		return nil, err
	}
	return items, r.loadEntries(ctx, items)
}

func (r *mappingRepoPG) FindByNormalizedName(ctx context.Context, normalized string) (*TestMapping, error) {
	m, err := r.scanMapping(r.conn(ctx).QueryRow(ctx,
		`SELECT `+mappingCols+` FROM test_mapping WHERE normalized_name = $1`, normalized))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *mappingRepoPG) Rename(ctx context.Context, m *TestMapping) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE test_mapping SET canonical_name=$2, normalized_name=$3, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`, m.ID, m.CanonicalName, m.NormalizedName).Scan(&m.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return apperrors.NotFound("test mapping not found", m.ID.String())
	case db.IsUniqueViolation(err):
		return apperrors.Validation("canonical name is already used by another mapping", m.CanonicalName)
	}
	return err
}

func (r *mappingRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM test_mapping WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return apperrors.Conflict("test mapping is referenced by a bundle deal", id.String())
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("test mapping not found", id.String())
	}
	return nil
}

func (r *mappingRepoPG) List(ctx context.Context, limit, offset int) ([]*TestMapping, int, error) {
	return r.page(ctx, ``, nil, limit, offset)
}

func (r *mappingRepoPG) Search(ctx context.Context, normalizedQuery string, limit, offset int) ([]*TestMapping, int, error) {
	pattern := "%" + likeEscaper.Replace(normalizedQuery) + "%"
	return r.page(ctx, ` WHERE normalized_name LIKE $1`, []interface{}{pattern}, limit, offset)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *mappingRepoPG) page(ctx context.Context, where string, args []interface{}, limit, offset int) ([]*TestMapping, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM test_mapping`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+mappingCols+` FROM test_mapping`+where+
		fmt.Sprintf(` ORDER BY canonical_name, id LIMIT $%d OFFSET $%d`, n+1, n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, r.loadEntries(ctx, items)
}

func (r *mappingRepoPG) collect(rows pgx.Rows) ([]*TestMapping, error) {
	defer rows.Close()
	var items []*TestMapping
	for rows.Next() {
		m, err := r.scanMapping(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// loadEntries attaches entries to every mapping in one query.
func (r *mappingRepoPG) loadEntries(ctx context.Context, items []*TestMapping) error {
	if len(items) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*TestMapping, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, m := range items {
		m.Entries = []Entry{}
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}

	rows, err := r.conn(ctx).Query(ctx, entrySelect+` WHERE e.mapping_id = ANY($1) ORDER BY e.mapping_id, e.position, e.id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return err
		}
		m := byID[e.MappingID]
		m.Entries = append(m.Entries, *e)
	}
	return rows.Err()
}

func (r *mappingRepoPG) CountDealReferences(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bundle_deal_mapping WHERE mapping_id = $1`, id).Scan(&n)
	return n, err
}

func (r *mappingRepoPG) AddEntry(ctx context.Context, e *Entry) error {
	e.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO test_mapping_entry (id, mapping_id, test_id, laboratory_id, price, position)
		VALUES ($1, $2, $3, $4, $5,
			(SELECT COALESCE(MAX(position), 0) + 1 FROM test_mapping_entry WHERE mapping_id = $2))
		RETURNING position, created_at`,
		e.ID, e.MappingID, e.TestID, e.LaboratoryID, e.Price).Scan(&e.Position, &e.CreatedAt)
	switch {
	case db.IsUniqueViolation(err):
		return apperrors.Conflict("laboratory already has an entry in this mapping", e.LaboratoryID.String())
	case db.IsForeignKeyViolation(err):
		return apperrors.NotFound("test mapping or test not found", e.MappingID.String(), e.TestID.String())
	}
	return err
}

func (r *mappingRepoPG) GetEntry(ctx context.Context, mappingID, entryID uuid.UUID) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, entrySelect+` WHERE e.mapping_id = $1 AND e.id = $2`, mappingID, entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("mapping entry not found", entryID.String())
		}
		return nil, err
	}
	return e, nil
}

func (r *mappingRepoPG) UpdateEntryTest(ctx context.Context, entryID, testID uuid.UUID, price decimal.Decimal) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE test_mapping_entry SET test_id = $2, price = $3 WHERE id = $1`, entryID, testID, price)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("mapping entry not found", entryID.String())
	}
	return nil
}

func (r *mappingRepoPG) DeleteEntry(ctx context.Context, mappingID, entryID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM test_mapping_entry WHERE mapping_id = $1 AND id = $2`, mappingID, entryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("mapping entry not found", entryID.String())
	}
	return nil
}

func (r *mappingRepoPG) ListEntriesByLaboratory(ctx context.Context, labID uuid.UUID) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, entrySelect+` WHERE e.laboratory_id = $1 ORDER BY e.mapping_id, e.position`, labID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
