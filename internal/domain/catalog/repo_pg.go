package catalog

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

func notFound(err error, what string, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound(what+" not found", id.String())
	}
	return err
}

// -- Laboratory --

type laboratoryRepoPG struct{ pool *pgxpool.Pool }

func NewLaboratoryRepoPG(pool *pgxpool.Pool) LaboratoryRepository {
	return &laboratoryRepoPG{pool: pool}
}

func (r *laboratoryRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const labCols = `id, name, contact_email, contact_phone, address, created_at, updated_at`

func (r *laboratoryRepoPG) scanRow(row pgx.Row) (*Laboratory, error) {
	var l Laboratory
	err := row.Scan(&l.ID, &l.Name, &l.ContactEmail, &l.ContactPhone, &l.Address, &l.CreatedAt, &l.UpdatedAt)
	return &l, err
}

func (r *laboratoryRepoPG) Create(ctx context.Context, l *Laboratory) error {
	l.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO laboratory (id, name, contact_email, contact_phone, address)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		l.ID, l.Name, l.ContactEmail, l.ContactPhone, l.Address).Scan(&l.CreatedAt, &l.UpdatedAt)
}

func (r *laboratoryRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Laboratory, error) {
	l, err := r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+labCols+` FROM laboratory WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "laboratory", id)
	}
	return l, nil
}

func (r *laboratoryRepoPG) Update(ctx context.Context, l *Laboratory) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE laboratory SET name=$2, contact_email=$3, contact_phone=$4, address=$5, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		l.ID, l.Name, l.ContactEmail, l.ContactPhone, l.Address).Scan(&l.CreatedAt, &l.UpdatedAt)
	return notFound(err, "laboratory", l.ID)
}

func (r *laboratoryRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM laboratory WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return apperrors.Conflict("laboratory is referenced by test mappings", id.String())
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("laboratory not found", id.String())
	}
	return nil
}

func (r *laboratoryRepoPG) List(ctx context.Context, limit, offset int) ([]*Laboratory, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM laboratory`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+labCols+` FROM laboratory ORDER BY name, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Laboratory
	for rows.Next() {
		l, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, l)
	}
	return items, total, rows.Err()
}

func (r *laboratoryRepoPG) LockForUpdate(ctx context.Context, id uuid.UUID) error {
	var locked uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `SELECT id FROM laboratory WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	return notFound(err, "laboratory", id)
}

func (r *laboratoryRepoPG) CountMappedEntries(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM test_mapping_entry WHERE laboratory_id = $1`, id).Scan(&n)
	return n, err
}

// -- PriceList --

type priceListRepoPG struct{ pool *pgxpool.Pool }

func NewPriceListRepoPG(pool *pgxpool.Pool) PriceListRepository {
	return &priceListRepoPG{pool: pool}
}

func (r *priceListRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const plCols = `id, laboratory_id, name, valid_from, valid_until, is_active, created_at`

func (r *priceListRepoPG) scanRow(row pgx.Row) (*PriceList, error) {
	var pl PriceList
	err := row.Scan(&pl.ID, &pl.LaboratoryID, &pl.Name, &pl.ValidFrom, &pl.ValidUntil, &pl.IsActive, &pl.CreatedAt)
	return &pl, err
}

func (r *priceListRepoPG) Create(ctx context.Context, pl *PriceList) error {
	pl.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO price_list (id, laboratory_id, name, valid_from, valid_until, is_active)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		pl.ID, pl.LaboratoryID, pl.Name, pl.ValidFrom, pl.ValidUntil, pl.IsActive).Scan(&pl.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return apperrors.NotFound("laboratory not found", pl.LaboratoryID.String())
	}
	return err
}

func (r *priceListRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PriceList, error) {
	pl, err := r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+plCols+` FROM price_list WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "price list", id)
	}
	return pl, nil
}

func (r *priceListRepoPG) ListByLaboratory(ctx context.Context, labID uuid.UUID) ([]*PriceList, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+plCols+` FROM price_list WHERE laboratory_id = $1 ORDER BY valid_from DESC, id`, labID)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *priceListRepoPG) collect(rows pgx.Rows) ([]*PriceList, error) {
	defer rows.Close()
	var items []*PriceList
	for rows.Next() {
		pl, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, pl)
	}
	return items, rows.Err()
}

// Activate must run inside a transaction. The deactivation is issued first
// so the partial unique index on active lists is never violated.
func (r *priceListRepoPG) Activate(ctx context.Context, labID, id uuid.UUID) error {
	if _, err := r.conn(ctx).Exec(ctx,
		`UPDATE price_list SET is_active = FALSE WHERE laboratory_id = $1 AND id <> $2 AND is_active`, labID, id); err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE price_list SET is_active = TRUE WHERE id = $1 AND laboratory_id = $2`, id, labID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return apperrors.Conflict("laboratory already has an active price list", labID.String())
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("price list not found", id.String())
	}
	return nil
}

func (r *priceListRepoPG) ListDue(ctx context.Context, now time.Time) ([]*PriceList, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT ON (pl.laboratory_id)
			pl.id, pl.laboratory_id, pl.name, pl.valid_from, pl.valid_until, pl.is_active, pl.created_at
		FROM price_list pl
		LEFT JOIN price_list act ON act.laboratory_id = pl.laboratory_id AND act.is_active
		WHERE NOT pl.is_active
			AND pl.valid_from <= $1
			AND (pl.valid_until IS NULL OR pl.valid_until > $1)
			AND (act.id IS NULL OR pl.valid_from > act.valid_from)
		ORDER BY pl.laboratory_id, pl.valid_from DESC, pl.id`, now)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

// -- Test --

type testRepoPG struct{ pool *pgxpool.Pool }

func NewTestRepoPG(pool *pgxpool.Pool) TestRepository {
	return &testRepoPG{pool: pool}
}

func (r *testRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const testCols = `id, price_list_id, name, code, price, created_at`

func (r *testRepoPG) scanRow(row pgx.Row) (*Test, error) {
	var t Test
	err := row.Scan(&t.ID, &t.PriceListID, &t.Name, &t.Code, &t.Price, &t.CreatedAt)
	return &t, err
}

func (r *testRepoPG) Create(ctx context.Context, t *Test) error {
	t.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO lab_test (id, price_list_id, name, code, price)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		t.ID, t.PriceListID, t.Name, t.Code, t.Price).Scan(&t.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return apperrors.NotFound("price list not found", t.PriceListID.String())
	}
	return err
}

func (r *testRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Test, error) {
	t, err := r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+testCols+` FROM lab_test WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "test", id)
	}
	return t, nil
}

func (r *testRepoPG) GetInfo(ctx context.Context, id uuid.UUID) (*TestInfo, error) {
	var ti TestInfo
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT t.id, t.price_list_id, t.name, t.code, t.price, t.created_at,
			l.id, l.name, pl.is_active
		FROM lab_test t
		JOIN price_list pl ON pl.id = t.price_list_id
		JOIN laboratory l ON l.id = pl.laboratory_id
		WHERE t.id = $1`, id).Scan(
		&ti.ID, &ti.PriceListID, &ti.Name, &ti.Code, &ti.Price, &ti.CreatedAt,
		&ti.LaboratoryID, &ti.LaboratoryName, &ti.ListActive)
	if err != nil {
		return nil, notFound(err, "test", id)
	}
	return &ti, nil
}

func (r *testRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM lab_test WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return apperrors.Conflict("test is referenced by test mappings", id.String())
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("test not found", id.String())
	}
	return nil
}

func (r *testRepoPG) ListByPriceList(ctx context.Context, priceListID uuid.UUID, limit, offset int) ([]*Test, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM lab_test WHERE price_list_id = $1`, priceListID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+testCols+` FROM lab_test WHERE price_list_id = $1 ORDER BY name, id LIMIT $2 OFFSET $3`,
		priceListID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	return items, total, err
}

func (r *testRepoPG) ListAllByPriceList(ctx context.Context, priceListID uuid.UUID) ([]*Test, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+testCols+` FROM lab_test WHERE price_list_id = $1 ORDER BY name, id`, priceListID)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *testRepoPG) collect(rows pgx.Rows) ([]*Test, error) {
	defer rows.Close()
	var items []*Test
	for rows.Next() {
		t, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *testRepoPG) CountMappedEntries(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM test_mapping_entry WHERE test_id = $1`, id).Scan(&n)
	return n, err
}
