package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/labprice/labprice/internal/platform/apperrors"
)

// maxImportRows bounds a single CSV import.
const maxImportRows = 10000

// ParseTestsCSV reads name,code,price rows. A leading header row starting with
// "name" is skipped. Every invalid row is reported, not just the first.
func ParseTestsCSV(r io.Reader) ([]*Test, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var (
		tests    []*Test
		problems []string
	)
	for first := true; ; first = false {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.Validation(err.Error())
		}
		line, _ := cr.FieldPos(0)
		if first && strings.EqualFold(strings.TrimSpace(rec[0]), "name") {
			continue
		}
		if len(tests)+len(problems) >= maxImportRows {
			return nil, apperrors.Validation(fmt.Sprintf("import is limited to %d rows", maxImportRows))
		}

		t, err := parseTestRow(rec)
		if err != nil {
			problems = append(problems, fmt.Sprintf("line %d: %s", line, err))
			continue
		}
		tests = append(tests, t)
	}

	if len(problems) > 0 {
		return nil, apperrors.Validation("invalid rows: " + strings.Join(problems, "; "))
	}
	if len(tests) == 0 {
		return nil, apperrors.Validation("import contains no rows")
	}
	return tests, nil
}

func parseTestRow(rec []string) (*Test, error) {
	if len(rec) != 3 {
		return nil, fmt.Errorf("expected 3 columns (name,code,price), got %d", len(rec))
	}
	t := &Test{Name: rec[0]}
	if code := strings.TrimSpace(rec[1]); code != "" {
		t.Code = &code
	}
	price, err := NewPrice(rec[2])
	if err != nil {
		return nil, fmt.Errorf("invalid price %q", rec[2])
	}
	t.Price = price
	if err := validateTest(t); err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			return nil, errors.New(appErr.Message)
		}
		return nil, err
	}
	return t, nil
}

// ImportTests adds every row of a CSV document to the price list in one
// transaction. Nothing is written if any row is invalid.
func (s *Service) ImportTests(ctx context.Context, priceListID uuid.UUID, r io.Reader) ([]*Test, error) {
	tests, err := ParseTestsCSV(r)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.lists.GetByID(ctx, priceListID); err != nil {
			return err
		}
		for _, t := range tests {
			t.PriceListID = priceListID
			if err := s.tests.Create(ctx, t); err != nil {
				return fmt.Errorf("import test %q: %w", t.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("price_list_id", priceListID.String()).Int("count", len(tests)).Msg("tests imported")
	return tests, nil
}
