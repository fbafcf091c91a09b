package mapping

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labprice/labprice/internal/domain/catalog"
	"github.com/labprice/labprice/internal/platform/apperrors"
	"github.com/labprice/labprice/internal/platform/auth"
	"github.com/labprice/labprice/internal/platform/db"
	"github.com/labprice/labprice/pkg/pagination"
	"github.com/labprice/labprice/pkg/textnorm"
)

// TestCatalog is the catalog lookup the registry needs to validate entries.
type TestCatalog interface {
	GetTestInfo(ctx context.Context, id uuid.UUID) (*catalog.TestInfo, error)
}

type Service struct {
	repo    MappingRepository
	catalog TestCatalog
	tx      db.TxRunner
	logger  zerolog.Logger
}

func NewService(repo MappingRepository, cat TestCatalog, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{repo: repo, catalog: cat, tx: tx, logger: logger}
}

// normalizeName returns the trimmed display name and its comparison key.
func normalizeName(name string) (string, string, error) {
	display := strings.Join(strings.Fields(name), " ")
	key := textnorm.Normalize(display)
	if key == "" {
		return "", "", apperrors.Validation("canonical name is required")
	}
	return display, key, nil
}

// ensureNameFree fails if another mapping than self already uses key.
func (s *Service) ensureNameFree(ctx context.Context, key string, self uuid.UUID) error {
	other, err := s.repo.FindByNormalizedName(ctx, key)
	if err != nil {
		return fmt.Errorf("look up canonical name: %w", err)
	}
	if other != nil && other.ID != self {
		return apperrors.Validation(
			fmt.Sprintf("canonical name %q is already used by another mapping", other.CanonicalName), other.ID.String())
	}
	return nil
}

// entryTest loads a test and checks it can back an entry: it must be on its
// laboratory's active price list.
func (s *Service) entryTest(ctx context.Context, testID uuid.UUID) (*catalog.TestInfo, error) {
	info, err := s.catalog.GetTestInfo(ctx, testID)
	if err != nil {
		return nil, err
	}
	if !info.ListActive {
		return nil, apperrors.Conflict("test is not on its laboratory's active price list", testID.String())
	}
	return info, nil
}

func newEntry(mappingID uuid.UUID, info *catalog.TestInfo) *Entry {
	return &Entry{
		MappingID:      mappingID,
		TestID:         info.ID,
		LaboratoryID:   info.LaboratoryID,
		LaboratoryName: info.LaboratoryName,
		PriceListID:    info.PriceListID,
		TestName:       info.Name,
		TestCode:       info.Code,
		Price:          info.Price,
	}
}

// CreateMapping registers a canonical test with optional initial entries.
func (s *Service) CreateMapping(ctx context.Context, canonicalName string, testIDs []uuid.UUID) (*TestMapping, error) {
	display, key, err := normalizeName(canonicalName)
	if err != nil {
		return nil, err
	}

	var m *TestMapping
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.ensureNameFree(ctx, key, uuid.Nil); err != nil {
			return err
		}

		infos := make([]*catalog.TestInfo, 0, len(testIDs))
		var missing []string
		for _, id := range testIDs {
			info, err := s.catalog.GetTestInfo(ctx, id)
			if err != nil {
				if apperrors.KindOf(err) == apperrors.KindNotFound {
					missing = append(missing, id.String())
					continue
				}
				return err
			}
			infos = append(infos, info)
		}
		if len(missing) > 0 {
			return apperrors.NotFound("tests not found", missing...)
		}

		seen := make(map[uuid.UUID]bool, len(infos))
		for _, info := range infos {
			if seen[info.LaboratoryID] {
				return apperrors.Validation("two initial entries reference the same laboratory", info.LaboratoryID.String())
			}
			seen[info.LaboratoryID] = true
			if !info.ListActive {
				return apperrors.Conflict("test is not on its laboratory's active price list", info.ID.String())
			}
		}

		m = &TestMapping{CanonicalName: display, NormalizedName: key, CreatedByID: auth.UserIDFromContext(ctx)}
		if err := s.repo.Create(ctx, m); err != nil {
			return err
		}
		m.Entries = make([]Entry, 0, len(infos))
		for _, info := range infos {
			e := newEntry(m.ID, info)
			if err := s.repo.AddEntry(ctx, e); err != nil {
				return err
			}
			m.Entries = append(m.Entries, *e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("mapping_id", m.ID.String()).Str("canonical_name", m.CanonicalName).
		Int("entries", len(m.Entries)).Msg("test mapping created")
	return m, nil
}

func (s *Service) GetMapping(ctx context.Context, id uuid.UUID) (*TestMapping, error) {
	return s.repo.GetByID(ctx, id)
}

// AddEntry links a laboratory's catalog test to the mapping.
func (s *Service) AddEntry(ctx context.Context, mappingID, testID uuid.UUID) (*Entry, error) {
	var e *Entry
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		m, err := s.repo.GetByID(ctx, mappingID)
		if err != nil {
			return err
		}
		info, err := s.catalog.GetTestInfo(ctx, testID)
		if err != nil {
			return err
		}
		if existing, _ := m.EntryFor(info.LaboratoryID); existing != nil {
			return apperrors.Conflict("laboratory already has an entry in this mapping", info.LaboratoryID.String())
		}
		if !info.ListActive {
			return apperrors.Conflict("test is not on its laboratory's active price list", testID.String())
		}
		e = newEntry(mappingID, info)
		return s.repo.AddEntry(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("mapping_id", mappingID.String()).Str("entry_id", e.ID.String()).Msg("mapping entry added")
	return e, nil
}

func (s *Service) RemoveEntry(ctx context.Context, mappingID, entryID uuid.UUID) error {
	if err := s.repo.DeleteEntry(ctx, mappingID, entryID); err != nil {
		return err
	}
	s.logger.Info().Str("mapping_id", mappingID.String()).Str("entry_id", entryID.String()).Msg("mapping entry removed")
	return nil
}

// RepointEntry moves an entry onto another test of the same laboratory,
// typically one from a newly activated price list.
func (s *Service) RepointEntry(ctx context.Context, mappingID, entryID, testID uuid.UUID) (*Entry, error) {
	var e *Entry
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		e, err = s.repo.GetEntry(ctx, mappingID, entryID)
		if err != nil {
			return err
		}
		info, err := s.entryTest(ctx, testID)
		if err != nil {
			return err
		}
		if info.LaboratoryID != e.LaboratoryID {
			return apperrors.Conflict("test belongs to a different laboratory than the entry", testID.String())
		}
		if err := s.repo.UpdateEntryTest(ctx, e.ID, info.ID, info.Price); err != nil {
			return err
		}
		e.TestID, e.PriceListID, e.TestName, e.TestCode, e.Price, e.Stale = info.ID, info.PriceListID, info.Name, info.Code, info.Price, false
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) RenameMapping(ctx context.Context, id uuid.UUID, canonicalName string) (*TestMapping, error) {
	display, key, err := normalizeName(canonicalName)
	if err != nil {
		return nil, err
	}
	var m *TestMapping
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if m, err = s.repo.GetByID(ctx, id); err != nil {
			return err
		}
		if err := s.ensureNameFree(ctx, key, id); err != nil {
			return err
		}
		m.CanonicalName, m.NormalizedName = display, key
		return s.repo.Rename(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// DeleteMapping is refused while a bundle deal covers the mapping.
func (s *Service) DeleteMapping(ctx context.Context, id uuid.UUID) error {
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		n, err := s.repo.CountDealReferences(ctx, id)
		if err != nil {
			return fmt.Errorf("count deal references: %w", err)
		}
		if n > 0 {
			return apperrors.Conflict(fmt.Sprintf("test mapping is referenced by %d bundle deals", n), id.String())
		}
		return s.repo.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("mapping_id", id.String()).Msg("test mapping deleted")
	return nil
}

// ListMappings pages through mappings ordered by canonical name. Pages past
// the end are empty.
func (s *Service) ListMappings(ctx context.Context, page, pageSize int) (pagination.Page[*TestMapping], error) {
	p := pagination.NewPageParams(page, pageSize)
	items, total, err := s.repo.List(ctx, p.PageSize, p.Offset())
	if err != nil {
		return pagination.Page[*TestMapping]{}, fmt.Errorf("list mappings: %w", err)
	}
	return pagination.NewPage(items, total, p), nil
}

// SearchMappings matches query against normalized canonical names.
func (s *Service) SearchMappings(ctx context.Context, query string, page, pageSize int) (pagination.Page[*TestMapping], error) {
	q := textnorm.Normalize(query)
	if q == "" {
		return s.ListMappings(ctx, page, pageSize)
	}
	p := pagination.NewPageParams(page, pageSize)
	items, total, err := s.repo.Search(ctx, q, p.PageSize, p.Offset())
	if err != nil {
		return pagination.Page[*TestMapping]{}, fmt.Errorf("search mappings: %w", err)
	}
	return pagination.NewPage(items, total, p), nil
}

// Resolve loads every id. If any is unknown the error lists all of them.
func (s *Service) Resolve(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*TestMapping, error) {
	found, err := s.repo.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve mappings: %w", err)
	}
	out := make(map[uuid.UUID]*TestMapping, len(found))
	for _, m := range found {
		out[m.ID] = m
	}

	var missing []string
	reported := make(map[uuid.UUID]bool)
	for _, id := range ids {
		if _, ok := out[id]; !ok && !reported[id] {
			reported[id] = true
			missing = append(missing, id.String())
		}
	}
	if len(missing) > 0 {
		return nil, apperrors.NotFound("test mappings not found", missing...)
	}
	return out, nil
}

// RepointLaboratory moves the laboratory's entries onto tests of its newly
// active list, matching by code first and then by normalized name. Entries
// with no counterpart are left in place and returned as stale. Runs inside
// the caller's transaction.
func (s *Service) RepointLaboratory(ctx context.Context, labID uuid.UUID, tests []*catalog.Test) (int, []uuid.UUID, error) {
	entries, err := s.repo.ListEntriesByLaboratory(ctx, labID)
	if err != nil {
		return 0, nil, fmt.Errorf("list laboratory entries: %w", err)
	}

	onList := make(map[uuid.UUID]bool, len(tests))
	byCode := make(map[string]*catalog.Test)
	byName := make(map[string]*catalog.Test)
	for _, t := range tests {
		onList[t.ID] = true
		if t.Code != nil {
			if k := strings.ToUpper(strings.TrimSpace(*t.Code)); k != "" && byCode[k] == nil {
				byCode[k] = t
			}
		}
		if k := textnorm.Normalize(t.Name); byName[k] == nil {
			byName[k] = t
		}
	}

	repointed := 0
	var stale []uuid.UUID
	for _, e := range entries {
		if onList[e.TestID] {
			continue
		}
		var target *catalog.Test
		if e.TestCode != nil {
			target = byCode[strings.ToUpper(strings.TrimSpace(*e.TestCode))]
		}
		if target == nil {
			target = byName[textnorm.Normalize(e.TestName)]
		}
		if target == nil {
			stale = append(stale, e.ID)
			continue
		}
		if err := s.repo.UpdateEntryTest(ctx, e.ID, target.ID, target.Price); err != nil {
			return 0, nil, fmt.Errorf("repoint entry %s: %w", e.ID, err)
		}
		repointed++
	}

	if len(stale) > 0 {
		s.logger.Warn().Str("laboratory_id", labID.String()).Int("stale", len(stale)).
			Msg("mapping entries have no counterpart on the new price list")
	}
	return repointed, stale, nil
}
