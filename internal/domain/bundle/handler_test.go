package bundle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labprice/labprice/internal/platform/apperrors"
	"github.com/labprice/labprice/internal/platform/middleware"
)

func newTestHandler(known ...uuid.UUID) (*Handler, *Service, *echo.Echo) {
	svc, _ := newTestService(known...)
	e := echo.New()
	e.Validator = middleware.NewRequestValidator()
	return NewHandler(svc), svc, e
}

func TestHandler_CreateDeal(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	h, _, e := newTestHandler(a, b)

	body := `{"name":"Checkup","mapping_ids":["` + a.String() + `","` + b.String() + `"],"discount_type":"percentage","discount_value":"20"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h.CreateDeal(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var got BundleDeal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Checkup", got.Name)
	assert.True(t, got.IsActive, "deals are active unless stated")
	assert.Len(t, got.MappingIDs, 2)
}

func TestHandler_CreateDeal_InvalidBody(t *testing.T) {
	a := uuid.New()
	h, _, e := newTestHandler(a)

	body := `{"name":"Checkup","mapping_ids":["` + a.String() + `"],"discount_type":"bogo","discount_value":"20"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.CreateDeal(c)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestHandler_GetDeal_NotFound(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	assert.ErrorIs(t, h.GetDeal(c), apperrors.ErrNotFound)
}

func TestHandler_DeactivateDeal(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	h, svc, e := newTestHandler(a, b)
	d := percentDeal("20", a, b)
	require.NoError(t, svc.CreateDeal(context.Background(), d))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())

	require.NoError(t, h.DeactivateDeal(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"is_active":false`)
}

func TestHandler_ListActiveDeals(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	h, svc, e := newTestHandler(a, b)
	require.NoError(t, svc.CreateDeal(context.Background(), percentDeal("20", a, b)))

	req := httptest.NewRequest(http.MethodGet, "/?at="+fixedNow.Format("2006-01-02T15:04:05Z07:00"), nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.ListActiveDeals(e.NewContext(req, rec)))

	var deals []BundleDeal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deals))
	assert.Len(t, deals, 1)

	req = httptest.NewRequest(http.MethodGet, "/?at=yesterday", nil)
	err := h.ListActiveDeals(e.NewContext(req, httptest.NewRecorder()))
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
