package comparison

import (
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

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _, _, _ := newTestService(
		testMapping(cbcID, "CBC", entry(labA, "10.00"), entry(labB, "9.00")),
		testMapping(lipidID, "Lipid Panel", entry(labA, "15.00")),
	)
	e := echo.New()
	e.Validator = middleware.NewRequestValidator()
	return NewHandler(svc), e
}

func postJSON(e *echo.Echo, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/comparisons", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_Compare(t *testing.T) {
	h, e := newTestHandler()
	c, rec := postJSON(e, `{"mapping_ids":["`+cbcID.String()+`","`+lipidID.String()+`"]}`)

	require.NoError(t, h.Compare(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.JSONEq(t, `"`+labA.String()+`"`, string(doc["cheapestLaboratoryId"]))
	assert.Contains(t, rec.Body.String(), `"missingCanonicalNames":["Lipid Panel"]`)
	assert.Contains(t, rec.Body.String(), `"rawTotal":"25.00"`)
}

func TestHandler_Compare_EmptySelection(t *testing.T) {
	h, e := newTestHandler()
	c, _ := postJSON(e, `{"mapping_ids":[]}`)

	assert.ErrorIs(t, h.Compare(c), apperrors.ErrValidation)
}

func TestHandler_Compare_UnknownMapping(t *testing.T) {
	h, e := newTestHandler()
	unknown := uuid.New()
	c, _ := postJSON(e, `{"mapping_ids":["`+unknown.String()+`"]}`)

	err := h.Compare(c)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, apperrors.HTTPStatus(err))
}

func TestHandler_Compare_MalformedID(t *testing.T) {
	h, e := newTestHandler()
	c, _ := postJSON(e, `{"mapping_ids":["not-a-uuid"]}`)

	assert.Error(t, h.Compare(c))
}
