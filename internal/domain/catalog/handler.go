package catalog

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/labprice/labprice/internal/platform/apperrors"
	"github.com/labprice/labprice/internal/platform/auth"
	"github.com/labprice/labprice/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleBroker, auth.RoleViewer))
	read.GET("/laboratories", h.ListLaboratories)
	read.GET("/laboratories/:id", h.GetLaboratory)
	read.GET("/laboratories/:id/price-lists", h.ListPriceLists)
	read.GET("/price-lists/:id", h.GetPriceList)
	read.GET("/price-lists/:id/tests", h.ListTests)
	read.GET("/tests/:id", h.GetTest)

	write := api.Group("", auth.RequireRole(auth.RoleBroker))
	write.POST("/laboratories", h.CreateLaboratory)
	write.PUT("/laboratories/:id", h.UpdateLaboratory)
	write.DELETE("/laboratories/:id", h.DeleteLaboratory)
	write.POST("/laboratories/:id/price-lists", h.CreatePriceList)
	write.POST("/price-lists/:id/activate", h.ActivatePriceList)
	write.POST("/price-lists/:id/tests", h.AddTest)
	write.POST("/price-lists/:id/tests/import", h.ImportTests)
	write.DELETE("/tests/:id", h.DeleteTest)
}

func paramID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperrors.Validation("invalid "+name, c.Param(name))
	}
	return id, nil
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return err
	}
	return c.Validate(req)
}

// -- Laboratories --

type laboratoryRequest struct {
	Name         string  `json:"name" validate:"required,max=200"`
	ContactEmail *string `json:"contact_email" validate:"omitempty,email"`
	ContactPhone *string `json:"contact_phone" validate:"omitempty,max=50"`
	Address      *string `json:"address" validate:"omitempty,max=500"`
}

func (r laboratoryRequest) toModel() *Laboratory {
	return &Laboratory{Name: r.Name, ContactEmail: r.ContactEmail, ContactPhone: r.ContactPhone, Address: r.Address}
}

func (h *Handler) CreateLaboratory(c echo.Context) error {
	var req laboratoryRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	lab := req.toModel()
	if err := h.svc.CreateLaboratory(c.Request().Context(), lab); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, lab)
}

func (h *Handler) GetLaboratory(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	lab, err := h.svc.GetLaboratory(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lab)
}

func (h *Handler) ListLaboratories(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListLaboratories(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Laboratory{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateLaboratory(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req laboratoryRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	lab := req.toModel()
	lab.ID = id
	if err := h.svc.UpdateLaboratory(c.Request().Context(), lab); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lab)
}

func (h *Handler) DeleteLaboratory(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteLaboratory(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Price lists --

type priceListRequest struct {
	Name       string     `json:"name" validate:"required,max=200"`
	ValidFrom  *time.Time `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until"`
}

func (h *Handler) CreatePriceList(c echo.Context) error {
	labID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req priceListRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	pl := &PriceList{LaboratoryID: labID, Name: req.Name, ValidUntil: req.ValidUntil}
	if req.ValidFrom != nil {
		pl.ValidFrom = *req.ValidFrom
	}
	if err := h.svc.CreatePriceList(c.Request().Context(), pl); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, pl)
}

func (h *Handler) GetPriceList(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	pl, err := h.svc.GetPriceList(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pl)
}

func (h *Handler) ListPriceLists(c echo.Context) error {
	labID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListPriceLists(c.Request().Context(), labID)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*PriceList{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ActivatePriceList(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	res, err := h.svc.ActivatePriceList(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// -- Tests --

type testRequest struct {
	Name  string           `json:"name" validate:"required,max=300"`
	Code  *string          `json:"code" validate:"omitempty,max=100"`
	Price *decimal.Decimal `json:"price" validate:"required"`
}

func (h *Handler) AddTest(c echo.Context) error {
	plID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req testRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	t := &Test{PriceListID: plID, Name: req.Name, Code: req.Code, Price: *req.Price}
	if err := h.svc.AddTest(c.Request().Context(), t); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTest(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	t, err := h.svc.GetTest(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTests(c echo.Context) error {
	plID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListTests(c.Request().Context(), plID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Test{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) DeleteTest(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteTest(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ImportTests accepts either a raw text/csv body or a multipart upload in
// the "file" field.
func (h *Handler) ImportTests(c echo.Context) error {
	plID, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var body io.Reader = c.Request().Body
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			return apperrors.Validation("multipart upload requires a \"file\" field")
		}
		f, err := fh.Open()
		if err != nil {
			return err
		}
		defer f.Close()
		body = f
	}

	tests, err := h.svc.ImportTests(c.Request().Context(), plID, body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"imported": len(tests),
		"tests":    tests,
	})
}
