package mapping

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	read.GET("/mappings", h.ListMappings)
	read.GET("/mappings/:id", h.GetMapping)

	write := api.Group("", auth.RequireRole(auth.RoleBroker))
	write.POST("/mappings", h.CreateMapping)
	write.PUT("/mappings/:id", h.RenameMapping)
	write.DELETE("/mappings/:id", h.DeleteMapping)
	write.POST("/mappings/:id/entries", h.AddEntry)
	write.PUT("/mappings/:id/entries/:entryId", h.RepointEntry)
	write.DELETE("/mappings/:id/entries/:entryId", h.RemoveEntry)
}

func paramID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperrors.Validation("invalid "+name, c.Param(name))
	}
	return id, nil
}

type createMappingRequest struct {
	CanonicalName string      `json:"canonical_name" validate:"required,max=300"`
	TestIDs       []uuid.UUID `json:"test_ids"`
}

type renameMappingRequest struct {
	CanonicalName string `json:"canonical_name" validate:"required,max=300"`
}

type entryRequest struct {
	TestID uuid.UUID `json:"test_id" validate:"required"`
}

func (h *Handler) CreateMapping(c echo.Context) error {
	var req createMappingRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	m, err := h.svc.CreateMapping(c.Request().Context(), req.CanonicalName, req.TestIDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) GetMapping(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	m, err := h.svc.GetMapping(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ListMappings(c echo.Context) error {
	p := pagination.PageFromContext(c)
	var (
		page pagination.Page[*TestMapping]
		err  error
	)
	if q := c.QueryParam("q"); q != "" {
		page, err = h.svc.SearchMappings(c.Request().Context(), q, p.Page, p.PageSize)
	} else {
		page, err = h.svc.ListMappings(c.Request().Context(), p.Page, p.PageSize)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

func (h *Handler) RenameMapping(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req renameMappingRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	m, err := h.svc.RenameMapping(c.Request().Context(), id, req.CanonicalName)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) DeleteMapping(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteMapping(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AddEntry(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req entryRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	e, err := h.svc.AddEntry(c.Request().Context(), id, req.TestID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) RepointEntry(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	entryID, err := paramID(c, "entryId")
	if err != nil {
		return err
	}
	var req entryRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	e, err := h.svc.RepointEntry(c.Request().Context(), id, entryID, req.TestID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) RemoveEntry(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	entryID, err := paramID(c, "entryId")
	if err != nil {
		return err
	}
	if err := h.svc.RemoveEntry(c.Request().Context(), id, entryID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
