package comparison

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labprice/labprice/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleBroker, auth.RoleViewer))
	g.POST("/comparisons", h.Compare)
}

type compareRequest struct {
	MappingIDs []uuid.UUID `json:"mapping_ids" validate:"required,min=1"`
}

func (h *Handler) Compare(c echo.Context) error {
	var req compareRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	res, err := h.svc.Compare(c.Request().Context(), req.MappingIDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
