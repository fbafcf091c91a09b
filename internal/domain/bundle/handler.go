package bundle

import (
	"net/http"
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
	read.GET("/bundle-deals", h.ListDeals)
	read.GET("/bundle-deals/active", h.ListActiveDeals)
	read.GET("/bundle-deals/:id", h.GetDeal)

	write := api.Group("", auth.RequireRole(auth.RoleBroker))
	write.POST("/bundle-deals", h.CreateDeal)
	write.POST("/bundle-deals/:id/activate", h.ActivateDeal)
	write.POST("/bundle-deals/:id/deactivate", h.DeactivateDeal)
}

type createDealRequest struct {
	Name          string           `json:"name" validate:"required,max=200"`
	MappingIDs    []uuid.UUID      `json:"mapping_ids" validate:"required,min=2"`
	DiscountType  DiscountType     `json:"discount_type" validate:"required,oneof=percentage fixed"`
	DiscountValue *decimal.Decimal `json:"discount_value" validate:"required"`
	StartsAt      *time.Time       `json:"starts_at"`
	EndsAt        *time.Time       `json:"ends_at"`
	IsActive      *bool            `json:"is_active"`
}

func (h *Handler) CreateDeal(c echo.Context) error {
	var req createDealRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	d := &BundleDeal{
		Name:          req.Name,
		MappingIDs:    req.MappingIDs,
		DiscountType:  req.DiscountType,
		DiscountValue: *req.DiscountValue,
		EndsAt:        req.EndsAt,
		IsActive:      req.IsActive == nil || *req.IsActive,
	}
	if req.StartsAt != nil {
		d.StartsAt = *req.StartsAt
	}
	if err := h.svc.CreateDeal(c.Request().Context(), d); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDeal(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperrors.Validation("invalid id", c.Param("id"))
	}
	d, err := h.svc.GetDeal(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDeals(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDeals(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*BundleDeal{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// ListActiveDeals evaluates deal windows at ?at= (RFC 3339), defaulting to now.
func (h *Handler) ListActiveDeals(c echo.Context) error {
	at := time.Now()
	if raw := c.QueryParam("at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return apperrors.Validation("at must be an RFC 3339 timestamp", raw)
		}
		at = t
	}
	deals, err := h.svc.GetActiveDeals(c.Request().Context(), at)
	if err != nil {
		return err
	}
	if deals == nil {
		deals = []*BundleDeal{}
	}
	return c.JSON(http.StatusOK, deals)
}

func (h *Handler) ActivateDeal(c echo.Context) error   { return h.setActive(c, true) }
func (h *Handler) DeactivateDeal(c echo.Context) error { return h.setActive(c, false) }

func (h *Handler) setActive(c echo.Context, active bool) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperrors.Validation("invalid id", c.Param("id"))
	}
	d, err := h.svc.SetDealActive(c.Request().Context(), id, active)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}
