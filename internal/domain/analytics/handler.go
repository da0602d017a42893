package analytics

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rehabsim/scheduler/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/analytics", auth.RequireRole(auth.RoleStudent))
	read.GET("/clinicians", h.Clinicians)

	admin := api.Group("/analytics", auth.RequireRole(auth.RoleInstructor))
	admin.GET("/weekly", h.Weekly)
	admin.GET("/descriptive", h.Descriptive)
}

func internalError(err error) error {
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}

func (h *Handler) Weekly(c echo.Context) error {
	report, err := h.svc.Weekly(c.Request().Context())
	if err != nil {
		return internalError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) Descriptive(c echo.Context) error {
	d, err := h.svc.Descriptive(c.Request().Context())
	if err != nil {
		return internalError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Clinicians(c echo.Context) error {
	stats, err := h.svc.Clinicians(c.Request().Context())
	if err != nil {
		return internalError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": stats})
}
