package scheduling

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rehabsim/scheduler/internal/platform/auth"
	"github.com/rehabsim/scheduler/internal/platform/lock"
	engine "github.com/rehabsim/scheduler/internal/platform/scheduling"
	"github.com/rehabsim/scheduler/pkg/pagination"
)

const dateLayout = "2006-01-02"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleStudent))
	read.GET("/cycle", h.GetCycle)
	read.POST("/scheduling/check", h.Check)
	read.POST("/scheduling/find-slot", h.FindSlot)
	read.POST("/scheduling/care-plans/preview", h.PreviewCarePlan)
	read.POST("/scheduling/care-plans", h.BookCarePlan)
	read.GET("/clinicians", h.ListClinicians)
	read.GET("/clients", h.ListClients)
	read.GET("/appointments", h.SearchAppointments)
	read.PATCH("/appointments/:id/status", h.UpdateAppointmentStatus)
	read.GET("/settings/constraints", h.GetConstraints)

	admin := api.Group("", auth.RequireRole(auth.RoleInstructor))
	admin.POST("/clinicians", h.CreateClinician)
	admin.DELETE("/clinicians/:id", h.DeleteClinician)
	admin.POST("/clients", h.CreateClient)
	admin.DELETE("/clients/:id", h.DeleteClient)
	admin.PATCH("/clients/:id/status", h.UpdateClientStatus)
	admin.PUT("/settings/constraints", h.PutConstraints)
}

// httpError maps service errors onto status codes. Unknown errors become a
// 500 that keeps the cause for the request logger.
func httpError(err error) error {
	var pe *engine.PlacementError
	switch {
	case errors.As(err, &pe):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]string{
			"message": pe.Describe(),
			"stage":   string(pe.Stage),
		})
	case errors.Is(err, engine.ErrSlotNotFound):
		return echo.NewHTTPError(http.StatusNotFound, map[string]string{
			"code":    "NOT_FOUND",
			"message": err.Error(),
		})
	case errors.Is(err, ErrInvalid), errors.Is(err, engine.ErrInvalidAppointmentType):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrClientNotPending):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, lock.ErrLockHeld):
		return echo.NewHTTPError(http.StatusConflict, "clinician calendar is being updated, retry shortly")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}

// parseDate accepts YYYY-MM-DD in the scheduling zone, or an RFC 3339
// timestamp whose calendar day is used as written.
func (h *Handler) parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(dateLayout, s, h.svc.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return h.svc.Date(t), nil
	}
	return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid date "+strconv.Quote(s)+", want YYYY-MM-DD")
}

// -- Rule engine --

func (h *Handler) GetCycle(c echo.Context) error {
	date := h.svc.Today()
	if q := c.QueryParam("date"); q != "" {
		d, err := h.parseDate(q)
		if err != nil {
			return err
		}
		date = d
	}
	info, err := h.svc.CycleInfo(c.Request().Context(), date)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, info)
}

type slotRequest struct {
	ClinicianID string `json:"clinician_id"`
	Date        string `json:"date"`
	Start       string `json:"start"`
	Type        string `json:"type"`
}

func (h *Handler) bindSlot(c echo.Context, dateField string) (slotRequest, time.Time, engine.AppointmentType, error) {
	var req slotRequest
	if err := c.Bind(&req); err != nil {
		return req, time.Time{}, "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ClinicianID == "" {
		return req, time.Time{}, "", echo.NewHTTPError(http.StatusBadRequest, "clinician_id is required")
	}
	typ, err := engine.ParseAppointmentType(req.Type)
	if err != nil {
		return req, time.Time{}, "", httpError(err)
	}
	raw := req.Date
	if dateField == "start" {
		raw = req.Start
	}
	if raw == "" {
		return req, time.Time{}, "", echo.NewHTTPError(http.StatusBadRequest, dateField+" is required")
	}
	date, err := h.parseDate(raw)
	if err != nil {
		return req, time.Time{}, "", err
	}
	return req, date, typ, nil
}

func (h *Handler) Check(c echo.Context) error {
	req, date, typ, err := h.bindSlot(c, "date")
	if err != nil {
		return err
	}
	res, err := h.svc.Check(c.Request().Context(), req.ClinicianID, date, typ)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) FindSlot(c echo.Context) error {
	req, start, typ, err := h.bindSlot(c, "start")
	if err != nil {
		return err
	}
	slot, err := h.svc.FindSlot(c.Request().Context(), req.ClinicianID, start, typ)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"date":       slot.Date.Format(dateLayout),
		"cycle_week": slot.CycleWeek,
	})
}

type planBody struct {
	ClientID    string `json:"client_id"`
	ClinicianID string `json:"clinician_id"`
	Start       string `json:"start"`
}

func (h *Handler) bindPlan(c echo.Context) (PlanRequest, error) {
	var body planBody
	if err := c.Bind(&body); err != nil {
		return PlanRequest{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.ClientID == "" || body.ClinicianID == "" {
		return PlanRequest{}, echo.NewHTTPError(http.StatusBadRequest, "client_id and clinician_id are required")
	}
	req := PlanRequest{ClientID: body.ClientID, ClinicianID: body.ClinicianID}
	if body.Start != "" {
		start, err := h.parseDate(body.Start)
		if err != nil {
			return PlanRequest{}, err
		}
		req.Start = &start
	}
	return req, nil
}

type planResponse struct {
	ClientID     string         `json:"client_id"`
	ClinicianID  string         `json:"clinician_id"`
	Appointments []*Appointment `json:"appointments"`
}

func (h *Handler) PreviewCarePlan(c echo.Context) error {
	req, err := h.bindPlan(c)
	if err != nil {
		return err
	}
	plan, err := h.svc.PreviewCarePlan(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, planResponse{req.ClientID, req.ClinicianID, plan})
}

func (h *Handler) BookCarePlan(c echo.Context) error {
	req, err := h.bindPlan(c)
	if err != nil {
		return err
	}
	plan, err := h.svc.BookCarePlan(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, planResponse{req.ClientID, req.ClinicianID, plan})
}

// -- Settings --

func (h *Handler) GetConstraints(c echo.Context) error {
	cons, err := h.svc.Constraints(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) PutConstraints(c echo.Context) error {
	var cons engine.Constraints
	if err := c.Bind(&cons); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SaveConstraints(c.Request().Context(), cons); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cons)
}

// -- Roster --

func (h *Handler) ListClinicians(c echo.Context) error {
	items, err := h.svc.ListClinicians(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": items, "total": len(items)})
}

func (h *Handler) CreateClinician(c echo.Context) error {
	var cl Clinician
	if err := c.Bind(&cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateClinician(c.Request().Context(), &cl); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, cl)
}

func (h *Handler) DeleteClinician(c echo.Context) error {
	if err := h.svc.DeleteClinician(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListClients(c echo.Context) error {
	items, err := h.svc.ListClients(c.Request().Context(), ClientStatus(c.QueryParam("status")))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": items, "total": len(items)})
}

func (h *Handler) CreateClient(c echo.Context) error {
	var cl Client
	if err := c.Bind(&cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateClient(c.Request().Context(), &cl); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, cl)
}

func (h *Handler) DeleteClient(c echo.Context) error {
	if err := h.svc.DeleteClient(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type statusBody struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateClientStatus(c echo.Context) error {
	var body statusBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cl, err := h.svc.UpdateClientStatus(c.Request().Context(), c.Param("id"),
		ClientStatus(strings.ToLower(strings.TrimSpace(body.Status))))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cl)
}

// -- Appointments --

func (h *Handler) SearchAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := AppointmentFilter{
		ClinicianID: c.QueryParam("clinician_id"),
		ClientID:    c.QueryParam("client_id"),
		Limit:       pg.Limit,
		Offset:      pg.Offset,
	}
	if v := c.QueryParam("type"); v != "" {
		typ, err := engine.ParseAppointmentType(v)
		if err != nil {
			return httpError(err)
		}
		f.Type = typ
	}
	if v := c.QueryParam("status"); v != "" {
		st, err := ParseAppointmentStatus(v)
		if err != nil {
			return httpError(err)
		}
		f.Status = st
	}
	for param, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		if v := c.QueryParam(param); v != "" {
			d, err := h.parseDate(v)
			if err != nil {
				return err
			}
			*dst = &d
		}
	}

	items, total, err := h.svc.SearchAppointments(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	resp := pagination.NewResponse(items, total, pg.Limit, pg.Offset).
		WithNext(c.Request().URL.Path, c.QueryParams())
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) UpdateAppointmentStatus(c echo.Context) error {
	var body statusBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, err := ParseAppointmentStatus(body.Status)
	if err != nil {
		return httpError(err)
	}
	a, err := h.svc.UpdateAppointmentStatus(c.Request().Context(), c.Param("id"), st)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}
