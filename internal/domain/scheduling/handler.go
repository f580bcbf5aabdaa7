package scheduling

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/estacao/agenda/internal/platform/auth"
	"github.com/estacao/agenda/pkg/pagination"
)

type Handler struct {
	queries  *QueryEngine
	toggles  *Propagator
	bookings *Coordinator
	guard    *ConflictGuard
	logger   zerolog.Logger
}

func NewHandler(queries *QueryEngine, toggles *Propagator, bookings *Coordinator, guard *ConflictGuard, logger zerolog.Logger) *Handler {
	return &Handler{queries: queries, toggles: toggles, bookings: bookings, guard: guard, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Calendar reads: practitioners and patients browsing a calendar
	readGroup := api.Group("/practitioners/:id/slots", auth.RequireRole(auth.RolePractitioner, auth.RolePatient))
	readGroup.GET("", h.ListSlots)
	readGroup.GET("/day/:date", h.ListDay)
	readGroup.GET("/month", h.ListMonth)
	readGroup.GET("/available", h.ListAvailable)

	// Calendar writes: the owning practitioner
	writeGroup := api.Group("/practitioners/:id/slots", auth.RequireRole(auth.RolePractitioner))
	writeGroup.POST("/toggle", h.ToggleSlots)

	// Bookings: patients acting for themselves
	bookGroup := api.Group("", auth.RequireRole(auth.RolePatient))
	bookGroup.POST("/bookings", h.Book)
	bookGroup.DELETE("/bookings/:slot_id", h.Release)
	bookGroup.GET("/patients/:id/conflicts", h.CheckConflict)
}

// -- Calendar Handlers --

func (h *Handler) ListSlots(c echo.Context) error {
	pid, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	f, err := filterFromQuery(c)
	if err != nil {
		return h.httpError(c, err)
	}
	slots, err := h.queries.List(c.Request().Context(), pid, f)
	if err != nil {
		return h.httpError(c, err)
	}
	pg := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(slots, pg), len(slots), pg.Limit, pg.Offset))
}

func (h *Handler) ListDay(c echo.Context) error {
	pid, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	date, err := ParseDate(c.Param("date"))
	if err != nil {
		return h.httpError(c, err)
	}
	items, err := h.queries.ListDayProjection(c.Request().Context(), pid, date)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListMonth(c echo.Context) error {
	pid, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	month, err := intQuery(c, "month")
	if err != nil {
		return h.httpError(c, err)
	}
	year, err := intQuery(c, "year")
	if err != nil {
		return h.httpError(c, err)
	}
	if month == nil || year == nil {
		return h.httpError(c, invalidArgument("month and year are required"))
	}
	slots, err := h.queries.ListByMonth(c.Request().Context(), pid, *month, *year)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, slots)
}

func (h *Handler) ListAvailable(c echo.Context) error {
	pid, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	date, err := ParseDate(c.QueryParam("date"))
	if err != nil {
		return h.httpError(c, err)
	}
	slots, err := h.queries.ListAvailable(c.Request().Context(), pid, date)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, slots)
}

type toggleRequest struct {
	Items []ToggleItem `json:"items"`
}

// toggleResponse carries Code and Message only when the sweep was cut short;
// Results then holds what was applied before the interruption.
type toggleResponse struct {
	Results []ToggleResult `json:"results"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
}

func (h *Handler) ToggleSlots(c echo.Context) error {
	pid, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := requireSelf(c, auth.RolePractitioner, pid); err != nil {
		return err
	}
	var req toggleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Items) == 0 {
		return h.httpError(c, invalidArgument("items must not be empty"))
	}
	results, err := h.toggles.Toggle(c.Request().Context(), pid, req.Items)
	if interrupted(err) {
		h.logger.Warn().Err(err).
			Str("practitioner_id", pid.String()).
			Int("applied", len(results)).
			Int("items", len(req.Items)).
			Msg("toggle interrupted")
		return c.JSON(interruptedStatus(err), toggleResponse{Results: results, Code: ErrorKind(err), Message: err.Error()})
	}
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, toggleResponse{Results: results})
}

// -- Booking Handlers --

type bookRequest struct {
	SlotID    uuid.UUID  `json:"slot_id"`
	PatientID *uuid.UUID `json:"patient_id,omitempty"`
}

func (h *Handler) Book(c echo.Context) error {
	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	patientID, err := actingPatient(c, req.PatientID)
	if err != nil {
		return err
	}
	booking, err := h.bookings.Book(c.Request().Context(), patientID, req.SlotID)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, booking)
}

func (h *Handler) Release(c echo.Context) error {
	slotID, err := uuidParam(c, "slot_id")
	if err != nil {
		return err
	}
	var override *uuid.UUID
	if q := c.QueryParam("patient_id"); q != "" {
		id, err := uuid.Parse(q)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		override = &id
	}
	patientID, err := actingPatient(c, override)
	if err != nil {
		return err
	}
	sl, err := h.bookings.Release(c.Request().Context(), patientID, slotID)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, sl)
}

func (h *Handler) CheckConflict(c echo.Context) error {
	patientID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := requireSelf(c, auth.RolePatient, patientID); err != nil {
		return err
	}
	practitionerID, err := uuid.Parse(c.QueryParam("practitioner_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid practitioner_id")
	}
	date, err := ParseDate(c.QueryParam("date"))
	if err != nil {
		return h.httpError(c, err)
	}
	clock, err := ParseClock(c.QueryParam("time"))
	if err != nil {
		return h.httpError(c, err)
	}
	decision, err := h.guard.Check(c.Request().Context(), BookingRequest{
		PractitionerID: practitionerID, PatientID: patientID, Date: date, Time: clock,
	})
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, decision)
}

// -- helpers --

func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func interruptedStatus(err error) int {
	if errors.Is(err, context.Canceled) {
		return http.StatusRequestTimeout
	}
	return http.StatusGatewayTimeout
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func intQuery(c echo.Context, name string) (*int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, invalidArgument("%s must be an integer", name)
	}
	return &v, nil
}

func filterFromQuery(c echo.Context) (Filter, error) {
	var f Filter
	if raw := c.QueryParam("status"); raw != "" {
		st, err := ParseStatus(raw)
		if err != nil {
			return f, err
		}
		f.Status = &st
	}
	if raw := c.QueryParam("day"); raw != "" {
		d, err := ParseDate(raw)
		if err != nil {
			return f, err
		}
		f.Day = &d
	}
	var err error
	if f.Week, err = intQuery(c, "week"); err != nil {
		return f, err
	}
	if f.Month, err = intQuery(c, "month"); err != nil {
		return f, err
	}
	if f.Year, err = intQuery(c, "year"); err != nil {
		return f, err
	}
	return f, nil
}

// requireSelf lets admins through and otherwise checks that a caller acting
// in role is the owner of id.
func requireSelf(c echo.Context, role string, id uuid.UUID) error {
	ctx := c.Request().Context()
	if containsRole(auth.RolesFromContext(ctx), auth.RoleAdmin) {
		return nil
	}
	if !auth.HasRole(ctx, role) || auth.UserIDFromContext(ctx) != id.String() {
		return echo.NewHTTPError(http.StatusForbidden, "not allowed to act for "+id.String())
	}
	return nil
}

// actingPatient is the caller's own id, or override when an admin acts on a
// patient's behalf.
func actingPatient(c echo.Context, override *uuid.UUID) (uuid.UUID, error) {
	ctx := c.Request().Context()
	if override != nil {
		if err := requireSelf(c, auth.RolePatient, *override); err != nil {
			return uuid.Nil, err
		}
		return *override, nil
	}
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	return id, nil
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

type errorBody struct {
	Code    string     `json:"code"`
	Message string     `json:"message"`
	Date    string     `json:"date,omitempty"`
	Time    string     `json:"time,omitempty"`
	SlotID  *uuid.UUID `json:"slot_id,omitempty"`
}

// httpError maps scheduling errors to HTTP responses. Only storage failures
// are logged; an abandoned request is not one.
func (h *Handler) httpError(c echo.Context, err error) error {
	kind := ErrorKind(err)
	body := errorBody{Code: kind, Message: err.Error()}
	var status int

	var conflict *SchedulingConflictError
	switch {
	case errors.As(err, &conflict):
		status = http.StatusConflict
		body.Date = conflict.Appointment.Date.Format(DateLayout)
		body.Time = conflict.Appointment.Time
		id := conflict.Appointment.SlotID
		body.SlotID = &id
	case errors.Is(err, ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrConflict):
		status = http.StatusConflict
	case interrupted(err):
		status = interruptedStatus(err)
	default:
		status = http.StatusServiceUnavailable
		body.Message = "scheduling store unavailable"
		h.logger.Error().Err(err).
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Msg("scheduling request failed")
	}
	return echo.NewHTTPError(status, body)
}
