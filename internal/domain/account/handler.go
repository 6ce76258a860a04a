package account

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – admin, cashier
	readGroup := api.Group("", auth.RequireRole("admin", "cashier"))
	readGroup.GET("/accounts", h.ListAccounts)
	readGroup.GET("/accounts/:id", h.GetAccount)
	readGroup.GET("/accounts/:id/line-items", h.GetLineItems)
	readGroup.GET("/accounts/:id/receipt", h.GetReceipt)
	readGroup.GET("/receivables", h.ListReceivables)

	// Write endpoints – admin, cashier
	writeGroup := api.Group("", auth.RequireRole("admin", "cashier"))
	writeGroup.POST("/accounts", h.OpenAccount)
	writeGroup.POST("/accounts/:id/line-items", h.AddLineItem)
	writeGroup.POST("/accounts/:id/close", h.CloseAccount)
	writeGroup.PUT("/accounts/:id/close", h.CloseAccount)
}

type openAccountRequest struct {
	PatientID     uuid.UUID `json:"patient_id"`
	PatientName   string    `json:"patient_name" validate:"max=200"`
	AttentionType string    `json:"attention_type" validate:"required"`
}

type lineItemRequest struct {
	Kind        LineItemKind `json:"kind" validate:"required"`
	Description string       `json:"description" validate:"max=500"`
	Quantity    int          `json:"quantity" validate:"gte=0"`
	Amount      Amount       `json:"amount"`
}

// callerFromContext builds the acting user from the auth context.
func callerFromContext(c echo.Context) Caller {
	ctx := c.Request().Context()
	return Caller{
		ID:    auth.UserIDFromContext(ctx),
		Name:  auth.UserNameFromContext(ctx),
		Roles: auth.RolesFromContext(ctx),
	}
}

// bindAndValidate binds the body into v and runs the registered validator, if any.
func bindAndValidate(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if c.Echo().Validator != nil {
		if err := c.Validate(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// httpError maps domain errors onto HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInsufficientPayment):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrReceiptNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAccountClosed), errors.Is(err, ErrAccountChanged), errors.Is(err, ErrCloseInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// -- Account Handlers --

func (h *Handler) OpenAccount(c echo.Context) error {
	var req openAccountRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	a := &Account{
		PatientID:     req.PatientID,
		PatientName:   req.PatientName,
		AttentionType: req.AttentionType,
	}
	if err := h.svc.OpenAccount(c.Request().Context(), a); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAccount(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	details, err := h.svc.GetDetails(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, details)
}

func (h *Handler) ListAccounts(c echo.Context) error {
	pg := pagination.FromContext(c)
	if patientID := c.QueryParam("patient_id"); patientID != "" {
		pid, err := uuid.Parse(patientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		items, total, err := h.svc.ListAccountsByPatient(c.Request().Context(), pid, pg.Limit, pg.Offset)
		if err != nil {
			return httpError(err)
		}
		return pagination.Respond(c, items, total, pg)
	}
	params := map[string]string{
		"state":          c.QueryParam("state"),
		"attention_type": c.QueryParam("attention_type"),
		"receivable":     c.QueryParam("receivable"),
	}
	items, total, err := h.svc.SearchAccounts(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return pagination.Respond(c, items, total, pg)
}

func (h *Handler) ListReceivables(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListReceivables(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return pagination.Respond(c, items, total, pg)
}

// -- Line Item Handlers --

func (h *Handler) AddLineItem(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req lineItemRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	li := &LineItem{
		AccountID:   id,
		Kind:        req.Kind,
		Description: req.Description,
		Quantity:    req.Quantity,
		Amount:      req.Amount,
		CreatedBy:   auth.UserIDFromContext(c.Request().Context()),
	}
	if err := h.svc.AddLineItem(c.Request().Context(), li); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, li)
}

func (h *Handler) GetLineItems(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.GetLineItems(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

// -- Close Handlers --

func (h *Handler) CloseAccount(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req CloseRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	closure, err := h.svc.CloseAccount(c.Request().Context(), id, req, callerFromContext(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, closure)
}

func (h *Handler) GetReceipt(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	data, err := h.svc.GetReceipt(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
}
