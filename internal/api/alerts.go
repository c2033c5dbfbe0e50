package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fleetpulse/alertcore/internal/alert"
	"github.com/fleetpulse/alertcore/internal/datastore/repository"
	"github.com/fleetpulse/alertcore/internal/errors"
	"github.com/fleetpulse/alertcore/internal/rules"
	"github.com/fleetpulse/alertcore/internal/timeutil"
)

// ListAlerts returns stored alerts, newest first, with pagination.
func (c *Controller) ListAlerts(ctx echo.Context) error {
	filter := repository.AlertFilter{
		Equipment: ctx.QueryParam("equipment"),
		RuleID:    rules.ID(ctx.QueryParam("rule_id")),
		Severity:  rules.Severity(ctx.QueryParam("severity")),
		Status:    alert.Status(ctx.QueryParam("status")),
	}
	filter.Limit, filter.Offset = pagination(ctx)

	var err error
	if filter.Since, err = timeQuery(ctx, "since"); err != nil {
		return c.HandleError(ctx, err, "Invalid query", http.StatusBadRequest)
	}
	if filter.Until, err = timeQuery(ctx, "until"); err != nil {
		return c.HandleError(ctx, err, "Invalid query", http.StatusBadRequest)
	}

	items, total, err := c.repo.ListAlerts(ctx.Request().Context(), filter)
	if err != nil {
		return c.storeError(ctx, err, "Failed to list alerts")
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"alerts": items,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GetAlert returns a single alert.
func (c *Controller) GetAlert(ctx echo.Context) error {
	a, err := c.repo.GetAlert(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.storeError(ctx, err, "Failed to get alert")
	}
	return ctx.JSON(http.StatusOK, a)
}

// UpdateAlertStatus acknowledges or resolves an alert.
func (c *Controller) UpdateAlertStatus(ctx echo.Context) error {
	var body struct {
		Status alert.Status `json:"status"`
	}
	if err := ctx.Bind(&body); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}

	id := ctx.Param("id")
	if err := c.repo.UpdateAlertStatus(ctx.Request().Context(), id, body.Status); err != nil {
		return c.storeError(ctx, err, "Failed to update alert")
	}
	return ctx.JSON(http.StatusOK, map[string]any{"id": id, "status": body.Status})
}

// timeQuery parses an optional timestamp query parameter.
func timeQuery(ctx echo.Context, name string) (time.Time, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, ok := timeutil.ParseString(raw)
	if !ok {
		return time.Time{}, errors.NewValidationError(name, "must be an ISO-8601 timestamp or epoch milliseconds")
	}
	return t, nil
}
