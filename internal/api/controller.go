// Package api exposes rules, alerts and the evaluation pipeline over HTTP.
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fleetpulse/alertcore/internal/alerting"
	"github.com/fleetpulse/alertcore/internal/datastore/repository"
	"github.com/fleetpulse/alertcore/internal/errors"
	"github.com/fleetpulse/alertcore/internal/logger"
	"github.com/fleetpulse/alertcore/internal/observability/metrics"
)

// APIPrefix is the base path of every versioned endpoint.
const APIPrefix = "/api/v1"

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Repository is the storage the controller reads and writes.
type Repository interface {
	repository.RuleRepository
	repository.AlertRepository
}

// Controller holds the HTTP handlers.
type Controller struct {
	repo     Repository
	service  *alerting.Service
	gatherer prometheus.Gatherer
	log      logger.Logger
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message,omitempty"`
	Issues  []string `json:"issues,omitempty"`
}

// NewController creates a Controller. gatherer may be nil, in which case
// /metrics is not served.
func NewController(repo Repository, service *alerting.Service, gatherer prometheus.Gatherer, log logger.Logger) *Controller {
	if log == nil {
		log = logger.NewNop()
	}
	return &Controller{
		repo:     repo,
		service:  service,
		gatherer: gatherer,
		log:      log.With(logger.Component("api")),
	}
}

// RegisterRoutes mounts every endpoint on e.
func (c *Controller) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", c.Health)
	if c.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler(c.gatherer)))
	}

	g := e.Group(APIPrefix)
	g.GET("/schema", c.GetSchema)
	g.GET("/stats", c.GetStats)

	g.GET("/rules", c.ListRules)
	g.GET("/rules/export", c.ExportRules)
	g.GET("/rules/:id", c.GetRule)
	g.POST("/rules", c.CreateRule)
	g.POST("/rules/validate", c.ValidateRule)
	g.POST("/rules/import", c.ImportRules)
	g.POST("/rules/restore-defaults", c.RestoreDefaultRules)
	g.PUT("/rules/:id", c.UpdateRule)
	g.PATCH("/rules/:id/toggle", c.ToggleRule)
	g.DELETE("/rules/:id", c.DeleteRule)
	g.POST("/rules/:id/test", c.TestRule)

	g.POST("/evaluate", c.Evaluate)
	g.POST("/events", c.HandleEvent)
	g.POST("/deduplicate", c.Deduplicate)

	g.GET("/alerts", c.ListAlerts)
	g.GET("/alerts/:id", c.GetAlert)
	g.PATCH("/alerts/:id/status", c.UpdateAlertStatus)
}

// Health reports liveness.
func (c *Controller) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleError writes an error reply. Server errors are logged and reported;
// their cause is not echoed to the client.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := ErrorResponse{Error: message}
	if code >= http.StatusInternalServerError {
		c.log.Error(message,
			logger.String("path", ctx.Path()),
			logger.String("method", ctx.Request().Method),
			logger.Error(err))
		errors.Report(err)
		return ctx.JSON(code, resp)
	}

	var verr *errors.ValidationError
	if errors.As(err, &verr) {
		resp.Issues = verr.Issues
	} else if err != nil {
		resp.Message = err.Error()
	}
	return ctx.JSON(code, resp)
}

// storeError maps repository errors onto replies.
func (c *Controller) storeError(ctx echo.Context, err error, message string) error {
	var verr *errors.ValidationError
	switch {
	case errors.Is(err, repository.ErrRuleNotFound):
		return c.HandleError(ctx, err, "Alert rule not found", http.StatusNotFound)
	case errors.Is(err, repository.ErrAlertNotFound):
		return c.HandleError(ctx, err, "Alert not found", http.StatusNotFound)
	case errors.Is(err, repository.ErrInvalidRuleID):
		return c.HandleError(ctx, err, "Invalid rule ID", http.StatusBadRequest)
	case errors.As(err, &verr):
		return c.HandleError(ctx, err, message, http.StatusBadRequest)
	default:
		return c.HandleError(ctx, err, message, http.StatusInternalServerError)
	}
}

// refreshEngine reloads the engine's rules after a rule change.
func (c *Controller) refreshEngine(ctx echo.Context) {
	if c.service == nil || c.service.Engine == nil {
		return
	}
	if err := c.service.Engine.RefreshRules(ctx.Request().Context()); err != nil {
		c.log.Error("failed to refresh alert engine rules", logger.Error(err))
	}
}

// pagination reads limit and offset, clamping limit to maxListLimit.
func pagination(ctx echo.Context) (limit, offset int) {
	limit = defaultListLimit
	if v, err := strconv.Atoi(ctx.QueryParam("limit")); err == nil && v > 0 {
		limit = min(v, maxListLimit)
	}
	if v, err := strconv.Atoi(ctx.QueryParam("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

// boolQuery parses an optional boolean query parameter.
func boolQuery(ctx echo.Context, name string) (*bool, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errors.NewValidationError(name, "must be true or false")
	}
	return &v, nil
}
