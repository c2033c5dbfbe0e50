package api

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fleetpulse/alertcore/internal/alerting"
	"github.com/fleetpulse/alertcore/internal/datastore/repository"
	"github.com/fleetpulse/alertcore/internal/errors"
	"github.com/fleetpulse/alertcore/internal/logger"
	"github.com/fleetpulse/alertcore/internal/rules"
)

// exportVersion is the format version of rule exports.
const exportVersion = 1

// GetSchema returns the condition catalog with the configured tree limits.
func (c *Controller) GetSchema(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, rules.GetSchemaWithLimits(c.validator().Options()))
}

// ListRules returns all rules, optionally filtered by type, severity and
// enabled state.
func (c *Controller) ListRules(ctx echo.Context) error {
	enabled, err := boolQuery(ctx, "enabled")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid query", http.StatusBadRequest)
	}
	filter := repository.RuleFilter{
		Type:     rules.Type(ctx.QueryParam("type")),
		Severity: rules.Severity(ctx.QueryParam("severity")),
		Enabled:  enabled,
	}

	list, err := c.repo.FindRules(ctx.Request().Context(), filter)
	if err != nil {
		return c.storeError(ctx, err, "Failed to list alert rules")
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"rules": list,
		"count": len(list),
	})
}

// GetRule returns a single rule.
func (c *Controller) GetRule(ctx echo.Context) error {
	rule, err := c.repo.GetRule(ctx.Request().Context(), rules.ID(ctx.Param("id")))
	if err != nil {
		return c.storeError(ctx, err, "Failed to get alert rule")
	}
	return ctx.JSON(http.StatusOK, rule)
}

// ValidateRule checks a rule without storing it.
func (c *Controller) ValidateRule(ctx echo.Context) error {
	var rule rules.Rule
	if err := ctx.Bind(&rule); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	res := c.validator().ValidateRule(&rule)
	return ctx.JSON(http.StatusOK, map[string]any{
		"valid":    res.Valid(),
		"errors":   res.Errors,
		"warnings": res.Warnings,
	})
}

// CreateRule validates and stores a new rule.
func (c *Controller) CreateRule(ctx echo.Context) error {
	var rule rules.Rule
	if err := ctx.Bind(&rule); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if err := c.validator().ValidateRule(&rule).Err("rule"); err != nil {
		return c.HandleError(ctx, err, "Invalid alert rule", http.StatusBadRequest)
	}

	reqCtx := ctx.Request().Context()
	count, err := c.repo.CountRulesByName(reqCtx, rule.Name)
	if err != nil {
		return c.storeError(ctx, err, "Failed to create alert rule")
	}
	if count > 0 {
		return c.HandleError(ctx, nil, "A rule with this name already exists", http.StatusConflict)
	}

	rule.ID = ""
	resetRuntime(&rule)
	if err := c.repo.CreateRule(reqCtx, &rule); err != nil {
		return c.storeError(ctx, err, "Failed to create alert rule")
	}
	c.refreshEngine(ctx)

	c.log.Info("alert rule created",
		logger.String("name", rule.Name),
		logger.String("id", rule.ID.String()))
	return ctx.JSON(http.StatusCreated, rule)
}

// UpdateRule replaces the definition of a rule.
func (c *Controller) UpdateRule(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	id := rules.ID(ctx.Param("id"))
	if _, err := c.repo.GetRule(reqCtx, id); err != nil {
		return c.storeError(ctx, err, "Failed to get alert rule")
	}

	var rule rules.Rule
	if err := ctx.Bind(&rule); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if err := c.validator().ValidateRule(&rule).Err("rule"); err != nil {
		return c.HandleError(ctx, err, "Invalid alert rule", http.StatusBadRequest)
	}

	rule.ID = id
	if err := c.repo.UpdateRule(reqCtx, &rule); err != nil {
		return c.storeError(ctx, err, "Failed to update alert rule")
	}
	if c.service != nil {
		c.service.Evaluator.ResetState(id)
	}
	c.refreshEngine(ctx)

	updated, err := c.repo.GetRule(reqCtx, id)
	if err != nil {
		return c.storeError(ctx, err, "Failed to get alert rule")
	}
	return ctx.JSON(http.StatusOK, updated)
}

// ToggleRule enables or disables a rule.
func (c *Controller) ToggleRule(ctx echo.Context) error {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := ctx.Bind(&body); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}

	id := rules.ID(ctx.Param("id"))
	if err := c.repo.ToggleRule(ctx.Request().Context(), id, body.Enabled); err != nil {
		return c.storeError(ctx, err, "Failed to toggle alert rule")
	}
	c.refreshEngine(ctx)

	return ctx.JSON(http.StatusOK, map[string]any{"id": id, "enabled": body.Enabled})
}

// DeleteRule deletes a rule.
func (c *Controller) DeleteRule(ctx echo.Context) error {
	id := rules.ID(ctx.Param("id"))
	if err := c.repo.DeleteRule(ctx.Request().Context(), id); err != nil {
		return c.storeError(ctx, err, "Failed to delete alert rule")
	}
	if c.service != nil {
		c.service.Evaluator.ResetState(id)
	}
	c.refreshEngine(ctx)
	return ctx.NoContent(http.StatusNoContent)
}

// RestoreDefaultRules recreates built-in rules missing by name.
func (c *Controller) RestoreDefaultRules(ctx echo.Context) error {
	created, err := alerting.SeedDefaultRules(ctx.Request().Context(), c.repo, c.log)
	if err != nil {
		return c.storeError(ctx, err, "Failed to restore default rules")
	}
	c.refreshEngine(ctx)
	return ctx.JSON(http.StatusOK, map[string]any{"created": created})
}

// ruleExport is the document produced by ExportRules and read by
// ImportRules.
type ruleExport struct {
	Version int          `json:"version"`
	Rules   []rules.Rule `json:"rules"`
}

// ExportRules returns every rule as a downloadable document.
func (c *Controller) ExportRules(ctx echo.Context) error {
	list, err := c.repo.ListRules(ctx.Request().Context())
	if err != nil {
		return c.storeError(ctx, err, "Failed to export alert rules")
	}
	ctx.Response().Header().Set("Content-Disposition", "attachment; filename=alert-rules.json")
	return ctx.JSON(http.StatusOK, ruleExport{Version: exportVersion, Rules: list})
}

// ImportRules stores every valid rule of an export document whose name is
// not taken. Invalid and duplicate rules are reported and skipped.
func (c *Controller) ImportRules(ctx echo.Context) error {
	var payload ruleExport
	if err := json.NewDecoder(ctx.Request().Body).Decode(&payload); err != nil {
		return c.HandleError(ctx, err, "Invalid JSON", http.StatusBadRequest)
	}

	reqCtx := ctx.Request().Context()
	skipped := make(map[string]string)
	var imported int
	for i := range payload.Rules {
		rule := &payload.Rules[i]
		if err := c.validator().ValidateRule(rule).Err("rule"); err != nil {
			skipped[rule.Name] = err.Error()
			continue
		}
		count, err := c.repo.CountRulesByName(reqCtx, rule.Name)
		if err != nil {
			return c.storeError(ctx, err, "Failed to import alert rules")
		}
		if count > 0 {
			skipped[rule.Name] = "name already exists"
			continue
		}

		rule.ID = ""
		resetRuntime(rule)
		if err := c.repo.CreateRule(reqCtx, rule); err != nil {
			c.log.Error("failed to import rule",
				logger.String("name", rule.Name), logger.Error(err))
			skipped[rule.Name] = "storage error"
			continue
		}
		imported++
	}
	c.refreshEngine(ctx)

	return ctx.JSON(http.StatusOK, map[string]any{
		"imported": imported,
		"total":    len(payload.Rules),
		"skipped":  skipped,
	})
}

// validator returns the configured validator, or one with default limits.
func (c *Controller) validator() *rules.Validator {
	if c.service != nil && c.service.Validator != nil {
		return c.service.Validator
	}
	return rules.NewValidator(rules.DefaultValidatorOptions())
}

// resetRuntime clears the evaluation state a client may have sent.
func resetRuntime(r *rules.Rule) {
	r.LastEvaluated = nil
	r.LastTriggered = nil
	r.TriggerCount = 0
	r.EvaluationCount = 0
	r.Version = 0
}

var _ alerting.Store = Repository(nil)

// errNoPipeline is returned when the controller runs without an engine.
var errNoPipeline = errors.New("alerting pipeline not initialized")
