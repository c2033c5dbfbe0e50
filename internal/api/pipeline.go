package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fleetpulse/alertcore/internal/alert"
	"github.com/fleetpulse/alertcore/internal/alerting"
	"github.com/fleetpulse/alertcore/internal/dedup"
	"github.com/fleetpulse/alertcore/internal/errors"
	"github.com/fleetpulse/alertcore/internal/logger"
	"github.com/fleetpulse/alertcore/internal/rules"
)

// evaluateRequest is the body of Evaluate and TestRule. Rule is ignored by
// TestRule.
type evaluateRequest struct {
	Rule    *rules.Rule          `json:"rule,omitempty"`
	Data    alerting.Data        `json:"data"`
	Context alerting.EvalContext `json:"context"`
}

// evaluateResponse reports a dry-run evaluation.
type evaluateResponse struct {
	Triggered bool                    `json:"triggered"`
	State     alerting.RuleState      `json:"state"`
	Alert     *alert.Alert            `json:"alert,omitempty"`
	Stats     alerting.EvaluatorStats `json:"stats"`
}

// Evaluate runs a rule from the request body against the supplied data.
// The evaluation uses a scratch evaluator, so live rule state is untouched.
func (c *Controller) Evaluate(ctx echo.Context) error {
	var req evaluateRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if req.Rule == nil {
		return c.HandleError(ctx, errors.NewValidationError("rule", "rule is required"), "Invalid request body", http.StatusBadRequest)
	}
	if err := c.validator().ValidateRule(req.Rule).Err("rule"); err != nil {
		return c.HandleError(ctx, err, "Invalid alert rule", http.StatusBadRequest)
	}
	return ctx.JSON(http.StatusOK, c.dryRun(req.Rule, req.Data, req.Context))
}

// TestRule runs a stored rule against the supplied data without touching
// its live state.
func (c *Controller) TestRule(ctx echo.Context) error {
	rule, err := c.repo.GetRule(ctx.Request().Context(), rules.ID(ctx.Param("id")))
	if err != nil {
		return c.storeError(ctx, err, "Failed to get alert rule")
	}
	var req evaluateRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	// A test run ignores the rule's stored cooldown.
	rule.LastTriggered = nil
	rule.Enabled = true
	return ctx.JSON(http.StatusOK, c.dryRun(rule, req.Data, req.Context))
}

func (c *Controller) dryRun(rule *rules.Rule, data alerting.Data, ec alerting.EvalContext) evaluateResponse {
	cfg := alerting.DefaultEvaluatorConfig()
	opts := []alerting.EvaluatorOption{alerting.WithLogger(c.log)}
	builder := alerting.NewAlertBuilder(nil)
	if c.service != nil {
		cfg = alerting.EvaluatorConfigFrom(c.service.Settings.Evaluator)
		opts = append(opts, alerting.WithClassifier(c.service.Classifier))
		builder = alerting.NewAlertBuilder(c.service.Classifier)
	}
	cfg.CacheTimeout = -1

	ev := alerting.NewEvaluator(cfg, opts...)
	resp := evaluateResponse{Triggered: ev.Evaluate(rule, data, ec)}
	resp.State, _ = ev.State(rule.ID)
	resp.Stats = ev.Stats()
	if resp.Triggered {
		a := builder.Build(rule, data, ec)
		resp.Alert = &a
	}
	return resp
}

// HandleEvent runs an event through the live pipeline and returns the
// alerts it emitted.
func (c *Controller) HandleEvent(ctx echo.Context) error {
	if c.service == nil {
		return c.HandleError(ctx, errNoPipeline, "Alerting pipeline unavailable", http.StatusServiceUnavailable)
	}
	var ev alerting.Event
	if err := ctx.Bind(&ev); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if ev.Data == nil {
		return c.HandleError(ctx, errors.NewValidationError("data", "event data is required"), "Invalid event", http.StatusBadRequest)
	}

	emitted, err := c.service.Engine.HandleEvent(ctx.Request().Context(), ev)
	resp := map[string]any{
		"alerts": emitted,
		"count":  len(emitted),
	}
	if err != nil {
		// Alerts were still published; report the storage failure alongside.
		c.log.Error("event handled with storage errors", logger.Error(err))
		resp["error"] = "alerts could not be fully persisted"
		return ctx.JSON(http.StatusAccepted, resp)
	}
	return ctx.JSON(http.StatusOK, resp)
}

// dedupRequest is the body of Deduplicate.
type dedupRequest struct {
	Alerts   []alert.Alert `json:"alerts"`
	Existing []alert.Alert `json:"existing"`
	Strategy string        `json:"strategy,omitempty"`
	Merge    bool          `json:"merge,omitempty"`
}

// Deduplicate filters alerts against existing ones and optionally merges
// the survivors. A strategy in the body selects a one-off deduplicator.
func (c *Controller) Deduplicate(ctx echo.Context) error {
	var req dedupRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}

	d, err := c.deduplicatorFor(req.Strategy, req.Merge)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid strategy", http.StatusBadRequest)
	}

	unique := d.Deduplicate(req.Alerts, req.Existing)
	if req.Merge {
		unique = d.MergeAlerts(unique)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"alerts":     unique,
		"count":      len(unique),
		"duplicates": len(req.Alerts) - len(unique),
		"stats":      d.Stats(),
	})
}

func (c *Controller) deduplicatorFor(strategy string, merge bool) (*dedup.Deduplicator, error) {
	base := dedup.DefaultConfig()
	if c.service != nil {
		if strategy == "" && (!merge || c.service.Dedup.Config().EnableMerge) {
			return c.service.Dedup, nil
		}
		base = c.service.Dedup.Config()
	}
	if strategy != "" {
		s, err := dedup.ParseStrategy(strategy)
		if err != nil {
			return nil, err
		}
		base.Strategy = s
	}
	base.EnableMerge = base.EnableMerge || merge
	return dedup.New(base, dedup.WithLogger(c.log)), nil
}

// GetStats returns evaluator, deduplicator and engine counters.
func (c *Controller) GetStats(ctx echo.Context) error {
	if c.service == nil {
		return c.HandleError(ctx, errNoPipeline, "Alerting pipeline unavailable", http.StatusServiceUnavailable)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"evaluator":     c.service.Evaluator.Stats(),
		"dedup":         c.service.Dedup.Stats(),
		"rulesLoaded":   len(c.service.Engine.Rules()),
		"streamDropped": c.service.Stream.Dropped(),
	})
}
