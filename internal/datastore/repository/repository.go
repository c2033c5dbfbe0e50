// Package repository persists rules and alerts through gorm.
package repository

import (
	"context"
	"time"

	"github.com/fleetpulse/alertcore/internal/alert"
	"github.com/fleetpulse/alertcore/internal/errors"
	"github.com/fleetpulse/alertcore/internal/rules"
)

var (
	ErrRuleNotFound  = errors.New("alert rule not found")
	ErrAlertNotFound = errors.New("alert not found")
	ErrInvalidRuleID = errors.New("invalid rule id")
)

// RuleRepository handles rule CRUD and evaluation state.
type RuleRepository interface {
	ListRules(ctx context.Context) ([]rules.Rule, error)
	FindRules(ctx context.Context, filter RuleFilter) ([]rules.Rule, error)
	GetRule(ctx context.Context, id rules.ID) (*rules.Rule, error)
	CreateRule(ctx context.Context, rule *rules.Rule) error
	UpdateRule(ctx context.Context, rule *rules.Rule) error
	DeleteRule(ctx context.Context, id rules.ID) error
	ToggleRule(ctx context.Context, id rules.ID, enabled bool) error
	GetEnabledRules(ctx context.Context) ([]rules.Rule, error)
	SaveRuleState(ctx context.Context, rule *rules.Rule) error
	CountRulesByName(ctx context.Context, name string) (int64, error)
}

// AlertRepository handles alert storage and retention.
type AlertRepository interface {
	SaveAlerts(ctx context.Context, alerts []alert.Alert) error
	GetAlert(ctx context.Context, id string) (*alert.Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]alert.Alert, int64, error)
	ListAlertsSince(ctx context.Context, since time.Time) ([]alert.Alert, error)
	UpdateAlertStatus(ctx context.Context, id string, status alert.Status) error
	DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RuleFilter controls rule listing queries.
type RuleFilter struct {
	Type     rules.Type
	Severity rules.Severity
	Enabled  *bool
}

// AlertFilter controls alert listing queries. Zero fields do not filter.
type AlertFilter struct {
	Equipment string
	RuleID    rules.ID
	Severity  rules.Severity
	Status    alert.Status
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
}
