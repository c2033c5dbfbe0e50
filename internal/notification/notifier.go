// Package notification delivers emitted alerts to chat and push services
// through shoutrrr service URLs.
package notification

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/fleetpulse/alertcore/internal/alert"
	"github.com/fleetpulse/alertcore/internal/conf"
	"github.com/fleetpulse/alertcore/internal/errors"
	"github.com/fleetpulse/alertcore/internal/logger"
	"github.com/fleetpulse/alertcore/internal/rules"
)

// Sender delivers a message to every configured service. It matches
// shoutrrr's ServiceRouter.
type Sender interface {
	Send(message string, params *types.Params) []error
}

// Stats counts notification outcomes.
type Stats struct {
	Sent     int64 `json:"sent"`
	Failed   int64 `json:"failed"`
	Filtered int64 `json:"filtered"`
}

// Notifier forwards alerts at or above a minimum severity.
type Notifier struct {
	sender      Sender
	minSeverity rules.Severity
	log         logger.Logger

	sent     atomic.Int64
	failed   atomic.Int64
	filtered atomic.Int64
}

// New creates a Notifier for the shoutrrr URLs in settings.
func New(settings conf.NotifySettings, log logger.Logger) (*Notifier, error) {
	if len(settings.URLs) == 0 {
		return nil, errors.NewValidationError("notify.urls", "at least one service URL is required")
	}
	router, err := shoutrrr.CreateSender(settings.URLs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification sender: %w", err)
	}
	if d := settings.Timeout.Std(); d > 0 {
		router.Timeout = d
	}
	return NewWithSender(router, settings.MinSeverity, log), nil
}

// NewWithSender creates a Notifier around an existing sender. An empty or
// unknown minSeverity forwards every alert.
func NewWithSender(sender Sender, minSeverity string, log logger.Logger) *Notifier {
	if log == nil {
		log = logger.NewNop()
	}
	sev, ok := rules.ParseSeverity(minSeverity)
	if !ok {
		sev = rules.SeverityLow
	}
	return &Notifier{
		sender:      sender,
		minSeverity: sev,
		log:         log.With(logger.Component("notification")),
	}
}

// ShouldNotify reports whether a meets the minimum severity. Resolved and
// acknowledged alerts are never sent.
func (n *Notifier) ShouldNotify(a *alert.Alert) bool {
	if a.Status != "" && a.Status != alert.StatusActive {
		return false
	}
	return a.Severity.Rank() >= n.minSeverity.Rank()
}

// Notify sends a. It is an alerting.AlertHandler.
func (n *Notifier) Notify(a *alert.Alert) {
	if !n.ShouldNotify(a) {
		n.filtered.Add(1)
		return
	}

	params := types.Params{"title": Title(a)}
	start := time.Now()
	errs := n.sender.Send(Message(a), &params)

	var failures []error
	for _, err := range errs {
		if err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		n.failed.Add(1)
		err := errors.Join(failures...)
		n.log.Error("failed to deliver alert notification",
			logger.String("alert_id", a.ID),
			logger.Int("failures", len(failures)),
			logger.Error(err))
		errors.Report(err)
		return
	}

	n.sent.Add(1)
	n.log.Debug("alert notification sent",
		logger.String("alert_id", a.ID),
		logger.Duration("elapsed", time.Since(start)))
}

// Stats returns the notification counters.
func (n *Notifier) Stats() Stats {
	return Stats{
		Sent:     n.sent.Load(),
		Failed:   n.failed.Load(),
		Filtered: n.filtered.Load(),
	}
}

// Title renders the notification title for a.
func Title(a *alert.Alert) string {
	name := a.RuleName
	if name == "" {
		name = "Alert"
	}
	if a.Equipment == "" {
		return fmt.Sprintf("[%s] %s", a.Severity, name)
	}
	return fmt.Sprintf("[%s] %s - %s", a.Severity, name, a.Equipment)
}

// Message renders the notification body for a.
func Message(a *alert.Alert) string {
	var b strings.Builder
	b.WriteString(a.Message)
	if len(a.EquipmentGroups) > 0 {
		fmt.Fprintf(&b, "\nGroups: %s", strings.Join(a.EquipmentGroups, ", "))
	}
	if a.Duration > 0 {
		fmt.Fprintf(&b, "\nDuration: %.1f min", a.Duration)
	}
	if at := a.OccurredAt(); !at.IsZero() {
		fmt.Fprintf(&b, "\nAt: %s", at.UTC().Format(time.RFC3339))
	}
	if a.MergedCount > 1 {
		fmt.Fprintf(&b, "\nMerged: %d alerts", a.MergedCount)
	}
	return b.String()
}
