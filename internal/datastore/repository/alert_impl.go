package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fleetpulse/alertcore/internal/alert"
	"github.com/fleetpulse/alertcore/internal/datastore/entities"
	"github.com/fleetpulse/alertcore/internal/errors"
)

const saveBatchSize = 100

// SaveAlerts inserts alerts, replacing rows that share an ID.
func (r *Repository) SaveAlerts(ctx context.Context, alerts []alert.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	rows := make([]entities.Alert, 0, len(alerts))
	for i := range alerts {
		row, err := toAlertEntity(&alerts[i])
		if err != nil {
			return fmt.Errorf("failed to encode alert %s: %w", alerts[i].ID, err)
		}
		rows = append(rows, row)
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).CreateInBatches(&rows, saveBatchSize).Error
	if err != nil {
		return fmt.Errorf("failed to save alerts: %w", err)
	}
	return nil
}

// GetAlert returns a single alert. Returns ErrAlertNotFound if it does not
// exist.
func (r *Repository) GetAlert(ctx context.Context, id string) (*alert.Alert, error) {
	var row entities.Alert
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get alert %s: %w", id, err)
	}
	a, err := fromAlertEntity(&row)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAlerts returns alerts matching filter, newest first, together with
// the total number of matches ignoring pagination.
func (r *Repository) ListAlerts(ctx context.Context, filter AlertFilter) ([]alert.Alert, int64, error) {
	var total int64
	if err := applyAlertFilter(r.db.WithContext(ctx).Model(&entities.Alert{}), filter).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	query := applyAlertFilter(r.db.WithContext(ctx), filter).Order("timestamp DESC").Order("id ASC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	var rows []entities.Alert
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}

	out, err := fromAlertRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListAlertsSince returns alerts with a timestamp at or after since, oldest
// first.
func (r *Repository) ListAlertsSince(ctx context.Context, since time.Time) ([]alert.Alert, error) {
	var rows []entities.Alert
	err := r.db.WithContext(ctx).
		Where("timestamp >= ?", since.UTC()).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts since %v: %w", since, err)
	}
	return fromAlertRows(rows)
}

// UpdateAlertStatus sets the lifecycle status of an alert.
func (r *Repository) UpdateAlertStatus(ctx context.Context, id string, status alert.Status) error {
	if !status.Valid() {
		return errors.NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}
	result := r.db.WithContext(ctx).Model(&entities.Alert{}).Where("id = ?", id).Update("status", string(status))
	if result.Error != nil {
		return fmt.Errorf("failed to update alert %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// DeleteAlertsBefore deletes alerts with a timestamp older than cutoff.
func (r *Repository) DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("timestamp < ?", cutoff.UTC()).Delete(&entities.Alert{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete alerts before %v: %w", cutoff, result.Error)
	}
	return result.RowsAffected, nil
}

func applyAlertFilter(query *gorm.DB, filter AlertFilter) *gorm.DB {
	if filter.Equipment != "" {
		query = query.Where("equipment = ?", filter.Equipment)
	}
	if filter.RuleID != "" {
		query = query.Where("rule_id = ?", string(filter.RuleID))
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", string(filter.Severity))
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query = query.Where("timestamp >= ?", filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query = query.Where("timestamp < ?", filter.Until.UTC())
	}
	return query
}

func fromAlertRows(rows []entities.Alert) ([]alert.Alert, error) {
	out := make([]alert.Alert, 0, len(rows))
	for i := range rows {
		a, err := fromAlertEntity(&rows[i])
		if err != nil {
			return nil, fmt.Errorf("failed to decode alert %s: %w", rows[i].ID, err)
		}
		out = append(out, a)
	}
	return out, nil
}
