package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/fleetpulse/alertcore/internal/datastore/entities"
	"github.com/fleetpulse/alertcore/internal/errors"
	"github.com/fleetpulse/alertcore/internal/rules"
)

// Repository implements RuleRepository and AlertRepository on a gorm
// connection.
type Repository struct {
	db *gorm.DB
}

var (
	_ RuleRepository  = (*Repository)(nil)
	_ AlertRepository = (*Repository)(nil)
)

// New creates a Repository.
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ListRules returns every rule ordered by ID.
func (r *Repository) ListRules(ctx context.Context) ([]rules.Rule, error) {
	return r.FindRules(ctx, RuleFilter{})
}

// FindRules returns the rules matching filter.
func (r *Repository) FindRules(ctx context.Context, filter RuleFilter) ([]rules.Rule, error) {
	var rows []entities.Rule
	query := r.db.WithContext(ctx)

	if filter.Type != "" {
		query = query.Where("type = ?", string(filter.Type))
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", string(filter.Severity))
	}
	if filter.Enabled != nil {
		query = query.Where("enabled = ?", *filter.Enabled)
	}

	if err := query.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}

	out := make([]rules.Rule, 0, len(rows))
	for i := range rows {
		rule, err := fromRuleEntity(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

// GetEnabledRules returns all enabled rules.
func (r *Repository) GetEnabledRules(ctx context.Context) ([]rules.Rule, error) {
	enabled := true
	return r.FindRules(ctx, RuleFilter{Enabled: &enabled})
}

// GetRule returns a single rule. Returns ErrRuleNotFound if it does not exist.
func (r *Repository) GetRule(ctx context.Context, id rules.ID) (*rules.Rule, error) {
	pk, err := parseRuleID(id)
	if err != nil {
		return nil, err
	}
	var row entities.Rule
	if err := r.db.WithContext(ctx).First(&row, pk).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("failed to get alert rule %d: %w", pk, err)
	}
	rule, err := fromRuleEntity(&row)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// CreateRule inserts rule and sets its ID and version from the stored row.
// A non-numeric ID is replaced by the generated one.
func (r *Repository) CreateRule(ctx context.Context, rule *rules.Rule) error {
	if _, err := parseRuleID(rule.ID); err != nil {
		rule.ID = ""
	}
	row, err := toRuleEntity(rule)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to create alert rule: %w", err)
	}
	rule.ID = formatRuleID(row.ID)
	rule.Version = row.Version
	return nil
}

// UpdateRule replaces the definition of a stored rule and bumps its
// version. Evaluation state is kept from the stored row.
func (r *Repository) UpdateRule(ctx context.Context, rule *rules.Rule) error {
	row, err := toRuleEntity(rule)
	if err != nil {
		return err
	}
	if row.ID == 0 {
		return fmt.Errorf("failed to update alert rule: %w", ErrInvalidRuleID)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing entities.Rule
		if err := tx.First(&existing, row.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRuleNotFound
			}
			return fmt.Errorf("failed to load alert rule %d: %w", row.ID, err)
		}

		row.LastEvaluated = existing.LastEvaluated
		row.LastTriggered = existing.LastTriggered
		row.TriggerCount = existing.TriggerCount
		row.EvaluationCount = existing.EvaluationCount
		row.Version = existing.Version + 1
		row.CreatedAt = existing.CreatedAt

		if err := tx.Save(row).Error; err != nil {
			return fmt.Errorf("failed to update alert rule: %w", err)
		}
		rule.Version = row.Version
		return nil
	})
}

// DeleteRule deletes a rule.
func (r *Repository) DeleteRule(ctx context.Context, id rules.ID) error {
	pk, err := parseRuleID(id)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Delete(&entities.Rule{}, pk)
	if result.Error != nil {
		return fmt.Errorf("failed to delete alert rule %d: %w", pk, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// ToggleRule enables or disables a rule.
func (r *Repository) ToggleRule(ctx context.Context, id rules.ID, enabled bool) error {
	pk, err := parseRuleID(id)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Model(&entities.Rule{}).Where("id = ?", pk).Update("enabled", enabled)
	if result.Error != nil {
		return fmt.Errorf("failed to toggle alert rule %d: %w", pk, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// SaveRuleState writes the evaluation counters and times of rule.
func (r *Repository) SaveRuleState(ctx context.Context, rule *rules.Rule) error {
	pk, err := parseRuleID(rule.ID)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Model(&entities.Rule{}).Where("id = ?", pk).Updates(map[string]any{
		"last_evaluated":   timePtr(rule.LastEvaluated),
		"last_triggered":   timePtr(rule.LastTriggered),
		"trigger_count":    rule.TriggerCount,
		"evaluation_count": rule.EvaluationCount,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to save state of alert rule %d: %w", pk, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// CountRulesByName returns the number of rules with the given name.
func (r *Repository) CountRulesByName(ctx context.Context, name string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.Rule{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count rules by name: %w", err)
	}
	return count, nil
}
