// Package entities holds the gorm models of the rule and alert tables.
package entities

import "time"

// Rule is the stored form of an alert rule. Conditions and the equipment
// lists are JSON encoded.
type Rule struct {
	ID                  uint       `gorm:"primaryKey"`
	Name                string     `gorm:"size:255;not null;index"`
	Description         string     `gorm:"size:1000;default:''"`
	Type                string     `gorm:"size:20;not null"`
	Enabled             bool       `gorm:"not null;index"`
	Severity            string     `gorm:"size:20;not null"`
	Logic               string     `gorm:"size:10;default:''"`
	Conditions          string     `gorm:"type:text;not null"`
	EquipmentGroups     string     `gorm:"type:text;default:''"`
	EquipmentPatterns   string     `gorm:"type:text;default:''"`
	ApplicableEquipment string     `gorm:"type:text;default:''"`
	EvaluationFrequency int64      `gorm:"not null;default:0"` // milliseconds
	CooldownPeriod      int64      `gorm:"not null;default:0"` // milliseconds
	ValidFrom           *time.Time `gorm:"index"`
	ValidUntil          *time.Time `gorm:"index"`
	LastEvaluated       *time.Time `gorm:"default:null"`
	LastTriggered       *time.Time `gorm:"default:null"`
	TriggerCount        int64      `gorm:"not null;default:0"`
	EvaluationCount     int64      `gorm:"not null;default:0"`
	Version             int        `gorm:"not null;default:1"`
	MessageTemplate     string     `gorm:"size:1000;default:''"`
	EventType           string     `gorm:"size:100;default:''"`
	CreatedAt           time.Time  `gorm:"autoCreateTime"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (Rule) TableName() string {
	return "alert_rules"
}
