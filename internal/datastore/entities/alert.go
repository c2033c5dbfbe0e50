package entities

import "time"

// Alert is the stored form of an emitted alert.
type Alert struct {
	ID                string    `gorm:"primaryKey;size:64"`
	UniqueID          string    `gorm:"size:64;index"`
	Equipment         string    `gorm:"size:100;not null;index:idx_alerts_equipment_rule,priority:1"`
	EquipmentGroups   string    `gorm:"type:text;default:''"`
	RuleID            string    `gorm:"size:64;not null;index:idx_alerts_equipment_rule,priority:2"`
	RuleName          string    `gorm:"size:255;default:''"`
	Severity          string    `gorm:"size:20;not null;index"`
	Message           string    `gorm:"type:text"`
	EventType         string    `gorm:"size:100;default:''"`
	EventIdentifier   string    `gorm:"size:100;default:''"`
	Timestamp         time.Time `gorm:"not null;index"`
	FirstOccurrence   time.Time `gorm:"not null"`
	LastOccurrence    time.Time `gorm:"not null"`
	Duration          float64   `gorm:"not null;default:0"` // minutes
	Consolidated      bool      `gorm:"not null;default:false"`
	ConsolidatedCount int       `gorm:"not null;default:0"`
	Status            string    `gorm:"size:20;not null;index"`
	MergedFrom        string    `gorm:"type:text;default:''"`
	MergedCount       int       `gorm:"not null;default:0"`
	RecordCount       int       `gorm:"not null;default:1"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (Alert) TableName() string {
	return "alerts"
}
