package models

import "time"

// OrderSequence holds the last issued order number per COM-YYYY-MM prefix.
type OrderSequence struct {
	Prefix    string    `gorm:"column:prefix;primaryKey"`
	Value     int       `gorm:"column:value;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (OrderSequence) TableName() string { return "order_sequences" }
