package models

import (
	"time"
)

// BaseModel provides common fields for all database models.
// Ledger rows are never deleted, so there is no soft-delete column.
type BaseModel struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
