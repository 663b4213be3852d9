package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyStats is the per-branch per-day revenue aggregate, one row per
// (branch_name, stat_date). Rows are only ever mutated through additive
// deltas so concurrent increments commute without locking.
type DailyStats struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	BranchName string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_daily_stats_branch_date,priority:1" json:"branch_name"`
	StatDate   time.Time `gorm:"type:date;not null;uniqueIndex:idx_daily_stats_branch_date,priority:2" json:"stat_date"`

	Revenue       decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"revenue"`
	OrderCount    int             `gorm:"not null;default:0" json:"order_count"`
	SettledAmount decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"settled_amount"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (DailyStats) TableName() string {
	return "daily_stats"
}

// StatsDelta is a signed increment applied to one branch/day row.
type StatsDelta struct {
	Revenue       decimal.Decimal
	OrderCount    int
	SettledAmount decimal.Decimal
}

// DateOnly truncates t to its calendar day in UTC, matching the grain of the
// daily_stats table.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
