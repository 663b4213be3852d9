package repository

import (
	"time"

	"go-branch-transfer/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DailyStatsRepository interface {
	// ApplyDelta adds the signed delta to the (branch, day) row, creating it
	// when absent. Increments are commutative so concurrent callers touching
	// the same row need no cross-branch locking.
	ApplyDelta(date time.Time, branchName string, delta model.StatsDelta) error
	Find(date time.Time, branchName string) (*model.DailyStats, error)
}

type dailyStatsRepo struct {
	db *gorm.DB
}

func NewDailyStatsRepo(db *gorm.DB) DailyStatsRepository {
	return &dailyStatsRepo{db}
}

func (r *dailyStatsRepo) ApplyDelta(date time.Time, branchName string, delta model.StatsDelta) error {
	row := model.DailyStats{
		BranchName:    branchName,
		StatDate:      model.DateOnly(date),
		Revenue:       delta.Revenue,
		OrderCount:    delta.OrderCount,
		SettledAmount: delta.SettledAmount,
	}

	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "branch_name"}, {Name: "stat_date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"revenue":        gorm.Expr("daily_stats.revenue + excluded.revenue"),
			"order_count":    gorm.Expr("daily_stats.order_count + excluded.order_count"),
			"settled_amount": gorm.Expr("daily_stats.settled_amount + excluded.settled_amount"),
			"updated_at":     time.Now(),
		}),
	}).Create(&row).Error
}

func (r *dailyStatsRepo) Find(date time.Time, branchName string) (*model.DailyStats, error) {
	var stats model.DailyStats
	err := r.db.
		Where("branch_name = ? AND stat_date = ?", branchName, model.DateOnly(date)).
		First(&stats).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
