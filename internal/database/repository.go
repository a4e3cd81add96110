package database

import (
	"time"

	"github.com/luaidle/luaidle/internal/models"

	"github.com/pkg/errors"

	"gorm.io/gorm"
)

// Repository handles all database operations for the idle journal
type Repository struct {
	db *DB
}

// NewRepository creates a new repository instance
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// CreateIdleEvent inserts a new idle transition
func (r *Repository) CreateIdleEvent(event *models.IdleEvent) error {
	result := r.db.Create(event)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to insert idle event")
	}
	return nil
}

// CreateActionRun inserts a new lock invocation record
func (r *Repository) CreateActionRun(run *models.ActionRun) error {
	result := r.db.Create(run)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to insert action run")
	}
	return nil
}

// CreateErrorLog inserts a new error log into the database
func (r *Repository) CreateErrorLog(errorLog *models.ErrorLog) error {
	result := r.db.Create(errorLog)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to insert error log")
	}
	return nil
}

// GetEventsSince retrieves idle events since a given time, oldest first
func (r *Repository) GetEventsSince(since time.Time) ([]*models.IdleEvent, error) {
	var events []*models.IdleEvent
	result := r.db.Where("timestamp >= ?", since).Order("timestamp ASC").Find(&events)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query idle events")
	}
	return events, nil
}

// GetActionRunsSince retrieves action runs since a given time, oldest first
func (r *Repository) GetActionRunsSince(since time.Time) ([]*models.ActionRun, error) {
	var runs []*models.ActionRun
	result := r.db.Where("timestamp >= ?", since).Order("timestamp ASC").Find(&runs)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query action runs")
	}
	return runs, nil
}

// GetCallbackSummarySince aggregates transitions per callback
func (r *Repository) GetCallbackSummarySince(since time.Time) ([]models.CallbackSummary, error) {
	var summaries []models.CallbackSummary

	result := r.db.Model(&models.IdleEvent{}).
		Select(`callback_name,
			SUM(CASE WHEN event = 'idled' THEN 1 ELSE 0 END) as idled,
			SUM(CASE WHEN event = 'resumed' THEN 1 ELSE 0 END) as resumed,
			SUM(CASE WHEN callback_err <> '' THEN 1 ELSE 0 END) as failures`).
		Where("timestamp >= ?", since).
		Group("callback_name").
		Order("idled DESC").
		Scan(&summaries)

	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query callback summary")
	}

	return summaries, nil
}

// GetOutcomeSummarySince counts action runs per outcome
func (r *Repository) GetOutcomeSummarySince(since time.Time) ([]models.OutcomeSummary, error) {
	var summaries []models.OutcomeSummary

	result := r.db.Model(&models.ActionRun{}).
		Select("outcome, COUNT(*) as count").
		Where("timestamp >= ?", since).
		Group("outcome").
		Order("count DESC").
		Scan(&summaries)

	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query action summary")
	}

	return summaries, nil
}

// GetLockedSecondsSince sums the run time of lock processes that exited
func (r *Repository) GetLockedSecondsSince(since time.Time) (int64, error) {
	var totalMs int64
	result := r.db.Model(&models.ActionRun{}).
		Select("COALESCE(SUM(duration_ms), 0)").
		Where("timestamp >= ? AND outcome = ?", since, "exited").
		Scan(&totalMs)
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to sum lock durations")
	}
	return totalMs / 1000, nil
}

// GetLatestEvent retrieves the most recent idle event
func (r *Repository) GetLatestEvent() (*models.IdleEvent, error) {
	var event models.IdleEvent
	result := r.db.Order("timestamp DESC").First(&event)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errors.Wrap(result.Error, "failed to get latest event")
	}
	return &event, nil
}

// DeleteOldEvents deletes journal rows older than a specified date (soft delete)
func (r *Repository) DeleteOldEvents(before time.Time) (int64, error) {
	var total int64
	for _, model := range []any{&models.IdleEvent{}, &models.ActionRun{}, &models.ErrorLog{}} {
		result := r.db.Where("timestamp < ?", before).Delete(model)
		if result.Error != nil {
			return total, errors.Wrap(result.Error, "failed to delete old journal rows")
		}
		total += result.RowsAffected
	}
	return total, nil
}
