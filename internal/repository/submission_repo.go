package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-praktikum-api/internal/models"
)

// ErrStaleTransition is returned when a status update lost the race against another writer.
var ErrStaleTransition = errors.New("submission status changed concurrently")

// ErrIllegalTransition is returned when the requested status change breaks the lifecycle order.
var ErrIllegalTransition = errors.New("illegal submission status transition")

// SubmissionFilter allows narrowing submission queries.
type SubmissionFilter struct {
	ProblemIDs []uint
	StudentIDs []uint
	Status     *models.SubmissionStatus
}

// StatusUpdate carries the columns written together with a status change.
type StatusUpdate struct {
	Status      models.SubmissionStatus
	Score       int
	Message     string
	Raw         datatypes.JSON
	MaxTimeMs   int64
	MaxMemoryKB int64
	JudgedAt    *time.Time
	Results     []models.TestCaseResult
}

// SubmissionRepository defines data operations for submissions.
type SubmissionRepository interface {
	List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, error)
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	Create(ctx context.Context, submission *models.Submission) error
	CountAttempts(ctx context.Context, studentID, problemID uint) (int64, error)
	UpdateStatus(ctx context.Context, id uint, from models.SubmissionStatus, update StatusUpdate) error
	ApplyOverride(ctx context.Context, submissionID uint, override *models.ScoreOverride) error
	ListOverrides(ctx context.Context, submissionID uint) ([]models.ScoreOverride, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

// List omits source code and per-case results; it feeds aggregation, not display.
func (r *submissionRepository) List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, error) {
	query := r.db.WithContext(ctx).Model(&models.Submission{}).
		Omit("source", "judge_raw")

	if len(filter.ProblemIDs) > 0 {
		query = query.Where("problem_id IN ?", filter.ProblemIDs)
	}

	if len(filter.StudentIDs) > 0 {
		query = query.Where("student_id IN ?", filter.StudentIDs)
	}

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	var submissions []models.Submission
	if err := query.Order("submitted_at ASC, id ASC").Find(&submissions).Error; err != nil {
		return nil, err
	}

	return submissions, nil
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).
		Preload("Problem").
		Preload("Problem.Assignment").
		Preload("Problem.TestCases", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		Preload("Results", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Omit("Problem", "Results").Create(submission).Error
}

// CountAttempts counts attempts that consume the limit. JUDGE_ERROR rows are the system's fault and do not.
func (r *submissionRepository) CountAttempts(ctx context.Context, studentID, problemID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("student_id = ? AND problem_id = ?", studentID, problemID).
		Where("status <> ?", models.StatusJudgeError).
		Count(&count).Error
	return count, err
}

// UpdateStatus moves a submission out of status from. When another writer moved it first the
// update is dropped and ErrStaleTransition returned. Results, when given, replace stored ones.
func (r *submissionRepository) UpdateStatus(ctx context.Context, id uint, from models.SubmissionStatus, update StatusUpdate) error {
	if !from.CanTransition(update.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, update.Status)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		columns := map[string]interface{}{
			"status":     update.Status,
			"score":      update.Score,
			"updated_at": time.Now().UTC(),
		}
		if update.Message != "" {
			columns["judge_message"] = update.Message
		}
		if len(update.Raw) > 0 {
			columns["judge_raw"] = update.Raw
		}
		if update.Status.IsTerminal() {
			columns["max_time_ms"] = update.MaxTimeMs
			columns["max_memory_kb"] = update.MaxMemoryKB
			columns["judged_at"] = update.JudgedAt
		}

		result := tx.Model(&models.Submission{}).
			Where("id = ? AND status = ?", id, from).
			Updates(columns)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrStaleTransition
		}

		if len(update.Results) == 0 {
			return nil
		}

		if err := tx.Where("submission_id = ?", id).Delete(&models.TestCaseResult{}).Error; err != nil {
			return err
		}
		results := make([]models.TestCaseResult, len(update.Results))
		for i, item := range update.Results {
			item.ID = 0
			item.SubmissionID = id
			results[i] = item
		}
		return tx.Create(&results).Error
	})
}

// ApplyOverride stores the manual score and its history row atomically.
func (r *submissionRepository) ApplyOverride(ctx context.Context, submissionID uint, override *models.ScoreOverride) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Submission{}).
			Where("id = ?", submissionID).
			Updates(map[string]interface{}{
				"manual_score": override.Score,
				"updated_at":   override.GradedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		override.SubmissionID = submissionID
		return tx.Create(override).Error
	})
}

func (r *submissionRepository) ListOverrides(ctx context.Context, submissionID uint) ([]models.ScoreOverride, error) {
	var overrides []models.ScoreOverride
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("graded_at DESC, id DESC").
		Find(&overrides).Error; err != nil {
		return nil, err
	}

	return overrides, nil
}
