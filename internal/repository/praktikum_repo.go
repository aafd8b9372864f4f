package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-praktikum-api/internal/models"
)

// PraktikumRepository exposes sections, their enrollments and system settings.
type PraktikumRepository interface {
	GetByID(ctx context.Context, id uint) (models.Praktikum, error)
	GetWithCurriculum(ctx context.Context, id uint) (models.Praktikum, error)
	ListByTerm(ctx context.Context, term models.Term) ([]models.Praktikum, error)
	Create(ctx context.Context, praktikum *models.Praktikum) error
	ListEnrollments(ctx context.Context, praktikumID uint) ([]models.Enrollment, error)
	GetEnrollment(ctx context.Context, praktikumID, studentID uint) (models.Enrollment, error)
	Enroll(ctx context.Context, enrollment *models.Enrollment) error
	GetSetting(ctx context.Context, key string) (models.Setting, error)
	PutSetting(ctx context.Context, key, value string) error
}

type praktikumRepository struct {
	db *gorm.DB
}

// NewPraktikumRepository instantiates a GORM-backed repository.
func NewPraktikumRepository(db *gorm.DB) PraktikumRepository {
	return &praktikumRepository{db: db}
}

func (r *praktikumRepository) GetByID(ctx context.Context, id uint) (models.Praktikum, error) {
	var praktikum models.Praktikum
	if err := r.db.WithContext(ctx).First(&praktikum, id).Error; err != nil {
		return models.Praktikum{}, err
	}

	return praktikum, nil
}

// GetWithCurriculum loads the section with its assignments and problems in display order.
func (r *praktikumRepository) GetWithCurriculum(ctx context.Context, id uint) (models.Praktikum, error) {
	var praktikum models.Praktikum
	if err := r.db.WithContext(ctx).
		Preload("Assignments", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC, id ASC")
		}).
		Preload("Assignments.Problems", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC, id ASC")
		}).
		First(&praktikum, id).Error; err != nil {
		return models.Praktikum{}, err
	}

	return praktikum, nil
}

func (r *praktikumRepository) ListByTerm(ctx context.Context, term models.Term) ([]models.Praktikum, error) {
	var sections []models.Praktikum
	if err := r.db.WithContext(ctx).
		Where("year = ? AND semester = ?", term.Year, term.Semester).
		Order("class_name ASC, id ASC").
		Find(&sections).Error; err != nil {
		return nil, err
	}

	return sections, nil
}

func (r *praktikumRepository) Create(ctx context.Context, praktikum *models.Praktikum) error {
	return r.db.WithContext(ctx).Create(praktikum).Error
}

func (r *praktikumRepository) ListEnrollments(ctx context.Context, praktikumID uint) ([]models.Enrollment, error) {
	var enrollments []models.Enrollment
	if err := r.db.WithContext(ctx).
		Preload("Student").
		Where("praktikum_id = ?", praktikumID).
		Order("id ASC").
		Find(&enrollments).Error; err != nil {
		return nil, err
	}

	return enrollments, nil
}

func (r *praktikumRepository) GetEnrollment(ctx context.Context, praktikumID, studentID uint) (models.Enrollment, error) {
	var enrollment models.Enrollment
	if err := r.db.WithContext(ctx).
		Preload("Student").
		Where("praktikum_id = ? AND student_id = ?", praktikumID, studentID).
		First(&enrollment).Error; err != nil {
		return models.Enrollment{}, err
	}

	return enrollment, nil
}

func (r *praktikumRepository) Enroll(ctx context.Context, enrollment *models.Enrollment) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "praktikum_id"}, {Name: "student_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).Omit("Student").Create(enrollment).Error
}

func (r *praktikumRepository) GetSetting(ctx context.Context, key string) (models.Setting, error) {
	var setting models.Setting
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error; err != nil {
		return models.Setting{}, err
	}

	return setting, nil
}

func (r *praktikumRepository) PutSetting(ctx context.Context, key, value string) error {
	setting := models.Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
}
