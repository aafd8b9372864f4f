package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-praktikum-api/internal/models"
)

// ProblemRepository provides access to problems and their test cases.
type ProblemRepository interface {
	GetByID(ctx context.Context, id uint) (models.Problem, error)
	Create(ctx context.Context, problem *models.Problem) error
}

type problemRepository struct {
	db *gorm.DB
}

// NewProblemRepository constructs a problem repository.
func NewProblemRepository(db *gorm.DB) ProblemRepository {
	return &problemRepository{db: db}
}

// GetByID loads the problem with its assignment and ordered test cases.
func (r *problemRepository) GetByID(ctx context.Context, id uint) (models.Problem, error) {
	var problem models.Problem
	if err := r.db.WithContext(ctx).
		Preload("Assignment").
		Preload("TestCases", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC, id ASC")
		}).
		First(&problem, id).Error; err != nil {
		return models.Problem{}, err
	}

	return problem, nil
}

func (r *problemRepository) Create(ctx context.Context, problem *models.Problem) error {
	return r.db.WithContext(ctx).Omit("Assignment").Create(problem).Error
}
