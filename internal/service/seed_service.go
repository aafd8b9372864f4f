package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-praktikum-api/internal/dto"
	"github.com/noah-isme/gema-praktikum-api/internal/models"
	"github.com/noah-isme/gema-praktikum-api/internal/repository"
)

// ErrSeedInvalid wraps validation failures of an import file.
var ErrSeedInvalid = errors.New("invalid section seed")

// SeedService imports sections with their roster and curriculum.
type SeedService interface {
	SeedSection(ctx context.Context, seed dto.SectionSeed) (dto.SeedResult, error)
}

type seedService struct {
	praktikums  repository.PraktikumRepository
	students    repository.StudentRepository
	assignments repository.AssignmentRepository
	problems    repository.ProblemRepository
	validator   *validator.Validate
	logger      zerolog.Logger
}

// NewSeedService constructs a seeding service.
func NewSeedService(praktikums repository.PraktikumRepository, students repository.StudentRepository, assignments repository.AssignmentRepository, problems repository.ProblemRepository, validate *validator.Validate, logger zerolog.Logger) SeedService {
	return &seedService{
		praktikums:  praktikums,
		students:    students,
		assignments: assignments,
		problems:    problems,
		validator:   validate,
		logger:      logger.With().Str("component", "seed_service").Logger(),
	}
}

// SeedSection creates the section, enrolls its members and creates its assignments in file order.
// Students are matched by NIM so the same roster can be reused across sections.
func (s *seedService) SeedSection(ctx context.Context, seed dto.SectionSeed) (dto.SeedResult, error) {
	normalizeSeed(&seed)
	if err := s.validator.Struct(seed); err != nil {
		return dto.SeedResult{}, fmt.Errorf("%w: %v", ErrSeedInvalid, err)
	}

	praktikum := models.Praktikum{
		Name:      seed.Name,
		ClassName: seed.ClassName,
		Semester:  seed.Semester,
		Year:      seed.Year,
	}
	if err := s.praktikums.Create(ctx, &praktikum); err != nil {
		return dto.SeedResult{}, fmt.Errorf("create praktikum: %w", err)
	}
	result := dto.SeedResult{PraktikumID: praktikum.ID}

	for _, member := range seed.Members {
		student, created, err := s.findOrCreateStudent(ctx, member)
		if err != nil {
			return result, err
		}
		if created {
			result.StudentsCreated++
		}

		enrollment := models.Enrollment{PraktikumID: praktikum.ID, StudentID: student.ID, Role: member.Role}
		if err := s.praktikums.Enroll(ctx, &enrollment); err != nil {
			return result, fmt.Errorf("enroll %s: %w", member.NIM, err)
		}
		result.Enrollments++
	}

	for i, item := range seed.Assignments {
		assignment := models.Assignment{
			PraktikumID: praktikum.ID,
			Title:       item.Title,
			Description: item.Description,
			Position:    i + 1,
			DueDate:     item.DueDate.UTC(),
			MaxAttempts: item.MaxAttempts,
		}
		if err := s.assignments.Create(ctx, &assignment); err != nil {
			return result, fmt.Errorf("create assignment %q: %w", item.Title, err)
		}
		result.Assignments++

		for j, problemSeed := range item.Problems {
			problem := newSeedProblem(assignment.ID, j+1, problemSeed)
			if err := s.problems.Create(ctx, &problem); err != nil {
				return result, fmt.Errorf("create problem %q: %w", problemSeed.Title, err)
			}
			result.Problems++
		}
	}

	if seed.Activate {
		term := praktikum.Term().String()
		if err := s.praktikums.PutSetting(ctx, models.SettingActiveTerm, term); err != nil {
			return result, fmt.Errorf("activate term: %w", err)
		}
		s.logger.Info().Str("term", term).Msg("active term updated")
	}

	s.logger.Info().
		Uint("praktikum_id", praktikum.ID).
		Int("enrollments", result.Enrollments).
		Int("assignments", result.Assignments).
		Int("problems", result.Problems).
		Msg("section seeded")
	return result, nil
}

func (s *seedService) findOrCreateStudent(ctx context.Context, member dto.MemberSeed) (models.Student, bool, error) {
	student, err := s.students.GetByNIM(ctx, member.NIM)
	if err == nil {
		return student, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Student{}, false, fmt.Errorf("lookup student %s: %w", member.NIM, err)
	}

	student = models.Student{NIM: member.NIM, Name: member.Name, Email: member.Email}
	if err := s.students.Create(ctx, &student); err != nil {
		return models.Student{}, false, fmt.Errorf("create student %s: %w", member.NIM, err)
	}
	return student, true, nil
}

func newSeedProblem(assignmentID uint, position int, seed dto.ProblemSeed) models.Problem {
	problem := models.Problem{
		AssignmentID: assignmentID,
		Title:        seed.Title,
		Statement:    seed.Statement,
		Position:     position,
		MaxWeight:    seed.MaxWeight,
		Weighting:    seed.Weighting,
		TestCases:    make([]models.TestCase, 0, len(seed.TestCases)),
	}
	if problem.MaxWeight <= 0 {
		problem.MaxWeight = models.DefaultProblemWeight
	}
	for i, tc := range seed.TestCases {
		problem.TestCases = append(problem.TestCases, models.TestCase{
			Position:       i + 1,
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
			Points:         tc.Points,
			IsSample:       tc.Sample,
		})
	}
	return problem
}

func normalizeSeed(seed *dto.SectionSeed) {
	seed.Name = strings.TrimSpace(seed.Name)
	seed.ClassName = strings.TrimSpace(seed.ClassName)
	seed.Semester = strings.ToLower(strings.TrimSpace(seed.Semester))
	for i := range seed.Members {
		member := &seed.Members[i]
		member.NIM = strings.TrimSpace(member.NIM)
		member.Name = strings.TrimSpace(member.Name)
		member.Email = strings.ToLower(strings.TrimSpace(member.Email))
		member.Role = strings.ToLower(strings.TrimSpace(member.Role))
		if member.Role == "" {
			member.Role = models.RolePeserta
		}
	}
	for i := range seed.Assignments {
		for j := range seed.Assignments[i].Problems {
			problem := &seed.Assignments[i].Problems[j]
			problem.Weighting = strings.ToLower(strings.TrimSpace(problem.Weighting))
			if problem.Weighting == "" {
				problem.Weighting = models.WeightingUniform
			}
		}
	}
}
