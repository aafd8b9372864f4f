package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-praktikum-api/internal/dto"
	"github.com/noah-isme/gema-praktikum-api/internal/grading"
	"github.com/noah-isme/gema-praktikum-api/internal/models"
	"github.com/noah-isme/gema-praktikum-api/internal/observability"
	"github.com/noah-isme/gema-praktikum-api/internal/repository"
)

const termOverviewConcurrency = 4

var (
	// ErrPraktikumNotFound indicates the section does not exist.
	ErrPraktikumNotFound = errors.New("praktikum not found")
	// ErrAssignmentNotFound indicates the assignment is not part of the section.
	ErrAssignmentNotFound = errors.New("assignment not found in praktikum")
	// ErrNotParticipant indicates the student is enrolled but not graded (assistant).
	ErrNotParticipant = errors.New("student is not a graded participant")
)

// RecapService computes grade recaps for sections, assignments, students and terms.
type RecapService interface {
	RecapInvalidator
	ClassRecap(ctx context.Context, praktikumID uint) (grading.ClassRecap, error)
	AssignmentRecap(ctx context.Context, praktikumID, assignmentID uint) (dto.AssignmentRecapResponse, error)
	StudentRecap(ctx context.Context, praktikumID, studentID uint) (dto.StudentRecapResponse, error)
	TermOverview(ctx context.Context, term models.Term) (dto.TermOverviewResponse, error)
}

type recapService struct {
	praktikums  repository.PraktikumRepository
	submissions repository.SubmissionRepository
	cache       *redis.Client
	cacheTTL    time.Duration
	options     grading.Options
	logger      zerolog.Logger
	tracer      trace.Tracer
	// loaded runs after the section data is read and before the recap is cached.
	loaded func(praktikumID uint)
}

// NewRecapService builds the recap aggregator. cache may be nil.
func NewRecapService(praktikums repository.PraktikumRepository, submissions repository.SubmissionRepository, cache *redis.Client, ttl time.Duration, options grading.Options, logger zerolog.Logger) RecapService {
	return &recapService{
		praktikums:  praktikums,
		submissions: submissions,
		cache:       cache,
		cacheTTL:    ttl,
		options:     options,
		logger:      logger.With().Str("component", "recap_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-praktikum-api/internal/service/recap"),
	}
}

// Cached recaps are keyed by a per-section version. Invalidate bumps the version, so a
// recap computed from data loaded before the bump lands under a key nobody reads anymore.
func classRecapKey(praktikumID uint, version int64) string {
	return fmt.Sprintf("recap:praktikum:%d:v%d", praktikumID, version)
}

func classRecapVersionKey(praktikumID uint) string {
	return fmt.Sprintf("recap:praktikum:%d:version", praktikumID)
}

// recapVersion returns the current cache version; ok is false when the cache is unusable.
func (s *recapService) recapVersion(ctx context.Context, praktikumID uint) (int64, bool) {
	if s.cache == nil {
		return 0, false
	}
	version, err := s.cache.Get(ctx, classRecapVersionKey(praktikumID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read class recap cache version")
		return 0, false
	}
	return version, true
}

func (s *recapService) ClassRecap(ctx context.Context, praktikumID uint) (grading.ClassRecap, error) {
	version, cacheable := s.recapVersion(ctx, praktikumID)
	cacheKey := classRecapKey(praktikumID, version)

	if cacheable {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var recap grading.ClassRecap
			if unmarshalErr := json.Unmarshal([]byte(cached), &recap); unmarshalErr == nil {
				observability.RecapCache().WithLabelValues("hit").Inc()
				s.logger.Debug().Uint("praktikum_id", praktikumID).Msg("class recap cache hit")
				return recap, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read class recap cache")
		}
		observability.RecapCache().WithLabelValues("miss").Inc()
	}

	ctx, span := s.tracer.Start(ctx, "recap.class", trace.WithAttributes(
		attribute.Int64("recap.praktikum_id", int64(praktikumID)),
	))
	defer span.End()
	start := time.Now()

	section, participants, _, err := s.load(ctx, praktikumID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recap_load_failed")
		return grading.ClassRecap{}, err
	}
	if s.loaded != nil {
		s.loaded(praktikumID)
	}

	recap := grading.BuildClassRecap(section, participants, s.options)
	for _, anomaly := range recap.Anomalies {
		s.logger.Warn().
			Uint("praktikum_id", praktikumID).
			Uint("student_id", anomaly.StudentID).
			Str("reason", anomaly.Reason).
			Msg("participant excluded from recap")
	}
	observability.RecapBuild().WithLabelValues("class").Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("recap.participants", recap.ParticipantCount),
		attribute.Int("recap.class_average", recap.ClassAverage),
	)

	if cacheable {
		payload, err := json.Marshal(recap)
		if err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store class recap cache")
			}
		}
	}

	return recap, nil
}

func (s *recapService) AssignmentRecap(ctx context.Context, praktikumID, assignmentID uint) (dto.AssignmentRecapResponse, error) {
	ctx, span := s.tracer.Start(ctx, "recap.assignment", trace.WithAttributes(
		attribute.Int64("recap.praktikum_id", int64(praktikumID)),
		attribute.Int64("recap.assignment_id", int64(assignmentID)),
	))
	defer span.End()
	start := time.Now()

	section, participants, _, err := s.load(ctx, praktikumID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recap_load_failed")
		return dto.AssignmentRecapResponse{}, err
	}

	var assignment *grading.AssignmentSpec
	for i := range section.Assignments {
		if section.Assignments[i].ID == assignmentID {
			assignment = &section.Assignments[i]
			break
		}
	}
	if assignment == nil {
		span.SetStatus(codes.Error, "assignment_not_found")
		return dto.AssignmentRecapResponse{}, ErrAssignmentNotFound
	}

	problems := make(map[uint]struct{}, len(assignment.Problems))
	for _, problem := range assignment.Problems {
		problems[problem.ID] = struct{}{}
	}

	response := dto.AssignmentRecapResponse{
		PraktikumID:   praktikumID,
		AssignmentID:  assignment.ID,
		Title:         assignment.Title,
		DueDate:       assignment.DueDate,
		TotalProblems: len(assignment.Problems),
		Rows:          make([]dto.AssignmentRecapRow, 0, len(participants)),
	}

	percentSum, available := 0, 0
	for _, participant := range participants {
		if !models.IsParticipantRole(participant.Role) {
			continue
		}

		records := make([]grading.SubmissionRecord, 0)
		for _, record := range participant.Submissions {
			if _, ok := problems[record.ProblemID]; ok {
				records = append(records, record)
			}
		}

		row := dto.AssignmentRecapRow{StudentID: participant.StudentID, NIM: participant.NIM, Name: participant.Name}
		grade, err := grading.AggregateAssignment(*assignment, records, s.options)
		if err != nil {
			s.logger.Warn().Err(err).Uint("student_id", participant.StudentID).Uint("assignment_id", assignmentID).Msg("participant excluded from assignment recap")
			row.Error = "n/a"
		} else {
			row.Available = true
			row.Grade = &grade
			percentSum += grade.Percent
			available++
		}
		response.Rows = append(response.Rows, row)
	}
	if available > 0 {
		response.AveragePercent = int(math.Round(float64(percentSum) / float64(available)))
	}

	observability.RecapBuild().WithLabelValues("assignment").Observe(time.Since(start).Seconds())
	return response, nil
}

func (s *recapService) StudentRecap(ctx context.Context, praktikumID, studentID uint) (dto.StudentRecapResponse, error) {
	enrollment, err := s.praktikums.GetEnrollment(ctx, praktikumID, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.StudentRecapResponse{}, ErrNotEnrolled
		}
		return dto.StudentRecapResponse{}, err
	}
	if !enrollment.IsParticipant() {
		return dto.StudentRecapResponse{}, ErrNotParticipant
	}

	recap, err := s.ClassRecap(ctx, praktikumID)
	if err != nil {
		return dto.StudentRecapResponse{}, err
	}

	for _, row := range recap.Participants {
		if row.StudentID == studentID {
			return dto.StudentRecapResponse{PraktikumID: praktikumID, Role: enrollment.Role, Recap: row}, nil
		}
	}

	// enrolled after the cached recap was built
	if err := s.Invalidate(ctx, praktikumID); err != nil {
		s.logger.Warn().Err(err).Msg("failed to invalidate stale class recap")
	}
	recap, err = s.ClassRecap(ctx, praktikumID)
	if err != nil {
		return dto.StudentRecapResponse{}, err
	}
	for _, row := range recap.Participants {
		if row.StudentID == studentID {
			return dto.StudentRecapResponse{PraktikumID: praktikumID, Role: enrollment.Role, Recap: row}, nil
		}
	}
	return dto.StudentRecapResponse{}, ErrNotEnrolled
}

// TermOverview computes the class average of every section in the term. A section that
// cannot be computed is reported with an error marker instead of failing the overview.
func (s *recapService) TermOverview(ctx context.Context, term models.Term) (dto.TermOverviewResponse, error) {
	ctx, span := s.tracer.Start(ctx, "recap.term", trace.WithAttributes(
		attribute.String("recap.term", term.String()),
	))
	defer span.End()

	sections, err := s.praktikums.ListByTerm(ctx, term)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "section_lookup_failed")
		return dto.TermOverviewResponse{}, err
	}

	overview := make([]dto.SectionOverview, len(sections))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(termOverviewConcurrency)

	for i, section := range sections {
		overview[i] = dto.SectionOverview{
			PraktikumID: section.ID,
			Name:        section.Name,
			ClassName:   section.ClassName,
		}
		group.Go(func() error {
			recap, err := s.ClassRecap(groupCtx, section.ID)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				s.logger.Warn().Err(err).Uint("praktikum_id", section.ID).Msg("section excluded from term overview")
				overview[i].Error = "n/a"
				return nil
			}
			overview[i].ClassAverage = recap.ClassAverage
			overview[i].ParticipantCount = recap.ParticipantCount
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "term_overview_cancelled")
		return dto.TermOverviewResponse{}, err
	}

	return dto.TermOverviewResponse{Term: term.String(), Sections: overview}, nil
}

func (s *recapService) Invalidate(ctx context.Context, praktikumID uint) error {
	if s.cache == nil {
		return nil
	}
	version, err := s.cache.Incr(ctx, classRecapVersionKey(praktikumID)).Result()
	if err != nil {
		return err
	}
	return s.cache.Del(ctx, classRecapKey(praktikumID, version-1)).Err()
}

// load maps the stored section, enrollments and submissions into grading inputs.
func (s *recapService) load(ctx context.Context, praktikumID uint) (grading.SectionSpec, []grading.ParticipantRecord, models.Praktikum, error) {
	praktikum, err := s.praktikums.GetWithCurriculum(ctx, praktikumID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return grading.SectionSpec{}, nil, models.Praktikum{}, ErrPraktikumNotFound
		}
		return grading.SectionSpec{}, nil, models.Praktikum{}, err
	}

	section := grading.SectionSpec{
		ID:          praktikum.ID,
		Name:        praktikum.Name,
		Assignments: make([]grading.AssignmentSpec, 0, len(praktikum.Assignments)),
	}
	problemIDs := make([]uint, 0)
	for _, assignment := range praktikum.Assignments {
		spec := grading.AssignmentSpec{
			ID:          assignment.ID,
			Title:       assignment.Title,
			Position:    assignment.Position,
			DueDate:     assignment.DueDate,
			MaxAttempts: assignment.MaxAttempts,
			Problems:    make([]grading.ProblemSpec, 0, len(assignment.Problems)),
		}
		for _, problem := range assignment.Problems {
			spec.Problems = append(spec.Problems, grading.ProblemSpec{
				ID:        problem.ID,
				Title:     problem.Title,
				Position:  problem.Position,
				MaxWeight: problem.EffectiveWeight(),
			})
			problemIDs = append(problemIDs, problem.ID)
		}
		section.Assignments = append(section.Assignments, spec)
	}

	enrollments, err := s.praktikums.ListEnrollments(ctx, praktikumID)
	if err != nil {
		return grading.SectionSpec{}, nil, models.Praktikum{}, err
	}

	participants := make([]grading.ParticipantRecord, 0, len(enrollments))
	index := make(map[uint]int, len(enrollments))
	studentIDs := make([]uint, 0, len(enrollments))
	for _, enrollment := range enrollments {
		index[enrollment.StudentID] = len(participants)
		studentIDs = append(studentIDs, enrollment.StudentID)
		participants = append(participants, grading.ParticipantRecord{
			StudentID: enrollment.StudentID,
			NIM:       enrollment.Student.NIM,
			Name:      enrollment.Student.Name,
			Role:      enrollment.Role,
		})
	}

	if len(problemIDs) == 0 || len(studentIDs) == 0 {
		return section, participants, praktikum, nil
	}

	submissions, err := s.submissions.List(ctx, repository.SubmissionFilter{ProblemIDs: problemIDs, StudentIDs: studentIDs})
	if err != nil {
		return grading.SectionSpec{}, nil, models.Praktikum{}, err
	}
	for _, submission := range submissions {
		idx, ok := index[submission.StudentID]
		if !ok {
			continue
		}
		participants[idx].Submissions = append(participants[idx].Submissions, grading.SubmissionRecord{
			ID:          submission.ID,
			ProblemID:   submission.ProblemID,
			Score:       submission.EffectiveScore(),
			Status:      submission.Status,
			SubmittedAt: submission.SubmittedAt,
		})
	}

	return section, participants, praktikum, nil
}
