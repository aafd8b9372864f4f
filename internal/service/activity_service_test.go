package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-praktikum-api/internal/dto"
	"github.com/noah-isme/gema-praktikum-api/internal/middleware"
	"github.com/noah-isme/gema-praktikum-api/internal/models"
	"github.com/noah-isme/gema-praktikum-api/internal/repository"
)

type memoryActivityRepo struct {
	entries []models.ActivityLog
	filter  repository.ActivityLogFilter
}

func (m *memoryActivityRepo) Create(ctx context.Context, entry *models.ActivityLog) error {
	entry.ID = uint(len(m.entries) + 1)
	entry.CreatedAt = time.Now()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memoryActivityRepo) List(ctx context.Context, filter repository.ActivityLogFilter) ([]models.ActivityLog, int64, error) {
	m.filter = filter
	return append([]models.ActivityLog(nil), m.entries...), int64(len(m.entries)), nil
}

func TestActivityServiceRecordMasksSensitiveMetadata(t *testing.T) {
	repo := &memoryActivityRepo{}
	validate := validator.New(validator.WithRequiredStructEnabled())
	svc := NewActivityService(repo, validate, testLogger())

	entry, err := svc.Record(context.Background(), ActivityEntry{
		ActorID:    1,
		ActorRole:  "Asisten",
		Action:     "Submission.Score_Overridden",
		EntityType: "submission",
		EntityID:   ptrUint(5),
		Metadata: map[string]interface{}{
			"email":  "ani@kampus.ac.id",
			"source": "print(1)",
			"score":  80,
		},
	})
	require.NoError(t, err)
	require.Equal(t, "***", entry.Metadata["email"])
	require.Equal(t, "***", entry.Metadata["source"])
	require.Equal(t, 80, entry.Metadata["score"])
	require.Equal(t, "asisten", entry.ActorRole)
	require.Equal(t, "submission.score_overridden", entry.Action)
}

func TestActivityServiceRecordDefaultsToSystemActor(t *testing.T) {
	repo := &memoryActivityRepo{}
	svc := NewActivityService(repo, validator.New(), testLogger())

	entry, err := svc.Record(context.Background(), ActivityEntry{Action: "submission.expired", EntityType: "submission"})
	require.NoError(t, err)
	require.Equal(t, ActorRoleSystem, entry.ActorRole)

	_, err = svc.Record(context.Background(), ActivityEntry{EntityType: "submission"})
	require.Error(t, err)
}

func TestActivityServiceListPaginates(t *testing.T) {
	repo := &memoryActivityRepo{}
	svc := NewActivityService(repo, validator.New(), testLogger())
	for i := 0; i < 3; i++ {
		_, err := svc.Record(context.Background(), ActivityEntry{Action: "submission.created", EntityType: "submission"})
		require.NoError(t, err)
	}

	list, err := svc.List(context.Background(), dto.ActivityListRequest{Page: 1, PageSize: 2, ActorID: 7, Action: " Submission.Created "})
	require.NoError(t, err)
	require.Len(t, list.Items, 3)
	require.Equal(t, 2, list.Pagination.TotalPages)
	require.Equal(t, "submission.created", repo.filter.Action)
	require.NotNil(t, repo.filter.ActorID)

	_, err = svc.List(context.Background(), dto.ActivityListRequest{PageSize: 500})
	require.Error(t, err)
}

func TestActivityServiceRecordsCorrelationAndFiltersEntity(t *testing.T) {
	repo := &memoryActivityRepo{}
	svc := NewActivityService(repo, validator.New(), testLogger())

	ctx := middleware.ContextWithCorrelation(context.Background(), "req-42")
	entry, err := svc.Record(ctx, ActivityEntry{Action: "submission.created", EntityType: "submission", EntityID: ptrUint(9)})
	require.NoError(t, err)
	require.Equal(t, "req-42", entry.Metadata["correlation_id"])

	since := time.Date(2026, 2, 1, 7, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	_, err = svc.List(context.Background(), dto.ActivityListRequest{EntityType: "submission", EntityID: 9, Since: since.Format(time.RFC3339)})
	require.NoError(t, err)
	require.NotNil(t, repo.filter.EntityID)
	require.Equal(t, uint(9), *repo.filter.EntityID)
	require.NotNil(t, repo.filter.Since)
	require.Equal(t, time.UTC, repo.filter.Since.Location())
	require.True(t, since.Equal(*repo.filter.Since))
}

func TestActorIsGrader(t *testing.T) {
	require.True(t, Actor{Role: "ADMIN"}.IsGrader())
	require.True(t, Actor{Role: "asisten"}.IsGrader())
	require.False(t, Actor{Role: "student"}.IsGrader())
	require.False(t, Actor{}.IsGrader())
}

func ptrUint(v uint) *uint {
	return &v
}
