package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-praktikum-api/internal/dto"
	"github.com/noah-isme/gema-praktikum-api/internal/models"
	"github.com/noah-isme/gema-praktikum-api/pkg/judge"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func setupServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Student{},
		&models.Praktikum{},
		&models.Enrollment{},
		&models.Setting{},
		&models.Assignment{},
		&models.Problem{},
		&models.TestCase{},
		&models.Submission{},
		&models.TestCaseResult{},
		&models.ScoreOverride{},
		&models.ActivityLog{},
	))
	return db
}

type sectionFixture struct {
	Praktikum  models.Praktikum
	Assignment models.Assignment
	Problem    models.Problem
	Student    models.Student
	Assistant  models.Student
}

func seedSection(t *testing.T, db *gorm.DB, due time.Time, maxAttempts int) sectionFixture {
	t.Helper()
	praktikum := models.Praktikum{Name: "Algoritma", ClassName: "A", Semester: models.SemesterGanjil, Year: 2025}
	require.NoError(t, db.Create(&praktikum).Error)

	assignment := models.Assignment{PraktikumID: praktikum.ID, Title: "Tugas 1", Position: 1, DueDate: due, MaxAttempts: maxAttempts}
	require.NoError(t, db.Create(&assignment).Error)

	problem := models.Problem{
		AssignmentID: assignment.ID,
		Title:        "Penjumlahan",
		Position:     1,
		MaxWeight:    100,
		Weighting:    models.WeightingUniform,
		TestCases: []models.TestCase{
			{Position: 1, Input: "1 2", ExpectedOutput: "3", IsSample: true},
			{Position: 2, Input: "2 2", ExpectedOutput: "4"},
		},
	}
	require.NoError(t, db.Create(&problem).Error)

	student := models.Student{NIM: "2201001", Name: "Ani", Email: "ani@kampus.ac.id"}
	require.NoError(t, db.Create(&student).Error)
	assistant := models.Student{NIM: "2001007", Name: "Budi", Email: "budi@kampus.ac.id"}
	require.NoError(t, db.Create(&assistant).Error)

	require.NoError(t, db.Create(&models.Enrollment{PraktikumID: praktikum.ID, StudentID: student.ID, Role: models.RolePeserta}).Error)
	require.NoError(t, db.Create(&models.Enrollment{PraktikumID: praktikum.ID, StudentID: assistant.ID, Role: models.RoleAsisten}).Error)

	return sectionFixture{Praktikum: praktikum, Assignment: assignment, Problem: problem, Student: student, Assistant: assistant}
}

type fakeDispatcher struct {
	mu  sync.Mutex
	ids []uint
	err error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, submissionID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.ids = append(f.ids, submissionID)
	return nil
}

func (f *fakeDispatcher) dispatched() []uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint(nil), f.ids...)
}

type fakeEngine struct {
	mu        sync.Mutex
	responses []judge.Response
	errs      []error
	calls     int
	requests  []judge.Request
}

func (f *fakeEngine) Judge(ctx context.Context, req judge.Request) (judge.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	f.requests = append(f.requests, req)
	if idx < len(f.errs) && f.errs[idx] != nil {
		return judge.Response{}, f.errs[idx]
	}
	if idx < len(f.responses) {
		return f.responses[idx], nil
	}
	if len(f.responses) > 0 {
		return f.responses[len(f.responses)-1], nil
	}
	return judge.Response{}, fmt.Errorf("%w: no scripted response", judge.ErrTransport)
}

type recordingActivity struct {
	mu      sync.Mutex
	actions []string
}

func (r *recordingActivity) Record(ctx context.Context, entry ActivityEntry) (dto.ActivityResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, entry.Action)
	return dto.ActivityResponse{Action: entry.Action}, nil
}

func (r *recordingActivity) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.actions...)
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls map[uint]int
}

func (c *countingInvalidator) Invalidate(ctx context.Context, praktikumID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[uint]int)
	}
	c.calls[praktikumID]++
	return nil
}

func (c *countingInvalidator) count(praktikumID uint) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[praktikumID]
}
