package persistence

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/erp/provisioner/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var runColumns = []string{
	"id", "created_at", "updated_at", "version", "mode", "data_dir", "status",
	"steps", "kpi_summary", "error_message", "started_at", "completed_at",
}

// newMockRunRepository creates a GormRunRepository with a mocked SQL connection
func newMockRunRepository(t *testing.T) (*GormRunRepository, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return NewGormRunRepository(gormDB), mock, mockDB
}

func newTestRun(t *testing.T) *provisioning.Run {
	t.Helper()
	run, err := provisioning.NewRun(provisioning.RunModeFull, "/data")
	require.NoError(t, err)
	return run
}

func TestGormRunRepository_FindByID(t *testing.T) {
	t.Run("finds existing run", func(t *testing.T) {
		repo, mock, mockDB := newMockRunRepository(t)
		defer mockDB.Close()

		id := uuid.New()
		now := time.Now()
		kpi := `{"period_days":30}`
		rows := sqlmock.NewRows(runColumns).
			AddRow(id, now, now, 3, "full", "/data", "completed",
				`[{"name":"products","status":"succeeded","critical":true,"stats":{"products_created":2},"duration":1000,"started_at":"0001-01-01T00:00:00Z","finished_at":"0001-01-01T00:00:00Z"}]`,
				kpi, "", now, now)

		mock.ExpectQuery(`SELECT \* FROM "provisioning_runs" WHERE id = \$1 ORDER BY .* LIMIT .*`).
			WithArgs(id, 1).
			WillReturnRows(rows)

		run, err := repo.FindByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, run.ID)
		assert.Equal(t, 3, run.Version)
		assert.Equal(t, provisioning.RunStatusCompleted, run.Status)
		require.Len(t, run.Steps, 1)
		assert.Equal(t, "products", run.Steps[0].Name)
		assert.Equal(t, 2, run.Steps[0].Stats["products_created"])
		assert.JSONEq(t, kpi, string(run.KPISummary))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns ErrNotFound", func(t *testing.T) {
		repo, mock, mockDB := newMockRunRepository(t)
		defer mockDB.Close()

		id := uuid.New()
		mock.ExpectQuery(`SELECT \* FROM "provisioning_runs" WHERE id = \$1`).
			WithArgs(id, 1).
			WillReturnRows(sqlmock.NewRows(runColumns))

		run, err := repo.FindByID(context.Background(), id)
		assert.Nil(t, run)
		assert.ErrorIs(t, err, shared.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("tolerates corrupt step json", func(t *testing.T) {
		repo, mock, mockDB := newMockRunRepository(t)
		defer mockDB.Close()

		id := uuid.New()
		now := time.Now()
		mock.ExpectQuery(`SELECT \* FROM "provisioning_runs"`).
			WillReturnRows(sqlmock.NewRows(runColumns).
				AddRow(id, now, now, 1, "full", "/data", "running", "{not json", nil, "", now, nil))

		run, err := repo.FindByID(context.Background(), id)
		require.NoError(t, err)
		assert.Empty(t, run.Steps)
		assert.Nil(t, run.KPISummary)
		assert.Nil(t, run.CompletedAt)
	})
}

func TestGormRunRepository_FindRecent(t *testing.T) {
	repo, mock, mockDB := newMockRunRepository(t)
	defer mockDB.Close()

	now := time.Now()
	rows := sqlmock.NewRows(runColumns).
		AddRow(uuid.New(), now, now, 2, "full", "/data", "completed", "[]", nil, "", now, now).
		AddRow(uuid.New(), now.Add(-time.Hour), now, 2, "kpi_only", "/data", "failed", "[]", nil, "boom", now, now)

	mock.ExpectQuery(`SELECT \* FROM "provisioning_runs" ORDER BY created_at DESC LIMIT \$1`).
		WithArgs(DefaultRecentLimit).
		WillReturnRows(rows)

	runs, err := repo.FindRecent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, provisioning.RunModeKPIOnly, runs[1].Mode)
	assert.Equal(t, "boom", runs[1].ErrorMessage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRunRepository_FindByStatus(t *testing.T) {
	repo, mock, mockDB := newMockRunRepository(t)
	defer mockDB.Close()

	mock.ExpectQuery(`SELECT \* FROM "provisioning_runs" WHERE status = \$1 ORDER BY created_at DESC`).
		WithArgs("failed").
		WillReturnRows(sqlmock.NewRows(runColumns))

	runs, err := repo.FindByStatus(context.Background(), provisioning.RunStatusFailed)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRunRepository_Save_Update(t *testing.T) {
	repo, mock, mockDB := newMockRunRepository(t)
	defer mockDB.Close()

	run := newTestRun(t)
	require.NoError(t, run.Start())

	mock.ExpectExec(`UPDATE "provisioning_runs" SET .*"status"=.* WHERE "id" = .*`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Save(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// openSQLite opens a temporary sqlite store. The driver needs cgo; without it
// the test is skipped.
func openSQLite(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(DriverSQLite, filepath.Join(t.TempDir(), "audit", "runs.db"), Options{
		Logger: zaptest.NewLogger(t),
	})
	if err != nil && strings.Contains(err.Error(), "CGO_ENABLED") {
		t.Skip("sqlite driver requires cgo")
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.AutoMigrate())
	return db
}

func TestGormRunRepository_SQLiteRoundTrip(t *testing.T) {
	db := openSQLite(t)
	repo := NewGormRunRepository(db.DB)
	ctx := context.Background()

	run := newTestRun(t)
	require.NoError(t, run.Start())
	require.NoError(t, repo.Save(ctx, run))

	require.NoError(t, run.RecordStep(provisioning.StepResult{
		Name:     "products",
		Status:   provisioning.StepStatusSucceeded,
		Critical: true,
		Stats:    map[string]int{"products_created": 4},
		Duration: 2 * time.Second,
	}))
	require.NoError(t, run.RecordStep(provisioning.StepResult{
		Name:   "suppliers",
		Status: provisioning.StepStatusFailed,
		Error:  "file not readable",
	}))
	require.NoError(t, run.SetKPISummary(map[string]int{"period_days": 30}))
	require.NoError(t, run.Complete())
	require.NoError(t, repo.Save(ctx, run))

	loaded, err := repo.FindByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, provisioning.RunStatusCompletedWithErrors, loaded.Status)
	assert.Equal(t, run.Version, loaded.Version)
	require.Len(t, loaded.Steps, 2)
	assert.Equal(t, 4, loaded.Steps[0].Stats["products_created"])
	assert.Equal(t, []string{"suppliers"}, loaded.FailedSteps())
	assert.JSONEq(t, `{"period_days":30}`, string(loaded.KPISummary))
	require.NotNil(t, loaded.CompletedAt)

	byStatus, err := repo.FindByStatus(ctx, provisioning.RunStatusCompletedWithErrors)
	require.NoError(t, err)
	assert.Len(t, byStatus, 1)

	recent, err := repo.FindRecent(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestNewDatabase_Errors(t *testing.T) {
	_, err := NewDatabase("mysql", "dsn", Options{})
	assert.ErrorContains(t, err, "unsupported")

	_, err = NewDatabase(DriverPostgres, "", Options{})
	assert.ErrorContains(t, err, "empty DSN")

	_, err = NewDatabase(DriverSQLite, "", Options{})
	assert.ErrorContains(t, err, "empty database path")
}

func TestMemoryRunRepository(t *testing.T) {
	repo := NewMemoryRunRepository()
	ctx := context.Background()

	_, err := repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)

	older := newTestRun(t)
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := newTestRun(t)
	require.NoError(t, newer.Start())
	require.NoError(t, newer.Fail("no connection"))

	require.NoError(t, repo.Save(ctx, older))
	require.NoError(t, repo.Save(ctx, newer))

	got, err := repo.FindByID(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, "no connection", got.ErrorMessage)

	recent, err := repo.FindRecent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, newer.ID, recent[0].ID)

	limited, err := repo.FindRecent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	failed, err := repo.FindByStatus(ctx, provisioning.RunStatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, newer.ID, failed[0].ID)
}
