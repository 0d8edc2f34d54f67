package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newMockRepo(t *testing.T) (*GormRunRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return NewGormRunRepository(gdb), mock, func() { db.Close() }
}

func TestGormRunRepository_CreateRun(t *testing.T) {
	repo, mock, closeFn := newMockRepo(t)
	defer closeFn()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `profiler_runs`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	id, err := repo.CreateRun(context.Background(), "my-service")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRunRepository_UpdateCounters(t *testing.T) {
	repo, mock, closeFn := newMockRepo(t)
	defer closeFn()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `profiler_runs`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpdateCounters(context.Background(), 1, RunCounters{TasksEmitted: 4, DroppedCount: 1})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRunRepository_FinishRun(t *testing.T) {
	repo, mock, closeFn := newMockRepo(t)
	defer closeFn()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `profiler_runs`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.FinishRun(context.Background(), 1)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRunRepository_GetRun(t *testing.T) {
	repo, mock, closeFn := newMockRepo(t)
	defer closeFn()

	rows := sqlmock.NewRows([]string{"id", "source_name", "started_at"}).
		AddRow(1, "my-service", time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `profiler_runs`")).
		WillReturnRows(rows)

	run, err := repo.GetRun(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "my-service", run.SourceName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRunRepository_GetRun_NotFound(t *testing.T) {
	repo, mock, closeFn := newMockRepo(t)
	defer closeFn()

	rows := sqlmock.NewRows([]string{"id", "source_name"})
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `profiler_runs`")).
		WillReturnRows(rows)

	_, err := repo.GetRun(context.Background(), 99)
	assert.Error(t, err)
}
