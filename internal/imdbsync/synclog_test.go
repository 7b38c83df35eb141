package imdbsync

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncLog_StartCompleteFail(t *testing.T) {
	mock, sl := newMockSyncLog(t)

	mock.ExpectQuery("INSERT INTO sync_log").
		WithArgs("namebasics").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec("UPDATE sync_log").
		WithArgs(int64(120), `"etag-1"`, int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE sync_log").
		WithArgs("boom", int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	id, err := sl.Start(context.Background(), "namebasics")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	assert.NoError(t, sl.Complete(context.Background(), id, &SyncResult{RowsSynced: 120}, `"etag-1"`))
	assert.NoError(t, sl.Fail(context.Background(), id, "boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncLog_LastETag(t *testing.T) {
	mock, sl := newMockSyncLog(t)

	etag := `"abc"`
	mock.ExpectQuery("SELECT etag FROM sync_log").
		WithArgs("namebasics").
		WillReturnRows(pgxmock.NewRows([]string{"etag"}).AddRow(&etag))

	got, err := sl.LastETag(context.Background(), "namebasics")
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncLog_LastETag_NeverSynced(t *testing.T) {
	mock, sl := newMockSyncLog(t)

	mock.ExpectQuery("SELECT etag FROM sync_log").
		WithArgs("principals").
		WillReturnError(pgx.ErrNoRows)

	got, err := sl.LastETag(context.Background(), "principals")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSyncLog_LastETag_NullColumn(t *testing.T) {
	mock, sl := newMockSyncLog(t)

	mock.ExpectQuery("SELECT etag FROM sync_log").
		WithArgs("titlebasics").
		WillReturnRows(pgxmock.NewRows([]string{"etag"}).AddRow(nil))

	got, err := sl.LastETag(context.Background(), "titlebasics")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSyncLog_LastSuccess(t *testing.T) {
	mock, sl := newMockSyncLog(t)

	when := time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT started_at FROM sync_log").
		WithArgs("namebasics").
		WillReturnRows(pgxmock.NewRows([]string{"started_at"}).AddRow(when))

	got, err := sl.LastSuccess(context.Background(), "namebasics")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, when, *got)
}

func TestSyncLog_LastSuccess_NeverSynced(t *testing.T) {
	mock, sl := newMockSyncLog(t)

	mock.ExpectQuery("SELECT started_at FROM sync_log").
		WithArgs("principals").
		WillReturnError(pgx.ErrNoRows)

	got, err := sl.LastSuccess(context.Background(), "principals")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSyncLog_ListAll(t *testing.T) {
	mock, sl := newMockSyncLog(t)

	started := time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)
	completed := started.Add(10 * time.Minute)
	errMsg := "stream rows: unexpected EOF"
	etag := `"abc"`

	rows := pgxmock.NewRows([]string{"id", "dataset", "status", "started_at", "completed_at", "rows_synced", "error", "etag"}).
		AddRow(int64(2), "titlebasics", "failed", started, &completed, int64(0), &errMsg, nil).
		AddRow(int64(1), "namebasics", "complete", started, &completed, int64(640000), nil, &etag)

	mock.ExpectQuery("FROM sync_log ORDER BY started_at DESC").WillReturnRows(rows)

	entries, err := sl.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "titlebasics", entries[0].Dataset)
	assert.Equal(t, "failed", entries[0].Status)
	assert.Equal(t, "stream rows: unexpected EOF", entries[0].Error)
	assert.Empty(t, entries[0].ETag)

	assert.Equal(t, "namebasics", entries[1].Dataset)
	assert.Equal(t, int64(640000), entries[1].RowsSynced)
	assert.Equal(t, `"abc"`, entries[1].ETag)
	assert.Empty(t, entries[1].Error)
}
