package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "dead_actors",
		Columns:      []string{"person_id", "name"},
		ConflictKeys: []string{"person_id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "dead_actors",
		ConflictKeys: []string{"person_id"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "dead_actors",
		Columns: []string{"person_id", "name"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_dead_actors"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_dead_actors"}, []string{"person_id", "name", "death_year"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "dead_actors"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	rows := [][]any{
		{int64(1), "Bela Lugosi", 1956},
		{int64(2), "Boris Karloff", 1969},
	}
	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "dead_actors",
		Columns:      []string{"person_id", "name", "death_year"},
		ConflictKeys: []string{"person_id"},
	}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertConfig_TempName(t *testing.T) {
	assert.Equal(t, "_tmp_upsert_dead_actors", UpsertConfig{Table: "dead_actors"}.tempName())
	assert.Equal(t, "_tmp_upsert_public_dead_actors", UpsertConfig{Table: "public.dead_actors"}.tempName())
}

func TestUpsertConfig_UpdateTargets(t *testing.T) {
	cfg := UpsertConfig{
		Columns:      []string{"person_id", "name", "death_year"},
		ConflictKeys: []string{"person_id"},
	}
	assert.Equal(t, []string{"name", "death_year"}, cfg.updateTargets())

	cfg.UpdateCols = []string{"death_year"}
	assert.Equal(t, []string{"death_year"}, cfg.updateTargets())
}

func TestUpsertConfig_MergeSQL(t *testing.T) {
	cfg := UpsertConfig{
		Table:        "dead_actors",
		Columns:      []string{"person_id", "name"},
		ConflictKeys: []string{"person_id"},
	}
	got := cfg.mergeSQL(cfg.tempName())
	want := `INSERT INTO "dead_actors" ("person_id", "name") ` +
		`SELECT "person_id", "name" FROM "_tmp_upsert_dead_actors" ` +
		`ON CONFLICT ("person_id") DO UPDATE SET "name" = EXCLUDED."name"`
	assert.Equal(t, want, got)
}

func TestQualifyTable(t *testing.T) {
	assert.Equal(t, `"simple"`, qualifyTable("simple"))
	assert.Equal(t, `"public"."dead_actors"`, qualifyTable("public.dead_actors"))
}

func TestQuoteList(t *testing.T) {
	assert.Equal(t, `"person_id", "name", "death_year"`, quoteList([]string{"person_id", "name", "death_year"}))
}
