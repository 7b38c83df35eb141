package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes one bulk upsert target.
type UpsertConfig struct {
	Table        string   // optionally schema-qualified
	Columns      []string // columns present in the incoming rows
	ConflictKeys []string // unique constraint columns
	UpdateCols   []string // rewritten on conflict; nil means every non-key column
}

func (c UpsertConfig) validate() error {
	if len(c.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(c.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

// tempName derives a session-local staging table name from the target.
func (c UpsertConfig) tempName() string {
	return "_tmp_upsert_" + strings.ReplaceAll(c.Table, ".", "_")
}

// updateTargets resolves which columns the ON CONFLICT branch rewrites.
func (c UpsertConfig) updateTargets() []string {
	if c.UpdateCols != nil {
		return c.UpdateCols
	}
	keys := make(map[string]bool, len(c.ConflictKeys))
	for _, k := range c.ConflictKeys {
		keys[k] = true
	}
	var out []string
	for _, col := range c.Columns {
		if !keys[col] {
			out = append(out, col)
		}
	}
	return out
}

// mergeSQL builds the INSERT ... ON CONFLICT statement pulling from the
// staging table.
func (c UpsertConfig) mergeSQL(temp string) string {
	cols := quoteList(c.Columns)
	sets := make([]string, 0, len(c.Columns))
	for _, col := range c.updateTargets() {
		q := pgx.Identifier{col}.Sanitize()
		sets = append(sets, q+" = EXCLUDED."+q)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		qualifyTable(c.Table), cols, cols,
		pgx.Identifier{temp}.Sanitize(),
		quoteList(c.ConflictKeys),
		strings.Join(sets, ", "),
	)
}

// BulkUpsert stages rows in a temp table with COPY, then merges them into
// the target with INSERT ... ON CONFLICT DO UPDATE. The whole exchange runs
// in one transaction and the temp table drops itself on commit. Returns the
// number of rows the merge touched.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	temp := cfg.tempName()
	create := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{temp}.Sanitize(), qualifyTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{temp}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}

	tag, err := tx.Exec(ctx, cfg.mergeSQL(temp))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

// qualifyTable quotes a possibly schema-qualified table name.
func qualifyTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteList quotes column names and joins them comma separated.
func quoteList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(out, ", ")
}
