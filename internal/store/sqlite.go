package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/deadonfilm/enrichment-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It serves lightweight
// local setups where actors are added one at a time; the bulk IMDb ingest is
// Postgres only.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS dead_actors (
	person_id  INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	birth_year INTEGER NOT NULL DEFAULT 0,
	death_year INTEGER NOT NULL DEFAULT 0,
	popularity REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_dead_actors_name ON dead_actors(name);
CREATE INDEX IF NOT EXISTS idx_dead_actors_popularity ON dead_actors(popularity DESC);

CREATE TABLE IF NOT EXISTS movies (
	title_id   INTEGER PRIMARY KEY,
	title      TEXT NOT NULL,
	start_year INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_movies_title ON movies(title);

CREATE TABLE IF NOT EXISTS movie_cast (
	title_id   INTEGER NOT NULL,
	person_id  INTEGER NOT NULL,
	ordering   INTEGER NOT NULL DEFAULT 0,
	category   TEXT NOT NULL DEFAULT '',
	characters TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (title_id, person_id, ordering)
);

CREATE INDEX IF NOT EXISTS idx_movie_cast_person ON movie_cast(person_id);

CREATE TABLE IF NOT EXISTS death_records (
	person_id     INTEGER PRIMARY KEY,
	details       TEXT NOT NULL,
	field_sources TEXT NOT NULL DEFAULT '{}',
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	actor      TEXT NOT NULL,
	batch_id   TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'queued',
	result     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_batch ON runs(batch_id);

CREATE TABLE IF NOT EXISTS checkpoints (
	batch_id   TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertActor(ctx context.Context, a model.Actor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_actors (person_id, name, birth_year, death_year, popularity)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (person_id) DO UPDATE SET
		   name = excluded.name, birth_year = excluded.birth_year,
		   death_year = excluded.death_year, popularity = excluded.popularity`,
		a.PersonID, a.Name, a.BirthYear, a.DeathYear, a.Popularity,
	)
	return eris.Wrapf(err, "sqlite: upsert actor %d", a.PersonID)
}

func (s *SQLiteStore) GetActor(ctx context.Context, personID int64) (*model.Actor, error) {
	var a model.Actor
	err := s.db.QueryRowContext(ctx,
		`SELECT person_id, name, birth_year, death_year, popularity FROM dead_actors WHERE person_id = ?`,
		personID,
	).Scan(&a.PersonID, &a.Name, &a.BirthYear, &a.DeathYear, &a.Popularity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get actor %d", personID)
	}
	return &a, nil
}

func (s *SQLiteStore) ListDeadActors(ctx context.Context, filter ActorFilter) ([]model.Actor, error) {
	query := `SELECT a.person_id, a.name, a.birth_year, a.death_year, a.popularity FROM dead_actors a`
	var args []any

	if filter.OnlyUnenriched {
		query += ` LEFT JOIN death_records r ON r.person_id = a.person_id`
	}
	query += ` WHERE 1=1`
	if filter.OnlyUnenriched {
		query += ` AND r.person_id IS NULL`
	}
	if filter.Name != "" {
		query += ` AND a.name LIKE '%' || ? || '%'`
		args = append(args, filter.Name)
	}
	query += ` ORDER BY a.popularity DESC, a.person_id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dead actors")
	}
	defer rows.Close()

	var actors []model.Actor
	for rows.Next() {
		var a model.Actor
		if err := rows.Scan(&a.PersonID, &a.Name, &a.BirthYear, &a.DeathYear, &a.Popularity); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan actor")
		}
		actors = append(actors, a)
	}
	return actors, eris.Wrap(rows.Err(), "sqlite: list dead actors iterate")
}

func (s *SQLiteStore) CountDeadActors(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_actors`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dead actors")
}

func (s *SQLiteStore) SaveDeathRecord(ctx context.Context, rec *model.DeathRecord) error {
	detailsJSON, err := json.Marshal(rec.Details)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal details")
	}
	sourcesJSON, err := json.Marshal(rec.FieldSources)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal field sources")
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO death_records (person_id, details, field_sources, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (person_id) DO UPDATE SET
		   details = excluded.details, field_sources = excluded.field_sources,
		   updated_at = excluded.updated_at`,
		rec.PersonID, string(detailsJSON), string(sourcesJSON), updatedAt,
	)
	return eris.Wrapf(err, "sqlite: save death record %d", rec.PersonID)
}

func (s *SQLiteStore) GetDeathRecord(ctx context.Context, personID int64) (*model.DeathRecord, error) {
	var rec model.DeathRecord
	var detailsJSON, sourcesJSON string

	err := s.db.QueryRowContext(ctx,
		`SELECT person_id, details, field_sources, updated_at FROM death_records WHERE person_id = ?`,
		personID,
	).Scan(&rec.PersonID, &detailsJSON, &sourcesJSON, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get death record %d", personID)
	}

	if err := json.Unmarshal([]byte(detailsJSON), &rec.Details); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal details")
	}
	rec.FieldSources = make(map[model.FieldKey]model.SourceEntry)
	if err := json.Unmarshal([]byte(sourcesJSON), &rec.FieldSources); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal field sources")
	}
	return &rec, nil
}

func (s *SQLiteStore) CountDeathRecords(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM death_records`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count death records")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, actor model.Actor, batchID string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	actorJSON, err := json.Marshal(actor)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal actor")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, actor, batch_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(actorJSON), batchID, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Actor:     actor,
		BatchID:   batchID,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	status := model.RunStatusComplete
	if result != nil && result.Error != "" {
		status = model.RunStatusFailed
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, actor, batch_id, status, result, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row, runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, actor, batch_id, status, result, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.BatchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, filter.BatchID)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows, "")
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SearchMovies(ctx context.Context, query string, limit int) ([]model.Movie, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT title_id, title, start_year FROM movies
		 WHERE title LIKE '%' || ? || '%'
		 ORDER BY start_year DESC, title_id
		 LIMIT ?`,
		query, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search movies")
	}
	defer rows.Close()

	var movies []model.Movie
	for rows.Next() {
		var m model.Movie
		if err := rows.Scan(&m.TitleID, &m.Title, &m.StartYear); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan movie")
		}
		movies = append(movies, m)
	}
	return movies, eris.Wrap(rows.Err(), "sqlite: search movies iterate")
}

func (s *SQLiteStore) DeadCast(ctx context.Context, titleID int64) ([]model.DeadCastMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.person_id, a.name, a.birth_year, a.death_year, c.characters, c.ordering
		 FROM movie_cast c
		 JOIN dead_actors a ON a.person_id = c.person_id
		 WHERE c.title_id = ?
		 ORDER BY c.ordering, a.person_id`,
		titleID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: dead cast %d", titleID)
	}
	defer rows.Close()

	var cast []model.DeadCastMember
	for rows.Next() {
		var m model.DeadCastMember
		if err := rows.Scan(&m.PersonID, &m.Name, &m.BirthYear, &m.DeathYear, &m.Characters, &m.Ordering); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cast member")
		}
		cast = append(cast, m)
	}
	return cast, eris.Wrap(rows.Err(), "sqlite: dead cast iterate")
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal checkpoint")
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (batch_id, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (batch_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		cp.BatchID, string(data), now, now,
	)
	return eris.Wrapf(err, "sqlite: save checkpoint %s", cp.BatchID)
}

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, batchID string) (*model.Checkpoint, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM checkpoints WHERE batch_id = ?`,
		batchID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load checkpoint %s", batchID)
	}

	var cp model.Checkpoint
	if err := json.Unmarshal([]byte(data), &cp); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal checkpoint")
	}
	return &cp, nil
}

func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, batchID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE batch_id = ?`,
		batchID,
	)
	return eris.Wrapf(err, "sqlite: delete checkpoint %s", batchID)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable, runID string) (*model.Run, error) {
	var r model.Run
	var actorJSON string
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &actorJSON, &r.BatchID, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(actorJSON), &r.Actor); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal actor")
	}
	if resultJSON.Valid {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	return &r, nil
}
