package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/deadonfilm/enrichment-cli/internal/db"
	"github.com/deadonfilm/enrichment-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations. Checkpoint
// writes dominate during batch runs: one rewrite per actor.
var preparedStatements = map[string]string{
	"get_actor":         `SELECT person_id, name, birth_year, death_year, popularity FROM dead_actors WHERE person_id = $1`,
	"get_death_record":  `SELECT person_id, details, field_sources, updated_at FROM death_records WHERE person_id = $1`,
	"save_death_record": `INSERT INTO death_records (person_id, details, field_sources, updated_at) VALUES ($1, $2, $3, $4) ON CONFLICT (person_id) DO UPDATE SET details = EXCLUDED.details, field_sources = EXCLUDED.field_sources, updated_at = EXCLUDED.updated_at`,
	"insert_run":        `INSERT INTO runs (id, actor, batch_id, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"update_run_status": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"get_run":           `SELECT id, actor, batch_id, status, result, created_at, updated_at FROM runs WHERE id = $1`,
	"save_checkpoint":   `INSERT INTO checkpoints (batch_id, data, created_at, updated_at) VALUES ($1, $2, $3, $4) ON CONFLICT (batch_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
	"load_checkpoint":   `SELECT data FROM checkpoints WHERE batch_id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (the IMDb dataset ingest and its sync log).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS dead_actors (
	person_id  BIGINT PRIMARY KEY,
	name       TEXT NOT NULL,
	birth_year INT NOT NULL DEFAULT 0,
	death_year INT NOT NULL DEFAULT 0,
	popularity REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_dead_actors_name ON dead_actors(lower(name));
CREATE INDEX IF NOT EXISTS idx_dead_actors_popularity ON dead_actors(popularity DESC);

CREATE TABLE IF NOT EXISTS movies (
	title_id   BIGINT PRIMARY KEY,
	title      TEXT NOT NULL,
	start_year INT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_movies_title ON movies(lower(title));

CREATE TABLE IF NOT EXISTS movie_cast (
	title_id   BIGINT NOT NULL,
	person_id  BIGINT NOT NULL,
	ordering   INT NOT NULL DEFAULT 0,
	category   TEXT NOT NULL DEFAULT '',
	characters TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (title_id, person_id, ordering)
);

CREATE INDEX IF NOT EXISTS idx_movie_cast_person ON movie_cast(person_id);

CREATE TABLE IF NOT EXISTS death_records (
	person_id     BIGINT PRIMARY KEY,
	details       JSONB NOT NULL,
	field_sources JSONB NOT NULL DEFAULT '{}',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	actor      JSONB NOT NULL,
	batch_id   TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'queued',
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_batch ON runs(batch_id);

CREATE TABLE IF NOT EXISTS checkpoints (
	batch_id   TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sync_log (
	id           BIGSERIAL PRIMARY KEY,
	dataset      TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	rows_synced  BIGINT NOT NULL DEFAULT 0,
	error        TEXT,
	etag         TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_log_dataset ON sync_log(dataset, started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertActor(ctx context.Context, a model.Actor) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_actors (person_id, name, birth_year, death_year, popularity)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (person_id) DO UPDATE SET
		   name = EXCLUDED.name, birth_year = EXCLUDED.birth_year,
		   death_year = EXCLUDED.death_year, popularity = EXCLUDED.popularity`,
		a.PersonID, a.Name, a.BirthYear, a.DeathYear, a.Popularity,
	)
	return eris.Wrapf(err, "postgres: upsert actor %d", a.PersonID)
}

func (s *PostgresStore) GetActor(ctx context.Context, personID int64) (*model.Actor, error) {
	var a model.Actor
	err := s.pool.QueryRow(ctx,
		`SELECT person_id, name, birth_year, death_year, popularity FROM dead_actors WHERE person_id = $1`,
		personID,
	).Scan(&a.PersonID, &a.Name, &a.BirthYear, &a.DeathYear, &a.Popularity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get actor %d", personID)
	}
	return &a, nil
}

func (s *PostgresStore) ListDeadActors(ctx context.Context, filter ActorFilter) ([]model.Actor, error) {
	query := `SELECT a.person_id, a.name, a.birth_year, a.death_year, a.popularity FROM dead_actors a`
	args := []any{}
	argIdx := 1

	if filter.OnlyUnenriched {
		query += ` LEFT JOIN death_records r ON r.person_id = a.person_id`
	}
	query += ` WHERE true`
	if filter.OnlyUnenriched {
		query += ` AND r.person_id IS NULL`
	}
	if filter.Name != "" {
		query += fmt.Sprintf(` AND a.name ILIKE '%%' || $%d || '%%'`, argIdx)
		args = append(args, filter.Name)
		argIdx++
	}
	query += ` ORDER BY a.popularity DESC, a.person_id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dead actors")
	}
	defer rows.Close()

	var actors []model.Actor
	for rows.Next() {
		var a model.Actor
		if err := rows.Scan(&a.PersonID, &a.Name, &a.BirthYear, &a.DeathYear, &a.Popularity); err != nil {
			return nil, eris.Wrap(err, "postgres: scan actor")
		}
		actors = append(actors, a)
	}
	return actors, eris.Wrap(rows.Err(), "postgres: list dead actors iterate")
}

func (s *PostgresStore) CountDeadActors(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_actors`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dead actors")
}

func (s *PostgresStore) SaveDeathRecord(ctx context.Context, rec *model.DeathRecord) error {
	detailsJSON, err := json.Marshal(rec.Details)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal details")
	}
	sourcesJSON, err := json.Marshal(rec.FieldSources)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal field sources")
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO death_records (person_id, details, field_sources, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (person_id) DO UPDATE SET
		   details = EXCLUDED.details, field_sources = EXCLUDED.field_sources,
		   updated_at = EXCLUDED.updated_at`,
		rec.PersonID, detailsJSON, sourcesJSON, updatedAt,
	)
	return eris.Wrapf(err, "postgres: save death record %d", rec.PersonID)
}

func (s *PostgresStore) GetDeathRecord(ctx context.Context, personID int64) (*model.DeathRecord, error) {
	var rec model.DeathRecord
	var detailsJSON, sourcesJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT person_id, details, field_sources, updated_at FROM death_records WHERE person_id = $1`,
		personID,
	).Scan(&rec.PersonID, &detailsJSON, &sourcesJSON, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get death record %d", personID)
	}

	if err := json.Unmarshal(detailsJSON, &rec.Details); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal details")
	}
	rec.FieldSources = make(map[model.FieldKey]model.SourceEntry)
	if err := json.Unmarshal(sourcesJSON, &rec.FieldSources); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal field sources")
	}
	return &rec, nil
}

func (s *PostgresStore) CountDeathRecords(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM death_records`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count death records")
}

func (s *PostgresStore) CreateRun(ctx context.Context, actor model.Actor, batchID string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	actorJSON, err := json.Marshal(actor)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal actor")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, actor, batch_id, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, actorJSON, batchID, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	status := model.RunStatusComplete
	if result != nil && result.Error != "" {
		status = model.RunStatusFailed
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var actorJSON []byte
	var resultNull *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, actor, batch_id, status, result, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &actorJSON, &r.BatchID, &r.Status, &resultNull, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if err := json.Unmarshal(actorJSON, &r.Actor); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal actor")
	}
	if resultNull != nil {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(*resultNull, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, actor, batch_id, status, result, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.BatchID != "" {
		query += fmt.Sprintf(` AND batch_id = $%d`, argIdx)
		args = append(args, filter.BatchID)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at > $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var actorJSON []byte
		var resultNull *[]byte

		if err := rows.Scan(&r.ID, &actorJSON, &r.BatchID, &r.Status, &resultNull, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := json.Unmarshal(actorJSON, &r.Actor); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal actor")
		}
		if resultNull != nil {
			r.Result = &model.RunResult{}
			if err := json.Unmarshal(*resultNull, r.Result); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal result")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SearchMovies(ctx context.Context, query string, limit int) ([]model.Movie, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.pool.Query(ctx,
		`SELECT title_id, title, start_year FROM movies
		 WHERE title ILIKE '%' || $1 || '%'
		 ORDER BY start_year DESC, title_id
		 LIMIT $2`,
		query, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search movies")
	}
	defer rows.Close()

	var movies []model.Movie
	for rows.Next() {
		var m model.Movie
		if err := rows.Scan(&m.TitleID, &m.Title, &m.StartYear); err != nil {
			return nil, eris.Wrap(err, "postgres: scan movie")
		}
		movies = append(movies, m)
	}
	return movies, eris.Wrap(rows.Err(), "postgres: search movies iterate")
}

func (s *PostgresStore) DeadCast(ctx context.Context, titleID int64) ([]model.DeadCastMember, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.person_id, a.name, a.birth_year, a.death_year, c.characters, c.ordering
		 FROM movie_cast c
		 JOIN dead_actors a ON a.person_id = c.person_id
		 WHERE c.title_id = $1
		 ORDER BY c.ordering, a.person_id`,
		titleID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: dead cast %d", titleID)
	}
	defer rows.Close()

	var cast []model.DeadCastMember
	for rows.Next() {
		var m model.DeadCastMember
		if err := rows.Scan(&m.PersonID, &m.Name, &m.BirthYear, &m.DeathYear, &m.Characters, &m.Ordering); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cast member")
		}
		cast = append(cast, m)
	}
	return cast, eris.Wrap(rows.Err(), "postgres: dead cast iterate")
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal checkpoint")
	}
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO checkpoints (batch_id, data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (batch_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		cp.BatchID, data, now, now,
	)
	return eris.Wrapf(err, "postgres: save checkpoint %s", cp.BatchID)
}

func (s *PostgresStore) LoadCheckpoint(ctx context.Context, batchID string) (*model.Checkpoint, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM checkpoints WHERE batch_id = $1`,
		batchID,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: load checkpoint %s", batchID)
	}

	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal checkpoint")
	}
	return &cp, nil
}

func (s *PostgresStore) DeleteCheckpoint(ctx context.Context, batchID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM checkpoints WHERE batch_id = $1`,
		batchID,
	)
	return eris.Wrapf(err, "postgres: delete checkpoint %s", batchID)
}
