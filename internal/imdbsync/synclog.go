package imdbsync

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/deadonfilm/enrichment-cli/internal/db"
)

// SyncEntry is one row of the sync_log table.
type SyncEntry struct {
	ID          int64      `json:"id"`
	Dataset     string     `json:"dataset"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RowsSynced  int64      `json:"rows_synced"`
	Error       string     `json:"error,omitempty"`
	ETag        string     `json:"etag,omitempty"`
}

// SyncLog records dataset sync runs in the sync_log table.
type SyncLog struct {
	pool db.Pool
}

// NewSyncLog wraps the given connection pool.
func NewSyncLog(pool db.Pool) *SyncLog {
	return &SyncLog{pool: pool}
}

// Start inserts a running entry for dataset and returns its ID.
func (s *SyncLog) Start(ctx context.Context, dataset string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sync_log (dataset, status, started_at)
		 VALUES ($1, 'running', now()) RETURNING id`,
		dataset,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "synclog: start sync for %s", dataset)
	}
	return id, nil
}

// Complete marks the run as finished. etag may be empty when the
// upstream server did not advertise one.
func (s *SyncLog) Complete(ctx context.Context, syncID int64, result *SyncResult, etag string) error {
	var rowsSynced int64
	if result != nil {
		rowsSynced = result.RowsSynced
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE sync_log
		 SET status = 'complete', completed_at = now(), rows_synced = $1, etag = NULLIF($2, '')
		 WHERE id = $3`,
		rowsSynced, etag, syncID,
	)
	if err != nil {
		return eris.Wrapf(err, "synclog: complete sync %d", syncID)
	}
	return nil
}

// Fail marks the run as failed, keeping the error message for the
// status surface.
func (s *SyncLog) Fail(ctx context.Context, syncID int64, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sync_log
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, syncID,
	)
	if err != nil {
		return eris.Wrapf(err, "synclog: fail sync %d", syncID)
	}
	return nil
}

// LastSuccess returns when dataset last synced cleanly, or nil if it
// never has.
func (s *SyncLog) LastSuccess(ctx context.Context, dataset string) (*time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT started_at FROM sync_log
		 WHERE dataset = $1 AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		dataset,
	).Scan(&t)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, eris.Wrapf(err, "synclog: last success for %s", dataset)
	}
	return &t, nil
}

// LastETag returns the ETag recorded by the newest clean sync of
// dataset, or "".
func (s *SyncLog) LastETag(ctx context.Context, dataset string) (string, error) {
	var etag *string
	err := s.pool.QueryRow(ctx,
		`SELECT etag FROM sync_log
		 WHERE dataset = $1 AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		dataset,
	).Scan(&etag)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return "", nil
	case err != nil:
		return "", eris.Wrapf(err, "synclog: last etag for %s", dataset)
	case etag == nil:
		return "", nil
	}
	return *etag, nil
}

// ListAll returns every entry, newest first.
func (s *SyncLog) ListAll(ctx context.Context) ([]SyncEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, dataset, status, started_at, completed_at, rows_synced, error, etag
		 FROM sync_log ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "synclog: list all")
	}
	defer rows.Close()

	var entries []SyncEntry
	for rows.Next() {
		var (
			e      SyncEntry
			errStr *string
			etag   *string
		)
		if err := rows.Scan(&e.ID, &e.Dataset, &e.Status, &e.StartedAt, &e.CompletedAt, &e.RowsSynced, &errStr, &etag); err != nil {
			return nil, eris.Wrap(err, "synclog: scan entry")
		}
		if errStr != nil {
			e.Error = *errStr
		}
		if etag != nil {
			e.ETag = *etag
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
