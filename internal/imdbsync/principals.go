package imdbsync

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/deadonfilm/enrichment-cli/internal/db"
	"github.com/deadonfilm/enrichment-cli/internal/fetcher"
	"github.com/deadonfilm/enrichment-cli/internal/model"
)

const principalsURL = "https://datasets.imdbws.com/title.principals.tsv.gz"

// actingCategories are the title.principals credit categories that count as
// an on-screen appearance. archive_footage is excluded: recycled footage is
// not a casting.
var actingCategories = map[string]bool{
	"actor":   true,
	"actress": true,
	"self":    true,
}

// Principals ingests title.principals.tsv.gz into movie_cast. Only acting
// credits whose person is already in dead_actors and whose title is already
// in movies are kept, so this dataset depends on the other two.
type Principals struct{}

func (d *Principals) Name() string        { return "principals" }
func (d *Principals) Table() string       { return "movie_cast" }
func (d *Principals) SourceURL() string   { return principalsURL }
func (d *Principals) DependsOn() []string { return []string{"namebasics", "titlebasics"} }

func (d *Principals) Sync(ctx context.Context, pool db.Pool, f fetcher.Fetcher, tempDir string) (*SyncResult, error) {
	log := zap.L().With(zap.String("dataset", d.Name()))

	deadSet, err := loadIDSet(ctx, pool, `SELECT person_id FROM dead_actors`)
	if err != nil {
		return nil, eris.Wrap(err, "principals: load dead actor ids")
	}
	if len(deadSet) == 0 {
		return nil, eris.New("principals: dead_actors is empty (sync namebasics first)")
	}

	movieSet, err := loadIDSet(ctx, pool, `SELECT title_id FROM movies`)
	if err != nil {
		return nil, eris.Wrap(err, "principals: load movie ids")
	}
	if len(movieSet) == 0 {
		return nil, eris.New("principals: movies is empty (sync titlebasics first)")
	}

	log.Info("join sets loaded", zap.Int("dead_actors", len(deadSet)), zap.Int("movies", len(movieSet)))

	// The principals dump is by far the largest of the three; spool it to
	// disk so a flaky connection fails in the download, not mid-ingest.
	gzPath := filepath.Join(tempDir, "title.principals.tsv.gz")
	if _, err := f.DownloadToFile(ctx, d.SourceURL(), gzPath); err != nil {
		return nil, eris.Wrap(err, "principals: download")
	}
	defer os.Remove(gzPath) //nolint:errcheck

	file, err := os.Open(gzPath)
	if err != nil {
		return nil, eris.Wrap(err, "principals: open download")
	}
	defer file.Close() //nolint:errcheck

	gz, err := fetcher.Gunzip(file)
	if err != nil {
		return nil, eris.Wrap(err, "principals: open gzip stream")
	}
	defer gz.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := db.UpsertConfig{
		Table:        d.Table(),
		Columns:      []string{"title_id", "person_id", "ordering", "category", "characters"},
		ConflictKeys: []string{"title_id", "person_id", "ordering"},
	}

	rows, errCh := fetcher.StreamTSV(ctx, gz, fetcher.TSVOptions{HasHeader: true, NullToSkip: true})

	var batch [][]any
	var total, filtered int64

	for record := range rows {
		// tconst, ordering, nconst, category, job, characters
		if len(record) < 6 {
			filtered++
			continue
		}
		if !actingCategories[strings.TrimSpace(record[3])] {
			filtered++
			continue
		}
		titleID, err := model.ParseIMDbID(record[0])
		if err != nil {
			filtered++
			continue
		}
		if _, ok := movieSet[titleID]; !ok {
			filtered++
			continue
		}
		personID, err := model.ParseIMDbID(record[2])
		if err != nil {
			filtered++
			continue
		}
		if _, ok := deadSet[personID]; !ok {
			filtered++
			continue
		}

		batch = append(batch, []any{
			titleID,
			personID,
			parseIntOr(record[1], 0),
			strings.TrimSpace(record[3]),
			joinCharacters(record[5]),
		})

		if len(batch) >= upsertBatchSize {
			n, err := db.BulkUpsert(ctx, pool, cfg, batch)
			if err != nil {
				return nil, eris.Wrap(err, "principals: bulk upsert")
			}
			total += n
			batch = batch[:0]
		}
	}

	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "principals: stream rows")
	}

	if len(batch) > 0 {
		n, err := db.BulkUpsert(ctx, pool, cfg, batch)
		if err != nil {
			return nil, eris.Wrap(err, "principals: bulk upsert final batch")
		}
		total += n
	}

	log.Info("cast rows loaded", zap.Int64("rows", total), zap.Int64("filtered", filtered))
	return &SyncResult{RowsSynced: total, RowsSkipped: filtered}, nil
}

// loadIDSet reads a single-column id query into a set.
func loadIDSet(ctx context.Context, pool db.Pool, query string) (map[int64]struct{}, error) {
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		set[id] = struct{}{}
	}
	return set, rows.Err()
}
