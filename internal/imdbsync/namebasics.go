package imdbsync

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/deadonfilm/enrichment-cli/internal/db"
	"github.com/deadonfilm/enrichment-cli/internal/fetcher"
	"github.com/deadonfilm/enrichment-cli/internal/model"
)

const nameBasicsURL = "https://datasets.imdbws.com/name.basics.tsv.gz"

// NameBasics ingests name.basics.tsv.gz into dead_actors. Only people with
// a death year are kept. The popularity column is written as 0 for new rows
// and left alone on conflict, so scores assigned outside the sync survive
// re-ingestion.
type NameBasics struct{}

func (d *NameBasics) Name() string        { return "namebasics" }
func (d *NameBasics) Table() string       { return "dead_actors" }
func (d *NameBasics) SourceURL() string   { return nameBasicsURL }
func (d *NameBasics) DependsOn() []string { return nil }

func (d *NameBasics) Sync(ctx context.Context, pool db.Pool, f fetcher.Fetcher, tempDir string) (*SyncResult, error) {
	log := zap.L().With(zap.String("dataset", d.Name()))

	body, err := f.Download(ctx, d.SourceURL())
	if err != nil {
		return nil, eris.Wrap(err, "namebasics: download")
	}
	defer body.Close() //nolint:errcheck

	gz, err := fetcher.Gunzip(body)
	if err != nil {
		return nil, eris.Wrap(err, "namebasics: open gzip stream")
	}
	defer gz.Close() //nolint:errcheck

	// Cancelling stops the row producer if the load bails out early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := db.UpsertConfig{
		Table:        d.Table(),
		Columns:      []string{"person_id", "name", "birth_year", "death_year", "popularity"},
		ConflictKeys: []string{"person_id"},
		UpdateCols:   []string{"name", "birth_year", "death_year"},
	}

	rows, errCh := fetcher.StreamTSV(ctx, gz, fetcher.TSVOptions{HasHeader: true, NullToSkip: true})

	var batch [][]any
	var total, filtered int64

	for record := range rows {
		// nconst, primaryName, birthYear, deathYear, primaryProfession, knownForTitles
		if len(record) < 4 {
			filtered++
			continue
		}
		if strings.TrimSpace(record[3]) == "" {
			filtered++ // still alive
			continue
		}
		id, err := model.ParseIMDbID(record[0])
		if err != nil {
			filtered++
			continue
		}
		name := sanitizeUTF8(strings.TrimSpace(record[1]))
		if name == "" {
			filtered++
			continue
		}

		batch = append(batch, []any{
			id,
			name,
			parseIntOr(record[2], 0),
			parseIntOr(record[3], 0),
			float64(0),
		})

		if len(batch) >= upsertBatchSize {
			n, err := db.BulkUpsert(ctx, pool, cfg, batch)
			if err != nil {
				return nil, eris.Wrap(err, "namebasics: bulk upsert")
			}
			total += n
			batch = batch[:0]
		}
	}

	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "namebasics: stream rows")
	}

	if len(batch) > 0 {
		n, err := db.BulkUpsert(ctx, pool, cfg, batch)
		if err != nil {
			return nil, eris.Wrap(err, "namebasics: bulk upsert final batch")
		}
		total += n
	}

	log.Info("dead actors loaded", zap.Int64("rows", total), zap.Int64("filtered", filtered))
	return &SyncResult{RowsSynced: total, RowsSkipped: filtered}, nil
}
