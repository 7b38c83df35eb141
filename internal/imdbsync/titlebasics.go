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

const titleBasicsURL = "https://datasets.imdbws.com/title.basics.tsv.gz"

// movieTitleTypes are the title.basics titleType values loaded into movies.
// Series, episodes, shorts, and video games stay out of the search surface.
var movieTitleTypes = map[string]bool{
	"movie":   true,
	"tvMovie": true,
}

// TitleBasics ingests title.basics.tsv.gz into movies. Adult titles are
// dropped along with everything that is not a feature film.
type TitleBasics struct{}

func (d *TitleBasics) Name() string        { return "titlebasics" }
func (d *TitleBasics) Table() string       { return "movies" }
func (d *TitleBasics) SourceURL() string   { return titleBasicsURL }
func (d *TitleBasics) DependsOn() []string { return nil }

func (d *TitleBasics) Sync(ctx context.Context, pool db.Pool, f fetcher.Fetcher, tempDir string) (*SyncResult, error) {
	log := zap.L().With(zap.String("dataset", d.Name()))

	body, err := f.Download(ctx, d.SourceURL())
	if err != nil {
		return nil, eris.Wrap(err, "titlebasics: download")
	}
	defer body.Close() //nolint:errcheck

	gz, err := fetcher.Gunzip(body)
	if err != nil {
		return nil, eris.Wrap(err, "titlebasics: open gzip stream")
	}
	defer gz.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := db.UpsertConfig{
		Table:        d.Table(),
		Columns:      []string{"title_id", "title", "start_year"},
		ConflictKeys: []string{"title_id"},
	}

	rows, errCh := fetcher.StreamTSV(ctx, gz, fetcher.TSVOptions{HasHeader: true, NullToSkip: true})

	var batch [][]any
	var total, filtered int64

	for record := range rows {
		// tconst, titleType, primaryTitle, originalTitle, isAdult, startYear, ...
		if len(record) < 6 {
			filtered++
			continue
		}
		if !movieTitleTypes[strings.TrimSpace(record[1])] {
			filtered++
			continue
		}
		if strings.TrimSpace(record[4]) == "1" {
			filtered++ // adult flag
			continue
		}
		id, err := model.ParseIMDbID(record[0])
		if err != nil {
			filtered++
			continue
		}
		title := sanitizeUTF8(strings.TrimSpace(record[2]))
		if title == "" {
			filtered++
			continue
		}

		batch = append(batch, []any{
			id,
			title,
			parseIntOr(record[5], 0),
		})

		if len(batch) >= upsertBatchSize {
			n, err := db.BulkUpsert(ctx, pool, cfg, batch)
			if err != nil {
				return nil, eris.Wrap(err, "titlebasics: bulk upsert")
			}
			total += n
			batch = batch[:0]
		}
	}

	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "titlebasics: stream rows")
	}

	if len(batch) > 0 {
		n, err := db.BulkUpsert(ctx, pool, cfg, batch)
		if err != nil {
			return nil, eris.Wrap(err, "titlebasics: bulk upsert final batch")
		}
		total += n
	}

	log.Info("movies loaded", zap.Int64("rows", total), zap.Int64("filtered", filtered))
	return &SyncResult{RowsSynced: total, RowsSkipped: filtered}, nil
}
